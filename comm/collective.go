package comm

import (
	"github.com/pkg/errors"
)

// Every collective below must be called by all ranks of the communicator,
// the same number of times and in the same order.  Each kind of collective
// travels on its own reserved tag, and messages with the same tag between
// the same pair of ranks are FIFO, so consecutive collectives cannot
// overtake each other.
//
// No rank returns from a collective before every rank has entered it.  In
// fan-out collectives the other ranks report on tagEnter and root sends
// nothing until all of them have.  In fan-in collectives each value doubles
// as its sender's entry, and root answers on tagRelease once it holds them
// all.

// Frames root sends to the other ranks start with one of these bytes.
const (
	frameValue    byte = iota // Followed by the encoded value, if any
	frameMismatch             // Followed by an encoded mismatchBody
	frameAborted              // Root lost a rank before the collective completed
)

// mismatchBody is sent in place of a value when root's Scatter input has the
// wrong length.
type mismatchBody struct {
	Expected, Actual int
}

// Broadcast delivers root's v to every rank, root included.  On non-root
// ranks the v argument is ignored.  Every rank, root included, gets the
// value as it comes out of the codec, so all ranks see the same thing.
func Broadcast[V any](c *Communicator, root int, v V) (V, error) {
	var zero V
	if err := c.checkRoot("Broadcast", root); err != nil {
		return zero, err
	}
	if c.rank != root {
		body, err := enterAndReceive(c, "Broadcast", root, tagBroadcast)
		if err != nil {
			return zero, err
		}
		return decodeValue[V](body)
	}

	b, encErr := encodeValue(v)
	err := awaitEntries(c)
	if err == nil {
		err = encErr
	}
	if err != nil {
		abandon(c, tagBroadcast)
		return zero, errors.WithMessage(err, "broadcast")
	}
	frame := append([]byte{frameValue}, b...)
	if err := fanOut(c, tagBroadcast, func(int) []byte { return frame }); err != nil {
		return zero, errors.WithMessage(err, "broadcast")
	}
	return decodeValue[V](b)
}

// Reduce combines one value from every rank and delivers the result to root,
// where ok is true.  Other ranks get the zero value and ok == false.
//
// combine must be associative.  Values are folded in ascending rank order,
// combine(combine(combine(v0, v1), v2), ...), so a non-commutative combine
// still has a defined result.
func Reduce[V any](c *Communicator, root int, local V, combine func(V, V) V) (result V, ok bool, err error) {
	if err = c.checkRoot("Reduce", root); err != nil {
		return
	}
	if c.rank != root {
		err = contribute(c, "Reduce", root, tagReduce, local)
		return
	}

	vals, err := collect(c, tagReduce, local)
	if err == nil {
		err = fanOut(c, tagRelease, func(int) []byte { return []byte{frameValue} })
	}
	if err != nil {
		return result, false, errors.WithMessage(err, "reduce")
	}
	result = vals[0]
	for _, v := range vals[1:] {
		result = combine(result, v)
	}
	return result, true, nil
}

// Gather delivers every rank's value to root as a slice indexed by rank.
// Other ranks get nil.
func Gather[V any](c *Communicator, root int, local V) ([]V, error) {
	if err := c.checkRoot("Gather", root); err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, contribute(c, "Gather", root, tagGather, local)
	}
	vals, err := collect(c, tagGather, local)
	if err == nil {
		err = fanOut(c, tagRelease, func(int) []byte { return []byte{frameValue} })
	}
	if err != nil {
		return nil, errors.WithMessage(err, "gather")
	}
	return vals, nil
}

// contribute sends a non-root rank's value for a fan-in collective and
// waits for root to release it.
func contribute[V any](c *Communicator, op string, root, tag int, local V) error {
	b, err := encodeValue(local)
	if err != nil {
		return err
	}
	if err := c.channels[root].send(tag, b); err != nil {
		return errors.WithMessage(err, op)
	}
	_, err = receiveFromRoot(c, op, root, tagRelease)
	return err
}

// collect runs on the root of a fan-in collective.  It posts a receive from
// every other rank up front and returns the decoded values indexed by rank.
// Root's own value goes through the codec too.  On failure the other ranks
// are released with an abort.
func collect[V any](c *Communicator, tag int, local V) ([]V, error) {
	reqs := make([]*Request, c.size)
	for r := 0; r < c.size; r++ {
		if r != c.rank {
			reqs[r] = recvAsync(c, r, tag)
		}
	}
	own, first := encodeValue(local)
	vals := make([]V, c.size)
	for r, req := range reqs {
		var b []byte
		if req == nil {
			b = own
		} else if err := Wait(req); err != nil {
			if first == nil {
				first = err
			}
			continue
		} else {
			b, _ = req.Data()
		}
		if first != nil {
			continue
		}
		v, err := decodeValue[V](b)
		if err != nil {
			first = errors.WithMessagef(err, "value from rank %d", r)
		}
		vals[r] = v
	}
	if first != nil {
		abandon(c, tagRelease)
		return nil, first
	}
	return vals, nil
}

// enterAndReceive tells root this rank has entered a fan-out collective and
// returns the body of the frame root sends back.
func enterAndReceive(c *Communicator, op string, root, tag int) ([]byte, error) {
	if err := c.channels[root].send(tagEnter, nil); err != nil {
		return nil, errors.WithMessage(err, op)
	}
	return receiveFromRoot(c, op, root, tag)
}

// receiveFromRoot reads one frame from root and turns an abort or a
// mismatch into an error.
func receiveFromRoot(c *Communicator, op string, root, tag int) ([]byte, error) {
	b, _, err := c.channels[root].recv(tag)
	if err != nil {
		return nil, errors.WithMessage(err, op)
	}
	if len(b) == 0 {
		return nil, errors.Errorf("%s: empty frame from root %d", op, root)
	}
	switch b[0] {
	case frameValue:
		return b[1:], nil
	case frameAborted:
		return nil, errors.Wrapf(ErrChannelClosed, "%s abandoned by root %d", op, root)
	case frameMismatch:
		body, err := decodeValue[mismatchBody](b[1:])
		if err != nil {
			return nil, err
		}
		return nil, &ConfigurationError{Op: op, Expected: body.Expected, Actual: body.Actual, Reason: "root supplied wrong number of values"}
	}
	return nil, errors.Errorf("%s: unknown frame kind %d from root %d", op, b[0], root)
}

// awaitEntries blocks root until every other rank has entered the current
// fan-out collective.
func awaitEntries(c *Communicator) error {
	reqs := make([]*Request, 0, c.size-1)
	for r := 0; r < c.size; r++ {
		if r != c.rank {
			reqs = append(reqs, recvAsync(c, r, tagEnter))
		}
	}
	return WaitAll(reqs...)
}

// fanOut sends frame(r) on tag to every rank r other than the caller and
// waits until all of them are handed to the transport.
func fanOut(c *Communicator, tag int, frame func(r int) []byte) error {
	reqs := make([]*Request, 0, c.size-1)
	for r := 0; r < c.size; r++ {
		if r != c.rank {
			reqs = append(reqs, sendAsync(c, r, tag, frame(r)))
		}
	}
	return WaitAll(reqs...)
}

// abandon tells every rank still reachable that root gave up on the current
// collective.  Ranks that are gone are skipped.
func abandon(c *Communicator, tag int) {
	c.log.WithField("tag", tag).Warn("abandoning collective")
	_ = fanOut(c, tag, func(int) []byte { return []byte{frameAborted} })
}

// Scatter hands values[r] from root to rank r, root included.  values is
// read only on root and must have exactly Size() elements.  If it does not,
// root sends no value and tells the other ranks, and every rank returns a
// ConfigurationError.
func Scatter[V any](c *Communicator, root int, values []V) (V, error) {
	var zero V
	if err := c.checkRoot("Scatter", root); err != nil {
		return zero, err
	}
	if c.rank != root {
		body, err := enterAndReceive(c, "Scatter", root, tagScatter)
		if err != nil {
			return zero, err
		}
		return decodeValue[V](body)
	}

	var mismatch *ConfigurationError
	var encErr error
	frames := make([][]byte, c.size)
	if len(values) != c.size {
		c.log.WithField("values", len(values)).Error("scatter input does not match communicator size")
		mismatch = &ConfigurationError{Op: "Scatter", Expected: c.size, Actual: len(values), Reason: "root supplied wrong number of values"}
		body, err := encodeValue(mismatchBody{Expected: c.size, Actual: len(values)})
		for r := range frames {
			frames[r] = append([]byte{frameMismatch}, body...)
		}
		encErr = err
	} else {
		for r, v := range values {
			b, err := encodeValue(v)
			if err != nil {
				encErr = err
				break
			}
			frames[r] = append([]byte{frameValue}, b...)
		}
	}

	err := awaitEntries(c)
	if err == nil {
		err = encErr
	}
	if err != nil {
		abandon(c, tagScatter)
		return zero, errors.WithMessage(err, "scatter")
	}
	err = fanOut(c, tagScatter, func(r int) []byte { return frames[r] })
	if mismatch != nil {
		return zero, mismatch
	}
	if err != nil {
		return zero, errors.WithMessage(err, "scatter")
	}
	return decodeValue[V](frames[root][1:])
}

// Allreduce is Reduce to rank 0 followed by Broadcast from rank 0, so every
// rank gets the combined value.
func Allreduce[V any](c *Communicator, local V, combine func(V, V) V) (V, error) {
	v, _, err := Reduce(c, 0, local, combine)
	if err != nil {
		return v, err
	}
	return Broadcast(c, 0, v)
}

// Barrier returns on each rank only after every rank has entered it.
func Barrier(c *Communicator) error {
	const coord = 0
	if c.rank != coord {
		if err := c.channels[coord].send(tagBarrierIn, nil); err != nil {
			return errors.WithMessage(err, "barrier")
		}
		_, _, err := c.channels[coord].recv(tagBarrierOut)
		return errors.WithMessage(err, "barrier")
	}

	reqs := make([]*Request, 0, c.size-1)
	for r := 1; r < c.size; r++ {
		reqs = append(reqs, recvAsync(c, r, tagBarrierIn))
	}
	if err := WaitAll(reqs...); err != nil {
		return errors.WithMessage(err, "barrier")
	}
	reqs = reqs[:0]
	for r := 1; r < c.size; r++ {
		reqs = append(reqs, sendAsync(c, r, tagBarrierOut, nil))
	}
	return errors.WithMessage(WaitAll(reqs...), "barrier")
}
