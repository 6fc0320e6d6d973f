package comm

import (
	"fmt"
)

// Op identifies the kind of operation a Request stands for.
type Op int

const (
	OpSend Op = iota
	OpRecv
)

func (op Op) String() string {
	switch op {
	case OpSend:
		return "send"
	case OpRecv:
		return "receive"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// A Request is an in-flight non-blocking operation.  Until Wait (or WaitAll)
// has returned for it, the request owns its buffer: the caller must not
// modify a buffer passed to SendAsync, and cannot read the data of a
// receive.
type Request struct {
	op   Op
	peer int
	tag  int
	done <-chan struct{}

	// Exactly one of these is set.
	out *outbound
	in  *posted

	err error // Set for requests that failed before being issued
}

// Op returns the kind of operation.
func (r *Request) Op() Op { return r.op }

// Test reports whether the request has completed, without blocking.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// result returns the request's outcome.  It must only be called after done
// is closed.
func (r *Request) result() error {
	switch {
	case r.err != nil:
		return r.err
	case r.out != nil:
		return r.out.err
	case r.in != nil:
		return r.in.err
	}
	return nil
}

// Data returns the payload of a completed receive.
func (r *Request) Data() ([]byte, error) {
	if r.op != OpRecv {
		return nil, &ProtocolMisuse{Op: "Data", Reason: "not a receive request"}
	}
	if !r.Test() {
		return nil, &ProtocolMisuse{Op: "Data", Reason: "request still pending"}
	}
	if err := r.result(); err != nil {
		return nil, err
	}
	return r.in.msg.payload, nil
}

// Status returns the source and tag of a completed receive.  It is the
// zero Status for sends and pending receives.
func (r *Request) Status() Status {
	if r.op != OpRecv || r.in == nil || !r.Test() {
		return Status{}
	}
	return Status{Source: r.peer, Tag: r.in.msg.tag}
}

// closedDone is a channel that is already closed, for requests that fail
// before they are issued.
var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func failed(op Op, peer, tag int, err error) *Request {
	return &Request{op: op, peer: peer, tag: tag, done: closedDone, err: err}
}

// SendAsync starts sending payload to dest and returns immediately.  Sends
// issued on the same channel are written in the order they were started, so
// per-tag FIFO order holds across blocking and non-blocking sends.
func SendAsync(c *Communicator, dest, tag int, payload []byte) *Request {
	if err := checkUserTag("SendAsync", tag, false); err != nil {
		return failed(OpSend, dest, tag, err)
	}
	return sendAsync(c, dest, tag, payload)
}

func sendAsync(c *Communicator, dest, tag int, payload []byte) *Request {
	ch, err := c.Peer(dest)
	if err != nil {
		return failed(OpSend, dest, tag, err)
	}
	o := ch.enqueue(tag, payload)
	return &Request{op: OpSend, peer: dest, tag: tag, done: o.done, out: o}
}

// RecvAsync posts a receive from src and returns immediately.  Posted
// receives that match the same messages are satisfied in posting order.
func RecvAsync(c *Communicator, src, tag int) *Request {
	if err := checkUserTag("RecvAsync", tag, true); err != nil {
		return failed(OpRecv, src, tag, err)
	}
	return recvAsync(c, src, tag)
}

func recvAsync(c *Communicator, src, tag int) *Request {
	ch, err := c.Peer(src)
	if err != nil {
		return failed(OpRecv, src, tag, err)
	}
	p := ch.post(tag)
	return &Request{op: OpRecv, peer: src, tag: tag, done: p.done, in: p}
}

// Wait blocks until r completes and returns its error.
func Wait(r *Request) error {
	if r == nil {
		return &ProtocolMisuse{Op: "Wait", Reason: "nil request"}
	}
	<-r.done
	return r.result()
}

// WaitAll blocks until every request has completed, in whatever order they
// finish, and then returns the first error among them in argument order.
func WaitAll(reqs ...*Request) error {
	var first error
	for _, r := range reqs {
		if err := Wait(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
