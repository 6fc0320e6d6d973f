package comm

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AnyTag matches a message with any non-negative tag when passed to a
// receive.  Negative tags are reserved for the runtime's own traffic.
const AnyTag = -1

// Tags reserved for collectives and connection setup.  User code cannot send
// with a negative tag, so these never match user receives.
const (
	tagHello = -(iota + 2)
	tagBroadcast
	tagReduce
	tagGather
	tagScatter
	tagBarrierIn
	tagBarrierOut
	tagEnter
	tagRelease
)

// A ChannelID names the logical channel between two ranks.  It is the same
// on both ends no matter which rank opened the connection.
type ChannelID struct {
	Low, High int
}

// NewChannelID returns the identity of the channel between ranks a and b.
func NewChannelID(a, b int) ChannelID {
	if a > b {
		a, b = b, a
	}
	return ChannelID{Low: a, High: b}
}

// String returns the channel identity as "low<->high".
func (id ChannelID) String() string {
	return fmt.Sprintf("%d<->%d", id.Low, id.High)
}

// Status describes a received message.
type Status struct {
	Source int // Rank that sent the message
	Tag    int // Tag the message was sent with
}

// A link carries frames from the local end of a Channel to the remote end.
// write must preserve order among calls made from a single goroutine.
type link interface {
	write(tag int, payload []byte) error
	close() error
}

// message is a payload that has arrived but not yet been received.
type message struct {
	tag     int
	payload []byte
}

// posted is a receive that was issued before a matching message arrived.
type posted struct {
	tag  int
	done chan struct{}
	msg  message
	err  error
}

// outbound is a send waiting for the channel's writer goroutine.
type outbound struct {
	tag     int
	payload []byte
	done    chan struct{}
	err     error
}

// A Channel is the ordered, reliable transport between the local rank and
// one peer.  Sends are written by a single goroutine in the order they were
// issued.  Receives are matched against arrived messages in arrival order and
// against each other in the order they were posted.
type Channel struct {
	id   ChannelID
	self int // Local rank
	peer int // Remote rank
	out  link
	log  *logrus.Entry

	mu         sync.Mutex
	wake       *sync.Cond // Signals the writer that outq is non-empty or stopping
	unexpected []message  // Arrived, not yet matched
	posted     []*posted  // Posted, not yet matched
	outq       []*outbound
	stopping   bool
	closed     error // Non-nil once no more messages can arrive
	writerDone chan struct{}
}

// newChannel creates a channel from self to peer and starts its writer.
func newChannel(self, peer int, out link, log *logrus.Entry) *Channel {
	ch := &Channel{
		id:         NewChannelID(self, peer),
		self:       self,
		peer:       peer,
		out:        out,
		log:        log.WithField("peer", peer),
		writerDone: make(chan struct{}),
	}
	ch.wake = sync.NewCond(&ch.mu)
	go ch.writer()
	return ch
}

// ID returns the channel's identity.
func (ch *Channel) ID() ChannelID {
	return ch.id
}

// Peer returns the rank at the far end of the channel.
func (ch *Channel) Peer() int {
	return ch.peer
}

// Send hands payload to the transport and returns once it has been written.
// The caller must not modify payload until Send returns.
func (ch *Channel) Send(payload []byte, tag int) error {
	if tag < 0 {
		return &ProtocolMisuse{Op: "Send", Reason: fmt.Sprintf("negative tag %d is reserved", tag)}
	}
	return ch.send(tag, payload)
}

func (ch *Channel) send(tag int, payload []byte) error {
	o := ch.enqueue(tag, payload)
	<-o.done
	return o.err
}

// Recv blocks until a message with the given tag (or any tag if tag is
// AnyTag) has arrived, then consumes and returns it.
func (ch *Channel) Recv(tag int) ([]byte, Status, error) {
	if tag < AnyTag {
		return nil, Status{}, &ProtocolMisuse{Op: "Recv", Reason: fmt.Sprintf("negative tag %d is reserved", tag)}
	}
	return ch.recv(tag)
}

func (ch *Channel) recv(tag int) ([]byte, Status, error) {
	p := ch.post(tag)
	<-p.done
	return p.msg.payload, Status{Source: ch.peer, Tag: p.msg.tag}, p.err
}

// matches reports whether a message tagged have satisfies a receive for want.
func matches(want, have int) bool {
	if want == AnyTag {
		return have >= 0
	}
	return want == have
}

// enqueue queues a frame for the writer goroutine.  The returned outbound
// completes once the frame has been written or has failed.
func (ch *Channel) enqueue(tag int, payload []byte) *outbound {
	o := &outbound{tag: tag, payload: payload, done: make(chan struct{})}
	ch.mu.Lock()
	if ch.stopping {
		ch.mu.Unlock()
		o.err = errors.Wrapf(ErrChannelClosed, "send to rank %d", ch.peer)
		close(o.done)
		return o
	}
	ch.outq = append(ch.outq, o)
	ch.mu.Unlock()
	ch.wake.Signal()
	return o
}

// writer drains the outbound queue in order until the channel is stopped
// and the queue is empty.
func (ch *Channel) writer() {
	defer close(ch.writerDone)
	for {
		ch.mu.Lock()
		for len(ch.outq) == 0 && !ch.stopping {
			ch.wake.Wait()
		}
		if len(ch.outq) == 0 {
			ch.mu.Unlock()
			return
		}
		o := ch.outq[0]
		ch.outq[0] = nil
		ch.outq = ch.outq[1:]
		ch.mu.Unlock()

		if err := ch.out.write(o.tag, o.payload); err != nil {
			o.err = errors.Wrapf(err, "send to rank %d (tag %d)", ch.peer, o.tag)
		} else {
			ch.log.WithFields(logrus.Fields{"tag": o.tag, "bytes": len(o.payload)}).Trace("sent")
		}
		close(o.done)
	}
}

// post registers a receive.  If a matching message has already arrived the
// receive completes immediately.
func (ch *Channel) post(tag int) *posted {
	p := &posted{tag: tag, done: make(chan struct{})}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i, m := range ch.unexpected {
		if matches(tag, m.tag) {
			ch.unexpected = append(ch.unexpected[:i], ch.unexpected[i+1:]...)
			p.msg = m
			close(p.done)
			return p
		}
	}
	if ch.closed != nil {
		p.err = errors.Wrapf(ch.closed, "receive from rank %d (tag %d)", ch.peer, tag)
		close(p.done)
		return p
	}
	ch.posted = append(ch.posted, p)
	return p
}

// deliver hands an arrived message to the earliest matching posted receive,
// or queues it as unexpected.
func (ch *Channel) deliver(tag int, payload []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed != nil {
		return ch.closed
	}
	for i, p := range ch.posted {
		if matches(p.tag, tag) {
			ch.posted = append(ch.posted[:i], ch.posted[i+1:]...)
			p.msg = message{tag: tag, payload: payload}
			close(p.done)
			return nil
		}
	}
	ch.unexpected = append(ch.unexpected, message{tag: tag, payload: payload})
	return nil
}

// shutdown marks the receive side closed.  Messages that already arrived
// can still be received; every other pending or future receive fails.
func (ch *Channel) shutdown(cause error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed != nil {
		return
	}
	ch.closed = cause
	if len(ch.posted) > 0 {
		ch.log.WithError(cause).Warnf("channel closed with %d receives pending", len(ch.posted))
	}
	for _, p := range ch.posted {
		p.err = errors.Wrapf(cause, "receive from rank %d (tag %d)", ch.peer, p.tag)
		close(p.done)
	}
	ch.posted = nil
}

// close flushes queued sends, closes the link, and fails pending receives.
func (ch *Channel) close() error {
	ch.mu.Lock()
	ch.stopping = true
	ch.mu.Unlock()
	ch.wake.Broadcast()
	<-ch.writerDone
	err := ch.out.close()
	ch.shutdown(ErrChannelClosed)
	return err
}
