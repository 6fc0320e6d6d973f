package comm

import (
	"fmt"

	"github.com/pkg/errors"
)

// checkUserTag rejects tags reserved for the runtime.  Receives may also use
// AnyTag.
func checkUserTag(op string, tag int, wildcard bool) error {
	if tag >= 0 || (wildcard && tag == AnyTag) {
		return nil
	}
	return &ProtocolMisuse{Op: op, Reason: fmt.Sprintf("tag %d is reserved", tag)}
}

// Send blocks until payload has been handed to the transport for delivery
// to dest.  It does not wait for dest to receive it.  The caller may reuse
// payload once Send returns.
func Send(c *Communicator, dest, tag int, payload []byte) error {
	if err := checkUserTag("Send", tag, false); err != nil {
		return err
	}
	ch, err := c.Peer(dest)
	if err != nil {
		return err
	}
	return ch.send(tag, payload)
}

// Recv blocks until a message from src with the given tag (or any
// non-negative tag, for AnyTag) is available and returns it.
func Recv(c *Communicator, src, tag int) ([]byte, Status, error) {
	if err := checkUserTag("Recv", tag, true); err != nil {
		return nil, Status{}, err
	}
	ch, err := c.Peer(src)
	if err != nil {
		return nil, Status{}, err
	}
	return ch.recv(tag)
}

// SendSlice sends vs to dest as a fixed-layout array.
func SendSlice[T Fixed](c *Communicator, dest, tag int, vs []T) error {
	return Send(c, dest, tag, EncodeSlice(vs))
}

// RecvSlice receives a fixed-layout array sent with SendSlice.
func RecvSlice[T Fixed](c *Communicator, src, tag int) ([]T, Status, error) {
	b, st, err := Recv(c, src, tag)
	if err != nil {
		return nil, st, err
	}
	vs, err := DecodeSlice[T](b)
	return vs, st, err
}

// Exchange swaps payloads with peer using blocking calls in an order that
// cannot deadlock: the lower rank sends and then receives, the higher rank
// receives and then sends.  Both sides must call Exchange with the same tag.
func Exchange(c *Communicator, peer, tag int, payload []byte) ([]byte, error) {
	if peer == c.rank {
		return nil, &ProtocolMisuse{Op: "Exchange", Reason: "cannot exchange with self"}
	}
	if c.rank < peer {
		if err := Send(c, peer, tag, payload); err != nil {
			return nil, err
		}
		b, _, err := Recv(c, peer, tag)
		return b, err
	}
	b, _, err := Recv(c, peer, tag)
	if err != nil {
		return nil, err
	}
	if err := Send(c, peer, tag, payload); err != nil {
		return nil, errors.WithMessage(err, "exchange reply")
	}
	return b, nil
}
