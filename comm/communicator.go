package comm

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Options configures a Communicator.  The zero value is usable.
type Options struct {
	// Logger receives runtime diagnostics.  Nil means the logrus standard
	// logger.
	Logger *logrus.Logger
}

// A Communicator is one rank's view of a fixed group of size ranks.  It owns
// one Channel per rank, including a loopback Channel to itself.  It is safe
// for concurrent use, but see the package documentation for the ordering
// rules collectives impose.
type Communicator struct {
	rank     int
	size     int
	channels []*Channel
	log      *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

// newCommunicator allocates a communicator with no channels wired yet.
func newCommunicator(rank, size int, opts *Options) *Communicator {
	logger := logrus.StandardLogger()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}
	return &Communicator{
		rank:     rank,
		size:     size,
		channels: make([]*Channel, size),
		log:      logger.WithFields(logrus.Fields{"rank": rank, "size": size}),
	}
}

// Size returns the number of ranks in the communicator.
func (c *Communicator) Size() int {
	return c.size
}

// Rank returns the caller's rank.
func (c *Communicator) Rank() int {
	return c.rank
}

// Logger returns the communicator's logger, already tagged with rank and
// size.
func (c *Communicator) Logger() *logrus.Entry {
	return c.log
}

// Peer returns the Channel to the given rank.
func (c *Communicator) Peer(rank int) (*Channel, error) {
	if rank < 0 || rank >= c.size {
		return nil, &ConfigurationError{
			Op:       "Peer",
			Expected: c.size,
			Actual:   rank,
			Reason:   fmt.Sprintf("rank must be in [0, %d)", c.size),
		}
	}
	return c.channels[rank], nil
}

// Close flushes pending sends and tears down every channel.  Peers observe
// ErrChannelClosed on any receive that has not yet been satisfied.  Close is
// idempotent.
func (c *Communicator) Close() error {
	c.closeOnce.Do(func() {
		for _, ch := range c.channels {
			if ch == nil {
				continue
			}
			if err := ch.close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		c.log.Debug("communicator closed")
	})
	return c.closeErr
}

// RequireSize returns a ConfigurationError if the communicator does not have
// exactly n ranks.  Patterns written for a fixed number of ranks call it
// before sending anything.
func RequireSize(c *Communicator, n int) error {
	if c.size != n {
		return &ConfigurationError{
			Op:       "RequireSize",
			Expected: n,
			Actual:   c.size,
			Reason:   "wrong communicator size",
		}
	}
	return nil
}

// checkRoot validates a collective's root rank.
func (c *Communicator) checkRoot(op string, root int) error {
	if root < 0 || root >= c.size {
		return &ConfigurationError{
			Op:       op,
			Expected: c.size,
			Actual:   root,
			Reason:   fmt.Sprintf("root must be in [0, %d)", c.size),
		}
	}
	return nil
}
