// This file runs a pattern on every rank this process is responsible for.

package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lanl/rankcomm/comm"
)

// A world is the set of communicators this process drives: all of them when
// running locally, exactly one when joined to a TCP world.
type world struct {
	comms []*comm.Communicator
}

// A pattern is the per-rank body of a subcommand.
type pattern func(ctx context.Context, c *comm.Communicator) error

// openWorld creates the communicators selected by p.
func openWorld(ctx context.Context, p *Parameters) (*world, error) {
	if p.Local > 0 {
		return openLocalWorld(p)
	}
	return openTCPWorld(ctx, p)
}

// run calls fn once per communicator, concurrently.  A rank whose fn fails
// closes its communicator, exactly as if its process had exited, so ranks
// waiting on it fail instead of hanging.  run returns the lowest-ranked
// failure that is not merely a consequence of another rank closing.
func (w *world) run(ctx context.Context, fn pattern) error {
	errs := make([]error, len(w.comms))
	var g errgroup.Group
	for i, c := range w.comms {
		i, c := i, c
		g.Go(func() error {
			if err := fn(ctx, c); err != nil {
				errs[i] = err
				c.Logger().WithError(err).Debug("rank failed")
				c.Close()
			}
			return nil
		})
	}
	g.Wait()

	var first error
	for _, err := range errs {
		switch {
		case err == nil:
		case !comm.IsChannelClosed(err):
			return err
		case first == nil:
			first = err
		}
	}
	return first
}

// close tears down every communicator.
func (w *world) close() error {
	var first error
	for _, c := range w.comms {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// runPattern opens the world described by p, runs fn on it, and closes it.
func runPattern(ctx context.Context, p *Parameters, fn pattern) error {
	w, err := openWorld(ctx, p)
	if err != nil {
		return err
	}
	err = w.run(ctx, fn)
	if cerr := w.close(); err == nil {
		err = cerr
	}
	return err
}
