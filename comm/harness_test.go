package comm

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// worldTimeout bounds every simulated run; a run that exceeds it is
// deadlocked.
const worldTimeout = 10 * time.Second

func quietOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Logger: l}
}

// runWorld runs fn once per rank of a fresh local world, each rank on its own
// goroutine, and returns the per-rank errors.  Every communicator is closed
// once all ranks are done.
func runWorld(t *testing.T, size int, fn func(c *Communicator) error) []error {
	t.Helper()
	comms, err := NewLocalWorld(size, quietOptions())
	require.NoError(t, err)
	return runComms(t, comms, fn)
}

func runComms(t *testing.T, comms []*Communicator, fn func(c *Communicator) error) []error {
	t.Helper()
	errs := make([]error, len(comms))
	var g errgroup.Group
	for r, c := range comms {
		r, c := r, c
		g.Go(func() error {
			errs[r] = fn(c)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(worldTimeout):
		t.Fatalf("ranks did not finish within %v", worldTimeout)
	}
	for _, c := range comms {
		c.Close()
	}
	return errs
}

// requireAllOK fails the test if any rank returned an error.
func requireAllOK(t *testing.T, errs []error) {
	t.Helper()
	for r, err := range errs {
		require.NoErrorf(t, err, "rank %d", r)
	}
}
