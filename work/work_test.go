package work

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lanl/rankcomm/comm"
)

func TestPartitionCoversEverything(t *testing.T) {
	for _, n := range []int{0, 1, 7, 100, 1_000_000_000} {
		n := n
		for _, p := range []int{1, 2, 3, 8} {
			p := p
			t.Run(fmt.Sprintf("N=%d/P=%d", n, p), func(t *testing.T) {
				rs, err := Ranges(n, p)
				require.NoError(t, err)
				require.Len(t, rs, p)
				next, total := 0, 0
				for k, w := range rs {
					assert.Equal(t, next, w.First, "rank %d starts where rank %d ended", k, k-1)
					assert.GreaterOrEqual(t, w.Count, n/p)
					assert.LessOrEqual(t, w.Count, n/p+1)
					next = w.End()
					total += w.Count
				}
				assert.Equal(t, n, total)
				assert.Equal(t, n, next)
			})
		}
	}
}

func TestPartitionLayout(t *testing.T) {
	rs, err := Ranges(7, 3)
	require.NoError(t, err)
	assert.Equal(t, []WorkRange{{0, 3}, {3, 2}, {5, 2}}, rs)

	rs, err = Ranges(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []WorkRange{{0, 1}, {1, 1}, {2, 0}, {2, 0}}, rs)
	assert.True(t, rs[3].Empty())
	assert.Equal(t, "[2, 2)", rs[3].String())
}

func TestPartitionInvalid(t *testing.T) {
	for _, tc := range []struct{ n, p, rank int }{
		{-1, 2, 0},
		{10, 0, 0},
		{10, 3, 3},
		{10, 3, -1},
	} {
		_, err := Partition(tc.n, tc.p, tc.rank)
		_, ok := comm.IsConfigurationError(err)
		assert.True(t, ok, "%+v: %v", tc, err)
	}
	_, err := Ranges(5, 0)
	_, ok := comm.IsConfigurationError(err)
	assert.True(t, ok)
}

func TestSplit(t *testing.T) {
	rs, err := WorkRange{First: 10, Count: 5}.Split(2)
	require.NoError(t, err)
	assert.Equal(t, []WorkRange{{10, 3}, {13, 2}}, rs)
}

func sumRange(w WorkRange) int {
	s := 0
	for i := w.First; i < w.End(); i++ {
		s += i
	}
	return s
}

func TestMapReduce(t *testing.T) {
	ctx := context.Background()
	for _, workers := range []int{0, 1, 3, 16} {
		got, err := MapReduce(ctx, Pool{Workers: workers}, WorkRange{First: 0, Count: 101}, sumRange, comm.Sum[int])
		require.NoError(t, err)
		assert.Equal(t, 5050, got, "workers=%d", workers)
	}

	// Pieces are folded in order.
	order, err := MapReduce(ctx, Pool{Workers: 4}, WorkRange{First: 0, Count: 4},
		func(w WorkRange) string { return fmt.Sprint(w.First) },
		func(a, b string) string { return a + b })
	require.NoError(t, err)
	assert.Equal(t, "0123", order)

	// An empty range still runs the kernel once.
	var calls atomic.Int32
	_, err = MapReduce(ctx, Pool{Workers: 4}, WorkRange{First: 9}, func(w WorkRange) int {
		calls.Add(1)
		return 0
	}, comm.Sum[int])
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMapReduceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := MapReduce(ctx, Pool{Workers: 2}, WorkRange{Count: 10}, sumRange, comm.Sum[int])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun(t *testing.T) {
	const size, units = 3, 1000
	l := logrus.New()
	l.SetOutput(io.Discard)
	comms, err := comm.NewLocalWorld(size, &comm.Options{Logger: l})
	require.NoError(t, err)

	results := make([]Result[int], size)
	var g errgroup.Group
	for r, c := range comms {
		r, c := r, c
		g.Go(func() error {
			defer c.Close()
			var err error
			results[r], err = Run(context.Background(), c, Job[int]{
				Units:   units,
				Root:    1,
				Kernel:  sumRange,
				Combine: comm.Sum[int],
				Pool:    Pool{Workers: 2},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	covered := 0
	for r, res := range results {
		assert.Equal(t, r == 1, res.OK, "rank %d", r)
		assert.Equal(t, sumRange(res.Local), res.Part)
		covered += res.Local.Count
	}
	assert.Equal(t, units, covered)
	assert.Equal(t, units*(units-1)/2, results[1].Value)
}

func TestRunNeedsFunctions(t *testing.T) {
	comms, err := comm.NewLocalWorld(1, nil)
	require.NoError(t, err)
	defer comms[0].Close()
	_, err = Run(context.Background(), comms[0], Job[int]{Units: 1})
	var pm *comm.ProtocolMisuse
	assert.ErrorAs(t, err, &pm)
}
