// Package work divides an indivisible workload among ranks and among the
// worker goroutines of a single rank, and drives the usual
// partition-compute-reduce pattern over a communicator.
package work

import (
	"fmt"

	"github.com/lanl/rankcomm/comm"
)

// A WorkRange is the half-open interval [First, First+Count) of work-unit
// indices.
type WorkRange struct {
	First int // Index of the first unit
	Count int // Number of units
}

// End returns the index one past the last unit.
func (w WorkRange) End() int {
	return w.First + w.Count
}

// Empty reports whether the range holds no units.
func (w WorkRange) Empty() bool {
	return w.Count == 0
}

// String returns the range in interval notation.
func (w WorkRange) String() string {
	return fmt.Sprintf("[%d, %d)", w.First, w.End())
}

// Partition returns rank's share of n units split among p ranks.  With
// q, r = n/p, n%p the first r ranks get q+1 units and the rest get q, and
// the ranges are laid end to end in rank order starting at 0.  Every unit
// belongs to exactly one rank, including when n < p (some ranges are
// empty) and when n == 0.
func Partition(n, p, rank int) (WorkRange, error) {
	switch {
	case n < 0:
		return WorkRange{}, &comm.ConfigurationError{Op: "Partition", Expected: 0, Actual: n, Reason: "work count must be non-negative"}
	case p < 1:
		return WorkRange{}, &comm.ConfigurationError{Op: "Partition", Expected: 1, Actual: p, Reason: "rank count must be positive"}
	case rank < 0 || rank >= p:
		return WorkRange{}, &comm.ConfigurationError{Op: "Partition", Expected: p, Actual: rank, Reason: fmt.Sprintf("rank must be in [0, %d)", p)}
	}
	q, r := n/p, n%p
	count := q
	if rank < r {
		count++
	}
	return WorkRange{First: rank*q + min(rank, r), Count: count}, nil
}

// Ranges returns every rank's range, indexed by rank.
func Ranges(n, p int) ([]WorkRange, error) {
	if p < 1 {
		return nil, &comm.ConfigurationError{Op: "Ranges", Expected: 1, Actual: p, Reason: "rank count must be positive"}
	}
	rs := make([]WorkRange, p)
	for k := range rs {
		var err error
		if rs[k], err = Partition(n, p, k); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// ForRank partitions n units over the ranks of c and returns the caller's
// share.
func ForRank(c *comm.Communicator, n int) (WorkRange, error) {
	return Partition(n, c.Size(), c.Rank())
}

// Split divides w itself into p contiguous sub-ranges, with the same rule as
// Partition, offset to start at w.First.
func (w WorkRange) Split(p int) ([]WorkRange, error) {
	rs, err := Ranges(w.Count, p)
	if err != nil {
		return nil, err
	}
	for i := range rs {
		rs[i].First += w.First
	}
	return rs, nil
}
