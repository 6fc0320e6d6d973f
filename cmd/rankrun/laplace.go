// This file implements the laplace subcommand: Jacobi relaxation of a 2-D
// Laplace problem whose rows are divided among the ranks.  The top edge is
// held at 1 and the other three edges at 0.

package main

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/lanl/rankcomm/comm"
	"github.com/lanl/rankcomm/work"
)

// Halo rows travel on these tags, named for their direction of travel.
const (
	tagHaloUp   = 4
	tagHaloDown = 5
)

func newLaplaceCommand(p *Parameters) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "laplace",
		Short: "Relax a Laplace stencil over a grid split by rows",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case p.Rows < 3:
				return usagef("--rows must be at least 3")
			case p.Cols < 3:
				return usagef("--cols must be at least 3")
			case p.MaxIters < 1:
				return usagef("--iters must be positive")
			case p.Tolerance <= 0:
				return usagef("--tol must be positive")
			}
			out := cmd.OutOrStdout()
			return runPattern(cmd.Context(), p, func(ctx context.Context, c *comm.Communicator) error {
				res, ok, err := solveLaplace(ctx, c, p)
				if err != nil || !ok {
					return err
				}
				return res.write(out)
			})
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&p.Rows, "rows", 66, "Grid rows, including the boundary rows")
	fs.IntVar(&p.Cols, "cols", 64, "Grid columns, including the boundary columns")
	fs.IntVar(&p.MaxIters, "iters", 5000, "Maximum number of iterations")
	fs.Float64Var(&p.Tolerance, "tol", 1e-4, "Stop when no cell changes by more than this")
	return cmd
}

// A laplaceShare summarizes one rank's rows after the last iteration.
type laplaceShare struct {
	Rank  int
	First int // First global row
	Rows  int
	Mean  float64 // Mean over the rank's interior cells
}

// A laplaceResult is the outcome of a run, complete on rank 0.
type laplaceResult struct {
	Iters     int
	Residual  float64 // Largest change in the last iteration, over all ranks
	Converged bool
	Cells     int // Interior cells in the whole grid
	Shares    []laplaceShare
}

// solveLaplace relaxes this rank's rows until the largest update anywhere
// falls below the tolerance or the iteration limit is reached.  Every rank
// learns the residual each iteration, so all stop together.  ok is true only
// on rank 0.
func solveLaplace(ctx context.Context, c *comm.Communicator, p *Parameters) (res laplaceResult, ok bool, err error) {
	interior := p.Rows - 2
	if interior < c.Size() {
		return res, false, &comm.ConfigurationError{
			Op:       "laplace",
			Expected: c.Size(),
			Actual:   interior,
			Reason:   "need at least one interior row per rank",
		}
	}
	w, err := work.ForRank(c, interior)
	if err != nil {
		return res, false, err
	}

	// Local rows 1..n are global rows w.First+1..w.First+n; rows 0 and
	// n+1 hold the neighbors' edge rows or the fixed boundary.
	n := w.Count
	u := mat.NewDense(n+2, p.Cols, nil)
	next := mat.NewDense(n+2, p.Cols, nil)
	if c.Rank() == 0 {
		for _, g := range []*mat.Dense{u, next} {
			floats.AddConst(1, g.RawRowView(0))
		}
	}
	up, down := c.Rank()-1, c.Rank()+1
	pool := work.Pool{Workers: p.Workers}
	rows := work.WorkRange{First: 1, Count: n}
	relax := func(r work.WorkRange) float64 { return relaxRows(u, next, r) }

	for res.Iters < p.MaxIters {
		if err := exchangeHalos(c, u, up, down); err != nil {
			return res, false, errors.WithMessagef(err, "iteration %d", res.Iters)
		}
		local, err := work.MapReduce(ctx, pool, rows, relax, comm.Max[float64])
		if err != nil {
			return res, false, err
		}
		if res.Residual, err = comm.Allreduce(c, local, comm.Max[float64]); err != nil {
			return res, false, errors.WithMessagef(err, "iteration %d", res.Iters)
		}
		u, next = next, u
		res.Iters++
		if res.Residual < p.Tolerance {
			res.Converged = true
			break
		}
	}

	var sum float64
	for i := 1; i <= n; i++ {
		row := u.RawRowView(i)
		sum += floats.Sum(row[1 : p.Cols-1])
	}
	cells := n * (p.Cols - 2)
	share := laplaceShare{Rank: c.Rank(), First: w.First + 1, Rows: n, Mean: sum / float64(cells)}
	if res.Shares, err = comm.Gather(c, 0, share); err != nil {
		return res, false, err
	}
	res.Cells = interior * (p.Cols - 2)
	return res, c.Rank() == 0, nil
}

// relaxRows computes one Jacobi update of rows r of u into next and returns
// the largest change.  Edge columns are copied through unchanged.
func relaxRows(u, next *mat.Dense, r work.WorkRange) float64 {
	var most float64
	for i := r.First; i < r.End(); i++ {
		above, row, below := u.RawRowView(i-1), u.RawRowView(i), u.RawRowView(i+1)
		out := next.RawRowView(i)
		last := len(row) - 1
		out[0], out[last] = row[0], row[last]
		for j := 1; j < last; j++ {
			out[j] = 0.25 * (above[j] + below[j] + row[j-1] + row[j+1])
		}
		most = math.Max(most, floats.Distance(out, row, math.Inf(1)))
	}
	return most
}

// exchangeHalos sends this rank's edge rows to the neighbors above and below
// and fills its halo rows with theirs.  Both directions are posted before
// waiting, so the exchange cannot deadlock.
func exchangeHalos(c *comm.Communicator, u *mat.Dense, up, down int) error {
	n, _ := u.Dims()
	n -= 2
	var reqs []*comm.Request
	var fromUp, fromDown *comm.Request
	if up >= 0 {
		fromUp = comm.RecvAsync(c, up, tagHaloDown)
		reqs = append(reqs, fromUp, comm.SendAsync(c, up, tagHaloUp, comm.EncodeSlice(u.RawRowView(1))))
	}
	if down < c.Size() {
		fromDown = comm.RecvAsync(c, down, tagHaloUp)
		reqs = append(reqs, fromDown, comm.SendAsync(c, down, tagHaloDown, comm.EncodeSlice(u.RawRowView(n))))
	}
	if err := comm.WaitAll(reqs...); err != nil {
		return err
	}
	if err := fillHalo(fromUp, u.RawRowView(0)); err != nil {
		return err
	}
	return fillHalo(fromDown, u.RawRowView(n+1))
}

// fillHalo copies the row received by req into dst.  A nil req means dst is
// a fixed boundary.
func fillHalo(req *comm.Request, dst []float64) error {
	if req == nil {
		return nil
	}
	b, err := req.Data()
	if err != nil {
		return err
	}
	vs, err := comm.DecodeSlice[float64](b)
	if err != nil {
		return err
	}
	if len(vs) != len(dst) {
		return errors.Errorf("halo row from rank %d has %d columns, want %d", req.Status().Source, len(vs), len(dst))
	}
	copy(dst, vs)
	return nil
}

// write outputs the per-rank table and the convergence summary.
func (res laplaceResult) write(w io.Writer) error {
	t := newTable("rank", "rows", "mean")
	var total float64
	for _, s := range res.Shares {
		t.add(s.Rank, fmt.Sprintf("%d-%d", s.First, s.First+s.Rows-1), fmt.Sprintf("%.6f", s.Mean))
		total += s.Mean * float64(s.Rows)
	}
	if err := t.write(w); err != nil {
		return err
	}
	status := "converged"
	if !res.Converged {
		status = "stopped at the iteration limit"
	}
	var rows int
	for _, s := range res.Shares {
		rows += s.Rows
	}
	_, err := fmt.Fprintf(w, "\n%s after %d iterations, residual %.3e, mean %.6f over %d cells\n",
		status, res.Iters, res.Residual, total/float64(rows), res.Cells)
	return err
}
