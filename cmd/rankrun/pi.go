// This file implements the pi subcommand, a Monte-Carlo estimate of pi
// whose samples are divided among ranks and among each rank's workers.

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/lanl/rankcomm/comm"
	"github.com/lanl/rankcomm/work"
)

func newPiCommand(p *Parameters) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pi",
		Short: "Estimate pi by sampling the unit square",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.Samples < 1 {
				return usagef("--samples must be positive")
			}
			out := cmd.OutOrStdout()
			return runPattern(cmd.Context(), p, func(ctx context.Context, c *comm.Communicator) error {
				est, ok, err := estimatePi(ctx, c, p)
				if err != nil || !ok {
					return err
				}
				return est.write(out)
			})
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&p.Samples, "samples", 10_000_000, "Total number of samples across all ranks")
	fs.Int64Var(&p.Seed, "seed", 1, "Base random seed")
	fs.BoolVar(&p.Average, "average", false, "Average the per-rank estimates instead of summing hits")
	return cmd
}

// A piShare is one rank's contribution to the estimate.
type piShare struct {
	Rank     int
	First    int
	Samples  int
	Hits     int64
	Estimate float64 // NaN if the rank drew no samples
	Seconds  float64
}

// A piEstimate is the combined result, available on rank 0.
type piEstimate struct {
	Value   float64
	Average bool
	Shares  []piShare
}

// countHits returns a kernel that counts the samples of a range that land
// inside the quarter circle.  Each range draws from its own stream, so the
// result depends only on the seed and how the samples were divided.
func countHits(seed int64) func(work.WorkRange) int64 {
	return func(w work.WorkRange) int64 {
		rng := rand.New(rand.NewSource(seed + int64(w.First)))
		var hits int64
		for i := 0; i < w.Count; i++ {
			x, y := rng.Float64(), rng.Float64()
			if x*x+y*y <= 1 {
				hits++
			}
		}
		return hits
	}
}

// estimatePi runs the estimate on one rank.  ok is true only on rank 0,
// which alone receives the result.
func estimatePi(ctx context.Context, c *comm.Communicator, p *Parameters) (est piEstimate, ok bool, err error) {
	if p.Average && p.Samples < c.Size() {
		return est, false, &comm.ConfigurationError{
			Op:       "pi",
			Expected: c.Size(),
			Actual:   p.Samples,
			Reason:   "averaging needs at least one sample per rank",
		}
	}
	res, err := work.Run(ctx, c, work.Job[int64]{
		Units:   p.Samples,
		Root:    0,
		Kernel:  countHits(p.Seed),
		Combine: comm.Sum[int64],
		Pool:    work.Pool{Workers: p.Workers},
	})
	if err != nil {
		return est, false, err
	}

	share := piShare{
		Rank:     c.Rank(),
		First:    res.Local.First,
		Samples:  res.Local.Count,
		Hits:     res.Part,
		Estimate: math.NaN(),
		Seconds:  res.Took.Seconds(),
	}
	if share.Samples > 0 {
		share.Estimate = 4 * float64(share.Hits) / float64(share.Samples)
	}
	c.Logger().WithFields(logrus.Fields{"hits": share.Hits, "estimate": share.Estimate}).Debug("local estimate")

	est.Average = p.Average
	if p.Average {
		sum, root, err := comm.Reduce(c, 0, share.Estimate, comm.Sum[float64])
		if err != nil {
			return est, false, err
		}
		if root {
			est.Value = sum / float64(c.Size())
		}
	} else if res.OK {
		est.Value = 4 * float64(res.Value) / float64(p.Samples)
	}

	if est.Shares, err = comm.Gather(c, 0, share); err != nil {
		return est, false, err
	}
	return est, c.Rank() == 0, nil
}

// write outputs the per-rank table and the combined estimate.
func (est piEstimate) write(w io.Writer) error {
	t := newTable("rank", "first", "samples", "hits", "π estimate", "seconds")
	var xs []float64
	for _, s := range est.Shares {
		e := "-"
		if s.Samples > 0 {
			e = fmt.Sprintf("%.6f", s.Estimate)
			xs = append(xs, s.Estimate)
		}
		t.add(s.Rank, s.First, s.Samples, s.Hits, e, fmt.Sprintf("%.3f", s.Seconds))
	}
	if err := t.write(w); err != nil {
		return err
	}

	how := "summed hits"
	if est.Average {
		how = "averaged estimates"
	}
	if _, err := fmt.Fprintf(w, "\nπ ≈ %.8f (%s, error %.2e)\n", est.Value, how, math.Abs(est.Value-math.Pi)); err != nil {
		return err
	}
	if len(xs) > 1 {
		mean, std := stat.MeanStdDev(xs, nil)
		_, err := fmt.Fprintf(w, "rank estimates: mean %.6f ± %.6f\n", mean, std)
		return err
	}
	return nil
}
