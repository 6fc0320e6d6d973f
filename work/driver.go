package work

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lanl/rankcomm/comm"
)

// A Job is one partition-compute-reduce run over n units of work.
type Job[V any] struct {
	Units   int               // Total number of work units, N
	Root    int               // Rank that receives the combined result
	Kernel  func(WorkRange) V // Computes a partial result for a range
	Combine func(V, V) V      // Associative; folded in ascending order
	Pool    Pool              // Local parallelism within each rank
}

// Result is what one rank gets back from Run.
type Result[V any] struct {
	Local WorkRange     // The range this rank computed
	Part  V             // This rank's partial result
	Value V             // The combined result; meaningful only if OK
	OK    bool          // True only on the root
	Took  time.Duration // Wall time for the local computation
}

// Run executes job on every rank of c.  Each rank computes its own share of
// the units with the local pool and the partial results are combined with
// Reduce.  Every rank of c must call Run with the same Units and Root.
func Run[V any](ctx context.Context, c *comm.Communicator, job Job[V]) (Result[V], error) {
	var res Result[V]
	if job.Kernel == nil || job.Combine == nil {
		return res, &comm.ProtocolMisuse{Op: "Run", Reason: "job needs both a kernel and a combine function"}
	}
	w, err := ForRank(c, job.Units)
	if err != nil {
		return res, err
	}
	res.Local = w
	log := c.Logger().WithFields(logrus.Fields{"first": w.First, "count": w.Count})

	start := time.Now()
	part, err := MapReduce(ctx, job.Pool, w, job.Kernel, job.Combine)
	if err != nil {
		return res, errors.WithMessage(err, "local computation")
	}
	res.Part = part
	res.Took = time.Since(start)
	log.WithField("took", res.Took).Debug("local share computed")

	res.Value, res.OK, err = comm.Reduce(c, job.Root, part, job.Combine)
	return res, err
}
