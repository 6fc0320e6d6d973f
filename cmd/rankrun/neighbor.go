// This file implements the neighbor subcommand, a two-rank exchange.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lanl/rankcomm/comm"
)

const tagNeighbor = 3

// Disciplines that keep a pairwise exchange from deadlocking.
var neighborModes = map[string]func(c *comm.Communicator, mine []int64) ([]int64, error){
	"asymmetric":  exchangeAsymmetric,
	"nonblocking": exchangeNonblocking,
	"exchange":    exchangeHelper,
}

func newNeighborCommand(p *Parameters) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neighbor",
		Short: "Exchange arrays between exactly two ranks",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			xchg, ok := neighborModes[p.Mode]
			if !ok {
				return usagef("--mode must be one of asymmetric, nonblocking, or exchange")
			}
			out := cmd.OutOrStdout()
			return runPattern(cmd.Context(), p, func(ctx context.Context, c *comm.Communicator) error {
				return neighbor(c, xchg, out)
			})
		},
	}
	cmd.Flags().StringVar(&p.Mode, "mode", "asymmetric", "Exchange discipline (asymmetric, nonblocking, exchange)")
	return cmd
}

// neighbor swaps a small array between ranks 0 and 1.  It refuses to run on
// any other number of ranks before sending anything.
func neighbor(c *comm.Communicator, xchg func(*comm.Communicator, []int64) ([]int64, error), out io.Writer) error {
	if err := comm.RequireSize(c, 2); err != nil {
		return err
	}
	r := int64(c.Rank())
	mine := []int64{r, 10 * r, 100 * r}
	theirs, err := xchg(c, mine)
	if err != nil {
		return errors.WithMessage(err, "neighbor exchange")
	}
	if theirs[0] != 1-r {
		return errors.Errorf("rank %d received %v", r, theirs)
	}

	got, err := comm.Gather(c, 0, fmt.Sprint(theirs))
	if err != nil || c.Rank() != 0 {
		return err
	}
	t := newTable("rank", "received")
	for rank, s := range got {
		t.add(rank, s)
	}
	return t.write(out)
}

// exchangeAsymmetric has rank 0 send first and rank 1 receive first.
func exchangeAsymmetric(c *comm.Communicator, mine []int64) ([]int64, error) {
	peer := 1 - c.Rank()
	if c.Rank() == 0 {
		if err := comm.SendSlice(c, peer, tagNeighbor, mine); err != nil {
			return nil, err
		}
		vs, _, err := comm.RecvSlice[int64](c, peer, tagNeighbor)
		return vs, err
	}
	vs, _, err := comm.RecvSlice[int64](c, peer, tagNeighbor)
	if err != nil {
		return nil, err
	}
	return vs, comm.SendSlice(c, peer, tagNeighbor, mine)
}

// exchangeNonblocking has both ranks post both operations before waiting.
func exchangeNonblocking(c *comm.Communicator, mine []int64) ([]int64, error) {
	peer := 1 - c.Rank()
	send := comm.SendAsync(c, peer, tagNeighbor, comm.EncodeSlice(mine))
	recv := comm.RecvAsync(c, peer, tagNeighbor)
	if err := comm.WaitAll(send, recv); err != nil {
		return nil, err
	}
	b, err := recv.Data()
	if err != nil {
		return nil, err
	}
	return comm.DecodeSlice[int64](b)
}

// exchangeHelper lets the library pick the order.
func exchangeHelper(c *comm.Communicator, mine []int64) ([]int64, error) {
	b, err := comm.Exchange(c, 1-c.Rank(), tagNeighbor, comm.EncodeSlice(mine))
	if err != nil {
		return nil, err
	}
	return comm.DecodeSlice[int64](b)
}
