// This file implements the hello subcommand: rank 0 fans a greeting out to
// every other rank and each of them answers back.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lanl/rankcomm/comm"
)

// Tags used by hello.
const (
	tagGreeting = 1
	tagReply    = 2
)

func newHelloCommand(p *Parameters) *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Rank 0 greets every rank and collects their replies",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return runPattern(cmd.Context(), p, func(ctx context.Context, c *comm.Communicator) error {
				return hello(c, out)
			})
		},
	}
}

// hello runs the fan-out/fan-in pattern on one rank.  Only rank 0 writes to
// out.
func hello(c *comm.Communicator, out io.Writer) error {
	host, err := os.Hostname()
	if err != nil {
		host = "?"
	}
	if c.Rank() != 0 {
		greeting, _, err := comm.Recv(c, 0, tagGreeting)
		if err != nil {
			return err
		}
		reply := fmt.Sprintf("%s|rank %d of %d got %q", host, c.Rank(), c.Size(), greeting)
		return comm.Send(c, 0, tagReply, []byte(reply))
	}

	// Post every receive before sending so replies can land in any order.
	sends := make([]*comm.Request, 0, c.Size()-1)
	recvs := make([]*comm.Request, 0, c.Size()-1)
	for r := 1; r < c.Size(); r++ {
		recvs = append(recvs, comm.RecvAsync(c, r, tagReply))
	}
	for r := 1; r < c.Size(); r++ {
		msg := []byte(fmt.Sprintf("hello, rank %d", r))
		sends = append(sends, comm.SendAsync(c, r, tagGreeting, msg))
	}
	if err := comm.WaitAll(append(sends, recvs...)...); err != nil {
		return err
	}

	t := newTable("rank", "host", "reply")
	t.add(0, host, "(root)")
	for _, req := range recvs {
		b, err := req.Data()
		if err != nil {
			return err
		}
		h, msg, _ := strings.Cut(string(b), "|")
		t.add(req.Status().Source, h, msg)
	}
	return t.write(out)
}
