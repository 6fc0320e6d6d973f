/*
Run message-passing patterns over a fixed group of ranks, either all inside
one process (--local P) or one rank per process over TCP (--world file
--rank k).
*/

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lanl/rankcomm/comm"
)

// logger receives all diagnostics, including those of the communicators.
var logger = logrus.New()

// notify is used to output error messages.
var notify *logrus.Entry

// info is used to output status messages.
var info *logrus.Entry

// initLogging directs all log output to w.
func initLogging(w io.Writer) {
	logger.SetOutput(w)
	notify = logger.WithField("prog", filepath.Base(os.Args[0]))
	info = logrus.NewEntry(logger)
}

// newRootCommand builds the command tree.  Subcommand results are written to
// out.
func newRootCommand(p *Parameters, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "rankrun",
		Short:         "Run message-passing patterns over a group of ranks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(p.LogLevel)
			if err != nil {
				return usagef("--log-level: %v", err)
			}
			logger.SetLevel(lvl)
			return validateWorld(p)
		},
	}
	root.SetOut(out)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})
	addWorldFlags(root.PersistentFlags(), p)
	root.AddCommand(
		newHelloCommand(p),
		newNeighborCommand(p),
		newPiCommand(p),
		newLaplaceCommand(p),
	)
	return root
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{msg: err.Error()}
	}
	return nil
}

// report logs err in a form that says what went wrong.
func report(err error) {
	if ce, ok := comm.IsConfigurationError(err); ok {
		notify.WithFields(logrus.Fields{
			"op":       ce.Op,
			"expected": ce.Expected,
			"actual":   ce.Actual,
		}).Error(err)
		return
	}
	notify.Error(err)
}

func main() {
	// Initialize program parameters.
	initLogging(colorable.NewColorableStderr())
	var p Parameters
	root := newRootCommand(&p, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	cmd, err := root.ExecuteContextC(ctx)
	stop()
	if err != nil {
		report(err)
		if exitCode(err) == exitUsage {
			cmd.PrintErrln(cmd.UsageString())
		}
	}
	os.Exit(exitCode(err))
}
