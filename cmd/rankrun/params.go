// This file defines program parameters and routines for initializing them.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// defaultDialTimeout bounds TCP world setup when the world file does not.
const defaultDialTimeout = 30 * time.Second

// Parameters is a collection of all program parameters.
type Parameters struct {
	Local     int    // Number of in-process ranks; 0 means join a TCP world
	WorldFile string // YAML file listing every rank's address
	Rank      int    // This process's rank in the TCP world
	LogLevel  string // Minimum level of messages to log
	Workers   int    // Worker goroutines per rank for local computation

	Mode string // Discipline used by the neighbor exchange

	Samples int   // Monte-Carlo samples across all ranks
	Seed    int64 // Base random seed
	Average bool  // Average per-rank estimates instead of summing hits

	Rows      int     // Grid rows, including the two boundary rows
	Cols      int     // Grid columns, including the two boundary columns
	MaxIters  int     // Iteration limit for the stencil
	Tolerance float64 // Stop once the largest update falls below this
}

// WorldConfig is the on-disk description of a TCP world.  Every process of a
// run reads the same file.
type WorldConfig struct {
	Ranks       []string      `yaml:"ranks"`        // Listen address of each rank, indexed by rank
	DialTimeout time.Duration `yaml:"dial_timeout"` // Bound on connection setup
}

// A usageError reports a bad command line.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, a ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}

// addWorldFlags registers the flags that select and size the world.
func addWorldFlags(fs *pflag.FlagSet, p *Parameters) {
	fs.IntVar(&p.Local, "local", 0, "Run this many ranks inside one process")
	fs.StringVar(&p.WorldFile, "world", "", "YAML file listing the address of every rank")
	fs.IntVar(&p.Rank, "rank", 0, "This process's rank within the world file")
	fs.StringVar(&p.LogLevel, "log-level", "warning", "Minimum level of messages to log (trace, debug, info, warning, error)")
	fs.IntVar(&p.Workers, "workers", 0, "Worker goroutines per rank (0 = one per CPU)")
}

// validateWorld checks the flags shared by every subcommand.
func validateWorld(p *Parameters) error {
	switch {
	case p.Local < 0:
		return usagef("--local must be non-negative")
	case p.Local == 0 && p.WorldFile == "":
		return usagef("either --local or --world must be specified")
	case p.Local > 0 && p.WorldFile != "":
		return usagef("--local and --world are mutually exclusive")
	case p.Rank < 0:
		return usagef("--rank must be non-negative")
	case p.Workers < 0:
		return usagef("--workers must be non-negative")
	}
	return nil
}

// ReadWorldFile reads and checks a world description.
func ReadWorldFile(name string) (*WorldConfig, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var wf WorldConfig
	if err := yaml.UnmarshalStrict(b, &wf); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	switch {
	case len(wf.Ranks) == 0:
		return nil, errors.Errorf("%s lists no ranks", name)
	case wf.DialTimeout < 0:
		return nil, errors.Errorf("%s: dial_timeout must be non-negative", name)
	case wf.DialTimeout == 0:
		wf.DialTimeout = defaultDialTimeout
	}
	return &wf, nil
}
