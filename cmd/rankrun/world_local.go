// This file provides a world whose ranks all live in the current process.

package main

import (
	"github.com/lanl/rankcomm/comm"
)

// openLocalWorld returns p.Local communicators joined in memory.  Each rank
// runs on its own goroutine.
func openLocalWorld(p *Parameters) (*world, error) {
	comms, err := comm.NewLocalWorld(p.Local, &comm.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	info.WithField("ranks", p.Local).Debug("running locally")
	return &world{comms: comms}, nil
}
