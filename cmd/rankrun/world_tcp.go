// This file provides a world spread across processes that talk over TCP.
// Something outside this program starts one process per rank and gives
// each the same world file and a distinct --rank.

package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lanl/rankcomm/comm"
)

// openTCPWorld joins the world described by p.WorldFile as rank p.Rank.
func openTCPWorld(ctx context.Context, p *Parameters) (*world, error) {
	wf, err := ReadWorldFile(p.WorldFile)
	if err != nil {
		return nil, errors.WithMessage(err, "world file")
	}
	info.WithFields(logrus.Fields{
		"rank":    p.Rank,
		"size":    len(wf.Ranks),
		"timeout": wf.DialTimeout,
	}).Info("joining world")

	ctx, cancel := context.WithTimeout(ctx, wf.DialTimeout)
	defer cancel()
	c, err := comm.DialTCP(ctx, comm.TCPConfig{
		Rank:    p.Rank,
		Addrs:   wf.Ranks,
		Options: comm.Options{Logger: logger},
	})
	if err != nil {
		return nil, err
	}
	return &world{comms: []*comm.Communicator{c}}, nil
}
