package comm

// localLink delivers frames straight into the peer's Channel in the same
// process.
type localLink struct {
	peer *Channel // The remote end; set once both ends exist
}

func (l *localLink) write(tag int, payload []byte) error {
	// The sender may reuse its buffer once Send returns.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return l.peer.deliver(tag, buf)
}

func (l *localLink) close() error {
	l.peer.shutdown(ErrChannelClosed)
	return nil
}

// NewLocalWorld returns size Communicators, one per rank, joined by
// in-memory channels.  It lets a whole run execute inside one process with
// one goroutine per rank, which is how tests and the --local mode of rankrun
// exercise the runtime.  Closing a Communicator looks to its peers exactly
// like that rank's process exiting.
func NewLocalWorld(size int, opts *Options) ([]*Communicator, error) {
	if size < 1 {
		return nil, &ConfigurationError{Op: "NewLocalWorld", Expected: 1, Actual: size, Reason: "size must be positive"}
	}
	comms := make([]*Communicator, size)
	for r := range comms {
		comms[r] = newCommunicator(r, size, opts)
	}

	// Wire each pair (i, j) with two links, one per direction.  The
	// diagonal is a loopback.
	for i := 0; i < size; i++ {
		for j := i; j < size; j++ {
			if i == j {
				l := &localLink{}
				ch := newChannel(i, i, l, comms[i].log)
				l.peer = ch
				comms[i].channels[i] = ch
				continue
			}
			li, lj := &localLink{}, &localLink{}
			ci := newChannel(i, j, li, comms[i].log)
			cj := newChannel(j, i, lj, comms[j].log)
			li.peer, lj.peer = cj, ci
			comms[i].channels[j] = ci
			comms[j].channels[i] = cj
		}
	}
	for _, c := range comms {
		c.log.Debug("local communicator ready")
	}
	return comms, nil
}
