package comm

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// frameHeaderLen is the number of bytes that follow the length prefix and
// precede the payload: source rank and tag, both 32 bits.
const frameHeaderLen = 8

// maxFrameLen bounds a single frame so a corrupt length prefix cannot make a
// reader allocate without limit.
const maxFrameLen = 1 << 31

// dialRetryInterval is how long to wait between attempts to reach a peer
// that is not listening yet.
const dialRetryInterval = 100 * time.Millisecond

// TCPConfig describes one rank's place in a TCP world.  The bootstrap
// environment supplies the same Addrs list to every rank and a distinct Rank
// to each.
type TCPConfig struct {
	Rank  int      // This process's rank
	Addrs []string // Listen address of every rank, indexed by rank

	// Listener, if non-nil, is used instead of listening on Addrs[Rank].
	// Tests use it to bind port 0 before the address list is known.
	Listener net.Listener

	Options
}

// tcpLink writes frames to one peer connection.
type tcpLink struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
	self int
}

func newTCPLink(conn net.Conn, self int) *tcpLink {
	return &tcpLink{conn: conn, w: bufio.NewWriter(conn), self: self}
}

func (l *tcpLink) write(tag int, payload []byte) error {
	if err := checkFrameLen(len(payload)); err != nil {
		return &ProtocolMisuse{Op: "Send", Reason: err.Error()}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := writeFrame(l.w, l.self, tag, payload); err != nil {
		return errors.Wrap(ErrChannelClosed, err.Error())
	}
	if err := l.w.Flush(); err != nil {
		return errors.Wrap(ErrChannelClosed, err.Error())
	}
	return nil
}

func (l *tcpLink) close() error {
	return l.conn.Close()
}

// writeFrame writes a length-prefixed frame:
//
//	uint32 length of everything after this field (big-endian)
//	uint32 source rank
//	int32  tag
//	payload
//
// A payload too large for the length field is rejected before anything is
// written.
func writeFrame(w io.Writer, src, tag int, payload []byte) error {
	if err := checkFrameLen(len(payload)); err != nil {
		return err
	}
	var hdr [4 + frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(frameHeaderLen+len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(src))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(int32(tag)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// checkFrameLen reports whether a payload of n bytes fits in one frame.
func checkFrameLen(n int) error {
	if int64(n) > maxFrameLen-frameHeaderLen {
		return errors.Errorf("payload of %d bytes exceeds the %d-byte frame limit", n, maxFrameLen-frameHeaderLen)
	}
	return nil
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) (src, tag int, payload []byte, err error) {
	var lbuf [4]byte
	if _, err = io.ReadFull(r, lbuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lbuf[:])
	if n < frameHeaderLen || uint64(n) > maxFrameLen {
		err = errors.Errorf("malformed frame length %d", n)
		return
	}
	buf := make([]byte, n)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	src = int(binary.BigEndian.Uint32(buf[0:4]))
	tag = int(int32(binary.BigEndian.Uint32(buf[4:8])))
	payload = buf[frameHeaderLen:]
	return
}

// DialTCP joins a TCP world and returns this rank's Communicator.  Every
// rank listens on its own address; for each pair of ranks the higher one
// dials the lower one and announces itself with a hello frame.  Dials to
// peers that are not up yet are retried until ctx is done.  ctx bounds only
// connection setup, not later messaging.
func DialTCP(ctx context.Context, cfg TCPConfig) (*Communicator, error) {
	size := len(cfg.Addrs)
	switch {
	case size < 1:
		return nil, &ConfigurationError{Op: "DialTCP", Expected: 1, Actual: size, Reason: "need at least one address"}
	case cfg.Rank < 0 || cfg.Rank >= size:
		return nil, &ConfigurationError{Op: "DialTCP", Expected: size, Actual: cfg.Rank, Reason: "rank out of range"}
	}
	c := newCommunicator(cfg.Rank, size, &cfg.Options)

	ln := cfg.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", cfg.Addrs[cfg.Rank]); err != nil {
			return nil, errors.Wrapf(err, "rank %d: listen on %s", cfg.Rank, cfg.Addrs[cfg.Rank])
		}
	}
	c.log.WithField("addr", ln.Addr().String()).Info("listening for peers")

	conns := make([]net.Conn, size)
	closeAll := func() {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
	}

	// Accept from every higher rank while dialing every lower rank.
	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- acceptPeers(ctx, ln, c.rank, size, conns, c.log)
	}()
	var dialErr error
	for peer := 0; peer < c.rank; peer++ {
		conn, err := dialPeer(ctx, cfg.Addrs[peer], c.rank)
		if err != nil {
			dialErr = errors.Wrapf(err, "rank %d: dial rank %d at %s", c.rank, peer, cfg.Addrs[peer])
			break
		}
		conns[peer] = conn
		c.log.WithField("peer", peer).Debug("connected")
	}
	if dialErr != nil {
		ln.Close()
		<-acceptErr
		closeAll()
		return nil, dialErr
	}
	if err := <-acceptErr; err != nil {
		closeAll()
		return nil, err
	}

	for peer := 0; peer < size; peer++ {
		if peer == c.rank {
			l := &localLink{}
			ch := newChannel(peer, peer, l, c.log)
			l.peer = ch
			c.channels[peer] = ch
			continue
		}
		conn := conns[peer]
		ch := newChannel(c.rank, peer, newTCPLink(conn, c.rank), c.log)
		c.channels[peer] = ch
		go readLoop(conn, ch)
	}
	c.log.Info("all peers connected")
	return c, nil
}

// acceptPeers accepts one connection from every rank above self, reading
// each one's hello frame to learn who it is.  It closes ln when done.
func acceptPeers(ctx context.Context, ln net.Listener, self, size int, conns []net.Conn, log *logrus.Entry) error {
	defer ln.Close()
	want := size - self - 1
	if want == 0 {
		return nil
	}

	// Unblock Accept when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for got := 0; got < want; {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrapf(ctx.Err(), "rank %d: waiting for %d peers", self, want-got)
			}
			return errors.Wrapf(err, "rank %d: accept", self)
		}
		src, tag, err := readHello(ctx, conn)
		switch {
		case err != nil && ctx.Err() != nil:
			conn.Close()
			return errors.Wrapf(ctx.Err(), "rank %d: waiting for %d peers", self, want-got)
		case err != nil:
			log.WithError(err).Warn("dropping connection without hello")
			conn.Close()
			continue
		case tag != tagHello || src <= self || src >= size || conns[src] != nil:
			log.WithFields(logrus.Fields{"src": src, "tag": tag}).Warn("dropping connection with bad hello")
			conn.Close()
			continue
		}
		conns[src] = conn
		got++
		log.WithField("peer", src).Debug("accepted")
	}
	return nil
}

// readHello reads the hello frame from a freshly accepted connection.  The
// read is abandoned when ctx ends, so a client that connects and then says
// nothing cannot hold up setup.
func readHello(ctx context.Context, conn net.Conn) (src, tag int, err error) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	src, tag, _, err = readFrame(conn)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	return
}

// dialPeer connects to addr, retrying until ctx is done, and sends a hello
// frame naming self.
func dialPeer(ctx context.Context, addr string, self int) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			if err = writeFrame(conn, self, tagHello, nil); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), err.Error())
		case <-time.After(dialRetryInterval):
		}
	}
}

// readLoop feeds every frame arriving on conn into ch until the connection
// fails, then closes ch's receive side.
func readLoop(conn net.Conn, ch *Channel) {
	r := bufio.NewReader(conn)
	for {
		src, tag, payload, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				ch.log.WithError(err).Debug("read failed")
			}
			ch.shutdown(errors.Wrapf(ErrChannelClosed, "rank %d disconnected", ch.peer))
			return
		}
		if src != ch.peer {
			ch.log.WithField("src", src).Warn("frame with unexpected source")
		}
		if err := ch.deliver(tag, payload); err != nil {
			return
		}
	}
}
