package comm

import (
	"bytes"
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, 3, tagScatter, []byte("abc")))
	require.NoError(t, writeFrame(&buf, 70000, 12345, nil))

	src, tag, payload, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, src)
	assert.Equal(t, tagScatter, tag)
	assert.Equal(t, []byte("abc"), payload)

	src, tag, payload, err = readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, 70000, src)
	assert.Equal(t, 12345, tag)
	assert.Empty(t, payload)
}

func TestReadFrameMalformed(t *testing.T) {
	// Length shorter than the header.
	_, _, _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 4, 1, 2, 3, 4}))
	assert.Error(t, err)

	// Truncated body.
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, 0, 0, []byte("truncated")))
	_, _, _, err = readFrame(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	assert.Error(t, err)
}

func TestFrameLimit(t *testing.T) {
	assert.NoError(t, checkFrameLen(0))
	assert.NoError(t, checkFrameLen(maxFrameLen-frameHeaderLen))
	assert.Error(t, checkFrameLen(maxFrameLen-frameHeaderLen+1))
	assert.Error(t, checkFrameLen(math.MaxInt))
}

func TestDialTCPConfig(t *testing.T) {
	ctx := context.Background()
	_, err := DialTCP(ctx, TCPConfig{Rank: 0})
	_, ok := IsConfigurationError(err)
	assert.True(t, ok)

	_, err = DialTCP(ctx, TCPConfig{Rank: 2, Addrs: []string{"a", "b"}})
	ce, ok := IsConfigurationError(err)
	require.True(t, ok)
	assert.Equal(t, 2, ce.Expected)
	assert.Equal(t, 2, ce.Actual)
}

// dialWorld brings up size ranks over loopback TCP inside one process.
func dialWorld(t *testing.T, size int) []*Communicator {
	t.Helper()
	lns := make([]net.Listener, size)
	addrs := make([]string, size)
	for r := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[r] = ln
		addrs[r] = ln.Addr().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	comms := make([]*Communicator, size)
	g, ctx := errgroup.WithContext(ctx)
	for r := range comms {
		r := r
		g.Go(func() error {
			cfg := TCPConfig{Rank: r, Addrs: addrs, Listener: lns[r], Options: *quietOptions()}
			var err error
			comms[r], err = DialTCP(ctx, cfg)
			return err
		})
	}
	require.NoError(t, g.Wait())
	return comms
}

func TestTCPWorld(t *testing.T) {
	comms := dialWorld(t, 4)
	sums := make([]int, 4)
	errs := runComms(t, comms, func(c *Communicator) error {
		peer := c.Rank() ^ 1
		b, err := Exchange(c, peer, 1, EncodeSlice([]int64{int64(c.Rank())}))
		if err != nil {
			return err
		}
		vs, err := DecodeSlice[int64](b)
		if err != nil {
			return err
		}
		v, err := Allreduce(c, cube(c.Rank())+int(vs[0]), Sum[int])
		sums[c.Rank()] = v
		if err != nil {
			return err
		}
		return Barrier(c)
	})
	requireAllOK(t, errs)
	// 36 from the cubes plus 0+1+2+3 from the exchanged ranks.
	assert.Equal(t, []int{42, 42, 42, 42}, sums)
}

func TestTCPPeerExit(t *testing.T) {
	comms := dialWorld(t, 2)
	defer comms[0].Close()

	require.NoError(t, Send(comms[1], 0, 2, []byte("bye")))
	require.NoError(t, comms[1].Close())

	b, _, err := Recv(comms[0], 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(b))

	_, _, err = Recv(comms[0], 1, 2)
	assert.True(t, IsChannelClosed(err), "%v", err)
}

func TestDialTCPGivesUp(t *testing.T) {
	// Nothing listens on rank 0's address, so rank 1 retries until the
	// context expires.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = DialTCP(ctx, TCPConfig{Rank: 1, Addrs: []string{dead, "127.0.0.1:0"}, Options: *quietOptions()})
	assert.Error(t, err)
}

func TestDialTCPSilentClient(t *testing.T) {
	// Something connects to rank 0 but never says hello.  Setup must still
	// give up when the context does.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	silent, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		cfg := TCPConfig{Rank: 0, Addrs: []string{ln.Addr().String(), "127.0.0.1:0"}, Listener: ln, Options: *quietOptions()}
		_, err := DialTCP(ctx, cfg)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		t.Fatal("DialTCP still blocked long after its context expired")
	}
}
