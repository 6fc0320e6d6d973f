package comm

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSliceLayout(t *testing.T) {
	b := EncodeSlice([]uint16{1, 0x0203})
	assert.Equal(t, []byte{1, 0, 3, 2}, b)

	fs, err := DecodeSlice[float64](EncodeSlice([]float64{math.Pi, -0.0, math.Inf(1)}))
	require.NoError(t, err)
	assert.Equal(t, math.Pi, fs[0])
	assert.True(t, math.IsInf(fs[2], 1))

	empty, err := DecodeSlice[int32](nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeSlice[int32]([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeValueMismatch(t *testing.T) {
	b, err := encodeValue("a string")
	require.NoError(t, err)
	_, err = decodeValue[[]int](b)
	assert.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	ce := &ConfigurationError{Op: "RequireSize", Expected: 2, Actual: 3, Reason: "wrong communicator size"}
	assert.Equal(t, "RequireSize: wrong communicator size (expected 2, got 3)", ce.Error())
	assert.Equal(t, "Scatter: expected 4, got 1", (&ConfigurationError{Op: "Scatter", Expected: 4, Actual: 1}).Error())

	wrapped := errors.WithMessage(ce, "neighbor")
	got, ok := IsConfigurationError(wrapped)
	require.True(t, ok)
	assert.Same(t, ce, got)
	assert.False(t, IsChannelClosed(wrapped))

	closed := errors.Wrapf(ErrChannelClosed, "receive from rank %d", 1)
	assert.True(t, IsChannelClosed(closed))
	assert.Equal(t, ErrChannelClosed, errors.Cause(closed))
	_, ok = IsConfigurationError(closed)
	assert.False(t, ok)

	pm := &ProtocolMisuse{Op: "Data", Reason: "request still pending"}
	assert.Equal(t, "Data: protocol misuse: request still pending", pm.Error())
}

func TestCombineOps(t *testing.T) {
	assert.Equal(t, 5, Sum(2, 3))
	assert.Equal(t, 3.5, Max(3.5, -1))
	assert.Equal(t, "a", Min("b", "a"))
	assert.Equal(t, []int{2, 4, 3}, SumSlices([]int{1, 2}, []int{1, 2, 3}))
	assert.Equal(t, []int{1}, SumSlices([]int{1}, nil))
}
