package comm

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Fixed is the set of element types that have a fixed wire size and can be
// sent as a homogeneous array with SendSlice.
type Fixed interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// EncodeSlice lays out vs as consecutive little-endian elements.
func EncodeSlice[T Fixed](vs []T) []byte {
	var zero T
	buf := bytes.NewBuffer(make([]byte, 0, len(vs)*binary.Size(zero)))
	// Writing fixed-size values into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, vs)
	return buf.Bytes()
}

// DecodeSlice is the inverse of EncodeSlice.
func DecodeSlice[T Fixed](b []byte) ([]T, error) {
	var zero T
	sz := binary.Size(zero)
	if len(b)%sz != 0 {
		return nil, errors.Errorf("payload of %d bytes is not a whole number of %d-byte elements", len(b), sz)
	}
	vs := make([]T, len(b)/sz)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, vs); err != nil {
		return nil, errors.Wrap(err, "decode slice")
	}
	return vs, nil
}

// encodeValue serializes an arbitrary value for the generic collectives.
func encodeValue[V any](v V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, errors.Wrapf(err, "encode %T", v)
	}
	return buf.Bytes(), nil
}

// decodeValue is the inverse of encodeValue.
func decodeValue[V any](b []byte) (V, error) {
	var v V
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, errors.Wrapf(err, "decode %T", v)
	}
	return v, nil
}
