package comm

import "golang.org/x/exp/constraints"

// Number is any integer or floating-point type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Sum adds two values.  It is the usual combine function for Reduce.
func Sum[T Number](a, b T) T { return a + b }

// Max returns the larger of two values.
func Max[T constraints.Ordered](a, b T) T {
	if b > a {
		return b
	}
	return a
}

// Min returns the smaller of two values.
func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}

// SumSlices adds two equal-length arrays element by element, for reducing
// fixed-layout arrays.  The result is a new slice; a shorter operand is
// treated as zero-padded.
func SumSlices[T Number](a, b []T) []T {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]T, n)
	copy(out, a)
	for i, v := range b {
		out[i] += v
	}
	return out
}
