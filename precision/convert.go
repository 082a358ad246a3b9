package precision

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Round rounds x through the given precision and back to float32,
// simulating the rounding a kernel would apply to a value stored in
// that memory precision. It is a host-side helper; the synthesiser
// itself never calls this, and PackBF16/PackFP16 below convert with the
// same library routines directly.
func Round(p Precision, x float32) float32 {
	switch p {
	case FP32:
		return x
	case FP16:
		return float16.Fromfloat32(x).Float32()
	case BF16:
		return bfloat16.FromFloat32(x).Float32()
	default:
		return x
	}
}

// PackBF16 converts a slice of float32 row-major values into the raw
// 16-bit BF16 words used by the dS^T scratch buffer.
func PackBF16(values []float32) []uint16 {
	out := make([]uint16, len(values))
	for i, v := range values {
		out[i] = bfloat16.FromFloat32(v).Bits()
	}
	return out
}

// UnpackBF16 is the inverse of PackBF16.
func UnpackBF16(words []uint16) []float32 {
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = bfloat16.FromBits(w).Float32()
	}
	return out
}

// PackFP16 converts a slice of float32 row-major values into raw IEEE
// 754 half-precision words.
func PackFP16(values []float32) []uint16 {
	out := make([]uint16, len(values))
	for i, v := range values {
		out[i] = uint16(float16.Fromfloat32(v))
	}
	return out
}

// UnpackFP16 is the inverse of PackFP16.
func UnpackFP16(words []uint16) []float32 {
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = float16.Float16(w).Float32()
	}
	return out
}
