// Package precision enumerates the operand precisions the kernel
// synthesisers support and the rules for which register precision a
// given memory precision may be promoted to.
package precision

import "fmt"

// Precision is a tag for one of the operand precisions a descriptor can
// name for memory storage or register (accumulator) representation.
type Precision uint8

const (
	FP32 Precision = iota
	FP16
	BF16
)

// ByteSize returns the size in bytes of one element stored in this
// precision.
func (p Precision) ByteSize() uint32 {
	switch p {
	case FP32:
		return 4
	case FP16, BF16:
		return 2
	default:
		panic(fmt.Sprintf("precision: unknown precision %d", p))
	}
}

// Name returns the shader-side spelling of the precision, used verbatim
// in emitted kernel source.
func (p Precision) Name() string {
	switch p {
	case FP32:
		return "float"
	case FP16:
		return "half"
	case BF16:
		return "bfloat"
	default:
		panic(fmt.Sprintf("precision: unknown precision %d", p))
	}
}

func (p Precision) String() string {
	switch p {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	case BF16:
		return "bf16"
	default:
		return fmt.Sprintf("precision(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the defined precision tags.
func (p Precision) Valid() bool {
	return p == FP32 || p == FP16 || p == BF16
}

// LegalPair reports whether register precision r may be used to hold
// values whose canonical memory precision is m. A register precision is
// legal iff it equals the memory precision, or is FP32 (every memory
// precision may be accumulated/held at full precision).
func LegalPair(m, r Precision) bool {
	return r == m || r == FP32
}

// Threshold returns the correctness-check tolerance associated with a
// precision (spec §8). It is not consulted by the synthesiser itself,
// and the pods Laplacian and attention tests use their own constants.
func (p Precision) Threshold() float64 {
	switch p {
	case FP32:
		return 1e-5
	case FP16:
		return 5e-3
	case BF16:
		return 5e-2
	default:
		panic(fmt.Sprintf("precision: unknown precision %d", p))
	}
}
