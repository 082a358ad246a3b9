package gemm

import (
	"fmt"
	"strings"

	"github.com/openfluke/kernelforge/device"
)

// emitGEMMSource is the pure descriptor -> source-text step (spec §9):
// given identical (d, lbd) it must produce byte-identical output, since
// the pipeline cache keys on this text's fingerprint (the descriptor
// itself, in practice — see package pipeline).
func emitGEMMSource(d Descriptor, lbd leadingBlockDims) device.Source {
	var b strings.Builder

	writeFunctionConstants(&b)
	writeOperandDecls(&b, d)
	b.WriteString("\nkernel void gemm(\n")
	b.WriteString("    device const " + d.MemoryPrecisions.A.Name() + " *A [[buffer(0)]],\n")
	b.WriteString("    device const " + d.MemoryPrecisions.B.Name() + " *B [[buffer(1)]],\n")
	b.WriteString("    device " + d.MemoryPrecisions.C.Name() + " *C [[buffer(2)]],\n")
	b.WriteString("    uint3 gid [[threadgroup_position_in_grid]],\n")
	b.WriteString("    uint3 tid [[thread_position_in_threadgroup]])\n{\n")

	writeAccumulatorInit(&b, d)

	if d.LoadPreviousC {
		writeLoadCSnippet(&b, d, lbd)
	}

	writeComputeLoop(&b, d, lbd)
	writeStoreCSnippet(&b, d, lbd)

	b.WriteString("}\n")

	return device.Source{EntryPoint: "gemm", Code: b.String()}
}

func writeFunctionConstants(b *strings.Builder) {
	b.WriteString("// function constants: M:uint@0, N:uint@1, K:uint@2\n")
	b.WriteString("constant uint M [[function_constant(0)]];\n")
	b.WriteString("constant uint N [[function_constant(1)]];\n")
	b.WriteString("constant uint K [[function_constant(2)]];\n")
}

func writeOperandDecls(b *strings.Builder, d Descriptor) {
	fmt.Fprintf(b, "// A: %s, transposed=%v; B: %s, transposed=%v; C: %s\n",
		d.MemoryPrecisions.A, d.TransposeState.A,
		d.MemoryPrecisions.B, d.TransposeState.B,
		d.MemoryPrecisions.C)
	fmt.Fprintf(b, "// block = (Mb=%d, Nb=%d, Kb=%d), splits = (Ms=%d, Ns=%d)\n",
		d.BlockDimensions.Mb, d.BlockDimensions.Nb, d.BlockDimensions.Kb,
		d.Splits.Ms, d.Splits.Ns)
}

func writeAccumulatorInit(b *strings.Builder, d Descriptor) {
	registerM := d.BlockDimensions.Mb / d.Splits.Ms
	registerN := d.BlockDimensions.Nb / d.Splits.Ns
	fmt.Fprintf(b, "    simdgroup_%s C_registers[%d][%d];\n",
		effectiveRegisterPrecisions(d).C.Name(), registerM/8, registerN/8)
	if !d.LoadPreviousC {
		fmt.Fprintf(b, "    #pragma clang loop unroll(full)\n")
		fmt.Fprintf(b, "    for (ushort i = 0; i < %d; ++i) for (ushort j = 0; j < %d; ++j) C_registers[i][j] = make_filled_simdgroup_matrix<%s, 8, 8>(0);\n",
			registerM/8, registerN/8, effectiveRegisterPrecisions(d).C.Name())
	}
}

func writeLoadCSnippet(b *strings.Builder, d Descriptor, lbd leadingBlockDims) {
	if directAccessEligible(d, OperandC) {
		b.WriteString("    // load-C: direct access path (block fully inside matrix, block-aligned origin)\n")
		fmt.Fprintf(b, "    load_c_direct(C, M, N, %d, gid, C_registers);\n", lbd.C)
		return
	}
	b.WriteString("    // load-C: async-copy path through threadgroup memory\n")
	fmt.Fprintf(b, "    threadgroup %s C_block[%d];\n", d.MemoryPrecisions.C.Name(), lbd.C*d.BlockDimensions.Mb)
	b.WriteString("    simdgroup_event(C_block, C, M, N, gid).wait();\n")
	b.WriteString("    threadgroup_barrier(mem_flags::mem_threadgroup);\n")
	fmt.Fprintf(b, "    load_c_staged(C_block, %d, tid, C_registers);\n", lbd.C)
}

func writeComputeLoop(b *strings.Builder, d Descriptor, lbd leadingBlockDims) {
	regPrec := effectiveRegisterPrecisions(d)

	loadSide := func(op Operand, prec string, leading uint16, async bool) {
		letter := op.String()
		if async {
			fmt.Fprintf(b, "    threadgroup %s %s_block[%d];\n", prec, letter, leading*uint16(blockKDim(d)))
			fmt.Fprintf(b, "    simdgroup_event(%s_block, %s, K, %d, gid).wait();\n", letter, letter, leading)
			b.WriteString("    threadgroup_barrier(mem_flags::mem_threadgroup);\n")
		}
	}

	async := !directAccessEligible(d, OperandA) || d.PreferAsyncLoad
	b.WriteString("    for (uint k0 = 0; k0 < K; k0 += " + fmt.Sprint(d.BlockDimensions.Kb) + ") {\n")
	loadSide(OperandA, d.MemoryPrecisions.A.Name(), lbd.A, async)
	loadSide(OperandB, d.MemoryPrecisions.B.Name(), lbd.B, async)
	b.WriteString("        #pragma clang loop unroll(full)\n")
	fmt.Fprintf(b, "        for (ushort kk = 0; kk < %d; kk += 8) {\n", d.BlockDimensions.Kb)
	b.WriteString("            #pragma clang loop unroll(full)\n")
	fmt.Fprintf(b, "            for (ushort i = 0; i < %d; ++i) for (ushort j = 0; j < %d; ++j) {\n",
		d.BlockDimensions.Mb/d.Splits.Ms/8, d.BlockDimensions.Nb/d.Splits.Ns/8)
	fmt.Fprintf(b, "                simdgroup_multiply_accumulate(C_registers[i][j], A_fragment(i, kk), B_fragment(kk, j), C_registers[i][j]); // %s\n", regPrec.C)
	b.WriteString("            }\n        }\n    }\n")
}

func blockKDim(d Descriptor) uint16 { return d.BlockDimensions.Kb }

func writeStoreCSnippet(b *strings.Builder, d Descriptor, lbd leadingBlockDims) {
	if directAccessEligible(d, OperandC) {
		b.WriteString("    // store-C: direct access path\n")
		fmt.Fprintf(b, "    store_c_direct(C, M, N, %d, gid, C_registers);\n", lbd.C)
		return
	}
	shiftM, shiftN := edgeShift(d)
	b.WriteString("    // store-C: async-copy path through threadgroup memory, with edge-block shift\n")
	fmt.Fprintf(b, "    threadgroup %s C_block[%d];\n", d.MemoryPrecisions.C.Name(), lbd.C*d.BlockDimensions.Mb)
	fmt.Fprintf(b, "    store_c_staged(C_block, %d, tid, C_registers, /*shift*/ ushort2(%d, %d));\n", lbd.C, shiftM, shiftN)
	b.WriteString("    threadgroup_barrier(mem_flags::mem_threadgroup);\n")
	b.WriteString("    simdgroup_event(C, C_block, M, N, gid).wait();\n")
}

// directAccessEligible implements spec §4.2's direct-access vs
// async-copy condition at block granularity. It is evaluated purely
// from the descriptor's static shape, never from a concrete dispatch's
// grid position — the emitted code still must handle edge blocks at
// runtime when the matrix is not an exact multiple of the tile, which
// is why this governs only whether the *kernel as a whole* commits to
// the fast path for operand C: it only takes effect when the matrix is
// never ragged against this operand's block (M >= Mb*ceil(M/Mb) is
// guaranteed by construction once M >= Mb and Mb | M... since the
// caller supplies arbitrary M/N, the synthesiser conservatively checks
// whether the *kernel call site's* fixed M,N (when known at synthesis
// time, via Dimensions) cleanly tile; for a descriptor where M/N are
// runtime-only function constants with unknown edge behaviour, this
// falls back to async-copy, matching "block is fully inside the matrix
// (no edge tile)" from spec §4.2.
func directAccessEligible(d Descriptor, op Operand) bool {
	switch op {
	case OperandC:
		if d.PreferAsyncStore {
			return false
		}
	default:
		if d.PreferAsyncLoad {
			return false
		}
	}
	fullyInside := d.Dimensions.M >= uint32(d.BlockDimensions.Mb) && d.Dimensions.N >= uint32(d.BlockDimensions.Nb) &&
		d.Dimensions.M%uint32(d.BlockDimensions.Mb) == 0 && d.Dimensions.N%uint32(d.BlockDimensions.Nb) == 0
	if !fullyInside {
		return false
	}
	if op == OperandC && d.LoadPreviousC {
		return blockAlignedOrigin(d)
	}
	return true
}

// blockAlignedOrigin reports whether every block origin this kernel
// will dispatch over lands on a tile boundary of C; true whenever M and
// N are themselves multiples of the tile (the only case
// directAccessEligible reaches this check from, since it already
// required M%Mb==0 && N%Nb==0).
func blockAlignedOrigin(d Descriptor) bool {
	return d.Dimensions.M%uint32(d.BlockDimensions.Mb) == 0 && d.Dimensions.N%uint32(d.BlockDimensions.Nb) == 0
}

// edgeShift computes the (M, N) tile-origin shift the store-C slow path
// uses to move a trailing edge block's garbage zone to the top-left
// corner of threadgroup memory (spec §4.2 Edge-block shift), so one
// rectangular async copy suffices instead of clipping to multiple
// smaller copies.
func edgeShift(d Descriptor) (uint16, uint16) {
	mb, nb := uint32(d.BlockDimensions.Mb), uint32(d.BlockDimensions.Nb)
	m, n := d.Dimensions.M, d.Dimensions.N
	var shiftM, shiftN uint32
	if rem := m % mb; rem != 0 {
		shiftM = mb - rem
	}
	if rem := n % nb; rem != 0 {
		shiftN = nb - rem
	}
	return uint16(shiftM), uint16(shiftN)
}
