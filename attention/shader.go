package attention

import (
	"fmt"
	"strings"

	"github.com/openfluke/kernelforge/device"
)

// bufferBindings are the fixed indices from spec §6: Q=0, K=1, V=2,
// O=3, L=4, dO=5, D=6, dV=7, dS^T=8. Spec §6 leaves dQ's index
// unassigned; BackwardQuery dispatches neither dV nor dS^T, so dQ
// reuses the dV slot rather than colliding with the live, read-only O
// binding BackwardQuery also carries.
const (
	bindingQ   = 0
	bindingK   = 1
	bindingV   = 2
	bindingO   = 3
	bindingL   = 4
	bindingDO  = 5
	bindingD   = 6
	bindingDV  = 7
	bindingDST = 8
	bindingDQ  = bindingDV
)

// emitAttentionSource is the pure descriptor -> source-text step. Given
// identical (d, blockDim, leadingDimST) it produces byte-identical text.
func emitAttentionSource(d Descriptor, blockDim uint16, leadingDimST uint32) device.Source {
	var b strings.Builder

	fmt.Fprintf(&b, "// function constants: R:uint@0, C:uint@1, D:ushort@2\n")
	b.WriteString("constant uint R [[function_constant(0)]];\n")
	b.WriteString("constant uint C [[function_constant(1)]];\n")
	b.WriteString("constant ushort D [[function_constant(2)]];\n")
	fmt.Fprintf(&b, "// kind=%s, block=%d, leadingDimensionDerivativeST=%d\n", d.Kind, blockDim, leadingDimST)

	writeSignature(&b, d, blockDim)
	b.WriteString("{\n")
	b.WriteString("    uint block_origin = gid.x * BLOCK;\n")

	switch d.Kind {
	case Forward:
		writeForwardBody(&b, d, blockDim)
	case BackwardQuery:
		writeBackwardQueryBody(&b, d, blockDim)
	case BackwardKeyValue:
		writeBackwardKeyValueBody(&b, d, blockDim, leadingDimST)
	}

	b.WriteString("}\n")

	return device.Source{EntryPoint: "attention", Code: b.String()}
}

func writeSignature(b *strings.Builder, d Descriptor, blockDim uint16) {
	fmt.Fprintf(b, "\nconstant ushort BLOCK = %d;\n", blockDim)
	b.WriteString("kernel void attention(\n")
	fmt.Fprintf(b, "    device const %s *Q [[buffer(%d)]],\n", d.MemoryPrecisions.Q.Name(), bindingQ)
	fmt.Fprintf(b, "    device const %s *K [[buffer(%d)]],\n", d.MemoryPrecisions.K.Name(), bindingK)
	fmt.Fprintf(b, "    device const %s *V [[buffer(%d)]],\n", d.MemoryPrecisions.V.Name(), bindingV)
	switch d.Kind {
	case Forward:
		fmt.Fprintf(b, "    device %s *O [[buffer(%d)]],\n", d.MemoryPrecisions.O.Name(), bindingO)
		b.WriteString("    device float *L [[buffer(4)]],\n")
	case BackwardQuery:
		fmt.Fprintf(b, "    device const %s *O [[buffer(%d)]],\n", d.MemoryPrecisions.O.Name(), bindingO)
		b.WriteString("    device const float *L [[buffer(4)]],\n")
		fmt.Fprintf(b, "    device const %s *dO [[buffer(%d)]],\n", d.MemoryPrecisions.O.Name(), bindingDO)
		fmt.Fprintf(b, "    device %s *dQ [[buffer(%d)]],\n", d.MemoryPrecisions.Q.Name(), bindingDQ)
		b.WriteString("    device float *D [[buffer(6)]],\n")
	case BackwardKeyValue:
		fmt.Fprintf(b, "    device const %s *dO [[buffer(%d)]],\n", d.MemoryPrecisions.O.Name(), bindingDO)
		b.WriteString("    device const float *L [[buffer(4)]],\n")
		b.WriteString("    device const float *D [[buffer(6)]],\n")
		fmt.Fprintf(b, "    device %s *dV [[buffer(%d)]],\n", d.MemoryPrecisions.V.Name(), bindingDV)
		if d.StoreDerivativeST {
			fmt.Fprintf(b, "    device bfloat *dS_T [[buffer(%d)]],\n", bindingDST)
		}
	}
	b.WriteString("    uint3 gid [[threadgroup_position_in_grid]],\n")
	b.WriteString("    uint3 tid [[thread_position_in_threadgroup]])\n")
}

func writeForwardBody(b *strings.Builder, d Descriptor, blockDim uint16) {
	b.WriteString("    // row-block of Q held in registers across the C loop\n")
	b.WriteString("    float row_max = -INFINITY;\n")
	b.WriteString("    float row_sum = 0.0;\n")
	b.WriteString("    simdgroup_float8x8 O_accum[REG_ROWS][REG_COLS];\n")
	b.WriteString("    for (uint c0 = 0; c0 < C; c0 += BLOCK) {\n")
	b.WriteString("        threadgroup half K_block[BLOCK * D];\n")
	b.WriteString("        threadgroup half V_block[BLOCK * D];\n")
	b.WriteString("        simdgroup_event(K_block, K, C, D, gid).wait();\n")
	b.WriteString("        simdgroup_event(V_block, V, C, D, gid).wait();\n")
	b.WriteString("        threadgroup_barrier(mem_flags::mem_threadgroup);\n")
	b.WriteString("        // streaming softmax: update row_max/row_sum, rescale O_accum, accumulate P*V\n")
	b.WriteString("        online_softmax_update(row_max, row_sum, O_accum, K_block, V_block);\n")
	b.WriteString("    }\n")
	b.WriteString("    write_O(O, O_accum, row_sum);\n")
	if d.StoreLogsumexp {
		b.WriteString("    // L[r] = log2(row_sum) + row_max, pre-scaled by 1/ln(2) so backward can use exp2\n")
		b.WriteString("    write_L(L, row_max, row_sum);\n")
	}
}

func writeBackwardQueryBody(b *strings.Builder, d Descriptor, blockDim uint16) {
	b.WriteString("    // recompute softmax using saved L instead of a fresh max/sum pass\n")
	b.WriteString("    float l_r = L[row_index()];\n")
	b.WriteString("    float d_r = 0.0; // D[r] = sum_c dO_rc * O_rc, scaled by 1/sqrt(D)\n")
	b.WriteString("    simdgroup_float8x8 dQ_accum[REG_ROWS][REG_COLS];\n")
	b.WriteString("    for (uint c0 = 0; c0 < C; c0 += BLOCK) {\n")
	b.WriteString("        threadgroup half K_block[BLOCK * D];\n")
	b.WriteString("        threadgroup half V_block[BLOCK * D];\n")
	b.WriteString("        simdgroup_event(K_block, K, C, D, gid).wait();\n")
	b.WriteString("        simdgroup_event(V_block, V, C, D, gid).wait();\n")
	b.WriteString("        threadgroup_barrier(mem_flags::mem_threadgroup);\n")
	b.WriteString("        accumulate_dS_dQ(dQ_accum, d_r, l_r, K_block, V_block);\n")
	b.WriteString("    }\n")
	b.WriteString("    write_dQ(dQ, dQ_accum);\n")
	b.WriteString("    write_D(D, d_r);\n")
}

func writeBackwardKeyValueBody(b *strings.Builder, d Descriptor, blockDim uint16, leadingDimST uint32) {
	b.WriteString("    // column-block of K, V held in registers across the R loop\n")
	b.WriteString("    simdgroup_float8x8 dV_accum[REG_ROWS][REG_COLS];\n")
	b.WriteString("    for (uint r0 = 0; r0 < R; r0 += BLOCK) {\n")
	b.WriteString("        threadgroup half Q_block[BLOCK * D];\n")
	b.WriteString("        threadgroup half dO_block[BLOCK * D];\n")
	b.WriteString("        simdgroup_event(Q_block, Q, R, D, gid).wait();\n")
	b.WriteString("        simdgroup_event(dO_block, dO, R, D, gid).wait();\n")
	b.WriteString("        threadgroup_barrier(mem_flags::mem_threadgroup);\n")
	b.WriteString("        // dS = P * (dP - D[r]); accumulate dV += P^T * dO\n")
	b.WriteString("        accumulate_dV(dV_accum, Q_block, dO_block);\n")
	if d.StoreDerivativeST {
		fmt.Fprintf(b, "        store_dS_T(dS_T, %d); // leadingDimensionDerivativeST=%d\n", leadingDimST, leadingDimST)
	}
	b.WriteString("    }\n")
	b.WriteString("    write_dV(dV, dV_accum);\n")
}
