package pods

import (
	"math"
	"testing"
)

// singleKeyAttentionInput builds a C=1 attention problem: with only one
// key/value pair, softmax is trivially 1 for every query row, so O must
// equal V broadcast across rows regardless of Q or D.
func singleKeyAttentionInput(r, d int) AttentionForwardIn {
	q := make([]float32, r*d)
	for i := range q {
		q[i] = float32(i + 1)
	}
	v := make([]float32, d)
	for i := range v {
		v[i] = float32(i + 1)
	}
	return AttentionForwardIn{R: r, C: 1, D: d, Q: q, K: make([]float32, d), V: v}
}

func TestAttentionForwardPodSingleKeyMatchesValue(t *testing.T) {
	in := singleKeyAttentionInput(3, 4)
	x := NewContext(nil)

	result, err := NewAttentionForwardPod().Run(x, in)
	if err != nil {
		t.Fatal(err)
	}
	out := result.(AttentionForwardOut)
	for r := 0; r < in.R; r++ {
		for d := 0; d < in.D; d++ {
			got := out.O[r*in.D+d]
			want := in.V[d]
			if math.Abs(float64(got-want)) > 1e-5 {
				t.Fatalf("O[%d,%d] = %v, want %v", r, d, got, want)
			}
		}
	}
}

func TestAttentionForwardPodRejectsBadShapes(t *testing.T) {
	x := NewContext(nil)
	_, err := NewAttentionForwardPod().Run(x, AttentionForwardIn{R: 2, C: 2, D: 4, Q: []float32{1, 2}})
	if err == nil {
		t.Fatal("expected an error for a mis-sized Q")
	}
}

func TestAttentionForwardPodDispatchesOnFakeGPU(t *testing.T) {
	gpu := newFakeGPU()
	x := NewContext(nil).WithGPU(gpu)
	in := singleKeyAttentionInput(4, 64)

	result, err := NewAttentionForwardPod().Run(x, in)
	if err != nil {
		t.Fatal(err)
	}
	out := result.(AttentionForwardOut)
	if !out.DispatchedOnGPU {
		t.Error("expected a GPU dispatch to have been recorded")
	}
	if gpu.DispatchCount() != 1 {
		t.Errorf("DispatchCount() = %d, want 1", gpu.DispatchCount())
	}
	if len(out.L) != in.R {
		t.Errorf("len(L) = %d, want %d", len(out.L), in.R)
	}
}
