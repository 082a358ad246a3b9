package fake

import (
	"context"
	"testing"

	"github.com/openfluke/kernelforge/device"
)

func TestCompileRejectsEmptySource(t *testing.T) {
	b := New()
	if _, err := b.Compile(context.Background(), device.Source{EntryPoint: "gemm"}); err == nil {
		t.Fatal("expected an error compiling empty source")
	}
}

func TestEncodeDispatchRecordsCall(t *testing.T) {
	b := New()
	p, err := b.Compile(context.Background(), device.Source{EntryPoint: "gemm", Code: "kernel void gemm() {}"})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := b.CreateBuffer(1024)
	if err != nil {
		t.Fatal(err)
	}
	d, err := b.EncodeDispatch(p, [3]uint32{8, 8, 1}, [3]uint32{64, 1, 1}, 2048, []device.Binding{
		{Index: 0, Buffer: buf}, {Index: 1, Buffer: buf}, {Index: 2, Buffer: buf},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	if b.DispatchCount() != 1 {
		t.Fatalf("DispatchCount() = %d, want 1", b.DispatchCount())
	}
	calls := b.Calls()
	if len(calls) != 1 {
		t.Fatalf("Calls() returned %d entries, want 1", len(calls))
	}
	if calls[0].Grid != [3]uint32{8, 8, 1} || calls[0].TGMemBytes != 2048 {
		t.Errorf("recorded call = %+v, want grid=(8,8,1) tgMem=2048", calls[0])
	}
}
