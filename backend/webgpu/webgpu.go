//go:build gpu

// Package webgpu wires github.com/openfluke/webgpu — the one
// third-party dependency the teacher repo carries — into a real
// device.Capability. Shader text is handed to the WGSL compute
// pipeline entry point unmodified; compiling true Metal Shading
// Language source through it fails at Compile time with a wrapped
// driver error, which is exactly the failure boundary spec §7
// reserves for "source the backend rejects" and is outside what pure
// kernel synthesis can validate. A real Metal driver is explicitly out
// of this project's scope (spec §1 Non-goals); this backend exists so
// the teacher's GPU dependency has a concrete, exercised home rather
// than being dropped.
package webgpu

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/webgpu/wgpu"
)

// Backend is a device.Capability backed by one WebGPU device and
// queue, adapted from the teacher's Context singleton (gpu/context.go)
// into an explicit, non-global value so multiple backends (or a fake
// one in the same process, for comparison tooling) can coexist.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

// Open creates a WebGPU instance and requests a high-performance
// adapter and device, falling back to low-power and then default
// adapter requests in turn (spec §2 addition: device discovery),
// mirroring gpu.GetContext's fallback order.
func Open() (*Backend, error) {
	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, fmt.Errorf("webgpu: failed to create instance")
	}

	adapter, err := requestAdapter(instance)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: %w", err)
	}

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}

	return &Backend{
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    dev.GetQueue(),
	}, nil
}

func requestAdapter(instance *wgpu.Instance) (*wgpu.Adapter, error) {
	if a, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance}); err == nil && a != nil {
		return a, nil
	}
	if a, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceLowPower}); err == nil && a != nil {
		return a, nil
	}
	a, err := instance.RequestAdapter(nil)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("no adapter available")
	}
	return a, nil
}

// Close releases the device, adapter, and instance.
func (b *Backend) Close() {
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

// Pipeline wraps a compiled wgpu.ComputePipeline. The bind group layout
// is derived automatically (pipeline.GetBindGroupLayout(0)) rather than
// declared explicitly, since the number and types of bindings depend on
// the kernel's Kind/StoreDerivativeST flags and aren't known at Compile
// time — the teacher's own layers use the same auto-layout call
// wherever the entry point's binding set isn't fixed across call sites
// (see e.g. nn/apply_gradients_gpu.go).
type Pipeline struct {
	pipeline   *wgpu.ComputePipeline
	entryPoint string

	mu       sync.Mutex
	layout   *wgpu.BindGroupLayout
}

func (p *Pipeline) ThreadgroupMemoryBytes() uint32 { return 0 }

// Buffer wraps a wgpu.Buffer.
type Buffer struct {
	buf *wgpu.Buffer
}

func (b Buffer) Bytes() uint64 { return b.buf.GetSize() }

// Dispatch tracks a submitted command buffer; Wait blocks in a waiting
// device Poll until the device has finished its submitted work,
// following readStagingBuffer's poll loop in gpu/dense.go.
type Dispatch struct {
	device     *wgpu.Device
	done       chan struct{}
	start, end time.Time
}

func (d *Dispatch) Wait(ctx context.Context) error {
	for {
		d.device.Poll(true, nil)
		select {
		case <-d.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (d *Dispatch) GPUStart() time.Time { return d.start }
func (d *Dispatch) GPUEnd() time.Time   { return d.end }

// Compile creates a shader module from source.Code and a compute
// pipeline targeting source.EntryPoint.
func (b *Backend) Compile(ctx context.Context, source device.Source) (device.Pipeline, error) {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          source.EntryPoint,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source.Code},
	})
	if err != nil {
		if isMetalSource(source.Code) {
			return nil, fmt.Errorf("webgpu: compile %s: %w (source looks like Metal Shading Language, not WGSL; this backend has no translation step)", source.EntryPoint, err)
		}
		return nil, fmt.Errorf("webgpu: compile %s: %w", source.EntryPoint, err)
	}
	defer module.Release()

	pipeline, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: source.EntryPoint,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: source.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create pipeline %s: %w", source.EntryPoint, err)
	}

	return &Pipeline{pipeline: pipeline, entryPoint: source.EntryPoint}, nil
}

// CreateBuffer allocates a storage buffer usable as any kernel operand:
// source, destination, and copy endpoint all at once, since the
// dispatch planner never distinguishes buffer roles ahead of bind time.
func (b *Backend) CreateBuffer(bytes uint64) (device.Buffer, error) {
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "kernelforge-buffer",
		Size:  bytes,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create buffer: %w", err)
	}
	return Buffer{buf: buf}, nil
}

// EncodeDispatch builds the bind group for this call's bindings,
// records one compute pass, and submits it immediately.
func (b *Backend) EncodeDispatch(p device.Pipeline, grid, group [3]uint32, tgMemBytes uint32, bindings []device.Binding) (device.Dispatch, error) {
	pipeline, ok := p.(*Pipeline)
	if !ok {
		return nil, fmt.Errorf("webgpu: EncodeDispatch given a Pipeline from a different backend")
	}

	layout := pipeline.bindGroupLayout()

	entries := make([]wgpu.BindGroupEntry, len(bindings))
	for i, bind := range bindings {
		buf, ok := bind.Buffer.(Buffer)
		if !ok {
			return nil, fmt.Errorf("webgpu: binding %d is not a webgpu buffer", bind.Index)
		}
		entries[i] = wgpu.BindGroupEntry{Binding: bind.Index, Buffer: buf.buf, Size: buf.buf.GetSize()}
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   pipeline.entryPoint + "_bindgroup",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create bind group: %w", err)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: create command encoder: %w", err)
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(grid[0], grid[1], grid[2])
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: finish command buffer: %w", err)
	}

	start := time.Now()
	b.queue.Submit(cmd)

	done := make(chan struct{})
	close(done) // done is closed at submit; Wait's blocking Poll is what waits for the driver to finish the work.

	return &Dispatch{device: b.device, done: done, start: start, end: time.Now()}, nil
}

func (p *Pipeline) bindGroupLayout() *wgpu.BindGroupLayout {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.layout == nil {
		p.layout = p.pipeline.GetBindGroupLayout(0)
	}
	return p.layout
}

// isMetalSource is a best-effort heuristic Compile uses to explain a
// failed shader-module creation: it flags source text that looks like the
// Metal-flavored pseudo-source this project's synthesisers emit, so a
// caller pointed at this backend without a WGSL translation step gets a
// clearer error message than a raw parser failure.
func isMetalSource(code string) bool {
	return strings.Contains(code, "[[function_constant") || strings.Contains(code, "[[buffer(")
}
