package gpu

import (
	"fmt"
	"math"

	"github.com/openfluke/reverie/filter"
	"github.com/openfluke/reverie/tensor"
	"github.com/openfluke/webgpu/wgpu"
)

type axis int

const (
	alongWidth  axis = 0
	alongHeight axis = 1
)

// generateBlurShader creates a 1D zero-padded convolution over every plane of
// a [planes][h][w] array along one axis.
func generateBlurShader(planes, h, w, radius int, ax axis, workgroup uint32) string {
	dx, dy := 1, 0
	if ax == alongHeight {
		dx, dy = 0, 1
	}
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> src: array<f32>;       // [planes][h][w]
@group(0) @binding(1) var<storage, read> taps: array<f32>;      // [2*radius+1]
@group(0) @binding(2) var<storage, read_write> dst: array<f32>; // [planes][h][w]

const PLANES: u32 = %du;
const H: i32 = %d;
const W: i32 = %d;
const RADIUS: i32 = %d;
const DX: i32 = %d;
const DY: i32 = %d;

@compute @workgroup_size(%d, 1, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    let plane_size = u32(H * W);
    if (idx >= PLANES * plane_size) { return; }

    let base = (idx / plane_size) * plane_size;
    let r = idx %% plane_size;
    let y = i32(r) / W;
    let x = i32(r) %% W;

    var sum: f32 = 0.0;
    for (var k: i32 = -RADIUS; k <= RADIUS; k = k + 1) {
        let yy = y + k * DY;
        let xx = x + k * DX;
        if (yy >= 0 && yy < H && xx >= 0 && xx < W) {
            sum = sum + src[base + u32(yy * W + xx)] * taps[u32(k + RADIUS)];
        }
    }
    dst[idx] = sum;
}
`, planes, h, w, radius, dx, dy, workgroup)
}

// Blur is a filter.Smoother that runs the separable Gaussian on the GPU in
// float32. Results match filter.Blur to single precision.
//
// Compiled passes and their buffers are kept per tensor shape and kernel
// radius, so every step of an octave reuses the same pipelines.
type Blur struct {
	ctx   *Context
	plans map[blurKey]*blurPlan
}

type blurKey struct {
	planes, h, w, radius int
	workgroup            uint32
}

type blurPlan struct {
	src, taps, mid, out *wgpu.Buffer
	rows, cols          *computePass
}

func (p *blurPlan) release() {
	for _, cp := range []*computePass{p.rows, p.cols} {
		if cp != nil {
			cp.release()
		}
	}
	for _, b := range []*wgpu.Buffer{p.src, p.taps, p.mid, p.out} {
		if b != nil {
			b.Release()
		}
	}
}

// NewBlur opens the shared device.
func NewBlur() (*Blur, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	return &Blur{ctx: c, plans: make(map[blurKey]*blurPlan)}, nil
}

var _ filter.Smoother = (*Blur)(nil)

// Smooth implements filter.Smoother.
func (b *Blur) Smooth(t *tensor.Image, sigma float64) (*tensor.Image, error) {
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return nil, fmt.Errorf("gpu blur: sigma must be finite, got %v", sigma)
	}
	kernel := filter.GaussianKernel(sigma)
	if len(kernel) == 1 || t.Len() == 0 {
		return t.Clone(), nil
	}

	n := t.Len()
	if uint64(n) > b.ctx.Recommended.MaxElements {
		return nil, fmt.Errorf("gpu blur: %s exceeds %d elements per dispatch", t, b.ctx.Recommended.MaxElements)
	}
	if need := uint64(n) * 4 * 3; need > b.ctx.Recommended.BudgetBytes {
		return nil, fmt.Errorf("gpu blur: %s needs %d bytes, budget is %d", t, need, b.ctx.Recommended.BudgetBytes)
	}

	src := make([]float32, n)
	for i, v := range t.Data {
		src[i] = float32(v)
	}
	taps := make([]float32, len(kernel))
	for i, v := range kernel {
		taps[i] = float32(v)
	}

	out, err := b.run(src, taps, t.N*t.C, t.H, t.W)
	if err != nil {
		return nil, err
	}

	res := t.ZerosLike()
	for i, v := range out {
		res.Data[i] = float64(v)
	}
	return res, nil
}

// Release frees every cached pipeline and buffer.
func (b *Blur) Release() {
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	for k, p := range b.plans {
		p.release()
		delete(b.plans, k)
	}
}

// plan returns the cached passes for key, compiling them on first use.
// The caller holds c.mu.
func (b *Blur) plan(key blurKey) (*blurPlan, error) {
	if p, ok := b.plans[key]; ok {
		return p, nil
	}
	c := b.ctx
	n := key.planes * key.h * key.w
	p := &blurPlan{}
	var err error
	if p.src, err = c.NewStorage("blur_src", n, wgpu.BufferUsageCopyDst); err != nil {
		return nil, err
	}
	if p.taps, err = c.NewStorage("blur_taps", 2*key.radius+1, wgpu.BufferUsageCopyDst); err != nil {
		p.release()
		return nil, err
	}
	if p.mid, err = c.NewStorage("blur_rows", n, 0); err != nil {
		p.release()
		return nil, err
	}
	if p.out, err = c.NewStorage("blur_out", n, wgpu.BufferUsageCopySrc); err != nil {
		p.release()
		return nil, err
	}
	if p.rows, err = c.pass("blur_rows", generateBlurShader(key.planes, key.h, key.w, key.radius, alongWidth, key.workgroup), p.src, p.taps, p.mid); err != nil {
		p.release()
		return nil, err
	}
	if p.cols, err = c.pass("blur_cols", generateBlurShader(key.planes, key.h, key.w, key.radius, alongHeight, key.workgroup), p.mid, p.taps, p.out); err != nil {
		p.release()
		return nil, err
	}
	b.plans[key] = p
	return p, nil
}

func (b *Blur) run(src, taps []float32, planes, h, w int) ([]float32, error) {
	c := b.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(src)
	wg := c.Recommended.WorkgroupX
	p, err := b.plan(blurKey{planes: planes, h: h, w: w, radius: len(taps) / 2, workgroup: wg})
	if err != nil {
		return nil, err
	}
	c.Queue.WriteBuffer(p.src, 0, wgpu.ToBytes(src))
	c.Queue.WriteBuffer(p.taps, 0, wgpu.ToBytes(taps))

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	groups := (uint32(n) + wg - 1) / wg
	for _, cp := range []*computePass{p.rows, p.cols} {
		pass := enc.BeginComputePass(nil)
		pass.SetPipeline(cp.pipeline)
		pass.SetBindGroup(0, cp.group, nil)
		pass.DispatchWorkgroups(groups, 1, 1)
		pass.End()
	}
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, err
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	return c.ReadBuffer(p.out, n)
}

type computePass struct {
	pipeline *wgpu.ComputePipeline
	group    *wgpu.BindGroup
}

func (p *computePass) release() {
	p.group.Release()
	p.pipeline.Release()
}

// pass compiles shader and binds (src, taps, dst) to it.
func (c *Context) pass(label, shader string, src, taps, dst *wgpu.Buffer) (*computePass, error) {
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shader},
	})
	if err != nil {
		return nil, fmt.Errorf("CreateShaderModule: %w", err)
	}
	defer module.Release()

	bgl, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + "_bgl",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return nil, err
	}
	defer bgl.Release()

	pl, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	defer pl.Release()

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_pipeline",
		Layout:  pl,
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, err
	}

	group, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + "_bg",
		Layout: bgl,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: src, Size: src.GetSize()},
			{Binding: 1, Buffer: taps, Size: taps.GetSize()},
			{Binding: 2, Buffer: dst, Size: dst.GetSize()},
		},
	})
	if err != nil {
		pipeline.Release()
		return nil, err
	}
	return &computePass{pipeline: pipeline, group: group}, nil
}
