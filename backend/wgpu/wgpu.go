// Package wgpu provides the GPU stencil reconstruction backend on top
// of wgpu/hal. It exposes the same GL-like state machine as the
// software backend and materializes the state into cached render
// pipeline variants at draw time, one per stencil write mask.
//
// Importing this package registers the backend:
//
//	import _ "github.com/gogpu/emufb/backend/wgpu"
package wgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/emufb"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func init() {
	emufb.RegisterBackend(emufb.BackendWGPU, func() (emufb.Backend, error) {
		return New()
	})
}

// ErrBlitUnsupported is returned by BlitStencil. WebGPU has no path
// that writes scaled data into a stencil attachment, so the backend
// reports SupportsBlit false and reconstruction always runs directly
// at render resolution.
var ErrBlitUnsupported = errors.New("wgpu: stencil blit not supported")

// gpuTimeout bounds every fence wait after a submit.
const gpuTimeout = 5 * time.Second

// Backend implements [emufb.Backend] on a hal device.
type Backend struct {
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance // non-nil only when the backend owns the device

	prog      *Program
	pipelines pipelineCache
	clear     maskedClear

	current              *Framebuffer
	viewportW, viewportH int
	// scissor tracks the enable state only; the interface carries no
	// scissor rectangle, so an enabled scissor covers the whole target.
	scissor      bool
	colorMask    uint8
	stencilTest  bool
	stencilFunc  emufb.CompareFunc
	stencilRef   uint8
	opPass       emufb.StencilOp
	writeMask    uint8
	clearColor   [4]float32
	clearStencil uint8

	tex sourceTexture
}

// New creates a backend with its own Vulkan device.
func New() (*Backend, error) {
	api, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	emufb.Logger().Info("wgpu backend initialized", "adapter", selected.Info.Name)
	b := NewWithDevice(openDev.Device, openDev.Queue)
	b.instance = instance
	return b, nil
}

// NewWithDevice creates a backend on an existing device and queue. The
// caller retains ownership of both; Close will not destroy them.
func NewWithDevice(device hal.Device, queue hal.Queue) *Backend {
	return &Backend{
		device:      device,
		queue:       queue,
		colorMask:   0x0F,
		stencilFunc: emufb.CompareAlways,
		writeMask:   0xFF,
	}
}

// NewFromProvider creates a backend sharing the GPU device of an
// external provider. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider any) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	return NewWithDevice(device, queue), nil
}

// Name implements [emufb.Backend].
func (b *Backend) Name() string { return emufb.BackendWGPU }

// Close implements [emufb.Backend]. Framebuffers handed out by
// AcquireTempFramebuffer are destroyed; framebuffers created by the
// embedding renderer remain its responsibility.
func (b *Backend) Close() {
	if b.device == nil {
		return
	}
	b.pipelines.destroy(b.device)
	b.clear.destroy(b.device)
	if b.prog != nil {
		b.prog.destroy(b.device)
		b.prog = nil
	}
	b.tex.destroy(b.device)
	if b.instance != nil {
		b.device.Destroy()
		b.instance.Destroy()
		b.instance = nil
	}
	b.device = nil
	b.queue = nil
	b.current = nil
}

// SupportsBlit implements [emufb.Backend]. Always false: see
// [ErrBlitUnsupported].
func (b *Backend) SupportsBlit() bool { return false }

// BindFramebuffer implements [emufb.Backend].
func (b *Backend) BindFramebuffer(fb emufb.Framebuffer) {
	if fb == nil {
		b.current = nil
		return
	}
	gfb, ok := fb.(*Framebuffer)
	if !ok {
		emufb.Logger().Warn("foreign framebuffer bound to wgpu backend")
		b.current = nil
		return
	}
	b.current = gfb
}

// CurrentFramebuffer implements [emufb.Backend].
func (b *Backend) CurrentFramebuffer() emufb.Framebuffer {
	if b.current == nil {
		return nil
	}
	return b.current
}

// AcquireTempFramebuffer implements [emufb.Backend].
func (b *Backend) AcquireTempFramebuffer(width, height int) (emufb.Framebuffer, error) {
	return b.NewFramebuffer(width, height)
}

// Viewport implements [emufb.Backend].
func (b *Backend) Viewport(width, height int) {
	b.viewportW, b.viewportH = width, height
}

func (b *Backend) SetScissorEnabled(on bool) { b.scissor = on }

func (b *Backend) SetColorMask(r, g, bl, a bool) {
	var m uint8
	if r {
		m |= 1
	}
	if g {
		m |= 2
	}
	if bl {
		m |= 4
	}
	if a {
		m |= 8
	}
	b.colorMask = m
}

func (b *Backend) SetStencilEnabled(on bool) { b.stencilTest = on }

func (b *Backend) SetStencilFunc(fn emufb.CompareFunc, ref, mask uint8) {
	// The read mask is pinned to 0xFF in the pipeline state; the
	// reconstruction passes never use a partial compare mask.
	_ = mask
	b.stencilFunc = fn
	b.stencilRef = ref
}

func (b *Backend) SetStencilOp(stencilFail, depthFail, pass emufb.StencilOp) {
	// Fail ops stay Keep in the pipeline variants; only the pass op is
	// reachable with an always-passing compare.
	_, _ = stencilFail, depthFail
	b.opPass = pass
}

func (b *Backend) SetStencilWriteMask(mask uint8) { b.writeMask = mask }

func (b *Backend) SetClearColor(r, g, bl, a float32) {
	b.clearColor = [4]float32{r, g, bl, a}
}

func (b *Backend) SetClearStencil(v uint8) { b.clearStencil = v }

// Clear implements [emufb.Backend]. The clear is encoded as a render
// pass. A fully open color mask clears the color attachment through its
// load op; a partial mask draws a fullscreen quad through a pipeline
// whose color write mask protects the excluded channels, since a pass
// load-op clear always writes every channel. The stencil load-op clear
// ignores the stencil write mask, which is not observable from the
// Uploader: it only clears stencil with the mask fully open.
func (b *Backend) Clear(flags emufb.ClearFlag) {
	fb := b.current
	if fb == nil || flags == 0 {
		return
	}

	clearColor := flags&emufb.ClearColorBuffer != 0 && b.colorMask != 0

	var clearPipe hal.RenderPipeline
	if clearColor && b.colorMask != 0x0F {
		pipe, err := b.ensureMaskedClear(b.colorMask)
		if err != nil {
			// Never fall back to the load op here: it would overwrite
			// the channels the mask excludes.
			emufb.Logger().Warn("masked clear unavailable, color clear skipped",
				"mask", b.colorMask, "err", err)
			clearColor = false
		} else {
			clearPipe = pipe
			var uniform [clearUniformSize]byte
			for i, v := range b.clearColor {
				binary.LittleEndian.PutUint32(uniform[i*4:], math.Float32bits(v))
			}
			b.queue.WriteBuffer(b.clear.uniformBuf, 0, uniform[:])
		}
	}

	colorLoad := gputypes.LoadOpLoad
	if clearColor && clearPipe == nil {
		colorLoad = gputypes.LoadOpClear
	}
	stencilLoad := gputypes.LoadOpLoad
	if flags&emufb.ClearStencilBuffer != 0 {
		stencilLoad = gputypes.LoadOpClear
	}
	if colorLoad == gputypes.LoadOpLoad && stencilLoad == gputypes.LoadOpLoad && clearPipe == nil {
		return
	}

	var bindGroup hal.BindGroup
	if clearPipe != nil {
		var err error
		bindGroup, err = b.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  "emufb_clear_bind",
			Layout: b.clear.layout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{
					Buffer: b.clear.uniformBuf.NativeHandle(), Offset: 0, Size: clearUniformSize,
				}},
			},
		})
		if err != nil {
			emufb.Logger().Warn("clear bind group creation failed", "err", err)
			return
		}
		defer b.device.DestroyBindGroup(bindGroup)
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "emufb_clear",
	})
	if err != nil {
		emufb.Logger().Warn("clear encoder creation failed", "err", err)
		return
	}
	if err := encoder.BeginEncoding("emufb_clear"); err != nil {
		emufb.Logger().Warn("clear encoding failed", "err", err)
		return
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "emufb_clear_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    fb.colorView,
			LoadOp:  colorLoad,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: gputypes.Color{
				R: float64(b.clearColor[0]),
				G: float64(b.clearColor[1]),
				B: float64(b.clearColor[2]),
				A: float64(b.clearColor[3]),
			},
		}},
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:              fb.depthView,
			DepthLoadOp:       gputypes.LoadOpLoad,
			DepthStoreOp:      gputypes.StoreOpStore,
			StencilLoadOp:     stencilLoad,
			StencilStoreOp:    gputypes.StoreOpStore,
			StencilClearValue: uint32(b.clearStencil),
		},
	})
	if clearPipe != nil {
		rp.SetPipeline(clearPipe)
		rp.SetBindGroup(0, bindGroup, nil)
		rp.SetVertexBuffer(0, b.clear.vertexBuf, 0)
		rp.Draw(6, 1, 0, 0)
	}
	rp.End()

	if err := b.submit(encoder); err != nil {
		emufb.Logger().Warn("clear submit failed", "err", err)
	}
}

// CompileStencilProgram implements [emufb.Backend].
func (b *Backend) CompileStencilProgram() (emufb.Program, error) {
	if b.prog != nil {
		return b.prog, nil
	}
	p, err := b.compileProgram()
	if err != nil {
		return nil, err
	}
	b.prog = p
	return p, nil
}

// UseProgram implements [emufb.Backend].
func (b *Backend) UseProgram(p emufb.Program) {
	gp, ok := p.(*Program)
	if !ok || gp.backend != b {
		emufb.Logger().Warn("foreign program bound to wgpu backend")
		return
	}
	b.prog = gp
}

// DrawQuad implements [emufb.Backend]. Each call encodes and submits
// one render pass drawing the full-viewport quad with the pipeline
// variant matching the current stencil and color mask state.
func (b *Backend) DrawQuad(u1, v1 float32) error {
	fb := b.current
	if fb == nil {
		return emufb.ErrNoFramebuffer
	}
	if b.prog == nil {
		return fmt.Errorf("wgpu: no program bound")
	}
	if !b.tex.valid {
		return fmt.Errorf("wgpu: no texture uploaded")
	}

	pipeline, err := b.pipelines.get(b, b.prog, pipelineKey{
		writeMask:   b.writeMask,
		colorMask:   b.colorMask,
		compare:     b.stencilFunc,
		passOp:      b.opPass,
		stencilTest: b.stencilTest,
	})
	if err != nil {
		return err
	}

	// Per-draw uniforms: uv scale and the selected plane value.
	var uniform [planeUniformSize]byte
	binary.LittleEndian.PutUint32(uniform[0:], math.Float32bits(u1))
	binary.LittleEndian.PutUint32(uniform[4:], math.Float32bits(v1))
	binary.LittleEndian.PutUint32(uniform[8:], math.Float32bits(b.prog.planeValue))
	b.queue.WriteBuffer(b.prog.uniformBuf, 0, uniform[:])

	bindGroup, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "emufb_draw_bind",
		Layout: b.prog.uniformLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: b.prog.uniformBuf.NativeHandle(), Offset: 0, Size: planeUniformSize,
			}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{
				TextureView: b.tex.view.NativeHandle(),
			}},
			{Binding: 2, Resource: gputypes.SamplerBinding{
				Sampler: b.prog.sampler.NativeHandle(),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group: %w", err)
	}
	defer b.device.DestroyBindGroup(bindGroup)

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "emufb_draw",
	})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("emufb_draw"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "emufb_draw_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    fb.colorView,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:           fb.depthView,
			DepthLoadOp:    gputypes.LoadOpLoad,
			DepthStoreOp:   gputypes.StoreOpStore,
			StencilLoadOp:  gputypes.LoadOpLoad,
			StencilStoreOp: gputypes.StoreOpStore,
		},
	})
	rp.SetPipeline(pipeline)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.SetVertexBuffer(0, b.prog.vertexBuf, 0)
	rp.SetViewport(0, 0, float32(b.viewportW), float32(b.viewportH), 0, 1)
	rp.SetStencilReference(uint32(b.stencilRef))
	rp.Draw(6, 1, 0, 0)
	rp.End()

	return b.submit(encoder)
}

// BlitStencil implements [emufb.Backend].
func (b *Backend) BlitStencil(src, dst emufb.Framebuffer, width, height int) error {
	return ErrBlitUnsupported
}

// submit finishes encoding, submits the command buffer, and blocks
// until the GPU signals completion.
func (b *Backend) submit(encoder hal.CommandEncoder) error {
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer b.device.FreeCommandBuffer(cmdBuf)

	fence, err := b.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer b.device.DestroyFence(fence)

	if err := b.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	fenceOK, err := b.device.Wait(fence, 1, gpuTimeout)
	if err != nil || !fenceOK {
		return fmt.Errorf("wgpu: wait for GPU: ok=%v err=%w", fenceOK, err)
	}
	return nil
}

// createAndUploadBuffer creates a GPU buffer and uploads data.
func (b *Backend) createAndUploadBuffer(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s: %w", label, err)
	}
	b.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

func float32Bytes(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
