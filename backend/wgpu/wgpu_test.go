package wgpu

import (
	"errors"
	"testing"

	"github.com/gogpu/emufb"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newNoopBackend(t *testing.T) *Backend {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	t.Cleanup(cleanup)
	b := NewWithDevice(device, queue)
	t.Cleanup(b.Close)
	return b
}

func TestNewWithDeviceDefaults(t *testing.T) {
	b := newNoopBackend(t)

	if b.Name() != emufb.BackendWGPU {
		t.Errorf("Name() = %q, want %q", b.Name(), emufb.BackendWGPU)
	}
	if b.SupportsBlit() {
		t.Error("SupportsBlit() = true, want false")
	}
	if b.colorMask != 0x0F {
		t.Errorf("colorMask = %#02x, want 0x0F", b.colorMask)
	}
	if b.stencilFunc != emufb.CompareAlways {
		t.Errorf("stencilFunc = %v, want CompareAlways", b.stencilFunc)
	}
	if b.writeMask != 0xFF {
		t.Errorf("writeMask = %#02x, want 0xFF", b.writeMask)
	}
	if b.CurrentFramebuffer() != nil {
		t.Error("expected nil framebuffer on a fresh backend")
	}
}

func TestCompileStencilProgram(t *testing.T) {
	b := newNoopBackend(t)

	p, err := b.CompileStencilProgram()
	if err != nil {
		t.Fatalf("CompileStencilProgram failed: %v", err)
	}
	prog, ok := p.(*Program)
	if !ok {
		t.Fatalf("program has type %T, want *Program", p)
	}
	if prog.shader == nil {
		t.Error("expected non-nil shader module")
	}
	if prog.uniformLayout == nil {
		t.Error("expected non-nil uniform layout")
	}
	if prog.pipeLayout == nil {
		t.Error("expected non-nil pipeline layout")
	}
	if prog.sampler == nil {
		t.Error("expected non-nil sampler")
	}
	if prog.vertexBuf == nil {
		t.Error("expected non-nil vertex buffer")
	}
	if prog.uniformBuf == nil {
		t.Error("expected non-nil uniform buffer")
	}

	// Compiling again returns the same program.
	p2, err := b.CompileStencilProgram()
	if err != nil {
		t.Fatalf("second CompileStencilProgram failed: %v", err)
	}
	if p2 != p {
		t.Error("program was recompiled unnecessarily")
	}
}

func TestPipelineCacheReuse(t *testing.T) {
	b := newNoopBackend(t)

	p, err := b.CompileStencilProgram()
	if err != nil {
		t.Fatalf("CompileStencilProgram failed: %v", err)
	}
	prog := p.(*Program)

	key := pipelineKey{
		writeMask:   0x11,
		colorMask:   0x08,
		compare:     emufb.CompareAlways,
		passOp:      emufb.StencilOpReplace,
		stencilTest: true,
	}
	first, err := b.pipelines.get(b, prog, key)
	if err != nil {
		t.Fatalf("pipeline creation failed: %v", err)
	}
	again, err := b.pipelines.get(b, prog, key)
	if err != nil {
		t.Fatalf("cached pipeline lookup failed: %v", err)
	}
	if again != first {
		t.Error("pipeline was rebuilt for an identical key")
	}
	if got := b.pipelines.size(); got != 1 {
		t.Errorf("cache size = %d, want 1", got)
	}

	// A different write mask is a distinct variant.
	key.writeMask = 0x44
	other, err := b.pipelines.get(b, prog, key)
	if err != nil {
		t.Fatalf("second variant creation failed: %v", err)
	}
	if other == first {
		t.Error("distinct keys returned the same pipeline")
	}
	if got := b.pipelines.size(); got != 2 {
		t.Errorf("cache size = %d, want 2", got)
	}
}

func TestColorMaskBits(t *testing.T) {
	b := newNoopBackend(t)

	tests := []struct {
		r, g, bl, a bool
		want        uint8
	}{
		{true, true, true, true, 0x0F},
		{false, false, false, true, 0x08},
		{true, false, true, false, 0x05},
		{false, false, false, false, 0x00},
	}
	for _, tt := range tests {
		b.SetColorMask(tt.r, tt.g, tt.bl, tt.a)
		if b.colorMask != tt.want {
			t.Errorf("SetColorMask(%v, %v, %v, %v): mask = %#02x, want %#02x",
				tt.r, tt.g, tt.bl, tt.a, b.colorMask, tt.want)
		}
	}
}

func TestStencilStateTracking(t *testing.T) {
	b := newNoopBackend(t)

	b.SetStencilFunc(emufb.CompareEqual, 0xAB, 0x0F)
	if b.stencilFunc != emufb.CompareEqual || b.stencilRef != 0xAB {
		t.Errorf("stencil func/ref = %v/%#02x, want CompareEqual/0xAB",
			b.stencilFunc, b.stencilRef)
	}

	b.SetStencilOp(emufb.StencilOpInvert, emufb.StencilOpZero, emufb.StencilOpReplace)
	if b.opPass != emufb.StencilOpReplace {
		t.Errorf("pass op = %v, want StencilOpReplace", b.opPass)
	}

	b.SetStencilWriteMask(0x22)
	if b.writeMask != 0x22 {
		t.Errorf("write mask = %#02x, want 0x22", b.writeMask)
	}
}

func TestNewFramebuffer(t *testing.T) {
	b := newNoopBackend(t)

	fb, err := b.NewFramebuffer(640, 480)
	if err != nil {
		t.Fatalf("NewFramebuffer failed: %v", err)
	}
	defer fb.Destroy(b.device)

	w, h := fb.Size()
	if w != 640 || h != 480 {
		t.Errorf("Size() = (%d, %d), want (640, 480)", w, h)
	}
	if fb.colorTex == nil || fb.colorView == nil {
		t.Error("expected non-nil color attachment")
	}
	if fb.depthTex == nil || fb.depthView == nil {
		t.Error("expected non-nil depth-stencil attachment")
	}
	if fb.ColorTexture() == nil {
		t.Error("expected non-nil ColorTexture")
	}
}

func TestBindFramebuffer(t *testing.T) {
	b := newNoopBackend(t)

	fb, err := b.NewFramebuffer(64, 64)
	if err != nil {
		t.Fatalf("NewFramebuffer failed: %v", err)
	}
	defer fb.Destroy(b.device)

	b.BindFramebuffer(fb)
	if b.CurrentFramebuffer() != fb {
		t.Error("bound framebuffer not returned by CurrentFramebuffer")
	}
	b.BindFramebuffer(nil)
	if b.CurrentFramebuffer() != nil {
		t.Error("unbinding did not clear the current framebuffer")
	}
}

func TestAcquireTempFramebuffer(t *testing.T) {
	b := newNoopBackend(t)

	fb, err := b.AcquireTempFramebuffer(128, 96)
	if err != nil {
		t.Fatalf("AcquireTempFramebuffer failed: %v", err)
	}
	w, h := fb.Size()
	if w != 128 || h != 96 {
		t.Errorf("Size() = (%d, %d), want (128, 96)", w, h)
	}
}

func TestUploadTexture(t *testing.T) {
	b := newNoopBackend(t)

	pix := make([]byte, 8*4*4)
	u1, v1, err := b.UploadTexture(pix, emufb.Format8888, 8, 8, 4)
	if err != nil {
		t.Fatalf("UploadTexture failed: %v", err)
	}
	if u1 != 1 || v1 != 1 {
		t.Errorf("texcoords = (%v, %v), want (1, 1)", u1, v1)
	}
	if !b.tex.valid {
		t.Error("texture not marked valid after upload")
	}

	// Same size keeps the allocation.
	orig := b.tex.tex
	if _, _, err := b.UploadTexture(pix, emufb.Format8888, 8, 8, 4); err != nil {
		t.Fatalf("second UploadTexture failed: %v", err)
	}
	if b.tex.tex != orig {
		t.Error("texture was recreated for an identical size")
	}

	b.InvalidateTexture()
	if b.tex.valid {
		t.Error("texture still valid after InvalidateTexture")
	}
}

func TestUploadTextureErrors(t *testing.T) {
	b := newNoopBackend(t)

	if _, _, err := b.UploadTexture(nil, emufb.Format565, 4, 4, 4); err == nil {
		t.Error("UploadTexture(565) succeeded")
	}
	if _, _, err := b.UploadTexture(make([]byte, 8), emufb.Format8888, 4, 4, 4); err == nil {
		t.Error("UploadTexture with short buffer succeeded")
	}
	if _, _, err := b.UploadTexture(nil, emufb.Format8888, 0, 0, 0); err == nil {
		t.Error("UploadTexture with zero size succeeded")
	}
	if _, _, err := b.UploadTexture(nil, emufb.Format8888, 1, maxTextureDim+1, 1); !errors.Is(err, emufb.ErrTextureTooLarge) {
		t.Errorf("oversized upload error = %v, want ErrTextureTooLarge", err)
	}
}

func TestClearPartialColorMaskUsesDrawPath(t *testing.T) {
	b := newNoopBackend(t)

	fb, err := b.NewFramebuffer(8, 8)
	if err != nil {
		t.Fatalf("NewFramebuffer failed: %v", err)
	}
	defer fb.Destroy(b.device)
	b.BindFramebuffer(fb)

	// Alpha-only color mask: the clear must not go through the
	// attachment load op, which would wipe the RGB channels too.
	b.SetColorMask(false, false, false, true)
	b.SetClearColor(0, 0, 0, 0)
	b.SetClearStencil(0)
	b.Clear(emufb.ClearColorBuffer | emufb.ClearStencilBuffer)

	if b.clear.shader == nil {
		t.Error("expected masked clear shader after partial-mask clear")
	}
	if b.clear.vertexBuf == nil || b.clear.uniformBuf == nil {
		t.Error("expected masked clear buffers after partial-mask clear")
	}
	if _, ok := b.clear.pipelines[0x08]; !ok {
		t.Error("expected masked clear pipeline variant for alpha-only mask")
	}

	// Repeating the clear reuses the cached variant.
	b.Clear(emufb.ClearColorBuffer)
	if len(b.clear.pipelines) != 1 {
		t.Errorf("masked clear pipeline count = %d, want 1", len(b.clear.pipelines))
	}

	// A fully open mask clears through the load op and builds nothing new.
	b.SetColorMask(true, true, true, true)
	b.Clear(emufb.ClearColorBuffer)
	if len(b.clear.pipelines) != 1 {
		t.Errorf("full-mask clear built a pipeline variant: count = %d, want 1", len(b.clear.pipelines))
	}
}

func TestClearAllChannelsMaskedOff(t *testing.T) {
	b := newNoopBackend(t)

	fb, err := b.NewFramebuffer(4, 4)
	if err != nil {
		t.Fatalf("NewFramebuffer failed: %v", err)
	}
	defer fb.Destroy(b.device)
	b.BindFramebuffer(fb)

	// With every channel masked off a color-only clear is a no-op and
	// must not build any clear resources.
	b.SetColorMask(false, false, false, false)
	b.Clear(emufb.ClearColorBuffer)

	if b.clear.shader != nil || len(b.clear.pipelines) != 0 {
		t.Error("fully masked-off clear built masked clear resources")
	}
}

func TestDrawQuadWithoutFramebuffer(t *testing.T) {
	b := newNoopBackend(t)

	if err := b.DrawQuad(1, 1); !errors.Is(err, emufb.ErrNoFramebuffer) {
		t.Errorf("DrawQuad error = %v, want ErrNoFramebuffer", err)
	}
}

func TestBlitStencilUnsupported(t *testing.T) {
	b := newNoopBackend(t)

	if err := b.BlitStencil(nil, nil, 0, 0); !errors.Is(err, ErrBlitUnsupported) {
		t.Errorf("BlitStencil error = %v, want ErrBlitUnsupported", err)
	}
}

func TestNewFromProvider(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	if _, err := NewFromProvider(struct{}{}); err == nil {
		t.Error("NewFromProvider accepted a provider without HAL accessors")
	}

	b, err := NewFromProvider(&fakeProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("NewFromProvider failed: %v", err)
	}
	defer b.Close()
	if b.device != device {
		t.Error("device not taken from provider")
	}
}

type fakeProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *fakeProvider) HalDevice() any { return p.device }
func (p *fakeProvider) HalQueue() any  { return p.queue }
