package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	colorFormat        = gputypes.TextureFormatBGRA8Unorm
	depthStencilFormat = gputypes.TextureFormatDepth24PlusStencil8
)

// Framebuffer is a GPU render target: a color texture and a combined
// depth/stencil texture with their attachment views.
type Framebuffer struct {
	width, height int

	colorTex  hal.Texture
	colorView hal.TextureView
	depthTex  hal.Texture
	depthView hal.TextureView
}

// NewFramebuffer creates a render target on the backend's device.
func (b *Backend) NewFramebuffer(width, height int) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("wgpu: bad framebuffer size %dx%d", width, height)
	}

	fb := &Framebuffer{width: width, height: height}
	size := hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}

	colorTex, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "emufb_color",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        colorFormat,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create color texture: %w", err)
	}
	fb.colorTex = colorTex

	colorView, err := b.device.CreateTextureView(colorTex, &hal.TextureViewDescriptor{
		Label: "emufb_color_view",
	})
	if err != nil {
		fb.Destroy(b.device)
		return nil, fmt.Errorf("wgpu: create color view: %w", err)
	}
	fb.colorView = colorView

	depthTex, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "emufb_depth_stencil",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        depthStencilFormat,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		fb.Destroy(b.device)
		return nil, fmt.Errorf("wgpu: create depth/stencil texture: %w", err)
	}
	fb.depthTex = depthTex

	depthView, err := b.device.CreateTextureView(depthTex, &hal.TextureViewDescriptor{
		Label: "emufb_depth_stencil_view",
	})
	if err != nil {
		fb.Destroy(b.device)
		return nil, fmt.Errorf("wgpu: create depth/stencil view: %w", err)
	}
	fb.depthView = depthView

	return fb, nil
}

// Size implements [emufb.Framebuffer].
func (f *Framebuffer) Size() (int, int) { return f.width, f.height }

// ColorTexture returns the color attachment texture for readback or
// presentation by the embedding renderer.
func (f *Framebuffer) ColorTexture() hal.Texture { return f.colorTex }

// Destroy releases the framebuffer's textures. Safe to call on a
// partially created framebuffer.
func (f *Framebuffer) Destroy(device hal.Device) {
	if device == nil {
		return
	}
	if f.depthView != nil {
		device.DestroyTextureView(f.depthView)
		f.depthView = nil
	}
	if f.depthTex != nil {
		device.DestroyTexture(f.depthTex)
		f.depthTex = nil
	}
	if f.colorView != nil {
		device.DestroyTextureView(f.colorView)
		f.colorView = nil
	}
	if f.colorTex != nil {
		device.DestroyTexture(f.colorTex)
		f.colorTex = nil
	}
}
