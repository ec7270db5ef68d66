package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/emufb"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// maxTextureDim matches the guaranteed 2D texture limit of the default
// device limits.
const maxTextureDim = 8192

// sourceTexture holds the sampled texture carrying the uploaded guest
// pixels. The texture is recreated only when the upload size changes;
// the pixel contents are rewritten on every upload.
type sourceTexture struct {
	tex    hal.Texture
	view   hal.TextureView
	width  int
	height int
	valid  bool

	// staging is the BGRA8 conversion buffer, reused across uploads.
	staging []byte
}

func (t *sourceTexture) destroy(device hal.Device) {
	if t.view != nil {
		device.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.tex != nil {
		device.DestroyTexture(t.tex)
		t.tex = nil
	}
	t.width, t.height = 0, 0
	t.valid = false
	t.staging = nil
}

func (t *sourceTexture) ensure(device hal.Device, width, height int) error {
	if t.tex != nil && t.width == width && t.height == height {
		return nil
	}
	t.destroy(device)

	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "emufb_source",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        colorFormat,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create source texture: %w", err)
	}
	t.tex = tex

	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: "emufb_source_view",
	})
	if err != nil {
		t.destroy(device)
		return fmt.Errorf("wgpu: create source view: %w", err)
	}
	t.view = view
	t.width, t.height = width, height
	return nil
}

// UploadTexture implements [emufb.Backend]. The packed guest pixels are
// expanded to BGRA8 with the stencil-carrying alpha bits splatted to
// every channel; the reconstruction shader reads only alpha.
func (b *Backend) UploadTexture(pix []byte, format emufb.PixelFormat, stride, width, height int) (float32, float32, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("wgpu: bad texture size %dx%d", width, height)
	}
	if width > maxTextureDim || height > maxTextureDim {
		return 0, 0, emufb.ErrTextureTooLarge
	}
	if !format.HasStencil() {
		return 0, 0, fmt.Errorf("wgpu: format %v has no stencil data", format)
	}
	bpp := format.Info().BytesPerPixel
	if need := stride * height * bpp; len(pix) < need {
		return 0, 0, fmt.Errorf("wgpu: source buffer too small: %d < %d", len(pix), need)
	}

	if err := b.tex.ensure(b.device, width, height); err != nil {
		return 0, 0, err
	}

	need := width * height * 4
	if cap(b.tex.staging) < need {
		b.tex.staging = make([]byte, need)
	}
	dst := b.tex.staging[:need]

	for y := 0; y < height; y++ {
		row := pix[y*stride*bpp:]
		out := dst[y*width*4:]
		switch format {
		case emufb.Format5551:
			for x := 0; x < width; x++ {
				var a byte
				if binary.LittleEndian.Uint16(row[x*2:])&0x8000 != 0 {
					a = 0xFF
				}
				out[x*4+0], out[x*4+1], out[x*4+2], out[x*4+3] = a, a, a, a
			}
		case emufb.Format4444:
			for x := 0; x < width; x++ {
				// High-nibble placement keeps the shader's plane
				// division exact.
				a := uint8(binary.LittleEndian.Uint16(row[x*2:])>>12) << 4
				out[x*4+0], out[x*4+1], out[x*4+2], out[x*4+3] = a, a, a, a
			}
		case emufb.Format8888:
			for x := 0; x < width; x++ {
				a := row[x*4+3]
				out[x*4+0], out[x*4+1], out[x*4+2], out[x*4+3] = a, a, a, a
			}
		}
	}

	b.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  b.tex.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   gputypes.TextureAspectAll,
		},
		dst,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(width * 4),
			RowsPerImage: uint32(height),
		},
		&hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
	)
	b.tex.valid = true

	// The texture is sized exactly to the upload.
	return 1, 1, nil
}

// InvalidateTexture implements [emufb.Backend]. The allocation is kept
// for reuse; only the contents are marked stale.
func (b *Backend) InvalidateTexture() { b.tex.valid = false }
