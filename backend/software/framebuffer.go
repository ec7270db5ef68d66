package software

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Framebuffer is a CPU render target: an RGBA color plane and an 8-bit
// stencil plane.
type Framebuffer struct {
	width, height int
	color         []byte // RGBA, 4 bytes per pixel
	stencil       []byte // 1 byte per pixel
}

// NewFramebuffer creates a zeroed render target.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:   width,
		height:  height,
		color:   make([]byte, width*height*4),
		stencil: make([]byte, width*height),
	}
}

// Size implements [emufb.Framebuffer].
func (f *Framebuffer) Size() (int, int) { return f.width, f.height }

// Color returns the RGBA color plane, 4 bytes per pixel, row by row.
// The slice aliases the framebuffer; it is valid until the next draw.
func (f *Framebuffer) Color() []byte { return f.color }

// Stencil returns the stencil plane, one byte per pixel. The slice
// aliases the framebuffer; it is valid until the next draw.
func (f *Framebuffer) Stencil() []byte { return f.stencil }

// StencilImage returns the stencil plane wrapped as a grayscale image
// sharing the framebuffer's storage.
func (f *Framebuffer) StencilImage() *image.Gray {
	return &image.Gray{
		Pix:    f.stencil,
		Stride: f.width,
		Rect:   image.Rect(0, 0, f.width, f.height),
	}
}

// ColorImage returns the color plane wrapped as an RGBA image sharing
// the framebuffer's storage.
func (f *Framebuffer) ColorImage() *image.RGBA {
	return &image.RGBA{
		Pix:    f.color,
		Stride: f.width * 4,
		Rect:   image.Rect(0, 0, f.width, f.height),
	}
}

// blitStencilNearest stretches src's stencil plane over the width x
// height region of dst with nearest-neighbor sampling. Both planes are
// viewed as grayscale images so the scaler can work on them directly.
// At integer scale factors every destination pixel maps exactly onto
// one source pixel.
func blitStencilNearest(src, dst *Framebuffer, width, height int) error {
	if width > dst.width {
		width = dst.width
	}
	if height > dst.height {
		height = dst.height
	}
	xdraw.NearestNeighbor.Scale(
		dst.StencilImage(), image.Rect(0, 0, width, height),
		src.StencilImage(), image.Rect(0, 0, src.width, src.height),
		xdraw.Src, nil,
	)
	return nil
}
