package main

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/gogpu/emufb"
	"github.com/gogpu/emufb/backend/software"
)

// viewer animates the guest test pattern and shows the reconstructed
// stencil plane in a window, colorized so individual bits stand out.
type viewer struct {
	uploader *emufb.Uploader
	mem      *emufb.RAM
	fb       *software.Framebuffer
	format   emufb.PixelFormat

	width, height int
	scale         int
	skipZero      bool

	frame  int
	window *ebiten.Image
	pixels []byte
}

func runViewer(uploader *emufb.Uploader, mem *emufb.RAM, fb *software.Framebuffer,
	format emufb.PixelFormat, width, height, scale int, skipZero bool) error {

	v := &viewer{
		uploader: uploader,
		mem:      mem,
		fb:       fb,
		format:   format,
		width:    width,
		height:   height,
		scale:    scale,
		skipZero: skipZero,
		pixels:   make([]byte, width*scale*height*scale*4),
	}
	ebiten.SetWindowSize(width*scale, height*scale)
	ebiten.SetWindowTitle(fmt.Sprintf("stencildemo (%s)", format))
	return ebiten.RunGame(v)
}

func (v *viewer) Update() error {
	v.frame++

	// Rewrite the guest framebuffer with a shifted pattern and push it
	// through the reconstruction path, as an emulator would on a guest
	// memory upload.
	bpp := v.format.Info().BytesPerPixel
	size := v.width * v.height * bpp
	pix := v.mem.Bytes(guestBase, size)
	for i := range pix {
		pix[i] = 0
	}
	for y := 0; y < v.height; y++ {
		for x := 0; x < v.width; x++ {
			dx, dy := x-v.width/2, y-v.height/2
			d := dx*dx + dy*dy
			ring := d/(v.width*v.height/64) + v.frame/4
			writePixelAlpha(pix, v.format, y*v.width+x, uint8(ring))
		}
	}
	v.uploader.NotifyStencilUpload(guestBase, size, v.skipZero)
	return nil
}

func (v *viewer) Draw(screen *ebiten.Image) {
	w, h := v.fb.Size()
	if v.window == nil {
		v.window = ebiten.NewImage(w, h)
	}

	// Colorize: low bits to blue, high bits to red, full value to green.
	stencil := v.fb.Stencil()
	for i, s := range stencil {
		v.pixels[i*4+0] = s & 0xF0
		v.pixels[i*4+1] = s
		v.pixels[i*4+2] = s << 4
		v.pixels[i*4+3] = 0xFF
	}
	v.window.WritePixels(v.pixels)
	screen.DrawImage(v.window, nil)
}

func (v *viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return v.width * v.scale, v.height * v.scale
}
