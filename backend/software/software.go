// Package software provides a pure-CPU reference backend for stencil
// reconstruction. It models the same state machine a GPU backend
// exposes, with byte slices for attachments, and is the ground truth
// the GPU backends are checked against.
//
// Importing this package registers the backend:
//
//	import _ "github.com/gogpu/emufb/backend/software"
package software

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/emufb"
)

func init() {
	emufb.RegisterBackend(emufb.BackendSoftware, func() (emufb.Backend, error) {
		return New(), nil
	})
}

// maxTextureDim matches the texture size limit a modest GPU would
// impose, keeping behavior symmetric with the GPU backends.
const maxTextureDim = 8192

// Backend is a software rasterizer implementing [emufb.Backend].
// The zero value is not usable; call [New].
type Backend struct {
	current *Framebuffer

	viewportW, viewportH int
	// scissor tracks the enable state only. The Backend interface
	// carries no scissor rectangle, so an enabled scissor covers the
	// whole target and never clips a clear or draw.
	scissor          bool
	colorMask        [4]bool
	stencilTest      bool
	stencilFunc      emufb.CompareFunc
	stencilRef       uint8
	stencilFuncMask  uint8
	opStencilFail    emufb.StencilOp
	opDepthFail      emufb.StencilOp
	opPass           emufb.StencilOp
	stencilWriteMask uint8
	clearColor       [4]float32
	clearStencil     uint8

	// Uploaded source texture, alpha decoded to one byte per texel.
	texAlpha []byte
	texW     int
	texH     int
	texValid bool

	prog       *program
	planeValue float32
}

// New creates a software backend with GL-like default state: all masks
// open, stencil test off.
func New() *Backend {
	return &Backend{
		colorMask:        [4]bool{true, true, true, true},
		stencilFunc:      emufb.CompareAlways,
		stencilFuncMask:  0xFF,
		stencilWriteMask: 0xFF,
	}
}

// Name implements [emufb.Backend].
func (b *Backend) Name() string { return emufb.BackendSoftware }

// Close implements [emufb.Backend].
func (b *Backend) Close() {
	b.current = nil
	b.texAlpha = nil
	b.texValid = false
}

// SupportsBlit implements [emufb.Backend]. The software backend can
// always stretch stencil data between targets.
func (b *Backend) SupportsBlit() bool { return true }

// BindFramebuffer implements [emufb.Backend].
func (b *Backend) BindFramebuffer(fb emufb.Framebuffer) {
	if fb == nil {
		b.current = nil
		return
	}
	sfb, ok := fb.(*Framebuffer)
	if !ok {
		emufb.Logger().Warn("foreign framebuffer bound to software backend")
		b.current = nil
		return
	}
	b.current = sfb
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
	if width <= 0 || height <= 0 || width > maxTextureDim || height > maxTextureDim {
		return nil, fmt.Errorf("software: bad temp framebuffer size %dx%d", width, height)
	}
	return NewFramebuffer(width, height), nil
}

// Viewport implements [emufb.Backend].
func (b *Backend) Viewport(width, height int) {
	b.viewportW, b.viewportH = width, height
}

func (b *Backend) SetScissorEnabled(on bool) { b.scissor = on }

func (b *Backend) SetColorMask(r, g, bl, a bool) {
	b.colorMask = [4]bool{r, g, bl, a}
}

func (b *Backend) SetStencilEnabled(on bool) { b.stencilTest = on }

func (b *Backend) SetStencilFunc(fn emufb.CompareFunc, ref, mask uint8) {
	b.stencilFunc = fn
	b.stencilRef = ref
	b.stencilFuncMask = mask
}

func (b *Backend) SetStencilOp(stencilFail, depthFail, pass emufb.StencilOp) {
	b.opStencilFail = stencilFail
	b.opDepthFail = depthFail
	b.opPass = pass
}

func (b *Backend) SetStencilWriteMask(mask uint8) { b.stencilWriteMask = mask }

func (b *Backend) SetClearColor(r, g, bl, a float32) {
	b.clearColor = [4]float32{r, g, bl, a}
}

func (b *Backend) SetClearStencil(v uint8) { b.clearStencil = v }

// Clear implements [emufb.Backend]. Color clears honor the color mask
// and stencil clears honor the stencil write mask, matching GL clear
// semantics.
func (b *Backend) Clear(flags emufb.ClearFlag) {
	fb := b.current
	if fb == nil {
		return
	}
	if flags&emufb.ClearColorBuffer != 0 {
		var px [4]byte
		for i, v := range b.clearColor {
			px[i] = floatToByte(v)
		}
		for i := 0; i < len(fb.color); i += 4 {
			for c := 0; c < 4; c++ {
				if b.colorMask[c] {
					fb.color[i+c] = px[c]
				}
			}
		}
	}
	if flags&emufb.ClearStencilBuffer != 0 {
		wm := b.stencilWriteMask
		for i := range fb.stencil {
			fb.stencil[i] = fb.stencil[i]&^wm | b.clearStencil&wm
		}
	}
}

// UploadTexture implements [emufb.Backend]. The packed pixels are
// decoded to an alpha byte per texel; nothing else of the source pixel
// survives, since reconstruction only reads alpha.
func (b *Backend) UploadTexture(pix []byte, format emufb.PixelFormat, stride, width, height int) (float32, float32, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("software: bad texture size %dx%d", width, height)
	}
	if width > maxTextureDim || height > maxTextureDim {
		return 0, 0, emufb.ErrTextureTooLarge
	}

	if !format.HasStencil() {
		return 0, 0, fmt.Errorf("software: format %v has no stencil data", format)
	}
	bpp := format.Info().BytesPerPixel
	if need := stride * height * bpp; len(pix) < need {
		return 0, 0, fmt.Errorf("software: source buffer too small: %d < %d", len(pix), need)
	}

	if cap(b.texAlpha) < width*height {
		b.texAlpha = make([]byte, width*height)
	}
	b.texAlpha = b.texAlpha[:width*height]
	b.texW, b.texH = width, height

	for y := 0; y < height; y++ {
		row := pix[y*stride*bpp:]
		out := b.texAlpha[y*width:]
		switch format {
		case emufb.Format5551:
			for x := 0; x < width; x++ {
				if binary.LittleEndian.Uint16(row[x*2:])&0x8000 != 0 {
					out[x] = 0xFF
				} else {
					out[x] = 0
				}
			}
		case emufb.Format4444:
			for x := 0; x < width; x++ {
				// Keep the nibble in the high bits so plane division
				// stays exact.
				out[x] = uint8(binary.LittleEndian.Uint16(row[x*2:])>>12) << 4
			}
		case emufb.Format8888:
			for x := 0; x < width; x++ {
				out[x] = row[x*4+3]
			}
		}
	}
	b.texValid = true

	// The texture is sized exactly to the buffer, so the far corner is
	// always (1, 1).
	return 1, 1, nil
}

// InvalidateTexture implements [emufb.Backend].
func (b *Backend) InvalidateTexture() { b.texValid = false }

// CompileStencilProgram implements [emufb.Backend].
func (b *Backend) CompileStencilProgram() (emufb.Program, error) {
	if b.prog == nil {
		b.prog = &program{backend: b}
	}
	return b.prog, nil
}

// UseProgram implements [emufb.Backend].
func (b *Backend) UseProgram(p emufb.Program) {
	sp, ok := p.(*program)
	if !ok || sp.backend != b {
		emufb.Logger().Warn("foreign program bound to software backend")
		return
	}
	b.prog = sp
}

// DrawQuad implements [emufb.Backend]. It rasterizes a full-viewport
// quad: every covered pixel samples the uploaded alpha texture with
// nearest filtering over [0,u1] x [0,v1] and runs the plane-selection
// discard rule, the stencil test, and the masked stencil write.
func (b *Backend) DrawQuad(u1, v1 float32) error {
	fb := b.current
	if fb == nil {
		return emufb.ErrNoFramebuffer
	}
	if b.texAlpha == nil || b.texW == 0 {
		return fmt.Errorf("software: no texture uploaded")
	}

	w, h := b.viewportW, b.viewportH
	if w > fb.width {
		w = fb.width
	}
	if h > fb.height {
		h = fb.height
	}

	// The shader computes floor(alpha*255.99)/floor(plane*255.99) and
	// discards when the integer quotient is even. Precompute the
	// divisor once per draw.
	planeInt := int(b.planeValue * 255.99)
	if planeInt <= 0 {
		return fmt.Errorf("software: plane value %v selects no bit", b.planeValue)
	}

	for y := 0; y < h; y++ {
		ty := int((float32(y) + 0.5) / float32(h) * v1 * float32(b.texH))
		if ty >= b.texH {
			ty = b.texH - 1
		}
		texRow := b.texAlpha[ty*b.texW:]
		for x := 0; x < w; x++ {
			tx := int((float32(x) + 0.5) / float32(w) * u1 * float32(b.texW))
			if tx >= b.texW {
				tx = b.texW - 1
			}
			a := texRow[tx]

			if (int(a)/planeInt)%2 == 0 {
				continue // discard
			}

			idx := y*fb.width + x
			if b.stencilTest {
				s := fb.stencil[idx]
				if !stencilPass(b.stencilFunc, b.stencilRef&b.stencilFuncMask, s&b.stencilFuncMask) {
					fb.stencil[idx] = applyStencilOp(b.opStencilFail, s, b.stencilRef, b.stencilWriteMask)
					continue
				}
				fb.stencil[idx] = applyStencilOp(b.opPass, s, b.stencilRef, b.stencilWriteMask)
			}

			// Fragment output is the alpha value splatted to all
			// channels, filtered by the color mask.
			ci := idx * 4
			for c := 0; c < 4; c++ {
				if b.colorMask[c] {
					fb.color[ci+c] = a
				}
			}
		}
	}
	return nil
}

// BlitStencil implements [emufb.Backend]. See framebuffer.go for the
// nearest-neighbor scaling.
func (b *Backend) BlitStencil(src, dst emufb.Framebuffer, width, height int) error {
	sfb, ok := src.(*Framebuffer)
	if !ok {
		return fmt.Errorf("software: foreign blit source")
	}
	dfb, ok := dst.(*Framebuffer)
	if !ok {
		return fmt.Errorf("software: foreign blit destination")
	}
	return blitStencilNearest(sfb, dfb, width, height)
}

func stencilPass(fn emufb.CompareFunc, ref, s uint8) bool {
	switch fn {
	case emufb.CompareNever:
		return false
	case emufb.CompareLess:
		return ref < s
	case emufb.CompareEqual:
		return ref == s
	case emufb.CompareLessEqual:
		return ref <= s
	case emufb.CompareGreater:
		return ref > s
	case emufb.CompareNotEqual:
		return ref != s
	case emufb.CompareGreaterEqual:
		return ref >= s
	default:
		return true
	}
}

func applyStencilOp(op emufb.StencilOp, s, ref, writeMask uint8) uint8 {
	var out uint8
	switch op {
	case emufb.StencilOpKeep:
		return s
	case emufb.StencilOpZero:
		out = 0
	case emufb.StencilOpReplace:
		out = ref
	case emufb.StencilOpInvert:
		out = ^s
	default:
		return s
	}
	return s&^writeMask | out&writeMask
}

func floatToByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}
