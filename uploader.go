package emufb

// UploaderOption configures an [Uploader].
type UploaderOption func(*Uploader)

// WithLowResStencil controls whether reconstruction for upscaled targets
// may run at the emulated resolution and stretch the result into the
// render target with a stencil blit. Enabled by default; disabling it
// forces reconstruction directly at render resolution, which samples
// each source pixel more than once but needs no blit support.
func WithLowResStencil(on bool) UploaderOption {
	return func(u *Uploader) { u.lowRes = on }
}

// Uploader watches guest framebuffer uploads and rebuilds host stencil
// buffers from the uploaded alpha bits.
//
// Uploader methods must be called from the render thread; the backend
// state machine it drives is single-threaded.
type Uploader struct {
	registry *Registry
	mem      Memory
	backend  Backend
	programs programCache
	lowRes   bool
}

// NewUploader creates an Uploader working against the given target
// registry, guest memory, and backend.
func NewUploader(registry *Registry, mem Memory, backend Backend, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		registry: registry,
		mem:      mem,
		backend:  backend,
		lowRes:   true,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Backend returns the backend the uploader drives.
func (u *Uploader) Backend() Backend { return u.backend }

// NotifyStencilUpload is called when guest software has written pixel
// data to framebuffer memory at addr. It locates the tracked target,
// scans the uploaded pixels for used stencil bits, and replays each used
// bit plane into the target's host stencil buffer.
//
// size is the byte length of the guest write, used only for the cheap
// intersection check. When skipZero is set, an upload whose pixels carry
// no stencil bits is left alone entirely on the assumption that the host
// stencil buffer already holds more precise results from earlier draws.
//
// The return value reports whether the upload was handled. False means
// the caller should fall back to whatever other upload path it has.
func (u *Uploader) NotifyStencilUpload(addr uint32, size int, skipZero bool) bool {
	if !u.registry.MayIntersect(addr, size) {
		return false
	}
	dst := u.registry.TargetAt(addr)
	if dst == nil {
		return false
	}
	src := u.mem.Bytes(dst.Address, dst.byteSize())
	if src == nil {
		Logger().Warn("stencil upload source not mapped",
			"addr", addr, "bytes", dst.byteSize())
		return false
	}

	usage, ok := StencilUsage(src, dst.Format)
	if !ok {
		// 565 has no alpha bits; there is nothing to reconstruct.
		return false
	}

	if usage == 0 {
		if skipZero {
			return false
		}
		u.clearStencil(dst)
		return true
	}

	prog := u.programs.ensure(u.backend)
	if prog == nil {
		// Compilation already failed and was reported; pretend the
		// upload was handled so the caller does not retry every frame.
		return true
	}

	u.reconstruct(dst, src, usage, prog)
	return true
}

// clearStencil zeroes the target's stencil attachment and alpha channel
// without sampling guest memory. Used when the scan finds no stencil
// bits at all.
func (u *Uploader) clearStencil(dst *Target) {
	b := u.backend
	prev := b.CurrentFramebuffer()
	if dst.Framebuffer != nil {
		b.BindFramebuffer(dst.Framebuffer)
	}

	b.SetScissorEnabled(false)
	b.SetColorMask(false, false, false, true)
	b.SetClearColor(0, 0, 0, 0)
	b.SetClearStencil(0)
	b.SetStencilWriteMask(0xFF)
	b.Clear(ClearColorBuffer | ClearStencilBuffer)

	b.BindFramebuffer(prev)
}

// reconstruct replays the used stencil bit planes of src into dst's
// stencil buffer, one masked draw per set bit.
func (u *Uploader) reconstruct(dst *Target, src []byte, usage uint8, prog Program) {
	b := u.backend

	prev := b.CurrentFramebuffer()
	b.SetScissorEnabled(false)
	b.SetColorMask(false, false, false, true)
	b.SetStencilEnabled(true)
	b.SetStencilOp(StencilOpReplace, StencilOpReplace, StencilOpReplace)

	// Upscaled targets can be reconstructed at 1x and stretched, which
	// touches each source pixel exactly once. That needs a target to
	// blit into and backend blit support.
	useBlit := u.lowRes && b.SupportsBlit() &&
		dst.Framebuffer != nil && dst.Width != dst.RenderWidth

	w, h := dst.RenderWidth, dst.RenderHeight
	var inter Framebuffer
	if useBlit {
		var err error
		inter, err = b.AcquireTempFramebuffer(dst.Width, dst.Height)
		if err != nil {
			Logger().Warn("temp framebuffer unavailable, reconstructing at render resolution",
				"err", err)
			useBlit = false
		} else {
			w, h = dst.Width, dst.Height
			b.BindFramebuffer(inter)
		}
	}
	if !useBlit && dst.Framebuffer != nil {
		b.BindFramebuffer(dst.Framebuffer)
	}
	b.Viewport(w, h)

	u1, v1, err := b.UploadTexture(src, dst.Format, dst.Stride, dst.Width, dst.Height)
	if err != nil {
		Logger().Warn("stencil source upload failed",
			"addr", dst.Address, "format", dst.Format, "err", err)
		b.SetStencilEnabled(false)
		b.BindFramebuffer(prev)
		return
	}
	// The texture mirrors transient guest memory; never reuse it.
	b.InvalidateTexture()

	b.SetStencilWriteMask(0xFF)
	b.SetClearStencil(0)
	b.Clear(ClearStencilBuffer)
	b.SetStencilFunc(CompareAlways, 0xFF, 0xFF)
	b.UseProgram(prog)

	planes := 1 << dst.Format.Info().StencilBits
	draws := 0
	for i := 1; i < planes; i <<= 1 {
		bit := uint8(i)
		if usage&bit == 0 {
			continue
		}
		// The reference stays 0xFF for every plane; the write mask
		// confines the replace to the plane's bits.
		b.SetStencilWriteMask(dst.Format.StencilWriteMask(bit))
		prog.SetPlaneValue(dst.Format.PlaneValue(bit))
		if err := b.DrawQuad(u1, v1); err != nil {
			Logger().Warn("stencil plane draw failed", "bit", bit, "err", err)
		}
		draws++
	}
	b.SetStencilWriteMask(0xFF)

	if useBlit {
		if err := b.BlitStencil(inter, dst.Framebuffer, dst.RenderWidth, dst.RenderHeight); err != nil {
			Logger().Warn("stencil blit failed", "err", err)
		}
	}

	b.SetStencilEnabled(false)
	b.BindFramebuffer(prev)

	Logger().Debug("stencil reconstructed",
		"addr", dst.Address, "format", dst.Format,
		"usage", usage, "draws", draws, "blit", useBlit)
}
