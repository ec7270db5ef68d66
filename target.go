package emufb

import "sync"

// addressMask folds the mirrored views of emulated VRAM onto a single
// range. The emulated address space maps the same physical VRAM at
// several base addresses, and guest software freely mixes them when
// addressing framebuffers.
const addressMask = 0x041FFFFF

// maskedEqual reports whether two guest addresses refer to the same
// physical VRAM location through any mirror.
func maskedEqual(a, b uint32) bool {
	return a&addressMask == b&addressMask
}

// Target describes a tracked framebuffer: where it lives in guest
// memory, how its rows are laid out, and the host render target bound
// to it, if any.
type Target struct {
	// Address is the guest address of the first pixel.
	Address uint32

	// Stride is the row pitch in pixels. May exceed Width.
	Stride int

	// Format is the packed pixel encoding in guest memory.
	Format PixelFormat

	// Width and Height are the framebuffer dimensions at the emulated
	// resolution.
	Width, Height int

	// RenderWidth and RenderHeight are the host render target
	// dimensions. Equal to Width and Height at 1x rendering; larger
	// when rendering at increased resolution.
	RenderWidth, RenderHeight int

	// Framebuffer is the host render target, or nil when the target
	// has no native object yet.
	Framebuffer Framebuffer
}

// byteSize returns the target's footprint in guest memory.
func (t *Target) byteSize() int {
	return t.Stride * t.Height * t.Format.Info().BytesPerPixel
}

// Registry tracks the framebuffers known to the renderer. Lookups use
// masked address comparison, so a target registered at one VRAM mirror
// is found through any other.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	targets []*Target
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a target. When a target with the same masked address is
// already present it is replaced, keeping the registry free of stale
// duplicates after a format or size change.
func (r *Registry) Add(t *Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.targets {
		if maskedEqual(old.Address, t.Address) {
			r.targets[i] = t
			return
		}
	}
	r.targets = append(r.targets, t)
}

// Remove drops a target from the registry. Removing an unknown target
// is a no-op.
func (r *Registry) Remove(t *Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.targets {
		if old == t {
			r.targets = append(r.targets[:i], r.targets[i+1:]...)
			return
		}
	}
}

// Targets returns a snapshot of the registered targets.
func (r *Registry) Targets() []*Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// MayIntersect reports whether the guest write [addr, addr+size)
// overlaps any tracked target's memory range. This is the cheap
// existence check before a full lookup.
func (r *Registry) MayIntersect(addr uint32, size int) bool {
	if size <= 0 {
		size = 1
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.targets {
		base := t.Address & addressMask
		end := base + uint32(t.byteSize())
		a := addr & addressMask
		if a < end && a+uint32(size) > base {
			return true
		}
	}
	return false
}

// TargetAt returns the target whose first pixel lives at addr, through
// any VRAM mirror. When several match, the most recently added wins.
func (r *Registry) TargetAt(addr uint32) *Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.targets) - 1; i >= 0; i-- {
		if maskedEqual(r.targets[i].Address, addr) {
			return r.targets[i]
		}
	}
	return nil
}
