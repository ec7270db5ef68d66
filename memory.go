package emufb

// Memory provides access to emulated guest memory. Implementations
// resolve guest addresses, including VRAM mirrors, to host byte slices.
type Memory interface {
	// Bytes returns n bytes of guest memory starting at addr, or nil
	// when the range is not mapped. The returned slice aliases the
	// underlying storage; callers must not retain it across guest
	// writes.
	Bytes(addr uint32, n int) []byte
}

// RAM is a flat guest memory region backed by a host byte slice. It
// resolves addresses through the VRAM mirror mask, so any mirror of a
// mapped address reads the same bytes.
type RAM struct {
	base uint32
	data []byte
}

// NewRAM maps size bytes of guest memory at base.
func NewRAM(base uint32, size int) *RAM {
	return &RAM{base: base & addressMask, data: make([]byte, size)}
}

// Bytes implements [Memory].
func (r *RAM) Bytes(addr uint32, n int) []byte {
	a := addr & addressMask
	if a < r.base || n < 0 {
		return nil
	}
	off := int(a - r.base)
	if off+n > len(r.data) {
		return nil
	}
	return r.data[off : off+n]
}

// Size returns the mapped region size in bytes.
func (r *RAM) Size() int { return len(r.data) }

// Base returns the masked base address of the region.
func (r *RAM) Base() uint32 { return r.base }
