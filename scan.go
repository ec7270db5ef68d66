package emufb

import "encoding/binary"

// StencilUsage scans packed framebuffer pixels and returns a bitmask of
// the stencil bits that are set anywhere in the buffer, normalized to
// the format's alpha layout (1 bit for 5551, 4 bits for 4444, 8 bits
// for 8888). ok is false for formats without stencil storage.
//
// The scan reads 32-bit little-endian words, covering two pixels per
// read for the 16-bit formats. A buffer with no stencil bits set returns
// (0, true), which callers use as a fast clear path.
func StencilUsage(pix []byte, format PixelFormat) (usage uint8, ok bool) {
	switch format {
	case Format5551:
		return stencilUsage5551(pix), true
	case Format4444:
		return stencilUsage4444(pix), true
	case Format8888:
		return stencilUsage8888(pix), true
	default:
		return 0, false
	}
}

func stencilUsage5551(pix []byte) uint8 {
	n := len(pix) &^ 3
	for i := 0; i < n; i += 4 {
		if binary.LittleEndian.Uint32(pix[i:])&0x80008000 != 0 {
			return 1
		}
	}
	// Odd trailing 16-bit pixel.
	if len(pix)-n >= 2 && binary.LittleEndian.Uint16(pix[n:])&0x8000 != 0 {
		return 1
	}
	return 0
}

func stencilUsage4444(pix []byte) uint8 {
	var bits uint32
	n := len(pix) &^ 3
	for i := 0; i < n; i += 4 {
		bits |= binary.LittleEndian.Uint32(pix[i:])
	}
	if len(pix)-n >= 2 {
		bits |= uint32(binary.LittleEndian.Uint16(pix[n:]))
	}
	// Fold the alpha nibbles of both pixels in the word.
	return uint8((bits>>12)&0x0F) | uint8(bits>>28)
}

func stencilUsage8888(pix []byte) uint8 {
	var bits uint32
	n := len(pix) &^ 3
	for i := 0; i < n; i += 4 {
		bits |= binary.LittleEndian.Uint32(pix[i:])
	}
	return uint8(bits >> 24)
}
