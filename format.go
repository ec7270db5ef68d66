package emufb

// PixelFormat identifies the packed pixel encoding of an emulated
// framebuffer. The values match the emulated GPU's framebuffer format
// register, so raw register values convert directly.
type PixelFormat uint8

const (
	// Format565 packs 5 red, 6 green, 5 blue bits. No alpha, no stencil.
	Format565 PixelFormat = iota

	// Format5551 packs 5 bits per color channel plus a single alpha bit
	// in the top bit of each 16-bit word. One stencil bit per pixel.
	Format5551

	// Format4444 packs 4 bits per channel, alpha in the top nibble.
	// Four stencil bits per pixel.
	Format4444

	// Format8888 packs 8 bits per channel, alpha in the top byte.
	// Eight stencil bits per pixel.
	Format8888

	formatCount
)

// FormatInfo describes the memory layout and stencil capacity of a
// pixel format.
type FormatInfo struct {
	// BytesPerPixel is the size of one packed pixel in guest memory.
	BytesPerPixel int

	// StencilBits is the number of stencil bits carried in the alpha
	// channel. Zero means the format has no stencil storage.
	StencilBits int
}

var formatInfoTable = [formatCount]FormatInfo{
	Format565:  {BytesPerPixel: 2, StencilBits: 0},
	Format5551: {BytesPerPixel: 2, StencilBits: 1},
	Format4444: {BytesPerPixel: 2, StencilBits: 4},
	Format8888: {BytesPerPixel: 4, StencilBits: 8},
}

// Valid reports whether f is a known framebuffer format.
func (f PixelFormat) Valid() bool { return f < formatCount }

// Info returns the layout description for f. Unknown formats return a
// zero FormatInfo.
func (f PixelFormat) Info() FormatInfo {
	if !f.Valid() {
		return FormatInfo{}
	}
	return formatInfoTable[f]
}

// HasStencil reports whether f carries stencil data in its alpha bits.
func (f PixelFormat) HasStencil() bool { return f.Info().StencilBits > 0 }

// StencilWriteMask returns the host stencil write mask for reconstructing
// the plane identified by bit (a single set bit of the scanned usage
// mask). The mask is expressed in the host's 8-bit stencil layout:
//
//   - 5551: the single alpha bit expands to all eight stencil bits,
//     so the whole byte is written at once.
//   - 4444: the 4-bit alpha value occupies both nibbles of the stencil
//     byte, so each plane bit is written in both positions.
//   - 8888: alpha maps to stencil one to one.
func (f PixelFormat) StencilWriteMask(bit uint8) uint8 {
	switch f {
	case Format5551:
		return 0xFF
	case Format4444:
		return bit<<4 | bit
	default:
		return bit
	}
}

// PlaneValue returns the normalized alpha value that selects the plane
// identified by bit in the reconstruction shader. The shader divides
// each texel's alpha by this value and keeps the pixel when the quotient
// is odd, which isolates exactly the requested bit.
func (f PixelFormat) PlaneValue(bit uint8) float32 {
	switch f {
	case Format5551:
		return float32(bit) * (128.0 / 255.0)
	case Format4444:
		return float32(bit) * (16.0 / 255.0)
	default:
		return float32(bit) * (1.0 / 255.0)
	}
}

func (f PixelFormat) String() string {
	switch f {
	case Format565:
		return "565"
	case Format5551:
		return "5551"
	case Format4444:
		return "4444"
	case Format8888:
		return "8888"
	default:
		return "invalid"
	}
}
