package emufb

import "testing"

func TestFormatInfo(t *testing.T) {
	tests := []struct {
		format      PixelFormat
		bpp         int
		stencilBits int
	}{
		{Format565, 2, 0},
		{Format5551, 2, 1},
		{Format4444, 2, 4},
		{Format8888, 4, 8},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			info := tt.format.Info()
			if info.BytesPerPixel != tt.bpp {
				t.Errorf("BytesPerPixel = %d, want %d", info.BytesPerPixel, tt.bpp)
			}
			if info.StencilBits != tt.stencilBits {
				t.Errorf("StencilBits = %d, want %d", info.StencilBits, tt.stencilBits)
			}
			if got, want := tt.format.HasStencil(), tt.stencilBits > 0; got != want {
				t.Errorf("HasStencil() = %v, want %v", got, want)
			}
		})
	}
}

func TestFormatValid(t *testing.T) {
	if !Format8888.Valid() {
		t.Error("Format8888.Valid() = false")
	}
	if PixelFormat(200).Valid() {
		t.Error("PixelFormat(200).Valid() = true")
	}
	if got := PixelFormat(200).Info(); got != (FormatInfo{}) {
		t.Errorf("invalid format Info() = %+v, want zero", got)
	}
}

func TestStencilWriteMask(t *testing.T) {
	// 5551: the single alpha bit covers the whole stencil byte.
	if got := Format5551.StencilWriteMask(1); got != 0xFF {
		t.Errorf("5551 mask = %#02x, want 0xFF", got)
	}
	// 4444: the plane bit lands in both nibbles.
	for _, bit := range []uint8{1, 2, 4, 8} {
		want := bit<<4 | bit
		if got := Format4444.StencilWriteMask(bit); got != want {
			t.Errorf("4444 mask(%#02x) = %#02x, want %#02x", bit, got, want)
		}
	}
	// 8888: one to one.
	for bit := uint8(1); bit != 0; bit <<= 1 {
		if got := Format8888.StencilWriteMask(bit); got != bit {
			t.Errorf("8888 mask(%#02x) = %#02x, want %#02x", bit, got, bit)
		}
	}
}

func TestPlaneValue(t *testing.T) {
	tests := []struct {
		format PixelFormat
		bit    uint8
		want   float32
	}{
		{Format5551, 1, 128.0 / 255.0},
		{Format4444, 1, 16.0 / 255.0},
		{Format4444, 8, 128.0 / 255.0},
		{Format8888, 1, 1.0 / 255.0},
		{Format8888, 0x80, 128.0 / 255.0},
	}
	for _, tt := range tests {
		if got := tt.format.PlaneValue(tt.bit); got != tt.want {
			t.Errorf("%v.PlaneValue(%#02x) = %v, want %v", tt.format, tt.bit, got, tt.want)
		}
	}
}

// The shader truncates plane values with floor(v*255.99); every plane of
// every format must survive that round trip as a nonzero integer, or the
// discard rule would divide by zero.
func TestPlaneValueQuantization(t *testing.T) {
	for _, format := range []PixelFormat{Format5551, Format4444, Format8888} {
		planes := 1 << format.Info().StencilBits
		for i := 1; i < planes; i <<= 1 {
			v := format.PlaneValue(uint8(i))
			q := int(v * 255.99)
			if q <= 0 {
				t.Errorf("%v plane %#02x quantizes to %d", format, i, q)
			}
		}
	}
}
