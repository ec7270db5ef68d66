package emufb

import (
	"encoding/binary"
	"testing"
)

func pack16(vals ...uint16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func pack32(vals ...uint32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func TestStencilUsage5551(t *testing.T) {
	tests := []struct {
		name string
		pix  []byte
		want uint8
	}{
		{"empty", nil, 0},
		{"all clear", pack16(0x7FFF, 0x0000, 0x1234), 0},
		{"first pixel set", pack16(0x8000, 0x0000), 1},
		{"second pixel of word set", pack16(0x0000, 0x8000), 1},
		{"only color bits", pack16(0x7FFF, 0x7FFF, 0x7FFF, 0x7FFF), 0},
		{"odd trailing pixel set", pack16(0x0000, 0x0000, 0x8000), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StencilUsage(tt.pix, Format5551)
			if !ok {
				t.Fatal("StencilUsage() ok = false, want true")
			}
			if got != tt.want {
				t.Errorf("StencilUsage() = %#02x, want %#02x", got, tt.want)
			}
		})
	}
}

func TestStencilUsage4444(t *testing.T) {
	tests := []struct {
		name string
		pix  []byte
		want uint8
	}{
		{"empty", nil, 0},
		{"all clear", pack16(0x0FFF, 0x0ABC), 0},
		{"low pixel nibble", pack16(0x5000, 0x0000), 0x5},
		{"high pixel nibble", pack16(0x0000, 0xA000), 0xA},
		{"nibbles accumulate", pack16(0x1000, 0x2000, 0x4000, 0x8000), 0xF},
		{"odd trailing pixel", pack16(0x0000, 0x0000, 0x3000), 0x3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StencilUsage(tt.pix, Format4444)
			if !ok {
				t.Fatal("StencilUsage() ok = false, want true")
			}
			if got != tt.want {
				t.Errorf("StencilUsage() = %#02x, want %#02x", got, tt.want)
			}
		})
	}
}

func TestStencilUsage8888(t *testing.T) {
	tests := []struct {
		name string
		pix  []byte
		want uint8
	}{
		{"empty", nil, 0},
		{"all clear", pack32(0x00FFFFFF, 0x00123456), 0},
		{"single alpha byte", pack32(0x42000000), 0x42},
		{"alpha accumulates", pack32(0x01000000, 0x02000000, 0x80000000), 0x83},
		{"color bits ignored", pack32(0x00FFFFFF), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StencilUsage(tt.pix, Format8888)
			if !ok {
				t.Fatal("StencilUsage() ok = false, want true")
			}
			if got != tt.want {
				t.Errorf("StencilUsage() = %#02x, want %#02x", got, tt.want)
			}
		})
	}
}

func TestStencilUsageNoStencilFormats(t *testing.T) {
	if _, ok := StencilUsage(pack16(0xFFFF), Format565); ok {
		t.Error("StencilUsage(565) ok = true, want false")
	}
	if _, ok := StencilUsage(pack16(0xFFFF), PixelFormat(250)); ok {
		t.Error("StencilUsage(invalid) ok = true, want false")
	}
}
