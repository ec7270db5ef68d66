package emufb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Snapshot captures a target's packed guest pixels and, optionally, the
// reconstructed stencil plane, for offline inspection and regression
// comparison of reconstruction results.
type Snapshot struct {
	Address uint32
	Format  PixelFormat
	Width   int
	Height  int
	Stride  int

	// Pixels holds the packed guest framebuffer bytes.
	Pixels []byte

	// Stencil holds one byte per pixel of reconstructed stencil data,
	// or nil when no reconstruction result was captured.
	Stencil []byte
}

// ErrBadSnapshot is returned when snapshot data is truncated or not a
// snapshot at all.
var ErrBadSnapshot = errors.New("emufb: malformed snapshot")

// snapshotMagic identifies the serialized snapshot format.
const snapshotMagic = "EFBS"

const snapshotHeaderSize = 4 + 4 + 1 + 3 + 4*4 + 8

var (
	zstdEncPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
		return dec
	}}
)

func compressZstd(data []byte) []byte {
	enc := zstdEncPool.Get().(*zstd.Encoder)
	defer zstdEncPool.Put(enc)
	return enc.EncodeAll(data, nil)
}

func decompressZstd(data []byte) ([]byte, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)
	return dec.DecodeAll(data, nil)
}

// WriteTo serializes the snapshot: a fixed little-endian header followed
// by a zstd-compressed payload of pixels then stencil bytes.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	payload := make([]byte, 0, len(s.Pixels)+len(s.Stencil))
	payload = append(payload, s.Pixels...)
	payload = append(payload, s.Stencil...)
	compressed := compressZstd(payload)

	hdr := make([]byte, snapshotHeaderSize)
	copy(hdr[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(hdr[4:], s.Address)
	hdr[8] = byte(s.Format)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(s.Width))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(s.Height))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(s.Stride))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(s.Pixels)))
	binary.LittleEndian.PutUint64(hdr[28:], uint64(len(compressed)))

	n, err := w.Write(hdr)
	written := int64(n)
	if err != nil {
		return written, fmt.Errorf("emufb: writing snapshot header: %w", err)
	}
	n, err = w.Write(compressed)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("emufb: writing snapshot payload: %w", err)
	}
	return written, nil
}

// ReadSnapshot deserializes a snapshot written by [Snapshot.WriteTo].
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	hdr := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	if string(hdr[0:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}

	s := &Snapshot{
		Address: binary.LittleEndian.Uint32(hdr[4:]),
		Format:  PixelFormat(hdr[8]),
		Width:   int(binary.LittleEndian.Uint32(hdr[12:])),
		Height:  int(binary.LittleEndian.Uint32(hdr[16:])),
		Stride:  int(binary.LittleEndian.Uint32(hdr[20:])),
	}
	const maxSnapshotDim = 32768
	if !s.Format.Valid() ||
		s.Width < 0 || s.Width > maxSnapshotDim ||
		s.Height < 0 || s.Height > maxSnapshotDim ||
		s.Stride < 0 || s.Stride > maxSnapshotDim {
		return nil, fmt.Errorf("%w: bad header fields", ErrBadSnapshot)
	}
	pixLen := int(binary.LittleEndian.Uint32(hdr[24:]))
	compLen := binary.LittleEndian.Uint64(hdr[28:])

	// Bound allocations by what the declared dimensions can hold: the
	// payload is at most the packed pixels plus one stencil byte per
	// pixel, and zstd adds at most a small framing overhead on top.
	maxPix := s.Stride * s.Height * s.Format.Info().BytesPerPixel
	maxPayload := maxPix + s.Width*s.Height
	if pixLen < 0 || pixLen > maxPix {
		return nil, fmt.Errorf("%w: pixel data exceeds declared size", ErrBadSnapshot)
	}
	if compLen > uint64(maxPayload+maxPayload/8+1024) {
		return nil, fmt.Errorf("%w: unreasonable payload size", ErrBadSnapshot)
	}

	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	payload, err := decompressZstd(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	if pixLen > len(payload) {
		return nil, fmt.Errorf("%w: truncated payload", ErrBadSnapshot)
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: payload exceeds declared size", ErrBadSnapshot)
	}
	s.Pixels = payload[:pixLen]
	if len(payload) > pixLen {
		s.Stencil = payload[pixLen:]
	}
	return s, nil
}
