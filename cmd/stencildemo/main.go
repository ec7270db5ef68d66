// Command stencildemo reconstructs stencil data from a synthetic guest
// framebuffer and writes the resulting stencil plane as PNG images. With
// -view it instead opens a window displaying the reconstruction live.
//
// Usage:
//
//	stencildemo [flags]
//
// Flags:
//
//	-config file  TOML config file (created with defaults if missing)
//	-format f     guest pixel format: 5551, 4444 or 8888 (default 8888)
//	-width n      framebuffer width in pixels (default 480)
//	-height n     framebuffer height in pixels (default 272)
//	-scale n      render resolution multiplier (default from config)
//	-out dir      output directory for PNG files (default ".")
//	-view         show the reconstruction in a window instead of writing PNGs
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/emufb"
	"github.com/gogpu/emufb/backend/software"
	_ "github.com/gogpu/emufb/backend/wgpu"
)

const guestBase = 0x04000000

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file")
		formatName = flag.String("format", "8888", "guest pixel format: 5551, 4444 or 8888")
		width      = flag.Int("width", 480, "framebuffer width in pixels")
		height     = flag.Int("height", 272, "framebuffer height in pixels")
		scale      = flag.Int("scale", 0, "render resolution multiplier (0 = from config)")
		outDir     = flag.String("out", ".", "output directory for PNG files")
		view       = flag.Bool("view", false, "show the reconstruction in a window")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *verbose {
		emufb.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	if err := run(*configPath, *formatName, *width, *height, *scale, *outDir, *view); err != nil {
		fmt.Fprintln(os.Stderr, "stencildemo:", err)
		os.Exit(1)
	}
}

func run(configPath, formatName string, width, height, scale int, outDir string, view bool) error {
	cfg := emufb.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = emufb.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	if scale == 0 {
		scale = 1 << cfg.UpscaleShift
	}

	format, err := parseFormat(formatName)
	if err != nil {
		return err
	}

	// Synthetic guest memory with a test pattern in the alpha bits.
	mem := emufb.NewRAM(guestBase, width*height*format.Info().BytesPerPixel)
	fillTestPattern(mem, format, width, height)

	backend, err := openBackend(cfg.Backend)
	if err != nil {
		return err
	}
	defer backend.Close()

	hostFB, err := backend.AcquireTempFramebuffer(width*scale, height*scale)
	if err != nil {
		return err
	}
	registry := emufb.NewRegistry()
	registry.Add(&emufb.Target{
		Address:      guestBase,
		Stride:       width,
		Format:       format,
		Width:        width,
		Height:       height,
		RenderWidth:  width * scale,
		RenderHeight: height * scale,
		Framebuffer:  hostFB,
	})

	uploader := emufb.NewUploader(registry, mem, backend,
		emufb.WithLowResStencil(cfg.LowResStencil))

	// PNG output and the viewer read pixels back on the CPU, which only
	// the software backend provides.
	fb, hasReadback := hostFB.(*software.Framebuffer)

	if view {
		if !hasReadback {
			return fmt.Errorf("-view needs CPU readback; set backend = %q in the config, not %q",
				emufb.BackendSoftware, backend.Name())
		}
		return runViewer(uploader, mem, fb, format, width, height, scale, cfg.SkipZeroUploads)
	}

	size := width * height * format.Info().BytesPerPixel
	if !uploader.NotifyStencilUpload(guestBase, size, cfg.SkipZeroUploads) {
		return fmt.Errorf("upload not handled")
	}

	if !hasReadback {
		fmt.Printf("reconstructed on the %s backend; PNG output needs backend = %q in the config\n",
			backend.Name(), emufb.BackendSoftware)
		return nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	stencilPath := filepath.Join(outDir, fmt.Sprintf("stencil_%s.png", format))
	if err := writeGrayPNG(stencilPath, fb.StencilImage()); err != nil {
		return err
	}
	fmt.Println("wrote", stencilPath)

	// One PNG per used bit plane, for inspecting individual planes.
	pix := mem.Bytes(guestBase, size)
	usage, _ := emufb.StencilUsage(pix, format)
	for bit := uint8(1); bit != 0; bit <<= 1 {
		if usage&bit == 0 {
			continue
		}
		plane := extractPlane(fb.Stencil(), bit)
		planePath := filepath.Join(outDir, fmt.Sprintf("stencil_%s_bit%02x.png", format, bit))
		img := &image.Gray{Pix: plane, Stride: width * scale,
			Rect: image.Rect(0, 0, width*scale, height*scale)}
		if err := writeGrayPNG(planePath, img); err != nil {
			return err
		}
		fmt.Println("wrote", planePath)
	}

	snapPath := filepath.Join(outDir, fmt.Sprintf("stencil_%s.snapshot", format))
	if err := writeSnapshot(snapPath, guestBase, format, width, height, pix, fb.Stencil()); err != nil {
		return err
	}
	fmt.Println("wrote", snapPath)
	return nil
}

// openBackend creates the backend named in the config. An empty name
// selects the software backend, since the demo's default outputs need
// CPU readback.
func openBackend(name string) (emufb.Backend, error) {
	if name == "" {
		return software.New(), nil
	}
	b, err := emufb.NewBackend(name)
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w (registered: %s)",
			name, err, strings.Join(emufb.AvailableBackends(), ", "))
	}
	return b, nil
}

func parseFormat(name string) (emufb.PixelFormat, error) {
	switch name {
	case "5551":
		return emufb.Format5551, nil
	case "4444":
		return emufb.Format4444, nil
	case "8888":
		return emufb.Format8888, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want 5551, 4444 or 8888)", name)
	}
}

// fillTestPattern writes concentric alpha rings into guest memory so
// every stencil bit plane of the format gets exercised.
func fillTestPattern(mem *emufb.RAM, format emufb.PixelFormat, width, height int) {
	bpp := format.Info().BytesPerPixel
	pix := mem.Bytes(guestBase, width*height*bpp)
	cx, cy := width/2, height/2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-cx, y-cy
			d := dx*dx + dy*dy
			ring := d / (width * height / 64)
			writePixelAlpha(pix, format, y*width+x, uint8(ring))
		}
	}
}

func writePixelAlpha(pix []byte, format emufb.PixelFormat, i int, alpha uint8) {
	switch format {
	case emufb.Format5551:
		if alpha&1 != 0 {
			pix[i*2+1] |= 0x80
		}
	case emufb.Format4444:
		pix[i*2+1] = pix[i*2+1]&0x0F | alpha<<4
	case emufb.Format8888:
		pix[i*4+3] = alpha
	}
}

func extractPlane(stencil []byte, bit uint8) []byte {
	out := make([]byte, len(stencil))
	for i, s := range stencil {
		if s&bit != 0 {
			out[i] = 0xFF
		}
	}
	return out
}

func writeGrayPNG(path string, img *image.Gray) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return err
	}
	return f.Close()
}

func writeSnapshot(path string, addr uint32, format emufb.PixelFormat, width, height int, pix, stencil []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	snap := &emufb.Snapshot{
		Address: addr,
		Format:  format,
		Width:   width,
		Height:  height,
		Stride:  width,
		Pixels:  pix,
		Stencil: stencil,
	}
	if _, err := snap.WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}
