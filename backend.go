package emufb

import (
	"errors"
	"sync"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when no usable backend is registered.
	ErrBackendNotAvailable = errors.New("emufb: no backend available")

	// ErrNoFramebuffer is returned by draw operations when no render
	// target is bound.
	ErrNoFramebuffer = errors.New("emufb: no framebuffer bound")

	// ErrTextureTooLarge is returned when an upload exceeds the
	// backend's texture size limits.
	ErrTextureTooLarge = errors.New("emufb: texture exceeds backend limits")
)

// CompareFunc selects how the stencil test compares the reference value
// against the stored stencil value.
type CompareFunc uint8

const (
	CompareNever CompareFunc = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

// StencilOp selects how a stencil test outcome updates the stored value.
type StencilOp uint8

const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
	StencilOpInvert
)

// ClearFlag selects which attachments a Clear call affects.
type ClearFlag uint8

const (
	ClearColorBuffer ClearFlag = 1 << iota
	ClearStencilBuffer
)

// Framebuffer is an opaque handle to a backend render target with color
// and stencil attachments.
type Framebuffer interface {
	// Size returns the target dimensions in pixels.
	Size() (width, height int)
}

// Program is a compiled stencil reconstruction program. The program
// samples an uploaded framebuffer texture and discards every fragment
// whose alpha value does not carry the selected bit plane.
type Program interface {
	// SetPlaneValue selects the bit plane for subsequent draws. The
	// value is the normalized alpha contribution of the plane, as
	// produced by [PixelFormat.PlaneValue].
	SetPlaneValue(v float32)
}

// Backend is the rendering abstraction the [Uploader] drives. It models
// a small stateful pipeline: state setters configure scissor, masks and
// stencil behavior, and DrawQuad executes a full-target pass under the
// current state.
//
// Backends are not safe for concurrent use; the Uploader serializes all
// calls.
type Backend interface {
	// Name returns the backend identifier (e.g., "software", "wgpu").
	Name() string

	// Close releases all backend resources.
	Close()

	// SupportsBlit reports whether the backend can copy stencil data
	// between targets of different sizes. Backends that cannot blit
	// force reconstruction to run directly at render resolution.
	SupportsBlit() bool

	// BindFramebuffer makes fb the current render target. A nil fb
	// unbinds the target; draws and clears then become no-ops.
	BindFramebuffer(fb Framebuffer)

	// CurrentFramebuffer returns the bound render target, or nil.
	CurrentFramebuffer() Framebuffer

	// AcquireTempFramebuffer returns a scratch render target of the
	// given size. Contents are undefined. The target stays valid until
	// the backend is closed; backends may recycle targets of matching
	// size across calls.
	AcquireTempFramebuffer(width, height int) (Framebuffer, error)

	// Viewport sets the rendered region to width x height pixels at
	// the target origin.
	Viewport(width, height int)

	SetScissorEnabled(on bool)
	SetColorMask(r, g, b, a bool)
	SetStencilEnabled(on bool)
	SetStencilFunc(fn CompareFunc, ref, mask uint8)
	SetStencilOp(stencilFail, depthFail, pass StencilOp)
	SetStencilWriteMask(mask uint8)
	SetClearColor(r, g, b, a float32)
	SetClearStencil(v uint8)

	// Clear clears the selected attachments of the bound target using
	// the configured clear values. Color writes honor the color mask;
	// stencil writes honor the stencil write mask.
	Clear(flags ClearFlag)

	// UploadTexture uploads packed framebuffer pixels as the source
	// texture for subsequent draws. stride is in pixels. The returned
	// u1, v1 are the texture coordinates of the buffer's bottom-right
	// corner, less than 1.0 when the backend padded the texture.
	UploadTexture(pix []byte, format PixelFormat, stride, width, height int) (u1, v1 float32, err error)

	// InvalidateTexture marks the uploaded texture as single-use so the
	// backend will not cache it against future uploads of the same pixels.
	InvalidateTexture()

	// CompileStencilProgram compiles the reconstruction program. Called
	// once per backend; the Uploader caches the result.
	CompileStencilProgram() (Program, error)

	// UseProgram binds a previously compiled program for DrawQuad.
	UseProgram(p Program)

	// DrawQuad draws a full-viewport quad sampling the uploaded texture
	// over [0,u1] x [0,v1], under the current stencil and mask state.
	DrawQuad(u1, v1 float32) error

	// BlitStencil stretches the stencil contents of src over the region
	// width x height of dst using nearest-neighbor sampling. Color data
	// is not touched.
	BlitStencil(src, dst Framebuffer, width, height int) error
}

// BackendFactory creates a new backend instance, or an error when the
// backend cannot initialize on this system.
type BackendFactory func() (Backend, error)

// Registered backend names.
const (
	BackendWGPU     = "wgpu"
	BackendSoftware = "software"
)

var (
	backendMu sync.RWMutex
	backends  = make(map[string]BackendFactory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendWGPU, BackendSoftware}
)

// RegisterBackend registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func RegisterBackend(name string, factory BackendFactory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backends[name] = factory
}

// UnregisterBackend removes a backend from the registry.
// This is useful for testing.
func UnregisterBackend(name string) {
	backendMu.Lock()
	defer backendMu.Unlock()
	delete(backends, name)
}

// AvailableBackends returns the registered backend names.
func AvailableBackends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// NewBackend creates a backend instance by name.
func NewBackend(name string) (Backend, error) {
	backendMu.RLock()
	factory, ok := backends[name]
	backendMu.RUnlock()
	if !ok {
		return nil, ErrBackendNotAvailable
	}
	return factory()
}

// DefaultBackend creates the best available backend based on priority.
// Priority order: wgpu > software.
func DefaultBackend() (Backend, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()

	var lastErr error
	for _, name := range backendPriority {
		factory, ok := backends[name]
		if !ok {
			continue
		}
		b, err := factory()
		if err != nil {
			lastErr = err
			continue
		}
		Logger().Info("backend selected", "name", b.Name())
		return b, nil
	}

	// Fallback: first registered backend outside the priority list.
	for name, factory := range backends {
		b, err := factory()
		if err != nil {
			lastErr = err
			continue
		}
		Logger().Info("backend selected", "name", name)
		return b, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrBackendNotAvailable
}
