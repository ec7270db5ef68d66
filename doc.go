// Package emufb reconstructs host stencil buffers from emulated-console
// framebuffer memory.
//
// The emulated GPU stores stencil values inside the alpha channel of its
// packed framebuffer formats. When guest software writes pixel data
// directly to framebuffer memory, the host render target's stencil
// attachment goes stale: the stencil bits are in guest RAM, but the
// stencil buffer on the host GPU still holds whatever a previous draw
// left there. This package detects such uploads, scans the uploaded
// pixels to find which stencil bit planes are actually in use, and
// replays each used plane into the host stencil buffer with one masked
// draw per bit.
//
// The entry point is [Uploader.NotifyStencilUpload]. Rendering work is
// delegated to a [Backend]; backend/software provides a pure-CPU
// reference implementation and backend/wgpu a GPU implementation built
// on wgpu/hal. Backends self-register via blank import:
//
//	import _ "github.com/gogpu/emufb/backend/software"
//
// emufb produces no log output by default. Call [SetLogger] to enable
// structured logging.
package emufb
