package emufb

import "sync"

// programCache holds the backend's compiled stencil program. Compilation
// runs at most once; a failure is latched so the Uploader never retries
// a shader the driver has already rejected, and the failure is logged
// exactly once instead of once per frame.
type programCache struct {
	mu     sync.Mutex
	prog   Program
	failed bool
}

// ensure returns the compiled program, compiling it on first use.
// Returns nil after a compilation failure.
func (c *programCache) ensure(b Backend) Program {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prog != nil || c.failed {
		return c.prog
	}
	p, err := b.CompileStencilProgram()
	if err != nil {
		Logger().Error("stencil program compilation failed",
			"backend", b.Name(), "err", err)
		c.failed = true
		return nil
	}
	c.prog = p
	return p
}
