package software

// program is the software backend's stencil reconstruction program. It
// implements [emufb.Program]; the selected plane value is stored on the
// backend, where DrawQuad reads it.
type program struct {
	backend *Backend
}

// SetPlaneValue implements [emufb.Program].
func (p *program) SetPlaneValue(v float32) { p.backend.planeValue = v }
