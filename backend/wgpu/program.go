package wgpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/stencil_upload.wgsl
var stencilUploadShaderSource string

// planeUniformSize is the byte size of the PlaneUniforms block:
// vec2 uv_scale, f32 plane_value, f32 padding.
const planeUniformSize = 16

// vertexStride is the byte stride of one quad vertex: x, y, u, v.
const vertexStride = 16

// quadVertices is a full-screen quad as two triangles in clip space,
// with v flipped so texel row 0 lands at the top of the viewport.
var quadVertices = []float32{
	-1, -1, 0, 1,
	1, -1, 1, 1,
	1, 1, 1, 0,
	-1, -1, 0, 1,
	1, 1, 1, 0,
	-1, 1, 0, 0,
}

// compileShaderToSPIRV compiles WGSL source into SPIR-V words.
func compileShaderToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// Program holds the compiled stencil reconstruction shader and the GPU
// resources shared by every pipeline variant. It implements
// [emufb.Program].
type Program struct {
	backend *Backend

	shader        hal.ShaderModule
	uniformLayout hal.BindGroupLayout
	pipeLayout    hal.PipelineLayout
	sampler       hal.Sampler
	vertexBuf     hal.Buffer
	uniformBuf    hal.Buffer

	planeValue float32
}

// SetPlaneValue implements [emufb.Program]. The value reaches the
// shader through the uniform write in DrawQuad.
func (p *Program) SetPlaneValue(v float32) { p.planeValue = v }

// compileProgram builds the shader module, layouts, sampler, and the
// static quad geometry. Called once per backend; pipeline variants are
// built lazily on top of it.
func (b *Backend) compileProgram() (*Program, error) {
	spirv, err := compileShaderToSPIRV(stencilUploadShaderSource)
	if err != nil {
		return nil, fmt.Errorf("wgpu: stencil shader: %w", err)
	}

	p := &Program{backend: b}
	ok := false
	defer func() {
		if !ok {
			p.destroy(b.device)
		}
	}()

	p.shader, err = b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "stencil_upload_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module: %w", err)
	}

	// Binding 0: PlaneUniforms (vertex+fragment)
	// Binding 1: source alpha texture (fragment)
	// Binding 2: sampler (fragment)
	p.uniformLayout, err = b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "stencil_upload_uniform_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create uniform layout: %w", err)
	}

	p.pipeLayout, err = b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "stencil_upload_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.uniformLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}

	// Nearest filtering: the source texture is read texel-exact, any
	// interpolation would corrupt the packed alpha bits.
	p.sampler, err = b.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "stencil_upload_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeNearest,
		MinFilter:    gputypes.FilterModeNearest,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create sampler: %w", err)
	}

	p.vertexBuf, err = b.createAndUploadBuffer("stencil_upload_quad",
		float32Bytes(quadVertices), gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}

	p.uniformBuf, err = b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "stencil_upload_uniforms",
		Size:  planeUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create uniform buffer: %w", err)
	}

	ok = true
	return p, nil
}

// destroy releases the program's GPU resources in reverse creation
// order. Safe on partially built programs.
func (p *Program) destroy(device hal.Device) {
	if device == nil {
		return
	}
	if p.uniformBuf != nil {
		device.DestroyBuffer(p.uniformBuf)
		p.uniformBuf = nil
	}
	if p.vertexBuf != nil {
		device.DestroyBuffer(p.vertexBuf)
		p.vertexBuf = nil
	}
	if p.sampler != nil {
		device.DestroySampler(p.sampler)
		p.sampler = nil
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.uniformLayout != nil {
		device.DestroyBindGroupLayout(p.uniformLayout)
		p.uniformLayout = nil
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}
