package wgpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/masked_clear.wgsl
var maskedClearShaderSource string

// clearUniformSize is the byte size of the ClearUniforms block: one
// vec4 clear color.
const clearUniformSize = 16

// clearVertexStride is the byte stride of one clear quad vertex: x, y.
const clearVertexStride = 8

// clearQuadVertices is a full-screen quad as two clip-space triangles.
var clearQuadVertices = []float32{
	-1, -1,
	1, -1,
	1, 1,
	-1, -1,
	1, 1,
	-1, 1,
}

// maskedClear holds the resources for clears that must respect a
// partial color write mask. An attachment load-op clear always writes
// every channel, so those clears draw a fullscreen masked quad instead.
// Built lazily on the first partial-mask clear.
type maskedClear struct {
	shader     hal.ShaderModule
	layout     hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	vertexBuf  hal.Buffer
	uniformBuf hal.Buffer
	pipelines  map[uint8]hal.RenderPipeline
}

func (c *maskedClear) destroy(device hal.Device) {
	for mask, pipeline := range c.pipelines {
		device.DestroyRenderPipeline(pipeline)
		delete(c.pipelines, mask)
	}
	if c.uniformBuf != nil {
		device.DestroyBuffer(c.uniformBuf)
		c.uniformBuf = nil
	}
	if c.vertexBuf != nil {
		device.DestroyBuffer(c.vertexBuf)
		c.vertexBuf = nil
	}
	if c.pipeLayout != nil {
		device.DestroyPipelineLayout(c.pipeLayout)
		c.pipeLayout = nil
	}
	if c.layout != nil {
		device.DestroyBindGroupLayout(c.layout)
		c.layout = nil
	}
	if c.shader != nil {
		device.DestroyShaderModule(c.shader)
		c.shader = nil
	}
}

// ensureMaskedClear returns the clear pipeline for the given color
// mask, building the shared resources and the variant on first use.
func (b *Backend) ensureMaskedClear(mask uint8) (hal.RenderPipeline, error) {
	if pipeline, ok := b.clear.pipelines[mask]; ok {
		return pipeline, nil
	}

	if b.clear.shader == nil {
		if err := b.buildMaskedClearResources(); err != nil {
			b.clear.destroy(b.device)
			return nil, err
		}
	}

	// The pass still carries the depth/stencil attachment, so the
	// pipeline needs a matching state with the stencil neutralized.
	face := hal.StencilFaceState{
		Compare:     gputypes.CompareFunctionAlways,
		FailOp:      hal.StencilOperationKeep,
		DepthFailOp: hal.StencilOperationKeep,
		PassOp:      hal.StencilOperationKeep,
	}
	pipeline, err := b.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("masked_clear_pipeline_m%02x", mask),
		Layout: b.clear.pipeLayout,
		Vertex: hal.VertexState{
			Module:     b.clear.shader,
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{
				{
					ArrayStride: clearVertexStride,
					StepMode:    gputypes.VertexStepModeVertex,
					Attributes: []gputypes.VertexAttribute{
						{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					},
				},
			},
		},
		Fragment: &hal.FragmentState{
			Module:     b.clear.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    colorFormat,
					WriteMask: colorWriteMask(mask),
				},
			},
		},
		DepthStencil: &hal.DepthStencilState{
			Format:            depthStencilFormat,
			DepthWriteEnabled: false,
			DepthCompare:      gputypes.CompareFunctionAlways,
			StencilFront:      face,
			StencilBack:       face,
			StencilReadMask:   0xFF,
			StencilWriteMask:  0,
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create masked clear pipeline (mask %#02x): %w", mask, err)
	}
	if b.clear.pipelines == nil {
		b.clear.pipelines = make(map[uint8]hal.RenderPipeline)
	}
	b.clear.pipelines[mask] = pipeline
	return pipeline, nil
}

func (b *Backend) buildMaskedClearResources() error {
	spirv, err := compileShaderToSPIRV(maskedClearShaderSource)
	if err != nil {
		return fmt.Errorf("wgpu: masked clear shader: %w", err)
	}
	b.clear.shader, err = b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "masked_clear_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create masked clear module: %w", err)
	}

	b.clear.layout, err = b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "masked_clear_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create masked clear bind layout: %w", err)
	}

	b.clear.pipeLayout, err = b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "masked_clear_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{b.clear.layout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create masked clear pipeline layout: %w", err)
	}

	b.clear.vertexBuf, err = b.createAndUploadBuffer("masked_clear_quad",
		float32Bytes(clearQuadVertices), gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}

	b.clear.uniformBuf, err = b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "masked_clear_uniforms",
		Size:  clearUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create masked clear uniforms: %w", err)
	}
	return nil
}
