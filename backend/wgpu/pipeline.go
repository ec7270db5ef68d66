package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/emufb"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// pipelineKey identifies a render pipeline variant. WebGPU bakes stencil
// operations and write masks into the pipeline, so every distinct
// combination the state machine reaches needs its own pipeline object.
type pipelineKey struct {
	writeMask   uint8
	colorMask   uint8 // bit 0=R, 1=G, 2=B, 3=A
	compare     emufb.CompareFunc
	passOp      emufb.StencilOp
	stencilTest bool
}

// pipelineCache caches render pipelines by stencil/color state.
// Reconstruction reuses a handful of variants (one per plane write
// mask), so pipelines are built on first use and kept for the life of
// the backend.
type pipelineCache struct {
	mu        sync.RWMutex
	pipelines map[pipelineKey]hal.RenderPipeline
}

// get returns the cached pipeline for key, building it on a miss.
// Double-checked locking: the read path stays contention-free once the
// working set of variants exists.
func (c *pipelineCache) get(b *Backend, p *Program, key pipelineKey) (hal.RenderPipeline, error) {
	c.mu.RLock()
	pipeline, ok := c.pipelines[key]
	c.mu.RUnlock()
	if ok {
		return pipeline, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pipeline, ok := c.pipelines[key]; ok {
		return pipeline, nil
	}

	pipeline, err := b.createPipeline(p, key)
	if err != nil {
		return nil, err
	}
	if c.pipelines == nil {
		c.pipelines = make(map[pipelineKey]hal.RenderPipeline)
	}
	c.pipelines[key] = pipeline
	return pipeline, nil
}

// size returns the number of cached pipeline variants.
func (c *pipelineCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pipelines)
}

// destroy releases every cached pipeline.
func (c *pipelineCache) destroy(device hal.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, pipeline := range c.pipelines {
		device.DestroyRenderPipeline(pipeline)
		delete(c.pipelines, key)
	}
}

func compareFunction(fn emufb.CompareFunc) gputypes.CompareFunction {
	switch fn {
	case emufb.CompareNever:
		return gputypes.CompareFunctionNever
	case emufb.CompareLess:
		return gputypes.CompareFunctionLess
	case emufb.CompareEqual:
		return gputypes.CompareFunctionEqual
	case emufb.CompareLessEqual:
		return gputypes.CompareFunctionLessEqual
	case emufb.CompareGreater:
		return gputypes.CompareFunctionGreater
	case emufb.CompareNotEqual:
		return gputypes.CompareFunctionNotEqual
	case emufb.CompareGreaterEqual:
		return gputypes.CompareFunctionGreaterEqual
	default:
		return gputypes.CompareFunctionAlways
	}
}

func stencilOperation(op emufb.StencilOp) hal.StencilOperation {
	switch op {
	case emufb.StencilOpZero:
		return hal.StencilOperationZero
	case emufb.StencilOpReplace:
		return hal.StencilOperationReplace
	case emufb.StencilOpInvert:
		return hal.StencilOperationInvert
	default:
		return hal.StencilOperationKeep
	}
}

func colorWriteMask(mask uint8) gputypes.ColorWriteMask {
	var wm gputypes.ColorWriteMask
	if mask&1 != 0 {
		wm |= gputypes.ColorWriteMaskRed
	}
	if mask&2 != 0 {
		wm |= gputypes.ColorWriteMaskGreen
	}
	if mask&4 != 0 {
		wm |= gputypes.ColorWriteMaskBlue
	}
	if mask&8 != 0 {
		wm |= gputypes.ColorWriteMaskAlpha
	}
	return wm
}

// createPipeline builds the render pipeline variant for key. The quad
// geometry and shader are shared; only the stencil face state and the
// color write mask differ between variants.
func (b *Backend) createPipeline(p *Program, key pipelineKey) (hal.RenderPipeline, error) {
	face := hal.StencilFaceState{
		Compare:     compareFunction(key.compare),
		FailOp:      hal.StencilOperationKeep,
		DepthFailOp: hal.StencilOperationKeep,
		PassOp:      stencilOperation(key.passOp),
	}
	writeMask := uint32(key.writeMask)
	if !key.stencilTest {
		// Stencil disabled: the attachment is still part of the pass,
		// so neutralize the test instead of omitting the state.
		face = hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		writeMask = 0
	}

	pipeline, err := b.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("stencil_upload_pipeline_m%02x", key.writeMask),
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.shader,
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{
				{
					ArrayStride: vertexStride,
					StepMode:    gputypes.VertexStepModeVertex,
					Attributes: []gputypes.VertexAttribute{
						{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0}, // position
						{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1}, // uv
					},
				},
			},
		},
		Fragment: &hal.FragmentState{
			Module:     p.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    colorFormat,
					WriteMask: colorWriteMask(key.colorMask),
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
			StencilWriteMask:  writeMask,
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
		return nil, fmt.Errorf("wgpu: create pipeline (mask %#02x): %w", key.writeMask, err)
	}
	return pipeline, nil
}
