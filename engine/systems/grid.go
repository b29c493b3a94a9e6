package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// GridSystem draws an infinite ground grid blended over the scene.
type GridSystem struct {
	pipeline *renderer.Pipeline
	Enabled  bool
}

func NewGridSystem(sc SystemConfig, pass *renderer.RenderPass) (*GridSystem, error) {
	stages, err := sc.Shaders(ShaderGrid)
	if err != nil {
		err = errors.Wrapf(core.ErrPipelineCompileFailure, "grid shaders: %v", err)
		core.LogError(err.Error())
		return nil, err
	}
	pipeline, err := renderer.NewPipeline(sc.Device, renderer.PipelineConfig{
		Name:         "grid",
		RenderPass:   pass,
		Stages:       stages,
		SetLayouts:   []*renderer.DescriptorSetLayout{sc.GlobalLayout},
		Topology:     metadata.PrimitiveTopologyTriangleList,
		CullMode:     metadata.CullModeNone,
		DepthTest:    true,
		DepthWrite:   false,
		DepthCompare: metadata.CompareOpLess,
		BlendEnabled: true,
	})
	if err != nil {
		return nil, err
	}
	return &GridSystem{pipeline: pipeline, Enabled: true}, nil
}

func (g *GridSystem) Name() string {
	return "grid"
}

func (g *GridSystem) Render(frame *renderer.FrameInfo) error {
	if !g.Enabled {
		return nil
	}
	g.pipeline.Bind(frame.Command)
	if err := g.pipeline.BindSets(frame.Command, 0, frame.GlobalSet); err != nil {
		return err
	}
	// two triangles spanning the ground plane, unprojected in the vertex shader
	frame.Command.Draw(6, 1, 0, 0)
	return nil
}

func (g *GridSystem) Destroy() {
	g.pipeline.Destroy()
}
