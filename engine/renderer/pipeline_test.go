package renderer_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func pipelineConfig(pass *renderer.RenderPass, layouts ...*renderer.DescriptorSetLayout) renderer.PipelineConfig {
	return renderer.PipelineConfig{
		Name:             "test",
		RenderPass:       pass,
		Stages:           stages(),
		VertexBindings:   []metadata.VertexInputBinding{metadata.VertexBindingDescription()},
		VertexAttributes: metadata.VertexAttributeDescriptions(),
		SetLayouts:       layouts,
		PushConstants:    []metadata.PushConstantRange{{Stages: metadata.ShaderStageVertex, Offset: 0, Size: 64}},
		CullMode:         metadata.CullModeBack,
		DepthTest:        true,
		DepthWrite:       true,
	}
}

func TestPipelineCompileFailures(t *testing.T) {
	d := newDevice(t, 2)
	pass, err := renderer.NewRenderPass(d, colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly))
	require.NoError(t, err)
	layout := materialLayout(t, d)

	cases := map[string]func(c *renderer.PipelineConfig){
		"no stages": func(c *renderer.PipelineConfig) { c.Stages = nil },
		"no vertex stage": func(c *renderer.PipelineConfig) {
			c.Stages = c.Stages[1:]
		},
		"duplicate stage": func(c *renderer.PipelineConfig) {
			c.Stages = append(c.Stages, c.Stages[0])
		},
		"not spir-v": func(c *renderer.PipelineConfig) {
			c.Stages[0].Code = []uint32{0xdeadbeef}
		},
		"subpass out of range": func(c *renderer.PipelineConfig) { c.Subpass = 1 },
		"push constants too large": func(c *renderer.PipelineConfig) {
			c.PushConstants = []metadata.PushConstantRange{{Stages: metadata.ShaderStageVertex, Offset: 64, Size: 128}}
		},
		"attribute without binding": func(c *renderer.PipelineConfig) { c.VertexBindings = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := pipelineConfig(pass, layout)
			cfg.Stages = stages()
			mutate(&cfg)
			_, err := renderer.NewPipeline(d, cfg)
			assert.True(t, errors.Is(err, core.ErrPipelineCompileFailure))
		})
	}

	p, err := renderer.NewPipeline(d, pipelineConfig(pass, layout))
	require.NoError(t, err)
	p.Destroy()
}

func TestCompatibleLayoutsAreInterchangeable(t *testing.T) {
	d := newDevice(t, 2)
	pass, err := renderer.NewRenderPass(d, colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly))
	require.NoError(t, err)

	pipelineLayout := materialLayout(t, d)
	setLayout := materialLayout(t, d)
	otherLayout, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex).
		Build(d)
	require.NoError(t, err)

	p, err := renderer.NewPipeline(d, pipelineConfig(pass, pipelineLayout))
	require.NoError(t, err)

	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes: map[metadata.DescriptorType]uint32{
			metadata.DescriptorTypeCombinedImageSampler: 1,
			metadata.DescriptorTypeUniformBuffer:        2,
		},
		MaxSets: 2,
	})
	require.NoError(t, err)
	compatible, err := pool.Allocate(setLayout)
	require.NoError(t, err)
	incompatible, err := pool.Allocate(otherLayout)
	require.NoError(t, err)

	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		p.Bind(cmd)
		require.NoError(t, p.BindSets(cmd, 0, compatible))
		err := p.BindSets(cmd, 0, incompatible)
		assert.True(t, errors.Is(err, core.ErrLayoutIncompatible))
		err = p.BindSets(cmd, 1, compatible)
		assert.True(t, errors.Is(err, core.ErrLayoutIncompatible))
		return nil
	})
	require.NoError(t, err)
}

func TestPushConstantRanges(t *testing.T) {
	d := newDevice(t, 2)
	pass, err := renderer.NewRenderPass(d, colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly))
	require.NoError(t, err)
	p, err := renderer.NewPipeline(d, pipelineConfig(pass))
	require.NoError(t, err)

	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		assert.NoError(t, p.PushConstants(cmd, metadata.ShaderStageVertex, 0, make([]byte, 64)))
		assert.Error(t, p.PushConstants(cmd, metadata.ShaderStageVertex, 32, make([]byte, 64)))
		assert.Error(t, p.PushConstants(cmd, metadata.ShaderStageFragment, 0, make([]byte, 16)))
		return nil
	})
	require.NoError(t, err)
}
