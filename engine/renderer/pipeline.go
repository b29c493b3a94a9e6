package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type PipelineConfig struct {
	Name             string
	RenderPass       *RenderPass
	Subpass          uint32
	Stages           []metadata.ShaderStageDescription
	VertexBindings   []metadata.VertexInputBinding
	VertexAttributes []metadata.VertexInputAttribute
	// Ordered by set index.
	SetLayouts    []*DescriptorSetLayout
	PushConstants []metadata.PushConstantRange
	Topology      metadata.PrimitiveTopology
	CullMode      metadata.CullMode
	DepthTest     bool
	DepthWrite    bool
	DepthCompare  metadata.CompareOp
	BlendEnabled  bool
	Fragment      metadata.FragmentProgram
}

// Pipeline is immutable once compiled. Changing any state means creating a new one.
type Pipeline struct {
	device  Device
	handle  metadata.Handle
	name    string
	pass    *RenderPass
	layouts []*DescriptorSetLayout
	push    []metadata.PushConstantRange
}

func NewPipeline(device Device, cfg PipelineConfig) (*Pipeline, error) {
	if err := validatePipeline(cfg); err != nil {
		err = errors.Wrapf(core.ErrPipelineCompileFailure, "pipeline %s: %v", cfg.Name, err)
		core.LogError(err.Error())
		return nil, err
	}

	setLayouts := make([]metadata.Handle, len(cfg.SetLayouts))
	for i, l := range cfg.SetLayouts {
		setLayouts[i] = l.Handle()
	}
	handle, err := device.CreatePipeline(metadata.PipelineDescription{
		Name:             cfg.Name,
		RenderPass:       cfg.RenderPass.Handle(),
		Subpass:          cfg.Subpass,
		Stages:           cfg.Stages,
		VertexBindings:   cfg.VertexBindings,
		VertexAttributes: cfg.VertexAttributes,
		SetLayouts:       setLayouts,
		PushConstants:    cfg.PushConstants,
		Topology:         cfg.Topology,
		CullMode:         cfg.CullMode,
		DepthTest:        cfg.DepthTest,
		DepthWrite:       cfg.DepthWrite,
		DepthCompare:     cfg.DepthCompare,
		BlendEnabled:     cfg.BlendEnabled,
		Fragment:         cfg.Fragment,
	})
	if err != nil {
		err = errors.Wrapf(core.ErrPipelineCompileFailure, "pipeline %s: %v", cfg.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	core.LogDebug("pipeline %s created", cfg.Name)
	return &Pipeline{
		device:  device,
		handle:  handle,
		name:    cfg.Name,
		pass:    cfg.RenderPass,
		layouts: cfg.SetLayouts,
		push:    cfg.PushConstants,
	}, nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.RenderPass == nil {
		return errors.New("no render pass")
	}
	if cfg.Subpass >= cfg.RenderPass.SubpassCount() {
		return errors.Newf("subpass %d out of range, render pass %s has %d", cfg.Subpass, cfg.RenderPass.Name(), cfg.RenderPass.SubpassCount())
	}
	if len(cfg.Stages) == 0 {
		return errors.New("no shader stages")
	}
	var seen metadata.ShaderStage
	for _, st := range cfg.Stages {
		if seen&st.Stage != 0 {
			return errors.Newf("duplicate %s stage", st.Stage)
		}
		seen |= st.Stage
		if len(st.Code) == 0 || st.Code[0] != metadata.SPIRVMagic {
			return errors.Newf("%s stage is not a SPIR-V module", st.Stage)
		}
	}
	if seen&metadata.ShaderStageVertex == 0 {
		return errors.New("no vertex stage")
	}
	for i, l := range cfg.SetLayouts {
		if l == nil || l.Handle().IsNull() {
			return errors.Newf("set layout %d is missing", i)
		}
	}
	for _, pc := range cfg.PushConstants {
		if pc.Size == 0 || pc.Size%4 != 0 || pc.Offset%4 != 0 {
			return errors.Newf("push constant range %d+%d is not 4 byte aligned", pc.Offset, pc.Size)
		}
		if pc.Offset+pc.Size > metadata.MaxPushConstantSize {
			return errors.Newf("push constant range %d+%d exceeds %d bytes", pc.Offset, pc.Size, metadata.MaxPushConstantSize)
		}
	}
	bindings := make(map[uint32]bool)
	for _, b := range cfg.VertexBindings {
		bindings[b.Binding] = true
	}
	for _, a := range cfg.VertexAttributes {
		if !bindings[a.Binding] {
			return errors.Newf("vertex attribute %d uses undeclared binding %d", a.Location, a.Binding)
		}
	}
	return nil
}

func (p *Pipeline) Handle() metadata.Handle {
	return p.handle
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) RenderPass() *RenderPass {
	return p.pass
}

// SetLayout returns the layout the pipeline expects at set index i.
func (p *Pipeline) SetLayout(i int) *DescriptorSetLayout {
	if i < 0 || i >= len(p.layouts) {
		return nil
	}
	return p.layouts[i]
}

func (p *Pipeline) Bind(cmd CommandContext) {
	cmd.BindPipeline(p.handle)
}

// BindSets binds sets starting at firstSet. Each set's layout must be compatible
// with the pipeline's layout at that index.
func (p *Pipeline) BindSets(cmd CommandContext, firstSet uint32, sets ...*DescriptorSet) error {
	handles := make([]metadata.Handle, len(sets))
	for i, set := range sets {
		idx := int(firstSet) + i
		if idx >= len(p.layouts) {
			return errors.Wrapf(core.ErrLayoutIncompatible, "pipeline %s has %d set layouts, binding set %d", p.name, len(p.layouts), idx)
		}
		if set == nil || set.Handle().IsNull() {
			return errors.Wrapf(core.ErrInvalidBinding, "pipeline %s: set %d is not allocated", p.name, idx)
		}
		if !p.layouts[idx].Compatible(set.Layout()) {
			return errors.Wrapf(core.ErrLayoutIncompatible, "pipeline %s: set %d layout does not match", p.name, idx)
		}
		handles[i] = set.Handle()
	}
	cmd.BindDescriptorSets(p.handle, firstSet, handles)
	return nil
}

// PushConstants records data at offset. The whole write must fall in a declared range covering stages.
func (p *Pipeline) PushConstants(cmd CommandContext, stages metadata.ShaderStage, offset uint32, data []byte) error {
	end := offset + uint32(len(data))
	for _, pc := range p.push {
		if pc.Stages&stages == stages && offset >= pc.Offset && end <= pc.Offset+pc.Size {
			cmd.PushConstants(p.handle, stages, offset, data)
			return nil
		}
	}
	return errors.Newf("pipeline %s: push constant write %d+%d outside declared ranges", p.name, offset, len(data))
}

func (p *Pipeline) Destroy() {
	if p.handle.IsNull() {
		return
	}
	p.device.DestroyPipeline(p.handle)
	p.handle = metadata.NullHandle
}
