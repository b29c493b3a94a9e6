package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type Pipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	Layout vk.PipelineLayout
}

func (p *Pipeline) destroy(d *Device) {
	if p.Handle != vk.NullPipeline {
		vk.DestroyPipeline(d.LogicalDevice, p.Handle, d.Allocator)
		p.Handle = vk.NullPipeline
	}
	if p.Layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(d.LogicalDevice, p.Layout, d.Allocator)
		p.Layout = vk.NullPipelineLayout
	}
}

func (d *Device) CreatePipeline(desc metadata.PipelineDescription) (metadata.Handle, error) {
	d.mu.RLock()
	rp, ok := d.renderPasses[desc.RenderPass]
	setLayouts := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	for i, h := range desc.SetLayouts {
		l, found := d.setLayouts[h]
		if !found {
			d.mu.RUnlock()
			return metadata.NullHandle, errors.Newf("pipeline %s: unknown descriptor set layout %d", desc.Name, h)
		}
		setLayouts[i] = l.Handle
	}
	d.mu.RUnlock()
	if !ok {
		return metadata.NullHandle, errors.Newf("pipeline %s: unknown render pass %d", desc.Name, desc.RenderPass)
	}
	if desc.Subpass >= uint32(len(rp.Desc.Subpasses)) {
		return metadata.NullHandle, errors.Wrapf(core.ErrPipelineCompileFailure, "pipeline %s: subpass %d out of range", desc.Name, desc.Subpass)
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Stages))
	modules := make([]*ShaderStage, 0, len(desc.Stages))
	defer func() {
		// Modules are not needed once the pipeline exists.
		for _, m := range modules {
			m.destroy(d)
		}
	}()
	for _, s := range desc.Stages {
		stage, err := d.newShaderStage(desc.Name, s)
		if err != nil {
			core.LogError(err.Error())
			return metadata.NullHandle, err
		}
		modules = append(modules, stage)
		stages = append(stages, stage.ShaderStageCreateInfo)
	}

	// Viewport and scissor are dynamic; the counts still have to be declared.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vkCullMode(desc.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vkCompareOp(desc.DepthCompare)
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	// One blend state per colour attachment of the subpass.
	colorCount := len(rp.Desc.Subpasses[desc.Subpass].ColorAttachments)
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, colorCount)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable: vk.False,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
		if desc.BlendEnabled {
			blendAttachments[i].BlendEnable = vk.True
			blendAttachments[i].SrcColorBlendFactor = vk.BlendFactorSrcAlpha
			blendAttachments[i].DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendAttachments[i].ColorBlendOp = vk.BlendOpAdd
			blendAttachments[i].SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
			blendAttachments[i].DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendAttachments[i].AlphaBlendOp = vk.BlendOpAdd
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(colorCount),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		rate := vk.VertexInputRateVertex
		if b.InputRate == metadata.VertexInputRateInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: rate,
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vkVertexFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vkTopology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if len(desc.PushConstants) > 0 {
		ranges := make([]vk.PushConstantRange, len(desc.PushConstants))
		for i, r := range desc.PushConstants {
			if r.Offset+r.Size > metadata.MaxPushConstantSize {
				return metadata.NullHandle, errors.Wrapf(core.ErrPipelineCompileFailure, "pipeline %s: push constant range %d+%d exceeds %d bytes", desc.Name, r.Offset, r.Size, metadata.MaxPushConstantSize)
			}
			ranges[i] = vk.PushConstantRange{
				StageFlags: vkShaderStages(r.Stages),
				Offset:     r.Offset,
				Size:       r.Size,
			}
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = uint32(len(ranges))
		pipelineLayoutCreateInfo.PPushConstantRanges = ranges
	}

	out := &Pipeline{}
	err := d.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.PipelineLayout
		if res := vk.CreatePipelineLayout(d.LogicalDevice, &pipelineLayoutCreateInfo, d.Allocator, &layout); res != vk.Success {
			return errors.Wrapf(core.ErrPipelineCompileFailure, "pipeline %s: vkCreatePipelineLayout: %s", desc.Name, resultString(res))
		}
		out.Layout = layout

		pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
			SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
			StageCount:          uint32(len(stages)),
			PStages:             stages,
			PVertexInputState:   &vertexInputInfo,
			PInputAssemblyState: &inputAssembly,
			PViewportState:      &viewportState,
			PRasterizationState: &rasterizerCreateInfo,
			PMultisampleState:   &multisamplingCreateInfo,
			PDepthStencilState:  &depthStencil,
			PColorBlendState:    &colorBlendStateCreateInfo,
			PDynamicState:       &dynamicStateCreateInfo,
			Layout:              out.Layout,
			RenderPass:          rp.Handle,
			Subpass:             desc.Subpass,
			BasePipelineHandle:  vk.NullPipeline,
			BasePipelineIndex:   -1,
		}
		pipelines := make([]vk.Pipeline, 1)
		if res := vk.CreateGraphicsPipelines(d.LogicalDevice, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.Allocator, pipelines); res != vk.Success {
			return errors.Wrapf(core.ErrPipelineCompileFailure, "pipeline %s: vkCreateGraphicsPipelines: %s", desc.Name, resultString(res))
		}
		out.Handle = pipelines[0]
		return nil
	})
	if err != nil {
		out.destroy(d)
		core.LogError(err.Error())
		return metadata.NullHandle, err
	}
	core.LogDebug("Graphics pipeline %s created!", desc.Name)

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.pipelines[h] = out
	return h, nil
}

func (d *Device) DestroyPipeline(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[h]
	if !ok {
		core.LogWarn("DestroyPipeline: unknown pipeline %d", h)
		return
	}
	p.destroy(d)
	delete(d.pipelines, h)
}
