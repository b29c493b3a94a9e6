package systems

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const postProcessFormat = metadata.FormatR32G32B32A32Sfloat

// PostProcessLayout is shared by every post-process stage: the stage input at binding 0
// and, for the tonemap, the bloom result at binding 1.
func PostProcessLayout() *renderer.DescriptorSetLayoutBuilder {
	return renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment).
		AddBinding(1, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment)
}

func postProcessPassDescription(name string, format metadata.Format, initial, final metadata.ImageLayout) metadata.RenderPassDescription {
	return metadata.RenderPassDescription{
		Name: name,
		Attachments: []metadata.AttachmentDescription{{
			Format:        format,
			LoadOp:        metadata.LoadOpDontCare,
			StoreOp:       metadata.StoreOpStore,
			InitialLayout: initial,
			FinalLayout:   final,
		}},
		Subpasses: []metadata.SubpassDescription{{
			ColorAttachments: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachment}},
		}},
		Dependencies: []metadata.SubpassDependency{
			{
				// the previous stage's output is read by this stage's fragment shader
				SrcSubpass: metadata.SubpassExternal,
				DstSubpass: 0,
				SrcStage:   metadata.PipelineStageColorAttachmentOutput,
				DstStage:   metadata.PipelineStageFragmentShader,
				SrcAccess:  metadata.AccessColorAttachmentWrite,
				DstAccess:  metadata.AccessShaderRead,
			},
			{
				SrcSubpass: 0,
				DstSubpass: metadata.SubpassExternal,
				SrcStage:   metadata.PipelineStageColorAttachmentOutput,
				DstStage:   metadata.PipelineStageFragmentShader,
				SrcAccess:  metadata.AccessColorAttachmentWrite,
				DstAccess:  metadata.AccessShaderRead,
			},
		},
	}
}

// postSlot holds the intermediate images of one frame slot and the sets reading them.
type postSlot struct {
	resolved, bloomA, bloomB         *renderer.Image
	resolvedFB, bloomAFB, bloomBFB   *renderer.Framebuffer
	resolveSet, brightSet            *renderer.DescriptorSet
	fromA, fromB, tonemapA, tonemapB *renderer.DescriptorSet
}

/**
 * @brief Chains independent render passes: HDR resolve, bright pass, the bloom blur
 * iterations ping-ponging between two images, and the tonemap into the swapchain image.
 * Each stage samples the previous stage's output through a descriptor set.
 */
type PostProcessSystem struct {
	device    renderer.Device
	layout    *renderer.DescriptorSetLayout
	pool      *renderer.DescriptorPool
	sampler   *renderer.Sampler
	offscreen *renderer.RenderPass
	present   *renderer.RenderPass

	resolve, bright, blur, tonemap *renderer.Pipeline

	slots       []*postSlot
	swapchainFB []*renderer.Framebuffer

	mu       sync.Mutex
	tunables config.PostProcessConfig
}

func NewPostProcessSystem(ctx context.Context, sc SystemConfig, scene *SceneTarget, swapchain []*renderer.Image, tunables config.PostProcessConfig) (*PostProcessSystem, error) {
	if err := tunables.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if len(swapchain) == 0 {
		err := errors.New("post-process needs at least one swapchain image")
		core.LogError(err.Error())
		return nil, err
	}
	n := sc.Device.FramesInFlight()
	pp := &PostProcessSystem{device: sc.Device, tunables: tunables}

	layout, err := sc.Layouts.Get(PostProcessLayout())
	if err != nil {
		return nil, err
	}
	pp.layout = layout

	const setsPerSlot = 6
	pool, err := renderer.NewDescriptorPool(sc.Device, metadata.DescriptorPoolDescription{
		Sizes:   map[metadata.DescriptorType]uint32{metadata.DescriptorTypeCombinedImageSampler: 2 * setsPerSlot * n},
		MaxSets: setsPerSlot * n,
	})
	if err != nil {
		return nil, err
	}
	pp.pool = pool

	sampler, err := renderer.NewSampler(sc.Device, metadata.SamplerDescription{
		MinFilter:   metadata.FilterLinear,
		MagFilter:   metadata.FilterLinear,
		AddressMode: metadata.AddressModeClampToEdge,
	})
	if err != nil {
		pp.Destroy()
		return nil, err
	}
	pp.sampler = sampler

	offscreen, err := renderer.NewRenderPass(sc.Device, postProcessPassDescription("postprocess",
		postProcessFormat, metadata.ImageLayoutShaderReadOnly, metadata.ImageLayoutShaderReadOnly))
	if err != nil {
		pp.Destroy()
		return nil, err
	}
	pp.offscreen = offscreen

	present, err := renderer.NewRenderPass(sc.Device, postProcessPassDescription("tonemap",
		swapchain[0].Format(), metadata.ImageLayoutUndefined, metadata.ImageLayoutPresentSrc))
	if err != nil {
		pp.Destroy()
		return nil, err
	}
	pp.present = present

	for _, img := range swapchain {
		fb, err := renderer.NewFramebuffer(sc.Device, present, img)
		if err != nil {
			pp.Destroy()
			return nil, err
		}
		pp.swapchainFB = append(pp.swapchainFB, fb)
	}

	for i := uint32(0); i < n; i++ {
		if err := pp.createSlot(ctx, scene.Colour(i), scene.Extent()); err != nil {
			pp.Destroy()
			return nil, err
		}
	}

	stage := func(name, shader string, pass *renderer.RenderPass, program metadata.FragmentProgram) (*renderer.Pipeline, error) {
		stages, err := sc.Shaders(shader)
		if err != nil {
			err = errors.Wrapf(core.ErrPipelineCompileFailure, "%s shaders: %v", name, err)
			core.LogError(err.Error())
			return nil, err
		}
		return renderer.NewPipeline(sc.Device, renderer.PipelineConfig{
			Name:          name,
			RenderPass:    pass,
			Stages:        stages,
			SetLayouts:    []*renderer.DescriptorSetLayout{layout},
			PushConstants: []metadata.PushConstantRange{{Stages: metadata.ShaderStageFragment, Offset: 0, Size: 16}},
			Topology:      metadata.PrimitiveTopologyTriangleList,
			CullMode:      metadata.CullModeNone,
			Fragment:      program,
		})
	}
	if pp.resolve, err = stage("postprocess-resolve", ShaderPostProcessResolve, offscreen, resolveProgram); err != nil {
		pp.Destroy()
		return nil, err
	}
	if pp.bright, err = stage("postprocess-bright", ShaderPostProcessBright, offscreen, brightPassProgram); err != nil {
		pp.Destroy()
		return nil, err
	}
	if pp.blur, err = stage("postprocess-blur", ShaderPostProcessBlur, offscreen, blurProgram); err != nil {
		pp.Destroy()
		return nil, err
	}
	if pp.tonemap, err = stage("postprocess-tonemap", ShaderPostProcessTonemap, present, tonemapProgram); err != nil {
		pp.Destroy()
		return nil, err
	}
	return pp, nil
}

// createSlot appends the slot before filling it so Destroy releases a partially built one.
func (pp *PostProcessSystem) createSlot(ctx context.Context, sceneColour *renderer.Image, extent metadata.Extent2D) error {
	slot := &postSlot{}
	pp.slots = append(pp.slots, slot)
	images := []**renderer.Image{&slot.resolved, &slot.bloomA, &slot.bloomB}
	fbs := []**renderer.Framebuffer{&slot.resolvedFB, &slot.bloomAFB, &slot.bloomBFB}
	for i, dst := range images {
		img, err := renderer.NewImage(pp.device, metadata.ImageDescription{
			Extent: extent,
			Format: postProcessFormat,
			Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageSampled,
		})
		if err != nil {
			return err
		}
		*dst = img
		if err := img.PrepareForSampling(ctx); err != nil {
			return err
		}
		fb, err := renderer.NewFramebuffer(pp.device, pp.offscreen, img)
		if err != nil {
			return err
		}
		*fbs[i] = fb
	}

	pairs := []struct {
		dst      **renderer.DescriptorSet
		in0, in1 *renderer.Image
	}{
		{&slot.resolveSet, sceneColour, sceneColour},
		{&slot.brightSet, slot.resolved, slot.resolved},
		{&slot.fromA, slot.bloomA, slot.bloomA},
		{&slot.fromB, slot.bloomB, slot.bloomB},
		{&slot.tonemapA, slot.resolved, slot.bloomA},
		{&slot.tonemapB, slot.resolved, slot.bloomB},
	}
	for _, p := range pairs {
		set, err := renderer.NewDescriptorWriter().
			WriteImage(0, p.in0, pp.sampler).
			WriteImage(1, p.in1, pp.sampler).
			BuildSet(pp.device, pp.pool, pp.layout)
		if err != nil {
			return err
		}
		*p.dst = set
	}
	return nil
}

func (pp *PostProcessSystem) Name() string {
	return "postprocess"
}

func (pp *PostProcessSystem) Tunables() config.PostProcessConfig {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.tunables
}

// SetTunables replaces exposure, gamma and bloom settings. It is safe to call from
// another goroutine; the change applies from the next recorded frame.
func (pp *PostProcessSystem) SetTunables(t config.PostProcessConfig) error {
	if err := t.Validate(); err != nil {
		core.LogError(err.Error())
		return err
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.tunables = t
	return nil
}

func (pp *PostProcessSystem) stage(cmd renderer.CommandContext, pass *renderer.RenderPass, fb *renderer.Framebuffer,
	pipeline *renderer.Pipeline, set *renderer.DescriptorSet, push []byte) error {
	if err := pass.Begin(cmd, fb, nil); err != nil {
		return err
	}
	defer pass.End(cmd)
	pipeline.Bind(cmd)
	if err := pipeline.BindSets(cmd, 0, set); err != nil {
		return err
	}
	if err := pipeline.PushConstants(cmd, metadata.ShaderStageFragment, 0, push); err != nil {
		return err
	}
	cmd.Draw(3, 1, 0, 0)
	return nil
}

func (pp *PostProcessSystem) Render(frame *renderer.FrameInfo) error {
	if int(frame.ImageIndex) >= len(pp.swapchainFB) {
		return errors.Newf("swapchain image %d has no framebuffer", frame.ImageIndex)
	}
	t := pp.Tunables()
	slot := pp.slots[frame.SlotIndex]
	cmd := frame.Command
	params := floatBytes(t.Exposure, t.Gamma, t.BloomStrength, t.BloomThreshold)

	if err := pp.stage(cmd, pp.offscreen, slot.resolvedFB, pp.resolve, slot.resolveSet, params); err != nil {
		return err
	}

	tonemapSet := slot.tonemapA
	strength := float32(0)
	if t.BloomIterations > 0 {
		if err := pp.stage(cmd, pp.offscreen, slot.bloomAFB, pp.bright, slot.brightSet, params); err != nil {
			return err
		}
		inA := true
		for i := uint32(0); i < t.BloomIterations; i++ {
			dir := floatBytes(1, 0, 0, 0)
			if i%2 == 1 {
				dir = floatBytes(0, 1, 0, 0)
			}
			var err error
			if inA {
				err = pp.stage(cmd, pp.offscreen, slot.bloomBFB, pp.blur, slot.fromA, dir)
			} else {
				err = pp.stage(cmd, pp.offscreen, slot.bloomAFB, pp.blur, slot.fromB, dir)
			}
			if err != nil {
				return err
			}
			inA = !inA
		}
		if !inA {
			tonemapSet = slot.tonemapB
		}
		strength = t.BloomStrength
	}

	return pp.stage(cmd, pp.present, pp.swapchainFB[frame.ImageIndex], pp.tonemap, tonemapSet,
		floatBytes(t.Exposure, t.Gamma, strength, t.BloomThreshold))
}

func (pp *PostProcessSystem) Destroy() {
	for _, p := range []*renderer.Pipeline{pp.resolve, pp.bright, pp.blur, pp.tonemap} {
		if p != nil {
			p.Destroy()
		}
	}
	for _, fb := range pp.swapchainFB {
		fb.Destroy()
	}
	pp.swapchainFB = nil
	for _, slot := range pp.slots {
		for _, fb := range []*renderer.Framebuffer{slot.resolvedFB, slot.bloomAFB, slot.bloomBFB} {
			if fb != nil {
				fb.Destroy()
			}
		}
		for _, img := range []*renderer.Image{slot.resolved, slot.bloomA, slot.bloomB} {
			if img != nil {
				img.Destroy()
			}
		}
	}
	pp.slots = nil
	if pp.pool != nil {
		pp.pool.Destroy()
	}
	if pp.sampler != nil {
		pp.sampler.Destroy()
	}
	if pp.offscreen != nil {
		pp.offscreen.Destroy()
	}
	if pp.present != nil {
		pp.present.Destroy()
	}
}
