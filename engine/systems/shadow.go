package systems

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const ShadowMapFormat = metadata.FormatD32Sfloat

// vulkanClip maps OpenGL clip space to Vulkan's: Y down, depth in [0,1].
var vulkanClip = mgl32.Mat4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// ShadowLayout is the layout of the set the lighting pass samples the shadow map through.
func ShadowLayout() *renderer.DescriptorSetLayoutBuilder {
	return renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment)
}

// ShadowRenderPassDescription writes depth only. The image is sampled before and after the
// pass, so it enters and leaves in ShaderReadOnly.
func ShadowRenderPassDescription() metadata.RenderPassDescription {
	return metadata.RenderPassDescription{
		Name: "shadow",
		Attachments: []metadata.AttachmentDescription{{
			Format:        ShadowMapFormat,
			LoadOp:        metadata.LoadOpClear,
			StoreOp:       metadata.StoreOpStore,
			InitialLayout: metadata.ImageLayoutShaderReadOnly,
			FinalLayout:   metadata.ImageLayoutShaderReadOnly,
		}},
		Subpasses: []metadata.SubpassDescription{{
			DepthAttachment: &metadata.AttachmentReference{Attachment: 0, Layout: metadata.ImageLayoutDepthStencilAttachment},
		}},
		Dependencies: []metadata.SubpassDependency{
			{
				SrcSubpass: metadata.SubpassExternal,
				DstSubpass: 0,
				SrcStage:   metadata.PipelineStageFragmentShader,
				DstStage:   metadata.PipelineStageEarlyFragmentTests,
				SrcAccess:  metadata.AccessShaderRead,
				DstAccess:  metadata.AccessDepthStencilAttachmentWrite,
			},
			{
				// depth writes are visible to the lighting pass that samples them
				SrcSubpass: 0,
				DstSubpass: metadata.SubpassExternal,
				SrcStage:   metadata.PipelineStageLateFragmentTests,
				DstStage:   metadata.PipelineStageFragmentShader,
				SrcAccess:  metadata.AccessDepthStencilAttachmentWrite,
				DstAccess:  metadata.AccessShaderRead,
			},
		},
	}
}

/**
 * @brief Renders the shadow casters into a ring of depth images, one per frame slot.
 * The ring index advances in lock-step with the frame slot. Which ring image the
 * lighting pass samples depends on the shadow policy.
 */
type ShadowSystem struct {
	device       renderer.Device
	policy       config.ShadowPolicy
	size         uint32
	pass         *renderer.RenderPass
	images       []*renderer.Image
	framebuffers []*renderer.Framebuffer
	sampler      *renderer.Sampler
	layout       *renderer.DescriptorSetLayout
	pool         *renderer.DescriptorPool
	sets         []*renderer.DescriptorSet
	pipeline     *renderer.Pipeline
	meshes       *MeshManager

	imageIndex uint32
	// Radius of the sphere around the origin the light frustum covers.
	SceneRadius float32
}

func NewShadowSystem(ctx context.Context, sc SystemConfig, meshes *MeshManager, policy config.ShadowPolicy, size uint32) (*ShadowSystem, error) {
	n := sc.Device.FramesInFlight()
	if policy == config.ShadowPolicyOneFrameLag && n < 2 {
		err := errors.Wrapf(core.ErrInvalidConfig, "shadow policy %s needs at least 2 frames in flight", policy)
		core.LogError(err.Error())
		return nil, err
	}
	ss := &ShadowSystem{
		device:      sc.Device,
		policy:      policy,
		size:        size,
		meshes:      meshes,
		SceneRadius: 20.0,
	}

	pass, err := renderer.NewRenderPass(sc.Device, ShadowRenderPassDescription())
	if err != nil {
		return nil, err
	}
	ss.pass = pass

	sampler, err := renderer.NewSampler(sc.Device, metadata.SamplerDescription{
		MinFilter:   metadata.FilterLinear,
		MagFilter:   metadata.FilterLinear,
		AddressMode: metadata.AddressModeClampToEdge,
		Compare:     true,
	})
	if err != nil {
		ss.Destroy()
		return nil, err
	}
	ss.sampler = sampler

	layout, err := sc.Layouts.Get(ShadowLayout())
	if err != nil {
		ss.Destroy()
		return nil, err
	}
	ss.layout = layout

	pool, err := renderer.NewDescriptorPool(sc.Device, metadata.DescriptorPoolDescription{
		Sizes:   map[metadata.DescriptorType]uint32{metadata.DescriptorTypeCombinedImageSampler: n},
		MaxSets: n,
	})
	if err != nil {
		ss.Destroy()
		return nil, err
	}
	ss.pool = pool

	extent := metadata.Extent2D{Width: size, Height: size}
	for i := uint32(0); i < n; i++ {
		img, err := renderer.NewImage(sc.Device, metadata.ImageDescription{
			Extent: extent,
			Format: ShadowMapFormat,
			Usage:  metadata.ImageUsageDepthStencilAttachment | metadata.ImageUsageSampled,
		})
		if err != nil {
			ss.Destroy()
			return nil, err
		}
		ss.images = append(ss.images, img)
		if err := img.PrepareForSampling(ctx); err != nil {
			ss.Destroy()
			return nil, err
		}
		fb, err := renderer.NewFramebuffer(sc.Device, pass, img)
		if err != nil {
			ss.Destroy()
			return nil, err
		}
		ss.framebuffers = append(ss.framebuffers, fb)

		set, err := renderer.NewDescriptorWriter().
			WriteImage(0, img, sampler).
			BuildSet(sc.Device, pool, layout)
		if err != nil {
			ss.Destroy()
			return nil, err
		}
		ss.sets = append(ss.sets, set)
	}

	stages, err := sc.Shaders(ShaderShadow)
	if err != nil {
		err = errors.Wrapf(core.ErrPipelineCompileFailure, "shadow shaders: %v", err)
		core.LogError(err.Error())
		ss.Destroy()
		return nil, err
	}
	pipeline, err := renderer.NewPipeline(sc.Device, renderer.PipelineConfig{
		Name:             "shadow",
		RenderPass:       pass,
		Stages:           stages,
		VertexBindings:   []metadata.VertexInputBinding{metadata.VertexBindingDescription()},
		VertexAttributes: metadata.VertexAttributeDescriptions(),
		SetLayouts:       []*renderer.DescriptorSetLayout{sc.GlobalLayout},
		PushConstants:    []metadata.PushConstantRange{{Stages: metadata.ShaderStageVertex, Offset: 0, Size: 64}},
		Topology:         metadata.PrimitiveTopologyTriangleList,
		CullMode:         metadata.CullModeFront,
		DepthTest:        true,
		DepthWrite:       true,
		DepthCompare:     metadata.CompareOpLessOrEqual,
	})
	if err != nil {
		ss.Destroy()
		return nil, err
	}
	ss.pipeline = pipeline
	core.LogInfo("shadow system created: %d maps of %dx%d, policy %s", n, size, size, policy)
	return ss, nil
}

func (ss *ShadowSystem) Name() string {
	return "shadow"
}

func (ss *ShadowSystem) Policy() config.ShadowPolicy {
	return ss.policy
}

func (ss *ShadowSystem) Layout() *renderer.DescriptorSetLayout {
	return ss.layout
}

// ImageIndex is the ring image the last Render wrote.
func (ss *ShadowSystem) ImageIndex() uint32 {
	return ss.imageIndex
}

// Image returns ring image i.
func (ss *ShadowSystem) Image(i uint32) *renderer.Image {
	return ss.images[i]
}

// SampledIndex returns the ring image the lighting pass of slot reads.
func (ss *ShadowSystem) SampledIndex(slot uint32) uint32 {
	n := uint32(len(ss.images))
	if ss.policy == config.ShadowPolicyOneFrameLag {
		return (slot + n - 1) % n
	}
	return slot
}

// SampledSet returns the set exposing the shadow map the lighting pass of slot reads.
func (ss *ShadowSystem) SampledSet(slot uint32) *renderer.DescriptorSet {
	return ss.sets[ss.SampledIndex(slot)]
}

// LightSpace builds the orthographic light matrix for a directional light.
func (ss *ShadowSystem) LightSpace(direction mgl32.Vec3) mgl32.Mat4 {
	r := ss.SceneRadius
	dir := direction.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math.Abs(float64(dir.Dot(up))) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	view := mgl32.LookAtV(dir.Mul(-r), mgl32.Vec3{}, up)
	proj := mgl32.Ortho(-r, r, -r, r, 0.1, 2*r)
	return vulkanClip.Mul4(proj).Mul4(view)
}

func (ss *ShadowSystem) Update(frame *renderer.FrameInfo, ubo *metadata.GlobalUBO) error {
	ubo.LightSpace = ss.LightSpace(ubo.LightDirection.Vec3())
	return nil
}

// createNextImage moves the ring to the image owned by the frame's slot.
func (ss *ShadowSystem) createNextImage(frame *renderer.FrameInfo) {
	ss.imageIndex = frame.SlotIndex % uint32(len(ss.images))
}

func (ss *ShadowSystem) Render(frame *renderer.FrameInfo) error {
	ss.createNextImage(frame)
	cmd := frame.Command

	if err := ss.pass.Begin(cmd, ss.framebuffers[ss.imageIndex], []metadata.ClearValue{{Depth: 1.0}}); err != nil {
		return err
	}
	defer ss.pass.End(cmd)

	casters := 0
	for _, obj := range frame.Objects {
		if obj.CastsShadow {
			casters++
		}
	}
	if casters == 0 {
		return nil
	}

	ss.pipeline.Bind(cmd)
	if err := ss.pipeline.BindSets(cmd, 0, frame.GlobalSet); err != nil {
		return err
	}
	if err := ss.meshes.Bind(cmd); err != nil {
		return err
	}
	for _, obj := range frame.Objects {
		if !obj.CastsShadow {
			continue
		}
		if err := ss.pipeline.PushConstants(cmd, metadata.ShaderStageVertex, 0, matrixBytes(obj.Model)); err != nil {
			return err
		}
		if err := ss.meshes.Draw(cmd, obj.Mesh); err != nil {
			return err
		}
	}
	return nil
}

func (ss *ShadowSystem) Destroy() {
	if ss.pipeline != nil {
		ss.pipeline.Destroy()
	}
	if ss.pool != nil {
		ss.pool.Destroy()
	}
	for _, fb := range ss.framebuffers {
		fb.Destroy()
	}
	for _, img := range ss.images {
		img.Destroy()
	}
	ss.framebuffers, ss.images, ss.sets = nil, nil, nil
	if ss.sampler != nil {
		ss.sampler.Destroy()
	}
	if ss.pass != nil {
		ss.pass.Destroy()
	}
}
