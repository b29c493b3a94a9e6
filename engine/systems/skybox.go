package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// SkyboxLayout is the layout of set 1 of the skybox pipeline.
func SkyboxLayout() *renderer.DescriptorSetLayoutBuilder {
	return renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment)
}

// SkyboxSystem draws a cube map behind the scene. It owns its own layout and pool.
type SkyboxSystem struct {
	device   renderer.Device
	layout   *renderer.DescriptorSetLayout
	pool     *renderer.DescriptorPool
	set      *renderer.DescriptorSet
	sampler  *renderer.Sampler
	cubemap  *renderer.Image
	pipeline *renderer.Pipeline
}

// NewSkyboxSystem creates the skybox for cubemap, which must already be in ShaderReadOnly.
// maxSets sizes the system's pool; changing the cube map allocates a new set.
func NewSkyboxSystem(sc SystemConfig, pass *renderer.RenderPass, cubemap *renderer.Image, maxSets uint32) (*SkyboxSystem, error) {
	if maxSets == 0 {
		maxSets = 1
	}
	sb := &SkyboxSystem{device: sc.Device}

	layout, err := sc.Layouts.Get(SkyboxLayout())
	if err != nil {
		return nil, err
	}
	sb.layout = layout

	pool, err := renderer.NewDescriptorPool(sc.Device, metadata.DescriptorPoolDescription{
		Sizes:              map[metadata.DescriptorType]uint32{metadata.DescriptorTypeCombinedImageSampler: maxSets},
		MaxSets:            maxSets,
		FreeIndividualSets: true,
	})
	if err != nil {
		return nil, err
	}
	sb.pool = pool

	sampler, err := renderer.NewSampler(sc.Device, metadata.SamplerDescription{
		MinFilter:   metadata.FilterLinear,
		MagFilter:   metadata.FilterLinear,
		AddressMode: metadata.AddressModeClampToEdge,
	})
	if err != nil {
		sb.Destroy()
		return nil, err
	}
	sb.sampler = sampler

	if err := sb.SetCubemap(cubemap); err != nil {
		sb.Destroy()
		return nil, err
	}

	stages, err := sc.Shaders(ShaderSkybox)
	if err != nil {
		err = errors.Wrapf(core.ErrPipelineCompileFailure, "skybox shaders: %v", err)
		core.LogError(err.Error())
		sb.Destroy()
		return nil, err
	}
	pipeline, err := renderer.NewPipeline(sc.Device, renderer.PipelineConfig{
		Name:         "skybox",
		RenderPass:   pass,
		Stages:       stages,
		SetLayouts:   []*renderer.DescriptorSetLayout{sc.GlobalLayout, layout},
		Topology:     metadata.PrimitiveTopologyTriangleList,
		CullMode:     metadata.CullModeNone,
		DepthTest:    true,
		DepthWrite:   false,
		DepthCompare: metadata.CompareOpLessOrEqual,
	})
	if err != nil {
		sb.Destroy()
		return nil, err
	}
	sb.pipeline = pipeline
	return sb, nil
}

// SetCubemap replaces the sampled cube map. It waits for the device before freeing the old set.
func (sb *SkyboxSystem) SetCubemap(cubemap *renderer.Image) error {
	if cubemap == nil || cubemap.Handle().IsNull() {
		err := errors.Wrap(core.ErrInvalidBinding, "skybox needs a cube map")
		core.LogError(err.Error())
		return err
	}
	set, err := renderer.NewDescriptorWriter().
		WriteImage(0, cubemap, sb.sampler).
		BuildSet(sb.device, sb.pool, sb.layout)
	if err != nil {
		return err
	}
	if sb.set != nil {
		if err := sb.device.WaitIdle(); err != nil {
			return err
		}
		if err := sb.pool.Free(sb.set); err != nil {
			return err
		}
	}
	sb.set = set
	sb.cubemap = cubemap
	return nil
}

func (sb *SkyboxSystem) Name() string {
	return "skybox"
}

func (sb *SkyboxSystem) Render(frame *renderer.FrameInfo) error {
	cmd := frame.Command
	sb.pipeline.Bind(cmd)
	if err := sb.pipeline.BindSets(cmd, 0, frame.GlobalSet, sb.set); err != nil {
		return err
	}
	// cube generated in the vertex shader
	cmd.Draw(36, 1, 0, 0)
	return nil
}

// Destroy releases what the skybox owns. The cube map belongs to the caller.
func (sb *SkyboxSystem) Destroy() {
	if sb.pipeline != nil {
		sb.pipeline.Destroy()
	}
	if sb.pool != nil {
		sb.pool.Destroy()
	}
	if sb.sampler != nil {
		sb.sampler.Destroy()
	}
	sb.set = nil
}
