package systems

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

// MaterialParamsSize is the size of the material uniform block.
const MaterialParamsSize = uint64(32)

type MaterialParams struct {
	DiffuseColour mgl32.Vec4
	Roughness     float32
	Metallic      float32
	Emissive      float32
}

func (p MaterialParams) Bytes() []byte {
	c := p.DiffuseColour
	return floatBytes(c[0], c[1], c[2], c[3], p.Roughness, p.Metallic, p.Emissive, 0)
}

// MaterialLayout is the layout of set 1 of the material pipeline: the albedo texture
// and the material uniform block.
func MaterialLayout() *renderer.DescriptorSetLayoutBuilder {
	return renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment).
		AddBinding(1, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageFragment)
}

type Material struct {
	ID     metadata.MaterialID
	Name   string
	Albedo *renderer.Image
	Params MaterialParams

	uniform *renderer.Buffer
	set     *renderer.DescriptorSet
}

func (m *Material) Set() *renderer.DescriptorSet {
	return m.set
}

/**
 * @brief Draws every renderable with its material. Sets bound per draw:
 * 0 the global block, 1 the material, 2 the shadow map picked by the shadow policy.
 */
type MaterialSystem struct {
	device   renderer.Device
	layout   *renderer.DescriptorSetLayout
	pool     *renderer.DescriptorPool
	sampler  *renderer.Sampler
	pipeline *renderer.Pipeline
	shadow   *ShadowSystem
	meshes   *MeshManager

	materials map[metadata.MaterialID]*Material
	lookup    map[string]metadata.MaterialID
	nextID    metadata.MaterialID
}

func NewMaterialSystem(sc SystemConfig, pass *renderer.RenderPass, shadow *ShadowSystem, meshes *MeshManager, pools config.PoolConfig) (*MaterialSystem, error) {
	if pools.MaterialSets == 0 {
		err := errors.Wrap(core.ErrInvalidConfig, "material pool needs at least one set")
		core.LogError(err.Error())
		return nil, err
	}
	ms := &MaterialSystem{
		device:    sc.Device,
		shadow:    shadow,
		meshes:    meshes,
		materials: make(map[metadata.MaterialID]*Material),
		lookup:    make(map[string]metadata.MaterialID),
	}

	layout, err := sc.Layouts.Get(MaterialLayout())
	if err != nil {
		return nil, err
	}
	ms.layout = layout

	pool, err := renderer.NewDescriptorPool(sc.Device, metadata.DescriptorPoolDescription{
		Sizes: map[metadata.DescriptorType]uint32{
			metadata.DescriptorTypeCombinedImageSampler: pools.MaterialSamplers,
			metadata.DescriptorTypeUniformBuffer:        pools.MaterialUniforms,
		},
		MaxSets:            pools.MaterialSets,
		FreeIndividualSets: true,
	})
	if err != nil {
		return nil, err
	}
	ms.pool = pool

	sampler, err := renderer.NewSampler(sc.Device, metadata.SamplerDescription{
		MinFilter:   metadata.FilterLinear,
		MagFilter:   metadata.FilterLinear,
		AddressMode: metadata.AddressModeRepeat,
	})
	if err != nil {
		ms.Destroy()
		return nil, err
	}
	ms.sampler = sampler

	stages, err := sc.Shaders(ShaderMaterial)
	if err != nil {
		err = errors.Wrapf(core.ErrPipelineCompileFailure, "material shaders: %v", err)
		core.LogError(err.Error())
		ms.Destroy()
		return nil, err
	}
	pipeline, err := renderer.NewPipeline(sc.Device, renderer.PipelineConfig{
		Name:             "material",
		RenderPass:       pass,
		Stages:           stages,
		VertexBindings:   []metadata.VertexInputBinding{metadata.VertexBindingDescription()},
		VertexAttributes: metadata.VertexAttributeDescriptions(),
		SetLayouts:       []*renderer.DescriptorSetLayout{sc.GlobalLayout, layout, shadow.Layout()},
		PushConstants:    []metadata.PushConstantRange{{Stages: metadata.ShaderStageVertex, Offset: 0, Size: 64}},
		Topology:         metadata.PrimitiveTopologyTriangleList,
		CullMode:         metadata.CullModeBack,
		DepthTest:        true,
		DepthWrite:       true,
		DepthCompare:     metadata.CompareOpLess,
	})
	if err != nil {
		ms.Destroy()
		return nil, err
	}
	ms.pipeline = pipeline
	return ms, nil
}

func (ms *MaterialSystem) Name() string {
	return "material"
}

/**
 * @brief Creates a material sampling albedo, which must be in ShaderReadOnly.
 * Pool exhaustion is returned as is; callers needing more materials must
 * configure a larger pool.
 */
func (ms *MaterialSystem) CreateMaterial(name string, albedo *renderer.Image, params MaterialParams) (metadata.MaterialID, error) {
	if _, ok := ms.lookup[name]; ok {
		err := errors.Newf("material '%s' already exists", name)
		core.LogError(err.Error())
		return metadata.InvalidMaterialID, err
	}
	if albedo == nil || albedo.Handle().IsNull() {
		err := errors.Wrapf(core.ErrInvalidBinding, "material '%s' has no albedo texture", name)
		core.LogError(err.Error())
		return metadata.InvalidMaterialID, err
	}
	if err := ms.pool.CanAllocate(ms.layout); err != nil {
		core.LogError(err.Error())
		return metadata.InvalidMaterialID, err
	}

	uniform, err := renderer.NewBuffer(ms.device, MaterialParamsSize, metadata.BufferUsageUniform,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent)
	if err != nil {
		return metadata.InvalidMaterialID, err
	}
	if err := uniform.Write(params.Bytes(), 0); err != nil {
		uniform.Destroy()
		return metadata.InvalidMaterialID, err
	}
	set, err := renderer.NewDescriptorWriter().
		WriteImage(0, albedo, ms.sampler).
		WriteBuffer(1, metadata.DescriptorTypeUniformBuffer, uniform, 0, MaterialParamsSize).
		BuildSet(ms.device, ms.pool, ms.layout)
	if err != nil {
		uniform.Destroy()
		return metadata.InvalidMaterialID, err
	}

	id := ms.nextID
	ms.nextID++
	ms.materials[id] = &Material{
		ID:      id,
		Name:    name,
		Albedo:  albedo,
		Params:  params,
		uniform: uniform,
		set:     set,
	}
	ms.lookup[name] = id
	core.LogDebug("material '%s' created with id %d", name, id)
	return id, nil
}

func (ms *MaterialSystem) Material(id metadata.MaterialID) (*Material, bool) {
	m, ok := ms.materials[id]
	return m, ok
}

func (ms *MaterialSystem) Lookup(name string) (metadata.MaterialID, bool) {
	id, ok := ms.lookup[name]
	return id, ok
}

func (ms *MaterialSystem) Len() int {
	return len(ms.materials)
}

// DestroyMaterial waits for the device, then returns the material's set to the pool.
func (ms *MaterialSystem) DestroyMaterial(id metadata.MaterialID) error {
	m, ok := ms.materials[id]
	if !ok {
		return errors.Newf("unknown material %d", id)
	}
	if err := ms.device.WaitIdle(); err != nil {
		return err
	}
	if err := ms.pool.Free(m.set); err != nil {
		return err
	}
	m.uniform.Destroy()
	delete(ms.materials, id)
	delete(ms.lookup, m.Name)
	return nil
}

func (ms *MaterialSystem) Render(frame *renderer.FrameInfo) error {
	if len(frame.Objects) == 0 {
		return nil
	}
	cmd := frame.Command
	ms.pipeline.Bind(cmd)
	if err := ms.pipeline.BindSets(cmd, 0, frame.GlobalSet); err != nil {
		return err
	}
	if err := ms.meshes.Bind(cmd); err != nil {
		return err
	}
	shadowSet := ms.shadow.SampledSet(frame.SlotIndex)
	for _, obj := range frame.Objects {
		m, ok := ms.materials[obj.Material]
		if !ok {
			err := errors.Newf("renderable uses unknown material %d", obj.Material)
			core.LogError(err.Error())
			return err
		}
		if err := ms.pipeline.BindSets(cmd, 1, m.set, shadowSet); err != nil {
			return err
		}
		if err := ms.pipeline.PushConstants(cmd, metadata.ShaderStageVertex, 0, matrixBytes(obj.Model)); err != nil {
			return err
		}
		if err := ms.meshes.Draw(cmd, obj.Mesh); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MaterialSystem) Destroy() {
	for _, m := range ms.materials {
		m.uniform.Destroy()
	}
	ms.materials = make(map[metadata.MaterialID]*Material)
	ms.lookup = make(map[string]metadata.MaterialID)
	if ms.pipeline != nil {
		ms.pipeline.Destroy()
	}
	if ms.pool != nil {
		ms.pool.Destroy()
	}
	if ms.sampler != nil {
		ms.sampler.Destroy()
	}
}
