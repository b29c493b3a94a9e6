package systems_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type materialFixture struct {
	*fixture
	scene    *systems.SceneTarget
	meshes   *systems.MeshManager
	material *systems.MaterialSystem
}

func newMaterialFixture(t *testing.T, sets uint32) *materialFixture {
	t.Helper()
	f := newFixture(t, 2)
	scene, err := systems.NewSceneTarget(f.device, f.device.SwapchainExtent(), [4]float32{})
	require.NoError(t, err)
	t.Cleanup(scene.Destroy)
	mm := systems.NewMeshManager(f.device, 16)
	t.Cleanup(mm.Destroy)
	ss, err := systems.NewShadowSystem(context.Background(), f.sc, mm, config.ShadowPolicySameFrame, 4)
	require.NoError(t, err)
	t.Cleanup(ss.Destroy)
	ms, err := systems.NewMaterialSystem(f.sc, scene.RenderPass(), ss, mm, config.PoolConfig{
		MaterialSets:     sets,
		MaterialSamplers: sets,
		MaterialUniforms: sets,
		SkyboxSets:       1,
	})
	require.NoError(t, err)
	t.Cleanup(ms.Destroy)
	return &materialFixture{fixture: f, scene: scene, meshes: mm, material: ms}
}

func TestCreateMaterialWithoutAlbedo(t *testing.T) {
	mf := newMaterialFixture(t, 2)
	_, err := mf.material.CreateMaterial("broken", nil, systems.MaterialParams{})
	assert.True(t, errors.Is(err, core.ErrInvalidBinding))
	assert.Equal(t, 0, mf.material.Len())
}

func TestMaterialPoolExhaustion(t *testing.T) {
	mf := newMaterialFixture(t, 2)
	albedo := texture(t, mf.device, [4]byte{255, 255, 255, 255})

	first, err := mf.material.CreateMaterial("a", albedo, systems.MaterialParams{DiffuseColour: mgl32.Vec4{1, 1, 1, 1}})
	require.NoError(t, err)
	_, err = mf.material.CreateMaterial("b", albedo, systems.MaterialParams{})
	require.NoError(t, err)

	_, err = mf.material.CreateMaterial("c", albedo, systems.MaterialParams{})
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))

	_, err = mf.material.CreateMaterial("a", albedo, systems.MaterialParams{})
	assert.Error(t, err)

	require.NoError(t, mf.material.DestroyMaterial(first))
	_, ok := mf.material.Lookup("a")
	assert.False(t, ok)
	_, err = mf.material.CreateMaterial("c", albedo, systems.MaterialParams{})
	assert.NoError(t, err)
}

func TestMaterialRender(t *testing.T) {
	mf := newMaterialFixture(t, 4)
	albedo := texture(t, mf.device, [4]byte{200, 100, 50, 255})
	id, err := mf.material.CreateMaterial("red", albedo, systems.MaterialParams{Roughness: 0.5})
	require.NoError(t, err)
	mesh, err := mf.meshes.RegisterModel(triangle("tri"))
	require.NoError(t, err)
	require.NoError(t, mf.meshes.UpdateBuffer())

	m, ok := mf.material.Material(id)
	require.True(t, ok)
	assert.Equal(t, "red", m.Name)

	objects := []metadata.Renderable{
		{Mesh: mesh, Material: id, Model: mgl32.Ident4()},
		{Mesh: mesh, Material: id, Model: mgl32.Translate3D(1, 0, 0)},
	}
	before := mf.device.Stats().Draws
	_, err = frame(t, mf.fixture, objects, func(fi *renderer.FrameInfo) error {
		if err := mf.scene.Begin(fi); err != nil {
			return err
		}
		defer mf.scene.End(fi)
		return mf.material.Render(fi)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), mf.device.Stats().Draws-before)
}

func TestMaterialRenderUnknownMaterial(t *testing.T) {
	mf := newMaterialFixture(t, 2)
	mesh, err := mf.meshes.RegisterModel(triangle("tri"))
	require.NoError(t, err)
	require.NoError(t, mf.meshes.UpdateBuffer())

	objects := []metadata.Renderable{{Mesh: mesh, Material: metadata.MaterialID(7), Model: mgl32.Ident4()}}
	_, err = frame(t, mf.fixture, objects, func(fi *renderer.FrameInfo) error {
		if err := mf.scene.Begin(fi); err != nil {
			return err
		}
		defer mf.scene.End(fi)
		return mf.material.Render(fi)
	})
	assert.Error(t, err)
}
