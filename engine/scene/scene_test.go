package scene_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/scene"
)

func TestStaleHandleIsRejected(t *testing.T) {
	s := scene.New("test")
	a := s.Create("a")
	require.NoError(t, s.Destroy(a))

	b := s.Create("b")
	assert.Equal(t, a.Index, b.Index, "slot is reused")
	assert.NotEqual(t, a.Generation, b.Generation)

	_, err := s.Transform(a)
	assert.True(t, errors.Is(err, scene.ErrStaleEntity))
	assert.False(t, s.Valid(a))
	assert.True(t, s.Valid(b))
	assert.Error(t, s.Destroy(a))
	assert.Equal(t, 1, s.Len())
}

func TestNullEntity(t *testing.T) {
	s := scene.New("test")
	assert.True(t, scene.NullEntity.IsNull())
	assert.False(t, s.Valid(scene.NullEntity))
}

func TestRenderablesFollowArenaOrder(t *testing.T) {
	s := scene.New("test")
	a := s.Create("a")
	_ = s.Create("empty")
	b := s.Create("b")
	require.NoError(t, s.SetMeshRenderer(a, scene.MeshRenderer{Mesh: 1, Material: 2, CastsShadow: true}))
	require.NoError(t, s.SetMeshRenderer(b, scene.MeshRenderer{Mesh: 3}))

	tr, err := s.Transform(b)
	require.NoError(t, err)
	tr.Position = mgl32.Vec3{1, 2, 3}

	rs := s.Renderables()
	require.Len(t, rs, 2)
	assert.Equal(t, metadata.MeshID(1), rs[0].Mesh)
	assert.True(t, rs[0].CastsShadow)
	assert.Equal(t, metadata.MeshID(3), rs[1].Mesh)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, rs[1].Model.Col(3).Vec3())

	require.NoError(t, s.RemoveMeshRenderer(a))
	assert.Len(t, s.Renderables(), 1)
}

func TestWorldMatrixComposesParents(t *testing.T) {
	s := scene.New("test")
	root := s.Create("root")
	child := s.Create("child")
	require.NoError(t, s.SetParent(child, root))

	rt, _ := s.Transform(root)
	rt.Position = mgl32.Vec3{10, 0, 0}
	ct, _ := s.Transform(child)
	ct.Position = mgl32.Vec3{0, 1, 0}

	m, err := s.WorldMatrix(child)
	require.NoError(t, err)
	assert.Equal(t, mgl32.Vec3{10, 1, 0}, m.Col(3).Vec3())

	require.Error(t, s.SetParent(root, child))

	require.NoError(t, s.Destroy(root))
	p, err := s.Parent(child)
	require.NoError(t, err)
	assert.True(t, p.IsNull())
}
