package testbed

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/scene"
)

func TestCubeBuilder(t *testing.T) {
	b := CubeBuilder("cube", 2)
	require.Len(t, b.Vertices, 24)
	require.Len(t, b.Indices, 36)

	for _, v := range b.Vertices {
		// every corner sits on the surface of the cube
		for i := 0; i < 3; i++ {
			assert.InDelta(t, 2.0, float64(mgl32.Abs(v.Position[i])), 1e-6)
		}
		// and on the side its normal points to
		assert.Greater(t, v.Position.Dot(v.Normal), float32(0))
	}
	for _, idx := range b.Indices {
		assert.Less(t, idx, uint32(len(b.Vertices)))
	}
}

func TestCubeWindingFacesOutwards(t *testing.T) {
	b := CubeBuilder("cube", 1)
	for i := 0; i < len(b.Indices); i += 3 {
		p0 := b.Vertices[b.Indices[i]].Position
		p1 := b.Vertices[b.Indices[i+1]].Position
		p2 := b.Vertices[b.Indices[i+2]].Position
		n := p1.Sub(p0).Cross(p2.Sub(p0))
		assert.Greater(t, n.Dot(b.Vertices[b.Indices[i]].Normal), float32(0), "triangle %d", i/3)
	}
}

func TestSpinScriptRotatesEntity(t *testing.T) {
	sc := scene.New("test")
	e := sc.Create("spinner")
	s := NewSpinScript(sc, e, mgl32.Vec3{0, 2, 0}, mgl32.DegToRad(90))
	require.NoError(t, s.Begin())

	require.NoError(t, s.Update(1.0))
	tr, err := sc.Transform(e)
	require.NoError(t, err)
	x := tr.Rotation.Rotate(mgl32.Vec3{1, 0, 0})
	assert.InDelta(t, 0.0, x.X(), 1e-5)
	assert.InDelta(t, -1.0, x.Z(), 1e-5)

	require.NoError(t, sc.Destroy(e))
	assert.Error(t, s.Update(1.0))
}
