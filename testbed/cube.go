package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type cubeFace struct {
	normal, u, v mgl32.Vec3
}

var cubeFaces = [6]cubeFace{
	{normal: mgl32.Vec3{1, 0, 0}, u: mgl32.Vec3{0, 0, -1}, v: mgl32.Vec3{0, 1, 0}},
	{normal: mgl32.Vec3{-1, 0, 0}, u: mgl32.Vec3{0, 0, 1}, v: mgl32.Vec3{0, 1, 0}},
	{normal: mgl32.Vec3{0, 1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, -1}},
	{normal: mgl32.Vec3{0, -1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, 1}},
	{normal: mgl32.Vec3{0, 0, 1}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},
	{normal: mgl32.Vec3{0, 0, -1}, u: mgl32.Vec3{-1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},
}

// CubeBuilder generates a cube centered on the origin with the given half extent.
// Each face has its own four vertices so normals and texture coordinates stay flat.
func CubeBuilder(name string, halfExtent float32) *metadata.MeshBuilder {
	b := &metadata.MeshBuilder{
		Name:     name,
		Vertices: make([]metadata.Vertex, 0, 24),
		Indices:  make([]uint32, 0, 36),
	}
	corners := [4]mgl32.Vec2{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, f := range cubeFaces {
		base := uint32(len(b.Vertices))
		for _, c := range corners {
			p := f.normal.Add(f.u.Mul(c.X())).Add(f.v.Mul(c.Y())).Mul(halfExtent)
			b.Vertices = append(b.Vertices, metadata.Vertex{
				Position: p,
				Normal:   f.normal,
				TexCoord: mgl32.Vec2{(c.X() + 1) / 2, (c.Y() + 1) / 2},
				Colour:   mgl32.Vec3{1, 1, 1},
			})
		}
		b.Indices = append(b.Indices, base, base+1, base+2, base+2, base+3, base)
	}
	return b
}
