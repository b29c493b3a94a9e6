package assets

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type vertexKey struct {
	position int
	uv       int
	normal   int
}

// DecodeOBJ triangulates every face of an OBJ stream into a MeshBuilder, sharing
// vertices that repeat the same position/uv/normal triple. mtl may be nil.
// On failure the returned builder must be discarded.
func DecodeOBJ(name string, objReader, mtlReader io.Reader) (*metadata.MeshBuilder, error) {
	if mtlReader == nil {
		mtlReader = strings.NewReader("")
	}
	decoder, err := obj.DecodeReader(objReader, mtlReader)
	if err != nil {
		err = errors.Wrapf(err, "failed to decode model %s", name)
		core.LogError(err.Error())
		return nil, err
	}

	builder := &metadata.MeshBuilder{Name: name}
	unique := make(map[vertexKey]uint32)
	seen := make(map[string]bool)

	for _, object := range decoder.Objects {
		for _, face := range object.Faces {
			if face.Material != "" && !seen[face.Material] {
				seen[face.Material] = true
				builder.Materials = append(builder.Materials, face.Material)
			}
			colour := mgl32.Vec3{1, 1, 1}
			if m, ok := decoder.Materials[face.Material]; ok && m != nil {
				colour = mgl32.Vec3{m.Diffuse.R, m.Diffuse.G, m.Diffuse.B}
			}
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range [3]int{0, i - 1, i} {
					index, err := addVertex(decoder, builder, unique, face, corner, colour)
					if err != nil {
						core.LogError("model %s: %s", name, err.Error())
						return nil, err
					}
					builder.Indices = append(builder.Indices, index)
				}
			}
		}
	}

	if len(builder.Vertices) == 0 {
		err := errors.Newf("model %s has no faces", name)
		core.LogError(err.Error())
		return nil, err
	}
	return builder, nil
}

func addVertex(decoder *obj.Decoder, builder *metadata.MeshBuilder, unique map[vertexKey]uint32, face obj.Face, corner int, colour mgl32.Vec3) (uint32, error) {
	key := vertexKey{position: face.Vertices[corner], uv: -1, normal: -1}
	if corner < len(face.Uvs) {
		key.uv = face.Uvs[corner]
	}
	if corner < len(face.Normals) {
		key.normal = face.Normals[corner]
	}
	if index, ok := unique[key]; ok {
		return index, nil
	}

	if key.position < 0 || key.position*3+2 >= len(decoder.Vertices) {
		return 0, errors.Newf("vertex index %d out of range", key.position)
	}
	vert := metadata.Vertex{
		Position: mgl32.Vec3{
			decoder.Vertices[key.position*3],
			decoder.Vertices[key.position*3+1],
			decoder.Vertices[key.position*3+2],
		},
		Colour: colour,
	}
	if key.uv >= 0 && key.uv*2+1 < len(decoder.Uvs) {
		// OBJ puts v=0 at the bottom of the image
		vert.TexCoord = mgl32.Vec2{decoder.Uvs[key.uv*2], 1.0 - decoder.Uvs[key.uv*2+1]}
	}
	if key.normal >= 0 && key.normal*3+2 < len(decoder.Normals) {
		vert.Normal = mgl32.Vec3{
			decoder.Normals[key.normal*3],
			decoder.Normals[key.normal*3+1],
			decoder.Normals[key.normal*3+2],
		}
	}

	index := uint32(len(builder.Vertices))
	builder.Vertices = append(builder.Vertices, vert)
	unique[key] = index
	return index, nil
}
