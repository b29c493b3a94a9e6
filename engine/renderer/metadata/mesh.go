package metadata

import (
	"bytes"
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
)

type MeshID uint32

const InvalidMeshID MeshID = ^MeshID(0)

type MaterialID uint32

const InvalidMaterialID MaterialID = ^MaterialID(0)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	TexCoord mgl32.Vec2
	Colour   mgl32.Vec3
}

// VertexSize is the stride of Vertex in the global vertex buffer.
const VertexSize = uint32(4 * (3 + 3 + 2 + 3))

// VertexBindingDescription describes the global mesh buffer binding. It needs no buffer instance.
func VertexBindingDescription() VertexInputBinding {
	return VertexInputBinding{
		Binding:   0,
		Stride:    VertexSize,
		InputRate: VertexInputRateVertex,
	}
}

func VertexAttributeDescriptions() []VertexInputAttribute {
	return []VertexInputAttribute{
		{Location: 0, Binding: 0, Format: VertexFormatFloat3, Offset: 0},
		{Location: 1, Binding: 0, Format: VertexFormatFloat3, Offset: 12},
		{Location: 2, Binding: 0, Format: VertexFormatFloat2, Offset: 24},
		{Location: 3, Binding: 0, Format: VertexFormatFloat3, Offset: 32},
	}
}

// MeshBuilder is filled by asset import and registered with the mesh manager.
type MeshBuilder struct {
	Name      string
	Vertices  []Vertex
	Indices   []uint32
	Materials []string
}

// AppendVertexBytes writes the vertices little endian, tightly packed.
func (b *MeshBuilder) AppendVertexBytes(buf *bytes.Buffer) {
	for i := range b.Vertices {
		// writing into a bytes.Buffer cannot fail
		_ = binary.Write(buf, binary.LittleEndian, &b.Vertices[i])
	}
}

func (b *MeshBuilder) AppendIndexBytes(buf *bytes.Buffer) {
	_ = binary.Write(buf, binary.LittleEndian, b.Indices)
}

// MeshInfo locates one registered mesh inside the global buffers.
type MeshInfo struct {
	VertexOffset int32
	VertexCount  uint32
	FirstIndex   uint32
	IndexCount   uint32
}

// Renderable is one draw submitted to the render systems for a frame.
type Renderable struct {
	Mesh        MeshID
	Material    MaterialID
	Model       mgl32.Mat4
	CastsShadow bool
}
