package systems

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief Owns the global vertex and index buffers every mesh is drawn from.
 * Registration only records the model; UpdateBuffer rebuilds the buffers once
 * for the whole batch of registrations since the last rebuild.
 */
type MeshManager struct {
	device renderer.Device
	lookup map[*metadata.MeshBuilder]metadata.MeshID
	models []*metadata.MeshBuilder
	infos  []metadata.MeshInfo

	vertexCount uint32
	indexCount  uint32
	minVertices uint32

	vertexBuffer *renderer.Buffer
	indexBuffer  *renderer.Buffer
	vertexBytes  uint64
	indexBytes   uint64
	dirty        bool
	rebuilds     int
}

func NewMeshManager(device renderer.Device, initialVertices uint32) *MeshManager {
	return &MeshManager{
		device:      device,
		lookup:      make(map[*metadata.MeshBuilder]metadata.MeshID),
		minVertices: initialVertices,
	}
}

/**
 * @brief Registers a model with the manager.
 * Registering the same model again returns the ID it already has.
 *
 * @param model The mesh builder filled by asset import.
 * @return The ID of the mesh.
 */
func (mm *MeshManager) RegisterModel(model *metadata.MeshBuilder) (metadata.MeshID, error) {
	if model == nil {
		err := errors.New("cannot register a nil model")
		core.LogError(err.Error())
		return metadata.InvalidMeshID, err
	}
	if id, ok := mm.lookup[model]; ok {
		return id, nil
	}
	if len(model.Vertices) == 0 {
		err := errors.Newf("model '%s' has no vertices", model.Name)
		core.LogError(err.Error())
		return metadata.InvalidMeshID, err
	}
	for _, idx := range model.Indices {
		if int(idx) >= len(model.Vertices) {
			err := errors.Newf("model '%s' index %d out of range of %d vertices", model.Name, idx, len(model.Vertices))
			core.LogError(err.Error())
			return metadata.InvalidMeshID, err
		}
	}

	indexCount := uint32(len(model.Indices))
	if indexCount == 0 {
		indexCount = uint32(len(model.Vertices))
	}
	info := metadata.MeshInfo{
		VertexOffset: int32(mm.vertexCount),
		VertexCount:  uint32(len(model.Vertices)),
		FirstIndex:   mm.indexCount,
		IndexCount:   indexCount,
	}
	mm.vertexCount += info.VertexCount
	mm.indexCount += info.IndexCount

	id := metadata.MeshID(len(mm.models))
	mm.lookup[model] = id
	mm.models = append(mm.models, model)
	mm.infos = append(mm.infos, info)
	mm.dirty = true
	core.LogDebug("registered mesh '%s' as %d (%d vertices, %d indices)", model.Name, id, info.VertexCount, info.IndexCount)
	return id, nil
}

func (mm *MeshManager) Mesh(id metadata.MeshID) (metadata.MeshInfo, bool) {
	if int(id) >= len(mm.infos) {
		return metadata.MeshInfo{}, false
	}
	return mm.infos[id], true
}

func (mm *MeshManager) Len() int {
	return len(mm.models)
}

// Dirty reports whether registrations are waiting for UpdateBuffer.
func (mm *MeshManager) Dirty() bool {
	return mm.dirty
}

// Rebuilds counts how many times the buffers were rebuilt.
func (mm *MeshManager) Rebuilds() int {
	return mm.rebuilds
}

/**
 * @brief Rebuilds the global buffers from every registered mesh. Does nothing when no
 * registration happened since the last call. Waits for the device to be idle, so it
 * must be called between frames.
 */
func (mm *MeshManager) UpdateBuffer() error {
	if !mm.dirty {
		return nil
	}
	if err := mm.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for the device before rebuilding mesh buffers")
	}

	vertices := bytes.NewBuffer(make([]byte, 0, mm.vertexCount*metadata.VertexSize))
	indices := bytes.NewBuffer(make([]byte, 0, mm.indexCount*4))
	for _, model := range mm.models {
		model.AppendVertexBytes(vertices)
		if len(model.Indices) > 0 {
			model.AppendIndexBytes(indices)
			continue
		}
		for i := range model.Vertices {
			_ = binary.Write(indices, binary.LittleEndian, uint32(i))
		}
	}

	minVertexBytes := uint64(mm.minVertices) * uint64(metadata.VertexSize)
	vb, err := mm.ensure(mm.vertexBuffer, uint64(vertices.Len()), minVertexBytes, metadata.BufferUsageVertex)
	if err != nil {
		return err
	}
	mm.vertexBuffer = vb
	ib, err := mm.ensure(mm.indexBuffer, uint64(indices.Len()), uint64(mm.minVertices)*4, metadata.BufferUsageIndex)
	if err != nil {
		return err
	}
	mm.indexBuffer = ib

	if err := mm.vertexBuffer.Write(vertices.Bytes(), 0); err != nil {
		return err
	}
	if err := mm.indexBuffer.Write(indices.Bytes(), 0); err != nil {
		return err
	}
	mm.vertexBytes = uint64(vertices.Len())
	mm.indexBytes = uint64(indices.Len())
	mm.dirty = false
	mm.rebuilds++
	core.LogDebug("mesh buffers rebuilt: %d meshes, %d vertices, %d indices", len(mm.models), mm.vertexCount, mm.indexCount)
	return nil
}

// ensure returns current when it can hold size bytes, otherwise a new buffer twice as large as needed.
func (mm *MeshManager) ensure(current *renderer.Buffer, size, minimum uint64, usage metadata.BufferUsage) (*renderer.Buffer, error) {
	if current != nil && current.Size() >= size {
		return current, nil
	}
	capacity := size * 2
	if capacity < minimum {
		capacity = minimum
	}
	b, err := renderer.NewBuffer(mm.device, capacity, usage|metadata.BufferUsageTransferDst,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	if current != nil {
		current.Destroy()
	}
	return b, nil
}

// Capacity returns the allocated sizes of the vertex and index buffers in bytes.
func (mm *MeshManager) Capacity() (vertexBytes, indexBytes uint64) {
	if mm.vertexBuffer == nil {
		return 0, 0
	}
	return mm.vertexBuffer.Size(), mm.indexBuffer.Size()
}

// Contents returns a copy of the used part of the vertex and index buffers.
func (mm *MeshManager) Contents() (vertices, indices []byte, err error) {
	if mm.vertexBuffer == nil {
		return nil, nil, nil
	}
	err = mm.vertexBuffer.Map(func(data []byte) error {
		vertices = append([]byte(nil), data[:mm.vertexBytes]...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	err = mm.indexBuffer.Map(func(data []byte) error {
		indices = append([]byte(nil), data[:mm.indexBytes]...)
		return nil
	})
	return vertices, indices, err
}

// Bind binds the global buffers. Fails while a rebuild is pending.
func (mm *MeshManager) Bind(cmd renderer.CommandContext) error {
	if mm.dirty {
		return errors.New("mesh buffers have pending registrations, call UpdateBuffer first")
	}
	if mm.vertexBuffer == nil {
		return errors.New("no mesh registered")
	}
	cmd.BindVertexBuffer(mm.vertexBuffer.Handle(), 0)
	cmd.BindIndexBuffer(mm.indexBuffer.Handle(), 0)
	return nil
}

func (mm *MeshManager) Draw(cmd renderer.CommandContext, id metadata.MeshID) error {
	info, ok := mm.Mesh(id)
	if !ok {
		return errors.Newf("unknown mesh %d", id)
	}
	cmd.DrawIndexed(info.IndexCount, 1, info.FirstIndex, info.VertexOffset, 0)
	return nil
}

func (mm *MeshManager) Destroy() {
	if mm.vertexBuffer != nil {
		mm.vertexBuffer.Destroy()
		mm.vertexBuffer = nil
	}
	if mm.indexBuffer != nil {
		mm.indexBuffer.Destroy()
		mm.indexBuffer = nil
	}
}
