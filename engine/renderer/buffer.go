package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Buffer exclusively owns a device buffer and its memory.
type Buffer struct {
	device Device
	handle metadata.Handle
	size   uint64
	usage  metadata.BufferUsage
	memory metadata.MemoryProperty

	// persistent mapping, if any
	mapped []byte
}

func NewBuffer(device Device, size uint64, usage metadata.BufferUsage, memory metadata.MemoryProperty) (*Buffer, error) {
	if size == 0 {
		err := errors.Newf("cannot create a buffer of size 0")
		core.LogError(err.Error())
		return nil, err
	}
	handle, err := device.CreateBuffer(metadata.BufferDescription{
		Size:   size,
		Usage:  usage,
		Memory: memory,
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to create buffer of %d bytes", size)
		core.LogError(err.Error())
		return nil, err
	}
	return &Buffer{
		device: device,
		handle: handle,
		size:   size,
		usage:  usage,
		memory: memory,
	}, nil
}

func (b *Buffer) Handle() metadata.Handle {
	return b.handle
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Usage() metadata.BufferUsage {
	return b.usage
}

func (b *Buffer) HostVisible() bool {
	return b.memory&metadata.MemoryPropertyHostVisible != 0
}

// Map maps the whole buffer for the duration of fn and unmaps it afterwards.
// Mapping memory that is not host visible is a programming error and panics.
func (b *Buffer) Map(fn func(data []byte) error) error {
	b.mustBeMappable()
	if b.mapped != nil {
		return fn(b.mapped)
	}
	data, err := b.device.MapBuffer(b.handle, 0, b.size)
	if err != nil {
		return errors.Wrap(err, "failed to map buffer")
	}
	defer b.device.UnmapBuffer(b.handle)
	return fn(data)
}

// MapPersistent keeps the buffer mapped until Destroy.
func (b *Buffer) MapPersistent() ([]byte, error) {
	b.mustBeMappable()
	if b.mapped != nil {
		return b.mapped, nil
	}
	data, err := b.device.MapBuffer(b.handle, 0, b.size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map buffer")
	}
	b.mapped = data
	return data, nil
}

// Write copies data into the buffer at offset.
func (b *Buffer) Write(data []byte, offset uint64) error {
	if offset+uint64(len(data)) > b.size {
		return errors.Newf("write of %d bytes at offset %d overflows buffer of %d bytes", len(data), offset, b.size)
	}
	return b.Map(func(mem []byte) error {
		copy(mem[offset:], data)
		return nil
	})
}

func (b *Buffer) mustBeMappable() {
	if b.handle.IsNull() {
		panic(errors.AssertionFailedf("buffer used after destroy"))
	}
	if !b.HostVisible() {
		panic(errors.AssertionFailedf("mapping a buffer without host visible memory"))
	}
}

// Move transfers ownership to a new Buffer. b is left empty.
func (b *Buffer) Move() *Buffer {
	moved := *b
	*b = Buffer{}
	return &moved
}

// Destroy releases the buffer. Destroying an empty or moved-from buffer does nothing.
func (b *Buffer) Destroy() {
	if b.handle.IsNull() {
		return
	}
	if b.mapped != nil {
		b.device.UnmapBuffer(b.handle)
		b.mapped = nil
	}
	b.device.DestroyBuffer(b.handle)
	b.handle = metadata.NullHandle
}
