package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type Buffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Desc   metadata.BufferDescription

	mapped unsafe.Pointer
}

// allocate finds a memory type for reqs and allocates it.
func (d *Device) allocate(reqs vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	index := d.FindMemoryIndex(reqs.MemoryTypeBits, props)
	if index < 0 {
		return vk.NullDeviceMemory, errors.Wrapf(core.ErrOutOfDeviceMemory, "no memory type with properties %#x", props)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.LogicalDevice, &allocateInfo, d.Allocator, &memory), "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}

func (d *Device) newBuffer(desc metadata.BufferDescription) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.AssertionFailedf("buffer of size 0")
	}
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := check(vk.CreateBuffer(d.LogicalDevice, &bufferInfo, d.Allocator, &handle), "vkCreateBuffer"); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, handle, &reqs)
	reqs.Deref()

	memory, err := d.allocate(reqs, vkMemoryProperties(desc.Memory))
	if err != nil {
		vk.DestroyBuffer(d.LogicalDevice, handle, d.Allocator)
		return nil, err
	}
	if err := check(vk.BindBufferMemory(d.LogicalDevice, handle, memory, 0), "vkBindBufferMemory"); err != nil {
		vk.FreeMemory(d.LogicalDevice, memory, d.Allocator)
		vk.DestroyBuffer(d.LogicalDevice, handle, d.Allocator)
		return nil, err
	}
	return &Buffer{Handle: handle, Memory: memory, Desc: desc}, nil
}

func (b *Buffer) destroy(d *Device) {
	if b.mapped != nil {
		vk.UnmapMemory(d.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(d.LogicalDevice, b.Handle, d.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(d.LogicalDevice, b.Memory, d.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}

// bytes maps the whole buffer on first use and returns the requested window.
func (b *Buffer) bytes(d *Device, offset, size uint64) ([]byte, error) {
	if b.mapped == nil {
		var ptr unsafe.Pointer
		if err := check(vk.MapMemory(d.LogicalDevice, b.Memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr), "vkMapMemory"); err != nil {
			return nil, err
		}
		b.mapped = ptr
	}
	all := unsafe.Slice((*byte)(b.mapped), b.Desc.Size)
	return all[offset : offset+size], nil
}

func (d *Device) buffer(h metadata.Handle) (*Buffer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[h]
	if !ok {
		return nil, errors.Newf("unknown buffer %d", h)
	}
	return b, nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDescription) (metadata.Handle, error) {
	b, err := d.newBuffer(desc)
	if err != nil {
		return metadata.NullHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.buffers[h] = b
	return h, nil
}

func (d *Device) DestroyBuffer(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		core.LogWarn("DestroyBuffer: unknown buffer %d", h)
		return
	}
	b.destroy(d)
	delete(d.buffers, h)
}

func (d *Device) MapBuffer(h metadata.Handle, offset, size uint64) ([]byte, error) {
	b, err := d.buffer(h)
	if err != nil {
		return nil, err
	}
	if b.Desc.Memory&metadata.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("buffer %d is not host visible", h)
	}
	if offset+size > b.Desc.Size {
		return nil, errors.Newf("map range %d+%d exceeds buffer size %d", offset, size, b.Desc.Size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return b.bytes(d, offset, size)
}

// UnmapBuffer releases the host mapping. Buffers without HostCoherent memory are
// flushed first.
func (d *Device) UnmapBuffer(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok || b.mapped == nil {
		return
	}
	if b.Desc.Memory&metadata.MemoryPropertyHostCoherent == 0 {
		vk.FlushMappedMemoryRanges(d.LogicalDevice, 1, []vk.MappedMemoryRange{{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: b.Memory,
			Size:   vk.DeviceSize(vk.WholeSize),
		}})
	}
	vk.UnmapMemory(d.LogicalDevice, b.Memory)
	b.mapped = nil
}
