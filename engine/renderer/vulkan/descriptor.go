package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type descriptorSetLayout struct {
	Handle   vk.DescriptorSetLayout
	Bindings []metadata.DescriptorBinding
}

type descriptorPool struct {
	Handle vk.DescriptorPool
	Desc   metadata.DescriptorPoolDescription
}

type descriptorSet struct {
	Handle vk.DescriptorSet
	pool   metadata.Handle
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.Handle, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Index,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vkShaderStages(b.Stages),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var handle vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(d.LogicalDevice, &layoutInfo, d.Allocator, &handle), "vkCreateDescriptorSetLayout"); err != nil {
		return metadata.NullHandle, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.setLayouts[h] = &descriptorSetLayout{Handle: handle, Bindings: append([]metadata.DescriptorBinding(nil), bindings...)}
	return h, nil
}

func (d *Device) DestroyDescriptorSetLayout(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.setLayouts[h]
	if !ok {
		core.LogWarn("DestroyDescriptorSetLayout: unknown layout %d", h)
		return
	}
	vk.DestroyDescriptorSetLayout(d.LogicalDevice, l.Handle, d.Allocator)
	delete(d.setLayouts, h)
}

func (d *Device) CreateDescriptorPool(desc metadata.DescriptorPoolDescription) (metadata.Handle, error) {
	// Sorted so pools built from the same description are identical.
	types := make([]metadata.DescriptorType, 0, len(desc.Sizes))
	for t := range desc.Sizes {
		types = append(types, t)
	}
	slices.Sort(types)
	sizes := make([]vk.DescriptorPoolSize, 0, len(types))
	for _, t := range types {
		if desc.Sizes[t] == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            vkDescriptorType(t),
			DescriptorCount: desc.Sizes[t],
		})
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	if desc.FreeIndividualSets {
		poolInfo.Flags = vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit)
	}
	var handle vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(d.LogicalDevice, &poolInfo, d.Allocator, &handle), "vkCreateDescriptorPool"); err != nil {
		return metadata.NullHandle, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.pools[h] = &descriptorPool{Handle: handle, Desc: desc}
	return h, nil
}

func (d *Device) DestroyDescriptorPool(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[h]
	if !ok {
		core.LogWarn("DestroyDescriptorPool: unknown pool %d", h)
		return
	}
	d.forgetSets(h)
	vk.DestroyDescriptorPool(d.LogicalDevice, p.Handle, d.Allocator)
	delete(d.pools, h)
}

// forgetSets drops the handles of every set allocated from pool. Must be called with d.mu held.
func (d *Device) forgetSets(pool metadata.Handle) {
	for h, s := range d.sets {
		if s.pool == pool {
			delete(d.sets, h)
		}
	}
}

func (d *Device) AllocateDescriptorSet(poolHandle, layoutHandle metadata.Handle) (metadata.Handle, error) {
	d.mu.RLock()
	p, okPool := d.pools[poolHandle]
	l, okLayout := d.setLayouts[layoutHandle]
	d.mu.RUnlock()
	if !okPool {
		return metadata.NullHandle, errors.Newf("unknown descriptor pool %d", poolHandle)
	}
	if !okLayout {
		return metadata.NullHandle, errors.Newf("unknown descriptor set layout %d", layoutHandle)
	}

	sets := make([]vk.DescriptorSet, 1)
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		// Pool exhaustion is an expected outcome the caller recovers from; it is not logged.
		return resultError(vk.AllocateDescriptorSets(d.LogicalDevice, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     p.Handle,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{l.Handle},
		}, &sets[0]), "vkAllocateDescriptorSets")
	})
	if err != nil {
		return metadata.NullHandle, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.sets[h] = &descriptorSet{Handle: sets[0], pool: poolHandle}
	return h, nil
}

func (d *Device) FreeDescriptorSet(poolHandle, setHandle metadata.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[poolHandle]
	if !ok {
		return errors.Newf("unknown descriptor pool %d", poolHandle)
	}
	if !p.Desc.FreeIndividualSets {
		return errors.Newf("descriptor pool %d does not allow freeing sets", poolHandle)
	}
	s, ok := d.sets[setHandle]
	if !ok || s.pool != poolHandle {
		return errors.Newf("descriptor set %d does not belong to pool %d", setHandle, poolHandle)
	}
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.FreeDescriptorSets(d.LogicalDevice, p.Handle, 1, &s.Handle), "vkFreeDescriptorSets")
	})
	if err != nil {
		return err
	}
	delete(d.sets, setHandle)
	return nil
}

func (d *Device) ResetDescriptorPool(poolHandle metadata.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[poolHandle]
	if !ok {
		return errors.Newf("unknown descriptor pool %d", poolHandle)
	}
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.ResetDescriptorPool(d.LogicalDevice, p.Handle, 0), "vkResetDescriptorPool")
	})
	if err != nil {
		return err
	}
	d.forgetSets(poolHandle)
	return nil
}

func (d *Device) UpdateDescriptorSet(setHandle metadata.Handle, writes []metadata.DescriptorWrite) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sets[setHandle]
	if !ok {
		return errors.Newf("unknown descriptor set %d", setHandle)
	}

	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.Handle,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Type),
		}
		if w.Type.IsImage() {
			info := vk.DescriptorImageInfo{ImageLayout: vkImageLayout(w.Image.Layout)}
			if !w.Image.Image.IsNull() {
				img, ok := d.images[w.Image.Image]
				if !ok {
					return errors.Wrapf(core.ErrInvalidBinding, "binding %d: unknown image %d", w.Binding, w.Image.Image)
				}
				info.ImageView = img.View
			}
			if !w.Image.Sampler.IsNull() {
				sampler, ok := d.samplers[w.Image.Sampler]
				if !ok {
					return errors.Wrapf(core.ErrInvalidBinding, "binding %d: unknown sampler %d", w.Binding, w.Image.Sampler)
				}
				info.Sampler = sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		} else {
			b, ok := d.buffers[w.Buffer.Buffer]
			if !ok {
				return errors.Wrapf(core.ErrInvalidBinding, "binding %d: unknown buffer %d", w.Binding, w.Buffer.Buffer)
			}
			rng := vk.DeviceSize(w.Buffer.Range)
			if w.Buffer.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: b.Handle,
				Offset: vk.DeviceSize(w.Buffer.Offset),
				Range:  rng,
			}}
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) > 0 {
		vk.UpdateDescriptorSets(d.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
	}
	return nil
}
