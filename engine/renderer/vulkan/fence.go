package vulkan

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Fences are waited in slices of fenceWaitSlice so a cancelled context is noticed.
const fenceWaitSlice = 10 * time.Millisecond

type Fence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func (d *Device) newFence(createSignaled bool) (*Fence, error) {
	fence := &Fence{
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var handle vk.Fence
	if err := check(vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.Allocator, &handle), "vkCreateFence"); err != nil {
		return nil, err
	}
	fence.Handle = handle
	return fence, nil
}

func (f *Fence) destroy(d *Device) {
	if f.Handle != vk.NullFence {
		vk.DestroyFence(d.LogicalDevice, f.Handle, d.Allocator)
		f.Handle = vk.NullFence
	}
	f.IsSignaled = false
}

func (f *Fence) wait(ctx context.Context, d *Device) error {
	// If already signaled, do not wait.
	if f.IsSignaled {
		return nil
	}
	for {
		result := vk.WaitForFences(d.LogicalDevice, 1, []vk.Fence{f.Handle}, vk.True, uint64(fenceWaitSlice.Nanoseconds()))
		switch result {
		case vk.Success:
			f.IsSignaled = true
			return nil
		case vk.Timeout:
			if err := ctx.Err(); err != nil {
				return err
			}
		default:
			return check(result, "vkWaitForFences")
		}
	}
}

func (f *Fence) reset(d *Device) error {
	if !f.IsSignaled {
		return nil
	}
	if err := check(vk.ResetFences(d.LogicalDevice, 1, []vk.Fence{f.Handle}), "vkResetFences"); err != nil {
		return err
	}
	f.IsSignaled = false
	return nil
}

func (d *Device) fence(h metadata.Handle) (*Fence, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fences[h]
	if !ok {
		return nil, errors.Newf("unknown fence %d", h)
	}
	return f, nil
}

func (d *Device) CreateFence(signaled bool) (metadata.Handle, error) {
	f, err := d.newFence(signaled)
	if err != nil {
		return metadata.NullHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.fences[h] = f
	return h, nil
}

func (d *Device) WaitFence(ctx context.Context, h metadata.Handle) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	return f.wait(ctx, d)
}

func (d *Device) ResetFence(h metadata.Handle) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	return f.reset(d)
}

func (d *Device) DestroyFence(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		core.LogWarn("DestroyFence: unknown fence %d", h)
		return
	}
	f.destroy(d)
	delete(d.fences, h)
}
