package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Framebuffer keeps its description so it can be rebuilt when the swapchain images it
// references are recreated.
type Framebuffer struct {
	Handle vk.Framebuffer
	Desc   metadata.FramebufferDescription
}

// createFramebuffer must be called with d.mu held.
func (d *Device) createFramebuffer(desc metadata.FramebufferDescription) (vk.Framebuffer, error) {
	rp, ok := d.renderPasses[desc.RenderPass]
	if !ok {
		return vk.NullFramebuffer, errors.Newf("unknown render pass %d", desc.RenderPass)
	}
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		img, ok := d.images[a]
		if !ok {
			return vk.NullFramebuffer, errors.Newf("unknown attachment image %d", a)
		}
		views[i] = img.View
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.LogicalDevice, &framebufferCreateInfo, d.Allocator, &handle), "vkCreateFramebuffer"); err != nil {
		return vk.NullFramebuffer, err
	}
	return handle, nil
}

func (d *Device) CreateFramebuffer(desc metadata.FramebufferDescription) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handle, err := d.createFramebuffer(desc)
	if err != nil {
		return metadata.NullHandle, err
	}
	h := d.allocHandle()
	d.framebuffers[h] = &Framebuffer{Handle: handle, Desc: desc}
	return h, nil
}

func (d *Device) DestroyFramebuffer(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fb, ok := d.framebuffers[h]
	if !ok {
		core.LogWarn("DestroyFramebuffer: unknown framebuffer %d", h)
		return
	}
	vk.DestroyFramebuffer(d.LogicalDevice, fb.Handle, d.Allocator)
	delete(d.framebuffers, h)
}

// rebuildFramebuffers re-creates, in place, every framebuffer attached to one of images.
func (d *Device) rebuildFramebuffers(images []metadata.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	affected := make(map[metadata.Handle]struct{}, len(images))
	for _, h := range images {
		affected[h] = struct{}{}
	}
	for h, fb := range d.framebuffers {
		uses := false
		for _, a := range fb.Desc.Attachments {
			if _, ok := affected[a]; ok {
				uses = true
				break
			}
		}
		if !uses {
			continue
		}
		vk.DestroyFramebuffer(d.LogicalDevice, fb.Handle, d.Allocator)
		handle, err := d.createFramebuffer(fb.Desc)
		if err != nil {
			return errors.Wrapf(err, "rebuilding framebuffer %d", h)
		}
		fb.Handle = handle
	}
	return nil
}
