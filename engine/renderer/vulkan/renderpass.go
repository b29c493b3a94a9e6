package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type RenderPass struct {
	Handle vk.RenderPass
	Desc   metadata.RenderPassDescription
}

func attachmentReferences(refs []metadata.AttachmentReference) []vk.AttachmentReference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(refs))
	for i, ref := range refs {
		out[i] = vk.AttachmentReference{
			Attachment: ref.Attachment,
			Layout:     vkImageLayout(ref.Layout),
		}
	}
	return out
}

func subpassIndex(i uint32) uint32 {
	if i == metadata.SubpassExternal {
		return vk.SubpassExternal
	}
	return i
}

func (d *Device) CreateRenderPass(desc metadata.RenderPassDescription) (metadata.Handle, error) {
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		format := vkFormat(a.Format)
		if format == vk.FormatUndefined {
			return metadata.NullHandle, errors.Newf("render pass %s: attachment %d has unsupported format %s", desc.Name, i, a.Format)
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vkLoadOp(a.LoadOp),
			StoreOp:        vkStoreOp(a.StoreOp),
			StencilLoadOp:  vkLoadOp(a.StencilLoadOp),
			StencilStoreOp: vkStoreOp(a.StencilStoreOp),
			InitialLayout:  vkImageLayout(a.InitialLayout),
			FinalLayout:    vkImageLayout(a.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, sp := range desc.Subpasses {
		subpass := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			InputAttachmentCount: uint32(len(sp.InputAttachments)),
			PInputAttachments:    attachmentReferences(sp.InputAttachments),
			ColorAttachmentCount: uint32(len(sp.ColorAttachments)),
			PColorAttachments:    attachmentReferences(sp.ColorAttachments),
		}
		if sp.DepthAttachment != nil {
			subpass.PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: sp.DepthAttachment.Attachment,
				Layout:     vkImageLayout(sp.DepthAttachment.Layout),
			}
		}
		subpasses[i] = subpass
	}

	dependencies := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		dependencies[i] = vk.SubpassDependency{
			SrcSubpass:    subpassIndex(dep.SrcSubpass),
			DstSubpass:    subpassIndex(dep.DstSubpass),
			SrcStageMask:  vkPipelineStages(dep.SrcStage),
			DstStageMask:  vkPipelineStages(dep.DstStage),
			SrcAccessMask: vkAccess(dep.SrcAccess),
			DstAccessMask: vkAccess(dep.DstAccess),
		}
		if dep.SrcSubpass != metadata.SubpassExternal && dep.DstSubpass != metadata.SubpassExternal {
			dependencies[i].DependencyFlags = vk.DependencyFlags(vk.DependencyByRegionBit)
		}
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if err := check(vk.CreateRenderPass(d.LogicalDevice, &renderpassCreateInfo, d.Allocator, &handle), "vkCreateRenderPass"); err != nil {
		return metadata.NullHandle, err
	}
	core.LogDebug("render pass %s created", desc.Name)

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.renderPasses[h] = &RenderPass{Handle: handle, Desc: desc}
	return h, nil
}

func (d *Device) DestroyRenderPass(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, ok := d.renderPasses[h]
	if !ok {
		core.LogWarn("DestroyRenderPass: unknown render pass %d", h)
		return
	}
	vk.DestroyRenderPass(d.LogicalDevice, rp.Handle, d.Allocator)
	delete(d.renderPasses, h)
}
