package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type CommandBufferState int

const (
	CommandBufferStateReady CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateInRenderPass
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
	CommandBufferStateNotAllocated
)

// CommandBuffer is the Vulkan renderer.CommandContext. Recording calls never fail; the
// first problem met while recording is returned by End.
type CommandBuffer struct {
	Handle vk.CommandBuffer
	State  CommandBufferState

	device *Device
	err    error
}

var _ renderer.CommandContext = (*CommandBuffer)(nil)

func (d *Device) newCommandBuffer() (*CommandBuffer, error) {
	cb := &CommandBuffer{
		State:  CommandBufferStateNotAllocated,
		device: d,
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers")
	})
	if err != nil {
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = CommandBufferStateReady
	return cb, nil
}

func (cb *CommandBuffer) free() {
	if cb.Handle == nil {
		return
	}
	d := cb.device
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.LogicalDevice, d.GraphicsCommandPool, 1, []vk.CommandBuffer{cb.Handle})
		return nil
	})
	cb.Handle = nil
	cb.State = CommandBufferStateNotAllocated
}

func (cb *CommandBuffer) begin(flags vk.CommandBufferUsageFlagBits) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(flags),
	}
	if err := check(vk.BeginCommandBuffer(cb.Handle, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	cb.err = nil
	cb.State = CommandBufferStateRecording
	return nil
}

func (cb *CommandBuffer) Begin() error {
	return cb.begin(vk.CommandBufferUsageOneTimeSubmitBit)
}

func (cb *CommandBuffer) End() error {
	if cb.State == CommandBufferStateInRenderPass {
		cb.fail(errors.New("command buffer ended inside a render pass"))
	}
	if err := check(vk.EndCommandBuffer(cb.Handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	cb.State = CommandBufferStateRecordingEnded
	if cb.err != nil {
		core.LogError(cb.err.Error())
		return cb.err
	}
	return nil
}

func (cb *CommandBuffer) Reset() error {
	if err := check(vk.ResetCommandBuffer(cb.Handle, 0), "vkResetCommandBuffer"); err != nil {
		return err
	}
	cb.err = nil
	cb.State = CommandBufferStateReady
	return nil
}

func (cb *CommandBuffer) fail(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

func (cb *CommandBuffer) BeginRenderPass(pass, framebuffer metadata.Handle, extent metadata.Extent2D, clears []metadata.ClearValue) {
	d := cb.device
	d.mu.Lock()
	rp, okPass := d.renderPasses[pass]
	fb, okFb := d.framebuffers[framebuffer]
	if okPass && okFb {
		for i, attachment := range fb.Desc.Attachments {
			if img, ok := d.images[attachment]; ok && i < len(rp.Desc.Attachments) {
				img.layout = rp.Desc.Attachments[i].FinalLayout
			}
		}
	}
	d.mu.Unlock()
	if !okPass || !okFb {
		cb.fail(errors.Newf("begin render pass %d with framebuffer %d: unknown handle", pass, framebuffer))
		return
	}

	clearValues := make([]vk.ClearValue, len(rp.Desc.Attachments))
	for i, attachment := range rp.Desc.Attachments {
		if i >= len(clears) {
			break
		}
		if attachment.Format.IsDepth() {
			clearValues[i].SetDepthStencil(clears[i].Depth, clears[i].Stencil)
		} else {
			clearValues[i].SetColor(clears[i].Colour[:])
		}
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.State = CommandBufferStateInRenderPass
}

func (cb *CommandBuffer) NextSubpass() {
	vk.CmdNextSubpass(cb.Handle, vk.SubpassContentsInline)
}

func (cb *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(cb.Handle)
	cb.State = CommandBufferStateRecording
}

func (cb *CommandBuffer) TransitionImage(image metadata.Handle, from, to metadata.ImageLayout) {
	img, err := cb.device.image(image)
	if err != nil {
		cb.fail(err)
		return
	}
	img.transition(cb.Handle, from, to)
}

func (cb *CommandBuffer) pipeline(h metadata.Handle) *Pipeline {
	d := cb.device
	d.mu.RLock()
	p, ok := d.pipelines[h]
	d.mu.RUnlock()
	if !ok {
		cb.fail(errors.Newf("unknown pipeline %d", h))
		return nil
	}
	return p
}

func (cb *CommandBuffer) BindPipeline(pipeline metadata.Handle) {
	if p := cb.pipeline(pipeline); p != nil {
		vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, p.Handle)
	}
}

func (cb *CommandBuffer) BindDescriptorSets(pipeline metadata.Handle, firstSet uint32, sets []metadata.Handle) {
	p := cb.pipeline(pipeline)
	if p == nil {
		return
	}
	d := cb.device
	vkSets := make([]vk.DescriptorSet, 0, len(sets))
	d.mu.RLock()
	for _, h := range sets {
		s, ok := d.sets[h]
		if !ok {
			cb.fail(errors.Newf("unknown descriptor set %d", h))
			d.mu.RUnlock()
			return
		}
		vkSets = append(vkSets, s.Handle)
	}
	d.mu.RUnlock()
	vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, p.Layout, firstSet, uint32(len(vkSets)), vkSets, 0, nil)
}

func (cb *CommandBuffer) buffer(h metadata.Handle) *Buffer {
	b, err := cb.device.buffer(h)
	if err != nil {
		cb.fail(err)
		return nil
	}
	return b
}

func (cb *CommandBuffer) BindVertexBuffer(buffer metadata.Handle, offset uint64) {
	if b := cb.buffer(buffer); b != nil {
		vk.CmdBindVertexBuffers(cb.Handle, 0, 1, []vk.Buffer{b.Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
	}
}

func (cb *CommandBuffer) BindIndexBuffer(buffer metadata.Handle, offset uint64) {
	if b := cb.buffer(buffer); b != nil {
		vk.CmdBindIndexBuffer(cb.Handle, b.Handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
	}
}

func (cb *CommandBuffer) PushConstants(pipeline metadata.Handle, stages metadata.ShaderStage, offset uint32, data []byte) {
	p := cb.pipeline(pipeline)
	if p == nil || len(data) == 0 {
		return
	}
	vk.CmdPushConstants(cb.Handle, p.Layout, vkShaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (cb *CommandBuffer) SetViewport(x, y, width, height float32) {
	vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{{
		X:        x,
		Y:        y,
		Width:    width,
		Height:   height,
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}})
}

func (cb *CommandBuffer) SetScissor(x, y int32, width, height uint32) {
	vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: x, Y: y},
		Extent: vk.Extent2D{Width: width, Height: height},
	}})
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(cb.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(cb.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
