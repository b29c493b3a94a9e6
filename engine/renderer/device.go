package renderer

import (
	"context"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Device is the graphics device collaborator every renderer object is created against.
// Backends return errors classified by the core error taxonomy
// (core.ErrOutOfDeviceMemory, core.ErrPoolExhausted, core.ErrDeviceLost...).
type Device interface {
	// Number of frame slots the backend keeps per-slot objects for.
	FramesInFlight() uint32

	CreateBuffer(desc metadata.BufferDescription) (metadata.Handle, error)
	DestroyBuffer(buffer metadata.Handle)
	MapBuffer(buffer metadata.Handle, offset, size uint64) ([]byte, error)
	UnmapBuffer(buffer metadata.Handle)

	// CreateImage creates the image together with its default view.
	CreateImage(desc metadata.ImageDescription) (metadata.Handle, error)
	DestroyImage(image metadata.Handle)
	// WriteImage uploads tightly packed texels and leaves the image in ShaderReadOnly.
	WriteImage(image metadata.Handle, data []byte) error
	// ReadImage reads back tightly packed texels. The device must be idle with respect to the image.
	ReadImage(image metadata.Handle) ([]byte, error)
	CreateSampler(desc metadata.SamplerDescription) (metadata.Handle, error)
	DestroySampler(sampler metadata.Handle)

	CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.Handle, error)
	DestroyDescriptorSetLayout(layout metadata.Handle)
	CreateDescriptorPool(desc metadata.DescriptorPoolDescription) (metadata.Handle, error)
	DestroyDescriptorPool(pool metadata.Handle)
	AllocateDescriptorSet(pool, layout metadata.Handle) (metadata.Handle, error)
	FreeDescriptorSet(pool, set metadata.Handle) error
	ResetDescriptorPool(pool metadata.Handle) error
	// UpdateDescriptorSet applies every write in one call.
	UpdateDescriptorSet(set metadata.Handle, writes []metadata.DescriptorWrite) error

	CreateRenderPass(desc metadata.RenderPassDescription) (metadata.Handle, error)
	DestroyRenderPass(pass metadata.Handle)
	CreateFramebuffer(desc metadata.FramebufferDescription) (metadata.Handle, error)
	DestroyFramebuffer(framebuffer metadata.Handle)
	CreatePipeline(desc metadata.PipelineDescription) (metadata.Handle, error)
	DestroyPipeline(pipeline metadata.Handle)

	CreateFence(signaled bool) (metadata.Handle, error)
	// WaitFence blocks until the fence is signaled or ctx is done.
	WaitFence(ctx context.Context, fence metadata.Handle) error
	ResetFence(fence metadata.Handle) error
	DestroyFence(fence metadata.Handle)

	// CommandContext returns the command recording context owned by a frame slot.
	CommandContext(slot uint32) CommandContext
	// Submit queues the recorded commands of slot. The fence is signaled once they complete.
	Submit(slot uint32, cmd CommandContext, fence metadata.Handle) error
	// ImmediateSubmit records and executes a one-off command stream and waits for it.
	ImmediateSubmit(ctx context.Context, record func(cmd CommandContext) error) error

	// AcquireImage returns the index of the next presentable image for slot.
	AcquireImage(ctx context.Context, slot uint32) (uint32, error)
	Present(slot, imageIndex uint32) error
	SwapchainImages() []metadata.Handle
	SwapchainFormat() metadata.Format
	SwapchainExtent() metadata.Extent2D

	WaitIdle() error
	Destroy()
}

// CommandContext records commands for later submission. Recording calls do not fail;
// errors are reported by End or by the submission.
type CommandContext interface {
	Begin() error
	End() error
	Reset() error

	BeginRenderPass(pass, framebuffer metadata.Handle, extent metadata.Extent2D, clears []metadata.ClearValue)
	NextSubpass()
	EndRenderPass()
	TransitionImage(image metadata.Handle, from, to metadata.ImageLayout)

	BindPipeline(pipeline metadata.Handle)
	BindDescriptorSets(pipeline metadata.Handle, firstSet uint32, sets []metadata.Handle)
	BindVertexBuffer(buffer metadata.Handle, offset uint64)
	BindIndexBuffer(buffer metadata.Handle, offset uint64)
	PushConstants(pipeline metadata.Handle, stages metadata.ShaderStage, offset uint32, data []byte)
	SetViewport(x, y, width, height float32)
	SetScissor(x, y int32, width, height uint32)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}
