package renderer

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotRecording
	SlotSubmitted
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	}
	return "unknown"
}

// FrameInfo is built by BeginFrame and read by every render system during the frame.
type FrameInfo struct {
	FrameIndex uint64
	// SlotIndex is FrameIndex mod FramesInFlight.
	SlotIndex uint32
	// Swapchain image acquired for this frame.
	ImageIndex uint32
	Command    CommandContext
	DeltaTime  float64
	Camera     metadata.CameraState
	// Set 0, bound to this slot's uniform buffer.
	GlobalSet *DescriptorSet
	UBO       *metadata.GlobalUBO
	Objects   []metadata.Renderable
	Extent    metadata.Extent2D
	// Swapchain image the frame ends up in.
	Target *Image

	globals []byte
}

// FlushGlobals copies UBO into the slot's persistently mapped uniform buffer.
func (f *FrameInfo) FlushGlobals() {
	copy(f.globals, f.UBO.Bytes())
}

type frameSlot struct {
	state  SlotState
	fence  metadata.Handle
	cmd    CommandContext
	ubo    *Buffer
	mapped []byte
	set    *DescriptorSet
}

// FrameMultiplexer rotates per-frame resources over a fixed number of slots.
// A slot is reused only after the fence of its previous submission has signaled.
type FrameMultiplexer struct {
	device     Device
	slotCount  uint32
	frameIndex uint64
	slots      []*frameSlot

	globalLayout *DescriptorSetLayout
	globalPool   *DescriptorPool
	swapchain    []*Image

	current *FrameInfo
	ubo     metadata.GlobalUBO
}

func NewFrameMultiplexer(device Device) (*FrameMultiplexer, error) {
	n := device.FramesInFlight()
	if n == 0 {
		err := errors.Newf("device reports 0 frames in flight")
		core.LogError(err.Error())
		return nil, err
	}
	fm := &FrameMultiplexer{
		device:    device,
		slotCount: n,
	}

	layout, err := NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageAllGraphics).
		Build(device)
	if err != nil {
		return nil, err
	}
	fm.globalLayout = layout

	pool, err := NewDescriptorPool(device, metadata.DescriptorPoolDescription{
		Sizes:   map[metadata.DescriptorType]uint32{metadata.DescriptorTypeUniformBuffer: n},
		MaxSets: n,
	})
	if err != nil {
		fm.Destroy()
		return nil, err
	}
	fm.globalPool = pool

	for i := uint32(0); i < n; i++ {
		slot, err := fm.createSlot(i)
		if err != nil {
			fm.Destroy()
			return nil, err
		}
		fm.slots = append(fm.slots, slot)
	}

	for _, h := range device.SwapchainImages() {
		fm.swapchain = append(fm.swapchain, WrapSwapchainImage(device, h, device.SwapchainFormat(), device.SwapchainExtent()))
	}
	core.LogInfo("frame multiplexer created with %d slots and %d swapchain images", n, len(fm.swapchain))
	return fm, nil
}

func (fm *FrameMultiplexer) createSlot(index uint32) (*frameSlot, error) {
	// created signaled so the first wait on every slot returns at once
	fence, err := fm.device.CreateFence(true)
	if err != nil {
		err = errors.Wrapf(err, "failed to create fence for slot %d", index)
		core.LogError(err.Error())
		return nil, err
	}
	slot := &frameSlot{
		state: SlotIdle,
		fence: fence,
		cmd:   fm.device.CommandContext(index),
	}

	ubo, err := NewBuffer(fm.device, metadata.GlobalUBOSize, metadata.BufferUsageUniform,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent)
	if err != nil {
		fm.device.DestroyFence(fence)
		return nil, err
	}
	mapped, err := ubo.MapPersistent()
	if err != nil {
		ubo.Destroy()
		fm.device.DestroyFence(fence)
		return nil, err
	}
	set, err := NewDescriptorWriter().
		WriteBuffer(0, metadata.DescriptorTypeUniformBuffer, ubo, 0, metadata.GlobalUBOSize).
		BuildSet(fm.device, fm.globalPool, fm.globalLayout)
	if err != nil {
		ubo.Destroy()
		fm.device.DestroyFence(fence)
		return nil, err
	}
	slot.ubo = ubo
	slot.mapped = mapped
	slot.set = set
	return slot, nil
}

func (fm *FrameMultiplexer) SlotCount() uint32 {
	return fm.slotCount
}

func (fm *FrameMultiplexer) FrameIndex() uint64 {
	return fm.frameIndex
}

func (fm *FrameMultiplexer) SlotState(slot uint32) SlotState {
	return fm.slots[slot].state
}

// GlobalLayout is the layout of set 0, shared by every pipeline that reads the global UBO.
func (fm *FrameMultiplexer) GlobalLayout() *DescriptorSetLayout {
	return fm.globalLayout
}

func (fm *FrameMultiplexer) SwapchainImages() []*Image {
	return fm.swapchain
}

func (fm *FrameMultiplexer) Device() Device {
	return fm.device
}

// BeginFrame selects slot frameIndex mod N, blocks until the slot's previous submission
// has completed and starts recording into the slot's command context.
func (fm *FrameMultiplexer) BeginFrame(ctx context.Context, deltaTime float64, camera metadata.CameraState, objects []metadata.Renderable) (*FrameInfo, error) {
	if fm.current != nil {
		return nil, errors.Newf("frame %d is still being recorded", fm.current.FrameIndex)
	}
	index := uint32(fm.frameIndex % uint64(fm.slotCount))
	slot := fm.slots[index]

	if err := fm.device.WaitFence(ctx, slot.fence); err != nil {
		return nil, errors.Wrapf(err, "waiting for slot %d", index)
	}
	slot.state = SlotIdle

	// acquire before resetting the fence so a failed acquire leaves the slot reusable
	imageIndex, err := fm.device.AcquireImage(ctx, index)
	if err != nil {
		if !errors.Is(err, core.ErrSwapchainOutOfDate) {
			core.LogError(err.Error())
		}
		return nil, err
	}
	if err := fm.device.ResetFence(slot.fence); err != nil {
		return nil, err
	}
	if err := slot.cmd.Reset(); err != nil {
		return nil, err
	}
	if err := slot.cmd.Begin(); err != nil {
		return nil, err
	}
	slot.state = SlotRecording

	fm.ubo = metadata.NewGlobalUBO(camera)
	frame := &FrameInfo{
		FrameIndex: fm.frameIndex,
		SlotIndex:  index,
		ImageIndex: imageIndex,
		Command:    slot.cmd,
		DeltaTime:  deltaTime,
		Camera:     camera,
		GlobalSet:  slot.set,
		UBO:        &fm.ubo,
		Objects:    objects,
		Extent:     fm.device.SwapchainExtent(),
		globals:    slot.mapped,
	}
	if int(imageIndex) < len(fm.swapchain) {
		frame.Target = fm.swapchain[imageIndex]
	}
	fm.current = frame
	return frame, nil
}

// EndFrame submits the recorded commands with the slot's fence, presents and advances frameIndex.
func (fm *FrameMultiplexer) EndFrame() error {
	frame := fm.current
	if frame == nil {
		return errors.New("EndFrame called without BeginFrame")
	}
	slot := fm.slots[frame.SlotIndex]
	fm.current = nil

	if err := slot.cmd.End(); err != nil {
		core.LogError(err.Error())
		return err
	}
	if err := fm.device.Submit(frame.SlotIndex, slot.cmd, slot.fence); err != nil {
		core.LogError(err.Error())
		return err
	}
	slot.state = SlotSubmitted
	fm.frameIndex++

	if err := fm.device.Present(frame.SlotIndex, frame.ImageIndex); err != nil {
		if !errors.Is(err, core.ErrSwapchainOutOfDate) {
			core.LogError(err.Error())
		}
		return err
	}
	return nil
}

// WaitIdle blocks until every submitted slot has completed.
func (fm *FrameMultiplexer) WaitIdle(ctx context.Context) error {
	for i, slot := range fm.slots {
		if slot.state != SlotSubmitted {
			continue
		}
		if err := fm.device.WaitFence(ctx, slot.fence); err != nil {
			return errors.Wrapf(err, "waiting for slot %d", i)
		}
		slot.state = SlotIdle
	}
	return nil
}

func (fm *FrameMultiplexer) Destroy() {
	for _, slot := range fm.slots {
		slot.ubo.Destroy()
		fm.device.DestroyFence(slot.fence)
	}
	fm.slots = nil
	if fm.globalPool != nil {
		fm.globalPool.Destroy()
	}
	if fm.globalLayout != nil {
		fm.globalLayout.Destroy()
	}
}
