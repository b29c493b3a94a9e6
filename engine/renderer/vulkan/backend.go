// Package vulkan implements renderer.Device on top of the Vulkan API through goki/vulkan.
package vulkan

import (
	"context"
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var _ renderer.Device = (*Device)(nil)

// New creates the instance, picks a physical device, and builds the swapchain and the
// per frame slot objects. The window behind surface must already exist.
func New(cfg Config, surface SurfaceProvider) (*Device, error) {
	if cfg.FramesInFlight == 0 {
		cfg.FramesInFlight = 2
	}
	d := &Device{
		cfg:             cfg,
		surfaceProvider: surface,
		locks:           NewLockPool(),
		buffers:         make(map[metadata.Handle]*Buffer),
		images:          make(map[metadata.Handle]*Image),
		samplers:        make(map[metadata.Handle]vk.Sampler),
		setLayouts:      make(map[metadata.Handle]*descriptorSetLayout),
		pools:           make(map[metadata.Handle]*descriptorPool),
		sets:            make(map[metadata.Handle]*descriptorSet),
		renderPasses:    make(map[metadata.Handle]*RenderPass),
		framebuffers:    make(map[metadata.Handle]*Framebuffer),
		pipelines:       make(map[metadata.Handle]*Pipeline),
		fences:          make(map[metadata.Handle]*Fence),
	}

	if err := d.createInstance(); err != nil {
		d.Destroy()
		return nil, err
	}

	core.LogDebug("Creating Vulkan surface...")
	raw, err := surface.CreateSurface(d.Instance)
	if err != nil {
		err = errors.Wrap(err, "failed to create platform surface")
		core.LogError(err.Error())
		d.Destroy()
		return nil, err
	}
	d.Surface = vk.SurfaceFromPointer(raw)
	core.LogDebug("Vulkan surface created.")

	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}

	width, height := surface.FramebufferSize()
	sc, err := d.createSwapchain(width, height, nil)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.swapchain = sc

	if err := d.createSlotObjects(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device created: %d frames in flight.", cfg.FramesInFlight)
	return d, nil
}

func (d *Device) createInstance() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := errors.Wrap(core.ErrInvalidConfig, "GetInstanceProcAddress is nil")
		core.LogError(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.cfg.AppName),
		PEngineName:        VulkanSafeString("Lumen Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := append([]string{}, d.surfaceProvider.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	var layers []string
	if d.cfg.Debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		ok, err := layerAvailable(validationLayer)
		if err != nil {
			return err
		}
		if ok {
			layers = append(layers, validationLayer)
			core.LogInfo("Validation layers enabled.")
		} else {
			core.LogWarn("Validation layer %s is missing, continuing without it.", validationLayer)
		}
	}
	for _, ext := range requiredExtensions {
		core.LogDebug("Required extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := check(vk.CreateInstance(&createInfo, d.Allocator, &instance), "vkCreateInstance"); err != nil {
		return err
	}
	d.Instance = instance
	if err := vk.InitInstance(d.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if d.cfg.Debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		d.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return false, err
	}
	layers := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, layers), "vkEnumerateInstanceLayerProperties"); err != nil {
		return false, err
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) createSlotObjects() error {
	n := d.cfg.FramesInFlight
	d.imageAvailableSemaphores = make([]vk.Semaphore, n)
	d.renderFinishedSemaphores = make([]vk.Semaphore, n)
	d.acquired = make([]uint32, n)
	d.commands = make([]*CommandBuffer, n)

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	for i := uint32(0); i < n; i++ {
		var available, finished vk.Semaphore
		if err := check(vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.Allocator, &available), "vkCreateSemaphore"); err != nil {
			return err
		}
		d.imageAvailableSemaphores[i] = available
		if err := check(vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.Allocator, &finished), "vkCreateSemaphore"); err != nil {
			return err
		}
		d.renderFinishedSemaphores[i] = finished

		cmd, err := d.newCommandBuffer()
		if err != nil {
			return err
		}
		d.commands[i] = cmd
	}
	return nil
}

func (d *Device) CommandContext(slot uint32) renderer.CommandContext {
	return d.commands[slot]
}

func (d *Device) Submit(slot uint32, cmd renderer.CommandContext, fenceHandle metadata.Handle) error {
	cb, ok := cmd.(*CommandBuffer)
	if !ok || cb.device != d {
		return errors.Newf("command context was not created by this device")
	}
	if cb.State != CommandBufferStateRecordingEnded {
		return errors.Newf("command buffer of slot %d is not ready for submission", slot)
	}
	var fence vk.Fence = vk.NullFence
	if !fenceHandle.IsNull() {
		f, err := d.fence(fenceHandle)
		if err != nil {
			return err
		}
		fence = f.Handle
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{d.imageAvailableSemaphores[slot]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{d.renderFinishedSemaphores[slot]},
	}
	err := d.locks.SafeQueueCall(d.GraphicsQueueIndex, func() error {
		return check(vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence), "vkQueueSubmit")
	})
	if err != nil {
		return err
	}
	cb.State = CommandBufferStateSubmitted
	return nil
}

// ImmediateSubmit records into a single-use command buffer, submits it with its own
// fence, and waits for completion.
func (d *Device) ImmediateSubmit(ctx context.Context, record func(cmd renderer.CommandContext) error) error {
	cb, err := d.newCommandBuffer()
	if err != nil {
		return err
	}
	defer cb.free()

	if err := cb.Begin(); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	fence, err := d.newFence(false)
	if err != nil {
		return err
	}
	defer fence.destroy(d)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	err = d.locks.SafeQueueCall(d.GraphicsQueueIndex, func() error {
		return check(vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle), "vkQueueSubmit")
	})
	if err != nil {
		return err
	}
	return fence.wait(ctx, d)
}

func (d *Device) WaitIdle() error {
	if d.LogicalDevice == nil {
		return nil
	}
	return check(vk.DeviceWaitIdle(d.LogicalDevice), "vkDeviceWaitIdle")
}

// Destroy releases everything in reverse creation order. Objects the caller forgot to
// destroy are released too.
func (d *Device) Destroy() {
	if d.LogicalDevice != nil {
		vk.DeviceWaitIdle(d.LogicalDevice)

		for _, cb := range d.commands {
			if cb != nil {
				cb.free()
			}
		}
		for i := range d.imageAvailableSemaphores {
			if d.imageAvailableSemaphores[i] != vk.NullSemaphore {
				vk.DestroySemaphore(d.LogicalDevice, d.imageAvailableSemaphores[i], d.Allocator)
			}
			if d.renderFinishedSemaphores[i] != vk.NullSemaphore {
				vk.DestroySemaphore(d.LogicalDevice, d.renderFinishedSemaphores[i], d.Allocator)
			}
		}
		d.commands = nil
		d.imageAvailableSemaphores = nil
		d.renderFinishedSemaphores = nil

		d.destroyAll()
		if d.swapchain != nil {
			d.destroySwapchain(d.swapchain)
			d.swapchain = nil
		}
		d.destroyLogicalDevice()
	}

	if d.Surface != vk.NullSurface {
		vk.DestroySurface(d.Instance, d.Surface, d.Allocator)
		d.Surface = vk.NullSurface
	}
	if d.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.Instance, d.debugMessenger, d.Allocator)
		d.debugMessenger = vk.NullDebugReportCallback
	}
	if d.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.Instance, d.Allocator)
		d.Instance = nil
	}
}

// destroyAll releases every object still in the handle tables.
func (d *Device) destroyAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for h, p := range d.pipelines {
		p.destroy(d)
		delete(d.pipelines, h)
	}
	for h, fb := range d.framebuffers {
		vk.DestroyFramebuffer(d.LogicalDevice, fb.Handle, d.Allocator)
		delete(d.framebuffers, h)
	}
	for h, rp := range d.renderPasses {
		vk.DestroyRenderPass(d.LogicalDevice, rp.Handle, d.Allocator)
		delete(d.renderPasses, h)
	}
	for h, p := range d.pools {
		vk.DestroyDescriptorPool(d.LogicalDevice, p.Handle, d.Allocator)
		delete(d.pools, h)
	}
	d.sets = make(map[metadata.Handle]*descriptorSet)
	for h, l := range d.setLayouts {
		vk.DestroyDescriptorSetLayout(d.LogicalDevice, l.Handle, d.Allocator)
		delete(d.setLayouts, h)
	}
	for h, s := range d.samplers {
		vk.DestroySampler(d.LogicalDevice, s, d.Allocator)
		delete(d.samplers, h)
	}
	for h, img := range d.images {
		if !img.swapchain {
			img.destroy(d)
			delete(d.images, h)
		}
	}
	for h, b := range d.buffers {
		b.destroy(d)
		delete(d.buffers, h)
	}
	for h, f := range d.fences {
		f.destroy(d)
		delete(d.fences, h)
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
