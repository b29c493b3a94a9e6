package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// SurfaceProvider is the windowing collaborator the device presents through.
type SurfaceProvider interface {
	// Instance extensions the window system needs, e.g. VK_KHR_xcb_surface.
	RequiredInstanceExtensions() []string
	// CreateSurface creates a VkSurfaceKHR for the given VkInstance and returns it as a raw pointer.
	CreateSurface(instance interface{}) (uintptr, error)
	// FramebufferSize is the current drawable size in pixels.
	FramebufferSize() (width, height uint32)
}

type Config struct {
	AppName        string
	FramesInFlight uint32
	// Enables the validation layer and the debug report callback.
	Debug bool
}

// Device implements renderer.Device on top of Vulkan. Every object handed out is
// referenced by a metadata.Handle so that swapchain recreation can swap the
// underlying Vulkan objects without the callers noticing.
type Device struct {
	cfg Config

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   SwapchainSupportInfo
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format

	surfaceProvider SurfaceProvider
	swapchain       *Swapchain
	locks           *LockPool

	// per frame slot
	commands                 []*CommandBuffer
	imageAvailableSemaphores []vk.Semaphore
	renderFinishedSemaphores []vk.Semaphore
	acquired                 []uint32

	// mu guards the handle tables below.
	mu           sync.RWMutex
	nextHandle   metadata.Handle
	buffers      map[metadata.Handle]*Buffer
	images       map[metadata.Handle]*Image
	samplers     map[metadata.Handle]vk.Sampler
	setLayouts   map[metadata.Handle]*descriptorSetLayout
	pools        map[metadata.Handle]*descriptorPool
	sets         map[metadata.Handle]*descriptorSet
	renderPasses map[metadata.Handle]*RenderPass
	framebuffers map[metadata.Handle]*Framebuffer
	pipelines    map[metadata.Handle]*Pipeline
	fences       map[metadata.Handle]*Fence
}

func (d *Device) allocHandle() metadata.Handle {
	d.nextHandle++
	return d.nextHandle
}

func (d *Device) FramesInFlight() uint32 {
	return d.cfg.FramesInFlight
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has all of propertyFlags, or -1.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		memoryType := d.Memory.MemoryTypes[i]
		memoryType.Deref()
		// Check each memory type to see if its bit is set to 1.
		if (typeFilter&(1<<i)) != 0 && (memoryType.PropertyFlags&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
