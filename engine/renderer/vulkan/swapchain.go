package vulkan

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const acquireTimeout = 100 * time.Millisecond

type Swapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	// Images are registered in the device image table. The handles survive recreation.
	Images []metadata.Handle
}

type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

// createSwapchain builds the swapchain for the current surface. When images is non-nil the
// existing handles are rebound to the new Vulkan images instead of registering new ones.
func (d *Device) createSwapchain(width, height uint32, images []metadata.Handle) (*Swapchain, error) {
	support, err := querySwapchainSupport(d.PhysicalDevice, d.Surface)
	if err != nil {
		return nil, err
	}
	d.SwapchainSupport = support
	capabilities := support.Capabilities

	swapchain := &Swapchain{
		ImageFormat: chooseSurfaceFormat(support.Formats),
		Extent:      vk.Extent2D{Width: width, Height: height},
	}
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchain.Extent = capabilities.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	swapchain.Extent.Width = clamp(swapchain.Extent.Width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width)
	swapchain.Extent.Height = clamp(swapchain.Extent.Height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height)
	if swapchain.Extent.Width == 0 || swapchain.Extent.Height == 0 {
		return nil, errors.Wrap(core.ErrSwapchainOutOfDate, "surface has zero extent")
	}

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(support.PresentModes),
		Clipped:          vk.True,
	}
	if d.GraphicsQueueIndex != d.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{d.GraphicsQueueIndex, d.PresentQueueIndex}
	}

	var handle vk.Swapchain
	if err := check(vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.Allocator, &handle), "vkCreateSwapchain"); err != nil {
		return nil, err
	}
	swapchain.Handle = handle

	var count uint32
	if err := check(vk.GetSwapchainImages(d.LogicalDevice, handle, &count, nil), "vkGetSwapchainImages"); err != nil {
		return nil, err
	}
	vkImages := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.LogicalDevice, handle, &count, vkImages), "vkGetSwapchainImages"); err != nil {
		return nil, err
	}
	if images != nil && len(images) != len(vkImages) {
		err := errors.Newf("swapchain image count changed from %d to %d", len(images), len(vkImages))
		core.LogError(err.Error())
		return nil, err
	}

	desc := metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: swapchain.Extent.Width, Height: swapchain.Extent.Height},
		Format: metadataFormat(swapchain.ImageFormat.Format),
		Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageTransferSrc,
		Layers: 1,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, vkImage := range vkImages {
		view, err := d.createView(vkImage, swapchain.ImageFormat.Format, desc)
		if err != nil {
			return nil, err
		}
		img := &Image{Handle: vkImage, View: view, Desc: desc, swapchain: true}
		if images != nil {
			d.images[images[i]] = img
			continue
		}
		h := d.allocHandle()
		d.images[h] = img
		swapchain.Images = append(swapchain.Images, h)
	}
	if images != nil {
		swapchain.Images = images
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", swapchain.Extent.Width, swapchain.Extent.Height, len(vkImages))
	return swapchain, nil
}

// destroySwapchain destroys the views and the swapchain. The images themselves are
// owned by the swapchain.
func (d *Device) destroySwapchain(sc *Swapchain) {
	d.mu.Lock()
	for _, h := range sc.Images {
		if img, ok := d.images[h]; ok && img.View != nil {
			vk.DestroyImageView(d.LogicalDevice, img.View, d.Allocator)
			img.View = nil
		}
	}
	d.mu.Unlock()
	vk.DestroySwapchain(d.LogicalDevice, sc.Handle, d.Allocator)
}

// recreateSwapchain rebuilds the swapchain at the original extent and re-creates every
// framebuffer that references a swapchain image. If the surface no longer has that
// extent the swapchain stays out of date.
func (d *Device) recreateSwapchain() error {
	return d.locks.SafeCall(SwapchainManagement, func() error {
		vk.DeviceWaitIdle(d.LogicalDevice)

		old := d.swapchain
		width, height := d.surfaceProvider.FramebufferSize()
		if width != old.Extent.Width || height != old.Extent.Height {
			return errors.Wrapf(core.ErrSwapchainOutOfDate, "surface is %dx%d, swapchain is %dx%d", width, height, old.Extent.Width, old.Extent.Height)
		}

		d.destroySwapchain(old)
		sc, err := d.createSwapchain(old.Extent.Width, old.Extent.Height, old.Images)
		if err != nil {
			return err
		}
		d.swapchain = sc
		return d.rebuildFramebuffers(sc.Images)
	})
}

func (d *Device) AcquireImage(ctx context.Context, slot uint32) (uint32, error) {
	semaphore := d.imageAvailableSemaphores[slot]
	for {
		var index uint32
		result := vk.AcquireNextImage(d.LogicalDevice, d.swapchain.Handle, uint64(acquireTimeout.Nanoseconds()), semaphore, vk.NullFence, &index)
		switch result {
		case vk.Success, vk.Suboptimal:
			d.acquired[slot] = index
			return index, nil
		case vk.Timeout, vk.NotReady:
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		case vk.ErrorOutOfDate:
			if err := d.recreateSwapchain(); err != nil {
				return 0, err
			}
			return 0, errors.Wrap(core.ErrSwapchainOutOfDate, "swapchain recreated")
		default:
			return 0, check(result, "vkAcquireNextImage")
		}
	}
}

func (d *Device) Present(slot, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{d.renderFinishedSemaphores[slot]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{d.swapchain.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	var result vk.Result
	_ = d.locks.SafeQueueCall(d.PresentQueueIndex, func() error {
		result = vk.QueuePresent(d.PresentQueue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		// The frame was consumed; the next acquire works against the new swapchain.
		if err := d.recreateSwapchain(); err != nil && !errors.Is(err, core.ErrSwapchainOutOfDate) {
			return err
		}
		return nil
	}
	return check(result, "vkQueuePresent")
}

func (d *Device) SwapchainImages() []metadata.Handle {
	return d.swapchain.Images
}

func (d *Device) SwapchainFormat() metadata.Format {
	return metadataFormat(d.swapchain.ImageFormat.Format)
}

func (d *Device) SwapchainExtent() metadata.Extent2D {
	return metadata.Extent2D{Width: d.swapchain.Extent.Width, Height: d.swapchain.Extent.Height}
}
