package vulkan

import (
	"context"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type Image struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Desc   metadata.ImageDescription

	// Layout after all recorded work has executed.
	layout    metadata.ImageLayout
	swapchain bool
}

func (d *Device) createView(image vk.Image, format vk.Format, desc metadata.ImageDescription) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	if desc.Cube {
		viewType = vk.ImageViewTypeCube
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectMask(desc.Format),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     desc.Layers,
		},
	}
	var view vk.ImageView
	if err := check(vk.CreateImageView(d.LogicalDevice, &viewInfo, d.Allocator, &view), "vkCreateImageView"); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

func (d *Device) newImage(desc metadata.ImageDescription) (*Image, error) {
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, errors.Newf("format %s is not supported by the vulkan device", desc.Format)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   desc.Layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.Cube {
		imageInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	var handle vk.Image
	if err := check(vk.CreateImage(d.LogicalDevice, &imageInfo, d.Allocator, &handle), "vkCreateImage"); err != nil {
		return nil, err
	}
	img := &Image{Handle: handle, Desc: desc}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, handle, &reqs)
	reqs.Deref()

	memory, err := d.allocate(reqs, vkMemoryProperties(desc.Memory))
	if err != nil {
		img.destroy(d)
		return nil, err
	}
	img.Memory = memory
	if err := check(vk.BindImageMemory(d.LogicalDevice, handle, memory, 0), "vkBindImageMemory"); err != nil {
		img.destroy(d)
		return nil, err
	}

	view, err := d.createView(handle, format, desc)
	if err != nil {
		img.destroy(d)
		return nil, err
	}
	img.View = view
	return img, nil
}

func (img *Image) destroy(d *Device) {
	if img.View != vk.NullImageView {
		vk.DestroyImageView(d.LogicalDevice, img.View, d.Allocator)
		img.View = vk.NullImageView
	}
	if img.swapchain {
		return
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(d.LogicalDevice, img.Handle, d.Allocator)
		img.Handle = vk.NullImage
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(d.LogicalDevice, img.Memory, d.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
}

// transition records a layout barrier covering every layer of the image.
func (img *Image) transition(cmd vk.CommandBuffer, from, to metadata.ImageLayout) {
	srcAccess, srcStage := layoutAccess(from)
	dstAccess, dstStage := layoutAccess(to)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           vkImageLayout(from),
		NewLayout:           vkImageLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectMask(img.Desc.Format),
			LevelCount: 1,
			LayerCount: img.Desc.Layers,
		},
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	img.layout = to
}

func (img *Image) copyRegion() vk.BufferImageCopy {
	return vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspectMask(img.Desc.Format),
			LayerCount: img.Desc.Layers,
		},
		ImageExtent: vk.Extent3D{
			Width:  img.Desc.Extent.Width,
			Height: img.Desc.Extent.Height,
			Depth:  1,
		},
	}
}

func (img *Image) byteSize() uint64 {
	return uint64(img.Desc.Extent.Pixels()) * uint64(img.Desc.Format.BytesPerPixel()) * uint64(img.Desc.Layers)
}

func (d *Device) image(h metadata.Handle) (*Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	img, ok := d.images[h]
	if !ok {
		return nil, errors.Newf("unknown image %d", h)
	}
	return img, nil
}

func (d *Device) CreateImage(desc metadata.ImageDescription) (metadata.Handle, error) {
	img, err := d.newImage(desc)
	if err != nil {
		return metadata.NullHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.images[h] = img
	return h, nil
}

func (d *Device) DestroyImage(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		core.LogWarn("DestroyImage: unknown image %d", h)
		return
	}
	if img.swapchain {
		core.LogWarn("DestroyImage: image %d belongs to the swapchain", h)
		return
	}
	img.destroy(d)
	delete(d.images, h)
}

// staging creates a host visible transfer buffer. The caller destroys it.
func (d *Device) staging(size uint64, usage metadata.BufferUsage) (*Buffer, error) {
	return d.newBuffer(metadata.BufferDescription{
		Size:   size,
		Usage:  usage,
		Memory: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent,
	})
}

func (d *Device) WriteImage(h metadata.Handle, data []byte) error {
	img, err := d.image(h)
	if err != nil {
		return err
	}
	if uint64(len(data)) != img.byteSize() {
		return errors.Newf("image %d expects %d bytes, got %d", h, img.byteSize(), len(data))
	}

	stage, err := d.staging(uint64(len(data)), metadata.BufferUsageTransferSrc)
	if err != nil {
		return err
	}
	defer stage.destroy(d)
	dst, err := stage.bytes(d, 0, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)

	return d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		vkCmd := cmd.(*CommandBuffer).Handle
		img.transition(vkCmd, metadata.ImageLayoutUndefined, metadata.ImageLayoutTransferDst)
		vk.CmdCopyBufferToImage(vkCmd, stage.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{img.copyRegion()})
		img.transition(vkCmd, metadata.ImageLayoutTransferDst, metadata.ImageLayoutShaderReadOnly)
		return nil
	})
}

func (d *Device) ReadImage(h metadata.Handle) ([]byte, error) {
	img, err := d.image(h)
	if err != nil {
		return nil, err
	}
	size := img.byteSize()
	stage, err := d.staging(size, metadata.BufferUsageTransferDst)
	if err != nil {
		return nil, err
	}
	defer stage.destroy(d)

	restore := img.layout
	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		vkCmd := cmd.(*CommandBuffer).Handle
		img.transition(vkCmd, restore, metadata.ImageLayoutTransferSrc)
		vk.CmdCopyImageToBuffer(vkCmd, img.Handle, vk.ImageLayoutTransferSrcOptimal, stage.Handle, 1, []vk.BufferImageCopy{img.copyRegion()})
		if restore != metadata.ImageLayoutUndefined {
			img.transition(vkCmd, metadata.ImageLayoutTransferSrc, restore)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	src, err := stage.bytes(d, 0, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, src)
	return out, nil
}

func (d *Device) CreateSampler(desc metadata.SamplerDescription) (metadata.Handle, error) {
	limits := d.Properties.Limits
	limits.Deref()

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vkFilter(desc.MagFilter),
		MinFilter:               vkFilter(desc.MinFilter),
		AddressModeU:            vkAddressMode(desc.AddressMode),
		AddressModeV:            vkAddressMode(desc.AddressMode),
		AddressModeW:            vkAddressMode(desc.AddressMode),
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           limits.MaxSamplerAnisotropy,
		BorderColor:             vk.BorderColorFloatOpaqueWhite,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	if desc.Compare {
		samplerInfo.CompareEnable = vk.True
		samplerInfo.CompareOp = vk.CompareOpLessOrEqual
		samplerInfo.AnisotropyEnable = vk.False
		samplerInfo.MaxAnisotropy = 1
	}

	var sampler vk.Sampler
	if err := check(vk.CreateSampler(d.LogicalDevice, &samplerInfo, d.Allocator, &sampler), "vkCreateSampler"); err != nil {
		return metadata.NullHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.samplers[h] = sampler
	return h, nil
}

func (d *Device) DestroySampler(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.samplers[h]
	if !ok {
		core.LogWarn("DestroySampler: unknown sampler %d", h)
		return
	}
	vk.DestroySampler(d.LogicalDevice, s, d.Allocator)
	delete(d.samplers, h)
}
