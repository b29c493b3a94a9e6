package renderer

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// legalTransitions lists the layouts an image may move to from each layout.
var legalTransitions = map[metadata.ImageLayout][]metadata.ImageLayout{
	metadata.ImageLayoutUndefined: {
		metadata.ImageLayoutTransferDst,
		metadata.ImageLayoutColorAttachment,
		metadata.ImageLayoutDepthStencilAttachment,
		metadata.ImageLayoutShaderReadOnly,
	},
	metadata.ImageLayoutTransferDst: {
		metadata.ImageLayoutShaderReadOnly,
	},
	metadata.ImageLayoutColorAttachment: {
		metadata.ImageLayoutShaderReadOnly,
		metadata.ImageLayoutPresentSrc,
		metadata.ImageLayoutTransferSrc,
	},
	metadata.ImageLayoutShaderReadOnly: {
		metadata.ImageLayoutColorAttachment,
		metadata.ImageLayoutDepthStencilAttachment,
		metadata.ImageLayoutTransferDst,
	},
	metadata.ImageLayoutDepthStencilAttachment: {
		metadata.ImageLayoutShaderReadOnly,
	},
	metadata.ImageLayoutPresentSrc: {
		metadata.ImageLayoutColorAttachment,
	},
	metadata.ImageLayoutTransferSrc: {
		metadata.ImageLayoutColorAttachment,
		metadata.ImageLayoutPresentSrc,
	},
}

// CanTransition reports whether from -> to is part of the legal transition graph.
func CanTransition(from, to metadata.ImageLayout) bool {
	if from == to {
		return true
	}
	return slices.Contains(legalTransitions[from], to)
}

// Image owns a device image and view, and tracks the layout it is in.
type Image struct {
	device Device
	handle metadata.Handle
	desc   metadata.ImageDescription
	layout metadata.ImageLayout
	// images owned by the swapchain are tracked but never destroyed
	external bool
}

func NewImage(device Device, desc metadata.ImageDescription) (*Image, error) {
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		err := errors.Newf("cannot create image with extent %dx%d", desc.Extent.Width, desc.Extent.Height)
		core.LogError(err.Error())
		return nil, err
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Memory == 0 {
		desc.Memory = metadata.MemoryPropertyDeviceLocal
	}
	handle, err := device.CreateImage(desc)
	if err != nil {
		err = errors.Wrapf(err, "failed to create %s image %dx%d", desc.Format, desc.Extent.Width, desc.Extent.Height)
		core.LogError(err.Error())
		return nil, err
	}
	return &Image{
		device: device,
		handle: handle,
		desc:   desc,
		layout: metadata.ImageLayoutUndefined,
	}, nil
}

// WrapSwapchainImage tracks the layout of an image the swapchain owns.
func WrapSwapchainImage(device Device, handle metadata.Handle, format metadata.Format, extent metadata.Extent2D) *Image {
	return &Image{
		device: device,
		handle: handle,
		desc: metadata.ImageDescription{
			Extent: extent,
			Format: format,
			Usage:  metadata.ImageUsageColorAttachment,
			Layers: 1,
		},
		layout:   metadata.ImageLayoutUndefined,
		external: true,
	}
}

func (i *Image) Handle() metadata.Handle {
	return i.handle
}

func (i *Image) Format() metadata.Format {
	return i.desc.Format
}

func (i *Image) Extent() metadata.Extent2D {
	return i.desc.Extent
}

func (i *Image) Layout() metadata.ImageLayout {
	return i.layout
}

// Transition records a layout transition on cmd.
func (i *Image) Transition(cmd CommandContext, to metadata.ImageLayout) error {
	if i.layout == to {
		return nil
	}
	if !CanTransition(i.layout, to) {
		return errors.Wrapf(core.ErrLayoutTransition, "image %d: %s -> %s", i.handle, i.layout, to)
	}
	cmd.TransitionImage(i.handle, i.layout, to)
	i.layout = to
	return nil
}

// Upload writes tightly packed texels. The image ends in ShaderReadOnly.
func (i *Image) Upload(data []byte) error {
	expected := uint64(i.desc.Extent.Pixels()) * uint64(i.desc.Format.BytesPerPixel()) * uint64(i.desc.Layers)
	if uint64(len(data)) != expected {
		return errors.Newf("image upload of %d bytes, expected %d", len(data), expected)
	}
	if !CanTransition(i.layout, metadata.ImageLayoutTransferDst) {
		return errors.Wrapf(core.ErrLayoutTransition, "image %d: cannot upload from %s", i.handle, i.layout)
	}
	if err := i.device.WriteImage(i.handle, data); err != nil {
		return errors.Wrap(err, "failed to upload image")
	}
	i.layout = metadata.ImageLayoutShaderReadOnly
	return nil
}

// Read returns the texels of the image. Callers must make sure no submitted work still writes it.
func (i *Image) Read() ([]byte, error) {
	return i.device.ReadImage(i.handle)
}

// PrepareForSampling moves a freshly created image into ShaderReadOnly with a one-off submission.
func (i *Image) PrepareForSampling(ctx context.Context) error {
	return i.device.ImmediateSubmit(ctx, func(cmd CommandContext) error {
		return i.Transition(cmd, metadata.ImageLayoutShaderReadOnly)
	})
}

func (i *Image) setLayout(layout metadata.ImageLayout) {
	i.layout = layout
}

func (i *Image) Destroy() {
	if i.handle.IsNull() {
		return
	}
	if !i.external {
		i.device.DestroyImage(i.handle)
	}
	i.handle = metadata.NullHandle
}

type Sampler struct {
	device Device
	handle metadata.Handle
}

func NewSampler(device Device, desc metadata.SamplerDescription) (*Sampler, error) {
	handle, err := device.CreateSampler(desc)
	if err != nil {
		err = errors.Wrap(err, "failed to create sampler")
		core.LogError(err.Error())
		return nil, err
	}
	return &Sampler{device: device, handle: handle}, nil
}

func (s *Sampler) Handle() metadata.Handle {
	return s.handle
}

func (s *Sampler) Destroy() {
	if s.handle.IsNull() {
		return
	}
	s.device.DestroySampler(s.handle)
	s.handle = metadata.NullHandle
}
