package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type RenderPass struct {
	device Device
	handle metadata.Handle
	desc   metadata.RenderPassDescription

	// framebuffer of the pass currently being recorded
	active  *Framebuffer
	subpass uint32
}

func NewRenderPass(device Device, desc metadata.RenderPassDescription) (*RenderPass, error) {
	if err := validateRenderPass(desc); err != nil {
		err = errors.Wrapf(err, "render pass %s", desc.Name)
		core.LogError(err.Error())
		return nil, err
	}
	handle, err := device.CreateRenderPass(desc)
	if err != nil {
		err = errors.Wrapf(err, "failed to create render pass %s", desc.Name)
		core.LogError(err.Error())
		return nil, err
	}
	return &RenderPass{
		device: device,
		handle: handle,
		desc:   desc,
	}, nil
}

func validateRenderPass(desc metadata.RenderPassDescription) error {
	if len(desc.Attachments) == 0 {
		return errors.New("no attachments")
	}
	if len(desc.Subpasses) == 0 {
		return errors.New("no subpasses")
	}
	n := uint32(len(desc.Attachments))
	for i, sp := range desc.Subpasses {
		refs := append(append([]metadata.AttachmentReference{}, sp.ColorAttachments...), sp.InputAttachments...)
		if d := sp.DepthAttachment; d != nil {
			if d.Attachment >= n || !desc.Attachments[d.Attachment].Format.IsDepth() {
				return errors.Newf("subpass %d: depth reference %d is not a depth attachment", i, d.Attachment)
			}
		}
		for _, ref := range refs {
			if ref.Attachment >= n {
				return errors.Newf("subpass %d references attachment %d of %d", i, ref.Attachment, n)
			}
		}
	}
	subpasses := uint32(len(desc.Subpasses))
	for _, dep := range desc.Dependencies {
		if dep.SrcSubpass != metadata.SubpassExternal && dep.SrcSubpass >= subpasses {
			return errors.Newf("dependency source subpass %d out of range", dep.SrcSubpass)
		}
		if dep.DstSubpass != metadata.SubpassExternal && dep.DstSubpass >= subpasses {
			return errors.Newf("dependency destination subpass %d out of range", dep.DstSubpass)
		}
		// writes must be ordered before the reads that depend on them
		if dep.SrcSubpass != metadata.SubpassExternal && dep.DstSubpass != metadata.SubpassExternal && dep.SrcSubpass > dep.DstSubpass {
			return errors.Newf("dependency %d -> %d goes backwards", dep.SrcSubpass, dep.DstSubpass)
		}
	}
	return nil
}

func (r *RenderPass) Handle() metadata.Handle {
	return r.handle
}

func (r *RenderPass) Name() string {
	return r.desc.Name
}

func (r *RenderPass) Attachments() []metadata.AttachmentDescription {
	return r.desc.Attachments
}

func (r *RenderPass) SubpassCount() uint32 {
	return uint32(len(r.desc.Subpasses))
}

// Begin starts the pass on fb. Every attachment image must be in the layout the
// attachment declares as initial; Undefined accepts any layout.
func (r *RenderPass) Begin(cmd CommandContext, fb *Framebuffer, clears []metadata.ClearValue) error {
	if r.active != nil {
		return errors.Newf("render pass %s already begun", r.desc.Name)
	}
	if fb.pass != r {
		return errors.Newf("framebuffer was not created for render pass %s", r.desc.Name)
	}
	for i, att := range r.desc.Attachments {
		img := fb.images[i]
		if att.InitialLayout != metadata.ImageLayoutUndefined && img.Layout() != att.InitialLayout {
			err := errors.Wrapf(core.ErrLayoutTransition, "render pass %s attachment %d is %s, expected %s",
				r.desc.Name, i, img.Layout(), att.InitialLayout)
			core.LogError(err.Error())
			return err
		}
	}
	cmd.BeginRenderPass(r.handle, fb.handle, fb.extent, clears)
	cmd.SetViewport(0, 0, float32(fb.extent.Width), float32(fb.extent.Height))
	cmd.SetScissor(0, 0, fb.extent.Width, fb.extent.Height)
	r.active = fb
	r.subpass = 0
	return nil
}

// Subpass is the index of the subpass being recorded.
func (r *RenderPass) Subpass() uint32 {
	return r.subpass
}

// NextSubpass advances to the next subpass of the active pass.
func (r *RenderPass) NextSubpass(cmd CommandContext) error {
	if r.active == nil {
		return errors.Newf("render pass %s is not active", r.desc.Name)
	}
	if r.subpass+1 >= r.SubpassCount() {
		return errors.Newf("render pass %s has no subpass after %d", r.desc.Name, r.subpass)
	}
	cmd.NextSubpass()
	r.subpass++
	return nil
}

// End finishes the pass and moves each attachment image to its final layout.
func (r *RenderPass) End(cmd CommandContext) {
	if r.active == nil {
		return
	}
	cmd.EndRenderPass()
	for i, att := range r.desc.Attachments {
		r.active.images[i].setLayout(att.FinalLayout)
	}
	r.active = nil
	r.subpass = 0
}

func (r *RenderPass) Destroy() {
	if r.handle.IsNull() {
		return
	}
	r.device.DestroyRenderPass(r.handle)
	r.handle = metadata.NullHandle
}

type Framebuffer struct {
	device Device
	handle metadata.Handle
	pass   *RenderPass
	images []*Image
	extent metadata.Extent2D
}

// NewFramebuffer binds one image per attachment of pass. All images share the first image's extent.
func NewFramebuffer(device Device, pass *RenderPass, images ...*Image) (*Framebuffer, error) {
	if len(images) != len(pass.desc.Attachments) {
		err := errors.Newf("render pass %s has %d attachments, got %d images", pass.desc.Name, len(pass.desc.Attachments), len(images))
		core.LogError(err.Error())
		return nil, err
	}
	extent := images[0].Extent()
	handles := make([]metadata.Handle, len(images))
	for i, img := range images {
		if img.Format() != pass.desc.Attachments[i].Format {
			err := errors.Newf("render pass %s attachment %d is %s, image is %s", pass.desc.Name, i, pass.desc.Attachments[i].Format, img.Format())
			core.LogError(err.Error())
			return nil, err
		}
		if img.Extent() != extent {
			err := errors.Newf("framebuffer attachments differ in extent")
			core.LogError(err.Error())
			return nil, err
		}
		handles[i] = img.Handle()
	}
	handle, err := device.CreateFramebuffer(metadata.FramebufferDescription{
		RenderPass:  pass.handle,
		Attachments: handles,
		Extent:      extent,
	})
	if err != nil {
		err = errors.Wrap(err, "failed to create framebuffer")
		core.LogError(err.Error())
		return nil, err
	}
	return &Framebuffer{
		device: device,
		handle: handle,
		pass:   pass,
		images: images,
		extent: extent,
	}, nil
}

func (f *Framebuffer) Handle() metadata.Handle {
	return f.handle
}

func (f *Framebuffer) Extent() metadata.Extent2D {
	return f.extent
}

func (f *Framebuffer) Destroy() {
	if f.handle.IsNull() {
		return
	}
	f.device.DestroyFramebuffer(f.handle)
	f.handle = metadata.NullHandle
}
