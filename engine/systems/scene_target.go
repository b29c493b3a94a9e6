package systems

import (
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	SceneColourFormat = metadata.FormatR32G32B32A32Sfloat
	SceneDepthFormat  = metadata.FormatD32Sfloat
)

// SceneTarget is the per-slot HDR colour and depth target Skybox, Material and Grid draw into.
// The colour image ends every frame in ShaderReadOnly for the post-process chain.
type SceneTarget struct {
	device       renderer.Device
	pass         *renderer.RenderPass
	colour       []*renderer.Image
	depth        []*renderer.Image
	framebuffers []*renderer.Framebuffer
	clears       []metadata.ClearValue
	extent       metadata.Extent2D
}

func SceneRenderPassDescription() metadata.RenderPassDescription {
	return metadata.RenderPassDescription{
		Name: "scene",
		Attachments: []metadata.AttachmentDescription{
			{
				Format:        SceneColourFormat,
				LoadOp:        metadata.LoadOpClear,
				StoreOp:       metadata.StoreOpStore,
				InitialLayout: metadata.ImageLayoutUndefined,
				FinalLayout:   metadata.ImageLayoutShaderReadOnly,
			},
			{
				Format:        SceneDepthFormat,
				LoadOp:        metadata.LoadOpClear,
				StoreOp:       metadata.StoreOpDontCare,
				InitialLayout: metadata.ImageLayoutUndefined,
				FinalLayout:   metadata.ImageLayoutDepthStencilAttachment,
			},
		},
		Subpasses: []metadata.SubpassDescription{{
			ColorAttachments: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachment}},
			DepthAttachment:  &metadata.AttachmentReference{Attachment: 1, Layout: metadata.ImageLayoutDepthStencilAttachment},
		}},
		Dependencies: []metadata.SubpassDependency{
			{
				// previous frame's post-process reads of this slot's colour image
				SrcSubpass: metadata.SubpassExternal,
				DstSubpass: 0,
				SrcStage:   metadata.PipelineStageFragmentShader,
				DstStage:   metadata.PipelineStageColorAttachmentOutput | metadata.PipelineStageEarlyFragmentTests,
				SrcAccess:  metadata.AccessShaderRead,
				DstAccess:  metadata.AccessColorAttachmentWrite | metadata.AccessDepthStencilAttachmentWrite,
			},
			{
				SrcSubpass: 0,
				DstSubpass: metadata.SubpassExternal,
				SrcStage:   metadata.PipelineStageColorAttachmentOutput,
				DstStage:   metadata.PipelineStageFragmentShader,
				SrcAccess:  metadata.AccessColorAttachmentWrite,
				DstAccess:  metadata.AccessShaderRead,
			},
		},
	}
}

func NewSceneTarget(device renderer.Device, extent metadata.Extent2D, clearColour [4]float32) (*SceneTarget, error) {
	st := &SceneTarget{
		device: device,
		extent: extent,
		clears: []metadata.ClearValue{{Colour: clearColour}, {Depth: 1.0}},
	}
	pass, err := renderer.NewRenderPass(device, SceneRenderPassDescription())
	if err != nil {
		return nil, err
	}
	st.pass = pass

	for i := uint32(0); i < device.FramesInFlight(); i++ {
		colour, err := renderer.NewImage(device, metadata.ImageDescription{
			Extent: extent,
			Format: SceneColourFormat,
			Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageSampled,
		})
		if err != nil {
			st.Destroy()
			return nil, err
		}
		st.colour = append(st.colour, colour)

		depth, err := renderer.NewImage(device, metadata.ImageDescription{
			Extent: extent,
			Format: SceneDepthFormat,
			Usage:  metadata.ImageUsageDepthStencilAttachment,
		})
		if err != nil {
			st.Destroy()
			return nil, err
		}
		st.depth = append(st.depth, depth)

		fb, err := renderer.NewFramebuffer(device, pass, colour, depth)
		if err != nil {
			st.Destroy()
			return nil, err
		}
		st.framebuffers = append(st.framebuffers, fb)
	}
	return st, nil
}

func (st *SceneTarget) Name() string {
	return "scene"
}

func (st *SceneTarget) RenderPass() *renderer.RenderPass {
	return st.pass
}

func (st *SceneTarget) Extent() metadata.Extent2D {
	return st.extent
}

// Colour returns the HDR image of slot.
func (st *SceneTarget) Colour(slot uint32) *renderer.Image {
	return st.colour[slot]
}

func (st *SceneTarget) Begin(frame *renderer.FrameInfo) error {
	return st.pass.Begin(frame.Command, st.framebuffers[frame.SlotIndex], st.clears)
}

func (st *SceneTarget) End(frame *renderer.FrameInfo) {
	st.pass.End(frame.Command)
}

func (st *SceneTarget) Destroy() {
	for _, fb := range st.framebuffers {
		fb.Destroy()
	}
	for _, img := range st.colour {
		img.Destroy()
	}
	for _, img := range st.depth {
		img.Destroy()
	}
	st.framebuffers, st.colour, st.depth = nil, nil, nil
	if st.pass != nil {
		st.pass.Destroy()
	}
}
