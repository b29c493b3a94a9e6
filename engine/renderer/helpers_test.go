package renderer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func newDevice(t *testing.T, frames uint32) *headless.Device {
	t.Helper()
	d, err := headless.New(headless.Config{
		FramesInFlight: frames,
		Extent:         metadata.Extent2D{Width: 8, Height: 8},
	})
	require.NoError(t, err)
	t.Cleanup(d.Destroy)
	return d
}

func spirv() []uint32 {
	return []uint32{metadata.SPIRVMagic, 0x00010000, 0, 1, 0}
}

func stages() []metadata.ShaderStageDescription {
	return []metadata.ShaderStageDescription{
		{Stage: metadata.ShaderStageVertex, EntryPoint: "main", Code: spirv()},
		{Stage: metadata.ShaderStageFragment, EntryPoint: "main", Code: spirv()},
	}
}

func colourPassDescription(initial, final metadata.ImageLayout) metadata.RenderPassDescription {
	return metadata.RenderPassDescription{
		Name: "test",
		Attachments: []metadata.AttachmentDescription{{
			Format:        metadata.FormatR32G32B32A32Sfloat,
			LoadOp:        metadata.LoadOpClear,
			StoreOp:       metadata.StoreOpStore,
			InitialLayout: initial,
			FinalLayout:   final,
		}},
		Subpasses: []metadata.SubpassDescription{{
			ColorAttachments: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachment}},
		}},
	}
}
