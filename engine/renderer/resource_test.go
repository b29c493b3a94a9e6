package renderer_test

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestBufferMapWriteAndDestroy(t *testing.T) {
	d := newDevice(t, 2)
	buf, err := renderer.NewBuffer(d, 16, metadata.BufferUsageUniform, metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent)
	require.NoError(t, err)

	require.NoError(t, buf.Write([]byte{1, 2, 3, 4}, 4))
	require.NoError(t, buf.Map(func(data []byte) error {
		assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, data[:8])
		return nil
	}))
	assert.Error(t, buf.Write(make([]byte, 8), 12))

	buf.Destroy()
	buf.Destroy()
	assert.Equal(t, uint64(0), d.AllocatedMemory())
}

func TestBufferMapDeviceLocalPanics(t *testing.T) {
	d := newDevice(t, 2)
	buf, err := renderer.NewBuffer(d, 16, metadata.BufferUsageVertex, metadata.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.Panics(t, func() {
		_ = buf.Map(func([]byte) error { return nil })
	})
}

func TestBufferMoveTransfersOwnership(t *testing.T) {
	d := newDevice(t, 2)
	buf, err := renderer.NewBuffer(d, 16, metadata.BufferUsageVertex, metadata.MemoryPropertyHostVisible)
	require.NoError(t, err)
	h := buf.Handle()

	moved := buf.Move()
	assert.True(t, buf.Handle().IsNull())
	assert.Equal(t, h, moved.Handle())

	// destroying the moved-from value must not release the handle
	buf.Destroy()
	assert.Equal(t, uint64(16), d.AllocatedMemory())
	moved.Destroy()
	assert.Equal(t, uint64(0), d.AllocatedMemory())
}

func TestOutOfDeviceMemory(t *testing.T) {
	d, err := headless.New(headless.Config{
		FramesInFlight: 1,
		Extent:         metadata.Extent2D{Width: 1, Height: 1},
		MemoryBudget:   64,
	})
	require.NoError(t, err)
	defer d.Destroy()

	_, err = renderer.NewBuffer(d, 128, metadata.BufferUsageVertex, metadata.MemoryPropertyHostVisible)
	assert.True(t, errors.Is(err, core.ErrOutOfDeviceMemory))

	buf, err := renderer.NewBuffer(d, 32, metadata.BufferUsageVertex, metadata.MemoryPropertyHostVisible)
	require.NoError(t, err)
	buf.Destroy()
}

func TestImageUploadAndTransitions(t *testing.T) {
	d := newDevice(t, 2)
	img, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 1, Height: 1},
		Format: metadata.FormatR32G32B32A32Sfloat,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
	})
	require.NoError(t, err)
	defer img.Destroy()
	assert.Equal(t, metadata.ImageLayoutUndefined, img.Layout())

	texel := make([]byte, 16)
	for i, v := range []float32{0.5, 1.5, 2.5, 1.0} {
		binary.LittleEndian.PutUint32(texel[i*4:], math.Float32bits(v))
	}
	require.NoError(t, img.Upload(texel))
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, img.Layout())

	back, err := img.Read()
	require.NoError(t, err)
	assert.Equal(t, texel, back)

	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		require.NoError(t, img.Transition(cmd, metadata.ImageLayoutColorAttachment))
		require.NoError(t, img.Transition(cmd, metadata.ImageLayoutPresentSrc))
		return img.Transition(cmd, metadata.ImageLayoutShaderReadOnly)
	})
	assert.True(t, errors.Is(err, core.ErrLayoutTransition))
	assert.Equal(t, metadata.ImageLayoutPresentSrc, img.Layout())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, renderer.CanTransition(metadata.ImageLayoutUndefined, metadata.ImageLayoutTransferDst))
	assert.True(t, renderer.CanTransition(metadata.ImageLayoutTransferDst, metadata.ImageLayoutShaderReadOnly))
	assert.True(t, renderer.CanTransition(metadata.ImageLayoutDepthStencilAttachment, metadata.ImageLayoutShaderReadOnly))
	assert.False(t, renderer.CanTransition(metadata.ImageLayoutTransferDst, metadata.ImageLayoutPresentSrc))
	assert.False(t, renderer.CanTransition(metadata.ImageLayoutShaderReadOnly, metadata.ImageLayoutUndefined))
}

func TestRenderPassChecksInitialLayout(t *testing.T) {
	d := newDevice(t, 2)
	pass, err := renderer.NewRenderPass(d, colourPassDescription(metadata.ImageLayoutShaderReadOnly, metadata.ImageLayoutShaderReadOnly))
	require.NoError(t, err)
	defer pass.Destroy()

	img, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 2, Height: 2},
		Format: metadata.FormatR32G32B32A32Sfloat,
		Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageSampled,
	})
	require.NoError(t, err)
	defer img.Destroy()
	fb, err := renderer.NewFramebuffer(d, pass, img)
	require.NoError(t, err)
	defer fb.Destroy()

	clears := []metadata.ClearValue{{Colour: [4]float32{1, 0, 0, 1}}}
	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		return pass.Begin(cmd, fb, clears)
	})
	assert.True(t, errors.Is(err, core.ErrLayoutTransition))

	require.NoError(t, img.PrepareForSampling(context.Background()))
	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		if err := pass.Begin(cmd, fb, clears); err != nil {
			return err
		}
		pass.End(cmd)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, img.Layout())

	px, err := img.Read()
	require.NoError(t, err)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(px[0:])))
}

func TestRenderPassNextSubpassBounds(t *testing.T) {
	d := newDevice(t, 2)
	desc := colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly)
	desc.Subpasses = append(desc.Subpasses, desc.Subpasses[0])
	pass, err := renderer.NewRenderPass(d, desc)
	require.NoError(t, err)
	defer pass.Destroy()
	require.Equal(t, uint32(2), pass.SubpassCount())

	img, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 2, Height: 2},
		Format: metadata.FormatR32G32B32A32Sfloat,
		Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageSampled,
	})
	require.NoError(t, err)
	defer img.Destroy()
	fb, err := renderer.NewFramebuffer(d, pass, img)
	require.NoError(t, err)
	defer fb.Destroy()

	clears := []metadata.ClearValue{{Colour: [4]float32{0, 0, 0, 1}}}
	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		assert.Error(t, pass.NextSubpass(cmd), "no active pass")
		if err := pass.Begin(cmd, fb, clears); err != nil {
			return err
		}
		assert.Equal(t, uint32(0), pass.Subpass())
		if err := pass.NextSubpass(cmd); err != nil {
			return err
		}
		assert.Equal(t, uint32(1), pass.Subpass())
		assert.Error(t, pass.NextSubpass(cmd))
		assert.Equal(t, uint32(1), pass.Subpass())
		pass.End(cmd)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pass.Subpass())
}

func TestRenderPassValidation(t *testing.T) {
	d := newDevice(t, 2)
	desc := colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly)
	desc.Subpasses[0].ColorAttachments[0].Attachment = 3
	_, err := renderer.NewRenderPass(d, desc)
	assert.Error(t, err)

	desc = colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly)
	desc.Dependencies = []metadata.SubpassDependency{{SrcSubpass: 0, DstSubpass: 2}}
	_, err = renderer.NewRenderPass(d, desc)
	assert.Error(t, err)
}

func TestFramebufferRejectsWrongFormat(t *testing.T) {
	d := newDevice(t, 2)
	pass, err := renderer.NewRenderPass(d, colourPassDescription(metadata.ImageLayoutUndefined, metadata.ImageLayoutShaderReadOnly))
	require.NoError(t, err)
	img, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 2, Height: 2},
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageColorAttachment,
	})
	require.NoError(t, err)
	_, err = renderer.NewFramebuffer(d, pass, img)
	assert.Error(t, err)
}
