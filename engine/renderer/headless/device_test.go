package headless

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := New(Config{FramesInFlight: 2, Extent: metadata.Extent2D{Width: 4, Height: 2}})
	require.NoError(t, err)
	t.Cleanup(d.Destroy)
	return d
}

func TestNewRejectsEmptyExtent(t *testing.T) {
	_, err := New(Config{FramesInFlight: 2})
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestFenceWaitAndReset(t *testing.T) {
	f := newFence(false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.wait(ctx), context.DeadlineExceeded)

	f.signal()
	f.signal()
	assert.NoError(t, f.wait(context.Background()))
	f.reset()
	assert.False(t, f.isSignaled())
}

func TestTexelRoundTrip(t *testing.T) {
	img := newImage(metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 1, Height: 1},
		Format: metadata.FormatB8G8R8A8Unorm,
		Layers: 1,
	})
	img.decode([]byte{10, 20, 30, 255})
	c := img.load(0)
	assert.InDelta(t, 30.0/255.0, c[0], 1e-6)
	assert.InDelta(t, 10.0/255.0, c[2], 1e-6)
	assert.Equal(t, []byte{10, 20, 30, 255}, img.encode())

	srgb := newImage(metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 1, Height: 1},
		Format: metadata.FormatR8G8B8A8Srgb,
		Layers: 1,
	})
	srgb.decode([]byte{188, 0, 255, 255})
	assert.InDelta(t, 0.5, srgb.load(0)[0], 0.01)
	assert.Equal(t, []byte{188, 0, 255, 255}, srgb.encode())
}

func TestSamplerFilters(t *testing.T) {
	img := newImage(metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 2, Height: 1},
		Format: metadata.FormatR32G32B32A32Sfloat,
		Layers: 1,
	})
	img.store(0, [4]float32{0, 0, 0, 1})
	img.store(1, [4]float32{1, 1, 1, 1})

	nearest := &boundTexture{img: img, sampler: metadata.SamplerDescription{MagFilter: metadata.FilterNearest, AddressMode: metadata.AddressModeClampToEdge}}
	assert.Equal(t, float32(0), nearest.Sample(0.25, 0.5)[0])
	assert.Equal(t, float32(1), nearest.Sample(0.75, 0.5)[0])

	linear := &boundTexture{img: img, sampler: metadata.SamplerDescription{MagFilter: metadata.FilterLinear, AddressMode: metadata.AddressModeClampToEdge}}
	assert.InDelta(t, 0.5, linear.Sample(0.5, 0.5)[0], 1e-6)
	assert.InDelta(t, 0.0, linear.Sample(0.0, 0.5)[0], 1e-6)
}

func TestFullscreenProgramRuns(t *testing.T) {
	d := newTestDevice(t)

	pass, err := renderer.NewRenderPass(d, metadata.RenderPassDescription{
		Name: "fullscreen",
		Attachments: []metadata.AttachmentDescription{{
			Format:      metadata.FormatR32G32B32A32Sfloat,
			LoadOp:      metadata.LoadOpDontCare,
			StoreOp:     metadata.StoreOpStore,
			FinalLayout: metadata.ImageLayoutShaderReadOnly,
		}},
		Subpasses: []metadata.SubpassDescription{{
			ColorAttachments: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachment}},
		}},
	})
	require.NoError(t, err)
	target, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 4, Height: 2},
		Format: metadata.FormatR32G32B32A32Sfloat,
		Usage:  metadata.ImageUsageColorAttachment,
	})
	require.NoError(t, err)
	fb, err := renderer.NewFramebuffer(d, pass, target)
	require.NoError(t, err)

	code := []uint32{metadata.SPIRVMagic}
	p, err := renderer.NewPipeline(d, renderer.PipelineConfig{
		Name:       "uv",
		RenderPass: pass,
		Stages: []metadata.ShaderStageDescription{
			{Stage: metadata.ShaderStageVertex, EntryPoint: "main", Code: code},
			{Stage: metadata.ShaderStageFragment, EntryPoint: "main", Code: code},
		},
		PushConstants: []metadata.PushConstantRange{{Stages: metadata.ShaderStageFragment, Size: 4}},
		Fragment: func(fc metadata.FragmentContext, u, v float32) [4]float32 {
			scale := math.Float32frombits(binary.LittleEndian.Uint32(fc.PushConstants()))
			return [4]float32{u * scale, v, 0, 1}
		},
	})
	require.NoError(t, err)

	push := make([]byte, 4)
	binary.LittleEndian.PutUint32(push, math.Float32bits(2))
	err = d.ImmediateSubmit(context.Background(), func(cmd renderer.CommandContext) error {
		if err := pass.Begin(cmd, fb, nil); err != nil {
			return err
		}
		p.Bind(cmd)
		if err := p.PushConstants(cmd, metadata.ShaderStageFragment, 0, push); err != nil {
			return err
		}
		cmd.Draw(3, 1, 0, 0)
		pass.End(cmd)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.WaitIdle())

	data, err := target.Read()
	require.NoError(t, err)
	texel := func(x, y, ch int) float32 {
		i := ((y*4+x)*4 + ch) * 4
		return math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
	}
	assert.InDelta(t, 2*0.125, texel(0, 0, 0), 1e-6)
	assert.InDelta(t, 2*0.875, texel(3, 1, 0), 1e-6)
	assert.InDelta(t, 0.75, texel(3, 1, 1), 1e-6)
	assert.Equal(t, uint64(1), d.Stats().FullscreenDraws)
}

func TestExecutionErrorsSurfaceOnWaitIdle(t *testing.T) {
	d := newTestDevice(t)
	cmd := d.CommandContext(0)
	require.NoError(t, cmd.Reset())
	require.NoError(t, cmd.Begin())
	cmd.BindPipeline(metadata.Handle(9999))
	require.NoError(t, cmd.End())

	f, err := d.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, d.Submit(0, cmd, f))
	require.NoError(t, d.WaitFence(context.Background(), f))
	assert.Error(t, d.WaitIdle())
}

func TestDrawOutsidePassFailsOnEnd(t *testing.T) {
	d := newTestDevice(t)
	cmd := d.CommandContext(1)
	require.NoError(t, cmd.Begin())
	cmd.Draw(3, 1, 0, 0)
	assert.Error(t, cmd.End())
}

func TestPoolAccountingMirrorsDevice(t *testing.T) {
	d := newTestDevice(t)
	layout, err := d.CreateDescriptorSetLayout([]metadata.DescriptorBinding{
		{Index: 0, Type: metadata.DescriptorTypeUniformBuffer, Count: 2, Stages: metadata.ShaderStageVertex},
	})
	require.NoError(t, err)
	pool, err := d.CreateDescriptorPool(metadata.DescriptorPoolDescription{
		Sizes:   map[metadata.DescriptorType]uint32{metadata.DescriptorTypeUniformBuffer: 3},
		MaxSets: 4,
	})
	require.NoError(t, err)

	_, err = d.AllocateDescriptorSet(pool, layout)
	require.NoError(t, err)
	_, err = d.AllocateDescriptorSet(pool, layout)
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))
	require.NoError(t, d.ResetDescriptorPool(pool))
	_, err = d.AllocateDescriptorSet(pool, layout)
	require.NoError(t, err)
}
