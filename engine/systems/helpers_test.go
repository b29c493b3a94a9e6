package systems_test

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type fixture struct {
	device *headless.Device
	fm     *renderer.FrameMultiplexer
	sc     systems.SystemConfig
}

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

func newFixture(t *testing.T, frames uint32) *fixture {
	t.Helper()
	d := newDevice(t, frames)
	fm, err := renderer.NewFrameMultiplexer(d)
	require.NoError(t, err)
	t.Cleanup(fm.Destroy)
	cache := renderer.NewLayoutCache(d)
	t.Cleanup(cache.Destroy)
	return &fixture{
		device: d,
		fm:     fm,
		sc: systems.SystemConfig{
			Device:       d,
			Layouts:      cache,
			GlobalLayout: fm.GlobalLayout(),
			Shaders:      shaders,
		},
	}
}

func shaders(name string) ([]metadata.ShaderStageDescription, error) {
	code := []uint32{metadata.SPIRVMagic, 0x00010000, 0, 1, 0}
	return []metadata.ShaderStageDescription{
		{Stage: metadata.ShaderStageVertex, EntryPoint: "main", Code: code},
		{Stage: metadata.ShaderStageFragment, EntryPoint: "main", Code: code},
	}, nil
}

func camera() metadata.CameraState {
	return metadata.CameraState{
		Position:   mgl32.Vec3{0, 0, 5},
		View:       mgl32.Translate3D(0, 0, -5),
		Projection: mgl32.Ident4(),
	}
}

func triangle(name string) *metadata.MeshBuilder {
	return &metadata.MeshBuilder{
		Name: name,
		Vertices: []metadata.Vertex{
			{Position: mgl32.Vec3{-1, -1, 0}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{0, 0}, Colour: mgl32.Vec3{1, 0, 0}},
			{Position: mgl32.Vec3{1, -1, 0}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{1, 0}, Colour: mgl32.Vec3{0, 1, 0}},
			{Position: mgl32.Vec3{0, 1, 0}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{0.5, 1}, Colour: mgl32.Vec3{0, 0, 1}},
		},
		Indices: []uint32{0, 1, 2},
	}
}

// texture creates a 2x2 RGBA8 image filled with rgba, ready for sampling.
func texture(t *testing.T, d renderer.Device, rgba [4]byte) *renderer.Image {
	t.Helper()
	img, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 2, Height: 2},
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
	})
	require.NoError(t, err)
	data := make([]byte, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, rgba[:]...)
	}
	require.NoError(t, img.Upload(data))
	t.Cleanup(img.Destroy)
	return img
}

func cubemap(t *testing.T, d renderer.Device) *renderer.Image {
	t.Helper()
	img, err := renderer.NewImage(d, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: 1, Height: 1},
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
		Layers: 6,
		Cube:   true,
	})
	require.NoError(t, err)
	require.NoError(t, img.Upload(make([]byte, 6*4)))
	t.Cleanup(img.Destroy)
	return img
}

// frame records one frame around record and waits for the device to finish it.
func frame(t *testing.T, f *fixture, objects []metadata.Renderable, record func(frame *renderer.FrameInfo) error) (*renderer.FrameInfo, error) {
	t.Helper()
	fi, err := f.fm.BeginFrame(context.Background(), 0.016, camera(), objects)
	require.NoError(t, err)
	recordErr := record(fi)
	require.NoError(t, f.fm.EndFrame())
	require.NoError(t, f.device.WaitIdle())
	return fi, recordErr
}
