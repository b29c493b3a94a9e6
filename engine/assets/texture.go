package assets

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DecodeTexture decodes png, jpeg, bmp or webp into tightly packed RGBA8.
func DecodeTexture(r io.Reader) (*image.RGBA, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		err = errors.Wrap(err, "failed to decode texture")
		core.LogError(err.Error())
		return nil, err
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Stride == rgba.Rect.Dx()*4 && rgba.Rect.Min == (image.Point{}) {
		return rgba, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	core.LogDebug("converted %s texture %dx%d to RGBA8", format, b.Dx(), b.Dy())
	return dst, nil
}

// UploadTexture creates a sampled RGBA8 image from img and leaves it ready for sampling.
func UploadTexture(device renderer.Device, img *image.RGBA) (*renderer.Image, error) {
	b := img.Bounds()
	out, err := renderer.NewImage(device, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: uint32(b.Dx()), Height: uint32(b.Dy())},
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
	})
	if err != nil {
		return nil, err
	}
	if err := out.Upload(img.Pix); err != nil {
		out.Destroy()
		return nil, err
	}
	return out, nil
}

// UploadCubemap builds a cube image from six square faces of equal size, ordered
// +X, -X, +Y, -Y, +Z, -Z.
func UploadCubemap(device renderer.Device, faces [6]*image.RGBA) (*renderer.Image, error) {
	size := faces[0].Bounds().Size()
	if size.X != size.Y || size.X == 0 {
		err := errors.Newf("cubemap faces must be square, got %dx%d", size.X, size.Y)
		core.LogError(err.Error())
		return nil, err
	}
	data := make([]byte, 0, 6*len(faces[0].Pix))
	for i, face := range faces {
		if face.Bounds().Size() != size {
			err := errors.Newf("cubemap face %d is %v, expected %v", i, face.Bounds().Size(), size)
			core.LogError(err.Error())
			return nil, err
		}
		data = append(data, face.Pix...)
	}

	out, err := renderer.NewImage(device, metadata.ImageDescription{
		Extent: metadata.Extent2D{Width: uint32(size.X), Height: uint32(size.Y)},
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
		Layers: 6,
		Cube:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := out.Upload(data); err != nil {
		out.Destroy()
		return nil, err
	}
	return out, nil
}
