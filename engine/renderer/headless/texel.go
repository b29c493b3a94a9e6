package headless

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// image stores every supported format as linear float32 RGBA, 4 floats per texel.
type image struct {
	desc   metadata.ImageDescription
	texels []float32
}

func newImage(desc metadata.ImageDescription) *image {
	n := desc.Extent.Pixels() * int(desc.Layers) * 4
	return &image{desc: desc, texels: make([]float32, n)}
}

func supportedFormat(f metadata.Format) bool {
	switch f {
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatR8G8B8A8Srgb,
		metadata.FormatB8G8R8A8Unorm, metadata.FormatB8G8R8A8Srgb,
		metadata.FormatR32G32B32A32Sfloat, metadata.FormatD32Sfloat:
		return true
	}
	return false
}

func isBGRA(f metadata.Format) bool {
	return f == metadata.FormatB8G8R8A8Unorm || f == metadata.FormatB8G8R8A8Srgb
}

func isSRGB(f metadata.Format) bool {
	return f == metadata.FormatR8G8B8A8Srgb || f == metadata.FormatB8G8R8A8Srgb
}

func is8Bit(f metadata.Format) bool {
	return f.BytesPerPixel() == 4 && !f.IsDepth()
}

func srgbToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return float32(math.Pow((float64(c)+0.055)/1.055, 2.4))
}

func linearToSRGB(c float32) float32 {
	if c <= 0.0031308 {
		return c * 12.92
	}
	return float32(1.055*math.Pow(float64(c), 1.0/2.4) - 0.055)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unorm8(v float32) byte {
	return byte(math.Round(float64(clamp01(v)) * 255.0))
}

// store writes a linear colour into texel i, applying the storage precision of the format.
func (img *image) store(i int, c [4]float32) {
	f := img.desc.Format
	base := i * 4
	switch {
	case f.IsDepth():
		img.texels[base] = c[0]
	case is8Bit(f):
		for ch := 0; ch < 4; ch++ {
			v := c[ch]
			if ch < 3 && isSRGB(f) {
				v = srgbToLinear(float32(unorm8(linearToSRGB(clamp01(v)))) / 255.0)
			} else {
				v = float32(unorm8(v)) / 255.0
			}
			img.texels[base+ch] = v
		}
	default:
		copy(img.texels[base:base+4], c[:])
	}
}

func (img *image) load(i int) [4]float32 {
	var c [4]float32
	copy(c[:], img.texels[i*4:i*4+4])
	return c
}

func (img *image) fill(c [4]float32) {
	n := len(img.texels) / 4
	for i := 0; i < n; i++ {
		img.store(i, c)
	}
}

// decode fills the image from tightly packed texels in the image's format.
func (img *image) decode(data []byte) {
	f := img.desc.Format
	bpp := int(f.BytesPerPixel())
	n := len(img.texels) / 4
	for i := 0; i < n; i++ {
		px := data[i*bpp : (i+1)*bpp]
		var c [4]float32
		switch {
		case f.IsDepth():
			c[0] = math.Float32frombits(binary.LittleEndian.Uint32(px))
		case is8Bit(f):
			for ch := 0; ch < 4; ch++ {
				c[ch] = float32(px[ch]) / 255.0
			}
			if isBGRA(f) {
				c[0], c[2] = c[2], c[0]
			}
			if isSRGB(f) {
				for ch := 0; ch < 3; ch++ {
					c[ch] = srgbToLinear(c[ch])
				}
			}
		default:
			for ch := 0; ch < 4; ch++ {
				c[ch] = math.Float32frombits(binary.LittleEndian.Uint32(px[ch*4:]))
			}
		}
		copy(img.texels[i*4:], c[:])
	}
}

func (img *image) encode() []byte {
	f := img.desc.Format
	bpp := int(f.BytesPerPixel())
	n := len(img.texels) / 4
	out := make([]byte, n*bpp)
	for i := 0; i < n; i++ {
		c := img.load(i)
		px := out[i*bpp : (i+1)*bpp]
		switch {
		case f.IsDepth():
			binary.LittleEndian.PutUint32(px, math.Float32bits(c[0]))
		case is8Bit(f):
			if isSRGB(f) {
				for ch := 0; ch < 3; ch++ {
					c[ch] = linearToSRGB(clamp01(c[ch]))
				}
			}
			if isBGRA(f) {
				c[0], c[2] = c[2], c[0]
			}
			for ch := 0; ch < 4; ch++ {
				px[ch] = unorm8(c[ch])
			}
		default:
			for ch := 0; ch < 4; ch++ {
				binary.LittleEndian.PutUint32(px[ch*4:], math.Float32bits(c[ch]))
			}
		}
	}
	return out
}

// boundTexture samples layer 0 of an image with clamp-to-edge or repeat addressing.
type boundTexture struct {
	img     *image
	sampler metadata.SamplerDescription
}

func (t *boundTexture) Size() metadata.Extent2D {
	return t.img.desc.Extent
}

func (t *boundTexture) texel(x, y int) [4]float32 {
	w := int(t.img.desc.Extent.Width)
	h := int(t.img.desc.Extent.Height)
	if t.sampler.AddressMode == metadata.AddressModeRepeat {
		x = ((x % w) + w) % w
		y = ((y % h) + h) % h
	} else {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
	}
	return t.img.load(y*w + x)
}

func (t *boundTexture) Sample(u, v float32) [4]float32 {
	w := float32(t.img.desc.Extent.Width)
	h := float32(t.img.desc.Extent.Height)
	if t.sampler.MagFilter == metadata.FilterNearest {
		return t.texel(int(math.Floor(float64(u*w))), int(math.Floor(float64(v*h))))
	}
	// bilinear around texel centres
	fx := u*w - 0.5
	fy := v*h - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	ax := fx - float32(x0)
	ay := fy - float32(y0)
	c00 := t.texel(x0, y0)
	c10 := t.texel(x0+1, y0)
	c01 := t.texel(x0, y0+1)
	c11 := t.texel(x0+1, y0+1)
	var out [4]float32
	for ch := 0; ch < 4; ch++ {
		top := c00[ch]*(1-ax) + c10[ch]*ax
		bottom := c01[ch]*(1-ax) + c11[ch]*ax
		out[ch] = top*(1-ay) + bottom*ay
	}
	return out
}
