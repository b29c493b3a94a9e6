package systems

import (
	"math"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Reference fragment programs of the post-process stages. The headless device runs
// them; the GLSL sources in assets/shaders implement the same math.

var gaussianWeights = [5]float32{0.227027, 0.1945946, 0.1216216, 0.054054, 0.016216}

func resolveProgram(fc metadata.FragmentContext, u, v float32) [4]float32 {
	c := fc.Texture(0, 0).Sample(u, v)
	c[3] = 1
	return c
}

func luminance(c [4]float32) float32 {
	return 0.2126*c[0] + 0.7152*c[1] + 0.0722*c[2]
}

// brightPassProgram keeps the texels brighter than the threshold in push constant w.
func brightPassProgram(fc metadata.FragmentContext, u, v float32) [4]float32 {
	threshold := readFloats(fc.PushConstants(), 4)[3]
	c := fc.Texture(0, 0).Sample(u, v)
	if luminance(c) <= threshold {
		return [4]float32{0, 0, 0, 1}
	}
	c[3] = 1
	return c
}

// blurProgram is one direction of the separable gaussian. Push constants x, y hold the direction.
func blurProgram(fc metadata.FragmentContext, u, v float32) [4]float32 {
	push := readFloats(fc.PushConstants(), 2)
	tex := fc.Texture(0, 0)
	size := tex.Size()
	du := push[0] / float32(size.Width)
	dv := push[1] / float32(size.Height)

	c := tex.Sample(u, v)
	var out [4]float32
	for ch := 0; ch < 3; ch++ {
		out[ch] = c[ch] * gaussianWeights[0]
	}
	for i := 1; i < len(gaussianWeights); i++ {
		a := tex.Sample(u+du*float32(i), v+dv*float32(i))
		b := tex.Sample(u-du*float32(i), v-dv*float32(i))
		for ch := 0; ch < 3; ch++ {
			out[ch] += (a[ch] + b[ch]) * gaussianWeights[i]
		}
	}
	out[3] = 1
	return out
}

// Tonemap computes the exponential tonemap of one HDR colour and applies gamma.
// Negative radiance maps to black.
func Tonemap(hdr, bloom [4]float32, exposure, gamma, strength float32) [4]float32 {
	var out [4]float32
	for ch := 0; ch < 3; ch++ {
		c := math.Max(float64(hdr[ch]+bloom[ch]*strength), 0)
		mapped := 1.0 - math.Exp(-c*float64(exposure))
		out[ch] = float32(math.Pow(mapped, 1.0/float64(gamma)))
	}
	out[3] = 1
	return out
}

// tonemapProgram reads the HDR image at binding 0 and the bloom image at binding 1.
// Push constants: exposure, gamma, bloom strength, threshold.
func tonemapProgram(fc metadata.FragmentContext, u, v float32) [4]float32 {
	push := readFloats(fc.PushConstants(), 4)
	hdr := fc.Texture(0, 0).Sample(u, v)
	bloom := fc.Texture(0, 1).Sample(u, v)
	return Tonemap(hdr, bloom, push[0], push[1], push[2])
}
