package systems_test

import (
	"context"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/systems"
)

func TestTonemapMatchesFormula(t *testing.T) {
	out := systems.Tonemap([4]float32{1, 0.5, 2, 1}, [4]float32{1, 1, 1, 1}, 1.5, 2.2, 0.25)
	for ch, c := range []float64{1.25, 0.75, 2.25} {
		expected := math.Pow(1-math.Exp(-c*1.5), 1/2.2)
		assert.InDelta(t, expected, out[ch], 1e-5)
	}
	assert.Equal(t, float32(1), out[3])
}

func TestTonemapClampsNegativeRadiance(t *testing.T) {
	out := systems.Tonemap([4]float32{-0.5, 0.2, 0.2, 1}, [4]float32{}, 1, 2.2, 0)
	assert.Equal(t, float32(0), out[0])
	for _, v := range out {
		assert.False(t, math.IsNaN(float64(v)))
	}
	assert.InDelta(t, math.Pow(1-math.Exp(-0.2), 1/2.2), out[1], 1e-5)

	// a negative bloom contribution is clamped after the sum
	out = systems.Tonemap([4]float32{0.1, 0, 0, 1}, [4]float32{-1, 0, 0, 1}, 1, 2.2, 1)
	assert.Equal(t, float32(0), out[0])
}

func runPostProcess(t *testing.T, hdr [4]float32, tunables config.PostProcessConfig) ([]byte, uint64) {
	t.Helper()
	f := newFixture(t, 2)
	scene, err := systems.NewSceneTarget(f.device, f.device.SwapchainExtent(), hdr)
	require.NoError(t, err)
	defer scene.Destroy()
	pp, err := systems.NewPostProcessSystem(context.Background(), f.sc, scene, f.fm.SwapchainImages(), tunables)
	require.NoError(t, err)
	defer pp.Destroy()

	before := f.device.Stats().FullscreenDraws
	fi, err := frame(t, f, nil, func(fi *renderer.FrameInfo) error {
		// an empty scene pass leaves the clear colour in the HDR image
		if err := scene.Begin(fi); err != nil {
			return err
		}
		scene.End(fi)
		return pp.Render(fi)
	})
	require.NoError(t, err)

	data, err := fi.Target.Read()
	require.NoError(t, err)
	return data, f.device.Stats().FullscreenDraws - before
}

func assertSolid(t *testing.T, data []byte, expected [4]float32) {
	t.Helper()
	require.NotEmpty(t, data)
	for px := 0; px < len(data)/4; px++ {
		for ch := 0; ch < 3; ch++ {
			assert.InDelta(t, float64(expected[ch])*255, float64(data[px*4+ch]), 1.0, "pixel %d channel %d", px, ch)
		}
		assert.Equal(t, byte(255), data[px*4+3])
	}
}

func TestPostProcessRoundTripWithoutBloom(t *testing.T) {
	hdr := [4]float32{0.25, 1.0, 3.0, 1.0}
	data, draws := runPostProcess(t, hdr, config.PostProcessConfig{
		BloomIterations: 0,
		Exposure:        1.0,
		Gamma:           2.2,
		BloomThreshold:  1.0,
		BloomStrength:   0.5,
	})
	// resolve and tonemap only
	assert.Equal(t, uint64(2), draws)
	assertSolid(t, data, systems.Tonemap(hdr, [4]float32{}, 1.0, 2.2, 0))
}

func TestPostProcessBloomPingPong(t *testing.T) {
	hdr := [4]float32{0.25, 1.0, 3.0, 1.0}
	data, draws := runPostProcess(t, hdr, config.PostProcessConfig{
		BloomIterations: 2,
		Exposure:        1.0,
		Gamma:           2.2,
		BloomThreshold:  0.5,
		BloomStrength:   0.5,
	})
	// resolve, bright pass, two blur iterations, tonemap
	assert.Equal(t, uint64(5), draws)
	// a solid image stays solid through the normalized blur
	assertSolid(t, data, systems.Tonemap(hdr, hdr, 1.0, 2.2, 0.5))
}

func TestPostProcessTunables(t *testing.T) {
	f := newFixture(t, 1)
	scene, err := systems.NewSceneTarget(f.device, f.device.SwapchainExtent(), [4]float32{})
	require.NoError(t, err)
	defer scene.Destroy()

	tunables := config.Default().Renderer.PostProcess
	pp, err := systems.NewPostProcessSystem(context.Background(), f.sc, scene, f.fm.SwapchainImages(), tunables)
	require.NoError(t, err)
	defer pp.Destroy()

	bad := tunables
	bad.Gamma = 0
	err = pp.SetTunables(bad)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
	assert.Equal(t, tunables, pp.Tunables())

	good := tunables
	good.Exposure = 2.5
	require.NoError(t, pp.SetTunables(good))
	assert.Equal(t, float32(2.5), pp.Tunables().Exposure)
}
