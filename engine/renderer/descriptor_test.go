package renderer_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func materialLayout(t *testing.T, d renderer.Device) *renderer.DescriptorSetLayout {
	t.Helper()
	l, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment).
		AddBinding(1, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageAllGraphics).
		Build(d)
	require.NoError(t, err)
	return l
}

func uniformBuffer(t *testing.T, d renderer.Device) *renderer.Buffer {
	t.Helper()
	buf, err := renderer.NewBuffer(d, 64, metadata.BufferUsageUniform, metadata.MemoryPropertyHostVisible)
	require.NoError(t, err)
	t.Cleanup(buf.Destroy)
	return buf
}

func TestLayoutBuilderValidation(t *testing.T) {
	d := newDevice(t, 2)
	_, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex).
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex).
		Build(d)
	assert.True(t, errors.Is(err, core.ErrInvalidBinding))

	_, err = renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 0, metadata.ShaderStageVertex).
		Build(d)
	assert.True(t, errors.Is(err, core.ErrInvalidBinding))
}

func TestLayoutStructuralEquality(t *testing.T) {
	d := newDevice(t, 2)
	a := materialLayout(t, d)
	// same bindings declared in a different order
	b, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(1, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageAllGraphics).
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageFragment).
		Build(d)
	require.NoError(t, err)
	assert.NotEqual(t, a.Handle(), b.Handle())
	assert.True(t, a.Compatible(b))
	assert.Equal(t, a.Bindings(), b.Bindings())

	c, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeCombinedImageSampler, 1, metadata.ShaderStageAllGraphics).
		AddBinding(1, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageAllGraphics).
		Build(d)
	require.NoError(t, err)
	assert.False(t, a.Compatible(c))
}

func TestLayoutCacheSharesHandles(t *testing.T) {
	d := newDevice(t, 2)
	cache := renderer.NewLayoutCache(d)
	defer cache.Destroy()

	build := func() *renderer.DescriptorSetLayoutBuilder {
		return renderer.NewDescriptorSetLayoutBuilder().
			AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex)
	}
	a, err := cache.Get(build())
	require.NoError(t, err)
	b, err := cache.Get(build())
	require.NoError(t, err)
	assert.Equal(t, a.Handle(), b.Handle())
	assert.Equal(t, 1, cache.Len())

	// cached layouts are owned by the cache
	a.Destroy()
	assert.False(t, b.Handle().IsNull())
}

func TestPoolExhaustionIsDeterministic(t *testing.T) {
	d := newDevice(t, 2)
	layout := materialLayout(t, d)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes: map[metadata.DescriptorType]uint32{
			metadata.DescriptorTypeCombinedImageSampler: 3,
			metadata.DescriptorTypeUniformBuffer:        3,
		},
		MaxSets: 3,
	})
	require.NoError(t, err)
	defer pool.Destroy()

	for i := 0; i < 3; i++ {
		_, err := pool.Allocate(layout)
		require.NoError(t, err)
	}
	_, err = pool.Allocate(layout)
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))
	assert.Equal(t, uint32(0), pool.Remaining(metadata.DescriptorTypeUniformBuffer))
	assert.Equal(t, uint32(3), pool.LiveSets())
}

func TestPoolFailedAllocationConsumesNothing(t *testing.T) {
	d := newDevice(t, 2)
	layout := materialLayout(t, d)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes: map[metadata.DescriptorType]uint32{
			metadata.DescriptorTypeCombinedImageSampler: 2,
			metadata.DescriptorTypeUniformBuffer:        5,
		},
		MaxSets: 10,
	})
	require.NoError(t, err)
	defer pool.Destroy()

	_, err = pool.Allocate(layout)
	require.NoError(t, err)
	_, err = pool.Allocate(layout)
	require.NoError(t, err)

	_, err = pool.Allocate(layout)
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))
	// the uniform buffers the failed call would have used are still there
	assert.Equal(t, uint32(3), pool.Remaining(metadata.DescriptorTypeUniformBuffer))
	assert.Equal(t, uint32(0), pool.Remaining(metadata.DescriptorTypeCombinedImageSampler))
	assert.Equal(t, uint32(2), pool.LiveSets())
}

func TestPoolFreeAndReset(t *testing.T) {
	d := newDevice(t, 2)
	layout := materialLayout(t, d)
	sizes := map[metadata.DescriptorType]uint32{
		metadata.DescriptorTypeCombinedImageSampler: 1,
		metadata.DescriptorTypeUniformBuffer:        1,
	}

	fixed, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{Sizes: sizes, MaxSets: 1})
	require.NoError(t, err)
	set, err := fixed.Allocate(layout)
	require.NoError(t, err)
	assert.Error(t, fixed.Free(set))
	require.NoError(t, fixed.Reset())
	assert.True(t, set.Handle().IsNull())
	_, err = fixed.Allocate(layout)
	require.NoError(t, err)

	freeable, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{Sizes: sizes, MaxSets: 1, FreeIndividualSets: true})
	require.NoError(t, err)
	set, err = freeable.Allocate(layout)
	require.NoError(t, err)
	require.NoError(t, freeable.Free(set))
	assert.Error(t, freeable.Free(set))
	assert.Equal(t, uint32(1), freeable.Remaining(metadata.DescriptorTypeUniformBuffer))
	_, err = freeable.Allocate(layout)
	require.NoError(t, err)
}

func TestWriterCommitIsAtomic(t *testing.T) {
	d := newDevice(t, 2)
	layout := materialLayout(t, d)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes: map[metadata.DescriptorType]uint32{
			metadata.DescriptorTypeCombinedImageSampler: 1,
			metadata.DescriptorTypeUniformBuffer:        1,
		},
		MaxSets: 1,
	})
	require.NoError(t, err)
	set, err := pool.Allocate(layout)
	require.NoError(t, err)
	buf := uniformBuffer(t, d)

	w := renderer.NewDescriptorWriter().
		WriteBuffer(1, metadata.DescriptorTypeUniformBuffer, buf, 0, 64).
		WriteBuffer(7, metadata.DescriptorTypeUniformBuffer, buf, 0, 64)
	err = w.Commit(d, set)
	assert.True(t, errors.Is(err, core.ErrInvalidBinding))
	_, written := set.Written(1)
	assert.False(t, written)

	// a type mismatch is just as invalid
	err = renderer.NewDescriptorWriter().
		WriteBuffer(0, metadata.DescriptorTypeUniformBuffer, buf, 0, 64).
		Commit(d, set)
	assert.True(t, errors.Is(err, core.ErrInvalidBinding))
}

func TestWriterLastWriteWins(t *testing.T) {
	d := newDevice(t, 2)
	layout := materialLayout(t, d)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes: map[metadata.DescriptorType]uint32{
			metadata.DescriptorTypeCombinedImageSampler: 1,
			metadata.DescriptorTypeUniformBuffer:        1,
		},
		MaxSets: 1,
	})
	require.NoError(t, err)
	set, err := pool.Allocate(layout)
	require.NoError(t, err)
	first := uniformBuffer(t, d)
	second := uniformBuffer(t, d)

	w := renderer.NewDescriptorWriter().
		WriteBuffer(1, metadata.DescriptorTypeUniformBuffer, first, 0, 64).
		WriteBuffer(1, metadata.DescriptorTypeUniformBuffer, second, 0, 32)
	assert.Equal(t, 1, w.Staged())
	require.NoError(t, w.Commit(d, set))

	got, ok := set.Written(1)
	require.True(t, ok)
	assert.Equal(t, second.Handle(), got.Buffer.Buffer)
	assert.Equal(t, uint64(32), got.Buffer.Range)
}

func TestBuildSetSurfacesPoolExhaustion(t *testing.T) {
	d := newDevice(t, 2)
	layout, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex).
		Build(d)
	require.NoError(t, err)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes:   map[metadata.DescriptorType]uint32{metadata.DescriptorTypeUniformBuffer: 1},
		MaxSets: 1,
	})
	require.NoError(t, err)
	buf := uniformBuffer(t, d)

	w := renderer.NewDescriptorWriter().WriteBuffer(0, metadata.DescriptorTypeUniformBuffer, buf, 0, 64)
	set, err := w.BuildSet(d, pool, layout)
	require.NoError(t, err)
	got, ok := set.Written(0)
	require.True(t, ok)
	assert.Equal(t, buf.Handle(), got.Buffer.Buffer)

	_, err = w.BuildSet(d, pool, layout)
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))

	// an invalid write is rejected before any capacity is taken
	require.NoError(t, pool.Reset())
	bad := renderer.NewDescriptorWriter().WriteBuffer(3, metadata.DescriptorTypeUniformBuffer, buf, 0, 64)
	_, err = bad.BuildSet(d, pool, layout)
	assert.True(t, errors.Is(err, core.ErrInvalidBinding))
	assert.Equal(t, uint32(0), pool.LiveSets())
}

func TestBuildSetReturnsCapacityWhenCommitFails(t *testing.T) {
	d := newDevice(t, 2)
	layout, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex).
		Build(d)
	require.NoError(t, err)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes:              map[metadata.DescriptorType]uint32{metadata.DescriptorTypeUniformBuffer: 1},
		MaxSets:            1,
		FreeIndividualSets: true,
	})
	require.NoError(t, err)

	buf := uniformBuffer(t, d)
	w := renderer.NewDescriptorWriter().WriteBuffer(0, metadata.DescriptorTypeUniformBuffer, buf, 0, 64)
	// the buffer is gone on the device but the staged write still names it
	d.DestroyBuffer(buf.Handle())

	_, err = w.BuildSet(d, pool, layout)
	require.Error(t, err)
	assert.Equal(t, uint32(0), pool.LiveSets())
	assert.Equal(t, uint32(1), pool.Remaining(metadata.DescriptorTypeUniformBuffer))

	// the capacity is usable again
	good := renderer.NewDescriptorWriter().WriteBuffer(0, metadata.DescriptorTypeUniformBuffer, uniformBuffer(t, d), 0, 64)
	_, err = good.BuildSet(d, pool, layout)
	assert.NoError(t, err)
}

func TestBuildSetKeepsSetOnResetOnlyPool(t *testing.T) {
	d := newDevice(t, 2)
	layout, err := renderer.NewDescriptorSetLayoutBuilder().
		AddBinding(0, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageVertex).
		Build(d)
	require.NoError(t, err)
	pool, err := renderer.NewDescriptorPool(d, metadata.DescriptorPoolDescription{
		Sizes:   map[metadata.DescriptorType]uint32{metadata.DescriptorTypeUniformBuffer: 1},
		MaxSets: 1,
	})
	require.NoError(t, err)

	buf := uniformBuffer(t, d)
	w := renderer.NewDescriptorWriter().WriteBuffer(0, metadata.DescriptorTypeUniformBuffer, buf, 0, 64)
	d.DestroyBuffer(buf.Handle())

	_, err = w.BuildSet(d, pool, layout)
	require.Error(t, err)
	assert.Equal(t, uint32(1), pool.LiveSets())

	require.NoError(t, pool.Reset())
	assert.Equal(t, uint32(1), pool.Remaining(metadata.DescriptorTypeUniformBuffer))
}
