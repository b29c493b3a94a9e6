package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestFormatMappingIsSymmetric(t *testing.T) {
	formats := []metadata.Format{
		metadata.FormatR8G8B8A8Unorm,
		metadata.FormatR8G8B8A8Srgb,
		metadata.FormatB8G8R8A8Unorm,
		metadata.FormatB8G8R8A8Srgb,
		metadata.FormatR16G16B16A16Sfloat,
		metadata.FormatR32G32B32A32Sfloat,
		metadata.FormatD32Sfloat,
		metadata.FormatD24UnormS8Uint,
	}
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			v := vkFormat(f)
			require.NotEqual(t, vk.FormatUndefined, v)
			assert.Equal(t, f, metadataFormat(v))
		})
	}
	assert.Equal(t, vk.FormatUndefined, vkFormat(metadata.FormatUndefined))
}

func TestResultErrorClassification(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
	}{
		{vk.ErrorOutOfDeviceMemory, core.ErrOutOfDeviceMemory},
		{vk.ErrorOutOfHostMemory, core.ErrOutOfDeviceMemory},
		{vk.ErrorOutOfPoolMemory, core.ErrPoolExhausted},
		{vk.ErrorFragmentedPool, core.ErrPoolExhausted},
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.ErrorOutOfDate, core.ErrSwapchainOutOfDate},
		{vk.ErrorInitializationFailed, core.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(resultString(tt.result), func(t *testing.T) {
			err := resultError(tt.result, "op")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	assert.NoError(t, resultError(vk.Success, "op"))
	assert.NoError(t, resultError(vk.Suboptimal, "op"))
}

func TestAspectMask(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectMask(metadata.FormatR8G8B8A8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectMask(metadata.FormatD32Sfloat))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectMask(metadata.FormatD24UnormS8Uint))
}

func TestFlagConversions(t *testing.T) {
	assert.Equal(t,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
		vkShaderStages(metadata.ShaderStageAllGraphics))
	assert.Equal(t,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit),
		vkBufferUsage(metadata.BufferUsageVertex|metadata.BufferUsageTransferDst))
	assert.Equal(t,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit|vk.ImageUsageColorAttachmentBit),
		vkImageUsage(metadata.ImageUsageSampled|metadata.ImageUsageColorAttachment))
	assert.Equal(t,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
		vkMemoryProperties(metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent))
	assert.Equal(t, uint32(vk.SubpassExternal), subpassIndex(metadata.SubpassExternal))
	assert.Equal(t, uint32(1), subpassIndex(1))
}

func TestSwapchainChoices(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, chooseSurfaceFormat(formats).Format)
	assert.Equal(t, vk.FormatR8g8b8a8Srgb, chooseSurfaceFormat(formats[:1]).Format)

	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, uint32(5), clamp(1, 5, 10))
	assert.Equal(t, uint32(10), clamp(20, 5, 10))
	assert.Equal(t, uint32(7), clamp(7, 5, 10))

	name := make([]byte, 16)
	copy(name, "VK_KHR_surface")
	assert.Equal(t, "VK_KHR_surface", cString(name))

	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, VulkanSafeStrings([]string{"a", "b"}))
}

func TestLockPoolSerializesGroups(t *testing.T) {
	lp := NewLockPool()
	counter := 0
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = lp.SafeCall(DescriptorManagement, func() error {
				counter++
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 8, counter)

	want := errors.New("boom")
	assert.ErrorIs(t, lp.SafeQueueCall(0, func() error { return want }), want)
}
