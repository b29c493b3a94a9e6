package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// ShaderStage is a compiled module plus the create info the pipeline consumes.
type ShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func (d *Device) newShaderStage(pipelineName string, desc metadata.ShaderStageDescription) (*ShaderStage, error) {
	if len(desc.Code) == 0 || desc.Code[0] != metadata.SPIRVMagic {
		return nil, errors.Wrapf(core.ErrPipelineCompileFailure, "%s: %s stage is not SPIR-V", pipelineName, desc.Stage)
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(desc.Code) * 4),
		PCode:    desc.Code,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(d.LogicalDevice, &createInfo, d.Allocator, &module); res != vk.Success {
		return nil, errors.Wrapf(core.ErrPipelineCompileFailure, "%s: %s stage: %s", pipelineName, desc.Stage, resultString(res))
	}

	entryPoint := desc.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}
	return &ShaderStage{
		Handle: module,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(vkShaderStages(desc.Stage)),
			Module: module,
			PName:  VulkanSafeString(entryPoint),
		},
	}, nil
}

func (s *ShaderStage) destroy(d *Device) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(d.LogicalDevice, s.Handle, d.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
