package metadata

type DescriptorType uint32

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeCombinedImageSampler
	DescriptorTypeSampledImage
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeCombinedImageSampler:
		return "combined-image-sampler"
	case DescriptorTypeSampledImage:
		return "sampled-image"
	case DescriptorTypeUniformBuffer:
		return "uniform-buffer"
	case DescriptorTypeStorageBuffer:
		return "storage-buffer"
	}
	return "unknown"
}

// IsImage reports whether writes of this type carry an ImageInfo.
func (t DescriptorType) IsImage() bool {
	return t == DescriptorTypeSampler || t == DescriptorTypeCombinedImageSampler || t == DescriptorTypeSampledImage
}

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	case ShaderStageAllGraphics:
		return "vertex|fragment"
	}
	return "unknown"
}

/** @brief One entry of a descriptor set layout. */
type DescriptorBinding struct {
	Index  uint32
	Type   DescriptorType
	Count  uint32
	Stages ShaderStage
}

type DescriptorPoolDescription struct {
	// Capacity per descriptor type.
	Sizes   map[DescriptorType]uint32
	MaxSets uint32
	// Allows returning single sets to the pool. Without it only a full reset reclaims sets.
	FreeIndividualSets bool
}

type BufferInfo struct {
	Buffer Handle
	Offset uint64
	Range  uint64
}

type ImageInfo struct {
	Image   Handle
	Sampler Handle
	Layout  ImageLayout
}

// DescriptorWrite is one staged (binding, resource) pair.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Buffer  BufferInfo
	Image   ImageInfo
}
