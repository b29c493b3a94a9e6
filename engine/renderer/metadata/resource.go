package metadata

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal MemoryProperty = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
)

type BufferDescription struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryProperty
}

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

/** @brief The layout an image is in from the point of view of the device. */
type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutShaderReadOnly
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "undefined"
	case ImageLayoutGeneral:
		return "general"
	case ImageLayoutColorAttachment:
		return "color-attachment"
	case ImageLayoutDepthStencilAttachment:
		return "depth-stencil-attachment"
	case ImageLayoutShaderReadOnly:
		return "shader-read-only"
	case ImageLayoutTransferSrc:
		return "transfer-src"
	case ImageLayoutTransferDst:
		return "transfer-dst"
	case ImageLayoutPresentSrc:
		return "present-src"
	}
	return "unknown"
}

type ImageDescription struct {
	Extent Extent2D
	Format Format
	Usage  ImageUsage
	Memory MemoryProperty
	// 6 for a cube map.
	Layers uint32
	Cube   bool
}

type Filter uint32

const (
	FilterNearest Filter = iota
	FilterLinear
)

type AddressMode uint32

const (
	AddressModeRepeat AddressMode = iota
	AddressModeClampToEdge
)

type SamplerDescription struct {
	MinFilter   Filter
	MagFilter   Filter
	AddressMode AddressMode
	// Enables depth comparison, used by the shadow map sampler.
	Compare bool
}

// ResourceType identifies what an asset on disk decodes into.
type ResourceType int

const (
	ResourceTypeNone ResourceType = iota
	ResourceTypeBinary
	ResourceTypeImage
	ResourceTypeShader
	ResourceTypeModel
)
