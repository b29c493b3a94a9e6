package metadata

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

// MaxPushConstantSize is the guaranteed minimum of maxPushConstantsSize.
const MaxPushConstantSize uint32 = 128

type ShaderStageDescription struct {
	Stage      ShaderStage
	EntryPoint string
	Code       []uint32
}

type VertexInputRate uint32

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type VertexInputBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate VertexInputRate
}

type VertexInputAttribute struct {
	Location uint32
	Binding  uint32
	Format   VertexFormat
	Offset   uint32
}

type PrimitiveTopology uint32

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyLineList
)

type CullMode uint32

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

type CompareOp uint32

const (
	CompareOpLess CompareOp = iota
	CompareOpLessOrEqual
	CompareOpAlways
)

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

/** @brief Everything a backend needs to compile a graphics pipeline. */
type PipelineDescription struct {
	Name             string
	RenderPass       Handle
	Subpass          uint32
	Stages           []ShaderStageDescription
	VertexBindings   []VertexInputBinding
	VertexAttributes []VertexInputAttribute
	SetLayouts       []Handle
	PushConstants    []PushConstantRange
	Topology         PrimitiveTopology
	CullMode         CullMode
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     CompareOp
	BlendEnabled     bool
	// Optional CPU rendition of the fragment stage for full-screen passes.
	// Backends that compile Stages ignore it.
	Fragment FragmentProgram
}

// TextureSampler reads a bound image at normalized coordinates.
type TextureSampler interface {
	Sample(u, v float32) [4]float32
	Size() Extent2D
}

// FragmentContext exposes the resources bound when a FragmentProgram runs.
type FragmentContext interface {
	Texture(set, binding uint32) TextureSampler
	PushConstants() []byte
}

// FragmentProgram computes the colour of the full-screen fragment at (u, v).
type FragmentProgram func(fc FragmentContext, u, v float32) [4]float32
