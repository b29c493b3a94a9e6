package systems

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// RenderSystem is one stage of the render chain. Render records commands into
// frame.Command and must not block.
type RenderSystem interface {
	Name() string
	Render(frame *renderer.FrameInfo) error
	Destroy()
}

// Updater is implemented by systems that contribute to the global uniform block.
// Every Update runs before the block is flushed and before any Render.
type Updater interface {
	Update(frame *renderer.FrameInfo, ubo *metadata.GlobalUBO) error
}

// ShaderProvider returns the compiled stages of the named shader program.
type ShaderProvider func(name string) ([]metadata.ShaderStageDescription, error)

const (
	ShaderShadow             = "shadow"
	ShaderSkybox             = "skybox"
	ShaderMaterial           = "material"
	ShaderGrid               = "grid"
	ShaderPostProcessResolve = "postprocess_resolve"
	ShaderPostProcessBright  = "postprocess_bright"
	ShaderPostProcessBlur    = "postprocess_blur"
	ShaderPostProcessTonemap = "postprocess_tonemap"
)

// ShaderPrograms lists every program the render systems ask their ShaderProvider for.
var ShaderPrograms = []string{
	ShaderShadow,
	ShaderSkybox,
	ShaderMaterial,
	ShaderGrid,
	ShaderPostProcessResolve,
	ShaderPostProcessBright,
	ShaderPostProcessBlur,
	ShaderPostProcessTonemap,
}

// SystemConfig carries what every render system needs at creation.
type SystemConfig struct {
	Device  renderer.Device
	Layouts *renderer.LayoutCache
	// Layout of set 0, owned by the frame multiplexer.
	GlobalLayout *renderer.DescriptorSetLayout
	Shaders      ShaderProvider
}

func matrixBytes(m mgl32.Mat4) []byte {
	return floatBytes(m[:]...)
}

// floatBytes packs values little endian, the layout push constants are read with.
func floatBytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func readFloats(data []byte, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if len(data) < (i+1)*4 {
			break
		}
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
