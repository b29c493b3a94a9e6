package metadata

import (
	"bytes"
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
)

type CameraState struct {
	Position   mgl32.Vec3
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

// GlobalUBO is the set 0, binding 0 uniform block shared by every system.
// Every member is a mat4 or vec4 so the std140 layout has no padding.
type GlobalUBO struct {
	Projection     mgl32.Mat4
	View           mgl32.Mat4
	LightSpace     mgl32.Mat4
	CameraPosition mgl32.Vec4
	LightDirection mgl32.Vec4
	LightColour    mgl32.Vec4
	AmbientColour  mgl32.Vec4
	// x: elapsed seconds, y: shadow bias, z/w: unused
	Params mgl32.Vec4
}

const GlobalUBOSize = uint64(3*64 + 5*16)

func NewGlobalUBO(camera CameraState) GlobalUBO {
	return GlobalUBO{
		Projection:     camera.Projection,
		View:           camera.View,
		LightSpace:     mgl32.Ident4(),
		CameraPosition: camera.Position.Vec4(1.0),
		LightDirection: mgl32.Vec4{-0.57735, -0.57735, -0.57735, 0.0},
		LightColour:    mgl32.Vec4{1.0, 1.0, 1.0, 1.0},
		AmbientColour:  mgl32.Vec4{0.1, 0.1, 0.1, 1.0},
		Params:         mgl32.Vec4{0.0, 0.005, 0.0, 0.0},
	}
}

func (u *GlobalUBO) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, GlobalUBOSize))
	_ = binary.Write(buf, binary.LittleEndian, u)
	return buf.Bytes()
}
