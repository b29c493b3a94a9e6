package components

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief Represents a camera that can be used for
 * a variety of things, especially rendering.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position mgl32.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 * NOTE: Do not set this directly, use SetEulerRotation() instead
	 * so the view matrix is recalculated when needed.
	 */
	EulerRotation mgl32.Vec3
	/** @brief Vertical field of view in radians. */
	FovY float32
	Near float32
	Far  float32
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty    bool
	ViewMatrix mgl32.Mat4
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

// 89 degrees
const pitchLimit = float32(1.55334306)

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = mgl32.Vec3{}
	c.Position = mgl32.Vec3{}
	c.FovY = mgl32.DegToRad(45.0)
	c.Near = 0.1
	c.Far = 1000.0
	c.IsDirty = false
	c.ViewMatrix = mgl32.Ident4()
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

func (c *Camera) View() mgl32.Mat4 {
	if c.IsDirty {
		rotation := mgl32.HomogRotate3DX(c.EulerRotation.X()).
			Mul4(mgl32.HomogRotate3DY(c.EulerRotation.Y())).
			Mul4(mgl32.HomogRotate3DZ(c.EulerRotation.Z()))
		translation := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())
		c.ViewMatrix = translation.Mul4(rotation).Inv()
		c.IsDirty = false
	}
	return c.ViewMatrix
}

// Projection returns a right handed perspective matrix for Vulkan clip space:
// depth in [0,1] and Y pointing down.
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	f := float32(1.0 / math.Tan(float64(c.FovY)/2.0))
	fmn := c.Far - c.Near
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, -f, 0, 0,
		0, 0, -c.Far / fmn, -1,
		0, 0, -(c.Far * c.Near) / fmn, 0,
	}
}

// State snapshots the camera for one frame.
func (c *Camera) State(extent metadata.Extent2D) metadata.CameraState {
	aspect := float32(1.0)
	if extent.Height != 0 {
		aspect = float32(extent.Width) / float32(extent.Height)
	}
	return metadata.CameraState{
		Position:   c.Position,
		View:       c.View(),
		Projection: c.Projection(aspect),
	}
}

func (c *Camera) Forward() mgl32.Vec3 {
	v := c.View()
	return mgl32.Vec3{-v[2], -v[6], -v[10]}.Normalize()
}

func (c *Camera) Backward() mgl32.Vec3 {
	return c.Forward().Mul(-1)
}

func (c *Camera) Left() mgl32.Vec3 {
	v := c.View()
	return mgl32.Vec3{-v[0], -v[4], -v[8]}.Normalize()
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.Left().Mul(-1)
}

func (c *Camera) move(direction mgl32.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.Mul(amount))
	c.IsDirty = true
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Backward(), amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Left(), amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(mgl32.Vec3{0, 1, 0}, amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(mgl32.Vec3{0, -1, 0}, amount)
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.IsDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation[0] += amount

	// Clamp to avoid Gimbal lock.
	c.EulerRotation[0] = mgl32.Clamp(c.EulerRotation[0], -pitchLimit, pitchLimit)

	c.IsDirty = true
}
