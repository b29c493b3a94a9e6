package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// SpinScript rotates an entity around a fixed axis.
type SpinScript struct {
	scene  *scene.Scene
	entity scene.Entity
	axis   mgl32.Vec3
	// radians per second
	speed float32
}

func NewSpinScript(sc *scene.Scene, e scene.Entity, axis mgl32.Vec3, speed float32) *SpinScript {
	return &SpinScript{scene: sc, entity: e, axis: axis.Normalize(), speed: speed}
}

func (s *SpinScript) Begin() error {
	name, err := s.scene.EntityName(s.entity)
	if err != nil {
		return err
	}
	core.LogDebug("spinning '%s'", name)
	return nil
}

func (s *SpinScript) Update(deltaTime float64) error {
	t, err := s.scene.Transform(s.entity)
	if err != nil {
		return err
	}
	step := mgl32.QuatRotate(s.speed*float32(deltaTime), s.axis)
	t.Rotation = step.Mul(t.Rotation).Normalize()
	return nil
}

func (s *SpinScript) End() {}
