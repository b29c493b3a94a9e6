package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/renderer"
)

// SceneStage opens and closes the render pass the scene systems draw into.
type SceneStage interface {
	Begin(frame *renderer.FrameInfo) error
	End(frame *renderer.FrameInfo)
}

type chainStep struct {
	name   string
	system RenderSystem
	// set for the steps that begin or end the scene pass
	begin, end bool
}

// RenderChain runs the render systems of a frame in a fixed order:
// shadow, then skybox, material and grid inside the scene pass, then post-process.
// Shadow runs first so the lighting pass can sample the map written this frame.
type RenderChain struct {
	scene   SceneStage
	steps   []chainStep
	systems []RenderSystem
}

// NewRenderChain builds the chain. skybox and grid may be nil; shadow, material and post may not.
func NewRenderChain(scene SceneStage, shadow, skybox, material, grid, post RenderSystem) *RenderChain {
	if scene == nil || shadow == nil || material == nil || post == nil {
		panic(errors.AssertionFailedf("render chain needs scene, shadow, material and post-process stages"))
	}
	rc := &RenderChain{scene: scene}
	add := func(s RenderSystem) {
		if s == nil {
			return
		}
		rc.steps = append(rc.steps, chainStep{name: s.Name(), system: s})
		rc.systems = append(rc.systems, s)
	}
	add(shadow)
	rc.steps = append(rc.steps, chainStep{name: "scene:begin", begin: true})
	add(skybox)
	add(material)
	add(grid)
	rc.steps = append(rc.steps, chainStep{name: "scene:end", end: true})
	add(post)
	return rc
}

// Order returns the names of the steps in execution order.
func (rc *RenderChain) Order() []string {
	names := make([]string, len(rc.steps))
	for i, s := range rc.steps {
		names[i] = s.name
	}
	return names
}

func (rc *RenderChain) Systems() []RenderSystem {
	return rc.systems
}

/**
 * @brief Records one frame. Every Updater runs first, the global block is flushed
 * into the slot's buffer, then each step records in order. The first error aborts
 * the frame after the scene pass is closed.
 */
func (rc *RenderChain) Execute(frame *renderer.FrameInfo) error {
	for _, s := range rc.systems {
		u, ok := s.(Updater)
		if !ok {
			continue
		}
		if err := u.Update(frame, frame.UBO); err != nil {
			return errors.Wrapf(err, "%s update", s.Name())
		}
	}
	frame.FlushGlobals()

	inScene := false
	for _, step := range rc.steps {
		var err error
		switch {
		case step.begin:
			err = rc.scene.Begin(frame)
			inScene = err == nil
		case step.end:
			rc.scene.End(frame)
			inScene = false
		default:
			err = step.system.Render(frame)
		}
		if err != nil {
			if inScene {
				rc.scene.End(frame)
			}
			return errors.Wrapf(err, "render step %s", step.name)
		}
	}
	return nil
}

// Destroy destroys the systems in reverse order.
func (rc *RenderChain) Destroy() {
	for i := len(rc.systems) - 1; i >= 0; i-- {
		rc.systems[i].Destroy()
	}
	rc.systems = nil
	rc.steps = nil
}
