package testbed

import (
	"image"
	"image/color"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/scene"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const (
	modelPath   = "models/cube.obj"
	texturePath = "textures/crate.png"

	cameraSpeed = 5.0
	turnSpeed   = 1.5
)

var skyboxFaces = [6]string{
	"textures/skybox_right.png",
	"textures/skybox_left.png",
	"textures/skybox_up.png",
	"textures/skybox_down.png",
	"textures/skybox_front.png",
	"textures/skybox_back.png",
}

type TestGame struct {
	*engine.Game
	state *gameState
}

type gameState struct {
	engine      *engine.Engine
	worldCamera *components.Camera
	albedo      []*renderer.Image
	materials   []metadata.MaterialID
	cube        scene.Entity
	moon        scene.Entity
	elapsed     float64
}

func NewTestGame(cfg *config.Config, configPath string) *TestGame {
	state := &gameState{}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Config:      cfg,
				ConfigPath:  configPath,
				SkyboxFaces: skyboxFaces,
			},
			State: state,
		},
		state: state,
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown
	return tg
}

// DisableSkybox is used when the skybox faces are not part of the project.
func (g *TestGame) DisableSkybox() {
	g.ApplicationConfig.SkyboxFaces = [6]string{}
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	g.state.engine = e

	g.state.worldCamera = e.Systems().Cameras().GetDefault()
	g.state.worldCamera.SetPosition(mgl32.Vec3{0, 3, 12})

	model := CubeBuilder("cube", 1.0)
	if _, ok := e.Assets().Lookup(modelPath); ok {
		loaded, err := e.Assets().LoadModel(modelPath)
		if err != nil {
			return err
		}
		model = loaded
	}
	cubeMesh, err := e.Systems().Meshes().RegisterModel(model)
	if err != nil {
		return err
	}
	floorMesh, err := e.Systems().Meshes().RegisterModel(CubeBuilder("floor", 1.0))
	if err != nil {
		return err
	}

	checker, err := uploadCheckerboard(e.Device())
	if err != nil {
		return err
	}
	material, err := g.addMaterial("checker", checker)
	if err != nil {
		return err
	}

	sc := e.Scene()
	floor := sc.Create("floor")
	tr, _ := sc.Transform(floor)
	tr.Position = mgl32.Vec3{0, -1.5, 0}
	tr.Scale = mgl32.Vec3{20, 0.2, 20}
	if err := sc.SetMeshRenderer(floor, scene.MeshRenderer{Mesh: floorMesh, Material: material}); err != nil {
		return err
	}

	g.state.cube = sc.Create("cube")
	if err := sc.SetMeshRenderer(g.state.cube, scene.MeshRenderer{Mesh: cubeMesh, Material: material, CastsShadow: true}); err != nil {
		return err
	}
	// the moon orbits the cube through its parent transform
	g.state.moon = sc.Create("moon")
	tr, _ = sc.Transform(g.state.moon)
	tr.Position = mgl32.Vec3{3, 0, 0}
	tr.Scale = mgl32.Vec3{0.4, 0.4, 0.4}
	if err := sc.SetParent(g.state.moon, g.state.cube); err != nil {
		return err
	}
	if err := sc.SetMeshRenderer(g.state.moon, scene.MeshRenderer{Mesh: cubeMesh, Material: material, CastsShadow: true}); err != nil {
		return err
	}

	if _, ok := e.Assets().Lookup(texturePath); ok {
		g.loadCrate(cubeMesh)
	}

	e.Scripts().Register(NewSpinScript(sc, g.state.cube, mgl32.Vec3{0, 1, 0}, 0.5))
	e.Scripts().Register(NewSpinScript(sc, g.state.moon, mgl32.Vec3{1, 0, 0}, 2.0))

	e.Events().Register(core.EVENT_CODE_KEY_RELEASED, g.onKey)
	e.Events().Register(core.EVENT_CODE_TUNABLES_RELOADED, func(ctx core.EventContext) bool {
		core.LogInfo("testbed picked up new post-process settings")
		return false
	})
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state.elapsed += deltaTime
	in := g.state.engine.Input()
	cam := g.state.worldCamera
	step := float32(cameraSpeed * deltaTime)
	turn := float32(turnSpeed * deltaTime)

	if in.IsKeyDown(core.KEY_A) || in.IsKeyDown(core.KEY_LEFT) {
		cam.Yaw(turn)
	}
	if in.IsKeyDown(core.KEY_D) || in.IsKeyDown(core.KEY_RIGHT) {
		cam.Yaw(-turn)
	}
	if in.IsKeyDown(core.KEY_UP) {
		cam.Pitch(turn)
	}
	if in.IsKeyDown(core.KEY_DOWN) {
		cam.Pitch(-turn)
	}
	if in.IsKeyDown(core.KEY_W) {
		cam.MoveForward(step)
	}
	if in.IsKeyDown(core.KEY_S) {
		cam.MoveBackward(step)
	}
	if in.IsKeyDown(core.KEY_Q) {
		cam.MoveLeft(step)
	}
	if in.IsKeyDown(core.KEY_E) {
		cam.MoveRight(step)
	}
	if in.IsKeyDown(core.KEY_SPACE) {
		cam.MoveUp(step)
	}
	if in.IsKeyDown(core.KEY_X) {
		cam.MoveDown(step)
	}

	if g.state.elapsed >= 5.0 {
		g.state.elapsed = 0
		fps, ms := g.state.engine.Metrics().Frame()
		core.LogDebug("%.0f fps, %.3f ms/frame, %d frames skipped", fps, ms, g.state.engine.SkippedFrames())
	}
	return nil
}

func (g *TestGame) onKey(ctx core.EventContext) bool {
	switch ctx.Key {
	case core.KEY_P:
		p := g.state.worldCamera.Position
		core.LogInfo("camera position: [%.3f, %.3f, %.3f]", p.X(), p.Y(), p.Z())
		return true
	case core.KEY_R:
		g.state.worldCamera.Reset()
		g.state.worldCamera.SetPosition(mgl32.Vec3{0, 3, 12})
		return true
	}
	return false
}

func (g *TestGame) Shutdown() error {
	if g.state.engine == nil {
		return nil
	}
	for _, id := range g.state.materials {
		if err := g.state.engine.Systems().Materials().DestroyMaterial(id); err != nil {
			core.LogWarn(err.Error())
		}
	}
	for _, img := range g.state.albedo {
		img.Destroy()
	}
	g.state.materials = nil
	g.state.albedo = nil
	core.LogInfo("testbed shut down")
	return nil
}

func (g *TestGame) addMaterial(name string, albedo *renderer.Image) (metadata.MaterialID, error) {
	g.state.albedo = append(g.state.albedo, albedo)
	id, err := g.state.engine.Systems().Materials().CreateMaterial(name, albedo, systems.MaterialParams{
		DiffuseColour: mgl32.Vec4{1, 1, 1, 1},
		Roughness:     0.6,
	})
	if err != nil {
		return 0, err
	}
	g.state.materials = append(g.state.materials, id)
	return id, nil
}

// loadCrate decodes the crate texture on a worker; the upload and the material
// swap run in the job callback, between frames. Replaced materials are only
// destroyed at shutdown.
func (g *TestGame) loadCrate(mesh metadata.MeshID) {
	e := g.state.engine
	e.Systems().Jobs().Submit(systems.Job{
		Name: texturePath,
		Run: func() (interface{}, error) {
			return e.Assets().LoadImage(texturePath)
		},
		OnComplete: func(result interface{}) error {
			albedo, err := assets.UploadTexture(e.Device(), result.(*image.RGBA))
			if err != nil {
				return err
			}
			id, err := g.addMaterial("crate", albedo)
			if err != nil {
				return err
			}
			for _, ent := range []scene.Entity{g.state.cube, g.state.moon} {
				if err := e.Scene().SetMeshRenderer(ent, scene.MeshRenderer{Mesh: mesh, Material: id, CastsShadow: true}); err != nil {
					return err
				}
			}
			return nil
		},
		OnFailure: func(err error) {
			core.LogWarn("keeping the checker material: %s", err.Error())
		},
	})
}

func uploadCheckerboard(device renderer.Device) (*renderer.Image, error) {
	const size = 8
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.RGBA{R: 230, G: 230, B: 230, A: 255}
			if (x+y)%2 == 0 {
				c = color.RGBA{R: 40, G: 90, B: 160, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return assets.UploadTexture(device, img)
}
