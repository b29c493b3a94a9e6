package engine

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/project"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/engine/scene"
	"github.com/spaghettifunk/lumen/engine/scripting"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every resource
	EngineStageShutdown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	appConfig    *ApplicationConfig
	cfg          *config.Config

	bus   *core.EventBus
	input *core.InputState

	project       *project.Context
	ownsProject   bool
	platform      *platform.Platform
	device        renderer.Device
	frames        *renderer.FrameMultiplexer
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	skyboxImage   *renderer.Image
	scene         *scene.Scene
	scripts       *scripting.Manager

	clock       *core.Clock
	metrics     *core.Metrics
	lastTime    float64
	isRunning   bool
	isSuspended bool

	tunables    chan config.PostProcessConfig
	watchCancel context.CancelFunc
	watchDone   sync.WaitGroup

	skippedFrames uint64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		err := errors.Wrap(core.ErrInvalidConfig, "game without application config")
		core.LogError(err.Error())
		return nil, err
	}
	cfg := g.ApplicationConfig.Config
	if cfg == nil {
		cfg = config.Default()
	}
	bus := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		appConfig:    g.ApplicationConfig,
		cfg:          cfg,
		bus:          bus,
		input:        core.NewInputState(bus),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		tunables:     make(chan config.PostProcessConfig, 1),
	}, nil
}

/**
 * @brief Brings up the platform, the device, the frame multiplexer and every render
 * system, then hands control to the game's initialize routine. Any failure leaves
 * the engine unusable and is meant to be treated as fatal by the caller.
 */
func (e *Engine) Initialize(ctx context.Context) error {
	if e.currentStage != EngineStageUninitialized {
		return errors.New("engine initialized twice")
	}
	e.currentStage = EngineStageInitializing
	core.SetLogLevel(core.ParseLogLevel(e.cfg.Logging.Level))

	if err := e.cfg.Validate(); err != nil {
		return err
	}

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onQuit)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e.onResized)

	if e.appConfig.Project != nil {
		e.project = e.appConfig.Project
	} else {
		p, err := project.Open(e.cfg.Application.ProjectRoot)
		if err != nil {
			return err
		}
		e.project = p
		e.ownsProject = true
	}

	e.assetManager = assets.NewAssetManager(e.project)
	if err := e.assetManager.Initialize(); err != nil {
		return err
	}

	if err := e.createDevice(); err != nil {
		return err
	}

	frames, err := renderer.NewFrameMultiplexer(e.device)
	if err != nil {
		return err
	}
	e.frames = frames

	shaders := e.appConfig.Shaders
	if shaders == nil {
		library := e.assetManager.Shaders()
		if err := library.Preload(ctx, systems.ShaderPrograms); err != nil {
			return err
		}
		shaders = library.Program
	}

	if e.appConfig.SkyboxFaces[0] != "" {
		cubemap, err := e.assetManager.LoadCubemap(e.device, e.appConfig.SkyboxFaces)
		if err != nil {
			return err
		}
		e.skyboxImage = cubemap
	}

	sm, err := systems.NewSystemManager(ctx, e.frames, systems.SystemManagerConfig{
		Renderer: e.cfg.Renderer,
		Shaders:  shaders,
		Skybox:   e.skyboxImage,
		Workers:  e.appConfig.Workers,
	})
	if err != nil {
		return err
	}
	e.systemManager = sm

	e.scene = scene.New(e.cfg.Application.Name)
	e.scripts = scripting.NewManager()

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	e.isRunning = true
	core.LogInfo("engine initialized with the %s backend, %d frames in flight", e.cfg.Renderer.Backend, e.device.FramesInFlight())
	return nil
}

func (e *Engine) createDevice() error {
	rc := e.cfg.Renderer
	switch rc.Backend {
	case config.BackendHeadless:
		d, err := headless.New(headless.Config{
			FramesInFlight: rc.FramesInFlight,
			Extent:         metadata.Extent2D{Width: rc.Width, Height: rc.Height},
		})
		if err != nil {
			return err
		}
		e.device = d
	case config.BackendVulkan:
		e.platform = platform.New(e.bus, e.input)
		if err := e.platform.Startup(platform.WindowConfig{
			Name:   e.cfg.Application.Name,
			X:      e.cfg.Application.StartPosX,
			Y:      e.cfg.Application.StartPosY,
			Width:  rc.Width,
			Height: rc.Height,
		}); err != nil {
			return err
		}
		d, err := vulkan.New(vulkan.Config{
			AppName:        e.cfg.Application.Name,
			FramesInFlight: rc.FramesInFlight,
			Debug:          core.ParseLogLevel(e.cfg.Logging.Level) == core.LogLevelDebug,
		}, e.platform)
		if err != nil {
			return err
		}
		e.device = d
	default:
		err := errors.Wrapf(core.ErrInvalidConfig, "unknown renderer backend %q", rc.Backend)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Run drives frames until the application quits or ctx is cancelled. The post-process
// tunables of ApplicationConfig.ConfigPath are reloaded while it runs.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.start(); err != nil {
		return err
	}
	if e.appConfig.ConfigPath != "" {
		e.startWatch(ctx)
	}
	for e.isRunning {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := e.frame(ctx); err != nil {
			core.LogError("frame %d failed: %s", e.frames.FrameIndex(), err.Error())
			return err
		}
	}
	return nil
}

// RunFrames drives at most n frames. Frames skipped because the swapchain was out of
// date count towards n.
func (e *Engine) RunFrames(ctx context.Context, n int) error {
	if err := e.start(); err != nil {
		return err
	}
	for i := 0; i < n && e.isRunning; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.frame(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) start() error {
	switch e.currentStage {
	case EngineStageInitialized:
		e.currentStage = EngineStageRunning
		e.clock.Start()
		e.clock.Update()
		e.lastTime = e.clock.Elapsed()
	case EngineStageRunning:
	default:
		return errors.Newf("engine is not initialized (stage %d)", e.currentStage)
	}
	return nil
}

func (e *Engine) startWatch(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel
	e.watchDone.Add(1)
	go func() {
		defer e.watchDone.Done()
		err := config.Watch(ctx, e.appConfig.ConfigPath, func(t config.PostProcessConfig) {
			// keep only the latest change
			select {
			case <-e.tunables:
			default:
			}
			e.tunables <- t
		})
		if err != nil {
			core.LogWarn("config watch stopped: %s", err.Error())
		}
	}()
}

func (e *Engine) applyTunables() {
	select {
	case t := <-e.tunables:
		if err := e.systemManager.PostProcess().SetTunables(t); err != nil {
			return
		}
		core.LogInfo("post-process tunables reloaded: exposure %.2f gamma %.2f", t.Exposure, t.Gamma)
		e.bus.Fire(core.EventContext{Code: core.EVENT_CODE_TUNABLES_RELOADED, Data: t})
	default:
	}
}

/**
 * @brief Runs one iteration of the loop: input, scripts and game update, mesh
 * buffer rebuild, then BeginFrame, the render chain and EndFrame. A swapchain
 * that went out of date skips the frame.
 */
func (e *Engine) frame(ctx context.Context) error {
	if e.platform != nil {
		e.platform.PumpMessages()
	}
	if !e.isRunning {
		return nil
	}
	if e.isSuspended {
		return nil
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	e.lastTime = currentTime

	e.applyTunables()

	if err := e.scripts.Update(delta); err != nil {
		return err
	}
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return errors.Wrap(err, "game update")
		}
	}
	// resources change only between frames
	if err := e.systemManager.Update(); err != nil {
		return err
	}

	camera := e.systemManager.Cameras().GetDefault().State(e.device.SwapchainExtent())
	frame, err := e.frames.BeginFrame(ctx, delta, camera, e.scene.Renderables())
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			e.skippedFrames++
			core.LogDebug("swapchain out of date, skipping frame")
			return nil
		}
		return err
	}
	if err := e.systemManager.Render(frame); err != nil {
		return err
	}
	if err := e.frames.EndFrame(); err != nil {
		if !errors.Is(err, core.ErrSwapchainOutOfDate) {
			return err
		}
		e.skippedFrames++
	}

	e.clock.Update()
	e.metrics.Update(e.clock.Elapsed() - currentTime)

	// NOTE: input state is rolled last, after every consumer of this frame's changes.
	e.input.Update()
	return nil
}

// Shutdown waits for the device and releases everything in reverse creation order.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchDone.Wait()
		e.watchCancel = nil
	}

	var errs error
	if e.frames != nil {
		if err := e.frames.WaitIdle(context.Background()); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if e.gameInstance.FnShutdown != nil && e.systemManager != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if e.scripts != nil {
		e.scripts.Shutdown()
	}
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		e.systemManager = nil
	}
	if e.skyboxImage != nil {
		e.skyboxImage.Destroy()
		e.skyboxImage = nil
	}
	if e.frames != nil {
		e.frames.Destroy()
		e.frames = nil
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		e.platform = nil
	}
	if e.project != nil && e.ownsProject {
		e.project.Close()
	}
	e.bus.Reset()
	e.currentStage = EngineStageShutdown
	if errs != nil {
		core.LogError(errs.Error())
	}
	return errs
}

func (e *Engine) onQuit(event core.EventContext) bool {
	core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
	e.isRunning = false
	return true
}

func (e *Engine) onKey(event core.EventContext) bool {
	if event.Key == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.bus.Fire(core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT})
		return true
	}
	return false
}

func (e *Engine) onResized(event core.EventContext) bool {
	if event.Width == 0 || event.Height == 0 {
		core.LogInfo("window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming application.")
		e.isSuspended = false
	}
	return false
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) Events() *core.EventBus {
	return e.bus
}

func (e *Engine) Input() *core.InputState {
	return e.input
}

func (e *Engine) Project() *project.Context {
	return e.project
}

func (e *Engine) Assets() *assets.AssetManager {
	return e.assetManager
}

func (e *Engine) Device() renderer.Device {
	return e.device
}

func (e *Engine) Frames() *renderer.FrameMultiplexer {
	return e.frames
}

func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Scene() *scene.Scene {
	return e.scene
}

func (e *Engine) Scripts() *scripting.Manager {
	return e.scripts
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

// SkippedFrames counts frames dropped because the swapchain was out of date.
func (e *Engine) SkippedFrames() uint64 {
	return e.skippedFrames
}

// ApplicationGetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	extent := e.device.SwapchainExtent()
	return extent.Width, extent.Height
}
