package systems

import (
	"context"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

type SystemManagerConfig struct {
	Renderer config.RendererConfig
	Shaders  ShaderProvider
	// Cube map sampled by the skybox. The skybox is left out of the chain when nil.
	Skybox *renderer.Image
	// Workers of the job system.
	Workers int
}

type SystemManager struct {
	device   renderer.Device
	layouts  *renderer.LayoutCache
	meshes   *MeshManager
	cameras  *CameraSystem
	jobs     *JobSystem
	scene    *SceneTarget
	shadow   *ShadowSystem
	skybox   *SkyboxSystem
	material *MaterialSystem
	grid     *GridSystem
	post     *PostProcessSystem
	chain    *RenderChain
}

func NewSystemManager(ctx context.Context, fm *renderer.FrameMultiplexer, cfg SystemManagerConfig) (*SystemManager, error) {
	device := fm.Device()
	sm := &SystemManager{
		device:  device,
		layouts: renderer.NewLayoutCache(device),
		meshes:  NewMeshManager(device, cfg.Renderer.MeshBufferInitialVertices),
	}
	sc := SystemConfig{
		Device:       device,
		Layouts:      sm.layouts,
		GlobalLayout: fm.GlobalLayout(),
		Shaders:      cfg.Shaders,
	}

	var err error
	if sm.cameras, err = NewCameraSystem(100); err != nil {
		sm.Shutdown()
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	if sm.jobs, err = NewJobSystem(workers, 64); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if sm.scene, err = NewSceneTarget(device, device.SwapchainExtent(), cfg.Renderer.ClearColor); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if sm.shadow, err = NewShadowSystem(ctx, sc, sm.meshes, cfg.Renderer.ShadowPolicy, cfg.Renderer.ShadowMapSize); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if cfg.Skybox != nil {
		if sm.skybox, err = NewSkyboxSystem(sc, sm.scene.RenderPass(), cfg.Skybox, cfg.Renderer.Pools.SkyboxSets); err != nil {
			sm.Shutdown()
			return nil, err
		}
	}
	if sm.material, err = NewMaterialSystem(sc, sm.scene.RenderPass(), sm.shadow, sm.meshes, cfg.Renderer.Pools); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if sm.grid, err = NewGridSystem(sc, sm.scene.RenderPass()); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if sm.post, err = NewPostProcessSystem(ctx, sc, sm.scene, fm.SwapchainImages(), cfg.Renderer.PostProcess); err != nil {
		sm.Shutdown()
		return nil, err
	}

	var skybox RenderSystem
	if sm.skybox != nil {
		skybox = sm.skybox
	}
	sm.chain = NewRenderChain(sm.scene, sm.shadow, skybox, sm.material, sm.grid, sm.post)
	core.LogInfo("render chain: %v", sm.chain.Order())
	return sm, nil
}

func (sm *SystemManager) Meshes() *MeshManager {
	return sm.meshes
}

func (sm *SystemManager) Cameras() *CameraSystem {
	return sm.cameras
}

func (sm *SystemManager) Jobs() *JobSystem {
	return sm.jobs
}

func (sm *SystemManager) Materials() *MaterialSystem {
	return sm.material
}

func (sm *SystemManager) Shadow() *ShadowSystem {
	return sm.shadow
}

func (sm *SystemManager) Skybox() *SkyboxSystem {
	return sm.skybox
}

func (sm *SystemManager) Grid() *GridSystem {
	return sm.grid
}

func (sm *SystemManager) PostProcess() *PostProcessSystem {
	return sm.post
}

func (sm *SystemManager) Scene() *SceneTarget {
	return sm.scene
}

func (sm *SystemManager) Chain() *RenderChain {
	return sm.chain
}

// Update runs the callbacks of finished jobs and rebuilds the mesh buffers when
// registrations are pending. It must run between frames.
func (sm *SystemManager) Update() error {
	if err := sm.jobs.Update(); err != nil {
		return err
	}
	return sm.meshes.UpdateBuffer()
}

func (sm *SystemManager) Render(frame *renderer.FrameInfo) error {
	return sm.chain.Execute(frame)
}

// Shutdown waits for the device and destroys every system in reverse creation order.
func (sm *SystemManager) Shutdown() error {
	if sm.jobs != nil {
		if err := sm.jobs.Shutdown(); err != nil {
			core.LogError(err.Error())
		}
		sm.jobs = nil
	}
	if err := sm.device.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}
	if sm.chain != nil {
		sm.chain.Destroy()
		sm.chain = nil
	} else {
		// construction failed half way
		if sm.post != nil {
			sm.post.Destroy()
		}
		if sm.grid != nil {
			sm.grid.Destroy()
		}
		if sm.material != nil {
			sm.material.Destroy()
		}
		if sm.skybox != nil {
			sm.skybox.Destroy()
		}
		if sm.shadow != nil {
			sm.shadow.Destroy()
		}
	}
	if sm.scene != nil {
		sm.scene.Destroy()
		sm.scene = nil
	}
	sm.meshes.Destroy()
	sm.layouts.Destroy()
	if sm.cameras != nil {
		return sm.cameras.Shutdown()
	}
	return nil
}
