package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
)

type cameraLookup struct {
	camera         *components.Camera
	referenceCount uint32
}

type CameraSystem struct {
	maxCameras uint16
	cameras    map[string]*cameraLookup
	// A default, non-registered camera that always exists as a fallback.
	defaultCamera *components.Camera
}

/**
 * @brief Creates the camera system.
 *
 * @param maxCameras The maximum number of named cameras that can be acquired at once.
 */
func NewCameraSystem(maxCameras uint16) (*CameraSystem, error) {
	if maxCameras == 0 {
		err := errors.Wrap(core.ErrInvalidConfig, "camera system needs room for at least one camera")
		core.LogError(err.Error())
		return nil, err
	}
	return &CameraSystem{
		maxCameras:    maxCameras,
		cameras:       make(map[string]*cameraLookup, maxCameras),
		defaultCamera: components.NewCamera(),
	}, nil
}

/**
 * @brief Acquires a camera by name.
 * If one is not found, a new one is created and returned.
 * Internal reference counter is incremented.
 *
 * @param name The name of the camera to acquire.
 */
func (cs *CameraSystem) Acquire(name string) (*components.Camera, error) {
	if name == components.DEFAULT_CAMERA_NAME {
		return cs.defaultCamera, nil
	}
	lookup, ok := cs.cameras[name]
	if !ok {
		if len(cs.cameras) >= int(cs.maxCameras) {
			err := errors.Newf("cannot acquire camera '%s', all %d slots in use", name, cs.maxCameras)
			core.LogError(err.Error())
			return nil, err
		}
		core.LogDebug("creating new camera named '%s'", name)
		lookup = &cameraLookup{camera: components.NewCamera()}
		cs.cameras[name] = lookup
	}
	lookup.referenceCount++
	return lookup.camera, nil
}

/**
 * @brief Releases a camera with the given name. Internal reference
 * counter is decremented. If this reaches 0, the camera is dropped.
 *
 * @param name The name of the camera to release.
 */
func (cs *CameraSystem) Release(name string) {
	if name == components.DEFAULT_CAMERA_NAME {
		core.LogDebug("cannot release default camera, nothing was done")
		return
	}
	lookup, ok := cs.cameras[name]
	if !ok {
		core.LogWarn("camera '%s' is not acquired, nothing was done", name)
		return
	}
	lookup.referenceCount--
	if lookup.referenceCount == 0 {
		delete(cs.cameras, name)
	}
}

func (cs *CameraSystem) GetDefault() *components.Camera {
	return cs.defaultCamera
}

func (cs *CameraSystem) Shutdown() error {
	cs.cameras = make(map[string]*cameraLookup)
	return nil
}
