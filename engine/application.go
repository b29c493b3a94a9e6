package engine

import (
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/project"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type ApplicationConfig struct {
	Config *config.Config
	// File Config was loaded from. Its post-process tunables are watched while the
	// engine runs. Empty disables the watch.
	ConfigPath string
	// Project the engine resolves shaders and assets against. Opened from
	// Config.Application.ProjectRoot when nil.
	Project *project.Context
	// Overrides the compiled SPIR-V programs of the project.
	Shaders systems.ShaderProvider
	// Cube map faces (+X, -X, +Y, -Y, +Z, -Z) relative to the asset directory.
	// The skybox is disabled when the first face is empty.
	SkyboxFaces [6]string
	// Workers of the job system.
	Workers int
}
