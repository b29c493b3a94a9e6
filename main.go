/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/testbed"
)

func main() {
	configPath := flag.String("config", "config.toml", "configuration file (.toml, .yaml or .yml)")
	backend := flag.String("backend", "", "override the renderer backend (vulkan or headless)")
	frames := flag.Int("frames", 0, "stop after this many frames; 0 runs until the window closes")
	flag.Parse()

	cfg := config.Default()
	watched := ""
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			core.LogFatal("failed to load %s: %s", *configPath, err.Error())
		}
		cfg = loaded
		watched = *configPath
	} else {
		core.LogWarn("%s not found, using the default configuration", *configPath)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}

	tb := testbed.NewTestGame(cfg, watched)
	skybox := filepath.Join(cfg.Application.ProjectRoot, "assets", "textures", "skybox_right.png")
	if _, err := os.Stat(skybox); err != nil {
		tb.DisableSkybox()
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	// cancel the run on sigterm and other system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Initialize(ctx); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize the engine: %s", err.Error())
	}

	if *frames > 0 {
		err = e.RunFrames(ctx, *frames)
	} else {
		err = e.Run(ctx)
	}
	if shutdownErr := e.Shutdown(); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if err != nil {
		core.LogFatal(err.Error())
	}
}
