//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed in a window.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "config.toml"), cgoEnv(), withStream())
	return err
}

// Runs the testbed for a fixed number of frames on the software device.
func (Run) Headless() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("run", ".", "-config", "config.toml", "-backend", "headless", "-frames", "120"), cgoEnv(), withStream())
	return err
}

type Test mg.Namespace

// Runs the unit tests. The vulkan and platform packages need cgo.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "./..."), cgoEnv(), withStream())
	return err
}

// Runs the unit tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/..."), cgoEnv(), withStream())
	return err
}

// Runs the tests of the build helpers.
func (Test) Mage() error {
	_, err := executeCmd("go", withArgs("test", "-tags", "mage", "./magefiles/"), withStream())
	return err
}
