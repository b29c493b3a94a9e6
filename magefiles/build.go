//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Downloads the modules and builds the testbed binary.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("mod", "download")); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", "bin/lumen", "."), cgoEnv(), withStream())
	return err
}

func buildShaders() error {
	var sources []string
	for _, ext := range []string{"*.vert", "*.frag"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, ext))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources under %s", shaderDir)
	}
	glslc, err := findTool("glslc")
	if err != nil {
		return err
	}
	compiled := 0
	for _, src := range sources {
		out := src + ".spv"
		if upToDate(src, out) {
			continue
		}
		if _, err := executeCmd(glslc, withArgs("--target-env=vulkan1.1", "-O", src, "-o", out), withStream()); err != nil {
			return err
		}
		compiled++
	}
	fmt.Printf("%d of %d shader stages compiled\n", compiled, len(sources))
	return nil
}

func upToDate(src, out string) bool {
	s, err := os.Stat(src)
	if err != nil {
		return false
	}
	o, err := os.Stat(out)
	if err != nil {
		return false
	}
	return o.ModTime().After(s.ModTime())
}
