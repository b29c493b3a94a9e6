//go:build mage

package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindToolFallsBackToVulkanSDK(t *testing.T) {
	sdk := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sdk, "bin"), 0o755))
	tool := filepath.Join(sdk, "bin", "glslc")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("PATH", t.TempDir())
	t.Setenv("VULKAN_SDK", sdk)
	got, err := findTool("glslc")
	require.NoError(t, err)
	assert.Equal(t, tool, got)

	t.Setenv("VULKAN_SDK", "")
	_, err = findTool("glslc")
	assert.Error(t, err)
}

func TestExecuteCmdPassesEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	out, err := executeCmd("/bin/sh", withArgs("-c", "echo $LUMEN_SHADER_FLAGS"), withEnv("LUMEN_SHADER_FLAGS=-O"))
	require.NoError(t, err)
	assert.Equal(t, "-O", strings.TrimSpace(out))

	_, err = executeCmd("/bin/sh", withArgs("-c", "exit 3"))
	assert.Error(t, err)
}
