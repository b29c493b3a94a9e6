package systems_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type fakeSystem struct {
	name string
	log  *[]string
	err  error
}

func (f *fakeSystem) Name() string {
	return f.name
}

func (f *fakeSystem) Render(frame *renderer.FrameInfo) error {
	*f.log = append(*f.log, f.name)
	return f.err
}

func (f *fakeSystem) Destroy() {
	*f.log = append(*f.log, "destroy:"+f.name)
}

type fakeUpdater struct {
	fakeSystem
}

func (f *fakeUpdater) Update(frame *renderer.FrameInfo, ubo *metadata.GlobalUBO) error {
	*f.log = append(*f.log, "update:"+f.name)
	ubo.Params[0] = 42
	return nil
}

type fakeScene struct {
	log *[]string
}

func (s *fakeScene) Begin(frame *renderer.FrameInfo) error {
	*s.log = append(*s.log, "scene:begin")
	return nil
}

func (s *fakeScene) End(frame *renderer.FrameInfo) {
	*s.log = append(*s.log, "scene:end")
}

type chainFakes struct {
	log                          []string
	scene                        *fakeScene
	shadow                       *fakeUpdater
	skybox, material, grid, post *fakeSystem
}

func newChainFakes() *chainFakes {
	c := &chainFakes{}
	c.scene = &fakeScene{log: &c.log}
	c.shadow = &fakeUpdater{fakeSystem{name: "shadow", log: &c.log}}
	c.skybox = &fakeSystem{name: "skybox", log: &c.log}
	c.material = &fakeSystem{name: "material", log: &c.log}
	c.grid = &fakeSystem{name: "grid", log: &c.log}
	c.post = &fakeSystem{name: "postprocess", log: &c.log}
	return c
}

func testFrame() *renderer.FrameInfo {
	ubo := metadata.NewGlobalUBO(camera())
	return &renderer.FrameInfo{UBO: &ubo}
}

func TestChainOrderIsFixed(t *testing.T) {
	c := newChainFakes()
	chain := systems.NewRenderChain(c.scene, c.shadow, c.skybox, c.material, c.grid, c.post)

	expected := []string{"shadow", "scene:begin", "skybox", "material", "grid", "scene:end", "postprocess"}
	assert.Equal(t, expected, chain.Order())

	frame := testFrame()
	require.NoError(t, chain.Execute(frame))
	assert.Equal(t, append([]string{"update:shadow"}, expected...), c.log)
	assert.Equal(t, float32(42), frame.UBO.Params[0])
}

func TestChainSkipsOptionalSystems(t *testing.T) {
	c := newChainFakes()
	chain := systems.NewRenderChain(c.scene, c.shadow, nil, c.material, nil, c.post)
	assert.Equal(t, []string{"shadow", "scene:begin", "material", "scene:end", "postprocess"}, chain.Order())
	assert.Len(t, chain.Systems(), 3)
}

func TestChainRequiresCoreStages(t *testing.T) {
	c := newChainFakes()
	assert.Panics(t, func() {
		systems.NewRenderChain(c.scene, nil, c.skybox, c.material, c.grid, c.post)
	})
}

func TestChainErrorClosesScenePass(t *testing.T) {
	c := newChainFakes()
	c.material.err = errors.New("boom")
	chain := systems.NewRenderChain(c.scene, c.shadow, c.skybox, c.material, c.grid, c.post)

	err := chain.Execute(testFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "material")
	assert.Equal(t, []string{"update:shadow", "shadow", "scene:begin", "skybox", "material", "scene:end"}, c.log)
}

func TestChainDestroysInReverseOrder(t *testing.T) {
	c := newChainFakes()
	chain := systems.NewRenderChain(c.scene, c.shadow, c.skybox, c.material, c.grid, c.post)
	chain.Destroy()
	assert.Equal(t, []string{"destroy:postprocess", "destroy:grid", "destroy:material", "destroy:skybox", "destroy:shadow"}, c.log)
}
