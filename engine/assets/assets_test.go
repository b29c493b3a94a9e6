package assets_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/project"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const quadOBJ = `o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
`

func TestDecodeOBJTriangulatesAndSharesVertices(t *testing.T) {
	mesh, err := assets.DecodeOBJ("quad", strings.NewReader(quadOBJ), nil)
	require.NoError(t, err)
	assert.Equal(t, "quad", mesh.Name)
	require.Len(t, mesh.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, mesh.Indices)
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, mesh.Vertices[2].Position)
	assert.Equal(t, mgl32.Vec2{1, 0}, mesh.Vertices[2].TexCoord)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, mesh.Vertices[0].Normal)
}

func TestDecodeOBJWithoutFacesFails(t *testing.T) {
	_, err := assets.DecodeOBJ("empty", strings.NewReader("o empty\nv 0 0 0\n"), nil)
	assert.Error(t, err)
}

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeTextureConvertsToRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, src))

	img, err := assets.DecodeTexture(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	assert.Len(t, img.Pix, 3*2*4)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(2, 1))
}

func TestDecodeTextureRejectsGarbage(t *testing.T) {
	_, err := assets.DecodeTexture(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func newDevice(t *testing.T) *headless.Device {
	t.Helper()
	d, err := headless.New(headless.Config{Extent: metadata.Extent2D{Width: 4, Height: 4}})
	require.NoError(t, err)
	t.Cleanup(d.Destroy)
	return d
}

func TestUploadTexture(t *testing.T) {
	d := newDevice(t)
	img, err := assets.DecodeTexture(bytes.NewReader(pngBytes(t, 2, 2, color.RGBA{10, 20, 30, 255})))
	require.NoError(t, err)

	tex, err := assets.UploadTexture(d, img)
	require.NoError(t, err)
	defer tex.Destroy()
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, tex.Layout())

	data, err := tex.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255}, data[:4])
}

func TestUploadCubemapRequiresMatchingSquareFaces(t *testing.T) {
	d := newDevice(t)
	var faces [6]*image.RGBA
	for i := range faces {
		faces[i] = image.NewRGBA(image.Rect(0, 0, 2, 2))
	}
	cube, err := assets.UploadCubemap(d, faces)
	require.NoError(t, err)
	cube.Destroy()

	faces[3] = image.NewRGBA(image.Rect(0, 0, 4, 4))
	_, err = assets.UploadCubemap(d, faces)
	assert.Error(t, err)

	faces[0] = image.NewRGBA(image.Rect(0, 0, 4, 2))
	_, err = assets.UploadCubemap(d, faces)
	assert.Error(t, err)
}

func spirv(words ...uint32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, append([]uint32{metadata.SPIRVMagic}, words...))
	return buf.Bytes()
}

func newProject(t *testing.T, files map[string][]byte) *project.Context {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		path := filepath.Join(root, "assets", filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets", "shaders"), 0o755))
	pctx, err := project.Open(root)
	require.NoError(t, err)
	return pctx
}

func TestShaderLibraryLoadsBothStages(t *testing.T) {
	pctx := newProject(t, map[string][]byte{
		"shaders/grid.vert.spv": spirv(1, 2),
		"shaders/grid.frag.spv": spirv(3),
		"shaders/bad.vert.spv":  []byte{1, 2, 3},
		"shaders/bad.frag.spv":  spirv(),
	})
	lib := assets.NewShaderLibrary(pctx)
	require.NoError(t, lib.Preload(context.Background(), []string{"grid"}))

	stages, err := lib.Program("grid")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, metadata.ShaderStageVertex, stages[0].Stage)
	assert.Equal(t, []uint32{metadata.SPIRVMagic, 1, 2}, stages[0].Code)
	assert.Equal(t, metadata.ShaderStageFragment, stages[1].Stage)
	assert.Equal(t, "main", stages[1].EntryPoint)

	_, err = lib.Program("bad")
	assert.True(t, errors.Is(err, core.ErrPipelineCompileFailure))

	_, err = lib.Program("missing")
	assert.True(t, errors.Is(err, core.ErrPipelineCompileFailure))
}

func TestAssetManagerIndexesAndLoads(t *testing.T) {
	pctx := newProject(t, map[string][]byte{
		"models/quad.obj":   []byte(quadOBJ),
		"textures/red.png":  pngBytes(t, 2, 2, color.RGBA{255, 0, 0, 255}),
		"textures/blue.png": pngBytes(t, 2, 2, color.RGBA{0, 0, 255, 255}),
		"notes.txt":         []byte("ignored"),
	})
	am := assets.NewAssetManager(pctx)
	require.NoError(t, am.Initialize())

	assert.Equal(t, []string{"textures/blue.png", "textures/red.png"}, am.List(metadata.ResourceTypeImage))
	_, ok := am.Lookup("notes.txt")
	assert.False(t, ok)

	mesh, err := am.LoadModel("models/quad.obj")
	require.NoError(t, err)
	assert.Equal(t, "quad", mesh.Name)

	_, err = am.LoadModel("textures/red.png")
	assert.Error(t, err)
	_, err = am.LoadModel("models/missing.obj")
	assert.Error(t, err)

	d := newDevice(t)
	tex, err := am.LoadTexture(d, "textures/red.png")
	require.NoError(t, err)
	tex.Destroy()

	var faces [6]string
	for i := range faces {
		faces[i] = "textures/blue.png"
	}
	cube, err := am.LoadCubemap(d, faces)
	require.NoError(t, err)
	cube.Destroy()
}
