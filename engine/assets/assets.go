package assets

import (
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/project"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type AssetInfo struct {
	// Slash separated, relative to the project asset directory.
	Path    string
	Type    metadata.ResourceType
	Size    int64
	ModTime time.Time
}

// AssetManager indexes the project's asset directory and decodes assets on request.
// The index is built once by Initialize; files added later are not picked up.
type AssetManager struct {
	project *project.Context
	shaders *ShaderLibrary

	mutex  sync.RWMutex
	assets map[string]AssetInfo
}

func NewAssetManager(pctx *project.Context) *AssetManager {
	return &AssetManager{
		project: pctx,
		shaders: NewShaderLibrary(pctx),
		assets:  make(map[string]AssetInfo),
	}
}

func (am *AssetManager) Initialize() error {
	root, err := am.project.AssetPath("")
	if err != nil {
		return err
	}
	found := make(map[string]AssetInfo)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		assetType := determineAssetType(path)
		if assetType == metadata.ResourceTypeNone {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		found[rel] = AssetInfo{Path: rel, Type: assetType, Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to index assets under %s", root)
		core.LogError(err.Error())
		return err
	}

	am.mutex.Lock()
	am.assets = found
	am.mutex.Unlock()
	core.LogInfo("indexed %d assets under %s", len(found), root)
	return nil
}

func (am *AssetManager) Shaders() *ShaderLibrary {
	return am.shaders
}

func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[path]
	return info, ok
}

// List returns the sorted paths of every indexed asset of the given type.
func (am *AssetManager) List(assetType metadata.ResourceType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []string
	for p, info := range am.assets {
		if info.Type == assetType {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

func (am *AssetManager) open(path string, assetType metadata.ResourceType) (*os.File, error) {
	info, ok := am.Lookup(path)
	if !ok {
		err := errors.Newf("asset not found: %s", path)
		core.LogError(err.Error())
		return nil, err
	}
	if info.Type != assetType {
		err := errors.Newf("asset %s has type %d, expected %d", path, info.Type, assetType)
		core.LogError(err.Error())
		return nil, err
	}
	full, err := am.project.AssetPath(filepath.FromSlash(path))
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// LoadModel decodes an OBJ model. A material library next to it with the same base
// name is used when present.
func (am *AssetManager) LoadModel(path string) (*metadata.MeshBuilder, error) {
	f, err := am.open(path, metadata.ResourceTypeModel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var mtl io.Reader
	mtlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".mtl"
	if _, ok := am.Lookup(mtlPath); ok {
		m, err := am.open(mtlPath, metadata.ResourceTypeBinary)
		if err != nil {
			return nil, err
		}
		defer m.Close()
		mtl = m
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return DecodeOBJ(name, f, mtl)
}

func (am *AssetManager) LoadImage(path string) (*image.RGBA, error) {
	f, err := am.open(path, metadata.ResourceTypeImage)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := DecodeTexture(f)
	if err != nil {
		return nil, errors.Wrapf(err, "texture %s", path)
	}
	return img, nil
}

func (am *AssetManager) LoadTexture(device renderer.Device, path string) (*renderer.Image, error) {
	img, err := am.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return UploadTexture(device, img)
}

// LoadCubemap loads six faces ordered +X, -X, +Y, -Y, +Z, -Z.
func (am *AssetManager) LoadCubemap(device renderer.Device, faces [6]string) (*renderer.Image, error) {
	var imgs [6]*image.RGBA
	for i, path := range faces {
		img, err := am.LoadImage(path)
		if err != nil {
			return nil, err
		}
		imgs[i] = img
	}
	return UploadCubemap(device, imgs)
}
