package assets

import (
	"context"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/project"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type shaderStageFile struct {
	stage  metadata.ShaderStage
	suffix string
}

// every program is a vertex and fragment pair, "<name>.vert.spv" and "<name>.frag.spv"
var shaderStageFiles = []shaderStageFile{
	{stage: metadata.ShaderStageVertex, suffix: ".vert.spv"},
	{stage: metadata.ShaderStageFragment, suffix: ".frag.spv"},
}

// ShaderLibrary loads compiled SPIR-V programs from the project's shader directory and
// keeps them for the lifetime of the library.
type ShaderLibrary struct {
	project *project.Context

	mu       sync.Mutex
	programs map[string][]metadata.ShaderStageDescription
}

func NewShaderLibrary(pctx *project.Context) *ShaderLibrary {
	return &ShaderLibrary{
		project:  pctx,
		programs: make(map[string][]metadata.ShaderStageDescription),
	}
}

// Preload reads every stage of every named program concurrently.
func (sl *ShaderLibrary) Preload(ctx context.Context, names []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			stages, err := sl.load(ctx, name)
			if err != nil {
				return err
			}
			sl.mu.Lock()
			sl.programs[name] = stages
			sl.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Program returns the stages of name, loading them on first use.
func (sl *ShaderLibrary) Program(name string) ([]metadata.ShaderStageDescription, error) {
	sl.mu.Lock()
	stages, ok := sl.programs[name]
	sl.mu.Unlock()
	if ok {
		return stages, nil
	}
	stages, err := sl.load(context.Background(), name)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	sl.programs[name] = stages
	sl.mu.Unlock()
	return stages, nil
}

func (sl *ShaderLibrary) load(ctx context.Context, name string) ([]metadata.ShaderStageDescription, error) {
	stages := make([]metadata.ShaderStageDescription, len(shaderStageFiles))
	g, ctx := errgroup.WithContext(ctx)
	for i, file := range shaderStageFiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path, err := sl.project.ShaderPath(name + file.suffix)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				err = errors.Wrapf(core.ErrPipelineCompileFailure, "failed to read shader %s: %v", path, err)
				core.LogError(err.Error())
				return err
			}
			code, err := bytesToBytecode(path, data)
			if err != nil {
				return err
			}
			stages[i] = metadata.ShaderStageDescription{
				Stage:      file.stage,
				EntryPoint: "main",
				Code:       code,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	core.LogDebug("loaded shader program %s", name)
	return stages, nil
}
