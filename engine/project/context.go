package project

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Context carries the paths of the open project. It is passed explicitly to every
// subsystem that resolves project files.
type Context struct {
	ID        uuid.UUID
	Root      string
	ShaderDir string
	AssetDir  string

	mu     sync.RWMutex
	closed bool
}

// Open creates a context rooted at root. The directory must exist.
func Open(root string) (*Context, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve project root %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open project %s", abs)
	}
	if !info.IsDir() {
		err := errors.Newf("project root %s is not a directory", abs)
		core.LogError(err.Error())
		return nil, err
	}
	ctx := &Context{
		ID:        uuid.New(),
		Root:      abs,
		ShaderDir: filepath.Join(abs, "assets", "shaders"),
		AssetDir:  filepath.Join(abs, "assets"),
	}
	core.LogInfo("opened project %s at %s", ctx.ID, ctx.Root)
	return ctx, nil
}

// Replace points the context at another project root and assigns a fresh identity.
func (c *Context) Replace(root string) error {
	next, err := Open(root)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ID = next.ID
	c.Root = next.Root
	c.ShaderDir = next.ShaderDir
	c.AssetDir = next.AssetDir
	c.closed = false
	return nil
}

// Close tears the context down. Resolving paths afterwards fails.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// ShaderPath resolves a compiled shader name, e.g. "Builtin.Material.vert.spv".
func (c *Context) ShaderPath(name string) (string, error) {
	return c.resolve(func() string { return c.ShaderDir }, name)
}

func (c *Context) AssetPath(name string) (string, error) {
	return c.resolve(func() string { return c.AssetDir }, name)
}

func (c *Context) resolve(dir func() string, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", errors.Newf("project %s is closed", c.ID)
	}
	return filepath.Join(dir(), name), nil
}
