package renderer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DescriptorSetLayoutBuilder accumulates bindings for an immutable DescriptorSetLayout.
type DescriptorSetLayoutBuilder struct {
	bindings []metadata.DescriptorBinding
}

func NewDescriptorSetLayoutBuilder() *DescriptorSetLayoutBuilder {
	return &DescriptorSetLayoutBuilder{}
}

func (b *DescriptorSetLayoutBuilder) AddBinding(index uint32, descriptorType metadata.DescriptorType, count uint32, stages metadata.ShaderStage) *DescriptorSetLayoutBuilder {
	b.bindings = append(b.bindings, metadata.DescriptorBinding{
		Index:  index,
		Type:   descriptorType,
		Count:  count,
		Stages: stages,
	})
	return b
}

// bindingSequence validates the accumulated bindings and returns them ordered by index.
func (b *DescriptorSetLayoutBuilder) bindingSequence() ([]metadata.DescriptorBinding, error) {
	seq := slices.Clone(b.bindings)
	slices.SortStableFunc(seq, func(a, c metadata.DescriptorBinding) int {
		return int(a.Index) - int(c.Index)
	})
	for i, binding := range seq {
		if binding.Count == 0 {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d has a descriptor count of 0", binding.Index)
		}
		if binding.Stages == 0 {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d is not visible to any stage", binding.Index)
		}
		if i > 0 && seq[i-1].Index == binding.Index {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d declared twice", binding.Index)
		}
	}
	return seq, nil
}

func (b *DescriptorSetLayoutBuilder) Build(device Device) (*DescriptorSetLayout, error) {
	seq, err := b.bindingSequence()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	handle, err := device.CreateDescriptorSetLayout(seq)
	if err != nil {
		err = errors.Wrap(err, "failed to create descriptor set layout")
		core.LogError(err.Error())
		return nil, err
	}
	return &DescriptorSetLayout{
		device:   device,
		handle:   handle,
		bindings: seq,
	}, nil
}

// DescriptorSetLayout is an immutable, index ordered sequence of bindings.
type DescriptorSetLayout struct {
	device   Device
	handle   metadata.Handle
	bindings []metadata.DescriptorBinding
	// layouts handed out by a LayoutCache are destroyed with the cache
	cached bool
}

func (l *DescriptorSetLayout) Handle() metadata.Handle {
	return l.handle
}

// Bindings returns a copy of the binding sequence.
func (l *DescriptorSetLayout) Bindings() []metadata.DescriptorBinding {
	return slices.Clone(l.bindings)
}

func (l *DescriptorSetLayout) Binding(index uint32) (metadata.DescriptorBinding, bool) {
	i, found := slices.BinarySearchFunc(l.bindings, index, func(b metadata.DescriptorBinding, idx uint32) int {
		return int(b.Index) - int(idx)
	})
	if !found {
		return metadata.DescriptorBinding{}, false
	}
	return l.bindings[i], true
}

// Compatible reports whether both layouts have element-wise equal binding sequences.
// Compatible layouts are interchangeable for pipelines and descriptor sets.
func (l *DescriptorSetLayout) Compatible(other *DescriptorSetLayout) bool {
	if l == nil || other == nil {
		return l == other
	}
	return slices.Equal(l.bindings, other.bindings)
}

// Requirements returns how many descriptors of each type one set of this layout consumes.
func (l *DescriptorSetLayout) Requirements() map[metadata.DescriptorType]uint32 {
	req := make(map[metadata.DescriptorType]uint32)
	for _, b := range l.bindings {
		req[b.Type] += b.Count
	}
	return req
}

func (l *DescriptorSetLayout) Destroy() {
	if l.cached || l.handle.IsNull() {
		return
	}
	l.device.DestroyDescriptorSetLayout(l.handle)
	l.handle = metadata.NullHandle
}

func layoutKey(bindings []metadata.DescriptorBinding) string {
	var sb strings.Builder
	for _, b := range bindings {
		fmt.Fprintf(&sb, "%d:%d:%d:%d;", b.Index, b.Type, b.Count, b.Stages)
	}
	return sb.String()
}

// LayoutCache shares one device layout among structurally equal binding sequences.
type LayoutCache struct {
	device  Device
	mu      sync.Mutex
	layouts map[string]*DescriptorSetLayout
}

func NewLayoutCache(device Device) *LayoutCache {
	return &LayoutCache{
		device:  device,
		layouts: make(map[string]*DescriptorSetLayout),
	}
}

// Get returns the cached layout for the builder's bindings, creating it on first use.
func (c *LayoutCache) Get(b *DescriptorSetLayoutBuilder) (*DescriptorSetLayout, error) {
	seq, err := b.bindingSequence()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	key := layoutKey(seq)

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.layouts[key]; ok {
		return l, nil
	}
	l, err := b.Build(c.device)
	if err != nil {
		return nil, err
	}
	l.cached = true
	c.layouts[key] = l
	return l, nil
}

func (c *LayoutCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.layouts)
}

func (c *LayoutCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, l := range c.layouts {
		c.device.DestroyDescriptorSetLayout(l.handle)
		l.handle = metadata.NullHandle
		delete(c.layouts, key)
	}
}
