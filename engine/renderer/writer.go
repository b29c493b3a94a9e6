package renderer

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DescriptorWriter stages (binding, resource) pairs and applies them to a set in one update.
// Writing the same binding twice keeps the last write.
type DescriptorWriter struct {
	staged map[uint32]metadata.DescriptorWrite
}

func NewDescriptorWriter() *DescriptorWriter {
	return &DescriptorWriter{
		staged: make(map[uint32]metadata.DescriptorWrite),
	}
}

func (w *DescriptorWriter) Write(write metadata.DescriptorWrite) *DescriptorWriter {
	w.staged[write.Binding] = write
	return w
}

func (w *DescriptorWriter) WriteBuffer(binding uint32, descriptorType metadata.DescriptorType, buffer *Buffer, offset, size uint64) *DescriptorWriter {
	return w.Write(metadata.DescriptorWrite{
		Binding: binding,
		Type:    descriptorType,
		Buffer: metadata.BufferInfo{
			Buffer: buffer.Handle(),
			Offset: offset,
			Range:  size,
		},
	})
}

// WriteImage stages a combined image sampler expected in ShaderReadOnly layout.
func (w *DescriptorWriter) WriteImage(binding uint32, image *Image, sampler *Sampler) *DescriptorWriter {
	return w.Write(metadata.DescriptorWrite{
		Binding: binding,
		Type:    metadata.DescriptorTypeCombinedImageSampler,
		Image: metadata.ImageInfo{
			Image:   image.Handle(),
			Sampler: sampler.Handle(),
			Layout:  metadata.ImageLayoutShaderReadOnly,
		},
	})
}

func (w *DescriptorWriter) Staged() int {
	return len(w.staged)
}

func (w *DescriptorWriter) Clear() {
	w.staged = make(map[uint32]metadata.DescriptorWrite)
}

// validate checks every staged write against layout and returns them ordered by binding.
func (w *DescriptorWriter) validate(layout *DescriptorSetLayout) ([]metadata.DescriptorWrite, error) {
	keys := make([]uint32, 0, len(w.staged))
	for k := range w.staged {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	writes := make([]metadata.DescriptorWrite, 0, len(keys))
	for _, k := range keys {
		write := w.staged[k]
		binding, ok := layout.Binding(k)
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d is not declared by the layout", k)
		}
		if binding.Type != write.Type {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d is %s, write is %s", k, binding.Type, write.Type)
		}
		if write.Type.IsImage() && write.Image.Image.IsNull() && write.Type != metadata.DescriptorTypeSampler {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d has no image", k)
		}
		if !write.Type.IsImage() && write.Buffer.Buffer.IsNull() {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "binding %d has no buffer", k)
		}
		writes = append(writes, write)
	}
	return writes, nil
}

// Commit applies every staged write to set, or none of them.
func (w *DescriptorWriter) Commit(device Device, set *DescriptorSet) error {
	if set.handle.IsNull() {
		return errors.Newf("commit to a freed descriptor set")
	}
	writes, err := w.validate(set.layout)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	if err := device.UpdateDescriptorSet(set.handle, writes); err != nil {
		return errors.Wrap(err, "failed to update descriptor set")
	}
	for _, write := range writes {
		set.writes[write.Binding] = write
	}
	return nil
}

// BuildSet allocates a set for layout from pool and commits the staged writes into it.
// Pool exhaustion is returned unchanged. When the commit fails the set is returned to
// pools created with FreeIndividualSets; other pools only get the capacity back on Reset.
func (w *DescriptorWriter) BuildSet(device Device, pool *DescriptorPool, layout *DescriptorSetLayout) (*DescriptorSet, error) {
	// validate first so a bad write never consumes pool capacity
	if _, err := w.validate(layout); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	set, err := pool.Allocate(layout)
	if err != nil {
		return nil, err
	}
	if err := w.Commit(device, set); err != nil {
		core.LogError(err.Error())
		if pool.freeIndividual {
			if freeErr := pool.Free(set); freeErr != nil {
				err = errors.CombineErrors(err, freeErr)
			}
		}
		return nil, err
	}
	return set, nil
}
