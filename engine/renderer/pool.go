package renderer

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/maps"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DescriptorPool is a fixed capacity arena of descriptor sets. It never grows:
// callers that need more capacity create another pool.
type DescriptorPool struct {
	device         Device
	handle         metadata.Handle
	capacity       map[metadata.DescriptorType]uint32
	remaining      map[metadata.DescriptorType]uint32
	maxSets        uint32
	freeIndividual bool
	sets           map[metadata.Handle]*DescriptorSet
}

func NewDescriptorPool(device Device, desc metadata.DescriptorPoolDescription) (*DescriptorPool, error) {
	if desc.MaxSets == 0 {
		err := errors.Newf("descriptor pool needs maxSets > 0")
		core.LogError(err.Error())
		return nil, err
	}
	handle, err := device.CreateDescriptorPool(desc)
	if err != nil {
		err = errors.Wrap(err, "failed to create descriptor pool")
		core.LogError(err.Error())
		return nil, err
	}
	return &DescriptorPool{
		device:         device,
		handle:         handle,
		capacity:       maps.Clone(desc.Sizes),
		remaining:      maps.Clone(desc.Sizes),
		maxSets:        desc.MaxSets,
		freeIndividual: desc.FreeIndividualSets,
		sets:           make(map[metadata.Handle]*DescriptorSet),
	}, nil
}

func (p *DescriptorPool) Handle() metadata.Handle {
	return p.handle
}

func (p *DescriptorPool) Remaining(t metadata.DescriptorType) uint32 {
	return p.remaining[t]
}

func (p *DescriptorPool) LiveSets() uint32 {
	return uint32(len(p.sets))
}

func (p *DescriptorPool) MaxSets() uint32 {
	return p.maxSets
}

// CanAllocate reports whether one set of layout fits in the remaining capacity.
func (p *DescriptorPool) CanAllocate(layout *DescriptorSetLayout) error {
	if uint32(len(p.sets)) >= p.maxSets {
		return errors.Wrapf(core.ErrPoolExhausted, "all %d sets in use", p.maxSets)
	}
	for t, need := range layout.Requirements() {
		if p.remaining[t] < need {
			return errors.Wrapf(core.ErrPoolExhausted, "%s: need %d, %d left", t, need, p.remaining[t])
		}
	}
	return nil
}

// Allocate takes one set for layout out of the pool. Either every descriptor type the
// layout needs is consumed or, on failure, none is.
func (p *DescriptorPool) Allocate(layout *DescriptorSetLayout) (*DescriptorSet, error) {
	if err := p.CanAllocate(layout); err != nil {
		return nil, err
	}
	handle, err := p.device.AllocateDescriptorSet(p.handle, layout.handle)
	if err != nil {
		if !errors.Is(err, core.ErrPoolExhausted) {
			err = errors.Wrap(err, "failed to allocate descriptor set")
			core.LogError(err.Error())
		}
		return nil, err
	}
	for t, need := range layout.Requirements() {
		p.remaining[t] -= need
	}
	set := &DescriptorSet{
		handle: handle,
		layout: layout,
		pool:   p,
		writes: make(map[uint32]metadata.DescriptorWrite),
	}
	p.sets[handle] = set
	return set, nil
}

// Free returns one set to the pool. Only legal on pools created with FreeIndividualSets.
func (p *DescriptorPool) Free(set *DescriptorSet) error {
	if !p.freeIndividual {
		return errors.Newf("descriptor pool does not support freeing individual sets, use Reset")
	}
	if set.pool != p {
		return errors.Newf("descriptor set %d was not allocated from this pool", set.handle)
	}
	if _, ok := p.sets[set.handle]; !ok {
		return errors.Newf("descriptor set %d already freed", set.handle)
	}
	if err := p.device.FreeDescriptorSet(p.handle, set.handle); err != nil {
		return errors.Wrap(err, "failed to free descriptor set")
	}
	p.release(set)
	return nil
}

func (p *DescriptorPool) release(set *DescriptorSet) {
	for t, n := range set.layout.Requirements() {
		p.remaining[t] += n
	}
	delete(p.sets, set.handle)
	set.handle = metadata.NullHandle
	set.pool = nil
}

// Reset reclaims every set allocated from the pool at once.
func (p *DescriptorPool) Reset() error {
	if err := p.device.ResetDescriptorPool(p.handle); err != nil {
		return errors.Wrap(err, "failed to reset descriptor pool")
	}
	for _, set := range p.sets {
		set.handle = metadata.NullHandle
		set.pool = nil
	}
	p.sets = make(map[metadata.Handle]*DescriptorSet)
	p.remaining = maps.Clone(p.capacity)
	return nil
}

func (p *DescriptorPool) Destroy() {
	if p.handle.IsNull() {
		return
	}
	p.device.DestroyDescriptorPool(p.handle)
	p.handle = metadata.NullHandle
	p.sets = nil
}

// DescriptorSet is bound to exactly one layout. Its bindings change only through
// DescriptorWriter commits.
type DescriptorSet struct {
	handle metadata.Handle
	layout *DescriptorSetLayout
	pool   *DescriptorPool
	writes map[uint32]metadata.DescriptorWrite
}

func (s *DescriptorSet) Handle() metadata.Handle {
	return s.handle
}

func (s *DescriptorSet) Layout() *DescriptorSetLayout {
	return s.layout
}

// Written returns the last committed write for binding.
func (s *DescriptorSet) Written(binding uint32) (metadata.DescriptorWrite, bool) {
	w, ok := s.writes[binding]
	return w, ok
}
