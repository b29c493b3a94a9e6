// Package scene keeps entities in an arena owned by the Scene. An Entity is a handle
// (arena index plus generation); it owns nothing and is looked up on every access,
// so a handle to a destroyed entity is detected instead of dangling.
package scene

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var ErrStaleEntity = errors.New("entity does not exist")

type Entity struct {
	Index      uint32
	Generation uint32
}

// NullEntity never refers to a live entity; generations start at 1.
var NullEntity = Entity{}

func (e Entity) IsNull() bool {
	return e.Generation == 0
}

type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Matrix returns translation * rotation * scale.
func (t Transform) Matrix() mgl32.Mat4 {
	return mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z()).
		Mul4(t.Rotation.Mat4()).
		Mul4(mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z()))
}

type MeshRenderer struct {
	Mesh        metadata.MeshID
	Material    metadata.MaterialID
	CastsShadow bool
}

type slot struct {
	generation uint32
	alive      bool
	name       string
	parent     Entity
	transform  Transform
	renderer   *MeshRenderer
}

type Scene struct {
	Name  string
	slots []slot
	free  []uint32
	count int
}

func New(name string) *Scene {
	return &Scene{Name: name}
}

// Create adds an entity with an identity transform, reusing a free slot when there is one.
func (s *Scene) Create(name string) Entity {
	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		index = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	sl := &s.slots[index]
	sl.generation++
	sl.alive = true
	sl.name = name
	sl.parent = NullEntity
	sl.transform = NewTransform()
	sl.renderer = nil
	s.count++
	return Entity{Index: index, Generation: sl.generation}
}

func (s *Scene) lookup(e Entity) (*slot, error) {
	if int(e.Index) >= len(s.slots) {
		return nil, errors.Wrapf(ErrStaleEntity, "entity %d:%d", e.Index, e.Generation)
	}
	sl := &s.slots[e.Index]
	if !sl.alive || sl.generation != e.Generation {
		return nil, errors.Wrapf(ErrStaleEntity, "entity %d:%d", e.Index, e.Generation)
	}
	return sl, nil
}

func (s *Scene) Valid(e Entity) bool {
	_, err := s.lookup(e)
	return err == nil
}

func (s *Scene) Len() int {
	return s.count
}

// Destroy removes e. Children of e are detached and keep their local transform.
func (s *Scene) Destroy(e Entity) error {
	sl, err := s.lookup(e)
	if err != nil {
		return err
	}
	sl.alive = false
	sl.renderer = nil
	s.free = append(s.free, e.Index)
	s.count--
	for i := range s.slots {
		if s.slots[i].alive && s.slots[i].parent == e {
			s.slots[i].parent = NullEntity
		}
	}
	return nil
}

func (s *Scene) EntityName(e Entity) (string, error) {
	sl, err := s.lookup(e)
	if err != nil {
		return "", err
	}
	return sl.name, nil
}

// Transform returns the local transform of e for modification.
func (s *Scene) Transform(e Entity) (*Transform, error) {
	sl, err := s.lookup(e)
	if err != nil {
		return nil, err
	}
	return &sl.transform, nil
}

func (s *Scene) SetMeshRenderer(e Entity, mr MeshRenderer) error {
	sl, err := s.lookup(e)
	if err != nil {
		return err
	}
	sl.renderer = &mr
	return nil
}

func (s *Scene) RemoveMeshRenderer(e Entity) error {
	sl, err := s.lookup(e)
	if err != nil {
		return err
	}
	sl.renderer = nil
	return nil
}

// SetParent attaches child to parent. NullEntity detaches. Cycles are rejected.
func (s *Scene) SetParent(child, parent Entity) error {
	sl, err := s.lookup(child)
	if err != nil {
		return err
	}
	if parent.IsNull() {
		sl.parent = NullEntity
		return nil
	}
	if _, err := s.lookup(parent); err != nil {
		return err
	}
	for p := parent; !p.IsNull(); p = s.slots[p.Index].parent {
		if p == child {
			err := errors.Newf("parenting entity %d to %d creates a cycle", child.Index, parent.Index)
			core.LogError(err.Error())
			return err
		}
	}
	sl.parent = parent
	return nil
}

func (s *Scene) Parent(e Entity) (Entity, error) {
	sl, err := s.lookup(e)
	if err != nil {
		return NullEntity, err
	}
	return sl.parent, nil
}

// WorldMatrix composes the transforms from the root down to e.
func (s *Scene) WorldMatrix(e Entity) (mgl32.Mat4, error) {
	sl, err := s.lookup(e)
	if err != nil {
		return mgl32.Ident4(), err
	}
	m := sl.transform.Matrix()
	for p := sl.parent; !p.IsNull(); p = s.slots[p.Index].parent {
		m = s.slots[p.Index].transform.Matrix().Mul4(m)
	}
	return m, nil
}

// Renderables returns one draw per entity with a mesh renderer, in arena order.
func (s *Scene) Renderables() []metadata.Renderable {
	out := make([]metadata.Renderable, 0, s.count)
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.alive || sl.renderer == nil {
			continue
		}
		model, _ := s.WorldMatrix(Entity{Index: uint32(i), Generation: sl.generation})
		out = append(out, metadata.Renderable{
			Mesh:        sl.renderer.Mesh,
			Material:    sl.renderer.Material,
			Model:       model,
			CastsShadow: sl.renderer.CastsShadow,
		})
	}
	return out
}

// Each calls fn for every live entity in arena order.
func (s *Scene) Each(fn func(e Entity, name string)) {
	for i := range s.slots {
		if s.slots[i].alive {
			fn(Entity{Index: uint32(i), Generation: s.slots[i].generation}, s.slots[i].name)
		}
	}
}
