package scripting

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Script is driven once per frame by the Manager.
type Script interface {
	Begin() error
	Update(deltaTime float64) error
	End()
}

type ScriptID uint32

type entry struct {
	id      ScriptID
	script  Script
	removed bool
}

// Manager holds scripts registered since the last Update in a pending list. They are
// started at the beginning of the next Update, so a script registered while scripts are
// updating never runs in that same pass.
type Manager struct {
	nextID  ScriptID
	pending []*entry
	active  []*entry
}

func NewManager() *Manager {
	return &Manager{nextID: 1}
}

func (m *Manager) Register(s Script) ScriptID {
	if s == nil {
		panic(errors.AssertionFailedf("registering a nil script"))
	}
	id := m.nextID
	m.nextID++
	m.pending = append(m.pending, &entry{id: id, script: s})
	return id
}

// Unregister removes a script. Active scripts get End and are dropped after the current pass.
func (m *Manager) Unregister(id ScriptID) bool {
	for i, e := range m.pending {
		if e.id == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	for _, e := range m.active {
		if e.id == id && !e.removed {
			e.removed = true
			e.script.End()
			return true
		}
	}
	return false
}

func (m *Manager) Pending() int { return len(m.pending) }

func (m *Manager) Active() int {
	n := 0
	for _, e := range m.active {
		if !e.removed {
			n++
		}
	}
	return n
}

// Update starts pending scripts then updates every active one. A script whose Begin fails
// is dropped. Update errors are collected and do not stop the pass.
func (m *Manager) Update(deltaTime float64) error {
	starting := m.pending
	m.pending = nil
	for _, e := range starting {
		if err := e.script.Begin(); err != nil {
			core.LogError("script %d failed to begin: %s", e.id, err)
			continue
		}
		m.active = append(m.active, e)
	}

	var errs error
	running := m.active
	for _, e := range running {
		if e.removed {
			continue
		}
		if err := e.script.Update(deltaTime); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "script %d", e.id))
		}
	}

	kept := m.active[:0]
	for _, e := range m.active {
		if !e.removed {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(m.active); i++ {
		m.active[i] = nil
	}
	m.active = kept
	return errs
}

func (m *Manager) Shutdown() {
	for _, e := range m.active {
		if !e.removed {
			e.script.End()
		}
	}
	m.active = nil
	m.pending = nil
}
