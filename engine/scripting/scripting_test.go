package scripting_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/scripting"
)

type recorder struct {
	name     string
	log      *[]string
	beginErr error
	onUpdate func()
}

func (r *recorder) Begin() error {
	*r.log = append(*r.log, r.name+":begin")
	return r.beginErr
}

func (r *recorder) Update(float64) error {
	*r.log = append(*r.log, r.name+":update")
	if r.onUpdate != nil {
		r.onUpdate()
	}
	return nil
}

func (r *recorder) End() {
	*r.log = append(*r.log, r.name+":end")
}

func TestRegisteredDuringUpdateWaitsForNextPass(t *testing.T) {
	var log []string
	m := scripting.NewManager()
	late := &recorder{name: "late", log: &log}
	first := &recorder{name: "first", log: &log}
	first.onUpdate = func() {
		if first.onUpdate != nil {
			m.Register(late)
			first.onUpdate = nil
		}
	}
	m.Register(first)

	require.NoError(t, m.Update(0.016))
	assert.Equal(t, []string{"first:begin", "first:update"}, log)
	assert.Equal(t, 1, m.Pending())

	log = nil
	require.NoError(t, m.Update(0.016))
	assert.Equal(t, []string{"late:begin", "first:update", "late:update"}, log)
	assert.Equal(t, 2, m.Active())
}

func TestFailedBeginDropsScript(t *testing.T) {
	var log []string
	m := scripting.NewManager()
	m.Register(&recorder{name: "bad", log: &log, beginErr: errors.New("nope")})
	require.NoError(t, m.Update(0))
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, []string{"bad:begin"}, log)
}

func TestUnregister(t *testing.T) {
	var log []string
	m := scripting.NewManager()
	a := m.Register(&recorder{name: "a", log: &log})
	b := m.Register(&recorder{name: "b", log: &log})
	assert.True(t, m.Unregister(b))
	require.NoError(t, m.Update(0))
	assert.Equal(t, 1, m.Active())

	assert.True(t, m.Unregister(a))
	assert.False(t, m.Unregister(a))
	require.NoError(t, m.Update(0))
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, []string{"a:begin", "a:update", "a:end"}, log)
}

func TestShutdownEndsActiveScripts(t *testing.T) {
	var log []string
	m := scripting.NewManager()
	m.Register(&recorder{name: "a", log: &log})
	require.NoError(t, m.Update(0))
	m.Shutdown()
	assert.Equal(t, []string{"a:begin", "a:update", "a:end"}, log)
	assert.Equal(t, 0, m.Active())
}
