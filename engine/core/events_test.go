package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusFireStopsAtHandled(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	bus.Register(EVENT_CODE_KEY_PRESSED, func(ctx EventContext) bool {
		calls = append(calls, "first")
		return ctx.Key == KEY_ESCAPE
	})
	bus.Register(EVENT_CODE_KEY_PRESSED, func(ctx EventContext) bool {
		calls = append(calls, "second")
		return false
	})

	assert.False(t, bus.Fire(EventContext{Code: EVENT_CODE_KEY_PRESSED, Key: KEY_A}))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	assert.True(t, bus.Fire(EventContext{Code: EVENT_CODE_KEY_PRESSED, Key: KEY_ESCAPE}))
	assert.Equal(t, []string{"first"}, calls)
}

func TestEventBusUnregister(t *testing.T) {
	bus := NewEventBus()
	fired := 0
	id := bus.Register(EVENT_CODE_RESIZED, func(EventContext) bool {
		fired++
		return false
	})

	require.True(t, bus.Unregister(EVENT_CODE_RESIZED, id))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, id))
	assert.False(t, bus.Fire(EventContext{Code: EVENT_CODE_RESIZED}))
	assert.Zero(t, fired)
}

func TestEventBusListenerMayUnregisterItself(t *testing.T) {
	bus := NewEventBus()
	fired := 0
	var id ListenerID
	id = bus.Register(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		fired++
		bus.Unregister(EVENT_CODE_APPLICATION_QUIT, id)
		return false
	})

	bus.Fire(EventContext{Code: EVENT_CODE_APPLICATION_QUIT})
	bus.Fire(EventContext{Code: EVENT_CODE_APPLICATION_QUIT})
	assert.Equal(t, 1, fired)
}

func TestEventBusReset(t *testing.T) {
	bus := NewEventBus()
	bus.Register(EVENT_CODE_MOUSE_MOVED, func(EventContext) bool { return true })
	bus.Reset()
	assert.False(t, bus.Fire(EventContext{Code: EVENT_CODE_MOUSE_MOVED}))
}
