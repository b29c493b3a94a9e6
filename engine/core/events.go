package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01
	// Keyboard key pressed. Context usage: Key.
	EVENT_CODE_KEY_PRESSED EventCode = 0x02
	// Keyboard key released. Context usage: Key.
	EVENT_CODE_KEY_RELEASED EventCode = 0x03
	// Mouse button pressed. Context usage: Button.
	EVENT_CODE_BUTTON_PRESSED EventCode = 0x04
	// Mouse button released. Context usage: Button.
	EVENT_CODE_BUTTON_RELEASED EventCode = 0x05
	// Mouse moved. Context usage: X, Y.
	EVENT_CODE_MOUSE_MOVED EventCode = 0x06
	// Mouse wheel. Context usage: Z.
	EVENT_CODE_MOUSE_WHEEL EventCode = 0x07
	// Framebuffer size changed from the OS. Context usage: Width, Height.
	EVENT_CODE_RESIZED EventCode = 0x08
	// Post-process tunables were reloaded from the configuration file.
	EVENT_CODE_TUNABLES_RELOADED EventCode = 0x09

	MAX_EVENT_CODE EventCode = 0xFF
)

type EventContext struct {
	Code   EventCode
	Key    KeyCode
	Button Button
	X, Y   int32
	Z      int8
	Width  uint32
	Height uint32
	// Free form payload for application codes.
	Data interface{}
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type ListenerID uint32

type registeredEvent struct {
	id       ListenerID
	callback FnOnEvent
}

// EventBus dispatches events synchronously to the listeners of a code, in registration order.
type EventBus struct {
	mu         sync.RWMutex
	nextID     ListenerID
	registered map[EventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		nextID:     1,
		registered: make(map[EventCode][]registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code.
 * @param code The event code to listen for.
 * @param onEvent The callback invoked when the event code is fired.
 * @returns the id used to unregister the listener.
 */
func (b *EventBus) Register(code EventCode, onEvent FnOnEvent) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.registered[code] = append(b.registered[code], registeredEvent{id: id, callback: onEvent})
	return id
}

/**
 * Unregister the listener from the provided code.
 * @returns true if the listener was registered; otherwise false.
 */
func (b *EventBus) Unregister(code EventCode, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.id == id {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	LogWarn("no listener %d registered for event code %d", id, code)
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (b *EventBus) Fire(ctx EventContext) bool {
	b.mu.RLock()
	// listeners may register or unregister while being called
	events := append([]registeredEvent(nil), b.registered[ctx.Code]...)
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(ctx) {
			return true
		}
	}
	return false
}

// Reset drops every listener.
func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = make(map[EventCode][]registeredEvent)
}
