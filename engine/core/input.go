package core

type Button uint16

const (
	BUTTON_LEFT Button = iota
	BUTTON_RIGHT
	BUTTON_MIDDLE
	BUTTON_MAX_BUTTONS
)

// Key code definitions
type KeyCode uint16

const (
	KEY_BACKSPACE KeyCode = 0x08
	KEY_TAB       KeyCode = 0x09
	KEY_ENTER     KeyCode = 0x0D
	KEY_SHIFT     KeyCode = 0x10
	KEY_ESCAPE    KeyCode = 0x1B
	KEY_SPACE     KeyCode = 0x20
	KEY_LEFT      KeyCode = 0x25
	KEY_UP        KeyCode = 0x26
	KEY_RIGHT     KeyCode = 0x27
	KEY_DOWN      KeyCode = 0x28
	KEY_A         KeyCode = 0x41
	KEY_B         KeyCode = 0x42
	KEY_C         KeyCode = 0x43
	KEY_D         KeyCode = 0x44
	KEY_E         KeyCode = 0x45
	KEY_F         KeyCode = 0x46
	KEY_G         KeyCode = 0x47
	KEY_H         KeyCode = 0x48
	KEY_I         KeyCode = 0x49
	KEY_J         KeyCode = 0x4A
	KEY_K         KeyCode = 0x4B
	KEY_L         KeyCode = 0x4C
	KEY_M         KeyCode = 0x4D
	KEY_N         KeyCode = 0x4E
	KEY_O         KeyCode = 0x4F
	KEY_P         KeyCode = 0x50
	KEY_Q         KeyCode = 0x51
	KEY_R         KeyCode = 0x52
	KEY_S         KeyCode = 0x53
	KEY_T         KeyCode = 0x54
	KEY_U         KeyCode = 0x55
	KEY_V         KeyCode = 0x56
	KEY_W         KeyCode = 0x57
	KEY_X         KeyCode = 0x58
	KEY_Y         KeyCode = 0x59
	KEY_Z         KeyCode = 0x5A
	KEY_NUMPAD0   KeyCode = 0x60
	KEY_NUMPAD1   KeyCode = 0x61
	KEY_NUMPAD2   KeyCode = 0x62
	KEY_F1        KeyCode = 0x70
	KEY_F2        KeyCode = 0x71
	KEY_F3        KeyCode = 0x72
	KEY_F4        KeyCode = 0x73
	KEY_LSHIFT    KeyCode = 0xA0
	KEY_RSHIFT    KeyCode = 0xA1
	KEY_LCONTROL  KeyCode = 0xA2
	KEY_RCONTROL  KeyCode = 0xA3

	KEYS_MAX_KEYS KeyCode = 0x100
)

type mouseState struct {
	x, y    int32
	buttons [BUTTON_MAX_BUTTONS]bool
}

// InputState holds the current and previous keyboard and mouse states. Changes
// are fired on the bus as they happen; Update rolls current into previous once per frame.
type InputState struct {
	bus              *EventBus
	keyboardCurrent  [KEYS_MAX_KEYS]bool
	keyboardPrevious [KEYS_MAX_KEYS]bool
	mouseCurrent     mouseState
	mousePrevious    mouseState
}

func NewInputState(bus *EventBus) *InputState {
	return &InputState{bus: bus}
}

func (in *InputState) fire(ctx EventContext) {
	if in.bus != nil {
		in.bus.Fire(ctx)
	}
}

func (in *InputState) Update() {
	in.keyboardPrevious = in.keyboardCurrent
	in.mousePrevious = in.mouseCurrent
}

// keyboard input
func (in *InputState) IsKeyDown(key KeyCode) bool {
	return key < KEYS_MAX_KEYS && in.keyboardCurrent[key]
}

func (in *InputState) IsKeyUp(key KeyCode) bool {
	return !in.IsKeyDown(key)
}

func (in *InputState) WasKeyDown(key KeyCode) bool {
	return key < KEYS_MAX_KEYS && in.keyboardPrevious[key]
}

// KeyReleased reports a key that was down last frame and is up now.
func (in *InputState) KeyReleased(key KeyCode) bool {
	return in.IsKeyUp(key) && in.WasKeyDown(key)
}

func (in *InputState) ProcessKey(key KeyCode, pressed bool) {
	if key >= KEYS_MAX_KEYS {
		return
	}
	// Only handle this if the state actually changed.
	if in.keyboardCurrent[key] == pressed {
		return
	}
	in.keyboardCurrent[key] = pressed
	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	in.fire(EventContext{Code: code, Key: key})
}

// mouse input
func (in *InputState) IsButtonDown(button Button) bool {
	return button < BUTTON_MAX_BUTTONS && in.mouseCurrent.buttons[button]
}

func (in *InputState) WasButtonDown(button Button) bool {
	return button < BUTTON_MAX_BUTTONS && in.mousePrevious.buttons[button]
}

func (in *InputState) MousePosition() (int32, int32) {
	return in.mouseCurrent.x, in.mouseCurrent.y
}

func (in *InputState) PreviousMousePosition() (int32, int32) {
	return in.mousePrevious.x, in.mousePrevious.y
}

func (in *InputState) ProcessButton(button Button, pressed bool) {
	if button >= BUTTON_MAX_BUTTONS || in.mouseCurrent.buttons[button] == pressed {
		return
	}
	in.mouseCurrent.buttons[button] = pressed
	code := EVENT_CODE_BUTTON_RELEASED
	if pressed {
		code = EVENT_CODE_BUTTON_PRESSED
	}
	in.fire(EventContext{Code: code, Button: button})
}

func (in *InputState) ProcessMouseMove(x, y int32) {
	if in.mouseCurrent.x == x && in.mouseCurrent.y == y {
		return
	}
	in.mouseCurrent.x = x
	in.mouseCurrent.y = y
	in.fire(EventContext{Code: EVENT_CODE_MOUSE_MOVED, X: x, Y: y})
}

func (in *InputState) ProcessMouseWheel(zDelta int8) {
	in.fire(EventContext{Code: EVENT_CODE_MOUSE_WHEEL, Z: zDelta})
}
