package webbridge

import (
	"errors"
	"fmt"
)

// KeyCode identifies a hardware key the host forwards into the bridge.
// Values match the platform key codes shells already deal in.
type KeyCode int

const (
	KeyUnknown    KeyCode = 0
	KeyBack       KeyCode = 4
	KeyVolumeUp   KeyCode = 24
	KeyVolumeDown KeyCode = 25
	KeyMenu       KeyCode = 82
	KeySearch     KeyCode = 84
)

func (k KeyCode) String() string {
	switch k {
	case KeyBack:
		return "back"
	case KeyVolumeUp:
		return "volume-up"
	case KeyVolumeDown:
		return "volume-down"
	case KeyMenu:
		return "menu"
	case KeySearch:
		return "search"
	default:
		return fmt.Sprintf("keycode(%d)", int(k))
	}
}

// KeyAction distinguishes press from release in key dispatch.
type KeyAction int

const (
	KeyDown KeyAction = iota
	KeyUp
)

// KeyEvent is one hardware key transition forwarded by the engine.
type KeyEvent struct {
	Code   KeyCode   `json:"code"`
	Action KeyAction `json:"action"`
}

// KeyVerdict is the bridge's answer when an engine offers it a key event.
type KeyVerdict int

const (
	// KeyUnhandled defers to the engine's default key behavior.
	KeyUnhandled KeyVerdict = iota
	// KeyConsumed means the bridge took the event; the engine must not act on it.
	KeyConsumed
	// KeyPassthrough explicitly declines the event so the host's default
	// handling (for back, usually leaving the app) proceeds.
	KeyPassthrough
)

// jsKeyEvents maps keys to the document event names the script side listens
// for. Search stays mapped for release dispatch even though it is not
// claimable.
var jsKeyEvents = map[KeyCode]string{
	KeyVolumeDown: "volumedownbutton",
	KeyVolumeUp:   "volumeupbutton",
	KeySearch:     "searchbutton",
	KeyMenu:       "menubutton",
	KeyBack:       "backbutton",
}

// claimableKeys is the set Session.SetButtonPlumbedToJS accepts.
var claimableKeys = map[KeyCode]bool{
	KeyVolumeDown: true,
	KeyVolumeUp:   true,
	KeyBack:       true,
	KeyMenu:       true,
}

// ErrUnsupportedKeyCode is returned when a caller tries to claim a key
// outside the claimable set. This is a caller defect, not a runtime
// condition.
var ErrUnsupportedKeyCode = errors.New("webbridge: unsupported key code")
