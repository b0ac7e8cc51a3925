package hotkey

// Label is the chord every backend listens for.
const Label = "Ctrl+Shift+Space"

// Hotkey delivers one value on Presses per chord press. Presses that
// arrive while the previous one is unconsumed are dropped.
type Hotkey interface {
	Register() error
	Unregister()
	Presses() <-chan struct{}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
