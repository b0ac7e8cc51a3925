package hotkey

type FakeHotkey struct {
	presses    chan struct{}
	registered bool
	err        error
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{presses: make(chan struct{}, 1)}
}

// FailRegister makes Register return err.
func (f *FakeHotkey) FailRegister(err error) { f.err = err }

func (f *FakeHotkey) Register() error {
	if f.err != nil {
		return f.err
	}
	f.registered = true
	return nil
}

func (f *FakeHotkey) Unregister()              { f.registered = false }
func (f *FakeHotkey) Presses() <-chan struct{} { return f.presses }

func (f *FakeHotkey) Press() { notify(f.presses) }
