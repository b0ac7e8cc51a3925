package hotkey

import "testing"

func TestChord(t *testing.T) {
	type ev struct {
		code  uint16
		value int32
	}
	tests := []struct {
		name   string
		events []ev
		want   int
	}{
		{"ctrl shift space", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}}, 1},
		{"right modifiers", []ev{{keyRShift, 1}, {keyRCtrl, 1}, {keySpace, 1}}, 1},
		{"space alone", []ev{{keySpace, 1}, {keySpace, 0}}, 0},
		{"missing shift", []ev{{keyLCtrl, 1}, {keySpace, 1}}, 0},
		{"autorepeat counts once", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}, {keySpace, 2}, {keySpace, 2}}, 1},
		{"two presses", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}, {keySpace, 0}, {keySpace, 1}}, 2},
		{"released modifier", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keyLShift, 0}, {keySpace, 1}}, 0},
		{"modifier repeat keeps state", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keyLCtrl, 2}, {keySpace, 1}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c chord
			got := 0
			for _, e := range tt.events {
				if c.feed(e.code, e.value) {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("got %d presses, want %d", got, tt.want)
			}
		})
	}
}

func TestFakePressCoalesces(t *testing.T) {
	f := NewFake()
	if err := f.Register(); err != nil {
		t.Fatal(err)
	}
	f.Press()
	f.Press()
	<-f.Presses()
	select {
	case <-f.Presses():
		t.Error("second unconsumed press should be dropped")
	default:
	}
}
