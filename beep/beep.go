package beep

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const sampleRate = 44100

// Cue is a short mono PCM16 sound.
type Cue []byte

type tone struct {
	freq, dur, volume, decay float64
}

var (
	startTone = tone{freq: 1200, dur: 0.12, volume: 0.5, decay: 60}
	endTone   = tone{freq: 900, dur: 0.15, volume: 0.5, decay: 40}
	errorTone = tone{freq: 350, dur: 0.08, volume: 0.6, decay: 30}
)

var (
	startCue = render(startTone)
	endCue   = render(endTone)
	errorCue = twice(render(errorTone), 0.05)
)

func render(t tone) Cue {
	n := int(sampleRate * t.dur)
	buf := make(Cue, n*2)
	for i := range n {
		x := float64(i) / sampleRate
		s := int16(math.Sin(2*math.Pi*t.freq*x) * 32767 * t.volume * math.Exp(-x*t.decay))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func twice(c Cue, gap float64) Cue {
	silence := make(Cue, int(sampleRate*gap)*2)
	out := make(Cue, 0, len(c)*2+len(silence))
	out = append(out, c...)
	out = append(out, silence...)
	return append(out, c...)
}

func PlayStart() { play(startCue) }
func PlayEnd()   { play(endCue) }
func PlayError() { play(errorCue) }

func play(c Cue) {
	if disabled.Load() || len(c) == 0 {
		return
	}
	go playCue(c)
}
