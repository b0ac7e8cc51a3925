package main

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"inboxpal/beep"
	"inboxpal/recorder"
)

// multiSink fans recorder events out to every display layer.
type multiSink []recorder.EventSink

func (m multiSink) StateChanged(ev recorder.Event) {
	for _, s := range m {
		s.StateChanged(ev)
	}
}

func (m multiSink) AudioLevel(rms float64) {
	for _, s := range m {
		s.AudioLevel(rms)
	}
}

type countingSink struct{ n *atomic.Int64 }

func (c countingSink) StateChanged(ev recorder.Event) {
	if ev.State == recorder.Done && ev.Transcript != "" {
		c.n.Add(1)
	}
}

func (countingSink) AudioLevel(float64) {}

// cueSink plays the start/stop/error sounds.
type cueSink struct{}

func (cueSink) StateChanged(ev recorder.Event) {
	switch ev.State {
	case recorder.Recording:
		beep.PlayStart()
	case recorder.Assembling:
		beep.PlayEnd()
	case recorder.Failed:
		beep.PlayError()
	}
}

func (cueSink) AudioLevel(float64) {}

type stateMsg recorder.Event
type levelMsg float64

// tuiSink forwards events into a running bubbletea program. Events that
// arrive before the program is attached are dropped.
type tuiSink struct {
	p atomic.Pointer[tea.Program]
}

func (t *tuiSink) attach(p *tea.Program) { t.p.Store(p) }

func (t *tuiSink) StateChanged(ev recorder.Event) {
	if p := t.p.Load(); p != nil {
		p.Send(stateMsg(ev))
	}
}

func (t *tuiSink) AudioLevel(rms float64) {
	if p := t.p.Load(); p != nil {
		p.Send(levelMsg(rms))
	}
}
