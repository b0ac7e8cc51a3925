package recorder

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"inboxpal/audio"
	"inboxpal/encoder"
	"inboxpal/log"
	"inboxpal/metrics"
	"inboxpal/transcriber"
)

// MaxDuration is the auto-stop limit for a single recording.
const MaxDuration = 15 * time.Second

var (
	ErrBusy           = errors.New("a recording is already in progress")
	ErrEmptyRecording = errors.New("no audio captured")
)

type Opener interface {
	Open() (*audio.Handle, error)
}

type Dispatcher interface {
	DispatchAudio(ctx context.Context, p audio.Payload) (transcriber.Result, error)
}

type Event struct {
	State      State
	Elapsed    time.Duration
	Err        error
	Transcript string
}

type EventSink interface {
	StateChanged(ev Event)
	AudioLevel(rms float64)
}

type nopSink struct{}

func (nopSink) StateChanged(Event)  {}
func (nopSink) AudioLevel(float64) {}

type Status struct {
	State      State
	Transcript string
	Err        error
	Elapsed    time.Duration
	StopReason StopReason
	Chunks     int
}

type Option func(*Session)

func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) { s.maxDuration = d }
}

func WithSink(sink EventSink) Option {
	return func(s *Session) { s.sink = sink }
}

// Session owns the recording state machine. One goroutine per recording
// drives every transition after Recording; Stop, Toggle and the auto-stop
// timer only request a stop.
type Session struct {
	opener      Opener
	disp        Dispatcher
	sink        EventSink
	maxDuration time.Duration

	mu         sync.Mutex
	state      State
	transcript string
	err        error
	startedAt  time.Time
	elapsed    time.Duration
	chunks     int
	cur        *recording
}

type recording struct {
	handle   *audio.Handle
	timer    *time.Timer
	stopOnce sync.Once
	reason   StopReason
	done     chan struct{}
}

func New(opener Opener, disp Dispatcher, opts ...Option) *Session {
	s := &Session{
		opener:      opener,
		disp:        disp,
		sink:        nopSink{},
		maxDuration: MaxDuration,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// setState must be called with s.mu held.
func (s *Session) setState(to State) Event {
	from := s.state
	s.state = to
	elapsed := s.elapsed
	if to == Recording {
		elapsed = 0
	}
	log.State(from.String(), to.String(), elapsed)
	return Event{State: to, Elapsed: elapsed, Err: s.err, Transcript: s.transcript}
}

func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.transcript, s.err = "", nil
	s.elapsed, s.chunks = 0, 0

	h, err := s.opener.Open()
	if err != nil {
		s.err = err
		s.cur = nil
		ev := s.setState(Failed)
		s.mu.Unlock()

		log.Recording(log.RecordingOutcome{Outcome: "device_unavailable", Err: err})
		metrics.RecordingsTotal.WithLabelValues("device_unavailable").Inc()
		s.sink.StateChanged(ev)
		return err
	}

	rec := &recording{
		handle: h,
		done:   make(chan struct{}),
	}
	s.cur = rec
	s.startedAt = time.Now()
	ev := s.setState(Recording)
	rec.timer = time.AfterFunc(s.maxDuration, func() {
		// Start holds s.mu until rec.timer is assigned.
		s.mu.Lock()
		s.mu.Unlock()
		s.requestStop(rec, StopTimeout)
	})
	s.mu.Unlock()

	log.Infof("recording started on %s", h.DeviceName())
	s.sink.StateChanged(ev)
	go s.run(ctx, rec)
	return nil
}

// requestStop releases the device for rec. Only the first caller wins.
func (s *Session) requestStop(rec *recording, reason StopReason) {
	rec.stopOnce.Do(func() {
		rec.timer.Stop()
		rec.reason = reason
		rec.handle.Stop()
	})
}

// Stop ends the current recording. It reports false when nothing is
// recording.
func (s *Session) Stop() bool {
	s.mu.Lock()
	rec := s.cur
	recording := s.state == Recording
	s.mu.Unlock()
	if !recording || rec == nil {
		return false
	}
	s.requestStop(rec, StopManual)
	return true
}

// Toggle starts a recording from Idle/Done/Failed, stops one in
// progress, and does nothing while a recording is being processed.
func (s *Session) Toggle(ctx context.Context) error {
	switch s.State() {
	case Recording:
		s.Stop()
		return nil
	case Assembling, Dispatching:
		return nil
	}
	err := s.Start(ctx)
	if errors.Is(err, ErrBusy) {
		// Lost a race with another starter; treat the press as handled.
		return nil
	}
	return err
}

func (s *Session) run(ctx context.Context, rec *recording) {
	var chunks []audio.Chunk
	in := rec.handle.Chunks()
	cancelled := ctx.Done()

collect:
	for {
		select {
		case c, ok := <-in:
			if !ok {
				break collect
			}
			chunks = append(chunks, c)
			s.sink.AudioLevel(RMS(c))
		case <-cancelled:
			s.requestStop(rec, StopCancelled)
			cancelled = nil
		}
	}
	// Closed channel means requestStop ran, so the handle is released.

	size := 0
	for _, c := range chunks {
		size += len(c)
	}

	s.mu.Lock()
	s.elapsed = time.Since(s.startedAt)
	s.chunks = len(chunks)
	ev := s.setState(Assembling)
	s.mu.Unlock()
	s.sink.StateChanged(ev)

	outcome := log.RecordingOutcome{
		StopReason: string(rec.reason),
		Chunks:     len(chunks),
		Bytes:      size,
		DurationS:  float64(size) / (encoder.SampleRate * encoder.Channels * encoder.BitsPerSample / 8),
	}
	if dropped := rec.handle.Dropped(); dropped > 0 {
		log.Warnf("capture buffer overflow: %d chunks dropped", dropped)
	}

	if len(chunks) == 0 {
		outcome.Outcome, outcome.Err = "empty", ErrEmptyRecording
		s.finish(rec, outcome, "", ErrEmptyRecording)
		return
	}

	payload := audio.Assemble(chunks, audio.PCMContentType)
	s.mu.Lock()
	ev = s.setState(Dispatching)
	s.mu.Unlock()
	s.sink.StateChanged(ev)

	res, err := s.disp.DispatchAudio(ctx, payload)
	if err != nil {
		outcome.Outcome, outcome.Err = "failed", err
		s.finish(rec, outcome, "", err)
		return
	}
	outcome.Outcome = "done"
	s.finish(rec, outcome, res.Text, nil)
}

func (s *Session) finish(rec *recording, outcome log.RecordingOutcome, text string, err error) {
	s.mu.Lock()
	s.transcript, s.err = text, err
	to := Done
	if err != nil {
		to = Failed
	}
	ev := s.setState(to)
	s.mu.Unlock()

	log.Recording(outcome)
	metrics.RecordingsTotal.WithLabelValues(outcome.Outcome).Inc()
	if err == nil {
		log.TranscriptText(text)
	}
	s.sink.StateChanged(ev)
	close(rec.done)
}

// Wait blocks until the current recording reaches Done or Failed and
// returns its error. It returns immediately when nothing is in flight.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	rec := s.cur
	s.mu.Unlock()
	if rec == nil {
		return s.Err()
	}
	select {
	case <-rec.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:      s.state,
		Transcript: s.transcript,
		Err:        s.err,
		Elapsed:    s.elapsed,
		Chunks:     s.chunks,
	}
	if s.state == Recording {
		st.Elapsed = time.Since(s.startedAt)
	}
	if s.cur != nil && s.state != Recording {
		st.StopReason = s.cur.reason
	}
	return st
}

// RMS returns the normalised loudness of a PCM16 chunk in [0, 1].
func RMS(c audio.Chunk) float64 {
	samples := encoder.Samples(c)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
