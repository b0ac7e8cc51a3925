package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxpal/audio"
	"inboxpal/transcriber"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    int
	payloads []audio.Payload
	text     string
	err      error
	block    chan struct{}
}

func (f *fakeDispatcher) DispatchAudio(ctx context.Context, p audio.Payload) (transcriber.Result, error) {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, p)
	block := f.block
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return transcriber.Result{}, err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return transcriber.Result{}, ctx.Err()
		}
	}
	return transcriber.Result{Text: f.text}, f.err
}

func (f *fakeDispatcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu     sync.Mutex
	states []State
	levels int
}

func (r *recordingSink) StateChanged(ev Event) {
	r.mu.Lock()
	r.states = append(r.states, ev.State)
	r.mu.Unlock()
}

func (r *recordingSink) AudioLevel(float64) {
	r.mu.Lock()
	r.levels++
	r.mu.Unlock()
}

func (r *recordingSink) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

func (r *recordingSink) Snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type harness struct {
	fc   *audio.FakeContext
	disp *fakeDispatcher
	sink *recordingSink
	s    *Session
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		fc:   audio.NewFakeContext(),
		disp: &fakeDispatcher{text: "hello"},
		sink: &recordingSink{},
	}
	adapter := audio.NewAdapter(h.fc, nil, audio.DefaultConfig)
	h.s = New(adapter, h.disp, append([]Option{WithSink(h.sink)}, opts...)...)
	return h
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRecordStopDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	assert.Equal(t, Recording, h.s.State())

	dev := h.fc.Last()
	for i, n := range []int{10, 20, 5} {
		buf := make([]byte, n)
		buf[0] = byte(i + 1)
		require.True(t, dev.Push(buf))
	}
	require.True(t, h.s.Stop())
	require.NoError(t, h.s.Wait(ctx))

	st := h.s.Status()
	assert.Equal(t, Done, st.State)
	assert.Equal(t, "hello", st.Transcript)
	assert.Equal(t, StopManual, st.StopReason)
	assert.Equal(t, 3, st.Chunks)

	require.Equal(t, 1, h.disp.Calls())
	p := h.disp.payloads[0]
	assert.Equal(t, 35, p.Len())
	assert.Equal(t, byte(1), p.Data[0])
	assert.Equal(t, byte(2), p.Data[10])
	assert.Equal(t, byte(3), p.Data[30])
	assert.Equal(t, audio.PCMContentType, p.ContentType)

	assert.Equal(t, []State{Recording, Assembling, Dispatching, Done}, h.sink.Snapshot())
	assert.Equal(t, 3, h.sink.levels)
	assert.Equal(t, 1, dev.Stops())
	assert.Equal(t, 1, dev.Closes())
}

func TestZeroChunksEmptyRecording(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	h.s.Stop()
	err := h.s.Wait(ctx)

	assert.ErrorIs(t, err, ErrEmptyRecording)
	assert.Equal(t, Failed, h.s.State())
	assert.Empty(t, h.s.Transcript())
	assert.Zero(t, h.disp.Calls())
	assert.Equal(t, []State{Recording, Assembling, Failed}, h.sink.Snapshot())
}

func TestTimeoutStops(t *testing.T) {
	h := newHarness(t, WithMaxDuration(30*time.Millisecond))
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	h.fc.Last().PushN(2)
	require.NoError(t, h.s.Wait(ctx))

	st := h.s.Status()
	assert.Equal(t, Done, st.State)
	assert.Equal(t, StopTimeout, st.StopReason)
	assert.Equal(t, 1, h.fc.Last().Stops())
	assert.False(t, h.s.Stop(), "stop after timeout should be a no-op")
}

func TestTimeoutAndManualStopRace(t *testing.T) {
	for range 20 {
		h := newHarness(t, WithMaxDuration(time.Millisecond))
		ctx := waitCtx(t)

		require.NoError(t, h.s.Start(ctx))
		dev := h.fc.Last()
		dev.PushN(1)

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.s.Stop()
			}()
		}
		wg.Wait()
		// The timer may win before the chunk lands, so the outcome is
		// either Done or an empty recording.
		_ = h.s.Wait(ctx)

		assert.Equal(t, 1, dev.Stops())
		assert.Equal(t, 1, dev.Closes())
		assert.Equal(t, 1, h.sink.count(Assembling))
		assert.LessOrEqual(t, h.disp.Calls(), 1)
	}
}

func TestImmediateTimeout(t *testing.T) {
	for range 200 {
		h := newHarness(t, WithMaxDuration(time.Nanosecond))
		ctx := waitCtx(t)

		require.NoError(t, h.s.Start(ctx))
		_ = h.s.Wait(ctx)

		assert.Equal(t, StopTimeout, h.s.Status().StopReason)
		assert.Equal(t, 1, h.fc.Last().Stops())
	}
}

func TestManualStopCancelsTimer(t *testing.T) {
	h := newHarness(t, WithMaxDuration(50*time.Millisecond))
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	h.fc.Last().PushN(1)
	h.s.Stop()
	require.NoError(t, h.s.Wait(ctx))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StopManual, h.s.Status().StopReason)
	assert.Equal(t, 1, h.sink.count(Assembling))
}

func TestStartWhileRecordingBusy(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	h.fc.Last().PushN(1)

	assert.ErrorIs(t, h.s.Start(ctx), ErrBusy)
	assert.Equal(t, Recording, h.s.State())
	assert.Equal(t, 1, h.fc.Opens())

	h.s.Stop()
	require.NoError(t, h.s.Wait(ctx))
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.fc.FailOpen(errors.New("permission denied"))

	err := h.s.Start(waitCtx(t))
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.Equal(t, Failed, h.s.State())
	assert.ErrorIs(t, h.s.Err(), audio.ErrDeviceUnavailable)
	assert.Equal(t, []State{Failed}, h.sink.Snapshot())

	// A failed start must not wedge the session.
	h.fc.FailOpen(nil)
	require.NoError(t, h.s.Start(waitCtx(t)))
	h.s.Stop()
}

func TestDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.disp.err = errors.New("backend down")
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	h.fc.Last().PushN(1)
	h.s.Stop()

	err := h.s.Wait(ctx)
	assert.EqualError(t, err, "backend down")
	assert.Equal(t, Failed, h.s.State())
	assert.Empty(t, h.s.Transcript())
}

func TestToggle(t *testing.T) {
	h := newHarness(t)
	h.disp.block = make(chan struct{})
	ctx := waitCtx(t)

	require.NoError(t, h.s.Toggle(ctx))
	assert.Equal(t, Recording, h.s.State())
	h.fc.Last().PushN(1)

	require.NoError(t, h.s.Toggle(ctx))
	require.Eventually(t, func() bool { return h.s.State() == Dispatching }, time.Second, time.Millisecond)

	// Pressing again while dispatching changes nothing.
	require.NoError(t, h.s.Toggle(ctx))
	assert.Equal(t, Dispatching, h.s.State())
	assert.Equal(t, 1, h.fc.Opens())
	assert.ErrorIs(t, h.s.Start(ctx), ErrBusy)

	close(h.disp.block)
	require.NoError(t, h.s.Wait(ctx))
	assert.Equal(t, Done, h.s.State())
}

func TestNewRecordingClearsTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	h.fc.Last().PushN(1)
	h.s.Stop()
	require.NoError(t, h.s.Wait(ctx))
	require.Equal(t, "hello", h.s.Transcript())

	require.NoError(t, h.s.Start(ctx))
	assert.Empty(t, h.s.Transcript())
	assert.NoError(t, h.s.Err())
	h.s.Stop()
	assert.ErrorIs(t, h.s.Wait(ctx), ErrEmptyRecording)
}

func TestLateChunksDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.s.Start(ctx))
	dev := h.fc.Last()
	dev.PushN(2)
	h.s.Stop()
	assert.False(t, dev.Push(make([]byte, 100)))
	require.NoError(t, h.s.Wait(ctx))

	assert.Equal(t, 2*3200, h.disp.payloads[0].Len())
}

func TestContextCancelStops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.s.Start(ctx))
	h.fc.Last().PushN(1)
	cancel()

	require.ErrorIs(t, h.s.Wait(waitCtx(t)), context.Canceled)
	assert.Equal(t, StopCancelled, h.s.Status().StopReason)
	assert.Equal(t, 1, h.fc.Last().Stops())
}

func TestWaitIdle(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.s.Wait(waitCtx(t)))
	assert.False(t, h.s.Stop())
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS(make(audio.Chunk, 64)))
	loud := audio.Chunk{0xff, 0x7f, 0x00, 0x80} // 32767, -32768
	assert.InDelta(t, 1.0, RMS(loud), 0.001)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "dispatching", Dispatching.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Assembling.Terminal())
}
