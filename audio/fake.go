package audio

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"inboxpal/encoder"
)

// fakeChunkBytes is 100ms of 16 kHz mono PCM16.
const fakeChunkBytes = encoder.SampleRate / 10 * 2

// FakeContext is a scriptable capture backend. Chunks are either pushed
// by the caller or replayed from a WAV file when the capture starts.
type FakeContext struct {
	pcm      []byte
	realtime bool
	devices  []DeviceInfo

	mu       sync.Mutex
	openErr  error
	startErr error
	captures []*FakeCapture
}

func NewFakeContext() *FakeContext {
	return &FakeContext{devices: []DeviceInfo{{ID: "fake", Name: "fake"}}}
}

func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > encoder.WAVHeaderSize {
		data = data[encoder.WAVHeaderSize:]
	}
	f := NewFakeContext()
	f.pcm = data
	f.realtime = realtime
	return f, nil
}

// FailOpen makes subsequent NewCapture calls fail with err.
func (f *FakeContext) FailOpen(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

// FailStart makes subsequent captures fail in Start with err.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return f.devices, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	name := "fake"
	if device != nil {
		name = device.Name
	}
	c := &FakeCapture{
		name:      name,
		pcm:       f.pcm,
		realtime:  f.realtime,
		startErr:  f.startErr,
		audioDone: make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	return c, nil
}

// Opens returns how many captures have been created.
func (f *FakeContext) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.captures)
}

// Last returns the most recently created capture, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

type FakeCapture struct {
	name      string
	pcm       []byte
	realtime  bool
	startErr  error
	audioDone chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	feedDone  chan struct{}

	mu sync.Mutex
	cb DataCallback

	starts atomic.Int32
	stops  atomic.Int32
	closes atomic.Int32
}

// AudioDone is closed once the replayed WAV has been fully delivered, or
// on Start when there is nothing to replay.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) Starts() int { return int(f.starts.Load()) }
func (f *FakeCapture) Stops() int  { return int(f.stops.Load()) }
func (f *FakeCapture) Closes() int { return int(f.closes.Load()) }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

// Push delivers data as one chunk. It reports false when no callback is
// installed, i.e. the capture was never started or has been stopped.
func (f *FakeCapture) Push(data []byte) bool {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(data, uint32(len(data)/2))
	return true
}

// PushN delivers n chunks of 100ms silence.
func (f *FakeCapture) PushN(n int) int {
	sent := 0
	for range n {
		if f.Push(make([]byte, fakeChunkBytes)) {
			sent++
		}
	}
	return sent
}

func (f *FakeCapture) replay() {
	for pos := 0; pos < len(f.pcm); {
		end := min(pos+fakeChunkBytes, len(f.pcm))
		f.Push(f.pcm[pos:end])
		pos = end
		if f.realtime {
			select {
			case <-f.stopCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	close(f.audioDone)
}

func (f *FakeCapture) Start() error {
	f.starts.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	if len(f.pcm) == 0 {
		close(f.audioDone)
		return nil
	}
	if !f.realtime {
		f.replay()
		return nil
	}
	f.feedDone = make(chan struct{})
	go func() {
		defer close(f.feedDone)
		f.replay()
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.stops.Add(1)
	f.stopOnce.Do(func() { close(f.stopCh) })
	if f.feedDone != nil {
		<-f.feedDone
	}
}

func (f *FakeCapture) Close() { f.closes.Add(1) }
