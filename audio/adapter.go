package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const chunkBuffer = 1024

// Adapter hands out at most one open Handle at a time.
type Adapter struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig
	busy   atomic.Bool
}

func NewAdapter(ctx Context, device *DeviceInfo, config CaptureConfig) *Adapter {
	return &Adapter{ctx: ctx, device: device, config: config}
}

func (a *Adapter) DeviceName() string {
	if a.device != nil {
		return a.device.Name
	}
	return "system default"
}

// Busy reports whether a handle is currently open.
func (a *Adapter) Busy() bool { return a.busy.Load() }

func (a *Adapter) Open() (*Handle, error) {
	if a.ctx == nil {
		return nil, fmt.Errorf("%w: no audio context", ErrDeviceUnavailable)
	}
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}

	dev, err := a.ctx.NewCapture(a.device, a.config)
	if err != nil {
		a.busy.Store(false)
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	h := &Handle{
		dev:     dev,
		chunks:  make(chan Chunk, chunkBuffer),
		release: func() { a.busy.Store(false) },
	}
	dev.SetCallback(h.deliver)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		a.busy.Store(false)
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return h, nil
}

// Handle is one open capture. Chunks arrive on Chunks() until Stop.
type Handle struct {
	dev     CaptureDevice
	chunks  chan Chunk
	release func()

	mu      sync.Mutex
	stopped bool
	dropped int
	once    sync.Once
}

func (h *Handle) Chunks() <-chan Chunk { return h.chunks }

func (h *Handle) DeviceName() string { return h.dev.DeviceName() }

// Dropped counts chunks lost to a full buffer.
func (h *Handle) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Handle) deliver(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	c := make(Chunk, len(data))
	copy(c, data)
	select {
	case h.chunks <- c:
	default:
		h.dropped++
	}
}

// Stop closes the device and the chunk channel. Safe to call repeatedly.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		h.stopped = true
		close(h.chunks)
		h.mu.Unlock()

		h.dev.ClearCallback()
		h.dev.Stop()
		h.dev.Close()
		h.release()
	})
}
