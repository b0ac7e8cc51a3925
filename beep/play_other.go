//go:build !linux

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	playMu   sync.Mutex
	initOnce sync.Once
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	current  atomic.Pointer[Cue]
	position atomic.Uint32
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(mctx.Context, config, malgo.DeviceCallbacks{Data: fill})
	return err
}

func fill(out, _ []byte, frameCount uint32) {
	clear(out)
	c := current.Load()
	if c == nil {
		return
	}
	pos := position.Load()
	if int(pos) >= len(*c) {
		current.Store(nil)
		return
	}
	n := copy(out[:frameCount*2], (*c)[pos:])
	position.Store(pos + uint32(n))
}

func playCue(c Cue) {
	initOnce.Do(func() {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return
		}
		mctx = ctx
		if err := initDevice(); err != nil {
			_ = mctx.Uninit()
			mctx = nil
		}
	})
	if mctx == nil {
		return
	}

	playMu.Lock()
	defer playMu.Unlock()

	_ = device.Stop()
	position.Store(0)
	current.Store(&c)
	if err := device.Start(); err != nil {
		// The device can go stale after sleep/wake; rebuild it once.
		device.Uninit()
		if initDevice() != nil || device.Start() != nil {
			current.Store(nil)
		}
	}
}
