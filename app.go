package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"inboxpal/audio"
	"inboxpal/authed"
	"inboxpal/backend"
	"inboxpal/config"
	"inboxpal/log"
	"inboxpal/mail"
	"inboxpal/recorder"
	"inboxpal/session"
	"inboxpal/transcriber"
)

// App holds the wired components for one invocation. Audio fields are
// nil for commands that never touch the microphone.
type App struct {
	cfg    *config.Config
	client *backend.Client
	disp   *transcriber.Dispatcher
	store  *session.Store
	exec   *authed.Executor
	mail   *mail.Client

	audioCtx audio.Context
	device   *audio.DeviceInfo
	adapter  *audio.Adapter
	rec      *recorder.Session

	transcripts atomic.Int64
}

type appOptions struct {
	// audio enables the capture stack. When audioCtx is nil the platform
	// backend is opened.
	audio       bool
	audioCtx    audio.Context
	sinks       []recorder.EventSink
	maxDuration time.Duration
}

func newApp(cfg *config.Config, opts appOptions) (*App, error) {
	client, err := backend.New(cfg.BackendURL, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	client.SetUserAgent("inboxpal/" + version)

	kv, err := session.OpenKV(cfg.Store, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	store := session.NewStore(kv, client)
	exec := authed.New(client, store)

	a := &App{
		cfg:    cfg,
		client: client,
		disp:   transcriber.New(client, cfg.UploadFormat),
		store:  store,
		exec:   exec,
		mail:   mail.New(exec),
	}
	if !opts.audio {
		return a, nil
	}

	if err := a.openAudio(opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openAudio(opts appOptions) error {
	actx := opts.audioCtx
	if actx == nil {
		var err error
		actx, err = audio.NewContext()
		if err != nil {
			return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
	}
	a.audioCtx = actx

	dev, err := audio.FindDevice(actx, a.cfg.Device)
	if err != nil {
		return err
	}
	a.device = dev
	a.adapter = audio.NewAdapter(actx, dev, audio.DefaultConfig)

	sinks := append([]recorder.EventSink{countingSink{&a.transcripts}}, opts.sinks...)
	ropts := []recorder.Option{recorder.WithSink(multiSink(sinks))}
	if opts.maxDuration > 0 {
		ropts = append(ropts, recorder.WithMaxDuration(opts.maxDuration))
	}
	a.rec = recorder.New(a.adapter, a.disp, ropts...)
	log.Infof("capture device: %s", a.adapter.DeviceName())
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.rec != nil && a.rec.Stop() {
		// Let the in-flight recording release the device before the
		// audio context goes away.
		waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.rec.Wait(waitCtx)
		cancel()
	}
	if a.audioCtx != nil {
		a.audioCtx.Close()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// Transcripts reports how many recordings produced a transcript.
func (a *App) Transcripts() int { return int(a.transcripts.Load()) }
