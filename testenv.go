package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"inboxpal/audio"
	"inboxpal/hotkey"
	"inboxpal/log"
)

// runTestMode drives the recorder from line commands on in:
//
//	TOGGLE           press the hotkey and wait for the toggle to land
//	PUSH <n>         deliver n synthetic chunks to the open capture device
//	WAIT             block until the recording settles, then report it
//	WAIT_AUDIO_DONE  block until WAV replay has been fully delivered
//	SLEEP <ms>       pause
//	QUIT             exit
//
// Results are written to out one per line.
func runTestMode(ctx context.Context, a *App, fake *audio.FakeContext, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hk := hotkey.NewFake()
	if err := hk.Register(); err != nil {
		return err
	}
	defer hk.Unregister()

	toggled := make(chan error)
	go func() {
		for {
			select {
			case <-hk.Presses():
				toggled <- a.rec.Toggle(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "":
		case "TOGGLE":
			hk.Press()
			select {
			case err := <-toggled:
				if err != nil {
					fmt.Fprintln(out, "ERROR", UserMessage(err))
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		case "PUSH":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				fmt.Fprintln(out, "ERROR bad chunk count", arg)
				continue
			}
			dev := fake.Last()
			pushed := 0
			if dev != nil {
				pushed = dev.PushN(n)
			}
			fmt.Fprintln(out, "PUSHED", pushed)
		case "WAIT":
			err := a.rec.Wait(ctx)
			st := a.rec.Status()
			fmt.Fprintln(out, "STATE", st.State)
			if err != nil {
				fmt.Fprintln(out, "ERROR", UserMessage(err))
				continue
			}
			fmt.Fprintln(out, "TRANSCRIPT", st.Transcript)
		case "WAIT_AUDIO_DONE":
			if dev := fake.Last(); dev != nil {
				select {
				case <-dev.AudioDone():
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return nil
		default:
			log.Warnf("test mode: unknown command %q", cmd)
			fmt.Fprintln(out, "UNKNOWN", cmd)
		}
	}
	return scanner.Err()
}
