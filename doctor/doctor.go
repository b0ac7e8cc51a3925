package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"inboxpal/audio"
	"inboxpal/backend"
	"inboxpal/clipboard"
	"inboxpal/hotkey"
	"inboxpal/recorder"
	"inboxpal/session"
)

// Check is one diagnostic. Optional checks warn instead of failing.
type Check struct {
	Name     string
	Optional bool
	Run      func(ctx context.Context) (string, error)
}

// Run executes checks in order and returns an exit code (0=all pass,
// 1=any required check failed).
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	fmt.Fprintln(w, "inboxpal doctor - system diagnostics")
	fmt.Fprintln(w, "====================================")

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.Name)
		msg, err := c.Run(ctx)
		switch {
		case err == nil:
			fmt.Fprintf(w, "  PASS: %s\n", msg)
		case c.Optional:
			fmt.Fprintf(w, "  WARN: %v\n", err)
		default:
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			allPass = false
		}
	}

	fmt.Fprintln(w)
	if allPass {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintln(w, "Some checks failed. See details above.")
	return 1
}

type Deps struct {
	Backend *backend.Client
	Store   *session.Store
	Audio   audio.Context
	Device  *audio.DeviceInfo
	// Listen is how long the microphone check captures for.
	Listen time.Duration
}

// Checks returns the standard diagnostic set.
func Checks(d Deps) []Check {
	return []Check{
		{Name: "Backend reachability", Run: func(ctx context.Context) (string, error) {
			return checkBackend(ctx, d.Backend)
		}},
		{Name: "Session store", Run: func(context.Context) (string, error) {
			return checkSession(d.Store)
		}},
		{Name: "Capture devices", Run: func(context.Context) (string, error) {
			return checkDevices(d.Audio)
		}},
		{Name: "Microphone", Run: func(ctx context.Context) (string, error) {
			return checkMicrophone(ctx, d.Audio, d.Device, d.Listen)
		}},
		{Name: "Global hotkey", Optional: true, Run: func(context.Context) (string, error) {
			return hotkey.Diagnose()
		}},
		{Name: "Clipboard", Optional: true, Run: func(context.Context) (string, error) {
			return checkClipboard()
		}},
	}
}

func checkBackend(ctx context.Context, c *backend.Client) (string, error) {
	if c == nil {
		return "", errors.New("no backend configured")
	}
	status, rtt, err := c.Health(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.BaseURL(), err)
	}
	return fmt.Sprintf("%s reports %q in %dms", c.BaseURL(), status, rtt.Milliseconds()), nil
}

func checkSession(s *session.Store) (string, error) {
	if s == nil {
		return "", errors.New("session store not opened")
	}
	_, bundle, err := s.Snapshot()
	if errors.Is(err, session.ErrNotLoggedIn) {
		return "readable, not logged in (run: inboxpal login)", nil
	}
	if err != nil {
		return "", err
	}
	if bundle == nil {
		return "logged in, credential bundle missing (run: inboxpal login)", nil
	}
	return fmt.Sprintf("logged in, %d scope(s) granted", len(bundle.Scopes)), nil
}

func checkDevices(ctx audio.Context) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("%w: audio system not available", audio.ErrDeviceUnavailable)
	}
	devices, err := ctx.Devices()
	if err != nil {
		return "", fmt.Errorf("cannot list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", errors.New("no capture devices found")
	}
	return fmt.Sprintf("%d capture device(s), first: %s", len(devices), devices[0].Name), nil
}

func checkMicrophone(ctx context.Context, actx audio.Context, device *audio.DeviceInfo, listen time.Duration) (string, error) {
	if actx == nil {
		return "", fmt.Errorf("%w: audio system not available", audio.ErrDeviceUnavailable)
	}
	if listen <= 0 {
		listen = time.Second
	}
	h, err := audio.NewAdapter(actx, device, audio.DefaultConfig).Open()
	if err != nil {
		return "", err
	}

	timer := time.NewTimer(listen)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	h.Stop()

	var chunks, size int
	var peak float64
	for c := range h.Chunks() {
		chunks++
		size += len(c)
		peak = max(peak, recorder.RMS(c))
	}
	if chunks == 0 {
		return "", fmt.Errorf("no audio from %s in %s", h.DeviceName(), listen)
	}
	return fmt.Sprintf("%s: %d chunks, %.1f KB, peak level %.2f", h.DeviceName(), chunks, float64(size)/1024, peak), nil
}

func checkClipboard() (string, error) {
	const sentinel = "inboxpal-doctor-check"
	prev, _ := clipboard.Read()
	if err := clipboard.Copy(sentinel); err != nil {
		return "", fmt.Errorf("copy failed: %w", err)
	}
	got, err := clipboard.Read()
	if prev != "" {
		_ = clipboard.Copy(prev)
	}
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if got != sentinel {
		return "", fmt.Errorf("read back %q, want %q", got, sentinel)
	}
	return "copy and read verified", nil
}
