package doctor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inboxpal/audio"
	"inboxpal/backend"
	"inboxpal/session"
)

func TestRunExitCodes(t *testing.T) {
	ok := Check{Name: "ok", Run: func(context.Context) (string, error) { return "fine", nil }}
	warn := Check{Name: "warn", Optional: true, Run: func(context.Context) (string, error) { return "", errors.New("meh") }}
	fail := Check{Name: "fail", Run: func(context.Context) (string, error) { return "", errors.New("broken") }}

	var buf bytes.Buffer
	if code := Run(context.Background(), &buf, []Check{ok, warn}); code != 0 {
		t.Errorf("optional failure: exit %d, want 0", code)
	}
	out := buf.String()
	for _, want := range []string{"[1/2] ok", "PASS: fine", "WARN: meh", "All checks passed!"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if code := Run(context.Background(), &buf, []Check{fail, ok}); code != 1 {
		t.Errorf("required failure: exit %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "FAIL: broken") || !strings.Contains(buf.String(), "[2/2] ok") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestCheckBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"healthy"}`)
	}))
	defer srv.Close()
	c, err := backend.New(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := checkBackend(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, `"healthy"`) {
		t.Errorf("msg = %q", msg)
	}
	if _, err := checkBackend(context.Background(), nil); err == nil {
		t.Error("nil client should fail")
	}
}

func TestCheckSession(t *testing.T) {
	kv, err := session.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	msg, err := checkSession(session.NewStore(kv, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, "not logged in") {
		t.Errorf("msg = %q", msg)
	}

	if err := kv.Set(session.TokenSlot, "T1"); err != nil {
		t.Fatal(err)
	}
	msg, err = checkSession(session.NewStore(kv, nil))
	if err != nil || !strings.Contains(msg, "bundle missing") {
		t.Errorf("got %q, %v", msg, err)
	}
}

func TestCheckMicrophone(t *testing.T) {
	fc := audio.NewFakeContext()

	// No audio arrives from a silent fake within the window.
	if _, err := checkMicrophone(context.Background(), fc, nil, 10*time.Millisecond); err == nil {
		t.Error("expected failure with no chunks")
	}

	go func() {
		for pushed := 0; pushed < 3; time.Sleep(time.Millisecond) {
			if fc.Opens() >= 2 {
				pushed += fc.Last().PushN(1)
			}
		}
	}()
	msg, err := checkMicrophone(context.Background(), fc, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, "3 chunks") {
		t.Errorf("msg = %q", msg)
	}

	fc.FailOpen(errors.New("denied"))
	if _, err := checkMicrophone(context.Background(), fc, nil, time.Millisecond); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("got %v", err)
	}
}

func TestCheckDevices(t *testing.T) {
	msg, err := checkDevices(audio.NewFakeContext())
	if err != nil || !strings.Contains(msg, "1 capture device") {
		t.Errorf("got %q, %v", msg, err)
	}
	if _, err := checkDevices(nil); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("nil context: %v", err)
	}
}
