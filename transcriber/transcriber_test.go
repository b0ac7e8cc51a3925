package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"inboxpal/audio"
	"inboxpal/backend"
)

func newDispatcher(t *testing.T, format string, h http.HandlerFunc) (*Dispatcher, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := backend.New(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return New(c, format), &hits
}

func TestDispatchAudioRawUpload(t *testing.T) {
	var gotName, gotType string
	var gotLen int
	d, _ := newDispatcher(t, "raw", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/transcribe" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad", 400)
			return
		}
		data, _ := io.ReadAll(f)
		gotLen, gotName, gotType = len(data), hdr.Filename, hdr.Header.Get("Content-Type")
		io.WriteString(w, `{"transcript":"hello"}`)
	})

	chunks := []audio.Chunk{make([]byte, 10), make([]byte, 20), make([]byte, 5)}
	res, err := d.DispatchAudio(context.Background(), audio.Assemble(chunks, audio.PCMContentType))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q, want hello", res.Text)
	}
	if gotLen != 35 {
		t.Errorf("uploaded %d bytes, want 35", gotLen)
	}
	if gotName != "recording.pcm" {
		t.Errorf("filename = %q", gotName)
	}
	if gotType != audio.PCMContentType {
		t.Errorf("content type = %q", gotType)
	}
	if res.Metrics == nil || res.Metrics.Total <= 0 {
		t.Error("expected network metrics on result")
	}
}

func TestDispatchAudioFlac(t *testing.T) {
	d, _ := newDispatcher(t, "flac", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "bad", 400)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "recording.flac" || string(data[:4]) != "fLaC" {
			t.Errorf("got %q with magic %q", hdr.Filename, data[:4])
		}
		io.WriteString(w, `{"transcript":"flac ok"}`)
	})

	res, err := d.DispatchAudio(context.Background(), audio.Payload{Data: make([]byte, 3200), ContentType: audio.PCMContentType})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "flac ok" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestDispatchAudioPassThrough(t *testing.T) {
	d, _ := newDispatcher(t, "flac", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "bad", 400)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "recording.webm" || string(data) != "opusdata" {
			t.Errorf("got %q %q", hdr.Filename, data)
		}
		io.WriteString(w, `{"transcript":""}`)
	})

	res, err := d.DispatchAudio(context.Background(), audio.Payload{Data: []byte("opusdata"), ContentType: "audio/webm;codecs=opus"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestDispatchAudioStatusError(t *testing.T) {
	d, _ := newDispatcher(t, "raw", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := d.DispatchAudio(context.Background(), audio.Payload{Data: []byte{1, 2}, ContentType: audio.PCMContentType})
	var se *backend.StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Fatalf("got %v, want StatusError 500", err)
	}
}

func TestDispatchMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"text":"hi"}`, `{"transcript":5}`} {
		t.Run(body, func(t *testing.T) {
			d, _ := newDispatcher(t, "raw", func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			})
			_, err := d.DispatchText(context.Background(), "read my mail")
			if !errors.Is(err, backend.ErrMalformedResponse) {
				t.Errorf("got %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestDispatchTextSendsBody(t *testing.T) {
	d, _ := newDispatcher(t, "flac", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/process-text" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		io.WriteString(w, `{"transcript":"you said `+in["text"]+`"}`)
	})

	res, err := d.DispatchText(context.Background(), "check unread")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "you said check unread" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestDispatchTextEmptyNoRequest(t *testing.T) {
	d, hits := newDispatcher(t, "flac", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"transcript":"x"}`)
	})

	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := d.DispatchText(context.Background(), in); !errors.Is(err, ErrNothingToProcess) {
			t.Errorf("DispatchText(%q) = %v, want ErrNothingToProcess", in, err)
		}
	}
	if _, err := d.DispatchAudio(context.Background(), audio.Payload{ContentType: audio.PCMContentType}); !errors.Is(err, ErrNothingToProcess) {
		t.Errorf("empty payload: %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("backend hit %d times, want 0", n)
	}
}

func TestExtension(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"audio/webm;codecs=opus", "webm"},
		{"audio/ogg", "ogg"},
		{"garbage", "bin"},
		{"audio/", "bin"},
	} {
		if got := extension(tt.in); got != tt.want {
			t.Errorf("extension(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
