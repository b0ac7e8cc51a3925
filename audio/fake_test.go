package audio

import (
	"os"
	"path/filepath"
	"testing"

	"inboxpal/encoder"
)

func writeWAV(t *testing.T, pcm []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	data := append(encoder.WAVHeader(len(pcm)), pcm...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFakeReplaysWAV(t *testing.T) {
	pcm := make([]byte, fakeChunkBytes*2+100)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	fc, err := NewFakeContextFromWAV(writeWAV(t, pcm), false)
	if err != nil {
		t.Fatal(err)
	}

	h, err := NewAdapter(fc, nil, DefaultConfig).Open()
	if err != nil {
		t.Fatal(err)
	}
	<-fc.Last().AudioDone()
	h.Stop()

	chunks := drain(h)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	got := Assemble(chunks, PCMContentType).Data
	if string(got) != string(pcm) {
		t.Error("replayed audio differs from source")
	}
}

func TestFakeRealtimeStopsEarly(t *testing.T) {
	pcm := make([]byte, fakeChunkBytes*50)
	fc, err := NewFakeContextFromWAV(writeWAV(t, pcm), true)
	if err != nil {
		t.Fatal(err)
	}

	h, err := NewAdapter(fc, nil, DefaultConfig).Open()
	if err != nil {
		t.Fatal(err)
	}
	h.Stop()

	if n := len(drain(h)); n >= 50 {
		t.Errorf("realtime replay delivered %d chunks before stop", n)
	}
}

func TestFakeMissingWAV(t *testing.T) {
	if _, err := NewFakeContextFromWAV(filepath.Join(t.TempDir(), "nope.wav"), false); err == nil {
		t.Fatal("expected error for missing file")
	}
}
