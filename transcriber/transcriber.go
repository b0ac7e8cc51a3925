package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"inboxpal/audio"
	"inboxpal/backend"
	"inboxpal/encoder"
	"inboxpal/log"
	"inboxpal/metrics"
)

const (
	transcribePath  = "/api/transcribe"
	processTextPath = "/api/process-text"
)

// ErrNothingToProcess is returned for empty input without contacting the
// backend.
var ErrNothingToProcess = errors.New("nothing to process")

type Result struct {
	Text      string
	Metrics   *backend.NetworkMetrics
	RequestID string
}

// Dispatcher sends finished recordings and typed commands to the backend.
type Dispatcher struct {
	client *backend.Client
	format string // upload encoding for PCM payloads: flac, wav or raw
}

func New(client *backend.Client, format string) *Dispatcher {
	if format == "" {
		format = "flac"
	}
	return &Dispatcher{client: client, format: format}
}

func (d *Dispatcher) Format() string { return d.format }

type transcriptResponse struct {
	Transcript *string `json:"transcript"`
}

func (r *transcriptResponse) Validate() error {
	if r.Transcript == nil {
		return errors.New("missing transcript")
	}
	return nil
}

type upload struct {
	data     []byte
	mime     string
	ext      string
	encodeMs float64
}

func (d *Dispatcher) prepare(p audio.Payload) (upload, error) {
	if !p.IsPCM() || d.format == "raw" {
		return upload{data: p.Data, mime: p.ContentType, ext: extension(p.ContentType)}, nil
	}
	enc, err := encoder.New(d.format)
	if err != nil {
		return upload{}, err
	}
	start := time.Now()
	data, err := encoder.Encode(enc, p.Data)
	if err != nil {
		return upload{}, fmt.Errorf("encoding %s: %w", d.format, err)
	}
	mime, ext := encoder.ContentType(d.format)
	return upload{data: data, mime: mime, ext: ext, encodeMs: msSince(start)}, nil
}

// extension derives a file extension from a MIME type such as
// "audio/webm;codecs=opus".
func extension(contentType string) string {
	_, sub, ok := strings.Cut(contentType, "/")
	if !ok {
		return "bin"
	}
	sub, _, _ = strings.Cut(sub, ";")
	if sub = strings.TrimSpace(sub); sub == "" {
		return "bin"
	}
	return sub
}

func (d *Dispatcher) DispatchAudio(ctx context.Context, p audio.Payload) (Result, error) {
	if p.Len() == 0 {
		return Result{}, ErrNothingToProcess
	}
	start := time.Now()
	up, err := d.prepare(p)
	if err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="recording.%s"`, up.ext))
	h.Set("Content-Type", up.mime)
	part, err := writer.CreatePart(h)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(up.data); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	var out transcriptResponse
	resp, err := d.client.Call(ctx, http.MethodPost, transcribePath, writer.FormDataContentType(), &body, &out)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}
	metrics.ObserveDispatch("audio", time.Since(start))

	m := resp.Metrics
	log.Dispatch(log.DispatchMetrics{
		Kind:        "audio",
		Format:      up.ext,
		RawKB:       float64(p.Len()) / 1024,
		UploadKB:    float64(len(up.data)) / 1024,
		EncodeMs:    up.encodeMs,
		DNSMs:       ms(m.DNS),
		TLSMs:       ms(m.TLS),
		TTFBMs:      ms(m.TTFB),
		TotalMs:     ms(m.Total),
		ConnReused:  m.ConnReused,
		TLSProtocol: m.TLSProtocol,
		RequestID:   resp.RequestID,
	})
	return Result{Text: *out.Transcript, Metrics: m, RequestID: resp.RequestID}, nil
}

func (d *Dispatcher) DispatchText(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrNothingToProcess
	}
	start := time.Now()

	var out transcriptResponse
	resp, err := d.client.PostJSON(ctx, processTextPath, map[string]string{"text": text}, &out)
	if err != nil {
		return Result{}, fmt.Errorf("process text: %w", err)
	}
	metrics.ObserveDispatch("text", time.Since(start))

	m := resp.Metrics
	log.Dispatch(log.DispatchMetrics{
		Kind:       "text",
		RawKB:      float64(len(text)) / 1024,
		TTFBMs:     ms(m.TTFB),
		TotalMs:    ms(m.Total),
		ConnReused: m.ConnReused,
		RequestID:  resp.RequestID,
	})
	return Result{Text: *out.Transcript, Metrics: m, RequestID: resp.RequestID}, nil
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func msSince(t time.Time) float64 { return ms(time.Since(t)) }
