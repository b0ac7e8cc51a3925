package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"inboxpal/metrics"
)

const requestIDHeader = "X-Request-ID"

// Client talks to the transcription/command backend. Every request is
// traced so callers can log where the time went.
type Client struct {
	base      *url.URL
	client    *http.Client
	userAgent string
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base: u,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		userAgent: "inboxpal",
	}, nil
}

func (c *Client) SetUserAgent(ua string) { c.userAgent = ua }

func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) URL(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

type Response struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
	RequestID  string
}

// NewRequest builds a request against the backend with a fresh request id.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) Do(req *http.Request) (*Response, error) {
	m := &NetworkMetrics{}
	var getConnStart, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest, firstByte time.Time

	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { getConnStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			gotConn = time.Now()
			m.ConnWait = gotConn.Sub(getConnStart)
			m.ConnReused = info.Reused
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { m.DNS = time.Since(dnsStart) },
		ConnectStart:      func(_, _ string) { tcpStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { m.TCP = time.Since(tcpStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(st tls.ConnectionState, _ error) {
			m.TLS = time.Since(tlsStart)
			m.TLSProtocol = st.NegotiatedProtocol
		},
		WroteHeaders: func() {
			wroteHeaders = time.Now()
			m.ReqHeaders = wroteHeaders.Sub(gotConn)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
			m.ReqBody = wroteRequest.Sub(wroteHeaders)
		},
		GotFirstResponseByte: func() {
			firstByte = time.Now()
			m.TTFB = firstByte.Sub(wroteRequest)
		},
	}

	path := req.URL.Path
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveRequest(path, 0)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveRequest(path, 0)
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if !firstByte.IsZero() {
		m.Download = time.Since(firstByte)
	}
	m.Total = time.Since(reqStart)
	metrics.ObserveRequest(path, resp.StatusCode)

	return &Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    m,
		RequestID:  firstNonEmpty(resp.Header, requestIDHeader, "X-Correlation-ID"),
	}, nil
}

// Call performs a request, converts non-2xx statuses into *StatusError and
// decodes the body into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method, path, contentType string, body io.Reader, out any) (*Response, error) {
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if err := CheckStatus(path, resp); err != nil {
		return resp, err
	}
	if out != nil {
		if err := Decode(resp.Body, out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *Client) GetJSON(ctx context.Context, path string, out any) (*Response, error) {
	return c.Call(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, in, out any) (*Response, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", path, err)
	}
	return c.Call(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), out)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *healthResponse) Validate() error {
	if h.Status == "" {
		return fmt.Errorf("missing status")
	}
	return nil
}

// Health probes /api/health and returns the reported status.
func (c *Client) Health(ctx context.Context) (string, time.Duration, error) {
	var h healthResponse
	resp, err := c.GetJSON(ctx, "/api/health", &h)
	if err != nil {
		return "", 0, err
	}
	return h.Status, resp.Metrics.Total, nil
}
