package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const callbackPage = `<!doctype html><title>inboxpal</title>
<p>Signed in. You can close this window and return to the terminal.</p>`

// Callback is a loopback listener that receives the token redirect issued
// after consent.
type Callback struct {
	ln     net.Listener
	srv    *http.Server
	tokens chan string
}

func ListenCallback(addr string) (*Callback, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("callback listener: %w", err)
	}
	cb := &Callback{ln: ln, tokens: make(chan string, 1)}
	cb.srv = &http.Server{Handler: http.HandlerFunc(cb.handle), ReadHeaderTimeout: 5 * time.Second}
	go cb.srv.Serve(ln)
	return cb, nil
}

func (c *Callback) Addr() string { return c.ln.Addr().String() }

func (c *Callback) handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	select {
	case c.tokens <- token:
	default:
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, callbackPage)
}

// Wait blocks for the first token and shuts the listener down.
func (c *Callback) Wait(ctx context.Context) (string, error) {
	defer c.Close()
	select {
	case t := <-c.tokens:
		return t, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Callback) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WaitForCallback listens on addr until a token redirect arrives.
func WaitForCallback(ctx context.Context, addr string) (string, error) {
	cb, err := ListenCallback(addr)
	if err != nil {
		return "", err
	}
	return cb.Wait(ctx)
}
