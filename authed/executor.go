package authed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"inboxpal/backend"
	"inboxpal/log"
	"inboxpal/metrics"
	"inboxpal/session"
)

var (
	ErrUnauthenticated = errors.New("not logged in")
	ErrSessionExpired  = errors.New("session expired, please log in again")
)

// TokenStore is the part of the session store the executor relies on.
type TokenStore interface {
	Token() (string, bool)
	ReplaceToken(token string) error
	Logout() error
}

// Executor is the only path for calls that need the session token. A 401
// from the backend logs the user out.
type Executor struct {
	client *backend.Client
	store  TokenStore
}

func New(client *backend.Client, store TokenStore) *Executor {
	return &Executor{client: client, store: store}
}

type envelope struct {
	NewToken string `json:"new_token"`
}

// Execute POSTs body to endpoint with the current token attached and
// returns the raw response body.
func (e *Executor) Execute(ctx context.Context, endpoint string, body map[string]any) ([]byte, error) {
	token, ok := e.store.Token()
	if !ok {
		return nil, ErrUnauthenticated
	}

	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["token"] = token
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	req, err := e.client.NewRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if err := e.store.Logout(); err != nil {
			log.Warnf("clearing expired session: %v", err)
		}
		metrics.SessionExpiredTotal.Inc()
		log.Auth("session_expired", map[string]string{"path": endpoint, "request_id": resp.RequestID})
		return nil, ErrSessionExpired
	}
	if err := backend.CheckStatus(endpoint, resp); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrMalformedResponse, err)
	}
	if env.NewToken != "" && env.NewToken != token {
		err := e.store.ReplaceToken(env.NewToken)
		switch {
		case errors.Is(err, session.ErrNotLoggedIn):
			// Logged out while the call was in flight; the logout stands.
			log.Warnf("dropping refreshed token for %s: session ended", endpoint)
		case err != nil:
			return nil, fmt.Errorf("persisting refreshed token: %w", err)
		}
	}
	return resp.Body, nil
}
