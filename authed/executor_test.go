package authed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxpal/backend"
	"inboxpal/session"
)

type env struct {
	store *session.Store
	exec  *Executor
	hits  atomic.Int32
	last  atomic.Value // map[string]any
	auth  atomic.Value // string
}

func newEnv(t *testing.T, handler http.HandlerFunc) *env {
	t.Helper()
	e := &env{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/credentials" {
			io.WriteString(w, `{"client_id":"X","client_secret":"Y"}`)
			return
		}
		e.hits.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		e.last.Store(body)
		e.auth.Store(r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := backend.New(srv.URL, 5*time.Second)
	require.NoError(t, err)
	kv, err := session.NewFileKV(t.TempDir())
	require.NoError(t, err)
	e.store = session.NewStore(kv, client)
	e.exec = New(client, e.store)
	return e
}

func (e *env) login(t *testing.T, token string) {
	t.Helper()
	_, err := e.store.CompleteLogin(context.Background(), token)
	require.NoError(t, err)
}

func TestExecuteUnauthenticatedNoNetwork(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})

	_, err := e.exec.Execute(context.Background(), "/api/gmail/unread-simple", nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, e.hits.Load())
}

func TestExecuteAttachesToken(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"count":3}`)
	})
	e.login(t, "T1")

	body, err := e.exec.Execute(context.Background(), "/api/gmail/unread-simple", map[string]any{"limit": 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":3}`, string(body))

	sent := e.last.Load().(map[string]any)
	assert.Equal(t, "T1", sent["token"])
	assert.Equal(t, float64(5), sent["limit"])
	assert.Equal(t, "Bearer T1", e.auth.Load())
}

func TestExecute401LogsOut(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"expired"}`, http.StatusUnauthorized)
	})
	e.login(t, "T1")

	_, err := e.exec.Execute(context.Background(), "/api/gmail/unread-simple", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, backend.IsStatus(err, http.StatusUnauthorized))

	assert.False(t, e.store.IsAuthenticated())
	b, err := e.store.Credentials()
	require.NoError(t, err)
	assert.Nil(t, b)

	// The next call fails locally.
	_, err = e.exec.Execute(context.Background(), "/api/gmail/unread-simple", nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(1), e.hits.Load())
}

func TestExecuteNewTokenPersisted(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"count":1,"new_token":"T2"}`)
	})
	e.login(t, "T1")

	_, err := e.exec.Execute(context.Background(), "/api/gmail/unread-simple", nil)
	require.NoError(t, err)

	tok, b, err := e.store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "T2", tok)
	assert.Equal(t, "T2", b.Token)
	assert.Equal(t, "X", b.ClientID)

	_, err = e.exec.Execute(context.Background(), "/api/gmail/unread-simple", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer T2", e.auth.Load())
}

func TestExecuteNewTokenAfterLogout(t *testing.T) {
	var store atomic.Pointer[session.Store]
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, store.Load().Logout())
		io.WriteString(w, `{"count":1,"new_token":"T2"}`)
	})
	store.Store(e.store)
	e.login(t, "T1")

	body, err := e.exec.Execute(context.Background(), "/api/gmail/unread-simple", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1,"new_token":"T2"}`, string(body))
	assert.False(t, e.store.IsAuthenticated())
}

func TestExecuteOtherStatus(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	e.login(t, "T1")

	_, err := e.exec.Execute(context.Background(), "/api/gmail/recent-simple", nil)
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, e.store.IsAuthenticated())
}

func TestExecuteMalformed(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>`)
	})
	e.login(t, "T1")

	_, err := e.exec.Execute(context.Background(), "/api/gmail/recent-simple", nil)
	assert.ErrorIs(t, err, backend.ErrMalformedResponse)
}
