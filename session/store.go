package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/browser"

	"inboxpal/backend"
	"inboxpal/log"
	"inboxpal/metrics"
)

const (
	TokenSlot       = "inboxpal_token"
	CredentialsSlot = "inboxpal_credentials"

	TokenURI = "https://oauth2.googleapis.com/token"

	loginPath       = "/api/auth/login"
	credentialsPath = "/api/auth/credentials"
)

var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.metadata",
}

var (
	ErrEmptyToken       = errors.New("login token is empty")
	ErrBundleIncomplete = errors.New("token stored but credential bundle incomplete")
	ErrNotLoggedIn      = errors.New("not logged in")
)

type CredentialBundle struct {
	Token        string   `json:"token"`
	RefreshToken *string  `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// Backend is the subset of *backend.Client the store needs.
type Backend interface {
	GetJSON(ctx context.Context, path string, out any) (*backend.Response, error)
}

// Store holds the session token and credential bundle. Writers are
// serialised; each slot write is atomic in the underlying KV.
type Store struct {
	kv      KV
	api     Backend
	openURL func(string) error

	mu sync.RWMutex
}

func NewStore(kv KV, api Backend) *Store {
	return &Store{kv: kv, api: api, openURL: browser.OpenURL}
}

// SetBrowser replaces the function used to open the consent page.
func (s *Store) SetBrowser(open func(string) error) { s.openURL = open }

func (s *Store) Close() error { return s.kv.Close() }

type loginResponse struct {
	AuthURL string `json:"auth_url"`
}

func (r *loginResponse) Validate() error {
	if r.AuthURL == "" {
		return errors.New("missing auth_url")
	}
	return nil
}

type credentialsResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (r *credentialsResponse) Validate() error {
	if r.ClientID == "" {
		return errors.New("missing client_id")
	}
	return nil
}

// Login fetches the consent URL and opens it in the system browser. The
// URL is returned even when the browser cannot be launched.
func (s *Store) Login(ctx context.Context) (string, error) {
	var out loginResponse
	if _, err := s.api.GetJSON(ctx, loginPath, &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	log.Auth("login_started", nil)
	if s.openURL != nil {
		if err := s.openURL(out.AuthURL); err != nil {
			log.Warnf("opening browser: %v", err)
		}
	}
	return out.AuthURL, nil
}

// CompleteLogin stores the token returned by the consent flow and then
// fetches the client metadata for the credential bundle. If the fetch
// fails the token stays stored and the error wraps ErrBundleIncomplete.
func (s *Store) CompleteLogin(ctx context.Context, rawToken string) (*CredentialBundle, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, ErrEmptyToken
	}

	// A bundle left from an earlier login must not outlive its token.
	s.mu.Lock()
	err := s.kv.Delete(CredentialsSlot)
	if err == nil {
		err = s.kv.Set(TokenSlot, token)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	var creds credentialsResponse
	if _, err := s.api.GetJSON(ctx, credentialsPath, &creds); err != nil {
		log.Auth("bundle_incomplete", map[string]string{"error": err.Error()})
		return nil, fmt.Errorf("%w: %w", ErrBundleIncomplete, err)
	}

	bundle := &CredentialBundle{
		Token:        token,
		TokenURI:     TokenURI,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       append([]string(nil), Scopes...),
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundleIncomplete, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A logout or a newer login may have raced the credentials fetch.
	if cur, ok, err := s.kv.Get(TokenSlot); err != nil || !ok || cur != token {
		return nil, fmt.Errorf("%w: session changed during login", ErrBundleIncomplete)
	}
	if err := s.kv.Set(CredentialsSlot, string(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundleIncomplete, err)
	}
	log.Auth("login", map[string]string{"client_id": creds.ClientID})
	return bundle, nil
}

// IsAuthenticated reports whether a token is present.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.Token()
	return ok
}

func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token()
}

func (s *Store) token() (string, bool) {
	v, ok, err := s.kv.Get(TokenSlot)
	if err != nil {
		log.Warnf("reading token: %v", err)
		return "", false
	}
	return v, ok && v != ""
}

func (s *Store) credentials() (*CredentialBundle, error) {
	v, ok, err := s.kv.Get(CredentialsSlot)
	if err != nil || !ok {
		return nil, err
	}
	var b CredentialBundle
	if err := json.Unmarshal([]byte(v), &b); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", CredentialsSlot, err)
	}
	return &b, nil
}

// Credentials returns the stored bundle, or nil when none is stored.
func (s *Store) Credentials() (*CredentialBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials()
}

// Snapshot reads the token and bundle under one lock.
func (s *Store) Snapshot() (string, *CredentialBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.token()
	if !ok {
		return "", nil, ErrNotLoggedIn
	}
	b, err := s.credentials()
	return tok, b, err
}

// ReplaceToken swaps a refreshed token into both slots. Client metadata
// in the bundle is kept.
func (s *Store) ReplaceToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.token(); !ok {
		return ErrNotLoggedIn
	}
	if err := s.kv.Set(TokenSlot, token); err != nil {
		return fmt.Errorf("storing refreshed token: %w", err)
	}
	b, err := s.credentials()
	if err != nil {
		return err
	}
	if b != nil {
		b.Token = token
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if err := s.kv.Set(CredentialsSlot, string(data)); err != nil {
			return fmt.Errorf("storing refreshed bundle: %w", err)
		}
	}
	metrics.TokenRefreshTotal.Inc()
	log.Auth("token_refreshed", nil)
	return nil
}

// Logout clears both slots. It is safe to call when logged out.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := errors.Join(s.kv.Delete(TokenSlot), s.kv.Delete(CredentialsSlot))
	log.Auth("logout", nil)
	return err
}
