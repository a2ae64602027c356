// Package auth handles the TickTick OAuth2 authorization code flow and
// token persistence.
//
// Login starts a short-lived local HTTP server to capture the redirect,
// exchanges the authorization code for a token and writes it to the
// config directory. Client wraps the stored token in a refreshing
// http.Client that re-saves the token file whenever the access token
// rotates, so a long-running daemon survives restarts without another
// browser round trip.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/marco308/ticktick-bridge/internal/config"
)

const (
	// AuthURL and TokenURL are TickTick's OAuth2 endpoints.
	AuthURL  = "https://ticktick.com/oauth/authorize"
	TokenURL = "https://ticktick.com/oauth/token"

	// CallbackPort is the local port the login flow listens on. The
	// redirect URI registered with TickTick must match it.
	CallbackPort = 8721

	tokenFile = "token.json"

	loginTimeout = 5 * time.Minute
)

// Scopes requested during authorization.
var Scopes = []string{"tasks:read", "tasks:write"}

// ErrNoToken means no stored token exists and a login is required.
var ErrNoToken = errors.New("auth: no stored token, run login first")

// Manager owns the OAuth2 config and the token file.
type Manager struct {
	oauth     *oauth2.Config
	tokenPath string
	logger    *log.Logger

	mu   sync.Mutex
	tok  *oauth2.Token
	last string // access token written to disk
}

// NewManager builds a Manager for the given application credentials.
// The token file lives in the tickbridge config directory.
func NewManager(clientID, clientSecret string, logger *log.Logger) (*Manager, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("auth: client_id and client_secret are required")
	}
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  AuthURL,
				TokenURL: TokenURL,
			},
			RedirectURL: fmt.Sprintf("http://localhost:%d/callback", CallbackPort),
		},
		tokenPath: filepath.Join(dir, tokenFile),
		logger:    logger,
	}, nil
}

// TokenPath returns where the token is stored.
func (m *Manager) TokenPath() string {
	return m.tokenPath
}

// Token returns the stored token, loading it from disk on first use.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenLocked()
}

func (m *Manager) tokenLocked() (*oauth2.Token, error) {
	if m.tok != nil {
		return m.tok, nil
	}
	data, err := os.ReadFile(m.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", m.tokenPath, err)
	}
	m.tok = &tok
	m.last = tok.AccessToken
	return m.tok, nil
}

// Client returns an http.Client that injects and refreshes the bearer
// token. Refreshed tokens are written back to the token file.
func (m *Manager) Client(ctx context.Context) (*http.Client, error) {
	tok, err := m.Token()
	if err != nil {
		return nil, err
	}
	src := oauth2.ReuseTokenSource(tok, m.oauth.TokenSource(ctx, tok))
	return oauth2.NewClient(ctx, &persistingSource{mgr: m, src: src}), nil
}

// persistingSource re-saves the token file whenever the underlying
// source hands back a rotated access token.
type persistingSource struct {
	mgr *Manager
	src oauth2.TokenSource
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.mgr.mu.Lock()
	defer p.mgr.mu.Unlock()
	if tok.AccessToken != p.mgr.last {
		p.mgr.tok = tok
		if err := p.mgr.saveLocked(tok); err != nil {
			p.mgr.logger.Printf("Failed to persist refreshed token: %v", err)
		} else {
			p.mgr.last = tok.AccessToken
			p.mgr.logger.Printf("Refreshed access token persisted")
		}
	}
	return tok, nil
}

func (m *Manager) saveLocked(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(m.tokenPath), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(m.tokenPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// SaveToken stores tok to the token file.
func (m *Manager) SaveToken(tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(tok); err != nil {
		return err
	}
	m.tok = tok
	m.last = tok.AccessToken
	return nil
}

// Status describes the stored credential.
type Status struct {
	Authorized bool      `json:"authorized"`
	TokenPath  string    `json:"token_path"`
	Expiry     time.Time `json:"expiry,omitempty"`
	Expired    bool      `json:"expired,omitempty"`
}

// Status reports whether a token is stored and whether it has expired.
// An expired access token is still usable when a refresh token exists.
func (m *Manager) Status() Status {
	st := Status{TokenPath: m.tokenPath}
	tok, err := m.Token()
	if err != nil {
		return st
	}
	st.Authorized = true
	st.Expiry = tok.Expiry
	st.Expired = !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	return st
}

// Login runs the full authorization code flow: prints the authorization
// URL, captures the redirect on localhost and exchanges the code. The
// obtained token is saved before returning.
func (m *Manager) Login(ctx context.Context) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", CallbackPort))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on callback port %d: %w", CallbackPort, err)
	}
	defer listener.Close()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				errCh <- errors.New("auth: state mismatch in redirect")
				return
			}
			code := q.Get("code")
			if code == "" {
				http.Error(w, "authorization code missing", http.StatusBadRequest)
				errCh <- errors.New("auth: authorization code missing in redirect")
				return
			}
			fmt.Fprintln(w, "Authorized. You can close this window.")
			codeCh <- code
		}),
	}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := m.oauth.AuthCodeURL(state)
	fmt.Printf("Open this URL in your browser to authorize tickbridge:\n\n  %s\n\n", authURL)
	m.logger.Printf("Waiting for OAuth redirect on %s", m.oauth.RedirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(loginTimeout):
		return nil, errors.New("auth: authorization timed out")
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tok, err := m.oauth.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := m.SaveToken(tok); err != nil {
		return nil, err
	}
	m.logger.Printf("Token stored at %s", m.tokenPath)
	return tok, nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
