// Package authflow drives the OAuth2 authorization-code exchange (with
// or without PKCE) for cloud providers. It owns the ephemeral session
// secrets — CSRF state, PKCE verifier and challenge — for exactly one
// authentication attempt at a time. Secrets never outlive the attempt
// and are never persisted.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

// State names a position in the authentication state machine. Any
// failure transitions back to StateUnauthenticated.
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingCallback
	StateExchangingToken
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchangingToken:
		return "exchanging_token"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// DefaultCallbackTimeout bounds the wait for the external redirect. The
// triggering event (user finishes or abandons the browser flow) may
// never fire, so the wait must resolve on its own.
const DefaultCallbackTimeout = 5 * time.Minute

// stateTokenBytes is the number of random bytes behind the CSRF state.
const stateTokenBytes = 16

// callbackResult carries the authorization code from a validated
// redirect into the waiting Authenticate call.
type callbackResult struct {
	code string
	err  error
}

// session holds the single-use secrets of one authentication attempt.
// Cleared unconditionally when the attempt resolves.
type session struct {
	csrfState string
	verifier  string // empty when PKCE is disabled
	result    chan callbackResult
}

// Manager runs the authorization-code flow for one provider. At most one
// attempt is in flight per Manager; a second Authenticate while one is
// awaiting its callback fails with vault.ErrAuthInProgress rather than
// racing two state/verifier pairs.
type Manager struct {
	provider string
	cfg      *oauth2.Config
	usePKCE  bool
	timeout  time.Duration
	openURL  func(string) error
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	current *session
	token   *oauth2.Token
}

// Option configures a Manager.
type Option func(*Manager)

// WithoutPKCE disables the code challenge for providers that reject it.
func WithoutPKCE() Option {
	return func(m *Manager) { m.usePKCE = false }
}

// WithCallbackTimeout overrides the bounded callback wait.
func WithCallbackTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithOpenURL sets the browser launcher. The default leaves launching to
// the caller and only logs the URL.
func WithOpenURL(f func(string) error) Option {
	return func(m *Manager) { m.openURL = f }
}

// New creates a Manager for the given provider and oauth2 config.
// PKCE is on by default; every OAuth-based adapter validates the CSRF
// state regardless.
func New(provider string, cfg *oauth2.Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		provider: provider,
		cfg:      cfg,
		usePKCE:  true,
		timeout:  DefaultCallbackTimeout,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Provider returns the provider namespace this manager serves.
func (m *Manager) Provider() string {
	return m.provider
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Token returns the current token, or nil when unauthenticated.
func (m *Manager) Token() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.token
}

// Restore installs a previously persisted token, skipping the browser
// flow. The adapter still verifies it with a live call before trusting it.
func (m *Manager) Restore(tok *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = tok
	if tok != nil {
		m.state = StateAuthenticated
	}
}

// Disconnect clears the token and any in-flight session. Never errors,
// even when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		deliver(m.current, callbackResult{err: fmt.Errorf("authflow: %s: attempt canceled by disconnect", m.provider)})
		m.current = nil
	}

	m.token = nil
	m.state = StateUnauthenticated
}

// TokenSource returns an auto-refreshing token source seeded with the
// current token. onRefresh, if non-nil, observes every token change so
// the adapter can re-persist it encrypted.
func (m *Manager) TokenSource(ctx context.Context, onRefresh func(*oauth2.Token)) (oauth2.TokenSource, error) {
	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()

	if tok == nil {
		return nil, &vault.Error{Provider: m.provider, Message: "no session", Err: vault.ErrAuthExpired}
	}

	return &refreshSource{
		m:         m,
		src:       m.cfg.TokenSource(ctx, tok),
		last:      tok.AccessToken,
		onRefresh: onRefresh,
	}, nil
}

// Authenticate runs one full authorization-code attempt: generate
// single-use secrets, open the authorization URL, wait for the redirect,
// exchange the code. The wait is bounded by the configured timeout and
// by ctx. All session secrets are discarded when the attempt resolves,
// success or failure.
func (m *Manager) Authenticate(ctx context.Context) error {
	sess, authURL, err := m.begin()
	if err != nil {
		return err
	}

	m.logger.Info("starting authorization flow",
		slog.String("provider", m.provider),
		slog.Bool("pkce", m.usePKCE),
	)

	if m.openURL != nil {
		if openErr := m.openURL(authURL); openErr != nil {
			m.logger.Warn("failed to open browser",
				slog.String("provider", m.provider),
				slog.String("error", openErr.Error()),
			)
		}
	} else {
		m.logger.Info("open this URL to authorize", slog.String("url", authURL))
	}

	code, err := m.waitForCallback(ctx, sess)
	if err != nil {
		m.fail(sess)
		return err
	}

	return m.exchange(ctx, sess, code)
}

// AuthURL returns the authorization URL of the in-flight attempt, or ""
// when none is in flight. The UI layer uses it to re-present the link.
func (m *Manager) AuthURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ""
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if m.usePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(m.current.verifier))
	}

	return m.cfg.AuthCodeURL(m.current.csrfState, opts...)
}

// begin transitions to StateAwaitingCallback with fresh secrets.
func (m *Manager) begin() (*session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, "", &vault.Error{
			Provider: m.provider,
			Message:  "authentication attempt already awaiting callback",
			Err:      vault.ErrAuthInProgress,
		}
	}

	csrfState, err := generateState()
	if err != nil {
		return nil, "", fmt.Errorf("authflow: generating state token: %w", err)
	}

	sess := &session{
		csrfState: csrfState,
		result:    make(chan callbackResult, 1),
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if m.usePKCE {
		sess.verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(sess.verifier))
	}

	m.current = sess
	m.state = StateAwaitingCallback

	return sess, m.cfg.AuthCodeURL(csrfState, opts...), nil
}

// HandleRedirect delivers the redirect query parameters of the external
// callback (loopback server or deep link). The echoed state must exactly
// match the in-flight session's state; a mismatch is rejected before any
// token exchange and leaves the attempt waiting, so a stale or malicious
// redirect cannot complete authentication.
func (m *Manager) HandleRedirect(q url.Values) error {
	m.mu.Lock()
	sess := m.current
	var want string
	if sess != nil {
		want = sess.csrfState
	}
	m.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("authflow: %s: no authentication attempt in flight", m.provider)
	}

	if q.Get("state") != want {
		m.logger.Warn("rejected callback with mismatched state",
			slog.String("provider", m.provider),
		)

		return fmt.Errorf("authflow: %s: state mismatch (possible CSRF)", m.provider)
	}

	if errParam := q.Get("error"); errParam != "" {
		deliver(sess, callbackResult{err: &vault.Error{
			Provider: m.provider,
			Message:  "authorization failed: " + errParam + ": " + q.Get("error_description"),
			Err:      vault.ErrPermissionDenied,
		}})

		return nil
	}

	code := q.Get("code")
	if code == "" {
		deliver(sess, callbackResult{err: fmt.Errorf("authflow: %s: callback missing authorization code", m.provider)})
		return nil
	}

	deliver(sess, callbackResult{code: code})

	return nil
}

// deliver resolves the attempt at most once; a replayed callback after
// resolution is dropped.
func deliver(sess *session, res callbackResult) {
	select {
	case sess.result <- res:
	default:
	}
}

// waitForCallback blocks until the redirect arrives, the bounded timeout
// elapses, or ctx is canceled.
func (m *Manager) waitForCallback(ctx context.Context, sess *session) (string, error) {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case res := <-sess.result:
		if res.err != nil {
			return "", res.err
		}

		return res.code, nil
	case <-timer.C:
		return "", &vault.Error{
			Provider: m.provider,
			Message:  fmt.Sprintf("no callback within %s", m.timeout),
			Err:      vault.ErrNetwork,
		}
	case <-ctx.Done():
		return "", fmt.Errorf("authflow: %s: canceled: %w", m.provider, ctx.Err())
	}
}

// exchange trades the authorization code for a token. The session is
// cleared unconditionally — verifier and state are single-use.
func (m *Manager) exchange(ctx context.Context, sess *session, code string) error {
	m.mu.Lock()
	m.state = StateExchangingToken
	m.mu.Unlock()

	var opts []oauth2.AuthCodeOption
	if sess.verifier != "" {
		opts = append(opts, oauth2.VerifierOption(sess.verifier))
	}

	tok, err := m.cfg.Exchange(ctx, code, opts...)
	if err != nil {
		m.fail(sess)
		return vault.Classify(m.provider, fmt.Errorf("token exchange failed: %w", err))
	}

	m.mu.Lock()
	m.clearLocked(sess)
	m.token = tok
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Info("token exchange successful",
		slog.String("provider", m.provider),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// fail resolves a dead attempt back to StateUnauthenticated.
func (m *Manager) fail(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked(sess)

	if m.token == nil {
		m.state = StateUnauthenticated
	}
}

// clearLocked drops the session secrets. Caller holds m.mu.
func (m *Manager) clearLocked(sess *session) {
	if m.current == sess {
		m.current = nil
	}

	sess.csrfState = ""
	sess.verifier = ""
}

// generateState produces a cryptographically random hex string for the
// CSRF state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// refreshSource wraps the oauth2 token source to surface token changes
// (silent refreshes) to the adapter for encrypted re-persistence.
type refreshSource struct {
	m         *Manager
	src       oauth2.TokenSource
	onRefresh func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (r *refreshSource) Token() (*oauth2.Token, error) {
	tok, err := r.src.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := tok.AccessToken != r.last
	r.last = tok.AccessToken
	r.mu.Unlock()

	if changed {
		r.m.mu.Lock()
		r.m.token = tok
		r.m.mu.Unlock()

		if r.onRefresh != nil {
			r.onRefresh(tok)
		}
	}

	return tok, nil
}
