package authflow

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

// Keeper binds a session Manager to one encrypted credential entry so
// OAuth tokens survive restarts without ever being persisted in
// plaintext. Every OAuth-based adapter owns one Keeper per account.
type Keeper struct {
	m          *Manager
	creds      *credstore.Store
	accountKey string
	logger     *slog.Logger

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewKeeper wires a manager to the credential entry named accountKey.
func NewKeeper(m *Manager, creds *credstore.Store, accountKey string, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Keeper{
		m:          m,
		creds:      creds,
		accountKey: accountKey,
		logger:     logger,
	}
}

// Bearer returns a current access token, refreshing through the session
// manager and re-sealing the refreshed token as needed.
func (k *Keeper) Bearer() (string, error) {
	tok, err := k.token()
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// TokenSource exposes the refreshing source for SDK clients that
// consume oauth2.TokenSource directly.
func (k *Keeper) TokenSource() oauth2.TokenSource {
	return keeperSource{k}
}

type keeperSource struct {
	k *Keeper
}

func (s keeperSource) Token() (*oauth2.Token, error) {
	return s.k.token()
}

func (k *Keeper) token() (*oauth2.Token, error) {
	k.mu.Lock()
	src := k.src
	k.mu.Unlock()

	if src == nil {
		var err error

		src, err = k.m.TokenSource(context.Background(), k.Persist)
		if err != nil {
			return nil, err
		}

		k.mu.Lock()
		k.src = src
		k.mu.Unlock()
	}

	tok, err := src.Token()
	if err != nil {
		return nil, &vault.Error{Provider: k.m.Provider(), Message: err.Error(), Err: vault.ErrAuthExpired}
	}

	return tok, nil
}

// Persist re-seals the token into the credential store. Failure is
// logged, not fatal: the session continues in memory.
func (k *Keeper) Persist(tok *oauth2.Token) {
	if tok == nil {
		return
	}

	if !k.creds.PersistJSON(k.accountKey, tok) {
		k.logger.Warn("failed to persist token", slog.String("provider", k.m.Provider()))
	}
}

// Restore loads a previously persisted token into the session manager.
func (k *Keeper) Restore() bool {
	var tok oauth2.Token
	if !k.creds.LoadJSON(k.accountKey, &tok) {
		return false
	}

	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return false
	}

	k.m.Restore(&tok)

	return true
}

// HasSession reports whether a token is available, restoring a
// persisted one when the manager holds none.
func (k *Keeper) HasSession() bool {
	return k.m.Token() != nil || k.Restore()
}

// Login runs the browser flow on a loopback redirect listener and
// persists the resulting token encrypted.
func (k *Keeper) Login(ctx context.Context) error {
	lb, err := StartLoopback(ctx, k.m, k.logger)
	if err != nil {
		return err
	}
	defer lb.Stop(k.logger)

	if err := k.m.Authenticate(ctx); err != nil {
		return err
	}

	k.Persist(k.m.Token())

	return nil
}

// Reset drops the in-memory session and token source. The persisted
// encrypted credential survives until ClearSecret.
func (k *Keeper) Reset() {
	k.m.Disconnect()

	k.mu.Lock()
	k.src = nil
	k.mu.Unlock()
}
