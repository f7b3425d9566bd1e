// Package auth provides the access token collaborator for the typed
// clients. Tokens live in the persistence layer; the provider hands out the
// current access token for a user and refreshes it lazily through the OAuth2
// refresh flow when it has expired. An unrefreshable token is the one
// failure that short-circuits a whole operation, surfaced as
// ErrNotAuthenticated so the caller can redirect to re-authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated indicates the user has no token or the refresh flow
// failed permanently.
var ErrNotAuthenticated = errors.New("auth: user not authenticated")

// TokenStore persists OAuth tokens per user. Implemented by pkg/db.
type TokenStore interface {
	GetToken(ctx context.Context, userID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID string, token *oauth2.Token) error
}

// Provider resolves access tokens. Safe for concurrent use; refreshes for
// the same user are serialized so a burst of requests triggers at most one
// refresh round-trip. Users lock independently, so one user's slow refresh
// never stalls another's.
type Provider struct {
	store TokenStore
	conf  *oauth2.Config
	log   logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProvider returns a Provider backed by store, refreshing through conf.
func NewProvider(store TokenStore, conf *oauth2.Config, log logrus.FieldLogger) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{store: store, conf: conf, log: log, locks: map[string]*sync.Mutex{}}
}

func (p *Provider) userLock(userID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[userID] = l
	}
	return l
}

// Token returns a valid access token for userID, refreshing once when the
// stored token has expired. ErrNotAuthenticated is returned when no token
// exists or the refresh fails.
func (p *Provider) Token(ctx context.Context, userID string) (string, error) {
	l := p.userLock(userID)
	l.Lock()
	defer l.Unlock()

	tok, err := p.store.GetToken(ctx, userID)
	if err != nil {
		p.log.WithField("user", userID).WithError(err).Warn("no stored token")
		return "", fmt.Errorf("%w: %s", ErrNotAuthenticated, userID)
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}

	fresh, err := p.conf.TokenSource(ctx, tok).Token()
	if err != nil {
		p.log.WithField("user", userID).WithError(err).Error("token refresh failed")
		return "", fmt.Errorf("%w: %s", ErrNotAuthenticated, userID)
	}
	if err := p.store.SaveToken(ctx, userID, fresh); err != nil {
		// The refreshed token is still usable for this request; losing
		// the write only means another refresh later.
		p.log.WithField("user", userID).WithError(err).Warn("persisting refreshed token failed")
	}
	return fresh.AccessToken, nil
}
