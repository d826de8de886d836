package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
)

// User is the established identity, or nil when anonymous.
type User struct {
	UID   string
	Email string
}

// Provider is the identity surface the engine consumes: a user-changed event
// stream and issue-able bearer tokens.
type Provider interface {
	CurrentUser() *User
	// OnAuthStateChanged registers cb, invokes it once with the current
	// identity, and returns an unsubscribe func.
	OnAuthStateChanged(cb func(*User)) (unsubscribe func())
	// Token returns a bearer token for the current user. With forceRefresh
	// the provider must mint a fresh token instead of reusing a cached one.
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// TokenSource mints a bearer token for the signed-in user.
type TokenSource func(ctx context.Context) (string, error)

// TokenProvider is the bundled Provider implementation: it holds one signed-in
// user at a time and serves cached tokens, refreshing through the TokenSource
// when forced or when the cached token's exp claim has passed.
type TokenProvider struct {
	mu        sync.Mutex
	source    TokenSource
	token     string
	expiry    time.Time
	user      *User
	nextSub   int
	listeners map[int]func(*User)
}

func NewTokenProvider(source TokenSource) *TokenProvider {
	return &TokenProvider{
		source:    source,
		listeners: make(map[int]func(*User)),
	}
}

// SignIn pulls a token from the source, derives the user from its claims and
// notifies listeners.
func (p *TokenProvider) SignIn(ctx context.Context) error {

	if p.source == nil {
		return appErrors.UnauthorizedError("No token source configured")
	}

	token, err := p.source(ctx)
	if err != nil {
		return appErrors.UnauthorizedError("Failed to obtain identity token").WithError(err)
	}

	return p.SetToken(token)
}

// SetToken installs an externally-issued bearer token.
func (p *TokenProvider) SetToken(token string) error {

	user, expiry, err := introspect(token)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.token = token
	p.expiry = expiry
	p.user = user
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, cb := range listeners {
		cb(user)
	}

	return nil
}

// SignOut drops the identity and notifies listeners with nil.
func (p *TokenProvider) SignOut() {

	p.mu.Lock()
	p.token = ""
	p.expiry = time.Time{}
	p.user = nil
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, cb := range listeners {
		cb(nil)
	}
}

func (p *TokenProvider) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.user
}

func (p *TokenProvider) OnAuthStateChanged(cb func(*User)) func() {

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.listeners[id] = cb
	user := p.user
	p.mu.Unlock()

	cb(user)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *TokenProvider) Token(ctx context.Context, forceRefresh bool) (string, error) {

	p.mu.Lock()
	token := p.token
	expiry := p.expiry
	source := p.source
	signedIn := p.user != nil
	p.mu.Unlock()

	if !signedIn {
		return "", appErrors.UnauthorizedError("No identity established")
	}

	expired := !expiry.IsZero() && time.Now().After(expiry)

	if (forceRefresh || expired) && source != nil {

		fresh, err := source(ctx)
		if err != nil {
			return "", appErrors.AuthExpiredError("Failed to refresh identity token").WithError(err)
		}

		if err := p.SetToken(fresh); err != nil {
			return "", err
		}

		return fresh, nil
	}

	if expired {
		slog.Warn("Serving expired identity token, no refresh source configured")
	}

	return token, nil
}

// callers hold p.mu
func (p *TokenProvider) snapshotListeners() []func(*User) {

	listeners := make([]func(*User), 0, len(p.listeners))
	for _, cb := range p.listeners {
		listeners = append(listeners, cb)
	}

	return listeners
}

// introspect reads sub/email/exp claims without verifying the signature; the
// backend is the verifying party, the client only needs routing data.
func introspect(token string) (*User, time.Time, error) {

	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, time.Time{}, appErrors.UnauthorizedError("Malformed identity token").WithError(err)
	}

	user := &User{}

	if sub, err := claims.GetSubject(); err == nil {
		user.UID = sub
	}

	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}

	var expiry time.Time

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}

	return user, expiry, nil
}
