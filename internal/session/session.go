// Package session keeps per-browser login state between the /login redirect and
// the identity provider callback, and remembers the signed-in user for the
// admin pages.
package session

import (
	"context"
	"encoding/gob"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
)

type key string

const (
	keyOAuthState        key = "oauth_state"
	keyOAuthNonce        key = "oauth_nonce"
	keyOAuthCodeVerifier key = "oauth_code_verifier"
	keyCLIPort           key = "cli_port"
	keyOptionSet         key = "optionset"
	keyNextURL           key = "next_url"
	keyUser              key = "user"
)

// User is the signed-in identity kept in the session
type User struct {
	Subject string
	Groups  []string
}

// InGroup reports whether the user is a member of group
func (u *User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Manager wraps an scs session manager with typed accessors
type Manager struct {
	*scs.SessionManager
}

// New creates an in-memory session manager
func New(cfg config.SessionConfig) *Manager {
	gob.Register(&User{})

	sessionManager := scs.New()
	sessionManager.Store = memstore.New()
	sessionManager.Lifetime = cfg.Lifetime

	sessionManager.Cookie.Name = cfg.CookieName
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = cfg.CookieSecure
	sessionManager.Cookie.Path = "/"

	return &Manager{SessionManager: sessionManager}
}

// LoginState is what the callback needs to complete a login
type LoginState struct {
	State        string
	Nonce        string
	CodeVerifier string
}

func (m *Manager) SetLoginState(ctx context.Context, s LoginState) {
	m.Put(ctx, string(keyOAuthState), s.State)
	m.Put(ctx, string(keyOAuthNonce), s.Nonce)
	m.Put(ctx, string(keyOAuthCodeVerifier), s.CodeVerifier)
}

// PopLoginState returns and clears the login state. Each state is usable once.
func (m *Manager) PopLoginState(ctx context.Context) LoginState {
	return LoginState{
		State:        m.PopString(ctx, string(keyOAuthState)),
		Nonce:        m.PopString(ctx, string(keyOAuthNonce)),
		CodeVerifier: m.PopString(ctx, string(keyOAuthCodeVerifier)),
	}
}

func (m *Manager) SetCLIPort(ctx context.Context, port int) {
	m.Put(ctx, string(keyCLIPort), port)
}

// PopCLIPort returns and clears the command-line client's loopback port, or 0
func (m *Manager) PopCLIPort(ctx context.Context) int {
	return m.PopInt(ctx, string(keyCLIPort))
}

func (m *Manager) SetOptionSet(ctx context.Context, name string) {
	m.Put(ctx, string(keyOptionSet), name)
}

func (m *Manager) PopOptionSet(ctx context.Context) string {
	return m.PopString(ctx, string(keyOptionSet))
}

func (m *Manager) SetNextURL(ctx context.Context, next string) {
	m.Put(ctx, string(keyNextURL), next)
}

func (m *Manager) PopNextURL(ctx context.Context) string {
	return m.PopString(ctx, string(keyNextURL))
}

func (m *Manager) SetUser(ctx context.Context, user *User) {
	m.Put(ctx, string(keyUser), user)
}

func (m *Manager) GetUser(ctx context.Context) (*User, bool) {
	user, ok := m.Get(ctx, string(keyUser)).(*User)
	return user, ok && user != nil
}
