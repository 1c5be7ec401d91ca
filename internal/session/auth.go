package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dify2ollama/internal/core"
)

// ErrInvalidCredentials is returned when a username or password does not match.
var ErrInvalidCredentials = errors.New("invalid username or password")

type account struct {
	name string
	hash []byte
}

// Authenticator verifies configured accounts against bcrypt hashes computed once at startup.
type Authenticator struct {
	accounts  map[string]account
	dummyHash []byte
}

// NewAuthenticator hashes every credential with bcrypt.DefaultCost.
func NewAuthenticator(users []core.UserCredential) (*Authenticator, error) {
	return newAuthenticator(users, bcrypt.DefaultCost)
}

func newAuthenticator(users []core.UserCredential, cost int) (*Authenticator, error) {
	a := &Authenticator{accounts: make(map[string]account, len(users))}
	for _, u := range users {
		if u.Username == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", u.Username, err)
		}
		name := u.Name
		if name == "" {
			name = u.Username
		}
		a.accounts[u.Username] = account{name: name, hash: hash}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("dify2ollama"), cost)
	if err != nil {
		return nil, err
	}
	a.dummyHash = dummy
	return a, nil
}

// Verify returns the display name for a matching username and password.
// Unknown users still pay for one bcrypt comparison.
func (a *Authenticator) Verify(username, password string) (string, error) {
	acct, ok := a.accounts[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return acct.name, nil
}

// Manager issues, resolves and revokes login sessions.
type Manager struct {
	store core.SessionStore
	auth  *Authenticator
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a manager; a non-positive ttl uses core.SessionDefaultTTL.
func NewManager(store core.SessionStore, auth *Authenticator, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = core.SessionDefaultTTL
	}
	return &Manager{store: store, auth: auth, ttl: ttl, now: time.Now}
}

// TTL returns the session lifetime, also used as the cookie max age.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Login verifies credentials and stores a new session.
func (m *Manager) Login(ctx context.Context, username, password string) (*core.Session, error) {
	name, err := m.auth.Verify(username, password)
	if err != nil {
		return nil, err
	}
	s := &core.Session{
		ID:        uuid.NewString(),
		Username:  username,
		Name:      name,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// Lookup returns the session for id, or nil when it is unknown or expired.
func (m *Manager) Lookup(ctx context.Context, id string) (*core.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return m.store.Load(ctx, id)
}

// Logout removes the session; unknown ids are ignored.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
