// Package auth holds hand-written fakes for the auth ports.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/ports"
)

var (
	_ ports.AuthProvider = (*Provider)(nil)
	_ ports.SessionStore = (*MemorySessionStore)(nil)
)

// Provider is a deterministic AuthProvider. Challenges are numbered per Begin call
// and Exchange returns Identity with a fresh expiry.
type Provider struct {
	AuthURL     string
	Identity    domainauth.Identity
	BeginErr    error
	ExchangeErr error

	mu        sync.Mutex
	calls     int
	exchanged []ports.ExchangeInput
}

// NewProvider returns a Provider for a regular user.
func NewProvider() *Provider {
	return &Provider{
		AuthURL: "https://idp.example.com/authorize",
		Identity: domainauth.Identity{
			UserID: "alice",
			Name:   "Alice Example",
			Email:  "alice@example.com",
			Groups: []string{"users"},
		},
	}
}

func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (ports.LoginChallenge, error) {
	if p.BeginErr != nil {
		return ports.LoginChallenge{}, p.BeginErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return ports.LoginChallenge{
		AuthURL:  p.AuthURL,
		State:    fmt.Sprintf("state-%d", p.calls),
		Nonce:    fmt.Sprintf("nonce-%d", p.calls),
		Verifier: fmt.Sprintf("verifier-%d", p.calls),
	}, nil
}

func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	p.mu.Lock()
	p.exchanged = append(p.exchanged, in)
	p.mu.Unlock()
	if p.ExchangeErr != nil {
		return domainauth.Identity{}, p.ExchangeErr
	}
	id := p.Identity
	id.Groups = append([]string(nil), p.Identity.Groups...)
	if id.ExpiresAt.IsZero() {
		id.ExpiresAt = time.Now().Add(time.Hour)
	}
	return id, nil
}

// Exchanged returns the inputs Exchange has seen.
func (p *Provider) Exchanged() []ports.ExchangeInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.ExchangeInput(nil), p.exchanged...)
}

// MemorySessionStore keeps sessions in a map.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
	// GetErr, when set, is returned by Get for every id.
	GetErr error
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (domainauth.Session, error) {
	if m.GetErr != nil {
		return domainauth.Session{}, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len reports how many sessions are stored.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
