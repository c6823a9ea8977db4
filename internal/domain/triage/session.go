package triage

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinix/clinix/internal/platform/auth"
)

// ErrSessionNotFound is returned for tokens whose session no longer exists.
var ErrSessionNotFound = errors.New("triage: session not found")

const defaultSessionTTL = 12 * time.Hour

// SessionManager owns the live orchestrators, one per session token.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Orchestrator
	factory  func() *Orchestrator
	secret   []byte
	ttl      time.Duration
}

// NewSessionManager creates a manager minting tokens with the given secret.
// factory builds a fresh orchestrator for each session.
func NewSessionManager(secret []byte, factory func() *Orchestrator) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Orchestrator),
		factory:  factory,
		secret:   secret,
		ttl:      defaultSessionTTL,
	}
}

// Create starts a new session. For clinic roles the orchestrator is logged
// in; the public marker enters the self-check flow instead. Returns the
// signed session token and the initialized orchestrator.
func (m *SessionManager) Create(role string) (string, *Orchestrator, error) {
	o := m.factory()
	if role == auth.PublicRole {
		if err := o.EnterPublic(); err != nil {
			return "", nil, err
		}
	} else {
		if err := o.Login(Role(role)); err != nil {
			return "", nil, err
		}
	}

	id := uuid.New().String()
	token, err := auth.NewSessionToken(m.secret, id, role, m.ttl)
	if err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	m.sessions[id] = o
	m.mu.Unlock()
	return token, o, nil
}

// Get resolves a session identifier to its orchestrator.
func (m *SessionManager) Get(id string) (*Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return o, nil
}

// Destroy logs the session's orchestrator out and forgets it.
func (m *SessionManager) Destroy(id string) {
	m.mu.Lock()
	o, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		o.Logout()
	}
}
