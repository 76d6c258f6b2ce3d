package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"gochat/internal/models"
	"gochat/internal/provider"
	"gochat/internal/provider/openai"
)

// ErrUnknownSession indicates no live conversation has the requested id.
var ErrUnknownSession = errors.New("unknown conversation")

// ErrInvalidID indicates a conversation id that is not a UUID.
var ErrInvalidID = errors.New("conversation id must be a UUID")

const defaultMaxSessions = 256

// Manager keeps one adapter session per conversation. When the limit is reached the
// least recently used idle conversation is dropped. If every conversation is
// streaming, the least recently used one is closed mid-stream.
type Manager struct {
	resolver *openai.Resolver
	cred     provider.Credentials
	defaults models.Settings
	limit    int

	mu       sync.Mutex
	sessions *lru.Cache[string, *openai.Session]
}

// NewManager constructs a manager whose sessions share resolver and credentials.
func NewManager(resolver *openai.Resolver, cred provider.Credentials, defaults models.Settings, limit int) (*Manager, error) {
	if resolver == nil {
		return nil, errors.New("resolver must not be nil")
	}
	if limit <= 0 {
		limit = defaultMaxSessions
	}

	sessions, err := lru.NewWithEvict(limit, func(_ string, s *openai.Session) {
		s.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &Manager{
		resolver: resolver,
		cred:     cred,
		defaults: defaults,
		limit:    limit,
		sessions: sessions,
	}, nil
}

// Open returns the session for id, creating it when needed. An empty id starts a new
// conversation with a fresh UUID.
func (m *Manager) Open(id string) (string, *openai.Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions.Get(id); ok {
		return id, s, nil
	}
	if m.sessions.Len() >= m.limit {
		m.evictIdle()
	}
	s := m.resolver.NewSession(m.cred, m.defaults)
	m.sessions.Add(id, s)
	return id, s, nil
}

// evictIdle removes the least recently used conversation with no stream in flight.
func (m *Manager) evictIdle() {
	for _, key := range m.sessions.Keys() {
		if s, ok := m.sessions.Peek(key); ok && !s.InFlight() {
			m.sessions.Remove(key)
			return
		}
	}
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*openai.Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Cancel stops the stream in flight for the conversation, if any.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// Close forgets the conversation. A stream still in flight ends with openai.ErrSessionClosed.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Peek(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	m.sessions.Remove(id)
	s.Close()
	return nil
}

// Len reports the number of live conversations.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Models returns the resolved catalogue for the configured endpoint.
func (m *Manager) Models(ctx context.Context) ([]models.Model, error) {
	return m.resolver.Models(ctx, m.cred)
}

// Model looks a single model up in the resolved catalogue.
func (m *Manager) Model(ctx context.Context, id string) (models.Model, error) {
	return m.resolver.ModelByID(ctx, m.cred, id)
}
