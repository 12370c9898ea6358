package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/orgkeep/backend/internal/models"
	"github.com/orgkeep/backend/pkg/utils"
)

var errDown = errors.New("connection refused")

type memUsers struct {
	mu    sync.Mutex
	byID  map[string]models.User
	fail  error
	reads int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]models.User)}
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return models.ErrDuplicate
		}
	}
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.fail != nil {
		return nil, m.fail
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.fail != nil {
		return nil, m.fail
	}
	for _, u := range m.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, models.ErrNotFound
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	failSet error
}

type memEntry struct {
	value string
	ttl   time.Duration
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]memEntry)}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e.value, ok, nil
}

func (m *memCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.entries[key] = memEntry{value: value, ttl: ttl}
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func newTestService() (*Service, *memUsers, *memCache) {
	users := newMemUsers()
	cache := newMemCache()
	svc := NewService(users, cache, NewJWTService("test-secret", "orgkeep"), utils.NewHasher(bcrypt.MinCost), Options{}, nil)
	return svc, users, cache
}
