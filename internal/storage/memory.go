package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// MemoryRepository is a Repository kept in process memory.
// Used when no DATABASE_DSN is configured and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	users   map[string]*models.RegisteredUser
	emails  map[string]string // lowercased email -> user id
	clients map[string]*models.ApiClient
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[string]*models.RegisteredUser),
		emails:  make(map[string]string),
		clients: make(map[string]*models.ApiClient),
	}
}

// AddClient registers an operator API client
func (r *MemoryRepository) AddClient(c *models.ApiClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.clients[c.ApiKey] = &cp
}

func (r *MemoryRepository) CreateUser(ctx context.Context, u *models.RegisteredUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, ok := r.emails[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, u.Email)
	}

	cp := *u
	r.users[u.ID] = &cp
	r.emails[key] = u.ID
	return nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*models.RegisteredUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*models.RegisteredUser, error) {
	r.mu.RLock()
	id, ok := r.emails[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetUserByID(ctx, id)
}

func (r *MemoryRepository) ListUsers(ctx context.Context, filters models.UserFilters) ([]*models.RegisteredUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*models.RegisteredUser, 0, len(r.users))
	for _, u := range r.users {
		if filters.InterestedArea != "" && u.InterestedArea != filters.InterestedArea {
			continue
		}
		cp := *u
		users = append(users, &cp)
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(users) {
			return []*models.RegisteredUser{}, nil
		}
		users = users[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(users) {
		users = users[:filters.Limit]
	}

	return users, nil
}

func (r *MemoryRepository) DeleteUser(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	delete(r.emails, strings.ToLower(u.Email))
	delete(r.users, id)
	return nil
}

func (r *MemoryRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		now := time.Now()
		c.LastUsedAt = &now
	}
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
