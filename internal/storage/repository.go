package storage

import (
	"context"
	"errors"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// ErrDuplicateEmail is returned when a user with the same email already exists
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines the interface for lead and operator persistence.
// Diagnostic sessions are transient and live in a session store instead.
type Repository interface {
	// Registered users
	CreateUser(ctx context.Context, u *models.RegisteredUser) error
	GetUserByID(ctx context.Context, id string) (*models.RegisteredUser, error)
	GetUserByEmail(ctx context.Context, email string) (*models.RegisteredUser, error)
	ListUsers(ctx context.Context, filters models.UserFilters) ([]*models.RegisteredUser, error)
	DeleteUser(ctx context.Context, id string) error

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
