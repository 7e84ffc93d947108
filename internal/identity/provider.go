// Package identity registers the person taking the diagnostic
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/storage"
)

var (
	// ErrUserNotFound is returned by Lookup for an unknown id
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailRegistered is returned when the email already belongs to a
	// user. The stored record is never handed back to the caller.
	ErrEmailRegistered = errors.New("email is already registered")
)

const minNameLength = 2

var timeNow = time.Now

// ValidationError lists the registration fields that failed, keyed by field name
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid registration: " + strings.Join(parts, "; ")
}

// AreaRegistry resolves area ids; nil means not registered
type AreaRegistry interface {
	GetArea(id models.LawAreaID) *models.LawArea
}

// Provider validates registrations and persists them in a Repository
type Provider struct {
	repo  storage.Repository
	areas AreaRegistry
}

// NewProvider creates a new identity provider
func NewProvider(repo storage.Repository, areas AreaRegistry) *Provider {
	return &Provider{repo: repo, areas: areas}
}

// Validate checks a registration form without touching storage
func (p *Provider) Validate(req models.RegisterRequest) error {
	fields := make(map[string]string)

	if len([]rune(strings.TrimSpace(req.Name))) < minNameLength {
		fields["name"] = fmt.Sprintf("must have at least %d characters", minNameLength)
	}

	if addr, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil || addr.Name != "" {
		fields["email"] = "must be a valid email address"
	}

	if req.InterestedArea == "" {
		fields["interested_area"] = "is required"
	} else if p.areas.GetArea(req.InterestedArea) == nil {
		fields["interested_area"] = fmt.Sprintf("unknown area %q", req.InterestedArea)
	}

	if !req.DataPolicyAccepted {
		fields["data_policy_accepted"] = "the data policy must be accepted"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Register validates the form and stores a new user. An email that is
// already registered fails with ErrEmailRegistered.
func (p *Provider) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisteredUser, error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := p.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	if existing != nil {
		slog.Warn("registration with an email already in use", "user_id", existing.ID)
		return nil, ErrEmailRegistered
	}

	user := &models.RegisteredUser{
		ID:                 uuid.New().String(),
		Name:               strings.TrimSpace(req.Name),
		Email:              email,
		InterestedArea:     req.InterestedArea,
		DataPolicyAccepted: req.DataPolicyAccepted,
		CreatedAt:          timeNow().UTC(),
	}

	if err := p.repo.CreateUser(ctx, user); err != nil {
		// lost a race with a concurrent registration of the same email
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return nil, ErrEmailRegistered
		}
		return nil, fmt.Errorf("failed to save registration: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID, "interested_area", user.InterestedArea)
	return user, nil
}

// Lookup returns a registered user by id
func (p *Provider) Lookup(ctx context.Context, id string) (*models.RegisteredUser, error) {
	user, err := p.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return user, nil
}

// List returns registered users for operators
func (p *Provider) List(ctx context.Context, filters models.UserFilters) ([]*models.RegisteredUser, error) {
	users, err := p.repo.ListUsers(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*models.RegisteredUser{}
	}
	return users, nil
}

// Delete erases a registered user
func (p *Provider) Delete(ctx context.Context, id string) error {
	if _, err := p.Lookup(ctx, id); err != nil {
		return err
	}
	if err := p.repo.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted", "user_id", id)
	return nil
}
