package services

import (
	"context"
)

// Provider is an external dependency the engine needs to serve requests
type Provider interface {
	// Type returns the dependency kind, e.g. "postgres"
	Type() string

	// HealthCheck checks if the dependency is available
	HealthCheck(ctx context.Context) error
}

// BaseProvider provides common functionality for providers
type BaseProvider struct {
	serviceType string
}

// Type returns the service type
func (p *BaseProvider) Type() string {
	return p.serviceType
}

// CheckFunc adapts a plain function to Provider
type CheckFunc struct {
	BaseProvider
	check func(ctx context.Context) error
}

// NewCheckFunc creates a provider whose health is reported by check
func NewCheckFunc(serviceType string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{BaseProvider: BaseProvider{serviceType: serviceType}, check: check}
}

// HealthCheck runs the wrapped function
func (p *CheckFunc) HealthCheck(ctx context.Context) error {
	return p.check(ctx)
}
