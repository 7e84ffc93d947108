// Package payment presents payment gateways and charges service options.
// Only a simulated gateway ships; real processors plug in through Gateway.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

var (
	ErrGatewayNotFound = errors.New("payment gateway not found")
	ErrDeclined        = errors.New("payment declined")
	ErrNotChargeable   = errors.New("service is quoted on request and cannot be charged")
)

// Option describes a gateway for the checkout screen
type Option struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Charge is a request to pay for one service option
type Charge struct {
	SessionID string
	Service   models.ServiceOption
	Gateway   string
}

// Result is a confirmed charge
type Result struct {
	Reference string    `json:"reference"`
	Gateway   string    `json:"gateway"`
	Amount    int       `json:"amount"`
	ChargedAt time.Time `json:"charged_at"`
}

// Gateway processes charges
type Gateway interface {
	Option() Option
	Charge(ctx context.Context, c Charge) (*Result, error)
}

// Registry holds the configured gateways
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates a registry with the given gateways
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a gateway
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Option().ID] = g
}

// Options lists the gateways, sorted by id
func (r *Registry) Options() []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()

	options := make([]Option, 0, len(r.gateways))
	for _, g := range r.gateways {
		options = append(options, g.Option())
	}
	sort.Slice(options, func(i, j int) bool { return options[i].ID < options[j].ID })
	return options
}

// Charge routes a charge to its gateway
func (r *Registry) Charge(ctx context.Context, c Charge) (*Result, error) {
	if c.Service.IsQuoteOnRequest() {
		return nil, fmt.Errorf("%w: %s", ErrNotChargeable, c.Service.ID)
	}

	r.mu.RLock()
	g, ok := r.gateways[c.Gateway]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, c.Gateway)
	}

	slog.Info("charging service",
		"session_id", c.SessionID,
		"service_id", c.Service.ID,
		"gateway", c.Gateway,
		"amount", c.Service.Price,
	)

	res, err := g.Charge(ctx, c)
	if err != nil {
		slog.Warn("charge failed", "session_id", c.SessionID, "gateway", c.Gateway, "error", err)
		return nil, err
	}

	return res, nil
}

// SimulatedGateway waits Delay and then confirms or declines the charge
// according to Outcome. A nil Outcome always confirms.
type SimulatedGateway struct {
	ID      string
	Name    string
	Delay   time.Duration
	Outcome func(c Charge) bool
}

// DefaultGatewayNames are the display names of the simulated gateways
var DefaultGatewayNames = map[string]string{
	"card":   "Tarjeta de crédito o débito",
	"pse":    "PSE - Débito bancario",
	"nequi":  "Nequi",
	"wallet": "Billetera digital",
}

// NewSimulatedGateways builds one simulated gateway per id with a shared
// delay and outcome
func NewSimulatedGateways(ids []string, delay time.Duration, outcome func(c Charge) bool) []Gateway {
	gateways := make([]Gateway, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		name, ok := DefaultGatewayNames[id]
		if !ok {
			name = id
		}
		gateways = append(gateways, &SimulatedGateway{ID: id, Name: name, Delay: delay, Outcome: outcome})
	}
	return gateways
}

// Option returns the gateway description
func (g *SimulatedGateway) Option() Option {
	return Option{ID: g.ID, Name: g.Name, Description: "Pago simulado"}
}

// Charge simulates the processor round trip
func (g *SimulatedGateway) Charge(ctx context.Context, c Charge) (*Result, error) {
	if g.Delay > 0 {
		timer := time.NewTimer(g.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if g.Outcome != nil && !g.Outcome(c) {
		return nil, fmt.Errorf("%w by %s", ErrDeclined, g.ID)
	}

	return &Result{
		Reference: "SIM-" + strings.ToUpper(uuid.New().String()[:8]),
		Gateway:   g.ID,
		Amount:    c.Service.Price,
		ChargedAt: time.Now().UTC(),
	}, nil
}

// Always returns a fixed outcome function
func Always(success bool) func(c Charge) bool {
	return func(Charge) bool { return success }
}
