// Package session runs diagnostic sessions: it owns one diagnostic state per
// session id, persists it in a Store and calls the identity, chat and payment
// collaborators on the session's behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/diagnostic"
	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/payment"
)

// Common errors
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session has expired")
	ErrSessionBusy          = errors.New("session has an operation in progress")
	ErrResultNotReady       = errors.New("diagnostic has not produced a result yet")
	ErrChatNotAvailable     = errors.New("chat is available once the diagnostic has a result")
	ErrNoChat               = errors.New("no chat session started")
	ErrCheckoutNotAvailable = errors.New("checkout is only available on the service options stage")
	ErrServiceNotFound      = errors.New("service option not found")
)

var timeNow = time.Now

// finishTimeout bounds the store calls that record the outcome of an
// external call. They run detached from the request context.
const finishTimeout = 10 * time.Second

// Catalog is the part of the question catalog the manager reads
type Catalog interface {
	diagnostic.Catalog
	GetArea(id models.LawAreaID) *models.LawArea
	LegalFramework(id models.LawAreaID) string
	ListServices() []models.ServiceOption
	GetService(id string) *models.ServiceOption
}

// Identity registers and resolves users
type Identity interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisteredUser, error)
	Lookup(ctx context.Context, id string) (*models.RegisteredUser, error)
}

// Payments lists gateways and charges services
type Payments interface {
	Options() []payment.Option
	Charge(ctx context.Context, c payment.Charge) (*payment.Result, error)
}

// Options holds the tunables of the manager
type Options struct {
	TTL                     time.Duration
	ResultsDelay            time.Duration
	RecommendationThreshold int
	// PendingTimeout is how long a pending marker blocks mutations before
	// it is treated as abandoned
	PendingTimeout          time.Duration
}

// View is a session plus the question waiting for an answer
type View struct {
	*models.DiagnosticSession
	Question *diagnostic.Prompt `json:"question,omitempty"`
}

// Result is the outcome shown once the diagnostic reaches the results stage
type Result struct {
	SessionID      string                    `json:"session_id"`
	Stage          models.TestStage          `json:"stage"`
	Area           models.LawArea            `json:"area"`
	Votes          map[models.LawAreaID]int  `json:"votes"`
	Fallback       bool                      `json:"fallback"`
	Summary        diagnostic.Summary        `json:"summary"`
	Recommendation diagnostic.Recommendation `json:"recommendation"`
}

// CheckoutResult is a successful purchase
type CheckoutResult struct {
	Payment *models.PaymentRecord `json:"payment,omitempty"`
	Chat    *models.ChatSession   `json:"chat,omitempty"`
}

// Manager drives diagnostic sessions. Operations on the same session are
// serialized; different sessions never share mutable state.
type Manager struct {
	store    Store
	catalog  Catalog
	identity Identity
	chat     chat.Client
	payments Payments
	opts     Options

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is dropped from the map once no caller holds or waits on it
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a new session manager
func NewManager(store Store, catalog Catalog, identity Identity, chatClient chat.Client, payments Payments, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	if opts.ResultsDelay < 0 {
		opts.ResultsDelay = 0
	}
	if opts.RecommendationThreshold <= 0 {
		opts.RecommendationThreshold = diagnostic.DefaultRecommendationThreshold
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = 3 * time.Minute
	}

	return &Manager{
		store:    store,
		catalog:  catalog,
		identity: identity,
		chat:     chatClient,
		payments: payments,
		opts:     opts,
		locks:    make(map[string]*sessionLock),
	}
}

// lock serializes operations on one session id
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Ping checks the session store
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Start opens a new session. A non-empty userID must name a registered
// user and skips the registration stage.
func (m *Manager) Start(ctx context.Context, userID string) (*View, error) {
	if userID != "" {
		if _, err := m.identity.Lookup(ctx, userID); err != nil {
			return nil, err
		}
	}

	state, err := diagnostic.NewState(userID, m.catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize diagnostic: %w", err)
	}

	now := timeNow()
	sess := &models.DiagnosticSession{
		ID:        uuid.New().String(),
		State:     state,
		CreatedAt: now,
	}
	m.enteredResults(sess, models.StageRegistration, now)

	if err := m.save(ctx, sess, now); err != nil {
		return nil, err
	}

	slog.Info("diagnostic session started",
		"id", sess.ID,
		"user", userID,
		"stage", sess.State.Stage,
	)

	return m.view(sess), nil
}

// Get returns a session, completing the results simulation when its delay has passed
func (m *Manager) Get(ctx context.Context, id string) (*View, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, now, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.resultsDue(sess, now) {
		if err := m.apply(sess, diagnostic.ResultsReady{}); err != nil {
			return nil, err
		}
		sess.ResultsReadyAt = nil
		if err := m.save(ctx, sess, now); err != nil {
			return nil, err
		}
	}

	return m.view(sess), nil
}

// Register validates and stores the registration form, then starts Stage One
func (m *Manager) Register(ctx context.Context, id string, req models.RegisterRequest) (*View, *models.RegisteredUser, error) {
	if err := m.begin(ctx, id, models.PendingRegistration, func(s *models.DiagnosticSession) error {
		if s.State.Stage != models.StageRegistration {
			return fmt.Errorf("%w: registration in %s", diagnostic.ErrEventNotAccepted, s.State.Stage)
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}

	user, regErr := m.identity.Register(ctx, req)

	var view *View
	err := m.finish(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if regErr != nil {
			return nil
		}
		if err := m.apply(s, diagnostic.Registered{UserID: user.ID}); err != nil {
			return err
		}
		m.enteredResults(s, models.StageRegistration, now)
		view = m.view(s)
		return nil
	})
	if regErr != nil {
		return nil, nil, regErr
	}
	if err != nil {
		return nil, nil, err
	}

	return view, user, nil
}

// SubmitAnswer applies the answer to the question under the cursor
func (m *Manager) SubmitAnswer(ctx context.Context, id string, answer models.Answer) (*View, error) {
	return m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		before := s.State.Stage
		if err := m.apply(s, diagnostic.AnswerSubmitted{Answer: answer}); err != nil {
			return err
		}
		m.enteredResults(s, before, now)
		return nil
	})
}

// Advance ends the results simulation right away
func (m *Manager) Advance(ctx context.Context, id string) (*View, error) {
	return m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if err := m.apply(s, diagnostic.ResultsReady{}); err != nil {
			return err
		}
		s.ResultsReadyAt = nil
		return nil
	})
}

// Reset restarts the diagnostic and tears down the chat conversation.
// Payments already made are kept.
func (m *Manager) Reset(ctx context.Context, id string, hard bool) (*View, error) {
	return m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if err := m.apply(s, diagnostic.Reset{Hard: hard}); err != nil {
			return err
		}
		s.ResultsReadyAt = nil
		s.Chat = nil
		m.enteredResults(s, models.StageRegistration, now)
		return nil
	})
}

// Result builds the determined area, summary and ranked service options
func (m *Manager) Result(ctx context.Context, id string) (*Result, error) {
	view, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.result(view.DiagnosticSession)
}

func (m *Manager) result(s *models.DiagnosticSession) (*Result, error) {
	st := s.State
	if st.DeterminedArea == nil || (st.Stage != models.StageResultsSimulation && st.Stage != models.StageServiceOptions) {
		return nil, fmt.Errorf("%w: stage %s", ErrResultNotReady, st.Stage)
	}

	area := *st.DeterminedArea
	summary := diagnostic.Summarize(diagnostic.InputFor(st, m.catalog, m.catalog.LegalFramework(area.ID)))

	votes := st.Votes
	if votes == nil {
		votes = map[models.LawAreaID]int{}
	}

	return &Result{
		SessionID: s.ID,
		Stage:     st.Stage,
		Area:      area,
		Votes:     votes,
		Fallback:  st.Fallback,
		Summary:   summary,
		Recommendation: diagnostic.Recommend(
			area,
			diagnostic.AffirmativeCount(st.StageTwoAnswers),
			m.catalog.ListServices(),
			m.opts.RecommendationThreshold,
		),
	}, nil
}

// StartChat opens the assistant conversation seeded with the diagnostic
// summary. An open conversation is returned as is.
func (m *Manager) StartChat(ctx context.Context, id, mode string) (*models.ChatSession, error) {
	var started *models.ChatSession
	_, err := m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if s.Chat != nil {
			started = s.Chat
			return nil
		}
		c, err := m.openChat(s, mode)
		if err != nil {
			return err
		}
		s.Chat = c
		started = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

func (m *Manager) openChat(s *models.DiagnosticSession, mode string) (*models.ChatSession, error) {
	res, err := m.result(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChatNotAvailable, err)
	}

	c, err := chat.NewSession(res.Area.ID, mode, res.Summary.Text)
	if err != nil {
		return nil, err
	}

	slog.Info("chat session started", "id", s.ID, "chat_id", c.ID, "area", c.AreaID, "mode", c.Mode)
	return c, nil
}

// SendChat sends one user turn and records both turns on the conversation
func (m *Manager) SendChat(ctx context.Context, id, text string, img *chat.Image) (*models.ChatMessage, error) {
	if err := chat.ValidateTurn(text, img); err != nil {
		return nil, err
	}

	var snapshot models.ChatSession
	if err := m.begin(ctx, id, models.PendingChat, func(s *models.DiagnosticSession) error {
		if s.Chat == nil {
			return ErrNoChat
		}
		snapshot = *s.Chat
		return nil
	}); err != nil {
		return nil, err
	}

	reply, sendErr := m.chat.Send(ctx, &snapshot, text, img)

	var msg *models.ChatMessage
	err := m.finish(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if sendErr != nil {
			return nil
		}
		if s.Chat == nil || s.Chat.ID != snapshot.ID {
			return ErrNoChat
		}
		chat.Append(s.Chat, chat.RoleUser, text)
		chat.Append(s.Chat, chat.RoleAssistant, reply)
		last := s.Chat.History[len(s.Chat.History)-1]
		msg = &last
		return nil
	})
	if sendErr != nil {
		return nil, sendErr
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// EndChat discards the conversation
func (m *Manager) EndChat(ctx context.Context, id string) error {
	_, err := m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if s.Chat == nil {
			return ErrNoChat
		}
		s.Chat = nil
		return nil
	})
	return err
}

// PaymentOptions lists the available gateways
func (m *Manager) PaymentOptions() []payment.Option {
	return m.payments.Options()
}

// Checkout buys a service option. Free chat services open the chat without
// a charge. A failed charge is recorded and leaves the stage unchanged.
func (m *Manager) Checkout(ctx context.Context, id, serviceID, gateway string) (*CheckoutResult, error) {
	svc := m.catalog.GetService(serviceID)
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}

	checkStage := func(s *models.DiagnosticSession) error {
		if s.State.Stage != models.StageServiceOptions {
			return fmt.Errorf("%w: stage %s", ErrCheckoutNotAvailable, s.State.Stage)
		}
		return nil
	}

	if svc.IsQuoteOnRequest() && svc.Action == models.ActionChatRedirect {
		out := &CheckoutResult{}
		_, err := m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
			if err := checkStage(s); err != nil {
				return err
			}
			return m.redirectToChat(s, svc, out)
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	if svc.IsQuoteOnRequest() {
		return nil, fmt.Errorf("%w: %s", payment.ErrNotChargeable, svc.ID)
	}

	if err := m.begin(ctx, id, models.PendingPayment, checkStage); err != nil {
		return nil, err
	}

	res, chargeErr := m.payments.Charge(ctx, payment.Charge{SessionID: id, Service: *svc, Gateway: gateway})

	out := &CheckoutResult{}
	err := m.finish(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		record := models.PaymentRecord{
			ID:        uuid.New().String(),
			ServiceID: svc.ID,
			Gateway:   gateway,
			Amount:    svc.Price,
			Success:   chargeErr == nil,
			CreatedAt: now,
		}
		if res != nil {
			record.Reference = res.Reference
		}
		s.Payments = append(s.Payments, record)

		if chargeErr != nil {
			return nil
		}
		out.Payment = &record
		if svc.Action == models.ActionChatRedirect {
			return m.redirectToChat(s, svc, out)
		}
		return nil
	})
	if chargeErr != nil {
		return nil, chargeErr
	}
	if err != nil {
		return nil, err
	}

	slog.Info("service purchased", "id", id, "service_id", svc.ID, "gateway", gateway)
	return out, nil
}

func (m *Manager) redirectToChat(s *models.DiagnosticSession, svc *models.ServiceOption, out *CheckoutResult) error {
	mode := chat.ModeForTier(svc.Tier)
	if s.Chat != nil && s.Chat.Mode == mode {
		out.Chat = s.Chat
		return nil
	}
	c, err := m.openChat(s, mode)
	if err != nil {
		return err
	}
	s.Chat = c
	out.Chat = c
	return nil
}

// Delete removes a session
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("diagnostic session deleted", "id", id, "stage", sess.State.Stage)
	return nil
}

// GetExpired returns sessions idle past their TTL
func (m *Manager) GetExpired(ctx context.Context) ([]*models.DiagnosticSession, error) {
	return m.store.ListExpired(ctx, timeNow())
}

// Count returns the number of stored sessions
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// --- internals ---

func (m *Manager) load(ctx context.Context, id string) (*models.DiagnosticSession, time.Time, error) {
	now := timeNow()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, now, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil, now, ErrSessionNotFound
	}
	if sess.IsExpired(now) {
		return nil, now, ErrSessionExpired
	}

	return sess, now, nil
}

// save refreshes the idle TTL and persists the session
func (m *Manager) save(ctx context.Context, s *models.DiagnosticSession, now time.Time) error {
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.opts.TTL)

	if err := m.store.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (m *Manager) apply(s *models.DiagnosticSession, ev diagnostic.Event) error {
	next, err := diagnostic.Transition(s.State, ev, m.catalog)
	if err != nil {
		return err
	}
	s.State = next
	return nil
}

// enteredResults arms the results delay when the state just reached the
// results stage; a zero delay completes it immediately
func (m *Manager) enteredResults(s *models.DiagnosticSession, before models.TestStage, now time.Time) {
	if before == models.StageResultsSimulation || s.State.Stage != models.StageResultsSimulation {
		return
	}

	if m.opts.ResultsDelay == 0 {
		if next, err := diagnostic.Transition(s.State, diagnostic.ResultsReady{}, m.catalog); err == nil {
			s.State = next
			s.ResultsReadyAt = nil
		}
		return
	}

	readyAt := now.Add(m.opts.ResultsDelay)
	s.ResultsReadyAt = &readyAt
}

func (m *Manager) resultsDue(s *models.DiagnosticSession, now time.Time) bool {
	return s.State.Stage == models.StageResultsSimulation &&
		s.ResultsReadyAt != nil &&
		!now.Before(*s.ResultsReadyAt)
}

// mutate runs fn on a loaded session under its lock and saves the result.
// Sessions with an external call in flight are rejected.
func (m *Manager) mutate(ctx context.Context, id string, fn func(s *models.DiagnosticSession, now time.Time) error) (*View, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, now, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Pending != models.PendingNone {
		if !m.pendingAbandoned(sess, now) {
			return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sess.Pending)
		}
		slog.Warn("clearing abandoned pending operation",
			"id", id,
			"pending", sess.Pending,
			"since", sess.PendingSince,
		)
		sess.Pending = models.PendingNone
		sess.PendingSince = nil
	}

	if m.resultsDue(sess, now) {
		if err := m.apply(sess, diagnostic.ResultsReady{}); err != nil {
			return nil, err
		}
		sess.ResultsReadyAt = nil
	}

	if err := fn(sess, now); err != nil {
		return nil, err
	}
	if err := m.save(ctx, sess, now); err != nil {
		return nil, err
	}

	return m.view(sess), nil
}

// begin marks the session as waiting on an external call after check passes
func (m *Manager) begin(ctx context.Context, id string, op models.PendingOp, check func(s *models.DiagnosticSession) error) error {
	_, err := m.mutate(ctx, id, func(s *models.DiagnosticSession, now time.Time) error {
		if err := check(s); err != nil {
			return err
		}
		s.Pending = op
		s.PendingSince = &now
		return nil
	})
	return err
}

// pendingAbandoned reports whether the pending marker outlived PendingTimeout.
// A marker without a start time cannot be aged and counts as abandoned.
func (m *Manager) pendingAbandoned(s *models.DiagnosticSession, now time.Time) bool {
	return s.PendingSince == nil || !now.Before(s.PendingSince.Add(m.opts.PendingTimeout))
}

// finish clears the pending marker and applies fn. The marker is cleared
// even when fn fails, and the store calls ignore cancellation of ctx so a
// caller that went away mid-call does not leave the session blocked. If the
// store itself fails the marker expires after PendingTimeout.
func (m *Manager) finish(ctx context.Context, id string, fn func(s *models.DiagnosticSession, now time.Time) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	unlock := m.lock(id)
	defer unlock()

	sess, now, err := m.load(ctx, id)
	if err != nil {
		slog.Error("failed to clear pending operation", "id", id, "error", err)
		return err
	}
	sess.Pending = models.PendingNone
	sess.PendingSince = nil

	fnErr := fn(sess, now)
	if err := m.save(ctx, sess, now); err != nil {
		return err
	}
	return fnErr
}

func (m *Manager) view(s *models.DiagnosticSession) *View {
	v := &View{DiagnosticSession: s}
	if p, ok := diagnostic.CurrentPrompt(s.State, m.catalog); ok {
		v.Question = &p
	}
	return v
}
