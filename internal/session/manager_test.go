package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/legal-diagnostic/internal/catalog"
	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/diagnostic"
	"github.com/terra-clan/legal-diagnostic/internal/identity"
	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/payment"
	"github.com/terra-clan/legal-diagnostic/internal/storage"
)

type fakeChat struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, s *models.ChatSession, text string, img *chat.Image) (string, error)
}

func (f *fakeChat) Send(ctx context.Context, s *models.ChatSession, text string, img *chat.Image) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, s, text, img)
	}
	return "respuesta a: " + text, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	manager  *Manager
	catalog  *catalog.Loader
	repo     *storage.MemoryRepository
	store    *MemoryStore
	chat     *fakeChat
	payments *payment.Registry
	clock    *testClock
	success  bool
	onCharge func()

	registrations int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	timeNow = clock.Now
	t.Cleanup(func() { timeNow = time.Now })

	loader := catalog.NewLoader()
	require.NoError(t, loader.LoadDefaults())

	h := &harness{
		catalog: loader,
		repo:    storage.NewMemoryRepository(),
		store:   NewMemoryStore(),
		chat:    &fakeChat{},
		clock:   clock,
		success: true,
	}
	h.payments = payment.NewRegistry(payment.NewSimulatedGateways([]string{"card", "pse"}, 0, func(payment.Charge) bool {
		if h.onCharge != nil {
			h.onCharge()
		}
		return h.success
	})...)

	h.manager = h.managerOver(h.store)
	return h
}

// managerOver builds a manager on store with the harness collaborators
func (h *harness) managerOver(store Store) *Manager {
	return NewManager(store, h.catalog, identity.NewProvider(h.repo, h.catalog), h.chat, h.payments, Options{
		TTL:                     time.Hour,
		ResultsDelay:            1500 * time.Millisecond,
		RecommendationThreshold: 2,
		PendingTimeout:          3 * time.Minute,
	})
}

// cancelAwareStore fails on a cancelled context the way a network store does
type cancelAwareStore struct {
	Store
}

func (s *cancelAwareStore) Get(ctx context.Context, id string) (*models.DiagnosticSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, id)
}

func (s *cancelAwareStore) Save(ctx context.Context, sess *models.DiagnosticSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Save(ctx, sess)
}

func (h *harness) lockCount() int {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()
	return len(h.manager.locks)
}

func registration() models.RegisterRequest {
	return models.RegisterRequest{
		Name:               "Ana Pérez",
		Email:              "ana@example.com",
		InterestedArea:     models.AreaLabor,
		DataPolicyAccepted: true,
	}
}

// answerStageOne answers every Stage-One question, yes for the listed ids
func (h *harness) answerStageOne(t *testing.T, id string, yes ...string) *View {
	t.Helper()
	set := map[string]bool{}
	for _, y := range yes {
		set[y] = true
	}

	var view *View
	for _, q := range h.catalog.StageOneQuestions() {
		var err error
		view, err = h.manager.SubmitAnswer(context.Background(), id, models.YesNo(q.ID, set[q.ID]))
		require.NoError(t, err)
	}
	return view
}

func (h *harness) answerStageTwo(t *testing.T, id string, yes ...string) *View {
	t.Helper()
	set := map[string]bool{}
	for _, y := range yes {
		set[y] = true
	}

	var view *View
	for view == nil || view.State.Stage == models.StageTwo {
		current, err := h.manager.Get(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, current.Question)
		view, err = h.manager.SubmitAnswer(context.Background(), id, models.YesNo(current.Question.ID, set[current.Question.ID]))
		require.NoError(t, err)
	}
	return view
}

// registered starts a session and registers a new user
func (h *harness) registered(t *testing.T) string {
	t.Helper()
	view, err := h.manager.Start(context.Background(), "")
	require.NoError(t, err)

	h.registrations++
	req := registration()
	req.Email = fmt.Sprintf("ana.%d@example.com", h.registrations)
	_, _, err = h.manager.Register(context.Background(), view.ID, req)
	require.NoError(t, err)
	return view.ID
}

// atServiceOptions runs a labor diagnostic with two yes answers through to the end
func (h *harness) atServiceOptions(t *testing.T) string {
	t.Helper()
	id := h.registered(t)
	h.answerStageOne(t, id, "s1_employment")
	h.answerStageTwo(t, id, "lab_dismissal", "lab_severance")
	_, err := h.manager.Advance(context.Background(), id)
	require.NoError(t, err)
	return id
}

func TestManager_StartAnonymous(t *testing.T) {
	h := newHarness(t)

	view, err := h.manager.Start(context.Background(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, models.StageRegistration, view.State.Stage)
	assert.Nil(t, view.Question)
	assert.Equal(t, h.clock.Now().Add(time.Hour), view.ExpiresAt)
}

func TestManager_StartWithExternalIdentity(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Start(context.Background(), "unknown")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	require.NoError(t, h.repo.CreateUser(context.Background(), &models.RegisteredUser{ID: "crm-42", Name: "Luis", Email: "luis@example.com"}))
	view, err := h.manager.Start(context.Background(), "crm-42")
	require.NoError(t, err)
	assert.Equal(t, models.StageOne, view.State.Stage)
	assert.True(t, view.State.IdentityExternal)
	require.NotNil(t, view.Question)
	assert.Equal(t, "s1_employment", view.Question.ID)
}

func TestManager_LaborDiagnosticEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.manager.Start(ctx, "")
	require.NoError(t, err)

	view, user, err := h.manager.Register(ctx, start.ID, registration())
	require.NoError(t, err)
	assert.Equal(t, models.StageOne, view.State.Stage)
	assert.Equal(t, user.ID, view.State.UserID)
	assert.Equal(t, models.PendingNone, view.Pending)

	view = h.answerStageOne(t, start.ID, "s1_employment")
	require.Equal(t, models.StageTwo, view.State.Stage)
	assert.Equal(t, models.AreaLabor, view.State.DeterminedArea.ID)
	assert.Equal(t, "lab_dismissal", view.Question.ID)

	view = h.answerStageTwo(t, start.ID, "lab_dismissal", "lab_severance")
	require.Equal(t, models.StageResultsSimulation, view.State.Stage)
	require.NotNil(t, view.ResultsReadyAt)

	res, err := h.manager.Result(ctx, start.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageResultsSimulation, res.Stage)
	assert.Contains(t, res.Summary.Text, "(Ref: CST, Art. 64)")
	assert.Contains(t, res.Summary.Text, "(Ref: CST, Art. 249)")
	assert.Contains(t, res.Summary.Text, "Marco legal aplicable:")
	assert.Equal(t, []models.ServiceTier{models.TierPremiumChat, models.TierSpecialist}, res.Recommendation.Tiers)
	assert.Equal(t, 1, res.Votes[models.AreaLabor])
	assert.False(t, res.Fallback)

	h.clock.Advance(time.Second)
	view, err = h.manager.Get(ctx, start.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageResultsSimulation, view.State.Stage, "delay not elapsed")

	h.clock.Advance(time.Second)
	view, err = h.manager.Get(ctx, start.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageServiceOptions, view.State.Stage)
	assert.Nil(t, view.ResultsReadyAt)
}

func TestManager_AllNegativeFallsBackToFirstImplementedArea(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t)

	view := h.answerStageOne(t, id)
	assert.Equal(t, models.AreaLabor, view.State.DeterminedArea.ID)
	assert.True(t, view.State.Fallback)
	assert.Equal(t, models.StageTwo, view.State.Stage)
}

func TestManager_NoDetailsSummaryNamesArea(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t)

	h.answerStageOne(t, id, "s1_ai_systems")
	h.answerStageTwo(t, id)

	res, err := h.manager.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AreaAIEthics, res.Area.ID)
	assert.Contains(t, res.Summary.Text, "Su consulta está relacionada con Ética y Cumplimiento en IA, pero no proporcionó detalles específicos sobre su situación.")
	assert.Equal(t, []models.ServiceTier{models.TierAutoAssistance}, res.Recommendation.Tiers)
	assert.Len(t, res.Recommendation.Options, len(h.catalog.ListServices()))
}

func TestManager_AreaWithoutStageTwoGoesToResults(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t)

	view := h.answerStageOne(t, id, "s1_company")
	assert.Equal(t, models.AreaCommercial, view.State.DeterminedArea.ID)
	assert.Equal(t, models.StageResultsSimulation, view.State.Stage)
	assert.NotNil(t, view.ResultsReadyAt)
}

func TestManager_ZeroDelaySkipsStraightToServiceOptions(t *testing.T) {
	h := newHarness(t)
	h.manager.opts.ResultsDelay = 0
	id := h.registered(t)

	view := h.answerStageOne(t, id, "s1_company")
	assert.Equal(t, models.StageServiceOptions, view.State.Stage)
	assert.Nil(t, view.ResultsReadyAt)
}

func TestManager_RegisterValidationKeepsStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.manager.Start(ctx, "")
	require.NoError(t, err)

	req := registration()
	req.DataPolicyAccepted = false
	_, _, err = h.manager.Register(ctx, view.ID, req)

	var verr *identity.ValidationError
	require.ErrorAs(t, err, &verr)

	after, err := h.manager.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageRegistration, after.State.Stage)
	assert.Equal(t, models.PendingNone, after.Pending)

	_, _, err = h.manager.Register(ctx, view.ID, registration())
	require.NoError(t, err)
	_, _, err = h.manager.Register(ctx, view.ID, registration())
	assert.ErrorIs(t, err, diagnostic.ErrEventNotAccepted)
}

func TestManager_AnswerErrorsLeaveSessionUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.registered(t)

	before, err := h.manager.Get(ctx, id)
	require.NoError(t, err)

	_, err = h.manager.SubmitAnswer(ctx, id, models.YesNo("s1_crime", true))
	assert.ErrorIs(t, err, diagnostic.ErrQuestionMismatch)

	_, err = h.manager.SubmitAnswer(ctx, id, models.TextAnswer("s1_employment", "sí"))
	assert.ErrorIs(t, err, diagnostic.ErrAnswerKind)

	after, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)

	_, err = h.manager.SubmitAnswer(ctx, "missing", models.YesNo("s1_employment", true))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_AdvanceOnlyDuringResults(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t)

	_, err := h.manager.Advance(context.Background(), id)
	assert.ErrorIs(t, err, diagnostic.ErrEventNotAccepted)

	_, err = h.manager.Result(context.Background(), id)
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestManager_Reset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.atServiceOptions(t)

	_, err := h.manager.StartChat(ctx, id, chat.ModeAuto)
	require.NoError(t, err)

	view, err := h.manager.Reset(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, models.StageOne, view.State.Stage)
	assert.NotEmpty(t, view.State.UserID)
	assert.Nil(t, view.State.DeterminedArea)
	assert.Nil(t, view.Chat)
	assert.Empty(t, view.State.StageOneAnswers)

	again, err := h.manager.Reset(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, view.State.Stage, again.State.Stage)
	assert.Equal(t, view.State.UserID, again.State.UserID)
	assert.Equal(t, view.State.Cursor, again.State.Cursor)

	hard, err := h.manager.Reset(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, models.StageRegistration, hard.State.Stage)
	assert.Empty(t, hard.State.UserID)
}

func TestManager_Chat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.registered(t)

	_, err := h.manager.StartChat(ctx, id, chat.ModeAuto)
	assert.ErrorIs(t, err, ErrChatNotAvailable)

	_, err = h.manager.SendChat(ctx, id, "hola", nil)
	assert.ErrorIs(t, err, ErrNoChat)

	h.answerStageOne(t, id, "s1_employment")
	h.answerStageTwo(t, id, "lab_dismissal")

	c, err := h.manager.StartChat(ctx, id, chat.ModePremium)
	require.NoError(t, err)
	assert.Equal(t, models.AreaLabor, c.AreaID)
	assert.Equal(t, chat.ModePremium, c.Mode)
	assert.Contains(t, c.ContextSummary, "(Ref: CST, Art. 64)")

	same, err := h.manager.StartChat(ctx, id, chat.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, c.ID, same.ID, "open conversation is reused")

	msg, err := h.manager.SendChat(ctx, id, "¿Qué hago?", nil)
	require.NoError(t, err)
	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.Equal(t, "respuesta a: ¿Qué hago?", msg.Content)

	view, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, view.Chat.History, 2)
	assert.Equal(t, chat.RoleUser, view.Chat.History[0].Role)

	h.chat.sendFn = func(ctx context.Context, s *models.ChatSession, text string, img *chat.Image) (string, error) {
		return "", chat.ErrUpstream
	}
	_, err = h.manager.SendChat(ctx, id, "otra", nil)
	assert.ErrorIs(t, err, chat.ErrUpstream)

	view, err = h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, view.Chat.History, 2, "failed turn is not recorded")
	assert.Equal(t, models.PendingNone, view.Pending)

	require.NoError(t, h.manager.EndChat(ctx, id))
	assert.ErrorIs(t, h.manager.EndChat(ctx, id), ErrNoChat)
}

func TestManager_PendingChatBlocksMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.atServiceOptions(t)

	_, err := h.manager.StartChat(ctx, id, chat.ModeAuto)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.chat.sendFn = func(ctx context.Context, s *models.ChatSession, text string, img *chat.Image) (string, error) {
		close(entered)
		<-release
		return "listo", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.manager.SendChat(ctx, id, "hola", nil)
		done <- err
	}()

	<-entered
	view, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PendingChat, view.Pending)

	_, err = h.manager.Reset(ctx, id, false)
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)

	view, err = h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PendingNone, view.Pending)
	assert.Equal(t, models.StageServiceOptions, view.State.Stage)
}

func TestManager_Checkout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	early := h.registered(t)
	_, err := h.manager.Checkout(ctx, early, "premium-chat", "card")
	assert.ErrorIs(t, err, ErrCheckoutNotAvailable)

	id := h.atServiceOptions(t)

	_, err = h.manager.Checkout(ctx, id, "gold-plan", "card")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	_, err = h.manager.Checkout(ctx, id, "document-drafting", "card")
	assert.ErrorIs(t, err, payment.ErrNotChargeable)

	_, err = h.manager.Checkout(ctx, id, "premium-chat", "bitcoin")
	assert.ErrorIs(t, err, payment.ErrGatewayNotFound)

	out, err := h.manager.Checkout(ctx, id, "premium-chat", "card")
	require.NoError(t, err)
	require.NotNil(t, out.Payment)
	assert.True(t, out.Payment.Success)
	assert.Equal(t, 49000, out.Payment.Amount)
	require.NotNil(t, out.Chat)
	assert.Equal(t, chat.ModePremium, out.Chat.Mode)

	view, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StageServiceOptions, view.State.Stage)
	assert.Len(t, view.Payments, 2, "gateway-not-found attempt and the successful charge")
}

func TestManager_CheckoutDeclined(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.atServiceOptions(t)
	h.success = false

	_, err := h.manager.Checkout(ctx, id, "specialist", "pse")
	assert.ErrorIs(t, err, payment.ErrDeclined)

	view, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StageServiceOptions, view.State.Stage)
	assert.Equal(t, models.PendingNone, view.Pending)
	require.Len(t, view.Payments, 1)
	assert.False(t, view.Payments[0].Success)
	assert.Nil(t, view.Chat)
}

func TestManager_FreeAssistanceOpensChat(t *testing.T) {
	h := newHarness(t)
	id := h.atServiceOptions(t)

	out, err := h.manager.Checkout(context.Background(), id, "auto-assistance", "")
	require.NoError(t, err)
	assert.Nil(t, out.Payment)
	require.NotNil(t, out.Chat)
	assert.Equal(t, chat.ModeAuto, out.Chat.Mode)
}

func TestManager_Expiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.manager.Start(ctx, "")
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	_, err = h.manager.Reset(ctx, view.ID, false)
	require.NoError(t, err, "mutations refresh the idle TTL")

	h.clock.Advance(45 * time.Minute)
	_, err = h.manager.Get(ctx, view.ID)
	require.NoError(t, err)

	h.clock.Advance(16 * time.Minute)
	_, err = h.manager.Get(ctx, view.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	expired, err := h.manager.GetExpired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, view.ID, expired[0].ID)

	require.NoError(t, h.manager.Delete(ctx, view.ID))
	assert.ErrorIs(t, h.manager.Delete(ctx, view.ID), ErrSessionNotFound)

	n, err := h.manager.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_ConcurrentAnswersOnOneSessionAreSerialized(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.SubmitAnswer(context.Background(), id, models.YesNo("s1_employment", true))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, diagnostic.ErrQuestionMismatch), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	view, err := h.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, view.State.StageOneAnswers, 1)
	assert.Equal(t, 1, view.State.Cursor)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		view, err := h.manager.Start(context.Background(), "")
		require.NoError(t, err)
		ids[i] = view.ID
	}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for _, q := range h.catalog.StageOneQuestions() {
				// registration has not happened: every answer is rejected
				_, err := h.manager.SubmitAnswer(context.Background(), id, models.YesNo(q.ID, true))
				assert.ErrorIs(t, err, diagnostic.ErrEventNotAccepted)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		view, err := h.manager.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StageRegistration, view.State.Stage)
	}
}

func TestManager_CancelledChatDoesNotLeaveSessionBusy(t *testing.T) {
	h := newHarness(t)
	h.manager = h.managerOver(&cancelAwareStore{Store: h.store})
	id := h.atServiceOptions(t)

	_, err := h.manager.StartChat(context.Background(), id, chat.ModeAuto)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.chat.sendFn = func(ctx context.Context, s *models.ChatSession, text string, img *chat.Image) (string, error) {
		cancel()
		return "", ctx.Err()
	}

	_, err = h.manager.SendChat(ctx, id, "hola", nil)
	assert.ErrorIs(t, err, context.Canceled)

	view, err := h.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.PendingNone, view.Pending)
	assert.Nil(t, view.PendingSince)
	assert.Empty(t, view.Chat.History, "failed turn is not recorded")

	h.chat.sendFn = nil
	msg, err := h.manager.SendChat(context.Background(), id, "hola", nil)
	require.NoError(t, err, "the turn can be retried")
	assert.Equal(t, "respuesta a: hola", msg.Content)

	_, err = h.manager.Reset(context.Background(), id, false)
	assert.NoError(t, err)
}

func TestManager_CancelledCheckoutIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.manager = h.managerOver(&cancelAwareStore{Store: h.store})
	id := h.atServiceOptions(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.onCharge = cancel
	h.success = false

	_, err := h.manager.Checkout(ctx, id, "specialist", "card")
	assert.ErrorIs(t, err, payment.ErrDeclined)

	view, err := h.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.PendingNone, view.Pending)
	assert.Equal(t, models.StageServiceOptions, view.State.Stage)
	require.Len(t, view.Payments, 1)
	assert.False(t, view.Payments[0].Success)

	h.onCharge = nil
	h.success = true
	out, err := h.manager.Checkout(context.Background(), id, "specialist", "card")
	require.NoError(t, err)
	assert.True(t, out.Payment.Success)
}

func TestManager_AbandonedPendingMarkerExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.registered(t)

	sess, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	since := h.clock.Now()
	sess.Pending = models.PendingPayment
	sess.PendingSince = &since
	require.NoError(t, h.store.Save(ctx, sess))

	h.clock.Advance(time.Minute)
	_, err = h.manager.Reset(ctx, id, false)
	assert.ErrorIs(t, err, ErrSessionBusy)

	h.clock.Advance(2 * time.Minute)
	view, err := h.manager.Reset(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, models.PendingNone, view.Pending)
	assert.Nil(t, view.PendingSince)
	assert.Equal(t, models.StageOne, view.State.Stage)
}

func TestManager_LocksAreReleased(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_, err := h.manager.Get(ctx, fmt.Sprintf("missing-%d", i))
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
	assert.Zero(t, h.lockCount())

	id := h.atServiceOptions(t)
	_, err := h.manager.StartChat(ctx, id, chat.ModeAuto)
	require.NoError(t, err)
	_, err = h.manager.SendChat(ctx, id, "hola", nil)
	require.NoError(t, err)
	assert.Zero(t, h.lockCount())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.manager.Get(ctx, id)
		}()
	}
	wg.Wait()
	assert.Zero(t, h.lockCount())
}

func TestManager_RegisterWithEmailInUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.manager.Start(ctx, "")
	require.NoError(t, err)
	_, _, err = h.manager.Register(ctx, first.ID, registration())
	require.NoError(t, err)

	second, err := h.manager.Start(ctx, "")
	require.NoError(t, err)
	view, user, err := h.manager.Register(ctx, second.ID, registration())
	assert.ErrorIs(t, err, identity.ErrEmailRegistered)
	assert.Nil(t, view)
	assert.Nil(t, user)

	after, err := h.manager.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageRegistration, after.State.Stage)
	assert.Empty(t, after.State.UserID)
	assert.Equal(t, models.PendingNone, after.Pending)
}

func TestManager_AreaWithoutStageTwoSummarizesStageOne(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t)

	h.answerStageOne(t, id, "s1_company")

	res, err := h.manager.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AreaCommercial, res.Area.ID)
	assert.Equal(t, []string{
		"En la evaluación inicial, indicó que sí a: '¿Su consulta involucra la creación, operación o disolución de una empresa o sociedad?'",
	}, res.Summary.Clauses)
	assert.NotContains(t, res.Summary.Text, "no proporcionó detalles")
	assert.Contains(t, res.Summary.Text, "Marco legal aplicable: Código de Comercio")
}
