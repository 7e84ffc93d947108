package models

import "time"

// TestStage is the discriminant of the diagnostic flow
type TestStage string

const (
	StageRegistration      TestStage = "REGISTRATION"
	StageOne               TestStage = "STAGE_ONE"
	StageTwo               TestStage = "STAGE_TWO"
	StageResultsSimulation TestStage = "RESULTS_SIMULATION"
	StageServiceOptions    TestStage = "SERVICE_OPTIONS"
)

// AcceptsAnswers returns true for the question-asking stages
func (s TestStage) AcceptsAnswers() bool {
	return s == StageOne || s == StageTwo
}

// PendingOp names an external call that is in flight for a session
type PendingOp string

const (
	PendingNone         PendingOp = ""
	PendingRegistration PendingOp = "registration"
	PendingChat         PendingOp = "chat"
	PendingPayment      PendingOp = "payment"
)

// DiagnosticState is the full state of one diagnostic run
type DiagnosticState struct {
	Stage            TestStage         `json:"stage"`
	UserID           string            `json:"user_id,omitempty"`
	IdentityExternal bool              `json:"identity_external,omitempty"`
	Cursor           int               `json:"cursor"`
	StageOneAnswers  []Answer          `json:"stage_one_answers"`
	StageTwoAnswers  []Answer          `json:"stage_two_answers"`
	DeterminedArea   *LawArea          `json:"determined_area,omitempty"`
	Votes            map[LawAreaID]int `json:"votes,omitempty"`
	Fallback         bool              `json:"fallback,omitempty"`
}

// DiagnosticSession is a diagnostic run owned by one visitor
type DiagnosticSession struct {
	ID             string          `json:"id"`
	State          DiagnosticState `json:"state"`
	Pending        PendingOp       `json:"pending,omitempty"`
	PendingSince   *time.Time      `json:"pending_since,omitempty"`
	ResultsReadyAt *time.Time      `json:"results_ready_at,omitempty"`
	Chat           *ChatSession    `json:"chat,omitempty"`
	Payments       []PaymentRecord `json:"payments,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// IsExpired checks if the session has been idle past its TTL at now
func (s *DiagnosticSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ChatSession is the AI assistant conversation bound to a diagnostic session
type ChatSession struct {
	ID             string        `json:"id"`
	AreaID         LawAreaID     `json:"area_id"`
	Mode           string        `json:"mode"`
	ContextSummary string        `json:"context_summary"`
	History        []ChatMessage `json:"history"`
	StartedAt      time.Time     `json:"started_at"`
}

// ChatMessage is one turn of a chat conversation
type ChatMessage struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// PaymentRecord is a confirmed or failed charge attempt
type PaymentRecord struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	Gateway   string    `json:"gateway"`
	Amount    int       `json:"amount"`
	Success   bool      `json:"success"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
