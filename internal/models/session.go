package models

import "time"

// SessionStatus represents the lifecycle state of one simulated conversation.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
	// SessionTimeout is reserved for an external watchdog. The engine never
	// sets it, but the state machine accepts it as terminal.
	SessionTimeout SessionStatus = "timeout"
)

// Terminal reports whether a status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionTimeout:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal,
// one-directional status transition. Terminal states never transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SessionPending:
		return next == SessionRunning || next == SessionCancelled
	case SessionRunning:
		return next.Terminal()
	}
	return false
}

// Session is one simulated conversation between an agent under test and a
// counterpart persona. It is owned exclusively by the batch that created it.
type Session struct {
	ID               string        `json:"id"`
	BatchID          string        `json:"batch_id"`
	ScenarioTitle    string        `json:"scenario_title"`
	ScenarioCategory string        `json:"scenario_category"`
	PersonaName      string        `json:"persona_name"`
	ModelID          string        `json:"model_id"`
	Status           SessionStatus `json:"status"`
	TotalTurns       int           `json:"total_turns"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// MessageRole identifies the speaker of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is one tool invocation requested by the agent.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in a session transcript. Messages are
// append-only and totally ordered by turn number, then insertion order.
type Message struct {
	SessionID  string      `json:"session_id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	TurnNumber int         `json:"turn_number"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// BatchStatus represents the lifecycle state of an evaluation batch.
type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchGenerating BatchStatus = "generating"
	BatchRunning    BatchStatus = "running"
	BatchEvaluating BatchStatus = "evaluating"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether the batch admits no further transitions.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// BatchProgress is the mutable progress snapshot of a batch. Counters are
// recomputed whenever a session reaches a terminal state.
type BatchProgress struct {
	TotalModels       int    `json:"total_models"`
	TotalScenarios    int    `json:"total_scenarios"`
	TotalSessions     int    `json:"total_sessions"`
	CompletedSessions int    `json:"completed_sessions"`
	FailedSessions    int    `json:"failed_sessions"`
	Phase             string `json:"phase"`
}

// AllTerminal reports whether every session in the batch has finished.
// Cancelled sessions count toward FailedSessions for progress purposes.
func (p BatchProgress) AllTerminal() bool {
	return p.TotalSessions > 0 &&
		p.CompletedSessions+p.FailedSessions >= p.TotalSessions
}

// Batch groups the sessions of one evaluation run.
type Batch struct {
	ID           string        `json:"id"`
	Status       BatchStatus   `json:"status"`
	Models       []string      `json:"models"`
	Progress     BatchProgress `json:"progress"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}
