package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// scriptedAgent replays a fixed sequence of agent responses.
type scriptedAgent struct {
	turns []scriptedTurn
	calls int
}

type scriptedTurn struct {
	resp *provider.ChatResponse
	err  error
}

func (a *scriptedAgent) Complete(context.Context, []provider.ChatMessage, []provider.ToolSchema) (*provider.ChatResponse, error) {
	if a.calls >= len(a.turns) {
		return nil, errors.New("script exhausted")
	}
	turn := a.turns[a.calls]
	a.calls++
	return turn.resp, turn.err
}

// scriptedPersona returns canned lines and can run a hook on its opening.
type scriptedPersona struct {
	lines     []string
	next      int
	onOpening func()
}

func (p *scriptedPersona) OpeningLine(context.Context) string {
	if p.onOpening != nil {
		p.onOpening()
	}
	return p.line()
}

func (p *scriptedPersona) NextLine(context.Context, []models.Message) string {
	return p.line()
}

func (p *scriptedPersona) line() string {
	if p.next >= len(p.lines) {
		return "Anything else I should know?"
	}
	line := p.lines[p.next]
	p.next++
	return line
}

// echoTools answers every call with a fixed payload per tool name.
type echoTools struct {
	payloads map[string]string
	delay    time.Duration
}

func (e *echoTools) Invoke(_ context.Context, call models.ToolCall) string {
	if e.delay > 0 {
		time.Sleep(e.delay)
		e.delay = 0
	}
	if payload, ok := e.payloads[call.Name]; ok {
		return payload
	}
	return `{"ok": true}`
}

func newTestSession(t *testing.T, s store.SessionStore) *models.Session {
	t.Helper()
	sess := &models.Session{
		ID:            "sess-1",
		BatchID:       "batch-1",
		ScenarioTitle: "Green card timeline",
		ModelID:       "gpt-4o",
		PersonaName:   "Maria Santos",
		Status:        models.SessionPending,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestScriptedToolRoundSession(t *testing.T) {
	// maxTurns=3: counterpart opens (1), agent tool round (2), agent text (3).
	ctx := context.Background()
	mem := store.NewMemoryStore()
	sess := newTestSession(t, mem)

	agent := &scriptedAgent{turns: []scriptedTurn{
		{resp: &provider.ChatResponse{ToolCalls: []provider.ToolCallRef{{
			ID:   "call_1",
			Type: "function",
			Function: provider.FunctionCall{
				Name:      "lookup",
				Arguments: `{"caseId": 123}`,
			},
		}}}},
		{resp: &provider.ChatResponse{Content: "Your case is still pending."}},
	}}

	eng := New(mem, mem)
	err := eng.Run(ctx, Params{
		Session:      sess,
		Agent:        agent,
		Persona:      &scriptedPersona{lines: []string{"What's the status of case 123?"}},
		Tools:        &echoTools{payloads: map[string]string{"lookup": `{"status":"pending"}`}},
		SystemPrompt: "You are a helpful agent.",
		MaxTurns:     3,
	})
	require.NoError(t, err)

	got, err := mem.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, 3, got.TotalTurns)
	assert.NotNil(t, got.CompletedAt)

	msgs, err := mem.MessagesBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, 0, msgs[0].TurnNumber)

	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Equal(t, 1, msgs[1].TurnNumber)

	assert.Equal(t, models.RoleAssistant, msgs[2].Role)
	assert.Equal(t, 2, msgs[2].TurnNumber)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "lookup", msgs[2].ToolCalls[0].Name)

	assert.Equal(t, models.RoleTool, msgs[3].Role)
	assert.Equal(t, 2, msgs[3].TurnNumber)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.JSONEq(t, `{"status":"pending"}`, msgs[3].Content)

	assert.Equal(t, models.RoleAssistant, msgs[4].Role)
	assert.Equal(t, 3, msgs[4].TurnNumber)
	assert.Equal(t, "Your case is still pending.", msgs[4].Content)

	assertTurnNumbersNonDecreasing(t, msgs)
}

func TestTextOnlyConversation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	sess := newTestSession(t, mem)

	agent := &scriptedAgent{turns: []scriptedTurn{
		{resp: &provider.ChatResponse{Content: "Let me explain the process."}},
		{resp: &provider.ChatResponse{Content: "You'll need form I-485."}},
	}}

	eng := New(mem, mem)
	err := eng.Run(ctx, Params{
		Session:      sess,
		Agent:        agent,
		Persona:      &scriptedPersona{lines: []string{"I need help.", "What forms do I need?"}},
		Tools:        &echoTools{},
		SystemPrompt: "system",
		MaxTurns:     4,
	})
	require.NoError(t, err)

	got, err := mem.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, 4, got.TotalTurns)

	msgs, err := mem.MessagesBySession(ctx, sess.ID)
	require.NoError(t, err)
	// system, user, assistant, user, assistant
	require.Len(t, msgs, 5)
	assert.Equal(t, models.RoleAssistant, msgs[4].Role)
	assert.Equal(t, 4, msgs[4].TurnNumber)
	assertTurnNumbersNonDecreasing(t, msgs)
}

func TestToolResultsApplyInRequestOrder(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	sess := newTestSession(t, mem)

	agent := &scriptedAgent{turns: []scriptedTurn{
		{resp: &provider.ChatResponse{ToolCalls: []provider.ToolCallRef{
			{ID: "call_a", Type: "function", Function: provider.FunctionCall{Name: "slow_tool", Arguments: "{}"}},
			{ID: "call_b", Type: "function", Function: provider.FunctionCall{Name: "fast_tool", Arguments: "{}"}},
		}}},
		{resp: &provider.ChatResponse{Content: "Done."}},
	}}

	// slow_tool finishes last but must still be recorded first.
	tools := &echoTools{
		payloads: map[string]string{"slow_tool": `{"id":"a"}`, "fast_tool": `{"id":"b"}`},
		delay:    20 * time.Millisecond,
	}

	eng := New(mem, mem)
	err := eng.Run(ctx, Params{
		Session:      sess,
		Agent:        agent,
		Persona:      &scriptedPersona{},
		Tools:        tools,
		SystemPrompt: "system",
		MaxTurns:     3,
	})
	require.NoError(t, err)

	msgs, err := mem.MessagesBySession(ctx, sess.ID)
	require.NoError(t, err)

	var toolMsgs []models.Message
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "call_a", toolMsgs[0].ToolCallID)
	assert.Equal(t, "call_b", toolMsgs[1].ToolCallID)
}

func TestAgentErrorMarksSessionFailed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	sess := newTestSession(t, mem)

	agent := &scriptedAgent{turns: []scriptedTurn{
		{err: &provider.ProviderError{Provider: "openai", StatusCode: 500, Message: "upstream exploded"}},
	}}

	eng := New(mem, mem)
	err := eng.Run(ctx, Params{
		Session:      sess,
		Agent:        agent,
		Persona:      &scriptedPersona{lines: []string{"Hello?"}},
		Tools:        &echoTools{},
		SystemPrompt: "system",
		MaxTurns:     3,
	})
	require.NoError(t, err, "conversation failures are recorded, not returned")

	got, err := mem.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "upstream exploded")
	assert.Equal(t, 1, got.TotalTurns, "only the opening line was spoken")

	// The transcript stays inspectable for failed sessions.
	msgs, err := mem.MessagesBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestCancellationStopsWithoutMarking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := store.NewMemoryStore()
	sess := newTestSession(t, mem)

	// Cancellation arrives while the opening line is being generated; the
	// checkpoint before the first agent call must observe it.
	persona := &scriptedPersona{lines: []string{"Hi"}, onOpening: cancel}
	agent := &scriptedAgent{turns: []scriptedTurn{
		{resp: &provider.ChatResponse{Content: "should never be sent"}},
	}}

	eng := New(mem, mem)
	err := eng.Run(ctx, Params{
		Session:      sess,
		Agent:        agent,
		Persona:      persona,
		Tools:        &echoTools{},
		SystemPrompt: "system",
		MaxTurns:     3,
	})
	require.NoError(t, err)

	got, err := mem.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, got.Status,
		"the cancelling actor owns the cancelled status; the engine only stops")
	assert.Zero(t, agent.calls, "no agent call after the checkpoint fired")
}

func TestCancelledStatusObservedMidRun(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	sess := newTestSession(t, mem)

	// An external actor cancels the session while the persona is speaking;
	// by then Run has already moved it to running.
	persona := &scriptedPersona{lines: []string{"Hi"}, onOpening: func() {
		require.NoError(t, mem.TransitionSession(ctx, sess.ID, models.SessionCancelled, nil))
	}}

	agent := &scriptedAgent{turns: []scriptedTurn{
		{resp: &provider.ChatResponse{Content: "should never be sent"}},
	}}

	eng := New(mem, mem)
	err := eng.Run(ctx, Params{
		Session:      sess,
		Agent:        agent,
		Persona:      persona,
		Tools:        &echoTools{},
		SystemPrompt: "system",
		MaxTurns:     3,
	})
	require.NoError(t, err)

	got, err := mem.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status)
	assert.Zero(t, agent.calls)
}

func assertTurnNumbersNonDecreasing(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.GreaterOrEqual(t, msgs[i].TurnNumber, msgs[i-1].TurnNumber,
			fmt.Sprintf("message %d regressed in turn number", i))
	}
}
