// Package scoring submits finished transcripts to an external,
// eventually-consistent scorer, polls for results, and maps raw scores to
// the canonical metric vector.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// SpanKind discriminates trace spans.
type SpanKind string

const (
	SpanLLM  SpanKind = "llm"
	SpanTool SpanKind = "tool"
)

// Span is one unit of work inside a trace: an agent turn or a tool call.
type Span struct {
	Kind   SpanKind `json:"kind"`
	Name   string   `json:"name,omitempty"`
	Input  string   `json:"input"`
	Output string   `json:"output"`
	Model  string   `json:"model,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Trace is the structured transcript submitted for scoring.
type Trace struct {
	Name    string   `json:"name"`
	Session string   `json:"session"`
	Input   string   `json:"input"`
	Output  string   `json:"output"`
	Tags    []string `json:"tags,omitempty"`
	Spans   []Span   `json:"spans"`
}

// BuildTrace converts a session transcript into a scoring trace: one LLM
// span per non-empty assistant message carrying its preceding user input
// (or the system prompt), and one tool span per tool call carrying its
// arguments and result. The trace concludes with the last assistant output.
func BuildTrace(sess *models.Session, msgs []models.Message) *Trace {
	nonce := strings.Split(uuid.NewString(), "-")[0]
	name := fmt.Sprintf("eval-%s-%d-%s", sess.ModelID, time.Now().Unix(), nonce)

	var systemPrompt string
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			systemPrompt = m.Content
			break
		}
	}

	input := "Immigration consultation"
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			input = m.Content
			break
		}
	}

	trace := &Trace{
		Name:    name,
		Session: fmt.Sprintf("eval-%s-%d", sess.ModelID, time.Now().Unix()),
		Input:   input,
		Tags:    []string{"saggiatore", sess.ModelID, "immigration"},
	}

	for _, m := range msgs {
		if m.Role == models.RoleAssistant && m.Content != "" {
			trace.Spans = append(trace.Spans, Span{
				Kind:   SpanLLM,
				Input:  precedingUserInput(msgs, m, systemPrompt),
				Output: m.Content,
				Model:  sess.ModelID,
				Tags:   []string{fmt.Sprintf("turn-%d", m.TurnNumber)},
			})
		}

		for _, tc := range m.ToolCalls {
			trace.Spans = append(trace.Spans, Span{
				Kind:   SpanTool,
				Name:   tc.Name,
				Input:  tc.Arguments,
				Output: toolResultFor(msgs, tc.ID),
			})
		}
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant && msgs[i].Content != "" {
			trace.Output = msgs[i].Content
			break
		}
	}

	return trace
}

// precedingUserInput finds the last user message before msg, falling back
// to the system prompt.
func precedingUserInput(msgs []models.Message, msg models.Message, systemPrompt string) string {
	input := systemPrompt
	for _, m := range msgs {
		if m.TurnNumber >= msg.TurnNumber {
			break
		}
		if m.Role == models.RoleUser {
			input = m.Content
		}
	}
	return input
}

func toolResultFor(msgs []models.Message, callID string) string {
	for _, m := range msgs {
		if m.Role == models.RoleTool && m.ToolCallID == callID {
			return m.Content
		}
	}
	return ""
}
