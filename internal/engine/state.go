package engine

import "fmt"

// Phase is one state of the conversation loop's finite-state machine.
type Phase int

const (
	// PhaseAwaitingAgent means the next action is an agent-under-test call.
	PhaseAwaitingAgent Phase = iota
	// PhaseAwaitingToolResults means the agent requested tool calls and
	// their simulated results have not been applied yet.
	PhaseAwaitingToolResults
	// PhaseAwaitingCounterpart means the persona speaks next.
	PhaseAwaitingCounterpart
	// PhaseDone terminates the loop.
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingAgent:
		return "awaiting_agent"
	case PhaseAwaitingToolResults:
		return "awaiting_tool_results"
	case PhaseAwaitingCounterpart:
		return "awaiting_counterpart"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Event is an observation that drives a phase transition.
type Event int

const (
	// EventAgentText: the agent replied with plain text.
	EventAgentText Event = iota
	// EventAgentToolCalls: the agent requested one or more tool calls.
	EventAgentToolCalls
	// EventToolResultsApplied: every result of the current tool round has
	// been persisted in request order.
	EventToolResultsApplied
	// EventCounterpartSpoke: the persona produced its next line.
	EventCounterpartSpoke
	// EventBudgetExhausted: the turn counter passed the scenario's budget.
	EventBudgetExhausted
	// EventCancelled: cancellation was observed at a checkpoint.
	EventCancelled
)

func (e Event) String() string {
	switch e {
	case EventAgentText:
		return "agent_text"
	case EventAgentToolCalls:
		return "agent_tool_calls"
	case EventToolResultsApplied:
		return "tool_results_applied"
	case EventCounterpartSpoke:
		return "counterpart_spoke"
	case EventBudgetExhausted:
		return "budget_exhausted"
	case EventCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Next is the pure transition function of the conversation state machine.
// It performs no I/O, so the legal shapes of a conversation can be tested
// without a provider or store.
func Next(p Phase, ev Event) (Phase, error) {
	switch p {
	case PhaseAwaitingAgent:
		switch ev {
		case EventAgentText:
			return PhaseAwaitingCounterpart, nil
		case EventAgentToolCalls:
			return PhaseAwaitingToolResults, nil
		case EventBudgetExhausted, EventCancelled:
			return PhaseDone, nil
		}
	case PhaseAwaitingToolResults:
		if ev == EventToolResultsApplied {
			return PhaseAwaitingAgent, nil
		}
	case PhaseAwaitingCounterpart:
		switch ev {
		case EventCounterpartSpoke:
			return PhaseAwaitingAgent, nil
		case EventBudgetExhausted, EventCancelled:
			return PhaseDone, nil
		}
	}
	return p, fmt.Errorf("illegal transition: %s on %s", ev, p)
}
