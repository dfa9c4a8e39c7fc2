package agent

import (
	"errors"

	"github.com/ggurov/local-llm/internal/providers"
)

// State is the control loop's position between model calls.
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrTurnLimit is returned when the model keeps requesting tools past the
// configured round budget.
var ErrTurnLimit = errors.New("tool round limit exceeded")

// TurnKind classifies one model response.
type TurnKind int

const (
	// TurnFinalAnswer is a plain assistant message that ends the run.
	TurnFinalAnswer TurnKind = iota
	// TurnToolCalls means the model wants tools executed before answering.
	TurnToolCalls
	// TurnError covers backend failures and unusable responses.
	TurnError
)

// Turn is the classified outcome of one model call. Exactly one of Content,
// ToolCalls or Err is meaningful, selected by Kind.
type Turn struct {
	Kind      TurnKind
	Content   string
	ToolCalls []providers.ToolCall
	Err       error
}

// classify maps a provider response (or error) onto the three turn shapes.
func classify(resp *providers.ChatResponse, err error) Turn {
	if err == nil && resp == nil {
		return Turn{Kind: TurnError, Err: errors.New("empty backend response")}
	}
	if err != nil {
		return Turn{Kind: TurnError, Err: err}
	}
	if len(resp.ToolCalls) > 0 {
		return Turn{Kind: TurnToolCalls, Content: resp.Content, ToolCalls: resp.ToolCalls}
	}
	return Turn{Kind: TurnFinalAnswer, Content: resp.Content}
}
