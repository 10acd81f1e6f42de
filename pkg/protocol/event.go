// Package protocol implements the arena wire protocol: the small tagged-JSON
// message vocabulary exchanged with an arena server over a persistent,
// ordered channel. Decode turns inbound counterparty messages into typed
// Events; the Encode functions produce the three client commands (start,
// message, inject_event). The codec has no side effects and no retained
// state; world-state recognition is value configuration on the Decoder.
package protocol

import "encoding/json"

// Kind identifies the engine-facing meaning of a decoded message.
type Kind string

const (
	// KindStarted reports that the counterparty accepted a start command
	// and began executing the scenario.
	KindStarted Kind = "started"
	// KindUserMessage is a user turn echoed back by the counterparty
	// (scripted turns included).
	KindUserMessage Kind = "user_message"
	// KindAgentMessage is an agent turn.
	KindAgentMessage Kind = "agent_message"
	// KindToolCall reports a tool invocation by the agent.
	KindToolCall Kind = "tool_call"
	// KindToolResult reports the outcome of a tool invocation. When the
	// nested result data is recognized as a status report it also carries
	// a replacement world-state snapshot.
	KindToolResult Kind = "tool_result"
	// KindProgress covers step/branch bookkeeping that produces no
	// transcript or state change.
	KindProgress Kind = "progress"
	// KindAwaitingInput reports that the counterparty is blocked on a
	// user reply.
	KindAwaitingInput Kind = "awaiting_input"
	// KindCompleted reports that the run finished, with the final
	// evaluation if one was produced.
	KindCompleted Kind = "completed"
	// KindError is a fatal protocol or execution error from the
	// counterparty.
	KindError Kind = "error"
	// KindInjected acknowledges an injected chaos event.
	KindInjected Kind = "event_injected"
	// KindIgnored is the forward-compatibility fallback for unknown
	// message types and activity sub-tags. It must never cause a state
	// change.
	KindIgnored Kind = "ignored"
)

// Event is a decoded counterparty message. Kind selects which of the
// remaining fields are meaningful; everything else is left zero.
type Event struct {
	Kind Kind

	// SessionID is set on KindStarted.
	SessionID string
	// Content carries the text of user and agent turns.
	Content string
	// Prompt is set on KindAwaitingInput; may be empty.
	Prompt string
	// Message is set on KindError; may be empty.
	Message string
	// Tool is set on KindToolCall and KindToolResult.
	Tool *ToolActivity
	// WorldState is set on a KindToolResult whose result data was
	// recognized as a status report. It is a full replacement snapshot,
	// never a partial update.
	WorldState map[string]any
	// Evaluation is set on KindCompleted when the counterparty attached
	// one.
	Evaluation *Evaluation
	// Injection is set on KindInjected.
	Injection *Injection
	// Payload is the raw activity payload for "event" messages, carried
	// opaquely for downstream consumers.
	Payload json.RawMessage
}

// ToolActivity describes a tool invocation or its outcome.
type ToolActivity struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result *ToolResult    `json:"result,omitempty"`
}

// ToolResult is the nested outcome record inside a tool_result activity.
type ToolResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Evaluation is the final assessment attached to a completed run. Raw
// preserves the counterparty's full evaluation object, including fields
// this client does not model.
type Evaluation struct {
	Score     float64         `json:"score"`
	Status    string          `json:"status,omitempty"`
	NumEvents int             `json:"num_events,omitempty"`
	Checks    map[string]any  `json:"checks,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Injection is the acknowledgement of an injected chaos event.
type Injection struct {
	Event  string          `json:"event"`
	Result json.RawMessage `json:"result,omitempty"`
}
