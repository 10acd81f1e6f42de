// decode.go maps inbound arena wire messages to protocol.Event values.
//
// Arena messages arrive as a flat envelope with a "type" discriminant.
// Activity records nest one level deeper:
//
//	outer: {"type":"event", "event_type":"agent_message", "payload":{...}}
//	other: {"type":"awaiting_input", "prompt":"..."}
//
// Decode dispatches on "type"; "event" messages dispatch again on
// "event_type" via the eventParsers map. Unknown discriminants at either
// level decode to KindIgnored rather than failing, so the vocabulary can
// grow without breaking older clients.
//
// Adding a new activity type = one map entry + one function.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Decoder interprets counterparty messages. The zero value is usable but
// recognizes no world-state reports; most callers want
// Decoder{Detector: DefaultDetector()}.
type Decoder struct {
	Detector StatusDetector
}

// serverMessage is the union of fields across all counterparty message
// types. Absent fields stay zero.
type serverMessage struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	Prompt     string          `json:"prompt"`
	Evaluation json.RawMessage `json:"evaluation"`
	Message    string          `json:"message"`
	Event      string          `json:"event"`
	Result     json.RawMessage `json:"result"`
}

// Decode interprets a single inbound message. Malformed JSON returns an
// error the caller should log and drop; a well-formed message with an
// unknown type returns KindIgnored and no error.
func (d Decoder) Decode(data []byte) (Event, error) {
	var m serverMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{}, fmt.Errorf("protocol: decode message: %w", err)
	}

	switch m.Type {
	case "started":
		return Event{Kind: KindStarted, SessionID: m.SessionID}, nil

	case "event":
		return d.decodeActivity(m)

	case "awaiting_input":
		return Event{Kind: KindAwaitingInput, Prompt: m.Prompt}, nil

	case "completed":
		ev := Event{Kind: KindCompleted}
		if len(m.Evaluation) > 0 {
			eval, err := decodeEvaluation(m.Evaluation)
			if err != nil {
				return Event{}, err
			}
			ev.Evaluation = eval
		}
		return ev, nil

	case "error":
		return Event{Kind: KindError, Message: m.Message}, nil

	case "event_injected":
		return Event{Kind: KindInjected, Injection: &Injection{Event: m.Event, Result: m.Result}}, nil

	default:
		return Event{Kind: KindIgnored}, nil
	}
}

// eventParser converts an activity payload into an Event. Errors mean the
// payload was malformed for its declared type; the engine drops such
// messages without applying them.
type eventParser func(d Decoder, payload json.RawMessage) (Event, error)

// eventParsers dispatches "event_type" discriminator values. Older arena
// builds emit "user"/"agent" while newer ones emit the _message forms; both
// are accepted. Step and branch bookkeeping is recognized but has no
// transcript effect.
var eventParsers = map[string]eventParser{
	"user_message":   chatParser(KindUserMessage),
	"user":           chatParser(KindUserMessage),
	"agent_message":  chatParser(KindAgentMessage),
	"agent":          chatParser(KindAgentMessage),
	"tool_call":      parseToolCall,
	"tool_result":    parseToolResult,
	"step_started":   parseProgress,
	"step_completed": parseProgress,
	"branch":         parseProgress,
	"agent_stop":     parseProgress,
}

func (d Decoder) decodeActivity(m serverMessage) (Event, error) {
	parser, ok := eventParsers[m.EventType]
	if !ok {
		return Event{Kind: KindIgnored}, nil
	}
	ev, err := parser(d, m.Payload)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = m.Payload
	return ev, nil
}

// chatParser returns an eventParser that extracts payload.content for a
// conversational turn.
func chatParser(kind Kind) eventParser {
	return func(_ Decoder, payload json.RawMessage) (Event, error) {
		var p struct {
			Content string `json:"content"`
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return Event{}, fmt.Errorf("protocol: decode %s payload: %w", kind, err)
			}
		}
		return Event{Kind: kind, Content: p.Content}, nil
	}
}

func parseToolCall(_ Decoder, payload json.RawMessage) (Event, error) {
	var p struct {
		Tool   string         `json:"tool"`
		Action string         `json:"action"`
		Args   map[string]any `json:"args"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("protocol: decode tool_call payload: %w", err)
		}
	}
	return Event{
		Kind: KindToolCall,
		Tool: &ToolActivity{Tool: p.Tool, Action: p.Action, Args: p.Args},
	}, nil
}

func parseToolResult(d Decoder, payload json.RawMessage) (Event, error) {
	var p struct {
		Tool   string      `json:"tool"`
		Action string      `json:"action"`
		Result *ToolResult `json:"result"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("protocol: decode tool_result payload: %w", err)
		}
	}
	if p.Result == nil {
		p.Result = &ToolResult{}
	}
	ev := Event{
		Kind: KindToolResult,
		Tool: &ToolActivity{Tool: p.Tool, Action: p.Action, Result: p.Result},
	}
	if p.Result.Success {
		if state, ok := d.Detector.Extract(p.Result.Data); ok {
			ev.WorldState = state
		}
	}
	return ev, nil
}

func parseProgress(_ Decoder, _ json.RawMessage) (Event, error) {
	return Event{Kind: KindProgress}, nil
}

func decodeEvaluation(raw json.RawMessage) (*Evaluation, error) {
	var eval Evaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		return nil, fmt.Errorf("protocol: decode evaluation: %w", err)
	}
	eval.Raw = append(json.RawMessage(nil), raw...)
	return &eval, nil
}
