package protocol

import (
	"encoding/json"
	"errors"
)

// Validation errors for outbound commands, returned before anything is
// written to the channel.
var (
	ErrMissingModuleID = errors.New("protocol: module id is required")
	ErrMissingEventID  = errors.New("protocol: event id is required")
	ErrMissingToolName = errors.New("protocol: tool name is required")
)

type startCommand struct {
	Type      string         `json:"type"`
	ModuleID  string         `json:"module_id"`
	AgentID   string         `json:"agent_id"`
	Variables map[string]any `json:"variables,omitempty"`
}

type messageCommand struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type injectCommand struct {
	Type     string         `json:"type"`
	EventID  string         `json:"event_id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
}

// EncodeStart serializes a start command. Variables may be nil; an empty
// agent id leaves agent selection to the counterparty's default.
func EncodeStart(moduleID, agentID string, variables map[string]any) ([]byte, error) {
	if moduleID == "" {
		return nil, ErrMissingModuleID
	}
	return json.Marshal(startCommand{
		Type:      "start",
		ModuleID:  moduleID,
		AgentID:   agentID,
		Variables: variables,
	})
}

// EncodeMessage serializes a free-text user reply.
func EncodeMessage(content string) ([]byte, error) {
	return json.Marshal(messageCommand{Type: "message", Content: content})
}

// EncodeInject serializes a chaos-event injection command. Args may be nil.
func EncodeInject(eventID, toolName string, args map[string]any) ([]byte, error) {
	if eventID == "" {
		return nil, ErrMissingEventID
	}
	if toolName == "" {
		return nil, ErrMissingToolName
	}
	return json.Marshal(injectCommand{
		Type:     "inject_event",
		EventID:  eventID,
		ToolName: toolName,
		Args:     args,
	})
}
