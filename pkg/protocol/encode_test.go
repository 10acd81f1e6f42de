package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/arenalab/arenactl/pkg/protocol"
)

func unmarshalCommand(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("encoded command is not valid JSON: %v", err)
	}
	return m
}

func TestEncodeStart(t *testing.T) {
	data, err := protocol.EncodeStart("lemonade-stand", "gpt-4o-mini", map[string]any{"difficulty": "hard"})
	if err != nil {
		t.Fatalf("EncodeStart: %v", err)
	}
	m := unmarshalCommand(t, data)
	if m["type"] != "start" {
		t.Errorf("type = %v, want start", m["type"])
	}
	if m["module_id"] != "lemonade-stand" || m["agent_id"] != "gpt-4o-mini" {
		t.Errorf("ids = %v / %v", m["module_id"], m["agent_id"])
	}
	vars, ok := m["variables"].(map[string]any)
	if !ok || vars["difficulty"] != "hard" {
		t.Errorf("variables = %v", m["variables"])
	}
}

func TestEncodeStartOmitsNilVariables(t *testing.T) {
	data, err := protocol.EncodeStart("m1", "", nil)
	if err != nil {
		t.Fatalf("EncodeStart: %v", err)
	}
	m := unmarshalCommand(t, data)
	if _, present := m["variables"]; present {
		t.Error("nil variables were serialized")
	}
	// agent_id stays present so the counterparty sees an explicit default request.
	if v, present := m["agent_id"]; !present || v != "" {
		t.Errorf("agent_id = %v (present=%v), want empty string", v, present)
	}
}

func TestEncodeStartRequiresModule(t *testing.T) {
	if _, err := protocol.EncodeStart("", "a1", nil); !errors.Is(err, protocol.ErrMissingModuleID) {
		t.Errorf("err = %v, want ErrMissingModuleID", err)
	}
}

func TestEncodeMessage(t *testing.T) {
	data, err := protocol.EncodeMessage("ok")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	want := `{"type":"message","content":"ok"}`
	if string(data) != want {
		t.Errorf("EncodeMessage = %s, want %s", data, want)
	}
}

func TestEncodeInject(t *testing.T) {
	data, err := protocol.EncodeInject("heatwave", "lemonade_stand", map[string]any{"severity": 2})
	if err != nil {
		t.Fatalf("EncodeInject: %v", err)
	}
	m := unmarshalCommand(t, data)
	if m["type"] != "inject_event" || m["event_id"] != "heatwave" || m["tool_name"] != "lemonade_stand" {
		t.Errorf("command = %v", m)
	}

	if _, err := protocol.EncodeInject("", "lemonade_stand", nil); !errors.Is(err, protocol.ErrMissingEventID) {
		t.Errorf("missing event id: err = %v", err)
	}
	if _, err := protocol.EncodeInject("heatwave", "", nil); !errors.Is(err, protocol.ErrMissingToolName) {
		t.Errorf("missing tool name: err = %v", err)
	}
}
