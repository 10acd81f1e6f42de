package export_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/arenalab/arenactl/pkg/archive"
	"github.com/arenalab/arenactl/pkg/export"
	"github.com/arenalab/arenactl/pkg/protocol"
	"github.com/arenalab/arenactl/pkg/session"
)

func sampleRecord() *archive.Record {
	completed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &archive.Record{
		ID:          "run-1",
		SessionID:   "sess-1",
		ModuleID:    "lemonade-stand",
		AgentID:     "scripted",
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: completed,
		Transcript: []session.Entry{
			{ID: 1, Role: session.RoleSystem, Content: "Session started", Timestamp: completed.Add(-time.Minute)},
			{ID: 2, Role: session.RoleAgent, Content: "Setting price to $1.50", Timestamp: completed.Add(-30 * time.Second)},
		},
		Evaluation: &protocol.Evaluation{
			Score:  0.8,
			Status: "completed",
			Checks: map[string]any{"profit_positive": true, "no_spoilage": false},
		},
		WorldState: map[string]any{"cash": 42.5},
	}
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WriteJSONL(&buf, sampleRecord()); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("line count = %d, want 3\n%s", len(lines), buf.String())
	}

	var head map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &head); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if head["type"] != "run" || head["id"] != "run-1" || head["module_id"] != "lemonade-stand" {
		t.Errorf("header = %v", head)
	}
	eval, ok := head["evaluation"].(map[string]any)
	if !ok || eval["score"] != 0.8 {
		t.Errorf("header evaluation = %v", head["evaluation"])
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry["type"] != "entry" || entry["id"] != 2.0 || entry["role"] != "agent" {
		t.Errorf("entry = %v", entry)
	}
	if entry["content"] != "Setting price to $1.50" {
		t.Errorf("entry content = %v", entry["content"])
	}
}

func TestWriteJSONLOmitsAbsentSections(t *testing.T) {
	rec := sampleRecord()
	rec.Evaluation = nil
	rec.WorldState = nil

	var buf bytes.Buffer
	if err := export.WriteJSONL(&buf, rec); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}

	head := strings.SplitN(buf.String(), "\n", 2)[0]
	if strings.Contains(head, "evaluation") || strings.Contains(head, "world_state") {
		t.Errorf("header carries absent sections: %s", head)
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WriteMarkdown(&buf, sampleRecord()); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Run run-1",
		"- **Module:** lemonade-stand",
		"- **Agent:** scripted",
		"## Evaluation",
		"- **Score:** 0.80",
		"- no_spoilage: false",
		"- profit_positive: true",
		"## World State",
		`"cash": 42.5`,
		"## Transcript",
		"### [1] system",
		"Session started",
		"### [2] agent",
		"Setting price to $1.50",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q\n%s", want, out)
		}
	}

	// Checks are listed alphabetically.
	if strings.Index(out, "no_spoilage") > strings.Index(out, "profit_positive") {
		t.Error("checks not sorted")
	}
}

func TestWriteMarkdownWithoutEvaluation(t *testing.T) {
	rec := sampleRecord()
	rec.Evaluation = nil
	rec.WorldState = nil

	var buf bytes.Buffer
	if err := export.WriteMarkdown(&buf, rec); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "## Evaluation") || strings.Contains(out, "## World State") {
		t.Errorf("markdown carries absent sections\n%s", out)
	}
	if !strings.Contains(out, "## Transcript") {
		t.Errorf("markdown missing transcript\n%s", out)
	}
}

func TestWriteDispatch(t *testing.T) {
	rec := sampleRecord()

	for _, format := range []string{"jsonl", "markdown", "md"} {
		var buf bytes.Buffer
		if err := export.Write(&buf, format, rec); err != nil {
			t.Errorf("Write %q: %v", format, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Write %q produced no output", format)
		}
	}

	var buf bytes.Buffer
	err := export.Write(&buf, "xml", rec)
	if err == nil {
		t.Fatal("unknown format accepted")
	}
	if !strings.Contains(err.Error(), "xml") {
		t.Errorf("error = %v, want format name in message", err)
	}
}
