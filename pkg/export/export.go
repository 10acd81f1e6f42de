// Package export renders archived runs for use outside the console.
// JSONL gives one self-describing line per record for downstream
// tooling; Markdown gives a readable report.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/arenalab/arenactl/pkg/archive"
	"github.com/arenalab/arenactl/pkg/protocol"
	"github.com/arenalab/arenactl/pkg/session"
)

const (
	FormatJSONL    = "jsonl"
	FormatMarkdown = "markdown"
)

// Write renders rec in the named format.
func Write(w io.Writer, format string, rec *archive.Record) error {
	switch format {
	case FormatJSONL:
		return WriteJSONL(w, rec)
	case FormatMarkdown, "md":
		return WriteMarkdown(w, rec)
	default:
		return fmt.Errorf("export: unknown format %q", format)
	}
}

// header is the first JSONL line, carrying everything about the run
// except the transcript.
type header struct {
	Type        string               `json:"type"`
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id,omitempty"`
	ModuleID    string               `json:"module_id,omitempty"`
	AgentID     string               `json:"agent_id,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Evaluation  *protocol.Evaluation `json:"evaluation,omitempty"`
	WorldState  map[string]any       `json:"world_state,omitempty"`
}

// entryLine is one transcript entry as a JSONL line.
type entryLine struct {
	Type string `json:"type"`
	session.Entry
}

// WriteJSONL writes a run header line followed by one line per
// transcript entry.
func WriteJSONL(w io.Writer, rec *archive.Record) error {
	h := header{
		Type:        "run",
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		ModuleID:    rec.ModuleID,
		AgentID:     rec.AgentID,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Evaluation:  rec.Evaluation,
		WorldState:  rec.WorldState,
	}
	if err := writeLine(w, h); err != nil {
		return err
	}
	for _, entry := range rec.Transcript {
		if err := writeLine(w, entryLine{Type: "entry", Entry: entry}); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteMarkdown writes a readable report: run metadata, evaluation,
// final world state, then the transcript.
func WriteMarkdown(w io.Writer, rec *archive.Record) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# Run %s\n\n", rec.ID)
	fmt.Fprintf(bw, "- **Module:** %s\n", rec.ModuleID)
	fmt.Fprintf(bw, "- **Agent:** %s\n", rec.AgentID)
	if rec.SessionID != "" {
		fmt.Fprintf(bw, "- **Session:** %s\n", rec.SessionID)
	}
	if !rec.StartedAt.IsZero() {
		fmt.Fprintf(bw, "- **Started:** %s\n", rec.StartedAt.Format(time.RFC3339))
	}
	if !rec.CompletedAt.IsZero() {
		fmt.Fprintf(bw, "- **Completed:** %s\n", rec.CompletedAt.Format(time.RFC3339))
	}

	if eval := rec.Evaluation; eval != nil {
		fmt.Fprintf(bw, "\n## Evaluation\n\n")
		fmt.Fprintf(bw, "- **Score:** %.2f\n", eval.Score)
		if eval.Status != "" {
			fmt.Fprintf(bw, "- **Status:** %s\n", eval.Status)
		}
		if eval.NumEvents > 0 {
			fmt.Fprintf(bw, "- **Events:** %d\n", eval.NumEvents)
		}
		if len(eval.Checks) > 0 {
			fmt.Fprintf(bw, "- **Checks:**\n")
			names := make([]string, 0, len(eval.Checks))
			for name := range eval.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(bw, "  - %s: %v\n", name, eval.Checks[name])
			}
		}
	}

	if len(rec.WorldState) > 0 {
		state, err := json.MarshalIndent(rec.WorldState, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(bw, "\n## World State\n\n```json\n%s\n```\n", state)
	}

	fmt.Fprintf(bw, "\n## Transcript\n")
	for _, entry := range rec.Transcript {
		fmt.Fprintf(bw, "\n### [%d] %s\n\n%s\n", entry.ID, entry.Role, entry.Content)
	}

	return bw.Flush()
}
