package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arenalab/arenactl/pkg/protocol"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleUser marks a user turn, scripted turns included.
	RoleUser Role = "user"
	// RoleAgent marks an agent turn.
	RoleAgent Role = "agent"
	// RoleSystem marks engine-generated lifecycle notes.
	RoleSystem Role = "system"
	// RoleTool marks tool invocations and their results.
	RoleTool Role = "tool"
)

// Entry is one transcript record. Entries are immutable once appended; ids
// are assigned locally, increase monotonically within a run, and restart
// at 1 when a new run is started.
type Entry struct {
	ID        int             `json:"id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// renderToolCall formats a tool invocation for display. The raw payload
// stays available in Entry.Metadata for consumers that want to re-render.
func renderToolCall(tool *protocol.ToolActivity) string {
	var b strings.Builder
	b.WriteString(toolLabel(tool))
	b.WriteByte('(')
	if len(tool.Args) > 0 {
		args, err := json.Marshal(tool.Args)
		if err == nil {
			b.Write(args)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// renderToolResult formats a tool outcome for display.
func renderToolResult(tool *protocol.ToolActivity) string {
	label := toolLabel(tool)
	res := tool.Result
	if res == nil {
		return label + " -> done"
	}
	if !res.Success {
		if res.Error != "" {
			return fmt.Sprintf("%s -> failed: %s", label, res.Error)
		}
		return label + " -> failed"
	}
	if len(res.Data) > 0 {
		return fmt.Sprintf("%s -> %s", label, compactJSON(res.Data))
	}
	return label + " -> ok"
}

func toolLabel(tool *protocol.ToolActivity) string {
	if tool.Action == "" {
		return tool.Tool
	}
	return tool.Tool + "." + tool.Action
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
