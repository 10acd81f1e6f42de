// Package archive persists completed runs so they can be listed and
// exported after the session is gone. Storage is driver-selectable:
// memory for throwaway use, sqlite for local history, redis for shared
// deployments.
package archive

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/arenalab/arenactl/pkg/protocol"
	"github.com/arenalab/arenactl/pkg/session"
)

var (
	// ErrNotFound is returned by Get and Delete for unknown record ids.
	ErrNotFound = errors.New("archive: record not found")
)

// Record is one archived run.
type Record struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id"`
	ModuleID    string               `json:"module_id"`
	AgentID     string               `json:"agent_id"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Transcript  []session.Entry      `json:"transcript"`
	Evaluation  *protocol.Evaluation `json:"evaluation,omitempty"`
	WorldState  map[string]any       `json:"world_state,omitempty"`
}

// Summary is the listing projection of a Record. Score is nil for runs
// that completed without an evaluation.
type Summary struct {
	ID          string    `json:"id"`
	ModuleID    string    `json:"module_id"`
	AgentID     string    `json:"agent_id"`
	CompletedAt time.Time `json:"completed_at"`
	Score       *float64  `json:"score,omitempty"`
	Entries     int       `json:"entries"`
}

// Store persists run records. Implementations are safe for concurrent
// use.
type Store interface {
	// Save writes a record. A missing id is assigned, a zero CompletedAt
	// is stamped with the current time.
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns summaries, newest completion first.
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	// Driver is "memory", "sqlite", or "redis".
	Driver string
	// Path is the sqlite database file.
	Path string
	// Redis connection settings. TTL zero keeps records forever.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// Open creates the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return newMemoryStore(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("archive: sqlite driver requires a path")
		}
		return newSQLiteStore(cfg.Path)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("archive: redis driver requires an address")
		}
		return newRedisStore(cfg), nil
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Driver)
	}
}

// summarize builds the listing projection for a record.
func summarize(rec *Record) Summary {
	sum := Summary{
		ID:          rec.ID,
		ModuleID:    rec.ModuleID,
		AgentID:     rec.AgentID,
		CompletedAt: rec.CompletedAt,
		Entries:     len(rec.Transcript),
	}
	if rec.Evaluation != nil {
		score := rec.Evaluation.Score
		sum.Score = &score
	}
	return sum
}

// sortSummaries orders newest completion first, id as tiebreak.
func sortSummaries(sums []Summary) {
	sort.Slice(sums, func(i, j int) bool {
		if !sums[i].CompletedAt.Equal(sums[j].CompletedAt) {
			return sums[i].CompletedAt.After(sums[j].CompletedAt)
		}
		return sums[i].ID < sums[j].ID
	})
}

// copyRecord makes an independent copy so callers and the store cannot
// mutate each other's data.
func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Transcript = append([]session.Entry(nil), rec.Transcript...)
	cp.WorldState = maps.Clone(rec.WorldState)
	if rec.Evaluation != nil {
		eval := *rec.Evaluation
		cp.Evaluation = &eval
	}
	return &cp
}
