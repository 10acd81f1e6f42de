package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arenalab/arenactl/pkg/protocol"
	"github.com/arenalab/arenactl/pkg/session"
	"github.com/google/uuid"
)

// sqliteStore persists records in a local SQLite database.
type sqliteStore struct {
	db *sql.DB
}

var _ Store = (*sqliteStore)(nil)

func newSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		module_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME NOT NULL,
		score REAL,
		evaluation TEXT,
		world_state TEXT
	);

	CREATE TABLE IF NOT EXISTS run_entries (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_run_entries_run_id ON run_entries(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	var score sql.NullFloat64
	var evaluation []byte
	if rec.Evaluation != nil {
		score = sql.NullFloat64{Float64: rec.Evaluation.Score, Valid: true}
		data, err := json.Marshal(rec.Evaluation)
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		evaluation = data
	}
	var worldState []byte
	if len(rec.WorldState) > 0 {
		data, err := json.Marshal(rec.WorldState)
		if err != nil {
			return fmt.Errorf("marshal world state: %w", err)
		}
		worldState = data
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, session_id, module_id, agent_id, started_at, completed_at, score, evaluation, world_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.ModuleID, rec.AgentID,
		rec.StartedAt, rec.CompletedAt, score, evaluation, worldState,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_entries WHERE run_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for _, entry := range rec.Transcript {
		var metadata []byte
		if len(entry.Metadata) > 0 {
			metadata = entry.Metadata
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_entries (run_id, seq, role, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, entry.ID, string(entry.Role), entry.Content, metadata, entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert entry %d: %w", entry.ID, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var score sql.NullFloat64
	var evaluation, worldState []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, module_id, agent_id, started_at, completed_at, score, evaluation, world_state
		FROM runs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.SessionID, &rec.ModuleID, &rec.AgentID,
		&rec.StartedAt, &rec.CompletedAt, &score, &evaluation, &worldState)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	if len(evaluation) > 0 {
		eval := &protocol.Evaluation{}
		if err := json.Unmarshal(evaluation, eval); err != nil {
			return nil, fmt.Errorf("unmarshal evaluation: %w", err)
		}
		rec.Evaluation = eval
	}
	if len(worldState) > 0 {
		if err := json.Unmarshal(worldState, &rec.WorldState); err != nil {
			return nil, fmt.Errorf("unmarshal world state: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, content, metadata, created_at
		FROM run_entries WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry session.Entry
		var role string
		var metadata []byte
		if err := rows.Scan(&entry.ID, &role, &entry.Content, &metadata, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Role = session.Role(role)
		if len(metadata) > 0 {
			entry.Metadata = json.RawMessage(metadata)
		}
		rec.Transcript = append(rec.Transcript, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.module_id, r.agent_id, r.completed_at, r.score,
		       (SELECT COUNT(*) FROM run_entries e WHERE e.run_id = r.id)
		FROM runs r ORDER BY r.completed_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		var sum Summary
		var score sql.NullFloat64
		if err := rows.Scan(&sum.ID, &sum.ModuleID, &sum.AgentID, &sum.CompletedAt, &score, &sum.Entries); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if score.Valid {
			value := score.Float64
			sum.Score = &value
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM run_entries WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
