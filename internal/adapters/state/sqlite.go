package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

//go:embed migrations/001_threads.sql
var migrationV1 string

// SQLiteThreadStore persists threads in a SQLite database.
type SQLiteThreadStore struct {
	settings
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection
	mu     sync.Mutex

	maxRetries    int
	baseRetryWait time.Duration
}

// NewSQLiteThreadStore opens (or creates) the database at dbPath.
func NewSQLiteThreadStore(dbPath string, opts ...Option) (*SQLiteThreadStore, error) {
	s := &SQLiteThreadStore{
		settings:      newSettings(opts),
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating thread database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// The read connection is opened after migrations so the file exists.
	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

func (s *SQLiteThreadStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS thread_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM thread_schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	for i, migration := range []string{migrationV1} {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO thread_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script into statements, dropping comment lines.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}

// retryWrite retries fn while the database reports it is busy.
func (s *SQLiteThreadStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.baseRetryWait * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// turnPayload holds the turn fields that are not queried directly.
type turnPayload struct {
	Files         []string               `json:"files,omitempty"`
	Images        []string               `json:"images,omitempty"`
	ToolName      string                 `json:"tool_name,omitempty"`
	ModelProvider string                 `json:"model_provider,omitempty"`
	ModelName     string                 `json:"model_name,omitempty"`
	Metadata      map[string]interface{} `json:"model_metadata,omitempty"`
}

// timeLayout has a fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// CreateThread implements core.ThreadStore.
func (s *SQLiteThreadStore) CreateThread(ctx context.Context, toolName, parentID string, initialContext map[string]interface{}) (string, error) {
	t := s.newThread(toolName, parentID, initialContext)

	var initial sql.NullString
	if initialContext != nil {
		b, err := json.Marshal(initialContext)
		if err != nil {
			return "", fmt.Errorf("marshaling initial context: %w", err)
		}
		initial = sql.NullString{String: string(b), Valid: true}
	}
	parent := sql.NullString{String: parentID, Valid: parentID != ""}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.retryWrite(ctx, "CreateThread", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO threads (id, parent_id, tool_name, initial_context, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ThreadID, parent, toolName, initial, formatTime(t.CreatedAt), formatTime(t.LastUpdatedAt))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inserting thread: %w", err)
	}
	return t.ThreadID, nil
}

// GetThread implements core.ThreadStore.
func (s *SQLiteThreadStore) GetThread(ctx context.Context, id string) (*core.Thread, error) {
	if !validID(id) {
		return nil, nil
	}

	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, parent_id, tool_name, initial_context, created_at, updated_at
		FROM threads WHERE id = ?
	`, id)

	var t core.Thread
	var parent, initial sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ThreadID, &parent, &t.ToolName, &initial, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning thread: %w", err)
	}
	t.ParentThreadID = parent.String
	t.CreatedAt = parseTime(createdAt)
	t.LastUpdatedAt = parseTime(updatedAt)
	if s.expired(&t) {
		return nil, nil
	}
	if initial.Valid {
		if err := json.Unmarshal([]byte(initial.String), &t.InitialContext); err != nil {
			return nil, fmt.Errorf("unmarshaling initial context: %w", err)
		}
	}

	turns, err := s.loadTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Turns = turns
	return &t, nil
}

func (s *SQLiteThreadStore) loadTurns(ctx context.Context, id string) ([]core.Turn, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT role, content, timestamp, payload
		FROM turns WHERE thread_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	turns := []core.Turn{}
	for rows.Next() {
		var turn core.Turn
		var role, ts, payload string
		if err := rows.Scan(&role, &turn.Content, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		var p turnPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("unmarshaling turn payload: %w", err)
		}
		turn.Role = core.TurnRole(role)
		turn.Timestamp = parseTime(ts)
		turn.Files = p.Files
		turn.Images = p.Images
		turn.ToolName = p.ToolName
		turn.ModelProvider = p.ModelProvider
		turn.ModelName = p.ModelName
		turn.Metadata = p.Metadata
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// AddTurn implements core.ThreadStore.
func (s *SQLiteThreadStore) AddTurn(ctx context.Context, id string, turns ...core.Turn) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	payloads := make([]string, len(turns))
	for i, turn := range turns {
		payload, err := json.Marshal(turnPayload{
			Files:         turn.Files,
			Images:        turn.Images,
			ToolName:      turn.ToolName,
			ModelProvider: turn.ModelProvider,
			ModelName:     turn.ModelName,
			Metadata:      turn.Metadata,
		})
		if err != nil {
			return false, fmt.Errorf("marshaling turn payload: %w", err)
		}
		payloads[i] = string(payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	err := s.retryWrite(ctx, "AddTurn", func() error {
		added = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var updatedAt string
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT t.updated_at, (SELECT COUNT(*) FROM turns WHERE thread_id = t.id)
			FROM threads t WHERE t.id = ?
		`, id).Scan(&updatedAt, &count)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if s.expired(&core.Thread{LastUpdatedAt: parseTime(updatedAt)}) || count+len(turns) > s.maxTurns {
			return nil
		}

		now := s.now()
		for i, turn := range turns {
			ts := turn.Timestamp
			if ts.IsZero() {
				ts = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO turns (thread_id, seq, role, content, timestamp, payload)
				VALUES (?, ?, ?, ?, ?, ?)
			`, id, count+i, string(turn.Role), turn.Content, formatTime(ts), payloads[i]); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, formatTime(now), id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("adding turn: %w", err)
	}
	return added, nil
}

// PurgeExpired deletes threads idle for longer than the TTL.
func (s *SQLiteThreadStore) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := formatTime(s.now().Add(-s.ttl))
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	err := s.retryWrite(ctx, "PurgeExpired", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE updated_at < ?`, cutoff)
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purging expired threads: %w", err)
	}
	return int(purged), nil
}

// Close closes both database connections.
func (s *SQLiteThreadStore) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

var _ core.ThreadStore = (*SQLiteThreadStore)(nil)
