package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when updating an unknown record.
var ErrNotFound = errors.New("history record not found")

// SQLiteStore is a Store backed by a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		commands TEXT NOT NULL DEFAULT '[]',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	commands, err := encodeCommands(r.Commands)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (id, question, answer, status, commands, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Question, r.Answer, string(r.Status), commands, r.Duration.Milliseconds(),
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, answer string, commands []string, duration time.Duration) error {
	encoded, err := encodeCommands(commands)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE history SET status = ?, answer = ?, commands = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?`,
		string(status), answer, encoded, duration.Milliseconds(), s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update history record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Last(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return []Record{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, status, commands, duration_ms, created_at, updated_at
		FROM history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                Record
			status, commands string
			durationMs       int64
			created, updated int64
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &status, &commands, &durationMs, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		r.Status = Status(status)
		if err := json.Unmarshal([]byte(commands), &r.Commands); err != nil {
			return nil, fmt.Errorf("history record %s: decode commands: %w", r.ID, err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.CreatedAt = time.Unix(0, created)
		r.UpdatedAt = time.Unix(0, updated)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	// oldest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func encodeCommands(commands []string) (string, error) {
	if commands == nil {
		commands = []string{}
	}
	data, err := json.Marshal(commands)
	if err != nil {
		return "", fmt.Errorf("encode commands: %w", err)
	}
	return string(data), nil
}
