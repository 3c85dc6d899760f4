// Package store persists messages and rule-execution audit records in a
// local SQLite database. Every mutation is a single statement that
// commits on its own; the engine relies on that for its per-action
// rollback semantics.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kskmr6390/email-rule-ops/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	from_address TEXT NOT NULL,
	to_address TEXT,
	subject TEXT,
	message_body TEXT,
	received_date TIMESTAMP NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	labels TEXT,
	snippet TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS rule_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_name TEXT NOT NULL,
	email_id TEXT NOT NULL,
	executed_at TIMESTAMP NOT NULL,
	actions_taken TEXT,
	success INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_executions_email ON rule_executions(email_id);
`

// Store is a SQLite-backed message and audit store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Setup creates the tables if they do not exist.
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// UpsertMessage inserts a message or, if the id already exists, updates
// every stored field and bumps updated_at.
func (s *Store) UpsertMessage(ctx context.Context, msg model.Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (id, thread_id, from_address, to_address, subject,
			message_body, received_date, is_read, labels, snippet, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			subject = excluded.subject,
			message_body = excluded.message_body,
			received_date = excluded.received_date,
			is_read = excluded.is_read,
			labels = excluded.labels,
			snippet = excluded.snippet,
			updated_at = excluded.updated_at`,
		msg.ID, msg.ThreadID, msg.FromAddress, msg.ToAddress, msg.Subject,
		msg.MessageBody, msg.ReceivedAt.UTC(), boolToInt(msg.IsRead), msg.Labels,
		msg.Snippet, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns every stored message, oldest received first.
func (s *Store) ListMessages(ctx context.Context) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, from_address, to_address, subject, message_body,
			received_date, is_read, labels, snippet, created_at, updated_at
		FROM emails ORDER BY received_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var isRead int
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.FromAddress, &msg.ToAddress,
			&msg.Subject, &msg.MessageBody, &msg.ReceivedAt, &isRead, &msg.Labels,
			&msg.Snippet, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.IsRead = isRead != 0
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// SetReadState updates the read flag of one message.
func (s *Store) SetReadState(ctx context.Context, id string, read bool, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET is_read = ?, updated_at = ? WHERE id = ?`,
		boolToInt(read), updatedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("set read state for %s: %w", id, err)
	}
	return nil
}

// SetLabels replaces the delimited label column of one message.
func (s *Store) SetLabels(ctx context.Context, id string, labels string, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET labels = ?, updated_at = ? WHERE id = ?`,
		labels, updatedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("set labels for %s: %w", id, err)
	}
	return nil
}

// RecordExecution appends one rule-execution audit record. The action
// list is stored as a JSON array, matching the historical schema.
func (s *Store) RecordExecution(ctx context.Context, exec model.RuleExecution) error {
	actions, err := json.Marshal(exec.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_executions (rule_name, email_id, executed_at, actions_taken, success)
		VALUES (?, ?, ?, ?, ?)`,
		exec.RuleName, exec.EmailID, exec.ExecutedAt.UTC(), string(actions), boolToInt(exec.Success))
	if err != nil {
		return fmt.Errorf("record execution of %s for %s: %w", exec.RuleName, exec.EmailID, err)
	}
	return nil
}

// ListExecutions returns the audit trail, oldest first.
func (s *Store) ListExecutions(ctx context.Context) ([]model.RuleExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_name, email_id, executed_at, actions_taken, success
		FROM rule_executions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []model.RuleExecution
	for rows.Next() {
		var exec model.RuleExecution
		var actions string
		var success int
		if err := rows.Scan(&exec.ID, &exec.RuleName, &exec.EmailID,
			&exec.ExecutedAt, &actions, &success); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		exec.Success = success != 0
		if actions != "" {
			if err := json.Unmarshal([]byte(actions), &exec.Actions); err != nil {
				return nil, fmt.Errorf("decode actions for execution %d: %w", exec.ID, err)
			}
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
