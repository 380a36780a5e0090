// Package execlog persists debug-mode executions so they can be inspected
// and turned into test cases later.
package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/liamcoop/ruleengine/script"
)

// ErrNotFound is returned by Get for unknown execution ids.
var ErrNotFound = errors.New("execution not found")

// Entry is one recorded execution.
type Entry struct {
	ID         string             `json:"id"`
	RuleID     string             `json:"rule_id"`
	RuleName   string             `json:"rule_name"`
	Args       map[string]any     `json:"args,omitempty"`
	Value      script.Value       `json:"value"`
	Messages   []string           `json:"messages"`
	Errors     []string           `json:"errors"`
	Calls      []script.CallTrace `json:"calls,omitempty"`
	Duration   time.Duration      `json:"duration"`
	ExecutedAt time.Time          `json:"executed_at"`
}

// NewEntry builds an entry from an execution result.
func NewEntry(ruleID, ruleName string, args map[string]any, res *script.Result, d time.Duration) Entry {
	return Entry{
		RuleID:   ruleID,
		RuleName: ruleName,
		Args:     args,
		Value:    res.Value,
		Messages: res.Messages,
		Errors:   res.Errors,
		Calls:    res.Calls,
		Duration: d,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	rule_name TEXT NOT NULL,
	args TEXT NOT NULL,
	value TEXT NOT NULL,
	messages TEXT NOT NULL,
	errors TEXT NOT NULL,
	calls TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	executed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_rule ON executions(rule_id, executed_at);
`

// SQLiteStore keeps entries in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the log at path. ":memory:" gives a private
// in-memory log.
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer; one connection also keeps
	// ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "execlog"),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Record stores e, assigning an id and a timestamp when missing, and returns
// the stored id.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) (string, error) {
	if e.RuleID == "" {
		return "", fmt.Errorf("rule id cannot be empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}

	args, err := json.Marshal(e.Args)
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}
	messages, err := json.Marshal(nonNil(e.Messages))
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	errs, err := json.Marshal(nonNil(e.Errors))
	if err != nil {
		return "", fmt.Errorf("failed to encode errors: %w", err)
	}
	calls, err := json.Marshal(e.Calls)
	if err != nil {
		return "", fmt.Errorf("failed to encode calls: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, rule_id, rule_name, args, value, messages, errors, calls, duration_ns, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.RuleID, e.RuleName, string(args), e.Value.Literal(), string(messages), string(errs),
		string(calls), int64(e.Duration), e.ExecutedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert execution: %w", err)
	}

	s.logger.Debug("execution recorded", "id", e.ID, "rule_id", e.RuleID)
	return e.ID, nil
}

// Get returns the entry with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rule_id, rule_name, args, value, messages, errors, calls, duration_ns, executed_at
		FROM executions
		WHERE id = ?
	`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// List returns the latest entries of a rule, newest first. A non-positive
// limit returns every entry.
func (s *SQLiteStore) List(ctx context.Context, ruleID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, rule_name, args, value, messages, errors, calls, duration_ns, executed_at
		FROM executions
		WHERE rule_id = ?
		ORDER BY executed_at DESC
		LIMIT ?
	`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return entries, nil
}

// Prune deletes entries executed before cutoff and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE executed_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("executions pruned", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Entry, error) {
	var (
		e                                  Entry
		args, value, messages, errs, calls string
		durationNs, executedAt             int64
	)
	if err := row.Scan(&e.ID, &e.RuleID, &e.RuleName, &args, &value, &messages, &errs, &calls,
		&durationNs, &executedAt); err != nil {
		return nil, err
	}
	decoded, err := script.DecodeArgs(strings.NewReader(args))
	if err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	e.Args = decoded
	v, err := script.ParseLiteral(value)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	e.Value = v
	if err := json.Unmarshal([]byte(messages), &e.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &e.Errors); err != nil {
		return nil, fmt.Errorf("decode errors: %w", err)
	}
	if err := json.Unmarshal([]byte(calls), &e.Calls); err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}
	e.Duration = time.Duration(durationNs)
	e.ExecutedAt = time.Unix(0, executedAt)
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
