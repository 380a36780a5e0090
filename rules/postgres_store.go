package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, short_name, context_id, code, status, debug_mode, parameters,
	rules_used, tables_used, last_passing_at, created_at, updated_at`

// Add inserts a new rule and its test cases
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}

	params, err := json.Marshal(rule.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rule.ID, rule.Name, rule.ShortName, rule.ContextID, rule.Code, string(rule.Status), rule.DebugMode,
		params, pq.Array(rule.RulesUsed), pq.Array(rule.TablesUsed), rule.LastPassingAt,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	if err := insertTestCases(tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

// Get retrieves a rule and its test cases by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	rule, err := scanRule(s.db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if rule.TestCases, err = s.testCases(id); err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns all rules ordered by creation
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.list(`SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at ASC, id ASC`)
}

// ListValidated returns the validated rules ordered by creation
func (s *PostgresRuleStore) ListValidated() ([]*Rule, error) {
	return s.list(`SELECT `+ruleColumns+` FROM rules WHERE status = $1 ORDER BY created_at ASC, id ASC`,
		string(StatusValidated))
}

func (s *PostgresRuleStore) list(query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	for _, r := range rulesList {
		if r.TestCases, err = s.testCases(r.ID); err != nil {
			return nil, err
		}
	}
	return rulesList, nil
}

// Update modifies an existing rule and replaces its test cases
func (s *PostgresRuleStore) Update(rule *Rule) error {
	params, err := json.Marshal(rule.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	rule.UpdatedAt = time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		UPDATE rules
		SET name = $1, short_name = $2, context_id = $3, code = $4, status = $5, debug_mode = $6,
			parameters = $7, rules_used = $8, tables_used = $9, last_passing_at = $10, updated_at = $11
		WHERE id = $12
		RETURNING created_at
	`, rule.Name, rule.ShortName, rule.ContextID, rule.Code, string(rule.Status), rule.DebugMode, params,
		pq.Array(rule.RulesUsed), pq.Array(rule.TablesUsed), rule.LastPassingAt, rule.UpdatedAt,
		rule.ID).Scan(&rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM test_cases WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to delete test cases: %w", err)
	}
	if err := insertTestCases(tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a rule from the database; test cases cascade
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

// MarkPassing sets the last passing date of the rule and its test cases
func (s *PostgresRuleStore) MarkPassing(id string, at time.Time) error {
	return s.setPassing(id, &at)
}

// ClearPassing resets the last passing date of the rule and its test cases to NULL
func (s *PostgresRuleStore) ClearPassing(id string) error {
	return s.setPassing(id, nil)
}

func (s *PostgresRuleStore) setPassing(id string, at *time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE rules SET last_passing_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to set rule passing date: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if _, err := tx.Exec(`UPDATE test_cases SET last_passing_at = $1 WHERE rule_id = $2`, at, id); err != nil {
		return fmt.Errorf("failed to set test case passing dates: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresRuleStore) testCases(ruleID string) ([]TestCase, error) {
	rows, err := s.db.Query(`
		SELECT id, description, test_values, expected, last_passing_at
		FROM test_cases
		WHERE rule_id = $1
		ORDER BY position ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	var cases []TestCase
	for rows.Next() {
		var (
			tc               TestCase
			values, expected []byte
			passing          sql.NullTime
		)
		if err := rows.Scan(&tc.ID, &tc.Description, &values, &expected, &passing); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		if err := json.Unmarshal(values, &tc.Values); err != nil {
			return nil, fmt.Errorf("test case %s: decode values: %w", tc.ID, err)
		}
		if err := json.Unmarshal(expected, &tc.Expected); err != nil {
			return nil, fmt.Errorf("test case %s: decode expected: %w", tc.ID, err)
		}
		if passing.Valid {
			t := passing.Time
			tc.LastPassingAt = &t
		}
		tc.RuleID = ruleID
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test cases: %w", err)
	}
	return cases, nil
}

func insertTestCases(tx *sql.Tx, rule *Rule) error {
	for i := range rule.TestCases {
		tc := &rule.TestCases[i]
		if tc.ID == "" {
			tc.ID = newID()
		}
		tc.RuleID = rule.ID
		values, err := json.Marshal(tc.Values)
		if err != nil {
			return fmt.Errorf("test case %s: encode values: %w", tc.ID, err)
		}
		expected, err := json.Marshal(tc.Expected)
		if err != nil {
			return fmt.Errorf("test case %s: encode expected: %w", tc.ID, err)
		}
		_, err = tx.Exec(`
			INSERT INTO test_cases (id, rule_id, position, description, test_values, expected, last_passing_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, tc.ID, rule.ID, i, tc.Description, values, expected, tc.LastPassingAt)
		if err != nil {
			return fmt.Errorf("failed to insert test case: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r       Rule
		status  string
		params  []byte
		passing sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Name, &r.ShortName, &r.ContextID, &r.Code, &status, &r.DebugMode, &params,
		pq.Array(&r.RulesUsed), pq.Array(&r.TablesUsed), &passing, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Parameters); err != nil {
			return nil, fmt.Errorf("rule %s: decode parameters: %w", r.ID, err)
		}
	}
	if passing.Valid {
		t := passing.Time
		r.LastPassingAt = &t
	}
	return &r, nil
}
