package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval
type RuleStore interface {
	// Add a new rule with its test cases
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// List all rules
	List() ([]*Rule, error)

	// ListValidated lists the rules that may run outside debug mode
	ListValidated() ([]*Rule, error)

	// Update an existing rule, replacing its test cases
	Update(rule *Rule) error

	// Delete a rule and its test cases
	Delete(id string) error

	// MarkPassing records that every test case of the rule passed at the given time
	MarkPassing(id string, at time.Time) error

	// ClearPassing removes the passing date of the rule and its test cases
	ClearPassing(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a copy of the rule
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

// List returns every rule ordered by creation
func (s *InMemoryRuleStore) List() ([]*Rule, error) {
	return s.list(func(*Rule) bool { return true }), nil
}

// ListValidated returns the validated rules ordered by creation
func (s *InMemoryRuleStore) ListValidated() ([]*Rule, error) {
	return s.list(func(r *Rule) bool { return r.Status == StatusValidated }), nil
}

func (s *InMemoryRuleStore) list(keep func(*Rule) bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if keep(rule) {
			out = append(out, rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update updates an existing rule
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}

	// Preserve original CreatedAt timestamp
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	delete(s.rules, id)
	return nil
}

// MarkPassing sets the last passing date of the rule and of all its test cases
func (s *InMemoryRuleStore) MarkPassing(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.LastPassingAt = &at
	for i := range rule.TestCases {
		passed := at
		rule.TestCases[i].LastPassingAt = &passed
	}
	return nil
}

// ClearPassing unsets the last passing date of the rule and of all its test cases
func (s *InMemoryRuleStore) ClearPassing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.LastPassingAt = nil
	for i := range rule.TestCases {
		rule.TestCases[i].LastPassingAt = nil
	}
	return nil
}
