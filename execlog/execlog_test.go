package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/liamcoop/ruleengine/script"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestRecordAndGet verifies an entry survives storage
func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	res := script.NewResult()
	res.Value = script.Bool(false)
	res.AppendMessage("Subscriber too old (max: 40)")
	res.Trace(script.CallTrace{
		Name:   "subscriber_birthdate",
		Result: script.DateOf(1950, time.November, 2),
	})
	entry := NewEntry("rule-1", "age check", map[string]any{"contract": "C-1"}, res, 3*time.Millisecond)
	entry.ExecutedAt = time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)

	id, err := s.Record(ctx, entry)
	if err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	entry.ID = id
	if diff := cmp.Diff(&entry, got, cmp.Comparer(func(a, b script.Value) bool { return a.Equal(b) }),
		cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

// TestRecord_ExactNumberArgs verifies numeric args read back without losing digits
func TestRecord_ExactNumberArgs(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	args := map[string]any{"order": map[string]any{"amount": json.Number("1234567890.123456789")}}
	id, err := s.Record(ctx, NewEntry("rule-1", "triple", args, script.NewResult(), time.Millisecond))
	if err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	order, ok := got.Args["order"].(map[string]any)
	if !ok {
		t.Fatalf("order arg = %#v, want an object", got.Args["order"])
	}
	amount, err := script.FromInterface(order["amount"])
	if err != nil {
		t.Fatalf("FromInterface() failed: %v", err)
	}
	if want := script.MustDecimal("1234567890.123456789"); !amount.Equal(want) {
		t.Errorf("amount = %s, want %s", amount.Literal(), want.Literal())
	}
}

// TestGet_NotFound verifies unknown ids are reported
func TestGet_NotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestListAndPrune verifies ordering, limits and retention
func TestListAndPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := Entry{RuleID: "rule-1", RuleName: "r", Value: script.Int(int64(i)), ExecutedAt: base.AddDate(0, 0, i)}
		if _, err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}
	if _, err := s.Record(ctx, Entry{RuleID: "rule-2", ExecutedAt: base}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	latest, err := s.List(ctx, "rule-1", 2)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(latest) != 2 || !latest[0].Value.Equal(script.Int(4)) || !latest[1].Value.Equal(script.Int(3)) {
		t.Fatalf("List() returned unexpected entries: %+v", latest)
	}

	n, err := s.Prune(ctx, base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Prune() removed %d entries, want 4", n)
	}
	all, err := s.List(ctx, "rule-1", 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 remaining entries, got %d", len(all))
	}
}

// TestRecord_RequiresRule verifies entries must name their rule
func TestRecord_RequiresRule(t *testing.T) {
	s := openStore(t)
	if _, err := s.Record(context.Background(), Entry{}); err == nil {
		t.Error("expected an error for an entry without rule id")
	}
}
