package catalog

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func pricingCatalog(t *testing.T) (*Catalog, map[string]string) {
	t.Helper()
	c := New()
	ids := map[string]string{
		"today":         mustRegister(t, c, "rule_engine.runtime", "today"),
		"years_between": mustRegister(t, c, "rule_engine.runtime", "years_between"),
		"birthdate":     mustRegister(t, c, "offered", "subscriber_birthdate"),
		"start":         mustRegister(t, c, "offered", "contract_start_date"),
	}
	dates, err := c.ComposeFolder("dates", ids["today"], ids["years_between"])
	if err != nil {
		t.Fatalf("ComposeFolder(dates) failed: %v", err)
	}
	ids["dates"] = dates
	root, err := c.ComposeFolder("root", dates, ids["birthdate"])
	if err != nil {
		t.Fatalf("ComposeFolder(root) failed: %v", err)
	}
	ids["root"] = root
	return c, ids
}

// TestFlatten_ExpandsFolders verifies recursive expansion into sorted references
func TestFlatten_ExpandsFolders(t *testing.T) {
	c, ids := pricingCatalog(t)
	ctx, err := NewContext(c, "ctx", "eligibility", ids["root"], ids["today"])
	if err != nil {
		t.Fatalf("NewContext() failed: %v", err)
	}

	want := []Ref{
		{Namespace: "offered", Name: "subscriber_birthdate"},
		{Namespace: "rule_engine.runtime", Name: "today"},
		{Namespace: "rule_engine.runtime", Name: "years_between"},
	}
	if diff := cmp.Diff(want, ctx.Flatten()); diff != "" {
		t.Errorf("Flatten() mismatch (-want +got):\n%s", diff)
	}
	// Idempotent.
	if diff := cmp.Diff(ctx.Flatten(), ctx.Flatten()); diff != "" {
		t.Errorf("Flatten() is not idempotent:\n%s", diff)
	}
}

// TestFlatten_OrderIndependent verifies allowed element order does not change the result
func TestFlatten_OrderIndependent(t *testing.T) {
	c, ids := pricingCatalog(t)
	a, _ := NewContext(c, "a", "a", ids["dates"], ids["birthdate"])
	b, _ := NewContext(c, "b", "b", ids["birthdate"], ids["dates"])
	if diff := cmp.Diff(a.Flatten(), b.Flatten()); diff != "" {
		t.Errorf("order changed the result (-a +b):\n%s", diff)
	}
}

// TestFlatten_Invalidation verifies the cache follows whitelist and folder mutations
func TestFlatten_Invalidation(t *testing.T) {
	c, ids := pricingCatalog(t)
	ctx, _ := NewContext(c, "ctx", "ctx", ids["dates"])
	if n := len(ctx.Flatten()); n != 2 {
		t.Fatalf("expected 2 functions, got %d", n)
	}

	if err := c.AddChildren(ids["dates"], ids["start"]); err != nil {
		t.Fatalf("AddChildren() failed: %v", err)
	}
	if n := len(ctx.Flatten()); n != 3 {
		t.Errorf("folder mutation not reflected: expected 3 functions, got %d", n)
	}

	if err := ctx.Allow(ids["birthdate"]); err != nil {
		t.Fatalf("Allow() failed: %v", err)
	}
	if n := len(ctx.Flatten()); n != 4 {
		t.Errorf("whitelist mutation not reflected: expected 4 functions, got %d", n)
	}

	if err := ctx.SetAllowed(ids["today"]); err != nil {
		t.Fatalf("SetAllowed() failed: %v", err)
	}
	if n := len(ctx.Flatten()); n != 1 {
		t.Errorf("SetAllowed not reflected: expected 1 function, got %d", n)
	}
}

// TestNames_DuplicateIdentifier verifies two functions callable under one identifier are rejected
func TestNames_DuplicateIdentifier(t *testing.T) {
	c := New()
	a := mustRegister(t, c, "contract", "start_date")
	b := mustRegister(t, c, "loss", "start_date")
	ctx, err := NewContext(c, "ctx", "claims", a, b)
	if err != nil {
		t.Fatalf("NewContext() failed: %v", err)
	}
	if _, err := ctx.Names(); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
	if _, err := ctx.AllowedNames(); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName from AllowedNames, got %v", err)
	}
}

// TestNames_TranslatedName verifies the identifier used by rule code
func TestNames_TranslatedName(t *testing.T) {
	c := New()
	id, err := c.Add(TreeElement{
		Kind:           KindFunction,
		Namespace:      "offered",
		Name:           "_re_subscriber_birthdate",
		TranslatedName: "subscriber_birthdate",
	})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	ctx, _ := NewContext(c, "ctx", "ctx", id)
	names, err := ctx.AllowedNames()
	if err != nil {
		t.Fatalf("AllowedNames() failed: %v", err)
	}
	if !names.Has("subscriber_birthdate") || names.Has("_re_subscriber_birthdate") {
		t.Errorf("unexpected names: %v", names.Sorted())
	}
}

// TestNewContext_UnknownElement verifies contexts only reference existing elements
func TestNewContext_UnknownElement(t *testing.T) {
	if _, err := NewContext(New(), "ctx", "ctx", "nope"); !errors.Is(err, ErrUnknownElement) {
		t.Errorf("expected ErrUnknownElement, got %v", err)
	}
}

// TestFlatten_ConcurrentReads verifies flatten can be read from many goroutines
func TestFlatten_ConcurrentReads(t *testing.T) {
	c, ids := pricingCatalog(t)
	ctx, _ := NewContext(c, "ctx", "ctx", ids["root"])
	want := ctx.Flatten()

	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if diff := cmp.Diff(want, ctx.Flatten()); diff != "" {
				errs <- diff
			}
		}()
	}
	wg.Wait()
	close(errs)
	for diff := range errs {
		t.Errorf("concurrent Flatten() differed:\n%s", diff)
	}
}

// TestTree verifies the documentation tree keeps folder structure and order
func TestTree(t *testing.T) {
	c, ids := pricingCatalog(t)
	ctx, _ := NewContext(c, "ctx", "ctx", ids["root"])

	tree := ctx.Tree()
	if len(tree) != 1 {
		t.Fatalf("expected one root node, got %d", len(tree))
	}
	root := tree[0]
	if root.Element.Description != "root" || len(root.Children) != 2 {
		t.Fatalf("unexpected root: %+v", root)
	}
	dates := root.Children[0]
	var names []string
	for _, n := range dates.Children {
		names = append(names, n.Element.Name)
	}
	if diff := cmp.Diff([]string{"today", "years_between"}, names); diff != "" {
		t.Errorf("folder children mismatch (-want +got):\n%s", diff)
	}
}
