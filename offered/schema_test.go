package offered

import (
	"strings"
	"testing"
)

// TestValidateSchema_Valid verifies well-formed schemas, including the empty one
func TestValidateSchema_Valid(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"nil schema", nil},
		{"contract and party", Schema{
			"contract": {"premium": "decimal", "start_date": "timestamp", "options": "list"},
			"party":    {"age": "int", "smoker": "bool", "name": "string"},
		}},
		{"role without fields", Schema{"option": {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateSchema(tt.schema); err != nil {
				t.Errorf("ValidateSchema() error = %v", err)
			}
		})
	}
}

// TestValidateSchema_Invalid verifies names, keywords, types and limits are checked
func TestValidateSchema_Invalid(t *testing.T) {
	tooManyRoles := Schema{}
	for i := 0; i < 101; i++ {
		tooManyRoles["role"+string(rune('A'+i%26))+string(rune('0'+i/26))] = map[string]string{"f": "int"}
	}
	tooManyFields := map[string]string{}
	for i := 0; i < 201; i++ {
		tooManyFields["field"+string(rune('A'+i%26))+string(rune('0'+i/26))] = "int"
	}

	tests := []struct {
		name    string
		schema  Schema
		wantErr string
	}{
		{"too many roles", tooManyRoles, "100"},
		{"too many fields", Schema{"contract": tooManyFields}, "200"},
		{"role starting with digit", Schema{"1contract": {"f": "int"}}, "1contract"},
		{"role with dash", Schema{"my-contract": {"f": "int"}}, "my-contract"},
		{"reserved role", Schema{"in": {"f": "int"}}, "reserved keyword"},
		{"reserved field", Schema{"contract": {"null": "int"}}, "reserved keyword"},
		{"empty field name", Schema{"contract": {"": "int"}}, "cannot be empty"},
		{"unknown type", Schema{"contract": {"premium": "money"}}, "invalid type"},
		{"type case", Schema{"contract": {"premium": "Decimal"}}, "invalid type"},
		{"type whitespace", Schema{"contract": {"premium": " int"}}, "invalid type"},
		{"long name", Schema{strings.Repeat("a", 101): {"f": "int"}}, "exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema(tt.schema)
			if err == nil {
				t.Fatal("ValidateSchema() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

// TestNewConditionEnv verifies roles become variables next to date and product
func TestNewConditionEnv(t *testing.T) {
	env, err := NewConditionEnv(Schema{"contract": {"premium": "decimal"}})
	if err != nil {
		t.Fatalf("NewConditionEnv() failed: %v", err)
	}
	for _, expr := range []string{
		`contract.premium > 10.0`,
		`product == "LIFE"`,
		`date > timestamp("2026-01-01T00:00:00Z")`,
	} {
		if _, issues := env.Compile(expr); issues != nil && issues.Err() != nil {
			t.Errorf("Compile(%q) failed: %v", expr, issues.Err())
		}
	}
	if _, issues := env.Compile(`party.age > 18`); issues == nil || issues.Err() == nil {
		t.Error("undeclared role should not compile")
	}

	if _, err := NewConditionEnv(Schema{"date": {"day": "int"}}); err == nil {
		t.Error("reserved role name should be rejected")
	}
}
