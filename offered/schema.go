package offered

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
)

// Schema describes the execution args a product condition may read: each
// top-level role (contract, option, party...) maps field names to a type.
type Schema map[string]map[string]string

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var fieldTypes = map[string]bool{
	"int":       true,
	"double":    true,
	"decimal":   true,
	"string":    true,
	"bool":      true,
	"timestamp": true,
	"duration":  true,
	"list":      true,
	"map":       true,
}

var celKeywords = map[string]bool{
	"true": true, "false": true, "null": true,
	"in": true, "as": true, "break": true, "const": true, "continue": true,
	"else": true, "for": true, "function": true, "if": true, "import": true,
	"let": true, "loop": true, "package": true, "namespace": true,
	"return": true, "var": true, "void": true, "while": true,
}

// ValidateSchema checks role and field names and field types.
func ValidateSchema(schema Schema) error {
	if len(schema) > 100 {
		return fmt.Errorf("schema contains %d roles, maximum allowed is 100", len(schema))
	}
	for role, fields := range schema {
		if err := validateIdentifier(role); err != nil {
			return fmt.Errorf("invalid role name %q: %w", role, err)
		}
		if len(fields) > 200 {
			return fmt.Errorf("role %q contains %d fields, maximum allowed is 200", role, len(fields))
		}
		for field, typeName := range fields {
			if err := validateIdentifier(field); err != nil {
				return fmt.Errorf("invalid field name %q in role %q: %w", field, role, err)
			}
			if strings.TrimSpace(typeName) != typeName || !fieldTypes[typeName] {
				return fmt.Errorf("field %q in role %q has invalid type %q", field, role, typeName)
			}
		}
	}
	return nil
}

func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s", identifierPattern)
	}
	if celKeywords[name] {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

// NewConditionEnv returns the CEL environment conditions of a product are
// compiled in: one dynamic variable per schema role, plus "date" and
// "product".
func NewConditionEnv(schema Schema) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable(DateArg, cel.TimestampType),
		cel.Variable(ProductArg, cel.StringType),
	}
	for role := range schema {
		if role == DateArg || role == ProductArg {
			return nil, fmt.Errorf("role %q is reserved", role)
		}
		opts = append(opts, cel.Variable(role, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}
