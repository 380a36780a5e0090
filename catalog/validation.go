package catalog

import (
	"fmt"
	"regexp"

	"github.com/liamcoop/ruleengine/script"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks that name can be called from rule code: it must
// match ^[a-zA-Z_][a-zA-Z0-9_]*$, be 1-100 characters long and be neither a
// language keyword nor a side channel builtin.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: identifier cannot be empty", ErrInvalidIdentifier)
	}
	if len(name) > 100 {
		return fmt.Errorf("%w: identifier length %d exceeds maximum of 100 characters", ErrInvalidIdentifier, len(name))
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter or underscore, followed by letters, digits, or underscores", ErrInvalidIdentifier, name)
	}

	if script.IsKeyword(name) {
		return fmt.Errorf("%w: cannot use reserved keyword %q as identifier", ErrInvalidIdentifier, name)
	}
	if script.IsBuiltin(name) {
		return fmt.Errorf("%w: %q is a builtin", ErrInvalidIdentifier, name)
	}

	return nil
}

// validateNamespace accepts dotted module paths such as "rule_engine.runtime".
func validateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidIdentifier)
	}
	if len(ns) > 200 {
		return fmt.Errorf("%w: namespace length %d exceeds maximum of 200 characters", ErrInvalidIdentifier, len(ns))
	}
	start := 0
	for i := 0; i <= len(ns); i++ {
		if i < len(ns) && ns[i] != '.' {
			continue
		}
		part := ns[start:i]
		if !identifierPattern.MatchString(part) {
			return fmt.Errorf("%w: namespace %q has an invalid segment %q", ErrInvalidIdentifier, ns, part)
		}
		start = i + 1
	}
	return nil
}
