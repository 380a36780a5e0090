package harness

import (
	"github.com/liamcoop/ruleengine/execlog"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

// FromEntry builds a test case from a recorded debug execution. An empty
// description names the case after the execution date.
func FromEntry(e execlog.Entry, description string) rules.TestCase {
	if description == "" {
		description = "Execution of " + e.ExecutedAt.UTC().Format("2006-01-02 15:04:05")
	}
	return fromCalls(e.RuleID, description, e.Calls, script.Triple{
		Value:    e.Value,
		Messages: e.Messages,
		Errors:   e.Errors,
	})
}
