package tools

import (
	"fmt"

	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/script"
)

// Functional error levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// ErrorDefinition is a configured functional error that rules raise by code.
type ErrorDefinition struct {
	Code    string `json:"code" yaml:"code"`
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

func message(call *dispatch.Call, args []script.Value, name string) (string, error) {
	v, ok := arg(call, args, 0, name)
	if !ok {
		return "", errf("%s undefined !", name)
	}
	return v.String(), nil
}

func addAt(level string) dispatch.Func {
	return func(call *dispatch.Call, args ...script.Value) (script.Value, error) {
		text, err := message(call, args, "error_message")
		if err != nil {
			return script.None(), err
		}
		record(call.Result, level, text)
		return script.None(), nil
	}
}

func record(res *script.Result, level, text string) {
	switch level {
	case LevelInfo:
		res.AddInfo(text)
	case LevelWarning:
		res.AddWarning(text)
	default:
		res.AppendError(text)
	}
}

func addDebug(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	text, err := message(call, args, "the_message")
	if err != nil {
		return script.None(), err
	}
	call.Result.AddDebug(text)
	return script.None(), nil
}

// addErrorCode looks code up in the functional error table. An unknown code
// is itself an error and stops the rule.
func (rt *Runtime) addErrorCode(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	code, err := message(call, args, "error_code")
	if err != nil {
		return script.None(), err
	}
	def, ok := rt.errors[code]
	if !ok {
		call.Result.AppendError(fmt.Sprintf("No error definition found for error_code %s", code))
		return script.None(), script.Reported(nil)
	}
	record(call.Result, def.Kind, def.Message)
	return script.None(), nil
}

func addResultDetail(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	key, ok := arg(call, args, 0, "key")
	if !ok {
		return script.None(), errf("key undefined !")
	}
	value, _ := arg(call, args, 1, "value")
	call.Result.SetDetail(key.String(), value)
	return script.None(), nil
}
