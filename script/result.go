package script

// Result collects everything one execution produces: the returned value and
// the side channel.
type Result struct {
	Value    Value            `json:"value"`
	Messages []string         `json:"messages"`
	Errors   []string         `json:"errors"`
	Warnings []string         `json:"warnings,omitempty"`
	Info     []string         `json:"info,omitempty"`
	Debug    []string         `json:"debug,omitempty"`
	Details  map[string]Value `json:"details,omitempty"`
	Calls    []CallTrace      `json:"calls,omitempty"`

	// Aborted is the fault that stopped evaluation early, if any. Its
	// message is already part of Errors.
	Aborted error `json:"-"`
}

// CallTrace records one dispatched call for debugging and test generation.
type CallTrace struct {
	Name   string  `json:"name"`
	Args   []Value `json:"args,omitempty"`
	Result Value   `json:"result"`
	Error  string  `json:"error,omitempty"`

	// Effects is set when the call wrote to the side channel.
	Effects bool `json:"effects,omitempty"`
}

// Triple is the (value, messages, errors) shape compared by test cases.
type Triple struct {
	Value    Value    `json:"value" yaml:"value"`
	Messages []string `json:"messages" yaml:"messages"`
	Errors   []string `json:"errors" yaml:"errors"`
}

// NewResult returns an empty result whose value is None.
func NewResult() *Result {
	return &Result{Messages: []string{}, Errors: []string{}}
}

// AppendMessage records a user-visible, non-fatal annotation.
func (r *Result) AppendMessage(text string) { r.Messages = append(r.Messages, text) }

// AppendError records a business error. Evaluation continues.
func (r *Result) AppendError(text string) { r.Errors = append(r.Errors, text) }

func (r *Result) AddWarning(text string) { r.Warnings = append(r.Warnings, text) }
func (r *Result) AddInfo(text string)    { r.Info = append(r.Info, text) }
func (r *Result) AddDebug(text string)   { r.Debug = append(r.Debug, text) }

// SetDetail stores a named intermediate value next to the result.
func (r *Result) SetDetail(key string, v Value) {
	if r.Details == nil {
		r.Details = make(map[string]Value)
	}
	r.Details[key] = v
}

// Trace appends a call record.
func (r *Result) Trace(c CallTrace) { r.Calls = append(r.Calls, c) }

// Writes counts the side channel entries recorded so far.
func (r *Result) Writes() int {
	return len(r.Messages) + len(r.Errors) + len(r.Warnings) + len(r.Info) + len(r.Debug) + len(r.Details)
}

// HasErrors reports whether the outcome must be treated as failed.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// Triple returns the comparable part of the result.
func (r *Result) Triple() Triple {
	return Triple{Value: r.Value, Messages: r.Messages, Errors: r.Errors}
}

// Merge folds the side channel of a nested execution into r. The nested
// value is not copied.
func (r *Result) Merge(child *Result) {
	r.Messages = append(r.Messages, child.Messages...)
	r.Errors = append(r.Errors, child.Errors...)
	r.Warnings = append(r.Warnings, child.Warnings...)
	r.Info = append(r.Info, child.Info...)
	r.Debug = append(r.Debug, child.Debug...)
	r.Calls = append(r.Calls, child.Calls...)
	for k, v := range child.Details {
		r.SetDetail(k, v)
	}
}
