package provider

import (
	"strconv"
	"sync"
	"time"

	"chat2edit/internal/logging"
	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

// Binding is a variable a function asks to have bound once its statement
// succeeds.
type Binding struct {
	Name  string
	Value value.Value
}

// Call is the signal slot handed to one function invocation. A function
// reports at most one Feedback or Response through it; anything it stages
// reaches the Context only when the evaluator commits the statement.
type Call struct {
	mu sync.Mutex

	fn    string
	vars  *value.Context
	alias func(value.Value) (string, bool)

	feedback *types.Feedback
	response *types.Message
	staged   []Binding
	reserved map[string]int
	closed   bool
}

// NewCall creates the slot for one invocation of fn. vars is only read;
// alias names unbound values that a response attaches.
func NewCall(fn string, vars *value.Context, alias func(value.Value) (string, bool)) *Call {
	if vars == nil {
		vars = value.NewContext()
	}
	return &Call{fn: fn, vars: vars, alias: alias, reserved: make(map[string]int)}
}

// Function returns the name of the function being called.
func (c *Call) Function() string { return c.fn }

func (c *Call) signalled() bool { return c.feedback != nil || c.response != nil }

// Feedback reports an observation for the model. Only the first signal of
// a call is kept.
func (c *Call) Feedback(status types.Status, text string, varnames ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.signalled() {
		logging.ProviderWarn("%s: ignoring extra feedback %q; call already signalled", c.fn, text)
		return
	}
	c.feedback = &types.Feedback{Status: status, Text: text, Varnames: append([]string(nil), varnames...)}
}

// Info reports an info observation.
func (c *Call) Info(text string, varnames ...string) { c.Feedback(types.StatusInfo, text, varnames...) }

// Warning reports a warning observation.
func (c *Call) Warning(text string, varnames ...string) {
	c.Feedback(types.StatusWarning, text, varnames...)
}

// Error reports an error observation without failing the call.
func (c *Call) Error(text string, varnames ...string) {
	c.Feedback(types.StatusError, text, varnames...)
}

// Respond ends the chat cycle with a response. Each attachment is named by
// the variable that holds it; a value no variable holds is bound under a
// fresh name derived from its alias.
func (c *Call) Respond(text string, attachments ...value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.signalled() {
		logging.ProviderWarn("%s: ignoring extra response; call already signalled", c.fn)
		return nil
	}

	var varnames []string
	var minted []Binding
	for _, v := range attachments {
		if name, ok := c.nameOfLocked(v); ok {
			varnames = append(varnames, name)
			continue
		}
		if name, ok := c.nameOfStaged(minted, v); ok {
			varnames = append(varnames, name)
			continue
		}
		alias, ok := "", false
		if c.alias != nil {
			alias, ok = c.alias(v)
		}
		if !ok {
			return &ArgumentError{Func: c.fn, Param: "attachments", Reason: "must only contain variables or objects"}
		}
		name := c.mintLocked(alias, minted)
		minted = append(minted, Binding{Name: name, Value: v})
		varnames = append(varnames, name)
	}

	c.staged = append(c.staged, minted...)
	c.response = &types.Message{Text: text, Varnames: varnames, Timestamp: time.Now()}
	return nil
}

// Bind stages a binding, e.g. an annotated copy a function wants the model
// to see. It is committed only if the statement succeeds.
func (c *Call) Bind(name string, v value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for i := range c.staged {
		if c.staged[i].Name == name {
			c.staged[i].Value = v
			return
		}
	}
	c.staged = append(c.staged, Binding{Name: name, Value: v})
}

// Lookup reads a variable, staged bindings first.
func (c *Call) Lookup(name string) (value.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.staged {
		if b.Name == name {
			return b.Value, true
		}
	}
	return c.vars.Get(name)
}

// NameOf returns the variable holding v, staged bindings first.
func (c *Call) NameOf(v value.Value) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nameOfLocked(v)
}

func (c *Call) nameOfLocked(v value.Value) (string, bool) {
	if name, ok := c.nameOfStaged(c.staged, v); ok {
		return name, true
	}
	return c.vars.NameOf(v)
}

func (c *Call) nameOfStaged(bs []Binding, v value.Value) (string, bool) {
	for _, b := range bs {
		if b.Value.Equal(v) {
			return b.Name, true
		}
	}
	return "", false
}

// mintLocked picks alias<N> without touching the Context; the counter
// moves when the call is committed.
func (c *Call) mintLocked(alias string, pending []Binding) string {
	idx := c.vars.Counter(alias)
	if r, ok := c.reserved[alias]; ok && r > idx {
		idx = r
	}
	for {
		name := alias + strconv.Itoa(idx)
		idx++
		if c.vars.Has(name) || c.isStaged(name, pending) {
			continue
		}
		c.reserved[alias] = idx
		return name
	}
}

func (c *Call) isStaged(name string, pending []Binding) bool {
	for _, b := range c.staged {
		if b.Name == name {
			return true
		}
	}
	for _, b := range pending {
		if b.Name == name {
			return true
		}
	}
	return false
}

// Signal returns what the call reported: at most one of feedback and response.
func (c *Call) Signal() (*types.Feedback, *types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedback, c.response
}

// Staged returns the bindings waiting for commit.
func (c *Call) Staged() []Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Binding(nil), c.staged...)
}

// Commit writes staged bindings and reserved name counters into vars.
func (c *Call) Commit(vars *value.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.staged {
		vars.Set(b.Name, b.Value)
	}
	for alias, next := range c.reserved {
		vars.Reserve(alias, next)
	}
}

// Close stops the call from accepting further signals or bindings. The
// evaluator closes calls it abandoned after a timeout.
func (c *Call) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
