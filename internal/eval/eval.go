// Package eval runs parsed command batches against a Context and a
// Provider. It walks the statement AST directly: names resolve through the
// Context, calls resolve through the provider's function registry, and no
// model-written text is ever executed as host code.
package eval

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"chat2edit/internal/command"
	"chat2edit/internal/logging"
	"chat2edit/internal/provider"
	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

// DefaultStatementTimeout bounds a statement when no timeout is configured.
const DefaultStatementTimeout = 60 * time.Second

// Evaluator executes command batches for one provider. It holds no
// per-conversation state and may be shared across conversations.
type Evaluator struct {
	provider provider.Provider
	parser   *command.Parser
	timeout  time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithStatementTimeout bounds each statement. Zero or negative disables it.
func WithStatementTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// WithParser sets the parser RunSource uses.
func WithParser(p *command.Parser) Option {
	return func(e *Evaluator) { e.parser = p }
}

// New creates an evaluator for p.
func New(p provider.Provider, opts ...Option) *Evaluator {
	e := &Evaluator{provider: p, timeout: DefaultStatementTimeout}
	for _, opt := range opts {
		opt(e)
	}
	if e.parser == nil {
		e.parser = command.NewParser()
	}
	return e
}

// Provider returns the provider the evaluator calls into.
func (e *Evaluator) Provider() provider.Provider { return e.provider }

// RunSource parses src and runs it. A batch that fails to parse runs
// nothing and comes back as error feedback.
func (e *Evaluator) RunSource(ctx context.Context, src string, vars *value.Context) (*types.ExecResult, error) {
	prog, err := e.parser.Parse(ctx, src)
	if err != nil {
		var pe *command.ParseError
		if !errors.As(err, &pe) && !errors.Is(err, command.ErrNoStatements) {
			return nil, err
		}
		logging.ExecDebug("batch rejected: %v", err)
		return &types.ExecResult{
			Status:        types.StatusError,
			Text:          err.Error(),
			Commands:      []string{},
			FailedCommand: command.Dedent(src),
		}, nil
	}
	return e.Run(ctx, prog, vars)
}

// Run executes the statements of prog in order. It stops after the first
// statement that fails, reports a warning or error, or responds. Only a
// HostFatalError is returned as an error; everything else is feedback on
// the result.
func (e *Evaluator) Run(ctx context.Context, prog *command.Program, vars *value.Context) (*types.ExecResult, error) {
	timer := logging.StartTimer(logging.CategoryExec, "run")
	defer timer.Stop()

	res := &types.ExecResult{Commands: []string{}}
	fb := e.provider.DefaultFeedback()

	for _, st := range prog.Statements {
		start := time.Now()
		v, calls, err := e.statement(ctx, st, vars)
		res.Durations = append(res.Durations, time.Since(start))

		if err != nil {
			if errors.Is(err, ErrHostFatal) {
				logging.ExecError("%v", err)
				return res, err
			}
			logging.ExecWarn("statement failed: %s: %v", st.Source, err)
			res.Status = types.StatusError
			res.Text = FeedbackText(st.Source, err)
			res.Varnames = nil
			res.FailedCommand = st.Source
			res.Traceback = traceback(err)
			return res, nil
		}

		for _, c := range calls {
			c.Commit(vars)
		}
		if st.IsAssignment() {
			vars.Set(st.Target, v)
		}
		res.Commands = append(res.Commands, st.Source)

		signal, resp := statementSignal(calls)
		if resp != nil {
			logging.ExecDebug("statement responded: %s", st.Source)
			res.Status = types.StatusInfo
			res.Text = resp.Text
			res.Varnames = resp.Varnames
			res.Response = resp
			return res, nil
		}

		fb = e.provider.DefaultFeedback()
		if signal != nil {
			fb = *signal
		}
		if fb.Status != types.StatusInfo {
			logging.ExecDebug("batch stopped on %s feedback after %s", fb.Status, st.Source)
			break
		}
	}

	res.Status = fb.Status
	res.Text = fb.Text
	res.Varnames = fb.Varnames
	return res, nil
}

// statement evaluates one statement without touching vars. The returned
// calls hold what must be committed if the statement is kept.
func (e *Evaluator) statement(ctx context.Context, st command.Statement, vars *value.Context) (value.Value, []*provider.Call, error) {
	if err := ctx.Err(); err != nil {
		return value.None(), nil, fmt.Errorf("turn cancelled: %w", err)
	}
	for _, name := range command.FreeNames(st.Expr) {
		if !vars.Has(name) {
			return value.None(), nil, &NameResolutionError{Name: name}
		}
	}
	for _, name := range command.Callees(st.Expr) {
		if !e.provider.Functions().Has(name) {
			return value.None(), nil, &NameResolutionError{Name: name, Function: true}
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var calls []*provider.Call
	v, err := e.eval(ctx, st.Expr, vars, &calls)
	if err != nil {
		for _, c := range calls {
			c.Close()
		}
		return value.None(), nil, err
	}

	if st.IsAssignment() && !v.IsNone() && !e.provider.Allowed(v) {
		return value.None(), nil, &HostFatalError{
			Command: st.Source,
			Err:     fmt.Errorf("%s returned a %s the provider does not persist", callee(st.Expr), v.TypeName()),
		}
	}
	for _, c := range calls {
		for _, b := range c.Staged() {
			if !b.Value.IsNone() && !e.provider.Allowed(b.Value) {
				return value.None(), nil, &HostFatalError{
					Command: st.Source,
					Err:     fmt.Errorf("%s staged %s as a %s the provider does not persist", c.Function(), b.Name, b.Value.TypeName()),
				}
			}
		}
	}
	return v, calls, nil
}

func (e *Evaluator) eval(ctx context.Context, expr command.Expr, vars *value.Context, calls *[]*provider.Call) (value.Value, error) {
	switch n := expr.(type) {
	case command.Literal:
		return n.Value, nil
	case command.Ident:
		v, ok := vars.Get(n.Name)
		if !ok {
			return value.None(), &NameResolutionError{Name: n.Name}
		}
		return v, nil
	case command.ListExpr:
		items, err := e.evalAll(ctx, n.Items, vars, calls)
		if err != nil {
			return value.None(), err
		}
		return value.List(items...), nil
	case command.TupleExpr:
		items, err := e.evalAll(ctx, n.Items, vars, calls)
		if err != nil {
			return value.None(), err
		}
		return value.Tuple(items...), nil
	case command.Call:
		return e.call(ctx, n, vars, calls)
	}
	return value.None(), fmt.Errorf("unsupported expression %T", expr)
}

func (e *Evaluator) evalAll(ctx context.Context, exprs []command.Expr, vars *value.Context, calls *[]*provider.Call) ([]value.Value, error) {
	out := make([]value.Value, 0, len(exprs))
	for _, x := range exprs {
		v, err := e.eval(ctx, x, vars, calls)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Evaluator) call(ctx context.Context, n command.Call, vars *value.Context, calls *[]*provider.Call) (value.Value, error) {
	fn := e.provider.Functions().Get(n.Func)
	if fn == nil {
		return value.None(), &NameResolutionError{Name: n.Func, Function: true}
	}

	positional, err := e.evalAll(ctx, n.Args, vars, calls)
	if err != nil {
		return value.None(), err
	}
	keywords := make([]provider.KeywordValue, 0, len(n.Keywords))
	for _, kw := range n.Keywords {
		v, err := e.eval(ctx, kw.Value, vars, calls)
		if err != nil {
			return value.None(), err
		}
		keywords = append(keywords, provider.KeywordValue{Name: kw.Name, Value: v})
	}

	args, err := fn.Bind(positional, keywords)
	if err != nil {
		return value.None(), &ProviderExecutionError{Function: fn.Name, Err: err}
	}

	var c *provider.Call
	var v value.Value
	if fn.Async {
		// The goroutine may outlive an abandoned call, so it reads a snapshot.
		c = provider.NewCall(fn.Name, vars.Clone(), e.provider.Alias)
		*calls = append(*calls, c)
		v, err = e.invokeAsync(ctx, fn, c, args)
	} else {
		c = provider.NewCall(fn.Name, vars, e.provider.Alias)
		*calls = append(*calls, c)
		v, err = invoke(ctx, fn, c, args)
	}
	if err != nil {
		return value.None(), &ProviderExecutionError{Function: fn.Name, Err: err}
	}
	logging.ExecDebug("%s returned %s", fn.Name, v.TypeName())
	return v, nil
}

type outcome struct {
	v   value.Value
	err error
}

func (e *Evaluator) invokeAsync(ctx context.Context, fn *provider.Function, c *provider.Call, args provider.Args) (value.Value, error) {
	done := make(chan outcome, 1)
	go func() {
		v, err := invoke(ctx, fn, c, args)
		done <- outcome{v: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil && errors.Is(out.err, ctx.Err()) {
			return value.None(), e.interrupted(ctx)
		}
		return out.v, out.err
	case <-ctx.Done():
		c.Close()
		return value.None(), e.interrupted(ctx)
	}
}

func (e *Evaluator) interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && e.timeout > 0 {
		return fmt.Errorf("timed out after %s: %w", e.timeout, ctx.Err())
	}
	return fmt.Errorf("cancelled: %w", ctx.Err())
}

func invoke(ctx context.Context, fn *provider.Function, c *provider.Call, args provider.Args) (v value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ExecError("panic in %s: %v", fn.Name, r)
			v, err = value.None(), &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn.Impl(ctx, c, args)
}

// statementSignal picks the observation of a statement from its calls. A
// response wins; otherwise the most severe feedback, earliest first.
func statementSignal(calls []*provider.Call) (*types.Feedback, *types.Message) {
	var best *types.Feedback
	for _, c := range calls {
		fb, resp := c.Signal()
		if resp != nil {
			return nil, resp
		}
		if fb != nil && (best == nil || severity(fb.Status) > severity(best.Status)) {
			best = fb
		}
	}
	return best, nil
}

func severity(s types.Status) int {
	switch s {
	case types.StatusError:
		return 2
	case types.StatusWarning:
		return 1
	}
	return 0
}

func callee(expr command.Expr) string {
	if c, ok := expr.(command.Call); ok {
		return c.Func
	}
	return "expression"
}

func traceback(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.stack
	}
	return err.Error()
}
