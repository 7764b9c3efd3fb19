// Package command parses a batch of model-written commands into a small
// statement AST. The language has assignments, calls, identifiers and
// literals (strings, numbers, booleans, None, lists, tuples); nothing else.
package command

import (
	"strings"

	"chat2edit/internal/value"
)

// Program is one parsed command batch.
type Program struct {
	Statements []Statement
}

// Sources returns the source text of every statement.
func (p *Program) Sources() []string {
	out := make([]string, len(p.Statements))
	for i, s := range p.Statements {
		out[i] = s.Source
	}
	return out
}

// Statement is either `Target = Expr` or a bare expression.
type Statement struct {
	Target string // empty for expression statements
	Expr   Expr
	Line   int    // 1-based line in the batch
	Source string // text as written
}

// IsAssignment reports whether the statement binds a name.
func (s Statement) IsAssignment() bool { return s.Target != "" }

// String renders the statement canonically.
func (s Statement) String() string {
	if s.Target == "" {
		return s.Expr.String()
	}
	return s.Target + " = " + s.Expr.String()
}

// Expr is an expression node.
type Expr interface {
	String() string
	exprNode()
}

// Literal is a constant.
type Literal struct {
	Value value.Value
}

// Ident references a Context binding (or, as a callee, a function).
type Ident struct {
	Name string
}

// ListExpr is `[a, b]`.
type ListExpr struct {
	Items []Expr
}

// TupleExpr is `(a, b)`.
type TupleExpr struct {
	Items []Expr
}

// Call is `fn(args..., name=value...)`.
type Call struct {
	Func     string
	Args     []Expr
	Keywords []Keyword
}

// Keyword is one `name=value` argument.
type Keyword struct {
	Name  string
	Value Expr
}

func (Literal) exprNode()   {}
func (Ident) exprNode()     {}
func (ListExpr) exprNode()  {}
func (TupleExpr) exprNode() {}
func (Call) exprNode()      {}

func (l Literal) String() string { return l.Value.String() }
func (i Ident) String() string   { return i.Name }

func (l ListExpr) String() string { return "[" + joinExprs(l.Items) + "]" }

func (t TupleExpr) String() string {
	if len(t.Items) == 1 {
		return "(" + t.Items[0].String() + ",)"
	}
	return "(" + joinExprs(t.Items) + ")"
}

func (c Call) String() string {
	parts := make([]string, 0, len(c.Args)+len(c.Keywords))
	for _, a := range c.Args {
		parts = append(parts, a.String())
	}
	for _, k := range c.Keywords {
		parts = append(parts, k.Name+"="+k.Value.String())
	}
	return c.Func + "(" + strings.Join(parts, ", ") + ")"
}

func joinExprs(items []Expr) string {
	parts := make([]string, len(items))
	for i, e := range items {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// FreeNames returns the identifiers an expression reads, callees excluded,
// in first-use order.
func FreeNames(e Expr) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case Ident:
			if !seen[n.Name] {
				seen[n.Name] = true
				out = append(out, n.Name)
			}
		case ListExpr:
			for _, it := range n.Items {
				walk(it)
			}
		case TupleExpr:
			for _, it := range n.Items {
				walk(it)
			}
		case Call:
			for _, a := range n.Args {
				walk(a)
			}
			for _, k := range n.Keywords {
				walk(k.Value)
			}
		}
	}
	walk(e)
	return out
}

// Callees returns the function names an expression calls, outermost last.
func Callees(e Expr) []string {
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case ListExpr:
			for _, it := range n.Items {
				walk(it)
			}
		case TupleExpr:
			for _, it := range n.Items {
				walk(it)
			}
		case Call:
			for _, a := range n.Args {
				walk(a)
			}
			for _, k := range n.Keywords {
				walk(k.Value)
			}
			out = append(out, n.Func)
		}
	}
	walk(e)
	return out
}
