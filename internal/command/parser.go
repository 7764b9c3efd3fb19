package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"chat2edit/internal/logging"
	"chat2edit/internal/value"
)

// Parser turns command text into a Program. The command language is a
// strict subset of Python expression syntax, so the batch is parsed with
// the tree-sitter Python grammar and every node outside the subset is
// rejected while lowering.
//
// A Parser is safe for concurrent use; calls are serialized because the
// underlying tree-sitter parser is not.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewParser creates a new command parser.
func NewParser() *Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Parser{parser: parser}
}

var defaultParser = NewParser()

// Parse parses src with a shared parser.
func Parse(ctx context.Context, src string) (*Program, error) {
	return defaultParser.Parse(ctx, src)
}

// Parse parses one command batch. Every rejected statement is reported in
// a single *ParseError; no partial Program is returned.
func (p *Parser) Parse(ctx context.Context, src string) (*Program, error) {
	start := time.Now()
	content := []byte(Dedent(src))

	p.mu.Lock()
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	p.mu.Unlock()
	if err != nil {
		logging.ParserWarn("tree-sitter parse aborted: %v", err)
		return nil, fmt.Errorf("parse commands: %w", err)
	}
	defer tree.Close()

	l := &lowerer{content: content, errs: &ParseError{}}
	prog := &Program{}
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node.Type() == "comment" {
			continue
		}
		if stmt, ok := l.statement(node); ok {
			prog.Statements = append(prog.Statements, stmt)
		}
	}

	if root.HasError() && len(l.errs.Issues) == 0 {
		l.errs.add(1, strings.TrimSpace(string(content)), l.describeError(root))
	}
	if len(l.errs.Issues) > 0 {
		logging.ParserDebug("rejected %d statement(s): %v", len(l.errs.Issues), l.errs)
		return nil, l.errs
	}
	if len(prog.Statements) == 0 {
		l.errs.add(1, "", ErrNoStatements.Error())
		return nil, l.errs
	}
	logging.ParserDebug("parsed %d statement(s) in %v", len(prog.Statements), time.Since(start))
	return prog, nil
}

// rejection is raised while lowering a single statement.
type rejection struct {
	reason string
}

type lowerer struct {
	content []byte
	errs    *ParseError
}

func (l *lowerer) text(n *sitter.Node) string {
	return string(l.content[n.StartByte():n.EndByte()])
}

func (l *lowerer) statement(node *sitter.Node) (stmt Statement, ok bool) {
	line := int(node.StartPoint().Row) + 1
	source := strings.TrimSpace(l.text(node))

	if node.IsError() || node.HasError() {
		l.errs.add(line, source, l.describeError(node))
		return Statement{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			rej, isRej := r.(rejection)
			if !isRej {
				panic(r)
			}
			l.errs.add(line, source, rej.reason)
			ok = false
		}
	}()

	stmt = Statement{Line: line, Source: source}
	if node.Type() != "expression_statement" {
		reject(statementReason(node.Type()))
	}

	children := namedChildren(node)
	if len(children) == 1 && children[0].Type() == "assignment" {
		stmt.Target, stmt.Expr = l.assignment(children[0])
		return stmt, true
	}
	if len(children) == 1 {
		stmt.Expr = l.expr(children[0])
		return stmt, true
	}
	// `a, b` at statement level is a tuple.
	stmt.Expr = TupleExpr{Items: l.exprs(children)}
	return stmt, true
}

func (l *lowerer) assignment(node *sitter.Node) (string, Expr) {
	if node.ChildByFieldName("type") != nil {
		reject("type annotations are not allowed")
	}
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil {
		reject("incomplete assignment")
	}
	if left.Type() != "identifier" {
		reject("only a single variable name can be assigned")
	}
	if right.Type() == "assignment" {
		reject("chained assignment is not allowed")
	}
	return l.text(left), l.expr(right)
}

func (l *lowerer) exprs(nodes []*sitter.Node) []Expr {
	out := make([]Expr, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, l.expr(n))
	}
	return out
}

func (l *lowerer) expr(node *sitter.Node) Expr {
	switch node.Type() {
	case "identifier":
		return Ident{Name: l.text(node)}
	case "string":
		s, err := decodeString(l.text(node))
		if err != nil {
			reject(err.Error())
		}
		return Literal{Value: value.String(s)}
	case "concatenated_string":
		var b strings.Builder
		for _, part := range namedChildren(node) {
			s, err := decodeString(l.text(part))
			if err != nil {
				reject(err.Error())
			}
			b.WriteString(s)
		}
		return Literal{Value: value.String(b.String())}
	case "integer":
		return Literal{Value: parseInt(l.text(node))}
	case "float":
		return Literal{Value: parseFloat(l.text(node))}
	case "true":
		return Literal{Value: value.Bool(true)}
	case "false":
		return Literal{Value: value.Bool(false)}
	case "none":
		return Literal{Value: value.None()}
	case "unary_operator":
		return l.unary(node)
	case "list":
		return ListExpr{Items: l.exprs(namedChildren(node))}
	case "tuple", "expression_list":
		return TupleExpr{Items: l.exprs(namedChildren(node))}
	case "parenthesized_expression":
		inner := namedChildren(node)
		if len(inner) != 1 {
			reject("malformed parenthesized expression")
		}
		return l.expr(inner[0])
	case "call":
		return l.call(node)
	case "await":
		// Asynchronous functions are awaited implicitly; tolerate an explicit await.
		inner := namedChildren(node)
		if len(inner) != 1 || inner[0].Type() != "call" {
			reject("await can only be applied to a function call")
		}
		return l.call(inner[0])
	}
	reject(expressionReason(node.Type()))
	return nil
}

func (l *lowerer) unary(node *sitter.Node) Expr {
	op := node.ChildByFieldName("operator")
	arg := node.ChildByFieldName("argument")
	if op == nil || arg == nil {
		reject("malformed unary expression")
	}
	sign := l.text(op)
	if sign != "-" && sign != "+" {
		reject("operators are not allowed")
	}
	if t := arg.Type(); t != "integer" && t != "float" {
		reject("operators are not allowed")
	}
	lit, isLit := l.expr(arg).(Literal)
	if !isLit {
		reject("operators are not allowed")
	}
	if sign == "+" {
		if _, ok := lit.Value.AsFloat(); !ok {
			reject("operators are not allowed")
		}
		return lit
	}
	if i, ok := lit.Value.AsInt(); ok {
		return Literal{Value: value.Int(-i)}
	}
	if f, ok := lit.Value.AsFloat(); ok {
		return Literal{Value: value.Float(-f)}
	}
	reject("operators are not allowed")
	return nil
}

func (l *lowerer) call(node *sitter.Node) Expr {
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		reject("malformed call")
	}
	if fn.Type() != "identifier" {
		if fn.Type() == "attribute" {
			reject("method calls are not allowed; call functions by name")
		}
		reject("only named functions can be called")
	}
	if args.Type() != "argument_list" {
		reject("generator arguments are not allowed")
	}

	call := Call{Func: l.text(fn)}
	seen := make(map[string]bool)
	for _, arg := range namedChildren(args) {
		switch arg.Type() {
		case "keyword_argument":
			name := arg.ChildByFieldName("name")
			val := arg.ChildByFieldName("value")
			if name == nil || val == nil || name.Type() != "identifier" {
				reject("malformed keyword argument")
			}
			key := l.text(name)
			if seen[key] {
				reject(fmt.Sprintf("keyword argument %q repeated", key))
			}
			seen[key] = true
			call.Keywords = append(call.Keywords, Keyword{Name: key, Value: l.expr(val)})
		case "list_splat", "dictionary_splat":
			reject("argument unpacking is not allowed")
		default:
			if len(call.Keywords) > 0 {
				reject("positional argument follows keyword argument")
			}
			call.Args = append(call.Args, l.expr(arg))
		}
	}
	return call
}

func (l *lowerer) describeError(node *sitter.Node) string {
	var found *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found != nil {
			return
		}
		if n.IsMissing() || n.IsError() {
			found = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	if found == nil {
		return "syntax error"
	}
	if found.IsMissing() {
		return fmt.Sprintf("syntax error: missing %s", found.Type())
	}
	near := strings.TrimSpace(l.text(found))
	if len(near) > 40 {
		near = near[:40] + "..."
	}
	if near == "" {
		return "syntax error"
	}
	return fmt.Sprintf("syntax error near %q", near)
}

func reject(reason string) {
	panic(rejection{reason: reason})
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func statementReason(nodeType string) string {
	switch nodeType {
	case "for_statement", "while_statement":
		return "loops are not allowed"
	case "if_statement", "match_statement":
		return "conditionals are not allowed"
	case "function_definition", "class_definition", "decorated_definition":
		return "definitions are not allowed"
	case "import_statement", "import_from_statement", "future_import_statement":
		return "imports are not allowed"
	case "try_statement", "with_statement", "raise_statement":
		return "exception handling is not allowed"
	case "return_statement", "pass_statement", "break_statement", "continue_statement":
		return "control flow is not allowed"
	case "delete_statement", "global_statement", "nonlocal_statement":
		return "scope statements are not allowed"
	}
	return fmt.Sprintf("unsupported statement (%s)", strings.TrimSuffix(nodeType, "_statement"))
}

func expressionReason(nodeType string) string {
	switch nodeType {
	case "attribute":
		return "attribute access is not allowed"
	case "subscript", "slice":
		return "subscripts are not allowed"
	case "binary_operator", "boolean_operator", "comparison_operator", "not_operator", "conditional_expression":
		return "operators are not allowed"
	case "augmented_assignment":
		return "augmented assignment is not allowed"
	case "lambda":
		return "lambdas are not allowed"
	case "named_expression":
		return "assignment expressions are not allowed"
	case "list_comprehension", "dictionary_comprehension", "set_comprehension", "generator_expression":
		return "comprehensions are not allowed"
	case "dictionary", "set":
		return "dictionaries and sets are not supported; use lists or tuples"
	case "yield":
		return "yield is not allowed"
	case "pattern_list", "tuple_pattern", "list_pattern":
		return "only a single variable name can be assigned"
	}
	return fmt.Sprintf("unsupported expression (%s)", nodeType)
}

func parseInt(text string) value.Value {
	lower := strings.ToLower(text)
	if strings.HasSuffix(lower, "j") {
		reject("complex numbers are not supported")
	}
	if len(text) > 1 && text[0] == '0' && !strings.ContainsAny(lower[1:2], "xob") &&
		strings.Trim(text, "0_") != "" {
		reject(fmt.Sprintf("invalid integer literal %s: leading zeros are not permitted", text))
	}
	n, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			reject("integer literal out of range")
		}
		reject(fmt.Sprintf("invalid integer literal %s", text))
	}
	return value.Int(n)
}

func parseFloat(text string) value.Value {
	clean := strings.ReplaceAll(text, "_", "")
	if strings.HasSuffix(strings.ToLower(clean), "j") {
		reject("complex numbers are not supported")
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		reject(fmt.Sprintf("invalid float literal %s", text))
	}
	return value.Float(f)
}
