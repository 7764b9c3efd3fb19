package command

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat2edit/internal/value"
)

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse(context.Background(), src)
	require.NoError(t, err)
	return prog
}

func parseErr(t *testing.T, src string) *ParseError {
	t.Helper()
	_, err := Parse(context.Background(), src)
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe), "expected *ParseError, got %T: %v", err, err)
	return pe
}

func TestParseAssignmentAndCall(t *testing.T) {
	prog := mustParse(t, `dogs = detect(image0, prompt="dog")
response_user(text='done', attachments=[image1])`)

	require.Len(t, prog.Statements, 2)
	first := prog.Statements[0]
	assert.Equal(t, "dogs", first.Target)
	assert.Equal(t, 1, first.Line)
	assert.Equal(t, `dogs = detect(image0, prompt="dog")`, first.Source)

	want := Call{
		Func:     "detect",
		Args:     []Expr{Ident{Name: "image0"}},
		Keywords: []Keyword{{Name: "prompt", Value: Literal{Value: value.String("dog")}}},
	}
	if diff := cmp.Diff(want.String(), first.Expr.String()); diff != "" {
		t.Errorf("call mismatch (-want +got):\n%s", diff)
	}
	call, ok := first.Expr.(Call)
	require.True(t, ok)
	assert.Equal(t, "detect", call.Func)
	require.Len(t, call.Keywords, 1)

	second := prog.Statements[1]
	assert.False(t, second.IsAssignment())
	assert.Equal(t, 2, second.Line)
	assert.Equal(t, "response_user(text='done', attachments=[image1])", second.String())
	assert.Equal(t, []string{first.Source, second.Source}, prog.Sources())
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want value.Value
	}{
		{`x = 'it\'s'`, value.String("it's")},
		{`x = "tab\there"`, value.String("tab\there")},
		{`x = r"C:\path"`, value.String(`C:\path`)},
		{`x = "caf\u00e9"`, value.String("café")},
		{`x = "a" "b"`, value.String("ab")},
		{`x = 42`, value.Int(42)},
		{`x = 1_000`, value.Int(1000)},
		{`x = 0x1F`, value.Int(31)},
		{`x = 0o17`, value.Int(15)},
		{`x = 00`, value.Int(0)},
		{`x = -7`, value.Int(-7)},
		{`x = 1.15`, value.Float(1.15)},
		{`x = -0.5`, value.Float(-0.5)},
		{`x = 1e3`, value.Float(1000)},
		{`x = True`, value.Bool(true)},
		{`x = False`, value.Bool(false)},
		{`x = None`, value.None()},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog := mustParse(t, tt.src)
			lit, ok := prog.Statements[0].Expr.(Literal)
			require.True(t, ok, "got %T", prog.Statements[0].Expr)
			assert.True(t, tt.want.Equal(lit.Value), "want %s got %s", tt.want, lit.Value)
		})
	}
}

func TestParseContainers(t *testing.T) {
	prog := mustParse(t, `x = [a, (1, 2), (3,), (), [None]]`)
	assert.Equal(t, "x = [a, (1, 2), (3,), (), [None]]", prog.Statements[0].String())

	list := prog.Statements[0].Expr.(ListExpr)
	require.Len(t, list.Items, 5)
	assert.IsType(t, TupleExpr{}, list.Items[1])
	assert.IsType(t, TupleExpr{}, list.Items[2])
	assert.Len(t, list.Items[3].(TupleExpr).Items, 0)
}

func TestParseParenthesizedAndBareTuples(t *testing.T) {
	prog := mustParse(t, "x = (a)\ny = 1, 2")
	assert.Equal(t, Ident{Name: "a"}, prog.Statements[0].Expr)
	assert.Equal(t, "y = (1, 2)", prog.Statements[1].String())
}

func TestParseNestedCallsAndAwait(t *testing.T) {
	prog := mustParse(t, "x = rotate(detect(image0, 'cat'), angle=-90)\ny = await segment(image0)")
	assert.Equal(t, []string{"detect", "rotate"}, Callees(prog.Statements[0].Expr))
	assert.Equal(t, []string{"image0"}, FreeNames(prog.Statements[0].Expr))
	assert.Equal(t, "y = segment(image0)", prog.Statements[1].String())
}

func TestParseIgnoresCommentsAndDedents(t *testing.T) {
	prog := mustParse(t, `
    # first detect
    cats = detect(image0, 'cat')  # trailing
    response_user('ok')
`)
	require.Len(t, prog.Statements, 2)
	assert.Equal(t, 2, prog.Statements[0].Line)
	assert.Equal(t, "response_user('ok')", prog.Statements[1].Source)
}

func TestParseMultiLineCall(t *testing.T) {
	prog := mustParse(t, "x = f(\n    a,\n    b=1,\n)\ny = g()")
	require.Len(t, prog.Statements, 2)
	assert.Equal(t, "x = f(a, b=1)", prog.Statements[0].String())
	assert.Equal(t, 5, prog.Statements[1].Line)
}

func TestParseRejectsOutsideSubset(t *testing.T) {
	tests := []struct {
		src    string
		reason string
	}{
		{"for i in xs: f(i)", "loops are not allowed"},
		{"while True: f()", "loops are not allowed"},
		{"if a: f()", "conditionals are not allowed"},
		{"def f(): pass", "definitions are not allowed"},
		{"class A: pass", "definitions are not allowed"},
		{"import os", "imports are not allowed"},
		{"x = os.system('ls')", "method calls are not allowed; call functions by name"},
		{"x = a.b", "attribute access is not allowed"},
		{"x = a[0]", "subscripts are not allowed"},
		{"x = a + 1", "operators are not allowed"},
		{"x = -a", "operators are not allowed"},
		{"x = not a", "operators are not allowed"},
		{"x = lambda: 1", "lambdas are not allowed"},
		{"x += 1", "augmented assignment is not allowed"},
		{"a = b = f()", "chained assignment is not allowed"},
		{"a, b = f()", "only a single variable name can be assigned"},
		{"x: int = 1", "type annotations are not allowed"},
		{`x = f"{a}"`, "f-strings are not allowed"},
		{`x = b"raw"`, "byte strings are not allowed"},
		{"x = {'a': 1}", "dictionaries and sets are not supported; use lists or tuples"},
		{"x = f(*args)", "argument unpacking is not allowed"},
		{"x = f(a=1, a=2)", `keyword argument "a" repeated`},
		{"x = [i for i in xs]", "comprehensions are not allowed"},
		{"x = 2j", "complex numbers are not supported"},
		{"x = 017", "invalid integer literal 017: leading zeros are not permitted"},
		{"x = -(-5)", "operators are not allowed"},
		{"x = --5", "operators are not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			pe := parseErr(t, tt.src)
			require.Len(t, pe.Issues, 1)
			assert.Equal(t, tt.reason, pe.Issues[0].Reason)
			assert.Equal(t, 1, pe.Issues[0].Line)
		})
	}
}

func TestParseReportsEveryBadStatement(t *testing.T) {
	pe := parseErr(t, "x = a.b\ny = f()\nfor i in y: g(i)\nz = 1 + 2")
	require.Len(t, pe.Issues, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{pe.Issues[0].Line, pe.Issues[1].Line, pe.Issues[2].Line})
	assert.Contains(t, pe.Error(), "invalid commands (3)")
}

func TestParseSyntaxError(t *testing.T) {
	pe := parseErr(t, "x = f(")
	require.NotEmpty(t, pe.Issues)
	assert.Contains(t, pe.Issues[0].Reason, "syntax error")
}

func TestParseEmpty(t *testing.T) {
	pe := parseErr(t, "   \n# only a comment\n")
	require.Len(t, pe.Issues, 1)
	assert.Equal(t, ErrNoStatements.Error(), pe.Issues[0].Reason)
}

func TestParserIsReusable(t *testing.T) {
	p := NewParser()
	for i := 0; i < 3; i++ {
		prog, err := p.Parse(context.Background(), "x = f(1)")
		require.NoError(t, err)
		require.Len(t, prog.Statements, 1)
	}
}

func TestDedent(t *testing.T) {
	assert.Equal(t, "a\n  b\n\nc", Dedent("\n    a\n      b\n   \n    c\n"))
	assert.Equal(t, "x", Dedent("x"))
}

func TestDecodeString(t *testing.T) {
	got, err := decodeString(`'''multi
line'''`)
	require.NoError(t, err)
	assert.Equal(t, "multi\nline", got)

	got, err = decodeString(`"\x41\101\q"`)
	require.NoError(t, err)
	assert.Equal(t, `AA\q`, got)

	_, err = decodeString(`"\N{DASH}"`)
	assert.Error(t, err)
}
