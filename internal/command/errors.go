package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoStatements is reported when a batch contains nothing to run.
var ErrNoStatements = errors.New("no commands to execute")

// Issue is one rejected statement.
type Issue struct {
	Line   int
	Source string
	Reason string
}

func (i Issue) String() string {
	src := i.Source
	if idx := strings.IndexByte(src, '\n'); idx >= 0 {
		src = src[:idx] + " ..."
	}
	if src == "" {
		return fmt.Sprintf("line %d: %s", i.Line, i.Reason)
	}
	return fmt.Sprintf("line %d: `%s`: %s", i.Line, src, i.Reason)
}

// ParseError lists every malformed statement of a batch. No statement of
// a batch runs when parsing it failed.
type ParseError struct {
	Issues []Issue
}

func (e *ParseError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid command: " + e.Issues[0].String()
	}
	lines := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		lines[i] = is.String()
	}
	return fmt.Sprintf("invalid commands (%d):\n%s", len(e.Issues), strings.Join(lines, "\n"))
}

func (e *ParseError) add(line int, source, reason string) {
	e.Issues = append(e.Issues, Issue{Line: line, Source: source, Reason: reason})
}
