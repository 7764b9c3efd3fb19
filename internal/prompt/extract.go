package prompt

import (
	"errors"
	"regexp"
	"strings"

	"chat2edit/internal/command"
)

// ErrAnswerFormat matches every *AnswerFormatError.
var ErrAnswerFormat = errors.New("answer format error")

// AnswerFormatError reports a model answer without usable thinking and
// commands sections.
type AnswerFormatError struct {
	Answer string
	Reason string
}

func (e *AnswerFormatError) Error() string {
	return "invalid answer format: " + e.Reason
}

// Is makes errors.Is(err, ErrAnswerFormat) match.
func (e *AnswerFormatError) Is(target error) bool { return target == ErrAnswerFormat }

// DefaultHelperPrompt reminds the model of the answer format after an
// answer could not be read.
const DefaultHelperPrompt = `Please answer in this format:
thinking: <YOUR_THINKING>
commands:
<COMMAND_1>
<COMMAND_2>
...
<COMMAND_N>`

// Section labels. They are matched case-insensitively at line starts.
const (
	LabelThinking    = "thinking"
	LabelCommands    = "commands"
	LabelObservation = "observation"
)

// Models sometimes bold the labels ("**Thinking:**"); the asterisks are ignored.
var labelRe = regexp.MustCompile(`(?i)^[ \t]*\**(thinking|commands|observation)\**[ \t]*:\**[ \t]?(.*)$`)

// Answer is the readable part of a model answer.
type Answer struct {
	Thinking string
	Commands string
}

// Lines returns the non-blank command lines.
func (a Answer) Lines() []string {
	var out []string
	for _, line := range strings.Split(a.Commands, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

type section struct {
	label string
	body  []string
}

func (s section) text() string {
	return strings.Join(s.body, "\n")
}

func splitSections(text string) []section {
	var out []section
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := labelRe.FindStringSubmatch(line); m != nil {
			s := section{label: strings.ToLower(m[1])}
			if strings.TrimSpace(m[2]) != "" {
				s.body = append(s.body, m[2])
			}
			out = append(out, s)
			continue
		}
		if len(out) > 0 {
			out[len(out)-1].body = append(out[len(out)-1].body, line)
		}
	}
	return out
}

// cleanCommands strips code fences, dedents and drops blank lines.
func cleanCommands(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	var out []string
	for _, line := range strings.Split(command.Dedent(strings.Join(kept, "\n")), "\n") {
		if line = strings.TrimRight(line, " \t"); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Extract reads the first thinking and the first commands section of a
// model answer.
func Extract(answer string) (Answer, error) {
	var thinking, commands *section
	for _, s := range splitSections(answer) {
		s := s
		switch s.label {
		case LabelThinking:
			if thinking == nil {
				thinking = &s
			}
		case LabelCommands:
			if commands == nil {
				commands = &s
			}
		}
		if thinking != nil && commands != nil {
			break
		}
	}
	switch {
	case thinking == nil && commands == nil:
		return Answer{}, &AnswerFormatError{Answer: answer, Reason: "missing thinking and commands sections"}
	case thinking == nil:
		return Answer{}, &AnswerFormatError{Answer: answer, Reason: "missing thinking section"}
	case commands == nil:
		return Answer{}, &AnswerFormatError{Answer: answer, Reason: "missing commands section"}
	}
	out := Answer{
		Thinking: strings.TrimSpace(thinking.text()),
		Commands: cleanCommands(commands.text()),
	}
	if out.Commands == "" {
		return Answer{}, &AnswerFormatError{Answer: answer, Reason: "empty commands section"}
	}
	return out, nil
}

// ParseTranscript returns every thinking/commands pair of a rendered
// transcript, in order.
func ParseTranscript(text string) []Answer {
	var out []Answer
	var thinking *section
	for _, s := range splitSections(text) {
		s := s
		switch s.label {
		case LabelThinking:
			thinking = &s
		case LabelCommands:
			if thinking != nil {
				out = append(out, Answer{
					Thinking: strings.TrimSpace(thinking.text()),
					Commands: cleanCommands(s.text()),
				})
				thinking = nil
			}
		case LabelObservation:
			thinking = nil
		}
	}
	return out
}
