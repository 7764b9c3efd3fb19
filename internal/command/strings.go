package command

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// decodeString turns a Python string literal (as tree-sitter reports it,
// prefix and quotes included) into its value. f-strings and byte strings
// are rejected.
func decodeString(raw string) (string, error) {
	i := 0
	for i < len(raw) && raw[i] != '\'' && raw[i] != '"' {
		i++
	}
	prefix := strings.ToLower(raw[:i])
	body := raw[i:]
	if strings.ContainsRune(prefix, 'f') {
		return "", errors.New("f-strings are not allowed")
	}
	if strings.ContainsRune(prefix, 'b') {
		return "", errors.New("byte strings are not allowed")
	}
	isRaw := strings.ContainsRune(prefix, 'r')

	quote := ""
	switch {
	case strings.HasPrefix(body, `"""`), strings.HasPrefix(body, `'''`):
		quote = body[:3]
	case body != "":
		quote = body[:1]
	}
	if quote == "" || len(body) < 2*len(quote) || !strings.HasSuffix(body, quote) {
		return "", errors.New("unterminated string literal")
	}
	body = body[len(quote) : len(body)-len(quote)]
	if isRaw {
		return body, nil
	}
	return unescape(body)
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
			// line continuation
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			n, _ := strconv.ParseUint(s[i:j], 8, 32)
			b.WriteRune(rune(n))
			i = j - 1
		case 'x', 'u', 'U':
			width := 2
			if e == 'u' {
				width = 4
			} else if e == 'U' {
				width = 8
			}
			if i+width >= len(s) {
				return "", errors.New("truncated escape sequence")
			}
			n, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32)
			if err != nil || !utf8.ValidRune(rune(n)) {
				return "", errors.New("invalid escape sequence")
			}
			b.WriteRune(rune(n))
			i += width
		case 'N':
			return "", errors.New(`named unicode escapes (\N{...}) are not supported`)
		default:
			// Unknown escapes keep their backslash.
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), nil
}

// Dedent removes the longest whitespace prefix shared by every non-blank
// line and trims surrounding blank lines.
func Dedent(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
