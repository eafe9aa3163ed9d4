// Package envfile parses the $OMNI_ENV file protocol: a writable file
// a custom operation's meet script can populate with directives that
// translate into environment contributions.
package envfile

import (
	"bufio"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/omnierr"
)

// Parse reads $OMNI_ENV directives from r and returns the equivalent
// ordered Op list. Malformed lines fail with omnierr.ErrBadEnvDirective.
func Parse(r io.Reader) ([]env.Op, error) {
	scanner := bufio.NewScanner(r)
	var ops []env.Op

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if unset, ok := strings.CutPrefix(line, "unset "); ok {
			ops = append(ops, env.Op{Kind: env.Unset, Name: strings.TrimSpace(unset)})
			continue
		}

		op, heredocTag, heredocStrip, err := parseAssignment(line)
		if err != nil {
			return nil, err
		}

		if heredocTag != "" {
			value, err := readHeredoc(scanner, heredocTag, heredocStrip)
			if err != nil {
				return nil, err
			}
			op.Value = value
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to read $OMNI_ENV file")
	}
	return ops, nil
}

// operators maps a directive's operator token to its Op kind, ordered
// longest-first so multi-character operators are matched before their
// single-character prefixes.
var operators = []struct {
	token string
	kind  env.OpKind
}{
	{"<<=", env.Prepend},
	{">>=", env.Append},
	{"<<", env.Set}, // heredoc marker, handled specially below
	{"-=", env.Remove},
	{"<=", env.Prefix},
	{">=", env.Suffix},
	{"=", env.Set},
}

func parseAssignment(line string) (op env.Op, heredocTag string, heredocStrip byte, err error) {
	for _, o := range operators {
		idx := strings.Index(line, o.token)
		if idx <= 0 {
			continue
		}
		name := line[:idx]
		rest := line[idx+len(o.token):]

		if o.token == "<<" {
			return parseHeredocHeader(name, rest)
		}
		return env.Op{Kind: o.kind, Name: name, Value: rest}, "", 0, nil
	}
	return env.Op{}, "", 0, eris.Wrapf(omnierr.ErrBadEnvDirective, "malformed $OMNI_ENV line: %q", line)
}

// parseHeredocHeader handles `NAME<<EOF`, `NAME<<-EOF` (strip leading
// tabs), and `NAME<<~EOF` (strip leading whitespace, dedented).
func parseHeredocHeader(name, rest string) (env.Op, string, byte, error) {
	var strip byte
	tag := rest
	switch {
	case strings.HasPrefix(rest, "-"):
		strip = '-'
		tag = rest[1:]
	case strings.HasPrefix(rest, "~"):
		strip = '~'
		tag = rest[1:]
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return env.Op{}, "", 0, eris.Wrapf(omnierr.ErrBadEnvDirective, "missing heredoc terminator for %s", name)
	}
	return env.Op{Kind: env.Set, Name: name}, tag, strip, nil
}

func readHeredoc(scanner *bufio.Scanner, tag string, strip byte) (string, error) {
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == tag {
			return joinHeredoc(lines, strip), nil
		}
		lines = append(lines, line)
	}
	return "", eris.Wrapf(omnierr.ErrBadEnvDirective, "unterminated heredoc, expected %s", tag)
}

func joinHeredoc(lines []string, strip byte) string {
	switch strip {
	case '-':
		for i, l := range lines {
			lines[i] = strings.TrimLeft(l, "\t")
		}
	case '~':
		minIndent := -1
		for _, l := range lines {
			if strings.TrimSpace(l) == "" {
				continue
			}
			indent := len(l) - len(strings.TrimLeft(l, " \t"))
			if minIndent == -1 || indent < minIndent {
				minIndent = indent
			}
		}
		if minIndent > 0 {
			for i, l := range lines {
				if len(l) >= minIndent {
					lines[i] = l[minIndent:]
				}
			}
		}
	}
	return strings.Join(lines, "\n")
}
