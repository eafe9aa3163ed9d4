package env

import (
	"strings"
)

// Shell identifies a shell dialect for hook command emission.
type Shell string

const (
	POSIX Shell = "posix" // sh, bash, zsh
	Fish  Shell = "fish"
)

// Diff returns the ops needed to move a shell session from previous to
// current: an Unset for every name previous set that current no longer
// sets, followed by current in full (path ops are idempotent to
// re-apply against the shell's live variable state).
func Diff(previous, current []Op) []Op {
	curSet := make(map[string]bool, len(current))
	for _, op := range current {
		if op.Kind == Set {
			curSet[op.Name] = true
		}
	}

	var diff []Op
	for _, op := range previous {
		if op.Kind == Set && !curSet[op.Name] {
			diff = append(diff, Op{Kind: Unset, Name: op.Name})
		}
	}
	return append(diff, current...)
}

// Emit renders ops as shell commands for the given dialect. getenv
// resolves a variable's current value in the shell that will run the
// commands, needed to compute Prepend/Append/Remove/Prefix/Suffix.
func Emit(shell Shell, ops []Op, getenv func(string) string) []string {
	var lines []string
	for _, op := range ops {
		switch op.Kind {
		case Set:
			lines = append(lines, emitSet(shell, op.Name, op.Value))
		case Unset:
			lines = append(lines, emitUnset(shell, op.Name))
		case Prepend:
			lines = append(lines, emitSet(shell, op.Name, pathPrepend(getenv(op.Name), op.Value)))
		case Append:
			lines = append(lines, emitSet(shell, op.Name, pathAppend(getenv(op.Name), op.Value)))
		case Remove:
			lines = append(lines, emitSet(shell, op.Name, pathRemove(getenv(op.Name), op.Value)))
		case Prefix:
			lines = append(lines, emitSet(shell, op.Name, op.Value+getenv(op.Name)))
		case Suffix:
			lines = append(lines, emitSet(shell, op.Name, getenv(op.Name)+op.Value))
		}
	}
	return lines
}

func emitSet(shell Shell, name, value string) string {
	switch shell {
	case Fish:
		return "set -gx " + name + " " + quoteFish(value) + ";"
	default:
		return "export " + name + "=" + quotePOSIX(value)
	}
}

func emitUnset(shell Shell, name string) string {
	switch shell {
	case Fish:
		return "set -e " + name + ";"
	default:
		return "unset " + name
	}
}

func quotePOSIX(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func quoteFish(value string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(value, `\`, `\\`), "'", `\'`) + "'"
}

func pathSegments(current string) []string {
	if current == "" {
		return nil
	}
	return strings.Split(current, PathListSeparator)
}

func pathPrepend(current, value string) string {
	segments := dedupRemove(pathSegments(current), value)
	return strings.Join(append([]string{value}, segments...), PathListSeparator)
}

func pathAppend(current, value string) string {
	segments := dedupRemove(pathSegments(current), value)
	return strings.Join(append(segments, value), PathListSeparator)
}

func pathRemove(current, value string) string {
	return strings.Join(dedupRemove(pathSegments(current), value), PathListSeparator)
}

func dedupRemove(segments []string, value string) []string {
	out := segments[:0:0]
	for _, s := range segments {
		if s != value {
			out = append(out, s)
		}
	}
	return out
}
