// Package env computes the ordered list of environment-variable
// mutations a work directory's installed tools contribute, and
// renders them as shell commands for the `omni hook env` protocol.
package env

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// OpKind identifies the kind of mutation an EnvOp performs.
type OpKind string

const (
	Set     OpKind = "set"
	Unset   OpKind = "unset"
	Prepend OpKind = "prepend"
	Append  OpKind = "append"
	Remove  OpKind = "remove"
	Prefix  OpKind = "prefix"
	Suffix  OpKind = "suffix"
)

// PathListSeparator joins path-like environment variable segments.
const PathListSeparator = ":"

// Op is one environment-variable mutation contributed by an installed
// tool.
type Op struct {
	Kind  OpKind
	Name  string
	Value string
}

// Contribution is the ordered set of Ops an install contributes,
// optionally scoped to a sub-path within the work directory.
type Contribution struct {
	DirSubpath string // empty means "applies everywhere in the work directory"
	Ops        []Op
}

// Scope filters contributions to those applicable when the shell's
// current directory, expressed relative to the work directory root,
// is cwdRel, then flattens them in declaration order.
func Scope(cwdRel string, contributions []Contribution) []Op {
	var flat []Op
	for _, c := range contributions {
		if c.DirSubpath != "" && !withinSubpath(cwdRel, c.DirSubpath) {
			continue
		}
		flat = append(flat, c.Ops...)
	}
	return flat
}

func withinSubpath(cwdRel, subpath string) bool {
	cwdRel = strings.Trim(cwdRel, "/")
	subpath = strings.Trim(subpath, "/")
	if subpath == "" || cwdRel == subpath {
		return true
	}
	return strings.HasPrefix(cwdRel, subpath+"/")
}

// Build normalizes a flat, declaration-ordered list of ops per the
// builder's ordering rules: Sets and Unsets come first in declaration
// order; path ops follow in declaration order; exact duplicate ops are
// no-ops; a Remove cancels any Prepend/Append of the same name and
// value anywhere in the list.
func Build(ops []Op) []Op {
	seen := make(map[Op]bool, len(ops))
	var setUnset, pathOps []Op
	for _, op := range ops {
		if seen[op] {
			continue
		}
		seen[op] = true
		if op.Kind == Set || op.Kind == Unset {
			setUnset = append(setUnset, op)
		} else {
			pathOps = append(pathOps, op)
		}
	}

	removed := make(map[[2]string]bool)
	for _, op := range pathOps {
		if op.Kind == Remove {
			removed[[2]string{op.Name, op.Value}] = true
		}
	}

	filtered := setUnset
	for _, op := range pathOps {
		if (op.Kind == Prepend || op.Kind == Append) && removed[[2]string{op.Name, op.Value}] {
			continue
		}
		filtered = append(filtered, op)
	}
	return filtered
}

// Fingerprint returns a stable hex digest of an ordered Op list,
// stored in EnvHistory to detect when a work directory's environment
// changes.
func Fingerprint(ops []Op) string {
	h := xxhash.New()
	for _, op := range ops {
		h.Write([]byte(op.Kind))
		h.Write([]byte{0})
		h.Write([]byte(op.Name))
		h.Write([]byte{0})
		h.Write([]byte(op.Value))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
