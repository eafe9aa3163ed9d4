package tty

import (
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether stdin is a terminal. `omni up` uses it
// to decide whether an untrusted work directory can be trusted through
// an interactive prompt or must fail outright, since a script or CI
// job has no one to answer a prompt.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
