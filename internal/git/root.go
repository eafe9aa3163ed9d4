package git

import (
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// Toplevel returns the absolute root of the git repository containing
// path, or an error if path is not inside a git working tree.
func Toplevel(path string) (string, error) {
	cmd := exec.Command("git", "-C", path, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", eris.Wrap(err, "not a git working tree")
	}
	return strings.TrimSpace(string(output)), nil
}
