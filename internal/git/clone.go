package git

import (
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// GetRemoteURL retrieves the remote URL from a git repository
func GetRemoteURL(repoPath string) (string, error) {
	cmd := exec.Command("git", "-C", repoPath, "remote", "get-url", "origin")
	output, err := cmd.Output()
	if err != nil {
		return "", eris.Wrap(err, "failed to get remote URL")
	}
	return strings.TrimSpace(string(output)), nil
}

// ParseRemoteURL parses a git remote URL and extracts the host, organization, and repository name
// Supports both SSH and HTTPS URLs
// Examples:
//   - git@github.com:user/repo.git -> github.com, user, repo
//   - https://github.com/user/repo.git -> github.com, user, repo
//   - https://gitlab.com/org/subgroup/project.git -> gitlab.com, org/subgroup, project
func ParseRemoteURL(remoteURL string) (host, org, repo string, err error) {
	// Handle SSH URLs (git@host:path)
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", "", eris.Errorf("invalid SSH URL format: %s", remoteURL)
		}
		host = strings.TrimPrefix(parts[0], "git@")
		path := strings.TrimSuffix(parts[1], ".git")

		// Split path into org and repo
		pathParts := strings.Split(path, "/")
		if len(pathParts) < 2 {
			return "", "", "", eris.Errorf("invalid repository path: %s", path)
		}
		repo = pathParts[len(pathParts)-1]
		org = strings.Join(pathParts[:len(pathParts)-1], "/")

		return host, org, repo, nil
	}

	// Handle HTTPS URLs
	parsedURL, err := url.Parse(remoteURL)
	if err != nil {
		return "", "", "", eris.Wrap(err, "failed to parse remote URL")
	}

	host = parsedURL.Host
	path := strings.TrimPrefix(parsedURL.Path, "/")
	path = strings.TrimSuffix(path, ".git")

	pathParts := strings.Split(path, "/")
	if len(pathParts) < 2 {
		return "", "", "", eris.Errorf("invalid repository path: %s", path)
	}

	repo = pathParts[len(pathParts)-1]
	org = strings.Join(pathParts[:len(pathParts)-1], "/")

	return host, org, repo, nil
}

// GenerateProjectName generates a project name from a remote URL
// Format: host/org/repo (e.g., "github.com/user/repo")
func GenerateProjectName(remoteURL string) (string, error) {
	host, org, repo, err := ParseRemoteURL(remoteURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(host, org, repo), nil
}
