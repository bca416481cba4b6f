// Package vcsroot detects the enclosing source-control root once at
// startup, used as a search ceiling by the environment-discovery
// collaborator.
package vcsroot

import (
	"context"
	"os/exec"
	"strings"

	"github.com/K-dash/pyright-lsp-proxy/logger"
)

// Detect runs `git rev-parse --show-toplevel` in workingDir and returns the
// toplevel path, or "" if git is unavailable or workingDir is not inside a
// git repository. It never returns an error: a missing git toplevel simply
// means the environment search has no ceiling.
func Detect(ctx context.Context, workingDir string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = workingDir

	out, err := cmd.Output()
	if err != nil {
		logger.Warn("git rev-parse --show-toplevel failed, continuing without a search ceiling: " + err.Error())
		return ""
	}

	toplevel := strings.TrimSpace(string(out))
	if toplevel == "" {
		return ""
	}
	logger.Info("git toplevel found: " + toplevel)
	return toplevel
}
