package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitOptions configures a GitDestination.
type GitOptions struct {
	Repo   string // path to an existing local clone
	File   string // snapshot path within the repo
	Branch string // branch to commit to
	Remote string // remote to pull from and push to; empty commits locally only
}

// GitDestination commits each snapshot to a file in a git repository.
type GitDestination struct {
	opts GitOptions
}

// NewGitDestination creates a git destination. Branch defaults to "main".
func NewGitDestination(opts GitOptions) *GitDestination {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	return &GitDestination{opts: opts}
}

// Write replaces the snapshot file, commits it when it changed, and pushes
// to the remote if one is configured.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.opts.Branch); err != nil {
		return err
	}

	if d.opts.Remote != "" {
		// The remote may not have the branch yet.
		_, _ = d.git(ctx, "pull", "--ff-only", d.opts.Remote, d.opts.Branch)
	}

	path := filepath.Join(d.opts.Repo, d.opts.File)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if _, err := d.git(ctx, "add", d.opts.File); err != nil {
		return err
	}
	if _, err := d.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if _, err := d.git(ctx, "commit", "-m", "sync: update session snapshot"); err != nil {
		return err
	}

	if d.opts.Remote != "" {
		if _, err := d.git(ctx, "push", d.opts.Remote, d.opts.Branch); err != nil {
			return err
		}
	}
	return nil
}

// git runs a git subcommand in the repo and returns its stdout. Failures
// carry the command's stderr.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.opts.Repo
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
