package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// newGitClone creates a bare remote and a clone of it with one commit on
// main, returning the clone's path.
func newGitClone(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}

	remoteDir := t.TempDir()
	run(t, remoteDir, "git", "init", "--bare")

	workDir := t.TempDir()
	run(t, workDir, "git", "clone", remoteDir, "repo")
	repoDir := filepath.Join(workDir, "repo")

	run(t, repoDir, "git", "config", "user.email", "test@test.com")
	run(t, repoDir, "git", "config", "user.name", "Test")
	run(t, repoDir, "git", "branch", "-m", "main")

	if err := os.WriteFile(filepath.Join(repoDir, ".gitkeep"), nil, 0o644); err != nil {
		t.Fatalf("write .gitkeep: %v", err)
	}
	run(t, repoDir, "git", "add", ".")
	run(t, repoDir, "git", "commit", "-m", "init")
	run(t, repoDir, "git", "push", "origin", "main")
	return repoDir
}

func commitCount(t *testing.T, repo string) int {
	t.Helper()
	out, err := exec.Command("git", "-C", repo, "rev-list", "--count", "HEAD").Output()
	if err != nil {
		t.Fatalf("rev-list: %v", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		t.Fatalf("parse commit count %q: %v", out, err)
	}
	return n
}

func TestGitDestination(t *testing.T) {
	repo := newGitClone(t)
	dest := NewGitDestination(GitOptions{Repo: repo, File: "sessions.jsonl", Remote: "origin"})
	ctx := context.Background()

	data1 := []byte(`{"version":"1","type":"header"}` + "\n")
	if err := dest.Write(ctx, data1); err != nil {
		t.Fatalf("first write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repo, "sessions.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(data1) {
		t.Fatalf("file content mismatch: got %q", string(got))
	}
	if n := commitCount(t, repo); n != 2 {
		t.Fatalf("expected 2 commits, got %d", n)
	}

	// Same data: no new commit.
	if err := dest.Write(ctx, data1); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if n := commitCount(t, repo); n != 2 {
		t.Fatalf("unchanged snapshot committed: %d commits", n)
	}

	data2 := []byte(`{"version":"1","type":"header","session_count":1}` + "\n")
	if err := dest.Write(ctx, data2); err != nil {
		t.Fatalf("third write: %v", err)
	}
	if n := commitCount(t, repo); n != 3 {
		t.Fatalf("expected 3 commits, got %d", n)
	}
}

func TestGitDestination_LocalOnlySubDirectory(t *testing.T) {
	repo := newGitClone(t)
	dest := NewGitDestination(GitOptions{Repo: repo, File: "data/sessions.jsonl"})

	data := []byte(`{"type":"header"}` + "\n")
	if err := dest.Write(context.Background(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repo, "data", "sessions.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("content mismatch: got %q", string(got))
	}
}

func TestGitDestination_ErrorCarriesStderr(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	dest := NewGitDestination(GitOptions{Repo: t.TempDir(), File: "s.jsonl"})
	err := dest.Write(context.Background(), []byte("{}\n"))
	if err == nil {
		t.Fatal("expected error outside a git repository")
	}
	if !strings.Contains(err.Error(), "git checkout") {
		t.Fatalf("error = %v", err)
	}
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("%s %v failed: %v", name, args, err)
	}
}
