// Package gitops wraps the git operations the session coordinator needs:
// repository and worktree detection, status, staging, checkpoint commits,
// and background garbage collection. Every subprocess goes through the
// safeexec allow-list; git is the only binary this package may run.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sessionbuddy/sessionbuddy/internal/safeexec"
)

// allowedCommands is the complete allow-list for this package.
var allowedCommands = []string{"git"}

// ErrNotARepository is returned when a directory is not inside a git work tree.
var ErrNotARepository = errors.New("not a git repository")

// StatusEntry is one parsed line of porcelain status output.
type StatusEntry struct {
	Code string // two-column porcelain status code
	Path string
}

// Status summarizes the working tree.
type Status struct {
	Modified  []StatusEntry // tracked files with changes (staged or not)
	Untracked []StatusEntry
}

// Clean reports whether there are no changes at all.
func (s Status) Clean() bool {
	return len(s.Modified) == 0 && len(s.Untracked) == 0
}

// OnlyUntracked reports whether the only changes are untracked files.
func (s Status) OnlyUntracked() bool {
	return len(s.Modified) == 0 && len(s.Untracked) > 0
}

func runGit(ctx context.Context, dir string, args ...string) (safeexec.Result, error) {
	argv := append([]string{"git"}, args...)
	return safeexec.RunSafe(ctx, argv, allowedCommands, safeexec.RunOpts{Dir: dir})
}

// IsGitRepository reports whether dir is inside a git work tree.
func IsGitRepository(ctx context.Context, dir string) bool {
	res, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "true"
}

// IsGitWorktree reports whether dir is a linked worktree rather than the main
// working tree. In a linked worktree .git is a file pointing at the shared
// git directory.
func IsGitWorktree(ctx context.Context, dir string) bool {
	root, err := GetGitRoot(ctx, dir)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(root, ".git"))
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// GetGitRoot returns the top-level directory of the work tree containing dir.
func GetGitRoot(ctx context.Context, dir string) (string, error) {
	res, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: %s", ErrNotARepository, dir)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// GetGitStatus reads porcelain status and splits entries into modified
// (tracked) and untracked.
func GetGitStatus(ctx context.Context, dir string) (Status, error) {
	res, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return Status{}, err
	}
	if res.ExitCode != 0 {
		return Status{}, fmt.Errorf("%w: %s", ErrNotARepository, dir)
	}
	return parsePorcelainStatus(res.Stdout), nil
}

// parsePorcelainStatus honours the porcelain format: two status columns, a
// space, then the path. "??" marks untracked entries.
func parsePorcelainStatus(out string) Status {
	var status Status
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])
		entry := StatusEntry{Code: code, Path: path}
		if code == "??" {
			status.Untracked = append(status.Untracked, entry)
		} else {
			status.Modified = append(status.Modified, entry)
		}
	}
	return status
}

// StageFiles stages all changes ("add -A"). When files are given, only those
// paths are staged.
func StageFiles(ctx context.Context, dir string, files []string) error {
	args := []string{"add"}
	if len(files) == 0 {
		args = append(args, "-A")
	} else {
		args = append(args, "--")
		args = append(args, files...)
	}
	res, err := runGit(ctx, dir, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git add failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// GetStagedFiles lists paths currently staged for commit.
func GetStagedFiles(ctx context.Context, dir string) ([]string, error) {
	res, err := runGit(ctx, dir, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("git diff --cached failed: %s", strings.TrimSpace(res.Stderr))
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CreateCommit commits staged changes and returns the short hash. The message
// is passed through a temporary file so checkpoint messages may contain
// characters the argument validator rejects.
func CreateCommit(ctx context.Context, dir, message string) (string, error) {
	msgFile, err := os.CreateTemp("", "sb-commit-msg-*")
	if err != nil {
		return "", fmt.Errorf("create commit message file: %w", err)
	}
	defer os.Remove(msgFile.Name())
	if _, err := msgFile.WriteString(message); err != nil {
		msgFile.Close()
		return "", fmt.Errorf("write commit message: %w", err)
	}
	if err := msgFile.Close(); err != nil {
		return "", fmt.Errorf("close commit message file: %w", err)
	}

	res, err := runGit(ctx, dir, "commit", "-F", msgFile.Name())
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git commit failed: %s", strings.TrimSpace(res.Stderr))
	}

	hash, err := runGit(ctx, dir, "rev-parse", "--short=8", "HEAD")
	if err != nil {
		return "", err
	}
	if hash.ExitCode != 0 {
		return "", fmt.Errorf("git rev-parse failed: %s", strings.TrimSpace(hash.Stderr))
	}
	return strings.TrimSpace(hash.Stdout), nil
}

// gitDir returns the repository's git directory (handles linked worktrees).
func gitDir(ctx context.Context, dir string) (string, error) {
	res, err := runGit(ctx, dir, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: %s", ErrNotARepository, dir)
	}
	gd := strings.TrimSpace(res.Stdout)
	if !filepath.IsAbs(gd) {
		gd = filepath.Join(dir, gd)
	}
	return gd, nil
}

// operationMarkers are the files/directories whose presence means a git
// operation (rebase, merge, bisect, cherry-pick, revert, am) is in flight.
var operationMarkers = []string{
	"rebase-merge",
	"rebase-apply",
	"MERGE_HEAD",
	"BISECT_LOG",
	"CHERRY_PICK_HEAD",
	"REVERT_HEAD",
	"PATCH_APPLY",
}

// IsGitOperationInProgress reports whether any multi-step git operation has
// state under the git directory.
func IsGitOperationInProgress(ctx context.Context, dir string) (bool, error) {
	gd, err := gitDir(ctx, dir)
	if err != nil {
		return false, err
	}
	for _, marker := range operationMarkers {
		if _, err := os.Stat(filepath.Join(gd, marker)); err == nil {
			return true, nil
		}
	}
	return false, nil
}
