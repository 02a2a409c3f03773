package gitops

import (
	"context"
	"fmt"
	"strings"
)

// WorktreeInfo describes the worktree containing a directory.
type WorktreeInfo struct {
	Path           string
	Branch         string
	IsDetached     bool
	IsMainWorktree bool
}

// Worktree is one record from the porcelain worktree listing.
type Worktree struct {
	Path     string
	Head     string
	Branch   string
	Detached bool
	Bare     bool
}

// GetWorktreeInfo resolves the worktree a directory belongs to. For a
// detached HEAD the branch is rendered as "HEAD (<short-sha>)".
func GetWorktreeInfo(ctx context.Context, dir string) (WorktreeInfo, error) {
	root, err := GetGitRoot(ctx, dir)
	if err != nil {
		return WorktreeInfo{}, err
	}

	info := WorktreeInfo{Path: root, IsMainWorktree: !IsGitWorktree(ctx, dir)}

	branch, err := runGit(ctx, dir, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return WorktreeInfo{}, err
	}
	if branch.ExitCode == 0 && strings.TrimSpace(branch.Stdout) != "" {
		info.Branch = strings.TrimSpace(branch.Stdout)
		return info, nil
	}

	// Detached HEAD: fall back to the short commit hash.
	sha, err := runGit(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return WorktreeInfo{}, err
	}
	if sha.ExitCode != 0 {
		return WorktreeInfo{}, fmt.Errorf("resolve HEAD: %s", strings.TrimSpace(sha.Stderr))
	}
	info.IsDetached = true
	info.Branch = fmt.Sprintf("HEAD (%s)", strings.TrimSpace(sha.Stdout))
	return info, nil
}

// ListWorktrees parses `git worktree list --porcelain` into records.
func ListWorktrees(ctx context.Context, dir string) ([]Worktree, error) {
	res, err := runGit(ctx, dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("git worktree list failed: %s", strings.TrimSpace(res.Stderr))
	}
	return parseWorktreeList(res.Stdout), nil
}

// parseWorktreeList splits the porcelain listing into blank-line separated
// blocks, one per worktree.
func parseWorktreeList(out string) []Worktree {
	var worktrees []Worktree
	var current *Worktree
	flush := func() {
		if current != nil && current.Path != "" {
			worktrees = append(worktrees, *current)
		}
		current = nil
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		if current == nil {
			current = &Worktree{}
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "detached":
			current.Detached = true
		case line == "bare":
			current.Bare = true
		}
	}
	flush()
	return worktrees
}
