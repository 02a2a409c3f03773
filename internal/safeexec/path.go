// Package safeexec is the security boundary for every subprocess and
// user-supplied path the coordinator touches. Commands run only from an
// explicit allow-list, arguments are rejected on shell metacharacters,
// child environments are stripped of credential-bearing variables, and
// paths are resolved through symlinks and confined to a base directory.
package safeexec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxPathLength mirrors the POSIX PATH_MAX ceiling.
const maxPathLength = 4096

var (
	// ErrPathNullByte is returned when a raw path contains a NUL byte.
	ErrPathNullByte = errors.New("path contains null byte")
	// ErrPathTooLong is returned when a raw path exceeds PATH_MAX.
	ErrPathTooLong = errors.New("path exceeds maximum length")
	// ErrPathTraversal is returned when a resolved path escapes the base directory.
	ErrPathTraversal = errors.New("path escapes base directory")
	// ErrPathNotDirectory is returned when the resolved path is not a directory.
	ErrPathNotDirectory = errors.New("path is not a directory")
	// ErrGitSegment is returned when a .git segment appears before the final path element.
	ErrGitSegment = errors.New(".git segment not allowed inside path")
)

// PathOpts controls ValidateUserPath.
type PathOpts struct {
	// AllowTraversal permits the resolved path to live outside BaseDir.
	AllowTraversal bool
	// BaseDir confines the resolved path when traversal is disallowed.
	// Empty means the current working directory.
	BaseDir string
}

// ValidateUserPath validates a user-supplied directory path and returns its
// fully resolved form. The path must exist, be a directory, and (unless
// traversal is allowed) live inside the resolved base directory.
func ValidateUserPath(path string, opts PathOpts) (string, error) {
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("%w: %q", ErrPathNullByte, path)
	}
	if len(path) > maxPathLength {
		return "", fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(path))
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}

	if !opts.AllowTraversal {
		base := opts.BaseDir
		if base == "" {
			base, err = os.Getwd()
			if err != nil {
				return "", fmt.Errorf("resolve working directory: %w", err)
			}
		}
		resolvedBase, err := filepath.EvalSymlinks(base)
		if err != nil {
			return "", fmt.Errorf("resolve base directory %q: %w", base, err)
		}
		resolvedBase, err = filepath.Abs(resolvedBase)
		if err != nil {
			return "", fmt.Errorf("resolve base directory %q: %w", base, err)
		}
		if !isWithin(resolved, resolvedBase) {
			return "", fmt.Errorf("%w: %q not under %q", ErrPathTraversal, resolved, resolvedBase)
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrPathNotDirectory, resolved)
	}
	return resolved, nil
}

// ValidateGitPath validates a path intended for git operations. On top of
// ValidateUserPath it forbids a ".git" segment anywhere except as the final
// path element, so a caller cannot reach into another repository's internals
// through a parent directory.
func ValidateGitPath(path string, opts PathOpts) (string, error) {
	resolved, err := ValidateUserPath(path, opts)
	if err != nil {
		return "", err
	}
	segments := strings.Split(filepath.ToSlash(resolved), "/")
	for i, seg := range segments {
		if seg == ".git" && i != len(segments)-1 {
			return "", fmt.Errorf("%w: %q", ErrGitSegment, resolved)
		}
	}
	return resolved, nil
}

func isWithin(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
