package gitops

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckpointClean is the distinguished result for a clean working tree. No
// commit is synthesized in that case.
const CheckpointClean = "clean"

// ErrOnlyUntracked is returned when the working tree has nothing but
// untracked files; a checkpoint never commits files the user has not chosen
// to track.
var ErrOnlyUntracked = errors.New("only untracked files present, refusing to checkpoint")

// CheckpointResult reports the outcome of a checkpoint attempt.
type CheckpointResult struct {
	// Result is CheckpointClean or the 8-hex short commit hash.
	Result string
	// LinesChanged counts inserted plus deleted lines in the checkpoint.
	LinesChanged int
}

var shortstatRe = regexp.MustCompile(`(\d+) insertion|(\d+) deletion`)

// CreateCheckpointCommit stages all tracked changes and commits them with a
// structured checkpoint message. Returns CheckpointClean without touching the
// repository when there is nothing to commit.
func CreateCheckpointCommit(ctx context.Context, dir, project string, qualityScore int) (CheckpointResult, error) {
	if !IsGitRepository(ctx, dir) {
		return CheckpointResult{}, fmt.Errorf("%w: %s", ErrNotARepository, dir)
	}

	status, err := GetGitStatus(ctx, dir)
	if err != nil {
		return CheckpointResult{}, err
	}
	if status.Clean() {
		return CheckpointResult{Result: CheckpointClean}, nil
	}
	if status.OnlyUntracked() {
		return CheckpointResult{}, ErrOnlyUntracked
	}

	lines, err := countChangedLines(ctx, dir)
	if err != nil {
		// The count is informational; a failed count must not block the commit.
		log.Warn().Err(err).Msg("Failed to count changed lines for checkpoint")
	}

	if err := StageFiles(ctx, dir, nil); err != nil {
		return CheckpointResult{}, err
	}

	message := checkpointMessage(ctx, dir, project, qualityScore, time.Now())
	hash, err := CreateCommit(ctx, dir, message)
	if err != nil {
		return CheckpointResult{}, err
	}

	log.Info().
		Str("project", project).
		Str("commit", hash).
		Int("lines", lines).
		Msg("Created checkpoint commit")
	return CheckpointResult{Result: hash, LinesChanged: lines}, nil
}

// checkpointMessage renders:
//
//	checkpoint: <project> (quality: <score>/100) - <YYYY-MM-DD HH:MM:SS>[ [worktree: <branch>]]
//
// The worktree suffix appears only when committing from a linked worktree.
func checkpointMessage(ctx context.Context, dir, project string, qualityScore int, now time.Time) string {
	msg := fmt.Sprintf("checkpoint: %s (quality: %d/100) - %s",
		project, qualityScore, now.Format("2006-01-02 15:04:05"))
	if info, err := GetWorktreeInfo(ctx, dir); err == nil && !info.IsMainWorktree {
		msg += fmt.Sprintf(" [worktree: %s]", info.Branch)
	}
	return msg
}

func countChangedLines(ctx context.Context, dir string) (int, error) {
	res, err := runGit(ctx, dir, "diff", "--shortstat", "HEAD")
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		// No HEAD yet (empty repo) or similar; treat as zero.
		return 0, nil
	}
	return parseShortstat(res.Stdout), nil
}

func parseShortstat(out string) int {
	total := 0
	for _, m := range shortstatRe.FindAllStringSubmatch(out, -1) {
		for _, group := range m[1:] {
			if group == "" {
				continue
			}
			if n, err := strconv.Atoi(group); err == nil {
				total += n
			}
		}
	}
	return total
}

// checkpointMessageRe matches the persisted checkpoint message format.
var checkpointMessageRe = regexp.MustCompile(
	`^checkpoint: .+ \(quality: \d+/100\) - \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}( \[worktree: .+\])?$`)

// IsCheckpointMessage reports whether a commit message was produced by
// CreateCheckpointCommit.
func IsCheckpointMessage(message string) bool {
	first, _, _ := strings.Cut(message, "\n")
	return checkpointMessageRe.MatchString(first)
}
