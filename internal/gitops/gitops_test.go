package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorcelainStatus(t *testing.T) {
	out := " M internal/store.go\n" +
		"M  cmd/main.go\n" +
		"A  docs/notes.md\n" +
		"?? scratch.txt\n" +
		"?? tmp/\n"

	status := parsePorcelainStatus(out)
	require.Len(t, status.Modified, 3)
	require.Len(t, status.Untracked, 2)
	assert.Equal(t, "internal/store.go", status.Modified[0].Path)
	assert.Equal(t, " M", status.Modified[0].Code)
	assert.Equal(t, "scratch.txt", status.Untracked[0].Path)
	assert.False(t, status.Clean())
	assert.False(t, status.OnlyUntracked())
}

func TestParsePorcelainStatusClean(t *testing.T) {
	status := parsePorcelainStatus("")
	assert.True(t, status.Clean())
}

func TestParsePorcelainStatusOnlyUntracked(t *testing.T) {
	status := parsePorcelainStatus("?? a.txt\n?? b.txt\n")
	assert.True(t, status.OnlyUntracked())
	assert.False(t, status.Clean())
}

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /home/u/repo\n" +
		"HEAD 1234567890abcdef1234567890abcdef12345678\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /home/u/repo-feature\n" +
		"HEAD abcdefabcdefabcdefabcdefabcdefabcdefabcd\n" +
		"branch refs/heads/feature/sync\n" +
		"\n" +
		"worktree /home/u/repo-detached\n" +
		"HEAD fedcbafedcbafedcbafedcbafedcbafedcbafedc\n" +
		"detached\n"

	wts := parseWorktreeList(out)
	require.Len(t, wts, 3)
	assert.Equal(t, "/home/u/repo", wts[0].Path)
	assert.Equal(t, "main", wts[0].Branch)
	assert.Equal(t, "feature/sync", wts[1].Branch)
	assert.True(t, wts[2].Detached)
	assert.Empty(t, wts[2].Branch)
}

func TestParseShortstat(t *testing.T) {
	assert.Equal(t, 15, parseShortstat(" 2 files changed, 10 insertions(+), 5 deletions(-)\n"))
	assert.Equal(t, 3, parseShortstat(" 1 file changed, 3 insertions(+)\n"))
	assert.Equal(t, 0, parseShortstat(""))
}

func TestIsCheckpointMessage(t *testing.T) {
	assert.True(t, IsCheckpointMessage("checkpoint: myproj (quality: 75/100) - 2026-08-26 10:30:00"))
	assert.True(t, IsCheckpointMessage("checkpoint: p (quality: 0/100) - 2026-01-01 00:00:00 [worktree: feature/x]"))
	assert.False(t, IsCheckpointMessage("fix: something"))
	assert.False(t, IsCheckpointMessage("checkpoint: missing score"))
}

// initTestRepo creates a git repository with one committed README.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()

	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"config", "commit.gpgsign", "false"},
	} {
		res, err := runGit(ctx, dir, args...)
		require.NoError(t, err)
		require.Equal(t, 0, res.ExitCode, res.Stderr)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("A\n"), 0o644))
	res, err := runGit(ctx, dir, "add", "-A")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	res, err = runGit(ctx, dir, "commit", "-q", "-m", "initial")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	return dir
}

func TestCreateCheckpointCommitRoundTrip(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	// Clean tree: sentinel result, no commit.
	result, err := CreateCheckpointCommit(ctx, dir, "p", 75)
	require.NoError(t, err)
	assert.Equal(t, CheckpointClean, result.Result)

	// Tracked change: a checkpoint commit lands on HEAD.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("B\n"), 0o644))
	result, err = CreateCheckpointCommit(ctx, dir, "p", 75)
	require.NoError(t, err)
	require.Len(t, result.Result, 8)

	res, err := runGit(ctx, dir, "log", "-1", "--pretty=%B")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "checkpoint:")
	assert.Contains(t, res.Stdout, "p")
	assert.Contains(t, res.Stdout, "75/100")
	assert.True(t, IsCheckpointMessage(res.Stdout))
}

func TestCreateCheckpointCommitOnlyUntracked(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644))
	_, err := CreateCheckpointCommit(ctx, dir, "p", 50)
	assert.ErrorIs(t, err, ErrOnlyUntracked)

	// No commit was created.
	res, gitErr := runGit(ctx, dir, "rev-list", "--count", "HEAD")
	require.NoError(t, gitErr)
	assert.Equal(t, "1", strings.TrimSpace(res.Stdout))
}

func TestCreateCheckpointCommitNotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := CreateCheckpointCommit(context.Background(), t.TempDir(), "p", 50)
	assert.ErrorIs(t, err, ErrNotARepository)
}

func TestRepositoryDetection(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	assert.True(t, IsGitRepository(ctx, dir))
	assert.False(t, IsGitRepository(ctx, t.TempDir()))

	root, err := GetGitRoot(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, mustResolve(t, dir), mustResolve(t, root))

	inProgress, err := IsGitOperationInProgress(ctx, dir)
	require.NoError(t, err)
	assert.False(t, inProgress)
}

func TestScheduleAutoGCValidation(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	assert.ErrorIs(t, ScheduleAutoGC(ctx, dir, "10000.weeks", 256), ErrInvalidPruneDelay)
	assert.ErrorIs(t, ScheduleAutoGC(ctx, dir, "$(reboot)", 256), ErrInvalidPruneDelay)
	assert.Error(t, ScheduleAutoGC(ctx, dir, "2.weeks", 0))
	assert.NoError(t, ScheduleAutoGC(ctx, dir, "2.weeks", 256))
}

func mustResolve(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}
