package gitops

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sessionbuddy/sessionbuddy/internal/safeexec"
)

// ErrInvalidPruneDelay is returned for prune-delay strings outside the
// accepted grammar. The grammar is the sole defense against command
// injection through git maintenance, so anything unrecognized is rejected.
var ErrInvalidPruneDelay = errors.New("invalid prune delay")

const (
	minPruneValue = 1
	maxPruneValue = 1000
)

// pruneDelayRe accepts "<n>.<unit>" with an optional plural "s",
// case-insensitive. "now" and "never" are handled separately.
var pruneDelayRe = regexp.MustCompile(`(?i)^(\d+)\.(second|minute|hour|day|week|month|year)s?$`)

// ValidatePruneDelay checks a prune-delay string against the grammar:
// "<n>.<unit>[s]" with n in [1, 1000], or the literals "now" / "never".
func ValidatePruneDelay(delay string) error {
	lower := strings.ToLower(strings.TrimSpace(delay))
	if lower == "now" || lower == "never" {
		return nil
	}
	m := pruneDelayRe.FindStringSubmatch(lower)
	if m == nil {
		return fmt.Errorf("%w: %q does not match <n>.<unit>", ErrInvalidPruneDelay, delay)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPruneDelay, delay)
	}
	if n < minPruneValue {
		return fmt.Errorf("%w: %q value too small (minimum %d)", ErrInvalidPruneDelay, delay, minPruneValue)
	}
	if n > maxPruneValue {
		return fmt.Errorf("%w: %q value too large (maximum %d)", ErrInvalidPruneDelay, delay, maxPruneValue)
	}
	return nil
}

// ScheduleAutoGC configures gc.auto and spawns `git gc --auto` in the
// background so the session is never blocked on repository maintenance.
// The prune delay is validated before git is invoked at all.
func ScheduleAutoGC(ctx context.Context, dir, pruneDelay string, autoThreshold int) error {
	if err := ValidatePruneDelay(pruneDelay); err != nil {
		return err
	}
	if autoThreshold <= 0 {
		return fmt.Errorf("auto threshold must be positive, got %d", autoThreshold)
	}
	if !IsGitRepository(ctx, dir) {
		return fmt.Errorf("%w: %s", ErrNotARepository, dir)
	}

	res, err := runGit(ctx, dir, "config", "gc.auto", strconv.Itoa(autoThreshold))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git config gc.auto failed: %s", strings.TrimSpace(res.Stderr))
	}

	argv := []string{"git", "gc", "--auto", "--prune=" + strings.ToLower(strings.TrimSpace(pruneDelay))}
	if _, err := safeexec.StartSafe(argv, allowedCommands, dir); err != nil {
		return fmt.Errorf("spawn background gc: %w", err)
	}
	log.Debug().Str("dir", dir).Str("prune", pruneDelay).Msg("Scheduled background git gc")
	return nil
}
