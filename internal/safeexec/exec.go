package safeexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Result carries the outcome of a synchronous RunSafe invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// RunOpts tunes RunSafe.
type RunOpts struct {
	Dir     string        // working directory for the child
	Timeout time.Duration // zero means no timeout beyond ctx
}

// RunSafe validates argv against the allow-list, then runs the command
// synchronously with a sanitized environment and captured output. The command
// never passes through a shell. Validation failures fail closed before any
// process is spawned.
func RunSafe(ctx context.Context, argv []string, allowed []string, opts RunOpts) (Result, error) {
	if err := ValidateCommand(argv, allowed); err != nil {
		return Result{}, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = SanitizedEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is reported through Result, not as a transport error.
			return res, nil
		}
		return res, fmt.Errorf("run %q: %w", argv[0], err)
	}
	return res, nil
}

// StartSafe validates argv, then spawns the command in the background with a
// sanitized environment. Output is discarded; the returned handle lets the
// caller reap the process if it cares to.
func StartSafe(argv []string, allowed []string, dir string) (*exec.Cmd, error) {
	if err := ValidateCommand(argv, allowed); err != nil {
		return nil, err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = SanitizedEnv()
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", argv[0], err)
	}
	log.Debug().Str("command", argv[0]).Int("pid", cmd.Process.Pid).Msg("Spawned background process")
	return cmd, nil
}
