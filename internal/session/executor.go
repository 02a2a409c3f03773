package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sessionbuddy/sessionbuddy/internal/safeexec"
)

// ErrNoTaskCommand means delegated execution was requested without a
// configured task command.
var ErrNoTaskCommand = errors.New("no task command configured")

// CommandExecutor runs delegated tasks by handing the prompt to an external
// command. The prompt travels through a temp file appended as the final
// argument, which keeps arbitrary prompt text away from the argv validator.
type CommandExecutor struct {
	argv    []string
	timeout time.Duration
}

// NewCommandExecutor validates the configured command line.
func NewCommandExecutor(argv []string, timeout time.Duration) (*CommandExecutor, error) {
	if len(argv) == 0 {
		return nil, ErrNoTaskCommand
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandExecutor{argv: append([]string(nil), argv...), timeout: timeout}, nil
}

// ExecuteTask writes the prompt to a temp file and runs the command with
// the file path appended. Stdout is the task result.
func (e *CommandExecutor) ExecuteTask(ctx context.Context, prompt string, _ map[string]any) (string, error) {
	tmp, err := os.CreateTemp("", "sessionbuddy-task-*.txt")
	if err != nil {
		return "", fmt.Errorf("write task prompt: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write task prompt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write task prompt: %w", err)
	}

	argv := append(append([]string(nil), e.argv...), tmp.Name())
	res, err := safeexec.RunSafe(ctx, argv, []string{e.argv[0]}, safeexec.RunOpts{Timeout: e.timeout})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("task command exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// UnconfiguredExecutor fails every task with ErrNoTaskCommand. It keeps the
// pool machinery runnable when no task command is configured.
type UnconfiguredExecutor struct{}

func (UnconfiguredExecutor) ExecuteTask(context.Context, string, map[string]any) (string, error) {
	return "", ErrNoTaskCommand
}
