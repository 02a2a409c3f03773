package safeexec

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrEmptyCommand is returned for an empty argv or empty argv[0].
	ErrEmptyCommand = errors.New("empty command")
	// ErrCommandNotAllowed is returned when argv[0] is not on the allow-list.
	ErrCommandNotAllowed = errors.New("command not in allow-list")
	// ErrShellMetacharacter is returned when an argument carries a shell metacharacter.
	ErrShellMetacharacter = errors.New("argument contains shell metacharacter")
)

// shellMetachars are rejected in every argument after argv[0]. The command
// never goes through a shell, so these have no legitimate use here.
const shellMetachars = ";|&$`()<>\n\r"

// sensitiveEnvMarkers flags environment variables that must never reach a
// child process. Matching is against the upper-cased variable name.
var sensitiveEnvMarkers = []string{
	"PASSWORD", "TOKEN", "SECRET", "KEY", "CREDENTIAL",
	"API", "AUTH", "SESSION", "COOKIE",
}

// ValidateCommand checks argv against the allow-list. argv[0] must match an
// allowed command exactly; absolute paths are rejected even when the bare
// name is allowed. Arguments beyond argv[0] must be free of shell
// metacharacters.
func ValidateCommand(argv []string, allowed []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return ErrEmptyCommand
	}
	found := false
	for _, cmd := range allowed {
		if argv[0] == cmd {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, argv[0])
	}
	for _, arg := range argv[1:] {
		if strings.ContainsAny(arg, shellMetachars) {
			return fmt.Errorf("%w: %q", ErrShellMetacharacter, arg)
		}
	}
	return nil
}

// SanitizedEnv returns a copy of the current environment with every variable
// whose upper-cased name contains a credential marker removed. The process
// environment itself is never mutated, and each call returns a fresh slice,
// so concurrent callers cannot observe each other's copies.
func SanitizedEnv() []string {
	environ := os.Environ()
	sanitized := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if isSensitiveEnvName(name) {
			continue
		}
		sanitized = append(sanitized, kv)
	}
	return sanitized
}

func isSensitiveEnvName(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
