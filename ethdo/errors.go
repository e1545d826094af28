package ethdo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrToolUnavailable = errors.New("ethdo could not be run")
	ErrTimeout         = errors.New("ethdo timed out")
	// Wallet or account does not exist
	ErrNotFound = errors.New("not found")

	notFoundRegex = regexp.MustCompile(`(?i)\b(wallet|account) not found`)
)

// ToolError is returned when ethdo exits with a non-zero code
type ToolError struct {
	// subcommand only, flags may carry passphrases
	Command  string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("ethdo %s exited with code %d: %s", e.Command, e.ExitCode, e.Output)
}

// Is makes errors.Is(err, ErrNotFound) match the tool's own "not found" messages
func (e *ToolError) Is(target error) bool {
	return target == ErrNotFound && notFoundRegex.MatchString(e.Output)
}

func commandName(args []string) string {
	parts := make([]string, 0, 2)
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") || len(parts) == 2 {
			break
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
