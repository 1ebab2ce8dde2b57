package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// ReservedOptions are the ffmpeg options the transcoder sets itself.
var ReservedOptions = []string{"-i", "-f", "-y", "-n", "-ac", "-ar", "-vn"}

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeExtraArgs checks operator supplied arguments before they are
// appended to a subprocess command line. reserved lists options the caller
// manages and that may not be overridden.
func SanitizeExtraArgs(args []string, reserved []string) error {
	for _, arg := range args {
		// exec.Command never runs a shell, but block metacharacters anyway.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		for _, r := range reserved {
			if arg == r {
				return fmt.Errorf("argument %s is set by the service and cannot be overridden", arg)
			}
		}
	}
	return nil
}

// ParseExtraArgs splits and sanitizes an extra argument string.
func ParseExtraArgs(command string, reserved []string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil
	}
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if err := SanitizeExtraArgs(args, reserved); err != nil {
		return nil, err
	}
	return args, nil
}
