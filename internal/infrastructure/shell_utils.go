package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// shellSpecial lists characters that change meaning in a POSIX shell
const shellSpecial = " \t\n\r'\"$`\\!*?[](){}|;<>&~#%"

// ShellQuote quotes s for display in a copy-pasteable command line.
// Commands are always run through exec, never through a shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// CommandLine renders binary and args as a quoted shell line
func CommandLine(binary string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, ShellQuote(binary))
	for _, arg := range args {
		parts = append(parts, ShellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// RunCommand runs an external tool and returns its combined output.
// The command line is logged before the process starts.
func RunCommand(ctx context.Context, logger *zap.Logger, binary string, args ...string) ([]byte, error) {
	line := CommandLine(binary, args...)
	logger.Debug("Running external command", zap.String("command", line))

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(out.String())
		logger.Warn("External command failed",
			zap.String("command", line),
			zap.String("output", output),
			zap.Error(err))
		if output != "" {
			return out.Bytes(), fmt.Errorf("%s failed: %w: %s", binary, err, output)
		}
		return out.Bytes(), fmt.Errorf("%s failed: %w", binary, err)
	}
	return out.Bytes(), nil
}
