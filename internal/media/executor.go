package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolInvocation marks a failed ffmpeg or ffprobe invocation. The wrapped
// message carries the tail of the tool's combined output.
var ErrToolInvocation = errors.New("tool invocation failed")

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args ...string) ([]byte, error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.CombinedOutput()
}

const outputTailLimit = 2048

func wrapToolError(binary string, args []string, output []byte, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	tail := strings.TrimSpace(string(output))
	if len(tail) > outputTailLimit {
		tail = tail[len(tail)-outputTailLimit:]
	}
	if tail == "" {
		return fmt.Errorf("%w: %s %s: %v", ErrToolInvocation, binary, strings.Join(args, " "), err)
	}
	return fmt.Errorf("%w: %s: %v: %s", ErrToolInvocation, binary, err, tail)
}

func contextError(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return nil
}
