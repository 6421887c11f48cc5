package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrCommandTimeout reports a command killed by its deadline.
var ErrCommandTimeout = errors.New("command timed out")

// runCommand executes command through sh with stdin and an optional deadline.
// Params: context, shell command, stdin payload, and timeout (zero means none).
// Returns: combined output, exit status, and start/timeout error.
func runCommand(ctx context.Context, command string, stdin []byte, timeout time.Duration) ([]byte, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output.Bytes(), -1, ErrCommandTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output.Bytes(), exitErr.ExitCode(), nil
		}
		return output.Bytes(), -1, fmt.Errorf("run %q: %w", command, err)
	}
	return output.Bytes(), 0, nil
}
