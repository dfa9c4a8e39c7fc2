package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// maxCapturedOutput caps stdout and stderr each; subprocess output goes back
// into model context, so unbounded capture would blow the prompt budget.
const maxCapturedOutput = 256 << 10

// ExecResult captures one subprocess run.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// runCommand executes argv in dir with a hard timeout. The child runs in its
// own process group so a timeout kills the whole tree, not just the leader.
func runCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stdout := &cappedBuffer{limit: maxCapturedOutput}
	stderr := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || res.TimedOut {
			return res, nil
		}
		return nil, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes and drops the rest, remembering
// that truncation happened.
type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - len(b.buf)
	if remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n... output truncated ..."
	}
	return string(b.buf)
}
