// Package runner executes operator-configured shell commands with a hard
// deadline and bounded output capture.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"homeserverd/internal/task"
	"homeserverd/pkg/logx"
)

const defaultMaxCapture = 64 * 1024

// Shell runs commands through /bin/sh so operators can use pipes and
// redirection in their job config, the same way they would in a crontab.
type Shell struct {
	shell      string
	maxCapture int
	log        logx.Logger
}

func New(log logx.Logger) *Shell {
	return &Shell{shell: "/bin/sh", maxCapture: defaultMaxCapture, log: log}
}

// Run executes command under the shell with the given timeout. On timeout the
// process group is killed and the returned error says so; partial output
// captured before the kill is still returned.
func (s *Shell) Run(ctx context.Context, command string, timeout time.Duration) (task.RunResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	var stdout, stderr cappedBuffer
	stdout.max = s.maxCapture
	stderr.max = s.maxCapture
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := task.RunResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		s.log.Warn("command timed out",
			logx.String("command", command),
			logx.Duration("timeout", timeout))
		return res, fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return res, err
	}

	s.log.Debug("command completed",
		logx.String("command", command),
		logx.Duration("took", time.Since(start)))
	return res, nil
}

// cappedBuffer keeps the first max bytes and silently discards the rest, so a
// chatty command cannot balloon an execution record.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
