package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 2 * time.Minute
)

// Command executes a configured shell command with a bounded timeout.
// Idempotency of the command itself is the operator's responsibility.
type Command struct {
	runner    Runner
	timeout   time.Duration
	maxOutput int
}

func NewCommand(runner Runner, timeout time.Duration, maxOutput int) *Command {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if maxOutput <= 0 {
		maxOutput = 16 * 1024
	}
	return &Command{runner: runner, timeout: timeout, maxOutput: maxOutput}
}

func (c *Command) Execute(ctx context.Context, cfg Config) (string, error) {
	command := cfg.String("command")
	if command == "" {
		return "", errors.New("no command configured")
	}

	timeout := cfg.Duration("timeout", c.timeout)
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	res, err := c.runner.Run(ctx, command, timeout)
	if err != nil {
		if snippet := firstLine(res.Stderr); snippet != "" {
			return "", fmt.Errorf("%w: %s", err, snippet)
		}
		return "", err
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		out = strings.TrimSpace(res.Stderr)
	}
	if out == "" {
		out = "done"
	}
	return truncateRunes(out, c.maxOutput), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
