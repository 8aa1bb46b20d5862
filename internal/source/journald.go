package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner runs an external command and returns its standard output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, killing them when ctx ends
type ExecRunner struct{}

// Run implements CommandRunner
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Journald reads a systemd unit's journal through journalctl
type Journald struct {
	command string
	unit    string
	runner  CommandRunner
}

// NewJournald creates a journald backend. A nil runner uses ExecRunner
func NewJournald(command, unit string, runner CommandRunner) *Journald {
	if command == "" {
		command = "journalctl"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Journald{command: command, unit: unit, runner: runner}
}

// Name implements Backend
func (j *Journald) Name() string {
	return "journald"
}

// Tail implements Backend
func (j *Journald) Tail(ctx context.Context, n int) ([]string, error) {
	out, err := j.runner.Run(ctx, j.command,
		"-u", j.unit,
		"-n", strconv.Itoa(n),
		"--output=cat",
		"--no-pager",
	)
	if err != nil {
		return nil, err
	}
	return SplitLines(string(out)), nil
}
