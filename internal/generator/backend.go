// Package generator produces document content through a text-completion backend.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
)

// Backend turns a prompt into text. Generators, reviewers and improvers share it.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (string, error)

func (f BackendFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const waitDelay = 2 * time.Second

// CommandBackend runs an external binary per prompt. The prompt is written to
// stdin and stdout is the completion.
type CommandBackend struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	logger  *logging.Logger
}

// NewCommandBackend builds a backend from the generation config.
func NewCommandBackend(cfg model.GenerationConfig, logger *logging.Logger) (*CommandBackend, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("generation.command must be set")
	}
	return &CommandBackend{
		Command: cfg.Command,
		Args:    append([]string(nil), cfg.Args...),
		Env:     cfg.Env,
		logger:  logger.With("backend"),
	}, nil
}

func (b *CommandBackend) Complete(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, b.Command, b.Args...)
	cmd.WaitDelay = waitDelay
	if b.Dir != "" {
		cmd.Dir = b.Dir
	}
	if len(b.Env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(b.Env))
		for k := range b.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+b.Env[k])
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Debugf("exec command=%s args=%v prompt_bytes=%d", b.Command, b.Args, len(prompt))
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("backend %s: %w", b.Command, ctxErr)
	}
	if err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		b.logger.Warnf("command failed command=%s exit_code=%d stderr=%q", b.Command, exitCode, truncate(stderr.String(), 200))
		return "", fmt.Errorf("backend %s exited with code %d: %w", b.Command, exitCode, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("backend %s returned empty output", b.Command)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
