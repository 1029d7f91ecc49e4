// Package runner is a thin synchronous wrapper around external processes. It
// captures exit code and output streams and can turn a nonzero exit into an error.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ErrCommandFailed is matched by every *CommandFailedError
var ErrCommandFailed = errors.New("command failed")

// exitCodeNotStarted mirrors the shell convention for a command that could not be executed
const exitCodeNotStarted = 127

// Options controls a single invocation
type Options struct {
	// Dir is the working directory; empty means the current directory
	Dir string
	// Env entries are merged over the current environment
	Env map[string]string
	// RaiseOnError turns a nonzero exit into a *CommandFailedError
	RaiseOnError bool
}

// Result is the recorded outcome of an invocation. It is populated for failed runs too.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   []string
	Stderr   []string
}

// CommandFailedError carries everything needed to diagnose a failed run
type CommandFailedError struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   []string
	Stderr   []string
	Err      error
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("error (%d) running command %s with arguments %v", e.ExitCode, e.Command, e.Args)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s\nstderr: %v\nstdout: %v", msg, e.Stderr, e.Stdout)
}

// Is reports whether target is ErrCommandFailed
func (e *CommandFailedError) Is(target error) bool {
	return target == ErrCommandFailed
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, argv []string, opts Options) (*Result, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger *zap.Logger
}

// New creates a new ExecRunner
func New(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run executes argv and waits for it to finish. There is no retry and no
// timeout beyond what ctx imposes. A command that cannot be started is always
// an error and is reported with exit code 127.
func (r *ExecRunner) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	result := &Result{
		Command: argv[0],
		Args:    append([]string{}, argv[1:]...),
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("exec", zap.String("command", strings.Join(argv, " ")), zap.String("dir", opts.Dir))

	err := cmd.Run()
	result.Stdout = splitLines(stdout.String())
	result.Stderr = splitLines(stderr.String())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = exitCodeNotStarted
		if len(result.Stderr) == 0 {
			result.Stderr = []string{err.Error()}
		}
		r.logger.Debug("command could not be started", zap.String("command", argv[0]), zap.Error(err))
		return result, result.failure(err)
	}

	if len(result.Stdout) > 0 {
		r.logger.Debug("stdout", zap.String("command", argv[0]), zap.String("output", strings.Join(result.Stdout, "\n")))
	}
	if len(result.Stderr) > 0 {
		r.logger.Debug("stderr", zap.String("command", argv[0]), zap.String("output", strings.Join(result.Stderr, "\n")))
	}

	if opts.RaiseOnError && result.ExitCode != 0 {
		return result, result.failure(nil)
	}

	return result, nil
}

func (r *Result) failure(cause error) *CommandFailedError {
	return &CommandFailedError{
		Command:  r.Command,
		Args:     r.Args,
		ExitCode: r.ExitCode,
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		Err:      cause,
	}
}

// mergeEnv overlays extra on base; extra entries win
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[key]; ok {
			if !seen[key] {
				env = append(env, key+"="+v)
				seen[key] = true
			}
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
