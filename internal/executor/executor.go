package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/matdotcx/carrus/internal/config"
	"github.com/matdotcx/carrus/internal/logger"
)

var (
	// ErrCommandRejected marks a command vector that failed validation.
	// It indicates a programming error; the program is never launched.
	ErrCommandRejected = errors.New("command rejected")
	// ErrUtilityNotFound is returned by New when a required utility cannot be resolved.
	ErrUtilityNotFound = errors.New("required utility not found")
)

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 2 * time.Second

// Result is the captured outcome of one external program invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the program exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner runs validated command vectors. Implemented by *Executor and by test fakes.
type Runner interface {
	Run(ctx context.Context, description string, argv ...string) (Result, error)
}

// launchFunc starts a validated program and waits for it.
type launchFunc func(ctx context.Context, path string, args, env []string) Result

// Executor is the only gateway to external programs.
// Utilities are resolved once in New against the configured search path.
type Executor struct {
	// programs maps allow-listed names to resolved absolute paths.
	programs map[string]string
	// searchPath is the only PATH the children see.
	searchPath string
	// timeout bounds each invocation; zero disables it.
	timeout time.Duration
	// launch runs the program; swapped in tests.
	launch launchFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithSearchPath sets the PATH used for resolution and handed to children.
func WithSearchPath(searchPath string) Option {
	return func(e *Executor) {
		if searchPath != "" {
			e.searchPath = searchPath
		}
	}
}

// WithTimeout bounds every invocation. Non-positive values disable the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.timeout = timeout
	}
}

// New resolves every utility in programs and returns an Executor allowing only them
// (plus explicit executable paths). It fails if any utility cannot be resolved.
func New(programs []string, opts ...Option) (*Executor, error) {
	e := &Executor{
		programs:   make(map[string]string, len(programs)),
		searchPath: config.DefaultSearchPath,
		launch:     launch,
	}

	for _, opt := range opts {
		opt(e)
	}

	for _, name := range programs {
		resolved, err := lookPath(name, e.searchPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		e.programs[name] = resolved
	}

	return e, nil
}

// Programs returns the resolved path of every allow-listed utility.
func (e *Executor) Programs() map[string]string {
	result := make(map[string]string, len(e.programs))
	for name, path := range e.programs {
		result[name] = path
	}

	return result
}

// Run validates argv and executes it with a minimal environment.
// A non-zero exit status is not an error: callers interpret Result.ExitCode.
// The only error returned wraps ErrCommandRejected.
func (e *Executor) Run(ctx context.Context, description string, argv ...string) (Result, error) {
	path, err := e.validate(argv)
	if err != nil {
		logger.ErrorKV(ctx, "Rejected command", "description", description, "error", err)
		return Result{}, err
	}

	logger.DebugKV(ctx, description, "command", argv)

	if e.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result := e.launch(ctx, path, argv[1:], []string{"PATH=" + e.searchPath})

	if result.Stdout != "" {
		logger.DebugKV(ctx, "Command output", "description", description, "stdout", result.Stdout)
	}

	logger.DebugKV(ctx, "Command finished", "description", description, "exit_code", result.ExitCode)

	return result, nil
}

// validate checks argv and returns the absolute program path to launch.
func (e *Executor) validate(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command vector: %w", ErrCommandRejected)
	}

	for i, arg := range argv {
		if strings.IndexByte(arg, 0) >= 0 {
			return "", fmt.Errorf("argument %d contains a NUL byte: %w", i, ErrCommandRejected)
		}
	}

	program := argv[0]
	if resolved, ok := e.programs[program]; ok {
		return resolved, nil
	}

	if !filepath.IsAbs(program) {
		return "", fmt.Errorf("%q is not allow-listed: %w", program, ErrCommandRejected)
	}

	if err := checkExecutable(program); err != nil {
		return "", fmt.Errorf("%q: %w: %w", program, err, ErrCommandRejected)
	}

	return filepath.Clean(program), nil
}

// launch runs path with args and env, capturing output and the exit status.
// Start failures and timeouts are folded into the result with exit code -1.
func launch(ctx context.Context, path string, args, env []string) Result {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError

	switch {
	case ctx.Err() != nil:
		result.ExitCode = -1
		result.Stderr = appendLine(result.Stderr, ctx.Err().Error())
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		result.Stderr = appendLine(result.Stderr, err.Error())
	}

	return result
}

// lookPath finds name in the directories of searchPath.
func lookPath(name, searchPath string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if err := checkExecutable(name); err != nil {
			return "", fmt.Errorf("%w: %w", ErrUtilityNotFound, err)
		}

		return filepath.Clean(name), nil
	}

	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}

		candidate := filepath.Join(dir, name)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("not in %s: %w", searchPath, ErrUtilityNotFound)
}

var (
	errNotRegular    = errors.New("not a regular file")
	errNotExecutable = errors.New("not executable")
)

// checkExecutable verifies that path is an existing executable regular file.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return errNotRegular
	}

	if info.Mode().Perm()&0o111 == 0 {
		return errNotExecutable
	}

	return nil
}

func appendLine(text, line string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text + line
	}

	return text + "\n" + line
}
