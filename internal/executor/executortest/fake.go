// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"sync"

	"github.com/matdotcx/carrus/internal/executor"
)

// Fake records every invocation and answers with Handler.
// A nil Handler answers every call with exit code zero and no output.
type Fake struct {
	// Handler produces the result for one command vector.
	Handler func(argv []string) executor.Result

	mu    sync.Mutex
	calls [][]string
}

// Run records argv and returns the scripted result.
func (f *Fake) Run(_ context.Context, _ string, argv ...string) (executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.mu.Unlock()

	if f.Handler == nil {
		return executor.Result{}, nil
	}

	return f.Handler(argv), nil
}

// Calls returns a copy of every recorded command vector.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([][]string, len(f.calls))
	copy(result, f.calls)

	return result
}

// CountVerb counts calls whose program and first argument match.
func (f *Fake) CountVerb(program, verb string) int {
	count := 0

	for _, argv := range f.Calls() {
		if len(argv) > 1 && argv[0] == program && argv[1] == verb {
			count++
		}
	}

	return count
}

// Arg returns the value following flag in argv, or "".
func Arg(argv []string, flag string) string {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == flag {
			return argv[i+1]
		}
	}

	return ""
}

// Responder answers one command vector.
type Responder func(argv []string) executor.Result

// Dispatch routes each call to the responder registered for its program.
// Unknown programs exit with status 127.
func Dispatch(byProgram map[string]Responder) func(argv []string) executor.Result {
	return func(argv []string) executor.Result {
		if len(argv) > 0 {
			if responder, ok := byProgram[argv[0]]; ok {
				return responder(argv)
			}
		}

		return executor.Result{ExitCode: 127, Stderr: "command not found"}
	}
}

// Exit answers every call with the given triple.
func Exit(code int, stdout, stderr string) Responder {
	return func([]string) executor.Result {
		return executor.Result{Stdout: stdout, Stderr: stderr, ExitCode: code}
	}
}
