package execx

import (
	"context"
	"sync"
)

// FakeCall records one invocation seen by a Fake runner.
type FakeCall struct {
	Name string
	Args []string
	Env  []string
	Dir  string
}

// Fake is a scripted Runner for tests. Respond, when set, decides the
// outcome per invocation; otherwise every call succeeds with a zero Result.
type Fake struct {
	mu      sync.Mutex
	calls   []FakeCall
	Respond func(call FakeCall) (Result, error)
}

func (f *Fake) Run(_ context.Context, name string, args []string, env []string, dir string) (Result, error) {
	call := FakeCall{Name: name, Args: args, Env: env, Dir: dir}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.Respond != nil {
		return f.Respond(call)
	}
	return Result{}, nil
}

// Calls returns a copy of the recorded invocations in order.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}
