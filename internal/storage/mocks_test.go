package storage

import (
	"context"
	"sync"

	"github.com/jbweber/kiln/internal/execx"
)

// mockRunner records commands and optionally runs a side effect per command.
type mockRunner struct {
	mu      sync.Mutex
	calls   [][]string
	runFunc func(name string, args ...string) error
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) (*execx.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string{name}, args...))
	m.mu.Unlock()

	if m.runFunc != nil {
		if err := m.runFunc(name, args...); err != nil {
			return &execx.Result{}, err
		}
	}
	return &execx.Result{}, nil
}

func (m *mockRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}
