package chroot

import (
	"context"
	"sync"

	"github.com/jbweber/kiln/internal/execx"
)

type runCall struct {
	name string
	args []string
}

type mockRunner struct {
	mu      sync.Mutex
	calls   []runCall
	runFunc func(name string, args ...string) (*execx.Result, error)
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (*execx.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, runCall{name: name, args: append([]string(nil), args...)})
	m.mu.Unlock()

	if m.runFunc != nil {
		return m.runFunc(name, args...)
	}
	return &execx.Result{}, nil
}

func (m *mockRunner) Calls() []runCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runCall(nil), m.calls...)
}

type mockMounter struct {
	mu        sync.Mutex
	calls     []string
	bindFunc  func(source, target string) error
	procFunc  func(target string) error
	unmountFn func(target string) error
}

func (m *mockMounter) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockMounter) Bind(source, target string) error {
	m.record("bind " + source + " " + target)
	if m.bindFunc != nil {
		return m.bindFunc(source, target)
	}
	return nil
}

func (m *mockMounter) Proc(target string) error {
	m.record("proc " + target)
	if m.procFunc != nil {
		return m.procFunc(target)
	}
	return nil
}

func (m *mockMounter) Unmount(target string) error {
	m.record("umount " + target)
	if m.unmountFn != nil {
		return m.unmountFn(target)
	}
	return nil
}

func (m *mockMounter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
