package mount

import (
	"strings"
	"sync"
)

type mountCall struct {
	source, target, fstype string
	flags                  uintptr
}

// fakeSystem implements Syscalls and Table over an in-memory mount list.
type fakeSystem struct {
	mu sync.Mutex

	mounted     []string
	mountCalls  []mountCall
	unmountLog  []string
	mountErr    map[string]error
	unmountErrs map[string][]error // consumed one per attempt
	tableErr    error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		mountErr:    make(map[string]error),
		unmountErrs: make(map[string][]error),
	}
}

func (f *fakeSystem) Mount(source, target, fstype string, flags uintptr, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mountCalls = append(f.mountCalls, mountCall{source, target, fstype, flags})
	if err := f.mountErr[target]; err != nil {
		return err
	}
	f.mounted = append(f.mounted, target)
	return nil
}

func (f *fakeSystem) Unmount(target string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unmountLog = append(f.unmountLog, target)
	if errs := f.unmountErrs[target]; len(errs) > 0 {
		f.unmountErrs[target] = errs[1:]
		return errs[0]
	}
	for i, m := range f.mounted {
		if m == target {
			f.mounted = append(f.mounted[:i], f.mounted[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeSystem) MountsUnder(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tableErr != nil {
		return nil, f.tableErr
	}
	var out []string
	for _, m := range f.mounted {
		if m == prefix || strings.HasPrefix(m, prefix+"/") {
			out = append(out, m)
		}
	}
	return out, nil
}
