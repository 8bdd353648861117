package provision

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/jbweber/kiln/internal/chroot"
	"github.com/jbweber/kiln/internal/execx"
	"github.com/jbweber/kiln/internal/personalize"
)

// fakeLVM pretends to be the LVM and mkfs tools. lvcreate creates the device
// node below devDir so that a later Exists sees it.
type fakeLVM struct {
	mu     sync.Mutex
	devDir string
	calls  [][]string
}

func (f *fakeLVM) Run(_ context.Context, name string, args ...string) (*execx.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if name == "lvcreate" && len(args) == 5 {
		dev := filepath.Join(f.devDir, args[4], args[3])
		if err := os.MkdirAll(filepath.Dir(dev), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dev, nil, 0600); err != nil {
			return nil, err
		}
	}
	return &execx.Result{}, nil
}

func (f *fakeLVM) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c[0])
	}
	return names
}

type mockMounter struct {
	mu            sync.Mutex
	calls         []string
	unmountPrefix []string
	unmountErrs   []error
	mountFunc     func(fstype, source, target string) error
}

func (m *mockMounter) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockMounter) Mount(fstype, source, target string) error {
	m.record("mount " + fstype + " " + source + " " + target)
	if m.mountFunc != nil {
		return m.mountFunc(fstype, source, target)
	}
	return nil
}

func (m *mockMounter) Bind(source, target string) error {
	m.record("bind " + source + " " + target)
	return nil
}

func (m *mockMounter) UnmountUnder(prefix string) []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmountPrefix = append(m.unmountPrefix, prefix)
	return m.unmountErrs
}

func (m *mockMounter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockFetcher struct {
	stage3Func  func(ctx context.Context, arch, variant string) (string, error)
	portageFunc func(ctx context.Context) (string, error)

	stage3Calls  []string
	portageCalls int
}

func (m *mockFetcher) FetchStage3(ctx context.Context, arch, variant string) (string, error) {
	m.stage3Calls = append(m.stage3Calls, arch+"/"+variant)
	if m.stage3Func != nil {
		return m.stage3Func(ctx, arch, variant)
	}
	return "/cache/stage3-" + arch + ".tar.xz", nil
}

func (m *mockFetcher) FetchPortage(ctx context.Context) (string, error) {
	m.portageCalls++
	if m.portageFunc != nil {
		return m.portageFunc(ctx)
	}
	return "/cache/portage-latest.tar.xz", nil
}

type extractCall struct {
	archive string
	dest    string
}

type mockExtractor struct {
	calls       []extractCall
	extractFunc func(archive, dest string) error
}

func (m *mockExtractor) Extract(_ context.Context, archivePath, dest string) error {
	m.calls = append(m.calls, extractCall{archive: archivePath, dest: dest})
	if m.extractFunc != nil {
		return m.extractFunc(archivePath, dest)
	}
	return nil
}

type mockPersonalizer struct {
	roots     []string
	applyFunc func(root string) (*personalize.Result, error)
}

func (m *mockPersonalizer) Apply(root string) (*personalize.Result, error) {
	m.roots = append(m.roots, root)
	if m.applyFunc != nil {
		return m.applyFunc(root)
	}
	return nil, nil
}

type setupCall struct {
	root      string
	args      chroot.Args
	postSetup string
}

type mockSetup struct {
	calls   []setupCall
	runFunc func(root string) error
}

func (m *mockSetup) Run(_ context.Context, root string, args chroot.Args, postSetup string) error {
	m.calls = append(m.calls, setupCall{root: root, args: args, postSetup: postSetup})
	if m.runFunc != nil {
		return m.runFunc(root)
	}
	return nil
}

type mockRegistry struct {
	domains     map[string]bool
	defineCalls []string
	closed      int
}

func (m *mockRegistry) DomainExists(name string) (bool, error) {
	return m.domains[name], nil
}

func (m *mockRegistry) DefineDomain(xml string) error {
	m.defineCalls = append(m.defineCalls, xml)
	return nil
}

func (m *mockRegistry) Close() error {
	m.closed++
	return nil
}
