package lockspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanlockd/sanlockd/pkg/deltalease"
	"github.com/sanlockd/sanlockd/pkg/diskio"
)

type fakeWatchdog struct {
	mu            sync.Mutex
	registered    []string
	pets          []int64
	unregistered  []string
}

func (f *fakeWatchdog) Register(_ context.Context, name string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, name)
	return nil
}

func (f *fakeWatchdog) Pet(_ context.Context, _ string, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pets = append(f.pets, ts)
	return nil
}

func (f *fakeWatchdog) Unregister(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, name)
	return nil
}

func (f *fakeWatchdog) Close() error { return nil }

func (f *fakeWatchdog) petCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pets)
}

func fastDeltaConfig() deltalease.Config {
	return deltalease.Config{
		IOTimeout:            20 * time.Millisecond,
		HostIDRenewalSeconds: 5 * time.Millisecond,
		RenewalWarnSeconds:   15 * time.Millisecond,
		RenewalFailSeconds:   30 * time.Millisecond,
		HostDeadSeconds:      10 * time.Millisecond,
		PollInterval:         time.Millisecond,
	}
}

func newTestLockspace(t *testing.T, wd *fakeWatchdog) (*Lockspace, *diskio.MemBackend) {
	t.Helper()
	return newTestLockspaceWithScan(t, wd, 4)
}

func newTestLockspaceWithScan(t *testing.T, wd *fakeWatchdog, maxHosts uint64) (*Lockspace, *diskio.MemBackend) {
	t.Helper()
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disk := diskio.Disk{Path: "lockspace-disk"}

	delta := deltalease.NewEngine("cluster1", 1, "host1", backend, disk, diskio.SectorSize512, fastDeltaConfig(), nil)
	require.NoError(t, delta.Init(context.Background()))

	cfg := Config{Delta: fastDeltaConfig(), ScanInterval: 5 * time.Millisecond, MaxHosts: maxHosts}
	ls := New("cluster1", 1, delta, cfg, wd)
	return ls, backend
}

func TestStartAcquiresAndTransitionsRunning(t *testing.T) {
	wd := &fakeWatchdog{}
	ls, _ := newTestLockspace(t, wd)
	defer ls.Stop(time.Second)

	require.NoError(t, ls.Start(context.Background()))
	assert.Equal(t, Running, ls.State())

	wd.mu.Lock()
	assert.Contains(t, wd.registered, "cluster1")
	wd.mu.Unlock()
}

func TestRenewalPetsWatchdogOnSuccess(t *testing.T) {
	wd := &fakeWatchdog{}
	ls, _ := newTestLockspace(t, wd)
	defer ls.Stop(time.Second)

	require.NoError(t, ls.Start(context.Background()))

	require.Eventually(t, func() bool {
		return wd.petCount() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRenewalFailureTransitionsToFailing(t *testing.T) {
	wd := &fakeWatchdog{}
	ls, backend := newTestLockspaceWithScan(t, wd, 0)
	defer ls.Stop(time.Second)

	require.NoError(t, ls.Start(context.Background()))

	for i := 0; i < 50; i++ {
		backend.QueueFault("lockspace-disk", diskio.Fault{Err: assertErr{}})
	}

	var failedName string
	done := make(chan struct{})
	ls.OnFailing = func(name string) {
		failedName = name
		close(done)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Failing transition")
	}

	assert.Equal(t, "cluster1", failedName)
	assert.Equal(t, Failing, ls.State())
}

type assertErr struct{}

func (assertErr) Error() string { return "forced disk failure" }

func TestManagerAddRemove(t *testing.T) {
	wd := &fakeWatchdog{}
	ls, _ := newTestLockspace(t, wd)

	m := NewManager()
	require.NoError(t, m.Add(context.Background(), ls))
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get("cluster1")
	assert.True(t, ok)
	assert.Same(t, ls, got)

	m.Remove("cluster1", time.Second)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, Stopped, ls.State())
}

func TestManagerAddDuplicateFails(t *testing.T) {
	wd := &fakeWatchdog{}
	ls1, _ := newTestLockspace(t, wd)
	ls2, _ := newTestLockspace(t, wd)

	m := NewManager()
	require.NoError(t, m.Add(context.Background(), ls1))
	defer m.StopAll(time.Second)

	err := m.Add(context.Background(), ls2)
	assert.Error(t, err)
}
