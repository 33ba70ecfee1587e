package lockspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
)

// Manager is the process-wide registry of active lockspaces, guarded
// by a single mutex as described for the client-facing list; each
// Lockspace still owns its own renewal/scan goroutines independently.
type Manager struct {
	mu         sync.Mutex
	lockspaces map[string]*Lockspace
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{lockspaces: make(map[string]*Lockspace)}
}

// Add starts ls and registers it under its Name. Returns an error if
// a lockspace with the same name is already registered, or if the
// initial acquire fails (in which case ls is not registered).
func (m *Manager) Add(ctx context.Context, ls *Lockspace) error {
	m.mu.Lock()
	if _, exists := m.lockspaces[ls.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("lockspace %q already added", ls.Name)
	}
	m.mu.Unlock()

	if err := ls.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.lockspaces[ls.Name] = ls
	m.mu.Unlock()
	return nil
}

// Remove stops and unregisters the named lockspace, waiting up to
// timeout for its goroutines to exit.
func (m *Manager) Remove(name string, timeout time.Duration) {
	m.mu.Lock()
	ls, ok := m.lockspaces[name]
	if ok {
		delete(m.lockspaces, name)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	ls.Stop(timeout)
	logger.Info("lockspace removed", logger.Lockspace(name))
}

// Get returns the named lockspace, if registered.
func (m *Manager) Get(name string) (*Lockspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.lockspaces[name]
	return ls, ok
}

// Names returns the names of all currently registered lockspaces.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.lockspaces))
	for name := range m.lockspaces {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered lockspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lockspaces)
}

// StopAll stops every registered lockspace, waiting up to timeout for
// each. Used during supervisor shutdown once all local clients using
// each lockspace are gone.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.Lock()
	all := make([]*Lockspace, 0, len(m.lockspaces))
	for _, ls := range m.lockspaces {
		all = append(all, ls)
	}
	m.lockspaces = make(map[string]*Lockspace)
	m.mu.Unlock()

	for _, ls := range all {
		ls.Stop(timeout)
	}
}
