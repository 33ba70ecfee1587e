package token

import (
	"context"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/pkg/metrics"
	"github.com/sanlockd/sanlockd/pkg/paxoslease"
	"github.com/sanlockd/sanlockd/pkg/sanerr"
)

// Manager serializes acquire/release per resource and enforces the
// per-client resource cap. Concurrent operations on different
// resources proceed in parallel; operations on the same resource
// serialize behind a per-resource mutex acquired as the first
// pipeline step (add_resource).
type Manager struct {
	Config Config

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *metrics.Metrics

	resMu         sync.Mutex
	resourceLocks map[string]*sync.Mutex

	cliMu   sync.Mutex
	clients map[uint64]*client
}

// NewManager returns an empty Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		Config:        cfg,
		resourceLocks: make(map[string]*sync.Mutex),
		clients:       make(map[uint64]*client),
	}
}

func (m *Manager) resourceLock(key string) *sync.Mutex {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	l, ok := m.resourceLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.resourceLocks[key] = l
	}
	return l
}

// Register adds pid as a known client with no tokens. Returns an
// error if pid is already registered.
func (m *Manager) Register(pid uint64) error {
	m.cliMu.Lock()
	defer m.cliMu.Unlock()

	if _, exists := m.clients[pid]; exists {
		return sanerr.New("register", sanerr.ErrBusy)
	}
	m.clients[pid] = newClient(pid)
	return nil
}

func (m *Manager) getClient(pid uint64) (*client, bool) {
	m.cliMu.Lock()
	defer m.cliMu.Unlock()
	cl, ok := m.clients[pid]
	return cl, ok
}

// Unregister marks pid's client dead and releases every token it
// still held, asynchronously: the pid-death rule says an acquire
// already in flight for this pid must still complete normally, with
// the resulting token released right after rather than blocking the
// caller of Unregister.
func (m *Manager) Unregister(pid uint64) {
	m.cliMu.Lock()
	cl, ok := m.clients[pid]
	if ok {
		delete(m.clients, pid)
	}
	m.cliMu.Unlock()

	if !ok {
		return
	}

	toks := cl.snapshotAndClear()
	if len(toks) == 0 {
		return
	}

	go func() {
		for _, tok := range toks {
			m.releaseToken(context.Background(), tok)
		}
	}()
}

// openDisks is the pipeline's second step: validate the engine has a
// backend and at least one replica disk configured before spending a
// resource-lock-held ballot on it.
func openDisks(engine *paxoslease.Engine) error {
	if engine.Backend == nil || len(engine.Disks) == 0 {
		return sanerr.New("open_disks", sanerr.ErrIOFailed).WithLockspace(engine.Lockspace).WithResource(engine.Resource)
	}
	return nil
}

// Acquire runs the add_resource/open_disks/acquire_token pipeline for
// pid against engine's resource, transferring the resulting token
// into pid's slot on success. Failures roll back in reverse order:
// a paxos acquire that succeeds but cannot be committed to the
// client is released again. On a resource cap hit the release
// completes before Acquire returns; for a dead pid it runs
// asynchronously and takes the resource lock once Acquire has
// returned.
func (m *Manager) Acquire(ctx context.Context, pid uint64, engine *paxoslease.Engine, opts paxoslease.AcquireOpts) (*Token, error) {
	cl, ok := m.getClient(pid)
	if !ok {
		return nil, sanerr.New("acquire_token", sanerr.ErrAcquireOther)
	}

	key := resourceKey(engine.Lockspace, engine.Resource)
	lock := m.resourceLock(key) // add_resource
	lock.Lock()
	defer lock.Unlock()

	if err := openDisks(engine); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := engine.Acquire(ctx, opts) // acquire_token
	m.Metrics.ObserveAcquire(engine.Lockspace, engine.Resource, opts.Flags&paxoslease.FlagShared != 0, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	tok := &Token{
		Lockspace: engine.Lockspace,
		Resource:  engine.Resource,
		Leader:    res.Leader,
		DBlock:    res.DBlock,
		Flags:     res.Token,
		engine:    engine,
	}

	cl.mu.Lock()
	switch {
	case cl.dead:
		cl.mu.Unlock()
		logger.Warn("client died during acquire, releasing token asynchronously",
			logger.Lockspace(engine.Lockspace), logger.Resource(engine.Resource))
		go m.releaseToken(context.Background(), tok)
		return nil, sanerr.New("acquire_token", sanerr.ErrAcquireOther).WithLockspace(engine.Lockspace).WithResource(engine.Resource)

	case len(cl.tokens) >= m.Config.MaxResourcesPerClient:
		cl.mu.Unlock()
		if relErr := tok.release(ctx); relErr != nil {
			logger.Warn("rollback release failed after resource cap hit",
				logger.Lockspace(engine.Lockspace), logger.Resource(engine.Resource), logger.Err(relErr))
		}
		return nil, sanerr.New("acquire_token", sanerr.ErrTooBig).WithLockspace(engine.Lockspace).WithResource(engine.Resource)
	}

	cl.tokens[key] = tok
	cl.mu.Unlock()
	return tok, nil
}

// Release releases the token pid holds on (lockspace, resource) and
// removes it from pid's slot.
func (m *Manager) Release(ctx context.Context, pid uint64, lockspace, resource string) error {
	cl, ok := m.getClient(pid)
	if !ok {
		return sanerr.New("release", sanerr.ErrReleaseOwner)
	}

	key := resourceKey(lockspace, resource)
	cl.mu.Lock()
	tok, ok := cl.tokens[key]
	if ok {
		delete(cl.tokens, key)
	}
	cl.mu.Unlock()

	if !ok {
		return sanerr.New("release", sanerr.ErrReleaseOwner).WithLockspace(lockspace).WithResource(resource)
	}

	return m.releaseToken(ctx, tok)
}

func (m *Manager) releaseToken(ctx context.Context, tok *Token) error {
	lock := m.resourceLock(tok.key())
	lock.Lock()
	defer lock.Unlock()

	err := tok.release(ctx)
	m.Metrics.ObserveRelease(tok.Lockspace, tok.Resource, err == nil)
	if err != nil {
		logger.Warn("token release failed", logger.Lockspace(tok.Lockspace), logger.Resource(tok.Resource), logger.Err(err))
		return err
	}
	return nil
}

// TokenCount returns how many resources pid currently holds.
func (m *Manager) TokenCount(pid uint64) int {
	cl, ok := m.getClient(pid)
	if !ok {
		return 0
	}
	return cl.count()
}

// Held returns a snapshot of the tokens pid currently holds, for
// INQUIRE. The bool return is false if pid is not a known client.
func (m *Manager) Held(pid uint64) ([]*Token, bool) {
	cl, ok := m.getClient(pid)
	if !ok {
		return nil, false
	}
	return cl.list(), true
}

// AllHeld returns every known client's held tokens, keyed by pid, for
// STATUS's process-wide dump.
func (m *Manager) AllHeld() map[uint64][]*Token {
	m.cliMu.Lock()
	clients := make([]*client, 0, len(m.clients))
	for _, cl := range m.clients {
		clients = append(clients, cl)
	}
	m.cliMu.Unlock()

	out := make(map[uint64][]*Token, len(clients))
	for _, cl := range clients {
		out[cl.pid] = cl.list()
	}
	return out
}
