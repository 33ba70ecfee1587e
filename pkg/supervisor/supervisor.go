// Package supervisor implements the top-level client dispatch loop:
// commands arrive on a channel, are routed to pkg/lockspace and
// pkg/token, and each lockspace that transitions to Failing drives
// kill_pids fencing escalation against its local clients until either
// they are all gone or fencing must be abandoned.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/pkg/lockspace"
	"github.com/sanlockd/sanlockd/pkg/metrics"
	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/token"
)

// PollInterval is the tick period of the supervisor's dispatch loop,
// matching the reference's 2-second fd-readiness poll.
const PollInterval = 2 * time.Second

type envelope struct {
	cmd  Command
	resp chan Result
}

// Supervisor owns the client registry, dispatches commands, and
// drives fencing for lockspaces that have failed renewal.
type Supervisor struct {
	Lockspaces *lockspace.Manager
	Tokens     *token.Manager

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *metrics.Metrics

	signaler Signaler

	mu      sync.Mutex
	clients map[uint64]ClientState
	fencing map[string]*fenceState
	failing map[string]bool

	cmdCh     chan envelope
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New builds a Supervisor over an already-constructed lockspace
// manager and token manager.
func New(lockspaces *lockspace.Manager, tokens *token.Manager) *Supervisor {
	return &Supervisor{
		Lockspaces: lockspaces,
		Tokens:     tokens,
		signaler:   osSignaler{},
		clients:    make(map[uint64]ClientState),
		fencing:    make(map[string]*fenceState),
		failing:    make(map[string]bool),
		cmdCh:      make(chan envelope, 64),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// OnLockspaceFailing is wired as a lockspace.Lockspace.OnFailing hook:
// it marks the lockspace for fencing so the next tick starts
// escalating against its local clients.
func (s *Supervisor) OnLockspaceFailing(name string) {
	s.mu.Lock()
	s.failing[name] = true
	s.mu.Unlock()
	logger.Warn("lockspace failing, fencing scheduled", logger.Lockspace(name))
}

// Submit enqueues cmd and blocks until the loop has processed it, or
// ctx is done first.
func (s *Supervisor) Submit(ctx context.Context, cmd Command) Result {
	resp := make(chan Result, 1)
	select {
	case s.cmdCh <- envelope{cmd: cmd, resp: resp}:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-s.stopCh:
		return Result{Err: sanerr.New("submit", sanerr.ErrBusy)}
	}

	select {
	case r := <-resp:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Run drives the dispatch/fencing loop until ctx is cancelled or
// ShutdownCmd is processed with no lockspaces remaining. It returns
// once the loop has fully stopped.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	defer close(s.stoppedCh)

	shuttingDown := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.stopCh:
			return

		case env := <-s.cmdCh:
			if _, ok := env.cmd.(ShutdownCmd); ok {
				shuttingDown = true
			}
			env.resp <- s.dispatch(ctx, env.cmd)

		case <-ticker.C:
			s.tick(ctx)
			if shuttingDown && s.Lockspaces.Len() == 0 {
				return
			}
		}
	}
}

// Stop signals the loop to exit and waits up to timeout for it.
func (s *Supervisor) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	select {
	case <-s.stoppedCh:
	case <-time.After(timeout):
		logger.Warn("supervisor stop timed out")
	}
}

// tick runs one fencing round for every lockspace currently marked
// failing.
func (s *Supervisor) tick(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.failing))
	for name, on := range s.failing {
		if on {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	for _, name := range names {
		pids := s.localClientsOf(name)
		if len(pids) == 0 {
			s.finishFencing(ctx, name)
			continue
		}

		remaining := s.step(name, pids)
		if len(remaining) == 0 {
			s.finishFencing(ctx, name)
		}
	}
}

// finishFencing is reached once every local client of name is gone:
// the lockspace is unlinked from the watchdog and removed, matching
// spec.md §4.7's "when all client pids are gone" transition.
func (s *Supervisor) finishFencing(ctx context.Context, name string) {
	s.mu.Lock()
	delete(s.failing, name)
	delete(s.fencing, name)
	s.mu.Unlock()

	s.Lockspaces.Remove(name, 5*time.Second)
	logger.Info("lockspace fencing complete, removed", logger.Lockspace(name))
}

// localClientsOf returns the pids of registered clients that have
// joined lockspace name.
func (s *Supervisor) localClientsOf(name string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pids []uint64
	for pid, cs := range s.clients {
		reg, ok := cs.(*Registered)
		if !ok {
			if inf, ok := cs.(*InFlight); ok {
				reg = inf.Prev
			}
		}
		if reg == nil {
			continue
		}
		if _, joined := reg.Lockspaces[name]; joined {
			pids = append(pids, pid)
		}
	}
	return pids
}
