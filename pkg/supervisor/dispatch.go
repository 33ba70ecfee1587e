package supervisor

import (
	"context"

	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/token"
)

// dispatch routes one command to its handler and updates the client
// registry's tagged state accordingly.
func (s *Supervisor) dispatch(ctx context.Context, cmd Command) Result {
	switch c := cmd.(type) {
	case RegisterCmd:
		return s.handleRegister(c)
	case AddLockspaceCmd:
		return s.handleAddLockspace(c)
	case RemLockspaceCmd:
		return s.handleRemLockspace(c)
	case AcquireCmd:
		return s.handleAcquire(ctx, c)
	case ReleaseCmd:
		return s.handleRelease(ctx, c)
	case InquireCmd:
		return s.handleInquire(c)
	case StatusCmd:
		return s.handleStatus()
	case LogDumpCmd:
		return Result{}
	case ShutdownCmd:
		return Result{}
	default:
		return Result{Err: sanerr.New("dispatch", sanerr.ErrAcquireOther)}
	}
}

func (s *Supervisor) handleRegister(c RegisterCmd) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[c.PID]; exists {
		return Result{Err: sanerr.New("register", sanerr.ErrBusy)}
	}
	s.clients[c.PID] = &Registered{PID: c.PID, Lockspaces: make(map[string]struct{})}
	return Result{}
}

// unregister drops pid from the registry, then has the token manager
// mark pid's tokens as held by a dead client and release them
// asynchronously. Must be called without s.mu held; it acquires it
// internally.
func (s *Supervisor) unregister(pid uint64) {
	s.mu.Lock()
	delete(s.clients, pid)
	s.mu.Unlock()
	s.Tokens.Unregister(pid)
}

// Unregister is the external entry point used when a client's pid is
// detected gone (process exit, connection close).
func (s *Supervisor) Unregister(pid uint64) {
	s.unregister(pid)
}

func (s *Supervisor) registeredOf(pid uint64) (*Registered, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.clients[pid]
	if !ok {
		return nil, false
	}
	reg, ok := cs.(*Registered)
	return reg, ok
}

func (s *Supervisor) handleAddLockspace(c AddLockspaceCmd) Result {
	reg, ok := s.registeredOf(c.PID)
	if !ok {
		return Result{Err: sanerr.New("add_lockspace", sanerr.ErrAcquireLockspace)}
	}
	if _, ok := s.Lockspaces.Get(c.Lockspace); !ok {
		return Result{Err: sanerr.New("add_lockspace", sanerr.ErrAcquireLockspace).WithLockspace(c.Lockspace)}
	}

	s.mu.Lock()
	reg.Lockspaces[c.Lockspace] = struct{}{}
	s.mu.Unlock()
	return Result{}
}

func (s *Supervisor) handleRemLockspace(c RemLockspaceCmd) Result {
	reg, ok := s.registeredOf(c.PID)
	if !ok {
		return Result{Err: sanerr.New("rem_lockspace", sanerr.ErrAcquireLockspace)}
	}

	s.mu.Lock()
	delete(reg.Lockspaces, c.Lockspace)
	s.mu.Unlock()
	return Result{}
}

func (s *Supervisor) handleAcquire(ctx context.Context, c AcquireCmd) Result {
	if _, ok := s.registeredOf(c.PID); !ok {
		return Result{Err: sanerr.New("acquire_token", sanerr.ErrAcquireOther)}
	}

	tok, err := s.Tokens.Acquire(ctx, c.PID, c.Engine, c.Opts)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Token: &tokenResult{Lockspace: tok.Lockspace, Resource: tok.Resource}}
}

func (s *Supervisor) handleRelease(ctx context.Context, c ReleaseCmd) Result {
	if _, ok := s.registeredOf(c.PID); !ok {
		return Result{Err: sanerr.New("release", sanerr.ErrReleaseOwner)}
	}
	return Result{Err: s.Tokens.Release(ctx, c.PID, c.Lockspace, c.Resource)}
}

func (s *Supervisor) handleInquire(c InquireCmd) Result {
	if _, ok := s.registeredOf(c.PID); !ok {
		return Result{Err: sanerr.New("inquire", sanerr.ErrAcquireOther)}
	}
	toks, _ := s.Tokens.Held(c.PID)
	return Result{Resources: resourceDump(toks)}
}

// handleStatus builds the process-wide STATUS dump: every lockspace
// name known to the manager, and every registered client's held
// resources.
func (s *Supervisor) handleStatus() Result {
	lockspaces := s.Lockspaces.Names()

	s.mu.Lock()
	pids := make([]uint64, 0, len(s.clients))
	joined := make(map[uint64][]string, len(s.clients))
	for pid, cs := range s.clients {
		reg, ok := cs.(*Registered)
		if !ok {
			continue
		}
		pids = append(pids, pid)
		names := make([]string, 0, len(reg.Lockspaces))
		for name := range reg.Lockspaces {
			names = append(names, name)
		}
		joined[pid] = names
	}
	s.mu.Unlock()

	held := s.Tokens.AllHeld()
	clients := make([]ClientDump, 0, len(pids))
	for _, pid := range pids {
		clients = append(clients, ClientDump{
			PID:        pid,
			Lockspaces: joined[pid],
			Resources:  resourceDump(held[pid]),
		})
	}

	return Result{Status: &StatusDump{Lockspaces: lockspaces, Clients: clients}}
}

func resourceDump(toks []*token.Token) []ResourceHeld {
	out := make([]ResourceHeld, 0, len(toks))
	for _, tok := range toks {
		rh := ResourceHeld{Lockspace: tok.Lockspace, Resource: tok.Resource}
		if tok.Leader != nil {
			rh.OwnerGeneration = tok.Leader.OwnerGeneration
			rh.LVer = tok.Leader.LVer
		}
		out = append(out, rh)
	}
	return out
}
