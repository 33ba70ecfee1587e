package supervisor

import (
	"github.com/sanlockd/sanlockd/pkg/paxoslease"
)

// ClientState is the tagged union replacing the reference's workfn/
// deadfn callback pointers: a client (registered pid) is always in
// exactly one of these states, and the supervisor loop drives
// transitions between them as commands arrive and complete.
type ClientState interface {
	clientState()
}

// Unregistered is the state of a pid the supervisor has never seen,
// or has fully torn down.
type Unregistered struct{}

func (Unregistered) clientState() {}

// Registered is a pid with a live command channel and a set of held
// resource tokens and joined lockspaces, idle between commands.
type Registered struct {
	PID        uint64
	Lockspaces map[string]struct{}
}

func (*Registered) clientState() {}

// InFlight is a pid with exactly one command currently executing
// against it; further commands for the same pid queue behind it.
type InFlight struct {
	PID     uint64
	Cmd     Command
	Prev    *Registered
}

func (*InFlight) clientState() {}

// Command is the typed union of client requests dispatched to the
// supervisor loop, replacing the wire-level framing that spec.md's
// Non-goals exclude from this package's scope.
type Command interface {
	command()
}

// RegisterCmd registers a new client pid.
type RegisterCmd struct {
	PID uint64
}

func (RegisterCmd) command() {}

// AddLockspaceCmd joins pid to an already-running lockspace.
type AddLockspaceCmd struct {
	PID       uint64
	Lockspace string
}

func (AddLockspaceCmd) command() {}

// RemLockspaceCmd removes pid's membership in a lockspace.
type RemLockspaceCmd struct {
	PID       uint64
	Lockspace string
}

func (RemLockspaceCmd) command() {}

// AcquireCmd runs the acquire pipeline for pid against Engine.
type AcquireCmd struct {
	PID    uint64
	Engine *paxoslease.Engine
	Opts   paxoslease.AcquireOpts
}

func (AcquireCmd) command() {}

// ReleaseCmd releases one resource token held by pid.
type ReleaseCmd struct {
	PID       uint64
	Lockspace string
	Resource  string
}

func (ReleaseCmd) command() {}

// InquireCmd reports the resources currently held by pid.
type InquireCmd struct {
	PID uint64
}

func (InquireCmd) command() {}

// StatusCmd reports process-wide lockspace and client state.
type StatusCmd struct{}

func (StatusCmd) command() {}

// LogDumpCmd is the LOG_DUMP request. The supervisor keeps no ring of
// recent events and answers it with an empty Result.
type LogDumpCmd struct{}

func (LogDumpCmd) command() {}

// ShutdownCmd requests external_shutdown: the supervisor loop exits at
// the first tick at which no lockspace remains. Commands submitted
// in the meantime are still dispatched.
type ShutdownCmd struct{}

func (ShutdownCmd) command() {}

// Result is returned on a command's response channel.
type Result struct {
	Token     *tokenResult
	Resources []ResourceHeld // INQUIRE
	Status    *StatusDump    // STATUS
	Err       error
}

// tokenResult carries the subset of pkg/token.Token fields worth
// reporting back to a client, without leaking the package's internal
// engine handle.
type tokenResult struct {
	Lockspace string
	Resource  string
}

// ResourceHeld is one entry of an INQUIRE or STATUS dump: a single
// resource token a client currently holds.
type ResourceHeld struct {
	Lockspace       string
	Resource        string
	OwnerGeneration uint64
	LVer            uint64
}

// ClientDump is one client's entry in a STATUS dump.
type ClientDump struct {
	PID        uint64
	Lockspaces []string
	Resources  []ResourceHeld
}

// StatusDump is the process-wide reply to STATUS: every known
// lockspace's name and the resources each registered client holds.
type StatusDump struct {
	Lockspaces []string
	Clients    []ClientDump
}
