package supervisor

import (
	"os"
	"syscall"

	"github.com/sanlockd/sanlockd/internal/logger"
)

// Escalation thresholds for killing_pids fencing, preserving the
// reference's observable behavior (two SIGTERM rounds, one SIGKILL
// round, then log-and-abandon) as named constants rather than the
// magic >1/>10/>11 comparisons it used.
const (
	sigtermRounds = 2
	sigkillRounds = 1
)

// Signaler sends a signal to a local process and probes its
// liveness. Abstracted so tests can substitute a fake without
// sending real signals.
type Signaler interface {
	Signal(pid uint64, sig syscall.Signal) error
	Alive(pid uint64) bool
}

// osSignaler sends signals via os.FindProcess, grounded on the
// reference CLI's stop/daemon commands.
type osSignaler struct{}

func (osSignaler) Signal(pid uint64, sig syscall.Signal) error {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// Alive reports whether pid is still running, probed with signal 0.
func (osSignaler) Alive(pid uint64) bool {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// fenceState tracks one lockspace's kill_pids escalation progress.
type fenceState struct {
	rounds int
}

// step advances the fencing round for lockspace name against the
// given set of still-registered local pids, returning the pids that
// remain after this round (abandoned pids are dropped from the
// returned set and logged, not retried further).
func (s *Supervisor) step(name string, pids []uint64) []uint64 {
	fs, ok := s.fencing[name]
	if !ok {
		fs = &fenceState{}
		s.fencing[name] = fs
	}
	fs.rounds++

	remaining := make([]uint64, 0, len(pids))
	for _, pid := range pids {
		if !s.signaler.Alive(pid) {
			continue
		}

		switch {
		case fs.rounds <= sigtermRounds:
			if err := s.signaler.Signal(pid, syscall.SIGTERM); err != nil {
				logger.Warn("fencing SIGTERM failed", logger.Lockspace(name), "pid", pid, logger.Err(err))
			}
			remaining = append(remaining, pid)

		case fs.rounds <= sigtermRounds+sigkillRounds:
			if err := s.signaler.Signal(pid, syscall.SIGKILL); err != nil {
				logger.Warn("fencing SIGKILL failed", logger.Lockspace(name), "pid", pid, logger.Err(err))
			}
			remaining = append(remaining, pid)

		default:
			logger.Error("abandoning unkillable client, lockspace fencing cannot complete",
				logger.Lockspace(name), "pid", pid)
			s.Metrics.ObserveFencingRound(name, true)
		}
	}

	if len(remaining) > 0 {
		s.Metrics.ObserveFencingRound(name, false)
	}

	if len(remaining) == 0 {
		delete(s.fencing, name)
	}
	return remaining
}
