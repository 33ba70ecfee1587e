// Package lockspace drives the per-lockspace renewal thread: acquiring
// our host_id's delta lease, renewing it on schedule, petting the
// external watchdog after every successful renewal, and running a
// periodic scan of every host's slot to keep the host-status table
// current for the Paxos engine's liveness checks.
package lockspace

import (
	"context"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/pkg/deltalease"
	"github.com/sanlockd/sanlockd/pkg/metrics"
	"github.com/sanlockd/sanlockd/pkg/watchdog"
)

// Lockspace owns one renewal thread and one watchdog registration for a
// named lockspace region.
type Lockspace struct {
	Name     string
	HostID   uint64
	Delta    *deltalease.Engine
	Config   Config
	Watchdog watchdog.Client

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *metrics.Metrics

	// OnFailing is invoked (at most once per Start) when the renewal
	// thread transitions to Failing, so the supervisor can begin
	// killing local clients before host_dead_seconds elapses.
	OnFailing func(name string)

	mu         sync.RWMutex
	state      State
	generation uint64
	lastRenew  time.Time

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New constructs a Lockspace. If watchdog is nil, watchdog.NullClient
// is used (no hardware fencing).
func New(name string, hostID uint64, delta *deltalease.Engine, cfg Config, wd watchdog.Client) *Lockspace {
	if wd == nil {
		wd = watchdog.NullClient{}
	}
	return &Lockspace{
		Name:      name,
		HostID:    hostID,
		Delta:     delta,
		Config:    cfg,
		Watchdog:  wd,
		state:     Starting,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (l *Lockspace) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lockspace) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Lockspace) clockNow() time.Time {
	if l.Delta.Clock != nil {
		return l.Delta.Clock.Now()
	}
	return time.Now()
}

// Start runs the delta-lease acquire for our host_id; on success it
// registers with the watchdog, moves to Running, and spawns the
// renewal and host-status scan goroutines. Start blocks until the
// initial acquire completes or fails.
func (l *Lockspace) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.mu.Unlock()

	logger.Info("starting lockspace", logger.Lockspace(l.Name), logger.HostID(l.HostID))

	slot, err := l.Delta.Acquire(ctx)
	if err != nil {
		l.setState(Stopped)
		close(l.stoppedCh)
		logger.Error("lockspace acquire failed", logger.Lockspace(l.Name), logger.Err(err))
		return err
	}

	l.mu.Lock()
	l.generation = slot.OwnerGeneration
	l.lastRenew = l.clockNow()
	l.state = Running
	l.mu.Unlock()

	if err := l.Watchdog.Register(ctx, l.Name, l.HostID); err != nil {
		logger.Warn("watchdog register failed, continuing without fencing", logger.Lockspace(l.Name), logger.Err(err))
	}

	l.wg.Add(2)
	go l.runRenewal(ctx)
	go l.runScan(ctx)

	go func() {
		l.wg.Wait()
		close(l.stoppedCh)
	}()

	logger.Info("lockspace running", logger.Lockspace(l.Name), logger.HostID(l.HostID))
	return nil
}

// Stop signals the renewal and scan goroutines to exit, releases the
// delta lease if we are still its owner, and unregisters the
// watchdog entry. Stop waits up to timeout for the goroutines to
// finish.
func (l *Lockspace) Stop(timeout time.Duration) {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	close(l.stopCh)

	select {
	case <-l.stoppedCh:
	case <-time.After(timeout):
		logger.Warn("lockspace stop timed out", logger.Lockspace(l.Name))
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), l.Config.Delta.IOTimeout)
	defer cancel()

	l.mu.RLock()
	gen := l.generation
	st := l.state
	l.mu.RUnlock()

	if st != Stopped || gen != 0 {
		if err := l.Delta.Release(releaseCtx, gen); err != nil {
			logger.Warn("lockspace release failed", logger.Lockspace(l.Name), logger.Err(err))
		}
	}

	if err := l.Watchdog.Unregister(releaseCtx, l.Name); err != nil {
		logger.Warn("watchdog unregister failed", logger.Lockspace(l.Name), logger.Err(err))
	}

	l.setState(Stopped)
	logger.Info("lockspace stopped", logger.Lockspace(l.Name))
}

// runRenewal renews our host_id's delta lease every
// HostIDRenewalSeconds, pets the watchdog after each success, and
// transitions to Failing once a run of failures exceeds
// RenewalFailSeconds.
func (l *Lockspace) runRenewal(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.Config.Delta.HostIDRenewalSeconds)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.renewOnce(ctx) {
				return
			}
		}
	}
}

// renewOnce performs one renewal attempt and returns true if the
// lockspace has transitioned to Failing (the caller should stop).
func (l *Lockspace) renewOnce(ctx context.Context) bool {
	l.mu.RLock()
	gen := l.generation
	l.mu.RUnlock()

	start := l.clockNow()
	slot, err := l.Delta.Renew(ctx, gen)
	now := l.clockNow()
	l.Metrics.ObserveRenewal(l.Name, err == nil, now.Sub(start))

	if err != nil {
		l.mu.RLock()
		elapsed := now.Sub(l.lastRenew)
		l.mu.RUnlock()

		switch {
		case elapsed >= l.Config.Delta.RenewalFailSeconds:
			l.setState(Failing)
			logger.Error("lockspace renewal failing, watchdog will reset host",
				logger.Lockspace(l.Name), logger.DurationMs(float64(elapsed.Milliseconds())))
			if l.OnFailing != nil {
				l.OnFailing(l.Name)
			}
			return true
		case elapsed >= l.Config.Delta.RenewalWarnSeconds:
			logger.Warn("lockspace renewal overdue", logger.Lockspace(l.Name), logger.Err(err))
		default:
			logger.Debug("lockspace renewal retry", logger.Lockspace(l.Name), logger.Err(err))
		}
		return false
	}

	l.mu.Lock()
	l.lastRenew = now
	l.generation = slot.OwnerGeneration
	l.mu.Unlock()

	if err := l.Watchdog.Pet(ctx, l.Name, int64(slot.Timestamp)); err != nil {
		logger.Warn("watchdog pet failed", logger.Lockspace(l.Name), logger.Err(err))
	} else {
		l.Metrics.ObserveWatchdogPet(l.Name)
	}
	return false
}

// runScan periodically reads every host's slot (1..MaxHosts) so the
// shared host-status table stays current for hosts other than our
// own, which the Paxos engine consults to decide whether a resource
// owner is still alive.
func (l *Lockspace) runScan(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.Config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scanOnce(ctx)
		}
	}
}

func (l *Lockspace) scanOnce(ctx context.Context) {
	live := 0
	for hostID := uint64(1); hostID <= l.Config.MaxHosts; hostID++ {
		if _, err := l.Delta.Read(ctx, hostID); err != nil {
			logger.Debug("host slot scan skipped", logger.Lockspace(l.Name), logger.HostID(hostID), logger.Err(err))
			continue
		}
		live++
	}
	l.Metrics.SetHostsLive(l.Name, float64(live))
}
