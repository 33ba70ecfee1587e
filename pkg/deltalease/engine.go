// Package deltalease implements the per-host delta lease: a single
// sector per host in a lockspace's host-slot table, renewed
// periodically as proof of life and consulted by the Paxos lease
// engine to decide whether a resource's current owner is still
// around.
package deltalease

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/pkg/diskio"
	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

// Engine drives acquire/renew/release/read for a single host's delta
// lease within one lockspace's host-slot table.
type Engine struct {
	Lockspace string
	HostID    uint64
	HostName  string

	Backend    diskio.Backend
	Disk       diskio.Disk
	SectorSize uint32

	Config Config
	Clock  Clock
	Status *StatusTable
}

// NewEngine returns an Engine with SystemClock and a fresh StatusTable
// if status is nil.
func NewEngine(lockspace string, hostID uint64, hostName string, backend diskio.Backend, disk diskio.Disk, sectorSize uint32, cfg Config, status *StatusTable) *Engine {
	if status == nil {
		status = NewStatusTable()
	}
	return &Engine{
		Lockspace:  lockspace,
		HostID:     hostID,
		HostName:   hostName,
		Backend:    backend,
		Disk:       disk,
		SectorSize: sectorSize,
		Config:     cfg,
		Status:     status,
		Clock:      SystemClock{},
	}
}

func (e *Engine) clock() Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return SystemClock{}
}

func (e *Engine) slotSector(hostID uint64) int64 {
	return int64(hostID - 1)
}

// StatusOf returns the last published HostStatus for hostID within
// the given lockspace.
func (e *Engine) StatusOf(lockspace string, hostID uint64) (HostStatus, bool) {
	return e.Status.Get(lockspace, hostID)
}

// Read reads hostID's slot and publishes its HostStatus.
func (e *Engine) Read(ctx context.Context, hostID uint64) (*wire.HostSlot, error) {
	buf, err := diskio.ReadSector(ctx, e.Backend, e.Disk, e.SectorSize, e.slotSector(hostID), e.Config.IOTimeout)
	if err != nil {
		return nil, err
	}
	slot, err := wire.DecodeHostSlot(buf)
	if err != nil {
		return nil, err
	}
	e.Status.Update(e.Lockspace, hostID, slot.OwnerGeneration, slot.Timestamp, e.clock().Now())
	return slot, nil
}

func (e *Engine) write(ctx context.Context, ownerGeneration, timestamp uint64) error {
	slot := &wire.HostSlot{
		Magic:           wire.MagicDelta,
		Version:         wire.RecordVersion,
		SectorSize:      e.SectorSize,
		OwnerID:         e.HostID,
		OwnerGeneration: ownerGeneration,
		Timestamp:       timestamp,
		SpaceName:       e.Lockspace,
		ResourceName:    e.HostName,
		IOTimeout:       uint32(e.Config.IOTimeout / time.Second),
	}
	return diskio.WriteSector(ctx, e.Backend, e.Disk, e.SectorSize, e.slotSector(e.HostID), slot.Encode(), e.Config.IOTimeout)
}

func monotonic(t time.Time) uint64 {
	return uint64(t.UnixNano())
}

// Init writes a FREE slot for our host_id, mirroring the resource
// leader's own Init in the Paxos engine. The lockspace manager does
// not call it: Lockspace.Start goes straight to Acquire. Acquire assumes the
// slot already holds a valid, checksummed record; a disk region that
// has never been written does not.
func (e *Engine) Init(ctx context.Context) error {
	return e.write(ctx, 0, wire.LeaseFree)
}

// Acquire claims our own host_id's slot: waits out any existing owner
// for host_dead_seconds, writes a fresh owner_generation and
// timestamp, then waits host_dead_seconds again and re-reads to
// confirm no concurrent acquirer raced us.
func (e *Engine) Acquire(ctx context.Context) (*wire.HostSlot, error) {
	cur, err := e.Read(ctx, e.HostID)
	if err != nil {
		return nil, err
	}

	if !cur.IsFree() {
		stable, err := e.waitStable(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !stable {
			return nil, sanerr.New("delta_acquire", sanerr.ErrAcquireIDLive).WithLockspace(e.Lockspace)
		}
	}

	nextGen := cur.OwnerGeneration + 1
	ts := monotonic(e.clock().Now())
	if err := e.write(ctx, nextGen, ts); err != nil {
		return nil, err
	}

	if err := e.sleep(ctx, e.Config.HostDeadSeconds); err != nil {
		return nil, err
	}

	after, err := e.Read(ctx, e.HostID)
	if err != nil {
		return nil, err
	}
	if after.OwnerGeneration != nextGen || after.Timestamp != ts {
		return nil, sanerr.New("delta_acquire", sanerr.ErrAcquireOther).WithLockspace(e.Lockspace)
	}
	return after, nil
}

// waitStable polls the slot until host_dead_seconds has elapsed with
// no meaningful change to (owner_id, owner_generation, timestamp), or
// returns false the moment such a change is observed (another live
// host).
func (e *Engine) waitStable(ctx context.Context, initial *wire.HostSlot) (bool, error) {
	deadline := e.clock().Now().Add(e.Config.HostDeadSeconds)
	last := initial
	for {
		if e.clock().Now().After(deadline) {
			return true, nil
		}
		if err := e.sleep(ctx, e.Config.PollInterval); err != nil {
			return false, err
		}
		slot, err := e.Read(ctx, e.HostID)
		if err != nil {
			return false, err
		}
		if slot.OwnerID != last.OwnerID || slot.OwnerGeneration != last.OwnerGeneration || slot.Timestamp != last.Timestamp {
			return false, nil
		}
		last = slot
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Renew verifies we are still the owner at our expected generation and
// writes a fresh timestamp.
func (e *Engine) Renew(ctx context.Context, expectedGeneration uint64) (*wire.HostSlot, error) {
	cur, err := e.Read(ctx, e.HostID)
	if err != nil {
		return nil, err
	}
	if cur.OwnerID != e.HostID || cur.OwnerGeneration != expectedGeneration {
		return nil, sanerr.New("delta_renew", sanerr.ErrAcquireOwned).WithLockspace(e.Lockspace)
	}
	ts := monotonic(e.clock().Now())
	if err := e.write(ctx, expectedGeneration, ts); err != nil {
		return nil, err
	}
	return e.Read(ctx, e.HostID)
}

// Release marks our slot FREE, provided we are still its owner.
func (e *Engine) Release(ctx context.Context, expectedGeneration uint64) error {
	cur, err := e.Read(ctx, e.HostID)
	if err != nil {
		return err
	}
	if cur.OwnerID != e.HostID || cur.OwnerGeneration != expectedGeneration {
		return sanerr.New("delta_release", sanerr.ErrReleaseOwner).WithLockspace(e.Lockspace)
	}
	return e.write(ctx, expectedGeneration, wire.LeaseFree)
}
