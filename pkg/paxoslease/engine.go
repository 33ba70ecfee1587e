package paxoslease

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/pkg/diskio"
	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

func monotonic(t time.Time) uint64 {
	return uint64(t.UnixNano())
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

// otherHostDeadSeconds mirrors host_id_timeout's 8x factor but against
// the probed owner's own advertised io_timeout rather than ours.
func otherHostDeadSeconds(ownerIOTimeout uint32) time.Duration {
	return 8 * time.Duration(ownerIOTimeout) * time.Second
}

// checkSharedContention fails SANLK_ACQUIRE_SH if any host currently
// holds a live shared-mode lease, as required before an exclusive
// acquire may proceed. "Still live" uses the same 8x io_timeout factor
// as host_id_timeout, applied to our own io_timeout since the mode
// block alone does not carry the other host's advertised timeout.
func (e *Engine) checkSharedContention(area *leaseArea) error {
	liveWindow := otherHostDeadSeconds(uint32(e.Config.IOTimeout / time.Second))
	for hostID, m := range area.ModeBlocks {
		if hostID == e.HostID {
			continue
		}
		if !m.Shared() {
			continue
		}
		if st, ok := e.Delta.StatusOf(e.Lockspace, hostID); ok {
			if time.Since(st.LastLive) < liveWindow {
				return sanerr.New("acquire", sanerr.ErrAcquireSH).WithLockspace(e.Lockspace).WithResource(e.Resource)
			}
		}
	}
	return nil
}

// outerResult tells Acquire's main loop what waitOutOwner decided.
type outerResult int

const (
	outerRestart outerResult = iota // leader changed under us; re-read and retry
	outerBallot                     // owner is dead or released; proceed to ballot
)

// waitOutOwner implements the owner-liveness probe: step 3 of the
// Paxos acquire outer loop. It blocks until the owner is judged dead,
// the caller's resource leader changes underneath it, or a hard
// failure occurs.
func (e *Engine) waitOutOwner(ctx context.Context, initialLeader *wire.LeaderRecord, area *leaseArea, opts AcquireOpts) (outerResult, error) {
	ownerSlot, err := e.Delta.Read(ctx, initialLeader.OwnerID)
	if err != nil {
		return 0, err
	}

	waitStart := time.Now()
	if st, ok := e.Delta.StatusOf(e.Lockspace, initialLeader.OwnerID); ok && !st.LastLive.IsZero() {
		waitStart = st.LastLive
	}

	lastTimestamp := ownerSlot.Timestamp
	lastGeneration := ownerSlot.OwnerGeneration
	lastOwnerID := ownerSlot.OwnerID
	deadline := otherHostDeadSeconds(ownerSlot.IOTimeout)

	for {
		if opts.Flags&FlagOwnerNoWait != 0 {
			return 0, sanerr.New("acquire", sanerr.ErrAcquireOwnedRetry).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}

		if err := e.sleep(ctx, e.Config.PollInterval); err != nil {
			return 0, err
		}

		slot, err := e.Delta.Read(ctx, initialLeader.OwnerID)
		if err != nil {
			return 0, err
		}

		if slot.Timestamp != lastTimestamp {
			if d, ok := area.DBlocks[initialLeader.OwnerID]; ok && d.Released() {
				return outerBallot, nil
			}
			return 0, sanerr.New("acquire", sanerr.ErrAcquireIDLive).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}

		if slot.OwnerGeneration != lastGeneration || slot.OwnerID != lastOwnerID {
			return outerBallot, nil
		}

		fresh, err := e.readLeaseArea(ctx)
		if err != nil {
			return 0, err
		}
		if *fresh.Leader != *initialLeader {
			return outerRestart, nil
		}

		if time.Since(waitStart) > deadline {
			return outerBallot, nil
		}
	}
}

// Acquire runs the full outer acquire loop described in spec.md §4.4:
// probe the current owner's liveness (unless free, already ours, or
// FORCE), then run a disk-Paxos ballot to become the new owner.
func (e *Engine) Acquire(ctx context.Context, opts AcquireOpts) (*AcquireResult, error) {
	for {
		area, err := e.readLeaseArea(ctx)
		if err != nil {
			return nil, err
		}
		leader := area.Leader

		if opts.AcquireLVer != nil && *opts.AcquireLVer != leader.LVer {
			return nil, sanerr.New("acquire", sanerr.ErrAcquireLVer).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}

		// Idempotent acquire: a client re-asserting ownership it
		// already holds at the same generation is a read-only success,
		// never a fresh ballot (a new generation of the same host_id is
		// not "the same client" and falls through to goBallot below).
		if !leader.IsFree() && leader.OwnerID == e.HostID && leader.OwnerGeneration == e.HostGeneration {
			return &AcquireResult{Leader: leader, DBlock: area.DBlocks[e.HostID]}, nil
		}

		// A live shared-mode leader (LFLShortHold) never needs waiting
		// out by another shared acquirer: shared holders coexist, so a
		// second SHARED acquire goes straight to ballot and lays down
		// its own dblock/mode-block entry alongside the existing
		// holder's, rather than probing a liveness that does not block it.
		shortHoldShared := opts.Flags&FlagShared != 0 && leader.Flags&wire.LFLShortHold != 0

		goBallot := leader.IsFree() || leader.OwnerID == e.HostID || opts.Flags&FlagForce != 0 || shortHoldShared
		if !goBallot {
			res, err := e.waitOutOwner(ctx, leader, area, opts)
			if err != nil {
				return nil, err
			}
			if res == outerRestart {
				continue
			}
		}

		if opts.Flags&FlagShared == 0 {
			if err := e.checkSharedContention(area); err != nil {
				return nil, err
			}
		}

		nextLVer := leader.LVer + 1
		ourMbal := e.chooseMbal(area.MaxMbal)

		reread, err := e.readLeaseArea(ctx)
		if err != nil {
			return nil, err
		}
		if reread.Leader.LVer > nextLVer {
			continue
		}
		if reread.Leader.LVer == nextLVer {
			if reread.Leader.OwnerID == e.HostID {
				return &AcquireResult{Leader: reread.Leader, DBlock: reread.DBlocks[e.HostID]}, nil
			}
			return nil, sanerr.New("acquire", sanerr.ErrAcquireOwned).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}

		dblock, tokenFlags, err := e.runBallotWithRetry(ctx, nextLVer, ourMbal)
		if err != nil {
			return nil, err
		}

		newLeader := &wire.LeaderRecord{
			Magic:           wire.MagicLeader,
			Version:         wire.RecordVersion,
			SectorSize:      e.SectorSize,
			NumHosts:        e.MaxHosts,
			MaxHosts:        e.MaxHosts,
			OwnerID:         dblock.Inp,
			OwnerGeneration: dblock.Inp2,
			LVer:            dblock.LVer,
			Timestamp:       dblock.Inp3,
			SpaceName:       e.Lockspace,
			ResourceName:    e.Resource,
			WriteID:         e.HostID,
			WriteGeneration: e.HostGeneration,
			WriteTimestamp:  monotonic(e.clock().Now()),
		}
		if opts.Flags&FlagShared != 0 && dblock.Inp == e.HostID {
			newLeader.Flags |= wire.LFLShortHold
		}

		if err := e.writeLeaderMajority(ctx, newLeader); err != nil {
			return nil, err
		}

		// Always resettle our own mode-block overlay on a ballot we win,
		// not just on a shared acquire: converting an old shared hold to
		// exclusive must clear its Shared marker, or a later exclusive
		// acquirer's checkSharedContention would see a stale live-shared
		// entry for a lease that no longer exists.
		if newLeader.OwnerID == e.HostID {
			mb := &wire.ModeBlock{}
			if opts.Flags&FlagShared != 0 {
				mb = &wire.ModeBlock{Flags: wire.MBlockShared, Generation: newLeader.OwnerGeneration}
			}
			_ = e.writeDBlockModeBlockMajority(ctx, e.HostID, dblock, mb)
		}

		if newLeader.OwnerID != e.HostID {
			return nil, sanerr.New("acquire", sanerr.ErrAcquireOther).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
		return &AcquireResult{Leader: newLeader, DBlock: dblock, Token: tokenFlags}, nil
	}
}

// ReadLeader returns the current majority-resolved leader record
// without attempting to acquire.
func (e *Engine) ReadLeader(ctx context.Context) (*wire.LeaderRecord, error) {
	area, err := e.readLeaseArea(ctx)
	if err != nil {
		return nil, err
	}
	return area.Leader, nil
}

// Release gives up our ownership of the resource. If another host has
// already committed a leader naming someone else as write_id (the
// "writer not owner" race, see FlagRetractPaxos), we only mark our own
// dblock released and leave the leader alone.
func (e *Engine) Release(ctx context.Context, lastLeader *wire.LeaderRecord) (*wire.LeaderRecord, error) {
	cur, err := e.ReadLeader(ctx)
	if err != nil {
		return nil, err
	}

	if cur.WriteID != e.HostID {
		released := &wire.DBlock{Flags: wire.DBlockFlReleased}
		if err := e.writeDBlockMajority(ctx, e.HostID, released); err != nil {
			return nil, err
		}
		return cur, nil
	}

	if cur.LVer != lastLeader.LVer {
		return nil, sanerr.New("release", sanerr.ErrReleaseLVer).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	if cur.OwnerID != e.HostID {
		return nil, sanerr.New("release", sanerr.ErrReleaseOwner).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	if cur.IsFree() {
		return nil, sanerr.New("release", sanerr.ErrReleaseOwner).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}

	next := *cur
	next.Timestamp = wire.LeaseFree
	next.WriteID = e.HostID
	next.WriteGeneration = e.HostGeneration
	next.WriteTimestamp = monotonic(e.clock().Now())
	next.Flags &^= wire.LFLShortHold

	if err := e.writeLeaderMajority(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Init zero-fills the resource's disk region on every replica, then
// writes a free leader sector (or a cleared-magic sector if clear is
// set) and a request-record sector. Dblocks are left unwritten; a host
// writes its own dblock for the first time the first time it runs a
// ballot.
func (e *Engine) Init(ctx context.Context, clear bool) error {
	alignSize, err := wire.AlignSize(e.SectorSize)
	if err != nil {
		return sanerr.Wrap("init", sanerr.ErrLeaderWrite, err).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	regionSectors := alignSize / int64(e.SectorSize)
	if regionSectors < int64(e.leaseAreaSectors()) {
		regionSectors = int64(e.leaseAreaSectors())
	}

	zero := make([]byte, e.SectorSize)
	for sector := int64(0); sector < regionSectors; sector++ {
		for _, d := range e.Disks {
			if err := e.Backend.WriteAt(ctx, d, sector*int64(e.SectorSize), zero, e.Config.IOTimeout); err != nil {
				return sanerr.Wrap("init", sanerr.ErrLeaderWrite, err).WithLockspace(e.Lockspace).WithResource(e.Resource)
			}
		}
	}

	leader := &wire.LeaderRecord{
		Magic:        wire.MagicLeader,
		Version:      wire.RecordVersion,
		SectorSize:   e.SectorSize,
		NumHosts:     e.MaxHosts,
		MaxHosts:     e.MaxHosts,
		Timestamp:    wire.LeaseFree,
		SpaceName:    e.Lockspace,
		ResourceName: e.Resource,
	}
	if clear {
		leader.Magic = wire.MagicCleared
	}
	if err := e.writeLeaderMajority(ctx, leader); err != nil {
		return err
	}

	req := &wire.RequestRecord{Magic: wire.MagicRequest, Version: wire.RecordVersion}
	reqBuf := make([]byte, e.SectorSize)
	copy(reqBuf, req.Encode())
	for _, d := range e.Disks {
		if err := diskio.WriteSector(ctx, e.Backend, d, e.SectorSize, 1, reqBuf, e.Config.IOTimeout); err != nil {
			return sanerr.Wrap("init", sanerr.ErrLeaderWrite, err).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
	}
	return nil
}
