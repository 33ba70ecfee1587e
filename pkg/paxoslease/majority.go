package paxoslease

import (
	"context"

	"github.com/sanlockd/sanlockd/pkg/diskio"
	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

func majority(n int) int { return n/2 + 1 }

type diskRead struct {
	buf []byte
	err error
}

func (e *Engine) readAllDisks(ctx context.Context, numSectors int) []diskRead {
	reads := make([]diskRead, len(e.Disks))
	for i, d := range e.Disks {
		buf, err := diskio.ReadIOBuf(ctx, e.Backend, d, e.SectorSize, 0, numSectors, e.Config.IOTimeout)
		reads[i] = diskRead{buf: buf, err: err}
	}
	return reads
}

// leaderEqual compares two leader records field by field, ignoring
// nothing: a legitimate majority must agree on every field.
func leaderEqual(a, b *wire.LeaderRecord) bool {
	return *a == *b
}

func pickMajorityLeader(candidates []*wire.LeaderRecord, need int) (*wire.LeaderRecord, error) {
	counts := make([]int, len(candidates))
	for i, c := range candidates {
		for j := i; j < len(candidates); j++ {
			if leaderEqual(c, candidates[j]) {
				counts[i]++
			}
		}
	}
	best := -1
	for i, n := range counts {
		if n >= need && (best == -1 || n > counts[best]) {
			best = i
		}
	}
	if best == -1 {
		return nil, sanerr.New("lease_read", sanerr.ErrLeaderDiff)
	}
	return candidates[best], nil
}

// verifyLeaderMagic rejects a decoded leader sector that is not a
// live leader record: MagicCleared (explicitly cleared by Init) and
// any other magic/version are both treated as "not a candidate," so a
// cleared sector can never win a majority vote as if it were free.
func verifyLeaderMagic(l *wire.LeaderRecord) error {
	if l.Magic != wire.MagicLeader {
		return sanerr.New("lease_read", sanerr.ErrLeaderMagic)
	}
	if l.Version != wire.RecordVersion {
		return sanerr.New("lease_read", sanerr.ErrLeaderVersion)
	}
	return nil
}

// leaseArea is the decoded, majority-resolved snapshot of a resource's
// disk state returned by readLeaseArea.
type leaseArea struct {
	Leader     *wire.LeaderRecord
	DBlocks    map[uint64]*wire.DBlock
	ModeBlocks map[uint64]*wire.ModeBlock
	MaxMbal    uint64
}

// readLeaseArea performs the "lease_read": one aligned I/O per disk
// covering the leader, request, and every host's dblock sector, then
// resolves a majority value for the leader and the best (highest
// mbal/bal) observed value for each host's dblock. A dblock that
// fails to decode is treated as never-written (a zero DBlock) rather
// than a hard error — Init never writes dblocks, only the leader and
// request record, so an all-zero, non-checksummed dblock sector is
// the expected state for a host that has never run a ballot.
func (e *Engine) readLeaseArea(ctx context.Context) (*leaseArea, error) {
	reads := e.readAllDisks(ctx, e.leaseAreaSectors())

	ok := 0
	var leaders []*wire.LeaderRecord
	var magicErr error
	for _, r := range reads {
		if r.err != nil {
			continue
		}
		ok++
		l, err := wire.DecodeLeaderRecord(r.buf[:e.SectorSize])
		if err != nil {
			continue
		}
		if verr := verifyLeaderMagic(l); verr != nil {
			magicErr = verr
			continue
		}
		leaders = append(leaders, l)
	}
	need := majority(len(e.Disks))
	if ok < need {
		return nil, sanerr.New("lease_read", sanerr.ErrLeaderRead).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	leader, err := pickMajorityLeader(leaders, need)
	if err != nil {
		if len(leaders) == 0 && magicErr != nil {
			return nil, magicErr.(*sanerr.Error).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
		return nil, err.(*sanerr.Error).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}

	dblocks := make(map[uint64]*wire.DBlock, e.MaxHosts)
	modeblocks := make(map[uint64]*wire.ModeBlock)
	var maxMbal uint64

	for hostID := uint64(1); hostID <= uint64(e.MaxHosts); hostID++ {
		sectorIdx := e.dblockSectorIndex(hostID)
		start := int(sectorIdx) * int(e.SectorSize)
		end := start + int(e.SectorSize)

		var chosen *wire.DBlock
		var chosenMode *wire.ModeBlock
		for _, r := range reads {
			if r.err != nil || len(r.buf) < end {
				continue
			}
			sector := r.buf[start:end]
			d, derr := wire.DecodeDBlock(sector)
			if derr != nil {
				d = &wire.DBlock{}
			}
			if chosen == nil || d.Mbal > chosen.Mbal || (d.Mbal == chosen.Mbal && d.Bal > chosen.Bal) {
				chosen = d
			}
			if m, merr := wire.DecodeModeBlock(sector[wire.ModeBlockOffset:]); merr == nil {
				if chosenMode == nil || m.Generation > chosenMode.Generation {
					chosenMode = m
				}
			}
		}
		if chosen == nil {
			chosen = &wire.DBlock{}
		}
		dblocks[hostID] = chosen
		if chosenMode != nil {
			modeblocks[hostID] = chosenMode
		}
		if chosen.Mbal > maxMbal {
			maxMbal = chosen.Mbal
		}
	}

	return &leaseArea{Leader: leader, DBlocks: dblocks, ModeBlocks: modeblocks, MaxMbal: maxMbal}, nil
}

// writeLeaderMajority writes l as sector 0 on every disk, succeeding
// if a majority acknowledge.
func (e *Engine) writeLeaderMajority(ctx context.Context, l *wire.LeaderRecord) error {
	buf := make([]byte, e.SectorSize)
	copy(buf, l.Encode())

	ok := 0
	for _, d := range e.Disks {
		if err := diskio.WriteSector(ctx, e.Backend, d, e.SectorSize, 0, buf, e.Config.IOTimeout); err == nil {
			ok++
		}
	}
	if ok < majority(len(e.Disks)) {
		return sanerr.New("leader_write", sanerr.ErrLeaderWrite).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	return nil
}

// writeDBlockMajority writes only the DBlockSize-byte dblock encoding
// at our own host's sector, leaving any existing mode-block overlay at
// wire.ModeBlockOffset untouched.
func (e *Engine) writeDBlockMajority(ctx context.Context, hostID uint64, d *wire.DBlock) error {
	offset := e.dblockSectorIndex(hostID) * int64(e.SectorSize)
	data := d.Encode()

	ok := 0
	for _, disk := range e.Disks {
		if err := e.Backend.WriteAt(ctx, disk, offset, data, e.Config.IOTimeout); err == nil {
			ok++
		}
	}
	if ok < majority(len(e.Disks)) {
		return sanerr.New("dblock_write", sanerr.ErrDBlockWrite).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	return nil
}

// writeDBlockModeBlockMajority is write_dblock_mblock_sh: it writes
// the dblock and a mode-block overlay together in one I/O so a
// shared-mode marker survives a concurrent ballot run by the same
// host.
func (e *Engine) writeDBlockModeBlockMajority(ctx context.Context, hostID uint64, d *wire.DBlock, m *wire.ModeBlock) error {
	combined := make([]byte, wire.ModeBlockOffset+wire.ModeBlockSize)
	copy(combined, d.Encode())
	copy(combined[wire.ModeBlockOffset:], m.Encode())

	offset := e.dblockSectorIndex(hostID) * int64(e.SectorSize)
	ok := 0
	for _, disk := range e.Disks {
		if err := e.Backend.WriteAt(ctx, disk, offset, combined, e.Config.IOTimeout); err == nil {
			ok++
		}
	}
	if ok < majority(len(e.Disks)) {
		return sanerr.New("dblock_write", sanerr.ErrDBlockWrite).WithLockspace(e.Lockspace).WithResource(e.Resource)
	}
	return nil
}
