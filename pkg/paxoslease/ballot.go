package paxoslease

import (
	"context"
	"math/rand"
	"time"

	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

// chooseMbal picks a ballot number guaranteed to exceed every mbal
// observed so far and unique to this host: host_id itself the first
// time any host contends, otherwise the smallest multiple of max_hosts
// strictly greater than maxObservedMbal, offset by our host_id.
func (e *Engine) chooseMbal(maxObservedMbal uint64) uint64 {
	if maxObservedMbal == 0 {
		return e.HostID
	}
	n := uint64(e.MaxHosts)
	return (maxObservedMbal/n)*n + n + e.HostID
}

// runBallot executes one two-phase disk-Paxos ballot attempt at
// (nextLVer, ourMbal). It returns the committed dblock on success, with
// zero TokenFlags. Any phase-2 failure (the accept write, the confirm
// read, or an LVER/MBAL abort on confirm) returns FlagRetractPaxos
// alongside the error.
func (e *Engine) runBallot(ctx context.Context, nextLVer, ourMbal uint64) (*wire.DBlock, TokenFlags, error) {
	prepare := &wire.DBlock{Mbal: ourMbal, LVer: nextLVer}
	if err := e.writeDBlockMajority(ctx, e.HostID, prepare); err != nil {
		return nil, 0, err
	}

	area, err := e.readLeaseArea(ctx)
	if err != nil {
		return nil, 0, err
	}

	var bkMax *wire.DBlock
	for hostID, d := range area.DBlocks {
		if hostID == e.HostID {
			continue
		}
		if d.LVer > nextLVer {
			return nil, 0, sanerr.New("run_ballot", sanerr.ErrDBlockLVer).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
		if d.Mbal > ourMbal {
			return nil, 0, sanerr.New("run_ballot", sanerr.ErrDBlockMBal).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
		// Only a dblock already prepared for THIS round (same lver) is
		// a concurrent proposal we must respect; a bal left over from
		// an older, already-committed round is stale and must not be
		// replayed into a new one.
		if d.LVer == nextLVer && d.Bal > 0 && (bkMax == nil || d.Bal > bkMax.Bal) {
			bkMax = d
		}
	}

	accept := &wire.DBlock{Mbal: ourMbal, Bal: ourMbal, LVer: nextLVer}
	if bkMax != nil {
		accept.Inp, accept.Inp2, accept.Inp3 = bkMax.Inp, bkMax.Inp2, bkMax.Inp3
	} else {
		accept.Inp = e.HostID
		accept.Inp2 = e.HostGeneration
		accept.Inp3 = monotonic(e.clock().Now())
	}

	if err := e.writeDBlockMajority(ctx, e.HostID, accept); err != nil {
		return accept, FlagRetractPaxos, err
	}

	confirm, err := e.readLeaseArea(ctx)
	if err != nil {
		return accept, FlagRetractPaxos, err
	}
	for hostID, d := range confirm.DBlocks {
		if hostID == e.HostID {
			continue
		}
		if d.LVer > nextLVer {
			return accept, FlagRetractPaxos, sanerr.New("run_ballot", sanerr.ErrDBlockLVer).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
		if d.Mbal > ourMbal {
			return accept, FlagRetractPaxos, sanerr.New("run_ballot", sanerr.ErrDBlockMBal).WithLockspace(e.Lockspace).WithResource(e.Resource)
		}
	}

	return accept, 0, nil
}

// runBallotWithRetry retries runBallot on MBAL/LVER aborts, growing
// our_mbal by max_hosts each time so it stays ahead of whatever beat
// us, backing off a random 0-1ms between attempts.
func (e *Engine) runBallotWithRetry(ctx context.Context, nextLVer, ourMbal uint64) (*wire.DBlock, TokenFlags, error) {
	for {
		dblock, tokenFlags, err := e.runBallot(ctx, nextLVer, ourMbal)
		if err == nil {
			return dblock, tokenFlags, nil
		}
		if !sanerr.Is(err, sanerr.ErrDBlockMBal) && !sanerr.Is(err, sanerr.ErrDBlockLVer) {
			return dblock, tokenFlags, err
		}
		select {
		case <-ctx.Done():
			return dblock, tokenFlags, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(time.Millisecond)))):
		}
		ourMbal = e.chooseMbal(ourMbal)
	}
}
