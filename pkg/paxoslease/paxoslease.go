// Package paxoslease implements the disk-Paxos resource lease: the
// mutual-exclusion (or shared) lock on a single named resource,
// backed by a leader record and one dblock per host across a
// majority-quorum set of replica disks.
//
// A resource's disk region holds, starting at byte 0 of each replica:
// sector 0 the leader record, sector 1 the request record, and
// sectors 2..(2+max_hosts-1) one dblock per host with a mode-block
// overlay at wire.ModeBlockOffset within the same sector.
package paxoslease

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/pkg/deltalease"
	"github.com/sanlockd/sanlockd/pkg/diskio"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

// AcquireFlags modify how Acquire behaves when the resource is
// currently owned.
type AcquireFlags uint32

const (
	// FlagShared requests a shared-mode lease rather than exclusive.
	FlagShared AcquireFlags = 1 << iota
	// FlagForce skips the owner-liveness probe entirely.
	FlagForce
	// FlagOwnerNoWait fails ACQUIRE_OWNED_RETRY instead of waiting out
	// a live owner.
	FlagOwnerNoWait
)

// TokenFlags record engine-observed state that the caller (the
// resource/token manager) must act on.
type TokenFlags uint32

const (
	// FlagRetractPaxos marks a ballot whose phase 2 failed after our
	// accept write was attempted, so another host could still commit
	// our values. runBallot returns it only together with an error, and
	// Acquire returns no AcquireResult on error, so the flag does not
	// reach a caller and Release does not check for it.
	FlagRetractPaxos TokenFlags = 1 << iota
)

// Config holds the timing constants governing Paxos acquire.
type Config struct {
	IOTimeout    time.Duration
	PollInterval time.Duration // sleep between owner-liveness probes, default 1s
}

// DefaultConfig returns io_timeout=10s, 1s liveness-probe polling.
func DefaultConfig() Config {
	return Config{IOTimeout: 10 * time.Second, PollInterval: time.Second}
}

// AcquireOpts parameterizes Acquire.
type AcquireOpts struct {
	Flags       AcquireFlags
	AcquireLVer *uint64 // assert the resource is still at this lver
	NewNumHosts *uint32 // resize max_hosts (Init-time only in practice)
}

// AcquireResult is returned on a successful Acquire.
type AcquireResult struct {
	Leader *wire.LeaderRecord
	DBlock *wire.DBlock
	Token  TokenFlags
}

// DeltaReader is the subset of *deltalease.Engine that Acquire needs
// to probe another host's liveness: reading an arbitrary host's slot
// and consulting the published HostStatus oracle.
type DeltaReader interface {
	Read(ctx context.Context, hostID uint64) (*wire.HostSlot, error)
	StatusOf(lockspace string, hostID uint64) (deltalease.HostStatus, bool)
}

// Engine drives acquire/release/read_leader/init for one resource
// across its replica disk set.
type Engine struct {
	Lockspace string
	Resource  string

	HostID         uint64
	HostGeneration uint64
	MaxHosts       uint32

	Disks      []diskio.Disk
	SectorSize uint32
	Backend    diskio.Backend

	Config Config
	Delta  DeltaReader
	Clock  deltalease.Clock
}

func (e *Engine) clock() deltalease.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return deltalease.SystemClock{}
}

func (e *Engine) leaseAreaSectors() int { return 2 + int(e.MaxHosts) }

func (e *Engine) dblockSectorIndex(hostID uint64) int64 {
	return int64(2 + int(hostID-1))
}
