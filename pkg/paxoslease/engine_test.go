package paxoslease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanlockd/sanlockd/pkg/deltalease"
	"github.com/sanlockd/sanlockd/pkg/diskio"
	"github.com/sanlockd/sanlockd/pkg/sanerr"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

func testDisks(n int) []diskio.Disk {
	disks := make([]diskio.Disk, n)
	for i := range disks {
		disks[i] = diskio.Disk{Path: "disk" + string(rune('0'+i))}
	}
	return disks
}

func newTestEngine(hostID, hostGen uint64, backend diskio.Backend, disks []diskio.Disk, status *deltalease.StatusTable) *Engine {
	deltaBackend := diskio.NewMemBackend(diskio.SectorSize512)
	reader := deltalease.NewEngine("ls0", hostID, "reader", deltaBackend, diskio.Disk{Path: "hostslots"}, diskio.SectorSize512, deltalease.DefaultConfig(), status)

	return &Engine{
		Lockspace:      "ls0",
		Resource:       "res0",
		HostID:         hostID,
		HostGeneration: hostGen,
		MaxHosts:       4,
		Disks:          disks,
		SectorSize:     diskio.SectorSize512,
		Backend:        backend,
		Config:         Config{IOTimeout: time.Second, PollInterval: 5 * time.Millisecond},
		Delta:          reader,
	}
}

func TestInitProducesFreeLeader(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())

	require.NoError(t, e.Init(context.Background(), false))

	leader, err := e.ReadLeader(context.Background())
	require.NoError(t, err)
	require.True(t, leader.IsFree())
	require.Equal(t, uint64(0), leader.LVer)
}

func TestAcquireFreeResource(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, e.Init(context.Background(), false))

	res, err := e.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Leader.OwnerID)
	require.Equal(t, uint64(1), res.Leader.LVer)
}

// TestAcquireByCurrentOwnerIsIdempotent enshrines the idempotent
// acquire law: re-acquiring a resource already held at the same
// (host_id, host_generation) is a read-only success, not a fresh
// ballot.
func TestAcquireByCurrentOwnerIsIdempotent(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, e.Init(context.Background(), false))

	first, err := e.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)

	second, err := e.Acquire(context.Background(), AcquireOpts{})
	require.NoError(t, err)
	require.Equal(t, first.Leader.LVer, second.Leader.LVer)
	require.Equal(t, first.Leader.Timestamp, second.Leader.Timestamp)
	require.Equal(t, uint64(1), second.Leader.OwnerID)
}

func TestReleaseFreesLeaderAtSameLVer(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, e.Init(context.Background(), false))

	acquired, err := e.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)

	freed, err := e.Release(context.Background(), acquired.Leader)
	require.NoError(t, err)
	require.True(t, freed.IsFree())
	require.Equal(t, acquired.Leader.LVer, freed.LVer)

	cur, err := e.ReadLeader(context.Background())
	require.NoError(t, err)
	require.True(t, cur.IsFree())
}

func TestAcquireHandoffBetweenHosts(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	status := deltalease.NewStatusTable()

	host1 := newTestEngine(1, 1, backend, disks, status)
	require.NoError(t, host1.Init(context.Background(), false))

	r1, err := host1.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r1.Leader.OwnerID)

	host2 := newTestEngine(2, 1, backend, disks, status)
	r2, err := host2.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)
	require.Equal(t, uint64(2), r2.Leader.OwnerID)
	require.Greater(t, r2.Leader.LVer, r1.Leader.LVer)
}

func TestReleaseRejectsStaleLVer(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, e.Init(context.Background(), false))

	acquired, err := e.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)

	stale := *acquired.Leader
	stale.LVer = acquired.Leader.LVer - 1

	_, err = e.Release(context.Background(), &stale)
	require.Error(t, err)
	require.True(t, sanerr.Is(err, sanerr.ErrReleaseLVer))
}

// TestAcquireReclaimsDeadOwner exercises the real owner-liveness wait:
// host1 takes the resource and then stops renewing its delta lease;
// host2 acquires without FORCE and must wait host1 out via the
// ACQUIRE_IDLIVE liveness probe before winning a fresh ballot.
func TestAcquireReclaimsDeadOwner(t *testing.T) {
	disks := testDisks(3)
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	status := deltalease.NewStatusTable()

	deltaBackend := diskio.NewMemBackend(diskio.SectorSize512)
	deltaCfg := deltalease.Config{
		IOTimeout:            time.Millisecond,
		HostIDRenewalSeconds: time.Millisecond,
		RenewalWarnSeconds:   time.Millisecond,
		RenewalFailSeconds:   2 * time.Millisecond,
		HostDeadSeconds:      time.Millisecond,
		PollInterval:         time.Millisecond,
	}

	host1Delta := deltalease.NewEngine("ls0", 1, "host1", deltaBackend, diskio.Disk{Path: "hostslots"}, diskio.SectorSize512, deltaCfg, status)
	require.NoError(t, host1Delta.Init(context.Background()))
	_, err := host1Delta.Acquire(context.Background())
	require.NoError(t, err)

	host1 := &Engine{
		Lockspace: "ls0", Resource: "res0", HostID: 1, HostGeneration: 1, MaxHosts: 4,
		Disks: disks, SectorSize: diskio.SectorSize512, Backend: backend,
		Config: Config{IOTimeout: time.Second, PollInterval: time.Millisecond},
		Delta:  host1Delta,
	}
	require.NoError(t, host1.Init(context.Background(), false))
	r1, err := host1.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r1.Leader.OwnerID)

	// host1 never renews again: its delta lease timestamp goes stale,
	// so host2's liveness probe will eventually judge it dead.
	host2Delta := deltalease.NewEngine("ls0", 2, "host2", deltaBackend, diskio.Disk{Path: "hostslots"}, diskio.SectorSize512, deltaCfg, status)
	host2 := &Engine{
		Lockspace: "ls0", Resource: "res0", HostID: 2, HostGeneration: 1, MaxHosts: 4,
		Disks: disks, SectorSize: diskio.SectorSize512, Backend: backend,
		Config: Config{IOTimeout: time.Second, PollInterval: time.Millisecond},
		Delta:  host2Delta,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r2, err := host2.Acquire(ctx, AcquireOpts{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), r2.Leader.OwnerID)
	require.Greater(t, r2.Leader.LVer, r1.Leader.LVer)
}

// TestRunBallotRetriesOnConcurrentMbal seeds a higher-mbal dblock for
// another host at the same lver, as a concurrent ballot would leave
// behind, and checks runBallotWithRetry backs off and climbs past it
// instead of giving up on the first DBLOCK_MBAL abort.
func TestRunBallotRetriesOnConcurrentMbal(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, e.Init(context.Background(), false))

	require.NoError(t, e.writeDBlockMajority(context.Background(), 3, &wire.DBlock{Mbal: 50, LVer: 1}))

	dblock, _, err := e.runBallotWithRetry(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Greater(t, dblock.Mbal, uint64(50))
	require.Equal(t, e.HostID, dblock.Inp)
}

// TestSharedAcquireAllowsConcurrentHolders is seed scenario 4: two
// hosts both acquiring SHARED on the same resource must both succeed,
// since LFLShortHold lets the second acquirer skip waiting out the
// first's live shared hold.
func TestSharedAcquireAllowsConcurrentHolders(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	status := deltalease.NewStatusTable()

	host1 := newTestEngine(1, 1, backend, disks, status)
	require.NoError(t, host1.Init(context.Background(), false))
	r1, err := host1.Acquire(context.Background(), AcquireOpts{Flags: FlagShared})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r1.Leader.OwnerID)
	require.NotZero(t, r1.Leader.Flags&wire.LFLShortHold)

	host2 := newTestEngine(2, 1, backend, disks, status)
	r2, err := host2.Acquire(context.Background(), AcquireOpts{Flags: FlagShared})
	require.NoError(t, err)
	require.Equal(t, uint64(2), r2.Leader.OwnerID)
	require.Greater(t, r2.Leader.LVer, r1.Leader.LVer)

	area, err := host2.readLeaseArea(context.Background())
	require.NoError(t, err)
	require.True(t, area.ModeBlocks[1].Shared())
	require.True(t, area.ModeBlocks[2].Shared())
}

// TestSharedToExclusiveSelfUpgradeSkipsOwnModeBlock is seed scenario 4's
// SH->EX conversion: a host upgrading its own shared hold to exclusive
// must not be blocked by its own live mode block in
// checkSharedContention.
func TestSharedToExclusiveSelfUpgradeSkipsOwnModeBlock(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	status := deltalease.NewStatusTable()
	status.Update("ls0", 1, 1, 1, time.Now())

	host1 := newTestEngine(1, 1, backend, disks, status)
	require.NoError(t, host1.Init(context.Background(), false))
	_, err := host1.Acquire(context.Background(), AcquireOpts{Flags: FlagShared})
	require.NoError(t, err)

	upgrade := newTestEngine(1, 2, backend, disks, status)
	res, err := upgrade.Acquire(context.Background(), AcquireOpts{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Leader.OwnerID)
	require.Zero(t, res.Leader.Flags&wire.LFLShortHold)

	area, err := upgrade.readLeaseArea(context.Background())
	require.NoError(t, err)
	require.False(t, area.ModeBlocks[1].Shared())
}

// TestReleaseSkipsWhenNotWriter is seed scenario 5: if another host's
// ballot has already committed a leader naming it as write_id,
// Release only marks our own dblock released rather than touching the
// leader.
func TestReleaseSkipsWhenNotWriter(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	host1 := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, host1.Init(context.Background(), false))

	acquired, err := host1.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)

	other := *acquired.Leader
	other.WriteID = 2
	other.WriteGeneration = 1
	require.NoError(t, host1.writeLeaderMajority(context.Background(), &other))

	cur, err := host1.Release(context.Background(), acquired.Leader)
	require.NoError(t, err)
	require.Equal(t, other.OwnerID, cur.OwnerID)
	require.Equal(t, uint64(2), cur.WriteID)

	area, err := host1.readLeaseArea(context.Background())
	require.NoError(t, err)
	require.True(t, area.DBlocks[1].Released())
}

// TestAcquireSucceedsWithOneFaultyDisk is seed scenario 6: a single
// disk failing one call must not fail an acquire that still reaches a
// majority of replicas.
func TestAcquireSucceedsWithOneFaultyDisk(t *testing.T) {
	backend := diskio.NewMemBackend(diskio.SectorSize512)
	disks := testDisks(3)
	e := newTestEngine(1, 1, backend, disks, deltalease.NewStatusTable())
	require.NoError(t, e.Init(context.Background(), false))

	backend.QueueFault(disks[0].Path, diskio.Fault{Err: errors.New("simulated disk failure")})

	res, err := e.Acquire(context.Background(), AcquireOpts{Flags: FlagForce})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Leader.OwnerID)
}
