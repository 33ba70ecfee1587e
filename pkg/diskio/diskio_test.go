package diskio

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanlockd/sanlockd/pkg/sanerr"
)

func TestReadWriteSectorRoundTrip(t *testing.T) {
	b := NewMemBackend(SectorSize512)
	disk := Disk{Path: "ls0"}
	ctx := context.Background()

	sector := make([]byte, SectorSize512)
	copy(sector, []byte("hello sector"))

	require.NoError(t, WriteSector(ctx, b, disk, SectorSize512, 3, sector, time.Second))

	got, err := ReadSector(ctx, b, disk, SectorSize512, 3, time.Second)
	require.NoError(t, err)
	require.Equal(t, sector, got)
}

func TestWriteSectorRejectsWrongLength(t *testing.T) {
	b := NewMemBackend(SectorSize512)
	disk := Disk{Path: "ls0"}
	err := WriteSector(context.Background(), b, disk, SectorSize512, 0, make([]byte, 10), time.Second)
	require.Error(t, err)
	require.True(t, sanerr.Is(err, sanerr.ErrIOFailed))
}

func TestReadIOBufSpansSectors(t *testing.T) {
	b := NewMemBackend(SectorSize512)
	disk := Disk{Path: "ls0"}
	ctx := context.Background()

	for i := int64(0); i < 4; i++ {
		s := make([]byte, SectorSize512)
		s[0] = byte(i)
		require.NoError(t, WriteSector(ctx, b, disk, SectorSize512, i, s, time.Second))
	}

	buf, err := ReadIOBuf(ctx, b, disk, SectorSize512, 0, 4, time.Second)
	require.NoError(t, err)
	require.Len(t, buf, 4*SectorSize512)
	for i := 0; i < 4; i++ {
		require.Equal(t, byte(i), buf[i*SectorSize512])
	}
}

func TestMemBackendFaultErr(t *testing.T) {
	b := NewMemBackend(SectorSize512)
	disk := Disk{Path: "ls0"}
	b.QueueFault(disk.Path, Fault{Err: errors.New("disk offline")})

	_, err := ReadSector(context.Background(), b, disk, SectorSize512, 0, time.Second)
	require.Error(t, err)
	require.True(t, sanerr.Is(err, sanerr.ErrIOFailed))
}

func TestMemBackendFaultHangTimesOut(t *testing.T) {
	b := NewMemBackend(SectorSize512)
	disk := Disk{Path: "ls0"}
	b.QueueFault(disk.Path, Fault{Hang: true})

	_, err := ReadSector(context.Background(), b, disk, SectorSize512, 0, 20*time.Millisecond)
	require.Error(t, err)
	require.True(t, sanerr.Is(err, sanerr.ErrIOTimeout))

	require.Eventually(t, func() bool {
		return b.arena.outstanding() == 0
	}, time.Second, 5*time.Millisecond, "timed-out buffer must eventually be released once the hung I/O completes")
}

func TestFileBackendSectorSizeDefaultsTo512(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/disk.img"

	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(16*SectorSize512))
	require.NoError(t, fh.Close())

	f := NewFileBackend()
	disk := Disk{Path: path}
	defer f.Close(disk)

	sz, err := f.SectorSize(disk)
	require.NoError(t, err)
	require.Equal(t, uint32(SectorSize512), sz)
}

func TestFileBackendWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/disk.img"

	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(16*SectorSize512))
	require.NoError(t, fh.Close())

	f := NewFileBackend()
	disk := Disk{Path: path}
	defer f.Close(disk)

	sector := make([]byte, SectorSize512)
	copy(sector, []byte("leader record payload"))

	require.NoError(t, WriteSector(context.Background(), f, disk, SectorSize512, 2, sector, time.Second))
	got, err := ReadSector(context.Background(), f, disk, SectorSize512, 2, time.Second)
	require.NoError(t, err)
	require.Equal(t, sector, got)
}
