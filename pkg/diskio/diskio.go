// Package diskio provides aligned, timeout-bounded sector I/O against
// shared block devices for the delta lease and Paxos lease engines.
//
// Every call has three possible outcomes: success, an immediate error
// (the caller's buffer is reusable), or a timeout (the underlying I/O
// may still complete later; the buffer must not be reused or freed
// until that I/O finishes). A stuck disk must never block an
// unrelated lockspace or resource, so every call runs on its own
// goroutine bounded by the caller's timeout rather than blocking the
// caller's own goroutine past that deadline.
package diskio

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/pkg/sanerr"
)

// Disk identifies a block device (or plain file standing in for one
// in tests) and the byte offset within it where a lockspace or
// resource region begins.
type Disk struct {
	Path   string
	Offset int64
}

// The two sector sizes every Backend must support.
const (
	SectorSize512  = 512
	SectorSize4096 = 4096
)

// Backend performs the actual reads and writes for a Disk. FileBackend
// talks to real files/block devices; MemBackend is an in-memory
// stand-in used by tests and by the seed scenarios in spec.md §8.
type Backend interface {
	// SectorSize returns the disk's native sector size (512 or 4096).
	SectorSize(disk Disk) (uint32, error)

	// ReadAt reads length bytes at disk.Offset+offset, bounded by timeout.
	ReadAt(ctx context.Context, disk Disk, offset int64, length int, timeout time.Duration) ([]byte, error)

	// WriteAt writes data at disk.Offset+offset, bounded by timeout.
	WriteAt(ctx context.Context, disk Disk, offset int64, data []byte, timeout time.Duration) error

	// Close releases any resources (open file descriptors) held for disk.
	Close(disk Disk) error
}

// ReadSector reads a single sector at the given 0-based sector index.
func ReadSector(ctx context.Context, b Backend, disk Disk, sectorSize uint32, sectorNum int64, timeout time.Duration) ([]byte, error) {
	return b.ReadAt(ctx, disk, sectorNum*int64(sectorSize), int(sectorSize), timeout)
}

// WriteSector writes a single sector at the given 0-based sector
// index. len(data) must equal the disk's sector size.
func WriteSector(ctx context.Context, b Backend, disk Disk, sectorSize uint32, sectorNum int64, data []byte, timeout time.Duration) error {
	if len(data) != int(sectorSize) {
		return sanerr.New("write_sector", sanerr.ErrIOFailed)
	}
	return b.WriteAt(ctx, disk, sectorNum*int64(sectorSize), data, timeout)
}

// ReadIOBuf reads a contiguous run of numSectors sectors in a single
// aligned I/O, used by the Paxos engine's "lease_read" (leader +
// every host's dblock in one call).
func ReadIOBuf(ctx context.Context, b Backend, disk Disk, sectorSize uint32, startSector int64, numSectors int, timeout time.Duration) ([]byte, error) {
	return b.ReadAt(ctx, disk, startSector*int64(sectorSize), numSectors*int(sectorSize), timeout)
}
