package diskio

import (
	"context"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/pkg/sanerr"
)

// Fault lets a test force a single backend call to behave like a
// flaky disk: succeed after a delay, fail outright, or never respond
// within the caller's timeout (forcing ErrIOTimeout).
type Fault struct {
	Delay   time.Duration
	Err     error
	Hang    bool
}

// MemBackend is an in-memory Backend used by tests and by the seed
// scenarios that exercise majority/minority disk splits without real
// block devices.
type MemBackend struct {
	mu         sync.Mutex
	data       map[string][]byte
	sectorSize uint32
	arena      *arena
	faults     map[string][]Fault // path -> queued faults, consumed FIFO
}

// NewMemBackend returns an empty MemBackend reporting sectorSize for
// every disk (defaults to SectorSize512 if 0).
func NewMemBackend(sectorSize uint32) *MemBackend {
	if sectorSize == 0 {
		sectorSize = SectorSize512
	}
	return &MemBackend{
		data:       make(map[string][]byte),
		sectorSize: sectorSize,
		arena:      newArena(),
		faults:     make(map[string][]Fault),
	}
}

// QueueFault arranges for the next call against path to behave per f.
func (m *MemBackend) QueueFault(path string, f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[path] = append(m.faults[path], f)
}

func (m *MemBackend) nextFault(path string) (Fault, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.faults[path]
	if len(q) == 0 {
		return Fault{}, false
	}
	f := q[0]
	m.faults[path] = q[1:]
	return f, true
}

func (m *MemBackend) region(path string, minLen int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.data[path]
	if len(buf) < minLen {
		grown := make([]byte, minLen)
		copy(grown, buf)
		buf = grown
		m.data[path] = buf
	}
	return buf
}

// SectorSize reports the configured sector size for every disk.
func (m *MemBackend) SectorSize(disk Disk) (uint32, error) {
	return m.sectorSize, nil
}

// ReadAt reads length bytes at disk.Offset+offset from the in-memory
// region for disk.Path, applying any queued Fault first.
func (m *MemBackend) ReadAt(ctx context.Context, disk Disk, offset int64, length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	if f, ok := m.nextFault(disk.Path); ok {
		if f.Hang {
			return nil, bounded(ctx, "read_at", m.arena, buf, timeout, func() error {
				// completes only after the caller's timeout has passed
				select {
				case <-ctx.Done():
				case <-time.After(2 * timeout):
				}
				return nil
			})
		}
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		if f.Err != nil {
			return nil, sanerr.Wrap("read_at", sanerr.ErrIOFailed, f.Err)
		}
	}
	err := bounded(ctx, "read_at", m.arena, buf, timeout, func() error {
		src := m.region(disk.Path, int(disk.Offset+offset)+length)
		copy(buf, src[disk.Offset+offset:int(disk.Offset+offset)+length])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteAt writes data at disk.Offset+offset into the in-memory region
// for disk.Path, applying any queued Fault first.
func (m *MemBackend) WriteAt(ctx context.Context, disk Disk, offset int64, data []byte, timeout time.Duration) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	if f, ok := m.nextFault(disk.Path); ok {
		if f.Hang {
			return bounded(ctx, "write_at", m.arena, buf, timeout, func() error {
				select {
				case <-ctx.Done():
				case <-time.After(2 * timeout):
				}
				return nil
			})
		}
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		if f.Err != nil {
			return sanerr.Wrap("write_at", sanerr.ErrIOFailed, f.Err)
		}
	}
	return bounded(ctx, "write_at", m.arena, buf, timeout, func() error {
		dst := m.region(disk.Path, int(disk.Offset+offset)+len(buf))
		copy(dst[disk.Offset+offset:int(disk.Offset+offset)+len(buf)], buf)
		return nil
	})
}

// Close is a no-op for MemBackend; the in-memory region persists for
// the life of the backend so tests can inspect it afterward.
func (m *MemBackend) Close(disk Disk) error { return nil }
