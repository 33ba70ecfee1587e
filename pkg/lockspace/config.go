package lockspace

import (
	"time"

	"github.com/sanlockd/sanlockd/pkg/deltalease"
)

// Config holds the timing constants for a lockspace's renewal thread,
// layered on top of the delta-lease engine's own Config.
type Config struct {
	Delta deltalease.Config

	// ScanInterval is how often the periodic host-slot scan runs to
	// keep the host-status table current for every host_id, not just
	// our own.
	ScanInterval time.Duration

	// MaxHosts bounds the host-slot table scanned for host-status.
	MaxHosts uint64
}

// DefaultConfig returns reference timing defaults layered on
// deltalease.DefaultConfig, scanning up to 8 hosts every 2 seconds.
func DefaultConfig() Config {
	return Config{
		Delta:        deltalease.DefaultConfig(),
		ScanInterval: 2 * time.Second,
		MaxHosts:     8,
	}
}
