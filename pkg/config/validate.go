package config

import (
	"errors"

	"github.com/sanlockd/sanlockd/pkg/diskio"
)

// Validate checks the invariants spec.md §3/§5 place on host identity,
// sector size, and timing, returning the first violation found.
func (c *Config) Validate() error {
	if c.HostID < 1 {
		return errConfig("host_id must be >= 1")
	}
	if c.MaxHosts < 1 || c.MaxHosts > 2000 {
		return errConfig("max_hosts must be between 1 and 2000")
	}
	if c.HostID > c.MaxHosts {
		return errConfig("host_id must not exceed max_hosts")
	}
	if c.SectorSize != diskio.SectorSize512 && c.SectorSize != diskio.SectorSize4096 {
		return errConfig("sector_size must be 512 or 4096")
	}
	if len(c.Lockspaces) == 0 {
		return errConfig("at least one lockspace must be configured")
	}
	for _, ls := range c.Lockspaces {
		if ls.Name == "" {
			return errConfig("lockspace name must not be empty")
		}
		if ls.Disk.Path == "" {
			return errConfig("lockspace " + ls.Name + ": disk path must not be empty")
		}
	}

	t := c.Timing
	if t.IOTimeout <= 0 {
		return errConfig("timing.io_timeout must be positive")
	}
	if t.HostIDRenewalSeconds <= 0 {
		return errConfig("timing.host_id_renewal_seconds must be positive")
	}
	if t.RenewalFailSeconds <= t.HostIDRenewalSeconds {
		return errConfig("timing.renewal_fail_seconds must exceed host_id_renewal_seconds")
	}
	if t.RenewalWarnSeconds <= 0 || t.RenewalWarnSeconds > t.RenewalFailSeconds {
		return errConfig("timing.renewal_warn_seconds must be positive and not exceed renewal_fail_seconds")
	}
	if t.HostDeadSeconds <= 0 {
		return errConfig("timing.host_dead_seconds must be positive")
	}
	if t.AcquirePollInterval <= 0 {
		return errConfig("timing.acquire_poll_interval must be positive")
	}
	if t.ScanInterval <= 0 {
		return errConfig("timing.scan_interval must be positive")
	}

	if c.Token.MaxResourcesPerClient < 1 {
		return errConfig("token.max_resources_per_client must be >= 1")
	}

	if c.Watchdog.Enabled && c.Watchdog.SocketPath == "" {
		return errConfig("watchdog.socket_path must be set when watchdog.enabled is true")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errConfig("metrics.listen_addr must be set when metrics.enabled is true")
	}

	return nil
}

func errConfig(msg string) error { return errors.New(msg) }
