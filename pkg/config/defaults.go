package config

import (
	"time"

	"github.com/sanlockd/sanlockd/pkg/diskio"
)

// DefaultConfig returns the reference timing defaults named in
// spec.md §3/§5: io_timeout=10s, host_id_renewal_seconds=20s,
// renewal_fail_seconds=80s, host_dead_seconds=8*io_timeout.
func DefaultConfig() *Config {
	ioTimeout := 10 * time.Second

	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		HostID:     1,
		HostName:   "localhost",
		MaxHosts:   8,
		SectorSize: diskio.SectorSize512,
		Timing: TimingConfig{
			IOTimeout:            ioTimeout,
			HostIDRenewalSeconds: 20 * time.Second,
			RenewalWarnSeconds:   60 * time.Second,
			RenewalFailSeconds:   80 * time.Second,
			HostDeadSeconds:      8 * ioTimeout,
			AcquirePollInterval:  time.Second,
			ScanInterval:         2 * time.Second,
		},
		Token: TokenConfig{MaxResourcesPerClient: 8},
		Watchdog: WatchdogConfig{
			Enabled:    false,
			SocketPath: "/var/run/sanlock/watchdogd.sock",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9169",
		},
	}
}
