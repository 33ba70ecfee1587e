// Package config defines sanlockd's static configuration: logging,
// watchdog, metrics server, host identity, and the per-lockspace
// timing knobs layered onto pkg/deltalease, pkg/paxoslease, and
// pkg/token's own Config types.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (SANLOCKD_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"time"

	"github.com/sanlockd/sanlockd/pkg/deltalease"
	"github.com/sanlockd/sanlockd/pkg/lockspace"
	"github.com/sanlockd/sanlockd/pkg/paxoslease"
	"github.com/sanlockd/sanlockd/pkg/token"
)

// Config is sanlockd's top-level configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// HostID is this host's identity (1..MaxHosts) within every
	// lockspace it joins.
	HostID uint64 `mapstructure:"host_id" yaml:"host_id"`

	// HostName is recorded in delta-lease host slots for operator
	// visibility; it plays no role in the protocol.
	HostName string `mapstructure:"host_name" yaml:"host_name"`

	// MaxHosts bounds the host_id space and the dblock table size for
	// every resource.
	MaxHosts uint64 `mapstructure:"max_hosts" yaml:"max_hosts"`

	// SectorSize is the disk sector size used for every on-disk
	// record: 512 or 4096.
	SectorSize uint32 `mapstructure:"sector_size" yaml:"sector_size"`

	// Lockspaces lists the lockspace regions this host joins at
	// startup.
	Lockspaces []LockspaceConfig `mapstructure:"lockspaces" yaml:"lockspaces"`

	// Timing holds the shared timeout/renewal knobs layered onto
	// pkg/deltalease.Config and pkg/paxoslease.Config.
	Timing TimingConfig `mapstructure:"timing" yaml:"timing"`

	// Token bounds per-client resource accounting (SANLK_MAX_RESOURCES).
	Token TokenConfig `mapstructure:"token" yaml:"token"`

	// Watchdog configures the external watchdog-multiplex daemon
	// connection.
	Watchdog WatchdogConfig `mapstructure:"watchdog" yaml:"watchdog"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LockspaceConfig names one lockspace region and its host-slot disk.
type LockspaceConfig struct {
	Name string     `mapstructure:"name" yaml:"name"`
	Disk DiskConfig `mapstructure:"disk" yaml:"disk"`
}

// DiskConfig names one replica disk and the byte offset its region
// starts at.
type DiskConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Offset int64  `mapstructure:"offset" yaml:"offset"`
}

// TimingConfig holds the timeout/renewal constants spec.md §5 names,
// shared by every lockspace and resource this host manages.
type TimingConfig struct {
	// IOTimeout bounds a single disk I/O call. Default 10s.
	IOTimeout time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`

	// HostIDRenewalSeconds is the delta-lease renewal period. Default 20s.
	HostIDRenewalSeconds time.Duration `mapstructure:"host_id_renewal_seconds" yaml:"host_id_renewal_seconds"`

	// RenewalWarnSeconds is how long a renewal may go unrenewed before
	// a warning is logged. Default 60s.
	RenewalWarnSeconds time.Duration `mapstructure:"renewal_warn_seconds" yaml:"renewal_warn_seconds"`

	// RenewalFailSeconds is how long a renewal may go unrenewed
	// before the lockspace is declared failing. Default 80s.
	RenewalFailSeconds time.Duration `mapstructure:"renewal_fail_seconds" yaml:"renewal_fail_seconds"`

	// HostDeadSeconds bounds how long an acquirer waits for a stable,
	// unchanged owner before treating it as dead. Default 8*IOTimeout.
	HostDeadSeconds time.Duration `mapstructure:"host_dead_seconds" yaml:"host_dead_seconds"`

	// AcquirePollInterval is the sleep between owner-liveness probes
	// during a resource acquire. Default 1s.
	AcquirePollInterval time.Duration `mapstructure:"acquire_poll_interval" yaml:"acquire_poll_interval"`

	// ScanInterval is how often each lockspace scans every host slot
	// to refresh host-status. Default 2s.
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
}

// TokenConfig bounds per-client resource accounting.
type TokenConfig struct {
	// MaxResourcesPerClient is SANLK_MAX_RESOURCES. Default 8.
	MaxResourcesPerClient int `mapstructure:"max_resources_per_client" yaml:"max_resources_per_client"`
}

// WatchdogConfig configures the connection to the external
// watchdog-multiplex daemon.
type WatchdogConfig struct {
	// Enabled controls whether a real watchdog.SocketClient is used;
	// when false, watchdog.NullClient disables hardware fencing.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// SocketPath is the watchdog-multiplex daemon's Unix domain socket.
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// LoggingConfig controls logging behavior, passed straight through to
// internal/logger.Init.
type LoggingConfig struct {
	// Level is the minimum log level to output: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// DeltaConfig projects TimingConfig into a pkg/deltalease.Config.
func (c *Config) DeltaConfig() deltalease.Config {
	return deltalease.Config{
		IOTimeout:            c.Timing.IOTimeout,
		HostIDRenewalSeconds: c.Timing.HostIDRenewalSeconds,
		RenewalWarnSeconds:   c.Timing.RenewalWarnSeconds,
		RenewalFailSeconds:   c.Timing.RenewalFailSeconds,
		HostDeadSeconds:      c.Timing.HostDeadSeconds,
		PollInterval:         c.Timing.AcquirePollInterval,
	}
}

// PaxosConfig projects TimingConfig into a pkg/paxoslease.Config.
func (c *Config) PaxosConfig() paxoslease.Config {
	return paxoslease.Config{
		IOTimeout:    c.Timing.IOTimeout,
		PollInterval: c.Timing.AcquirePollInterval,
	}
}

// TokenManagerConfig projects TokenConfig into a pkg/token.Config.
func (c *Config) TokenManagerConfig() token.Config {
	return token.Config{MaxResourcesPerClient: c.Token.MaxResourcesPerClient}
}

// LockspaceManagerConfig projects TimingConfig into a pkg/lockspace.Config.
func (c *Config) LockspaceManagerConfig() lockspace.Config {
	return lockspace.Config{
		Delta:        c.DeltaConfig(),
		ScanInterval: c.Timing.ScanInterval,
		MaxHosts:     c.MaxHosts,
	}
}
