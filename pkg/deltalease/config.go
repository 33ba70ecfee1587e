package deltalease

import "time"

// Config holds the timing constants governing one delta lease's
// acquire/renew/release behavior. All durations are wall-clock; the
// engine uses a Clock for testability rather than time.Now directly.
type Config struct {
	// IOTimeout bounds each read_sector/write_sector call.
	IOTimeout time.Duration

	// HostIDRenewalSeconds is the renewal period.
	HostIDRenewalSeconds time.Duration

	// RenewalWarnSeconds is how long a renewal may go unrenewed before
	// a warning is logged. Not specified by name in the reference
	// defaults beyond "emit a warning before declaring failure"; chosen
	// as 3/4 of RenewalFailSeconds so the warning reliably precedes the
	// failure declaration with room for one missed renewal cycle.
	RenewalWarnSeconds time.Duration

	// RenewalFailSeconds is how long a renewal may go unrenewed before
	// the lockspace is declared failing.
	RenewalFailSeconds time.Duration

	// HostDeadSeconds is how long an acquirer must see a stable,
	// unchanged owner before treating it as dead. Equal to
	// host_id_timeout = 8 * IOTimeout.
	HostDeadSeconds time.Duration

	// PollInterval is the sleep between re-reads while waiting out a
	// stale-but-not-yet-dead owner.
	PollInterval time.Duration
}

// DefaultConfig returns the reference timing defaults: io_timeout=10s,
// host_id_renewal_seconds=20s, renewal_fail_seconds=80s,
// host_dead_seconds=8*io_timeout=80s.
func DefaultConfig() Config {
	io := 10 * time.Second
	return Config{
		IOTimeout:            io,
		HostIDRenewalSeconds: 20 * time.Second,
		RenewalWarnSeconds:   60 * time.Second,
		RenewalFailSeconds:   80 * time.Second,
		HostDeadSeconds:      8 * io,
		PollInterval:         time.Second,
	}
}
