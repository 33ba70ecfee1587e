package logger

import "log/slog"

// Field key constants used across structured log calls.
const (
	KeyLockspace  = "lockspace"
	KeyResource   = "resource"
	KeyHostID     = "host_id"
	KeyGeneration = "generation"
	KeyLVer       = "lver"
	KeyMbal       = "mbal"
	KeyDisk       = "disk"
	KeyOp         = "op"
	KeyError      = "error"
	KeyDuration   = "duration_ms"
)

// Lockspace returns a slog.Attr for the lockspace name.
func Lockspace(name string) slog.Attr {
	return slog.String(KeyLockspace, name)
}

// Resource returns a slog.Attr for the resource name.
func Resource(name string) slog.Attr {
	return slog.String(KeyResource, name)
}

// HostID returns a slog.Attr for a host_id.
func HostID(id uint64) slog.Attr {
	return slog.Uint64(KeyHostID, id)
}

// LVer returns a slog.Attr for a resource leader's lver.
func LVer(v uint64) slog.Attr {
	return slog.Uint64(KeyLVer, v)
}

// Mbal returns a slog.Attr for a ballot number.
func Mbal(v uint64) slog.Attr {
	return slog.Uint64(KeyMbal, v)
}

// Disk returns a slog.Attr for a replica disk path.
func Disk(path string) slog.Attr {
	return slog.String(KeyDisk, path)
}

// Op returns a slog.Attr for the operation name (acquire, renew, release, ...).
func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

// Err returns a slog.Attr for an error, or an empty Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration already in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDuration, ms)
}
