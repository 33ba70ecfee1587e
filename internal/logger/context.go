package logger

import (
	"context"
	"log/slog"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context that a caller can
// attach to a context.Context with WithContext, so that log lines for a
// given acquire/renew/release carry its coordinates. The lockspace
// renewal loop and the Paxos lease engine do not attach one.
type LogContext struct {
	Lockspace  string
	Resource   string
	HostID     uint64
	Generation uint64
	LVer       uint64
	Mbal       uint64
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a lockspace-scoped operation.
func NewLogContext(lockspace string) *LogContext {
	return &LogContext{
		Lockspace: lockspace,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithResource returns a copy with the resource name set
func (lc *LogContext) WithResource(resource string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Resource = resource
	}
	return clone
}

// WithHost returns a copy with host_id and generation set
func (lc *LogContext) WithHost(hostID, generation uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.HostID = hostID
		clone.Generation = generation
	}
	return clone
}

// WithBallot returns a copy with lver and mbal set
func (lc *LogContext) WithBallot(lver, mbal uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.LVer = lver
		clone.Mbal = mbal
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}

// appendContextFields prepends the LogContext fields (if present on
// ctx) to the given structured log args.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := make([]any, 0, 10+len(args))
	if lc.Lockspace != "" {
		fields = append(fields, slog.String(KeyLockspace, lc.Lockspace))
	}
	if lc.Resource != "" {
		fields = append(fields, slog.String(KeyResource, lc.Resource))
	}
	if lc.HostID != 0 {
		fields = append(fields, slog.Uint64(KeyHostID, lc.HostID))
	}
	if lc.Generation != 0 {
		fields = append(fields, slog.Uint64(KeyGeneration, lc.Generation))
	}
	if lc.LVer != 0 {
		fields = append(fields, slog.Uint64(KeyLVer, lc.LVer))
	}
	if lc.Mbal != 0 {
		fields = append(fields, slog.Uint64(KeyMbal, lc.Mbal))
	}
	fields = append(fields, args...)
	return fields
}
