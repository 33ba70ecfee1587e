package diskio

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/pkg/sanerr"
)

// bounded runs fn on its own goroutine and waits up to timeout (or
// until ctx is cancelled) for it to finish. buf is whatever buffer fn
// reads from or writes into; on a timeout, buf is handed to ar so it
// stays alive until fn eventually returns, and bounded itself returns
// ErrIOTimeout immediately without waiting further.
func bounded(ctx context.Context, op string, ar *arena, buf []byte, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return sanerr.Wrap(op, sanerr.ErrIOFailed, err)
		}
		return nil
	case <-timer.C:
		id := ar.hold(buf)
		go func() {
			<-done
			ar.release(id)
		}()
		return sanerr.New(op, sanerr.ErrIOTimeout)
	case <-ctx.Done():
		id := ar.hold(buf)
		go func() {
			<-done
			ar.release(id)
		}()
		return sanerr.Wrap(op, sanerr.ErrIOTimeout, ctx.Err())
	}
}
