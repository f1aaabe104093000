// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. A panic inside fn is recovered and logged
// under name instead of crashing the process.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}

// Detached runs fn in a recovered goroutine with a fresh context bounded by
// timeout. It is meant for work that must outlive the request that triggered
// it, such as persisting a security event after the response has been sent.
func Detached(name string, timeout time.Duration, fn func(ctx context.Context)) {
	Go(name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	})
}
