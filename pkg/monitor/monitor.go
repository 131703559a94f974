// Package monitor reports client-side write failures to Sentry.
package monitor

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/feedsync/config"
)

// Init configures the Sentry client. With an empty DSN the SDK stays
// disabled and every capture is a no-op. The returned func flushes.
func Init(cfg config.SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureWriteFailure records a rolled-back optimistic write.
func CaptureWriteFailure(err error, op string, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("op", op)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetLevel(sentry.LevelWarning)
		sentry.CaptureException(err)
	})
}
