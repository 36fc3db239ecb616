package cache

import (
	"context"
	"time"
)

// ReportCache holds folded report results between ledger changes. Values are
// JSON-encoded so any report type can be stored.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
