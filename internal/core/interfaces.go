package core

import (
	"context"
	"time"
)

// Logger interface
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)
}

// Cache interface
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, duration time.Duration)
	Delete(key string)
	Stop()
}

// StorageInterface storage interface
type StorageInterface interface {
	SaveStats(stats *RequestStats) error
	LoadStats() (*RequestStats, error)
	Close() error
}

// SessionStore persists login sessions keyed by session ID.
// Load returns (nil, nil) when the session does not exist or has expired.
type SessionStore interface {
	Save(ctx context.Context, session *Session, ttl time.Duration) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MetricsCollector records gateway request outcomes.
type MetricsCollector interface {
	RecordRequest(success bool, duration time.Duration, model, client string)
	RecordUpstreamRequest(outcome string, duration time.Duration)
	RecordStreamChunk()
	RecordDecodeSkipped(count int)
	GetQPS() float64
}

// NopLogger empty logger implementation
type NopLogger struct{}

func (*NopLogger) Debug(format string, args ...any) {}
func (*NopLogger) Info(format string, args ...any)  {}
func (*NopLogger) Warn(format string, args ...any)  {}
func (*NopLogger) Error(format string, args ...any) {}
func (*NopLogger) Fatal(format string, args ...any) {}

// NopMetrics empty metrics collector implementation
type NopMetrics struct{}

func (*NopMetrics) RecordRequest(success bool, duration time.Duration, model, client string) {}
func (*NopMetrics) RecordUpstreamRequest(outcome string, duration time.Duration)             {}
func (*NopMetrics) RecordStreamChunk()                                                       {}
func (*NopMetrics) RecordDecodeSkipped(count int)                                            {}
func (*NopMetrics) GetQPS() float64                                                          { return 0 }
