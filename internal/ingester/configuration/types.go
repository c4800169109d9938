package configuration

import (
	"time"

	"github.com/go-redis/redis"
)

type ApplicationConfig struct {
	// Database configuration
	Redis redis.UniversalOptions
	// Port the prometheus metrics endpoint listens on
	MetricsPort uint16
	// Upstream Patchwork instance
	Upstream UpstreamConfig
	// Scheduled patch fetches
	HourlyFetch PatchFetchScheduleConfig
	DailyFetch  PatchFetchScheduleConfig
	// Scheduled discussion reconciliation
	Reconciliation ReconciliationScheduleConfig
	// Retry/timeout policy applied to every scheduled invocation
	Invocation InvocationConfig
	// Discussion dispatch worker pool
	Dispatch DispatchConfig
	// Dead-letter channel
	DeadLetter DeadLetterConfig
	// Safety ceiling on pages per patch-fetch invocation
	MaxPagesPerInvocation int
}

type UpstreamConfig struct {
	BaseUrl        string
	Project        string
	RequestTimeout time.Duration
}

type PatchFetchScheduleConfig struct {
	Enabled          bool
	Interval         time.Duration
	Page             int
	PageSize         int
	ProcessAllPages  bool
	FetchDiscussions bool
}

type ReconciliationScheduleConfig struct {
	Enabled        bool
	Interval       time.Duration
	DaysToLookBack int
	Limit          int
}

type InvocationConfig struct {
	// Bounded execution timeout per attempt
	Timeout time.Duration
	// Total attempts before the payload is dead-lettered
	MaxAttempts uint
	// Base delay between attempts; grows exponentially
	RetryDelay time.Duration
}

type DispatchConfig struct {
	Workers      int
	PollInterval time.Duration
}

type DeadLetterConfig struct {
	// How long undelivered payloads are retained for manual replay
	Retention time.Duration
}
