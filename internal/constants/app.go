package constants

import (
	"time"
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// 1000 events is generous for typical progress throughput
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Queue synchronization
const (
	// DefaultPollInterval - interval between authoritative snapshot fetches (5s)
	// Policy knob only; correctness does not depend on it
	DefaultPollInterval = 5 * time.Second

	// MinPollInterval / MaxPollInterval bound the configurable poll interval
	MinPollInterval = 1 * time.Second
	MaxPollInterval = 1 * time.Hour

	// StreamRetryInitialDelay - base delay for progress stream resubscription
	StreamRetryInitialDelay = 500 * time.Millisecond

	// StreamRetryMaxDelay - cap for progress stream resubscription backoff
	StreamRetryMaxDelay = 30 * time.Second
)

// Engine transports
const (
	// DefaultBackendTimeout - per-command timeout applied by transports (10s)
	DefaultBackendTimeout = 10 * time.Second

	// DefaultHTTPListen - default bind address for the HTTP engine server
	DefaultHTTPListen = "127.0.0.1:7490"

	// HTTPRetryMax - retries for idempotent HTTP engine calls
	HTTPRetryMax = 3

	// HTTPRetryWaitMin / HTTPRetryWaitMax bound retryablehttp backoff
	HTTPRetryWaitMin = 200 * time.Millisecond
	HTTPRetryWaitMax = 2 * time.Second

	// IPCMaxMessageSize - largest accepted newline-delimited JSON message (4 MiB)
	IPCMaxMessageSize = 4 * 1024 * 1024
)

// Simulated engine
const (
	// DefaultMaxConcurrent - tasks per kind that move bytes at the same time
	DefaultMaxConcurrent = 3

	// MaxMaxConcurrent - upper bound for the engine concurrency setting
	MaxMaxConcurrent = 16

	// DefaultEngineRate - simulated transfer rate per task (4 MiB/s)
	DefaultEngineRate = 4 * 1024 * 1024

	// DefaultEngineTick - simulated engine step interval
	DefaultEngineTick = 200 * time.Millisecond

	// SpeedSmoothingAlpha - EMA weight given to the newest speed sample
	SpeedSmoothingAlpha = 0.25
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar refresh (250ms)
	// Balances responsiveness with performance
	ProgressUpdateInterval = 250 * time.Millisecond
)
