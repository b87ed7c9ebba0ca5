// Package metrics defines the observer interface core components report
// through, with a Prometheus-backed implementation and a no-op for tests.
package metrics

import "time"

// Observer receives counters from core components. Implementations must
// be safe for concurrent use and must never block the caller.
type Observer interface {
	ConversionCompleted(format string, duration time.Duration, success bool)
	CacheHit()
	CacheMiss()
	CacheEviction(count int)
	JobCreated()
	JobFinished(status string)
	TaskFinished(state string)
	EventDropped()
	RateLimited()
}

// Noop discards all observations.
type Noop struct{}

func (Noop) ConversionCompleted(string, time.Duration, bool) {}
func (Noop) CacheHit()                                       {}
func (Noop) CacheMiss()                                      {}
func (Noop) CacheEviction(int)                               {}
func (Noop) JobCreated()                                     {}
func (Noop) JobFinished(string)                              {}
func (Noop) TaskFinished(string)                             {}
func (Noop) EventDropped()                                   {}
func (Noop) RateLimited()                                    {}
