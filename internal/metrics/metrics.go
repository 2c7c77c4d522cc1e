// Package metrics keeps in-process counters for a single fetch run.
// The bars client increments them as it pages, retries and throttles, and the
// CLI logs a snapshot when the run ends. All methods are safe on a nil
// *FetchMetrics so callers that do not care can pass nothing.
package metrics

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metric names as they appear in snapshots and log lines
const (
	HTTPRequestsTotal       = "http_requests_total"
	HTTP429Total            = "http_429_total"
	RetriesTotal            = "retries_total"
	ProactiveThrottlesTotal = "proactive_throttles_total"
	PagesTotal              = "pages_total"
	BarsTotal               = "bars_total"
	SleepSecondsTotal       = "sleep_seconds_total"
)

// FetchMetrics counts what the bars client did during one run.
type FetchMetrics struct {
	startTime time.Time

	httpRequests       atomic.Int64
	http429            atomic.Int64
	retries            atomic.Int64
	proactiveThrottles atomic.Int64
	pages              atomic.Int64
	bars               atomic.Int64
	sleepNanos         atomic.Int64
}

// Snapshot is a point-in-time copy of FetchMetrics.
type Snapshot struct {
	Timestamp          time.Time     `json:"timestamp"`
	Uptime             time.Duration `json:"uptime"`
	HTTPRequests       int64         `json:"http_requests_total"`
	HTTP429            int64         `json:"http_429_total"`
	Retries            int64         `json:"retries_total"`
	ProactiveThrottles int64         `json:"proactive_throttles_total"`
	Pages              int64         `json:"pages_total"`
	Bars               int64         `json:"bars_total"`
	Sleep              time.Duration `json:"sleep_total"`
}

// NewFetchMetrics creates an empty counter set.
func NewFetchMetrics() *FetchMetrics {
	return &FetchMetrics{startTime: time.Now()}
}

// RecordRequest counts one HTTP attempt and whether it drew a 429.
func (m *FetchMetrics) RecordRequest(statusCode int) {
	if m == nil {
		return
	}
	m.httpRequests.Add(1)
	if statusCode == 429 {
		m.http429.Add(1)
	}
}

// RecordRetry counts one 429 retry and the time slept before it.
func (m *FetchMetrics) RecordRetry(sleep time.Duration) {
	if m == nil {
		return
	}
	m.retries.Add(1)
	m.sleepNanos.Add(int64(sleep))
}

// RecordProactiveThrottle counts one pre-request wait and its length.
func (m *FetchMetrics) RecordProactiveThrottle(sleep time.Duration) {
	if m == nil {
		return
	}
	m.proactiveThrottles.Add(1)
	m.sleepNanos.Add(int64(sleep))
}

// RecordPage counts one successfully parsed page carrying bars bars.
func (m *FetchMetrics) RecordPage(bars int) {
	if m == nil {
		return
	}
	m.pages.Add(1)
	m.bars.Add(int64(bars))
}

// Snapshot returns the current counter values.
func (m *FetchMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Timestamp: time.Now()}
	}
	now := time.Now()
	return Snapshot{
		Timestamp:          now,
		Uptime:             now.Sub(m.startTime),
		HTTPRequests:       m.httpRequests.Load(),
		HTTP429:            m.http429.Load(),
		Retries:            m.retries.Load(),
		ProactiveThrottles: m.proactiveThrottles.Load(),
		Pages:              m.pages.Load(),
		Bars:               m.bars.Load(),
		Sleep:              time.Duration(m.sleepNanos.Load()),
	}
}

// LogValue renders the snapshot as a slog group.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64(HTTPRequestsTotal, s.HTTPRequests),
		slog.Int64(HTTP429Total, s.HTTP429),
		slog.Int64(RetriesTotal, s.Retries),
		slog.Int64(ProactiveThrottlesTotal, s.ProactiveThrottles),
		slog.Int64(PagesTotal, s.Pages),
		slog.Int64(BarsTotal, s.Bars),
		slog.Float64(SleepSecondsTotal, s.Sleep.Seconds()),
		slog.Duration("uptime", s.Uptime),
	)
}
