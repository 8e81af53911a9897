// Package monitor watches the service log file for error bursts and raises
// dashboard alerts when the rate crosses a threshold.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"bookrec/internal/util"
	"bookrec/pkg/domain"
)

var errorPattern = regexp.MustCompile(`(?i)\bERROR\b|\bCRITICAL\b|\bpanic\b`)

const (
	errorLookback    = 5 * time.Minute
	alertSuppression = 10 * time.Minute
	scanTailLines    = 1000
)

// AlertSink receives alerts raised by the monitor.
type AlertSink interface {
	SaveAlert(domain.Alert) error
}

// Config tunes the monitor loop.
type Config struct {
	LogPath        string
	Interval       time.Duration // default 60s
	ErrorThreshold int           // errors per lookback window, default 50
}

// Stats is a snapshot of monitor health for the dashboard.
type Stats struct {
	Running      bool       `json:"running"`
	Interval     string     `json:"interval"`
	ChecksRun    int64      `json:"checks_run"`
	AlertsRaised int64      `json:"alerts_raised"`
	LastCheck    *time.Time `json:"last_check,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Monitor periodically scans the log tail and raises threshold alerts.
type Monitor struct {
	sink      AlertSink
	logPath   string
	interval  time.Duration
	threshold int

	mu            sync.Mutex
	running       bool
	checksRun     int64
	alertsRaised  int64
	lastCheck     time.Time
	lastErr       string
	lastAlertTime time.Time

	now func() time.Time
}

// New builds a monitor; zero config fields get defaults.
func New(sink AlertSink, cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	threshold := cfg.ErrorThreshold
	if threshold <= 0 {
		threshold = 50
	}
	return &Monitor{
		sink:      sink,
		logPath:   cfg.LogPath,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
}

// Run loops until the context is cancelled. Check failures are logged and
// never stop the loop.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce()
		}
	}
}

// CheckOnce performs one scan-and-alert cycle.
func (m *Monitor) CheckOnce() {
	now := m.now()
	count, err := m.countRecentErrors(now)

	m.mu.Lock()
	m.checksRun++
	m.lastCheck = now
	if err != nil {
		m.lastErr = err.Error()
		m.mu.Unlock()
		slog.Warn("monitor check failed", "err", err)
		return
	}
	m.lastErr = ""
	shouldAlert := count >= m.threshold && now.Sub(m.lastAlertTime) > alertSuppression
	if shouldAlert {
		m.lastAlertTime = now
		m.alertsRaised++
	}
	threshold := m.threshold
	m.mu.Unlock()

	if !shouldAlert {
		return
	}
	severity := domain.SeverityWarning
	if count >= threshold*3/2 {
		severity = domain.SeverityCritical
	}
	alert := domain.Alert{
		ID:       util.NewID(),
		Severity: severity,
		Source:   "monitor",
		Message:  fmt.Sprintf("High error rate detected: %d errors in last 5 minutes", count),
		Context: map[string]string{
			"error_count": strconv.Itoa(count),
			"threshold":   strconv.Itoa(threshold),
		},
		CreatedAt: now.UTC(),
	}
	if err := m.sink.SaveAlert(alert); err != nil {
		slog.Warn("monitor failed to store alert", "err", err)
		return
	}
	slog.Warn("monitor raised alert", "severity", string(severity), "error_count", count)
}

// Stats returns a snapshot for the dashboard monitor endpoint.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Running:      m.running,
		Interval:     m.interval.String(),
		ChecksRun:    m.checksRun,
		AlertsRaised: m.alertsRaised,
		LastError:    m.lastErr,
	}
	if !m.lastCheck.IsZero() {
		t := m.lastCheck
		stats.LastCheck = &t
	}
	return stats
}

// countRecentErrors counts ERROR/CRITICAL lines within the lookback window
// in the log tail. Lines with unparseable timestamps still count; better a
// false positive than a silent outage.
func (m *Monitor) countRecentErrors(now time.Time) (int, error) {
	lines, err := TailLines(m.logPath, scanTailLines)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-errorLookback)
	count := 0
	for _, line := range lines {
		if !errorPattern.MatchString(line) {
			continue
		}
		entry, ok := ParseLogLine(line)
		if !ok {
			continue
		}
		ts, err := time.ParseInLocation(util.LogTimeFormat, entry.Timestamp, now.Location())
		if err != nil || !ts.Before(cutoff) {
			count++
		}
	}
	return count, nil
}
