// Package budget tracks an external usage budget. The monitor polls an
// HTTPS endpoint, normalizes utilization to [0,1], and reports threshold
// crossings. It never makes control decisions itself; the engine reads it.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/log"
)

// Defaults for thresholds and cadence
const (
	DefaultWindDownThreshold = 0.80
	DefaultCriticalThreshold = 0.90
	DefaultResumeThreshold   = 0.50
	DefaultPollInterval      = 30 * time.Second

	resetRecheckInterval = 60 * time.Second
)

// Snapshot is one observation of the external budget
type Snapshot struct {
	Utilization float64   `json:"utilization"`
	ResetsAt    time.Time `json:"resets_at"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Config configures the monitor
type Config struct {
	Endpoint          string
	Token             string
	WindDownThreshold float64
	CriticalThreshold float64
	ResumeThreshold   float64
	PollInterval      time.Duration

	// OnWindDown and OnCritical fire on every poll where the threshold is
	// met, not once per crossing.
	OnWindDown func(Snapshot)
	OnCritical func(Snapshot)
}

// Monitor polls the usage endpoint and exposes the latest snapshot
type Monitor struct {
	cfg    Config
	client *http.Client
	logger *log.Logger

	mu       sync.RWMutex
	latest   *Snapshot
	disabled bool
}

// usagePayload matches the endpoint's wire format; utilization is 0-100.
type usagePayload struct {
	FiveHour struct {
		Utilization float64   `json:"utilization"`
		ResetsAt    time.Time `json:"resets_at"`
	} `json:"five_hour"`
	SevenDay struct {
		Utilization float64   `json:"utilization"`
		ResetsAt    time.Time `json:"resets_at"`
	} `json:"seven_day"`
}

// New creates a Monitor. A missing endpoint or token disables it: a
// disabled monitor never reports wind-down, so runs proceed ungated.
func New(cfg Config, logger *log.Logger) *Monitor {
	if cfg.WindDownThreshold == 0 {
		cfg.WindDownThreshold = DefaultWindDownThreshold
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = DefaultCriticalThreshold
	}
	if cfg.ResumeThreshold == 0 {
		cfg.ResumeThreshold = DefaultResumeThreshold
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	m := &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
	if cfg.Endpoint == "" || cfg.Token == "" {
		m.disabled = true
		logger.Warn("usage endpoint not configured; budget monitoring disabled")
	}
	return m
}

// Disabled reports whether the monitor has no endpoint to poll
func (m *Monitor) Disabled() bool { return m.disabled }

// Run polls until ctx is canceled. Poll failures are logged and skipped;
// the last good snapshot stays current.
func (m *Monitor) Run(ctx context.Context) {
	if m.disabled {
		return
	}
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	snap, err := m.Poll(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("usage poll failed")
		return
	}
	if snap.Utilization >= m.cfg.CriticalThreshold && m.cfg.OnCritical != nil {
		m.cfg.OnCritical(*snap)
	}
	if snap.Utilization >= m.cfg.WindDownThreshold && m.cfg.OnWindDown != nil {
		m.cfg.OnWindDown(*snap)
	}
}

// Poll fetches a fresh snapshot and caches it
func (m *Monitor) Poll(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.Endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUsageEndpoint, "build usage request", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUsageEndpoint, "query usage endpoint", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUsageEndpoint, "read usage response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrCodeUsageEndpoint, "usage endpoint returned %d", resp.StatusCode)
	}

	var payload usagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeUsageDecode, "decode usage response", err)
	}

	snap := &Snapshot{
		Utilization: payload.FiveHour.Utilization / 100.0,
		ResetsAt:    payload.FiveHour.ResetsAt,
		ObservedAt:  time.Now().UTC(),
	}
	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()
	return snap, nil
}

// Latest returns the most recent snapshot, or nil before the first poll
func (m *Monitor) Latest() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// IsWindDown reports whether utilization has reached the wind-down
// threshold. Exactly at threshold counts.
func (m *Monitor) IsWindDown() bool {
	snap := m.Latest()
	return snap != nil && snap.Utilization >= m.cfg.WindDownThreshold
}

// IsCritical reports whether utilization has reached the critical threshold
func (m *Monitor) IsCritical() bool {
	snap := m.Latest()
	return snap != nil && snap.Utilization >= m.cfg.CriticalThreshold
}

// WaitForReset blocks until the reported reset time has passed and a fresh
// poll shows utilization below the resume threshold. If the first wake-up
// still reads too high, it rechecks every 60s.
func (m *Monitor) WaitForReset(ctx context.Context) error {
	snap := m.Latest()
	if snap == nil {
		var err error
		if snap, err = m.Poll(ctx); err != nil {
			return err
		}
	}
	if until := time.Until(snap.ResetsAt); until > 0 {
		m.logger.Info("waiting for usage reset", "resets_at", snap.ResetsAt.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}
	for {
		fresh, err := m.Poll(ctx)
		if err != nil {
			return err
		}
		if fresh.Utilization < m.cfg.ResumeThreshold {
			return nil
		}
		m.logger.Info("usage still high after reset, rechecking",
			"utilization", fmt.Sprintf("%.0f%%", fresh.Utilization*100))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resetRecheckInterval):
		}
	}
}
