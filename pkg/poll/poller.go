// Package poll drives the time-spanning parts of the client: fixed-interval
// polling of asynchronous backend jobs and cron-based refresh sweeps. Polling
// holds no authoritative state; every tick re-fetches from the backend, so a
// restarted poller resumes cleanly from the server's view.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/config"
	"guardian_voting/pkg/utils"
)

// ErrTransientLimit reports that polling gave up after too many consecutive
// fetch failures. It is distinct from the job itself failing.
var ErrTransientLimit = errors.New("too many consecutive transient errors")

// StatusFetch retrieves the current job state once
type StatusFetch func(ctx context.Context) (*backend.JobStatus, error)

// Update is one poll observation. Either Status or Err is set; a transient
// fetch error means the job state is unknown for this tick, not failed.
type Update struct {
	Status  *backend.JobStatus
	Err     error
	Attempt int
}

// Poller polls an asynchronous job's status at a fixed interval until the job
// reaches a terminal state, the context ends, or consecutive transient errors
// exceed the configured cap.
type Poller struct {
	interval     time.Duration
	maxTransient int
	timeout      time.Duration
	logger       *zap.Logger
	metrics      *PollerMetrics
}

// PollerMetrics tracks polling activity
type PollerMetrics struct {
	WatchesStarted  int64
	TerminalReached int64
	TransientErrors int64
	Aborted         int64
	LastUpdate      time.Time
	mu              sync.RWMutex
}

// PollerStats is a point-in-time copy of the poller metrics
type PollerStats struct {
	WatchesStarted  int64
	TerminalReached int64
	TransientErrors int64
	Aborted         int64
	LastUpdate      time.Time
}

// NewPoller creates a poller from configuration
func NewPoller(cfg *config.PollConfig, logger *zap.Logger) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.MaxTransientErrors <= 0 {
		return nil, fmt.Errorf("max transient errors must be positive")
	}
	return &Poller{
		interval:     cfg.Interval,
		maxTransient: cfg.MaxTransientErrors,
		timeout:      cfg.Timeout,
		logger:       logger,
		metrics:      &PollerMetrics{},
	}, nil
}

// Watch polls fetch until the job is terminal. Every observation is published
// on the returned channel, which always holds the most recent update and is
// closed when polling stops.
func (p *Poller) Watch(ctx context.Context, fetch StatusFetch) <-chan Update {
	updates := make(chan Update, 1)

	p.metrics.mu.Lock()
	p.metrics.WatchesStarted++
	p.metrics.LastUpdate = time.Now()
	p.metrics.mu.Unlock()

	utils.SafeGo(p.logger, func() {
		defer close(updates)

		watchCtx := ctx
		var cancel context.CancelFunc
		if p.timeout > 0 {
			watchCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		consecutive := 0
		for attempt := 1; ; attempt++ {
			status, err := fetch(watchCtx)
			if err != nil {
				consecutive++
				p.countTransient()
				p.logger.Debug("Status fetch failed",
					zap.Int("attempt", attempt),
					zap.Int("consecutive", consecutive),
					zap.Error(err))

				if consecutive >= p.maxTransient {
					p.countAborted()
					publish(updates, Update{
						Err:     fmt.Errorf("%w: %v", ErrTransientLimit, err),
						Attempt: attempt,
					})
					return
				}
				publish(updates, Update{Err: err, Attempt: attempt})
			} else {
				consecutive = 0
				publish(updates, Update{Status: status, Attempt: attempt})

				if status.State.IsTerminal() {
					p.metrics.mu.Lock()
					p.metrics.TerminalReached++
					p.metrics.LastUpdate = time.Now()
					p.metrics.mu.Unlock()
					return
				}
			}

			select {
			case <-watchCtx.Done():
				p.countAborted()
				publish(updates, Update{Err: watchCtx.Err(), Attempt: attempt})
				return
			case <-ticker.C:
			}
		}
	})

	return updates
}

// WaitTerminal polls until the job is terminal and returns the final status.
// The error reports why polling stopped early: context end or the transient
// cap. A terminal `failed` job is a valid status, not an error here.
func (p *Poller) WaitTerminal(ctx context.Context, fetch StatusFetch) (*backend.JobStatus, error) {
	var (
		last    *backend.JobStatus
		lastErr error
	)

	for update := range p.Watch(ctx, fetch) {
		if update.Err != nil {
			lastErr = update.Err
			continue
		}
		last = update.Status
		if last.State.IsTerminal() {
			return last, nil
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("polling stopped before a terminal state")
	}
	return last, lastErr
}

// Stats returns a copy of the poller metrics
func (p *Poller) Stats() PollerStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PollerStats{
		WatchesStarted:  p.metrics.WatchesStarted,
		TerminalReached: p.metrics.TerminalReached,
		TransientErrors: p.metrics.TransientErrors,
		Aborted:         p.metrics.Aborted,
		LastUpdate:      p.metrics.LastUpdate,
	}
}

// Helper functions

// publish keeps only the most recent update when the consumer lags
func publish(updates chan Update, u Update) {
	for {
		select {
		case updates <- u:
			return
		default:
			select {
			case <-updates:
			default:
			}
		}
	}
}

func (p *Poller) countTransient() {
	p.metrics.mu.Lock()
	p.metrics.TransientErrors++
	p.metrics.LastUpdate = time.Now()
	p.metrics.mu.Unlock()
}

func (p *Poller) countAborted() {
	p.metrics.mu.Lock()
	p.metrics.Aborted++
	p.metrics.LastUpdate = time.Now()
	p.metrics.mu.Unlock()
}
