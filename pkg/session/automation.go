package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ActivityChecker is a local automation heuristic: a human takes time between
// ballot requests, a script does not. Every call issues a fresh opaque signal
// for the backend's own bot assessment; a result is never cached or reused.
type ActivityChecker struct {
	minInterval time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	lastSeen time.Time
}

// NewActivityChecker creates an automation checker. minInterval is the
// shortest believable gap between two human ballot requests.
func NewActivityChecker(minInterval time.Duration, logger *zap.Logger) *ActivityChecker {
	return &ActivityChecker{
		minInterval: minInterval,
		logger:      logger,
	}
}

// Check issues a fresh signal and judges the current request cadence
func (c *ActivityChecker) Check(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	default:
	}

	signal, err := newSignal()
	if err != nil {
		return "", false, fmt.Errorf("generating activity signal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	automated := !c.lastSeen.IsZero() && now.Sub(c.lastSeen) < c.minInterval
	c.lastSeen = now

	if automated {
		c.logger.Warn("Request cadence below human threshold",
			zap.Duration("minInterval", c.minInterval))
	}
	return signal, automated, nil
}

func newSignal() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
