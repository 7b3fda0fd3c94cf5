package ballot

import (
	"sync"
	"time"
)

// Metrics tracks ballot workflow activity
type Metrics struct {
	ballotsEncrypted    int
	ballotsCast         int
	ballotsChallenged   int
	challengeMismatches int
	rejectedAttempts    int
	failedOperations    int
	lastUpdate          time.Time
	mu                  sync.RWMutex
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		lastUpdate: time.Now(),
	}
}

// IncrementEncrypted increments the encrypted ballot counter
func (m *Metrics) IncrementEncrypted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ballotsEncrypted++
	m.lastUpdate = time.Now()
}

// IncrementCast increments the cast ballot counter
func (m *Metrics) IncrementCast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ballotsCast++
	m.lastUpdate = time.Now()
}

// IncrementChallenged increments the challenged ballot counter
func (m *Metrics) IncrementChallenged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ballotsChallenged++
	m.lastUpdate = time.Now()
}

// IncrementMismatch increments the challenge mismatch counter
func (m *Metrics) IncrementMismatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengeMismatches++
	m.lastUpdate = time.Now()
}

// IncrementRejected increments the rejected attempt counter
func (m *Metrics) IncrementRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectedAttempts++
	m.lastUpdate = time.Now()
}

// IncrementFailed increments the failed operation counter
func (m *Metrics) IncrementFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedOperations++
	m.lastUpdate = time.Now()
}

// Stats is a point-in-time copy of the workflow metrics
type Stats struct {
	BallotsEncrypted    int       `json:"ballots_encrypted"`
	BallotsCast         int       `json:"ballots_cast"`
	BallotsChallenged   int       `json:"ballots_challenged"`
	ChallengeMismatches int       `json:"challenge_mismatches"`
	RejectedAttempts    int       `json:"rejected_attempts"`
	FailedOperations    int       `json:"failed_operations"`
	LastUpdate          time.Time `json:"last_update"`
}

// GetStats returns current metrics
func (m *Metrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		BallotsEncrypted:    m.ballotsEncrypted,
		BallotsCast:         m.ballotsCast,
		BallotsChallenged:   m.ballotsChallenged,
		ChallengeMismatches: m.challengeMismatches,
		RejectedAttempts:    m.rejectedAttempts,
		FailedOperations:    m.failedOperations,
		LastUpdate:          m.lastUpdate,
	}
}
