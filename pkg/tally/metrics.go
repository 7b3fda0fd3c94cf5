package tally

import (
	"sync"
	"time"
)

// Metrics tracks submission and combination activity
type Metrics struct {
	submissionsAccepted int
	submissionsRejected int
	combinesStarted     int
	combinesCompleted   int
	combinesFailed      int
	lastUpdate          time.Time
	mu                  sync.RWMutex
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		lastUpdate: time.Now(),
	}
}

// IncrementSubmissionAccepted increments the accepted submission counter
func (m *Metrics) IncrementSubmissionAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissionsAccepted++
	m.lastUpdate = time.Now()
}

// IncrementSubmissionRejected increments the rejected submission counter
func (m *Metrics) IncrementSubmissionRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissionsRejected++
	m.lastUpdate = time.Now()
}

// IncrementCombineStarted increments the started combination counter
func (m *Metrics) IncrementCombineStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.combinesStarted++
	m.lastUpdate = time.Now()
}

// IncrementCombineCompleted increments the completed combination counter
func (m *Metrics) IncrementCombineCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.combinesCompleted++
	m.lastUpdate = time.Now()
}

// IncrementCombineFailed increments the failed combination counter
func (m *Metrics) IncrementCombineFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.combinesFailed++
	m.lastUpdate = time.Now()
}

// Stats is a point-in-time copy of the tally metrics
type Stats struct {
	SubmissionsAccepted int       `json:"submissions_accepted"`
	SubmissionsRejected int       `json:"submissions_rejected"`
	CombinesStarted     int       `json:"combines_started"`
	CombinesCompleted   int       `json:"combines_completed"`
	CombinesFailed      int       `json:"combines_failed"`
	LastUpdate          time.Time `json:"last_update"`
}

// GetStats returns current metrics
func (m *Metrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		SubmissionsAccepted: m.submissionsAccepted,
		SubmissionsRejected: m.submissionsRejected,
		CombinesStarted:     m.combinesStarted,
		CombinesCompleted:   m.combinesCompleted,
		CombinesFailed:      m.combinesFailed,
		LastUpdate:          m.lastUpdate,
	}
}
