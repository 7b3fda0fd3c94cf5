// Package election maintains the client's view of elections: a read-through
// cache over the backend and the eligibility decision for one voter.
package election

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"guardian_voting/pkg/data"
)

// Fetcher retrieves elections from the backend
type Fetcher interface {
	GetElection(ctx context.Context, electionID string) (*data.Election, error)
}

// Manager is a read-through election cache. Entries refresh only on miss or
// explicit request; temporal status is always derived at read time, so a
// cached election going from Active to Ended needs no invalidation.
type Manager struct {
	fetcher Fetcher
	repo    data.Repository
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]*data.Election
}

// NewManager creates an election cache backed by a fetcher and the local store
func NewManager(fetcher Fetcher, repo data.Repository, logger *zap.Logger) *Manager {
	return &Manager{
		fetcher: fetcher,
		repo:    repo,
		logger:  logger,
		cache:   make(map[string]*data.Election),
	}
}

// Get returns the cached election, fetching it on a miss
func (m *Manager) Get(ctx context.Context, electionID string) (*data.Election, error) {
	m.mu.RLock()
	election, ok := m.cache[electionID]
	m.mu.RUnlock()
	if ok {
		return election, nil
	}

	return m.Refresh(ctx, electionID)
}

// Refresh fetches the election from the backend, replacing any cached copy
func (m *Manager) Refresh(ctx context.Context, electionID string) (*data.Election, error) {
	election, err := m.fetcher.GetElection(ctx, electionID)
	if err != nil {
		return nil, fmt.Errorf("refreshing election %s: %w", electionID, err)
	}

	m.mu.Lock()
	m.cache[electionID] = election
	m.mu.Unlock()

	// The local store is a convenience copy; a write failure must not hide a
	// successful fetch
	if err := m.repo.SaveElection(ctx, election); err != nil {
		m.logger.Warn("Persisting election snapshot failed",
			zap.String("electionId", electionID),
			zap.Error(err))
	}

	m.logger.Debug("Election refreshed",
		zap.String("electionId", electionID),
		zap.String("phase", string(election.Phase)))
	return election, nil
}

// RefreshAll re-fetches every cached election. Used by the refresh monitor.
func (m *Manager) RefreshAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.cache))
	for id := range m.cache {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var failed int
	var lastErr error
	for _, id := range ids {
		if _, err := m.Refresh(ctx, id); err != nil {
			failed++
			lastErr = err
		}
	}

	if failed > 0 {
		return fmt.Errorf("refreshing %d of %d elections failed: %w", failed, len(ids), lastErr)
	}
	return nil
}

// Invalidate drops the cached copy for an election
func (m *Manager) Invalidate(electionID string) {
	m.mu.Lock()
	delete(m.cache, electionID)
	m.mu.Unlock()
}

// Cached returns the IDs of all currently cached elections
func (m *Manager) Cached() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.cache))
	for id := range m.cache {
		ids = append(ids, id)
	}
	return ids
}
