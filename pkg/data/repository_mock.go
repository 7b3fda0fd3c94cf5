package data

import (
	"context"
	"sort"
	"sync"
)

// MockRepository is an in-memory Repository used in tests and by the agent
// when no local store is configured.
type MockRepository struct {
	mu        sync.RWMutex
	elections map[string]*Election
	guardians map[string]*Guardian
	receipts  map[string]*VoteReceipt
	audit     []*AuditEntry
}

// Ensure MockRepository implements the Repository interface
var _ Repository = (*MockRepository)(nil)

func NewMockRepository() *MockRepository {
	return &MockRepository{
		elections: make(map[string]*Election),
		guardians: make(map[string]*Guardian),
		receipts:  make(map[string]*VoteReceipt),
	}
}

// Election cache operations

func (m *MockRepository) SaveElection(ctx context.Context, election *Election) error {
	if err := election.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *election
	m.elections[election.ID] = &copied
	return nil
}

func (m *MockRepository) GetElection(ctx context.Context, id string) (*Election, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	election, ok := m.elections[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *election
	return &copied, nil
}

func (m *MockRepository) ListElections(ctx context.Context, filter ElectionFilter) ([]*Election, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []*Election
	for _, election := range m.elections {
		if filter.Phase != "" && election.Phase != filter.Phase {
			continue
		}
		if filter.EndsBefore != nil && election.EndTime.After(*filter.EndsBefore) {
			continue
		}
		if filter.EndsAfter != nil && election.EndTime.Before(*filter.EndsAfter) {
			continue
		}
		copied := *election
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].EndTime.After(results[j].EndTime)
	})
	return paginate(results, filter.Limit, filter.Offset), nil
}

func (m *MockRepository) DeleteElection(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elections[id]; !ok {
		return ErrNotFound
	}
	delete(m.elections, id)
	return nil
}

// Guardian snapshot operations

func (m *MockRepository) SaveGuardian(ctx context.Context, guardian *Guardian) error {
	if guardian.ElectionID == "" || guardian.Email == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *guardian
	m.guardians[guardian.ElectionID+"/"+guardian.Email] = &copied
	return nil
}

func (m *MockRepository) GetGuardian(ctx context.Context, electionID, email string) (*Guardian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	guardian, ok := m.guardians[electionID+"/"+email]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *guardian
	return &copied, nil
}

func (m *MockRepository) ListGuardians(ctx context.Context, electionID string) ([]*Guardian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var guardians []*Guardian
	for _, guardian := range m.guardians {
		if guardian.ElectionID != electionID {
			continue
		}
		copied := *guardian
		guardians = append(guardians, &copied)
	}
	sort.Slice(guardians, func(i, j int) bool {
		return guardians[i].Sequence < guardians[j].Sequence
	})
	return guardians, nil
}

// Vote receipt operations

func (m *MockRepository) SaveVoteReceipt(ctx context.Context, receipt *VoteReceipt) error {
	if receipt.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := receipt.ElectionID + "/" + receipt.TrackingCode
	if _, ok := m.receipts[key]; ok {
		return ErrDuplicate
	}
	copied := *receipt
	m.receipts[key] = &copied
	return nil
}

func (m *MockRepository) GetVoteReceipt(ctx context.Context, electionID, trackingCode string) (*VoteReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[electionID+"/"+trackingCode]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *receipt
	return &copied, nil
}

func (m *MockRepository) ListVoteReceipts(ctx context.Context, electionID string) ([]*VoteReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var receipts []*VoteReceipt
	for _, receipt := range m.receipts {
		if receipt.ElectionID != electionID {
			continue
		}
		copied := *receipt
		receipts = append(receipts, &copied)
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// Audit log operations

func (m *MockRepository) SaveAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.audit = append(m.audit, &copied)
	return nil
}

func (m *MockRepository) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []*AuditEntry
	for _, entry := range m.audit {
		if filter.ElectionID != "" && entry.ElectionID != filter.ElectionID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.FromTime != nil && entry.CreatedAt.Before(*filter.FromTime) {
			continue
		}
		if filter.ToTime != nil && entry.CreatedAt.After(*filter.ToTime) {
			continue
		}
		copied := *entry
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return paginate(entries, filter.Limit, filter.Offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
