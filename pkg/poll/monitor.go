// pkg/poll/monitor.go
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"guardian_voting/pkg/config"
)

// EntryStatus represents the current state of a recurring refresh entry
type EntryStatus string

const (
	EntryStatusPending  EntryStatus = "pending"
	EntryStatusRunning  EntryStatus = "running"
	EntryStatusComplete EntryStatus = "complete"
	EntryStatusFailed   EntryStatus = "failed"
)

// Entry is one recurring refresh job, such as an election cache refresh or a
// guardian status sweep
type Entry struct {
	ID       string
	Name     string
	Schedule string
	LastRun  time.Time
	NextRun  time.Time
	Status   EntryStatus
	Error    error
	CronID   cron.EntryID
	RunFn    func(context.Context) error
}

// Monitor runs recurring refresh entries on cron schedules with seconds
// granularity
type Monitor struct {
	cron       *cron.Cron
	entries    map[string]*Entry
	config     *config.MonitorConfig
	logger     *zap.Logger
	metrics    *MonitorMetrics
	workerPool chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

// MonitorMetrics tracks refresh activity
type MonitorMetrics struct {
	EntriesScheduled int64
	RunsCompleted    int64
	RunsFailed       int64
	LastUpdate       time.Time
	mu               sync.RWMutex
}

// MonitorStats is a point-in-time copy of the monitor metrics
type MonitorStats struct {
	EntriesScheduled int64
	RunsCompleted    int64
	RunsFailed       int64
	LastUpdate       time.Time
}

// Schedules include a seconds field
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewMonitor creates a monitor instance
func NewMonitor(cfg *config.MonitorConfig, logger *zap.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		cron:       cron.New(cron.WithSeconds()),
		entries:    make(map[string]*Entry),
		config:     cfg,
		logger:     logger,
		metrics:    &MonitorMetrics{},
		workerPool: make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins running scheduled entries
func (m *Monitor) Start() error {
	m.logger.Info("Starting refresh monitor",
		zap.Int("maxConcurrent", m.config.MaxConcurrent))

	m.cron.Start()
	return nil
}

// Stop gracefully shuts down the monitor
func (m *Monitor) Stop() error {
	m.logger.Info("Stopping refresh monitor")

	m.cancel()

	// Stop accepting new runs and wait for active ones
	ctx := m.cron.Stop()
	<-ctx.Done()

	return nil
}

// AddEntry schedules a new recurring entry
func (m *Monitor) AddEntry(entry *Entry) error {
	if err := m.validateEntry(entry); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.ID]; exists {
		return fmt.Errorf("entry with ID %s already exists", entry.ID)
	}

	// Runs mutate the stored copy, never the caller's struct
	stored := *entry
	cronID, err := m.cron.AddFunc(stored.Schedule, func() {
		m.executeEntry(m.ctx, &stored)
	})
	if err != nil {
		return fmt.Errorf("scheduling entry: %w", err)
	}

	stored.CronID = cronID
	stored.Status = EntryStatusPending
	stored.NextRun = m.cron.Entry(cronID).Next
	m.entries[stored.ID] = &stored

	m.metrics.mu.Lock()
	m.metrics.EntriesScheduled++
	m.metrics.LastUpdate = time.Now()
	m.metrics.mu.Unlock()

	m.logger.Info("Refresh entry scheduled",
		zap.String("entryID", stored.ID),
		zap.String("schedule", stored.Schedule),
		zap.Time("nextRun", stored.NextRun))

	return nil
}

// RemoveEntry unschedules an entry
func (m *Monitor) RemoveEntry(entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[entryID]
	if !exists {
		return fmt.Errorf("entry %s not found", entryID)
	}

	m.cron.Remove(entry.CronID)
	delete(m.entries, entryID)

	m.logger.Info("Refresh entry removed",
		zap.String("entryID", entryID))

	return nil
}

// GetEntry returns a copy of an entry by ID
func (m *Monitor) GetEntry(entryID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[entryID]
	if !exists {
		return Entry{}, fmt.Errorf("entry %s not found", entryID)
	}
	return *entry, nil
}

// ListEntries returns copies of all scheduled entries
func (m *Monitor) ListEntries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, *entry)
	}
	return entries
}

// Stats returns a copy of the monitor metrics
func (m *Monitor) Stats() MonitorStats {
	m.metrics.mu.RLock()
	defer m.metrics.mu.RUnlock()

	return MonitorStats{
		EntriesScheduled: m.metrics.EntriesScheduled,
		RunsCompleted:    m.metrics.RunsCompleted,
		RunsFailed:       m.metrics.RunsFailed,
		LastUpdate:       m.metrics.LastUpdate,
	}
}

// Private methods

func (m *Monitor) executeEntry(ctx context.Context, entry *Entry) {
	select {
	case m.workerPool <- struct{}{}:
		defer func() { <-m.workerPool }()
	case <-ctx.Done():
		return
	}

	start := time.Now()

	m.mu.Lock()
	entry.Status = EntryStatusRunning
	entry.LastRun = start
	m.mu.Unlock()

	err := m.runEntry(ctx, entry)

	m.mu.Lock()
	if err != nil {
		entry.Status = EntryStatusFailed
		entry.Error = err
	} else {
		entry.Status = EntryStatusComplete
		entry.Error = nil
	}
	entry.NextRun = m.cron.Entry(entry.CronID).Next
	m.mu.Unlock()

	m.metrics.mu.Lock()
	if err != nil {
		m.metrics.RunsFailed++
	} else {
		m.metrics.RunsCompleted++
	}
	m.metrics.LastUpdate = time.Now()
	m.metrics.mu.Unlock()

	if err != nil {
		m.logger.Warn("Refresh entry failed",
			zap.String("entryID", entry.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	m.logger.Debug("Refresh entry completed",
		zap.String("entryID", entry.ID),
		zap.Duration("duration", time.Since(start)))
}

// runEntry isolates panics so one bad refresh cannot take the cron worker down
func (m *Monitor) runEntry(ctx context.Context, entry *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
			m.logger.Error("Panic recovered in refresh entry",
				zap.String("entryID", entry.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	return entry.RunFn(ctx)
}

func (m *Monitor) validateEntry(entry *Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry ID cannot be empty")
	}
	if entry.Schedule == "" {
		return fmt.Errorf("entry schedule cannot be empty")
	}
	if entry.RunFn == nil {
		return fmt.Errorf("entry run function cannot be nil")
	}

	if _, err := cronParser.Parse(entry.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	return nil
}
