package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/poll"
	"guardian_voting/pkg/results"
)

var (
	ErrQuorumNotReached = errors.New("quorum not reached")
	ErrCombineRunning   = errors.New("combination already running")
	ErrCombineCompleted = errors.New("combination already complete")
	ErrJobFailed        = errors.New("combination job failed")
)

// CombineBackend is the backend surface the orchestrator drives
type CombineBackend interface {
	GetCombineStatus(ctx context.Context, electionID string) (*backend.JobStatus, error)
	InitiateCombine(ctx context.Context, electionID string) (*backend.SubmissionAck, error)
	GetElectionResults(ctx context.Context, electionID string) (*backend.RawResults, error)
}

// Materializer turns raw combination output into final results
type Materializer interface {
	Materialize(e *data.Election, raw *backend.RawResults) (*results.ElectionResult, error)
}

// Orchestrator drives ciphertext combination from the quorum gate to
// materialized results. There is exactly one combination job per election;
// the orchestrator attaches to whatever the server already has rather than
// starting a second one.
type Orchestrator struct {
	backend      CombineBackend
	materializer Materializer
	repo         data.Repository
	poller       *poll.Poller
	logger       *zap.Logger
	metrics      *Metrics
}

// NewOrchestrator creates a combination orchestrator
func NewOrchestrator(b CombineBackend, materializer Materializer, repo data.Repository, poller *poll.Poller, logger *zap.Logger) (*Orchestrator, error) {
	if b == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if materializer == nil {
		return nil, errors.New("materializer cannot be nil")
	}
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}
	if poller == nil {
		return nil, errors.New("poller cannot be nil")
	}
	return &Orchestrator{
		backend:      b,
		materializer: materializer,
		repo:         repo,
		poller:       poller,
		logger:       logger,
		metrics:      NewMetrics(),
	}, nil
}

// Initiate starts combination when the gate allows it. A running job returns
// ErrCombineRunning and a finished one ErrCombineCompleted; neither ever
// starts a second job.
func (o *Orchestrator) Initiate(ctx context.Context, e *data.Election, gate QuorumDecision) (*backend.SubmissionAck, error) {
	if e.TemporalStatus() != data.StatusEnded {
		return nil, ErrElectionNotEnded
	}
	if !gate.QuorumMet {
		o.audit(ctx, e.ID, data.AuditSubmissionRejected,
			fmt.Sprintf("combination refused: %d of %d submitted, quorum %d", gate.Submitted, gate.Total, gate.Quorum))
		return nil, fmt.Errorf("%w: %d of %d submitted, quorum %d", ErrQuorumNotReached, gate.Submitted, gate.Total, gate.Quorum)
	}

	status, err := o.backend.GetCombineStatus(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("querying combine status: %w", err)
	}
	if status.State.IsRunning() {
		return nil, ErrCombineRunning
	}
	if status.State == data.JobCompleted {
		return nil, ErrCombineCompleted
	}

	ack, err := o.backend.InitiateCombine(ctx, e.ID)
	if err != nil {
		o.metrics.IncrementCombineFailed()
		return nil, fmt.Errorf("initiating combination: %w", err)
	}
	if !ack.Accepted {
		return ack, fmt.Errorf("combination rejected: %s", ack.Message)
	}

	o.audit(ctx, e.ID, data.AuditCombineStarted,
		fmt.Sprintf("%d of %d guardians submitted, quorum %d", gate.Submitted, gate.Total, gate.Quorum))
	o.metrics.IncrementCombineStarted()
	o.logger.Info("Combination started",
		zap.String("electionId", e.ID),
		zap.Int("submitted", gate.Submitted),
		zap.Int("quorum", gate.Quorum))
	return ack, nil
}

// Run drives combination end to end: initiate or attach, poll to terminal,
// then materialize results. Safe to call again after a restart; a running job
// is attached and a finished one goes straight to materialization.
func (o *Orchestrator) Run(ctx context.Context, e *data.Election, gate QuorumDecision) (*results.ElectionResult, error) {
	_, err := o.Initiate(ctx, e, gate)
	switch {
	case errors.Is(err, ErrCombineRunning):
		o.logger.Info("Attaching to running combination", zap.String("electionId", e.ID))
	case errors.Is(err, ErrCombineCompleted):
		o.logger.Info("Combination already complete", zap.String("electionId", e.ID))
		return o.materialize(ctx, e)
	case err != nil:
		return nil, err
	}

	status, err := o.poller.WaitTerminal(ctx, func(ctx context.Context) (*backend.JobStatus, error) {
		return o.backend.GetCombineStatus(ctx, e.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for combination: %w", err)
	}

	if status.State == data.JobFailed {
		o.metrics.IncrementCombineFailed()
		o.audit(ctx, e.ID, data.AuditCombineFinished, fmt.Sprintf("failed: %s", status.Error))
		o.logger.Error("Combination failed",
			zap.String("electionId", e.ID),
			zap.String("error", status.Error))
		return nil, classifyCombineFailure(status.Error)
	}

	o.audit(ctx, e.ID, data.AuditCombineFinished, "completed")
	o.metrics.IncrementCombineCompleted()
	return o.materialize(ctx, e)
}

// GetMetrics returns the orchestrator metrics
func (o *Orchestrator) GetMetrics() Stats {
	return o.metrics.GetStats()
}

// Private methods

func (o *Orchestrator) materialize(ctx context.Context, e *data.Election) (*results.ElectionResult, error) {
	raw, err := o.backend.GetElectionResults(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching election results: %w", err)
	}
	result, err := o.materializer.Materialize(e, raw)
	if err != nil {
		return nil, fmt.Errorf("materializing results: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) audit(ctx context.Context, electionID string, action data.AuditAction, detail string) {
	entry, err := data.NewAuditEntry(electionID, action, "", detail)
	if err != nil {
		o.logger.Error("Creating audit entry failed", zap.Error(err))
		return
	}
	if err := o.repo.SaveAuditEntry(ctx, entry); err != nil {
		o.logger.Error("Persisting audit entry failed",
			zap.String("electionId", electionID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// Helper functions

// classifyCombineFailure maps a failed combine job onto the caller-facing
// error. The server reports a lost quorum race in the failure message, not in
// a structured code.
func classifyCombineFailure(message string) error {
	if strings.Contains(strings.ToLower(message), "quorum") {
		return fmt.Errorf("%w: %s", ErrQuorumNotReached, message)
	}
	if message == "" {
		return ErrJobFailed
	}
	return fmt.Errorf("%w: %s", ErrJobFailed, message)
}
