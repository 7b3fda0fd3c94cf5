// Package tally coordinates the post-election pipeline: guardian credential
// submission, the quorum gate, and ciphertext combination through to final
// results. The server owns every job; this package validates, initiates,
// observes, and records, but never decrypts anything itself.
package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/poll"
	"guardian_voting/pkg/session"
)

var (
	ErrElectionNotEnded     = errors.New("election has not ended")
	ErrNotGuardian          = errors.New("not a guardian of this election")
	ErrAlreadySubmitted     = errors.New("guardian already submitted")
	ErrSubmissionInProgress = errors.New("decryption already in progress")
	ErrAlreadyCompleted     = errors.New("decryption already complete")
)

// DecryptionBackend is the backend surface the tracker drives
type DecryptionBackend interface {
	GetDecryptionStatus(ctx context.Context, electionID string) (*backend.JobStatus, error)
	InitiateDecryption(ctx context.Context, electionID, credential string) (*backend.SubmissionAck, error)
}

// Tracker coordinates one guardian's credential submission and follows the
// resulting decryption job to a terminal state. The server-side job status,
// re-queried on every submission, decides whether a job may start; local
// snapshots only pre-filter the obvious rejections.
type Tracker struct {
	backend DecryptionBackend
	repo    data.Repository
	poller  *poll.Poller
	logger  *zap.Logger
	metrics *Metrics
}

// NewTracker creates a guardian submission tracker
func NewTracker(b DecryptionBackend, repo data.Repository, poller *poll.Poller, logger *zap.Logger) (*Tracker, error) {
	if b == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}
	if poller == nil {
		return nil, errors.New("poller cannot be nil")
	}
	return &Tracker{
		backend: b,
		repo:    repo,
		poller:  poller,
		logger:  logger,
		metrics: NewMetrics(),
	}, nil
}

// Submit validates the submission preconditions, re-queries the authoritative
// job status, and initiates decryption when no job is active. When the job
// already completed the cached success is returned alongside
// ErrAlreadyCompleted so callers can distinguish a no-op from a fresh start.
func (t *Tracker) Submit(ctx context.Context, e *data.Election, identity *session.Identity, credential *session.Credential) (*backend.SubmissionAck, error) {
	if e.TemporalStatus() != data.StatusEnded {
		t.reject(ctx, e.ID, identity.Email, "election has not ended")
		return nil, ErrElectionNotEnded
	}
	if !identity.IsGuardian() {
		t.reject(ctx, e.ID, identity.Email, "identity lacks guardian role")
		return nil, ErrNotGuardian
	}
	if err := credential.Validate(); err != nil {
		t.reject(ctx, e.ID, identity.Email, "invalid credential")
		return nil, err
	}
	if !strings.EqualFold(credential.GuardianEmail, identity.Email) {
		t.reject(ctx, e.ID, identity.Email, "credential issued to another guardian")
		return nil, fmt.Errorf("%w: credential issued to %s", session.ErrInvalidCredential, credential.GuardianEmail)
	}

	guardian, err := t.repo.GetGuardian(ctx, e.ID, identity.Email)
	if errors.Is(err, data.ErrNotFound) {
		t.reject(ctx, e.ID, identity.Email, "not on the guardian list")
		return nil, ErrNotGuardian
	}
	if err != nil {
		return nil, fmt.Errorf("loading guardian snapshot: %w", err)
	}
	if guardian.Submitted {
		t.reject(ctx, e.ID, identity.Email, "already submitted")
		return nil, ErrAlreadySubmitted
	}

	// The snapshot can be stale across restarts; only the server knows
	// whether a job is actually running
	status, err := t.backend.GetDecryptionStatus(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("querying decryption status: %w", err)
	}
	if status.State.IsRunning() {
		t.reject(ctx, e.ID, identity.Email, fmt.Sprintf("job already %s", status.State))
		return nil, ErrSubmissionInProgress
	}
	if status.State == data.JobCompleted {
		t.reject(ctx, e.ID, identity.Email, "job already complete")
		return &backend.SubmissionAck{
			Accepted: true,
			Message:  "decryption already complete",
			JobState: data.JobCompleted,
		}, ErrAlreadyCompleted
	}

	ack, err := t.backend.InitiateDecryption(ctx, e.ID, credential.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("initiating decryption: %w", err)
	}
	if !ack.Accepted {
		t.reject(ctx, e.ID, identity.Email, ack.Message)
		return ack, fmt.Errorf("submission rejected: %s", ack.Message)
	}

	guardian.JobState = ack.JobState
	if guardian.JobState == "" || guardian.JobState == data.JobAbsent {
		guardian.JobState = data.JobPending
	}
	guardian.UpdatedAt = time.Now().UTC()
	if err := t.repo.SaveGuardian(ctx, guardian); err != nil {
		t.logger.Warn("Persisting guardian snapshot failed",
			zap.String("electionId", e.ID),
			zap.String("guardian", identity.Email),
			zap.Error(err))
	}

	t.audit(ctx, e.ID, data.AuditSubmissionAccepted, identity.Email,
		fmt.Sprintf("credential %s", credential.Fingerprint()[:12]))
	t.metrics.IncrementSubmissionAccepted()
	t.logger.Info("Guardian credential submitted",
		zap.String("electionId", e.ID),
		zap.String("guardian", identity.Email),
		zap.String("jobState", string(guardian.JobState)))
	return ack, nil
}

// Watch follows the guardian's decryption job, emitting the latest status
// every poll until a terminal state
func (t *Tracker) Watch(ctx context.Context, electionID string) <-chan poll.Update {
	return t.poller.Watch(ctx, t.statusFetch(electionID))
}

// WaitCompletion blocks until the decryption job reaches a terminal state and
// folds the outcome into the guardian snapshot
func (t *Tracker) WaitCompletion(ctx context.Context, electionID, guardianEmail string) (*backend.JobStatus, error) {
	status, err := t.poller.WaitTerminal(ctx, t.statusFetch(electionID))
	if err != nil {
		return nil, err
	}
	t.recordOutcome(ctx, electionID, guardianEmail, status)
	return status, nil
}

// SyncStatus fetches the job status once and folds it into the snapshot. The
// guardian sweep runs this on its schedule.
func (t *Tracker) SyncStatus(ctx context.Context, electionID, guardianEmail string) (*backend.JobStatus, error) {
	status, err := t.backend.GetDecryptionStatus(ctx, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying decryption status: %w", err)
	}
	t.recordOutcome(ctx, electionID, guardianEmail, status)
	return status, nil
}

// GetMetrics returns the tracker metrics
func (t *Tracker) GetMetrics() Stats {
	return t.metrics.GetStats()
}

// Private methods

func (t *Tracker) statusFetch(electionID string) poll.StatusFetch {
	return func(ctx context.Context) (*backend.JobStatus, error) {
		return t.backend.GetDecryptionStatus(ctx, electionID)
	}
}

func (t *Tracker) recordOutcome(ctx context.Context, electionID, guardianEmail string, status *backend.JobStatus) {
	guardian, err := t.repo.GetGuardian(ctx, electionID, guardianEmail)
	if err != nil {
		t.logger.Debug("No guardian snapshot to update",
			zap.String("electionId", electionID),
			zap.String("guardian", guardianEmail))
		return
	}

	guardian.JobState = status.State
	if status.State == data.JobCompleted {
		guardian.Submitted = true
	}
	guardian.UpdatedAt = time.Now().UTC()
	if err := t.repo.SaveGuardian(ctx, guardian); err != nil {
		t.logger.Warn("Persisting guardian snapshot failed",
			zap.String("electionId", electionID),
			zap.String("guardian", guardianEmail),
			zap.Error(err))
	}
}

func (t *Tracker) reject(ctx context.Context, electionID, actor, reason string) {
	t.metrics.IncrementSubmissionRejected()
	t.audit(ctx, electionID, data.AuditSubmissionRejected, actor, reason)
	t.logger.Info("Guardian submission rejected",
		zap.String("electionId", electionID),
		zap.String("guardian", actor),
		zap.String("reason", reason))
}

func (t *Tracker) audit(ctx context.Context, electionID string, action data.AuditAction, actor, detail string) {
	entry, err := data.NewAuditEntry(electionID, action, actor, detail)
	if err != nil {
		t.logger.Error("Creating audit entry failed", zap.Error(err))
		return
	}
	if err := t.repo.SaveAuditEntry(ctx, entry); err != nil {
		t.logger.Error("Persisting audit entry failed",
			zap.String("electionId", electionID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
