// Package ballot drives single ballots from the eligibility gate to a
// terminal disposition. Every ballot is gated, freshly checked for
// automation, encrypted, and then cast or challenged exactly once.
package ballot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/election"
	"guardian_voting/pkg/session"
)

var (
	ErrNotEligible         = errors.New("voter is not eligible")
	ErrAutomationSuspected = errors.New("session flagged as automated")
)

// Encryptor is the backend surface the workflow drives
type Encryptor interface {
	CreateEncryptedBallot(ctx context.Context, electionID, choiceID, choiceLabel, botSignal string) (*backend.EncryptedBallotPayload, error)
	CastEncryptedBallot(ctx context.Context, electionID, ciphertext, hash, trackingCode string) (*backend.CastReceipt, error)
	PerformChallenge(ctx context.Context, electionID, ciphertextWithNonce, assertedCandidate string) (*backend.ChallengeOutcome, error)
}

// AutomationChecker reports whether the current session looks automated. The
// workflow runs it immediately before every encryption; a result is never
// reused across ballots.
type AutomationChecker interface {
	Check(ctx context.Context) (signal string, automated bool, err error)
}

// EligibilityGate decides whether the voter may take a ballot right now
type EligibilityGate interface {
	Resolve(ctx context.Context, e *data.Election, identity *session.Identity) *election.EligibilityStatus
}

// ChallengeResult reports the verification outcome of a spoiled ballot
type ChallengeResult struct {
	Match             bool
	VerifiedCandidate string
	ExpectedCandidate string
	Receipt           *data.VoteReceipt
}

// Workflow manages the ballot lifecycle for one authenticated session
type Workflow struct {
	backend    Encryptor
	gate       EligibilityGate
	automation AutomationChecker
	repo       data.Repository
	logger     *zap.Logger
	metrics    *Metrics

	mu    sync.Mutex
	voted map[string]bool
}

// NewWorkflow creates a ballot workflow
func NewWorkflow(b Encryptor, gate EligibilityGate, automation AutomationChecker, repo data.Repository, logger *zap.Logger) (*Workflow, error) {
	if b == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if gate == nil {
		return nil, errors.New("eligibility gate cannot be nil")
	}
	if automation == nil {
		return nil, errors.New("automation checker cannot be nil")
	}
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}
	return &Workflow{
		backend:    b,
		gate:       gate,
		automation: automation,
		repo:       repo,
		logger:     logger,
		metrics:    NewMetrics(),
		voted:      make(map[string]bool),
	}, nil
}

// Encrypt gates the voter, verifies the session, and produces one encrypted
// ballot ready to be cast or challenged. Each call runs a fresh automation
// check; a challenged ballot's replacement goes through the full sequence
// again.
func (w *Workflow) Encrypt(ctx context.Context, e *data.Election, identity *session.Identity, choice *data.Candidate) (*data.EncryptedBallot, error) {
	if w.castInSession(e.ID) {
		w.metrics.IncrementRejected()
		return nil, fmt.Errorf("%w: a ballot was already cast in this session", ErrNotEligible)
	}

	status := w.gate.Resolve(ctx, e, identity)
	if !status.Eligible {
		w.metrics.IncrementRejected()
		w.logger.Info("Ballot request rejected",
			zap.String("electionId", e.ID),
			zap.String("reason", status.Reason))
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, status.Reason)
	}

	signal, automated, err := w.automation.Check(ctx)
	if err != nil {
		w.metrics.IncrementFailed()
		return nil, fmt.Errorf("verifying session: %w", err)
	}
	if automated {
		w.metrics.IncrementRejected()
		w.logger.Warn("Automated session blocked from ballot encryption",
			zap.String("electionId", e.ID))
		return nil, fmt.Errorf("%w: encryption aborted", ErrAutomationSuspected)
	}

	payload, err := w.backend.CreateEncryptedBallot(ctx, e.ID, choice.ID, choice.Name, signal)
	if err != nil {
		w.metrics.IncrementFailed()
		return nil, fmt.Errorf("encrypting ballot: %w", err)
	}

	ballot, err := data.NewEncryptedBallot(e.ID, choice.ID, choice.Name)
	if err != nil {
		return nil, fmt.Errorf("creating ballot artifact: %w", err)
	}
	ballot.Ciphertext = payload.Ciphertext
	ballot.CiphertextWithNonce = payload.CiphertextWithNonce
	ballot.TrackingCode = payload.TrackingCode
	ballot.Hash = payload.Hash

	w.metrics.IncrementEncrypted()
	w.logger.Info("Ballot encrypted",
		zap.String("electionId", e.ID),
		zap.String("trackingCode", ballot.TrackingCode))
	return ballot, nil
}

// Cast commits the ballot to the tally. On a transport failure the ballot
// stays undecided and the same artifact may be retried; no new encryption is
// required.
func (w *Workflow) Cast(ctx context.Context, b *data.EncryptedBallot) (*data.VoteReceipt, error) {
	if b.IsFinal() {
		w.metrics.IncrementRejected()
		return nil, fmt.Errorf("cast rejected: %w: already %s", data.ErrBallotFinalized, b.Disposition)
	}

	ack, err := w.backend.CastEncryptedBallot(ctx, b.ElectionID, b.Ciphertext, b.Hash, b.TrackingCode)
	if err != nil {
		w.metrics.IncrementFailed()
		w.logger.Warn("Cast failed, ballot remains undecided",
			zap.String("electionId", b.ElectionID),
			zap.String("trackingCode", b.TrackingCode),
			zap.Error(err))
		return nil, fmt.Errorf("casting ballot: %w", err)
	}

	if err := b.Finalize(data.DispositionCast); err != nil {
		return nil, err
	}
	w.markCast(b.ElectionID)

	code := ack.TrackingCode
	if code == "" {
		code = b.TrackingCode
	}
	hash := ack.Hash
	if hash == "" {
		hash = b.Hash
	}

	receipt, err := data.NewVoteReceipt(b.ElectionID, code, hash, data.DispositionCast)
	if err != nil {
		return nil, fmt.Errorf("creating vote receipt: %w", err)
	}
	w.persistReceipt(ctx, receipt)
	w.audit(ctx, b.ElectionID, data.AuditBallotCast, fmt.Sprintf("tracking code %s", code))

	w.metrics.IncrementCast()
	w.logger.Info("Ballot cast",
		zap.String("electionId", b.ElectionID),
		zap.String("trackingCode", code))
	return receipt, nil
}

// Challenge spoils the ballot to verify its encryption. A challenged ballot
// never reaches the tally, whatever the verification outcome; the voter must
// encrypt a fresh ballot to proceed.
func (w *Workflow) Challenge(ctx context.Context, b *data.EncryptedBallot, assertedCandidate string) (*ChallengeResult, error) {
	if b.IsFinal() {
		w.metrics.IncrementRejected()
		return nil, fmt.Errorf("challenge rejected: %w: already %s", data.ErrBallotFinalized, b.Disposition)
	}

	outcome, err := w.backend.PerformChallenge(ctx, b.ElectionID, b.CiphertextWithNonce, assertedCandidate)
	if err != nil {
		w.metrics.IncrementFailed()
		w.logger.Warn("Challenge failed, ballot remains undecided",
			zap.String("electionId", b.ElectionID),
			zap.String("trackingCode", b.TrackingCode),
			zap.Error(err))
		return nil, fmt.Errorf("challenging ballot: %w", err)
	}

	if err := b.Finalize(data.DispositionChallenged); err != nil {
		return nil, err
	}

	receipt, err := data.NewVoteReceipt(b.ElectionID, b.TrackingCode, b.Hash, data.DispositionChallenged)
	if err != nil {
		return nil, fmt.Errorf("creating vote receipt: %w", err)
	}
	receipt.ChallengeMatch = &outcome.Match
	w.persistReceipt(ctx, receipt)
	w.audit(ctx, b.ElectionID, data.AuditBallotChallenged,
		fmt.Sprintf("tracking code %s, match=%t", b.TrackingCode, outcome.Match))

	if !outcome.Match {
		w.metrics.IncrementMismatch()
		w.audit(ctx, b.ElectionID, data.AuditIntegrityAlarm,
			fmt.Sprintf("challenge mismatch: expected %s, verified %s", outcome.ExpectedCandidate, outcome.VerifiedCandidate))
		w.logger.Error("Challenge verification mismatch",
			zap.String("electionId", b.ElectionID),
			zap.String("trackingCode", b.TrackingCode),
			zap.String("expected", outcome.ExpectedCandidate),
			zap.String("verified", outcome.VerifiedCandidate))
	}

	w.metrics.IncrementChallenged()
	w.logger.Info("Ballot challenged",
		zap.String("electionId", b.ElectionID),
		zap.String("trackingCode", b.TrackingCode),
		zap.Bool("match", outcome.Match))
	return &ChallengeResult{
		Match:             outcome.Match,
		VerifiedCandidate: outcome.VerifiedCandidate,
		ExpectedCandidate: outcome.ExpectedCandidate,
		Receipt:           receipt,
	}, nil
}

// GetMetrics returns the workflow metrics
func (w *Workflow) GetMetrics() Stats {
	return w.metrics.GetStats()
}

// Private methods

func (w *Workflow) castInSession(electionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.voted[electionID]
}

func (w *Workflow) markCast(electionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.voted[electionID] = true
}

// persistReceipt stores a receipt locally. The server already accepted the
// ballot, so a bookkeeping failure is logged rather than returned.
func (w *Workflow) persistReceipt(ctx context.Context, receipt *data.VoteReceipt) {
	if err := w.repo.SaveVoteReceipt(ctx, receipt); err != nil {
		w.logger.Error("Persisting vote receipt failed",
			zap.String("electionId", receipt.ElectionID),
			zap.String("trackingCode", receipt.TrackingCode),
			zap.Error(err))
	}
}

func (w *Workflow) audit(ctx context.Context, electionID string, action data.AuditAction, detail string) {
	entry, err := data.NewAuditEntry(electionID, action, "", detail)
	if err != nil {
		w.logger.Error("Creating audit entry failed", zap.Error(err))
		return
	}
	if err := w.repo.SaveAuditEntry(ctx, entry); err != nil {
		w.logger.Error("Persisting audit entry failed",
			zap.String("electionId", electionID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
