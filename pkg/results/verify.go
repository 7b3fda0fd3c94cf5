package results

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
)

var (
	ErrMalformedTrackingCode = errors.New("malformed tracking code")
	ErrMalformedHash         = errors.New("malformed ballot hash")
	ErrResultsNotReady       = errors.New("results not materialized")
)

// VerificationOutcome classifies one tracking-code lookup
type VerificationOutcome string

const (
	VerificationVerified  VerificationOutcome = "verified"
	VerificationCorrupted VerificationOutcome = "corrupted"
	VerificationNotFound  VerificationOutcome = "not_found"
	VerificationError     VerificationOutcome = "error"
)

// Verification is the answer to one ballot verification query
type Verification struct {
	Outcome      VerificationOutcome        `json:"outcome"`
	TrackingCode string                     `json:"tracking_code"`
	Record       *data.BallotRecord         `json:"record,omitempty"`
	Chain        *backend.ChainVerification `json:"chain,omitempty"`
	Detail       string                     `json:"detail,omitempty"`
}

// ChainChecker is the backend surface for second-opinion lookups
type ChainChecker interface {
	VerifyBallotOnBlockchain(ctx context.Context, electionID, trackingCode string) (*backend.ChainVerification, error)
}

// Verifier resolves tracking codes against materialized election records. A
// corrupted finding is never silently dropped: it always lands in the audit
// log, whatever the caller does with the result.
type Verifier struct {
	aggregator *Aggregator
	chain      ChainChecker
	repo       data.Repository
	logger     *zap.Logger
}

// NewVerifier creates a ballot verifier. The chain checker is optional; pass
// nil to answer from local records alone.
func NewVerifier(aggregator *Aggregator, chain ChainChecker, repo data.Repository, logger *zap.Logger) (*Verifier, error) {
	if aggregator == nil {
		return nil, errors.New("aggregator cannot be nil")
	}
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}
	return &Verifier{
		aggregator: aggregator,
		chain:      chain,
		repo:       repo,
		logger:     logger,
	}, nil
}

// Verify resolves one tracking code against the materialized records. The
// returned Verification is always non-nil; the error is set only for
// malformed input or when no results exist to check against.
func (v *Verifier) Verify(ctx context.Context, electionID, trackingCode, hash string) (*Verification, error) {
	code := strings.TrimSpace(trackingCode)
	if code == "" {
		return &Verification{Outcome: VerificationError, Detail: "empty tracking code"},
			fmt.Errorf("%w: empty", ErrMalformedTrackingCode)
	}
	presented := strings.TrimSpace(hash)
	if presented == "" {
		return &Verification{
				Outcome:      VerificationError,
				TrackingCode: code,
				Detail:       "empty ballot hash",
			},
			fmt.Errorf("%w: empty", ErrMalformedHash)
	}

	result, ok := v.aggregator.Result(electionID)
	if !ok {
		return &Verification{
				Outcome:      VerificationError,
				TrackingCode: code,
				Detail:       "no materialized results for election",
			},
			fmt.Errorf("verifying %s: %w", electionID, ErrResultsNotReady)
	}

	record := findRecord(result.Records, code)
	if record == nil {
		v.audit(ctx, electionID, data.AuditVerification,
			fmt.Sprintf("tracking code %s not found", code))
		return &Verification{Outcome: VerificationNotFound, TrackingCode: code}, nil
	}

	if presented == record.InitialHash || (record.DecryptedHash != "" && presented == record.DecryptedHash) {
		v.audit(ctx, electionID, data.AuditVerification,
			fmt.Sprintf("tracking code %s verified", code))
		return &Verification{
			Outcome:      VerificationVerified,
			TrackingCode: code,
			Record:       record,
		}, nil
	}

	v.audit(ctx, electionID, data.AuditIntegrityAlarm,
		fmt.Sprintf("tracking code %s hash mismatch: presented %s, recorded %s", code, presented, record.InitialHash))
	v.logger.Error("Ballot record hash mismatch",
		zap.String("electionId", electionID),
		zap.String("trackingCode", code))
	return &Verification{
		Outcome:      VerificationCorrupted,
		TrackingCode: code,
		Record:       record,
		Detail:       "presented hash matches neither the initial nor decrypted record",
	}, nil
}

// VerifyWithChain answers from local records and attaches the backend chain
// record as a second opinion. Chain lookup failures are logged, never fatal.
func (v *Verifier) VerifyWithChain(ctx context.Context, electionID, trackingCode, hash string) (*Verification, error) {
	verification, err := v.Verify(ctx, electionID, trackingCode, hash)
	if err != nil || v.chain == nil {
		return verification, err
	}

	chain, chainErr := v.chain.VerifyBallotOnBlockchain(ctx, electionID, verification.TrackingCode)
	if chainErr != nil {
		v.logger.Warn("Chain verification unavailable",
			zap.String("electionId", electionID),
			zap.String("trackingCode", verification.TrackingCode),
			zap.Error(chainErr))
		return verification, nil
	}
	verification.Chain = chain

	if verification.Outcome == VerificationNotFound && chain.Found {
		verification.Detail = "absent from local records but present on chain"
	}
	return verification, nil
}

// Private methods

func (v *Verifier) audit(ctx context.Context, electionID string, action data.AuditAction, detail string) {
	entry, err := data.NewAuditEntry(electionID, action, "", detail)
	if err != nil {
		v.logger.Error("Creating audit entry failed", zap.Error(err))
		return
	}
	if err := v.repo.SaveAuditEntry(ctx, entry); err != nil {
		v.logger.Error("Persisting audit entry failed",
			zap.String("electionId", electionID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func findRecord(records []data.BallotRecord, code string) *data.BallotRecord {
	for i := range records {
		if records[i].TrackingCode == code {
			return &records[i]
		}
	}
	return nil
}
