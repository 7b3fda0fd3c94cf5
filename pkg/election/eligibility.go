package election

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/session"
)

// EligibilityChecker asks the backend whether the caller may vote
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, electionID string) (*backend.EligibilityResult, error)
}

// EligibilityStatus is the resolver's decision for one voter and one election
type EligibilityStatus struct {
	Eligible       bool
	HasVoted       bool
	Reason         string
	ElectionStatus data.TemporalStatus
}

// Resolver decides whether a voter may take a ballot. It never returns an
// error: when the backend cannot be reached the voter is reported ineligible
// with the verification failure as the reason, so callers need no separate
// error path before gating a ballot.
type Resolver struct {
	checker EligibilityChecker
	logger  *zap.Logger
}

// NewResolver creates an eligibility resolver
func NewResolver(checker EligibilityChecker, logger *zap.Logger) *Resolver {
	return &Resolver{
		checker: checker,
		logger:  logger,
	}
}

// Resolve applies the eligibility rules in priority order: an existing vote
// dominates every other outcome, then the voting window, then the voter roll.
func (r *Resolver) Resolve(ctx context.Context, e *data.Election, identity *session.Identity) *EligibilityStatus {
	status := e.TemporalStatus()

	result, err := r.checker.CheckEligibility(ctx, e.ID)
	if err != nil {
		r.logger.Warn("Eligibility check unreachable",
			zap.String("electionId", e.ID),
			zap.String("voter", identity.Email),
			zap.Error(err))
		return &EligibilityStatus{
			Eligible:       false,
			Reason:         "unable to verify eligibility",
			ElectionStatus: status,
		}
	}

	if result.HasVoted {
		return &EligibilityStatus{
			Eligible:       false,
			HasVoted:       true,
			Reason:         "a ballot has already been cast in this election",
			ElectionStatus: status,
		}
	}

	if status != data.StatusActive {
		return &EligibilityStatus{
			Eligible:       false,
			Reason:         windowReason(status),
			ElectionStatus: status,
		}
	}

	if e.Eligibility == data.EligibilityListed && !identity.IsVoter() {
		return &EligibilityStatus{
			Eligible:       false,
			Reason:         "not on the voter roll for this election",
			ElectionStatus: status,
		}
	}

	return &EligibilityStatus{
		Eligible:       true,
		ElectionStatus: status,
	}
}

func windowReason(status data.TemporalStatus) string {
	switch status {
	case data.StatusUpcoming:
		return "voting has not opened yet"
	case data.StatusEnded:
		return "voting has closed"
	default:
		return fmt.Sprintf("election is not accepting ballots (status %s)", status)
	}
}
