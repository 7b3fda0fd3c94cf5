package tally

import (
	"context"
	"fmt"

	"guardian_voting/pkg/data"
)

// QuorumDecision reports whether combination may proceed for an election
type QuorumDecision struct {
	Submitted    int  `json:"submitted"`
	Quorum       int  `json:"quorum"`
	Total        int  `json:"total"`
	QuorumMet    bool `json:"quorum_met"`
	AllSubmitted bool `json:"all_submitted"`
}

// EvaluateQuorum computes the combination gate from counts alone. QuorumMet
// and AllSubmitted are independent: a 3-of-5 election with three submissions
// meets quorum while two guardians are still outstanding.
func EvaluateQuorum(submitted, quorum, total int) QuorumDecision {
	return QuorumDecision{
		Submitted:    submitted,
		Quorum:       quorum,
		Total:        total,
		QuorumMet:    submitted >= quorum,
		AllSubmitted: submitted >= total,
	}
}

// CountSubmitted derives the submitted count from guardian snapshots. A
// guardian counts once their submission was accepted or their job completed.
func CountSubmitted(guardians []*data.Guardian) int {
	count := 0
	for _, g := range guardians {
		if g.Submitted || g.JobState == data.JobCompleted {
			count++
		}
	}
	return count
}

// GateFor evaluates the quorum gate for an election from stored snapshots
func GateFor(ctx context.Context, repo data.Repository, e *data.Election) (QuorumDecision, error) {
	guardians, err := repo.ListGuardians(ctx, e.ID)
	if err != nil {
		return QuorumDecision{}, fmt.Errorf("listing guardians for %s: %w", e.ID, err)
	}
	total := e.GuardianCount
	if total == 0 {
		total = len(guardians)
	}
	return EvaluateQuorum(CountSubmitted(guardians), e.Quorum, total), nil
}
