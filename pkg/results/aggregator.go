// Package results materializes decrypted election output into reviewable
// results and answers ballot verification queries against them.
package results

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
)

// independentParty labels tallies whose name matches no registered candidate
// or whose candidate carries no party affiliation
const independentParty = "Independent"

// CandidateResult is one candidate's line in the final tally
type CandidateResult struct {
	CandidateID string  `json:"candidate_id,omitempty"`
	Name        string  `json:"name"`
	Party       string  `json:"party"`
	Votes       int     `json:"votes"`
	Percentage  float64 `json:"percentage"`
}

// ElectionResult is the materialized outcome of a combined election
type ElectionResult struct {
	ElectionID     string              `json:"election_id"`
	Candidates     []CandidateResult   `json:"candidates"`
	TotalVotes     int                 `json:"total_votes"`
	TotalBallots   int                 `json:"total_ballots"`
	Turnout        float64             `json:"turnout"`
	Chunks         []data.Chunk        `json:"chunks,omitempty"`
	Records        []data.BallotRecord `json:"records,omitempty"`
	MaterializedAt time.Time           `json:"materialized_at"`
}

// Winner returns the leading candidate, if any votes were counted
func (r *ElectionResult) Winner() (*CandidateResult, bool) {
	if len(r.Candidates) == 0 || r.TotalVotes == 0 {
		return nil, false
	}
	return &r.Candidates[0], true
}

// Aggregator normalizes raw combination output into final results and retains
// them for verification queries
type Aggregator struct {
	logger *zap.Logger

	mu      sync.RWMutex
	results map[string]*ElectionResult
}

// NewAggregator creates a new Aggregator instance
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		logger:  logger,
		results: make(map[string]*ElectionResult),
	}
}

// Materialize turns the raw backend output into an ElectionResult. Candidate
// lines are matched to the election's candidate list by display name; a tally
// that matches no candidate is kept and attributed to an independent.
func (a *Aggregator) Materialize(e *data.Election, raw *backend.RawResults) (*ElectionResult, error) {
	if raw == nil || len(raw.Candidates) == 0 {
		return nil, errors.New("combination produced no candidate tallies")
	}

	totalVotes := 0
	for _, tally := range raw.Candidates {
		totalVotes += tally.Votes
	}

	candidates := make([]CandidateResult, 0, len(raw.Candidates))
	for name, tally := range raw.Candidates {
		line := CandidateResult{
			Name:  name,
			Party: independentParty,
			Votes: tally.Votes,
		}
		if candidate, ok := e.CandidateByName(name); ok {
			line.CandidateID = candidate.ID
			line.Name = candidate.Name
			if candidate.Party != "" {
				line.Party = candidate.Party
			}
		}
		if tally.HasPercentage {
			line.Percentage = tally.Percentage
		} else if totalVotes > 0 {
			line.Percentage = float64(tally.Votes) / float64(totalVotes) * 100
		}
		candidates = append(candidates, line)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Votes != candidates[j].Votes {
			return candidates[i].Votes > candidates[j].Votes
		}
		return candidates[i].Name < candidates[j].Name
	})

	result := &ElectionResult{
		ElectionID:     e.ID,
		Candidates:     candidates,
		TotalVotes:     totalVotes,
		TotalBallots:   resolveTotalBallots(raw, totalVotes),
		Chunks:         raw.Chunks,
		Records:        raw.AllBallots,
		MaterializedAt: time.Now().UTC(),
	}
	if e.EligibleVoters > 0 {
		result.Turnout = float64(result.TotalBallots) / float64(e.EligibleVoters)
	}

	a.mu.Lock()
	a.results[e.ID] = result
	a.mu.Unlock()

	a.logger.Info("Election results materialized",
		zap.String("electionId", e.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("totalVotes", totalVotes),
		zap.Int("totalBallots", result.TotalBallots))
	return result, nil
}

// Result returns the retained result for an election, if one was materialized
func (a *Aggregator) Result(electionID string) (*ElectionResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result, ok := a.results[electionID]
	return result, ok
}

// Helper functions

// resolveTotalBallots picks the most reliable ballot count on offer: the
// verification records, then an explicit server count, then the vote sum
func resolveTotalBallots(raw *backend.RawResults, totalVotes int) int {
	if len(raw.AllBallots) > 0 {
		return len(raw.AllBallots)
	}
	if raw.TotalValidBallots > 0 {
		return raw.TotalValidBallots
	}
	if raw.TotalBallotsCast > 0 {
		return raw.TotalBallotsCast
	}
	return totalVotes
}
