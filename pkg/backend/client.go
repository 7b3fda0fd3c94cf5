// Package backend provides the client for the election backend API. All
// cryptographic work (ballot encryption, challenge verification, partial
// decryption, combination) happens server-side; this package only moves
// requests and normalizes responses.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"guardian_voting/pkg/data"
)

// Error variables for consistent error handling
var (
	ErrTransient        = errors.New("transient backend error")
	ErrMalformedPayload = errors.New("malformed backend payload")
)

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the backend rejected the request with a 404
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}

// EligibilityResult is the backend's view of the caller for one election
type EligibilityResult struct {
	Eligible bool   `json:"eligible"`
	HasVoted bool   `json:"has_voted"`
	Reason   string `json:"reason,omitempty"`
}

// EncryptedBallotPayload is the server-produced encryption artifact
type EncryptedBallotPayload struct {
	Ciphertext          string `json:"ciphertext"`
	CiphertextWithNonce string `json:"ciphertext_with_nonce"`
	TrackingCode        string `json:"tracking_code"`
	Hash                string `json:"hash"`
}

// CastReceipt acknowledges a cast ballot
type CastReceipt struct {
	TrackingCode string    `json:"tracking_code"`
	Hash         string    `json:"hash"`
	Status       string    `json:"status"`
	RecordedAt   time.Time `json:"recorded_at,omitempty"`
}

// ChallengeOutcome is the backend's answer to a Benaloh challenge
type ChallengeOutcome struct {
	Match             bool   `json:"match"`
	VerifiedCandidate string `json:"verified_candidate"`
	ExpectedCandidate string `json:"expected_candidate"`
}

// SubmissionAck acknowledges that an asynchronous job was accepted. It is an
// acceptance, not a result.
type SubmissionAck struct {
	Accepted bool          `json:"accepted"`
	Message  string        `json:"message,omitempty"`
	JobState data.JobState `json:"job_state,omitempty"`
}

// JobStatus is the current server-side state of an asynchronous job
type JobStatus struct {
	State         data.JobState `json:"state"`
	GuardianEmail string        `json:"guardian_email,omitempty"`
	Error         string        `json:"error,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at,omitempty"`
}

// CandidateTally is one candidate's entry in a combination result. The backend
// emits it either as a bare integer or as an object with votes and an optional
// precomputed percentage; both shapes normalize here at ingress.
type CandidateTally struct {
	Votes         int
	Percentage    float64
	HasPercentage bool
}

// UnmarshalJSON accepts both tally shapes
func (t *CandidateTally) UnmarshalJSON(b []byte) error {
	var votes int
	if err := json.Unmarshal(b, &votes); err == nil {
		t.Votes = votes
		t.Percentage = 0
		t.HasPercentage = false
		return nil
	}

	var obj struct {
		Votes      int      `json:"votes"`
		Percentage *float64 `json:"percentage"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("%w: tally entry is neither integer nor object", ErrMalformedPayload)
	}

	t.Votes = obj.Votes
	if obj.Percentage != nil {
		t.Percentage = *obj.Percentage
		t.HasPercentage = true
	}
	return nil
}

// RawResults is the combination output as delivered by the backend, before
// aggregation
type RawResults struct {
	ElectionID        string                    `json:"election_id"`
	Candidates        map[string]CandidateTally `json:"results"`
	Chunks            []data.Chunk              `json:"chunks,omitempty"`
	AllBallots        []data.BallotRecord       `json:"all_ballots,omitempty"`
	TotalBallotsCast  int                       `json:"total_ballots_cast,omitempty"`
	TotalValidBallots int                       `json:"total_valid_ballots,omitempty"`
}

// ChainVerification is the blockchain-side record of one tracking code
type ChainVerification struct {
	Found      bool      `json:"found"`
	Hash       string    `json:"hash,omitempty"`
	Status     string    `json:"status,omitempty"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// Client defines the full election backend surface. Consumers should declare
// their own narrow interfaces over the subset they use.
type Client interface {
	// Election reads
	GetElection(ctx context.Context, electionID string) (*data.Election, error)
	CheckEligibility(ctx context.Context, electionID string) (*EligibilityResult, error)

	// Ballot lifecycle
	CreateEncryptedBallot(ctx context.Context, electionID, choiceID, choiceLabel, botSignal string) (*EncryptedBallotPayload, error)
	CastEncryptedBallot(ctx context.Context, electionID, ciphertext, hash, trackingCode string) (*CastReceipt, error)
	PerformChallenge(ctx context.Context, electionID, ciphertextWithNonce, assertedCandidate string) (*ChallengeOutcome, error)

	// Guardian decryption
	InitiateDecryption(ctx context.Context, electionID, credential string) (*SubmissionAck, error)
	GetDecryptionStatus(ctx context.Context, electionID string) (*JobStatus, error)

	// Combination
	InitiateCombine(ctx context.Context, electionID string) (*SubmissionAck, error)
	GetCombineStatus(ctx context.Context, electionID string) (*JobStatus, error)

	// Results and verification
	GetElectionResults(ctx context.Context, electionID string) (*RawResults, error)
	VerifyBallotOnBlockchain(ctx context.Context, electionID, trackingCode string) (*ChainVerification, error)
}
