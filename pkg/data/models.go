package data

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error variables for consistent error handling
var (
	ErrInvalidData     = errors.New("invalid data format")
	ErrInvalidID       = errors.New("invalid identifier")
	ErrInvalidTime     = errors.New("invalid timestamp")
	ErrInvalidWindow   = errors.New("invalid voting window")
	ErrInvalidQuorum   = errors.New("invalid quorum threshold")
	ErrBallotFinalized = errors.New("ballot already finalized")
	ErrBadTransition   = errors.New("illegal job state transition")
)

// EligibilityMode determines how voters are admitted to an election
type EligibilityMode string

const (
	EligibilityListed   EligibilityMode = "listed"
	EligibilityUnlisted EligibilityMode = "unlisted"
)

// PrivacyMode determines result visibility
type PrivacyMode string

const (
	PrivacyPublic  PrivacyMode = "public"
	PrivacyPrivate PrivacyMode = "private"
)

// ElectionPhase tracks how far the tally lifecycle has progressed
type ElectionPhase string

const (
	PhaseCreated      ElectionPhase = "created"
	PhaseTallyCreated ElectionPhase = "tally_created"
	PhaseDecrypted    ElectionPhase = "decrypted"
)

// TemporalStatus is derived from the voting window and never stored
type TemporalStatus string

const (
	StatusUpcoming TemporalStatus = "Upcoming"
	StatusActive   TemporalStatus = "Active"
	StatusEnded    TemporalStatus = "Ended"
)

// JobState is the client-observed state of an asynchronous backend job
type JobState string

const (
	JobAbsent     JobState = "absent"
	JobPending    JobState = "pending"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// IsTerminal reports whether the state accepts no further progress
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsRunning reports whether a job is queued or executing
func (s JobState) IsRunning() bool {
	return s == JobPending || s == JobInProgress
}

// AcceptsSubmission reports whether a fresh submission may start a job
func (s JobState) AcceptsSubmission() bool {
	return s == JobAbsent || s == JobFailed
}

func canTransition(from, to JobState) bool {
	switch from {
	case JobAbsent:
		return to == JobPending
	case JobPending:
		return to == JobInProgress || to == JobFailed
	case JobInProgress:
		return to == JobCompleted || to == JobFailed
	case JobFailed:
		// A failed job may be resubmitted into the same slot
		return to == JobPending
	case JobCompleted:
		return false
	}
	return false
}

// BallotDisposition is the terminal fate of an encrypted ballot
type BallotDisposition string

const (
	DispositionUndecided  BallotDisposition = "undecided"
	DispositionCast       BallotDisposition = "cast"
	DispositionChallenged BallotDisposition = "challenged"
)

// Candidate represents one choice on a ballot, immutable once the election exists
type Candidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Party       string `json:"party"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Validate checks if the candidate is valid
func (c *Candidate) Validate() error {
	if c.ID == "" {
		return ErrInvalidID
	}
	if c.Name == "" {
		return errors.New("candidate name cannot be empty")
	}
	return nil
}

// Election represents one election as observed by the client
type Election struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	Eligibility    EligibilityMode `json:"eligibility"`
	Privacy        PrivacyMode     `json:"privacy"`
	GuardianCount  int             `json:"guardian_count"`
	Quorum         int             `json:"quorum"`
	Phase          ElectionPhase   `json:"phase"`
	EligibleVoters int             `json:"eligible_voters"`
	Candidates     []Candidate     `json:"candidates"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewElection creates a new Election instance with validation
func NewElection(id, title string, start, end time.Time, guardians, quorum int) (*Election, error) {
	now := time.Now().UTC()
	e := &Election{
		ID:            id,
		Title:         title,
		StartTime:     start,
		EndTime:       end,
		Eligibility:   EligibilityUnlisted,
		Privacy:       PrivacyPublic,
		GuardianCount: guardians,
		Quorum:        quorum,
		Phase:         PhaseCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks if the election is valid
func (e *Election) Validate() error {
	if e.ID == "" {
		return ErrInvalidID
	}
	if e.Title == "" {
		return errors.New("title cannot be empty")
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return ErrInvalidTime
	}
	if !e.EndTime.After(e.StartTime) {
		return ErrInvalidWindow
	}
	if e.GuardianCount <= 0 {
		return errors.New("guardian count must be positive")
	}
	if e.Quorum <= 0 || e.Quorum > e.GuardianCount {
		return ErrInvalidQuorum
	}
	return nil
}

// TemporalStatus derives the election's current temporal status
func (e *Election) TemporalStatus() TemporalStatus {
	return e.TemporalStatusAt(time.Now().UTC())
}

// TemporalStatusAt derives the temporal status at a given instant
func (e *Election) TemporalStatusAt(t time.Time) TemporalStatus {
	switch {
	case t.Before(e.StartTime):
		return StatusUpcoming
	case t.After(e.EndTime):
		return StatusEnded
	default:
		return StatusActive
	}
}

// CandidateByName resolves a candidate by display name, ignoring case and
// surrounding whitespace
func (e *Election) CandidateByName(name string) (*Candidate, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for i := range e.Candidates {
		if strings.ToLower(strings.TrimSpace(e.Candidates[i].Name)) == want {
			return &e.Candidates[i], true
		}
	}
	return nil, false
}

// EncryptedBallot is the session-scoped artifact produced by encrypting one
// candidate selection. Once cast or challenged it is immutable.
type EncryptedBallot struct {
	ID                  string            `json:"id"`
	ElectionID          string            `json:"election_id"`
	ChoiceID            string            `json:"choice_id"`
	ChoiceLabel         string            `json:"choice_label"`
	Ciphertext          string            `json:"ciphertext"`
	CiphertextWithNonce string            `json:"ciphertext_with_nonce"`
	TrackingCode        string            `json:"tracking_code"`
	Hash                string            `json:"hash"`
	Disposition         BallotDisposition `json:"disposition"`
	CreatedAt           time.Time         `json:"created_at"`
	DisposedAt          time.Time         `json:"disposed_at,omitempty"`
}

// NewEncryptedBallot creates a new EncryptedBallot instance
func NewEncryptedBallot(electionID, choiceID, choiceLabel string) (*EncryptedBallot, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if choiceID == "" {
		return nil, errors.New("choice ID cannot be empty")
	}
	return &EncryptedBallot{
		ID:          uuid.New().String(),
		ElectionID:  electionID,
		ChoiceID:    choiceID,
		ChoiceLabel: choiceLabel,
		Disposition: DispositionUndecided,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// IsFinal reports whether the ballot has reached a terminal disposition
func (b *EncryptedBallot) IsFinal() bool {
	return b.Disposition != DispositionUndecided
}

// Finalize records the ballot's single terminal disposition. A ballot is cast
// or challenged exactly once, never both.
func (b *EncryptedBallot) Finalize(d BallotDisposition) error {
	if d != DispositionCast && d != DispositionChallenged {
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidData, d)
	}
	if b.IsFinal() {
		return fmt.Errorf("%w: already %s", ErrBallotFinalized, b.Disposition)
	}
	b.Disposition = d
	b.DisposedAt = time.Now().UTC()
	return nil
}

// Guardian represents one trustee of an election as observed by the client
type Guardian struct {
	ElectionID string    `json:"election_id"`
	Sequence   int       `json:"sequence"`
	Email      string    `json:"email"`
	Submitted  bool      `json:"submitted"`
	JobState   JobState  `json:"job_state"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewGuardian creates a new Guardian instance
func NewGuardian(electionID string, sequence int, email string) (*Guardian, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if sequence <= 0 {
		return nil, errors.New("sequence must be positive")
	}
	if email == "" {
		return nil, errors.New("email cannot be empty")
	}
	return &Guardian{
		ElectionID: electionID,
		Sequence:   sequence,
		Email:      email,
		JobState:   JobAbsent,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

// DecryptionJob tracks one guardian's asynchronous decryption job
type DecryptionJob struct {
	ElectionID    string    `json:"election_id"`
	GuardianEmail string    `json:"guardian_email"`
	State         JobState  `json:"state"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewDecryptionJob creates a job record in the absent state
func NewDecryptionJob(electionID, guardianEmail string) (*DecryptionJob, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if guardianEmail == "" {
		return nil, errors.New("guardian email cannot be empty")
	}
	return &DecryptionJob{
		ElectionID:    electionID,
		GuardianEmail: guardianEmail,
		State:         JobAbsent,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// Transition moves the job to a new state, enforcing the state machine
func (j *DecryptionJob) Transition(to JobState) error {
	if !canTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, j.State, to)
	}
	j.State = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CombineJob tracks the election-wide combination job
type CombineJob struct {
	ElectionID string    `json:"election_id"`
	State      JobState  `json:"state"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewCombineJob creates a job record in the absent state
func NewCombineJob(electionID string) (*CombineJob, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	return &CombineJob{
		ElectionID: electionID,
		State:      JobAbsent,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

// Transition moves the job to a new state, enforcing the state machine
func (j *CombineJob) Transition(to JobState) error {
	if !canTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, j.State, to)
	}
	j.State = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Chunk is a partition of ballots with its own tally, produced by combination
type Chunk struct {
	Index          int            `json:"index"`
	Name           string         `json:"name,omitempty"`
	Tallies        map[string]int `json:"tallies"`
	EncryptedTally string         `json:"encrypted_tally,omitempty"`
	DecryptedTally string         `json:"decrypted_tally,omitempty"`
	BallotCount    int            `json:"ballot_count"`
}

// BallotRecord is a verification-facing record of one processed ballot
type BallotRecord struct {
	TrackingCode  string `json:"tracking_code"`
	InitialHash   string `json:"initial_hash"`
	DecryptedHash string `json:"decrypted_hash,omitempty"`
	Spoiled       bool   `json:"spoiled"`
	ChunkIndex    int    `json:"chunk_index"`
}

// Validate checks if the ballot record is valid
func (r *BallotRecord) Validate() error {
	if r.TrackingCode == "" {
		return errors.New("tracking code cannot be empty")
	}
	if r.InitialHash == "" {
		return errors.New("initial hash cannot be empty")
	}
	return nil
}

// VoteReceipt is the locally persisted proof of a ballot disposal
type VoteReceipt struct {
	ID             string            `json:"id"`
	ElectionID     string            `json:"election_id"`
	TrackingCode   string            `json:"tracking_code"`
	Hash           string            `json:"hash"`
	Disposition    BallotDisposition `json:"disposition"`
	ChallengeMatch *bool             `json:"challenge_match,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewVoteReceipt creates a receipt for a finalized ballot
func NewVoteReceipt(electionID, trackingCode, hash string, disposition BallotDisposition) (*VoteReceipt, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if trackingCode == "" {
		return nil, errors.New("tracking code cannot be empty")
	}
	if disposition == DispositionUndecided {
		return nil, errors.New("receipt requires a terminal disposition")
	}
	return &VoteReceipt{
		ID:           uuid.New().String(),
		ElectionID:   electionID,
		TrackingCode: trackingCode,
		Hash:         hash,
		Disposition:  disposition,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// AuditAction classifies an audit log entry
type AuditAction string

const (
	AuditBallotCast         AuditAction = "ballot_cast"
	AuditBallotChallenged   AuditAction = "ballot_challenged"
	AuditSubmissionAccepted AuditAction = "submission_accepted"
	AuditSubmissionRejected AuditAction = "submission_rejected"
	AuditCombineStarted     AuditAction = "combine_started"
	AuditCombineFinished    AuditAction = "combine_finished"
	AuditVerification       AuditAction = "verification"
	AuditIntegrityAlarm     AuditAction = "integrity_alarm"
)

// AuditEntry is an append-only local record of an orchestration action
type AuditEntry struct {
	ID         string      `json:"id"`
	ElectionID string      `json:"election_id"`
	Action     AuditAction `json:"action"`
	Actor      string      `json:"actor,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewAuditEntry creates a new AuditEntry instance
func NewAuditEntry(electionID string, action AuditAction, actor, detail string) (*AuditEntry, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if action == "" {
		return nil, errors.New("action cannot be empty")
	}
	return &AuditEntry{
		ID:         uuid.New().String(),
		ElectionID: electionID,
		Action:     action,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
