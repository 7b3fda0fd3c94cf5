package ballot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/election"
	"guardian_voting/pkg/session"
)

type mockEncryptor struct {
	mu             sync.Mutex
	createCalls    int
	castCalls      int
	challengeCalls int
	createErr      error
	castFailures   int
	challengeMatch bool
	verified       string
	expected       string
}

func (m *mockEncryptor) CreateEncryptedBallot(_ context.Context, electionID, choiceID, _, _ string) (*backend.EncryptedBallotPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &backend.EncryptedBallotPayload{
		Ciphertext:          "ct-" + choiceID,
		CiphertextWithNonce: "ctn-" + choiceID,
		TrackingCode:        fmt.Sprintf("TRK-%s-%03d", electionID, m.createCalls),
		Hash:                "h-" + choiceID,
	}, nil
}

func (m *mockEncryptor) CastEncryptedBallot(_ context.Context, _, _, hash, trackingCode string) (*backend.CastReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.castCalls++
	if m.castFailures > 0 {
		m.castFailures--
		return nil, fmt.Errorf("%w: connection reset", backend.ErrTransient)
	}
	return &backend.CastReceipt{
		TrackingCode: trackingCode,
		Hash:         hash,
		Status:       "confirmed",
		RecordedAt:   time.Now().UTC(),
	}, nil
}

func (m *mockEncryptor) PerformChallenge(_ context.Context, _, _, _ string) (*backend.ChallengeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengeCalls++
	return &backend.ChallengeOutcome{
		Match:             m.challengeMatch,
		VerifiedCandidate: m.verified,
		ExpectedCandidate: m.expected,
	}, nil
}

func (m *mockEncryptor) counts() (create, cast, challenge int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, m.castCalls, m.challengeCalls
}

type mockGate struct {
	status *election.EligibilityStatus
}

func (g *mockGate) Resolve(_ context.Context, _ *data.Election, _ *session.Identity) *election.EligibilityStatus {
	return g.status
}

type mockAutomation struct {
	mu        sync.Mutex
	calls     int
	automated bool
	err       error
}

func (m *mockAutomation) Check(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", false, m.err
	}
	return fmt.Sprintf("sig-%03d", m.calls), m.automated, nil
}

func (m *mockAutomation) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func allowGate() *mockGate {
	return &mockGate{status: &election.EligibilityStatus{Eligible: true, ElectionStatus: data.StatusActive}}
}

func testElection(t *testing.T) *data.Election {
	t.Helper()
	now := time.Now().UTC()
	e, err := data.NewElection("el-1", "General Election", now.Add(-time.Hour), now.Add(time.Hour), 3, 2)
	require.NoError(t, err)
	e.Candidates = []data.Candidate{
		{ID: "c1", Name: "Alice Lee", Party: "Unity Party"},
		{ID: "c2", Name: "Bob Tan", Party: "Progress Alliance"},
	}
	return e
}

func testVoter() *session.Identity {
	return &session.Identity{Email: "voter@example.com", Roles: []string{session.RoleVoter}}
}

func setupWorkflow(t *testing.T, enc *mockEncryptor, gate EligibilityGate, auto *mockAutomation) (*Workflow, *data.MockRepository) {
	t.Helper()
	repo := data.NewMockRepository()
	w, err := NewWorkflow(enc, gate, auto, repo, zaptest.NewLogger(t))
	require.NoError(t, err)
	return w, repo
}

func TestEncrypt(t *testing.T) {
	ctx := context.Background()

	t.Run("ProducesUndecidedBallot", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		assert.Equal(t, data.DispositionUndecided, b.Disposition)
		assert.Equal(t, "ct-c1", b.Ciphertext)
		assert.Equal(t, "ctn-c1", b.CiphertextWithNonce)
		assert.NotEmpty(t, b.TrackingCode)
		assert.False(t, b.IsFinal())
	})

	t.Run("IneligibleVoterRejected", func(t *testing.T) {
		enc := &mockEncryptor{}
		gate := &mockGate{status: &election.EligibilityStatus{
			Eligible:       false,
			Reason:         "voting has closed",
			ElectionStatus: data.StatusEnded,
		}}
		w, _ := setupWorkflow(t, enc, gate, &mockAutomation{})
		e := testElection(t)

		_, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.ErrorIs(t, err, ErrNotEligible)
		assert.Contains(t, err.Error(), "voting has closed")

		create, _, _ := enc.counts()
		assert.Equal(t, 0, create, "ineligible voter must never reach encryption")
	})

	t.Run("AutomatedSessionBlocked", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{automated: true})
		e := testElection(t)

		_, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.ErrorIs(t, err, ErrAutomationSuspected)

		create, _, _ := enc.counts()
		assert.Equal(t, 0, create)
	})

	t.Run("AutomationCheckErrorAborts", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{err: errors.New("verifier unavailable")})
		e := testElection(t)

		_, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verifying session")

		create, _, _ := enc.counts()
		assert.Equal(t, 0, create)
	})

	t.Run("FreshAutomationCheckPerBallot", func(t *testing.T) {
		enc := &mockEncryptor{}
		auto := &mockAutomation{}
		w, _ := setupWorkflow(t, enc, allowGate(), auto)
		e := testElection(t)

		_, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		_, err = w.Encrypt(ctx, e, testVoter(), &e.Candidates[1])
		require.NoError(t, err)

		assert.Equal(t, 2, auto.callCount(), "every encryption needs its own automation check")
	})

	t.Run("EncryptionErrorLeavesNoArtifact", func(t *testing.T) {
		enc := &mockEncryptor{createErr: errors.New("encryption service down")}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.Error(t, err)
		assert.Nil(t, b)
	})
}

func TestCast(t *testing.T) {
	ctx := context.Background()

	t.Run("FinalizesAndPersistsReceipt", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, repo := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)

		receipt, err := w.Cast(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, data.DispositionCast, b.Disposition)
		assert.Equal(t, b.TrackingCode, receipt.TrackingCode)
		assert.Nil(t, receipt.ChallengeMatch)

		stored, err := repo.GetVoteReceipt(ctx, e.ID, b.TrackingCode)
		require.NoError(t, err)
		assert.Equal(t, data.DispositionCast, stored.Disposition)

		stats := w.GetMetrics()
		assert.Equal(t, 1, stats.BallotsCast)
	})

	t.Run("SecondCastRejected", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		_, err = w.Cast(ctx, b)
		require.NoError(t, err)

		_, err = w.Cast(ctx, b)
		require.ErrorIs(t, err, data.ErrBallotFinalized)

		_, cast, _ := enc.counts()
		assert.Equal(t, 1, cast, "a finalized ballot must never reach the backend again")
	})

	t.Run("ChallengeAfterCastRejected", func(t *testing.T) {
		enc := &mockEncryptor{challengeMatch: true}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		_, err = w.Cast(ctx, b)
		require.NoError(t, err)

		_, err = w.Challenge(ctx, b, "Alice Lee")
		require.ErrorIs(t, err, data.ErrBallotFinalized)

		_, _, challenge := enc.counts()
		assert.Equal(t, 0, challenge)
	})

	t.Run("SessionRejectsSecondBallotAfterCast", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		_, err = w.Cast(ctx, b)
		require.NoError(t, err)

		_, err = w.Encrypt(ctx, e, testVoter(), &e.Candidates[1])
		require.ErrorIs(t, err, ErrNotEligible)
		assert.Contains(t, err.Error(), "already cast in this session")
	})

	t.Run("TransportErrorLeavesBallotUndecided", func(t *testing.T) {
		enc := &mockEncryptor{castFailures: 1}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)

		_, err = w.Cast(ctx, b)
		require.Error(t, err)
		assert.False(t, b.IsFinal(), "a failed cast must not consume the ballot")

		// The same artifact is retried without re-encrypting
		receipt, err := w.Cast(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, data.DispositionCast, b.Disposition)
		assert.Equal(t, b.TrackingCode, receipt.TrackingCode)

		create, cast, _ := enc.counts()
		assert.Equal(t, 1, create)
		assert.Equal(t, 2, cast)
	})
}

func TestChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("SpoilsBallotOnMatch", func(t *testing.T) {
		enc := &mockEncryptor{challengeMatch: true, verified: "Alice Lee", expected: "Alice Lee"}
		w, repo := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)

		result, err := w.Challenge(ctx, b, "Alice Lee")
		require.NoError(t, err)
		assert.True(t, result.Match)
		assert.Equal(t, data.DispositionChallenged, b.Disposition)
		require.NotNil(t, result.Receipt.ChallengeMatch)
		assert.True(t, *result.Receipt.ChallengeMatch)

		stored, err := repo.GetVoteReceipt(ctx, e.ID, b.TrackingCode)
		require.NoError(t, err)
		assert.Equal(t, data.DispositionChallenged, stored.Disposition)
	})

	t.Run("CastAfterChallengeRejected", func(t *testing.T) {
		enc := &mockEncryptor{challengeMatch: true}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		_, err = w.Challenge(ctx, b, "Alice Lee")
		require.NoError(t, err)

		_, err = w.Cast(ctx, b)
		require.ErrorIs(t, err, data.ErrBallotFinalized)

		_, cast, _ := enc.counts()
		assert.Equal(t, 0, cast, "a challenged ballot must never reach the tally")
	})

	t.Run("ChallengedBallotNeedsFreshEncryption", func(t *testing.T) {
		enc := &mockEncryptor{challengeMatch: true}
		auto := &mockAutomation{}
		w, _ := setupWorkflow(t, enc, allowGate(), auto)
		e := testElection(t)

		b1, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		_, err = w.Challenge(ctx, b1, "Alice Lee")
		require.NoError(t, err)

		b2, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)
		assert.NotEqual(t, b1.TrackingCode, b2.TrackingCode)
		assert.Equal(t, 2, auto.callCount())

		_, err = w.Cast(ctx, b2)
		require.NoError(t, err)
	})

	t.Run("MismatchRaisesIntegrityAlarm", func(t *testing.T) {
		enc := &mockEncryptor{challengeMatch: false, verified: "Bob Tan", expected: "Alice Lee"}
		w, repo := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)

		result, err := w.Challenge(ctx, b, "Alice Lee")
		require.NoError(t, err)
		assert.False(t, result.Match)
		assert.Equal(t, data.DispositionChallenged, b.Disposition)

		alarms, err := repo.ListAuditEntries(ctx, data.AuditFilter{
			ElectionID: e.ID,
			Action:     data.AuditIntegrityAlarm,
		})
		require.NoError(t, err)
		require.Len(t, alarms, 1)
		assert.Contains(t, alarms[0].Detail, "Bob Tan")

		stats := w.GetMetrics()
		assert.Equal(t, 1, stats.ChallengeMismatches)
	})

	t.Run("TransportErrorLeavesBallotUndecided", func(t *testing.T) {
		enc := &mockEncryptor{}
		w, _ := setupWorkflow(t, enc, allowGate(), &mockAutomation{})
		e := testElection(t)

		b, err := w.Encrypt(ctx, e, testVoter(), &e.Candidates[0])
		require.NoError(t, err)

		failing := &failingChallenger{Encryptor: enc}
		w.backend = failing
		_, err = w.Challenge(ctx, b, "Alice Lee")
		require.Error(t, err)
		assert.False(t, b.IsFinal())

		w.backend = enc
		_, err = w.Challenge(ctx, b, "Alice Lee")
		require.NoError(t, err)
		assert.Equal(t, data.DispositionChallenged, b.Disposition)
	})
}

// failingChallenger wraps a mock and fails every challenge call
type failingChallenger struct {
	Encryptor
}

func (f *failingChallenger) PerformChallenge(_ context.Context, _, _, _ string) (*backend.ChallengeOutcome, error) {
	return nil, fmt.Errorf("%w: connection reset", backend.ErrTransient)
}
