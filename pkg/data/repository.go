package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidFilter = errors.New("invalid filter parameters")
)

// Repository defines the interface for client-local persistence: the election
// cache, guardian snapshots, vote receipts, and the audit log.
type Repository interface {
	// Election cache operations
	SaveElection(ctx context.Context, election *Election) error
	GetElection(ctx context.Context, id string) (*Election, error)
	ListElections(ctx context.Context, filter ElectionFilter) ([]*Election, error)
	DeleteElection(ctx context.Context, id string) error

	// Guardian snapshot operations
	SaveGuardian(ctx context.Context, guardian *Guardian) error
	GetGuardian(ctx context.Context, electionID, email string) (*Guardian, error)
	ListGuardians(ctx context.Context, electionID string) ([]*Guardian, error)

	// Vote receipt operations
	SaveVoteReceipt(ctx context.Context, receipt *VoteReceipt) error
	GetVoteReceipt(ctx context.Context, electionID, trackingCode string) (*VoteReceipt, error)
	ListVoteReceipts(ctx context.Context, electionID string) ([]*VoteReceipt, error)

	// Audit log operations
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// ElectionFilter defines filter parameters for election cache queries
type ElectionFilter struct {
	Phase      ElectionPhase
	EndsBefore *time.Time
	EndsAfter  *time.Time
	Limit      int
	Offset     int
}

// AuditFilter defines filter parameters for audit log queries
type AuditFilter struct {
	ElectionID string
	Action     AuditAction
	FromTime   *time.Time
	ToTime     *time.Time
	Limit      int
	Offset     int
}

// PostgresRepository implements Repository interface using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository instance
func NewPostgresRepository(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close releases all database resources
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Pool exposes the underlying connection pool for schema setup and health checks
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// SaveElection upserts an election into the local cache
func (r *PostgresRepository) SaveElection(ctx context.Context, election *Election) error {
	if err := election.Validate(); err != nil {
		return fmt.Errorf("validating election: %w", err)
	}

	query := `
		INSERT INTO elections (
			id, title, description, start_time, end_time, eligibility, privacy,
			guardian_count, quorum, phase, eligible_voters, candidates,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			eligibility = EXCLUDED.eligibility,
			privacy = EXCLUDED.privacy,
			guardian_count = EXCLUDED.guardian_count,
			quorum = EXCLUDED.quorum,
			phase = EXCLUDED.phase,
			eligible_voters = EXCLUDED.eligible_voters,
			candidates = EXCLUDED.candidates,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		election.ID, election.Title, election.Description, election.StartTime,
		election.EndTime, string(election.Eligibility), string(election.Privacy),
		election.GuardianCount, election.Quorum, string(election.Phase),
		election.EligibleVoters, election.Candidates,
		election.CreatedAt, time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("upserting election: %w", err)
	}

	return nil
}

// GetElection retrieves a cached election by ID
func (r *PostgresRepository) GetElection(ctx context.Context, id string) (*Election, error) {
	query := `
		SELECT id, title, description, start_time, end_time, eligibility, privacy,
			   guardian_count, quorum, phase, eligible_voters, candidates,
			   created_at, updated_at
		FROM elections
		WHERE id = $1`

	election := &Election{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&election.ID, &election.Title, &election.Description, &election.StartTime,
		&election.EndTime, &election.Eligibility, &election.Privacy,
		&election.GuardianCount, &election.Quorum, &election.Phase,
		&election.EligibleVoters, &election.Candidates,
		&election.CreatedAt, &election.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying election: %w", err)
	}

	return election, nil
}

// ListElections retrieves cached elections based on filter criteria
func (r *PostgresRepository) ListElections(ctx context.Context, filter ElectionFilter) ([]*Election, error) {
	query := `
		SELECT id, title, description, start_time, end_time, eligibility, privacy,
			   guardian_count, quorum, phase, eligible_voters, candidates,
			   created_at, updated_at
		FROM elections
		WHERE 1=1`

	args := make([]interface{}, 0)
	argCount := 1

	// Build dynamic query based on filter
	if filter.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argCount)
		args = append(args, string(filter.Phase))
		argCount++
	}

	if filter.EndsBefore != nil {
		query += fmt.Sprintf(" AND end_time <= $%d", argCount)
		args = append(args, *filter.EndsBefore)
		argCount++
	}

	if filter.EndsAfter != nil {
		query += fmt.Sprintf(" AND end_time >= $%d", argCount)
		args = append(args, *filter.EndsAfter)
		argCount++
	}

	// Add ordering
	query += " ORDER BY end_time DESC"

	// Add pagination
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying election list: %w", err)
	}
	defer rows.Close()

	var results []*Election
	for rows.Next() {
		election := &Election{}
		err := rows.Scan(
			&election.ID, &election.Title, &election.Description, &election.StartTime,
			&election.EndTime, &election.Eligibility, &election.Privacy,
			&election.GuardianCount, &election.Quorum, &election.Phase,
			&election.EligibleVoters, &election.Candidates,
			&election.CreatedAt, &election.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning election row: %w", err)
		}
		results = append(results, election)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating election rows: %w", err)
	}

	return results, nil
}

// DeleteElection removes an election from the local cache
func (r *PostgresRepository) DeleteElection(ctx context.Context, id string) error {
	query := `DELETE FROM elections WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting election: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveGuardian upserts a guardian snapshot keyed by (election, email)
func (r *PostgresRepository) SaveGuardian(ctx context.Context, guardian *Guardian) error {
	if guardian.ElectionID == "" || guardian.Email == "" {
		return fmt.Errorf("validating guardian: %w", ErrInvalidID)
	}

	query := `
		INSERT INTO guardians (
			election_id, sequence, email, submitted, job_state, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (election_id, email) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			submitted = EXCLUDED.submitted,
			job_state = EXCLUDED.job_state,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		guardian.ElectionID, guardian.Sequence, guardian.Email,
		guardian.Submitted, string(guardian.JobState), time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("upserting guardian: %w", err)
	}

	return nil
}

// GetGuardian retrieves a guardian snapshot
func (r *PostgresRepository) GetGuardian(ctx context.Context, electionID, email string) (*Guardian, error) {
	query := `
		SELECT election_id, sequence, email, submitted, job_state, updated_at
		FROM guardians
		WHERE election_id = $1 AND email = $2`

	guardian := &Guardian{}
	err := r.pool.QueryRow(ctx, query, electionID, email).Scan(
		&guardian.ElectionID, &guardian.Sequence, &guardian.Email,
		&guardian.Submitted, &guardian.JobState, &guardian.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying guardian: %w", err)
	}

	return guardian, nil
}

// ListGuardians retrieves all guardian snapshots for an election in sequence order
func (r *PostgresRepository) ListGuardians(ctx context.Context, electionID string) ([]*Guardian, error) {
	query := `
		SELECT election_id, sequence, email, submitted, job_state, updated_at
		FROM guardians
		WHERE election_id = $1
		ORDER BY sequence ASC`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying guardians: %w", err)
	}
	defer rows.Close()

	var guardians []*Guardian
	for rows.Next() {
		guardian := &Guardian{}
		err := rows.Scan(
			&guardian.ElectionID, &guardian.Sequence, &guardian.Email,
			&guardian.Submitted, &guardian.JobState, &guardian.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning guardian row: %w", err)
		}
		guardians = append(guardians, guardian)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guardian rows: %w", err)
	}

	return guardians, nil
}

// SaveVoteReceipt persists a vote receipt
func (r *PostgresRepository) SaveVoteReceipt(ctx context.Context, receipt *VoteReceipt) error {
	if receipt.ID == "" {
		return fmt.Errorf("validating receipt: %w", ErrInvalidID)
	}

	query := `
		INSERT INTO vote_receipts (
			id, election_id, tracking_code, hash, disposition, challenge_match, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		receipt.ID, receipt.ElectionID, receipt.TrackingCode, receipt.Hash,
		string(receipt.Disposition), receipt.ChallengeMatch, receipt.CreatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting vote receipt: %w", err)
	}

	return nil
}

// GetVoteReceipt retrieves a receipt by election and tracking code
func (r *PostgresRepository) GetVoteReceipt(ctx context.Context, electionID, trackingCode string) (*VoteReceipt, error) {
	query := `
		SELECT id, election_id, tracking_code, hash, disposition, challenge_match, created_at
		FROM vote_receipts
		WHERE election_id = $1 AND tracking_code = $2`

	receipt := &VoteReceipt{}
	err := r.pool.QueryRow(ctx, query, electionID, trackingCode).Scan(
		&receipt.ID, &receipt.ElectionID, &receipt.TrackingCode, &receipt.Hash,
		&receipt.Disposition, &receipt.ChallengeMatch, &receipt.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying vote receipt: %w", err)
	}

	return receipt, nil
}

// ListVoteReceipts retrieves all receipts recorded for an election
func (r *PostgresRepository) ListVoteReceipts(ctx context.Context, electionID string) ([]*VoteReceipt, error) {
	query := `
		SELECT id, election_id, tracking_code, hash, disposition, challenge_match, created_at
		FROM vote_receipts
		WHERE election_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying vote receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*VoteReceipt
	for rows.Next() {
		receipt := &VoteReceipt{}
		err := rows.Scan(
			&receipt.ID, &receipt.ElectionID, &receipt.TrackingCode, &receipt.Hash,
			&receipt.Disposition, &receipt.ChallengeMatch, &receipt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning vote receipt row: %w", err)
		}
		receipts = append(receipts, receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vote receipt rows: %w", err)
	}

	return receipts, nil
}

// SaveAuditEntry appends an entry to the audit log
func (r *PostgresRepository) SaveAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("validating audit entry: %w", ErrInvalidID)
	}

	query := `
		INSERT INTO audit_entries (
			id, election_id, action, actor, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.ElectionID, string(entry.Action), entry.Actor,
		entry.Detail, entry.CreatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries retrieves audit entries based on filter criteria
func (r *PostgresRepository) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT id, election_id, action, actor, detail, created_at
		FROM audit_entries
		WHERE 1=1`

	args := make([]interface{}, 0)
	argCount := 1

	if filter.ElectionID != "" {
		query += fmt.Sprintf(" AND election_id = $%d", argCount)
		args = append(args, filter.ElectionID)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, string(filter.Action))
		argCount++
	}

	if filter.FromTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.FromTime)
		argCount++
	}

	if filter.ToTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.ToTime)
		argCount++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID, &entry.ElectionID, &entry.Action, &entry.Actor,
			&entry.Detail, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entry rows: %w", err)
	}

	return entries, nil
}

// Helper function to check for PostgreSQL duplicate key errors
func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
