package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/orand/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const table = "randomness_requests"

// Request statuses mirror the on-chain randomness status.
const (
	StatusPending   = "pending"
	StatusFulfilled = "fulfilled"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// RandomnessRequest is the ledger entry for one seed on one network.
// Signatures, keys and randomness are stored base58 encoded.
type RandomnessRequest struct {
	Seed                 string
	Network              string
	Address              string
	Status               string
	RequestSignature     *string
	Randomness           *string
	FulfillmentSignature *string
	Authority            *string
	Verified             bool
	VerifyError          *string
	WorkflowID           *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UpsertRequestParams contains the parameters for recording a request.
// Nil fields leave existing values untouched.
type UpsertRequestParams struct {
	Seed             string
	Network          string
	Address          string
	RequestSignature *string
	WorkflowID       *string
}

// ListRequestsParams contains filter and pagination parameters.
type ListRequestsParams struct {
	Network string
	Status  *string
	Limit   int32
	Offset  int32
}

// MarkFulfilledParams records the randomness read from the chain.
type MarkFulfilledParams struct {
	Seed       string
	Network    string
	Randomness string
}

// MarkVerifiedParams records the outcome of an offchain verification.
type MarkVerifiedParams struct {
	Seed                 string
	Network              string
	Verified             bool
	FulfillmentSignature *string
	Authority            *string
	VerifyError          *string
}

const requestColumns = `seed, network, address, status, request_signature, randomness,
	fulfillment_signature, authority, verified, verify_error, workflow_id, created_at, updated_at`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schema)
	s.record("ensure_schema", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpsertRequest inserts a request or refreshes an existing one.
func (s *Store) UpsertRequest(ctx context.Context, params UpsertRequestParams) (*RandomnessRequest, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO randomness_requests (seed, network, address, request_signature, workflow_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (seed, network) DO UPDATE SET
			request_signature = COALESCE(EXCLUDED.request_signature, randomness_requests.request_signature),
			workflow_id       = COALESCE(EXCLUDED.workflow_id, randomness_requests.workflow_id),
			updated_at        = NOW()
		RETURNING `+requestColumns,
		params.Seed,
		params.Network,
		params.Address,
		pgtextFromStringPtr(params.RequestSignature),
		pgtextFromStringPtr(params.WorkflowID),
	)
	req, err := scanRequest(row)
	s.record("upsert", start, err)
	return req, err
}

// GetRequest retrieves a request by seed and network. It returns
// pgx.ErrNoRows if the seed was never recorded.
func (s *Store) GetRequest(ctx context.Context, seed, network string) (*RandomnessRequest, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM randomness_requests WHERE seed = $1 AND network = $2`,
		seed, network,
	)
	req, err := scanRequest(row)
	s.record("get", start, notFoundIsSuccess(err))
	return req, err
}

// ListRequests returns requests for a network, newest first.
func (s *Store) ListRequests(ctx context.Context, params ListRequestsParams) ([]*RandomnessRequest, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM randomness_requests
		WHERE network = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, seed
		LIMIT $3 OFFSET $4`,
		params.Network,
		pgtextFromStringPtr(params.Status),
		params.Limit,
		params.Offset,
	)
	if err != nil {
		s.record("list", start, err)
		return nil, err
	}
	defer rows.Close()

	var out []*RandomnessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			s.record("list", start, err)
			return nil, err
		}
		out = append(out, req)
	}
	err = rows.Err()
	s.record("list", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkFulfilled stores the randomness and flips the status to fulfilled.
func (s *Store) MarkFulfilled(ctx context.Context, params MarkFulfilledParams) (*RandomnessRequest, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE randomness_requests
		SET status = 'fulfilled', randomness = $3, updated_at = NOW()
		WHERE seed = $1 AND network = $2
		RETURNING `+requestColumns,
		params.Seed, params.Network, params.Randomness,
	)
	req, err := scanRequest(row)
	s.record("mark_fulfilled", start, notFoundIsSuccess(err))
	return req, err
}

// MarkVerified stores the verification outcome.
func (s *Store) MarkVerified(ctx context.Context, params MarkVerifiedParams) (*RandomnessRequest, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE randomness_requests
		SET verified = $3,
			fulfillment_signature = COALESCE($4, fulfillment_signature),
			authority = COALESCE($5, authority),
			verify_error = $6,
			updated_at = NOW()
		WHERE seed = $1 AND network = $2
		RETURNING `+requestColumns,
		params.Seed,
		params.Network,
		params.Verified,
		pgtextFromStringPtr(params.FulfillmentSignature),
		pgtextFromStringPtr(params.Authority),
		pgtextFromStringPtr(params.VerifyError),
	)
	req, err := scanRequest(row)
	s.record("mark_verified", start, notFoundIsSuccess(err))
	return req, err
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

func notFoundIsSuccess(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func scanRequest(row pgx.Row) (*RandomnessRequest, error) {
	var (
		r                                                 RandomnessRequest
		reqSig, randomness, fulSig, authority, verr, wfID pgtype.Text
		createdAt, updatedAt                              pgtype.Timestamptz
	)
	err := row.Scan(
		&r.Seed,
		&r.Network,
		&r.Address,
		&r.Status,
		&reqSig,
		&randomness,
		&fulSig,
		&authority,
		&r.Verified,
		&verr,
		&wfID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RequestSignature = stringPtrFromPgtext(reqSig)
	r.Randomness = stringPtrFromPgtext(randomness)
	r.FulfillmentSignature = stringPtrFromPgtext(fulSig)
	r.Authority = stringPtrFromPgtext(authority)
	r.VerifyError = stringPtrFromPgtext(verr)
	r.WorkflowID = stringPtrFromPgtext(wfID)
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	return &r, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
