package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/brojonat/orand/service/config"
	"github.com/brojonat/orand/service/db"
	"github.com/brojonat/orand/service/temporal"
	"github.com/brojonat/orand/service/vrf"
	"github.com/jackc/pgx/v5"
)

const (
	maxRequestBodySize = 1 << 10 // 1KB - the body carries at most a seed
	maxSeedLength      = 100     // hex seeds are 64 chars, base58 at most 44
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// RandomnessReader is the on-chain surface the handlers need.
// *vrf.Requestor satisfies it.
type RandomnessReader interface {
	Env() vrf.Env
	NetworkConfig(ctx context.Context) (*vrf.NetworkConfig, error)
	Randomness(ctx context.Context, seed vrf.Seed) (*vrf.Randomness, error)
	Verify(ctx context.Context, seed vrf.Seed) (*vrf.Verification, error)
}

// RequestStore is the read side of the request ledger.
type RequestStore interface {
	GetRequest(ctx context.Context, seed, network string) (*db.RandomnessRequest, error)
	ListRequests(ctx context.Context, params db.ListRequestsParams) ([]*db.RandomnessRequest, error)
}

// WorkflowStarter starts and inspects randomness workflows.
type WorkflowStarter interface {
	StartRandomnessWorkflow(ctx context.Context, input temporal.RandomnessWorkflowInput) (string, error)
	DescribeRandomnessWorkflow(ctx context.Context, workflowID string) (*temporal.WorkflowStatus, error)
}

type requestRandomnessRequest struct {
	Seed string `json:"seed,omitempty"`
}

type requestRandomnessResponse struct {
	Seed       string `json:"seed"`
	SeedHex    string `json:"seed_hex"`
	Network    string `json:"network"`
	Address    string `json:"address"`
	WorkflowID string `json:"workflow_id"`
}

type randomnessResponse struct {
	Seed       string          `json:"seed"`
	SeedHex    string          `json:"seed_hex"`
	Network    string          `json:"network"`
	Address    string          `json:"address"`
	OnChain    bool            `json:"on_chain"`
	Status     string          `json:"status"`
	Randomness string          `json:"randomness,omitempty"`
	Value      *uint64         `json:"value,omitempty"`
	Record     *recordResponse `json:"record,omitempty"`
}

type recordResponse struct {
	Status               string    `json:"status"`
	RequestSignature     *string   `json:"request_signature,omitempty"`
	Randomness           *string   `json:"randomness,omitempty"`
	FulfillmentSignature *string   `json:"fulfillment_signature,omitempty"`
	Authority            *string   `json:"authority,omitempty"`
	Verified             bool      `json:"verified"`
	VerifyError          *string   `json:"verify_error,omitempty"`
	WorkflowID           *string   `json:"workflow_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type listedRequestResponse struct {
	Seed    string `json:"seed"`
	Network string `json:"network"`
	Address string `json:"address"`
	recordResponse
}

type verifyResponse struct {
	Seed                 string     `json:"seed"`
	Network              string     `json:"network"`
	Address              string     `json:"address"`
	Verified             bool       `json:"verified"`
	Randomness           string     `json:"randomness"`
	Value                uint64     `json:"value"`
	FulfillmentSignature string     `json:"fulfillment_signature"`
	Authority            string     `json:"authority"`
	Trusted              bool       `json:"trusted"`
	Slot                 uint64     `json:"slot"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
}

type addressResponse struct {
	Seed      string `json:"seed"`
	SeedHex   string `json:"seed_hex"`
	Network   string `json:"network"`
	ProgramID string `json:"program_id"`
	Address   string `json:"address"`
}

type configResponse struct {
	Network                string   `json:"network"`
	ProgramID              string   `json:"program_id"`
	ConfigAddress          string   `json:"config_address"`
	Authority              string   `json:"authority"`
	Treasury               string   `json:"treasury"`
	RequestFee             uint64   `json:"request_fee"`
	FulfillmentAuthorities []string `json:"fulfillment_authorities"`
}

// handleRequestRandomness returns a handler that starts a randomness workflow.
// POST /api/v1/randomness
// An empty body or seed draws a fresh random seed.
func handleRequestRandomness(rnd RandomnessReader, workflows WorkflowStarter, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if workflows == nil {
			writeError(w, "workflow engine not configured", http.StatusServiceUnavailable)
			return
		}

		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req requestRandomnessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var seed vrf.Seed
		var err error
		if req.Seed == "" {
			seed, err = vrf.RandomSeed()
			if err != nil {
				logger.Error("failed to generate seed", "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		} else {
			seed, err = parseSeed(req.Seed)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		env := rnd.Env()
		workflowID, err := workflows.StartRandomnessWorkflow(r.Context(), temporal.RandomnessWorkflowInput{
			Seed:               seed.String(),
			Network:            string(env.Network),
			PollInterval:       cfg.PollInterval,
			FulfillmentTimeout: cfg.FulfillmentTimeout,
		})
		if err != nil {
			logger.Error("failed to start randomness workflow", "seed", seed.String(), "error", err)
			writeError(w, "failed to start randomness request", http.StatusInternalServerError)
			return
		}

		logger.Info("randomness requested", "seed", seed.String(), "workflow_id", workflowID)

		writeJSON(w, requestRandomnessResponse{
			Seed:       seed.String(),
			SeedHex:    seed.Hex(),
			Network:    string(env.Network),
			Address:    env.RandomnessAddress(seed).String(),
			WorkflowID: workflowID,
		}, http.StatusAccepted)
	})
}

// handleGetRandomness returns a handler that reports the on-chain state of a
// request merged with the service's own record of it.
// GET /api/v1/randomness/{seed}
func handleGetRandomness(rnd RandomnessReader, store RequestStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seed, err := parseSeed(r.PathValue("seed"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		env := rnd.Env()
		resp := randomnessResponse{
			Seed:    seed.String(),
			SeedHex: seed.Hex(),
			Network: string(env.Network),
			Address: env.RandomnessAddress(seed).String(),
			Status:  "unknown",
		}

		state, err := rnd.Randomness(r.Context(), seed)
		switch {
		case err == nil:
			resp.OnChain = true
			resp.Status = state.Status.String()
			if state.Signature != nil {
				resp.Randomness = state.Signature.String()
			}
			if v, ok := state.U64(); ok {
				resp.Value = &v
			}
		case errors.Is(err, vrf.ErrNotFound):
		default:
			writeVRFError(w, logger, "failed to read randomness", err)
			return
		}

		if store != nil {
			rec, err := store.GetRequest(r.Context(), resp.Seed, resp.Network)
			switch {
			case err == nil:
				record := recordToResponse(rec)
				resp.Record = &record
			case errors.Is(err, pgx.ErrNoRows):
			default:
				logger.Error("failed to get request record", "seed", resp.Seed, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		if !resp.OnChain && resp.Record == nil {
			writeError(w, "randomness request not found", http.StatusNotFound)
			return
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleListRandomness returns a handler that lists recorded requests.
// GET /api/v1/randomness?status={pending|fulfilled}&limit={n}&offset={n}
func handleListRandomness(rnd RandomnessReader, store RequestStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "request ledger not configured", http.StatusServiceUnavailable)
			return
		}

		params := db.ListRequestsParams{
			Network: string(rnd.Env().Network),
			Limit:   defaultListLimit,
		}
		query := r.URL.Query()
		if status := query.Get("status"); status != "" {
			if status != db.StatusPending && status != db.StatusFulfilled {
				writeError(w, fmt.Sprintf("invalid status %q (must be %q or %q)", status, db.StatusPending, db.StatusFulfilled), http.StatusBadRequest)
				return
			}
			params.Status = &status
		}
		var err error
		if params.Limit, err = parseBound(query.Get("limit"), defaultListLimit, 1, maxListLimit); err != nil {
			writeError(w, "invalid limit: "+err.Error(), http.StatusBadRequest)
			return
		}
		if params.Offset, err = parseBound(query.Get("offset"), 0, 0, 1<<30); err != nil {
			writeError(w, "invalid offset: "+err.Error(), http.StatusBadRequest)
			return
		}

		requests, err := store.ListRequests(r.Context(), params)
		if err != nil {
			logger.Error("failed to list requests", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]listedRequestResponse, len(requests))
		for i, req := range requests {
			resp[i] = listedRequestResponse{
				Seed:           req.Seed,
				Network:        req.Network,
				Address:        req.Address,
				recordResponse: recordToResponse(req),
			}
		}
		writeJSON(w, map[string]interface{}{
			"requests": resp,
			"limit":    params.Limit,
			"offset":   params.Offset,
		}, http.StatusOK)
	})
}

// handleVerifyRandomness returns a handler that verifies a fulfillment
// offchain from public ledger data.
// GET /api/v1/randomness/{seed}/verify
func handleVerifyRandomness(rnd RandomnessReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seed, err := parseSeed(r.PathValue("seed"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		v, err := rnd.Verify(r.Context(), seed)
		if err != nil {
			writeVRFError(w, logger, "verification failed", err)
			return
		}

		value := vrf.Randomness{Signature: &v.Randomness, Status: vrf.StatusFulfilled}
		u, _ := value.U64()
		writeJSON(w, verifyResponse{
			Seed:                 seed.String(),
			Network:              string(rnd.Env().Network),
			Address:              v.Address.String(),
			Verified:             true,
			Randomness:           v.Randomness.String(),
			Value:                u,
			FulfillmentSignature: v.Transaction.String(),
			Authority:            v.Authority.String(),
			Trusted:              v.Trusted,
			Slot:                 v.Slot,
			BlockTime:            v.BlockTime,
		}, http.StatusOK)
	})
}

// handleGetAddress returns a handler that derives the randomness account
// address for a seed. No RPC is made.
// GET /api/v1/address/{seed}
func handleGetAddress(rnd RandomnessReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seed, err := parseSeed(r.PathValue("seed"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		env := rnd.Env()
		writeJSON(w, addressResponse{
			Seed:      seed.String(),
			SeedHex:   seed.Hex(),
			Network:   string(env.Network),
			ProgramID: env.ProgramID.String(),
			Address:   env.RandomnessAddress(seed).String(),
		}, http.StatusOK)
	})
}

// handleGetConfig returns a handler that reads the program configuration.
// GET /api/v1/config
func handleGetConfig(rnd RandomnessReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg, err := rnd.NetworkConfig(r.Context())
		if err != nil {
			writeVRFError(w, logger, "failed to read network config", err)
			return
		}
		env := rnd.Env()
		authorities := make([]string, len(cfg.FulfillmentAuthorities))
		for i, key := range cfg.FulfillmentAuthorities {
			authorities[i] = key.String()
		}
		writeJSON(w, configResponse{
			Network:                string(env.Network),
			ProgramID:              env.ProgramID.String(),
			ConfigAddress:          env.ConfigAddress().String(),
			Authority:              cfg.Authority.String(),
			Treasury:               cfg.Treasury.String(),
			RequestFee:             cfg.RequestFee,
			FulfillmentAuthorities: authorities,
		}, http.StatusOK)
	})
}

// handleGetWorkflow returns a handler that reports a workflow's status.
// GET /api/v1/workflows/{workflow_id}
func handleGetWorkflow(workflows WorkflowStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if workflows == nil {
			writeError(w, "workflow engine not configured", http.StatusServiceUnavailable)
			return
		}
		id := r.PathValue("workflow_id")
		if id == "" || len(id) > 256 {
			writeError(w, "invalid workflow id", http.StatusBadRequest)
			return
		}

		status, err := workflows.DescribeRandomnessWorkflow(r.Context(), id)
		if err != nil {
			if errors.Is(err, temporal.ErrWorkflowNotFound) {
				writeError(w, "workflow not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to describe workflow", "workflow_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

// recordToResponse converts a ledger entry to a response format.
func recordToResponse(rec *db.RandomnessRequest) recordResponse {
	return recordResponse{
		Status:               rec.Status,
		RequestSignature:     rec.RequestSignature,
		Randomness:           rec.Randomness,
		FulfillmentSignature: rec.FulfillmentSignature,
		Authority:            rec.Authority,
		Verified:             rec.Verified,
		VerifyError:          rec.VerifyError,
		WorkflowID:           rec.WorkflowID,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeVRFError maps the error kinds of the vrf package to status codes.
func writeVRFError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	kind, ok := vrf.KindOf(err)
	if !ok {
		logger.Error(msg, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	switch kind {
	case vrf.KindNotFound:
		writeError(w, err.Error(), http.StatusNotFound)
	case vrf.KindDecode, vrf.KindVerify:
		logger.Warn(msg, "error", err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		logger.Error(msg, "error", err)
		writeError(w, "upstream RPC error: "+err.Error(), http.StatusBadGateway)
	}
}

// parseSeed validates untrusted seed input before decoding it.
func parseSeed(s string) (vrf.Seed, error) {
	if s == "" {
		return vrf.Seed{}, errorf("seed is required")
	}
	if len(s) > maxSeedLength {
		return vrf.Seed{}, errorf("seed too long (max %d characters)", maxSeedLength)
	}
	seed, err := vrf.ParseSeed(s)
	if err != nil {
		return vrf.Seed{}, errorf("%v", err)
	}
	return seed, nil
}

// validateAddress validates an account address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return errorf("address too long (max %d characters)", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return errorf("address contains invalid characters (must be base58)")
	}
	return nil
}

func parseBound(s string, def, min, max int32) (int32, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errorf("not a number")
	}
	if int32(n) < min || int32(n) > max {
		return 0, errorf("must be between %d and %d", min, max)
	}
	return int32(n), nil
}

// errorf creates a validation error with formatted message.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
