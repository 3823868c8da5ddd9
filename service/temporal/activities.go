package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/orand/service/db"
	"github.com/brojonat/orand/service/metrics"
	natspkg "github.com/brojonat/orand/service/nats"
	"github.com/brojonat/orand/service/vrf"
	"go.temporal.io/sdk/temporal"
)

// RequestRandomnessInput contains parameters for the RequestRandomness activity.
type RequestRandomnessInput struct {
	Seed       string `json:"seed"`
	Network    string `json:"network"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// RequestRandomnessResult reports whether a request transaction was sent.
type RequestRandomnessResult struct {
	Seed      string  `json:"seed"`
	Address   string  `json:"address"`
	Submitted bool    `json:"submitted"`
	Signature *string `json:"signature,omitempty"`
}

// CheckFulfillmentInput contains parameters for the CheckFulfillment activity.
type CheckFulfillmentInput struct {
	Seed    string `json:"seed"`
	Network string `json:"network"`
}

// CheckFulfillmentResult is a snapshot of the randomness account.
type CheckFulfillmentResult struct {
	Exists     bool    `json:"exists"`
	Fulfilled  bool    `json:"fulfilled"`
	Randomness string  `json:"randomness,omitempty"`
	Value      *uint64 `json:"value,omitempty"`
}

// VerifyRandomnessInput contains parameters for the VerifyRandomness activity.
type VerifyRandomnessInput struct {
	Seed    string `json:"seed"`
	Network string `json:"network"`
}

// VerifyRandomnessResult is the outcome of offchain verification. A
// verification that ran and failed is reported through Error rather than as
// an activity failure, so the outcome can still be recorded.
type VerifyRandomnessResult struct {
	Verified             bool       `json:"verified"`
	Trusted              bool       `json:"trusted"`
	Randomness           string     `json:"randomness,omitempty"`
	FulfillmentSignature string     `json:"fulfillment_signature,omitempty"`
	Authority            string     `json:"authority,omitempty"`
	Slot                 uint64     `json:"slot,omitempty"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
	Error                string     `json:"error,omitempty"`
}

// RecordResultInput contains parameters for the RecordResult activity.
type RecordResultInput struct {
	Seed         string                 `json:"seed"`
	Network      string                 `json:"network"`
	Randomness   string                 `json:"randomness"`
	Verification VerifyRandomnessResult `json:"verification"`
	StartedAt    time.Time              `json:"started_at"`
}

// PublishResultInput contains parameters for the PublishResult activity.
type PublishResultInput struct {
	Seed         string                 `json:"seed"`
	Network      string                 `json:"network"`
	Randomness   string                 `json:"randomness"`
	Value        *uint64                `json:"value,omitempty"`
	Verification VerifyRandomnessResult `json:"verification"`
}

// RandomnessService is the on-chain surface the activities need.
// *vrf.Requestor satisfies it.
type RandomnessService interface {
	Env() vrf.Env
	Request(ctx context.Context, signer vrf.Signer, seed vrf.Seed) (*vrf.RequestResult, error)
	Randomness(ctx context.Context, seed vrf.Seed) (*vrf.Randomness, error)
	Verify(ctx context.Context, seed vrf.Seed) (*vrf.Verification, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpsertRequest(context.Context, db.UpsertRequestParams) (*db.RandomnessRequest, error)
	MarkFulfilled(context.Context, db.MarkFulfilledParams) (*db.RandomnessRequest, error)
	MarkVerified(context.Context, db.MarkVerifiedParams) (*db.RandomnessRequest, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishRandomness(ctx context.Context, event *natspkg.RandomnessEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	vrf       RandomnessService
	signer    vrf.Signer
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// A nil signer makes RequestRandomness fail for seeds with no account yet; a
// nil publisher disables event publishing; a nil metrics records nothing.
func NewActivities(
	service RandomnessService,
	signer vrf.Signer,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		vrf:       service,
		signer:    signer,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// RequestRandomness submits the on-chain request for a seed (a no-op when
// the account already exists) and records it in the database.
func (a *Activities) RequestRandomness(ctx context.Context, input RequestRandomnessInput) (result *RequestRandomnessResult, err error) {
	defer a.recordDuration("RequestRandomness", time.Now(), &err)

	seed, err := a.parseInput(input.Seed, input.Network)
	if err != nil {
		return nil, err
	}

	res, err := a.request(ctx, seed)
	if err != nil {
		a.logger.ErrorContext(ctx, "randomness request failed", "seed", input.Seed, "error", err)
		return nil, err
	}

	result = &RequestRandomnessResult{
		Seed:      input.Seed,
		Address:   res.Address.String(),
		Submitted: res.Submitted,
	}
	if res.Signature != nil {
		sig := res.Signature.String()
		result.Signature = &sig
	}

	params := db.UpsertRequestParams{
		Seed:             input.Seed,
		Network:          input.Network,
		Address:          result.Address,
		RequestSignature: result.Signature,
	}
	if input.WorkflowID != "" {
		params.WorkflowID = &input.WorkflowID
	}
	if _, err := a.store.UpsertRequest(ctx, params); err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}

	a.publish(ctx, natspkg.RequestedEvent(vrf.Network(input.Network), res))

	a.logger.InfoContext(ctx, "randomness requested",
		"seed", input.Seed,
		"address", result.Address,
		"submitted", result.Submitted,
	)
	return result, nil
}

// request sends the request transaction. Without a signer it only follows
// accounts that already exist on chain.
func (a *Activities) request(ctx context.Context, seed vrf.Seed) (*vrf.RequestResult, error) {
	if a.signer != nil {
		res, err := a.vrf.Request(ctx, a.signer, seed)
		if err != nil {
			return nil, classify("request randomness", err)
		}
		return res, nil
	}

	_, err := a.vrf.Randomness(ctx, seed)
	switch {
	case err == nil:
		return &vrf.RequestResult{Seed: seed, Address: a.vrf.Env().RandomnessAddress(seed)}, nil
	case errors.Is(err, vrf.ErrAccountNotFound):
		return nil, temporal.NewNonRetryableApplicationError("no payer keypair configured", "Configuration", nil)
	default:
		return nil, classify("request randomness", err)
	}
}

// CheckFulfillment reads the randomness account once. A missing account is
// reported as not existing rather than as an error, since the request may
// not be visible at the read commitment yet.
func (a *Activities) CheckFulfillment(ctx context.Context, input CheckFulfillmentInput) (result *CheckFulfillmentResult, err error) {
	defer a.recordDuration("CheckFulfillment", time.Now(), &err)

	seed, err := a.parseInput(input.Seed, input.Network)
	if err != nil {
		return nil, err
	}

	rnd, err := a.vrf.Randomness(ctx, seed)
	if errors.Is(err, vrf.ErrAccountNotFound) {
		return &CheckFulfillmentResult{}, nil
	}
	if err != nil {
		return nil, classify("check fulfillment", err)
	}

	result = &CheckFulfillmentResult{Exists: true, Fulfilled: rnd.Fulfilled()}
	if rnd.Signature != nil {
		result.Randomness = rnd.Signature.String()
	}
	if v, ok := rnd.U64(); ok {
		result.Value = &v
	}
	return result, nil
}

// VerifyRandomness checks the fulfillment offchain. Transport and lookup
// failures are returned as retryable errors; a failed check is returned in
// the result.
func (a *Activities) VerifyRandomness(ctx context.Context, input VerifyRandomnessInput) (result *VerifyRandomnessResult, err error) {
	defer a.recordDuration("VerifyRandomness", time.Now(), &err)

	seed, err := a.parseInput(input.Seed, input.Network)
	if err != nil {
		return nil, err
	}

	v, err := a.vrf.Verify(ctx, seed)
	if err != nil {
		kind, _ := vrf.KindOf(err)
		if kind == vrf.KindVerify {
			a.logger.WarnContext(ctx, "randomness failed verification", "seed", input.Seed, "error", err)
			return &VerifyRandomnessResult{Error: err.Error()}, nil
		}
		return nil, classify("verify randomness", err)
	}

	result = &VerifyRandomnessResult{
		Verified:             true,
		Trusted:              v.Trusted,
		Randomness:           v.Randomness.String(),
		FulfillmentSignature: v.Transaction.String(),
		Authority:            v.Authority.String(),
		Slot:                 v.Slot,
		BlockTime:            v.BlockTime,
	}
	a.logger.InfoContext(ctx, "randomness verified",
		"seed", input.Seed,
		"authority", result.Authority,
		"trusted", result.Trusted,
	)
	return result, nil
}

// RecordResult stores the fulfillment and verification outcome.
func (a *Activities) RecordResult(ctx context.Context, input RecordResultInput) (err error) {
	defer a.recordDuration("RecordResult", time.Now(), &err)

	if input.Randomness != "" {
		if _, err := a.store.MarkFulfilled(ctx, db.MarkFulfilledParams{
			Seed:       input.Seed,
			Network:    input.Network,
			Randomness: input.Randomness,
		}); err != nil {
			return fmt.Errorf("failed to record fulfillment: %w", err)
		}
	}

	v := input.Verification
	params := db.MarkVerifiedParams{
		Seed:     input.Seed,
		Network:  input.Network,
		Verified: v.Verified,
	}
	if v.FulfillmentSignature != "" {
		params.FulfillmentSignature = &v.FulfillmentSignature
	}
	if v.Authority != "" {
		params.Authority = &v.Authority
	}
	if v.Error != "" {
		params.VerifyError = &v.Error
	}
	if _, err := a.store.MarkVerified(ctx, params); err != nil {
		return fmt.Errorf("failed to record verification: %w", err)
	}

	if a.metrics != nil && !input.StartedAt.IsZero() {
		status := "verified"
		if !v.Verified {
			status = "unverified"
		}
		a.metrics.RecordWorkflowDuration(input.Network, status, time.Since(input.StartedAt).Seconds())
	}
	return nil
}

// PublishResult publishes the fulfilled and verified events.
func (a *Activities) PublishResult(ctx context.Context, input PublishResultInput) (err error) {
	defer a.recordDuration("PublishResult", time.Now(), &err)

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping events", "seed", input.Seed)
		return nil
	}

	seed, err := a.parseInput(input.Seed, input.Network)
	if err != nil {
		return err
	}
	env := a.vrf.Env()
	address := env.RandomnessAddress(seed).String()
	now := time.Now().UTC()

	v := input.Verification
	events := []*natspkg.RandomnessEvent{
		{
			Type:        natspkg.EventFulfilled,
			Seed:        input.Seed,
			Network:     input.Network,
			Address:     address,
			Randomness:  input.Randomness,
			Value:       input.Value,
			PublishedAt: now,
		},
		{
			Type:                 natspkg.EventVerified,
			Seed:                 input.Seed,
			Network:              input.Network,
			Address:              address,
			Randomness:           input.Randomness,
			Value:                input.Value,
			FulfillmentSignature: v.FulfillmentSignature,
			Authority:            v.Authority,
			Verified:             v.Verified,
			Trusted:              v.Trusted,
			Slot:                 v.Slot,
			BlockTime:            v.BlockTime,
			Error:                v.Error,
			PublishedAt:          now,
		},
	}
	for _, event := range events {
		if err := a.publisher.PublishRandomness(ctx, event); err != nil {
			return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
		}
	}
	return nil
}

// parseInput decodes the seed and rejects work meant for another network.
func (a *Activities) parseInput(seedText, network string) (vrf.Seed, error) {
	seed, err := vrf.ParseSeed(seedText)
	if err != nil {
		return vrf.Seed{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid seed %q", seedText), "InvalidInput", err)
	}
	if want := a.vrf.Env().Network; network != "" && vrf.Network(network) != want {
		return vrf.Seed{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("worker serves %s, not %s", want, network), "InvalidInput", nil)
	}
	return seed, nil
}

// publish sends an event without failing the caller.
func (a *Activities) publish(ctx context.Context, event *natspkg.RandomnessEvent) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishRandomness(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "failed to publish event",
			"type", event.Type,
			"seed", event.Seed,
			"error", err,
		)
	}
}

func (a *Activities) recordDuration(name string, start time.Time, err *error) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(name, *err, time.Since(start).Seconds())
	}
}

// classify marks decode failures non-retryable; malformed account data
// does not fix itself. Everything else is left to the retry policy.
func classify(op string, err error) error {
	kind, ok := vrf.KindOf(err)
	if ok && (kind == vrf.KindDecode || kind == vrf.KindVerify) {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("%s: %v", op, err), kind.String(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
