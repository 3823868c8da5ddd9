package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	defaultPollInterval       = 2 * time.Second
	defaultFulfillmentTimeout = 2 * time.Minute

	StatusVerified   = "verified"
	StatusUnverified = "unverified"
)

// RandomnessWorkflowInput contains the input parameters for a randomness request.
type RandomnessWorkflowInput struct {
	Seed               string        `json:"seed"`
	Network            string        `json:"network"`
	PollInterval       time.Duration `json:"poll_interval,omitempty"`
	FulfillmentTimeout time.Duration `json:"fulfillment_timeout,omitempty"`
}

// RandomnessWorkflowResult contains the outcome of a randomness request.
type RandomnessWorkflowResult struct {
	Seed                 string     `json:"seed"`
	Network              string     `json:"network"`
	Address              string     `json:"address,omitempty"`
	Submitted            bool       `json:"submitted"`
	RequestSignature     *string    `json:"request_signature,omitempty"`
	Randomness           string     `json:"randomness,omitempty"`
	Value                *uint64    `json:"value,omitempty"`
	Verified             bool       `json:"verified"`
	Trusted              bool       `json:"trusted"`
	Authority            string     `json:"authority,omitempty"`
	FulfillmentSignature string     `json:"fulfillment_signature,omitempty"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
	Polls                int        `json:"polls"`
	Status               string     `json:"status"`
	Error                *string    `json:"error,omitempty"`
	CompletedAt          time.Time  `json:"completed_at"`
}

// RandomnessWorkflow requests randomness for a seed and follows it to a
// verified result.
//
// The workflow performs these steps:
// 1. Submit the request (RequestRandomness activity, idempotent per seed)
// 2. Poll the account (CheckFulfillment) with a durable timer until fulfilled
// 3. Verify the fulfillment offchain (VerifyRandomness)
// 4. Record the outcome in the database (RecordResult)
// 5. Publish fulfilled and verified events to NATS (PublishResult)
func RandomnessWorkflow(ctx workflow.Context, input RandomnessWorkflowInput) (*RandomnessWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RandomnessWorkflow started", "seed", input.Seed, "network", input.Network)

	startedAt := workflow.Now(ctx)
	pollInterval := input.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	timeout := input.FulfillmentTimeout
	if timeout <= 0 {
		timeout = defaultFulfillmentTimeout
	}

	result := &RandomnessWorkflowResult{
		Seed:    input.Seed,
		Network: input.Network,
	}
	// A failed workflow has no readable result, so the error carries the step.
	fail := func(step string, err error) (*RandomnessWorkflowResult, error) {
		logger.Error("RandomnessWorkflow failed", "seed", input.Seed, "step", step, "error", err)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	// Configure activity options
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Submit the request
	var reqResult *RequestRandomnessResult
	err := workflow.ExecuteActivity(ctx, a.RequestRandomness, RequestRandomnessInput{
		Seed:       input.Seed,
		Network:    input.Network,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
	}).Get(ctx, &reqResult)
	if err != nil {
		return fail("failed to request randomness", err)
	}
	result.Address = reqResult.Address
	result.Submitted = reqResult.Submitted
	result.RequestSignature = reqResult.Signature

	// Step 2: Await fulfillment
	deadline := startedAt.Add(timeout)
	var check *CheckFulfillmentResult
	for {
		result.Polls++
		err = workflow.ExecuteActivity(ctx, a.CheckFulfillment, CheckFulfillmentInput{
			Seed:    input.Seed,
			Network: input.Network,
		}).Get(ctx, &check)
		if err != nil {
			return fail("failed to check fulfillment", err)
		}
		if check.Fulfilled {
			break
		}
		if !workflow.Now(ctx).Add(pollInterval).Before(deadline) {
			logger.Warn("randomness not fulfilled before timeout",
				"seed", input.Seed,
				"polls", result.Polls,
				"timeout", timeout,
			)
			return fail("awaiting fulfillment", fmt.Errorf("not fulfilled within %s", timeout))
		}
		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return fail("awaiting fulfillment", err)
		}
	}
	result.Randomness = check.Randomness
	result.Value = check.Value
	logger.Info("randomness fulfilled", "seed", input.Seed, "polls", result.Polls)

	// Step 3: Verify offchain
	var verification *VerifyRandomnessResult
	err = workflow.ExecuteActivity(ctx, a.VerifyRandomness, VerifyRandomnessInput{
		Seed:    input.Seed,
		Network: input.Network,
	}).Get(ctx, &verification)
	if err != nil {
		return fail("failed to verify randomness", err)
	}
	result.Verified = verification.Verified
	result.Trusted = verification.Trusted
	result.Authority = verification.Authority
	result.FulfillmentSignature = verification.FulfillmentSignature
	result.BlockTime = verification.BlockTime
	if verification.Error != "" {
		result.Error = &verification.Error
	}

	// Step 4: Record the outcome
	err = workflow.ExecuteActivity(ctx, a.RecordResult, RecordResultInput{
		Seed:         input.Seed,
		Network:      input.Network,
		Randomness:   result.Randomness,
		Verification: *verification,
		StartedAt:    startedAt,
	}).Get(ctx, nil)
	if err != nil {
		return fail("failed to record result", err)
	}

	// Step 5: Publish events. Delivery is best effort; the record above is
	// the source of truth.
	err = workflow.ExecuteActivity(ctx, a.PublishResult, PublishResultInput{
		Seed:         input.Seed,
		Network:      input.Network,
		Randomness:   result.Randomness,
		Value:        result.Value,
		Verification: *verification,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to publish result", "seed", input.Seed, "error", err)
	}

	result.Status = StatusVerified
	if !result.Verified {
		result.Status = StatusUnverified
	}
	result.CompletedAt = workflow.Now(ctx)

	logger.Info("RandomnessWorkflow completed",
		"seed", input.Seed,
		"status", result.Status,
		"trusted", result.Trusted,
	)
	return result, nil
}
