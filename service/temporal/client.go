package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrWorkflowNotFound is returned when no workflow exists for an ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowStatus describes a randomness workflow execution.
type WorkflowStatus struct {
	WorkflowID string                    `json:"workflow_id"`
	RunID      string                    `json:"run_id"`
	Status     string                    `json:"status"` // "running", "completed", "failed", ...
	Result     *RandomnessWorkflowResult `json:"result,omitempty"`
	Error      *string                   `json:"error,omitempty"`
}

// Client starts and inspects randomness workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// WorkflowID returns the workflow ID for a seed on a network. One workflow
// runs per seed at a time.
func WorkflowID(network, seed string) string {
	return "randomness-" + network + "-" + seed
}

// StartRandomnessWorkflow starts the workflow for input.Seed, or returns the
// ID of the one already running for it.
func (c *Client) StartRandomnessWorkflow(ctx context.Context, input RandomnessWorkflowInput) (string, error) {
	id := WorkflowID(input.Network, input.Seed)

	c.logger.Debug("starting randomness workflow",
		"seed", input.Seed,
		"network", input.Network,
		"workflow_id", id,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		Memo: map[string]interface{}{
			"seed":       input.Seed,
			"network":    input.Network,
			"created_by": "orand",
		},
	}, RandomnessWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start workflow",
			"seed", input.Seed,
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("randomness workflow started",
		"seed", input.Seed,
		"network", input.Network,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// GetRandomnessWorkflowResult blocks until the workflow completes and
// returns its result. A failed workflow yields a nil result and an error
// naming the step that failed.
func (c *Client) GetRandomnessWorkflowResult(ctx context.Context, workflowID string) (*RandomnessWorkflowResult, error) {
	var result RandomnessWorkflowResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("workflow %q: %w", workflowID, err)
	}
	return &result, nil
}

// DescribeRandomnessWorkflow reports the status of a workflow without
// blocking. The result is included once the workflow has completed.
func (c *Client) DescribeRandomnessWorkflow(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &WorkflowStatus{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     workflowStatusString(info.GetStatus()),
	}

	switch info.GetStatus() {
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		result, err := c.GetRandomnessWorkflowResult(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		status.Result = result
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING:
	default:
		var result RandomnessWorkflowResult
		if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
			msg := err.Error()
			status.Error = &msg
		}
	}
	return status, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func workflowStatusString(s enums.WorkflowExecutionStatus) string {
	switch s {
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return "running"
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enums.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	case enums.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "continued_as_new"
	default:
		return "unknown"
	}
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
