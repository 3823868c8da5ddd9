package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/orand/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = time.Second
	defaultRetryBackoff   = 2 * time.Second
	maxAttempts           = 3
)

// Client is the instrumented ledger transport used by the VRF requestor.
// Every RPC call is timed and counted under the endpoint label.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)

	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	pollInterval   time.Duration
	retryBackoff   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithConfirmTimeout bounds how long SendAndConfirm waits for confirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) { c.confirmTimeout = d }
}

// WithPollInterval sets how often signature statuses are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithRetryBackoff sets the base delay before retrying a rate limited call.
// It doubles on each attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryBackoff = d }
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:            rpcClient,
		logger:         logger,
		metrics:        m,
		endpoint:       endpoint,
		commitment:     rpc.CommitmentConfirmed,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
		retryBackoff:   defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountData returns the raw data of an account. The error wraps
// rpc.ErrNotFound when the account does not exist.
func (c *Client) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	c.record("GetAccountInfo", start, notFoundIsSuccess(err))

	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", address, rpc.ErrNotFound)
		}
		return nil, fmt.Errorf("get account info %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("account %s: %w", address, rpc.ErrNotFound)
	}
	return out.GetBinary(), nil
}

// LatestBlockhash returns a recent blockhash for building transactions.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("get latest blockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

// SendAndConfirm submits tx and polls its signature status until the cluster
// reports it confirmed, reports an error, or the confirm timeout elapses.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		Encoding:            solana.EncodingBase64,
		PreflightCommitment: c.commitment,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.DebugContext(ctx, "transaction sent, awaiting confirmation",
		"signature", sig.String(),
		"timeout", c.confirmTimeout.String(),
	)

	status, err := c.awaitConfirmation(ctx, sig)
	if c.metrics != nil {
		c.metrics.RecordConfirmation(c.endpoint, status, time.Since(start).Seconds())
	}
	if err != nil {
		return sig, err
	}
	c.logger.InfoContext(ctx, "transaction confirmed",
		"signature", sig.String(),
		"duration", time.Since(start).String(),
	)
	return sig, nil
}

func (c *Client) awaitConfirmation(ctx context.Context, sig solana.Signature) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		out, err := c.rpc.GetSignatureStatuses(ctx, sig)
		c.record("GetSignatureStatuses", start, notFoundIsSuccess(err))

		switch {
		case err != nil && !errors.Is(err, rpc.ErrNotFound):
			// Transient; the next poll may succeed.
			c.logger.WarnContext(ctx, "failed to get signature status",
				"signature", sig.String(),
				"error", err,
			)
		case err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil:
			st := out.Value[0]
			if st.Err != nil {
				return "failed", fmt.Errorf("transaction %s failed: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return "confirmed", nil
			}
		}

		select {
		case <-ctx.Done():
			return "timeout", fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Signatures returns up to limit signatures for address, newest first,
// starting strictly before the given signature. A zero before starts at the
// most recent transaction.
func (c *Client) Signatures(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*rpc.TransactionSignature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	}
	if !before.IsZero() {
		opts.Before = before
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"address", address.String(),
		"limit", limit,
		"before", before.String(),
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, address, opts)
	c.record("GetSignaturesForAddress", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", address.String(),
			"error", err,
		)
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
	}
	return signatures, nil
}

// Transaction fetches a transaction in base64 encoding. Rate limited calls
// are retried with exponential backoff. A transaction the node no longer
// has (pruned or never landed) yields a nil result and no error.
func (c *Client) Transaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		var result *rpc.GetTransactionResult
		result, err = c.rpc.GetTransaction(ctx, signature, opts)
		c.record("GetTransaction", start, notFoundIsSuccess(err))

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, rpc.ErrNotFound):
			c.logger.DebugContext(ctx, "transaction not available",
				"signature", signature.String(),
			)
			return nil, nil
		case !isRateLimited(err):
			return nil, err
		}

		// Handle rate limiting (429 Too Many Requests) with backoff
		backoff := c.retryBackoff << uint(attempt)
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"signature", signature.String(),
			"attempt", attempt+1,
			"backoff", backoff.String(),
		)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
			c.metrics.RecordRPCRetry("GetTransaction", "rate_limit")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("get transaction %s: giving up after %d attempts: %w", signature, maxAttempts, err)
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func notFoundIsSuccess(err error) error {
	if errors.Is(err, rpc.ErrNotFound) {
		return nil
	}
	return err
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429")
}
