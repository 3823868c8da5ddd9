package vrf

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/orand/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Chain is the RPC surface a Requestor needs. AccountData must return an
// error wrapping rpc.ErrNotFound when the account does not exist.
// SendAndConfirm returns once the transaction is confirmed or has failed.
type Chain interface {
	HistoryProvider
	AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Requestor requests and verifies randomness for one program environment.
// It holds no mutable state and is safe for concurrent use.
type Requestor struct {
	chain   Chain
	env     Env
	scanner *Scanner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRequestor creates a Requestor. If m is nil, no metrics are recorded.
func NewRequestor(chain Chain, env Env, m *metrics.Metrics, logger *slog.Logger) *Requestor {
	return &Requestor{
		chain:   chain,
		env:     env,
		scanner: NewScanner(chain, env, m, logger),
		logger:  logger,
		metrics: m,
	}
}

func (r *Requestor) Env() Env { return r.env }

// NetworkConfig reads the program's configuration account.
func (r *Requestor) NetworkConfig(ctx context.Context) (*NetworkConfig, error) {
	data, err := r.accountData(ctx, "get network config", r.env.ConfigAddress())
	if err != nil {
		return nil, err
	}
	cfg, err := DecodeNetworkConfig(data)
	if err != nil {
		r.recordDecodeFailure("network_config")
		return nil, err
	}
	return cfg, nil
}

// Randomness reads the randomness account for seed. The error matches
// ErrAccountNotFound if nothing was requested for seed yet.
func (r *Requestor) Randomness(ctx context.Context, seed Seed) (*Randomness, error) {
	data, err := r.accountData(ctx, "get randomness", r.env.RandomnessAddress(seed))
	if err != nil {
		return nil, err
	}
	rnd, err := DecodeRandomness(data)
	if err != nil {
		r.recordDecodeFailure("randomness")
		return nil, err
	}
	return rnd, nil
}

// BuildRequestTx builds and signs a request transaction for seed, paid by
// signer. It does not check whether seed was already requested.
func (r *Requestor) BuildRequestTx(ctx context.Context, signer Signer, seed Seed) (*solana.Transaction, error) {
	cfg, err := r.NetworkConfig(ctx)
	if err != nil {
		return nil, err
	}
	ix := NewRequestInstruction(r.env, seed, signer.PublicKey(), cfg.Treasury)

	blockhash, err := r.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, transportError("get latest blockhash", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return nil, err
	}
	if err := signTransaction(tx, signer); err != nil {
		return nil, err
	}
	return tx, nil
}

// RequestResult describes the outcome of Request.
type RequestResult struct {
	Seed      Seed              `json:"seed"`
	Address   solana.PublicKey  `json:"address"`
	Submitted bool              `json:"submitted"`
	Signature *solana.Signature `json:"signature,omitempty"`
}

// Request submits a randomness request for seed unless its randomness
// account already exists, in which case nothing is sent.
func (r *Requestor) Request(ctx context.Context, signer Signer, seed Seed) (*RequestResult, error) {
	out := &RequestResult{Seed: seed, Address: r.env.RandomnessAddress(seed)}

	existing, err := r.Randomness(ctx, seed)
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "randomness already requested, skipping",
			"seed", seed.String(),
			"address", out.Address.String(),
			"status", existing.Status.String(),
		)
		r.recordRequest("skipped")
		return out, nil
	case !errors.Is(err, ErrAccountNotFound):
		r.recordRequest("error")
		return nil, err
	}

	tx, err := r.BuildRequestTx(ctx, signer, seed)
	if err != nil {
		r.recordRequest("error")
		return nil, err
	}
	sig, err := r.chain.SendAndConfirm(ctx, tx)
	if err != nil {
		r.recordRequest("error")
		return nil, transportError("send request", err)
	}

	r.logger.InfoContext(ctx, "randomness requested",
		"seed", seed.String(),
		"address", out.Address.String(),
		"signature", sig.String(),
	)
	r.recordRequest("submitted")
	out.Submitted = true
	out.Signature = &sig
	return out, nil
}

// DefaultAwaitInterval is the poll interval AwaitFulfillment uses when given a
// non-positive one.
const DefaultAwaitInterval = 2 * time.Second

// AwaitFulfillment polls the randomness account every interval until it is
// fulfilled or ctx is done. A missing account is polled like a pending one.
func (r *Requestor) AwaitFulfillment(ctx context.Context, seed Seed, interval time.Duration) (*Randomness, error) {
	if interval <= 0 {
		interval = DefaultAwaitInterval
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rnd, err := r.Randomness(ctx, seed)
		switch {
		case err == nil && rnd.Fulfilled():
			if r.metrics != nil {
				r.metrics.RecordFulfillmentWait(string(r.env.Network), time.Since(start).Seconds())
			}
			return rnd, nil
		case err != nil && !errors.Is(err, ErrAccountNotFound):
			return nil, err
		}

		r.logger.DebugContext(ctx, "randomness not fulfilled yet",
			"seed", seed.String(),
			"elapsed", time.Since(start).String(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FindFulfillment locates the transaction that fulfilled seed.
func (r *Requestor) FindFulfillment(ctx context.Context, seed Seed) (*FulfillmentTx, error) {
	return r.scanner.FindFulfillment(ctx, seed)
}

// Verification is the result of an offchain verification.
type Verification struct {
	Seed        Seed             `json:"seed"`
	Address     solana.PublicKey `json:"address"`
	Randomness  solana.Signature `json:"randomness"`
	Transaction solana.Signature `json:"transaction"`
	Slot        uint64           `json:"slot"`
	BlockTime   *time.Time       `json:"block_time,omitempty"`
	Authority   solana.PublicKey `json:"authority"`
	// Trusted is set when the authority is listed in the network config.
	Trusted bool `json:"trusted"`
}

// Verify re-checks the randomness for seed using only public ledger data:
// the account's signature must verify against seed under the key carried by
// the fulfillment transaction's Ed25519 instruction.
func (r *Requestor) Verify(ctx context.Context, seed Seed) (*Verification, error) {
	v, err := r.verify(ctx, seed)
	switch {
	case err == nil:
		r.recordVerification("verified")
	case errors.Is(err, ErrVerify):
		r.recordVerification("rejected")
	case errors.Is(err, ErrNotFound):
		r.recordVerification("not_found")
	default:
		r.recordVerification("error")
	}
	return v, err
}

func (r *Requestor) verify(ctx context.Context, seed Seed) (*Verification, error) {
	rnd, err := r.Randomness(ctx, seed)
	if err != nil {
		return nil, err
	}
	if rnd.Signature == nil {
		return nil, notFound("verify randomness", ErrNotFulfilled)
	}

	tx, err := r.scanner.FindFulfillment(ctx, seed)
	if err != nil {
		return nil, err
	}
	authority, err := VerifyFulfillment(tx, seed, *rnd.Signature)
	if err != nil {
		r.logger.WarnContext(ctx, "offchain verification failed",
			"seed", seed.String(),
			"transaction", tx.Signature.String(),
			"error", err,
		)
		return nil, err
	}

	v := &Verification{
		Seed:        seed,
		Address:     r.env.RandomnessAddress(seed),
		Randomness:  *rnd.Signature,
		Transaction: tx.Signature,
		Slot:        tx.Slot,
		BlockTime:   tx.BlockTime,
		Authority:   authority,
	}
	cfg, err := r.NetworkConfig(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "could not read network config, authority left untrusted",
			"error", err,
		)
		return v, nil
	}
	v.Trusted = cfg.IsFulfillmentAuthority(authority)
	return v, nil
}

func (r *Requestor) accountData(ctx context.Context, op string, address solana.PublicKey) ([]byte, error) {
	data, err := r.chain.AccountData(ctx, address)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, notFound(op, ErrAccountNotFound)
	}
	if err != nil {
		return nil, transportError(op, err)
	}
	return data, nil
}

func (r *Requestor) recordRequest(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRandomnessRequest(string(r.env.Network), outcome)
	}
}

func (r *Requestor) recordVerification(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordVerification(string(r.env.Network), outcome)
	}
}

func (r *Requestor) recordDecodeFailure(account string) {
	if r.metrics != nil {
		r.metrics.RecordDecodeFailure(string(r.env.Network), account)
	}
}
