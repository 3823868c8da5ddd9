package vrf

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/orand/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// signaturePageSize is the largest page getSignaturesForAddress accepts.
const signaturePageSize = 1000

// HistoryProvider is the read-only view of the ledger used to locate a
// fulfillment. Signatures are returned newest first; before is the zero
// signature for the first page.
type HistoryProvider interface {
	Signatures(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*rpc.TransactionSignature, error)
	Transaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error)
}

// TxInstruction is a top-level instruction of a scanned transaction.
type TxInstruction struct {
	ProgramID solana.PublicKey
	Data      []byte
}

// FulfillmentTx is a successful transaction that carries both a VRF program
// instruction and its companion Ed25519 verification instruction.
type FulfillmentTx struct {
	Signature    solana.Signature
	Slot         uint64
	BlockTime    *time.Time
	Instructions []TxInstruction
}

// Ed25519Instructions returns the data of every Ed25519 program instruction.
func (tx *FulfillmentTx) Ed25519Instructions() [][]byte {
	var out [][]byte
	for _, ix := range tx.Instructions {
		if ix.ProgramID.Equals(Ed25519ProgramID) {
			out = append(out, ix.Data)
		}
	}
	return out
}

// Scanner walks the transaction history of a randomness account.
type Scanner struct {
	history HistoryProvider
	env     Env
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewScanner creates a Scanner. If m is nil, no metrics are recorded.
func NewScanner(history HistoryProvider, env Env, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	return &Scanner{history: history, env: env, metrics: m, logger: logger}
}

// FindFulfillment returns the first successful transaction in the history of
// seed's randomness account that qualifies as a fulfillment. Every signature
// is inspected until one matches. The returned error matches ErrNoHistory
// when the account has no transactions and ErrNoFulfillment when none of them
// qualifies; both match ErrNotFound.
func (s *Scanner) FindFulfillment(ctx context.Context, seed Seed) (*FulfillmentTx, error) {
	const op = "find fulfillment"
	address := s.env.RandomnessAddress(seed)

	var (
		before solana.Signature
		seen   int
	)
	for {
		page, err := s.history.Signatures(ctx, address, before, signaturePageSize)
		if err != nil {
			return nil, transportError(op, err)
		}
		for _, entry := range page {
			seen++
			if entry.Err != nil {
				s.logger.DebugContext(ctx, "skipping failed transaction",
					"signature", entry.Signature.String(),
				)
				continue
			}
			result, err := s.history.Transaction(ctx, entry.Signature)
			if err != nil {
				return nil, transportError(op, err)
			}
			tx, ok := s.qualify(ctx, entry.Signature, result, seed)
			if ok {
				s.logger.DebugContext(ctx, "found fulfillment transaction",
					"address", address.String(),
					"signature", entry.Signature.String(),
					"inspected", seen,
				)
				s.recordScan("found", seen)
				return tx, nil
			}
		}
		if len(page) < signaturePageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	if seen == 0 {
		s.recordScan("no_history", seen)
		return nil, notFound(op, ErrNoHistory)
	}
	s.logger.DebugContext(ctx, "no qualifying fulfillment transaction",
		"address", address.String(),
		"inspected", seen,
	)
	s.recordScan("no_fulfillment", seen)
	return nil, notFound(op, ErrNoFulfillment)
}

func (s *Scanner) recordScan(result string, inspected int) {
	if s.metrics != nil {
		s.metrics.RecordScan(string(s.env.Network), result, inspected)
	}
}

// qualify converts a fetched transaction into a FulfillmentTx when it
// succeeded and carries both a VRF instruction and an Ed25519 instruction.
// Anything that cannot be positively confirmed is rejected.
func (s *Scanner) qualify(ctx context.Context, sig solana.Signature, result *rpc.GetTransactionResult, seed Seed) (*FulfillmentTx, bool) {
	if result == nil || result.Transaction == nil || result.Meta == nil {
		return nil, false
	}
	if result.Meta.Err != nil {
		s.logger.DebugContext(ctx, "skipping transaction with error status",
			"signature", sig.String(),
			"error", result.Meta.Err,
		)
		return nil, false
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil || tx == nil {
		s.logger.WarnContext(ctx, "failed to decode transaction",
			"signature", sig.String(),
			"error", err,
		)
		return nil, false
	}

	out := &FulfillmentTx{
		Signature:    sig,
		Slot:         result.Slot,
		Instructions: make([]TxInstruction, 0, len(tx.Message.Instructions)),
	}
	if result.BlockTime != nil {
		t := result.BlockTime.Time()
		out.BlockTime = &t
	}

	var hasVRF, hasEd25519 bool
	for _, ix := range tx.Message.Instructions {
		programID, err := tx.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil {
			continue
		}
		out.Instructions = append(out.Instructions, TxInstruction{ProgramID: programID, Data: ix.Data})
		switch {
		case programID.Equals(Ed25519ProgramID):
			hasEd25519 = true
		case programID.Equals(s.env.ProgramID):
			if fulfillsSeed(ix.Data, seed) {
				hasVRF = true
			}
		}
	}
	return out, hasVRF && hasEd25519
}

// fulfillsSeed reports whether a VRF program instruction can be the one that
// fulfilled seed. Request instructions never fulfill, and a fulfill
// instruction for another seed is not evidence for this one. Instructions of
// other shapes are accepted.
func fulfillsSeed(data []byte, seed Seed) bool {
	kind, got, _, err := DecodeInstruction(data)
	switch {
	case kind == InstructionRequest:
		return false
	case kind == InstructionFulfill && err == nil:
		return got == seed
	default:
		return true
	}
}
