package vrf

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction discriminators: the first 8 bytes of sha256("global:<name>").
var (
	RequestDiscriminator = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, "request")
	FulfillDiscriminator = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, "fulfill")
)

// InstructionKind is the variant of a VRF program instruction.
type InstructionKind uint8

const (
	InstructionUnknown InstructionKind = iota
	InstructionRequest
	InstructionFulfill
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionRequest:
		return "request"
	case InstructionFulfill:
		return "fulfill"
	default:
		return "unknown"
	}
}

const (
	requestDataSize = 8 + SeedSize
	fulfillDataSize = 8 + SeedSize + solana.SignatureLength
)

// NewRequestInstruction encodes a request for seed. Accounts are ordered as
// the program expects: payer, randomness account, config account, treasury,
// system program.
func NewRequestInstruction(env Env, seed Seed, payer, treasury solana.PublicKey) *solana.GenericInstruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	// Writes to a bytes.Buffer cannot fail.
	_ = enc.WriteBytes(RequestDiscriminator[:], false)
	_ = enc.WriteBytes(seed[:], false)

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(env.RandomnessAddress(seed)).WRITE(),
		solana.Meta(env.ConfigAddress()).WRITE(),
		solana.Meta(treasury).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(env.ProgramID, accounts, buf.Bytes())
}

// DecodeInstruction identifies a VRF program instruction and recovers the
// seed it refers to. For the fulfill variant the written signature is
// returned as well.
func DecodeInstruction(data []byte) (InstructionKind, Seed, *solana.Signature, error) {
	const op = "decode instruction"
	dec := bin.NewBorshDecoder(data)
	disc, err := dec.ReadTypeID()
	if err != nil {
		return InstructionUnknown, Seed{}, nil, decodeErrorf(op, "discriminator: %w", err)
	}

	var kind InstructionKind
	switch disc {
	case RequestDiscriminator:
		kind = InstructionRequest
		if len(data) != requestDataSize {
			return kind, Seed{}, nil, decodeErrorf(op, "request data is %d bytes, expected %d", len(data), requestDataSize)
		}
	case FulfillDiscriminator:
		kind = InstructionFulfill
		if len(data) != fulfillDataSize {
			return kind, Seed{}, nil, decodeErrorf(op, "fulfill data is %d bytes, expected %d", len(data), fulfillDataSize)
		}
	default:
		return InstructionUnknown, Seed{}, nil, decodeErrorf(op, "unknown discriminator %x", disc[:])
	}

	var seed Seed
	raw, err := dec.ReadNBytes(SeedSize)
	if err != nil {
		return kind, Seed{}, nil, decodeErrorf(op, "seed: %w", err)
	}
	copy(seed[:], raw)
	if kind == InstructionRequest {
		return kind, seed, nil, nil
	}

	raw, err = dec.ReadNBytes(solana.SignatureLength)
	if err != nil {
		return kind, Seed{}, nil, decodeErrorf(op, "signature: %w", err)
	}
	sig := solana.SignatureFromBytes(raw)
	return kind, seed, &sig, nil
}

// Ed25519ProgramID is the native signature verification program whose
// instruction accompanies every fulfillment.
var Ed25519ProgramID = solana.MustPublicKeyFromBase58("Ed25519SigVerify111111111111111111111111111")

// Ed25519 instruction layout.
const (
	ed25519HeaderSize  = 2
	ed25519OffsetsSize = 14
	// ed25519CurrentInstruction marks offsets that refer to the instruction's
	// own data.
	ed25519CurrentInstruction = 0xFFFF
)

// Ed25519Entry is one (public key, message, signature) triple carried by an
// Ed25519 instruction.
type Ed25519Entry struct {
	PublicKey solana.PublicKey
	Message   []byte
	Signature solana.Signature
}

type ed25519Offsets struct {
	SignatureOffset           uint16
	SignatureInstructionIndex uint16
	PublicKeyOffset           uint16
	PublicKeyInstructionIndex uint16
	MessageOffset             uint16
	MessageSize               uint16
	MessageInstructionIndex   uint16
}

// ParseEd25519Instruction decodes the data of an Ed25519 program instruction.
// Only entries whose operands live inside the instruction itself are
// accepted; references into other instructions are rejected.
func ParseEd25519Instruction(data []byte) ([]Ed25519Entry, error) {
	const op = "parse ed25519 instruction"
	dec := bin.NewBorshDecoder(data)
	count, err := dec.ReadByte()
	if err != nil {
		return nil, decodeErrorf(op, "signature count: %w", err)
	}
	if _, err := dec.ReadByte(); err != nil {
		return nil, decodeErrorf(op, "padding: %w", err)
	}
	if count == 0 {
		return nil, decodeErrorf(op, "instruction carries no signatures")
	}

	entries := make([]Ed25519Entry, 0, count)
	for i := range int(count) {
		var o ed25519Offsets
		fields := []*uint16{
			&o.SignatureOffset, &o.SignatureInstructionIndex,
			&o.PublicKeyOffset, &o.PublicKeyInstructionIndex,
			&o.MessageOffset, &o.MessageSize, &o.MessageInstructionIndex,
		}
		for _, f := range fields {
			if *f, err = dec.ReadUint16(bin.LE); err != nil {
				return nil, decodeErrorf(op, "offsets %d: %w", i, err)
			}
		}
		if o.SignatureInstructionIndex != ed25519CurrentInstruction ||
			o.PublicKeyInstructionIndex != ed25519CurrentInstruction ||
			o.MessageInstructionIndex != ed25519CurrentInstruction {
			return nil, decodeErrorf(op, "entry %d references data outside the instruction", i)
		}

		pub, err := slice(data, o.PublicKeyOffset, solana.PublicKeyLength)
		if err != nil {
			return nil, decodeErrorf(op, "entry %d public key: %w", i, err)
		}
		sig, err := slice(data, o.SignatureOffset, solana.SignatureLength)
		if err != nil {
			return nil, decodeErrorf(op, "entry %d signature: %w", i, err)
		}
		msg, err := slice(data, o.MessageOffset, int(o.MessageSize))
		if err != nil {
			return nil, decodeErrorf(op, "entry %d message: %w", i, err)
		}
		entries = append(entries, Ed25519Entry{
			PublicKey: solana.PublicKeyFromBytes(pub),
			Message:   msg,
			Signature: solana.SignatureFromBytes(sig),
		})
	}
	return entries, nil
}

// NewEd25519Instruction encodes a single-entry Ed25519 verification
// instruction for (publicKey, message, signature).
func NewEd25519Instruction(publicKey solana.PublicKey, message []byte, signature solana.Signature) *solana.GenericInstruction {
	const payloadStart = ed25519HeaderSize + ed25519OffsetsSize
	pubOffset := uint16(payloadStart)
	sigOffset := pubOffset + solana.PublicKeyLength
	msgOffset := sigOffset + solana.SignatureLength

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteByte(1)
	_ = enc.WriteByte(0)
	for _, v := range []uint16{
		sigOffset, ed25519CurrentInstruction,
		pubOffset, ed25519CurrentInstruction,
		msgOffset, uint16(len(message)), ed25519CurrentInstruction,
	} {
		_ = enc.WriteUint16(v, bin.LE)
	}
	_ = enc.WriteBytes(publicKey[:], false)
	_ = enc.WriteBytes(signature[:], false)
	_ = enc.WriteBytes(message, false)

	return solana.NewInstruction(Ed25519ProgramID, solana.AccountMetaSlice{}, buf.Bytes())
}

func slice(data []byte, offset uint16, size int) ([]byte, error) {
	start := int(offset)
	end := start + size
	if end > len(data) {
		return nil, fmt.Errorf("range [%d:%d] exceeds %d bytes", start, end, len(data))
	}
	return data[start:end], nil
}
