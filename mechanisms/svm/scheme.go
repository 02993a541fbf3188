package svm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/paygate-protocol/paygate"
)

// Mechanism serves the exact scheme on one Solana network.
type Mechanism struct {
	network      paygate.Network
	backend      Backend
	pollInterval time.Duration
}

// Option configures a Mechanism.
type Option func(*Mechanism)

// WithStatusPollInterval overrides how often settlement polls signature
// status.
func WithStatusPollInterval(d time.Duration) Option {
	return func(m *Mechanism) { m.pollInterval = d }
}

// NewMechanism builds an exact-scheme mechanism for a solana CAIP-2 network.
func NewMechanism(network paygate.Network, backend Backend, opts ...Option) (*Mechanism, error) {
	if network.Namespace() != "solana" {
		return nil, fmt.Errorf("svm mechanism requires a solana network, got %s", network)
	}
	m := &Mechanism{
		network:      network,
		backend:      backend,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Mechanism) Scheme() string           { return SchemeExact }
func (m *Mechanism) Network() paygate.Network { return m.network }

func invalid(reason string) *paygate.VerifyResponse {
	return &paygate.VerifyResponse{IsValid: false, InvalidReason: reason}
}

// Verify validates the signed transaction offline: signatures must check
// out and the transaction must carry a system transfer of at least the
// required lamports to the receiving account.
func (m *Mechanism) Verify(ctx context.Context, payload *paygate.PaymentPayload, requirements *paygate.PaymentRequirements) (*paygate.VerifyResponse, error) {
	if payload.Scheme != SchemeExact {
		return invalid(paygate.ReasonUnsupportedScheme), nil
	}
	if payload.Network != requirements.Network {
		return invalid(paygate.ReasonNetworkMismatch), nil
	}

	svmPayload, err := ParsePayload(payload.Payload)
	if err != nil {
		return invalid(paygate.ReasonMalformedPayload), nil
	}
	tx, err := DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return invalid(paygate.ReasonMalformedPayload), nil
	}

	if len(tx.Signatures) == 0 {
		return invalid(paygate.ReasonSignatureInvalid), nil
	}
	if err := tx.VerifySignatures(); err != nil {
		return invalid(paygate.ReasonSignatureInvalid), nil
	}

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo address: %w", err)
	}
	required, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid required amount: %s", requirements.Amount)
	}

	transfer, err := findTransfer(tx, payTo)
	if err != nil {
		return invalid(paygate.ReasonRecipientMismatch), nil
	}
	if transfer.lamports < required {
		return invalid(paygate.ReasonAmountInsufficient), nil
	}

	return &paygate.VerifyResponse{IsValid: true, Payer: transfer.from.String()}, nil
}

// Settle broadcasts the transaction and polls signature status until the
// context deadline. A deadline after an accepted broadcast yields a pending
// result.
func (m *Mechanism) Settle(ctx context.Context, payload *paygate.PaymentPayload, requirements *paygate.PaymentRequirements) (*paygate.SettleResponse, error) {
	verifyResp, err := m.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return &paygate.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Network:     payload.Network,
		}, nil
	}

	svmPayload, _ := ParsePayload(payload.Payload)
	tx, _ := DecodeTransaction(svmPayload.Transaction)

	sig, err := m.backend.SendTransaction(ctx, tx)
	if err != nil {
		return &paygate.SettleResponse{
			Success:     false,
			ErrorReason: paygate.ReasonBroadcastFailed,
			Network:     payload.Network,
			Payer:       verifyResp.Payer,
		}, nil
	}

	finality, err := m.awaitFinality(ctx, sig)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			finality = paygate.FinalityPending
		} else {
			return nil, err
		}
	}

	return &paygate.SettleResponse{
		Success:     true,
		Payer:       verifyResp.Payer,
		Transaction: sig.String(),
		Network:     payload.Network,
		Finality:    finality,
	}, nil
}

// statusBackoffCap bounds the retry delay after transient status errors.
const statusBackoffCap = 30 * time.Second

// awaitFinality polls signature status until the transaction lands or ctx
// ends. Transient RPC failures back off exponentially instead of aborting,
// since the transaction is already broadcast.
func (m *Mechanism) awaitFinality(ctx context.Context, sig solana.Signature) (paygate.Finality, error) {
	backoff := m.pollInterval
	for {
		status, err := m.backend.SignatureStatus(ctx, sig)
		if err == nil && status != nil {
			if status.Err != nil {
				return paygate.FinalityAborted, nil
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return paygate.FinalityConfirmed, nil
			}
		}

		wait := m.pollInterval
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			wait = backoff
			backoff *= 2
			if backoff > statusBackoffCap {
				backoff = statusBackoffCap
			}
		} else {
			backoff = m.pollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// TransactionID is the transaction's first signature, which is the on-chain
// identifier and is fixed before broadcast.
func (m *Mechanism) TransactionID(payload *paygate.PaymentPayload) (string, error) {
	svmPayload, err := ParsePayload(payload.Payload)
	if err != nil {
		return "", err
	}
	tx, err := DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return "", err
	}
	if len(tx.Signatures) == 0 {
		return "", fmt.Errorf("transaction has no signatures")
	}
	return tx.Signatures[0].String(), nil
}

type transferInfo struct {
	from     solana.PublicKey
	to       solana.PublicKey
	lamports uint64
}

// findTransfer locates a system-program transfer to the expected recipient.
func findTransfer(tx *solana.Transaction, payTo solana.PublicKey) (*transferInfo, error) {
	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.SystemProgramID) {
			continue
		}

		accounts := make([]*solana.AccountMeta, len(inst.Accounts))
		ok := true
		for i, accIdx := range inst.Accounts {
			if int(accIdx) >= len(tx.Message.AccountKeys) {
				ok = false
				break
			}
			pub := tx.Message.AccountKeys[accIdx]
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				ok = false
				break
			}
			accounts[i] = &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   tx.Message.IsSigner(pub),
				IsWritable: writable,
			}
		}
		if !ok || len(accounts) < 2 {
			continue
		}

		sysInst, err := system.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := sysInst.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}
		if !accounts[1].PublicKey.Equals(payTo) {
			continue
		}
		return &transferInfo{
			from:     accounts[0].PublicKey,
			to:       accounts[1].PublicKey,
			lamports: *transfer.Lamports,
		}, nil
	}
	return nil, fmt.Errorf("no transfer to %s found", payTo)
}

var _ paygate.Mechanism = (*Mechanism)(nil)
