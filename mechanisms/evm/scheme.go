package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygate-protocol/paygate"
)

// Mechanism serves the exact scheme on one eip155 network, or on the whole
// namespace when constructed with a wildcard network and a backend resolver.
type Mechanism struct {
	network       paygate.Network
	backend       Backend
	pollInterval  time.Duration
	confirmations uint64
}

// Option configures a Mechanism.
type Option func(*Mechanism)

// WithReceiptPollInterval overrides how often settlement polls for a
// receipt.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(m *Mechanism) { m.pollInterval = d }
}

// WithConfirmations sets how many blocks must bury the receipt before the
// settlement reports confirmed. The default of one block accepts the
// receipt's own block.
func WithConfirmations(n uint64) Option {
	return func(m *Mechanism) { m.confirmations = n }
}

// NewMechanism builds an exact-scheme mechanism for network backed by the
// given chain access.
func NewMechanism(network paygate.Network, backend Backend, opts ...Option) (*Mechanism, error) {
	if network.Namespace() != "eip155" {
		return nil, fmt.Errorf("evm mechanism requires an eip155 network, got %s", network)
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

// Verify checks an exact payment proof without mutating chain state. The
// checks run cheapest first so malformed or mismatched proofs never reach
// the RPC node.
func (m *Mechanism) Verify(ctx context.Context, payload *paygate.PaymentPayload, requirements *paygate.PaymentRequirements) (*paygate.VerifyResponse, error) {
	if payload.Scheme != SchemeExact {
		return invalid(paygate.ReasonUnsupportedScheme), nil
	}
	if payload.Network != requirements.Network {
		return invalid(paygate.ReasonNetworkMismatch), nil
	}

	evmPayload, err := ParsePayload(payload.Payload)
	if err != nil {
		return invalid(paygate.ReasonMalformedPayload), nil
	}
	auth := evmPayload.Authorization

	if evmPayload.Signature == "" {
		return invalid(paygate.ReasonSignatureInvalid), nil
	}

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid(paygate.ReasonRecipientMismatch), nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(paygate.ReasonMalformedPayload), nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid required amount: %s", requirements.Amount)
	}
	if authValue.Cmp(requiredValue) < 0 {
		return invalid(paygate.ReasonAmountInsufficient), nil
	}

	now := big.NewInt(time.Now().Unix())
	if validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10); !ok {
		return invalid(paygate.ReasonMalformedPayload), nil
	} else if now.Cmp(validBefore) >= 0 {
		return invalid(paygate.ReasonPaymentExpired), nil
	}
	if validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10); !ok {
		return invalid(paygate.ReasonMalformedPayload), nil
	} else if now.Cmp(validAfter) < 0 {
		return invalid(paygate.ReasonPaymentExpired), nil
	}

	nonceBytes, err := HexToBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return invalid(paygate.ReasonMalformedPayload), nil
	}
	token := common.HexToAddress(requirements.Asset)

	used, err := m.backend.AuthorizationState(ctx, token, common.HexToAddress(auth.From), [32]byte(nonceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to check nonce: %w", err)
	}
	if used {
		return invalid(paygate.ReasonNonceUsed), nil
	}

	balance, err := m.backend.BalanceOf(ctx, token, common.HexToAddress(auth.From))
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(authValue) < 0 {
		return invalid(paygate.ReasonInsufficientFunds), nil
	}

	chainID, err := ChainID(payload.Network)
	if err != nil {
		return invalid(paygate.ReasonNetworkMismatch), nil
	}
	asset := LookupAsset(payload.Network, requirements.Asset)
	tokenName, tokenVersion := m.tokenDomain(asset, requirements)

	sigBytes, err := HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid(paygate.ReasonSignatureInvalid), nil
	}
	valid, err := VerifyAuthorizationSignature(auth, sigBytes, chainID, requirements.Asset, tokenName, tokenVersion)
	if err != nil {
		return invalid(paygate.ReasonSignatureInvalid), nil
	}
	if !valid {
		return invalid(paygate.ReasonSignatureInvalid), nil
	}

	return &paygate.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

// Settle verifies the proof, submits transferWithAuthorization, and waits
// for a receipt until the context deadline. Submission errors yield a
// rejection; a deadline after a successful broadcast yields a pending
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

	evmPayload, err := ParsePayload(payload.Payload)
	if err != nil {
		return &paygate.SettleResponse{
			Success:     false,
			ErrorReason: paygate.ReasonMalformedPayload,
			Network:     payload.Network,
		}, nil
	}
	sigBytes, err := HexToBytes(evmPayload.Signature)
	if err != nil {
		return &paygate.SettleResponse{
			Success:     false,
			ErrorReason: paygate.ReasonSignatureInvalid,
			Network:     payload.Network,
		}, nil
	}

	token := common.HexToAddress(requirements.Asset)
	txHash, err := m.backend.SubmitTransfer(ctx, token, evmPayload.Authorization, sigBytes)
	if err != nil {
		return &paygate.SettleResponse{
			Success:     false,
			ErrorReason: paygate.ReasonBroadcastFailed,
			Network:     payload.Network,
			Payer:       evmPayload.Authorization.From,
		}, nil
	}

	receipt, err := pollReceipt(ctx, m.backend, txHash, m.pollInterval)
	if err != nil {
		// pollReceipt only gives up when the context ends: the broadcast
		// succeeded but confirmation was not observed in the settlement
		// window.
		return &paygate.SettleResponse{
			Success:     true,
			Payer:       evmPayload.Authorization.From,
			Transaction: txHash.Hex(),
			Network:     payload.Network,
			Finality:    paygate.FinalityPending,
		}, nil
	}

	finality := paygate.FinalityConfirmed
	if receipt.Status != 1 {
		finality = paygate.FinalityAborted
	} else if !m.awaitConfirmations(ctx, receipt) {
		finality = paygate.FinalityPending
	}
	return &paygate.SettleResponse{
		Success:     true,
		Payer:       evmPayload.Authorization.From,
		Transaction: txHash.Hex(),
		Network:     payload.Network,
		Finality:    finality,
	}, nil
}

// awaitConfirmations waits until the receipt's block is buried under the
// configured confirmation depth. Reports false when the context ends first,
// leaving the settlement pending.
func (m *Mechanism) awaitConfirmations(ctx context.Context, receipt *types.Receipt) bool {
	if m.confirmations <= 1 {
		return true
	}
	target := receipt.BlockNumber.Uint64() + m.confirmations - 1
	for {
		head, err := m.backend.BlockNumber(ctx)
		if err == nil && head >= target {
			return true
		}
		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// TransactionID derives a pre-broadcast identity for the payment from the
// authorizer and the EIP-3009 nonce, which together are consumed exactly
// once on chain.
func (m *Mechanism) TransactionID(payload *paygate.PaymentPayload) (string, error) {
	evmPayload, err := ParsePayload(payload.Payload)
	if err != nil {
		return "", err
	}
	nonceBytes, err := HexToBytes(evmPayload.Authorization.Nonce)
	if err != nil {
		return "", fmt.Errorf("invalid nonce: %w", err)
	}
	from := common.HexToAddress(evmPayload.Authorization.From)
	return BytesToHex(crypto.Keccak256(from.Bytes(), nonceBytes)), nil
}

func (m *Mechanism) tokenDomain(asset AssetInfo, requirements *paygate.PaymentRequirements) (string, string) {
	name, version := asset.Name, asset.Version
	if len(requirements.Extra) > 0 {
		var extra struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}
		if err := json.Unmarshal(requirements.Extra, &extra); err == nil {
			if extra.Name != "" {
				name = extra.Name
			}
			if extra.Version != "" {
				version = extra.Version
			}
		}
	}
	return name, version
}

var _ paygate.Mechanism = (*Mechanism)(nil)
