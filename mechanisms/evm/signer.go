package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygate-protocol/paygate"
)

// DefaultAuthorizationValidity is how long signed authorizations stay valid
// when the signer is not configured otherwise.
const DefaultAuthorizationValidity = 10 * time.Minute

// Signer builds signed EIP-3009 payment proofs from a private key. It
// implements paygate.PayloadBuilder for the exact scheme across the eip155
// namespace.
type Signer struct {
	key      *ecdsa.PrivateKey
	network  paygate.Network
	validFor time.Duration
}

// NewSigner parses a hex private key, with or without 0x prefix. The network
// may carry a wildcard reference to sign for every eip155 chain offered.
func NewSigner(privateKeyHex string, network paygate.Network) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{key: key, network: network, validFor: DefaultAuthorizationValidity}, nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(key *ecdsa.PrivateKey, network paygate.Network) *Signer {
	return &Signer{key: key, network: network, validFor: DefaultAuthorizationValidity}
}

func (s *Signer) Scheme() string           { return SchemeExact }
func (s *Signer) Network() paygate.Network { return s.network }

// Address returns the payer address derived from the key.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

func (s *Signer) BuildPayload(ctx context.Context, requirements paygate.PaymentRequirements) (*paygate.PaymentPayload, error) {
	return BuildPaymentPayload(s.key, requirements, s.validFor)
}

var _ paygate.PayloadBuilder = (*Signer)(nil)

// NewNonce returns a random 32-byte EIP-3009 nonce as a hex string.
func NewNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce[:]), nil
}

// SignAuthorization produces the EIP-712 signature over an authorization
// with the payer's key. The returned signature uses the legacy {27,28}
// recovery id convention expected by transferWithAuthorization.
func SignAuthorization(auth Authorization, key *ecdsa.PrivateKey, chainID *big.Int, verifyingContract, tokenName, tokenVersion string) ([]byte, error) {
	digest, err := AuthorizationDigest(auth, chainID, verifyingContract, tokenName, tokenVersion)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// BuildPaymentPayload creates a complete signed proof satisfying
// requirements, valid for the given duration from now. This is the
// client-side counterpart of Mechanism.Verify.
func BuildPaymentPayload(key *ecdsa.PrivateKey, requirements paygate.PaymentRequirements, validFor time.Duration) (*paygate.PaymentPayload, error) {
	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	auth := Authorization{
		From:        crypto.PubkeyToAddress(key.PublicKey).Hex(),
		To:          requirements.PayTo,
		Value:       requirements.Amount,
		ValidAfter:  fmt.Sprintf("%d", now.Add(-time.Minute).Unix()),
		ValidBefore: fmt.Sprintf("%d", now.Add(validFor).Unix()),
		Nonce:       nonce,
	}

	asset := LookupAsset(requirements.Network, requirements.Asset)
	tokenName, tokenVersion := asset.Name, asset.Version
	if len(requirements.Extra) > 0 {
		var extra struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}
		if err := json.Unmarshal(requirements.Extra, &extra); err == nil {
			if extra.Name != "" {
				tokenName = extra.Name
			}
			if extra.Version != "" {
				tokenVersion = extra.Version
			}
		}
	}

	sig, err := SignAuthorization(auth, key, chainID, requirements.Asset, tokenName, tokenVersion)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(Payload{
		Signature:     BytesToHex(sig),
		Authorization: auth,
	})
	if err != nil {
		return nil, err
	}

	return &paygate.PaymentPayload{
		Version:  paygate.ProtocolVersion,
		Scheme:   SchemeExact,
		Network:  requirements.Network,
		Payload:  body,
		Accepted: requirements,
	}, nil
}
