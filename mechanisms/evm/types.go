// Package evm implements the "exact" payment scheme on EVM chains using
// EIP-3009 transferWithAuthorization: the payer signs a transfer
// authorization off chain and the facilitator submits it, so the payer needs
// no gas.
package evm

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SchemeExact is the scheme identifier served by this package.
const SchemeExact = "exact"

// Authorization is the EIP-3009 TransferWithAuthorization message. Numeric
// fields are base-10 strings as they appear on the wire.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the scheme-specific proof body carried in a PaymentPayload.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// ParsePayload decodes the proof body of an EVM exact payment.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid evm payload: %w", err)
	}
	return &p, nil
}

// HexToBytes decodes a 0x-prefixed or bare hex string.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
