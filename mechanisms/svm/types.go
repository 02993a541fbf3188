// Package svm implements the "exact" payment scheme on Solana. The proof is
// a fully signed transaction carrying a system-program transfer to the
// resource's receiving account; the facilitator validates it offline and
// broadcasts it on settlement.
package svm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// SchemeExact is the scheme identifier served by this package.
const SchemeExact = "exact"

// Payload is the scheme-specific proof body: a base64-encoded signed
// transaction.
type Payload struct {
	Transaction string `json:"transaction"`
}

// ParsePayload decodes the proof body of an SVM exact payment.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid svm payload: %w", err)
	}
	if p.Transaction == "" {
		return nil, fmt.Errorf("svm payload missing transaction")
	}
	return &p, nil
}

// DecodeTransaction deserializes the base64 wire transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	txBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transaction is not valid base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// EncodeTransaction serializes a transaction for the wire.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}
