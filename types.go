package paygate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the artifact schema version understood by this module.
const ProtocolVersion = 1

// Network is a CAIP-2 chain identifier such as "eip155:8453" or
// "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp". The reference part may be the
// wildcard "*", which matches every reference within the namespace.
type Network string

// Namespace returns the CAIP-2 namespace portion of the identifier.
func (n Network) Namespace() string {
	namespace, _, _ := strings.Cut(string(n), ":")
	return namespace
}

// Reference returns the CAIP-2 reference portion of the identifier.
func (n Network) Reference() string {
	_, reference, _ := strings.Cut(string(n), ":")
	return reference
}

// Validate checks that the identifier is a well formed CAIP-2 pair.
func (n Network) Validate() error {
	namespace, reference, found := strings.Cut(string(n), ":")
	if !found || namespace == "" || reference == "" {
		return fmt.Errorf("invalid CAIP-2 network identifier: %q", n)
	}
	return nil
}

// Match reports whether n accepts other. A concrete network only matches
// itself; a wildcard reference matches any network in the same namespace.
func (n Network) Match(other Network) bool {
	if n == other {
		return true
	}
	if n.Reference() == "*" {
		return n.Namespace() == other.Namespace()
	}
	return false
}

// IsWildcard reports whether the reference part is "*".
func (n Network) IsWildcard() bool {
	return n.Reference() == "*"
}

// PaymentRequirements describes one way a client may pay for a resource.
// A challenge carries one entry per supported scheme and network.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           Network         `json:"network"`
	Asset             string          `json:"asset"`
	Amount            string          `json:"maxAmountRequired"`
	PayTo             string          `json:"payTo"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds,omitempty"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// PaymentPayload is the proof a client submits against a challenge. Payload
// holds the scheme-specific proof body and Accepted echoes the requirements
// entry the client chose to satisfy.
type PaymentPayload struct {
	Version  int                 `json:"x402Version"`
	Scheme   string              `json:"scheme"`
	Network  Network             `json:"network"`
	Payload  json.RawMessage     `json:"payload"`
	Accepted PaymentRequirements `json:"accepted"`
}

// VerifyRequest is the body of a facilitator verification call.
type VerifyRequest struct {
	Version        int                 `json:"x402Version"`
	PaymentPayload PaymentPayload      `json:"paymentPayload"`
	Requirements   PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body of a facilitator settlement call.
type SettleRequest struct {
	Version        int                 `json:"x402Version"`
	PaymentPayload PaymentPayload      `json:"paymentPayload"`
	Requirements   PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse reports the outcome of proof verification. InvalidReason is
// a machine-readable code from errors.go when IsValid is false.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// Finality describes how far a settled transaction has progressed on chain.
type Finality string

const (
	// FinalityPending means the transaction was broadcast and accepted by
	// the network but confirmation was not observed before the settlement
	// window closed.
	FinalityPending Finality = "pending"

	// FinalityConfirmed means the transaction reached the chain's
	// confirmation threshold.
	FinalityConfirmed Finality = "confirmed"

	// FinalityAborted means the chain definitively rejected the
	// transaction after it was accepted for broadcast.
	FinalityAborted Finality = "aborted"
)

// SettleResponse reports the outcome of settlement. Success means the
// transaction was accepted for broadcast; callers deciding whether to release
// a resource must also consult Finality, since an accepted transaction can
// still abort.
type SettleResponse struct {
	Success     bool     `json:"success"`
	ErrorReason string   `json:"errorReason,omitempty"`
	Payer       string   `json:"payer,omitempty"`
	Transaction string   `json:"transaction,omitempty"`
	Network     Network  `json:"network,omitempty"`
	Finality    Finality `json:"finality,omitempty"`
}

// Released reports whether the settled payment is good enough to release the
// resource under the given policy.
func (r SettleResponse) Released(strictConfirm bool) bool {
	if !r.Success || r.Finality == FinalityAborted {
		return false
	}
	if strictConfirm {
		return r.Finality == FinalityConfirmed
	}
	return true
}

// ResourceInfo is the optional resource description attached to a challenge.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the challenge body returned with a 402 status.
type PaymentRequired struct {
	Version  int                   `json:"x402Version"`
	Error    string                `json:"error,omitempty"`
	Resource *ResourceInfo         `json:"resource,omitempty"`
	Accepts  []PaymentRequirements `json:"accepts"`
}

// SupportedKind identifies one scheme and network pair a facilitator serves.
type SupportedKind struct {
	Version int     `json:"x402Version"`
	Scheme  string  `json:"scheme"`
	Network Network `json:"network"`
}

// SupportedResponse is the body of a facilitator discovery call.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
