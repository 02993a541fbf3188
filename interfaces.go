package paygate

import "context"

// Mechanism verifies and settles payments for one scheme on one network.
// Implementations live under mechanisms/ and are registered on a Facilitator.
type Mechanism interface {
	// Scheme returns the payment scheme this mechanism serves, e.g. "exact".
	Scheme() string

	// Network returns the CAIP-2 network this mechanism serves. It may
	// carry a wildcard reference to serve a whole namespace.
	Network() Network

	// Verify checks a proof against requirements without touching the
	// chain state. It returns a VerifyResponse with IsValid=false and a
	// reason code for any protocol-level rejection; an error return is
	// reserved for infrastructure failures.
	Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error)

	// Settle broadcasts the payment and waits for finality within the
	// context deadline. A broadcast rejection yields Success=false; a
	// deadline expiry after broadcast yields Success=true with
	// FinalityPending.
	Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error)

	// TransactionID derives a stable identifier for the payment before it
	// is broadcast, used to key idempotent settlement.
	TransactionID(payload *PaymentPayload) (string, error)
}

// Verifier is the read-only half of a Mechanism, satisfied by remote
// facilitator clients as well as local mechanisms.
type Verifier interface {
	Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error)
}

// Settler is the settlement half of a Mechanism.
type Settler interface {
	Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorService is the full facilitator surface consumed by the access
// gate: verification, settlement, and capability discovery.
type FacilitatorService interface {
	Verifier
	Settler
	Supported() []SupportedKind
}
