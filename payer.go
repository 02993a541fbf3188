package paygate

import (
	"context"
	"fmt"
	"sync"
)

// PayloadBuilder produces signed proofs for one scheme on one network. It is
// the payer-side counterpart of Mechanism; implementations live under
// mechanisms/ next to their verifiers.
type PayloadBuilder interface {
	// Scheme returns the payment scheme this builder can satisfy.
	Scheme() string

	// Network returns the CAIP-2 network this builder signs for. It may
	// carry a wildcard reference to cover a whole namespace.
	Network() Network

	// BuildPayload signs a proof satisfying the given requirements entry.
	BuildPayload(ctx context.Context, requirements PaymentRequirements) (*PaymentPayload, error)
}

// RequirementsSelector chooses which requirements entry to pay when a
// challenge offers several the payer can satisfy.
type RequirementsSelector func(accepts []PaymentRequirements) PaymentRequirements

// Payer holds the payload builders an application can sign with and turns
// 402 challenges into payment proofs. Safe for concurrent use after
// registration is complete.
type Payer struct {
	mu       sync.RWMutex
	builders map[Network]map[string]PayloadBuilder
	selector RequirementsSelector
}

// PayerOption configures a Payer.
type PayerOption func(*Payer)

// WithRequirementsSelector overrides the default first-entry selection.
func WithRequirementsSelector(selector RequirementsSelector) PayerOption {
	return func(p *Payer) { p.selector = selector }
}

// NewPayer returns an empty payer.
func NewPayer(opts ...PayerOption) *Payer {
	p := &Payer{
		builders: make(map[Network]map[string]PayloadBuilder),
		selector: func(accepts []PaymentRequirements) PaymentRequirements {
			return accepts[0]
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a builder under its own scheme and network. Registering a
// second builder for the same pair replaces the first.
func (p *Payer) Register(b PayloadBuilder) error {
	network := b.Network()
	if network.Reference() != "*" {
		if err := network.Validate(); err != nil {
			return err
		}
	}
	if b.Scheme() == "" {
		return fmt.Errorf("builder for network %q has empty scheme", network)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.builders[network] == nil {
		p.builders[network] = make(map[string]PayloadBuilder)
	}
	p.builders[network][b.Scheme()] = b
	return nil
}

// Payable filters a challenge's accepts list to the entries this payer can
// satisfy, preserving order.
func (p *Payer) Payable(accepts []PaymentRequirements) []PaymentRequirements {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var payable []PaymentRequirements
	for _, req := range accepts {
		if _, ok := findByNetworkAndScheme(p.builders, req.Network, req.Scheme); ok {
			payable = append(payable, req)
		}
	}
	return payable
}

// CanPay reports whether any entry of the accepts list is payable.
func (p *Payer) CanPay(accepts []PaymentRequirements) bool {
	return len(p.Payable(accepts)) > 0
}

// Pay signs a proof for one entry of the accepts list, chosen by the
// configured selector among the payable entries.
func (p *Payer) Pay(ctx context.Context, accepts []PaymentRequirements) (*PaymentPayload, error) {
	payable := p.Payable(accepts)
	if len(payable) == 0 {
		return nil, NewPaymentError(ReasonUnsupportedScheme, "no registered builder can satisfy the challenge")
	}
	selected := p.selector(payable)

	p.mu.RLock()
	builder, ok := findByNetworkAndScheme(p.builders, selected.Network, selected.Scheme)
	p.mu.RUnlock()
	if !ok {
		return nil, NewPaymentError(ReasonUnsupportedScheme,
			"selector chose %s on %s which has no builder", selected.Scheme, selected.Network)
	}

	payload, err := builder.BuildPayload(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment payload: %w", err)
	}
	return payload, nil
}

// PayForChallenge signs a proof answering a decoded 402 challenge body.
func (p *Payer) PayForChallenge(ctx context.Context, required *PaymentRequired) (*PaymentPayload, error) {
	return p.Pay(ctx, required.Accepts)
}
