package paygate

import (
	"context"
	"fmt"
	"sort"
)

// Facilitator routes verification and settlement calls to registered
// mechanisms by scheme and network. It implements FacilitatorService and is
// safe for concurrent use after registration is complete.
type Facilitator struct {
	mechanisms map[Network]map[string]Mechanism
}

// NewFacilitator returns an empty facilitator.
func NewFacilitator() *Facilitator {
	return &Facilitator{mechanisms: make(map[Network]map[string]Mechanism)}
}

// Register adds a mechanism under its own scheme and network. Registering a
// second mechanism for the same pair replaces the first. Registration is not
// safe to interleave with Verify or Settle.
func (f *Facilitator) Register(m Mechanism) error {
	network := m.Network()
	if network.Reference() != "*" {
		if err := network.Validate(); err != nil {
			return err
		}
	}
	if m.Scheme() == "" {
		return fmt.Errorf("mechanism for network %q has empty scheme", network)
	}
	if f.mechanisms[network] == nil {
		f.mechanisms[network] = make(map[string]Mechanism)
	}
	f.mechanisms[network][m.Scheme()] = m
	return nil
}

// Mechanism resolves the mechanism serving a scheme on a network, honoring
// wildcard registrations.
func (f *Facilitator) Mechanism(network Network, scheme string) (Mechanism, bool) {
	return findByNetworkAndScheme(f.mechanisms, network, scheme)
}

// Verify routes a proof to the mechanism registered for its scheme and
// network. An unknown pair yields IsValid=false with unsupported_scheme
// rather than an error, so gates can answer with a fresh challenge.
func (f *Facilitator) Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error) {
	m, ok := f.Mechanism(payload.Network, payload.Scheme)
	if !ok {
		return &VerifyResponse{
			IsValid:       false,
			InvalidReason: ReasonUnsupportedScheme,
		}, nil
	}
	return m.Verify(ctx, payload, requirements)
}

// Settle routes a proof to the mechanism registered for its scheme and
// network.
func (f *Facilitator) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	m, ok := f.Mechanism(payload.Network, payload.Scheme)
	if !ok {
		return &SettleResponse{
			Success:     false,
			ErrorReason: ReasonUnsupportedScheme,
			Network:     payload.Network,
		}, nil
	}
	return m.Settle(ctx, payload, requirements)
}

// Supported enumerates every registered scheme and network pair in a stable
// order.
func (f *Facilitator) Supported() []SupportedKind {
	var kinds []SupportedKind
	for network, byScheme := range f.mechanisms {
		for scheme := range byScheme {
			kinds = append(kinds, SupportedKind{
				Version: ProtocolVersion,
				Scheme:  scheme,
				Network: network,
			})
		}
	}
	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Network != kinds[j].Network {
			return kinds[i].Network < kinds[j].Network
		}
		return kinds[i].Scheme < kinds[j].Scheme
	})
	return kinds
}
