package paygate

import (
	"context"
	"testing"
)

type mockMechanism struct {
	scheme   string
	network  Network
	verifyFn func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*VerifyResponse, error)
	settleFn func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error)
	txIDFn   func(p *PaymentPayload) (string, error)
}

func (m *mockMechanism) Scheme() string   { return m.scheme }
func (m *mockMechanism) Network() Network { return m.network }

func (m *mockMechanism) Verify(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*VerifyResponse, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, p, r)
	}
	return &VerifyResponse{IsValid: true, Payer: "0xabc"}, nil
}

func (m *mockMechanism) Settle(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
	if m.settleFn != nil {
		return m.settleFn(ctx, p, r)
	}
	return &SettleResponse{Success: true, Transaction: "0xtx", Network: p.Network, Finality: FinalityConfirmed}, nil
}

func (m *mockMechanism) TransactionID(p *PaymentPayload) (string, error) {
	if m.txIDFn != nil {
		return m.txIDFn(p)
	}
	return "tx-" + string(p.Payload), nil
}

func TestFacilitatorRouting(t *testing.T) {
	f := NewFacilitator()
	base := &mockMechanism{scheme: "exact", network: "eip155:8453"}
	if err := f.Register(base); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}
	reqs := &PaymentRequirements{Scheme: "exact", Network: "eip155:8453"}

	resp, err := f.Verify(ctx, payload, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsValid {
		t.Errorf("expected valid, got %+v", resp)
	}

	unknown := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:1"}
	resp, err = f.Verify(ctx, unknown, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if resp.IsValid || resp.InvalidReason != ReasonUnsupportedScheme {
		t.Errorf("expected unsupported_scheme, got %+v", resp)
	}
}

func TestFacilitatorWildcardRouting(t *testing.T) {
	f := NewFacilitator()
	wildcard := &mockMechanism{scheme: "exact", network: "eip155:*"}
	specific := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		verifyFn: func(context.Context, *PaymentPayload, *PaymentRequirements) (*VerifyResponse, error) {
			return &VerifyResponse{IsValid: true, Payer: "specific"}, nil
		},
	}
	if err := f.Register(wildcard); err != nil {
		t.Fatal(err)
	}
	if err := f.Register(specific); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	reqs := &PaymentRequirements{}

	// Exact registration shadows the wildcard.
	resp, err := f.Verify(ctx, &PaymentPayload{Scheme: "exact", Network: "eip155:8453"}, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Payer != "specific" {
		t.Errorf("expected specific mechanism, got payer %q", resp.Payer)
	}

	// Other references in the namespace fall through to the wildcard.
	resp, err = f.Verify(ctx, &PaymentPayload{Scheme: "exact", Network: "eip155:1"}, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Payer != "0xabc" {
		t.Errorf("expected wildcard mechanism, got payer %q", resp.Payer)
	}
}

func TestFacilitatorSettleUnknownScheme(t *testing.T) {
	f := NewFacilitator()
	resp, err := f.Settle(context.Background(), &PaymentPayload{Scheme: "exact", Network: "eip155:1"}, &PaymentRequirements{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.ErrorReason != ReasonUnsupportedScheme {
		t.Errorf("expected unsupported_scheme rejection, got %+v", resp)
	}
}

func TestFacilitatorRegisterValidation(t *testing.T) {
	f := NewFacilitator()
	if err := f.Register(&mockMechanism{scheme: "", network: "eip155:1"}); err == nil {
		t.Error("expected error for empty scheme")
	}
	if err := f.Register(&mockMechanism{scheme: "exact", network: "eip155"}); err == nil {
		t.Error("expected error for malformed network")
	}
}

func TestFacilitatorSupported(t *testing.T) {
	f := NewFacilitator()
	for _, m := range []*mockMechanism{
		{scheme: "exact", network: "solana:mainnet"},
		{scheme: "exact", network: "eip155:8453"},
		{scheme: "upto", network: "eip155:8453"},
	} {
		if err := f.Register(m); err != nil {
			t.Fatal(err)
		}
	}

	kinds := f.Supported()
	if len(kinds) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(kinds))
	}
	// Stable ordering: network then scheme.
	if kinds[0].Network != "eip155:8453" || kinds[0].Scheme != "exact" {
		t.Errorf("unexpected first kind: %+v", kinds[0])
	}
	if kinds[2].Network != "solana:mainnet" {
		t.Errorf("unexpected last kind: %+v", kinds[2])
	}
	for _, k := range kinds {
		if k.Version != ProtocolVersion {
			t.Errorf("kind missing version: %+v", k)
		}
	}
}
