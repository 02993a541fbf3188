package paygate

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func hookPayment(tx string) *PaymentPayload {
	return &PaymentPayload{
		Version: ProtocolVersion,
		Scheme:  "exact",
		Network: "eip155:8453",
		Payload: json.RawMessage(`{"signature":"` + tx + `"}`),
	}
}

func hookEngine(t *testing.T, hooks Hooks) *SettlementEngine {
	t.Helper()
	f := NewFacilitator()
	if err := f.Register(&mockMechanism{scheme: "exact", network: "eip155:8453"}); err != nil {
		t.Fatal(err)
	}
	return NewSettlementEngine(f, WithHooks(hooks))
}

func TestBeforeVerifyHookDenies(t *testing.T) {
	engine := hookEngine(t, Hooks{
		BeforeVerify: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) error {
			return NewPaymentError(ReasonInsufficientFunds, "payer is blocked")
		},
	})

	resp, err := engine.Verify(context.Background(), hookPayment("0x1"), &PaymentRequirements{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.IsValid || resp.InvalidReason != ReasonInsufficientFunds {
		t.Errorf("expected hook denial, got %+v", resp)
	}
}

func TestBeforeSettleHookDenies(t *testing.T) {
	engine := hookEngine(t, Hooks{
		BeforeSettle: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) error {
			return NewPaymentError(ReasonPaymentExpired, "too late")
		},
	})

	resp, err := engine.Settle(context.Background(), hookPayment("0x1"), &PaymentRequirements{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.ErrorReason != ReasonPaymentExpired {
		t.Errorf("expected hook denial, got %+v", resp)
	}
}

func TestAfterHooksObserve(t *testing.T) {
	var verified, settled int
	engine := hookEngine(t, Hooks{
		AfterVerify: func(ctx context.Context, p *PaymentPayload, resp *VerifyResponse, took time.Duration) {
			verified++
			if !resp.IsValid {
				t.Errorf("unexpected verify result %+v", resp)
			}
		},
		AfterSettle: func(ctx context.Context, p *PaymentPayload, resp *SettleResponse, took time.Duration) {
			settled++
			if !resp.Success {
				t.Errorf("unexpected settle result %+v", resp)
			}
		},
	})
	ctx := context.Background()

	if _, err := engine.Verify(ctx, hookPayment("0x1"), &PaymentRequirements{}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Settle(ctx, hookPayment("0x1"), &PaymentRequirements{}); err != nil {
		t.Fatal(err)
	}
	// A deduped settle returns the cached result; the after hook fires
	// once per broadcast, not per call.
	if _, err := engine.Settle(ctx, hookPayment("0x1"), &PaymentRequirements{}); err != nil {
		t.Fatal(err)
	}

	if verified != 1 || settled != 1 {
		t.Errorf("expected one verify and one settle observation, got %d/%d", verified, settled)
	}
}
