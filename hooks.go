package paygate

import (
	"context"
	"time"
)

// Hooks observe and gate the engine's verify and settle operations. All
// fields are optional.
//
// Before hooks run ahead of the operation; a non-nil error aborts it and the
// error's reason code is surfaced to the caller as a denial. After hooks run
// once the operation produced a response and cannot change it; they are the
// place for accounting, allow-lists kept elsewhere, or external audit trails.
type Hooks struct {
	BeforeVerify func(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) error
	AfterVerify  func(ctx context.Context, payload *PaymentPayload, resp *VerifyResponse, took time.Duration)

	BeforeSettle func(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) error
	AfterSettle  func(ctx context.Context, payload *PaymentPayload, resp *SettleResponse, took time.Duration)
}

// WithHooks attaches hooks to the engine.
func WithHooks(hooks Hooks) EngineOption {
	return func(e *SettlementEngine) { e.hooks = hooks }
}

func (h Hooks) beforeVerify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) *VerifyResponse {
	if h.BeforeVerify == nil {
		return nil
	}
	if err := h.BeforeVerify(ctx, payload, requirements); err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: ReasonFromError(err)}
	}
	return nil
}

func (h Hooks) afterVerify(ctx context.Context, payload *PaymentPayload, resp *VerifyResponse, took time.Duration) {
	if h.AfterVerify != nil {
		h.AfterVerify(ctx, payload, resp, took)
	}
}

func (h Hooks) beforeSettle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) *SettleResponse {
	if h.BeforeSettle == nil {
		return nil
	}
	if err := h.BeforeSettle(ctx, payload, requirements); err != nil {
		return &SettleResponse{
			Success:     false,
			ErrorReason: ReasonFromError(err),
			Network:     payload.Network,
		}
	}
	return nil
}

func (h Hooks) afterSettle(ctx context.Context, payload *PaymentPayload, resp *SettleResponse, took time.Duration) {
	if h.AfterSettle != nil {
		h.AfterSettle(ctx, payload, resp, took)
	}
}
