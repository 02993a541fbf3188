package paygate

import (
	"errors"
	"fmt"
)

// Machine-readable reason codes carried in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason.
const (
	ReasonMalformedPayload   = "malformed_payload"
	ReasonUnsupportedScheme  = "unsupported_scheme"
	ReasonNetworkMismatch    = "network_mismatch"
	ReasonRecipientMismatch  = "recipient_mismatch"
	ReasonAmountInsufficient = "amount_insufficient"
	ReasonSignatureInvalid   = "signature_invalid"
	ReasonNonceUsed          = "nonce_used"
	ReasonPaymentExpired     = "payment_expired"
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonBroadcastFailed    = "broadcast_failed"
	ReasonSettleTimeout      = "settle_timeout"
	ReasonUnexpectedError    = "unexpected_error"
)

// PaymentError is a protocol-level failure with a stable machine-readable
// code. Use errors.As to recover the code from a wrapped chain.
type PaymentError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError builds a PaymentError with a formatted message.
func NewPaymentError(code, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a key/value pair to the error and returns it.
func (e *PaymentError) WithDetail(key string, value any) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ReasonFromError extracts a reason code from err, falling back to
// unexpected_error for anything that is not a PaymentError.
func ReasonFromError(err error) string {
	if err == nil {
		return ""
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ReasonUnexpectedError
}
