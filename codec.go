package paygate

import (
	"encoding/base64"
	"encoding/json"
)

// Wire header names used by the access gate and clients.
const (
	PaymentHeader         = "X-Payment"
	PaymentResponseHeader = "X-Payment-Response"
)

// EncodePaymentPayload serializes a proof for the X-Payment request header.
func EncodePaymentPayload(p *PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentPayload parses an X-Payment header value. Any decoding or
// structural failure is reported as malformed_payload so callers can map it
// straight onto a challenge response.
func DecodePaymentPayload(header string) (*PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, NewPaymentError(ReasonMalformedPayload, "payment header is not valid base64: %v", err)
	}
	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, NewPaymentError(ReasonMalformedPayload, "payment header is not valid JSON: %v", err)
	}
	if payload.Version != ProtocolVersion {
		return nil, NewPaymentError(ReasonMalformedPayload, "unsupported payment version %d", payload.Version)
	}
	if payload.Scheme == "" {
		return nil, NewPaymentError(ReasonMalformedPayload, "payment payload missing scheme")
	}
	if err := payload.Network.Validate(); err != nil {
		return nil, NewPaymentError(ReasonMalformedPayload, "payment payload network: %v", err)
	}
	return &payload, nil
}

// EncodeSettleResponse serializes a settlement outcome for the
// X-Payment-Response header returned alongside released content.
func EncodeSettleResponse(r *SettleResponse) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettleResponse parses an X-Payment-Response header value.
func DecodeSettleResponse(header string) (*SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	var resp SettleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
