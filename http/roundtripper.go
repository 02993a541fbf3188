package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/paygate-protocol/paygate"
)

// PayingTransport answers 402 challenges transparently: when the wrapped
// transport returns a payment challenge, it signs a proof with the payer and
// retries the request once with the payment header attached.
type PayingTransport struct {
	// Base performs the actual requests. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// Payer signs proofs for the networks the application can pay on.
	Payer *paygate.Payer
}

// NewPayingClient returns an http.Client that pays 402 challenges with the
// given payer.
func NewPayingClient(payer *paygate.Payer) *http.Client {
	return &http.Client{Transport: &PayingTransport{Payer: payer}}
}

func (t *PayingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Buffer the body up front so the request can be replayed after a
	// challenge.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(paygate.PaymentHeader) != "" {
		return resp, nil
	}

	challenge, err := decodeChallenge(resp)
	if err != nil {
		return nil, err
	}

	payload, err := t.Payer.PayForChallenge(req.Context(), challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to pay challenge: %w", err)
	}
	header, err := paygate.EncodePaymentPayload(payload)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	retry.Header.Set(paygate.PaymentHeader, header)
	if bodyBytes != nil {
		retry.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}
	return base.RoundTrip(retry)
}

// decodeChallenge reads a PaymentRequired body, draining and closing the
// challenge response.
func decodeChallenge(resp *http.Response) (*paygate.PaymentRequired, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge body: %w", err)
	}
	var challenge paygate.PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("challenge is not a payment required body: %w", err)
	}
	if len(challenge.Accepts) == 0 {
		return nil, fmt.Errorf("challenge offers no payment requirements")
	}
	return &challenge, nil
}
