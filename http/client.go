package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paygate-protocol/paygate"
)

// AuthHeaderProvider supplies per-operation authentication headers for a
// hosted facilitator, e.g. API key signatures.
type AuthHeaderProvider func(operation string) (map[string]string, error)

// FacilitatorClient talks to a remote facilitator over its HTTP API. It
// implements paygate.FacilitatorService so a gate can run against either a
// local facilitator or a hosted one without caring which.
type FacilitatorClient struct {
	baseURL string
	client  *http.Client
	auth    AuthHeaderProvider
}

// ClientOption configures a FacilitatorClient.
type ClientOption func(*FacilitatorClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *FacilitatorClient) { c.client = client }
}

// WithAuthHeaders attaches an authentication header provider.
func WithAuthHeaders(auth AuthHeaderProvider) ClientOption {
	return func(c *FacilitatorClient) { c.auth = auth }
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, opts ...ClientOption) *FacilitatorClient {
	c := &FacilitatorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify calls POST /verify.
func (c *FacilitatorClient) Verify(ctx context.Context, payload *paygate.PaymentPayload, requirements *paygate.PaymentRequirements) (*paygate.VerifyResponse, error) {
	var out paygate.VerifyResponse
	err := c.post(ctx, "verify", paygate.VerifyRequest{
		Version:        paygate.ProtocolVersion,
		PaymentPayload: *payload,
		Requirements:   *requirements,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle calls POST /settle.
func (c *FacilitatorClient) Settle(ctx context.Context, payload *paygate.PaymentPayload, requirements *paygate.PaymentRequirements) (*paygate.SettleResponse, error) {
	var out paygate.SettleResponse
	err := c.post(ctx, "settle", paygate.SettleRequest{
		Version:        paygate.ProtocolVersion,
		PaymentPayload: *payload,
		Requirements:   *requirements,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SupportedKinds calls GET /supported.
func (c *FacilitatorClient) SupportedKinds(ctx context.Context) ([]paygate.SupportedKind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, err
	}
	if err := c.applyAuth(req, "supported"); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supported request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("facilitator returned status %d", resp.StatusCode)
	}
	var out paygate.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return out.Kinds, nil
}

// Supported satisfies paygate.FacilitatorService. Discovery failures yield
// an empty list; use SupportedKinds to observe the error.
func (c *FacilitatorClient) Supported() []paygate.SupportedKind {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	kinds, err := c.SupportedKinds(ctx)
	if err != nil {
		return nil
	}
	return kinds
}

func (c *FacilitatorClient) post(ctx context.Context, operation string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+operation, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyAuth(req, operation); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("facilitator %s returned status %d: %s", operation, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

func (c *FacilitatorClient) applyAuth(req *http.Request, operation string) error {
	if c.auth == nil {
		return nil
	}
	headers, err := c.auth(operation)
	if err != nil {
		return fmt.Errorf("failed to create auth headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

var _ paygate.FacilitatorService = (*FacilitatorClient)(nil)
