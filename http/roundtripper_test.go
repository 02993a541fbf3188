package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paygate-protocol/paygate"
)

type stubBuilder struct{}

func (stubBuilder) Scheme() string           { return "exact" }
func (stubBuilder) Network() paygate.Network { return "eip155:*" }

func (stubBuilder) BuildPayload(ctx context.Context, req paygate.PaymentRequirements) (*paygate.PaymentPayload, error) {
	return &paygate.PaymentPayload{
		Version:  paygate.ProtocolVersion,
		Scheme:   "exact",
		Network:  req.Network,
		Payload:  json.RawMessage(`{"signature":"0xsig"}`),
		Accepted: req,
	}, nil
}

func TestPayingClientAnswersChallenge(t *testing.T) {
	gate := NewGate(&fakeService{})
	server := httptest.NewServer(gate.Middleware(paidRoute())(contentHandler(`{"temp":21}`)))
	defer server.Close()

	payer := paygate.NewPayer()
	if err := payer.Register(stubBuilder{}); err != nil {
		t.Fatal(err)
	}
	client := NewPayingClient(payer)

	resp, err := client.Get(server.URL + "/weather")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "21") {
		t.Errorf("unexpected body %s", body)
	}
	if resp.Header.Get(paygate.PaymentResponseHeader) == "" {
		t.Error("missing settle response header")
	}
}

func TestPayingClientPassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewPayingClient(paygate.NewPayer())
	resp, err := client.Get(server.URL + "/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPayingClientCannotPay(t *testing.T) {
	gate := NewGate(&fakeService{})
	server := httptest.NewServer(gate.Middleware(paidRoute())(contentHandler(`{}`)))
	defer server.Close()

	// No builders registered: the challenge cannot be answered.
	client := NewPayingClient(paygate.NewPayer())
	_, err := client.Get(server.URL + "/weather")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), paygate.ReasonUnsupportedScheme) {
		t.Errorf("unexpected error %v", err)
	}
}
