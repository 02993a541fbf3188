package gin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/paygate-protocol/paygate"
	gatehttp "github.com/paygate-protocol/paygate/http"
)

type okService struct{}

func (okService) Verify(ctx context.Context, p *paygate.PaymentPayload, r *paygate.PaymentRequirements) (*paygate.VerifyResponse, error) {
	return &paygate.VerifyResponse{IsValid: true, Payer: "0xabc"}, nil
}

func (okService) Settle(ctx context.Context, p *paygate.PaymentPayload, r *paygate.PaymentRequirements) (*paygate.SettleResponse, error) {
	return &paygate.SettleResponse{
		Success:     true,
		Payer:       "0xabc",
		Transaction: "0xtx",
		Network:     p.Network,
		Finality:    paygate.FinalityConfirmed,
	}, nil
}

func (okService) Supported() []paygate.SupportedKind { return nil }

func testRoute() gatehttp.RouteConfig {
	return gatehttp.RouteConfig{
		Chargeable: true,
		Accepts: []paygate.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "10000",
			PayTo:   "0x2222222222222222222222222222222222222222",
		}},
	}
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gate := gatehttp.NewGate(okService{})
	router := gin.New()
	router.GET("/weather", Middleware(gate, testRoute()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"temp": 21})
	})
	return router
}

func TestMiddlewareChallenges(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	var challenge paygate.PaymentRequired
	if err := json.Unmarshal(w.Body.Bytes(), &challenge); err != nil {
		t.Fatal(err)
	}
	if len(challenge.Accepts) != 1 {
		t.Errorf("expected accepts entry, got %+v", challenge)
	}
}

func TestMiddlewareReleases(t *testing.T) {
	router := testRouter(t)

	header, err := paygate.EncodePaymentPayload(&paygate.PaymentPayload{
		Version: paygate.ProtocolVersion,
		Scheme:  "exact",
		Network: "eip155:8453",
		Payload: json.RawMessage(`{"signature":"0xsig"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set(paygate.PaymentHeader, header)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(paygate.PaymentResponseHeader) == "" {
		t.Error("missing settle response header")
	}
}
