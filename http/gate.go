// Package http contains the access gate middleware, the facilitator HTTP
// service, and the client for talking to a remote facilitator.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/paygate-protocol/paygate"
	"github.com/paygate-protocol/paygate/ledger"
	"github.com/paygate-protocol/paygate/logger"
	"github.com/paygate-protocol/paygate/metrics"
)

// GateState tracks a request's progress through the payment gate.
type GateState int

const (
	StateUnchallenged GateState = iota
	StateChallenged
	StateProofReceived
	StateVerified
	StateSettling
	StateReleased
	StateDenied
)

func (s GateState) String() string {
	switch s {
	case StateUnchallenged:
		return "unchallenged"
	case StateChallenged:
		return "challenged"
	case StateProofReceived:
		return "proof_received"
	case StateVerified:
		return "verified"
	case StateSettling:
		return "settling"
	case StateReleased:
		return "released"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// RouteConfig describes the payment terms of one protected route.
type RouteConfig struct {
	// Chargeable gates the route behind payment. Free routes are served
	// directly but still recorded in the ledger for audit.
	Chargeable bool

	// Accepts lists the payment requirement entries offered in the
	// challenge. Resource is filled from the request when empty.
	Accepts []paygate.PaymentRequirements

	// Description and MimeType annotate the challenge.
	Description string
	MimeType    string

	// OutputSchema, when set, is attached to the challenge and enforced
	// against the released response body.
	OutputSchema json.RawMessage
}

// Gate enforces pay-per-request access in front of HTTP handlers.
type Gate struct {
	service       paygate.FacilitatorService
	store         ledger.Store
	log           logger.Logger
	rec           metrics.Recorder
	strictConfirm bool
	snapshot      bool
	paywallHTML   string
	rootURL       string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLedger sets the store recording released queries. Without one the gate
// still enforces payment but keeps no audit trail.
func WithLedger(store ledger.Store) GateOption {
	return func(g *Gate) { g.store = store }
}

// WithStrictConfirm makes the gate release only on confirmed finality.
// The default is optimistic release: pending settlements release too.
func WithStrictConfirm() GateOption {
	return func(g *Gate) { g.strictConfirm = true }
}

// WithResponseSnapshots stores released response bodies in the ledger.
func WithResponseSnapshots() GateOption {
	return func(g *Gate) { g.snapshot = true }
}

// WithPaywallHTML overrides the HTML served to browsers on 402.
func WithPaywallHTML(html string) GateOption {
	return func(g *Gate) { g.paywallHTML = html }
}

// WithResourceRootURL sets the base URL prepended to request paths when a
// requirements entry has no explicit resource.
func WithResourceRootURL(rootURL string) GateOption {
	return func(g *Gate) { g.rootURL = strings.TrimSuffix(rootURL, "/") }
}

// WithGateLogger attaches a logger.
func WithGateLogger(log logger.Logger) GateOption {
	return func(g *Gate) { g.log = log }
}

// WithGateMetrics attaches a metrics recorder.
func WithGateMetrics(rec metrics.Recorder) GateOption {
	return func(g *Gate) { g.rec = rec }
}

// NewGate builds a gate in front of the given facilitator service.
func NewGate(service paygate.FacilitatorService, opts ...GateOption) *Gate {
	g := &Gate{
		service: service,
		log:     logger.Noop{},
		rec:     metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware wraps a handler with payment enforcement for one route.
func (g *Gate) Middleware(cfg RouteConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, cfg, next)
		})
	}
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, cfg RouteConfig, next http.Handler) {
	resource := g.resourceURL(r)

	if !cfg.Chargeable {
		if err := g.recordRelease(r.Context(), ledger.Record{Resource: resource}); err != nil {
			g.log.Error("ledger insert failed", map[string]any{
				"resource": resource,
				"error":    err.Error(),
			})
		}
		next.ServeHTTP(w, r)
		return
	}

	accepts := g.fillRequirements(cfg, resource)
	state := StateUnchallenged
	start := time.Now()

	header := r.Header.Get(paygate.PaymentHeader)
	if header == "" {
		state = StateChallenged
		g.challenge(w, r, "payment required", accepts, cfg)
		g.observe(state, "", start)
		return
	}
	state = StateProofReceived

	payload, err := paygate.DecodePaymentPayload(header)
	if err != nil {
		state = StateDenied
		g.challenge(w, r, paygate.ReasonFromError(err), accepts, cfg)
		g.observe(state, "", start)
		return
	}

	requirements, ok := matchRequirements(accepts, payload)
	if !ok {
		state = StateDenied
		g.challenge(w, r, paygate.ReasonUnsupportedScheme, accepts, cfg)
		g.observe(state, payload.Network, start)
		return
	}

	verifyResp, err := g.service.Verify(r.Context(), payload, requirements)
	if err != nil {
		g.serverError(w, err)
		return
	}
	if !verifyResp.IsValid {
		state = StateDenied
		g.challenge(w, r, verifyResp.InvalidReason, accepts, cfg)
		g.observe(state, payload.Network, start)
		return
	}
	state = StateVerified
	g.rec.IncCounter("gate_"+state.String(), map[string]string{"network": string(payload.Network)})

	state = StateSettling
	settleResp, err := g.service.Settle(r.Context(), payload, requirements)
	if err != nil {
		g.serverError(w, err)
		return
	}
	if !settleResp.Released(g.strictConfirm) {
		state = StateDenied
		reason := settleResp.ErrorReason
		if reason == "" {
			reason = paygate.ReasonSettleTimeout
		}
		g.challenge(w, r, reason, accepts, cfg)
		g.observe(state, payload.Network, start)
		return
	}

	// Run the handler into a buffer so the ledger insert can gate the
	// actual release of the bytes.
	recorder := newResponseBuffer()
	next.ServeHTTP(recorder, r)

	if len(cfg.OutputSchema) > 0 && recorder.status < 300 {
		if err := ValidateOutput(cfg.OutputSchema, recorder.body.Bytes()); err != nil {
			g.log.Error("response failed output schema", map[string]any{
				"resource": resource,
				"error":    err.Error(),
			})
			g.serverError(w, err)
			return
		}
	}

	rec := ledger.Record{
		Resource:    resource,
		Payer:       settleResp.Payer,
		Transaction: settleResp.Transaction,
		Network:     string(settleResp.Network),
		Finality:    string(settleResp.Finality),
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if g.snapshot {
		rec.ResponseSnapshot = recorder.body.Bytes()
	}
	if err := g.recordRelease(r.Context(), rec); err != nil {
		// Without an audit record the bytes must not leave the gate.
		g.log.Error("ledger insert failed", map[string]any{
			"resource": rec.Resource,
			"error":    err.Error(),
		})
		g.serverError(w, err)
		return
	}
	state = StateReleased

	if respHeader, err := paygate.EncodeSettleResponse(settleResp); err == nil {
		w.Header().Set(paygate.PaymentResponseHeader, respHeader)
	}
	recorder.flush(w)
	g.observe(state, payload.Network, start)
}

// recordRelease appends the release to the ledger. A duplicate insert means
// the same transaction already released this resource; the release stands on
// the existing record, since the payment settled exactly once and both
// requests observe the same outcome.
func (g *Gate) recordRelease(ctx context.Context, rec ledger.Record) error {
	if g.store == nil {
		return nil
	}
	_, err := g.store.InsertIfAbsent(ctx, rec)
	if errors.Is(err, ledger.ErrDuplicate) {
		g.log.Info("release already recorded", map[string]any{
			"resource":    rec.Resource,
			"transaction": rec.Transaction,
		})
		return nil
	}
	return err
}

func (g *Gate) resourceURL(r *http.Request) string {
	if g.rootURL != "" {
		return g.rootURL + r.URL.Path
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func (g *Gate) fillRequirements(cfg RouteConfig, resource string) []paygate.PaymentRequirements {
	accepts := make([]paygate.PaymentRequirements, len(cfg.Accepts))
	copy(accepts, cfg.Accepts)
	for i := range accepts {
		if accepts[i].Resource == "" {
			accepts[i].Resource = resource
		}
		if accepts[i].Description == "" {
			accepts[i].Description = cfg.Description
		}
		if accepts[i].MimeType == "" {
			accepts[i].MimeType = cfg.MimeType
		}
		if len(accepts[i].OutputSchema) == 0 {
			accepts[i].OutputSchema = cfg.OutputSchema
		}
	}
	return accepts
}

func (g *Gate) challenge(w http.ResponseWriter, r *http.Request, reason string, accepts []paygate.PaymentRequirements, cfg RouteConfig) {
	if isWebBrowser(r) {
		html := g.paywallHTML
		if html == "" {
			html = paywallHTML(accepts, cfg.Description)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(html))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(paygate.PaymentRequired{
		Version: paygate.ProtocolVersion,
		Error:   reason,
		Accepts: accepts,
	})
}

func (g *Gate) serverError(w http.ResponseWriter, err error) {
	g.log.Error("gate internal error", map[string]any{"error": err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]any{
		"error":       err.Error(),
		"x402Version": paygate.ProtocolVersion,
	})
}

func (g *Gate) observe(state GateState, network paygate.Network, start time.Time) {
	labels := map[string]string{"network": string(network)}
	g.rec.IncCounter("gate_"+state.String(), labels)
	g.rec.ObserveLatency("gate", time.Since(start), labels)
}

// matchRequirements finds the requirements entry the proof claims to
// satisfy.
func matchRequirements(accepts []paygate.PaymentRequirements, payload *paygate.PaymentPayload) (*paygate.PaymentRequirements, bool) {
	for i := range accepts {
		if accepts[i].Scheme == payload.Scheme && accepts[i].Network.Match(payload.Network) {
			return &accepts[i], true
		}
	}
	return nil, false
}

func isWebBrowser(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

// responseBuffer captures a handler's response so release can be decided
// before any byte reaches the client.
type responseBuffer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) { b.status = status }

func (b *responseBuffer) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *responseBuffer) flush(w http.ResponseWriter) {
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}
