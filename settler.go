package paygate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/paygate-protocol/paygate/ledger"
	"github.com/paygate-protocol/paygate/logger"
	"github.com/paygate-protocol/paygate/metrics"
)

// DefaultSettlementWindow bounds how long a single settlement attempt may
// run, covering broadcast plus finality polling.
const DefaultSettlementWindow = 60 * time.Second

// SettlementEngine drives settlement through a Facilitator with idempotency
// and a bounded settlement window. Duplicate settlements of the same payment
// coalesce onto one broadcast, and a settlement that has started keeps
// running even if the triggering request disconnects.
type SettlementEngine struct {
	facilitator *Facilitator
	cache       *SettlementCache
	store       ledger.Store
	window      time.Duration
	log         logger.Logger
	rec         metrics.Recorder
	hooks       Hooks
}

// EngineOption configures a SettlementEngine.
type EngineOption func(*SettlementEngine)

// WithSettlementWindow overrides the per-settlement deadline.
func WithSettlementWindow(d time.Duration) EngineOption {
	return func(e *SettlementEngine) { e.window = d }
}

// WithCacheTTL overrides how long completed settlement results are retained
// for deduplication.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *SettlementEngine) { e.cache = NewSettlementCache(ttl) }
}

// WithLogger attaches a logger.
func WithLogger(log logger.Logger) EngineOption {
	return func(e *SettlementEngine) { e.log = log }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec metrics.Recorder) EngineOption {
	return func(e *SettlementEngine) { e.rec = rec }
}

// WithQueryLedger attaches the ledger of released queries. Before
// broadcasting, the engine checks whether the payment's transaction already
// backs a released query and returns the recorded outcome instead of
// resubmitting; this keeps idempotency across cache expiry and restarts.
func WithQueryLedger(store ledger.Store) EngineOption {
	return func(e *SettlementEngine) { e.store = store }
}

// NewSettlementEngine wraps a facilitator. Defaults: 60s settlement window,
// 10 minute result cache, no logging, no metrics.
func NewSettlementEngine(f *Facilitator, opts ...EngineOption) *SettlementEngine {
	e := &SettlementEngine{
		facilitator: f,
		cache:       NewSettlementCache(10 * time.Minute),
		window:      DefaultSettlementWindow,
		log:         logger.Noop{},
		rec:         metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify delegates to the facilitator. Verification is read-only and needs
// no idempotency.
func (e *SettlementEngine) Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error) {
	if denied := e.hooks.beforeVerify(ctx, payload, requirements); denied != nil {
		return denied, nil
	}
	start := time.Now()
	resp, err := e.facilitator.Verify(ctx, payload, requirements)
	took := time.Since(start)
	e.rec.ObserveLatency("verify", took, map[string]string{"network": string(payload.Network)})
	if err == nil {
		e.hooks.afterVerify(ctx, payload, resp, took)
	}
	return resp, err
}

// Supported delegates to the facilitator.
func (e *SettlementEngine) Supported() []SupportedKind {
	return e.facilitator.Supported()
}

// SettlementKey derives the deduplication key for a payment. Mechanisms
// provide a pre-broadcast transaction identity; when none is registered the
// key falls back to a hash of the proof bytes, which still dedupes retries
// of the identical payload.
func (e *SettlementEngine) SettlementKey(payload *PaymentPayload) string {
	if m, ok := e.facilitator.Mechanism(payload.Network, payload.Scheme); ok {
		if id, err := m.TransactionID(payload); err == nil && id != "" {
			return id
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = payload.Payload
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Settle settles a payment at most once.
//
// A cached result for the same payment is returned without touching the
// chain. A concurrent settlement of the same payment is awaited instead of
// duplicated. Otherwise the engine broadcasts under a detached context so
// the settlement window, not the caller's connection, bounds the attempt.
//
// Only outcomes that represent an accepted broadcast are cached; broadcast
// rejections may be retried with a fresh payment.
func (e *SettlementEngine) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	if denied := e.hooks.beforeSettle(ctx, payload, requirements); denied != nil {
		return denied, nil
	}

	key := e.SettlementKey(payload)

	entry, owner := e.cache.Acquire(key)
	if !owner {
		result, err := e.cache.Await(ctx, entry)
		if err != nil {
			return nil, err
		}
		if result != nil {
			e.rec.IncCounter("settle_deduped", map[string]string{"network": string(payload.Network)})
			return result, nil
		}
		// The other attempt ended without an accepted broadcast, so this
		// caller may take a fresh slot.
		return e.Settle(ctx, payload, requirements)
	}

	// The cache only survives as long as the process and its TTL. The
	// ledger is durable: a transaction that already released a query has
	// settled, and resubmitting it would double-charge or be rejected.
	if e.store != nil {
		switch rec, err := e.store.FindTransaction(ctx, key); {
		case err != nil:
			e.log.Warn("ledger lookup failed", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		case rec != nil:
			resp := &SettleResponse{
				Success:     true,
				Transaction: rec.Transaction,
				Network:     Network(rec.Network),
				Payer:       rec.Payer,
				Finality:    Finality(rec.Finality),
			}
			e.cache.Resolve(key, entry, resp)
			e.rec.IncCounter("settle_deduped", map[string]string{"network": string(payload.Network)})
			return resp, nil
		}
	}

	// Owner path. Settlement must survive the caller disconnecting once the
	// broadcast may have happened, so only the window bounds the attempt.
	// Routes that declare a settlement timeout override the engine default.
	window := e.window
	if requirements != nil && requirements.MaxTimeoutSeconds > 0 {
		window = time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), window)
	defer cancel()

	start := time.Now()
	resp, err := e.facilitator.Settle(settleCtx, payload, requirements)
	took := time.Since(start)
	e.rec.ObserveLatency("settle", took, map[string]string{"network": string(payload.Network)})

	if err != nil {
		e.log.Error("settlement failed", map[string]any{
			"key":     key,
			"network": payload.Network,
			"error":   err.Error(),
		})
		e.cache.Abandon(key, entry)
		return nil, err
	}

	if resp.Success {
		// Accepted broadcasts are terminal for this payment identity,
		// including aborts: rebroadcasting a definitively rejected
		// transaction cannot succeed.
		e.cache.Resolve(key, entry, resp)
	} else {
		e.cache.Abandon(key, entry)
	}

	e.log.Info("settlement finished", map[string]any{
		"key":         key,
		"network":     resp.Network,
		"success":     resp.Success,
		"finality":    resp.Finality,
		"transaction": resp.Transaction,
	})
	outcome := "settle_rejected"
	if resp.Success {
		outcome = "settle_" + string(resp.Finality)
	}
	e.rec.IncCounter(outcome, map[string]string{"network": string(payload.Network)})
	e.hooks.afterSettle(ctx, payload, resp, took)
	return resp, nil
}

var _ FacilitatorService = (*SettlementEngine)(nil)
