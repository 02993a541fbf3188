package paygate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paygate-protocol/paygate/ledger"
)

func engineWithMechanism(t *testing.T, m *mockMechanism, opts ...EngineOption) *SettlementEngine {
	t.Helper()
	f := NewFacilitator()
	if err := f.Register(m); err != nil {
		t.Fatal(err)
	}
	return NewSettlementEngine(f, opts...)
}

func TestEngineSettleDedupesConcurrent(t *testing.T) {
	var broadcasts atomic.Int32
	m := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		settleFn: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
			broadcasts.Add(1)
			time.Sleep(20 * time.Millisecond)
			return &SettleResponse{Success: true, Transaction: "0xtx", Network: p.Network, Finality: FinalityConfirmed}, nil
		},
		txIDFn: func(*PaymentPayload) (string, error) { return "fixed-id", nil },
	}
	engine := engineWithMechanism(t, m)

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}
	reqs := &PaymentRequirements{}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*SettleResponse, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := engine.Settle(context.Background(), payload, reqs)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = resp
		}(i)
	}
	wg.Wait()

	if n := broadcasts.Load(); n != 1 {
		t.Errorf("expected exactly one broadcast, got %d", n)
	}
	for i, resp := range results {
		if resp == nil || resp.Transaction != "0xtx" {
			t.Errorf("caller %d got %+v", i, resp)
		}
	}
}

func TestEngineSettleRetryAfterRejection(t *testing.T) {
	var calls atomic.Int32
	m := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		settleFn: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
			if calls.Add(1) == 1 {
				return &SettleResponse{Success: false, ErrorReason: ReasonBroadcastFailed, Network: p.Network}, nil
			}
			return &SettleResponse{Success: true, Transaction: "0xtx", Network: p.Network, Finality: FinalityConfirmed}, nil
		},
		txIDFn: func(*PaymentPayload) (string, error) { return "fixed-id", nil },
	}
	engine := engineWithMechanism(t, m)

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}
	reqs := &PaymentRequirements{}

	resp, err := engine.Settle(context.Background(), payload, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatalf("first attempt should be rejected: %+v", resp)
	}

	// Rejections are not cached, so a retry reaches the chain again.
	resp, err = engine.Settle(context.Background(), payload, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("retry should succeed: %+v", resp)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 broadcast attempts, got %d", calls.Load())
	}
}

func TestEngineSettleCachesAbort(t *testing.T) {
	var calls atomic.Int32
	m := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		settleFn: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
			calls.Add(1)
			return &SettleResponse{Success: true, Transaction: "0xtx", Network: p.Network, Finality: FinalityAborted}, nil
		},
		txIDFn: func(*PaymentPayload) (string, error) { return "fixed-id", nil },
	}
	engine := engineWithMechanism(t, m)

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}
	for i := 0; i < 2; i++ {
		resp, err := engine.Settle(context.Background(), payload, &PaymentRequirements{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Finality != FinalityAborted {
			t.Fatalf("attempt %d: %+v", i, resp)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("aborted broadcast should be cached, got %d attempts", calls.Load())
	}
}

func TestEngineSettleSurvivesCallerCancel(t *testing.T) {
	started := make(chan struct{})
	m := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		settleFn: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
			close(started)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(30 * time.Millisecond):
				return &SettleResponse{Success: true, Transaction: "0xtx", Network: p.Network, Finality: FinalityConfirmed}, nil
			}
		},
		txIDFn: func(*PaymentPayload) (string, error) { return "fixed-id", nil },
	}
	engine := engineWithMechanism(t, m, WithSettlementWindow(time.Second))

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan *SettleResponse, 1)
	go func() {
		resp, _ := engine.Settle(ctx, payload, &PaymentRequirements{})
		resultCh <- resp
	}()

	<-started
	cancel()

	select {
	case resp := <-resultCh:
		if resp == nil || !resp.Success {
			t.Errorf("settlement should finish despite caller cancel, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("settlement did not finish")
	}
}

func TestEngineSettleHonorsLedgerAfterCacheExpiry(t *testing.T) {
	var broadcasts atomic.Int32
	m := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		settleFn: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
			broadcasts.Add(1)
			return &SettleResponse{Success: true, Transaction: "fixed-id", Network: p.Network, Payer: "0xabc", Finality: FinalityConfirmed}, nil
		},
		txIDFn: func(*PaymentPayload) (string, error) { return "fixed-id", nil },
	}
	store := ledger.NewMemoryStore()
	engine := engineWithMechanism(t, m, WithCacheTTL(time.Millisecond), WithQueryLedger(store))

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}

	resp, err := engine.Settle(context.Background(), payload, &PaymentRequirements{})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("first settlement should succeed: %+v", resp)
	}
	// The gate records the release once the response flushes.
	if _, err := store.InsertIfAbsent(context.Background(), ledger.Record{
		Resource:    "https://api.example.com/data",
		Payer:       "0xabc",
		Transaction: "fixed-id",
		Network:     "eip155:8453",
		Finality:    string(FinalityConfirmed),
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	resp, err = engine.Settle(context.Background(), payload, &PaymentRequirements{})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Transaction != "fixed-id" || resp.Finality != FinalityConfirmed {
		t.Fatalf("ledger-backed result mismatch: %+v", resp)
	}
	if n := broadcasts.Load(); n != 1 {
		t.Errorf("payment already on the ledger must not rebroadcast, got %d broadcasts", n)
	}
}

func TestEngineSettleWindowFromRequirements(t *testing.T) {
	var deadline time.Time
	m := &mockMechanism{
		scheme:  "exact",
		network: "eip155:8453",
		settleFn: func(ctx context.Context, p *PaymentPayload, r *PaymentRequirements) (*SettleResponse, error) {
			deadline, _ = ctx.Deadline()
			return &SettleResponse{Success: true, Transaction: "0xtx", Network: p.Network, Finality: FinalityConfirmed}, nil
		},
	}
	engine := engineWithMechanism(t, m, WithSettlementWindow(60*time.Second))

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453", Payload: []byte(`{"n":1}`)}

	start := time.Now()
	if _, err := engine.Settle(context.Background(), payload, &PaymentRequirements{MaxTimeoutSeconds: 2}); err != nil {
		t.Fatal(err)
	}
	if deadline.IsZero() {
		t.Fatal("settle context should carry a deadline")
	}
	if remaining := deadline.Sub(start); remaining > 3*time.Second {
		t.Errorf("declared timeout should bound the settle context, got %v", remaining)
	}

	other := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453", Payload: []byte(`{"n":2}`)}
	start = time.Now()
	if _, err := engine.Settle(context.Background(), other, &PaymentRequirements{}); err != nil {
		t.Fatal(err)
	}
	if remaining := deadline.Sub(start); remaining < 30*time.Second {
		t.Errorf("without a declared timeout the engine window applies, got %v", remaining)
	}
}

func TestEngineSettlementKeyFallback(t *testing.T) {
	f := NewFacilitator()
	engine := NewSettlementEngine(f)

	payload := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:1", Payload: []byte(`{"a":1}`)}
	key1 := engine.SettlementKey(payload)
	key2 := engine.SettlementKey(payload)
	if key1 == "" || key1 != key2 {
		t.Errorf("fallback key must be stable, got %q and %q", key1, key2)
	}

	other := &PaymentPayload{Version: ProtocolVersion, Scheme: "exact", Network: "eip155:1", Payload: []byte(`{"a":2}`)}
	if engine.SettlementKey(other) == key1 {
		t.Error("different payloads must produce different keys")
	}
}
