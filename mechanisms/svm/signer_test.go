package svm

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/paygate-protocol/paygate"
)

func fixedBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{7}, nil
}

func TestSignerBuildsVerifiablePayload(t *testing.T) {
	payer := solana.NewWallet()
	recipient := solana.NewWallet().PublicKey()

	signer := NewSignerFromKey(payer.PrivateKey, testNetwork, fixedBlockhash)

	reqs := paygate.PaymentRequirements{
		Scheme:   SchemeExact,
		Network:  testNetwork,
		Amount:   "25000",
		PayTo:    recipient.String(),
		Resource: "https://api.example.com/weather",
	}

	payload, err := signer.BuildPayload(context.Background(), reqs)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Scheme != SchemeExact || payload.Network != testNetwork {
		t.Fatalf("unexpected payload envelope: %+v", payload)
	}

	m, err := NewMechanism(testNetwork, &fakeBackend{})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := m.Verify(context.Background(), payload, &reqs)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsValid {
		t.Fatalf("signer output should verify, got %+v", resp)
	}
	if resp.Payer != payer.PublicKey().String() {
		t.Errorf("wrong payer: %s", resp.Payer)
	}
}

func TestSignerRejectsBadRequirements(t *testing.T) {
	signer := NewSignerFromKey(solana.NewWallet().PrivateKey, testNetwork, fixedBlockhash)
	ctx := context.Background()

	if _, err := signer.BuildPayload(ctx, paygate.PaymentRequirements{
		PayTo:  "not-a-key",
		Amount: "100",
	}); err == nil {
		t.Error("expected bad payTo to fail")
	}

	if _, err := signer.BuildPayload(ctx, paygate.PaymentRequirements{
		PayTo:  solana.NewWallet().PublicKey().String(),
		Amount: "1.5",
	}); err == nil {
		t.Error("expected fractional amount to fail")
	}
}
