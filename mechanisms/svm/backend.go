package svm

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Backend abstracts the RPC surface the mechanism needs. Tests substitute a
// fake; production uses RPCBackend.
type Backend interface {
	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// SignatureStatus returns the cluster's view of a signature, or nil
	// when the cluster does not know it yet.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
}

// RPCBackend implements Backend over a JSON-RPC endpoint.
type RPCBackend struct {
	client *rpc.Client
}

// NewRPCBackend connects to the given RPC endpoint.
func NewRPCBackend(rpcURL string) *RPCBackend {
	return &RPCBackend{client: rpc.New(rpcURL)}
}

func (b *RPCBackend) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return b.client.SendTransaction(ctx, tx)
}

func (b *RPCBackend) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	out, err := b.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}
