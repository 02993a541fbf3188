package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/paygate-protocol/paygate"
)

// BlockhashFunc supplies a recent blockhash for a new transaction.
type BlockhashFunc func(ctx context.Context) (solana.Hash, error)

// Signer builds signed transfer proofs from a Solana private key. It
// implements paygate.PayloadBuilder for the exact scheme.
type Signer struct {
	key       solana.PrivateKey
	network   paygate.Network
	blockhash BlockhashFunc
}

// NewSigner parses a base58 private key. The blockhash source is usually
// RecentBlockhashFromRPC; tests can supply a fixed hash.
func NewSigner(privateKeyBase58 string, network paygate.Network, blockhash BlockhashFunc) (*Signer, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if blockhash == nil {
		return nil, fmt.Errorf("blockhash source is required")
	}
	return &Signer{key: key, network: network, blockhash: blockhash}, nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(key solana.PrivateKey, network paygate.Network, blockhash BlockhashFunc) *Signer {
	return &Signer{key: key, network: network, blockhash: blockhash}
}

// RecentBlockhashFromRPC sources blockhashes from a JSON-RPC endpoint.
func RecentBlockhashFromRPC(rpcURL string) BlockhashFunc {
	client := rpc.New(rpcURL)
	return func(ctx context.Context) (solana.Hash, error) {
		out, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("failed to fetch blockhash: %w", err)
		}
		return out.Value.Blockhash, nil
	}
}

func (s *Signer) Scheme() string           { return SchemeExact }
func (s *Signer) Network() paygate.Network { return s.network }

// Address returns the payer public key.
func (s *Signer) Address() solana.PublicKey {
	return s.key.PublicKey()
}

// BuildPayload signs a system transfer of the required lamports to the
// receiving account.
func (s *Signer) BuildPayload(ctx context.Context, requirements paygate.PaymentRequirements) (*paygate.PaymentPayload, error) {
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo address: %w", err)
	}
	lamports, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	blockhash, err := s.blockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, s.key.PublicKey(), payTo).Build(),
		},
		blockhash,
		solana.TransactionPayer(s.key.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(Payload{Transaction: encoded})
	if err != nil {
		return nil, err
	}

	return &paygate.PaymentPayload{
		Version:  paygate.ProtocolVersion,
		Scheme:   SchemeExact,
		Network:  requirements.Network,
		Payload:  body,
		Accepted: requirements,
	}, nil
}

var _ paygate.PayloadBuilder = (*Signer)(nil)
