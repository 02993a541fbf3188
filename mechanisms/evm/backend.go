package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// eip3009ABI covers the two EIP-3009 entry points the facilitator touches,
// plus balanceOf for the pre-flight funds check.
const eip3009ABI = `[
	{"name":"transferWithAuthorization","type":"function","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}],"outputs":[]},
	{"name":"authorizationState","type":"function","stateMutability":"view","inputs":[
		{"name":"authorizer","type":"address"},
		{"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Backend abstracts the chain access the mechanism needs. The RPC
// implementation talks to a node over ethclient; tests substitute a fake.
type Backend interface {
	// AuthorizationState reports whether the EIP-3009 nonce was consumed.
	AuthorizationState(ctx context.Context, token common.Address, authorizer common.Address, nonce [32]byte) (bool, error)

	// BalanceOf returns the token balance of an account.
	BalanceOf(ctx context.Context, token common.Address, account common.Address) (*big.Int, error)

	// SubmitTransfer broadcasts transferWithAuthorization and returns the
	// transaction hash.
	SubmitTransfer(ctx context.Context, token common.Address, auth Authorization, signature []byte) (common.Hash, error)

	// TransactionReceipt returns the receipt, or ethereum.NotFound while the
	// transaction is unmined.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// BlockNumber returns the current head block number, used to measure
	// confirmation depth.
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCBackend implements Backend against a JSON-RPC node, paying gas from a
// facilitator-held key.
type RPCBackend struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	abi     abi.ABI
}

// NewRPCBackend dials rpcURL and prepares a backend that signs submissions
// with key on the given chain.
func NewRPCBackend(rpcURL string, key *ecdsa.PrivateKey, chainID *big.Int) (*RPCBackend, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(eip3009ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return &RPCBackend{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		abi:     parsed,
	}, nil
}

func (b *RPCBackend) AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	data, err := b.abi.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("authorizationState call failed: %w", err)
	}
	results, err := b.abi.Unpack("authorizationState", out)
	if err != nil {
		return false, err
	}
	used, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected authorizationState result type %T", results[0])
	}
	return used, nil
}

func (b *RPCBackend) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := b.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	results, err := b.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}

func (b *RPCBackend) SubmitTransfer(ctx context.Context, token common.Address, auth Authorization, signature []byte) (common.Hash, error) {
	if len(signature) != 65 {
		return common.Hash{}, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes, err := HexToBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return common.Hash{}, fmt.Errorf("invalid nonce %q", auth.Nonce)
	}

	v := signature[64]
	if v < 27 {
		v += 27
	}
	var r, s, nonce32 [32]byte
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	copy(nonce32[:], nonceBytes)

	data, err := b.abi.Pack("transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce32,
		v,
		r,
		s,
	)
	if err != nil {
		return common.Hash{}, err
	}

	txNonce, err := b.client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get account nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	gasLimit, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		From: b.from,
		To:   &token,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("transfer would revert: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &token,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast: %w", err)
	}
	return signed.Hash(), nil
}

func (b *RPCBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return b.client.TransactionReceipt(ctx, txHash)
}

func (b *RPCBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return b.client.BlockNumber(ctx)
}

// Close releases the underlying RPC connection.
func (b *RPCBackend) Close() {
	b.client.Close()
}

// receiptBackoffCap bounds the retry delay after transient receipt errors.
const receiptBackoffCap = 30 * time.Second

// pollReceipt waits for a receipt until ctx ends. An unmined transaction is
// polled at interval; a transient RPC failure retries with exponential
// backoff instead of aborting, since the transaction is already broadcast
// and abandoning the poll would strand a paid settlement.
func pollReceipt(ctx context.Context, backend Backend, txHash common.Hash, interval time.Duration) (*types.Receipt, error) {
	backoff := interval
	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}

		wait := interval
		if err != ethereum.NotFound {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			wait = backoff
			backoff *= 2
			if backoff > receiptBackoffCap {
				backoff = receiptBackoffCap
			}
		} else {
			backoff = interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
