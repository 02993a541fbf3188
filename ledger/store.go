// Package ledger records released queries. Every successful release of paid
// content appends exactly one record, keyed by the settled transaction and
// the resource it paid for, which gives the gate its at-most-once release
// guarantee.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by InsertIfAbsent when a record with the same
// transaction and resource already exists.
var ErrDuplicate = errors.New("ledger: record already exists")

// Record is one released query.
type Record struct {
	// ID is a unique identifier assigned by the store on insert.
	ID string `json:"id"`

	// Resource is the URL or logical name of the released content.
	Resource string `json:"resource"`

	// Payer is the settled payer address.
	Payer string `json:"payer"`

	// Transaction is the on-chain transaction identifier, or the derived
	// pre-broadcast identity when confirmation was not observed. Empty for
	// free routes recorded for audit completeness.
	Transaction string `json:"transaction"`

	// Network is the CAIP-2 network the payment settled on.
	Network string `json:"network"`

	// Finality is the settlement finality at release time.
	Finality string `json:"finality"`

	// LatencyMS is the wall time from proof receipt to release.
	LatencyMS int64 `json:"latencyMs"`

	// ResponseSnapshot optionally holds the released response body for
	// audit, subject to the gate's snapshot policy.
	ResponseSnapshot []byte `json:"responseSnapshot,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Store is an append-only ledger of released queries. Implementations must
// be safe for concurrent use, and InsertIfAbsent must be linearizable: of
// any number of concurrent inserts for the same transaction and resource,
// exactly one succeeds.
type Store interface {
	// InsertIfAbsent appends rec if no record with the same Transaction
	// and Resource exists, returning the stored record with its assigned
	// ID. A duplicate returns the existing record and ErrDuplicate.
	InsertIfAbsent(ctx context.Context, rec Record) (*Record, error)

	// Find returns the record for a transaction and resource pair, or nil
	// when absent.
	Find(ctx context.Context, transaction, resource string) (*Record, error)

	// FindTransaction returns the first record settled by transaction on
	// any resource, or nil when absent. The settlement engine uses it to
	// refuse rebroadcasting a payment whose transaction already released
	// a query.
	FindTransaction(ctx context.Context, transaction string) (*Record, error)

	// ByResource lists records for a resource in insertion order.
	ByResource(ctx context.Context, resource string) ([]Record, error)

	// ByPayer lists records for a payer in insertion order.
	ByPayer(ctx context.Context, payer string) ([]Record, error)

	// Scan visits every record in insertion order until fn returns false
	// or the context ends. Used for audit sweeps.
	Scan(ctx context.Context, fn func(Record) bool) error
}
