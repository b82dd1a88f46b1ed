// Package txproc orders, applies, rolls back, and hash-chains
// transactions over the config and record namespaces (spec.md §4.4).
package txproc

import (
	"time"

	"gitlab.com/peerdb/kgstore/changesetproc"
)

// TransactionInput is the caller-supplied content of one update call
// (spec.md §4.4, the `input` to processTransactionInput). CreatedAt is
// normally left zero and filled in with the current time; callers
// replaying history (tests, imports) may set it explicitly.
type TransactionInput struct {
	Configs   []changesetproc.Input
	Records   []changesetproc.Input
	Author    string
	CreatedAt time.Time
}
