package txproc

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/internal/types"
)

type hashPayload struct {
	Previous  string                      `json:"previous"`
	Author    string                      `json:"author"`
	CreatedAt types.Time                  `json:"createdAt"`
	Configs   changeset.EntitiesChangeset `json:"configs"`
	Records   changeset.EntitiesChangeset `json:"records"`
}

// CanonicalHash computes the chain hash (spec.md §4.1 invariant 4, §9
// "canonical hashing"): a SHA-256 digest over the canonical JSON
// encoding of {previous, author, createdAt, configs, records}. Map keys
// are ordered lexically by encoding/json (relied on transitively
// through x.MarshalWithoutEscapeHTML), so the same logical transaction
// always hashes to the same value regardless of map iteration order.
// createdAt is truncated to millisecond precision through types.Time so
// that a transaction built from a value read back from storage hashes
// identically to the one that produced it. Exported so callers
// accepting an externally authored transaction (kgcore.Apply) can
// recompute and verify Hash before accepting it, not just ProcessTransactionInput.
func CanonicalHash(previous, author string, createdAt time.Time, configs, records changeset.EntitiesChangeset) (string, errors.E) {
	payload := hashPayload{
		Previous:  previous,
		Author:    author,
		CreatedAt: types.Time(createdAt),
		Configs:   configs,
		Records:   records,
	}

	data, errE := x.MarshalWithoutEscapeHTML(payload)
	if errE != nil {
		return "", errE
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
