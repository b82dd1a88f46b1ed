// Package entity defines the storage-facing shapes the core operates on
// and the Store interface the core depends on (spec.md §6, "Entity store
// (consumed by the core)"): two editable namespaces, `record` and
// `config`, plus the `transaction` log, all addressed by id/uid/key.
package entity

import (
	"time"

	"gitlab.com/peerdb/kgstore/changeset"
)

// Namespace is one of the two editable entity namespaces. The third
// namespace, `transaction`, is not entity-shaped and is handled by the
// Store's transaction-row methods instead.
type Namespace string

const (
	NamespaceRecord Namespace = "record"
	NamespaceConfig Namespace = "config"
)

// Ref names an existing entity by any of its three identifier shapes
// (spec.md §3, "Any of the three may appear as an EntityRef"). Exactly
// one field should be set; Store implementations resolve whichever is
// given to the entity's uid.
type Ref struct {
	ID  *int64
	UID string
	Key string
}

// RefByID names an entity by its storage id.
func RefByID(id int64) Ref { return Ref{ID: &id, UID: "", Key: ""} } //nolint:exhaustruct

// RefByUID names an entity by its uid.
func RefByUID(uid string) Ref { return Ref{ID: nil, UID: uid, Key: ""} } //nolint:exhaustruct

// RefByKey names an entity by its key.
func RefByKey(key string) Ref { return Ref{ID: nil, UID: "", Key: key} } //nolint:exhaustruct

// String renders the ref the way it would appear in an error message.
func (r Ref) String() string {
	switch {
	case r.ID != nil:
		return "id:" + itoa(*r.ID)
	case r.UID != "":
		return "uid:" + r.UID
	default:
		return "key:" + r.Key
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Entity is one stored row (spec.md §3, "Entity (stored row)").
type Entity struct {
	ID     int64
	UID    string
	Key    string
	Type   string
	Fields changeset.Fieldset
	TxIDs  []int64
}

// TransactionRow is the persisted shape of one transaction log entry
// (spec.md §6, "transactions stores id, hash, previous, configs(JSON),
// records(JSON), author, fields(JSON), created_at").
type TransactionRow struct {
	ID        int64
	Hash      string
	Previous  string
	Configs   map[string]changeset.FieldChangeset
	Records   map[string]changeset.FieldChangeset
	Author    string
	Fields    map[string]any
	CreatedAt time.Time
}

// Version is the current tip of the transaction chain (spec.md §6,
// "version() -> {id, hash, updatedAt}").
type Version struct {
	ID        int64
	Hash      string
	UpdatedAt time.Time
}

// GenesisHash is the hash of the synthetic version preceding any
// transaction (spec.md, GLOSSARY "Genesis version").
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
