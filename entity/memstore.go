package entity

import (
	"context"
	"sync"
	"time"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
)

// MemStore is an in-memory Store implementation, used in tests in place
// of the Postgres adapter (the teacher's own test suite uses a similar
// fake alongside the real Postgres-backed store, per store/store_test.go).
// It is safe for concurrent use, though the core never calls it
// concurrently for one logical operation since every call happens under
// a single storage transaction.
type MemStore struct {
	mu sync.Mutex

	entities map[Namespace]map[int64]Entity
	lastID   map[Namespace]int64

	transactions map[int64]TransactionRow
	tip          Version
}

// NewMemStore returns an empty MemStore at the genesis version.
func NewMemStore() *MemStore {
	return &MemStore{ //nolint:exhaustruct
		entities: map[Namespace]map[int64]Entity{
			NamespaceRecord: {},
			NamespaceConfig: {},
		},
		lastID:       map[Namespace]int64{},
		transactions: map[int64]TransactionRow{},
		tip:          Version{ID: 0, Hash: GenesisHash, UpdatedAt: time.Time{}}, //nolint:exhaustruct
	}
}

func (m *MemStore) resolve(ns Namespace, ref Ref) (Entity, bool) {
	table := m.entities[ns]
	if ref.ID != nil {
		e, ok := table[*ref.ID]
		return e, ok
	}
	for _, e := range table {
		if ref.UID != "" && e.UID == ref.UID {
			return e, true
		}
		if ref.UID == "" && ref.Key != "" && e.Key == ref.Key {
			return e, true
		}
	}
	return Entity{}, false //nolint:exhaustruct
}

func (m *MemStore) FetchEntityFieldset(_ context.Context, ns Namespace, ref Ref, keys []string) (changeset.Fieldset, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resolve(ns, ref)
	if !ok {
		return nil, errors.WithStack(ErrNotFound)
	}
	if keys == nil {
		return e.Fields.Clone(), nil
	}
	out := changeset.Fieldset{}
	for _, k := range keys {
		if v, ok := e.Fields[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemStore) FetchEntity(_ context.Context, ns Namespace, ref Ref) (Entity, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resolve(ns, ref)
	if !ok {
		return Entity{}, errors.WithStack(ErrNotFound) //nolint:exhaustruct
	}
	e.Fields = e.Fields.Clone()
	return e, nil
}

func (m *MemStore) CreateEntity(_ context.Context, ns Namespace, fieldset changeset.Fieldset) errors.E {
	m.mu.Lock()
	defer m.mu.Unlock()

	entityID, ok := toInt64(fieldset["id"])
	if !ok {
		return errors.New("create: fieldset missing id")
	}
	uid, _ := fieldset["uid"].(string) //nolint:errcheck
	if uid == "" {
		return errors.New("create: fieldset missing uid")
	}
	key, _ := fieldset["key"].(string) //nolint:errcheck
	typ, _ := fieldset["type"].(string) //nolint:errcheck

	if _, exists := m.entities[ns][entityID]; exists {
		return errors.Errorf("create: id %d already exists in namespace %s", entityID, ns)
	}

	txIDs := toInt64Slice(fieldset["txIds"])

	m.entities[ns][entityID] = Entity{
		ID:     entityID,
		UID:    uid,
		Key:    key,
		Type:   typ,
		Fields: fieldset.Clone(),
		TxIDs:  txIDs,
	}
	if entityID > m.lastID[ns] {
		m.lastID[ns] = entityID
	}
	return nil
}

func (m *MemStore) UpdateEntity(_ context.Context, ns Namespace, ref Ref, patch changeset.Fieldset) errors.E {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resolve(ns, ref)
	if !ok {
		return errors.WithStack(ErrNotFound)
	}
	fields := e.Fields.Clone()
	for k, v := range patch {
		if v == nil {
			delete(fields, k)
		} else {
			fields[k] = v
		}
	}
	e.Fields = fields
	if key, ok := fields["key"].(string); ok { //nolint:errcheck
		e.Key = key
	}
	if txIDs, ok := fields["txIds"]; ok {
		e.TxIDs = toInt64Slice(txIDs)
	}
	m.entities[ns][e.ID] = e
	return nil
}

func (m *MemStore) DeleteEntity(_ context.Context, ns Namespace, ref Ref) errors.E {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resolve(ns, ref)
	if !ok {
		return errors.WithStack(ErrNotFound)
	}
	delete(m.entities[ns], e.ID)
	return nil
}

func (m *MemStore) EntityExists(_ context.Context, ns Namespace, ref Ref) (bool, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.resolve(ns, ref)
	return ok, nil
}

func (m *MemStore) ResolveEntityRefs(_ context.Context, ns Namespace, refs []Ref) ([]string, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(refs))
	for i, ref := range refs {
		if e, ok := m.resolve(ns, ref); ok {
			out[i] = e.UID
		}
	}
	return out, nil
}

func (m *MemStore) GetLastEntityID(_ context.Context, ns Namespace) (int64, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastID[ns], nil
}

func (m *MemStore) FindByFieldValue(_ context.Context, ns Namespace, field string, value any, exclude *Ref) (Ref, bool, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entities[ns] {
		if exclude != nil {
			if excluded, ok := m.resolve(ns, *exclude); ok && excluded.ID == e.ID {
				continue
			}
		}
		if changeset.EqualValues(e.Fields[field], value) {
			return RefByUID(e.UID), true, nil
		}
	}
	return Ref{}, false, nil //nolint:exhaustruct
}

func (m *MemStore) GetVersion(_ context.Context) (Version, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tip, nil
}

func (m *MemStore) FetchTransaction(_ context.Context, id int64) (TransactionRow, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.transactions[id]
	if !ok {
		return TransactionRow{}, errors.WithStack(ErrNotFound) //nolint:exhaustruct
	}
	return row, nil
}

func (m *MemStore) SaveTransaction(_ context.Context, row TransactionRow) errors.E {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row.ID != m.tip.ID+1 {
		return errors.Errorf("save transaction: expected id %d, got %d", m.tip.ID+1, row.ID)
	}
	m.transactions[row.ID] = row
	m.tip = Version{ID: row.ID, Hash: row.Hash, UpdatedAt: row.CreatedAt}
	return nil
}

func (m *MemStore) DeleteTransactionsFrom(_ context.Context, fromID int64) ([]TransactionRow, errors.E) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted []TransactionRow
	for id := m.tip.ID; id >= fromID; id-- {
		row, ok := m.transactions[id]
		if !ok {
			continue
		}
		deleted = append(deleted, row)
		delete(m.transactions, id)
	}

	newTipID := fromID - 1
	if newTipID <= 0 {
		m.tip = Version{ID: 0, Hash: GenesisHash, UpdatedAt: m.tip.UpdatedAt} //nolint:exhaustruct
	} else if prior, ok := m.transactions[newTipID]; ok {
		m.tip = Version{ID: prior.ID, Hash: prior.Hash, UpdatedAt: prior.CreatedAt}
	}

	return deleted, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toInt64Slice(v any) []int64 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(list))
	for _, item := range list {
		if n, ok := toInt64(item); ok {
			out = append(out, n)
		}
	}
	return out
}
