package entity

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/internal/pg"
)

// PgStore is the Postgres-backed Store implementation, grounded on the
// teacher's entity-table patterns (internal/store/postgres.go's jsonb
// codec registration, store/store.go's ref-resolution-by-identifier
// shape) but laid out against the flat records/configs/transactions
// tables internal/pg.EnsureTables creates.
type PgStore struct {
	Tx pgx.Tx
}

func tableName(ns Namespace) string {
	switch ns {
	case NamespaceRecord:
		return "records"
	case NamespaceConfig:
		return "configs"
	default:
		return string(ns)
	}
}

func refWhere(ref Ref) (string, []any) {
	switch {
	case ref.ID != nil:
		return "id = $1", []any{*ref.ID}
	case ref.UID != "":
		return "uid = $1", []any{ref.UID}
	default:
		return "key = $1", []any{ref.Key}
	}
}

func (s *PgStore) scanEntity(ns Namespace, row pgx.Row) (Entity, errors.E) {
	var e Entity
	var key *string
	var fields, txIDs []byte

	err := row.Scan(&e.ID, &e.UID, &key, &e.Type, &fields, &txIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, errors.WithStack(ErrNotFound) //nolint:exhaustruct
		}
		return Entity{}, pg.WithPgxError(err) //nolint:exhaustruct
	}
	if key != nil {
		e.Key = *key
	}

	var fieldset changeset.Fieldset
	errE := x.UnmarshalWithoutUnknownFields(fields, &fieldset)
	if errE != nil {
		return Entity{}, errE //nolint:exhaustruct
	}
	e.Fields = fieldset

	var ids []int64
	errE = x.UnmarshalWithoutUnknownFields(txIDs, &ids)
	if errE != nil {
		return Entity{}, errE //nolint:exhaustruct
	}
	e.TxIDs = ids

	return e, nil
}

func (s *PgStore) FetchEntity(ctx context.Context, ns Namespace, ref Ref) (Entity, errors.E) {
	where, args := refWhere(ref)
	row := s.Tx.QueryRow(ctx, `SELECT id, uid, key, type, fields, tx_ids FROM "`+tableName(ns)+`" WHERE `+where, args...)
	return s.scanEntity(ns, row)
}

func (s *PgStore) FetchEntityFieldset(ctx context.Context, ns Namespace, ref Ref, keys []string) (changeset.Fieldset, errors.E) {
	e, errE := s.FetchEntity(ctx, ns, ref)
	if errE != nil {
		return nil, errE
	}
	if keys == nil {
		return e.Fields, nil
	}
	out := changeset.Fieldset{}
	for _, k := range keys {
		if v, ok := e.Fields[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *PgStore) CreateEntity(ctx context.Context, ns Namespace, fieldset changeset.Fieldset) errors.E {
	id, ok := toInt64(fieldset["id"])
	if !ok {
		return errors.New("create: fieldset missing id")
	}
	uid, _ := fieldset["uid"].(string)  //nolint:errcheck
	key, _ := fieldset["key"].(string)  //nolint:errcheck
	typ, _ := fieldset["type"].(string) //nolint:errcheck

	var keyArg any
	if key != "" {
		keyArg = key
	}

	txIDs := toInt64Slice(fieldset["txIds"])

	_, err := s.Tx.Exec(ctx,
		`INSERT INTO "`+tableName(ns)+`" (id, uid, key, type, fields, tx_ids) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, uid, keyArg, typ, fieldset, txIDs,
	)
	if err != nil {
		return pg.WithPgxError(err)
	}
	return nil
}

func (s *PgStore) UpdateEntity(ctx context.Context, ns Namespace, ref Ref, patch changeset.Fieldset) errors.E {
	e, errE := s.FetchEntity(ctx, ns, ref)
	if errE != nil {
		return errE
	}
	fields := e.Fields.Clone()
	for k, v := range patch {
		if v == nil {
			delete(fields, k)
		} else {
			fields[k] = v
		}
	}
	key, _ := fields["key"].(string) //nolint:errcheck
	var keyArg any
	if key != "" {
		keyArg = key
	}
	txIDs := toInt64Slice(fields["txIds"])

	_, err := s.Tx.Exec(ctx,
		`UPDATE "`+tableName(ns)+`" SET fields = $1, key = $2, tx_ids = $3 WHERE id = $4`,
		fields, keyArg, txIDs, e.ID,
	)
	if err != nil {
		return pg.WithPgxError(err)
	}
	return nil
}

func (s *PgStore) DeleteEntity(ctx context.Context, ns Namespace, ref Ref) errors.E {
	where, args := refWhere(ref)
	_, err := s.Tx.Exec(ctx, `DELETE FROM "`+tableName(ns)+`" WHERE `+where, args...)
	if err != nil {
		return pg.WithPgxError(err)
	}
	return nil
}

func (s *PgStore) EntityExists(ctx context.Context, ns Namespace, ref Ref) (bool, errors.E) {
	where, args := refWhere(ref)
	var exists bool
	err := s.Tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM "`+tableName(ns)+`" WHERE `+where+`)`, args...).Scan(&exists)
	if err != nil {
		return false, pg.WithPgxError(err)
	}
	return exists, nil
}

func (s *PgStore) ResolveEntityRefs(ctx context.Context, ns Namespace, refs []Ref) ([]string, errors.E) {
	out := make([]string, len(refs))
	for i, ref := range refs {
		e, errE := s.FetchEntity(ctx, ns, ref)
		if errE != nil {
			if errors.Is(errE, ErrNotFound) {
				continue
			}
			return nil, errE
		}
		out[i] = e.UID
	}
	return out, nil
}

func (s *PgStore) GetLastEntityID(ctx context.Context, ns Namespace) (int64, errors.E) {
	var id *int64
	err := s.Tx.QueryRow(ctx, `SELECT MAX(id) FROM "`+tableName(ns)+`"`).Scan(&id)
	if err != nil {
		return 0, pg.WithPgxError(err)
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}

func (s *PgStore) FindByFieldValue(ctx context.Context, ns Namespace, field string, value any, exclude *Ref) (Ref, bool, errors.E) {
	// field ultimately comes from a schema.FieldDef.Key, which Validate
	// already restricts to a safe identifier pattern; it is additionally
	// passed as a bound parameter here, never concatenated into the
	// query text, as a second line of defense.
	query := `SELECT uid FROM "` + tableName(ns) + `" WHERE fields->>$1::text = $2`
	args := []any{field, toFieldString(value)}
	if exclude != nil {
		where, excludeArgs := refWhere(*exclude)
		query += ` AND NOT (` + where + `)`
		args = append(args, excludeArgs...)
		query = rebindPlaceholders(query)
	}
	query += ` LIMIT 1`

	var uid string
	err := s.Tx.QueryRow(ctx, query, args...).Scan(&uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ref{}, false, nil //nolint:exhaustruct
		}
		return Ref{}, false, pg.WithPgxError(err) //nolint:exhaustruct
	}
	return RefByUID(uid), true, nil
}

// rebindPlaceholders renumbers the $1-style placeholders in query in
// left-to-right order; used once FindByFieldValue appends the exclude
// clause's own $1 after the field/value clause's $1 and $2.
func rebindPlaceholders(query string) string {
	out := make([]byte, 0, len(query))
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '1' && query[i+1] <= '9' {
			n++
			out = append(out, '$')
			out = append(out, []byte(itoa(int64(n)))...)
			i++
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func toFieldString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := x.MarshalWithoutEscapeHTML(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *PgStore) GetVersion(ctx context.Context) (Version, errors.E) {
	var id int64
	var hash string
	var createdAt time.Time
	err := s.Tx.QueryRow(ctx, `SELECT id, hash, created_at FROM "transactions" ORDER BY id DESC LIMIT 1`).Scan(&id, &hash, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{ID: 0, Hash: GenesisHash, UpdatedAt: time.Time{}}, nil //nolint:exhaustruct
		}
		return Version{}, pg.WithPgxError(err) //nolint:exhaustruct
	}
	return Version{ID: id, Hash: hash, UpdatedAt: createdAt}, nil
}

func (s *PgStore) FetchTransaction(ctx context.Context, id int64) (TransactionRow, errors.E) {
	var row TransactionRow
	var configs, records []byte

	err := s.Tx.QueryRow(ctx,
		`SELECT id, hash, previous, configs, records, author, fields, created_at FROM "transactions" WHERE id = $1`, id,
	).Scan(&row.ID, &row.Hash, &row.Previous, &configs, &records, &row.Author, &row.Fields, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransactionRow{}, errors.WithStack(ErrNotFound) //nolint:exhaustruct
		}
		return TransactionRow{}, pg.WithPgxError(err) //nolint:exhaustruct
	}

	errE := x.UnmarshalWithoutUnknownFields(configs, &row.Configs)
	if errE != nil {
		return TransactionRow{}, errE //nolint:exhaustruct
	}
	errE = x.UnmarshalWithoutUnknownFields(records, &row.Records)
	if errE != nil {
		return TransactionRow{}, errE //nolint:exhaustruct
	}

	return row, nil
}

func (s *PgStore) SaveTransaction(ctx context.Context, row TransactionRow) errors.E {
	_, err := s.Tx.Exec(ctx,
		`INSERT INTO "transactions" (id, hash, previous, configs, records, author, fields, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.ID, row.Hash, row.Previous, row.Configs, row.Records, row.Author, row.Fields, row.CreatedAt,
	)
	if err != nil {
		return pg.WithPgxError(err)
	}
	return nil
}

func (s *PgStore) DeleteTransactionsFrom(ctx context.Context, fromID int64) ([]TransactionRow, errors.E) {
	rows, err := s.Tx.Query(ctx,
		`SELECT id, hash, previous, configs, records, author, fields, created_at FROM "transactions" WHERE id >= $1 ORDER BY id DESC`, fromID,
	)
	if err != nil {
		return nil, pg.WithPgxError(err)
	}
	defer rows.Close()

	var deleted []TransactionRow
	for rows.Next() {
		var row TransactionRow
		var configs, records []byte
		err := rows.Scan(&row.ID, &row.Hash, &row.Previous, &configs, &records, &row.Author, &row.Fields, &row.CreatedAt)
		if err != nil {
			return nil, pg.WithPgxError(err)
		}
		errE := x.UnmarshalWithoutUnknownFields(configs, &row.Configs)
		if errE != nil {
			return nil, errE
		}
		errE = x.UnmarshalWithoutUnknownFields(records, &row.Records)
		if errE != nil {
			return nil, errE
		}
		deleted = append(deleted, row)
	}
	if err := rows.Err(); err != nil {
		return nil, pg.WithPgxError(err)
	}

	_, err = s.Tx.Exec(ctx, `DELETE FROM "transactions" WHERE id >= $1`, fromID)
	if err != nil {
		return nil, pg.WithPgxError(err)
	}

	return deleted, nil
}
