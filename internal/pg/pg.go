// Package pg brings up the Postgres connection pool the entity store
// runs against, and provides the retryable-serializable transaction
// helper every storage operation in entity uses.
package pg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

const (
	idleInTransactionSessionTimeout = 10 * time.Second
	statementTimeout                = 10 * time.Second

	initialApplicationName = "kgstore"
)

// Standard Postgres error codes this package cares about.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	ErrorCodeUniqueViolation      = "23505"
	ErrorCodeDuplicateSchema      = "42P06"
	ErrorCodeDuplicateTable       = "42P07"
	ErrorCodeSerializationFailure = "40001"
	ErrorCodeDeadlockDetected     = "40P01"
)

// See: https://www.postgresql.org/docs/current/runtime-config-client.html#GUC-CLIENT-MIN-MESSAGES
var noticeSeverityToLogLevel = map[string]zerolog.Level{ //nolint:gochecknoglobals
	"DEBUG":   zerolog.DebugLevel,
	"LOG":     zerolog.InfoLevel,
	"INFO":    zerolog.InfoLevel,
	"NOTICE":  zerolog.InfoLevel,
	"WARNING": zerolog.WarnLevel,
}

// InitPool opens a connection pool against databaseURI, registering
// canonical JSON/JSONB codecs (so every jsonb column round-trips through
// the same non-HTML-escaping marshaler the transaction hash is computed
// over) and sizing the pool from the server's own connection limits.
func InitPool(ctx context.Context, databaseURI string, logger zerolog.Logger) (*pgxpool.Pool, errors.E) {
	dbconfig, err := pgxpool.ParseConfig(strings.TrimSpace(databaseURI))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	dbconfig.ConnConfig.OnNotice = func(conn *pgconn.PgConn, notice *pgconn.Notice) {
		logger.
			WithLevel(noticeSeverityToLogLevel[notice.SeverityUnlocalized]).
			Fields(ErrorDetails((*pgconn.PgError)(notice))).
			Bool("postgres", true).
			Send()
	}
	dbconfig.AfterConnect = func(_ context.Context, c *pgx.Conn) error {
		c.TypeMap().RegisterType(&pgtype.Type{
			Name: "json", OID: pgtype.JSONOID, Codec: &pgtype.JSONCodec{
				Marshal: func(v any) ([]byte, error) {
					return x.MarshalWithoutEscapeHTML(v)
				},
				Unmarshal: func(data []byte, v any) error {
					return x.UnmarshalWithoutUnknownFields(data, v)
				},
			},
		})
		c.TypeMap().RegisterType(&pgtype.Type{
			Name: "jsonb", OID: pgtype.JSONBOID, Codec: &pgtype.JSONBCodec{
				Marshal: func(v any) ([]byte, error) {
					return x.MarshalWithoutEscapeHTML(v)
				},
				Unmarshal: func(data []byte, v any) error {
					return x.UnmarshalWithoutUnknownFields(data, v)
				},
			},
		})
		return nil
	}
	dbconfig.ConnConfig.RuntimeParams["application_name"] = initialApplicationName
	dbconfig.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = strconv.FormatInt(idleInTransactionSessionTimeout.Milliseconds(), 10)
	dbconfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)

	conn, err := pgx.ConnectConfig(ctx, dbconfig.ConnConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer conn.Close(ctx)

	maxConnections, errE := showInt(ctx, conn, "max_connections")
	if errE != nil {
		return nil, errE
	}
	reservedConnections, errE := showInt(ctx, conn, "reserved_connections")
	if errE != nil {
		return nil, errE
	}
	superuserReservedConnections, errE := showInt(ctx, conn, "superuser_reserved_connections")
	if errE != nil {
		return nil, errE
	}

	dbconfig.MaxConns = int32(maxConnections - reservedConnections - superuserReservedConnections) //nolint:gosec

	logger.Info().
		Str("serverVersion", conn.PgConn().ParameterStatus("server_version")).
		Str("serverEncoding", conn.PgConn().ParameterStatus("server_encoding")).
		Str("clientEncoding", conn.PgConn().ParameterStatus("client_encoding")).
		Msg("database connection successful")

	dbpool, err := pgxpool.NewWithConfig(ctx, dbconfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	context.AfterFunc(ctx, dbpool.Close)

	return dbpool, nil
}

func showInt(ctx context.Context, conn *pgx.Conn, setting string) (int, errors.E) {
	var value string
	err := conn.QueryRow(ctx, fmt.Sprintf(`SHOW %s`, setting)).Scan(&value)
	if err != nil {
		return 0, WithPgxError(err)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}

// EnsureSchema creates the named schema if it does not already exist.
func EnsureSchema(ctx context.Context, tx pgx.Tx, schema string) errors.E {
	_, err := tx.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, schema))
	if err != nil {
		return WithPgxError(err)
	}
	return nil
}

// entityTables are the two editable entity namespaces, each laid out
// identically: id, uid, key?, type, fields(JSON), tx_ids(JSON), with
// indices on type and key (spec.md §6, "Persisted layout").
var entityTables = []string{"records", "configs"} //nolint:gochecknoglobals

// EnsureTables creates the records, configs and transactions tables (and
// their indices) in the schema tx's current search_path resolves to, if
// they do not already exist.
func EnsureTables(ctx context.Context, tx pgx.Tx) errors.E {
	for _, table := range entityTables {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s" (
				id BIGINT PRIMARY KEY,
				uid TEXT NOT NULL UNIQUE,
				key TEXT,
				type TEXT NOT NULL,
				fields JSONB NOT NULL,
				tx_ids JSONB NOT NULL
			)
		`, table))
		if err != nil {
			return WithPgxError(err)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_type_idx" ON "%s" (type)`, table, table))
		if err != nil {
			return WithPgxError(err)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS "%s_key_idx" ON "%s" (type, key) WHERE key IS NOT NULL`, table, table))
		if err != nil {
			return WithPgxError(err)
		}
	}

	_, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS "transactions" (
			id BIGINT PRIMARY KEY,
			hash TEXT NOT NULL,
			previous TEXT NOT NULL,
			configs JSONB NOT NULL,
			records JSONB NOT NULL,
			author TEXT NOT NULL,
			fields JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return WithPgxError(err)
	}

	return nil
}
