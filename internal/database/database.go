// Package database is the storage façade over the set of logical SQLite
// databases. Each logical database is a single file under the configured data
// directory; peers may be attached read-only or read-write onto one handle.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNoResult is returned on successful queries which return no rows.
	ErrNoResult = errors.New("no results found")
	// ErrDuplicate is returned when a duplicate row result is attempted to be inserted.
	ErrDuplicate = errors.New("entity already exists")

	ErrOpenFailed  = errors.New("could not open database")
	ErrCreateQuery = errors.New("failed to generate query")
	ErrUnknownDB   = errors.New("unknown logical database")
)

// Names enumerates every logical database. The backup job snapshots each one.
var Names = []string{Main, ActivityQueue, Activity, AltFlags} //nolint:gochecknoglobals

const (
	Main          = "main_db"
	ActivityQueue = "user_activity_queue"
	Activity      = "user_activity"
	AltFlags      = "alt_flags"
)

// Database is the scoped handle produced by Open. All errors from callers
// should be wrapped in DBErr as they are not automatically wrapped.
type Database interface {
	Handle() *sql.DB
	Builder() sq.StatementBuilderType
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryBuilder(ctx context.Context, builder sq.SelectBuilder) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	QueryRowBuilder(ctx context.Context, builder sq.SelectBuilder) (*sql.Row, error)
	Exec(ctx context.Context, query string, args ...any) error
	ExecInsertBuilder(ctx context.Context, builder sq.InsertBuilder) error
	ExecInsertBuilderWithReturnValue(ctx context.Context, builder sq.InsertBuilder, outID any) error
	ExecDeleteBuilder(ctx context.Context, builder sq.DeleteBuilder) error
	ExecUpdateBuilder(ctx context.Context, builder sq.UpdateBuilder) error
	GetCount(ctx context.Context, builder sq.SelectBuilder) (int64, error)
	WrapTx(ctx context.Context, fn func(*sql.Tx) error) error
	Close() error
}

// Options control how a logical database is opened. Attached peers inherit the
// read-only flag of the primary.
type Options struct {
	ReadOnly    bool
	Attach      []string
	ForeignKeys bool
}

type sqliteStore struct {
	conn *sql.DB
	sb   sq.StatementBuilderType
	name string
	path string
}

// Path returns the on-disk file for a logical database name.
func Path(dir string, name string) string {
	return filepath.Join(dir, name+".db")
}

func dsn(path string, readOnly bool) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")

	if readOnly {
		params.Set("mode", "ro")
		params.Add("_pragma", "query_only(1)")
	} else {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}

	return "file:" + path + "?" + params.Encode()
}

// Open opens the named logical database, attaching any requested peers with a
// matching read-only disposition. The handle holds exactly one underlying
// connection so that ATTACH and per-connection pragmas apply to every
// statement issued through it.
func Open(ctx context.Context, dir string, name string, opts Options) (Database, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDB, name)
	}

	path := Path(dir, name)

	conn, errOpen := sql.Open("sqlite", dsn(path, opts.ReadOnly))
	if errOpen != nil {
		return nil, errors.Join(errOpen, ErrOpenFailed)
	}

	conn.SetMaxOpenConns(1)

	if opts.ForeignKeys {
		if err := execPragma(ctx, conn, "PRAGMA foreign_keys = ON"); err != nil {
			return nil, err
		}
	}

	for _, peer := range opts.Attach {
		if !validName(peer) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDB, peer)
		}

		attachDSN := dsn(Path(dir, peer), opts.ReadOnly)
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE %s AS %s", quote(attachDSN), peer)); err != nil {
			_ = conn.Close()

			return nil, errors.Join(err, ErrOpenFailed)
		}
	}

	return &sqliteStore{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		name: name,
		path: path,
	}, nil
}

func validName(name string) bool {
	for _, known := range Names {
		if known == name {
			return true
		}
	}

	return false
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func execPragma(ctx context.Context, conn *sql.DB, pragma string) error {
	if _, err := conn.ExecContext(ctx, pragma); err != nil {
		_ = conn.Close()

		return errors.Join(err, ErrOpenFailed)
	}

	return nil
}

// DBErr wraps common database errors in our own error types.
func DBErr(rootError error) error {
	if rootError == nil {
		return nil
	}

	if errors.Is(rootError, sql.ErrNoRows) {
		return ErrNoResult
	}

	var sqliteErr *sqlite.Error
	if errors.As(rootError, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ErrDuplicate
		default:
			return rootError
		}
	}

	return rootError
}

func (db *sqliteStore) Handle() *sql.DB {
	return db.conn
}

func (db *sqliteStore) Builder() sq.StatementBuilderType {
	return db.sb
}

func (db *sqliteStore) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...) //nolint:wrapcheck
}

func (db *sqliteStore) QueryBuilder(ctx context.Context, builder sq.SelectBuilder) (*sql.Rows, error) {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return nil, DBErr(errQuery)
	}

	return db.Query(ctx, query, args...)
}

func (db *sqliteStore) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

func (db *sqliteStore) QueryRowBuilder(ctx context.Context, builder sq.SelectBuilder) (*sql.Row, error) {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return nil, errQuery //nolint:wrapcheck
	}

	return db.conn.QueryRowContext(ctx, query, args...), nil
}

func (db *sqliteStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := db.conn.ExecContext(ctx, query, args...)

	return err //nolint:wrapcheck
}

func (db *sqliteStore) ExecInsertBuilder(ctx context.Context, builder sq.InsertBuilder) error {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return DBErr(errQuery)
	}

	return db.Exec(ctx, query, args...)
}

func (db *sqliteStore) ExecInsertBuilderWithReturnValue(ctx context.Context, builder sq.InsertBuilder, outID any) error {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return DBErr(errQuery)
	}

	result, errExec := db.conn.ExecContext(ctx, query, args...)
	if errExec != nil {
		return errExec //nolint:wrapcheck
	}

	lastID, errID := result.LastInsertId()
	if errID != nil {
		return errID //nolint:wrapcheck
	}

	switch out := outID.(type) {
	case *int64:
		*out = lastID
	case *int:
		*out = int(lastID)
	default:
		return fmt.Errorf("%w: unsupported out type %T", ErrCreateQuery, outID)
	}

	return nil
}

func (db *sqliteStore) ExecDeleteBuilder(ctx context.Context, builder sq.DeleteBuilder) error {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return errQuery //nolint:wrapcheck
	}

	return db.Exec(ctx, query, args...)
}

func (db *sqliteStore) ExecUpdateBuilder(ctx context.Context, builder sq.UpdateBuilder) error {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return errQuery //nolint:wrapcheck
	}

	return db.Exec(ctx, query, args...)
}

func (db *sqliteStore) GetCount(ctx context.Context, builder sq.SelectBuilder) (int64, error) {
	countQuery, argsCount, errCountQuery := builder.ToSql()
	if errCountQuery != nil {
		return 0, errors.Join(errCountQuery, ErrCreateQuery)
	}

	var count int64
	if errCount := db.QueryRow(ctx, countQuery, argsCount...).Scan(&count); errCount != nil {
		return 0, errCount //nolint:wrapcheck
	}

	return count, nil
}

// WrapTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Transactions either commit or rollback here on every exit
// path, request cancellation included.
func (db *sqliteStore) WrapTx(ctx context.Context, txFunc func(*sql.Tx) error) error {
	transaction, errTx := db.conn.BeginTx(ctx, nil)
	if errTx != nil {
		return DBErr(errTx)
	}

	if err := txFunc(transaction); err != nil {
		if errRollback := transaction.Rollback(); errRollback != nil {
			return DBErr(errRollback)
		}

		return err
	}

	if err := transaction.Commit(); err != nil {
		return DBErr(err)
	}

	return nil
}

func (db *sqliteStore) Close() error {
	if db.conn != nil {
		return db.conn.Close() //nolint:wrapcheck
	}

	return nil
}
