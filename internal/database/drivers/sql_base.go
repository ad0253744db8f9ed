package drivers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"querybridge/internal/model"
	"querybridge/internal/utils"
)

// ValueNormalizer converts a scanned value into its result representation.
// typeName is the engine's column type name, upper-cased.
type ValueNormalizer func(typeName string, v any) any

// SQLBase implements Adapter over database/sql. Each instance owns one
// dedicated *sql.Conn for its Connected lifetime.
type SQLBase struct {
	*DriverBase

	driverName string
	dsn        string
	secrets    []string
	opts       Options
	normalize  ValueNormalizer

	mu   sync.Mutex
	db   *sql.DB
	conn *sql.Conn
}

// NewSQLBase prepares an adapter for driverName; no I/O happens until Connect.
func NewSQLBase(dbType model.DatabaseType, driverName, dsn string, creds Credentials, opts Options) *SQLBase {
	opts = opts.WithDefaults()
	return &SQLBase{
		DriverBase: NewDriverBase(dbType, CategoryRelational, opts.Logger),
		driverName: driverName,
		dsn:        dsn,
		secrets:    creds.Secrets(),
		opts:       opts,
		normalize:  NormalizeValue,
	}
}

// SetValueNormalizer overrides the default value conversion.
func (b *SQLBase) SetValueNormalizer(fn ValueNormalizer) {
	b.normalize = fn
}

// DriverName returns the database/sql driver name
func (b *SQLBase) DriverName() string {
	return b.driverName
}

func (b *SQLBase) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	db, err := b.opts.OpenDB(b.driverName, b.dsn)
	if err != nil {
		return b.connectionError(err)
	}
	db.SetMaxOpenConns(1)

	cctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()

	conn, err := db.Conn(cctx)
	if err != nil {
		b.closeQuietly(db)
		return b.connectionError(err)
	}

	if err := conn.PingContext(cctx); err != nil {
		_ = conn.Close()
		b.closeQuietly(db)
		return b.connectionError(err)
	}

	b.db = db
	b.conn = conn
	b.Logger().Debug("connected")
	return nil
}

func (b *SQLBase) Query(ctx context.Context, req model.Request) (*model.QueryResult, error) {
	q, ok := req.(model.SQLQuery)
	if !ok {
		return nil, utils.NewRequestMismatchError(string(b.DatabaseType()), "document")
	}
	return b.QuerySQL(ctx, q.SQL)
}

// QuerySQL runs sql on the dedicated connection and collects every row.
func (b *SQLBase) QuerySQL(ctx context.Context, query string) (*model.QueryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, utils.NewNotConnectedError(string(b.DatabaseType()))
	}

	rows, err := b.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, b.queryError(query, err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, b.queryError(query, fmt.Errorf("failed to get column types: %w", err))
	}

	fields := make([]model.Field, len(columnTypes))
	typeNames := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
		fields[i] = model.Field{Name: ct.Name(), DataType: ct.DatabaseTypeName()}
	}

	result := &model.QueryResult{Rows: []model.Row{}, Fields: fields}
	for rows.Next() {
		values := make([]any, len(columnTypes))
		pointers := make([]any, len(columnTypes))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, b.queryError(query, fmt.Errorf("failed to scan row: %w", err))
		}

		row := make(model.Row, len(columnTypes))
		for i, v := range values {
			row[i] = model.Cell{Name: fields[i].Name, Value: b.normalize(typeNames[i], v)}
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, b.queryError(query, fmt.Errorf("row iteration error: %w", err))
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func (b *SQLBase) Disconnect(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			b.Logger().Warn("failed to release connection", "error", utils.Redact(err, b.secrets...))
		}
		b.conn = nil
	}
	if b.db != nil {
		b.closeQuietly(b.db)
		b.db = nil
	}
}

func (b *SQLBase) TestConnection(ctx context.Context) bool {
	if err := b.Connect(ctx); err != nil {
		b.Logger().Debug("connection test failed", "error", err)
		return false
	}
	defer b.Disconnect(ctx)

	if _, err := b.QuerySQL(ctx, "SELECT 1"); err != nil {
		b.Logger().Debug("connection test query failed", "error", err)
		return false
	}
	return true
}

func (b *SQLBase) closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		b.Logger().Warn("failed to close database handle", "error", utils.Redact(err, b.secrets...))
	}
}

func (b *SQLBase) connectionError(err error) error {
	return utils.Redact(utils.NewConnectionError(string(b.DatabaseType()), err), b.secrets...)
}

func (b *SQLBase) queryError(query string, err error) error {
	return utils.Redact(utils.NewQueryError(string(b.DatabaseType()), model.Truncate(query, 50), err), b.secrets...)
}

var binaryTypes = map[string]bool{
	"BLOB": true, "TINYBLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
	"BINARY": true, "VARBINARY": true, "BYTEA": true, "IMAGE": true,
}

// NormalizeValue turns textual byte slices into strings and leaves binary
// column data and every other value untouched.
func NormalizeValue(typeName string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if binaryTypes[typeName] {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return string(b)
}
