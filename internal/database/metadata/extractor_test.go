package metadata

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querybridge/internal/database"
	"querybridge/internal/database/drivers"
	"querybridge/internal/metrics"
	"querybridge/internal/model"
	"querybridge/internal/utils"
)

func createFixture(t *testing.T, ddl string) *model.ConnectionConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(ddl)
	require.NoError(t, err)

	return &model.ConnectionConfig{ID: "fixture", Type: model.DatabaseTypeSQLite, Database: path}
}

const usersOrdersDDL = `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, status TEXT DEFAULT 'active');
CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), total REAL);
CREATE INDEX idx_orders_user ON orders(user_id);
`

func newExtractor(m *metrics.Metrics) *MetadataExtractor {
	return NewMetadataExtractor(database.NewDriverRegistry(nil, drivers.Options{}), m, nil)
}

func TestGetSchemaContext_UsersOrders(t *testing.T) {
	cfg := createFixture(t, usersOrdersDDL)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sc, err := newExtractor(m).GetSchemaContext(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, sc.Tables, 2)

	orders, users := sc.Tables[0], sc.Tables[1]
	assert.Equal(t, "orders", orders.TableName)
	assert.Equal(t, "users", users.TableName)

	assert.Equal(t, []model.RelationshipInfo{
		{Column: "user_id", ForeignTable: "users", ForeignColumn: "id"},
	}, orders.Relationships)
	assert.Nil(t, users.Relationships)

	assert.Equal(t, []model.IndexInfo{
		{Name: "idx_orders_user", Columns: []string{"user_id"}, Unique: false},
	}, orders.Indexes)

	require.Len(t, users.Columns, 3)
	assert.True(t, users.Columns[0].IsPrimary)
	assert.False(t, users.Columns[1].Nullable)
	require.NotNil(t, users.Columns[2].DefaultValue)
	assert.Equal(t, "'active'", *users.Columns[2].DefaultValue)

	assert.Equal(t, 1, strings.Count(sc.Formatted, "TABLE: users"))
	assert.Equal(t, 1, strings.Count(sc.Formatted, "TABLE: orders"))
	assert.Equal(t, 1, strings.Count(sc.Formatted, "Foreign Keys:"))

	expected := `DATABASE TYPE: SQLITE

DATABASE SCHEMA:

TABLE: orders
Columns:
  - id: INTEGER [PRIMARY KEY]
  - user_id: INTEGER (required)
  - total: REAL
Foreign Keys:
  - user_id references users.id

TABLE: users
Columns:
  - id: INTEGER [PRIMARY KEY]
  - name: TEXT (required)
  - status: TEXT [DEFAULT: 'active']`
	assert.Equal(t, expected, sc.Formatted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntrospectionTotal.WithLabelValues("sqlite", metrics.StatusSuccess)))
}

func TestExtractSchema_ImplicitForeignKeyTarget(t *testing.T) {
	cfg := createFixture(t, `
CREATE TABLE authors (author_id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE books (id INTEGER PRIMARY KEY, author INTEGER REFERENCES authors, title TEXT UNIQUE);
`)

	tables, err := newExtractor(nil).ExtractSchema(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	books := tables[1]
	assert.Equal(t, []model.RelationshipInfo{
		{Column: "author", ForeignTable: "authors", ForeignColumn: "author_id"},
	}, books.Relationships)

	require.Len(t, books.Indexes, 1)
	assert.True(t, books.Indexes[0].Unique)
	assert.Equal(t, []string{"title"}, books.Indexes[0].Columns)
}

func TestExtractSchema_EmptyDatabase(t *testing.T) {
	cfg := createFixture(t, `PRAGMA user_version = 1;`)

	sc, err := newExtractor(nil).GetSchemaContext(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, sc.Tables)
	assert.Equal(t, "DATABASE TYPE: SQLITE\n\nDATABASE SCHEMA:", sc.Formatted)
}

func TestExtractSchema_DocumentStoreUnsupported(t *testing.T) {
	cfg := &model.ConnectionConfig{ID: "m", Type: model.DatabaseTypeMongoDB, Host: "mongo", Database: "app"}

	_, err := newExtractor(nil).ExtractSchema(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrUnsupportedEngine))
}

type scriptedAdapter struct {
	failOn      string
	responses   map[string][]model.Row
	disconnects int
}

func (a *scriptedAdapter) Connect(context.Context) error { return nil }

func (a *scriptedAdapter) Query(_ context.Context, req model.Request) (*model.QueryResult, error) {
	q := req.(model.SQLQuery)
	if strings.Contains(q.SQL, a.failOn) {
		return nil, errors.New("permission denied for catalog")
	}
	for marker, rows := range a.responses {
		if strings.Contains(q.SQL, marker) {
			return &model.QueryResult{Rows: rows, RowCount: len(rows)}, nil
		}
	}
	if strings.Contains(q.SQL, "information_schema.columns") {
		return &model.QueryResult{Rows: []model.Row{{
			{Name: "table_name", Value: "users"},
			{Name: "column_name", Value: "id"},
			{Name: "data_type", Value: "integer"},
			{Name: "is_nullable", Value: "NO"},
			{Name: "column_default", Value: nil},
			{Name: "is_primary", Value: int64(1)},
		}}, RowCount: 1}, nil
	}
	return &model.QueryResult{Rows: []model.Row{}}, nil
}

func (a *scriptedAdapter) Disconnect(context.Context)         { a.disconnects++ }
func (a *scriptedAdapter) TestConnection(context.Context) bool { return true }
func (a *scriptedAdapter) DatabaseType() model.DatabaseType   { return model.DatabaseTypePostgreSQL }

type scriptedFactory struct{ adapter *scriptedAdapter }

func (f scriptedFactory) CreateAdapter(*model.ConnectionConfig) (drivers.Adapter, error) {
	return f.adapter, nil
}

func TestExtractSchema_CatalogFailureAborts(t *testing.T) {
	cfg := &model.ConnectionConfig{ID: "pg", Type: model.DatabaseTypePostgreSQL, Host: "db"}

	for _, failOn := range []string{"information_schema.columns", "pg_constraint", "pg_index"} {
		t.Run(failOn, func(t *testing.T) {
			adapter := &scriptedAdapter{failOn: failOn}
			tables, err := NewMetadataExtractor(scriptedFactory{adapter}, nil, nil).ExtractSchema(context.Background(), cfg)

			require.Error(t, err)
			assert.Nil(t, tables)
			assert.True(t, errors.Is(err, utils.ErrSchemaIntrospection))
			assert.Contains(t, err.Error(), "engine=postgres")
			assert.Equal(t, 1, adapter.disconnects)
		})
	}
}

func TestExtractSchema_ScriptedPostgres(t *testing.T) {
	cfg := &model.ConnectionConfig{ID: "pg", Type: model.DatabaseTypePostgreSQL, Host: "db"}
	adapter := &scriptedAdapter{failOn: "never-matches"}

	tables, err := NewMetadataExtractor(scriptedFactory{adapter}, nil, nil).ExtractSchema(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, model.ColumnInfo{Column: "id", Type: "integer", IsPrimary: true}, tables[0].Columns[0])
	assert.Equal(t, 1, adapter.disconnects)
}

func TestMappers(t *testing.T) {
	t.Run("mysql byte values", func(t *testing.T) {
		table, col, err := mapColumn(model.Row{
			{Name: "TABLE_NAME", Value: []byte("orders")},
			{Name: "COLUMN_NAME", Value: []byte("amount")},
			{Name: "DATA_TYPE", Value: []byte("decimal(10,2)")},
			{Name: "IS_NULLABLE", Value: []byte("YES")},
			{Name: "COLUMN_DEFAULT", Value: []byte("0.00")},
			{Name: "IS_PRIMARY", Value: int64(0)},
		})
		require.NoError(t, err)
		assert.Equal(t, "orders", table)
		assert.Equal(t, "decimal(10,2)", col.Type)
		assert.True(t, col.Nullable)
		require.NotNil(t, col.DefaultValue)
		assert.Equal(t, "0.00", *col.DefaultValue)
	})

	t.Run("missing table name", func(t *testing.T) {
		_, _, err := mapColumn(model.Row{{Name: "column_name", Value: "id"}})
		assert.Error(t, err)
	})

	t.Run("index flags", func(t *testing.T) {
		for _, v := range []any{true, int64(1), "t", "1", []byte("YES")} {
			_, ic, err := mapIndexColumn(model.Row{
				{Name: "table_name", Value: "t"},
				{Name: "index_name", Value: "i"},
				{Name: "column_name", Value: "c"},
				{Name: "is_unique", Value: v},
			})
			require.NoError(t, err)
			assert.True(t, ic.unique, "%v", v)
		}
	})
}

func TestAppendIndexColumn(t *testing.T) {
	table := &model.TableSchema{TableName: "t"}
	appendIndexColumn(table, indexColumn{index: "pk", column: "a", unique: true})
	appendIndexColumn(table, indexColumn{index: "pk", column: "b", unique: true})
	appendIndexColumn(table, indexColumn{index: "idx_c", column: "c"})

	assert.Equal(t, []model.IndexInfo{
		{Name: "pk", Columns: []string{"a", "b"}, Unique: true},
		{Name: "idx_c", Columns: []string{"c"}},
	}, table.Indexes)
}

func pgColumn(table, column string, primary bool) model.Row {
	isPrimary := int64(0)
	if primary {
		isPrimary = 1
	}
	return model.Row{
		{Name: "table_name", Value: table},
		{Name: "column_name", Value: column},
		{Name: "data_type", Value: "integer"},
		{Name: "is_nullable", Value: "NO"},
		{Name: "column_default", Value: nil},
		{Name: "is_primary", Value: isPrimary},
	}
}

func pgForeignKey(table, column, foreignTable, foreignColumn string) model.Row {
	return model.Row{
		{Name: "table_name", Value: table},
		{Name: "column_name", Value: column},
		{Name: "foreign_table", Value: foreignTable},
		{Name: "foreign_column", Value: foreignColumn},
	}
}

func TestPostgresForeignKeyQuery_PairsColumnsByPosition(t *testing.T) {
	fkSQL := strategies[model.DatabaseTypePostgreSQL].fkSQL

	assert.Contains(t, fkSQL, "unnest(con.conkey, con.confkey) WITH ORDINALITY")
	assert.Contains(t, fkSQL, "sa.attrelid = con.conrelid")
	assert.Contains(t, fkSQL, "da.attrelid = con.confrelid")
	assert.NotContains(t, fkSQL, "constraint_column_usage")
}

func TestExtractSchema_PostgresCompositeForeignKey(t *testing.T) {
	cfg := &model.ConnectionConfig{ID: "pg", Type: model.DatabaseTypePostgreSQL, Host: "db"}
	adapter := &scriptedAdapter{
		failOn: "never-matches",
		responses: map[string][]model.Row{
			"information_schema.columns": {
				pgColumn("regions", "country", true),
				pgColumn("regions", "code", true),
				pgColumn("stores", "id", true),
				pgColumn("stores", "region_country", false),
				pgColumn("stores", "region_code", false),
			},
			"pg_constraint": {
				pgForeignKey("stores", "region_country", "regions", "country"),
				pgForeignKey("stores", "region_code", "regions", "code"),
			},
		},
	}

	tables, err := NewMetadataExtractor(scriptedFactory{adapter}, nil, nil).ExtractSchema(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Nil(t, tables[0].Relationships)
	assert.Equal(t, []model.RelationshipInfo{
		{Column: "region_country", ForeignTable: "regions", ForeignColumn: "country"},
		{Column: "region_code", ForeignTable: "regions", ForeignColumn: "code"},
	}, tables[1].Relationships)
}

func TestExtractSchema_SQLiteCompositeForeignKey(t *testing.T) {
	cfg := createFixture(t, `
CREATE TABLE regions (country TEXT, code TEXT, PRIMARY KEY (country, code));
CREATE TABLE stores (id INTEGER PRIMARY KEY, region_country TEXT, region_code TEXT,
  FOREIGN KEY (region_country, region_code) REFERENCES regions(country, code));
`)

	tables, err := newExtractor(nil).ExtractSchema(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, []model.RelationshipInfo{
		{Column: "region_country", ForeignTable: "regions", ForeignColumn: "country"},
		{Column: "region_code", ForeignTable: "regions", ForeignColumn: "code"},
	}, tables[1].Relationships)
}
