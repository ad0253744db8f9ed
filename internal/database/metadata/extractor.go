package metadata

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"querybridge/internal/database"
	"querybridge/internal/database/drivers"
	"querybridge/internal/metrics"
	"querybridge/internal/model"
	"querybridge/internal/utils"
)

// MetadataExtractor introspects the default schema of a relational
// connection into normalized TableSchema values.
type MetadataExtractor struct {
	factory database.AdapterFactory
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMetadataExtractor creates a new metadata extractor. m and logger may be nil.
func NewMetadataExtractor(factory database.AdapterFactory, m *metrics.Metrics, logger *slog.Logger) *MetadataExtractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MetadataExtractor{
		factory: factory,
		metrics: m,
		logger:  logger,
	}
}

// GetSchemaContext introspects cfg and renders the result for prompting.
func (e *MetadataExtractor) GetSchemaContext(ctx context.Context, cfg *model.ConnectionConfig) (*model.SchemaContext, error) {
	tables, err := e.ExtractSchema(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &model.SchemaContext{
		Tables:    tables,
		Formatted: FormatSchema(tables, cfg.Type),
	}, nil
}

// ExtractSchema returns every base table of the default schema, sorted by
// name. Any catalog failure aborts the whole extraction.
func (e *MetadataExtractor) ExtractSchema(ctx context.Context, cfg *model.ConnectionConfig) ([]model.TableSchema, error) {
	if cfg == nil {
		return nil, utils.NewInvalidConfigError("", nil)
	}

	strategy, ok := strategies[cfg.Type]
	if !ok {
		return nil, utils.NewUnsupportedEngineError(string(cfg.Type), supportedEngines())
	}

	start := time.Now()
	tables, err := database.WithConnection(ctx, e.factory, cfg, func(ctx context.Context, adapter drivers.Adapter) ([]model.TableSchema, error) {
		return e.extractTables(ctx, adapter, strategy)
	})
	e.metrics.RecordIntrospection(string(cfg.Type), err == nil, time.Since(start))

	if err != nil {
		e.logger.Error("schema introspection failed",
			"connection_id", cfg.ID,
			"database_type", string(cfg.Type),
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("schema introspected",
		"connection_id", cfg.ID,
		"database_type", string(cfg.Type),
		"tables", len(tables),
		"duration", time.Since(start),
	)
	return tables, nil
}

// extractTables runs the strategy's catalog queries on a connected adapter
func (e *MetadataExtractor) extractTables(ctx context.Context, adapter drivers.Adapter, strategy catalogStrategy) ([]model.TableSchema, error) {
	dbType := string(adapter.DatabaseType())

	columns, err := catalogQuery(ctx, adapter, strategy.columnsSQL)
	if err != nil {
		return nil, utils.NewSchemaIntrospectionError(dbType, "", err)
	}

	tables := make(map[string]*model.TableSchema)
	for _, row := range columns.Rows {
		name, col, err := strategy.columnMapper(row)
		if err != nil {
			return nil, utils.NewSchemaIntrospectionError(dbType, name, err)
		}
		table, exists := tables[name]
		if !exists {
			table = &model.TableSchema{TableName: name, Columns: []model.ColumnInfo{}}
			tables[name] = table
		}
		table.Columns = append(table.Columns, col)
	}

	fks, err := catalogQuery(ctx, adapter, strategy.fkSQL)
	if err != nil {
		return nil, utils.NewSchemaIntrospectionError(dbType, "", err)
	}
	for _, row := range fks.Rows {
		name, rel, err := strategy.fkMapper(row)
		if err != nil {
			return nil, utils.NewSchemaIntrospectionError(dbType, name, err)
		}
		table, exists := tables[name]
		if !exists {
			continue
		}
		if rel.ForeignColumn == "" {
			rel.ForeignColumn = singlePrimaryKey(tables[rel.ForeignTable])
		}
		table.Relationships = append(table.Relationships, rel)
	}

	indexes, err := catalogQuery(ctx, adapter, strategy.indexSQL)
	if err != nil {
		return nil, utils.NewSchemaIntrospectionError(dbType, "", err)
	}
	for _, row := range indexes.Rows {
		name, ic, err := strategy.indexMapper(row)
		if err != nil {
			return nil, utils.NewSchemaIntrospectionError(dbType, name, err)
		}
		table, exists := tables[name]
		if !exists {
			continue
		}
		appendIndexColumn(table, ic)
	}

	result := make([]model.TableSchema, 0, len(tables))
	for _, table := range tables {
		result = append(result, *table)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TableName < result[j].TableName })
	return result, nil
}

func catalogQuery(ctx context.Context, adapter drivers.Adapter, sql string) (*model.QueryResult, error) {
	return adapter.Query(ctx, model.SQLQuery{SQL: sql})
}

func appendIndexColumn(table *model.TableSchema, ic indexColumn) {
	n := len(table.Indexes)
	if n > 0 && table.Indexes[n-1].Name == ic.index {
		if ic.column != "" {
			table.Indexes[n-1].Columns = append(table.Indexes[n-1].Columns, ic.column)
		}
		return
	}

	idx := model.IndexInfo{Name: ic.index, Columns: []string{}, Unique: ic.unique}
	if ic.column != "" {
		idx.Columns = append(idx.Columns, ic.column)
	}
	table.Indexes = append(table.Indexes, idx)
}

// singlePrimaryKey returns the primary key column of table when the key has
// exactly one column.
func singlePrimaryKey(table *model.TableSchema) string {
	if table == nil {
		return ""
	}
	pk := ""
	for _, col := range table.Columns {
		if !col.IsPrimary {
			continue
		}
		if pk != "" {
			return ""
		}
		pk = col.Column
	}
	return pk
}

func supportedEngines() []string {
	names := make([]string, 0, len(strategies))
	for dbType := range strategies {
		names = append(names, string(dbType))
	}
	sort.Strings(names)
	return names
}
