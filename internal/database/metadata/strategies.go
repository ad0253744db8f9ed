package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"querybridge/internal/model"
)

// catalogStrategy parameterizes the introspection pipeline for one engine.
// Every query returns one row per item, already ordered by table and then by
// ordinal position.
type catalogStrategy struct {
	columnsSQL   string
	columnMapper func(model.Row) (string, model.ColumnInfo, error)

	fkSQL    string
	fkMapper func(model.Row) (string, model.RelationshipInfo, error)

	indexSQL    string
	indexMapper func(model.Row) (string, indexColumn, error)
}

// indexColumn is one column of one index; consecutive rows with the same
// index name are folded into a single IndexInfo.
type indexColumn struct {
	index  string
	column string
	unique bool
}

var strategies = map[model.DatabaseType]catalogStrategy{
	model.DatabaseTypePostgreSQL: {
		columnsSQL: `SELECT c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default,
       CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END AS is_primary
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name AND t.table_type = 'BASE TABLE'
LEFT JOIN (
  SELECT kcu.table_name, kcu.column_name
  FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name
  WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`,
		columnMapper: mapColumn,
		fkSQL: `SELECT src.relname AS table_name, sa.attname AS column_name,
       dst.relname AS foreign_table, da.attname AS foreign_column
FROM pg_constraint con
JOIN pg_class src ON src.oid = con.conrelid
JOIN pg_namespace n ON n.oid = src.relnamespace
JOIN pg_class dst ON dst.oid = con.confrelid
JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src_attnum, dst_attnum, ord) ON true
JOIN pg_attribute sa ON sa.attrelid = con.conrelid AND sa.attnum = k.src_attnum
JOIN pg_attribute da ON da.attrelid = con.confrelid AND da.attnum = k.dst_attnum
WHERE con.contype = 'f' AND n.nspname = 'public'
ORDER BY src.relname, con.conname, k.ord`,
		fkMapper: mapRelationship,
		indexSQL: `SELECT t.relname AS table_name, i.relname AS index_name, a.attname AS column_name, ix.indisunique AS is_unique
FROM pg_class t
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_index ix ON ix.indrelid = t.oid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE n.nspname = 'public' AND t.relkind = 'r'
ORDER BY t.relname, i.relname, k.ord`,
		indexMapper: mapIndexColumn,
	},

	model.DatabaseTypeMySQL: {
		columnsSQL: `SELECT c.TABLE_NAME AS table_name, c.COLUMN_NAME AS column_name, c.COLUMN_TYPE AS data_type,
       c.IS_NULLABLE AS is_nullable, c.COLUMN_DEFAULT AS column_default,
       CASE WHEN c.COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END AS is_primary
FROM information_schema.COLUMNS c
JOIN information_schema.TABLES t
  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_TYPE = 'BASE TABLE'
WHERE c.TABLE_SCHEMA = DATABASE()
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`,
		columnMapper: mapColumn,
		fkSQL: `SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name,
       REFERENCED_TABLE_NAME AS foreign_table, REFERENCED_COLUMN_NAME AS foreign_column
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION`,
		fkMapper: mapRelationship,
		indexSQL: `SELECT TABLE_NAME AS table_name, INDEX_NAME AS index_name, COLUMN_NAME AS column_name,
       CASE WHEN NON_UNIQUE = 0 THEN 1 ELSE 0 END AS is_unique
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX`,
		indexMapper: mapIndexColumn,
	},

	model.DatabaseTypeSQLServer: {
		columnsSQL: `SELECT c.TABLE_NAME AS table_name, c.COLUMN_NAME AS column_name, c.DATA_TYPE AS data_type,
       c.IS_NULLABLE AS is_nullable, c.COLUMN_DEFAULT AS column_default,
       CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END AS is_primary
FROM INFORMATION_SCHEMA.COLUMNS c
JOIN INFORMATION_SCHEMA.TABLES t
  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_TYPE = 'BASE TABLE'
LEFT JOIN (
  SELECT ku.TABLE_NAME, ku.COLUMN_NAME
  FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
  JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
    ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
  WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = 'dbo'
) pk ON pk.TABLE_NAME = c.TABLE_NAME AND pk.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = 'dbo'
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`,
		columnMapper: mapColumn,
		fkSQL: `SELECT tp.name AS table_name, cp.name AS column_name, tr.name AS foreign_table, cr.name AS foreign_column
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.tables tp ON tp.object_id = fkc.parent_object_id
JOIN sys.columns cp ON cp.object_id = fkc.parent_object_id AND cp.column_id = fkc.parent_column_id
JOIN sys.tables tr ON tr.object_id = fkc.referenced_object_id
JOIN sys.columns cr ON cr.object_id = fkc.referenced_object_id AND cr.column_id = fkc.referenced_column_id
WHERE SCHEMA_NAME(tp.schema_id) = 'dbo'
ORDER BY tp.name, fk.name, fkc.constraint_column_id`,
		fkMapper: mapRelationship,
		indexSQL: `SELECT t.name AS table_name, i.name AS index_name, c.name AS column_name, CAST(i.is_unique AS INT) AS is_unique
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
JOIN sys.tables t ON t.object_id = i.object_id
WHERE SCHEMA_NAME(t.schema_id) = 'dbo' AND i.name IS NOT NULL AND ic.is_included_column = 0
ORDER BY t.name, i.name, ic.key_ordinal`,
		indexMapper: mapIndexColumn,
	},

	// SQLite has no information_schema; the pragma table-valued functions
	// are joined against sqlite_master instead. A foreign key declared
	// without a target column reports a NULL "to".
	model.DatabaseTypeSQLite: {
		columnsSQL: `SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type,
       CASE WHEN p."notnull" = 0 THEN 'YES' ELSE 'NO' END AS is_nullable,
       p.dflt_value AS column_default,
       CASE WHEN p.pk > 0 THEN 1 ELSE 0 END AS is_primary
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`,
		columnMapper: mapColumn,
		fkSQL: `SELECT m.name AS table_name, f."from" AS column_name, f."table" AS foreign_table, f."to" AS foreign_column
FROM sqlite_master m
JOIN pragma_foreign_key_list(m.name) f
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, f.id, f.seq`,
		fkMapper: mapRelationship,
		indexSQL: `SELECT m.name AS table_name, il.name AS index_name, ii.name AS column_name, il."unique" AS is_unique
FROM sqlite_master m
JOIN pragma_index_list(m.name) il
JOIN pragma_index_info(il.name) ii
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, il.name, ii.seqno`,
		indexMapper: mapIndexColumn,
	},
}

func mapColumn(row model.Row) (string, model.ColumnInfo, error) {
	table, err := requiredString(row, "table_name")
	if err != nil {
		return "", model.ColumnInfo{}, err
	}
	name, err := requiredString(row, "column_name")
	if err != nil {
		return table, model.ColumnInfo{}, err
	}
	dataType, _ := stringValue(row, "data_type")
	nullable, _ := stringValue(row, "is_nullable")

	col := model.ColumnInfo{
		Column:    name,
		Type:      dataType,
		Nullable:  strings.EqualFold(nullable, "YES"),
		IsPrimary: boolValue(row, "is_primary"),
	}
	if def, ok := stringValue(row, "column_default"); ok {
		col.DefaultValue = &def
	}
	return table, col, nil
}

func mapRelationship(row model.Row) (string, model.RelationshipInfo, error) {
	table, err := requiredString(row, "table_name")
	if err != nil {
		return "", model.RelationshipInfo{}, err
	}
	column, err := requiredString(row, "column_name")
	if err != nil {
		return table, model.RelationshipInfo{}, err
	}
	foreignTable, err := requiredString(row, "foreign_table")
	if err != nil {
		return table, model.RelationshipInfo{}, err
	}
	// resolved against the referenced primary key when empty
	foreignColumn, _ := stringValue(row, "foreign_column")

	return table, model.RelationshipInfo{
		Column:        column,
		ForeignTable:  foreignTable,
		ForeignColumn: foreignColumn,
	}, nil
}

func mapIndexColumn(row model.Row) (string, indexColumn, error) {
	table, err := requiredString(row, "table_name")
	if err != nil {
		return "", indexColumn{}, err
	}
	index, err := requiredString(row, "index_name")
	if err != nil {
		return table, indexColumn{}, err
	}
	// expression index members have no column name
	column, _ := stringValue(row, "column_name")

	return table, indexColumn{
		index:  index,
		column: column,
		unique: boolValue(row, "is_unique"),
	}, nil
}

func requiredString(row model.Row, name string) (string, error) {
	v, ok := stringValue(row, name)
	if !ok || v == "" {
		return "", fmt.Errorf("catalog row is missing %s", name)
	}
	return v, nil
}

// stringValue reads a cell as text. Column names are matched
// case-insensitively since some catalogs upper-case aliases.
func stringValue(row model.Row, name string) (string, bool) {
	v, ok := lookup(row, name)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return fmt.Sprint(t), true
	}
}

func boolValue(row model.Row, name string) bool {
	v, ok := lookup(row, name)
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int32:
		return t != 0
	case int:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case []byte:
		return parseBool(string(t))
	case string:
		return parseBool(t)
	default:
		return false
	}
}

func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "YES") {
		return true
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && n != 0
}

func lookup(row model.Row, name string) (any, bool) {
	if v, ok := row.Get(name); ok {
		return v, true
	}
	for _, cell := range row {
		if strings.EqualFold(cell.Name, name) {
			return cell.Value, true
		}
	}
	return nil, false
}
