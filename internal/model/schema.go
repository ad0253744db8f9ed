package model

// TableSchema is one table of an introspected schema.
type TableSchema struct {
	TableName     string             `json:"table_name"`
	Columns       []ColumnInfo       `json:"columns"`
	Relationships []RelationshipInfo `json:"relationships,omitempty"`
	Indexes       []IndexInfo        `json:"indexes,omitempty"`
}

// ColumnInfo describes a column in ordinal order.
type ColumnInfo struct {
	Column       string  `json:"column"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	IsPrimary    bool    `json:"isPrimary"`
	DefaultValue *string `json:"defaultValue,omitempty"`
}

// RelationshipInfo is a single-column foreign key. Composite keys yield one
// entry per column.
type RelationshipInfo struct {
	Column        string `json:"column"`
	ForeignTable  string `json:"foreign_table"`
	ForeignColumn string `json:"foreign_column"`
}

// IndexInfo describes an index and its columns in key order.
type IndexInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// SchemaContext pairs the normalized tables with their rendered text.
type SchemaContext struct {
	Tables    []TableSchema `json:"tables"`
	Formatted string        `json:"formatted"`
}
