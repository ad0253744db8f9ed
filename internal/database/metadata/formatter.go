package metadata

import (
	"sort"
	"strings"

	"querybridge/internal/model"
)

// FormatSchema renders tables as the plain-text schema block handed to query
// generators. Tables are listed alphabetically; the output has no trailing
// newline.
func FormatSchema(tables []model.TableSchema, dbType model.DatabaseType) string {
	sorted := make([]model.TableSchema, len(tables))
	copy(sorted, tables)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TableName < sorted[j].TableName })

	var b strings.Builder
	b.WriteString("DATABASE TYPE: ")
	b.WriteString(strings.ToUpper(string(dbType)))
	b.WriteString("\n\nDATABASE SCHEMA:")

	for _, table := range sorted {
		b.WriteString("\n\nTABLE: ")
		b.WriteString(table.TableName)
		b.WriteString("\nColumns:")
		for _, col := range table.Columns {
			b.WriteString("\n  - ")
			b.WriteString(col.Column)
			b.WriteString(": ")
			b.WriteString(col.Type)
			if !col.Nullable {
				b.WriteString(" (required)")
			}
			if col.IsPrimary {
				b.WriteString(" [PRIMARY KEY]")
			}
			if col.DefaultValue != nil {
				b.WriteString(" [DEFAULT: ")
				b.WriteString(*col.DefaultValue)
				b.WriteString("]")
			}
		}

		if len(table.Relationships) > 0 {
			b.WriteString("\nForeign Keys:")
			for _, rel := range table.Relationships {
				b.WriteString("\n  - ")
				b.WriteString(rel.Column)
				b.WriteString(" references ")
				b.WriteString(rel.ForeignTable)
				b.WriteString(".")
				b.WriteString(rel.ForeignColumn)
			}
		}
	}

	return b.String()
}
