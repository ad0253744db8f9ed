package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a unit of work an adapter can run. It is closed: the only
// implementations are SQLQuery and DocumentOperation.
type Request interface {
	isRequest()
	// Describe returns a short, credential-free label used in logs and errors.
	Describe() string
}

// SQLQuery is read-only SQL text for a relational engine.
type SQLQuery struct {
	SQL string `json:"sql"`
}

func (SQLQuery) isRequest() {}

func (q SQLQuery) Describe() string {
	return Truncate(q.SQL, 50)
}

// DocumentOperationKind enumerates the document-store operations.
type DocumentOperationKind string

const (
	DocumentFind      DocumentOperationKind = "find"
	DocumentAggregate DocumentOperationKind = "aggregate"
	DocumentCount     DocumentOperationKind = "count"
)

// DocumentOperation is the document-store request descriptor. Query holds a
// filter object for find/count and a pipeline array for aggregate, both in
// extended JSON.
type DocumentOperation struct {
	Collection string                `json:"collection"`
	Operation  DocumentOperationKind `json:"operation"`
	Query      json.RawMessage       `json:"query,omitempty"`
	Options    DocumentOptions       `json:"options,omitempty"`
}

// DocumentOptions are the optional find modifiers.
type DocumentOptions struct {
	Limit      int64           `json:"limit,omitempty"`
	Skip       int64           `json:"skip,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
}

func (DocumentOperation) isRequest() {}

func (o DocumentOperation) Describe() string {
	return fmt.Sprintf("%s %s", o.Operation, o.Collection)
}

// Validate checks the descriptor shape without touching the query body.
func (o DocumentOperation) Validate() error {
	if strings.TrimSpace(o.Collection) == "" {
		return fmt.Errorf("document operation requires a collection")
	}
	switch o.Operation {
	case DocumentFind, DocumentAggregate, DocumentCount:
	default:
		return fmt.Errorf("unsupported document operation %q (want find, aggregate or count)", o.Operation)
	}
	if o.Options.Limit < 0 || o.Options.Skip < 0 {
		return fmt.Errorf("limit and skip must not be negative")
	}
	return nil
}

// ParseDocumentOperation decodes a JSON operation descriptor and validates it.
func ParseDocumentOperation(data []byte) (DocumentOperation, error) {
	var op DocumentOperation
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&op); err != nil {
		return DocumentOperation{}, fmt.Errorf("invalid document operation: %w", err)
	}
	if err := op.Validate(); err != nil {
		return DocumentOperation{}, err
	}
	return op, nil
}

// Cell is a single named value in a Row.
type Cell struct {
	Name  string
	Value any
}

// Row is an ordered record: cells appear in column order.
type Row []Cell

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// MarshalJSON renders the row as a JSON object whose keys keep column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Field describes a result column with its engine-native type name.
type Field struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

// QueryResult is what the engine returned, unfiltered.
type QueryResult struct {
	Rows     []Row   `json:"rows"`
	RowCount int     `json:"rowCount"`
	Fields   []Field `json:"fields,omitempty"`
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
