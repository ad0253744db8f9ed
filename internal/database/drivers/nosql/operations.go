package nosql

import (
	"bytes"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"querybridge/internal/model"
	"querybridge/internal/utils"
)

func runFind(ctx context.Context, coll *mongo.Collection, op model.DocumentOperation) ([]bson.D, error) {
	filter, err := parseDocument(op.Query, "query")
	if err != nil {
		return nil, err
	}
	findOpts, err := buildFindOptions(op.Options)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	return drainCursor(ctx, cursor)
}

func runAggregate(ctx context.Context, coll *mongo.Collection, op model.DocumentOperation) ([]bson.D, error) {
	pipeline, err := parsePipeline(op.Query)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return drainCursor(ctx, cursor)
}

func runCount(ctx context.Context, coll *mongo.Collection, op model.DocumentOperation) ([]bson.D, error) {
	filter, err := parseDocument(op.Query, "query")
	if err != nil {
		return nil, err
	}

	countOpts := options.Count()
	if op.Options.Limit > 0 {
		countOpts.SetLimit(op.Options.Limit)
	}
	if op.Options.Skip > 0 {
		countOpts.SetSkip(op.Options.Skip)
	}

	n, err := coll.CountDocuments(ctx, filter, countOpts)
	if err != nil {
		return nil, err
	}
	return []bson.D{{{Key: "count", Value: n}}}, nil
}

func drainCursor(ctx context.Context, cursor *mongo.Cursor) ([]bson.D, error) {
	defer cursor.Close(ctx)

	docs := []bson.D{}
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func buildFindOptions(o model.DocumentOptions) (*options.FindOptions, error) {
	findOpts := options.Find()
	if o.Limit > 0 {
		findOpts.SetLimit(o.Limit)
	}
	if o.Skip > 0 {
		findOpts.SetSkip(o.Skip)
	}
	if !isEmptyJSON(o.Sort) {
		sort, err := parseDocument(o.Sort, "sort")
		if err != nil {
			return nil, err
		}
		findOpts.SetSort(sort)
	}
	if !isEmptyJSON(o.Projection) {
		projection, err := parseDocument(o.Projection, "projection")
		if err != nil {
			return nil, err
		}
		findOpts.SetProjection(projection)
	}
	return findOpts, nil
}

// parseDocument decodes an extended-JSON object; empty input is an empty filter.
func parseDocument(raw []byte, what string) (bson.D, error) {
	if isEmptyJSON(raw) {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, utils.NewInvalidDocumentOpError(fmt.Errorf("invalid %s document: %w", what, err))
	}
	return doc, nil
}

// writeStages persist pipeline output and are never allowed.
var writeStages = map[string]bool{"$out": true, "$merge": true}

// parsePipeline decodes an extended-JSON array of stages and rejects stages
// that write.
func parsePipeline(raw []byte) (mongo.Pipeline, error) {
	if isEmptyJSON(raw) {
		return mongo.Pipeline{}, nil
	}
	var wrapper struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	wrapped := append(append([]byte(`{"pipeline":`), raw...), '}')
	if err := bson.UnmarshalExtJSON(wrapped, false, &wrapper); err != nil {
		return nil, utils.NewInvalidDocumentOpError(fmt.Errorf("invalid aggregation pipeline: %w", err))
	}
	for i, stage := range wrapper.Pipeline {
		for _, elem := range stage {
			if writeStages[elem.Key] {
				return nil, utils.NewInvalidDocumentOpError(fmt.Errorf("aggregation stage %d: %s is not allowed in a read-only pipeline", i, elem.Key))
			}
		}
	}
	return mongo.Pipeline(wrapper.Pipeline), nil
}

func isEmptyJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// documentsToResult flattens documents into ordered rows. Fields list every
// top-level key in first-seen order, typed by its first occurrence.
func documentsToResult(docs []bson.D) *model.QueryResult {
	result := &model.QueryResult{Rows: make([]model.Row, 0, len(docs))}
	seen := make(map[string]bool)

	for _, doc := range docs {
		row := make(model.Row, len(doc))
		for i, elem := range doc {
			row[i] = model.Cell{Name: elem.Key, Value: normalizeBSON(elem.Value)}
			if !seen[elem.Key] {
				seen[elem.Key] = true
				result.Fields = append(result.Fields, model.Field{Name: elem.Key, DataType: bsonTypeName(elem.Value)})
			}
		}
		result.Rows = append(result.Rows, row)
	}

	result.RowCount = len(result.Rows)
	return result
}

func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return t.Data
	case primitive.Timestamp:
		return map[string]uint32{"t": t.T, "i": t.I}
	case primitive.Regex:
		return t.String()
	case bson.D:
		row := make(model.Row, len(t))
		for i, e := range t {
			row[i] = model.Cell{Name: e.Key, Value: normalizeBSON(e.Value)}
		}
		return row
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	default:
		return v
	}
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.DateTime:
		return "date"
	case primitive.Decimal128:
		return "decimal"
	case primitive.Binary:
		return "binData"
	case primitive.Timestamp:
		return "timestamp"
	case primitive.Regex:
		return "regex"
	case bson.D:
		return "object"
	case bson.A:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
