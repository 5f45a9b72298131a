// Package flattener turns parsed JSON values into ordered key/value field
// lists with structural markers.
//
// Keys are built from object member names joined with "." and array indices
// written as "[i]". Objects open with (key, "Structure") and close with
// (key+".", "EndStructure"); arrays open with (key, length) and close with
// (key+".", "EndArray"). The members of a root object are emitted under
// their own names without a surrounding Structure pair; any other root value
// is flattened under the empty key.
//
// A string value equal to one of the marker texts serializes exactly like
// the marker. The in-memory FieldValue keeps them apart.
package flattener

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mcncl/jsonflat/internal/models"
)

// Flattener converts values into flattened records
type Flattener struct {
	ids IDGenerator
}

// Option configures a Flattener
type Option func(*Flattener)

// WithIDGenerator replaces the default random record IDs
func WithIDGenerator(g IDGenerator) Option {
	return func(f *Flattener) {
		f.ids = g
	}
}

// NewFlattener creates a Flattener that assigns random record IDs unless
// configured otherwise.
func NewFlattener(opts ...Option) *Flattener {
	f := &Flattener{ids: UUIDGenerator{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flatten produces the flattened record for one document
func (f *Flattener) Flatten(v models.Value) models.FlattenedRecord {
	return models.FlattenedRecord{
		ID:     f.ids.NextID(),
		Fields: Fields(v),
	}
}

// Fields returns the field sequence of v without assigning a record ID
func Fields(v models.Value) []models.FieldRecord {
	fields := []models.FieldRecord{}
	if v.Kind() == models.Object {
		for _, m := range v.Members() {
			fields = walk(m.Value, m.Key, fields)
		}
		return fields
	}
	return walk(v, "", fields)
}

func walk(v models.Value, prefix string, fields []models.FieldRecord) []models.FieldRecord {
	switch v.Kind() {
	case models.Object:
		fields = append(fields, models.FieldRecord{Key: prefix, Value: models.MarkerField(models.MarkerStructure)})
		for _, m := range v.Members() {
			fields = walk(m.Value, childKey(prefix, m.Key), fields)
		}
		return append(fields, models.FieldRecord{Key: prefix + ".", Value: models.MarkerField(models.MarkerEndStructure)})
	case models.Array:
		items := v.Items()
		fields = append(fields, models.FieldRecord{Key: prefix, Value: models.LengthField(len(items))})
		for i, item := range items {
			fields = walk(item, prefix+"["+strconv.Itoa(i)+"]", fields)
		}
		return append(fields, models.FieldRecord{Key: prefix + ".", Value: models.MarkerField(models.MarkerEndArray)})
	case models.Null:
		return append(fields, models.FieldRecord{Key: prefix, Value: models.NullField()})
	case models.Bool:
		return append(fields, models.FieldRecord{Key: prefix, Value: models.BoolField(v.Bool())})
	case models.Int:
		return append(fields, models.FieldRecord{Key: prefix, Value: models.IntField(v.Int())})
	case models.Float:
		return append(fields, models.FieldRecord{Key: prefix, Value: models.FloatField(v.Float())})
	case models.String:
		return append(fields, models.FieldRecord{Key: prefix, Value: models.StringField(v.Str())})
	default:
		panic("flattener: unknown value kind " + v.Kind().String())
	}
}

func childKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// FlattenAll flattens values in input order. With workers > 1 records are
// flattened concurrently, each result landing in its input's slot.
func (f *Flattener) FlattenAll(ctx context.Context, values []models.Value, workers int) ([]models.FlattenedRecord, error) {
	records := make([]models.FlattenedRecord, len(values))
	if workers <= 1 {
		for i, v := range values {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			records[i] = f.Flatten(v)
		}
		return records, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range values {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records[i] = f.Flatten(v)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}
