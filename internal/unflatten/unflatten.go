// Package unflatten rebuilds nested values from flattened field lists.
//
// It relies on FieldValue.IsMarker to tell markers from strings, so it only
// accepts field lists produced in memory, not ones decoded from serialized
// output. A root object whose only member is named "" and holds a primitive
// or an array flattens to the same fields as that value at the root;
// Unflatten reads such input as the root value.
package unflatten

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcncl/jsonflat/internal/models"
)

// ErrMalformed is wrapped by every error Unflatten returns
var ErrMalformed = errors.New("malformed field sequence")

type reader struct {
	fields []models.FieldRecord
	pos    int
}

// Unflatten returns the value whose flattening is fields. An empty list is
// the empty object.
func Unflatten(fields []models.FieldRecord) (models.Value, error) {
	// a root object never carries its own Structure marker
	if len(fields) > 0 && fields[0].Key == "" && !isMarker(fields[0], models.MarkerStructure) {
		r := &reader{fields: fields}
		if v, err := r.value(""); err == nil && r.done() {
			return v, nil
		}
	}

	r := &reader{fields: fields}
	members := []models.Member{}
	for !r.done() {
		key := r.peek().Key
		v, err := r.value(key)
		if err != nil {
			return models.Value{}, err
		}
		members = append(members, models.Member{Key: key, Value: v})
	}
	return models.NewObject(members...), nil
}

func isMarker(f models.FieldRecord, text string) bool {
	return f.Value.IsMarker() && f.Value.Text == text
}

func (r *reader) done() bool { return r.pos >= len(r.fields) }

func (r *reader) peek() models.FieldRecord { return r.fields[r.pos] }

func (r *reader) fail(format string, args ...any) error {
	return fmt.Errorf("%w: field %d: %s", ErrMalformed, r.pos, fmt.Sprintf(format, args...))
}

func (r *reader) value(key string) (models.Value, error) {
	if r.done() {
		return models.Value{}, r.fail("expected a value for %q, got end of input", key)
	}
	f := r.peek()
	if f.Key != key {
		return models.Value{}, r.fail("expected key %q, got %q", key, f.Key)
	}
	if !f.Value.IsMarker() {
		r.pos++
		return f.Value.Value(), nil
	}

	switch f.Value.Text {
	case models.MarkerStructure:
		r.pos++
		return r.object(key)
	case models.MarkerEndStructure, models.MarkerEndArray:
		return models.Value{}, r.fail("unexpected %s at %q", f.Value.Text, f.Key)
	}

	n, err := strconv.Atoi(f.Value.Text)
	if err != nil || n < 0 {
		return models.Value{}, r.fail("unknown marker %q", f.Value.Text)
	}
	r.pos++
	return r.array(key, n)
}

func (r *reader) object(key string) (models.Value, error) {
	childPrefix := key
	if key != "" {
		childPrefix = key + "."
	}

	members := []models.Member{}
	for {
		if r.done() {
			return models.Value{}, r.fail("object %q is not closed", key)
		}
		f := r.peek()
		if f.Key == key+"." && isMarker(f, models.MarkerEndStructure) {
			r.pos++
			return models.NewObject(members...), nil
		}
		if !strings.HasPrefix(f.Key, childPrefix) {
			return models.Value{}, r.fail("key %q is outside object %q", f.Key, key)
		}
		v, err := r.value(f.Key)
		if err != nil {
			return models.Value{}, err
		}
		members = append(members, models.Member{Key: strings.TrimPrefix(f.Key, childPrefix), Value: v})
	}
}

func (r *reader) array(key string, n int) (models.Value, error) {
	// every item takes at least one field
	if remaining := len(r.fields) - r.pos; n > remaining {
		return models.Value{}, r.fail("array %q declares %d items but only %d fields remain", key, n, remaining)
	}
	items := make([]models.Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.value(key + "[" + strconv.Itoa(i) + "]")
		if err != nil {
			return models.Value{}, err
		}
		items = append(items, v)
	}
	if r.done() {
		return models.Value{}, r.fail("array %q is not closed", key)
	}
	f := r.peek()
	if f.Key != key+"." || !isMarker(f, models.MarkerEndArray) {
		return models.Value{}, r.fail("expected end of array %q, got %s", key, f)
	}
	r.pos++
	return models.NewArray(items...), nil
}
