package formatter

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/mcncl/jsonflat/internal/errors"
	"github.com/mcncl/jsonflat/internal/models"
)

// Formatter serializes flattened records as a pretty-printed JSON array
type Formatter struct {
	indent string
}

// NewFormatter creates a new Formatter instance using two-space indentation
func NewFormatter() *Formatter {
	return &Formatter{indent: "  "}
}

// Format returns records as an indented JSON array. A nil or empty slice
// yields "[]".
func (f *Formatter) Format(records []models.FlattenedRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the formatted array to w followed by a newline
func (f *Formatter) Write(w io.Writer, records []models.FlattenedRecord) error {
	if records == nil {
		records = []models.FlattenedRecord{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", f.indent)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return errors.NewOutputError("failed to serialize flattened records", err)
	}
	return nil
}
