package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	stderrors "errors"

	"go.uber.org/multierr"

	"github.com/mcncl/jsonflat/internal/compression"
	"github.com/mcncl/jsonflat/internal/errors"
	"github.com/mcncl/jsonflat/internal/models"
)

// maxLineSize bounds a single JSONL record
const maxLineSize = 64 * 1024 * 1024

// snippetLen is how much of a bad line is quoted in parse errors
const snippetLen = 80

// Parse converts exactly one JSON document into a Value. Whitespace around
// the document is allowed, a second value is not. Invalid UTF-8 and lone
// surrogate escapes in strings become U+FFFD.
func Parse(data []byte) (models.Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	tok, err := decoder.Token()
	if err != nil {
		if stderrors.Is(err, io.EOF) {
			return models.Value{}, errors.NewParsingError("input is empty or contains only whitespace", errors.ErrEmptyInput)
		}
		return models.Value{}, decodeError(err)
	}
	value, err := readValue(decoder, tok)
	if err != nil {
		return models.Value{}, decodeError(err)
	}

	// Anything but whitespace after the first value is rejected
	if decoder.More() {
		return models.Value{}, errors.NewParsingError(
			fmt.Sprintf("unexpected data at offset %d after the first JSON value", decoder.InputOffset()),
			errors.ErrTrailingData,
		)
	}
	if _, err := decoder.Token(); !stderrors.Is(err, io.EOF) {
		return models.Value{}, errors.NewParsingError("unexpected data after the first JSON value", errors.ErrTrailingData)
	}
	return value, nil
}

func decodeError(err error) error {
	var syntaxError *json.SyntaxError
	if stderrors.As(err, &syntaxError) {
		return errors.NewParsingError(
			fmt.Sprintf("JSON syntax error at offset %d: %s", syntaxError.Offset, syntaxError.Error()),
			errors.ErrInvalidJSON,
		)
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.NewParsingError("unexpected end of JSON input", errors.ErrInvalidJSON)
	}
	return errors.NewParsingError("failed to decode JSON", err)
}

// nextToken reads a token that must exist; the stream ending here means the
// document is truncated.
func nextToken(decoder *json.Decoder) (json.Token, error) {
	tok, err := decoder.Token()
	if stderrors.Is(err, io.EOF) {
		return nil, io.ErrUnexpectedEOF
	}
	return tok, err
}

// readValue builds the value that starts with tok
func readValue(decoder *json.Decoder, tok json.Token) (models.Value, error) {
	switch t := tok.(type) {
	case nil:
		return models.NewNull(), nil
	case bool:
		return models.NewBool(t), nil
	case json.Number:
		return convertNumber(t.String())
	case string:
		return models.NewString(t), nil
	case json.Delim:
		switch t {
		case '[':
			return readArray(decoder)
		case '{':
			return readObject(decoder)
		}
	}
	return models.Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

func readArray(decoder *json.Decoder) (models.Value, error) {
	items := []models.Value{}
	for decoder.More() {
		tok, err := nextToken(decoder)
		if err != nil {
			return models.Value{}, err
		}
		item, err := readValue(decoder, tok)
		if err != nil {
			return models.Value{}, err
		}
		items = append(items, item)
	}
	if _, err := nextToken(decoder); err != nil {
		return models.Value{}, err
	}
	return models.NewArray(items...), nil
}

func readObject(decoder *json.Decoder) (models.Value, error) {
	members := []models.Member{}
	// duplicate keys keep their first position and their last value
	index := make(map[string]int)
	for decoder.More() {
		tok, err := nextToken(decoder)
		if err != nil {
			return models.Value{}, err
		}
		name, ok := tok.(string)
		if !ok {
			return models.Value{}, fmt.Errorf("unexpected object key %v", tok)
		}
		tok, err = nextToken(decoder)
		if err != nil {
			return models.Value{}, err
		}
		child, err := readValue(decoder, tok)
		if err != nil {
			return models.Value{}, err
		}
		if i, ok := index[name]; ok {
			members[i].Value = child
			continue
		}
		index[name] = len(members)
		members = append(members, models.Member{Key: name, Value: child})
	}
	if _, err := nextToken(decoder); err != nil {
		return models.Value{}, err
	}
	return models.NewObject(members...), nil
}

// convertNumber keeps integral literals that fit in an int64 as integers,
// everything else becomes a float.
func convertNumber(lit string) (models.Value, error) {
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return models.NewInt(i), nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		var numErr *strconv.NumError
		// out of range literals still yield ±Inf or 0, which is what we keep
		if !stderrors.As(err, &numErr) || numErr.Err != strconv.ErrRange {
			return models.Value{}, err
		}
	}
	return models.NewFloat(f), nil
}

// ParseLines reads JSON Lines from r. Blank lines are skipped; the first
// malformed line aborts the whole read and nothing is returned.
func ParseLines(r io.Reader) ([]models.Value, error) {
	var values []models.Value
	err := EachLine(r, func(_ int, v models.Value) error {
		values = append(values, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// EachLine parses r line by line and calls fn with the 1-based line number
// and parsed value of every non-blank line.
func EachLine(r io.Reader, fn func(line int, v models.Value) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		v, err := Parse(line)
		if err != nil {
			var appErr *errors.AppError
			if stderrors.As(err, &appErr) {
				return errors.NewParsingError(
					fmt.Sprintf("line %d: %s: %q", lineNo, appErr.Message, snippet(string(line))),
					appErr.Err,
				)
			}
			return err
		}
		if err := fn(lineNo, v); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.NewInputError(fmt.Sprintf("failed to read line %d", lineNo+1), err)
	}
	return nil
}

// ParseString parses JSON Lines held in a string
func ParseString(jsonl string) ([]models.Value, error) {
	return ParseLines(strings.NewReader(jsonl))
}

// ParseReader parses JSON Lines from r, decompressing it first when it
// starts with a known compression header.
func ParseReader(r io.Reader) (values []models.Value, err error) {
	reader, decoder, _, err := compression.NewReader(r)
	if err != nil {
		return nil, errors.NewInputError("failed to read input", err)
	}
	defer func() {
		err = multierr.Append(err, closeInput(decoder, "input"))
		if err != nil {
			values = nil
		}
	}()
	return ParseLines(reader)
}

// ParseFile parses a JSON Lines file. gzip, zstd and lz4 compressed files
// are decompressed transparently.
func ParseFile(filePath string) (values []models.Value, err error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, errors.NewInputError("file path is empty", errors.ErrInvalidFilePath)
	}
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewInputError(
				fmt.Sprintf("file '%s' not found", filePath),
				errors.ErrFileNotFound,
			)
		}
		return nil, errors.NewInputError(
			fmt.Sprintf("failed to open file '%s'", filePath),
			err,
		)
	}
	defer func() {
		err = multierr.Append(err, closeInput(file, filePath))
		if err != nil {
			values = nil
		}
	}()

	reader, decoder, _, err := compression.NewReader(file)
	if err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("failed to read file '%s'", filePath), err)
	}
	defer func() {
		err = multierr.Append(err, closeInput(decoder, filePath))
	}()

	values, err = ParseLines(reader)
	if err != nil {
		return nil, err
	}
	return values, nil
}

func closeInput(c io.Closer, filePath string) error {
	if err := c.Close(); err != nil {
		return errors.NewInputError(fmt.Sprintf("failed to close '%s'", filePath), err)
	}
	return nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetLen {
		return s
	}
	return s[:snippetLen] + "..."
}
