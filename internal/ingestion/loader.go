package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// maxLineBytes bounds a single JSON-lines record.
const maxLineBytes = 1 << 20

// RawRecord is one record as produced by a Loader, before normalization.
type RawRecord struct {
	// Source names the loader or file the record came from.
	Source string
	// Index is the zero-based record position within Source.
	Index int
	// Value is a Row, map[string]any, KBEntry or pre-normalized string.
	Value any
	// Err is set when the loader could not decode this record. The
	// pipeline skips such records instead of aborting.
	Err error
}

// Loader reads raw corpus records from one source.
type Loader interface {
	// Name identifies the source in logs, usually a file path.
	Name() string
	// Type is the record type the source holds; SourceAuto to infer it.
	Type() SourceType
	// Load reads every record. It fails only on I/O errors; per-record
	// decoding problems are reported through RawRecord.Err.
	Load(ctx context.Context) ([]RawRecord, error)
}

// CSVLoader reads a CSV file whose first row is the header. Each data row
// becomes a Row with the header's column order.
type CSVLoader struct {
	Path       string
	SourceType SourceType
}

func (l *CSVLoader) Name() string     { return l.Path }
func (l *CSVLoader) Type() SourceType { return l.SourceType }

// Load implements Loader.
func (l *CSVLoader) Load(ctx context.Context) ([]RawRecord, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", l.Path, err)
	}
	defer f.Close()
	return readCSV(ctx, l.Path, f)
}

func readCSV(ctx context.Context, source string, r io.Reader) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: read CSV header of %s: %w", source, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	var out []RawRecord
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rec := RawRecord{Source: source, Index: i}
		var parseErr *csv.ParseError
		switch {
		case errors.As(err, &parseErr):
			rec.Err = &MalformedRecordError{Source: source, Index: i, Reason: parseErr.Err.Error()}
		case err != nil:
			return nil, fmt.Errorf("ingestion: read CSV %s: %w", source, err)
		case len(record) != len(header):
			rec.Err = &MalformedRecordError{
				Source: source,
				Index:  i,
				Reason: fmt.Sprintf("row has %d fields, header has %d", len(record), len(header)),
			}
		default:
			row := make(Row, len(header))
			for j, col := range header {
				row[j] = Field{Column: col, Value: record[j]}
			}
			rec.Value = row
		}
		out = append(out, rec)
	}
	return out, nil
}

// JSONLinesLoader reads one JSON object per line. Object keys keep their
// document order. Blank lines are ignored; any other non-object line is
// reported as malformed.
//
// For General sources, an object holding exactly "title" and "content"
// is read as a KBEntry.
type JSONLinesLoader struct {
	Path       string
	SourceType SourceType
}

func (l *JSONLinesLoader) Name() string     { return l.Path }
func (l *JSONLinesLoader) Type() SourceType { return l.SourceType }

// Load implements Loader.
func (l *JSONLinesLoader) Load(ctx context.Context) ([]RawRecord, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", l.Path, err)
	}
	defer f.Close()
	return readJSONLines(ctx, l.Path, l.SourceType, f)
}

func readJSONLines(ctx context.Context, source string, t SourceType, r io.Reader) ([]RawRecord, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var out []RawRecord
	idx := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, oversized, err := readLine(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ingestion: read %s: %w", source, err)
		}
		eof := err != nil

		line := strings.TrimSpace(string(raw))
		if oversized || line != "" {
			rec := RawRecord{Source: source, Index: idx}
			idx++

			switch parsed := gjson.Parse(line); {
			case oversized:
				rec.Err = &MalformedRecordError{Source: source, Index: rec.Index, Reason: fmt.Sprintf("line exceeds %d bytes", maxLineBytes)}
			case !gjson.Valid(line):
				rec.Err = &MalformedRecordError{Source: source, Index: rec.Index, Reason: "invalid JSON"}
			case !parsed.IsObject():
				rec.Err = &MalformedRecordError{Source: source, Index: rec.Index, Reason: "line is not a JSON object"}
			default:
				rec.Value = objectValue(parsed, t)
			}
			out = append(out, rec)
		}
		if eof {
			return out, nil
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed up to its newline and reported as oversized with
// no content.
func readLine(br *bufio.Reader) (line []byte, oversized bool, err error) {
	for {
		frag, err := br.ReadSlice('\n')
		if !oversized {
			if len(line)+len(bytes.TrimRight(frag, "\r\n")) > maxLineBytes {
				oversized, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, oversized, err
	}
}

// objectValue converts a parsed JSON object into a Row, or a KBEntry for
// title/content objects from General sources.
func objectValue(obj gjson.Result, t SourceType) any {
	var row Row
	obj.ForEach(func(key, value gjson.Result) bool {
		row = append(row, Field{Column: key.String(), Value: scalar(value)})
		return true
	})

	if (t == SourceGeneral || t == SourceAuto) && len(row) == 2 {
		title, content := obj.Get("title"), obj.Get("content")
		if title.Type == gjson.String && content.Type == gjson.String {
			return KBEntry{Title: title.Str, Content: content.Str}
		}
	}
	return row
}

// scalar renders a JSON value the way it appears in normalized text.
// Numbers keep their literal form; nested values stay raw JSON.
func scalar(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.String:
		return v.Str
	case gjson.True, gjson.False:
		return v.Bool()
	default:
		return v.Raw
	}
}

// StaticLoader serves in-memory records, such as the built-in FAQ.
type StaticLoader struct {
	Label      string
	SourceType SourceType
	Records    []any
}

func (l *StaticLoader) Name() string     { return l.Label }
func (l *StaticLoader) Type() SourceType { return l.SourceType }

// Load implements Loader.
func (l *StaticLoader) Load(_ context.Context) ([]RawRecord, error) {
	out := make([]RawRecord, len(l.Records))
	for i, r := range l.Records {
		out[i] = RawRecord{Source: l.Label, Index: i, Value: r}
	}
	return out, nil
}

// DefaultFAQ returns the built-in knowledge-base articles.
func DefaultFAQ() []any {
	return []any{
		KBEntry{Title: "How do I reset my email password?", Content: "Visit the IT portal and click 'Forgot Password.'"},
		KBEntry{Title: "What is the reimbursement process?", Content: "Submit receipts on the Finance portal under 'Reimbursements'."},
		KBEntry{Title: "Password Reset", Content: "To reset your password, go to the IT portal and click 'Forgot Password'."},
		KBEntry{Title: "Reimbursement Process", Content: "Submit your receipts on the Finance portal under 'Reimbursements'."},
		KBEntry{Title: "Leave Policy", Content: "The company offers 20 days of paid leave per year."},
	}
}
