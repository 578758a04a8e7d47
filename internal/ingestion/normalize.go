package ingestion

import (
	"fmt"
	"slices"
	"strings"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// SourceType names the kind of structured record a text was produced from.
// It is encoded in the text itself as a "<Type> Record: " prefix.
type SourceType int

const (
	// SourceAuto asks the pipeline to infer the type from the source name.
	// Normalize treats it as SourceGeneral.
	SourceAuto SourceType = iota
	SourceGeneral
	SourceSales
	SourceHR
	SourceCustomer
	SourceOrder
	SourceProduct
)

var sourceTypeNames = map[SourceType]string{
	SourceAuto:     "auto",
	SourceGeneral:  "General",
	SourceSales:    "Sales",
	SourceHR:       "HR",
	SourceCustomer: "Customer",
	SourceOrder:    "Order",
	SourceProduct:  "Product",
}

// String returns the record prefix word ("Sales", "HR", ...).
func (t SourceType) String() string {
	if s, ok := sourceTypeNames[t]; ok {
		return s
	}
	return "General"
}

// ParseSourceType parses a case-insensitive type name. The empty string
// parses as SourceAuto.
func ParseSourceType(s string) (SourceType, error) {
	if strings.TrimSpace(s) == "" {
		return SourceAuto, nil
	}
	for t, name := range sourceTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return SourceAuto, fmt.Errorf("ingestion: unknown source type %q", s)
}

// prefix returns "<Type> Record: ".
func (t SourceType) prefix() string {
	if t == SourceAuto {
		t = SourceGeneral
	}
	return t.String() + " Record: "
}

// SourceTypeOf returns the type encoded by a normalized text's prefix, or
// SourceGeneral when the text carries none.
func SourceTypeOf(text string) SourceType {
	for _, t := range []SourceType{SourceSales, SourceHR, SourceCustomer, SourceOrder, SourceProduct, SourceGeneral} {
		if strings.HasPrefix(text, t.prefix()) {
			return t
		}
	}
	return SourceGeneral
}

// Field is one column of a structured row.
type Field struct {
	Column string
	Value  any
}

// Row is a structured record with its columns in declared order.
type Row []Field

// KBEntry is a knowledge-base article.
type KBEntry struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// MalformedRecordError reports a raw record that could not be normalized.
// It matches rag.ErrMalformedRecord under errors.Is.
type MalformedRecordError struct {
	// Source names the loader or file the record came from.
	Source string
	// Index is the zero-based record position within Source.
	Index int
	// Reason describes what was wrong.
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("malformed record: %s", e.Reason)
	}
	return fmt.Sprintf("malformed record %s[%d]: %s", e.Source, e.Index, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return rag.ErrMalformedRecord }

// Normalize flattens a raw record into the single text form stored in the
// index:
//
//	Row / map[string]any  "<Type> Record: col - val, col2 - val2, "
//	KBEntry               "title : <title>, content : <content>"
//	string                returned unchanged (already normalized)
//
// Map keys are emitted in sorted order. nil values render as "null".
// The trailing ", " after the last field is part of the stored form.
func Normalize(t SourceType, raw any) (string, error) {
	switch v := raw.(type) {
	case Row:
		return formatRow(t, v), nil
	case []Field:
		return formatRow(t, Row(v)), nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		row := make(Row, 0, len(keys))
		for _, k := range keys {
			row = append(row, Field{Column: k, Value: v[k]})
		}
		return formatRow(t, row), nil
	case KBEntry:
		return "title : " + v.Title + ", content : " + v.Content, nil
	case *KBEntry:
		if v == nil {
			return "", &MalformedRecordError{Reason: "nil knowledge-base entry"}
		}
		return Normalize(t, *v)
	case string:
		if strings.TrimSpace(v) == "" {
			return "", &MalformedRecordError{Reason: "empty text"}
		}
		return v, nil
	case nil:
		return "", &MalformedRecordError{Reason: "nil record"}
	default:
		return "", &MalformedRecordError{Reason: fmt.Sprintf("unsupported record type %T", raw)}
	}
}

func formatRow(t SourceType, row Row) string {
	var b strings.Builder
	b.WriteString(t.prefix())
	for _, f := range row {
		b.WriteString(f.Column)
		b.WriteString(" - ")
		b.WriteString(formatValue(f.Value))
		b.WriteString(", ")
	}
	return b.String()
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}
