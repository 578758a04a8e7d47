package ingestion

import (
	"path/filepath"
	"strings"
)

// Source file formats understood by NewLoader.
const (
	FormatCSV       = "csv"
	FormatJSONLines = "jsonl"
)

// InferredMetadata holds the record type and file format inferred from a
// corpus file name. Explicit configuration takes precedence; this is the
// best-effort fallback when a source omits them.
type InferredMetadata struct {
	// Type is the record type (SourceGeneral when nothing matches).
	Type SourceType
	// Format is FormatCSV or FormatJSONLines, empty when unknown.
	Format string
}

// fileTypeAliases maps lower-case file-name tokens to record types. Tokens
// are matched in both singular and plural form.
var fileTypeAliases = map[string]SourceType{
	"customer":  SourceCustomer,
	"client":    SourceCustomer,
	"order":     SourceOrder,
	"purchase":  SourceOrder,
	"product":   SourceProduct,
	"catalog":   SourceProduct,
	"sales":     SourceSales,
	"sale":      SourceSales,
	"revenue":   SourceSales,
	"hr":        SourceHR,
	"employee":  SourceHR,
	"staff":     SourceHR,
	"personnel": SourceHR,
	"faq":       SourceGeneral,
	"kb":        SourceGeneral,
	"knowledge": SourceGeneral,
}

// formatAliases maps file extensions to formats.
var formatAliases = map[string]string{
	".csv":    FormatCSV,
	".jsonl":  FormatJSONLines,
	".ndjson": FormatJSONLines,
	".json":   FormatJSONLines,
}

// InferMetadata inspects a corpus file path and returns best-effort
// metadata. The base name is split on separators and each token is looked
// up in turn, so "data_storage/hr_database.jsonl" yields HR / jsonl and
// "customers.csv" yields Customer / csv.
func InferMetadata(path string) InferredMetadata {
	m := InferredMetadata{Type: SourceGeneral}

	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	m.Format = formatAliases[ext]

	for _, tok := range nameTokens(strings.TrimSuffix(base, ext)) {
		if t, ok := fileTypeAliases[tok]; ok {
			m.Type = t
			return m
		}
		if t, ok := fileTypeAliases[strings.TrimSuffix(tok, "s")]; ok {
			m.Type = t
			return m
		}
	}
	return m
}

// nameTokens splits a file stem into non-empty tokens on '_', '-', '.' and
// spaces.
func nameTokens(stem string) []string {
	return strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
}
