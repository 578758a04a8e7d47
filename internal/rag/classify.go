package rag

import "strings"

// Classify tags a retrieved passage for the asking query.
//
// The tag depends on the query as much as on the passage: the same HR row is
// tagged HR for "who runs the north region?" and General for "list regions".
// Matching is literal substring matching on the lower-cased query, so "hr"
// also matches inside words such as "three". Both behaviours are relied on by
// the prompt assembler and must not be "fixed" here.
func Classify(query, text string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(text, "HR Record") && (strings.Contains(q, "hr") || strings.Contains(q, "who")):
		return TypeHR
	case strings.Contains(text, "Sales Record") && strings.Contains(q, "sales"):
		return TypeSales
	default:
		return TypeGeneral
	}
}
