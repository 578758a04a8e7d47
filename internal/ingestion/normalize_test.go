package ingestion

import (
	"errors"
	"testing"

	"github.com/54b3r/kbrag-go/internal/rag"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  SourceType
		raw  any
		want string
	}{
		{
			name: "sales row keeps column order and trailing separator",
			typ:  SourceSales,
			raw: Row{
				{Column: "Region", Value: "North"},
				{Column: "Product", Value: "Widget"},
				{Column: "Q1 2023 Sales", Value: 100},
			},
			want: "Sales Record: Region - North, Product - Widget, Q1 2023 Sales - 100, ",
		},
		{
			name: "hr row",
			typ:  SourceHR,
			raw:  []Field{{Column: "Name", Value: "A"}, {Column: "Position", Value: "Manager"}},
			want: "HR Record: Name - A, Position - Manager, ",
		},
		{
			name: "map uses sorted keys",
			typ:  SourceCustomer,
			raw:  map[string]any{"name": "Ada", "id": 7},
			want: "Customer Record: id - 7, name - Ada, ",
		},
		{
			name: "nil value renders null",
			typ:  SourceOrder,
			raw:  Row{{Column: "shipped", Value: nil}},
			want: "Order Record: shipped - null, ",
		},
		{
			name: "auto type falls back to General prefix",
			typ:  SourceAuto,
			raw:  Row{{Column: "k", Value: "v"}},
			want: "General Record: k - v, ",
		},
		{
			name: "knowledge base entry",
			typ:  SourceGeneral,
			raw:  KBEntry{Title: "Leave Policy", Content: "20 days"},
			want: "title : Leave Policy, content : 20 days",
		},
		{
			name: "knowledge base pointer",
			typ:  SourceGeneral,
			raw:  &KBEntry{Title: "T", Content: "C"},
			want: "title : T, content : C",
		},
		{
			name: "pre-normalized text passes through",
			typ:  SourceProduct,
			raw:  "Product Record: sku - 1, ",
			want: "Product Record: sku - 1, ",
		},
		{
			name: "empty row is prefix only",
			typ:  SourceProduct,
			raw:  Row{},
			want: "Product Record: ",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tc.typ, tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []any{nil, 42, []string{"a"}, "   ", (*KBEntry)(nil)} {
		_, err := Normalize(SourceSales, raw)
		if !errors.Is(err, rag.ErrMalformedRecord) {
			t.Errorf("Normalize(%#v): want ErrMalformedRecord, got %v", raw, err)
		}
		var mre *MalformedRecordError
		if !errors.As(err, &mre) {
			t.Errorf("Normalize(%#v): want *MalformedRecordError, got %T", raw, err)
		}
	}
}

func TestSourceTypeOf(t *testing.T) {
	t.Parallel()

	tests := map[string]SourceType{
		"Sales Record: Region - North, ":  SourceSales,
		"HR Record: Name - A, ":           SourceHR,
		"Customer Record: id - 1, ":       SourceCustomer,
		"Order Record: id - 1, ":          SourceOrder,
		"Product Record: sku - 1, ":       SourceProduct,
		"title : Leave Policy, content : ": SourceGeneral,
		"sales record: lower case":        SourceGeneral,
	}
	for text, want := range tests {
		if got := SourceTypeOf(text); got != want {
			t.Errorf("SourceTypeOf(%q): want %s, got %s", text, want, got)
		}
	}
}

func TestNormalize_RoundTripsSourceType(t *testing.T) {
	t.Parallel()
	for _, typ := range []SourceType{SourceGeneral, SourceSales, SourceHR, SourceCustomer, SourceOrder, SourceProduct} {
		text, err := Normalize(typ, Row{{Column: "a", Value: 1}})
		if err != nil {
			t.Fatalf("normalize %s: %v", typ, err)
		}
		if got := SourceTypeOf(text); got != typ {
			t.Errorf("%s: SourceTypeOf returned %s", typ, got)
		}
	}
}

func TestParseSourceType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    SourceType
		wantErr bool
	}{
		{in: "", want: SourceAuto},
		{in: "sales", want: SourceSales},
		{in: "HR", want: SourceHR},
		{in: "Product", want: SourceProduct},
		{in: "auto", want: SourceAuto},
		{in: "invoices", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseSourceType(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseSourceType(%q): err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSourceType(%q): want %s, got %s", tc.in, tc.want, got)
		}
	}
}
