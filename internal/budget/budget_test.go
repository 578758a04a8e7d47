package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestEstimate(t *testing.T) {
	t.Parallel()
	for input, want := range map[string]int{
		"":                        0,
		"a":                       1,
		"abcd":                    1,
		"abcde":                   2,
		"HR Record: ":             3,
		"Müller":                  2,
		strings.Repeat("x", 400):  100,
		strings.Repeat("é", 400):  100,
		strings.Repeat("x", 4001): 1001,
	} {
		if got := Estimate(input); got != want {
			t.Errorf("Estimate(%.12q) = %d, want %d", input, got, want)
		}
	}
}

func TestEstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.SystemMessage("Context: x"), // 4 + Estimate("system")=2 + Estimate("Context: x")=3
		schema.UserMessage("who?"),         // 4 + 1 + 1
	}
	if got := EstimateMessages(msgs); got != 15 {
		t.Errorf("EstimateMessages = %d, want 15", got)
	}
}

func TestNewWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		max, passages    int
		wantMax, wantPsg int
	}{
		{name: "defaults", wantMax: DefaultMaxContextTokens, wantPsg: DefaultMaxPassageTokens},
		{name: "explicit", max: 2000, passages: 500, wantMax: 2000, wantPsg: 500},
		{name: "passage cap clamped to window", max: 1000, wantMax: 1000, wantPsg: 1000},
		{name: "negative uses defaults", max: -1, passages: -1, wantMax: DefaultMaxContextTokens, wantPsg: DefaultMaxPassageTokens},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := NewWindow(tc.max, tc.passages)
			if w.MaxTokens != tc.wantMax || w.MaxPassageTokens != tc.wantPsg {
				t.Errorf("got %+v, want max=%d passages=%d", w, tc.wantMax, tc.wantPsg)
			}
		})
	}
}

func TestWindow_FitPassages(t *testing.T) {
	t.Parallel()
	p := func(tokens int) string { return strings.Repeat("x", tokens*charsPerToken) }

	tests := []struct {
		name        string
		passages    []string
		max         int
		wantKept    int
		wantDropped int
	}{
		{name: "empty", passages: nil, max: 10},
		{name: "all fit", passages: []string{p(3), p(3), p(3)}, max: 9, wantKept: 3},
		{name: "tail cut", passages: []string{p(5), p(4), p(3)}, max: 9, wantKept: 2, wantDropped: 1},
		{name: "stops at first overflow", passages: []string{p(5), p(10), p(1)}, max: 9, wantKept: 1, wantDropped: 2},
		{name: "oversized top passage kept", passages: []string{p(50), p(1)}, max: 9, wantKept: 1, wantDropped: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := Window{MaxTokens: 100, MaxPassageTokens: tc.max}
			kept, dropped := w.FitPassages(tc.passages)
			if len(kept) != tc.wantKept || dropped != tc.wantDropped {
				t.Errorf("kept=%d dropped=%d, want kept=%d dropped=%d", len(kept), dropped, tc.wantKept, tc.wantDropped)
			}
		})
	}
}

func TestWindow_TrimHistory(t *testing.T) {
	t.Parallel()

	// Each of these costs 4 + Estimate("user")=1 + 1 = 6 tokens.
	history := []*schema.Message{
		schema.UserMessage("old"),
		schema.UserMessage("mid"),
		schema.UserMessage("new"),
	}
	question := []*schema.Message{schema.UserMessage("now?")} // 6 tokens

	tests := []struct {
		name      string
		max       int
		fixed     []*schema.Message
		history   []*schema.Message
		wantFirst string
		wantLen   int
	}{
		{name: "everything fits", max: 100, fixed: question, history: history, wantLen: 3, wantFirst: "old"},
		{name: "oldest dropped", max: 18, fixed: question, history: history, wantLen: 2, wantFirst: "mid"},
		{name: "exact fit", max: 24, fixed: question, history: history, wantLen: 3, wantFirst: "old"},
		{name: "no fixed", max: 7, history: history, wantLen: 1, wantFirst: "new"},
		{name: "fixed exceeds window", max: 5, fixed: question, history: history},
		{name: "no history", max: 100, fixed: question},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Window{MaxTokens: tc.max}.TrimHistory(tc.fixed, tc.history)
			if len(got) != tc.wantLen {
				t.Fatalf("want %d messages, got %d", tc.wantLen, len(got))
			}
			if tc.wantLen > 0 && got[0].Content != tc.wantFirst {
				t.Errorf("window starts at %q, want %q", got[0].Content, tc.wantFirst)
			}
		})
	}
}
