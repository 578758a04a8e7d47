package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbrag-go/internal/rag"
	"github.com/54b3r/kbrag-go/internal/store"
)

// fakeModel records the prompt it was given and answers with a fixed reply.
type fakeModel struct {
	mu     sync.Mutex
	prompt []*schema.Message
	reply  string
	err    error
}

func (m *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = input
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type fakeRetriever struct {
	results []rag.Result
	err     error
	query   string
	topK    int
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, topK int) ([]rag.Result, error) {
	r.query, r.topK = query, topK
	return r.results, r.err
}

// memoryHistory is an in-memory ConversationStore.
type memoryHistory struct {
	mu   sync.Mutex
	msgs map[string][]store.Message
}

func (h *memoryHistory) Append(_ context.Context, session string, msgs ...store.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.msgs == nil {
		h.msgs = make(map[string][]store.Message)
	}
	h.msgs[session] = append(h.msgs[session], msgs...)
	return nil
}

func (h *memoryHistory) Recent(_ context.Context, session string, n int) ([]store.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.msgs[session]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]store.Message(nil), msgs...), nil
}

func (h *memoryHistory) Clear(_ context.Context, session string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.msgs, session)
	return nil
}

var leavePolicy = []rag.Result{
	{Type: "KBEntry", Content: "title : Leave Policy, content : 20 days of paid leave per year.", Distance: 0.1},
	{Type: "HRRecord", Content: "HR Record: Name - A, Position - Manager, ", Distance: 0.4},
}

func TestNew_RequiresModelAndRetriever(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Retriever: &fakeRetriever{}}); err == nil {
		t.Error("nil model: want error")
	}
	if _, err := New(Config{Model: &fakeModel{}}); err == nil {
		t.Error("nil retriever: want error")
	}
}

func TestGenerate_SingleMessage(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "You get 20 days."}
	r := &fakeRetriever{results: leavePolicy}
	a, err := New(Config{Model: m, Retriever: r})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := a.Generate(t.Context(), Request{Message: "  how much leave do I get? "})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Answer != "You get 20 days." || len(resp.Sources) != 2 {
		t.Errorf("response: %+v", resp)
	}
	if r.query != "how much leave do I get?" || r.topK != defaultTopK {
		t.Errorf("retrieve called with %q top_k=%d", r.query, r.topK)
	}

	if len(m.prompt) != 2 {
		t.Fatalf("prompt: want 2 messages, got %d", len(m.prompt))
	}
	if m.prompt[0].Role != schema.System || !strings.HasPrefix(m.prompt[0].Content, "Context: [KBEntry] title : Leave Policy") {
		t.Errorf("context message: %+v", m.prompt[0])
	}
	if !strings.Contains(m.prompt[0].Content, "\n[HRRecord] HR Record") {
		t.Errorf("second passage missing: %q", m.prompt[0].Content)
	}
	if m.prompt[1].Role != schema.User || m.prompt[1].Content != "how much leave do I get?" {
		t.Errorf("question: %+v", m.prompt[1])
	}
}

func TestGenerate_MessageListAppendsContext(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "ok"}
	a, _ := New(Config{Model: m, Retriever: &fakeRetriever{results: leavePolicy}, TopK: 3})

	msgs := []*schema.Message{
		schema.UserMessage("hi"),
		schema.AssistantMessage("hello", nil),
		schema.UserMessage("leave policy?"),
	}
	if _, err := a.Generate(t.Context(), Request{Messages: msgs}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(m.prompt) != 4 {
		t.Fatalf("prompt: want 4 messages, got %d", len(m.prompt))
	}
	if m.prompt[2].Content != "leave policy?" || m.prompt[3].Role != schema.System {
		t.Errorf("want question followed by context, got %+v %+v", m.prompt[2], m.prompt[3])
	}
	if msgs[2].Content != "leave policy?" || len(msgs) != 3 {
		t.Error("caller's messages were modified")
	}
}

func TestGenerate_EmptyInput(t *testing.T) {
	t.Parallel()
	a, _ := New(Config{Model: &fakeModel{}, Retriever: &fakeRetriever{}})

	tests := []struct {
		name string
		req  Request
	}{
		{name: "blank message", req: Request{Message: "   "}},
		{name: "last message not user", req: Request{Messages: []*schema.Message{schema.AssistantMessage("x", nil)}}},
		{name: "last message empty", req: Request{Messages: []*schema.Message{schema.UserMessage("")}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := a.Generate(t.Context(), tc.req); !errors.Is(err, rag.ErrEmptyInput) {
				t.Errorf("want ErrEmptyInput, got %v", err)
			}
		})
	}
}

func TestGenerate_PropagatesFailures(t *testing.T) {
	t.Parallel()

	a, _ := New(Config{Model: &fakeModel{}, Retriever: &fakeRetriever{err: rag.ErrBackendUnavailable}})
	if _, err := a.Generate(t.Context(), Request{Message: "q"}); !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Errorf("retrieve failure: got %v", err)
	}

	boom := errors.New("boom")
	a, _ = New(Config{Model: &fakeModel{err: boom}, Retriever: &fakeRetriever{}})
	if _, err := a.Generate(t.Context(), Request{Message: "q"}); !errors.Is(err, boom) {
		t.Errorf("model failure: got %v", err)
	}
}

func TestGenerate_EmptyIndexStillAnswers(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "I don't know."}
	a, _ := New(Config{Model: m, Retriever: &fakeRetriever{results: []rag.Result{}}})

	resp, err := a.Generate(t.Context(), Request{Message: "anything"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.Sources) != 0 || m.prompt[0].Content != "Context: no matching records." {
		t.Errorf("resp=%+v context=%q", resp, m.prompt[0].Content)
	}
}

func TestGenerate_PassageBudgetDropsTail(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 400)
	results := []rag.Result{
		{Type: "General", Content: long},
		{Type: "General", Content: long},
		{Type: "General", Content: long},
	}
	m := &fakeModel{reply: "ok"}
	a, _ := New(Config{Model: m, Retriever: &fakeRetriever{results: results}, MaxPassageTokens: 210})

	resp, err := a.Generate(t.Context(), Request{Message: "q"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources: want 2 within budget, got %d", len(resp.Sources))
	}
}

func TestGenerate_SessionHistory(t *testing.T) {
	t.Parallel()
	h := &memoryHistory{}
	m := &fakeModel{reply: "first answer"}
	a, _ := New(Config{Model: m, Retriever: &fakeRetriever{results: leavePolicy}, History: h})

	if _, err := a.Generate(t.Context(), Request{Message: "first", SessionID: "s1"}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	m.reply = "second answer"
	if _, err := a.Generate(t.Context(), Request{Message: "second", SessionID: "s1"}); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	// context, first, first answer, second
	if len(m.prompt) != 4 {
		t.Fatalf("prompt: want 4 messages, got %d", len(m.prompt))
	}
	if m.prompt[1].Content != "first" || m.prompt[2].Role != schema.Assistant || m.prompt[3].Content != "second" {
		t.Errorf("history order: %+v", m.prompt)
	}

	stored, _ := h.Recent(t.Context(), "s1", 10)
	if len(stored) != 4 || stored[3].Content != "second answer" {
		t.Errorf("stored: %+v", stored)
	}

	// Other sessions are isolated.
	if _, err := a.Generate(t.Context(), Request{Message: "other", SessionID: "s2"}); err != nil {
		t.Fatalf("other session: %v", err)
	}
	if len(m.prompt) != 2 {
		t.Errorf("new session should start empty, prompt=%d", len(m.prompt))
	}
}
