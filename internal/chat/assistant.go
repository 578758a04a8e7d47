// Package chat answers questions grounded on retrieved passages. Each turn
// retrieves context for the latest user message, injects it as a
// "Context: ..." system message, and calls the configured chat model.
// Conversations keyed by a session id are persisted so later turns carry
// their history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbrag-go/internal/budget"
	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
	"github.com/54b3r/kbrag-go/internal/store"
)

const (
	// defaultTopK is the number of passages retrieved per turn.
	defaultTopK = 8
	// defaultHistoryTurns is the number of stored messages loaded per session.
	defaultHistoryTurns = 20
)

// Config holds the dependencies and limits of an Assistant.
type Config struct {
	// Model is the chat model. Required.
	Model model.BaseChatModel
	// Retriever supplies context passages. Required.
	Retriever rag.Retriever
	// History persists session turns. Optional; sessions are stateless without it.
	History store.ConversationStore
	// TopK is the number of passages retrieved per turn (default: 8).
	TopK int
	// HistoryTurns is the number of stored messages loaded per session (default: 20).
	HistoryTurns int
	// MaxContextTokens is the total prompt budget (default: budget.DefaultMaxContextTokens).
	MaxContextTokens int
	// MaxPassageTokens caps the context block (default: budget.DefaultMaxPassageTokens).
	MaxPassageTokens int
}

// Assistant runs grounded chat turns. It is safe for concurrent use.
type Assistant struct {
	model     model.BaseChatModel
	retriever rag.Retriever
	history   store.ConversationStore

	topK         int
	historyTurns int
	window       budget.Window
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Assistant, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("chat: model must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("chat: retriever must not be nil")
	}
	a := &Assistant{
		model:        cfg.Model,
		retriever:    cfg.Retriever,
		history:      cfg.History,
		topK:         cfg.TopK,
		historyTurns: cfg.HistoryTurns,
		window:       budget.NewWindow(cfg.MaxContextTokens, cfg.MaxPassageTokens),
	}
	if a.topK <= 0 {
		a.topK = defaultTopK
	}
	if a.historyTurns <= 0 {
		a.historyTurns = defaultHistoryTurns
	}
	return a, nil
}

// Request is one generate call. Either Message or Messages is set.
type Request struct {
	// Message is a single question. Session history is loaded and saved
	// when SessionID is also set.
	Message string
	// SessionID keys persisted history for Message requests.
	SessionID string
	// Messages is a caller-managed conversation. Its last entry must be a
	// user message; nothing is persisted.
	Messages []*schema.Message
}

// Response is the model's answer with the passages it was grounded on.
type Response struct {
	Answer  string       `json:"response"`
	Sources []rag.Result `json:"sources"`
}

// Generate runs one grounded turn.
func (a *Assistant) Generate(ctx context.Context, req Request) (*Response, error) {
	log := logging.FromContext(ctx)

	question, prior, err := a.split(ctx, req)
	if err != nil {
		return nil, err
	}

	results, err := a.retriever.Retrieve(ctx, question, a.topK)
	if err != nil {
		return nil, fmt.Errorf("chat: retrieve context: %w", err)
	}
	contextMsg, used := a.contextMessage(ctx, results)

	// A single question gets the context first; a caller-supplied
	// conversation gets it appended after the user's last turn.
	userMsg := schema.UserMessage(question)
	fixed := []*schema.Message{contextMsg, userMsg}
	history := a.window.TrimHistory(fixed, prior)
	if len(history) < len(prior) {
		log.Info("chat: trimmed history to fit context budget",
			slog.Int("dropped", len(prior)-len(history)),
		)
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	if len(req.Messages) > 0 {
		msgs = append(msgs, history...)
		msgs = append(msgs, userMsg, contextMsg)
	} else {
		msgs = append(msgs, contextMsg)
		msgs = append(msgs, history...)
		msgs = append(msgs, userMsg)
	}

	out, err := a.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("chat: generate: %w", err)
	}
	if out == nil {
		return nil, errors.New("chat: generate: model returned no message")
	}

	if req.SessionID != "" && a.history != nil && len(req.Messages) == 0 {
		if err := a.history.Append(ctx, req.SessionID,
			store.Message{Role: store.RoleUser, Content: question},
			store.Message{Role: store.RoleAssistant, Content: out.Content},
		); err != nil {
			log.Warn("chat: failed to persist turn", slog.String("session_id", req.SessionID), slog.Any("error", err))
		}
	}

	return &Response{Answer: out.Content, Sources: used}, nil
}

// split returns the question and the prior turns for req.
func (a *Assistant) split(ctx context.Context, req Request) (string, []*schema.Message, error) {
	if len(req.Messages) > 0 {
		last := req.Messages[len(req.Messages)-1]
		if last == nil || last.Role != schema.User || strings.TrimSpace(last.Content) == "" {
			return "", nil, fmt.Errorf("chat: last message must be a non-empty user message: %w", rag.ErrEmptyInput)
		}
		return last.Content, req.Messages[:len(req.Messages)-1], nil
	}

	question := strings.TrimSpace(req.Message)
	if question == "" {
		return "", nil, fmt.Errorf("chat: message: %w", rag.ErrEmptyInput)
	}
	if req.SessionID == "" || a.history == nil {
		return question, nil, nil
	}

	stored, err := a.history.Recent(ctx, req.SessionID, a.historyTurns)
	if err != nil {
		logging.FromContext(ctx).Warn("chat: failed to load session history", slog.Any("error", err))
		return question, nil, nil
	}
	prior := make([]*schema.Message, 0, len(stored))
	for _, m := range stored {
		if m.Role == store.RoleAssistant {
			prior = append(prior, schema.AssistantMessage(m.Content, nil))
		} else {
			prior = append(prior, schema.UserMessage(m.Content))
		}
	}
	return question, prior, nil
}

// contextMessage renders the passages that fit the passage budget as one
// system message and returns them.
func (a *Assistant) contextMessage(ctx context.Context, results []rag.Result) (*schema.Message, []rag.Result) {
	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = fmt.Sprintf("[%s] %s", r.Type, r.Content)
	}
	kept, dropped := a.window.FitPassages(passages)
	if dropped > 0 {
		logging.FromContext(ctx).Info("chat: dropped passages over the context budget",
			slog.Int("kept", len(kept)),
			slog.Int("dropped", dropped),
		)
	}

	var b strings.Builder
	b.WriteString("Context: ")
	if len(kept) == 0 {
		b.WriteString("no matching records.")
	}
	for i, p := range kept {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return schema.SystemMessage(b.String()), results[:len(kept)]
}
