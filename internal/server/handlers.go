package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/54b3r/kbrag-go/internal/chat"
	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
)

const (
	// maxBodyBytes caps request bodies on every JSON endpoint.
	maxBodyBytes = 1 << 20
	// defaultScanLimit and maxScanLimit bound GET /api/admin/scan.
	defaultScanLimit = 100
	maxScanLimit     = 10000
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// handleRetrieve handles POST /api/retrieve.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, describeValidation(err))
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	results, err := s.deps.Index.Retrieve(ctx, req.Query, topK)
	if err != nil {
		s.fail(w, r, "retrieve failed", err)
		return
	}

	resp := retrieveResponse{Results: results, Count: len(results)}
	if st := s.deps.Index.Status(); st.Active != nil {
		resp.Index = st.Active.Index
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleGenerate handles POST /api/generate. The body is either a message
// object or a bare array of {role, content} messages.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.deps.Generator == nil {
		writeError(w, r, http.StatusServiceUnavailable, "generation is not configured")
		return
	}

	req, err := decodeGenerate(w, r)
	if err != nil {
		s.metrics.observeGenerate(outcomeInvalid, time.Since(start))
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GenerateTimeout)
	defer cancel()

	s.metrics.generateInFlight.Inc()
	resp, err := s.deps.Generator.Generate(ctx, req)
	s.metrics.generateInFlight.Dec()
	if err != nil {
		outcome := outcomeError
		if statusFor(err) == http.StatusGatewayTimeout {
			outcome = outcomeTimeout
		}
		s.metrics.observeGenerate(outcome, time.Since(start))
		s.fail(w, r, "generate failed", err)
		return
	}
	s.metrics.observeGenerate(outcomeOK, time.Since(start))

	writeJSON(w, r, http.StatusOK, generateResponse{
		StatusCode: http.StatusOK,
		Response:   resp.Answer,
		Sources:    resp.Sources,
	})
}

// decodeGenerate parses either body form into a chat.Request.
func decodeGenerate(w http.ResponseWriter, r *http.Request) (chat.Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return chat.Request{}, fmt.Errorf("invalid request body: %w", err)
	}

	var req generateRequest
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &req.Messages); err != nil {
			return chat.Request{}, errors.New("invalid request body")
		}
		if len(req.Messages) == 0 {
			return chat.Request{}, errors.New("messages must not be empty")
		}
	} else if err := json.Unmarshal(trimmed, &req); err != nil {
		return chat.Request{}, errors.New("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return chat.Request{}, errors.New(describeValidation(err))
	}

	out := chat.Request{Message: req.Message, SessionID: req.SessionID}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
	}
	return out, nil
}

// handleRebuild handles POST /api/admin/rebuild. The rebuild runs on a
// context detached from the client connection so a dropped client cannot
// abandon it half-way.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rebuild == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rebuild is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RebuildTimeout)
	defer cancel()

	info, err := s.deps.Rebuild(ctx)
	if err != nil {
		s.fail(w, r, "rebuild failed", err)
		return
	}
	logging.FromContext(r.Context()).Info("admin rebuild complete",
		slog.String("index", info.Index),
		slog.Int("entries", info.Entries),
	)
	writeJSON(w, r, http.StatusOK, info)
}

// handleDrop handles POST /api/admin/drop.
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	// Detached like rebuild: a client hanging up must not leave the drop
	// half done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RebuildTimeout)
	defer cancel()

	if err := s.deps.Index.Drop(ctx); err != nil {
		s.fail(w, r, "drop failed", err)
		return
	}
	logging.FromContext(r.Context()).Info("admin drop complete")
	writeJSON(w, r, http.StatusOK, s.deps.Index.Status())
}

// handleScan handles GET /api/admin/scan?limit=N.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	limit := defaultScanLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxScanLimit {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("limit must be an integer in [1, %d]", maxScanLimit))
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	entries, err := s.deps.Index.Scan(ctx, limit)
	if err != nil {
		s.fail(w, r, "scan failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, scanResponse{Entries: entries, Count: len(entries)})
}

// handleStatus handles GET /api/admin/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Index.Status())
}

// fail logs err and writes the mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn(msg, slog.Int("status", status), slog.Any("error", err))
	}
	writeError(w, r, status, err.Error())
}

// statusFor maps the rag error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrRebuildInProgress):
		return http.StatusConflict
	case errors.Is(err, rag.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrBackendUnavailable),
		errors.Is(err, rag.ErrModelUnavailable),
		errors.Is(err, rag.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// describeValidation renders validator errors as "field: tag" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	msg := fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return msg
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes {"error": msg} with status.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}
