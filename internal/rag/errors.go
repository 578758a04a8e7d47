package rag

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors shared by the embedder, index, and ingestion layers.
// Callers test for them with errors.Is; every layer wraps them with its own
// package prefix.
var (
	// ErrModelUnavailable means the embedding model could not be loaded or
	// probed. It is fatal to the service and never retried.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEmptyInput means zero items were passed to Embed, Insert or Ingest.
	ErrEmptyInput = errors.New("empty input")

	// ErrIndexNotReady means the index has not been built or holds no entries.
	ErrIndexNotReady = errors.New("index not ready")

	// ErrMalformedRecord means a raw corpus record had an unexpected shape.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrBackendUnavailable means the external vector store could not be reached.
	ErrBackendUnavailable = errors.New("index backend unavailable")

	// ErrDimensionMismatch means a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrRebuildInProgress is returned when a rebuild is requested while
	// another one is still running.
	ErrRebuildInProgress = errors.New("rebuild already in progress")

	// ErrTimeout means an embedding or index call exceeded the caller's deadline.
	ErrTimeout = errors.New("retrieval timed out")
)

// classifyBackendErr maps a Qdrant gRPC error onto the sentinel taxonomy.
// Transport-level failures become ErrBackendUnavailable so the caller can
// tell "store unreachable" apart from "no matches".
func classifyBackendErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	switch status.Code(err) {
	case codes.Unavailable:
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case codes.NotFound:
		// Collection dropped underneath us, e.g. by another process.
		return fmt.Errorf("%w: %w", ErrIndexNotReady, err)
	}
	return err
}

// asTimeout wraps err with ErrTimeout when it was caused by ctx expiring.
func asTimeout(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
