package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/chat"
	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/provider"
	"github.com/54b3r/kbrag-go/internal/scheduler"
	"github.com/54b3r/kbrag-go/internal/server"
	"github.com/54b3r/kbrag-go/internal/store"
	"github.com/54b3r/kbrag-go/internal/tracing"
)

// NewServeCmd constructs the `kbrag serve` command.
func NewServeCmd() *cobra.Command {
	var (
		host       string
		port       int
		noGenerate bool
		noInitial  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbrag HTTP API",
		Long: `Start the kbrag HTTP API.

On start the server re-attaches the index recorded in the manifest (Qdrant
backend, unchanged embedding model) or builds a fresh one from the corpus.
REBUILD_SCHEDULE enables periodic rebuilds. POST /api/generate answers
questions with the MODEL_PROVIDER chat model grounded on retrieved records.

Examples:
  kbrag serve
  kbrag serve --port 9090
  INDEX_BACKEND=qdrant REBUILD_SCHEDULE="@every 6h" kbrag serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if flush, ok := tracing.Setup(tracing.ConfigFromEnv()); ok {
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			loaders, err := loadedConfig.Corpus.Loaders()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			rt, err := openRuntime(ctx, log, loaders, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			if rt.service.Status().Active == nil && !noInitial {
				rctx, cancel := context.WithTimeout(ctx, rt.retrieval.RebuildTimeout)
				if _, err := rt.rebuild(rctx); err != nil {
					log.Error("initial rebuild failed, serving an empty index", slog.Any("error", err))
				}
				cancel()
			}

			var generator server.Generator
			if !noGenerate {
				generator = buildAssistant(ctx, rt, log)
			}

			if expr := config.RebuildSchedule(); expr != "" {
				sched := scheduler.New(rt.rebuild, rt.retrieval.RebuildTimeout, log)
				if err := sched.Start(expr); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				defer sched.Stop(context.WithoutCancel(ctx))
				log.Info("scheduled rebuilds enabled", slog.String("schedule", expr), slog.Time("next", sched.Next()))
			}

			pingers := []server.Pinger{server.NewEmbedderPinger(rt.model)}
			if rt.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(rt.qdrant))
			}

			if host == "" {
				host = loadedConfig.Server.Host
			}
			if port == 0 {
				port = loadedConfig.Server.Port
			}
			rps, burst := config.RateLimit()

			srv, err := server.New(server.Deps{
				Index:     rt.service,
				Generator: generator,
				Rebuild:   rt.rebuild,
			}, &server.Config{
				Host:           host,
				Port:           port,
				QueryTimeout:   rt.retrieval.QueryTimeout,
				RebuildTimeout: rt.retrieval.RebuildTimeout,
				DefaultTopK:    rt.retrieval.DefaultTopK,
				Logger:         log,
				Pingers:        pingers,
				RateLimit:      rps,
				RateBurst:      burst,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: server.host or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: server.port or 8080)")
	cmd.Flags().BoolVar(&noGenerate, "no-generate", false, "Disable POST /api/generate")
	cmd.Flags().BoolVar(&noInitial, "no-initial-rebuild", false, "Start with an empty index instead of building one")

	return cmd
}

// buildAssistant wires the chat model and history into a chat.Assistant. A
// misconfigured provider disables generation instead of failing the server.
func buildAssistant(ctx context.Context, rt *runtime, log *slog.Logger) server.Generator {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		log.Warn("generation disabled: chat model provider not usable", slog.Any("error", err))
		return nil
	}

	var history store.ConversationStore
	if rt.db != nil {
		history = rt.db
	}
	assistant, err := chat.New(chat.Config{
		Model:            chatModel,
		Retriever:        rt.service,
		History:          history,
		MaxContextTokens: rt.retrieval.MaxContextTokens,
	})
	if err != nil {
		log.Warn("generation disabled", slog.Any("error", err))
		return nil
	}
	log.Info("generation enabled",
		slog.String("model", providerCfg.String()),
	)
	return assistant
}
