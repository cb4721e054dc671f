package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portablebrain/internal/agent"
	"portablebrain/internal/api"
	"portablebrain/internal/config"
	"portablebrain/internal/device"
	"portablebrain/internal/embedding"
	"portablebrain/internal/llm"
	"portablebrain/internal/logging"
	"portablebrain/internal/retriever"
	"portablebrain/internal/store"
	"portablebrain/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Starts the portablebrain daemon: opens the memory store, connects to
the device portal, and serves the monitoring, execution and retrieval
endpoints until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// The pre-run logger knows nothing about the config; rebuild it with
	// the configured level once we have one.
	logger, err = logging.New(cfg.Logging.Level, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := store.Open(cfg.Memory.DatabasePath, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer st.Close()

	engine, err := embedding.NewEngine(cfg.Embedding, logger.Named("embedding"))
	if err != nil {
		return fmt.Errorf("failed to create embedding engine: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM, logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	driver := device.NewClient(cfg.Device, logger.Named("device"))

	ret := retriever.New(st, engine, cfg.Retriever.SemanticCacheThreshold, logger.Named("retriever"))

	tr := tracker.New(driver,
		tracker.NewInferencer(llmClient, logger.Named("inferencer")),
		tracker.NewEmbeddingGenerator(engine, st, logger.Named("embedder")),
		st,
		tracker.Config{
			PollInterval:      cfg.GetPollInterval(),
			ContextSize:       cfg.Tracker.ContextSize,
			PersistStructured: cfg.PersistStructured(),
		},
		logger.Named("tracker"))

	retrievalAgent := agent.NewRetrievalAgent(llmClient, ret, logger.Named("retrieval-agent"))
	executionAgent := agent.NewExecutionAgent(llmClient, driver, cfg.GetCommandTimeout(), logger.Named("execution-agent"))
	orch := agent.NewOrchestrator(retrievalAgent, executionAgent, cfg.Orchestrator.MaxIterations, logger.Named("orchestrator"))

	server := api.New(api.Deps{
		Config:    cfg,
		Tracker:   tr,
		Orch:      orch,
		Retrieval: retrievalAgent,
		Execution: executionAgent,
		Retriever: ret,
		Store:     st,
		Driver:    driver,
		Engine:    engine,
		LLM:       llmClient,
		Logger:    logger.Named("api"),
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		// Stop the tracker first so the in-flight observation tail is
		// flushed while the store is still open.
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tr.Stop(stopCtx); err != nil {
			logger.Warn("tracker stop failed", zap.Error(err))
		}
		return httpServer.Shutdown(stopCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("stopped")
	return nil
}
