// Command engram serves the memory engine over HTTP. With --re-embed it
// migrates every stored embedding to the configured provider and exits; with
// --import it loads a folder of Markdown notes and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/api/rest"
	"github.com/scrypster/engram/internal/backup"
	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/events"
	"github.com/scrypster/engram/internal/importer"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/logging"
	"github.com/scrypster/engram/internal/metrics"
	"github.com/scrypster/engram/internal/migrate"
	"github.com/scrypster/engram/internal/notify"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	reEmbed   bool
	batchSize int
	dryRun    bool
	importDir string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("engram", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.reEmbed, "re-embed", false, "Re-embed every memory with the configured provider and exit")
	fs.IntVar(&opts.batchSize, "batch-size", migrate.DefaultBatchSize, "Memories embedded per batch during --re-embed")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "With --re-embed, validate the configuration and report without changing anything")
	fs.StringVar(&opts.importDir, "import", "", "Import the Markdown notes under `dir` as memories and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.batchSize < 1 {
		return opts, fmt.Errorf("--batch-size must be at least 1, got %d", opts.batchSize)
	}
	if opts.dryRun && !opts.reEmbed {
		return opts, errors.New("--dry-run requires --re-embed")
	}
	if opts.reEmbed && opts.importDir != "" {
		return opts, errors.New("--import and --re-embed are mutually exclusive")
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "engram: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "engram: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return 1
	}
	defer store.Close()

	m := metrics.NewCollector("engram")
	if opts.reEmbed {
		return reEmbed(ctx, cfg, store, opts, logger, m, stdout)
	}
	if opts.importDir != "" {
		return importNotes(ctx, cfg, store, opts.importDir, logger, m, stdout)
	}
	if err := serve(ctx, cfg, store, logger, m); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.New(cfg.Storage.DSN, cfg.Embedding.Dimensions, logger)
	default:
		if !cfg.InMemoryStore() {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return sqlite.New(cfg.Storage.Path, cfg.Embedding.Dimensions, logger)
	}
}

func serve(ctx context.Context, cfg *config.Config, store storage.Store, logger *zap.Logger, m *metrics.Collector) error {
	embedder, err := llm.NewEmbeddingProvider(cfg.Embedding, logger, m)
	if err != nil {
		return err
	}
	queryEmbedder, err := llm.NewQueryEmbedder(embedder, cfg.Embedding, m)
	if err != nil {
		return err
	}
	if c, ok := queryEmbedder.(*llm.CachedProvider); ok {
		defer c.Close()
	}
	reranker := llm.NewReranker(cfg.Rerank, logger, m)

	bus := events.NewBus(events.Config{QueueSize: cfg.Events.QueueSize, History: cfg.Events.History}, logger, m)
	linker := newAutoLinker(cfg, store, reranker, logger, m)

	rcfg := engine.DefaultRetrievalConfig()
	rcfg.Candidates = cfg.Memory.DenseSearchCandidates
	rcfg.DefaultK = cfg.Memory.DefaultK
	rcfg.TokenBudget = cfg.Memory.TokenBudget
	rcfg.MaxMemories = cfg.Memory.MaxMemories
	rcfg.MaxLinksPerPrimary = cfg.Memory.MaxLinksPerPrimary

	// Migration progress from a concurrent `engram --re-embed` arrives as
	// event files.
	watcher := notify.NewEventWatcher(cfg.Storage.DataDir, logger, notify.Republish(bus))
	if err := watcher.Start(); err != nil {
		logger.Warn("cross-process events disabled", zap.Error(err))
	}
	defer watcher.Stop()

	if cfg.Storage.BackupInterval > 0 {
		svc, err := newBackupService(store, cfg, logger)
		switch {
		case errors.Is(err, backup.ErrNotPersistent):
			logger.Warn("scheduled backups disabled: store is not persistent")
		case err != nil:
			return err
		default:
			go func() {
				if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("backup scheduler stopped", zap.Error(err))
				}
			}()
		}
	}

	handler := rest.NewRouter(rest.Deps{
		Memories:  engine.NewMemoryService(store, embedder, linker, bus, logger, m),
		Retriever: engine.NewRetriever(store, queryEmbedder, reranker, rcfg, logger, m),
		Graph:     engine.NewGraphService(store, logger),
		Knowledge: engine.NewKnowledgeService(store),
		Bus:       bus,
		Store:     store,
		Metrics:   m,
		Security:  cfg.Security,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engram listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", store.Backend()),
			zap.String("provider", embedder.Name()),
			zap.String("model", embedder.Model()),
			zap.Int("dimensions", embedder.Dimensions()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newAutoLinker(cfg *config.Config, store storage.Store, reranker llm.Reranker, logger *zap.Logger, m *metrics.Collector) *engine.AutoLinker {
	return engine.NewAutoLinker(store, reranker, engine.AutoLinkConfig{
		Candidates: cfg.Memory.DenseSearchCandidates,
		Threshold:  cfg.Memory.SimilarityThreshold,
		MaxLinks:   cfg.Memory.NumAutoLink,
	}, logger, m)
}

func newBackupService(store storage.Store, cfg *config.Config, logger *zap.Logger) (*backup.BackupService, error) {
	driver, err := backup.DriverFor(store)
	if err != nil {
		return nil, err
	}
	return backup.NewBackupService(driver, backup.BackupConfig{
		BackupDir:     cfg.Storage.BackupDir,
		Interval:      cfg.Storage.BackupInterval,
		VerifyBackups: true,
	}, logger)
}

// reEmbed runs the migration pipeline. Progress lines and the final report
// go to stdout; the same progress is written as event files for a running
// server to relay to its clients.
func reEmbed(ctx context.Context, cfg *config.Config, store storage.Store, opts options, logger *zap.Logger, m *metrics.Collector, stdout io.Writer) int {
	embedder, err := llm.NewEmbeddingProvider(cfg.Embedding, logger, m)
	if err != nil {
		logger.Error("failed to build embedding provider", zap.Error(err))
		return 1
	}

	var backups migrate.Backups
	svc, err := newBackupService(store, cfg, logger)
	switch {
	case errors.Is(err, backup.ErrNotPersistent):
		logger.Warn("store is not persistent; migrating without a backup")
	case err != nil:
		logger.Error("failed to set up backups", zap.Error(err))
		return 1
	default:
		backups = svc
	}

	writer := notify.NewEventWriter(cfg.Storage.DataDir)
	publish := func(eventType string, data map[string]interface{}) {
		if opts.dryRun {
			return
		}
		if err := writer.Notify(events.UserFromContext(ctx), eventType, data); err != nil {
			logger.Debug("failed to write event file", zap.Error(err))
		}
	}

	p := migrate.New(store, embedder, backups, migrate.Options{BatchSize: opts.batchSize, DryRun: opts.dryRun}, logger, m)
	p.OnProgress = func(pr migrate.Progress) {
		fmt.Fprintf(stdout, "%-16s %d/%d\n", pr.Phase, pr.Processed, pr.Total)
		publish(events.TypeMigrationProgress, map[string]interface{}{
			"phase":     string(pr.Phase),
			"processed": pr.Processed,
			"total":     pr.Total,
		})
	}

	report, runErr := p.Run(ctx)
	if report != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Warn("failed to print report", zap.Error(err))
		}
	}

	finished := map[string]interface{}{"success": runErr == nil}
	if report != nil {
		finished["processed"] = report.Processed
		finished["total"] = report.Total
		finished["restored"] = report.Restored
	}
	if runErr != nil {
		finished["error"] = runErr.Error()
	}
	publish(events.TypeMigrationFinished, finished)

	if runErr != nil {
		logger.Error("re-embedding failed", zap.Error(runErr))
		return 1
	}
	return 0
}

// importNotes loads a Markdown folder through the memory service and prints
// the summary as JSON.
func importNotes(ctx context.Context, cfg *config.Config, store storage.Store, dir string, logger *zap.Logger, m *metrics.Collector, stdout io.Writer) int {
	embedder, err := llm.NewEmbeddingProvider(cfg.Embedding, logger, m)
	if err != nil {
		logger.Error("failed to build embedding provider", zap.Error(err))
		return 1
	}
	reranker := llm.NewReranker(cfg.Rerank, logger, m)
	bus := events.NewBus(events.Config{QueueSize: cfg.Events.QueueSize, History: cfg.Events.History}, logger, m)
	svc := engine.NewMemoryService(store, embedder, newAutoLinker(cfg, store, reranker, logger, m), bus, logger, m)

	imp := importer.New(svc, logger)
	imp.OnFile = func(path string, done, total int) {
		fmt.Fprintf(stdout, "[%d/%d] %s\n", done, total, path)
	}
	res, err := imp.Import(ctx, dir)
	if res != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	}
	if err != nil {
		logger.Error("import failed", zap.Error(err))
		return 1
	}
	return 0
}
