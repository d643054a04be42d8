// Package migrate implements the re-embedding migration: the operator-run
// job that regenerates every stored vector after the embedding provider,
// model or dimensionality changes.
//
// The pipeline runs five phases in order: validate configuration, back up
// the store, resize vector storage, re-embed in batches, and validate the
// result. A failure or cancellation after the backup restores the store from
// it. The backup file is kept either way.
//
// The pipeline assumes exclusive access to the store for its duration.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/backup"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/metrics"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

const (
	// DefaultBatchSize is the number of memories embedded per batch.
	DefaultBatchSize = 20

	// sampleSize bounds the dimension check of the validate phase.
	sampleSize = 10
)

// Options control one pipeline run.
type Options struct {
	BatchSize int
	DryRun    bool
}

// Backups takes and restores store backups.
type Backups interface {
	BackupNow(ctx context.Context) (*backup.BackupResult, error)
	RestoreBackup(ctx context.Context, path string) error
}

// Progress is reported after every phase transition and every batch.
type Progress struct {
	Phase     types.MigrationPhase `json:"phase"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total"`
}

// Validation holds the checks of the final phase.
type Validation struct {
	CountOK      bool `json:"count_ok"`
	DimensionsOK bool `json:"dimensions_ok"`
	SearchOK     bool `json:"search_ok"`
}

// Passed reports whether every check succeeded.
func (v Validation) Passed() bool {
	return v.CountOK && v.DimensionsOK && v.SearchOK
}

// Report describes a completed run. A dry run stops after the first phase
// and its report depends only on the configuration and the store contents.
type Report struct {
	Backend            string                 `json:"backend"`
	Provider           string                 `json:"provider"`
	Model              string                 `json:"model"`
	Dimensions         int                    `json:"dimensions"`
	PreviousDimensions int                    `json:"previous_dimensions"`
	BatchSize          int                    `json:"batch_size"`
	DryRun             bool                   `json:"dry_run"`
	Phases             []types.MigrationPhase `json:"phases"`
	Total              int                    `json:"total"`
	Processed          int                    `json:"processed"`
	BackupPath         string                 `json:"backup_path,omitempty"`
	Validation         Validation             `json:"validation"`
	Restored           bool                   `json:"restored"`
}

// Pipeline re-embeds every memory in a store.
type Pipeline struct {
	store    storage.Store
	embedder llm.EmbeddingProvider
	backups  Backups
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Collector

	// OnProgress, when set, is called synchronously with each progress update.
	OnProgress func(Progress)
}

// New creates a pipeline. backups may be nil for a store that cannot be
// backed up, in which case a failure leaves the store as the failure found it.
func New(store storage.Store, embedder llm.EmbeddingProvider, backups Backups, opts Options, logger *zap.Logger, m *metrics.Collector) *Pipeline {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		embedder: embedder,
		backups:  backups,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Run executes the pipeline. On failure it returns a *types.MigrationFailure
// naming the phase; Restored reports whether the backup was restored.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Backend:   p.store.Backend(),
		Provider:  p.embedder.Name(),
		Model:     p.embedder.Model(),
		BatchSize: p.opts.BatchSize,
		DryRun:    p.opts.DryRun,
	}

	// Phase 1: validate configuration.
	if err := p.validateConfig(ctx, report); err != nil {
		return nil, &types.MigrationFailure{Phase: types.PhaseValidateConfig, Err: err}
	}
	p.enter(report, types.PhaseValidateConfig, 0)
	p.logger.Info("re-embed: configuration",
		zap.String("backend", report.Backend),
		zap.String("provider", report.Provider),
		zap.String("model", report.Model),
		zap.Int("dimensions", report.Dimensions),
		zap.Int("previous_dimensions", report.PreviousDimensions),
		zap.Int("memories", report.Total),
		zap.Bool("dry_run", report.DryRun))
	if p.opts.DryRun {
		return report, nil
	}

	// Phase 2: backup.
	if err := ctx.Err(); err != nil {
		return nil, &types.MigrationFailure{Phase: types.PhaseBackup, Err: err}
	}
	if p.backups != nil && p.store.Persistent() {
		result, err := p.backups.BackupNow(ctx)
		if err != nil {
			return nil, &types.MigrationFailure{Phase: types.PhaseBackup, Err: err}
		}
		report.BackupPath = result.Path
		p.logger.Info("re-embed: backup created", zap.String("path", result.Path), zap.Int64("size", result.Size))
	} else {
		p.logger.Warn("re-embed: store is not backed up; a failure cannot be rolled back")
	}
	p.enter(report, types.PhaseBackup, 0)

	// Phase 3: resize vector storage.
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, report, types.PhaseResize, err)
	}
	if err := p.store.ResizeEmbeddings(ctx, report.Dimensions); err != nil {
		return p.fail(ctx, report, types.PhaseResize, err)
	}
	p.enter(report, types.PhaseResize, 0)

	// Phase 4: re-embed.
	if err := p.reEmbed(ctx, report); err != nil {
		return p.fail(ctx, report, types.PhaseReEmbed, err)
	}
	p.enter(report, types.PhaseReEmbed, report.Processed)

	// Phase 5: validate.
	v, err := p.validate(ctx, report)
	report.Validation = v
	if err != nil {
		return p.fail(ctx, report, types.PhaseValidate, err)
	}
	if !v.Passed() {
		return p.fail(ctx, report, types.PhaseValidate, fmt.Errorf("validation failed: count_ok=%t dimensions_ok=%t search_ok=%t",
			v.CountOK, v.DimensionsOK, v.SearchOK))
	}
	p.enter(report, types.PhaseValidate, report.Processed)

	p.logger.Info("re-embed: complete",
		zap.Int("processed", report.Processed),
		zap.Int("dimensions", report.Dimensions),
		zap.String("backup", report.BackupPath))
	return report, nil
}

func (p *Pipeline) validateConfig(ctx context.Context, report *Report) error {
	report.Dimensions = p.embedder.Dimensions()
	if report.Dimensions < 1 {
		return types.NewValidationError("dimensions", "embedding provider reports %d dimensions", report.Dimensions)
	}
	if p.opts.BatchSize < 1 {
		return types.NewValidationError("batch_size", "must be at least 1, got %d", p.opts.BatchSize)
	}

	total, err := p.store.CountMemories(ctx)
	if err != nil {
		return err
	}
	report.Total = total

	prev, err := p.store.EmbeddingDimensions(ctx)
	if err != nil {
		return err
	}
	report.PreviousDimensions = prev
	return nil
}

func (p *Pipeline) reEmbed(ctx context.Context, report *Report) error {
	for offset := 0; offset < report.Total; offset += p.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := p.store.ListMemoriesForEmbedding(ctx, offset, p.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		// The whole batch is embedded before anything is written.
		vectors := make(map[int64][]float32, len(batch))
		for _, m := range batch {
			vec, err := p.embedder.Embed(ctx, m.EmbeddingText())
			if err != nil {
				return fmt.Errorf("embed memory %d: %w", m.ID, err)
			}
			if len(vec) != report.Dimensions {
				return fmt.Errorf("embed memory %d: %w: got %d, want %d",
					m.ID, storage.ErrDimensionMismatch, len(vec), report.Dimensions)
			}
			vectors[m.ID] = vec
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.store.BulkUpdateEmbeddings(ctx, vectors); err != nil {
			return err
		}

		report.Processed += len(batch)
		p.metrics.MigrationBatch(report.Processed)
		p.logger.Info("re-embed: batch complete",
			zap.Int("processed", report.Processed),
			zap.Int("total", report.Total),
			zap.Int("batch", len(batch)))
		p.progress(Progress{Phase: types.PhaseReEmbed, Processed: report.Processed, Total: report.Total})
	}
	return nil
}

// validate runs the count, dimension and search checks. An empty store
// passes trivially.
func (p *Pipeline) validate(ctx context.Context, report *Report) (Validation, error) {
	var v Validation

	withVectors, err := p.store.CountEmbeddings(ctx)
	if err != nil {
		return v, err
	}
	total, err := p.store.CountMemories(ctx)
	if err != nil {
		return v, err
	}
	v.CountOK = withVectors == total

	sample, err := p.store.SampleEmbeddingDimensions(ctx, sampleSize)
	if err != nil {
		return v, err
	}
	v.DimensionsOK = true
	for _, d := range sample {
		if d != report.Dimensions {
			v.DimensionsOK = false
			break
		}
	}

	if total == 0 {
		v.SearchOK = true
		return v, nil
	}
	first, err := p.store.ListMemoriesForEmbedding(ctx, 0, 1)
	if err != nil {
		return v, err
	}
	if len(first) == 0 {
		return v, nil
	}
	query, err := p.embedder.Embed(ctx, first[0].Title)
	if err != nil {
		return v, fmt.Errorf("embed smoke query: %w", err)
	}
	hits, err := p.store.SimilaritySearch(ctx, query, storage.SimilarityOptions{Limit: 1, IncludeObsolete: true})
	if err != nil {
		return v, err
	}
	v.SearchOK = len(hits) > 0
	return v, nil
}

// fail restores the backup, if one was taken, and builds the failure. The
// restore runs even when ctx is already cancelled.
func (p *Pipeline) fail(ctx context.Context, report *Report, phase types.MigrationPhase, err error) (*Report, error) {
	mf := &types.MigrationFailure{Phase: phase, Err: err, BackupPath: report.BackupPath}
	p.logger.Error("re-embed: failed", zap.String("phase", string(phase)), zap.Error(err))

	if report.BackupPath == "" {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("re-embed: interrupted without a backup; the store is partially migrated")
		}
		return nil, mf
	}

	if rerr := p.backups.RestoreBackup(context.WithoutCancel(ctx), report.BackupPath); rerr != nil {
		mf.RestoreErr = rerr
		p.logger.Error("re-embed: restore failed", zap.String("backup", report.BackupPath), zap.Error(rerr))
		return nil, mf
	}
	mf.Restored = true
	report.Restored = true
	p.logger.Info("re-embed: store restored from backup", zap.String("backup", report.BackupPath))
	return nil, mf
}

func (p *Pipeline) enter(report *Report, phase types.MigrationPhase, processed int) {
	report.Phases = append(report.Phases, phase)
	p.progress(Progress{Phase: phase, Processed: processed, Total: report.Total})
}

func (p *Pipeline) progress(pr Progress) {
	if p.OnProgress != nil {
		p.OnProgress(pr)
	}
}
