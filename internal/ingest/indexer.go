// Package ingest writes IndexRecords to an index engine in fixed-size bulk
// batches.
//
// Batches are written one at a time in submission order with a fixed pause
// between consecutive writes. Failures of single items or whole batches are
// collected in the Report; only context cancellation stops a run early.
package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	cerrors "github.com/crawldex/crawldex/internal/errors"
)

const (
	// DefaultBatchSize is the number of records per bulk write.
	DefaultBatchSize = 50

	// DefaultFlushInterval is the pause between consecutive bulk writes.
	DefaultFlushInterval = time.Second
)

// Options configures an Indexer.
type Options struct {
	// Index is the target index name. Required.
	Index string

	// BatchSize is the number of records per bulk write. Zero means
	// DefaultBatchSize.
	BatchSize int

	// FlushInterval is the pause between consecutive bulk writes. Zero means
	// DefaultFlushInterval; a negative value disables the pause.
	FlushInterval time.Duration

	Logger *slog.Logger

	// OnFlush is called after every bulk write, successful or not.
	OnFlush func(BatchResult)
}

// BatchResult describes one bulk write.
type BatchResult struct {
	Number     int           // 1-based batch number
	Size       int           // records in the batch
	Took       time.Duration // engine-reported time, zero on failure
	ItemErrors int
	Err        error // transport failure, nil on success
}

// Indexer writes records through an engine client.
type Indexer struct {
	client        engine.Client
	index         string
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	onFlush       func(BatchResult)

	// sleep waits between flushes; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Indexer.
func New(client engine.Client, opts Options) (*Indexer, error) {
	if client == nil {
		return nil, cerrors.InternalError("indexer requires an engine client", nil)
	}
	if opts.Index == "" {
		return nil, cerrors.ValidationError("index name is required", nil).
			WithSuggestion("Set engine.index in the config file or pass --index")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	interval := opts.FlushInterval
	if interval == 0 {
		interval = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		client:        client,
		index:         opts.Index,
		batchSize:     batchSize,
		flushInterval: interval,
		logger:        logger,
		onFlush:       opts.OnFlush,
		sleep:         sleepContext,
	}, nil
}

// BatchSize returns the effective batch size.
func (ix *Indexer) BatchSize() int {
	return ix.batchSize
}

// Index writes records and returns the run report. The returned error is
// non-nil only if ctx was cancelled; the report is valid either way.
func (ix *Indexer) Index(ctx context.Context, records []document.IndexRecord) (*Report, error) {
	run := ix.Start()
	for _, r := range records {
		if err := run.Add(ctx, r); err != nil {
			return run.report, err
		}
	}
	return run.Finish(ctx)
}

// Start begins a streaming run. Records are added with Run.Add and the final
// partial batch is written by Run.Finish.
func (ix *Indexer) Start() *Run {
	id := uuid.NewString()
	ix.logger.Info("bulk_run_started",
		slog.String("run_id", id),
		slog.String("index", ix.index),
		slog.Int("batch_size", ix.batchSize))

	return &Run{
		ix:      ix,
		batch:   make([]engine.BulkOperation, 0, ix.batchSize),
		started: time.Now(),
		report: &Report{
			RunID:  id,
			Index:  ix.index,
			Errors: []ItemFailure{},
		},
	}
}

// Run is one ingestion run. A Run is not safe for concurrent use.
type Run struct {
	ix      *Indexer
	batch   []engine.BulkOperation
	report  *Report
	started time.Time
	flushes int
	done    bool
}

// Add appends record to the current batch and writes the batch once it is
// full.
func (r *Run) Add(ctx context.Context, record document.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.batch = append(r.batch, engine.NewIndexOperation(record))
	r.report.Submitted++
	if len(r.batch) < r.ix.batchSize {
		return nil
	}
	return r.flush(ctx)
}

// Finish writes the remaining partial batch, if any, and returns the report.
// Calling Finish again returns the same report without writing.
func (r *Run) Finish(ctx context.Context) (*Report, error) {
	if r.done {
		return r.report, nil
	}
	var err error
	if len(r.batch) > 0 {
		err = r.flush(ctx)
	}
	r.done = true
	r.report.Elapsed = time.Since(r.started)

	r.ix.logger.Info("bulk_run_finished",
		slog.String("run_id", r.report.RunID),
		slog.Int("submitted", r.report.Submitted),
		slog.Int("batches", r.report.BatchesFlushed),
		slog.Int("failed_batches", len(r.report.BatchFailures)),
		slog.Int("item_errors", len(r.report.Errors)),
		slog.Duration("elapsed", r.report.Elapsed))
	return r.report, err
}

// flush writes the current batch. The batch is handed to the engine and a
// fresh one started regardless of the outcome.
func (r *Run) flush(ctx context.Context) error {
	if r.flushes > 0 && r.ix.flushInterval > 0 {
		if err := r.ix.sleep(ctx, r.ix.flushInterval); err != nil {
			return err
		}
	}
	r.flushes++

	ops := r.batch
	r.batch = make([]engine.BulkOperation, 0, r.ix.batchSize)
	result := BatchResult{Number: r.flushes, Size: len(ops)}
	logger := r.ix.logger.With(
		slog.String("run_id", r.report.RunID),
		slog.Int("batch", result.Number))

	logger.Debug("bulk_sending", slog.Int("records", len(ops)))
	resp, err := r.ix.client.Bulk(ctx, r.ix.index, ops)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Err = cerrors.New(cerrors.ErrCodeBulkFailed, "bulk write failed", err).
			WithDetail("batch", strconv.Itoa(result.Number))
		r.report.addBatchFailure(result.Number, len(ops), err)
		logger.Error("bulk_failed",
			slog.Int("records", len(ops)),
			slog.String("error", err.Error()))
		r.notify(result)
		return nil
	}

	r.report.addBatch(resp.Took)
	for _, item := range resp.Failed() {
		r.report.addItemFailure(item)
		logger.Warn("bulk_item_error",
			slog.String("id", item.ID),
			slog.Int("status", item.Status),
			slog.String("type", item.Error.Type),
			slog.String("reason", item.Error.Reason))
	}
	result.Took = resp.Took
	result.ItemErrors = len(resp.Failed())

	logger.Info("bulk_flushed",
		slog.Int("records", len(ops)),
		slog.Int("items", len(resp.Items)),
		slog.Int("item_errors", result.ItemErrors),
		slog.Duration("took", resp.Took))
	r.notify(result)
	return nil
}

func (r *Run) notify(result BatchResult) {
	if r.ix.onFlush != nil {
		r.ix.onFlush(result)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
