package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docforge/internal/cleanup"
	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/compare"
	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/formats"
	"github.com/dgallion1/docforge/internal/mailmerge"
	"github.com/dgallion1/docforge/internal/merge"
)

// ErrSaveTimeout is returned when encoding overruns the save budget.
var ErrSaveTimeout = errors.New("save timeout exceeded")

// ArtifactStore keeps finished results. *artifact.Client implements it.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte, labels map[string]string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactKey is where a job's result is stored.
func ArtifactKey(jobID string) string { return "jobs/" + jobID }

// Worker runs jobs. It holds no per-job state, so one Worker serves
// every goroutine of the pool.
type Worker struct {
	registry *codec.Registry
	store    ArtifactStore
	stats    *ConversionStats
	log      *slog.Logger

	saveTimeout        time.Duration
	checkpointInterval int
	defaultFormat      codec.Format
	uploads            chan struct{}
	backoff            func(attempt int) time.Duration
}

// NewWorker builds a worker. store may be nil to keep results in memory
// only.
func NewWorker(reg *codec.Registry, store ArtifactStore, stats *ConversionStats, log *slog.Logger, cfg config.Config) *Worker {
	if stats == nil {
		stats = NewConversionStats(cfg.StatsWindow)
	}
	uploads := cfg.MaxConcurrentUploads
	if uploads <= 0 {
		uploads = 1
	}
	return &Worker{
		registry:           reg,
		store:              store,
		stats:              stats,
		log:                log,
		saveTimeout:        cfg.SaveTimeout,
		checkpointInterval: cfg.CheckpointInterval,
		defaultFormat:      cfg.SaveFormat(),
		uploads:            make(chan struct{}, uploads),
		backoff:            Backoff,
	}
}

// Stats returns the latency tracker.
func (w *Worker) Stats() *ConversionStats { return w.stats }

// Store returns the artifact store, or nil.
func (w *Worker) Store() ArtifactStore { return w.store }

// Process runs a job to completion and returns the error that failed
// it, if any. The job's status follows each phase.
func (w *Worker) Process(ctx context.Context, job *Job) error {
	log := w.log.With("job_id", job.ID, "kind", job.Kind)
	start := time.Now()
	req := job.Request()

	fail := func(phase string, err error) error {
		log.Error("job failed", "phase", phase, "error", err)
		job.Fail(phase, err)
		w.stats.RecordFailure(job.Kind)
		return err
	}
	if err := req.Validate(); err != nil {
		return fail("validating", err)
	}

	// Phase 1: Decode
	job.SetStatus(StatusDecoding, "decoding")
	docs := make([]*doctree.Document, len(req.Inputs))
	for i, in := range req.Inputs {
		doc, err := w.registry.Load(ctx, bytes.NewReader(in.Data), codec.LoadOptions{
			Password: req.Password,
			Logger:   log,
		})
		if err != nil {
			return fail("decoding", fmt.Errorf("%s: %w", in.Name, err))
		}
		docs[i] = doc
		job.IncrInputsDecoded()
	}
	log.Info("decoded inputs", "count", len(docs))

	// Phase 2: Process
	job.SetStatus(StatusProcessing, string(req.Kind))
	out, report, err := w.apply(req, docs, log)
	if err != nil {
		return fail("processing", err)
	}

	// Phase 3: Encode
	job.SetStatus(StatusEncoding, "encoding")
	f := req.Output
	if f == codec.Unknown {
		f = w.defaultFormat
	}
	data, err := w.encode(ctx, job, out, f, req, log)
	if err != nil {
		return fail("encoding", err)
	}
	res := &Result{
		Data:     data,
		Format:   f,
		Filename: req.outputName(f),
		Checksum: ContentHashHex(data),
		Report:   report,
	}

	// Phase 4: Store
	if w.store != nil {
		job.SetStatus(StatusStoring, "storing")
		key := ArtifactKey(job.ID)
		if err := w.upload(ctx, job, key, res); err != nil {
			// The result stays available in memory.
			log.Warn("artifact upload failed", "key", key, "error", err)
			job.AddError(fmt.Sprintf("store %s: %s", key, err))
		} else {
			res.ArtifactKey = key
		}
	}

	job.SetResult(res)
	elapsed := time.Since(start)
	w.stats.Record(job.Kind, elapsed.Milliseconds())
	job.SetStatus(StatusCompleted, "done")
	log.Info("job complete", "format", f, "bytes", len(data), "duration_ms", elapsed.Milliseconds())
	return nil
}

// apply runs the job's operation and returns the document to save.
func (w *Worker) apply(req *Request, docs []*doctree.Document, log *slog.Logger) (*doctree.Document, any, error) {
	switch req.Kind {
	case KindConvert:
		return docs[0], nil, nil
	case KindCompare:
		orig, revised := docs[0], docs[1]
		if err := compare.Compare(orig, revised, req.Author, time.Now(), req.Compare); err != nil {
			return nil, nil, err
		}
		return orig, map[string]int{"revisions": len(orig.Revisions())}, nil
	case KindMerge:
		out, err := merge.Merge(docs, req.Merge)
		return out, nil, err
	case KindMailMerge:
		ds, err := req.MailMerge.dataSource()
		if err != nil {
			return nil, nil, err
		}
		opts := req.MailMerge.Options
		opts.Logger = log
		var out *doctree.Document
		if req.MailMerge.Regions {
			out, err = mailmerge.ExecuteWithRegions(docs[0], ds, opts)
		} else {
			out, err = mailmerge.Execute(docs[0], ds, opts)
		}
		return out, map[string]int{"records": len(ds.Records)}, err
	case KindCleanup:
		r := cleanup.Cleanup(docs[0], req.Cleanup)
		log.Info("cleanup done", "styles_removed", r.UnusedStylesRemoved, "duplicates", r.DuplicatesRemoved, "lists_removed", r.ListsRemoved)
		return docs[0], r, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown job kind %q", ErrBadRequest, req.Kind)
}

// encode saves doc under the save budget, reporting progress to the
// job at each encoder checkpoint.
func (w *Worker) encode(ctx context.Context, job *Job, doc *doctree.Document, f codec.Format, req *Request, log *slog.Logger) ([]byte, error) {
	opts, err := formats.ParseSaveOptions(f, req.SaveOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	c := opts.Common()
	c.Logger = log
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = w.checkpointInterval
	}
	c.Progress = codec.ProgressFunc(func(p codec.ProgressInfo) codec.Action {
		job.SetEncodeFraction(p.Fraction())
		return codec.Continue
	})

	sctx := ctx
	if w.saveTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, w.saveTimeout)
		defer cancel()
	}
	var buf bytes.Buffer
	if err := w.registry.Save(sctx, &buf, doc, f, opts); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrSaveTimeout, w.saveTimeout, err)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// upload stores the result with bounded concurrency, retrying transient
// failures.
func (w *Worker) upload(ctx context.Context, job *Job, key string, res *Result) error {
	select {
	case w.uploads <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.uploads }()

	labels := map[string]string{
		"Kind":     string(job.Kind),
		"Filename": res.Filename,
		"Checksum": res.Checksum,
	}
	var lastErr error
	for attempt := range MaxRetries {
		job.IncrUploadAttempts()
		lastErr = w.store.Put(ctx, key, res.ContentType(), res.Data, labels)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		w.log.Warn("retryable upload error", "job_id", job.ID, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(w.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
