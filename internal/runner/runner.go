// Package runner orchestrates harvesting runs: fetch a page, harvest its
// tables into the raw stream, canonicalize into the shared compositions
// stream, then archive, record and announce the run.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/harvest"
	"github.com/JakeFAU/worklist-harvester/internal/linkrank"
	"github.com/JakeFAU/worklist-harvester/internal/metrics"
	"github.com/JakeFAU/worklist-harvester/internal/writer"
)

// Stream names label pipelines, metrics and summary outputs.
const (
	StreamRaw          = "raw"
	StreamCompositions = "compositions"
	StreamComposers    = "composers"
)

const ndjsonContentType = "application/x-ndjson"

// Outputs opens the local destination files. *local.Store implements it.
type Outputs interface {
	Create(name string) (io.WriteCloser, error)
	Append(name string) (io.WriteCloser, error)
	Open(name string) (io.ReadCloser, error)
	Path(name string) (string, error)
}

// Options names the pages and files a Runner works with.
type Options struct {
	BaseURL string
	// WikiPrefix roots relative article links, e.g. "/wiki/".
	WikiPrefix       string
	ComposersURL     string
	RawPrefix        string
	CompositionsFile string
	ComposersFile    string
	QueueCapacity    int
	// Topic receives a run summary after every run; empty disables publishing.
	Topic string
}

// Deps are the collaborators of a Runner. Fetcher, Outputs, Clock and IDs
// are required; the rest are optional.
type Deps struct {
	Fetcher   catalog.Fetcher
	Limiter   catalog.RateLimiter
	Headless  catalog.Fetcher
	Detector  catalog.HeadlessDetector
	Outputs   Outputs
	Archive   catalog.BlobStore
	Runs      catalog.RunStore
	Publisher catalog.Publisher
	Hasher    catalog.Hasher
	Clock     catalog.Clock
	IDs       catalog.IDGenerator
	Logger    *zap.Logger
}

// Runner executes harvesting runs one at a time; the compositions and
// composers files are shared between runs.
type Runner struct {
	opts      Options
	deps      Deps
	harvester *harvest.Harvester
	logger    *zap.Logger

	mu sync.Mutex
}

// New validates deps and returns a Runner.
func New(opts Options, deps Deps) (*Runner, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Outputs == nil {
		return nil, errors.New("outputs are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	if opts.CompositionsFile == "" || opts.ComposersFile == "" {
		return nil, errors.New("compositions and composers file names are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = linkrank.DefaultBaseURL
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = writer.DefaultCapacity
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	links := linkrank.New(opts.BaseURL)
	if opts.WikiPrefix != "" {
		links.WikiPrefix = opts.WikiPrefix
	}
	return &Runner{
		opts:      opts,
		deps:      deps,
		harvester: harvest.New(links),
		logger:    logger,
	}, nil
}

// RawFileName returns the raw records destination for a subject. Spaces in
// the name become underscores, as in the article slug.
func (r *Runner) RawFileName(name string) string {
	return r.opts.RawPrefix + strings.ReplaceAll(name, " ", "_") + ".json"
}

// run carries one run's summary plus the local files it wrote.
type run struct {
	catalog.RunSummary
	files map[string]string
}

func (r *Runner) begin(kind catalog.RunKind, subject, sourceURL string) (*run, error) {
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return &run{
		RunSummary: catalog.RunSummary{
			ID:        id,
			Kind:      kind,
			Subject:   subject,
			SourceURL: sourceURL,
			StartedAt: r.deps.Clock.Now(),
			Outputs:   map[string]string{},
			Archived:  map[string]string{},
		},
		files: map[string]string{},
	}, nil
}

// wrote records that stream landed in the local file name.
func (rn *run) wrote(stream, name, path string) {
	rn.files[stream] = name
	rn.Outputs[stream] = path
}

// load fetches url, promoting to the headless fetcher when the detector asks
// for it, and parses the result.
func (r *Runner) load(ctx context.Context, url string, rn *run) (*goquery.Document, error) {
	req := catalog.FetchRequest{URL: url}
	if err := r.wait(ctx, url); err != nil {
		return nil, err
	}
	resp, err := r.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if r.deps.Headless != nil && r.deps.Detector != nil && r.deps.Detector.ShouldPromote(resp) {
		r.logger.Info("promoting page to headless fetch", zap.String("url", url))
		rendered, herr := r.headlessFetch(ctx, req)
		if herr != nil {
			r.logger.Warn("headless fetch failed, using plain response", zap.String("url", url), zap.Error(herr))
		} else {
			resp = rendered
		}
	}
	rn.UsedHeadless = resp.UsedHeadless
	if r.deps.Hasher != nil {
		if sum, herr := r.deps.Hasher.Hash(resp.Body); herr == nil {
			rn.ContentHash = sum
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func (r *Runner) headlessFetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	if err := r.wait(ctx, req.URL); err != nil {
		return catalog.FetchResponse{}, err
	}
	return r.deps.Headless.Fetch(ctx, req)
}

func (r *Runner) wait(ctx context.Context, url string) error {
	if r.deps.Limiter == nil {
		return nil
	}
	return r.deps.Limiter.Wait(ctx, url)
}

// send pushes rec, absorbing a stopped consumer as a dropped record. Only a
// canceled context is returned.
func send[T any](ctx context.Context, p *writer.Pipeline[T], rec T, rn *run, logger *zap.Logger) error {
	err := p.Send(ctx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, writer.ErrConsumerStopped):
		rn.DroppedRecords++
		metrics.ObserveRecord(metrics.OutcomeDropped)
		logger.Warn("dropping record", zap.Error(err))
		return nil
	default:
		return err
	}
}

func (r *Runner) pipelineOptions(stream string) writer.Options {
	return writer.Options{Name: stream, Capacity: r.opts.QueueCapacity, Logger: r.logger}
}

// finish stamps the run, archives outputs of a successful run, then records
// and publishes the summary. Failures after the local write are logged and
// noted on the summary without failing the run.
func (r *Runner) finish(ctx context.Context, rn *run, runErr error) (catalog.RunSummary, error) {
	rn.FinishedAt = r.deps.Clock.Now()
	if runErr != nil {
		rn.Status = catalog.RunStatusFailed
		rn.ErrorText = runErr.Error()
	} else {
		rn.Status = catalog.RunStatusSucceeded
		r.archive(ctx, rn)
	}

	if r.deps.Runs != nil {
		if err := r.deps.Runs.RecordRun(ctx, rn.RunSummary); err != nil {
			r.logger.Warn("failed to record run", zap.String("run_id", rn.ID), zap.Error(err))
		}
	}
	if r.deps.Publisher != nil && r.opts.Topic != "" {
		if _, err := r.deps.Publisher.Publish(ctx, r.opts.Topic, rn.RunSummary); err != nil {
			r.logger.Warn("failed to publish run", zap.String("run_id", rn.ID), zap.Error(err))
		}
	}
	metrics.ObserveRun(string(rn.Kind), string(rn.Status))

	fields := []zap.Field{
		zap.String("run_id", rn.ID),
		zap.String("kind", string(rn.Kind)),
		zap.String("subject", rn.Subject),
		zap.Int("raw", rn.RawRecords),
		zap.Int("accepted", rn.AcceptedRecords),
		zap.Int("rejected", rn.RejectedRecords),
		zap.Int("dropped", rn.DroppedRecords),
		zap.Duration("elapsed", rn.FinishedAt.Sub(rn.StartedAt)),
	}
	if runErr != nil {
		r.logger.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		r.logger.Info("run finished", fields...)
	}
	return rn.RunSummary, runErr
}

func (r *Runner) archive(ctx context.Context, rn *run) {
	if r.deps.Archive == nil {
		return
	}
	for stream, name := range rn.files {
		uri, err := r.archiveFile(ctx, rn.ID, name)
		if err != nil {
			r.logger.Warn("failed to archive output", zap.String("file", name), zap.Error(err))
			rn.ErrorText = joinText(rn.ErrorText, err.Error())
			continue
		}
		rn.Archived[stream] = uri
	}
}

func (r *Runner) archiveFile(ctx context.Context, runID, name string) (string, error) {
	f, err := r.deps.Outputs.Open(name)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	defer f.Close()
	uri, err := r.deps.Archive.PutObject(ctx, runID+"/"+name, ndjsonContentType, f)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	return uri, nil
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
