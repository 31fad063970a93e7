package runner

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/canonical"
	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/harvest"
	"github.com/JakeFAU/worklist-harvester/internal/metrics"
	"github.com/JakeFAU/worklist-harvester/internal/writer"
)

// HarvestWorks fetches the list-of-compositions page of the named composer
// and processes it.
func (r *Runner) HarvestWorks(ctx context.Context, name string) (catalog.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subject := harvest.WorksSubject(r.opts.BaseURL, name)
	rn, err := r.begin(catalog.RunKindWorks, name, subject.PageURL)
	if err != nil {
		return catalog.RunSummary{}, err
	}
	doc, err := r.load(ctx, subject.PageURL, rn)
	if err != nil {
		return r.finish(ctx, rn, err)
	}
	return r.finish(ctx, rn, r.processWorks(ctx, doc, subject, rn))
}

// ProcessDocument runs both stages over an already parsed page.
func (r *Runner) ProcessDocument(ctx context.Context, doc *goquery.Document, subject harvest.Subject) (catalog.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, err := r.begin(catalog.RunKindWorks, subject.Name, subject.PageURL)
	if err != nil {
		return catalog.RunSummary{}, err
	}
	return r.finish(ctx, rn, r.processWorks(ctx, doc, subject, rn))
}

// processWorks persists every raw record, then every accepted canonical
// record. The raw stream is closed before canonicalization starts.
func (r *Runner) processWorks(ctx context.Context, doc *goquery.Document, subject harvest.Subject, rn *run) error {
	logger := r.logger.With(zap.String("composer", subject.Name), zap.String("run_id", rn.ID))

	records := r.harvester.Tables(doc, subject)
	rn.RawRecords = len(records)
	metrics.ObserveRows(subject.PageURL, len(records))
	if len(records) == 0 {
		logger.Warn("page has no table rows", zap.String("url", subject.PageURL))
	}

	rawName := r.RawFileName(subject.Name)
	if err := r.writeRaw(ctx, rawName, records, rn, logger); err != nil {
		return err
	}
	return r.writeCanonical(ctx, records, rn, logger)
}

func (r *Runner) writeRaw(ctx context.Context, name string, records []catalog.RawRecord, rn *run, logger *zap.Logger) error {
	path, err := r.deps.Outputs.Path(name)
	if err != nil {
		return fmt.Errorf("raw destination: %w", err)
	}
	dst, err := r.deps.Outputs.Create(name)
	if err != nil {
		return fmt.Errorf("open raw destination: %w", err)
	}
	pipe := writer.Start[catalog.RawRecord](dst, r.pipelineOptions(StreamRaw))
	for _, rec := range records {
		if err := send(ctx, pipe, rec, rn, logger); err != nil {
			_ = pipe.Close()
			return fmt.Errorf("send raw record: %w", err)
		}
	}
	if err := pipe.Close(); err != nil {
		return fmt.Errorf("write raw records: %w", err)
	}
	rn.wrote(StreamRaw, name, path)
	return nil
}

func (r *Runner) writeCanonical(ctx context.Context, records []catalog.RawRecord, rn *run, logger *zap.Logger) error {
	name := r.opts.CompositionsFile
	path, err := r.deps.Outputs.Path(name)
	if err != nil {
		return fmt.Errorf("compositions destination: %w", err)
	}
	dst, err := r.deps.Outputs.Append(name)
	if err != nil {
		return fmt.Errorf("open compositions destination: %w", err)
	}
	pipe := writer.Start[catalog.CanonicalRecord](dst, r.pipelineOptions(StreamCompositions))
	for _, raw := range records {
		rec := canonical.Canonicalize(raw)
		if !canonical.Accept(rec) {
			rn.RejectedRecords++
			metrics.ObserveRecord(metrics.OutcomeRejected)
			logger.Debug("row has no usable title",
				zap.Int("table_index", raw.TableIndex), zap.Int("row_index", raw.RowIndex))
			continue
		}
		before := rn.DroppedRecords
		if err := send(ctx, pipe, rec, rn, logger); err != nil {
			_ = pipe.Close()
			return fmt.Errorf("send canonical record: %w", err)
		}
		if rn.DroppedRecords == before {
			rn.AcceptedRecords++
			metrics.ObserveRecord(metrics.OutcomeAccepted)
		}
	}
	if err := pipe.Close(); err != nil {
		return fmt.Errorf("write canonical records: %w", err)
	}
	rn.wrote(StreamCompositions, name, path)
	return nil
}
