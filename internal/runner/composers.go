package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/harvest"
	"github.com/JakeFAU/worklist-harvester/internal/writer"
)

// HarvestComposers fetches the list-of-composers page and appends every
// composer found to the composers file.
func (r *Runner) HarvestComposers(ctx context.Context) (catalog.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url := r.opts.ComposersURL
	rn, err := r.begin(catalog.RunKindComposers, "composers", url)
	if err != nil {
		return catalog.RunSummary{}, err
	}
	if url == "" {
		return r.finish(ctx, rn, errors.New("composers url is not configured"))
	}
	doc, err := r.load(ctx, url, rn)
	if err != nil {
		return r.finish(ctx, rn, err)
	}

	composers := harvest.Composers(doc)
	rn.RawRecords = len(composers)
	return r.finish(ctx, rn, r.writeComposers(ctx, composers, rn))
}

func (r *Runner) writeComposers(ctx context.Context, composers []catalog.Composer, rn *run) error {
	logger := r.logger.With(zap.String("run_id", rn.ID))
	name := r.opts.ComposersFile
	path, err := r.deps.Outputs.Path(name)
	if err != nil {
		return fmt.Errorf("composers destination: %w", err)
	}
	dst, err := r.deps.Outputs.Append(name)
	if err != nil {
		return fmt.Errorf("open composers destination: %w", err)
	}
	pipe := writer.Start[catalog.Composer](dst, r.pipelineOptions(StreamComposers))
	for _, c := range composers {
		if err := send(ctx, pipe, c, rn, logger); err != nil {
			_ = pipe.Close()
			return fmt.Errorf("send composer: %w", err)
		}
	}
	if err := pipe.Close(); err != nil {
		return fmt.Errorf("write composers: %w", err)
	}
	rn.AcceptedRecords = pipe.Written()
	rn.wrote(StreamComposers, name, path)
	return nil
}
