package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/canonical"
	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/writer"
)

// Replay canonicalizes a previously written raw records file. With write set
// the accepted records are appended to the compositions file as a live run
// would have done.
func (r *Runner) Replay(ctx context.Context, rawName string, write bool) (catalog.RunSummary, []catalog.CanonicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, pathErr := r.deps.Outputs.Path(rawName)
	rn, err := r.begin(catalog.RunKindReplay, rawName, source)
	if err != nil {
		return catalog.RunSummary{}, nil, err
	}
	if pathErr != nil {
		summary, err := r.finish(ctx, rn, fmt.Errorf("resolve raw records: %w", pathErr))
		return summary, nil, err
	}

	records, err := r.replay(ctx, rawName, rn)
	if err == nil && write {
		err = r.appendReplayed(ctx, records, rn)
	}
	summary, err := r.finish(ctx, rn, err)
	if err != nil {
		return summary, nil, err
	}
	return summary, records, nil
}

func (r *Runner) replay(ctx context.Context, rawName string, rn *run) ([]catalog.CanonicalRecord, error) {
	f, err := r.deps.Outputs.Open(rawName)
	if err != nil {
		return nil, fmt.Errorf("open raw records: %w", err)
	}
	defer f.Close()

	records, err := canonical.Replay(ctx, f, r.logger.With(zap.String("file", rawName)))
	if err != nil {
		return nil, err
	}
	rn.AcceptedRecords = len(records)
	return records, nil
}

func (r *Runner) appendReplayed(ctx context.Context, records []catalog.CanonicalRecord, rn *run) error {
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
	for _, rec := range records {
		if err := send(ctx, pipe, rec, rn, r.logger); err != nil {
			_ = pipe.Close()
			return fmt.Errorf("send canonical record: %w", err)
		}
	}
	if err := pipe.Close(); err != nil {
		return fmt.Errorf("write canonical records: %w", err)
	}
	rn.wrote(StreamCompositions, name, path)
	return nil
}
