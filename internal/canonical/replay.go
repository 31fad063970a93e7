package canonical

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

// maxLineBytes bounds a single serialized raw record; raw markup snippets of
// wide tables can run well past bufio's 64KiB default.
const maxLineBytes = 8 << 20

// Replay re-runs canonicalization over a previously written raw-records
// stream, one JSON object per line. It yields exactly the records a live run
// would have kept for the same input. Lines that do not decode are logged and
// skipped.
func Replay(ctx context.Context, r io.Reader, logger *zap.Logger) ([]catalog.CanonicalRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []catalog.CanonicalRecord
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("replay canceled: %w", err)
		}
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var raw catalog.RawRecord
		if err := json.Unmarshal(text, &raw); err != nil {
			logger.Warn("skipping undecodable raw record", zap.Int("line", line), zap.Error(err))
			continue
		}
		rec := Canonicalize(raw)
		if Accept(rec) {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read raw records: %w", err)
	}
	return records, nil
}
