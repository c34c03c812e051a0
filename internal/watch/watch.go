// Package watch streams finished runs to a writer as they are published.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/dyluth/tribunal/internal/filter"
	"github.com/dyluth/tribunal/internal/report"
	"github.com/dyluth/tribunal/pkg/audit"
)

// Source delivers run summaries and subscription errors.
// docket.Subscription satisfies it.
type Source interface {
	Events() <-chan audit.RunSummary
	Errors() <-chan error
}

// Stream writes one line per published run until ctx is cancelled or the
// source closes. Runs not matching criteria are skipped; a nil criteria
// matches everything. With jsonl set each run is written as a JSON object.
func Stream(ctx context.Context, src Source, w io.Writer, criteria *filter.Criteria, jsonl bool) (int, error) {
	enc := json.NewEncoder(w)
	events, errs := src.Events(), src.Errors()
	written := 0

	for {
		select {
		case <-ctx.Done():
			return written, nil

		case run, ok := <-events:
			if !ok {
				return written, nil
			}
			if criteria != nil && !criteria.Matches(run) {
				continue
			}

			var err error
			if jsonl {
				err = enc.Encode(run)
			} else {
				err = report.FormatRunLine(w, run)
			}
			if err != nil {
				return written, fmt.Errorf("failed to write run %s: %w", run.RunID, err)
			}
			written++

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Malformed events are skipped, the stream stays up
			log.Printf("[Watch] Subscription error: %v", err)
		}
	}
}
