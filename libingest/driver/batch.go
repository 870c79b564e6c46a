package driver

import (
	"context"

	"github.com/edusentry/edusentry"
)

// EmitBatches delivers recs through opts.SaveBatch in chunks of at most
// BatchSize, returning nothing for the caller to return itself. When no
// BatchFunc is set the records are handed back unchanged.
//
// Adapters use it as the tail of every page or feed chunk so partial results
// reach the sink before a later page can fail.
func EmitBatches(ctx context.Context, opts *Options, recs []*edusentry.SourceRecord) ([]*edusentry.SourceRecord, error) {
	if opts == nil || opts.SaveBatch == nil {
		return recs, nil
	}
	for len(recs) > 0 {
		n := len(recs)
		if n > BatchSize {
			n = BatchSize
		}
		if _, err := opts.SaveBatch(ctx, recs[:n]); err != nil {
			return nil, err
		}
		recs = recs[n:]
	}
	return nil, nil
}
