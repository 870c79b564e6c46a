package libingest

import (
	"context"

	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
)

// sink buffers records handed over by an adapter and lands them in the store
// once the buffer fills or the adapter is done.
//
// A record that fails its ingest step is logged and counted; the rest of the
// batch still lands.
type sink struct {
	ing    *Ingestor
	source string
	max    int
	buf    []*edusentry.SourceRecord
	stats  *Stats
	// accepted is the running total reported back to the adapter.
	accepted int
}

func newSink(i *Ingestor, source string, max int, stats *Stats) *sink {
	return &sink{
		ing:    i,
		source: source,
		max:    max,
		buf:    make([]*edusentry.SourceRecord, 0, max),
		stats:  stats,
	}
}

// Add implements driver.BatchFunc.
func (s *sink) Add(ctx context.Context, recs []*edusentry.SourceRecord) (int, error) {
	for _, rec := range recs {
		s.buf = append(s.buf, rec)
		if len(s.buf) >= s.max {
			if err := s.flush(ctx); err != nil {
				return s.accepted, err
			}
		}
	}
	return s.accepted + len(s.buf), nil
}

// Close flushes whatever is buffered. Safe to call after a failed Add.
func (s *sink) Close(ctx context.Context) error {
	return s.flush(ctx)
}

func (s *sink) flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	ctx = zlog.ContextWithValues(ctx, "component", "libingest/sink.flush")
	for _, rec := range s.buf {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ing.ingest(ctx, rec, s.stats); err != nil {
			s.stats.RecordErrors++
			zlog.Warn(ctx).
				Err(err).
				Str("source", rec.Source).
				Str("event", rec.EventKey()).
				Msg("record failed to ingest")
			continue
		}
		s.accepted++
	}
	zlog.Debug(ctx).
		Str("source", s.source).
		Int("records", len(s.buf)).
		Msg("batch flushed")
	s.buf = s.buf[:0]
	return nil
}
