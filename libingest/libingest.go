// Package libingest drives source adapters and lands their records in the
// store under the cross-source deduplication rules.
package libingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/dedupe"
	"github.com/edusentry/edusentry/libingest/driver"
)

var (
	ingestDecisionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "libingest",
			Name:      "ingest_decisions_total",
			Help:      "Total records ingested, by deduplication decision.",
		},
		[]string{"source", "decision"},
	)
	adapterErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edusentry",
			Subsystem: "libingest",
			Name:      "adapter_errors_total",
			Help:      "Total adapter runs that returned an error.",
		},
		[]string{"source"},
	)
)

// Configs maps adapter names to their configuration.
type Configs map[string]driver.ConfigUnmarshaler

// AdapterOptions is the per-adapter slice of the run configuration.
type AdapterOptions struct {
	MaxPages   int
	MaxAgeDays int
}

// Ingestor runs adapters serially on the caller's goroutine and applies the
// ingest step to every record they emit.
type Ingestor struct {
	store      datastore.Store
	registries []*driver.Registry
	// enabled maps a group to the adapter names to run. A group absent
	// from the map runs all its adapters; an empty list runs none.
	enabled     map[driver.Group][]string
	configs     Configs
	adapterOpts map[string]AdapterOptions
	client      *http.Client
	batchSize   int
}

// Option adjusts the Ingestor New returns.
type Option func(*Ingestor)

// WithClient sets the http.Client handed to configurable adapters.
func WithClient(c *http.Client) Option {
	return func(i *Ingestor) { i.client = c }
}

// WithConfigs supplies per-adapter configuration.
func WithConfigs(cfg Configs) Option {
	return func(i *Ingestor) { i.configs = cfg }
}

// WithEnabled restricts a group to the named adapters.
func WithEnabled(g driver.Group, names []string) Option {
	return func(i *Ingestor) { i.enabled[g] = names }
}

// WithAdapterOptions sets per-adapter page and age limits.
func WithAdapterOptions(opts map[string]AdapterOptions) Option {
	return func(i *Ingestor) { i.adapterOpts = opts }
}

// WithBatchSize overrides the sink's flush threshold. Values above
// driver.BatchSize are clamped to it.
func WithBatchSize(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.batchSize = min(n, driver.BatchSize)
		}
	}
}

// New returns an Ingestor over the passed registries, ready for Run.
//
// The registries are dependencies: nothing is read from package-level state.
func New(ctx context.Context, store datastore.Store, registries []*driver.Registry, opts ...Option) (*Ingestor, error) {
	if store == nil {
		return nil, errors.New("libingest: no store provided")
	}
	i := &Ingestor{
		store:      store,
		registries: registries,
		enabled:    make(map[driver.Group][]string),
		client:     http.DefaultClient,
		batchSize:  driver.BatchSize,
	}
	for _, o := range opts {
		o(i)
	}
	for _, r := range registries {
		if err := r.Configure(ctx, i.configs, i.client); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// Run drives every enabled adapter once, serially, and reports the run's
// statistics. An adapter failure is logged and counted, not fatal: whatever
// the adapter batched before failing is already persisted.
func (i *Ingestor) Run(ctx context.Context) (*Stats, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "libingest/Ingestor.Run",
		"run", uuid.New().String(),
	)
	stats := NewStats()
	zlog.Info(ctx).Msg("ingestion starting")
	for _, r := range i.registries {
		names, ok := i.enabled[r.Group()]
		if !ok {
			names = r.Names()
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			a := r.Get(name)
			if a == nil {
				zlog.Warn(ctx).
					Str("group", string(r.Group())).
					Str("adapter", name).
					Msg("enabled adapter not registered")
				continue
			}
			if err := i.driveAdapter(ctx, a, stats); err != nil {
				adapterErrorCounter.WithLabelValues(name).Add(1)
				stats.AdapterErrors++
				zlog.Error(ctx).
					Err(err).
					Str("adapter", name).
					Msg("adapter run errored")
			}
		}
	}
	zlog.Info(ctx).
		Int("new", stats.New).
		Int("merged", stats.Merged).
		Int("duplicates", stats.Duplicates).
		Int("upgraded", stats.Upgraded).
		Int("errors", stats.RecordErrors).
		Msg("ingestion done")
	return stats, nil
}

func (i *Ingestor) driveAdapter(ctx context.Context, a driver.Adapter, stats *Stats) error {
	ctx = zlog.ContextWithValues(ctx, "adapter", a.Name())
	opts := driver.Options{
		MaxPages:   i.adapterOpts[a.Name()].MaxPages,
		MaxAgeDays: i.adapterOpts[a.Name()].MaxAgeDays,
	}
	if _, ok := a.(driver.Checkpointed); ok {
		since, err := i.store.Checkpoint(ctx, a.Name())
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		opts.Since = since
	}
	sink := newSink(i, a.Name(), i.batchSize, stats)
	opts.SaveBatch = sink.Add

	recs, err := a.Fetch(ctx, &opts)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, driver.ErrUnchanged):
		zlog.Debug(ctx).Msg("adapter reports no new content")
		return nil
	default:
		// Flush whatever the adapter batched before it failed.
		if cerr := sink.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return err
	}
	if _, err := sink.Add(ctx, recs); err != nil {
		return err
	}
	if err := sink.Close(ctx); err != nil {
		return err
	}

	if cp, ok := a.(driver.Checkpointed); ok {
		if ts := cp.Checkpoint(); !ts.IsZero() && ts.After(opts.Since) {
			if err := i.store.SetCheckpoint(ctx, a.Name(), ts); err != nil {
				return fmt.Errorf("failed to advance checkpoint: %w", err)
			}
			zlog.Debug(ctx).
				Time("checkpoint", ts).
				Msg("checkpoint advanced")
		}
	}
	return nil
}

// ingest applies the per-record ingest step: the event-ledger check, the
// against-store resolution, and the attribution and event writes. Each store
// call is its own short transaction.
func (i *Ingestor) ingest(ctx context.Context, rec *edusentry.SourceRecord, stats *Stats) error {
	if rec.Incident == nil || rec.Incident.ID == "" {
		return fmt.Errorf("record from %q carries no incident", rec.Source)
	}
	key := rec.EventKey()
	seen, err := i.store.SeenEvent(ctx, rec.Source, key)
	if err != nil {
		return err
	}
	if seen {
		stats.AlreadySeen++
		return nil
	}

	decision, resolved, err := dedupe.Resolve(ctx, i.store, rec.Incident)
	if err != nil {
		return err
	}
	switch decision {
	case dedupe.DecisionNew:
		if err := i.store.InsertIncident(ctx, resolved); err != nil {
			return err
		}
		stats.New++
	case dedupe.DecisionMerged:
		if err := i.store.UpdateIncident(ctx, resolved, true); err != nil {
			return err
		}
		stats.Merged++
	case dedupe.DecisionSubsetDrop:
		// The stored row stays as-is; only the attribution below lands.
		stats.Duplicates++
	case dedupe.DecisionURLUpgrade:
		if err := i.store.UpdateIncident(ctx, resolved, true); err != nil {
			return err
		}
		stats.Upgraded++
	}
	ingestDecisionCounter.WithLabelValues(rec.Source, decision.String()).Add(1)

	if err := i.store.AppendAttribution(ctx, edusentry.Attribution{
		IncidentID:    resolved.ID,
		Source:        rec.Source,
		SourceEventID: rec.SourceEventID,
		FirstSeen:     time.Now().UTC(),
		Confidence:    rec.Incident.Confidence,
	}); err != nil {
		return err
	}
	return i.store.RecordEvent(ctx, rec.Source, key, resolved.ID)
}
