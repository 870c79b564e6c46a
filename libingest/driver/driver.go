// Package driver holds the contract every source adapter implements and the
// registry type the ingestion orchestrator consumes.
package driver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/edusentry/edusentry"
)

// BatchSize is the most records an adapter may hand to a BatchFunc at once.
const BatchSize = 50

// ErrUnchanged is returned by adapters honoring a checkpoint when the source
// has published nothing new.
var ErrUnchanged = errors.New("source contents unchanged")

// Group names one of the three adapter registries.
type Group string

const (
	// GroupCurated is for hand-maintained incident disclosure feeds.
	GroupCurated Group = "curated"
	// GroupNews is for scraped news site listings.
	GroupNews Group = "news"
	// GroupRSS is for syndication feeds.
	GroupRSS Group = "rss"
)

// BatchFunc receives records as the adapter produces them, in batches of at
// most BatchSize. It reports how many records it accepted.
type BatchFunc func(ctx context.Context, recs []*edusentry.SourceRecord) (int, error)

// Options is the per-invocation option bag passed to an adapter.
//
// It is a concrete struct rather than an open map so a misspelled option is
// a compile error, not a silently ignored key.
type Options struct {
	// MaxPages caps how many pages or feed chunks the adapter walks.
	// Zero means the adapter's default.
	MaxPages int
	// MaxAgeDays drops records whose publication date is older. Zero means
	// no age cutoff.
	MaxAgeDays int
	// Since is the per-source checkpoint: adapters for sources with
	// monotonic publication order skip records published at or before it.
	Since time.Time
	// SaveBatch, when set, must be called at least once per page or feed
	// chunk with whatever parsed successfully.
	SaveBatch BatchFunc
}

// Adapter is a pure producer of source records: it owns the HTTP calls
// against its source and never touches the store.
//
// Fetch must tolerate partial failure, emitting whatever it parsed before
// the error. When Options.SaveBatch is set, records already handed to it
// must not be returned again.
type Adapter interface {
	Name() string
	Group() Group
	Fetch(ctx context.Context, opts *Options) ([]*edusentry.SourceRecord, error)
}

// ConfigUnmarshaler deserializes an adapter's configuration into the passed
// struct.
type ConfigUnmarshaler func(interface{}) error

// Configurable is implemented by adapters that accept runtime configuration
// before a run.
type Configurable interface {
	Configure(ctx context.Context, f ConfigUnmarshaler, c *http.Client) error
}

// Checkpointed is implemented by adapters whose source exposes monotonic
// publication order; the orchestrator persists the watermark between runs
// and supplies it back via Options.Since.
type Checkpointed interface {
	// Checkpoint reports the newest publication time the adapter saw
	// during its last Fetch.
	Checkpoint() time.Time
}
