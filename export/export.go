// Package export writes enriched incidents as CSV.
//
// Export is a read-only traversal of the store: it runs its own SELECT over
// a handle the caller supplies and participates in no pipeline transaction.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3" // register the sqlite3 dialect
	"github.com/quay/zlog"
)

var dialect = goqu.Dialect("sqlite3")

// header is the CSV column set: every incident schema field, with string
// sets ";"-joined, plus the attributed sources.
var header = []string{
	"id", "victim", "victim_normalized", "institution_type",
	"country", "region", "city",
	"incident_date", "date_precision", "source_published",
	"title", "subtitle", "primary_url", "urls", "broken_urls",
	"attack_type", "status", "confidence", "notes",
	"enriched_at", "summary", "timeline", "techniques", "attack_dynamics",
	"extraction_confidence", "sources",
}

// Incidents writes one CSV row per enriched incident to w, preceded by a
// header row, and reports how many rows it wrote.
func Incidents(ctx context.Context, db *sql.DB, w io.Writer) (int, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "export/Incidents")
	query, args, err := dialect.From("incidents").
		Select(
			"id", "victim", "victim_normalized", "institution_type",
			"country", "region", "city",
			"incident_date", "date_precision", "source_published",
			"title", "subtitle", "primary_url", "urls", "broken_urls",
			"attack_type", "status", "confidence", "notes",
			"enriched_at", "summary", "timeline", "techniques", "attack_dynamics",
			"extraction_confidence",
			goqu.L("(SELECT group_concat(source, ';') FROM (SELECT DISTINCT source FROM incident_sources WHERE incident_id = incidents.id ORDER BY source))").As("sources"),
		).
		Where(goqu.Ex{
			"enriched":           1,
			"enrichment_skipped": 0,
		}).
		Order(goqu.I("incident_date").Asc(), goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		var (
			rec                  = make([]string, len(header))
			urls, broken, techs  string
			extractionConfidence float64
			sources              sql.NullString
		)
		if err := rows.Scan(
			&rec[0], &rec[1], &rec[2], &rec[3],
			&rec[4], &rec[5], &rec[6],
			&rec[7], &rec[8], &rec[9],
			&rec[10], &rec[11], &rec[12], &urls, &broken,
			&rec[15], &rec[16], &rec[17], &rec[18],
			&rec[19], &rec[20], &rec[21], &techs, &rec[23],
			&extractionConfidence, &sources,
		); err != nil {
			return n, fmt.Errorf("scan failed: %w", err)
		}
		if rec[13], err = joinSet(urls); err != nil {
			return n, err
		}
		if rec[14], err = joinSet(broken); err != nil {
			return n, err
		}
		if rec[22], err = joinSet(techs); err != nil {
			return n, err
		}
		rec[24] = strconv.FormatFloat(extractionConfidence, 'f', -1, 64)
		rec[25] = sources.String
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, err
	}
	zlog.Info(ctx).
		Int("rows", n).
		Msg("export complete")
	return n, nil
}

// joinSet turns a stored JSON string array into the ";"-joined CSV form.
func joinSet(s string) (string, error) {
	if s == "" || s == `[]` {
		return "", nil
	}
	var vs []string
	if err := json.Unmarshal([]byte(s), &vs); err != nil {
		return "", fmt.Errorf("malformed string set %q: %w", s, err)
	}
	return strings.Join(vs, ";"), nil
}
