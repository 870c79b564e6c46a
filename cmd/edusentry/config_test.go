package main

import (
	"os"
	"path/filepath"
	"testing"
)

const configDoc = `
database:
  path: /var/lib/edusentry/edusentry.db
ingest:
  groups: [curated, rss]
  adapters:
    k12six:
      max_age_days: 30
      settings:
        feed: https://feeds.example.com/incidents.json
enrich:
  limit: 10
  skip_non_education: false
llm:
  base_url: https://llm.internal.example/v1
  model: gpt-4o-mini
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edusentry.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, configDoc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path != "/var/lib/edusentry/edusentry.db" {
		t.Errorf("database path: got %q", cfg.Database.Path)
	}
	if cfg.Enrich.Limit != 10 || cfg.Enrich.SkipNonEducation {
		t.Errorf("enrich: got %+v", cfg.Enrich)
	}
	// Untouched settings keep their defaults.
	if cfg.Enrich.QueueDepth != 32 || cfg.Dedup.WindowDays != 14 {
		t.Errorf("defaults lost: %+v %+v", cfg.Enrich, cfg.Dedup)
	}
	if cfg.Ingest.Adapters["k12six"].MaxAgeDays != 30 {
		t.Errorf("adapter options: got %+v", cfg.Ingest.Adapters)
	}

	cfgs := cfg.adapterConfigs()
	if cfgs["k12six"] == nil {
		t.Fatal("no unmarshaler for configured adapter")
	}
	var settings struct {
		Feed string `json:"feed"`
	}
	if err := cfgs["k12six"](&settings); err != nil {
		t.Fatal(err)
	}
	if settings.Feed != "https://feeds.example.com/incidents.json" {
		t.Errorf("settings: got %q", settings.Feed)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EDUSENTRY_LLM__API_KEY", "sk-test")
	t.Setenv("EDUSENTRY_DATABASE__PATH", "/tmp/override.db")
	cfg, err := loadConfig(writeConfig(t, configDoc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key: got %q", cfg.LLM.APIKey)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("database path: got %q", cfg.Database.Path)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	if _, err := loadConfig(writeConfig(t, "databse:\n  path: typo.db\n")); err == nil {
		t.Fatal("misspelled section accepted")
	}
}

func TestLoadConfigRejectsBadDelays(t *testing.T) {
	doc := "enrich:\n  fetch_min_delay_seconds: 9\n  fetch_max_delay_seconds: 3\n"
	if _, err := loadConfig(writeConfig(t, doc)); err == nil {
		t.Fatal("inverted delay bounds accepted")
	}
}

func TestGroupFilter(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, configDoc))
	if err != nil {
		t.Fatal(err)
	}
	filter := cfg.groupFilter()
	// The news group is switched off, so it maps to an explicit empty list.
	names, ok := filter["news"]
	if !ok || len(names) != 0 {
		t.Errorf("news group not disabled: %v (present %v)", names, ok)
	}
	if _, ok := filter["curated"]; ok {
		t.Error("enabled group needlessly restricted")
	}
}
