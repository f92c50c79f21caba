package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Policy().PersonThreshold != 0.80 {
		t.Fatalf("unexpected person threshold: %v", cfg.Policy().PersonThreshold)
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to be reported")
	}
}

func TestLoadOverridesPolicy(t *testing.T) {
	t.Setenv("CONCORDANCE_NEAR_DUP_PLACE_THRESHOLD", "0.9")
	t.Setenv("CONCORDANCE_MIGRATION_MIN_ALIAS_HITS", "3")
	t.Setenv("DATABASE_URL", "postgres://localhost/concordance")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	policy := cfg.Policy()
	if policy.PlaceNearDuplicateThreshold != 0.9 || policy.MigrationMinAliasHits != 3 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("CONCORDANCE_MATCH_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected threshold above 1 to fail validation")
	}
}

func TestCORSAllowedOriginsList(t *testing.T) {
	t.Parallel()

	cfg := &Config{CORSAllowedOrigins: " https://a.example ,https://b.example,https://a.example,"}
	origins := cfg.CORSAllowedOriginsList()
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}
