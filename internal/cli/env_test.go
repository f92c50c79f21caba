package cli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvLoaderLoadsFlagPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concordance.env")
	if err := os.WriteFile(path, []byte("CONCORDANCE_TEST_VALUE=from-flag\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(OverrideVar, "")
	t.Setenv("CONCORDANCE_TEST_VALUE", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, ".env", "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Fatalf("unexpected loaded path: got %q want %q", loaded, path)
	}
	if got := os.Getenv("CONCORDANCE_TEST_VALUE"); got != "from-flag" {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestEnvLoaderPrefersOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "override.env")
	if err := os.WriteFile(override, []byte("CONCORDANCE_TEST_VALUE=from-override\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(OverrideVar, override)
	t.Setenv("CONCORDANCE_TEST_VALUE", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(dir, "missing.env"), "")

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != override || os.Getenv("CONCORDANCE_TEST_VALUE") != "from-override" {
		t.Fatalf("expected override file to be loaded, got %q", loaded)
	}
}

func TestEnvLoaderMissingFile(t *testing.T) {
	t.Setenv(OverrideVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(t.TempDir(), "missing.env"), "")
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected missing env file to fail")
	}
}
