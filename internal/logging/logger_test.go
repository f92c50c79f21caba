package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewParsesLevel(t *testing.T) {
	t.Parallel()

	logger, err := New("production", " DEBUG ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("unexpected level: %v", logger.GetLevel())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("local", "chatty"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
}
