package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/merge"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level       string
		environment string
		want        logger.LogLevel
	}{
		{level: "debug", want: logger.Info},
		{level: "info", want: logger.Warn},
		{level: "error", want: logger.Error},
		{level: "silent", want: logger.Silent},
		{level: "bogus", environment: "local", want: logger.Warn},
		{level: "bogus", environment: "production", want: logger.Error},
	}
	for _, tc := range tests {
		if got := resolveGormLogLevel(tc.level, tc.environment); got != tc.want {
			t.Fatalf("unexpected gorm level for %q/%q: got %v want %v", tc.level, tc.environment, got, tc.want)
		}
	}
}

func TestConnectionLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minConns, maxConns int32
		wantOpen, wantIdle int
	}{
		{minConns: 1, maxConns: 8, wantOpen: 8, wantIdle: 1},
		{minConns: 0, maxConns: 0, wantOpen: defaultMaxConns, wantIdle: 1},
		{minConns: 12, maxConns: 4, wantOpen: 4, wantIdle: 4},
	}
	for _, tc := range tests {
		open, idle := connectionLimits(tc.minConns, tc.maxConns)
		if open != tc.wantOpen || idle != tc.wantIdle {
			t.Fatalf("unexpected limits for %d/%d: got %d/%d want %d/%d", tc.minConns, tc.maxConns, open, idle, tc.wantOpen, tc.wantIdle)
		}
	}
}

func TestGormWriterLogsThroughZerolog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := gormWriter{log: zerolog.New(&buf), level: zerologLevel(logger.Warn)}
	writer.Printf("%s [%.3fms] slow query\n", "publish.go:80", 612.5)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if entry["level"] != "warn" {
		t.Fatalf("unexpected level: got %v want warn", entry["level"])
	}
	if msg, _ := entry["message"].(string); !strings.HasPrefix(msg, "publish.go:80") || strings.HasSuffix(msg, "\n") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestNilPoolReportsNotInitialized(t *testing.T) {
	t.Parallel()

	var pool *Pool
	if _, err := pool.CurrentRun(context.Background()); !errors.Is(err, errPoolNotInitialized) {
		t.Fatalf("unexpected error: got %v want %v", err, errPoolNotInitialized)
	}
	if err := pool.Ping(context.Background()); !errors.Is(err, errPoolNotInitialized) {
		t.Fatalf("unexpected ping error: got %v want %v", err, errPoolNotInitialized)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestClusterRowsRoundTrip(t *testing.T) {
	t.Parallel()

	cluster := entity.Cluster{
		NumericID:     4,
		StableKey:     "clu_0123456789abcdef",
		CanonicalName: "Aloe",
		Category:      entity.CategorySubstance,
		DocumentCount: 2,
		TotalMentions: 54,
		Members: []entity.Member{
			{DocumentID: "orta", LocalID: "e1", Name: "Aloe", Category: entity.CategorySubstance, Count: 40, Variants: []string{"Aloe", "Aloes"}, Contexts: []string{"o aloe socotrino"}},
			{DocumentID: "monardes", LocalID: "e7", Name: "Acibar", Category: entity.CategorySubstance, Count: 14, Variants: []string{"Acibar"}},
		},
		Edges: []entity.Edge{
			{SourceDocument: "orta", SourceLocalID: "e1", SourceName: "Aloe", TargetDocument: "monardes", TargetLocalID: "e7", TargetName: "Acibar", Similarity: 0.912},
		},
		GroundTruth: json.RawMessage(`{"wikidata_id":"Q145365"}`),
	}

	row, members, edges, err := clusterRows(cluster)
	if err != nil {
		t.Fatalf("clusterRows: %v", err)
	}
	if len(members) != 2 || members[1].Position != 1 || len(edges) != 1 {
		t.Fatalf("unexpected rows: members=%+v edges=%+v", members, edges)
	}

	restored, err := clusterFromRows(row, members, edges)
	if err != nil {
		t.Fatalf("clusterFromRows: %v", err)
	}
	// Missing contexts come back as an empty list.
	cluster.Members[1].Contexts = []string{}
	if !reflect.DeepEqual(restored, cluster) {
		t.Fatalf("unexpected restored cluster:\ngot  %+v\nwant %+v", restored, cluster)
	}
}

func TestClusterRowsRequireStableKey(t *testing.T) {
	t.Parallel()

	_, _, _, err := clusterRows(entity.Cluster{NumericID: 1, CanonicalName: "Galeno"})
	if err == nil {
		t.Fatalf("expected missing stable key to fail")
	}
}

func TestReviewItemRowKeepsCandidate(t *testing.T) {
	t.Parallel()

	item := review.Item{
		Kind:          review.KindDeferredMerge,
		CanonicalName: "Africa",
		Category:      entity.CategoryPlace,
		Reasons:       []string{"similarity 0.840 below place threshold"},
		Candidate: &merge.Candidate{
			Category:   entity.CategoryPlace,
			LeftName:   "Africa",
			RightName:  "Arica",
			Similarity: 0.84,
		},
	}

	row, err := reviewItemRow(3, item)
	if err != nil {
		t.Fatalf("reviewItemRow: %v", err)
	}
	if row.Position != 3 {
		t.Fatalf("unexpected position: got %d want 3", row.Position)
	}

	restored, err := reviewItemFromRow(row)
	if err != nil {
		t.Fatalf("reviewItemFromRow: %v", err)
	}
	if !reflect.DeepEqual(restored, item) {
		t.Fatalf("unexpected restored item:\ngot  %+v\nwant %+v", restored, item)
	}
}
