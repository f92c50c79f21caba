package matcher

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
)

var axis = []float32{1, 0}

// towards returns a unit vector whose cosine with axis is cos.
func towards(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func mention(doc, id, name string, category entity.Category, count int, embedding []float32) entity.Mention {
	return entity.Mention{
		ID:        entity.MentionID{DocumentID: doc, LocalID: id},
		Name:      name,
		Category:  category,
		Count:     count,
		Embedding: embedding,
	}
}

func TestMatchPair_PersonThresholdWithLexicalBonus(t *testing.T) {
	t.Parallel()

	m := New(entity.DefaultPolicy(), zerolog.Nop())
	docA := entity.Document{ID: "a", Mentions: []entity.Mention{
		mention("a", "1", "Galeno", entity.CategoryPerson, 40, axis),
	}}
	docB := entity.Document{ID: "b", Mentions: []entity.Mention{
		mention("b", "1", "Galen", entity.CategoryPerson, 12, towards(0.91)),
	}}

	edges := m.MatchPair(docA, docB)
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(edges))
	}
	if edges[0].Category != entity.CategoryPerson {
		t.Fatalf("unexpected edge category: %q", edges[0].Category)
	}
	if edges[0].LexicalSimilarity <= 0.5 {
		t.Fatalf("expected lexical bonus to apply, lexical=%f", edges[0].LexicalSimilarity)
	}
}

func TestMatchPair_BonusOnlyForCloseNames(t *testing.T) {
	t.Parallel()

	m := New(entity.DefaultPolicy(), zerolog.Nop())
	docA := entity.Document{ID: "a", Mentions: []entity.Mention{
		mention("a", "1", "Galeno", entity.CategoryPerson, 40, axis),
		mention("a", "2", "Mercurio", entity.CategorySubstance, 9, axis),
	}}
	docB := entity.Document{ID: "b", Mentions: []entity.Mention{
		// close name, 0.78 clears the lowered 0.77 person threshold
		mention("b", "1", "Galen", entity.CategoryPerson, 12, towards(0.78)),
		// unrelated name, 0.78 misses the 0.80 person threshold
		mention("b", "2", "Hippocrates", entity.CategoryPerson, 7, towards(0.78)),
		// substance at 0.82 misses 0.84 without a bonus
		mention("b", "3", "Quicksilver", entity.CategorySubstance, 3, towards(0.82)),
	}}

	edges := m.MatchPair(docA, docB)
	if len(edges) != 1 {
		t.Fatalf("expected exactly one edge, got %d (%+v)", len(edges), edges)
	}
	if edges[0].B.LocalID != "1" {
		t.Fatalf("unexpected matched mention: %+v", edges[0])
	}
}

func TestMatchPair_CategoryHomogeneityAndMissingEmbeddings(t *testing.T) {
	t.Parallel()

	m := New(entity.DefaultPolicy(), zerolog.Nop())
	docA := entity.Document{ID: "a", Mentions: []entity.Mention{
		mention("a", "1", "Aloe", entity.CategoryPlant, 50, axis),
		mention("a", "2", "Aloes", entity.CategorySubstance, 5, nil),
		mention("a", "3", "Nameless", "", 5, axis),
	}}
	docB := entity.Document{ID: "b", Mentions: []entity.Mention{
		mention("b", "1", "Aloe", entity.CategorySubstance, 20, axis),
		mention("b", "2", "Aloe", entity.CategoryPlant, 20, axis),
		mention("b", "3", "Nameless", "", 5, axis),
	}}

	edges := m.MatchPair(docA, docB)
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %d (%+v)", len(edges), edges)
	}
	for _, edge := range edges {
		if edge.Category != entity.CategoryPlant {
			t.Fatalf("unexpected category on edge: %+v", edge)
		}
		if !edge.Valid() {
			t.Fatalf("edge violates cross-document invariant: %+v", edge)
		}
	}
}

func TestMatchPair_SameDocumentYieldsNothing(t *testing.T) {
	t.Parallel()

	m := New(entity.DefaultPolicy(), zerolog.Nop())
	doc := entity.Document{ID: "a", Mentions: []entity.Mention{
		mention("a", "1", "Aloe", entity.CategoryPlant, 50, axis),
		mention("a", "2", "Aloe", entity.CategoryPlant, 5, axis),
	}}
	if edges := m.MatchPair(doc, doc); len(edges) != 0 {
		t.Fatalf("expected no edges within one document, got %d", len(edges))
	}
}

func TestMatchAll_DeterministicAcrossWorkers(t *testing.T) {
	t.Parallel()

	docs := []entity.Document{
		{ID: "a", Mentions: []entity.Mention{mention("a", "1", "Aloe", entity.CategoryPlant, 50, axis)}},
		{ID: "b", Mentions: []entity.Mention{mention("b", "1", "Aloe", entity.CategoryPlant, 20, towards(0.97))}},
		{ID: "c", Mentions: []entity.Mention{mention("c", "1", "Aloes", entity.CategoryPlant, 8, towards(0.95))}},
	}

	m := New(entity.DefaultPolicy(), zerolog.Nop())
	serial, err := m.MatchAll(context.Background(), docs, 1)
	if err != nil {
		t.Fatalf("match all: %v", err)
	}
	parallel, err := m.MatchAll(context.Background(), docs, 8)
	if err != nil {
		t.Fatalf("match all: %v", err)
	}
	if len(serial) != 3 || len(parallel) != 3 {
		t.Fatalf("expected 3 edges, got serial=%d parallel=%d", len(serial), len(parallel))
	}
	for i := range serial {
		if serial[i].A != parallel[i].A || serial[i].B != parallel[i].B {
			t.Fatalf("edge %d differs between runs: %+v vs %+v", i, serial[i], parallel[i])
		}
	}
}

func TestMatchAll_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := []entity.Document{
		{ID: "a", Mentions: []entity.Mention{mention("a", "1", "Aloe", entity.CategoryPlant, 50, axis)}},
		{ID: "b", Mentions: []entity.Mention{mention("b", "1", "Aloe", entity.CategoryPlant, 20, axis)}},
	}
	if _, err := New(entity.DefaultPolicy(), zerolog.Nop()).MatchAll(ctx, docs, 2); err == nil {
		t.Fatalf("expected cancelled context to fail")
	}
}
