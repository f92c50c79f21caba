package matcher

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/similarity"
)

// Matcher finds candidate cross-document matches between mention lists.
type Matcher struct {
	policy entity.Policy
	logger zerolog.Logger
}

func New(policy entity.Policy, logger zerolog.Logger) *Matcher {
	return &Matcher{
		policy: policy,
		logger: logger,
	}
}

type documentPair struct {
	left  int
	right int
}

// MatchAll compares every unordered pair of documents. Pairs run on up to
// workers goroutines; the merged edge list is sorted so the result does not
// depend on scheduling.
func (m *Matcher) MatchAll(ctx context.Context, documents []entity.Document, workers int) ([]entity.MatchEdge, error) {
	if m == nil {
		return nil, fmt.Errorf("matcher is not initialized")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	pairs := make([]documentPair, 0, len(documents)*(len(documents)-1)/2)
	for i := range documents {
		for j := i + 1; j < len(documents); j++ {
			pairs = append(pairs, documentPair{left: i, right: j})
		}
	}

	results := make([][]entity.MatchEdge, len(pairs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for idx, pair := range pairs {
		idx, pair := idx, pair
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			left := documents[pair.left]
			right := documents[pair.right]
			edges := m.MatchPair(left, right)
			m.logger.Debug().
				Str("document_a", left.ID).
				Str("document_b", right.ID).
				Int("edges", len(edges)).
				Msg("document pair matched")
			results[idx] = edges
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("match document pairs: %w", err)
	}

	total := 0
	for _, edges := range results {
		total += len(edges)
	}
	all := make([]entity.MatchEdge, 0, total)
	for _, edges := range results {
		all = append(all, edges...)
	}
	SortEdges(all)

	m.logger.Info().
		Int("documents", len(documents)).
		Int("document_pairs", len(pairs)).
		Int("edges", len(all)).
		Msg("candidate matching completed")
	return all, nil
}

// MatchPair scans every same-category mention pair of two documents and
// returns the pairs whose embedding similarity clears the category threshold,
// lowered when the names are orthographically close.
func (m *Matcher) MatchPair(a, b entity.Document) []entity.MatchEdge {
	if a.ID == b.ID {
		return nil
	}

	byCategory := make(map[entity.Category][]int, len(b.Mentions))
	for j := range b.Mentions {
		category := b.Mentions[j].Category
		if !category.Valid() {
			continue
		}
		byCategory[category] = append(byCategory[category], j)
	}

	var edges []entity.MatchEdge
	for i := range a.Mentions {
		left := &a.Mentions[i]
		if !left.Category.Valid() {
			continue
		}
		for _, j := range byCategory[left.Category] {
			right := &b.Mentions[j]
			embeddingSim := similarity.Cosine(left.Embedding, right.Embedding)
			if embeddingSim == 0 {
				continue
			}
			lexicalSim := similarity.Lexical(left.Name, right.Name)
			if embeddingSim < m.policy.MatchThresholdFor(left.Category, lexicalSim) {
				continue
			}
			edges = append(edges, entity.MatchEdge{
				A:                   left.ID,
				B:                   right.ID,
				EmbeddingSimilarity: embeddingSim,
				LexicalSimilarity:   lexicalSim,
				Category:            left.Category,
			})
		}
	}
	return edges
}

// SortEdges orders edges by their endpoint ids.
func SortEdges(edges []entity.MatchEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A.Less(edges[j].A)
		}
		return edges[i].B.Less(edges[j].B)
	})
}
