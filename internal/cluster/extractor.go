package cluster

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/similarity"
)

const maxMemberContexts = 2

// Extractor groups match edges into validated concordance clusters.
type Extractor struct {
	policy entity.Policy
	logger zerolog.Logger
}

// Report summarizes one extraction.
type Report struct {
	Components      int
	Clusters        int
	DroppedMembers  int
	Collapsed       int
	IgnoredEdges    int
	MentionsIndexed int
}

func New(policy entity.Policy, logger zerolog.Logger) *Extractor {
	return &Extractor{
		policy: policy,
		logger: logger,
	}
}

type pairKey struct {
	lo int
	hi int
}

func newPairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// graph is an arena of mentions with index-based adjacency.
type graph struct {
	mentions  []*entity.Mention
	index     map[entity.MentionID]int
	neighbors [][]int
	edges     map[pairKey]entity.MatchEdge
}

func buildGraph(documents []entity.Document, edges []entity.MatchEdge) (*graph, int) {
	g := &graph{
		index: make(map[entity.MentionID]int),
		edges: make(map[pairKey]entity.MatchEdge, len(edges)),
	}
	for d := range documents {
		for m := range documents[d].Mentions {
			mention := &documents[d].Mentions[m]
			if _, exists := g.index[mention.ID]; exists {
				continue
			}
			g.index[mention.ID] = len(g.mentions)
			g.mentions = append(g.mentions, mention)
		}
	}
	g.neighbors = make([][]int, len(g.mentions))

	ignored := 0
	for _, edge := range edges {
		a, okA := g.index[edge.A]
		b, okB := g.index[edge.B]
		if !okA || !okB || a == b || !edge.Valid() {
			ignored++
			continue
		}
		if g.mentions[a].Category != edge.Category || g.mentions[b].Category != edge.Category {
			ignored++
			continue
		}

		key := newPairKey(a, b)
		if existing, seen := g.edges[key]; seen {
			if edge.EmbeddingSimilarity > existing.EmbeddingSimilarity {
				g.edges[key] = edge
			}
			continue
		}
		g.edges[key] = edge
		g.neighbors[a] = append(g.neighbors[a], b)
		g.neighbors[b] = append(g.neighbors[b], a)
	}
	return g, ignored
}

// components returns connected components with at least two nodes, each
// sorted by arena index, in order of their smallest member.
func (g *graph) components() [][]int {
	visited := make([]bool, len(g.mentions))
	var out [][]int
	for start := range g.mentions {
		if visited[start] || len(g.neighbors[start]) == 0 {
			continue
		}
		visited[start] = true
		queue := []int{start}
		component := []int{}
		for head := 0; head < len(queue); head++ {
			current := queue[head]
			component = append(component, current)
			for _, next := range g.neighbors[current] {
				if visited[next] {
					continue
				}
				visited[next] = true
				queue = append(queue, next)
			}
		}
		if len(component) > 1 {
			sort.Ints(component)
			out = append(out, component)
		}
	}
	return out
}

// Extract builds the match graph, splits it into connected components, and
// keeps only members with direct, strong evidence to their component's
// anchor. Components left with fewer than two members or a single source
// document are discarded and counted as collapsed.
func (x *Extractor) Extract(documents []entity.Document, edges []entity.MatchEdge) ([]entity.Cluster, Report) {
	g, ignored := buildGraph(documents, edges)
	report := Report{
		IgnoredEdges:    ignored,
		MentionsIndexed: len(g.mentions),
	}

	var clusters []entity.Cluster
	for _, component := range g.components() {
		report.Components++

		anchor := selectAnchor(g, component)
		validated := []int{anchor}
		for _, node := range component {
			if node == anchor {
				continue
			}
			if x.keepMember(g, anchor, node) {
				validated = append(validated, node)
				continue
			}
			report.DroppedMembers++
		}

		if len(validated) < 2 || distinctDocuments(g, validated) < 2 {
			report.Collapsed++
			continue
		}
		clusters = append(clusters, assemble(g, validated))
	}

	entity.SortAndNumber(clusters)
	report.Clusters = len(clusters)

	x.logger.Info().
		Int("mentions", report.MentionsIndexed).
		Int("components", report.Components).
		Int("clusters", report.Clusters).
		Int("dropped_members", report.DroppedMembers).
		Int("collapsed", report.Collapsed).
		Int("ignored_edges", report.IgnoredEdges).
		Msg("cluster extraction completed")
	return clusters, report
}

// selectAnchor picks the highest mention count; ties go to the earliest
// mention in input order.
func selectAnchor(g *graph, component []int) int {
	anchor := component[0]
	for _, node := range component[1:] {
		if g.mentions[node].Count > g.mentions[anchor].Count {
			anchor = node
		}
	}
	return anchor
}

func (x *Extractor) keepMember(g *graph, anchor, node int) bool {
	edge, direct := g.edges[newPairKey(anchor, node)]
	if !direct {
		return false
	}

	p := x.policy
	if edge.LexicalSimilarity >= p.AnchorLexicalStrong && edge.EmbeddingSimilarity >= p.AnchorEdgeFloor {
		return true
	}
	if edge.LexicalSimilarity >= p.AnchorLexicalWeak && edge.EmbeddingSimilarity >= p.AnchorStrictEmbedding {
		return true
	}
	return similarity.IsSubstring(g.mentions[anchor].Name, g.mentions[node].Name)
}

func distinctDocuments(g *graph, nodes []int) int {
	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		seen[g.mentions[node].ID.DocumentID] = struct{}{}
	}
	return len(seen)
}

func assemble(g *graph, nodes []int) entity.Cluster {
	anchor := g.mentions[nodes[0]]
	out := entity.Cluster{
		CanonicalName: anchor.Name,
		Category:      anchor.Category,
		Subcategory:   anchor.Subcategory,
		Members:       make([]entity.Member, 0, len(nodes)),
	}

	for _, node := range nodes {
		out.Members = append(out.Members, toMember(g.mentions[node]))
	}

	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			edge, ok := g.edges[newPairKey(a, b)]
			if !ok {
				continue
			}
			source, target := g.mentions[a], g.mentions[b]
			out.Edges = append(out.Edges, entity.Edge{
				SourceDocument: source.ID.DocumentID,
				SourceLocalID:  source.ID.LocalID,
				SourceName:     source.Name,
				TargetDocument: target.ID.DocumentID,
				TargetLocalID:  target.ID.LocalID,
				TargetName:     target.Name,
				Similarity:     roundTo(edge.EmbeddingSimilarity, 3),
			})
		}
	}

	out.Recount()
	return out
}

func toMember(mention *entity.Mention) entity.Member {
	variants := append([]string(nil), mention.Variants...)
	if len(variants) == 0 {
		variants = []string{mention.Name}
	}
	contexts := mention.Contexts
	if len(contexts) > maxMemberContexts {
		contexts = contexts[:maxMemberContexts]
	}
	return entity.Member{
		DocumentID:  mention.ID.DocumentID,
		LocalID:     mention.ID.LocalID,
		Name:        mention.Name,
		Category:    mention.Category,
		Subcategory: mention.Subcategory,
		Count:       mention.Count,
		Variants:    variants,
		Contexts:    append([]string{}, contexts...),
	}
}

func roundTo(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
