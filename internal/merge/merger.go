package merge

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/similarity"
)

const (
	ReasonSharedDocument = "shared_document"
	ReasonIdenticalName  = "identical_name"
)

// Record describes one applied merge.
type Record struct {
	Category          entity.Category `json:"category"`
	KeeperName        string          `json:"keeper_name"`
	KeeperStableKey   string          `json:"keeper_stable_key,omitempty"`
	AbsorbedName      string          `json:"absorbed_name"`
	AbsorbedStableKey string          `json:"absorbed_stable_key,omitempty"`
	Similarity        float64         `json:"similarity"`
	Reason            string          `json:"reason"`
}

// Candidate is a name-similar pair that was not merged for lack of
// corroborating evidence.
type Candidate struct {
	Category       entity.Category `json:"category"`
	LeftName       string          `json:"left_name"`
	LeftStableKey  string          `json:"left_stable_key,omitempty"`
	RightName      string          `json:"right_name"`
	RightStableKey string          `json:"right_stable_key,omitempty"`
	Similarity     float64         `json:"similarity"`
}

type Result struct {
	Clusters []entity.Cluster
	Merges   []Record
	Deferred []Candidate
}

// Merger combines clusters that are the same entity split by spelling noise.
// It never looks at embeddings.
type Merger struct {
	policy entity.Policy
	logger zerolog.Logger
}

func New(policy entity.Policy, logger zerolog.Logger) *Merger {
	return &Merger{
		policy: policy,
		logger: logger,
	}
}

// Merge runs merge passes until none applies, so merging the result again is
// a no-op. The input slice is not modified.
func (m *Merger) Merge(clusters []entity.Cluster) Result {
	working := entity.CloneClusters(clusters)
	absorbed := make([]bool, len(working))
	groups := groupByCategory(working)

	var records []Record
	passes := 0
	for {
		passes++
		applied := 0
		for _, group := range groups {
			applied += m.mergeGroup(working, absorbed, group, &records)
		}
		if applied == 0 {
			break
		}
	}

	survivors := make([]entity.Cluster, 0, len(working))
	for i := range working {
		if !absorbed[i] {
			survivors = append(survivors, working[i])
		}
	}
	entity.SortAndNumber(survivors)
	deferred := m.Deferred(survivors)

	m.logger.Info().
		Int("input_clusters", len(clusters)).
		Int("output_clusters", len(survivors)).
		Int("merges", len(records)).
		Int("deferred", len(deferred)).
		Int("passes", passes).
		Msg("near-duplicate merge completed")

	return Result{
		Clusters: survivors,
		Merges:   records,
		Deferred: deferred,
	}
}

func (m *Merger) mergeGroup(working []entity.Cluster, absorbed []bool, group []int, records *[]Record) int {
	applied := 0
	for gi, i := range group {
		if absorbed[i] {
			continue
		}
		for _, j := range group[gi+1:] {
			if absorbed[j] {
				continue
			}
			score, reason, ok := m.evaluate(working[i], working[j])
			if !ok || reason == "" {
				continue
			}

			keeper, victim := i, j
			if working[j].TotalMentions > working[i].TotalMentions {
				keeper, victim = j, i
			}
			*records = append(*records, Record{
				Category:          working[keeper].Category,
				KeeperName:        working[keeper].CanonicalName,
				KeeperStableKey:   working[keeper].StableKey,
				AbsorbedName:      working[victim].CanonicalName,
				AbsorbedStableKey: working[victim].StableKey,
				Similarity:        score,
				Reason:            reason,
			})
			absorb(&working[keeper], working[victim])
			absorbed[victim] = true
			applied++

			if victim == i {
				break
			}
		}
	}
	return applied
}

// evaluate reports the name similarity of two clusters, whether it clears the
// category threshold, and the corroborating evidence if there is any.
func (m *Merger) evaluate(a, b entity.Cluster) (float64, string, bool) {
	score := similarity.NormalizedLevenshtein(a.CanonicalName, b.CanonicalName)
	if score < m.policy.NearDuplicateThresholdFor(a.Category) {
		return score, "", false
	}
	score = math.Round(score*1000) / 1000
	if shareDocument(a, b) {
		return score, ReasonSharedDocument, true
	}
	if strings.EqualFold(a.CanonicalName, b.CanonicalName) && shareMemberName(a, b) {
		return score, ReasonIdenticalName, true
	}
	return score, "", true
}

// Deferred lists the pairs of clusters whose names clear the near-duplicate
// threshold without corroborating evidence. Run it again after keys change so
// the candidates carry the current stable keys.
func (m *Merger) Deferred(clusters []entity.Cluster) []Candidate {
	var out []Candidate
	for _, group := range groupByCategory(clusters) {
		for gi, i := range group {
			for _, j := range group[gi+1:] {
				score, reason, ok := m.evaluate(clusters[i], clusters[j])
				if !ok || reason != "" {
					continue
				}
				out = append(out, Candidate{
					Category:       clusters[i].Category,
					LeftName:       clusters[i].CanonicalName,
					LeftStableKey:  clusters[i].StableKey,
					RightName:      clusters[j].CanonicalName,
					RightStableKey: clusters[j].StableKey,
					Similarity:     score,
				})
			}
		}
	}
	return out
}

func groupByCategory(clusters []entity.Cluster) [][]int {
	byCategory := make(map[entity.Category][]int)
	for i, c := range clusters {
		byCategory[c.Category] = append(byCategory[c.Category], i)
	}
	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)

	out := make([][]int, 0, len(categories))
	for _, category := range categories {
		out = append(out, byCategory[entity.Category(category)])
	}
	return out
}

func shareDocument(a, b entity.Cluster) bool {
	docs := make(map[string]struct{}, len(a.Members))
	for _, member := range a.Members {
		docs[member.DocumentID] = struct{}{}
	}
	for _, member := range b.Members {
		if _, ok := docs[member.DocumentID]; ok {
			return true
		}
	}
	return false
}

func shareMemberName(a, b entity.Cluster) bool {
	names := make(map[string]struct{}, len(a.Members))
	for _, member := range a.Members {
		names[strings.ToLower(member.Name)] = struct{}{}
	}
	for _, member := range b.Members {
		if _, ok := names[strings.ToLower(member.Name)]; ok {
			return true
		}
	}
	return false
}

// absorb folds victim into keeper. The keeper's name, key and ground truth
// win; the victim's ground truth is adopted only when the keeper has none.
func absorb(keeper *entity.Cluster, victim entity.Cluster) {
	seenMembers := make(map[entity.MentionID]struct{}, len(keeper.Members)+len(victim.Members))
	for _, member := range keeper.Members {
		seenMembers[member.ID()] = struct{}{}
	}
	for _, member := range victim.Members {
		if _, ok := seenMembers[member.ID()]; ok {
			continue
		}
		seenMembers[member.ID()] = struct{}{}
		keeper.Members = append(keeper.Members, member)
	}

	seenEdges := make(map[string]struct{}, len(keeper.Edges)+len(victim.Edges))
	for _, edge := range keeper.Edges {
		seenEdges[edge.Key()] = struct{}{}
	}
	for _, edge := range victim.Edges {
		if _, ok := seenEdges[edge.Key()]; ok {
			continue
		}
		seenEdges[edge.Key()] = struct{}{}
		keeper.Edges = append(keeper.Edges, edge)
	}

	if !keeper.HasGroundTruth() && victim.HasGroundTruth() {
		keeper.GroundTruth = victim.GroundTruth
	}
	if keeper.Subcategory == "" {
		keeper.Subcategory = victim.Subcategory
	}
	keeper.Recount()
}
