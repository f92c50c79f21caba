package migrate

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/identity"
	"github.com/benjaminbreen/premodern-concordance/internal/similarity"
)

type Strategy string

const (
	StrategyExternalID    Strategy = "external_id"
	StrategyMemberOverlap Strategy = "member_overlap"
	StrategyAliasMatch    Strategy = "alias_match"
)

// Strategies lists strategies from most to least confident.
func Strategies() []Strategy {
	return []Strategy{StrategyExternalID, StrategyMemberOverlap, StrategyAliasMatch}
}

func (s Strategy) priority() int {
	switch s {
	case StrategyExternalID:
		return 0
	case StrategyMemberOverlap:
		return 1
	default:
		return 2
	}
}

const (
	exactMemberWeight = 3
	nameMemberWeight  = 1
	aliasTieBreak     = 0.1
)

// Mapping links one rebuilt cluster to the old cluster it inherited from.
type Mapping struct {
	NewIndex     int             `json:"new_index"`
	OldIndex     int             `json:"old_index"`
	NewName      string          `json:"new_name"`
	OldName      string          `json:"old_name"`
	Category     entity.Category `json:"category"`
	Strategy     Strategy        `json:"strategy"`
	Score        float64         `json:"score"`
	OldStableKey string          `json:"old_stable_key,omitempty"`
	NewStableKey string          `json:"new_stable_key"`
	GroundTruth  bool            `json:"ground_truth"`
}

type Result struct {
	Clusters               []entity.Cluster
	Mappings               []Mapping
	ByStrategy             map[Strategy]int
	GroundTruthTransferred int
	KeysInherited          int
	Unmatched              int
}

// Migrator carries enrichment and stable keys from an old concordance onto
// a rebuilt one.
type Migrator struct {
	policy   entity.Policy
	assigner *identity.Assigner
	logger   zerolog.Logger
}

func New(policy entity.Policy, logger zerolog.Logger) *Migrator {
	return &Migrator{
		policy:   policy,
		assigner: identity.New(policy),
		logger:   logger,
	}
}

type proposal struct {
	newIndex int
	oldIndex int
	strategy Strategy
	score    float64
}

// Migrate proposes every qualifying (new, old) pair up front, orders the
// proposals once by strategy priority then score, and assigns them in a
// single greedy pass. Neither input slice is modified.
func (m *Migrator) Migrate(oldClusters, newClusters []entity.Cluster) Result {
	index := m.indexOld(oldClusters)
	newProfiles := make([]profile, len(newClusters))
	for i := range newClusters {
		newProfiles[i] = m.profile(newClusters[i])
	}

	var proposals []proposal
	for i := range newClusters {
		proposals = append(proposals, m.propose(i, newClusters[i].Category, newProfiles[i], index)...)
	}
	sort.SliceStable(proposals, func(a, b int) bool {
		pa, pb := proposals[a], proposals[b]
		if pa.strategy.priority() != pb.strategy.priority() {
			return pa.strategy.priority() < pb.strategy.priority()
		}
		if pa.score != pb.score {
			return pa.score > pb.score
		}
		if na, nb := newClusters[pa.newIndex].TotalMentions, newClusters[pb.newIndex].TotalMentions; na != nb {
			return na > nb
		}
		if pa.newIndex != pb.newIndex {
			return pa.newIndex < pb.newIndex
		}
		if oa, ob := oldClusters[pa.oldIndex].TotalMentions, oldClusters[pb.oldIndex].TotalMentions; oa != ob {
			return oa > ob
		}
		return pa.oldIndex < pb.oldIndex
	})

	result := Result{
		Clusters:   entity.CloneClusters(newClusters),
		ByStrategy: make(map[Strategy]int, len(Strategies())),
	}
	for i := range result.Clusters {
		result.Clusters[i].StableKey = ""
	}

	newUsed := make([]bool, len(newClusters))
	oldUsed := make([]bool, len(oldClusters))
	for _, p := range proposals {
		if newUsed[p.newIndex] || oldUsed[p.oldIndex] {
			continue
		}
		newUsed[p.newIndex] = true
		oldUsed[p.oldIndex] = true

		donor := oldClusters[p.oldIndex]
		target := &result.Clusters[p.newIndex]
		mapping := Mapping{
			NewIndex:     p.newIndex,
			OldIndex:     p.oldIndex,
			NewName:      target.CanonicalName,
			OldName:      donor.CanonicalName,
			Category:     target.Category,
			Strategy:     p.strategy,
			Score:        p.score,
			OldStableKey: donor.StableKey,
		}
		if donor.HasGroundTruth() {
			target.GroundTruth = append([]byte(nil), donor.GroundTruth...)
			mapping.GroundTruth = true
			result.GroundTruthTransferred++
		}
		if donor.StableKey != "" {
			target.StableKey = donor.StableKey
			result.KeysInherited++
		}
		result.ByStrategy[p.strategy]++
		result.Mappings = append(result.Mappings, mapping)
	}

	for _, used := range newUsed {
		if !used {
			result.Unmatched++
		}
	}
	m.assigner.EnsureUnique(result.Clusters)
	for i := range result.Mappings {
		result.Mappings[i].NewStableKey = result.Clusters[result.Mappings[i].NewIndex].StableKey
	}
	sort.Slice(result.Mappings, func(a, b int) bool {
		return result.Mappings[a].NewIndex < result.Mappings[b].NewIndex
	})

	m.logger.Info().
		Int("old_clusters", len(oldClusters)).
		Int("new_clusters", len(newClusters)).
		Int("proposals", len(proposals)).
		Int("matched", len(result.Mappings)).
		Int("external_id", result.ByStrategy[StrategyExternalID]).
		Int("member_overlap", result.ByStrategy[StrategyMemberOverlap]).
		Int("alias_match", result.ByStrategy[StrategyAliasMatch]).
		Int("ground_truth_transferred", result.GroundTruthTransferred).
		Int("keys_inherited", result.KeysInherited).
		Int("unmatched", result.Unmatched).
		Msg("identity migration completed")
	return result
}

type documentName struct {
	documentID string
	name       string
}

// profile is the comparable view of one cluster.
type profile struct {
	externalID string
	members    []memberProfile
	aliases    map[string]struct{}
}

// memberProfile is one member's id with the document-scoped forms of its
// name and variants.
type memberProfile struct {
	id    entity.MentionID
	names []documentName
}

func (m *Migrator) profile(cluster entity.Cluster) profile {
	id, resolvedName := entity.ResolvedIdentity(cluster.GroundTruth, m.policy.GroundTruthIDPath, m.policy.GroundTruthNamePath)
	p := profile{
		externalID: id,
		aliases:    make(map[string]struct{}),
	}
	addAlias := func(raw string) {
		if alias := similarity.NormalizeName(raw); alias != "" {
			p.aliases[alias] = struct{}{}
		}
	}
	addAlias(cluster.CanonicalName)
	addAlias(resolvedName)

	// A rebuild may pick a former variant as the surface name, so variants
	// count as names on both sides.
	for _, member := range cluster.Members {
		mp := memberProfile{id: member.ID()}
		seen := make(map[string]struct{}, len(member.Variants)+1)
		for _, raw := range memberNames(member) {
			addAlias(raw)
			name := similarity.NormalizeName(raw)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			mp.names = append(mp.names, documentName{documentID: member.DocumentID, name: name})
		}
		p.members = append(p.members, mp)
	}
	return p
}

func memberNames(member entity.Member) []string {
	out := make([]string, 0, len(member.Variants)+1)
	out = append(out, member.Name)
	return append(out, member.Variants...)
}

// oldIndex holds inverted indexes over the old clusters, each scoped by
// category so candidates never cross categories.
type oldIndex struct {
	byExternal map[entity.Category]map[string][]int
	byMember   map[entity.Category]map[entity.MentionID][]int
	byDocName  map[entity.Category]map[documentName][]int
	byAlias    map[entity.Category]map[string][]int
}

func (m *Migrator) indexOld(clusters []entity.Cluster) oldIndex {
	idx := oldIndex{
		byExternal: make(map[entity.Category]map[string][]int),
		byMember:   make(map[entity.Category]map[entity.MentionID][]int),
		byDocName:  make(map[entity.Category]map[documentName][]int),
		byAlias:    make(map[entity.Category]map[string][]int),
	}
	for i, cluster := range clusters {
		p := m.profile(cluster)
		category := cluster.Category

		if p.externalID != "" {
			addIndex(idx.byExternal, category, p.externalID, i)
		}
		for _, member := range p.members {
			addIndex(idx.byMember, category, member.id, i)
			for _, key := range member.names {
				addIndex(idx.byDocName, category, key, i)
			}
		}
		for alias := range p.aliases {
			addIndex(idx.byAlias, category, alias, i)
		}
	}
	return idx
}

func addIndex[K comparable](index map[entity.Category]map[K][]int, category entity.Category, key K, value int) {
	inner, ok := index[category]
	if !ok {
		inner = make(map[K][]int)
		index[category] = inner
	}
	list := inner[key]
	if n := len(list); n > 0 && list[n-1] == value {
		return
	}
	inner[key] = append(list, value)
}

func (m *Migrator) propose(newIdx int, category entity.Category, p profile, idx oldIndex) []proposal {
	var out []proposal

	if p.externalID != "" {
		for _, oldIdx := range idx.byExternal[category][p.externalID] {
			out = append(out, proposal{newIndex: newIdx, oldIndex: oldIdx, strategy: StrategyExternalID, score: 1})
		}
	}

	// Each new member counts at most once per old cluster: as an exact hit
	// when its id is there, otherwise as a name hit through any of its names.
	exact := make(map[int]int)
	names := make(map[int]int)
	nameOnly := make(map[int]int)
	for _, member := range p.members {
		exactOld := make(map[int]struct{})
		for _, oldIdx := range idx.byMember[category][member.id] {
			exact[oldIdx]++
			exactOld[oldIdx] = struct{}{}
		}
		hit := make(map[int]struct{})
		for _, key := range member.names {
			for _, oldIdx := range idx.byDocName[category][key] {
				hit[oldIdx] = struct{}{}
			}
		}
		for oldIdx := range hit {
			names[oldIdx]++
			if _, ok := exactOld[oldIdx]; !ok {
				nameOnly[oldIdx]++
			}
		}
	}
	aliasHits := make(map[int]int)
	for alias := range p.aliases {
		for _, oldIdx := range idx.byAlias[category][alias] {
			aliasHits[oldIdx]++
		}
	}

	candidates := make(map[int]struct{}, len(exact)+len(names))
	for oldIdx := range exact {
		candidates[oldIdx] = struct{}{}
	}
	for oldIdx := range names {
		candidates[oldIdx] = struct{}{}
	}
	for oldIdx := range candidates {
		nameHits := names[oldIdx]
		weighted := exactMemberWeight*exact[oldIdx] + nameMemberWeight*nameOnly[oldIdx]
		if weighted < m.policy.MigrationMinOverlapScore && nameHits < m.policy.MigrationMinNameOverlap {
			continue
		}
		out = append(out, proposal{
			newIndex: newIdx,
			oldIndex: oldIdx,
			strategy: StrategyMemberOverlap,
			score:    float64(weighted) + aliasTieBreak*float64(aliasHits[oldIdx]),
		})
	}

	for oldIdx, hits := range aliasHits {
		if hits < m.policy.MigrationMinAliasHits {
			continue
		}
		out = append(out, proposal{newIndex: newIdx, oldIndex: oldIdx, strategy: StrategyAliasMatch, score: float64(hits)})
	}

	return out
}
