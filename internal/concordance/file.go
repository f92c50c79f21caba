package concordance

import (
	"sort"
	"time"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
)

// File is the published concordance.
type File struct {
	Metadata  Metadata         `json:"metadata"`
	Documents []DocumentInfo   `json:"documents"`
	Stats     Stats            `json:"stats"`
	Clusters  []entity.Cluster `json:"clusters"`
}

type Metadata struct {
	Created        time.Time      `json:"created"`
	Updated        *time.Time     `json:"updated,omitempty"`
	Thresholds     Thresholds     `json:"thresholds"`
	MinCount       int            `json:"min_count"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	MergeApplied   bool           `json:"merge_applied"`
	PreMergeCount  int            `json:"pre_merge_count,omitempty"`
	MergeCount     int            `json:"merge_count,omitempty"`
	Migration      *MigrationInfo `json:"migration,omitempty"`
	Review         *ReviewInfo    `json:"review,omitempty"`
}

// Thresholds records the policy a concordance was built with.
type Thresholds struct {
	Match                 float64 `json:"match"`
	Person                float64 `json:"person"`
	LexicalBonusCutoff    float64 `json:"lexical_bonus_cutoff"`
	LexicalBonus          float64 `json:"lexical_bonus"`
	AnchorEdgeFloor       float64 `json:"anchor_edge_floor"`
	AnchorLexicalStrong   float64 `json:"anchor_lexical_strong"`
	AnchorLexicalWeak     float64 `json:"anchor_lexical_weak"`
	AnchorStrictEmbedding float64 `json:"anchor_strict_embedding"`
	NearDuplicate         float64 `json:"near_duplicate"`
	PlaceNearDuplicate    float64 `json:"place_near_duplicate"`
}

func ThresholdsFrom(policy entity.Policy) Thresholds {
	return Thresholds{
		Match:                 policy.MatchThreshold,
		Person:                policy.PersonThreshold,
		LexicalBonusCutoff:    policy.LexicalBonusCutoff,
		LexicalBonus:          policy.LexicalBonus,
		AnchorEdgeFloor:       policy.AnchorEdgeFloor,
		AnchorLexicalStrong:   policy.AnchorLexicalStrong,
		AnchorLexicalWeak:     policy.AnchorLexicalWeak,
		AnchorStrictEmbedding: policy.AnchorStrictEmbedding,
		NearDuplicate:         policy.NearDuplicateThreshold,
		PlaceNearDuplicate:    policy.PlaceNearDuplicateThreshold,
	}
}

type MigrationInfo struct {
	Source                 string         `json:"source"`
	Matched                int            `json:"matched"`
	ByStrategy             map[string]int `json:"by_strategy"`
	GroundTruthTransferred int            `json:"ground_truth_transferred"`
	KeysInherited          int            `json:"keys_inherited"`
	Unmatched              int            `json:"unmatched"`
}

type ReviewInfo struct {
	Cleaned   int `json:"cleaned"`
	Dissolved int `json:"dissolved"`
}

type Stats struct {
	TotalClusters        int            `json:"total_clusters"`
	EntitiesMatched      int            `json:"entities_matched"`
	ClustersAllDocuments int            `json:"clusters_all_documents"`
	WithGroundTruth      int            `json:"with_ground_truth"`
	ByCategory           map[string]int `json:"by_category"`
}

// ComputeStats summarizes clusters against the number of source documents.
func ComputeStats(clusters []entity.Cluster, documentCount int) Stats {
	stats := Stats{
		TotalClusters: len(clusters),
		ByCategory:    make(map[string]int),
	}
	for _, cluster := range clusters {
		stats.EntitiesMatched += len(cluster.Members)
		if documentCount > 0 && cluster.DocumentCount >= documentCount {
			stats.ClustersAllDocuments++
		}
		if cluster.HasGroundTruth() {
			stats.WithGroundTruth++
		}
		stats.ByCategory[string(cluster.Category)]++
	}
	return stats
}

// CategoryNames lists the categories present in stats, sorted.
func (s Stats) CategoryNames() []string {
	out := make([]string, 0, len(s.ByCategory))
	for name := range s.ByCategory {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
