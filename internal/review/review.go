// Package review finds clusters and merge candidates that need an outside
// reviewer and applies the reviewer's verdicts back onto a concordance.
package review

import (
	"fmt"
	"strings"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/merge"
	"github.com/benjaminbreen/premodern-concordance/internal/similarity"
)

const (
	KindSuspiciousCluster = "suspicious_cluster"
	KindDeferredMerge     = "deferred_merge"

	minReasons = 2

	sameDocumentLimit      = 3
	lowAverageSimilarity   = 0.4
	outlierSimilarity      = 0.15
	largeClusterMembers    = 6
	divergentWordsPerCtx   = 4
	significantWordLength  = 4
	shortNameLength        = 7
	shortNameSimilarity    = 0.5
	lowFrequencyMentions   = 20
	lowFrequencyMembers    = 4
	lowFrequencySimilarity = 0.55
	translationSimilarity  = 0.65
	selfMatchSimilarity    = 0.99
)

// Item is one entry of the review queue.
type Item struct {
	Kind          string           `json:"kind"`
	StableKey     string           `json:"stable_key,omitempty"`
	NumericID     int              `json:"numeric_id,omitempty"`
	CanonicalName string           `json:"canonical_name"`
	Category      entity.Category  `json:"category"`
	Reasons       []string         `json:"reasons"`
	Prompt        string           `json:"prompt,omitempty"`
	Candidate     *merge.Candidate `json:"candidate,omitempty"`
}

// Flag returns every heuristic the cluster trips. A cluster is only queued
// when it trips at least two of them.
func Flag(cluster entity.Cluster) []string {
	members := cluster.Members
	if len(members) == 0 {
		return nil
	}
	var reasons []string

	perDocument := make(map[string]int)
	maxSameDocument := 0
	for _, member := range members {
		perDocument[member.DocumentID]++
		if n := perDocument[member.DocumentID]; n > maxSameDocument {
			maxSameDocument = n
		}
	}
	if maxSameDocument >= sameDocumentLimit {
		reasons = append(reasons, fmt.Sprintf("%d members from the same document", maxSameDocument))
	}

	canonical := strings.ToLower(cluster.CanonicalName)
	minSim := 1.0
	otherSum, otherCount := 0.0, 0
	nameLength := 0
	for _, member := range members {
		sim := similarity.Lexical(canonical, member.Name)
		if sim < minSim {
			minSim = sim
		}
		if sim < selfMatchSimilarity {
			otherSum += sim
			otherCount++
		}
		nameLength += len([]rune(member.Name))
	}
	avgSim := 1.0
	if otherCount > 0 {
		avgSim = otherSum / float64(otherCount)
	}

	if avgSim < lowAverageSimilarity {
		reasons = append(reasons, fmt.Sprintf("low average name similarity (%.2f)", avgSim))
	}
	if minSim < outlierSimilarity && len(members) > 2 {
		reasons = append(reasons, fmt.Sprintf("outlier member (min similarity %.2f)", minSim))
	}
	if len(members) >= largeClusterMembers {
		reasons = append(reasons, fmt.Sprintf("large cluster (%d members)", len(members)))
	}
	if divergentContexts(members) {
		reasons = append(reasons, "divergent contexts")
	}

	avgNameLength := float64(nameLength) / float64(len(members))
	if avgNameLength < shortNameLength && avgSim < shortNameSimilarity {
		reasons = append(reasons, fmt.Sprintf("short names with low similarity (average length %.0f)", avgNameLength))
	}
	if cluster.TotalMentions <= lowFrequencyMentions && len(members) <= lowFrequencyMembers &&
		avgSim < lowFrequencySimilarity && !looksLikeTranslation(members) {
		reasons = append(reasons, fmt.Sprintf("low-frequency cluster without translation-like names (%.2f)", avgSim))
	}
	return reasons
}

// Suspicious reports whether the cluster should go to a reviewer.
func Suspicious(cluster entity.Cluster) (bool, []string) {
	reasons := Flag(cluster)
	return len(reasons) >= minReasons, reasons
}

func divergentContexts(members []entity.Member) bool {
	contexts := 0
	words := make(map[string]struct{})
	for _, member := range members {
		for _, context := range member.Contexts {
			contexts++
			for _, word := range strings.Fields(context) {
				if len([]rune(word)) > significantWordLength {
					words[strings.ToLower(word)] = struct{}{}
				}
			}
		}
	}
	return contexts >= 3 && len(words) > contexts*divergentWordsPerCtx
}

func looksLikeTranslation(members []entity.Member) bool {
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			left, right := members[i].Name, members[j].Name
			if similarity.IsSubstring(left, right) || similarity.Lexical(left, right) > translationSimilarity {
				return true
			}
		}
	}
	return false
}

// Queue lists suspicious clusters followed by deferred merge candidates.
func Queue(clusters []entity.Cluster, deferred []merge.Candidate) []Item {
	items := make([]Item, 0)
	for _, cluster := range clusters {
		suspicious, reasons := Suspicious(cluster)
		if !suspicious {
			continue
		}
		items = append(items, Item{
			Kind:          KindSuspiciousCluster,
			StableKey:     cluster.StableKey,
			NumericID:     cluster.NumericID,
			CanonicalName: cluster.CanonicalName,
			Category:      cluster.Category,
			Reasons:       reasons,
			Prompt:        Prompt(cluster),
		})
	}
	for i := range deferred {
		candidate := deferred[i]
		items = append(items, Item{
			Kind:          KindDeferredMerge,
			StableKey:     candidate.LeftStableKey,
			CanonicalName: candidate.LeftName,
			Category:      candidate.Category,
			Reasons: []string{
				fmt.Sprintf("name similarity %.3f with %q but no shared document or identical name", candidate.Similarity, candidate.RightName),
			},
			Candidate: &candidate,
		})
	}
	return items
}
