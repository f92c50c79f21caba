package entity

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Member is a mention as carried inside a cluster.
type Member struct {
	DocumentID  string   `json:"document_id"`
	LocalID     string   `json:"local_id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Count       int      `json:"mention_count"`
	Variants    []string `json:"variants"`
	Contexts    []string `json:"contexts"`
}

func (m Member) ID() MentionID {
	return MentionID{DocumentID: m.DocumentID, LocalID: m.LocalID}
}

// Edge is retained match evidence between two members of one cluster.
type Edge struct {
	SourceDocument string  `json:"source_document"`
	SourceLocalID  string  `json:"source_local_id,omitempty"`
	SourceName     string  `json:"source_name"`
	TargetDocument string  `json:"target_document"`
	TargetLocalID  string  `json:"target_local_id,omitempty"`
	TargetName     string  `json:"target_name"`
	Similarity     float64 `json:"similarity"`
}

// Key identifies an edge by its endpoints regardless of direction. Local ids
// are preferred; edges written before local ids were recorded fall back to
// names.
func (e Edge) Key() string {
	source := e.SourceDocument + "/" + endpointLabel(e.SourceLocalID, e.SourceName)
	target := e.TargetDocument + "/" + endpointLabel(e.TargetLocalID, e.TargetName)
	if target < source {
		source, target = target, source
	}
	return source + "|" + target
}

func endpointLabel(localID, name string) string {
	if localID != "" {
		return "#" + localID
	}
	return strings.ToLower(name)
}

// Cluster is the resolved representation of one real-world entity.
type Cluster struct {
	NumericID     int             `json:"numeric_id"`
	StableKey     string          `json:"stable_key,omitempty"`
	CanonicalName string          `json:"canonical_name"`
	Category      Category        `json:"category"`
	Subcategory   string          `json:"subcategory,omitempty"`
	DocumentCount int             `json:"document_count"`
	TotalMentions int             `json:"total_mentions"`
	Members       []Member        `json:"members"`
	Edges         []Edge          `json:"cross_member_edges"`
	GroundTruth   json.RawMessage `json:"ground_truth,omitempty"`
}

// Recount recomputes TotalMentions and DocumentCount from the members.
func (c *Cluster) Recount() {
	total := 0
	for _, member := range c.Members {
		total += member.Count
	}
	c.TotalMentions = total
	c.DocumentCount = len(c.DocumentIDs())
}

// DocumentIDs returns the sorted distinct source documents of the members.
func (c Cluster) DocumentIDs() []string {
	seen := make(map[string]struct{}, len(c.Members))
	out := make([]string, 0, len(c.Members))
	for _, member := range c.Members {
		if _, ok := seen[member.DocumentID]; ok {
			continue
		}
		seen[member.DocumentID] = struct{}{}
		out = append(out, member.DocumentID)
	}
	sort.Strings(out)
	return out
}

// HasGroundTruth reports whether an enrichment payload is attached.
func (c Cluster) HasGroundTruth() bool {
	trimmed := bytes.TrimSpace(c.GroundTruth)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "{}":
		return false
	}
	return true
}

// Clone returns a deep copy so later stages can work without aliasing the
// previous stage's output.
func (c Cluster) Clone() Cluster {
	out := c
	out.Members = make([]Member, len(c.Members))
	for i, member := range c.Members {
		member.Variants = append([]string(nil), member.Variants...)
		member.Contexts = append([]string(nil), member.Contexts...)
		out.Members[i] = member
	}
	out.Edges = append([]Edge(nil), c.Edges...)
	if c.GroundTruth != nil {
		out.GroundTruth = append(json.RawMessage(nil), c.GroundTruth...)
	}
	return out
}

func CloneClusters(clusters []Cluster) []Cluster {
	out := make([]Cluster, len(clusters))
	for i := range clusters {
		out[i] = clusters[i].Clone()
	}
	return out
}

// SortAndNumber orders clusters by descending document count, then
// descending total mentions, and assigns numeric ids starting at 1. The
// remaining tie-breaks only exist to keep the order reproducible.
func SortAndNumber(clusters []Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if a.DocumentCount != b.DocumentCount {
			return a.DocumentCount > b.DocumentCount
		}
		if a.TotalMentions != b.TotalMentions {
			return a.TotalMentions > b.TotalMentions
		}
		if a.CanonicalName != b.CanonicalName {
			return a.CanonicalName < b.CanonicalName
		}
		return firstMemberID(a).Less(firstMemberID(b))
	})
	for i := range clusters {
		clusters[i].NumericID = i + 1
	}
}

func firstMemberID(c Cluster) MentionID {
	if len(c.Members) == 0 {
		return MentionID{}
	}
	return c.Members[0].ID()
}
