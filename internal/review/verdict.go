package review

import (
	"github.com/benjaminbreen/premodern-concordance/internal/entity"
)

// Verdict is a reviewer's answer for one cluster. Member numbers are 1-based
// positions in the cluster's member list.
type Verdict struct {
	StableKey string `json:"stable_key"`
	Keep      []int  `json:"keep"`
	Remove    []int  `json:"remove"`
	Reason    string `json:"reason,omitempty"`
}

type ApplyResult struct {
	Clusters  []entity.Cluster
	Cleaned   int
	Dissolved int
	Unknown   int
}

// Apply removes the members reviewers rejected. A cluster left with fewer
// than two members or a single document is dissolved. Clusters are
// renumbered afterwards; stable keys are left alone.
func Apply(clusters []entity.Cluster, verdicts []Verdict) ApplyResult {
	byKey := make(map[string]Verdict, len(verdicts))
	for _, verdict := range verdicts {
		byKey[verdict.StableKey] = verdict
	}

	result := ApplyResult{Clusters: make([]entity.Cluster, 0, len(clusters))}
	matched := 0
	for _, cluster := range clusters {
		verdict, ok := byKey[cluster.StableKey]
		if !ok || cluster.StableKey == "" {
			result.Clusters = append(result.Clusters, cluster.Clone())
			continue
		}
		matched++

		cleaned, changed, keep := applyVerdict(cluster, verdict)
		switch {
		case !changed:
			result.Clusters = append(result.Clusters, cluster.Clone())
		case !keep:
			result.Dissolved++
		default:
			result.Cleaned++
			result.Clusters = append(result.Clusters, cleaned)
		}
	}
	result.Unknown = len(byKey) - matched
	entity.SortAndNumber(result.Clusters)
	return result
}

func applyVerdict(cluster entity.Cluster, verdict Verdict) (entity.Cluster, bool, bool) {
	remove := make(map[int]struct{}, len(verdict.Remove))
	for _, n := range verdict.Remove {
		if n >= 1 && n <= len(cluster.Members) {
			remove[n-1] = struct{}{}
		}
	}
	if len(remove) == 0 {
		return cluster, false, true
	}

	out := cluster.Clone()
	members := out.Members
	out.Members = make([]entity.Member, 0, len(members))
	kept := make(map[string]struct{}, 2*len(members))
	for i, member := range members {
		if _, drop := remove[i]; drop {
			continue
		}
		out.Members = append(out.Members, member)
		kept[member.DocumentID+"/#"+member.LocalID] = struct{}{}
		kept[member.DocumentID+"/"+member.Name] = struct{}{}
	}
	out.Recount()
	if len(out.Members) < 2 || out.DocumentCount < 2 {
		return out, true, false
	}

	edges := out.Edges[:0]
	for _, edge := range out.Edges {
		if endpointKept(kept, edge.SourceDocument, edge.SourceLocalID, edge.SourceName) &&
			endpointKept(kept, edge.TargetDocument, edge.TargetLocalID, edge.TargetName) {
			edges = append(edges, edge)
		}
	}
	out.Edges = edges
	return out, true, true
}

func endpointKept(kept map[string]struct{}, documentID, localID, name string) bool {
	key := documentID + "/" + name
	if localID != "" {
		key = documentID + "/#" + localID
	}
	_, ok := kept[key]
	return ok
}
