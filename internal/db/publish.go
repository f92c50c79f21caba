package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/benjaminbreen/premodern-concordance/internal/concordance"
	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

const publishBatchSize = 500

// PublishResult summarizes one publish transaction.
type PublishResult struct {
	RunID       int64  `json:"run_id"`
	RunUUID     string `json:"run_uuid"`
	Superseded  int64  `json:"superseded"`
	Clusters    int    `json:"clusters"`
	Members     int    `json:"members"`
	Edges       int    `json:"edges"`
	ReviewItems int    `json:"review_items"`
}

// PublishConcordance stores file as the new current run and supersedes the
// previous one. Every cluster must already carry a stable key.
func (p *Pool) PublishConcordance(ctx context.Context, file *concordance.File, items []review.Item, source string) (*PublishResult, error) {
	gdb, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("concordance file is nil")
	}

	run, err := runRow(file, source)
	if err != nil {
		return nil, err
	}

	clusters := make([]Cluster, 0, len(file.Clusters))
	members := make([][]ClusterMember, 0, len(file.Clusters))
	edges := make([][]ClusterEdge, 0, len(file.Clusters))
	seenKeys := make(map[string]int, len(file.Clusters))
	for _, cluster := range file.Clusters {
		row, memberRows, edgeRows, err := clusterRows(cluster)
		if err != nil {
			return nil, err
		}
		if prev, dup := seenKeys[cluster.StableKey]; dup {
			return nil, fmt.Errorf("clusters %d and %d share stable key %q", prev, cluster.NumericID, cluster.StableKey)
		}
		seenKeys[cluster.StableKey] = cluster.NumericID
		clusters = append(clusters, row)
		members = append(members, memberRows)
		edges = append(edges, edgeRows)
	}

	reviewRows := make([]ReviewItem, 0, len(items))
	for i, item := range items {
		row, err := reviewItemRow(i, item)
		if err != nil {
			return nil, err
		}
		reviewRows = append(reviewRows, row)
	}

	result := &PublishResult{}
	err = gdb.Transaction(func(tx *gorm.DB) error {
		superseded := tx.Model(&Run{}).
			Where("status = ?", RunStatusCurrent).
			Update("status", RunStatusSuperseded)
		if superseded.Error != nil {
			return fmt.Errorf("supersede current run: %w", superseded.Error)
		}
		result.Superseded = superseded.RowsAffected

		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for i := range clusters {
			clusters[i].RunID = run.RunID
		}
		if len(clusters) > 0 {
			if err := tx.CreateInBatches(&clusters, publishBatchSize).Error; err != nil {
				return fmt.Errorf("insert clusters: %w", err)
			}
		}

		var allMembers []ClusterMember
		var allEdges []ClusterEdge
		for i := range clusters {
			for j := range members[i] {
				members[i][j].ClusterID = clusters[i].ClusterID
			}
			for j := range edges[i] {
				edges[i][j].ClusterID = clusters[i].ClusterID
			}
			allMembers = append(allMembers, members[i]...)
			allEdges = append(allEdges, edges[i]...)
		}
		if len(allMembers) > 0 {
			if err := tx.CreateInBatches(&allMembers, publishBatchSize).Error; err != nil {
				return fmt.Errorf("insert cluster members: %w", err)
			}
		}
		if len(allEdges) > 0 {
			if err := tx.CreateInBatches(&allEdges, publishBatchSize).Error; err != nil {
				return fmt.Errorf("insert cluster edges: %w", err)
			}
		}

		for i := range reviewRows {
			reviewRows[i].RunID = run.RunID
		}
		if len(reviewRows) > 0 {
			if err := tx.CreateInBatches(&reviewRows, publishBatchSize).Error; err != nil {
				return fmt.Errorf("insert review items: %w", err)
			}
		}

		result.Members = len(allMembers)
		result.Edges = len(allEdges)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.RunID = run.RunID
	result.RunUUID = run.RunUUID
	result.Clusters = len(clusters)
	result.ReviewItems = len(reviewRows)
	return result, nil
}

func runRow(file *concordance.File, source string) (Run, error) {
	metadata, err := json.Marshal(file.Metadata)
	if err != nil {
		return Run{}, fmt.Errorf("marshal run metadata: %w", err)
	}
	documents, err := json.Marshal(file.Documents)
	if err != nil {
		return Run{}, fmt.Errorf("marshal run documents: %w", err)
	}
	stats, err := json.Marshal(file.Stats)
	if err != nil {
		return Run{}, fmt.Errorf("marshal run stats: %w", err)
	}

	builtAt := file.Metadata.Created
	if file.Metadata.Updated != nil {
		builtAt = *file.Metadata.Updated
	}

	return Run{
		Source:         strings.TrimSpace(source),
		Status:         RunStatusCurrent,
		BuiltAt:        builtAt.UTC(),
		EmbeddingModel: file.Metadata.EmbeddingModel,
		ClusterCount:   len(file.Clusters),
		DocumentCount:  len(file.Documents),
		Metadata:       metadata,
		Documents:      documents,
		Stats:          stats,
	}, nil
}

func clusterRows(cluster entity.Cluster) (Cluster, []ClusterMember, []ClusterEdge, error) {
	if strings.TrimSpace(cluster.StableKey) == "" {
		return Cluster{}, nil, nil, fmt.Errorf("cluster %d (%s) has no stable key", cluster.NumericID, cluster.CanonicalName)
	}

	row := Cluster{
		StableKey:     cluster.StableKey,
		NumericID:     cluster.NumericID,
		CanonicalName: cluster.CanonicalName,
		Category:      string(cluster.Category),
		Subcategory:   cluster.Subcategory,
		DocumentCount: cluster.DocumentCount,
		TotalMentions: cluster.TotalMentions,
	}
	if cluster.HasGroundTruth() {
		row.GroundTruth = cluster.GroundTruth
	}

	members := make([]ClusterMember, 0, len(cluster.Members))
	for i, member := range cluster.Members {
		variants, err := marshalStrings(member.Variants)
		if err != nil {
			return Cluster{}, nil, nil, fmt.Errorf("marshal variants of %s: %w", member.ID(), err)
		}
		contexts, err := marshalStrings(member.Contexts)
		if err != nil {
			return Cluster{}, nil, nil, fmt.Errorf("marshal contexts of %s: %w", member.ID(), err)
		}
		members = append(members, ClusterMember{
			Position:     i,
			DocumentID:   member.DocumentID,
			LocalID:      member.LocalID,
			Name:         member.Name,
			Category:     string(member.Category),
			Subcategory:  member.Subcategory,
			MentionCount: member.Count,
			Variants:     variants,
			Contexts:     contexts,
		})
	}

	edges := make([]ClusterEdge, 0, len(cluster.Edges))
	for _, edge := range cluster.Edges {
		edges = append(edges, ClusterEdge{
			SourceDocument: edge.SourceDocument,
			SourceLocalID:  edge.SourceLocalID,
			SourceName:     edge.SourceName,
			TargetDocument: edge.TargetDocument,
			TargetLocalID:  edge.TargetLocalID,
			TargetName:     edge.TargetName,
			Similarity:     edge.Similarity,
		})
	}

	return row, members, edges, nil
}

func reviewItemRow(position int, item review.Item) (ReviewItem, error) {
	reasons, err := marshalStrings(item.Reasons)
	if err != nil {
		return ReviewItem{}, fmt.Errorf("marshal review reasons: %w", err)
	}
	row := ReviewItem{
		Position:      position,
		Kind:          item.Kind,
		StableKey:     item.StableKey,
		NumericID:     item.NumericID,
		CanonicalName: item.CanonicalName,
		Category:      string(item.Category),
		Reasons:       reasons,
		Prompt:        item.Prompt,
	}
	if item.Candidate != nil {
		candidate, err := json.Marshal(item.Candidate)
		if err != nil {
			return ReviewItem{}, fmt.Errorf("marshal review candidate: %w", err)
		}
		row.Candidate = candidate
	}
	return row, nil
}

func marshalStrings(values []string) (json.RawMessage, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}
