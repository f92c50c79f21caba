package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/merge"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

var (
	ErrNoCurrentRun    = errors.New("no concordance has been published")
	ErrClusterNotFound = errors.New("cluster not found")
)

// RunSummary describes the current published run.
type RunSummary struct {
	RunID          int64     `json:"run_id"`
	RunUUID        string    `json:"run_uuid"`
	Source         string    `json:"source"`
	BuiltAt        time.Time `json:"built_at"`
	PublishedAt    time.Time `json:"published_at"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	ClusterCount   int       `json:"cluster_count"`
	DocumentCount  int       `json:"document_count"`
}

// CategoryCount stores cluster and member counts of one category.
type CategoryCount struct {
	Category string `json:"category"`
	Clusters int64  `json:"clusters"`
	Members  int64  `json:"members"`
}

// ConcordanceStats is the read model returned by the stats endpoint.
type ConcordanceStats struct {
	Run             RunSummary      `json:"run"`
	Clusters        int64           `json:"clusters"`
	Members         int64           `json:"members"`
	Edges           int64           `json:"edges"`
	WithGroundTruth int64           `json:"with_ground_truth"`
	ReviewItems     int64           `json:"review_items"`
	Categories      []CategoryCount `json:"categories"`
}

// ClusterFilter narrows a cluster listing of the current run.
type ClusterFilter struct {
	Category     string
	Query        string
	MinDocuments int
	Page         int
	PageSize     int
}

// ClusterSummary is one row of a cluster listing.
type ClusterSummary struct {
	StableKey      string `json:"stable_key"`
	NumericID      int    `json:"numeric_id"`
	CanonicalName  string `json:"canonical_name"`
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory,omitempty"`
	DocumentCount  int    `json:"document_count"`
	TotalMentions  int    `json:"total_mentions"`
	MemberCount    int    `json:"member_count"`
	HasGroundTruth bool   `json:"has_ground_truth"`
}

func (p *Pool) CurrentRun(ctx context.Context) (*RunSummary, error) {
	const query = `
SELECT
	r.run_id,
	r.run_uuid::text,
	r.source,
	r.built_at,
	r.published_at,
	r.embedding_model,
	r.cluster_count,
	r.document_count
FROM concordance.runs r
WHERE r.status = 'current'
`

	gdb, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	var run RunSummary
	if err := gdb.Raw(query).Row().Scan(
		&run.RunID,
		&run.RunUUID,
		&run.Source,
		&run.BuiltAt,
		&run.PublishedAt,
		&run.EmbeddingModel,
		&run.ClusterCount,
		&run.DocumentCount,
	); err != nil {
		if isNoRows(err) {
			return nil, ErrNoCurrentRun
		}
		return nil, fmt.Errorf("query current run: %w", err)
	}
	return &run, nil
}

func (p *Pool) QueryConcordanceStats(ctx context.Context) (*ConcordanceStats, error) {
	run, err := p.CurrentRun(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ConcordanceStats{
		Run:        *run,
		Categories: make([]CategoryCount, 0, 16),
	}

	const totalsQuery = `
SELECT
	(SELECT COUNT(*) FROM concordance.clusters c WHERE c.run_id = $1) AS clusters,
	(SELECT COUNT(*) FROM concordance.cluster_members m JOIN concordance.clusters c ON c.cluster_id = m.cluster_id WHERE c.run_id = $1) AS members,
	(SELECT COUNT(*) FROM concordance.cluster_edges e JOIN concordance.clusters c ON c.cluster_id = e.cluster_id WHERE c.run_id = $1) AS edges,
	(SELECT COUNT(*) FROM concordance.clusters c WHERE c.run_id = $1 AND c.ground_truth IS NOT NULL) AS with_ground_truth,
	(SELECT COUNT(*) FROM concordance.review_items ri WHERE ri.run_id = $1) AS review_items
`
	gdb, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := gdb.Raw(totalsQuery, run.RunID).Row().Scan(
		&stats.Clusters,
		&stats.Members,
		&stats.Edges,
		&stats.WithGroundTruth,
		&stats.ReviewItems,
	); err != nil {
		return nil, fmt.Errorf("query concordance totals: %w", err)
	}

	const categoryQuery = `
SELECT
	c.category,
	COUNT(DISTINCT c.cluster_id)::BIGINT AS clusters,
	COUNT(m.member_id)::BIGINT AS members
FROM concordance.clusters c
LEFT JOIN concordance.cluster_members m
	ON m.cluster_id = c.cluster_id
WHERE c.run_id = $1
GROUP BY c.category
ORDER BY c.category
`
	rows, err := gdb.Raw(categoryQuery, run.RunID).Rows()
	if err != nil {
		return nil, fmt.Errorf("query category counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row CategoryCount
		if err := rows.Scan(&row.Category, &row.Clusters, &row.Members); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		stats.Categories = append(stats.Categories, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rows: %w", err)
	}

	return stats, nil
}

// QueryClusters lists clusters of the current run in numeric id order. The
// text query matches the canonical name or any member name.
func (p *Pool) QueryClusters(ctx context.Context, filter ClusterFilter) (int64, []ClusterSummary, error) {
	run, err := p.CurrentRun(ctx)
	if err != nil {
		return 0, nil, err
	}

	search := ""
	if q := strings.TrimSpace(filter.Query); q != "" {
		search = "%" + q + "%"
	}

	const countQuery = `
SELECT COUNT(*)
FROM concordance.clusters c
WHERE c.run_id = $1
  AND ($2 = '' OR c.category = $2)
  AND c.document_count >= $3
  AND ($4 = '' OR c.canonical_name ILIKE $4 OR EXISTS (
	SELECT 1 FROM concordance.cluster_members m
	WHERE m.cluster_id = c.cluster_id AND m.name ILIKE $4
  ))
`

	gdb, err := p.session(ctx)
	if err != nil {
		return 0, nil, err
	}
	var total int64
	if err := gdb.Raw(countQuery, run.RunID, filter.Category, filter.MinDocuments, search).Row().Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count clusters: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize

	const rowsQuery = `
SELECT
	c.stable_key,
	c.numeric_id,
	c.canonical_name,
	c.category,
	c.subcategory,
	c.document_count,
	c.total_mentions,
	(SELECT COUNT(*) FROM concordance.cluster_members m WHERE m.cluster_id = c.cluster_id) AS member_count,
	c.ground_truth IS NOT NULL AS has_ground_truth
FROM concordance.clusters c
WHERE c.run_id = $1
  AND ($2 = '' OR c.category = $2)
  AND c.document_count >= $3
  AND ($4 = '' OR c.canonical_name ILIKE $4 OR EXISTS (
	SELECT 1 FROM concordance.cluster_members m
	WHERE m.cluster_id = c.cluster_id AND m.name ILIKE $4
  ))
ORDER BY c.numeric_id
LIMIT $5
OFFSET $6
`

	rows, err := gdb.Raw(rowsQuery, run.RunID, filter.Category, filter.MinDocuments, search, filter.PageSize, offset).Rows()
	if err != nil {
		return 0, nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	items := make([]ClusterSummary, 0, filter.PageSize)
	for rows.Next() {
		var row ClusterSummary
		if err := rows.Scan(
			&row.StableKey,
			&row.NumericID,
			&row.CanonicalName,
			&row.Category,
			&row.Subcategory,
			&row.DocumentCount,
			&row.TotalMentions,
			&row.MemberCount,
			&row.HasGroundTruth,
		); err != nil {
			return 0, nil, fmt.Errorf("scan cluster row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate cluster rows: %w", err)
	}

	return total, items, nil
}

// QueryCluster loads one cluster of the current run by stable key.
func (p *Pool) QueryCluster(ctx context.Context, stableKey string) (*entity.Cluster, error) {
	run, err := p.CurrentRun(ctx)
	if err != nil {
		return nil, err
	}

	gdb := p.gdb.WithContext(ctx)

	var row Cluster
	result := gdb.Where("run_id = ? AND stable_key = ?", run.RunID, stableKey).Limit(1).Find(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("query cluster %s: %w", stableKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrClusterNotFound
	}

	var members []ClusterMember
	if err := gdb.Where("cluster_id = ?", row.ClusterID).Order("position").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("query members of %s: %w", stableKey, err)
	}
	var edges []ClusterEdge
	if err := gdb.Where("cluster_id = ?", row.ClusterID).Order("edge_id").Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("query edges of %s: %w", stableKey, err)
	}

	cluster, err := clusterFromRows(row, members, edges)
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

// QueryReviewItems returns the stored review queue of the current run.
func (p *Pool) QueryReviewItems(ctx context.Context, kind string, limit int) ([]review.Item, error) {
	run, err := p.CurrentRun(ctx)
	if err != nil {
		return nil, err
	}

	query := p.gdb.WithContext(ctx).Where("run_id = ?", run.RunID)
	if kind = strings.TrimSpace(kind); kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []ReviewItem
	if err := query.Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query review items: %w", err)
	}

	items := make([]review.Item, 0, len(rows))
	for _, row := range rows {
		item, err := reviewItemFromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func clusterFromRows(row Cluster, members []ClusterMember, edges []ClusterEdge) (entity.Cluster, error) {
	cluster := entity.Cluster{
		NumericID:     row.NumericID,
		StableKey:     row.StableKey,
		CanonicalName: row.CanonicalName,
		Category:      entity.Category(row.Category),
		Subcategory:   row.Subcategory,
		DocumentCount: row.DocumentCount,
		TotalMentions: row.TotalMentions,
		Members:       make([]entity.Member, 0, len(members)),
		Edges:         make([]entity.Edge, 0, len(edges)),
		GroundTruth:   row.GroundTruth,
	}

	for _, m := range members {
		member := entity.Member{
			DocumentID:  m.DocumentID,
			LocalID:     m.LocalID,
			Name:        m.Name,
			Category:    entity.Category(m.Category),
			Subcategory: m.Subcategory,
			Count:       m.MentionCount,
		}
		if err := unmarshalStrings(m.Variants, &member.Variants); err != nil {
			return entity.Cluster{}, fmt.Errorf("decode variants of %s: %w", member.ID(), err)
		}
		if err := unmarshalStrings(m.Contexts, &member.Contexts); err != nil {
			return entity.Cluster{}, fmt.Errorf("decode contexts of %s: %w", member.ID(), err)
		}
		cluster.Members = append(cluster.Members, member)
	}

	for _, e := range edges {
		cluster.Edges = append(cluster.Edges, entity.Edge{
			SourceDocument: e.SourceDocument,
			SourceLocalID:  e.SourceLocalID,
			SourceName:     e.SourceName,
			TargetDocument: e.TargetDocument,
			TargetLocalID:  e.TargetLocalID,
			TargetName:     e.TargetName,
			Similarity:     e.Similarity,
		})
	}

	return cluster, nil
}

func reviewItemFromRow(row ReviewItem) (review.Item, error) {
	item := review.Item{
		Kind:          row.Kind,
		StableKey:     row.StableKey,
		NumericID:     row.NumericID,
		CanonicalName: row.CanonicalName,
		Category:      entity.Category(row.Category),
		Prompt:        row.Prompt,
	}
	if err := unmarshalStrings(row.Reasons, &item.Reasons); err != nil {
		return review.Item{}, fmt.Errorf("decode review reasons: %w", err)
	}
	if len(row.Candidate) > 0 && string(row.Candidate) != "null" {
		var candidate merge.Candidate
		if err := json.Unmarshal(row.Candidate, &candidate); err != nil {
			return review.Item{}, fmt.Errorf("decode review candidate: %w", err)
		}
		item.Candidate = &candidate
	}
	return item, nil
}

func unmarshalStrings(raw json.RawMessage, out *[]string) error {
	*out = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
