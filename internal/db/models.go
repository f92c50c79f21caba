package db

import (
	"encoding/json"
	"time"
)

const (
	RunStatusCurrent    = "current"
	RunStatusSuperseded = "superseded"
)

// Run maps concordance.runs. Exactly one run is current at a time.
type Run struct {
	RunID          int64           `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID        string          `gorm:"column:run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Source         string          `gorm:"column:source;type:text;not null"`
	Status         string          `gorm:"column:status;type:concordance.run_status;not null;default:current"`
	BuiltAt        time.Time       `gorm:"column:built_at;type:timestamptz;not null"`
	EmbeddingModel string          `gorm:"column:embedding_model;type:text;not null;default:''"`
	ClusterCount   int             `gorm:"column:cluster_count;type:integer;not null;default:0"`
	DocumentCount  int             `gorm:"column:document_count;type:integer;not null;default:0"`
	Metadata       json.RawMessage `gorm:"column:metadata;type:jsonb;not null"`
	Documents      json.RawMessage `gorm:"column:documents;type:jsonb;not null"`
	Stats          json.RawMessage `gorm:"column:stats;type:jsonb;not null"`
	PublishedAt    time.Time       `gorm:"column:published_at;type:timestamptz;not null;default:now()"`
}

func (Run) TableName() string { return "concordance.runs" }

// Cluster maps concordance.clusters.
type Cluster struct {
	ClusterID     int64           `gorm:"column:cluster_id;primaryKey;autoIncrement"`
	RunID         int64           `gorm:"column:run_id;type:bigint;not null;uniqueIndex:idx_clusters_run_stable_key,priority:1"`
	StableKey     string          `gorm:"column:stable_key;type:text;not null;uniqueIndex:idx_clusters_run_stable_key,priority:2"`
	NumericID     int             `gorm:"column:numeric_id;type:integer;not null"`
	CanonicalName string          `gorm:"column:canonical_name;type:text;not null"`
	Category      string          `gorm:"column:category;type:text;not null"`
	Subcategory   string          `gorm:"column:subcategory;type:text;not null;default:''"`
	DocumentCount int             `gorm:"column:document_count;type:integer;not null"`
	TotalMentions int             `gorm:"column:total_mentions;type:integer;not null"`
	GroundTruth   json.RawMessage `gorm:"column:ground_truth;type:jsonb"`
}

func (Cluster) TableName() string { return "concordance.clusters" }

// ClusterMember maps concordance.cluster_members.
type ClusterMember struct {
	MemberID     int64           `gorm:"column:member_id;primaryKey;autoIncrement"`
	ClusterID    int64           `gorm:"column:cluster_id;type:bigint;not null;index"`
	Position     int             `gorm:"column:position;type:integer;not null"`
	DocumentID   string          `gorm:"column:document_id;type:text;not null"`
	LocalID      string          `gorm:"column:local_id;type:text;not null"`
	Name         string          `gorm:"column:name;type:text;not null"`
	Category     string          `gorm:"column:category;type:text;not null"`
	Subcategory  string          `gorm:"column:subcategory;type:text;not null;default:''"`
	MentionCount int             `gorm:"column:mention_count;type:integer;not null"`
	Variants     json.RawMessage `gorm:"column:variants;type:jsonb;not null"`
	Contexts     json.RawMessage `gorm:"column:contexts;type:jsonb;not null"`
}

func (ClusterMember) TableName() string { return "concordance.cluster_members" }

// ClusterEdge maps concordance.cluster_edges.
type ClusterEdge struct {
	EdgeID         int64   `gorm:"column:edge_id;primaryKey;autoIncrement"`
	ClusterID      int64   `gorm:"column:cluster_id;type:bigint;not null;index"`
	SourceDocument string  `gorm:"column:source_document;type:text;not null"`
	SourceLocalID  string  `gorm:"column:source_local_id;type:text;not null;default:''"`
	SourceName     string  `gorm:"column:source_name;type:text;not null"`
	TargetDocument string  `gorm:"column:target_document;type:text;not null"`
	TargetLocalID  string  `gorm:"column:target_local_id;type:text;not null;default:''"`
	TargetName     string  `gorm:"column:target_name;type:text;not null"`
	Similarity     float64 `gorm:"column:similarity;type:double precision;not null"`
}

func (ClusterEdge) TableName() string { return "concordance.cluster_edges" }

// ReviewItem maps concordance.review_items.
type ReviewItem struct {
	ReviewItemID  int64           `gorm:"column:review_item_id;primaryKey;autoIncrement"`
	RunID         int64           `gorm:"column:run_id;type:bigint;not null"`
	Position      int             `gorm:"column:position;type:integer;not null"`
	Kind          string          `gorm:"column:kind;type:text;not null"`
	StableKey     string          `gorm:"column:stable_key;type:text;not null;default:''"`
	NumericID     int             `gorm:"column:numeric_id;type:integer;not null;default:0"`
	CanonicalName string          `gorm:"column:canonical_name;type:text;not null"`
	Category      string          `gorm:"column:category;type:text;not null"`
	Reasons       json.RawMessage `gorm:"column:reasons;type:jsonb;not null"`
	Prompt        string          `gorm:"column:prompt;type:text;not null;default:''"`
	Candidate     json.RawMessage `gorm:"column:candidate;type:jsonb"`
}

func (ReviewItem) TableName() string { return "concordance.review_items" }

func autoMigrateModels() []any {
	return []any{
		&Run{},
		&Cluster{},
		&ClusterMember{},
		&ClusterEdge{},
		&ReviewItem{},
	}
}
