package concordance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/cluster"
	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/identity"
	"github.com/benjaminbreen/premodern-concordance/internal/matcher"
	"github.com/benjaminbreen/premodern-concordance/internal/merge"
	"github.com/benjaminbreen/premodern-concordance/internal/migrate"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

// Service runs the concordance stages in order. Each stage consumes the
// previous stage's output and never modifies it.
type Service struct {
	policy    entity.Policy
	logger    zerolog.Logger
	now       func() time.Time
	matcher   *matcher.Matcher
	extractor *cluster.Extractor
	merger    *merge.Merger
	assigner  *identity.Assigner
	migrator  *migrate.Migrator
}

func NewService(policy entity.Policy, logger zerolog.Logger) (*Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &Service{
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		matcher:   matcher.New(policy, logger.With().Str("stage", "match").Logger()),
		extractor: cluster.New(policy, logger.With().Str("stage", "extract").Logger()),
		merger:    merge.New(policy, logger.With().Str("stage", "merge").Logger()),
		assigner:  identity.New(policy),
		migrator:  migrate.New(policy, logger.With().Str("stage", "migrate").Logger()),
	}, nil
}

type BuildOptions struct {
	MinCount       int
	Workers        int
	SkipMerge      bool
	EmbeddingModel string
}

type BuildResult struct {
	File     *File
	Review   []review.Item
	Edges    int
	Extract  cluster.Report
	Merges   []merge.Record
	Deferred []merge.Candidate
}

// Build runs match, extract, merge and key assignment over documents whose
// mentions already carry embeddings.
func (s *Service) Build(ctx context.Context, documents []entity.Document, infos []DocumentInfo, opts BuildOptions) (BuildResult, error) {
	if s == nil {
		return BuildResult{}, fmt.Errorf("concordance service is not initialized")
	}
	if len(documents) < 2 {
		return BuildResult{}, fmt.Errorf("need at least 2 documents, got %d", len(documents))
	}

	started := s.now()
	edges, err := s.matcher.MatchAll(ctx, documents, opts.Workers)
	if err != nil {
		return BuildResult{}, fmt.Errorf("match documents: %w", err)
	}

	clusters, report := s.extractor.Extract(documents, edges)
	result := BuildResult{
		Edges:   len(edges),
		Extract: report,
	}

	metadata := Metadata{
		Created:        started,
		Thresholds:     ThresholdsFrom(s.policy),
		MinCount:       opts.MinCount,
		EmbeddingModel: opts.EmbeddingModel,
	}
	if !opts.SkipMerge {
		merged := s.merger.Merge(clusters)
		metadata.MergeApplied = true
		metadata.PreMergeCount = len(clusters)
		metadata.MergeCount = len(merged.Merges)
		clusters = merged.Clusters
		result.Merges = merged.Merges
	}

	s.assigner.Assign(clusters)
	if !opts.SkipMerge {
		result.Deferred = s.merger.Deferred(clusters)
	}
	result.File = &File{
		Metadata:  metadata,
		Documents: infos,
		Stats:     ComputeStats(clusters, len(documents)),
		Clusters:  clusters,
	}
	result.Review = review.Queue(clusters, result.Deferred)

	s.logger.Info().
		Int("documents", len(documents)).
		Int("edges", result.Edges).
		Int("clusters", len(clusters)).
		Int("merges", len(result.Merges)).
		Int("review_items", len(result.Review)).
		Dur("elapsed", s.now().Sub(started)).
		Msg("concordance build completed")
	return result, nil
}

type MergeResult struct {
	File     *File
	Merges   []merge.Record
	Deferred []merge.Candidate
}

// Merge reruns the near-duplicate pass on an existing concordance. Keys the
// clusters already carry are kept; absorbed clusters take their keys with
// them.
func (s *Service) Merge(file *File) MergeResult {
	merged := s.merger.Merge(file.Clusters)
	s.assigner.EnsureUnique(merged.Clusters)

	out := s.derive(file, merged.Clusters)
	out.Metadata.MergeApplied = true
	out.Metadata.PreMergeCount = len(file.Clusters)
	out.Metadata.MergeCount = len(merged.Merges)
	return MergeResult{
		File:     out,
		Merges:   merged.Merges,
		Deferred: s.merger.Deferred(merged.Clusters),
	}
}

// Migrate carries ground truth and stable keys from previous onto rebuilt.
func (s *Service) Migrate(previous, rebuilt *File, source string) (*File, migrate.Result) {
	result := s.migrator.Migrate(previous.Clusters, rebuilt.Clusters)

	out := s.derive(rebuilt, result.Clusters)
	byStrategy := make(map[string]int, len(result.ByStrategy))
	for _, strategy := range migrate.Strategies() {
		byStrategy[string(strategy)] = result.ByStrategy[strategy]
	}
	out.Metadata.Migration = &MigrationInfo{
		Source:                 source,
		Matched:                len(result.Mappings),
		ByStrategy:             byStrategy,
		GroundTruthTransferred: result.GroundTruthTransferred,
		KeysInherited:          result.KeysInherited,
		Unmatched:              result.Unmatched,
	}
	return out, result
}

// Keys fills in missing stable keys, or recomputes all of them when
// recompute is set. It returns how many keys changed.
func (s *Service) Keys(file *File, recompute bool) (*File, int) {
	clusters := entity.CloneClusters(file.Clusters)
	if !recompute {
		changed := s.assigner.EnsureUnique(clusters)
		return s.derive(file, clusters), changed
	}

	before := make([]string, len(clusters))
	for i := range clusters {
		before[i] = clusters[i].StableKey
	}
	s.assigner.Assign(clusters)
	changed := 0
	for i := range clusters {
		if clusters[i].StableKey != before[i] {
			changed++
		}
	}
	return s.derive(file, clusters), changed
}

// Review rebuilds the review queue. Deferred merge candidates are found by
// running the merger without keeping its output.
func (s *Service) Review(file *File) []review.Item {
	deferred := s.merger.Merge(file.Clusters).Deferred
	return review.Queue(file.Clusters, deferred)
}

// ApplyVerdicts removes members rejected by reviewers.
func (s *Service) ApplyVerdicts(file *File, verdicts []review.Verdict) (*File, review.ApplyResult) {
	result := review.Apply(file.Clusters, verdicts)
	out := s.derive(file, result.Clusters)
	out.Metadata.Review = &ReviewInfo{
		Cleaned:   result.Cleaned,
		Dissolved: result.Dissolved,
	}
	s.logger.Info().
		Int("verdicts", len(verdicts)).
		Int("cleaned", result.Cleaned).
		Int("dissolved", result.Dissolved).
		Int("unknown", result.Unknown).
		Msg("review verdicts applied")
	return out, result
}

// derive copies file with new clusters, stamps the update time and
// recomputes stats.
func (s *Service) derive(file *File, clusters []entity.Cluster) *File {
	updated := s.now()
	out := &File{
		Metadata:  file.Metadata,
		Documents: file.Documents,
		Clusters:  clusters,
	}
	out.Metadata.Updated = &updated
	out.Stats = ComputeStats(clusters, len(file.Documents))
	return out
}
