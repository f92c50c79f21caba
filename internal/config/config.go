package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DatabaseURL is only needed by publish, serve and health.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"CONCORDANCE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CONCORDANCE_DB_MAX_CONNS" default:"8"`

	Workers int `envconfig:"CONCORDANCE_WORKERS" default:"0"`

	EmbeddingEndpoint       string        `envconfig:"CONCORDANCE_EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModel          string        `envconfig:"CONCORDANCE_EMBEDDING_MODEL" default:"finetuned-bge-m3-v2"`
	EmbeddingBatchSize      int           `envconfig:"CONCORDANCE_EMBEDDING_BATCH_SIZE" default:"256"`
	EmbeddingRequestTimeout time.Duration `envconfig:"CONCORDANCE_EMBEDDING_REQUEST_TIMEOUT" default:"45s"`

	MatchThreshold        float64 `envconfig:"CONCORDANCE_MATCH_THRESHOLD" default:"0.84"`
	PersonThreshold       float64 `envconfig:"CONCORDANCE_PERSON_THRESHOLD" default:"0.80"`
	LexicalBonusCutoff    float64 `envconfig:"CONCORDANCE_LEXICAL_BONUS_CUTOFF" default:"0.5"`
	LexicalBonus          float64 `envconfig:"CONCORDANCE_LEXICAL_BONUS" default:"0.03"`
	AnchorEdgeFloor       float64 `envconfig:"CONCORDANCE_ANCHOR_EDGE_FLOOR" default:"0.84"`
	AnchorLexicalStrong   float64 `envconfig:"CONCORDANCE_ANCHOR_LEXICAL_STRONG" default:"0.35"`
	AnchorLexicalWeak     float64 `envconfig:"CONCORDANCE_ANCHOR_LEXICAL_WEAK" default:"0.20"`
	AnchorStrictEmbedding float64 `envconfig:"CONCORDANCE_ANCHOR_STRICT_EMBEDDING" default:"0.90"`

	NearDuplicateThreshold      float64 `envconfig:"CONCORDANCE_NEAR_DUP_THRESHOLD" default:"0.83"`
	PlaceNearDuplicateThreshold float64 `envconfig:"CONCORDANCE_NEAR_DUP_PLACE_THRESHOLD" default:"0.85"`

	MigrationMinOverlapScore int `envconfig:"CONCORDANCE_MIGRATION_MIN_OVERLAP" default:"3"`
	MigrationMinNameOverlap  int `envconfig:"CONCORDANCE_MIGRATION_MIN_NAME_OVERLAP" default:"2"`
	MigrationMinAliasHits    int `envconfig:"CONCORDANCE_MIGRATION_MIN_ALIAS_HITS" default:"2"`

	GroundTruthIDPath   string `envconfig:"CONCORDANCE_GROUND_TRUTH_ID_PATH" default:"wikidata_id"`
	GroundTruthNamePath string `envconfig:"CONCORDANCE_GROUND_TRUTH_NAME_PATH" default:"modern_name"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("CONCORDANCE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CONCORDANCE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CONCORDANCE_DB_MIN_CONNS (%d) cannot exceed CONCORDANCE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.Workers < 0 {
		return fmt.Errorf("CONCORDANCE_WORKERS must be >= 0")
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("CONCORDANCE_EMBEDDING_BATCH_SIZE must be >= 1")
	}
	if c.EmbeddingRequestTimeout <= 0 {
		return fmt.Errorf("CONCORDANCE_EMBEDDING_REQUEST_TIMEOUT must be > 0")
	}
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	return nil
}

// RequireDatabase reports an error when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c == nil || strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Policy converts the threshold settings into the immutable policy handed to
// every pipeline stage. Stable key parameters are fixed so keys stay
// comparable across deployments.
func (c *Config) Policy() entity.Policy {
	policy := entity.DefaultPolicy()
	policy.MatchThreshold = c.MatchThreshold
	policy.PersonThreshold = c.PersonThreshold
	policy.LexicalBonusCutoff = c.LexicalBonusCutoff
	policy.LexicalBonus = c.LexicalBonus
	policy.AnchorEdgeFloor = c.AnchorEdgeFloor
	policy.AnchorLexicalStrong = c.AnchorLexicalStrong
	policy.AnchorLexicalWeak = c.AnchorLexicalWeak
	policy.AnchorStrictEmbedding = c.AnchorStrictEmbedding
	policy.NearDuplicateThreshold = c.NearDuplicateThreshold
	policy.PlaceNearDuplicateThreshold = c.PlaceNearDuplicateThreshold
	policy.MigrationMinOverlapScore = c.MigrationMinOverlapScore
	policy.MigrationMinNameOverlap = c.MigrationMinNameOverlap
	policy.MigrationMinAliasHits = c.MigrationMinAliasHits
	policy.GroundTruthIDPath = strings.TrimSpace(c.GroundTruthIDPath)
	policy.GroundTruthNamePath = strings.TrimSpace(c.GroundTruthNamePath)
	return policy
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
