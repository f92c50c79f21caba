package entity

import (
	"fmt"
	"strings"
)

const (
	DefaultMatchThreshold              = 0.84
	DefaultPersonThreshold             = 0.80
	DefaultLexicalBonusCutoff          = 0.5
	DefaultLexicalBonus                = 0.03
	DefaultAnchorEdgeFloor             = 0.84
	DefaultAnchorLexicalStrong         = 0.35
	DefaultAnchorLexicalWeak           = 0.20
	DefaultAnchorStrictEmbedding       = 0.90
	DefaultNearDuplicateThreshold      = 0.83
	DefaultPlaceNearDuplicateThreshold = 0.85
	DefaultMigrationMinOverlapScore    = 3
	DefaultMigrationMinNameOverlap     = 2
	DefaultMigrationMinAliasHits       = 2
	DefaultStableKeyMaxTokens          = 16
	DefaultStableKeyMaxVariants        = 5
	DefaultStableKeyHexLength          = 16
	DefaultStableKeyPrefix             = "clu"
	DefaultGroundTruthIDPath           = "wikidata_id"
	DefaultGroundTruthNamePath         = "modern_name"
)

// Policy is the scoring and validation configuration shared by every stage.
// It is passed by value and never modified during a run.
type Policy struct {
	MatchThreshold     float64
	PersonThreshold    float64
	LexicalBonusCutoff float64
	LexicalBonus       float64

	// A non-anchor member needs a direct anchor edge at or above
	// AnchorEdgeFloor plus lexical >= AnchorLexicalStrong, or a direct edge
	// at or above AnchorStrictEmbedding plus lexical >= AnchorLexicalWeak, or
	// a direct edge and a name that contains (or is contained in) the anchor's.
	AnchorEdgeFloor       float64
	AnchorLexicalStrong   float64
	AnchorLexicalWeak     float64
	AnchorStrictEmbedding float64

	NearDuplicateThreshold      float64
	PlaceNearDuplicateThreshold float64

	MigrationMinOverlapScore int
	MigrationMinNameOverlap  int
	MigrationMinAliasHits    int

	StableKeyMaxTokens   int
	StableKeyMaxVariants int
	StableKeyHexLength   int
	StableKeyPrefix      string

	GroundTruthIDPath   string
	GroundTruthNamePath string
}

func DefaultPolicy() Policy {
	return Policy{
		MatchThreshold:              DefaultMatchThreshold,
		PersonThreshold:             DefaultPersonThreshold,
		LexicalBonusCutoff:          DefaultLexicalBonusCutoff,
		LexicalBonus:                DefaultLexicalBonus,
		AnchorEdgeFloor:             DefaultAnchorEdgeFloor,
		AnchorLexicalStrong:         DefaultAnchorLexicalStrong,
		AnchorLexicalWeak:           DefaultAnchorLexicalWeak,
		AnchorStrictEmbedding:       DefaultAnchorStrictEmbedding,
		NearDuplicateThreshold:      DefaultNearDuplicateThreshold,
		PlaceNearDuplicateThreshold: DefaultPlaceNearDuplicateThreshold,
		MigrationMinOverlapScore:    DefaultMigrationMinOverlapScore,
		MigrationMinNameOverlap:     DefaultMigrationMinNameOverlap,
		MigrationMinAliasHits:       DefaultMigrationMinAliasHits,
		StableKeyMaxTokens:          DefaultStableKeyMaxTokens,
		StableKeyMaxVariants:        DefaultStableKeyMaxVariants,
		StableKeyHexLength:          DefaultStableKeyHexLength,
		StableKeyPrefix:             DefaultStableKeyPrefix,
		GroundTruthIDPath:           DefaultGroundTruthIDPath,
		GroundTruthNamePath:         DefaultGroundTruthNamePath,
	}
}

// ThresholdFor returns the base embedding threshold of a category.
func (p Policy) ThresholdFor(category Category) float64 {
	if category == CategoryPerson {
		return p.PersonThreshold
	}
	return p.MatchThreshold
}

// MatchThresholdFor lowers the base threshold when the names are
// orthographically close.
func (p Policy) MatchThresholdFor(category Category, lexical float64) float64 {
	threshold := p.ThresholdFor(category)
	if lexical > p.LexicalBonusCutoff {
		threshold -= p.LexicalBonus
	}
	return threshold
}

func (p Policy) NearDuplicateThresholdFor(category Category) float64 {
	if category == CategoryPlace {
		return p.PlaceNearDuplicateThreshold
	}
	return p.NearDuplicateThreshold
}

func (p Policy) Validate() error {
	unit := []struct {
		name  string
		value float64
	}{
		{"match threshold", p.MatchThreshold},
		{"person threshold", p.PersonThreshold},
		{"lexical bonus cutoff", p.LexicalBonusCutoff},
		{"lexical bonus", p.LexicalBonus},
		{"anchor edge floor", p.AnchorEdgeFloor},
		{"anchor lexical strong", p.AnchorLexicalStrong},
		{"anchor lexical weak", p.AnchorLexicalWeak},
		{"anchor strict embedding", p.AnchorStrictEmbedding},
		{"near-duplicate threshold", p.NearDuplicateThreshold},
		{"place near-duplicate threshold", p.PlaceNearDuplicateThreshold},
	}
	for _, field := range unit {
		if field.value < 0 || field.value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", field.name, field.value)
		}
	}
	if p.AnchorLexicalWeak > p.AnchorLexicalStrong {
		return fmt.Errorf("anchor lexical weak (%v) cannot exceed anchor lexical strong (%v)", p.AnchorLexicalWeak, p.AnchorLexicalStrong)
	}
	if p.MigrationMinOverlapScore < 1 {
		return fmt.Errorf("migration min overlap score must be >= 1")
	}
	if p.MigrationMinNameOverlap < 1 {
		return fmt.Errorf("migration min name overlap must be >= 1")
	}
	if p.MigrationMinAliasHits < 1 {
		return fmt.Errorf("migration min alias hits must be >= 1")
	}
	if p.StableKeyMaxTokens < 1 {
		return fmt.Errorf("stable key max tokens must be >= 1")
	}
	if p.StableKeyMaxVariants < 0 {
		return fmt.Errorf("stable key max variants must be >= 0")
	}
	if p.StableKeyHexLength < 8 || p.StableKeyHexLength > 40 {
		return fmt.Errorf("stable key hex length must be between 8 and 40")
	}
	if strings.TrimSpace(p.StableKeyPrefix) == "" {
		return fmt.Errorf("stable key prefix is required")
	}
	return nil
}
