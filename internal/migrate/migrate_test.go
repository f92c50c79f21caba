package migrate

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/identity"
)

func member(doc, local, name string, count int) entity.Member {
	return entity.Member{
		DocumentID: doc,
		LocalID:    local,
		Name:       name,
		Count:      count,
		Variants:   []string{name},
	}
}

func cluster(name string, category entity.Category, groundTruth string, members ...entity.Member) entity.Cluster {
	c := entity.Cluster{
		CanonicalName: name,
		Category:      category,
	}
	for _, m := range members {
		m.Category = category
		c.Members = append(c.Members, m)
	}
	if groundTruth != "" {
		c.GroundTruth = json.RawMessage(groundTruth)
	}
	c.Recount()
	return c
}

func newMigrator() *Migrator {
	return New(entity.DefaultPolicy(), zerolog.Nop())
}

func TestMigrateMemberOverlapTransfersGroundTruthAndKey(t *testing.T) {
	t.Parallel()

	old := cluster("Galeno", entity.CategoryPerson, `{"wikidata_id":"Q8778","modern_name":"Galen"}`,
		member("orta", "p1", "Galeno", 40),
		member("english", "p4", "Galen", 12),
	)
	old.StableKey = "clu_0123456789abcdef"
	rebuilt := cluster("Galeno", entity.CategoryPerson, "",
		member("orta", "p1", "Galeno", 41),
		member("english", "p4", "Galen", 12),
		member("acosta", "p7", "Galeno", 3),
	)

	result := newMigrator().Migrate([]entity.Cluster{old}, []entity.Cluster{rebuilt})
	if len(result.Mappings) != 1 || result.Mappings[0].Strategy != StrategyMemberOverlap {
		t.Fatalf("unexpected mappings: %+v", result.Mappings)
	}
	got := result.Clusters[0]
	if got.StableKey != old.StableKey {
		t.Fatalf("unexpected stable key: got %q want %q", got.StableKey, old.StableKey)
	}
	if string(got.GroundTruth) != string(old.GroundTruth) {
		t.Fatalf("unexpected ground truth: got %s", got.GroundTruth)
	}
	if result.GroundTruthTransferred != 1 || result.KeysInherited != 1 || result.Unmatched != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if rebuilt.HasGroundTruth() {
		t.Fatalf("input cluster was modified")
	}
}

func TestMigrateMatchesRenamedMembersThroughVariants(t *testing.T) {
	t.Parallel()

	renamed := member("orta", "e1", "Galeno", 40)
	renamed.Variants = []string{"Galeno", "Galenus"}
	old := cluster("Galeno", entity.CategoryPerson, `{"wikidata_id":"Q8778"}`,
		renamed,
		member("monardes", "e9", "Galen", 12),
	)
	old.StableKey = "clu_0123456789abcdef"

	rebuiltMember := member("orta", "x3", "Galenus", 40)
	rebuiltMember.Variants = []string{"Galenus", "Galeno"}
	rebuilt := cluster("Galenus", entity.CategoryPerson, "",
		rebuiltMember,
		member("monardes", "x4", "Galen", 12),
	)

	result := newMigrator().Migrate([]entity.Cluster{old}, []entity.Cluster{rebuilt})
	if len(result.Mappings) != 1 || result.Mappings[0].Strategy != StrategyMemberOverlap {
		t.Fatalf("unexpected mappings: %+v", result.Mappings)
	}
	got := result.Clusters[0]
	if got.StableKey != old.StableKey {
		t.Fatalf("unexpected stable key: got %q want %q", got.StableKey, old.StableKey)
	}
	if string(got.GroundTruth) != string(old.GroundTruth) {
		t.Fatalf("unexpected ground truth: got %s want %s", got.GroundTruth, old.GroundTruth)
	}
	if result.Unmatched != 0 {
		t.Fatalf("unexpected unmatched count: got %d want 0", result.Unmatched)
	}
}

func TestMigrateVariantsCountOncePerMember(t *testing.T) {
	t.Parallel()

	donor := member("orta", "e1", "Pimenta", 8)
	donor.Variants = []string{"Pimenta", "Pimienta", "Piper"}
	old := cluster("Pimenta", entity.CategoryPlant, `{"modern_name":"pepper"}`,
		donor,
		member("acosta", "e2", "Betel", 2),
	)
	recipient := member("orta", "e5", "Piper", 8)
	recipient.Variants = []string{"Piper", "Pimienta", "Pimenta"}
	rebuilt := cluster("Piper", entity.CategoryPlant, "",
		recipient,
		member("english", "e6", "Nutmeg", 5),
	)

	result := newMigrator().Migrate([]entity.Cluster{old}, []entity.Cluster{rebuilt})
	for _, mapping := range result.Mappings {
		if mapping.Strategy == StrategyMemberOverlap {
			t.Fatalf("one shared member must not clear the overlap floor: %+v", mapping)
		}
	}
}

func TestMigrateExternalIDWinsConflict(t *testing.T) {
	t.Parallel()

	old := cluster("Mercurio", entity.CategorySubstance, `{"wikidata_id":"Q925","modern_name":"mercury"}`,
		member("orta", "s1", "Mercurio", 9),
		member("monardes", "s2", "Azogue", 4),
	)
	old.StableKey = "clu_mercury"
	enriched := cluster("Quicksilver", entity.CategorySubstance, `{"wikidata_id":"Q925"}`,
		member("english", "s8", "Quicksilver", 2),
		member("acosta", "s3", "Argento vivo", 1),
	)
	overlapping := cluster("Mercurio", entity.CategorySubstance, "",
		member("orta", "s1", "Mercurio", 9),
		member("monardes", "s2", "Azogue", 4),
	)

	result := newMigrator().Migrate([]entity.Cluster{old}, []entity.Cluster{overlapping, enriched})
	if len(result.Mappings) != 1 {
		t.Fatalf("unexpected mappings: %+v", result.Mappings)
	}
	mapping := result.Mappings[0]
	if mapping.NewIndex != 1 || mapping.Strategy != StrategyExternalID {
		t.Fatalf("unexpected mapping: %+v", mapping)
	}
	if result.Clusters[1].StableKey != "clu_mercury" {
		t.Fatalf("unexpected inherited key: %q", result.Clusters[1].StableKey)
	}
	if result.Clusters[0].HasGroundTruth() {
		t.Fatalf("overlapping cluster should not receive ground truth")
	}
	if result.Clusters[0].StableKey != identity.New(entity.DefaultPolicy()).Key(overlapping) {
		t.Fatalf("unmatched cluster should get a derived key, got %q", result.Clusters[0].StableKey)
	}
	if result.Unmatched != 1 || result.ByStrategy[StrategyExternalID] != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
}

func TestMigrateSingleWeakSignalIsNotEnough(t *testing.T) {
	t.Parallel()

	old := cluster("Cravo", entity.CategoryPlant, `{"modern_name":"clove"}`,
		member("orta", "e9", "Cravo", 6),
		member("acosta", "e2", "Girofle", 2),
	)
	rebuilt := cluster("Cravo", entity.CategoryPlant, "",
		member("orta", "e4", "Cravo", 6),
		member("english", "e1", "Nutmeg", 5),
	)

	result := newMigrator().Migrate([]entity.Cluster{old}, []entity.Cluster{rebuilt})
	if len(result.Mappings) != 0 {
		t.Fatalf("expected no mappings, got %+v", result.Mappings)
	}
	if result.Clusters[0].HasGroundTruth() {
		t.Fatalf("expected no ground truth transfer")
	}
}

func TestMigrateAliasFallback(t *testing.T) {
	t.Parallel()

	old := cluster("Cravo", entity.CategoryPlant, `{"modern_name":"clove"}`,
		member("orta", "e9", "Cravo", 6),
		member("acosta", "e2", "Girofle", 2),
	)
	rebuilt := cluster("Clove", entity.CategoryPlant, "",
		member("english", "e1", "Clove", 5),
		member("monardes", "e3", "Cravo", 2),
	)
	otherCategory := cluster("Clove", entity.CategorySubstance, "",
		member("english", "s1", "Clove", 5),
		member("monardes", "s3", "Cravo", 2),
	)

	result := newMigrator().Migrate([]entity.Cluster{old}, []entity.Cluster{otherCategory, rebuilt})
	if len(result.Mappings) != 1 {
		t.Fatalf("unexpected mappings: %+v", result.Mappings)
	}
	if got := result.Mappings[0]; got.Strategy != StrategyAliasMatch || got.NewIndex != 1 || got.Score != 2 {
		t.Fatalf("unexpected mapping: %+v", got)
	}
	if !result.Clusters[1].HasGroundTruth() {
		t.Fatalf("expected ground truth on the alias match")
	}
}

func TestMigrateNeverDuplicatesDonorsOrRecipients(t *testing.T) {
	t.Parallel()

	olds := []entity.Cluster{
		cluster("Canela", entity.CategoryPlant, `{"wikidata_id":"Q28165"}`,
			member("orta", "e1", "Canela", 10), member("monardes", "e2", "Canela", 4)),
		cluster("Canella", entity.CategoryPlant, `{"wikidata_id":"Q370239"}`,
			member("orta", "e1", "Canela", 10), member("acosta", "e5", "Canella", 3)),
	}
	news := []entity.Cluster{
		cluster("Canela", entity.CategoryPlant, "",
			member("orta", "e1", "Canela", 10), member("monardes", "e2", "Canela", 4), member("acosta", "e5", "Canella", 3)),
		cluster("Canela", entity.CategoryPlant, "",
			member("orta", "e1", "Canela", 10), member("english", "e7", "Cinnamon", 8)),
		cluster("Canella", entity.CategoryPlant, "",
			member("acosta", "e5", "Canella", 3), member("english", "e8", "Canella", 1)),
	}

	result := newMigrator().Migrate(olds, news)
	donors := make(map[int]int)
	recipients := make(map[int]int)
	for _, mapping := range result.Mappings {
		donors[mapping.OldIndex]++
		recipients[mapping.NewIndex]++
	}
	for idx, n := range donors {
		if n > 1 {
			t.Fatalf("old cluster %d donated %d times", idx, n)
		}
	}
	for idx, n := range recipients {
		if n > 1 {
			t.Fatalf("new cluster %d received %d times", idx, n)
		}
	}
	if len(result.Mappings) != 2 {
		t.Fatalf("unexpected mapping count: got %d want 2", len(result.Mappings))
	}

	keys := make(map[string]struct{})
	for _, c := range result.Clusters {
		if c.StableKey == "" {
			t.Fatalf("cluster %q has no stable key", c.CanonicalName)
		}
		if _, dup := keys[c.StableKey]; dup {
			t.Fatalf("duplicate stable key %q", c.StableKey)
		}
		keys[c.StableKey] = struct{}{}
	}
}

func TestMigrateIsDeterministic(t *testing.T) {
	t.Parallel()

	olds := []entity.Cluster{
		cluster("Aloe", entity.CategoryPlant, `{"wikidata_id":"Q127134"}`,
			member("orta", "e1", "Aloe", 50), member("monardes", "e7", "Acibar", 4)),
	}
	news := []entity.Cluster{
		cluster("Aloe", entity.CategoryPlant, "", member("orta", "e1", "Aloe", 50), member("acosta", "e2", "Aloe", 4)),
		cluster("Aloe", entity.CategoryPlant, "", member("orta", "e1", "Aloe", 50), member("english", "e3", "Aloes", 4)),
	}

	first := newMigrator().Migrate(olds, news)
	for i := 0; i < 10; i++ {
		again := newMigrator().Migrate(olds, news)
		if len(again.Mappings) != 1 || again.Mappings[0].NewIndex != first.Mappings[0].NewIndex {
			t.Fatalf("migration is not deterministic: %+v vs %+v", again.Mappings, first.Mappings)
		}
	}
	if first.Mappings[0].NewIndex != 0 {
		t.Fatalf("expected the earlier cluster to win the tie, got %d", first.Mappings[0].NewIndex)
	}
}
