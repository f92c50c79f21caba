package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/similarity"
)

// Assigner derives content-based stable keys for clusters.
type Assigner struct {
	policy entity.Policy
}

func New(policy entity.Policy) *Assigner {
	return &Assigner{policy: policy}
}

// Key returns the base key of a cluster. It depends only on the category and
// the normalized names and variants of the members, never on member order or
// numeric ids.
func (a *Assigner) Key(cluster entity.Cluster) string {
	tokens := a.tokens(cluster)
	payload := strings.ToLower(string(cluster.Category)) + "|" + strings.Join(tokens, "|")

	// sha1 keeps keys compatible with concordances published earlier.
	sum := sha1.Sum([]byte(payload))
	digest := hex.EncodeToString(sum[:])
	if n := a.policy.StableKeyHexLength; n > 0 && n < len(digest) {
		digest = digest[:n]
	}
	return a.policy.StableKeyPrefix + "_" + digest
}

func (a *Assigner) tokens(cluster entity.Cluster) []string {
	set := make(map[string]struct{})
	for _, member := range cluster.Members {
		if token := similarity.NormalizeKeyToken(member.Name); token != "" {
			set[token] = struct{}{}
		}

		variants := make([]string, 0, len(member.Variants))
		seen := make(map[string]struct{}, len(member.Variants))
		for _, variant := range member.Variants {
			token := similarity.NormalizeKeyToken(variant)
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			variants = append(variants, token)
		}
		sort.Strings(variants)
		if len(variants) > a.policy.StableKeyMaxVariants {
			variants = variants[:a.policy.StableKeyMaxVariants]
		}
		for _, token := range variants {
			set[token] = struct{}{}
		}
	}
	if len(set) == 0 {
		if token := similarity.NormalizeKeyToken(cluster.CanonicalName); token != "" {
			set[token] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for token := range set {
		out = append(out, token)
	}
	sort.Strings(out)
	if len(out) > a.policy.StableKeyMaxTokens {
		out = out[:a.policy.StableKeyMaxTokens]
	}
	return out
}

// Assign overwrites every cluster's stable key with its derived key. When two
// clusters derive the same key, the first one in slice order keeps the bare
// key and later ones get -2, -3 and so on.
func (a *Assigner) Assign(clusters []entity.Cluster) {
	used := make(map[string]struct{}, len(clusters))
	for i := range clusters {
		clusters[i].StableKey = claim(used, a.Key(clusters[i]))
	}
}

// EnsureUnique keeps keys that are already set, disambiguates duplicates among
// them, and derives keys for clusters that have none. It returns how many
// keys were derived or changed.
func (a *Assigner) EnsureUnique(clusters []entity.Cluster) int {
	used := make(map[string]struct{}, len(clusters))
	changed := 0
	for i := range clusters {
		key := clusters[i].StableKey
		if key == "" {
			continue
		}
		if claimed := claim(used, key); claimed != key {
			clusters[i].StableKey = claimed
			changed++
		}
	}
	for i := range clusters {
		if clusters[i].StableKey != "" {
			continue
		}
		clusters[i].StableKey = claim(used, a.Key(clusters[i]))
		changed++
	}
	return changed
}

func claim(used map[string]struct{}, base string) string {
	key := base
	for n := 2; ; n++ {
		if _, taken := used[key]; !taken {
			break
		}
		key = base + "-" + strconv.Itoa(n)
	}
	used[key] = struct{}{}
	return key
}
