package review

import (
	"fmt"
	"strings"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
)

const promptVariants = 5

// Prompt renders the question a reviewer answers with a Verdict. Members are
// numbered from 1 in cluster order.
func Prompt(cluster entity.Cluster) string {
	var b strings.Builder
	b.WriteString("The following entities from early modern texts were grouped as referring to the same concept, person, substance, or thing.\n\n")
	fmt.Fprintf(&b, "Cluster category: %s\n", cluster.Category)
	fmt.Fprintf(&b, "Canonical name: %s\n\nMembers:\n", cluster.CanonicalName)

	for i, member := range cluster.Members {
		fmt.Fprintf(&b, "  %d. %q [%s, %dx]", i+1, member.Name, member.DocumentID, member.Count)
		if len(member.Variants) > 1 {
			variants := member.Variants
			if len(variants) > promptVariants {
				variants = variants[:promptVariants]
			}
			fmt.Fprintf(&b, " (variants: %s)", strings.Join(variants, ", "))
		}
		if len(member.Contexts) > 0 {
			fmt.Fprintf(&b, " - %q", member.Contexts[0])
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nWhich members refer to the same real-world entity as the canonical name?\n")
	b.WriteString(`Answer with a JSON object {"keep": [member numbers], "remove": [member numbers], "reason": "brief explanation"}.` + "\n")
	b.WriteString("Spelling variants and translations are valid matches. Different things that only look alike are not. When in doubt, keep the member.\n")
	return b.String()
}
