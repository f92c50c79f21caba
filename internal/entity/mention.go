package entity

// MentionID identifies one mention inside one source document.
type MentionID struct {
	DocumentID string
	LocalID    string
}

func (id MentionID) String() string {
	return id.DocumentID + "/" + id.LocalID
}

// Less orders ids by document first, then local id.
func (id MentionID) Less(other MentionID) bool {
	if id.DocumentID != other.DocumentID {
		return id.DocumentID < other.DocumentID
	}
	return id.LocalID < other.LocalID
}

// Mention is one occurrence of a named thing inside one document. The core
// never mutates mentions.
type Mention struct {
	ID          MentionID
	Name        string
	Category    Category
	Subcategory string
	Count       int
	Variants    []string
	Contexts    []string
	Embedding   []float32
}

// Document is a source text descriptor with its extracted mentions.
type Document struct {
	ID       string
	Title    string
	Language string
	Metadata map[string]any
	Mentions []Mention
}

// MatchEdge is evidence that two mentions from different documents denote
// the same entity.
type MatchEdge struct {
	A                   MentionID
	B                   MentionID
	EmbeddingSimilarity float64
	LexicalSimilarity   float64
	Category            Category
}

// Valid reports whether the edge satisfies the cross-document invariant.
func (e MatchEdge) Valid() bool {
	return e.A.DocumentID != e.B.DocumentID && e.Category.Valid()
}
