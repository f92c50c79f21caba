package embedding

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/schema"
)

// MentionText is the string sent to the embedding model for a mention: the
// name followed by its subcategory, or its category when it has none.
func MentionText(mention entity.Mention) string {
	label := strings.TrimSpace(mention.Subcategory)
	if label == "" {
		label = string(mention.Category)
	}
	return fmt.Sprintf("%s (%s)", strings.TrimSpace(mention.Name), strings.ToLower(label))
}

// EmbedDocument embeds every mention of one document.
func (c *Client) EmbedDocument(ctx context.Context, document entity.Document) (schema.EmbeddingFile, error) {
	texts := make([]string, len(document.Mentions))
	for i, mention := range document.Mentions {
		texts[i] = MentionText(mention)
	}

	vectors, err := c.Embed(ctx, texts)
	if err != nil {
		return schema.EmbeddingFile{}, fmt.Errorf("embed document %s: %w", document.ID, err)
	}

	file := schema.EmbeddingFile{
		DocumentID: document.ID,
		Model:      c.opts.Model,
		Vectors:    make(map[string][]float32, len(vectors)),
	}
	for i, vector := range vectors {
		if file.Dimensions == 0 {
			file.Dimensions = len(vector)
		}
		if len(vector) != file.Dimensions {
			return schema.EmbeddingFile{}, fmt.Errorf("embed document %s: mention %s has %d dimensions, expected %d",
				document.ID, document.Mentions[i].ID.LocalID, len(vector), file.Dimensions)
		}
		file.Vectors[document.Mentions[i].ID.LocalID] = vector
	}
	return file, nil
}

// EmbedDocuments embeds documents concurrently. Each document is independent,
// so results are collected per slot and returned in input order.
func (c *Client) EmbedDocuments(ctx context.Context, documents []entity.Document, workers int) ([]schema.EmbeddingFile, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]schema.EmbeddingFile, len(documents))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for idx := range documents {
		idx := idx
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			file, err := c.EmbedDocument(groupCtx, documents[idx])
			if err != nil {
				return err
			}
			results[idx] = file
			c.logger.Info().
				Str("document_id", file.DocumentID).
				Int("mentions", len(file.Vectors)).
				Int("dimensions", file.Dimensions).
				Msg("document embedded")
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Attach copies vectors from embedding files onto document mentions. Mentions
// without a vector keep a nil embedding and will never match. It returns the
// number of mentions that received a vector.
func Attach(documents []entity.Document, files []schema.EmbeddingFile) int {
	byDocument := make(map[string]schema.EmbeddingFile, len(files))
	for _, file := range files {
		byDocument[file.DocumentID] = file
	}

	attached := 0
	for d := range documents {
		file, ok := byDocument[documents[d].ID]
		if !ok {
			continue
		}
		for m := range documents[d].Mentions {
			vector, ok := file.Vectors[documents[d].Mentions[m].ID.LocalID]
			if !ok {
				continue
			}
			documents[d].Mentions[m].Embedding = vector
			attached++
		}
	}
	return attached
}
