package concordance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/language"
	"github.com/benjaminbreen/premodern-concordance/internal/schema"
)

const (
	EntitiesSuffix   = "_entities.json"
	EmbeddingsSuffix = "_embeddings.json"

	// DefaultMinCount keeps every entity, including single mentions.
	DefaultMinCount = 1
)

// DocumentInfo is the descriptor of one source document as written into the
// concordance file.
type DocumentInfo struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Language     string         `json:"language,omitempty"`
	EntityCount  int            `json:"entity_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SourceFile   string         `json:"source_file,omitempty"`
	MentionCount int            `json:"mention_count"`
}

// LoadDocuments reads every *_entities.json file in dir, validates it and
// keeps entities whose count is at least minCount. Files are read in name
// order so the mention arena is reproducible.
func LoadDocuments(dir string, minCount int) ([]entity.Document, []DocumentInfo, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+EntitiesSuffix))
	if err != nil {
		return nil, nil, fmt.Errorf("list entity files: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no %s files in %s", EntitiesSuffix, dir)
	}
	sort.Strings(paths)

	documents := make([]entity.Document, 0, len(paths))
	infos := make([]DocumentInfo, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		document, info, err := LoadDocument(path, minCount)
		if err != nil {
			return nil, nil, err
		}
		if previous, dup := seen[document.ID]; dup {
			return nil, nil, fmt.Errorf("document id %q appears in %s and %s", document.ID, previous, path)
		}
		seen[document.ID] = path
		documents = append(documents, document)
		infos = append(infos, info)
	}
	return documents, infos, nil
}

func LoadDocument(path string, minCount int) (entity.Document, DocumentInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return entity.Document{}, DocumentInfo{}, fmt.Errorf("read %s: %w", path, err)
	}
	file, err := schema.ValidateEntityFile(raw)
	if err != nil {
		return entity.Document{}, DocumentInfo{}, fmt.Errorf("%s: %w", path, err)
	}

	id, _ := file.Document["id"].(string)
	title, _ := file.Document["title"].(string)
	declared, _ := file.Document["language"].(string)
	metadata := make(map[string]any, len(file.Document))
	for key, value := range file.Document {
		switch key {
		case "id", "title", "language":
			continue
		}
		metadata[key] = value
	}

	document := entity.Document{
		ID:       strings.TrimSpace(id),
		Title:    strings.TrimSpace(title),
		Metadata: metadata,
		Mentions: make([]entity.Mention, 0, len(file.Entities)),
	}
	var contexts []string
	mentions := 0
	for _, record := range file.Entities {
		if record.Count < minCount {
			continue
		}
		category, err := entity.ParseCategory(record.Category)
		if err != nil {
			return entity.Document{}, DocumentInfo{}, fmt.Errorf("%s: entity %s: %w", path, record.ID, err)
		}
		document.Mentions = append(document.Mentions, entity.Mention{
			ID:          entity.MentionID{DocumentID: document.ID, LocalID: record.ID},
			Name:        strings.TrimSpace(record.Name),
			Category:    category,
			Subcategory: strings.TrimSpace(record.Subcategory),
			Count:       record.Count,
			Variants:    record.Variants,
			Contexts:    record.Contexts,
		})
		mentions += record.Count
		contexts = append(contexts, record.Contexts...)
	}
	document.Language = language.DocumentLanguage(declared, contexts)

	info := DocumentInfo{
		ID:           document.ID,
		Title:        document.Title,
		Language:     document.Language,
		EntityCount:  len(document.Mentions),
		MentionCount: mentions,
		Metadata:     metadata,
		SourceFile:   filepath.Base(path),
	}
	if len(info.Metadata) == 0 {
		info.Metadata = nil
	}
	return document, info, nil
}

// LoadEmbeddings reads every *_embeddings.json file in dir. A missing
// directory or no files is not an error; mentions then simply never match.
func LoadEmbeddings(dir string) ([]schema.EmbeddingFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+EmbeddingsSuffix))
	if err != nil {
		return nil, fmt.Errorf("list embedding files: %w", err)
	}
	sort.Strings(paths)

	files := make([]schema.EmbeddingFile, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		file, err := schema.ValidateEmbeddingFile(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, *file)
	}
	return files, nil
}

func EmbeddingPath(dir, documentID string) string {
	return filepath.Join(dir, documentID+EmbeddingsSuffix)
}

// ReadFile loads a concordance file written by WriteJSON.
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i := range file.Clusters {
		if !file.Clusters[i].Category.Valid() {
			return nil, fmt.Errorf("%s: cluster %d has invalid category %q", path, file.Clusters[i].NumericID, file.Clusters[i].Category)
		}
	}
	return &file, nil
}

// WriteJSON writes value as indented JSON through a temporary file so a
// failed write never leaves a truncated file behind.
func WriteJSON(path string, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	encoded = append(encoded, '\n')

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
