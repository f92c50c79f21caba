// Package schema validates the JSON files the concordance pipeline reads.
// Malformed input is fatal and is rejected before any matching runs.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

//go:embed entities.schema.json
var entitiesSchemaJSON string

//go:embed embeddings.schema.json
var embeddingsSchemaJSON string

//go:embed verdicts.schema.json
var verdictsSchemaJSON string

var (
	entitiesSchema   = &lazySchema{name: "entities.schema.json", source: &entitiesSchemaJSON}
	embeddingsSchema = &lazySchema{name: "embeddings.schema.json", source: &embeddingsSchemaJSON}
	verdictsSchema   = &lazySchema{name: "verdicts.schema.json", source: &verdictsSchemaJSON}
)

// EntityRecord is one extracted entity as written by the extraction step.
type EntityRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Count       int      `json:"count"`
	Variants    []string `json:"variants,omitempty"`
	Contexts    []string `json:"contexts,omitempty"`
}

// EntityFile is the content of a <name>_entities.json file. Document holds
// the raw descriptor so unknown metadata keys survive.
type EntityFile struct {
	Document map[string]any `json:"document"`
	Entities []EntityRecord `json:"entities"`
}

// EmbeddingFile is the content of a <name>_embeddings.json file.
type EmbeddingFile struct {
	DocumentID string               `json:"document_id"`
	Model      string               `json:"model,omitempty"`
	Dimensions int                  `json:"dimensions"`
	Vectors    map[string][]float32 `json:"vectors"`
}

func ValidateEntityFile(payload []byte) (*EntityFile, error) {
	var file EntityFile
	if err := validateInto(entitiesSchema, payload, &file); err != nil {
		return nil, err
	}
	if err := validateEntitySemantics(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

func ValidateEmbeddingFile(payload []byte) (*EmbeddingFile, error) {
	var file EmbeddingFile
	if err := validateInto(embeddingsSchema, payload, &file); err != nil {
		return nil, err
	}
	for localID, vector := range file.Vectors {
		if len(vector) != file.Dimensions {
			return nil, fmt.Errorf("vector %q has %d dimensions, expected %d", localID, len(vector), file.Dimensions)
		}
	}
	return &file, nil
}

func ValidateVerdicts(payload []byte) ([]review.Verdict, error) {
	var verdicts []review.Verdict
	if err := validateInto(verdictsSchema, payload, &verdicts); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func validateInto(lazy *lazySchema, payload []byte, target any) error {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := lazy.load()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(normalized))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

type lazySchema struct {
	name   string
	source *string

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func (l *lazySchema) load() (*jsonschema.Schema, error) {
	l.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(l.name, strings.NewReader(*l.source)); err != nil {
			l.err = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(l.name)
		if err != nil {
			l.err = fmt.Errorf("compile schema: %w", err)
			return
		}

		l.compiled = schema
	})

	if l.err != nil {
		return nil, l.err
	}
	if l.compiled == nil {
		return nil, fmt.Errorf("schema %s not initialized", l.name)
	}
	return l.compiled, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateEntitySemantics(file *EntityFile) error {
	if file == nil {
		return fmt.Errorf("payload is nil")
	}

	if id, _ := file.Document["id"].(string); strings.TrimSpace(id) == "" {
		return fmt.Errorf("document.id must not be empty")
	}
	if title, _ := file.Document["title"].(string); strings.TrimSpace(title) == "" {
		return fmt.Errorf("document.title must not be empty")
	}

	seen := make(map[string]struct{}, len(file.Entities))
	for i, record := range file.Entities {
		if strings.TrimSpace(record.Name) == "" {
			return fmt.Errorf("entities[%d].name must not be empty", i)
		}
		if _, err := entity.ParseCategory(record.Category); err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
		if _, dup := seen[record.ID]; dup {
			return fmt.Errorf("entities[%d].id %q is duplicated", i, record.ID)
		}
		seen[record.ID] = struct{}{}
	}
	return nil
}
