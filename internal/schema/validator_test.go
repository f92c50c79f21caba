package schema

import (
	"strings"
	"testing"
)

func TestValidateEntityFile_Valid(t *testing.T) {
	payload := []byte(`{
		"document": {"id": "orta", "title": "Coloquios dos simples", "language": "pt", "year": 1563},
		"entities": [
			{"id": "e1", "name": "Aloe", "category": "PLANT", "count": 50, "variants": ["Aloe", "Aloes"], "contexts": ["o aloe de Socotorá"]},
			{"id": "p1", "name": "Galeno", "category": "PERSON", "subcategory": "physician", "count": 40}
		]
	}`)

	file, err := ValidateEntityFile(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if len(file.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(file.Entities))
	}
	if file.Entities[1].Subcategory != "physician" {
		t.Fatalf("expected subcategory=physician, got %q", file.Entities[1].Subcategory)
	}
	if _, ok := file.Document["year"]; !ok {
		t.Fatalf("expected extra document metadata to survive")
	}
}

func TestValidateEntityFile_UnknownCategory(t *testing.T) {
	payload := []byte(`{
		"document": {"id": "orta", "title": "Coloquios"},
		"entities": [{"id": "x", "name": "Elephant", "category": "BEAST", "count": 2}]
	}`)

	if _, err := ValidateEntityFile(payload); err == nil {
		t.Fatalf("expected validation to fail for unknown category")
	}
}

func TestValidateEntityFile_MissingCount(t *testing.T) {
	payload := []byte(`{
		"document": {"id": "orta", "title": "Coloquios"},
		"entities": [{"id": "x", "name": "Aloe", "category": "PLANT"}]
	}`)

	if _, err := ValidateEntityFile(payload); err == nil {
		t.Fatalf("expected validation to fail for missing count")
	}
}

func TestValidateEntityFile_WhitespaceName(t *testing.T) {
	payload := []byte(`{
		"document": {"id": "orta", "title": "Coloquios"},
		"entities": [{"id": "x", "name": "   ", "category": "PLANT", "count": 1}]
	}`)

	_, err := ValidateEntityFile(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only name")
	}
	if !strings.Contains(err.Error(), "name must not be empty") {
		t.Fatalf("expected name semantic error, got: %v", err)
	}
}

func TestValidateEntityFile_DuplicateIDs(t *testing.T) {
	payload := []byte(`{
		"document": {"id": "orta", "title": "Coloquios"},
		"entities": [
			{"id": "x", "name": "Aloe", "category": "PLANT", "count": 1},
			{"id": "x", "name": "Betel", "category": "PLANT", "count": 1}
		]
	}`)

	_, err := ValidateEntityFile(payload)
	if err == nil || !strings.Contains(err.Error(), "duplicated") {
		t.Fatalf("expected duplicate id error, got: %v", err)
	}
}

func TestValidateEntityFile_TrailingContent(t *testing.T) {
	payload := []byte(`{"document": {"id": "orta", "title": "Coloquios"}, "entities": []} {}`)

	_, err := ValidateEntityFile(payload)
	if err == nil || !strings.Contains(err.Error(), "trailing content") {
		t.Fatalf("expected trailing content error, got: %v", err)
	}
}

func TestValidateEmbeddingFile(t *testing.T) {
	valid := []byte(`{"document_id": "orta", "model": "bge-m3", "dimensions": 3, "vectors": {"e1": [0.1, 0.2, 0.3]}}`)
	file, err := ValidateEmbeddingFile(valid)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if got := file.Vectors["e1"]; len(got) != 3 || got[2] != float32(0.3) {
		t.Fatalf("unexpected vector: %v", got)
	}

	mismatched := []byte(`{"document_id": "orta", "dimensions": 4, "vectors": {"e1": [0.1, 0.2, 0.3]}}`)
	if _, err := ValidateEmbeddingFile(mismatched); err == nil {
		t.Fatalf("expected dimension mismatch to fail")
	}
}

func TestValidateVerdicts(t *testing.T) {
	verdicts, err := ValidateVerdicts([]byte(`[{"stable_key": "clu_abc", "keep": [1, 2], "remove": [3], "reason": "different plant"}]`))
	if err != nil {
		t.Fatalf("expected verdicts to be valid, got error: %v", err)
	}
	if len(verdicts) != 1 || verdicts[0].Remove[0] != 3 {
		t.Fatalf("unexpected verdicts: %+v", verdicts)
	}

	if _, err := ValidateVerdicts([]byte(`[{"stable_key": "clu_abc", "remove": [0]}]`)); err == nil {
		t.Fatalf("expected member number 0 to fail")
	}
}
