package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/entity"
)

func embedServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var payload embedRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		texts := payload.Texts
		if r.URL.Path == "/v1/embeddings" {
			type row struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}
			rows := make([]row, 0, len(payload.Input))
			for i := len(payload.Input) - 1; i >= 0; i-- {
				rows = append(rows, row{Index: i, Embedding: []float64{float64(len(payload.Input[i])), 1}})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": rows})
			return
		}

		vectors := make([][]float64, 0, len(texts))
		for _, text := range texts {
			vectors = append(vectors, []float64{float64(len(text)), 1})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors, "elapsed_ms": 1.5})
	}))
}

func TestEmbedBatchesRequests(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := embedServer(t, &requests)
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL, BatchSize: 2}, zerolog.Nop())
	vectors, err := client.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("unexpected vector count: got %d want 5", len(vectors))
	}
	if vectors[3][0] != 4 {
		t.Fatalf("vectors out of order: %v", vectors)
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("unexpected request count: got %d want 3", got)
	}
}

func TestEmbedOpenAIStyleResponse(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := embedServer(t, &requests)
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/v1/embeddings"}, zerolog.Nop())
	vectors, err := client.Embed(context.Background(), []string{"a", "bbb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][0] != 3 {
		t.Fatalf("expected rows sorted by index, got %v", vectors)
	}
}

func TestEmbedReportsServiceErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())
	_, err := client.Embed(context.Background(), []string{"Aloe (plant)"})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestEmbedDocumentsAttachesVectors(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := embedServer(t, &requests)
	defer server.Close()

	documents := []entity.Document{
		{ID: "orta", Mentions: []entity.Mention{
			{ID: entity.MentionID{DocumentID: "orta", LocalID: "e1"}, Name: "Aloe", Category: entity.CategoryPlant},
		}},
		{ID: "english", Mentions: []entity.Mention{
			{ID: entity.MentionID{DocumentID: "english", LocalID: "p4"}, Name: "Galen", Category: entity.CategoryPerson, Subcategory: "Physician"},
			{ID: entity.MentionID{DocumentID: "english", LocalID: "p5"}, Name: "Avicenna", Category: entity.CategoryPerson},
		}},
	}

	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())
	files, err := client.EmbedDocuments(context.Background(), documents, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 || files[1].DocumentID != "english" || files[1].Dimensions != 2 {
		t.Fatalf("unexpected files: %+v", files)
	}
	if files[0].Model != DefaultModel {
		t.Fatalf("unexpected model: %q", files[0].Model)
	}

	if attached := Attach(documents, files); attached != 3 {
		t.Fatalf("unexpected attached count: got %d want 3", attached)
	}
	want := float32(len("Galen (physician)"))
	if got := documents[1].Mentions[0].Embedding[0]; got != want {
		t.Fatalf("unexpected embedding: got %v want %v", got, want)
	}
}

func TestMentionText(t *testing.T) {
	t.Parallel()

	got := MentionText(entity.Mention{Name: " Aloe ", Category: entity.CategoryPlant})
	if got != "Aloe (plant)" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	if got := normalizeEndpoint("http://gpu-box:8844"); got != "http://gpu-box:8844/embed" {
		t.Fatalf("unexpected endpoint: %q", got)
	}
	if got := normalizeEndpoint(" "); got != DefaultEndpoint {
		t.Fatalf("unexpected default endpoint: %q", got)
	}
}
