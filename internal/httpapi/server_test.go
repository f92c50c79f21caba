package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/db"
	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

type fakeStore struct {
	pingErr      error
	stats        *db.ConcordanceStats
	clusters     []db.ClusterSummary
	clusterByKey map[string]*entity.Cluster
	reviewItems  []review.Item
	lastFilter   db.ClusterFilter
	lastKind     string
	published    bool
}

func (s *fakeStore) Ping(_ context.Context) error {
	return s.pingErr
}

func (s *fakeStore) QueryConcordanceStats(_ context.Context) (*db.ConcordanceStats, error) {
	if !s.published {
		return nil, db.ErrNoCurrentRun
	}
	return s.stats, nil
}

func (s *fakeStore) QueryClusters(_ context.Context, filter db.ClusterFilter) (int64, []db.ClusterSummary, error) {
	s.lastFilter = filter
	if !s.published {
		return 0, nil, db.ErrNoCurrentRun
	}
	return int64(len(s.clusters)), s.clusters, nil
}

func (s *fakeStore) QueryCluster(_ context.Context, stableKey string) (*entity.Cluster, error) {
	cluster, ok := s.clusterByKey[stableKey]
	if !ok {
		return nil, db.ErrClusterNotFound
	}
	return cluster, nil
}

func (s *fakeStore) QueryReviewItems(_ context.Context, kind string, _ int) ([]review.Item, error) {
	s.lastKind = kind
	return s.reviewItems, nil
}

func newTestServer(store *fakeStore) *Server {
	srv := NewServer(store, zerolog.Nop(), Options{})
	srv.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, target string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, body
}

func TestHealthReportsDatabaseFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeStore{pingErr: errors.New("connection refused")})
	rec, body := doRequest(t, srv, "/api/v1/health")
	if rec.Code != http.StatusInternalServerError || body.Status != "error" {
		t.Fatalf("unexpected response: code=%d body=%+v", rec.Code, body)
	}
}

func TestStatsBeforePublishIsNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeStore{})
	rec, body := doRequest(t, srv, "/api/v1/stats")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("unexpected response: code=%d body=%+v", rec.Code, body)
	}
}

func TestClustersPassesFilter(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		published: true,
		clusters: []db.ClusterSummary{
			{StableKey: "clu_a", NumericID: 1, CanonicalName: "Galeno", Category: "PERSON", DocumentCount: 3},
		},
	}
	srv := newTestServer(store)

	rec, body := doRequest(t, srv, "/api/v1/clusters?category=person&q=gal&page_size=10&min_documents=2")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected response: code=%d body=%+v", rec.Code, body)
	}

	want := db.ClusterFilter{Category: "PERSON", Query: "gal", MinDocuments: 2, Page: 1, PageSize: 10}
	if store.lastFilter != want {
		t.Fatalf("unexpected filter: got %+v want %+v", store.lastFilter, want)
	}

	data, ok := body.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data: %#v", body.Data)
	}
	pagination := data["pagination"].(map[string]any)
	if pagination["total_pages"].(float64) != 1 {
		t.Fatalf("unexpected pagination: %+v", pagination)
	}
}

func TestClustersRejectsBadParameters(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeStore{published: true})
	for _, target := range []string{
		"/api/v1/clusters?category=mineral",
		"/api/v1/clusters?page_size=0",
		"/api/v1/clusters?page=abc",
	} {
		rec, body := doRequest(t, srv, target)
		if rec.Code != http.StatusBadRequest || body.Status != "fail" {
			t.Fatalf("unexpected response for %s: code=%d body=%+v", target, rec.Code, body)
		}
	}
}

func TestClusterDetail(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		clusterByKey: map[string]*entity.Cluster{
			"clu_aloe": {StableKey: "clu_aloe", CanonicalName: "Aloe", Category: entity.CategorySubstance},
		},
	}
	srv := newTestServer(store)

	rec, body := doRequest(t, srv, "/api/v1/clusters/clu_aloe")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if data := body.Data.(map[string]any); data["canonical_name"] != "Aloe" {
		t.Fatalf("unexpected cluster: %+v", data)
	}

	rec, _ = doRequest(t, srv, "/api/v1/clusters/clu_missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestReviewValidatesKind(t *testing.T) {
	t.Parallel()

	store := &fakeStore{published: true}
	srv := newTestServer(store)

	rec, _ := doRequest(t, srv, "/api/v1/review?kind=everything")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}

	rec, _ = doRequest(t, srv, "/api/v1/review?kind=DEFERRED_MERGE")
	if rec.Code != http.StatusOK || store.lastKind != review.KindDeferredMerge {
		t.Fatalf("unexpected response: code=%d kind=%q", rec.Code, store.lastKind)
	}
}

func TestUnknownRouteUsesJSend(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeStore{})
	rec, body := doRequest(t, srv, "/api/v1/nothing")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("unexpected response: code=%d body=%+v", rec.Code, body)
	}
}
