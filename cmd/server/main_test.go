package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"success-library/internal/blacklist"
	"success-library/internal/classifier"
	"success-library/internal/config"
	"success-library/internal/domain"
	"success-library/internal/intelligence"
	"success-library/internal/metrics"
	"success-library/internal/pricefeed"
	"success-library/internal/storage"
	"success-library/internal/storage/memory"
)

func testServer() *Server {
	store := memory.NewStoryStore()
	oracle := blacklist.NewOracle(store, nil)
	feed := pricefeed.NewManualFeed()
	cfg := config.Default()

	aggregator := metrics.NewAggregator(store, oracle)
	return &Server{
		store:      store,
		oracle:     oracle,
		aggregator: aggregator,
		classifier: classifier.New(store, feed, oracle, classifier.DefaultConfig()),
		matcher:    intelligence.NewMatcher(aggregator),
		feed:       feed,
		cfg:        cfg,
	}
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleInsert(t *testing.T) {
	srv := testServer()
	routes := srv.routes()

	rec := postJSON(t, routes, "/stories", `{
		"strategy_id": "strat-1",
		"token_address": "So11111111111111111111111111111111111111112",
		"entry_price": 1.0,
		"market_context": "fresh pool"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp["id"] == "" {
		t.Fatal("no story ID returned")
	}

	// The fresh story is readable and PENDING.
	rec = get(t, routes, "/stories/"+resp["id"])
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PENDING") {
		t.Errorf("story not pending: %s", rec.Body.String())
	}
}

func TestHandleInsert_Rejections(t *testing.T) {
	srv := testServer()
	routes := srv.routes()

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad token address", `{"token_address": "nope", "entry_price": 1.0}`},
		{"zero entry price", `{"token_address": "So11111111111111111111111111111111111111112", "entry_price": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, routes, "/stories", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleFinalize_BlacklistFlow(t *testing.T) {
	srv := testServer()
	routes := srv.routes()

	rec := postJSON(t, routes, "/stories", `{
		"token_address": "So11111111111111111111111111111111111111112",
		"entry_price": 1.0
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	id := resp["id"]

	// Clean before finalize.
	rec = get(t, routes, "/blacklist/So11111111111111111111111111111111111111112")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"blacklisted":false`) {
		t.Fatalf("expected clean token: %d %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, routes, "/stories/"+id+"/finalize", `{
		"outcome": "FALSE_POSITIVE",
		"peak_roi": -0.02
	}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("finalize status = %d: %s", rec.Code, rec.Body.String())
	}

	// The engine-driven finalize pushes straight into the cache.
	rec = get(t, routes, "/blacklist/So11111111111111111111111111111111111111112")
	if !strings.Contains(rec.Body.String(), `"blacklisted":true`) {
		t.Errorf("expected blacklisted token: %s", rec.Body.String())
	}

	// Double finalize conflicts.
	rec = postJSON(t, routes, "/stories/"+id+"/finalize", `{"outcome": "SUCCESS", "peak_roi": 0.1, "time_to_peak_secs": 5}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("double finalize status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

// readFailingStore breaks GetByID while leaving writes intact.
type readFailingStore struct {
	*memory.StoryStore
}

func (readFailingStore) GetByID(context.Context, string) (*domain.SuccessStory, error) {
	return nil, storage.ErrUnavailable
}

func TestHandleFinalize_PushSurvivesReadFailure(t *testing.T) {
	mem := memory.NewStoryStore()
	store := readFailingStore{mem}
	oracle := blacklist.NewOracle(store, nil)
	feed := pricefeed.NewManualFeed()
	srv := &Server{
		store:      store,
		oracle:     oracle,
		aggregator: metrics.NewAggregator(store, oracle),
		classifier: classifier.New(store, feed, oracle, classifier.DefaultConfig()),
		feed:       feed,
		cfg:        config.Default(),
	}
	routes := srv.routes()

	story := &domain.SuccessStory{
		TokenAddress:        "So11111111111111111111111111111111111111112",
		ObservationDeadline: time.Now().Add(time.Hour),
	}
	if err := mem.Insert(context.Background(), story); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// With the token in the payload the push does not need the store read.
	rec := postJSON(t, routes, "/stories/"+story.ID+"/finalize", `{
		"outcome": "FALSE_POSITIVE",
		"peak_roi": -0.02,
		"token_address": "So11111111111111111111111111111111111111112"
	}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("finalize status = %d: %s", rec.Code, rec.Body.String())
	}
	if !srv.oracle.IsBlacklisted("So11111111111111111111111111111111111111112") {
		t.Error("blacklist push lost because the read-back failed")
	}
}

func TestHandleLibraryEndpoints(t *testing.T) {
	srv := testServer()
	routes := srv.routes()

	rec := get(t, routes, "/library")
	if rec.Code != http.StatusOK {
		t.Fatalf("/library status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SUCCESS LIBRARY METRICS REPORT") {
		t.Errorf("/library body: %s", rec.Body.String())
	}

	rec = get(t, routes, "/library/prom")
	if rec.Code != http.StatusOK {
		t.Fatalf("/library/prom status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "success_library_total 0") {
		t.Errorf("/library/prom body: %s", rec.Body.String())
	}
}

func TestHandleSampleDrivesWatcher(t *testing.T) {
	srv := testServer()
	srv.cfg.Classifier.SuccessThresholdROI = 0.05
	routes := srv.routes()

	rec := postJSON(t, routes, "/stories", `{
		"token_address": "So11111111111111111111111111111111111111112",
		"entry_price": 1.0,
		"observation_secs": 2
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	id := resp["id"]

	// Pump a peak-and-decline through the sample endpoint until the
	// background watcher finalizes.
	deadline := time.After(10 * time.Second)
	for {
		for _, price := range []float64{1.10, 1.30, 1.05} {
			rec := postJSON(t, routes, "/samples",
				`{"token_address": "So11111111111111111111111111111111111111112", "price": `+
					jsonFloat(price)+`}`)
			if rec.Code != http.StatusAccepted {
				t.Fatalf("sample status = %d", rec.Code)
			}
		}

		story, err := srv.store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if story.Outcome.Terminal() {
			if story.Outcome != domain.OutcomeSuccess {
				t.Fatalf("Outcome = %s, want SUCCESS", story.Outcome)
			}
			return
		}

		select {
		case <-deadline:
			t.Fatal("watcher never finalized the story")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestHandleDNAMatch(t *testing.T) {
	srv := testServer()
	routes := srv.routes()

	// 30-point DNA (hardening only): matches while the library is small.
	rec := postJSON(t, routes, "/dna/match", `{
		"mint_renounced": true,
		"has_twitter": true,
		"launch_hour_utc": 3
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		IsMatch bool   `json:"is_match"`
		IsElite bool   `json:"is_elite"`
		Score   uint64 `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Score != 30 {
		t.Errorf("score = %d, want 30", resp.Score)
	}
	if !resp.IsMatch {
		t.Error("score 30 should match an empty (learning-phase) library")
	}
	if resp.IsElite {
		t.Error("score 30 is not elite")
	}

	rec = postJSON(t, routes, "/dna/match", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer()
	rec := get(t, srv.routes(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("/healthz body: %s", rec.Body.String())
	}
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
