// Package main runs the success library service:
// - Ingestion: stories arrive from the trading engine over HTTP
// - Classification: watchers and the deadline sweeper finalize outcomes
// - Decision: blacklist lookups served from the in-memory oracle cache
// - Reporting: plain-text and Prometheus renderings of library metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"success-library/internal/blacklist"
	"success-library/internal/classifier"
	"success-library/internal/config"
	"success-library/internal/domain"
	"success-library/internal/export"
	"success-library/internal/intelligence"
	"success-library/internal/metrics"
	"success-library/internal/observability"
	"success-library/internal/pricefeed"
	"success-library/internal/reporting"
	"success-library/internal/storage"
	"success-library/internal/storage/memory"
	"success-library/internal/storage/migrations"
	pgstore "success-library/internal/storage/postgres"
)

// Server wires the library components behind the HTTP API.
type Server struct {
	store      storage.StoryStore
	oracle     *blacklist.Oracle
	aggregator *metrics.Aggregator
	classifier *classifier.Classifier
	matcher    *intelligence.Matcher
	feed       *pricefeed.ManualFeed
	cfg        config.Config
}

func main() {
	// Load .env file if present; real env vars win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("server: .env not loaded: %v", err)
	}

	// Flags, with env vars as defaults
	configPath := flag.String("config", os.Getenv("SUCCESS_LIBRARY_CONFIG"), "TOML config file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the shared blacklist mirror")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("PRICE_FEED_WS"), "Price feed WebSocket endpoint")
	addr := flag.String("addr", envOr("LIBRARY_ADDR", ""), "HTTP listen address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if *wsEndpoint != "" {
		cfg.PriceFeed.WSEndpoint = *wsEndpoint
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *useMemory); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, useMemory bool) error {
	// Store
	var store storage.StoryStore
	if useMemory || cfg.Postgres.DSN == "" {
		log.Println("server: using in-memory store (no durability)")
		store = memory.NewStoryStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		if cfg.Postgres.RunMigrations {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return err
			}
		}
		store = pgstore.NewStoryStore(pool)
	}

	// Optional shared blacklist mirror
	var shared *blacklist.SharedSet
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("server: redis unreachable, running without mirror: %v", err)
		} else {
			shared = blacklist.NewSharedSet(rdb, "", cfg.Redis.MirrorTTL.Duration)
			defer rdb.Close()
		}
	}

	oracle := blacklist.NewOracle(store, shared)
	aggregator := metrics.NewAggregator(store, oracle)

	// Price feed: WebSocket when configured, otherwise samples arrive
	// over the HTTP ingestion API.
	manual := pricefeed.NewManualFeed()
	var feed pricefeed.Feed = manual
	if cfg.PriceFeed.WSEndpoint != "" {
		wsFeed, err := pricefeed.NewWSFeed(ctx, cfg.PriceFeed.WSEndpoint, nil)
		if err != nil {
			return fmt.Errorf("price feed: %w", err)
		}
		defer wsFeed.Close()
		feed = wsFeed
	}

	clsConfig := classifier.DefaultConfig()
	clsConfig.SuccessThresholdROI = cfg.Classifier.SuccessThresholdROI
	clsConfig.DeclineMarginPct = cfg.Classifier.DeclineMarginPct
	cls := classifier.New(store, feed, oracle, clsConfig)
	sweeper := classifier.NewSweeper(store, oracle)

	srv := &Server{
		store:      store,
		oracle:     oracle,
		aggregator: aggregator,
		classifier: cls,
		matcher:    intelligence.NewMatcher(aggregator),
		feed:       manual,
		cfg:        cfg,
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return oracle.RunRebuildLoop(ctx, cfg.Blacklist.RebuildInterval.Duration)
	})
	g.Go(func() error {
		return sweeper.Run(ctx, cfg.Classifier.SweepInterval.Duration)
	})
	g.Go(func() error {
		log.Printf("server: listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stories", s.handleInsert)
	mux.HandleFunc("POST /stories/{id}/finalize", s.handleFinalize)
	mux.HandleFunc("GET /stories/{id}", s.handleGet)
	mux.HandleFunc("POST /samples", s.handleSample)
	mux.HandleFunc("GET /blacklist/{token}", s.handleBlacklist)
	mux.HandleFunc("POST /dna/match", s.handleDNAMatch)
	mux.HandleFunc("GET /library", s.handleLibraryText)
	mux.HandleFunc("GET /library/prom", s.handleLibraryProm)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

// insertRequest is the ingestion payload from the trading engine.
type insertRequest struct {
	StrategyID        string  `json:"strategy_id"`
	TokenAddress      string  `json:"token_address"`
	MarketContext     string  `json:"market_context"`
	Lesson            string  `json:"lesson"`
	EntryPrice        float64 `json:"entry_price"`
	ObservationSecs   int64   `json:"observation_secs"`
	NumHops           *int    `json:"num_hops"`
	TotalFeesBps      *int    `json:"total_fees_bps"`
	MaxPriceImpactBps *int    `json:"max_price_impact_bps"`
	RouteLiquidity    *float64 `json:"route_liquidity"`
	ProfitRatio       *float64 `json:"profit_ratio"`
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !domain.IsTokenAddress(req.TokenAddress) {
		writeError(w, http.StatusBadRequest, "token_address is not a valid mint address")
		return
	}
	if req.EntryPrice <= 0 {
		writeError(w, http.StatusBadRequest, "entry_price must be positive")
		return
	}

	window := s.cfg.Classifier.ObservationWindow.Duration
	if req.ObservationSecs > 0 {
		window = time.Duration(req.ObservationSecs) * time.Second
	}

	now, err := s.store.Now(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	story := &domain.SuccessStory{
		StrategyID:          req.StrategyID,
		TokenAddress:        req.TokenAddress,
		MarketContext:       req.MarketContext,
		Lesson:              req.Lesson,
		ObservationDeadline: now.Add(window),
	}
	if req.NumHops != nil || req.TotalFeesBps != nil || req.MaxPriceImpactBps != nil ||
		req.RouteLiquidity != nil || req.ProfitRatio != nil {
		f := &domain.RouteFeatures{}
		if req.NumHops != nil {
			f.NumHops = *req.NumHops
		}
		if req.TotalFeesBps != nil {
			f.TotalFeesBps = *req.TotalFeesBps
		}
		if req.MaxPriceImpactBps != nil {
			f.MaxPriceImpactBps = *req.MaxPriceImpactBps
		}
		if req.RouteLiquidity != nil {
			f.RouteLiquidity = *req.RouteLiquidity
		}
		if req.ProfitRatio != nil {
			f.ProfitRatio = *req.ProfitRatio
		}
		story.Features = f
	}

	if err := s.store.Insert(r.Context(), story); err != nil {
		if errors.Is(err, storage.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	observability.RecordInserted()

	// Watch in the background; the watcher finalizes by itself.
	go func() {
		watchCtx, cancel := context.WithDeadline(context.Background(),
			story.ObservationDeadline.Add(time.Minute))
		defer cancel()
		if err := s.classifier.Watch(watchCtx, story, req.EntryPrice); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, storage.ErrInvalidTransition) {
			log.Printf("server: watch %s: %v", story.ID, err)
		}
	}()

	writeJSON(w, http.StatusCreated, map[string]string{"id": story.ID})
}

// finalizeRequest lets the engine supply its own classification when it
// computed the outcome from price samples itself. TokenAddress is
// optional; when present it lets a FALSE_POSITIVE reach the blacklist
// cache without a read-back from the store.
type finalizeRequest struct {
	Outcome        string   `json:"outcome"`
	TokenAddress   string   `json:"token_address"`
	PeakROI        float64  `json:"peak_roi"`
	TimeToPeakSecs *int64   `json:"time_to_peak_secs"`
	Drawdown       *float64 `json:"drawdown"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	fin := storage.Finalization{
		Outcome:        domain.Outcome(req.Outcome),
		PeakROI:        req.PeakROI,
		TimeToPeakSecs: req.TimeToPeakSecs,
		Drawdown:       req.Drawdown,
		Reason:         domain.ReasonEngine,
	}

	err := s.store.Finalize(r.Context(), id, fin)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	observability.RecordFinalized(req.Outcome, domain.ReasonEngine)
	if fin.Outcome == domain.OutcomeFalsePositive {
		token := req.TokenAddress
		if token == "" {
			story, err := s.store.GetByID(r.Context(), id)
			if err != nil {
				log.Printf("server: blacklist push for %s deferred to rebuild: %v", id, err)
			} else {
				token = story.TokenAddress
			}
		}
		if token != "" {
			s.oracle.Add(token)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	story, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "story not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, story)
}

// sampleRequest carries one price observation pushed by the engine when
// no WebSocket feed is configured.
type sampleRequest struct {
	TokenAddress string  `json:"token_address"`
	Price        float64 `json:"price"`
	TsMs         int64   `json:"ts_ms"`
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	at := time.Now()
	if req.TsMs > 0 {
		at = time.UnixMilli(req.TsMs)
	}
	s.feed.Publish(pricefeed.Sample{
		TokenAddress: req.TokenAddress,
		Price:        req.Price,
		Time:         at,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	writeJSON(w, http.StatusOK, map[string]any{
		"token_address": token,
		"blacklisted":   s.oracle.IsBlacklisted(token),
	})
}

// dnaRequest carries launch-time token characteristics for matching
// against the library's success profile.
type dnaRequest struct {
	InitialLiquidity uint64  `json:"initial_liquidity"`
	InitialMarketCap uint64  `json:"initial_market_cap"`
	LaunchHourUTC    uint8   `json:"launch_hour_utc"`
	HasTwitter       bool    `json:"has_twitter"`
	MintRenounced    bool    `json:"mint_renounced"`
	MarketVolatility float64 `json:"market_volatility"`
}

func (s *Server) handleDNAMatch(w http.ResponseWriter, r *http.Request) {
	var req dnaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	match, err := s.matcher.Match(r.Context(), &domain.TokenDNA{
		InitialLiquidity: req.InitialLiquidity,
		InitialMarketCap: req.InitialMarketCap,
		LaunchHourUTC:    req.LaunchHourUTC,
		HasTwitter:       req.HasTwitter,
		MintRenounced:    req.MintRenounced,
		MarketVolatility: req.MarketVolatility,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"is_match": match.IsMatch,
		"is_elite": match.IsElite,
		"score":    match.Score,
	})
}

func (s *Server) handleLibraryText(w http.ResponseWriter, r *http.Request) {
	snap, err := s.aggregator.Snapshot(r.Context())
	if err != nil {
		log.Printf("server: snapshot: %v", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, reporting.RenderText(snap, time.Now()))
}

func (s *Server) handleLibraryProm(w http.ResponseWriter, r *http.Request) {
	snap, err := s.aggregator.Snapshot(r.Context())
	if err != nil {
		log.Printf("server: snapshot: %v", err)
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprint(w, reporting.RenderPrometheus(snap))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := export.WriteJSONL(r.Context(), s.store, w); err != nil {
		log.Printf("server: export: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Now(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"blacklist_size": s.oracle.Size(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
