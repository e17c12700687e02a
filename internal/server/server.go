package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/semaphore"

	"handbook-scraper/internal/history"
	"handbook-scraper/internal/models"
	"handbook-scraper/internal/pipeline"
	"handbook-scraper/pkg/logger"
)

const (
	secretHeader       = "X-Refresh-Secret"
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	// names scoring below this are left out of search results
	minSimilarity = 0.75
)

// Crawler is one crawl run. A new one is built for every refresh.
type Crawler interface {
	Run(ctx context.Context) (*models.Snapshot, error)
	Stage() pipeline.Stage
}

type History interface {
	Record(ctx context.Context, snap *models.Snapshot, output string) (history.Run, error)
	List(ctx context.Context, limit int) ([]history.Run, error)
}

type Options struct {
	SnapshotPath  string
	RefreshSecret string
	NewCrawler    func() Crawler
	// nil disables run history
	History History
	Logger  *logger.Logger
}

type Server struct {
	opts  Options
	cache *SnapshotCache
	log   *logger.Logger

	ctx     context.Context
	sem     *semaphore.Weighted
	current atomic.Pointer[crawlerRef]
}

type crawlerRef struct{ c Crawler }

// New builds the service. Background crawls are bound to ctx.
func New(ctx context.Context, opts Options) *Server {
	l := opts.Logger
	if l == nil {
		l = logger.New()
	}
	return &Server{
		opts:  opts,
		cache: NewSnapshotCache(opts.SnapshotPath),
		log:   l,
		ctx:   ctx,
		sem:   semaphore.NewWeighted(1),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/handbook/meta", s.handleMeta)
	mux.HandleFunc("GET /api/handbook", s.handleHandbook)
	mux.HandleFunc("GET /api/handbook/search", s.handleSearch)
	mux.HandleFunc("GET /api/handbook/history", s.handleHistory)
	mux.HandleFunc("POST /api/handbook/refresh", s.handleRefresh)
	return logRequest(s.log, mux)
}

// Wait blocks until no refresh is running or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.sem.Release(1)
	return nil
}

// runningStage returns the stage of the crawl in progress, if any.
func (s *Server) runningStage() (pipeline.Stage, bool) {
	ref := s.current.Load()
	if ref == nil {
		return 0, false
	}
	return ref.c.Stage(), true
}

type metaResponse struct {
	Version     string          `json:"version"`
	GeneratedAt string          `json:"generatedAt"`
	Count       int             `json:"count"`
	Stage       *pipeline.Stage `json:"stage,omitempty"`
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cache.Get()
	if err != nil {
		s.unavailable(w, err)
		return
	}
	resp := metaResponse{Version: snap.Version, GeneratedAt: snap.GeneratedAt, Count: len(snap.Items)}
	if stage, ok := s.runningStage(); ok {
		resp.Stage = &stage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHandbook(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		snap, err := s.cache.Get()
		if err != nil {
			s.unavailable(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	item, err := s.cache.Subject(code)
	if err != nil {
		s.unavailable(w, err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subject not found"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type searchResult struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit, ok := parseLimit(r, defaultSearchLimit, maxSearchLimit)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	snap, err := s.cache.Get()
	if err != nil {
		s.unavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, search(snap.Items, q, limit))
}

// search ranks subjects whose code starts with q first, then by Jaro-Winkler
// similarity between q and the subject name.
func search(items []models.SubjectRecord, q string, limit int) []searchResult {
	upper := strings.ToUpper(q)
	lower := strings.ToLower(q)

	type hit struct {
		searchResult
		prefix bool
	}
	var hits []hit
	for _, it := range items {
		name := strings.ToLower(it.Name)
		score := matchr.JaroWinkler(lower, name, false)
		prefix := strings.HasPrefix(it.Code, upper)
		if strings.Contains(name, lower) && score < 1 {
			// substring hits outrank fuzzy ones
			score = (score + 1) / 2
		}
		if !prefix && score < minSimilarity {
			continue
		}
		hits = append(hits, hit{searchResult{Code: it.Code, Name: it.Name, Score: score}, prefix})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].prefix != hits[j].prefix {
			return hits[i].prefix
		}
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Code < hits[j].Code
	})

	out := []searchResult{}
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.searchResult)
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run history is disabled"})
		return
	}
	limit, ok := parseLimit(r, 20, 200)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	runs, err := s.opts.History.List(r.Context(), limit)
	if err != nil {
		s.log.Errorf("list history: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type refreshResponse struct {
	Status string         `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
	Stage  pipeline.Stage `json:"stage"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if secret := s.opts.RefreshSecret; secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}
	if s.opts.NewCrawler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh is not configured"})
		return
	}
	if !s.sem.TryAcquire(1) {
		stage, _ := s.runningStage()
		writeJSON(w, http.StatusConflict, refreshResponse{Error: "refresh already running", Stage: stage})
		return
	}

	c := s.opts.NewCrawler()
	s.current.Store(&crawlerRef{c: c})
	go s.crawl(c)

	writeJSON(w, http.StatusAccepted, refreshResponse{Status: "started", Stage: c.Stage()})
}

func (s *Server) crawl(c Crawler) {
	defer s.sem.Release(1)
	defer s.current.Store(nil)

	start := time.Now()
	snap, err := c.Run(s.ctx)
	if err != nil {
		s.log.Errorf("refresh failed: %v", err)
		return
	}
	s.log.Infof("refresh done in %s: saved %d subjects, version %s", time.Since(start).Round(time.Millisecond), snap.Stats.TotalSaved, snap.Version)
	if s.opts.History != nil {
		if _, err := s.opts.History.Record(s.ctx, snap, s.opts.SnapshotPath); err != nil {
			s.log.Warnf("record run: %v", err)
		}
	}
}

func (s *Server) unavailable(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSnapshotUnavailable) {
		s.log.Warnf("%v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot not available yet"})
		return
	}
	s.log.Errorf("%v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logRequest(l *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		l.Infof("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
