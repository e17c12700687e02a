package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"handbook-scraper/internal/classifier"
	"handbook-scraper/internal/config"
	"handbook-scraper/internal/ioformats"
	"handbook-scraper/internal/models"
	"handbook-scraper/internal/parser"
	"handbook-scraper/internal/telemetry"
	"handbook-scraper/pkg/logger"
)

const (
	meterName     = "handbook/pipeline"
	progressEvery = 10
)

var tracer = otel.Tracer(meterName)

var errDisallowed = errors.New("disallowed by robots.txt")

// Fetcher returns the UTF-8 body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type Option func(*Pipeline)

// WithCodes restricts the crawl to the given subject codes.
func WithCodes(list []string) Option {
	return func(p *Pipeline) {
		if len(list) == 0 {
			return
		}
		p.allow = make(map[string]bool, len(list))
		for _, c := range list {
			p.allow[strings.ToUpper(strings.TrimSpace(c))] = true
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSleep replaces the pacing delay, mostly so tests do not wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// Pipeline crawls the handbook once and writes the snapshot. It is not reusable.
type Pipeline struct {
	cfg     config.Config
	fetcher Fetcher
	log     *logger.Logger
	periods *classifier.Classifier
	allow   map[string]bool
	robots  *robotstxt.Group
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time

	stage atomic.Int32

	pagesFetched metric.Int64Counter
	saved        metric.Int64Counter
	skipped      metric.Int64Counter
}

func New(cfg config.Config, fetcher Fetcher, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.New()
	}
	p := &Pipeline{
		cfg:          cfg,
		fetcher:      fetcher,
		log:          log,
		periods:      classifier.New(),
		sleep:        sleepCtx,
		now:          time.Now,
		pagesFetched: telemetry.Counter(meterName, "handbook.pages.fetched", "Search and subject pages fetched"),
		saved:        telemetry.Counter(meterName, "handbook.subjects.saved", "Subject records written"),
		skipped:      telemetry.Counter(meterName, "handbook.subjects.skipped", "Candidates filtered out or failed"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Concurrency < 1 {
		p.cfg.Concurrency = 1
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stage reports the step the crawl is currently in. Safe for concurrent use.
func (p *Pipeline) Stage() Stage { return Stage(p.stage.Load()) }

func (p *Pipeline) setStage(s Stage) {
	p.stage.Store(int32(s))
	p.log.Debugf("stage %s", s)
}

// Run crawls every search page, enriches each candidate and writes the
// snapshot to the configured output. Only a failure to fetch the first search
// page or to write the output is returned as an error.
func (p *Pipeline) Run(ctx context.Context) (*models.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "crawl")
	defer span.End()

	snap, err := p.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("version", snap.Version),
		attribute.Int("saved", snap.Stats.TotalSaved),
	)
	return snap, nil
}

func (p *Pipeline) run(ctx context.Context) (*models.Snapshot, error) {
	p.setStage(StageInit)
	searchURL := p.cfg.ResolvedSearchURL()
	if p.cfg.RespectRobots {
		p.loadRobots(ctx)
	}

	p.setStage(StagePaginating)
	stubs, err := p.paginate(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	p.setStage(StageDeduping)
	candidates := dedup(stubs)
	p.log.Infof("found %d candidates (%d stubs)", len(candidates), len(stubs))

	p.setStage(StageFetchingDetails)
	items, err := p.collect(ctx, candidates)
	if err != nil {
		return nil, err
	}

	p.setStage(StageSorting)
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })

	p.setStage(StageHashing)
	version, err := Version(items)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		GeneratedAt: p.now().UTC().Format(time.RFC3339),
		Version:     version,
		Source: models.SnapshotSource{
			SearchURL:   searchURL,
			StudyPeriod: p.cfg.StudyPeriod,
			Year:        p.cfg.Year,
		},
		Stats: models.Stats{
			TotalFound: len(candidates),
			TotalSaved: len(items),
			Skipped:    len(candidates) - len(items),
		},
		Items: items,
	}

	p.setStage(StageWriting)
	if err := ioformats.WriteSnapshot(p.cfg.Output, snap); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.cfg.Output, err)
	}
	p.setStage(StageDone)
	return snap, nil
}

// Version is the first 12 hex characters of the sha256 of the compact JSON
// items, encoded without HTML escaping like the snapshot file.
func Version(items []models.SubjectRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "", fmt.Errorf("hash items: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])[:12], nil
}

// PageURL sets the page query parameter on the search URL.
func PageURL(searchURL string, page int) (string, error) {
	u, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("search url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Pipeline) fetchPage(ctx context.Context, searchURL string, page int) (string, error) {
	pageURL, err := PageURL(searchURL, page)
	if err != nil {
		return "", err
	}
	body, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	p.pagesFetched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "search")))
	return body, nil
}

func (p *Pipeline) paginate(ctx context.Context, searchURL string) ([]models.SubjectStub, error) {
	ctx, span := tracer.Start(ctx, "paginate")
	defer span.End()

	body, err := p.fetchPage(ctx, searchURL, 1)
	if err != nil {
		return nil, fmt.Errorf("first search page: %w", err)
	}
	doc, err := parser.NewDocument(body)
	if err != nil {
		return nil, fmt.Errorf("first search page: %w", err)
	}
	stubs := parser.ParsePageDocument(doc)

	maxPage := p.cfg.MaxPages
	if maxPage <= 0 {
		maxPage = parser.ParseMaxPageDocument(doc)
	}
	p.log.Infof("page 1/%d: %d subjects", maxPage, len(stubs))
	if len(stubs) == 0 {
		return stubs, nil
	}

	for page := 2; page <= maxPage; page++ {
		if err := p.sleep(ctx, p.cfg.Delay()); err != nil {
			return nil, err
		}
		body, err := p.fetchPage(ctx, searchURL, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.Warnf("page %d failed, stopping pagination: %v", page, err)
			break
		}
		pageStubs := parser.ParsePage(body)
		p.log.Infof("page %d/%d: %d subjects", page, maxPage, len(pageStubs))
		if len(pageStubs) == 0 {
			break
		}
		stubs = append(stubs, pageStubs...)
	}
	span.SetAttributes(attribute.Int("stubs", len(stubs)))
	return stubs, nil
}

// dedup keeps one stub per code. A later stub replaces an earlier one in place.
func dedup(stubs []models.SubjectStub) []models.SubjectStub {
	index := make(map[string]int, len(stubs))
	out := make([]models.SubjectStub, 0, len(stubs))
	for _, s := range stubs {
		if i, ok := index[s.Code]; ok {
			out[i] = s
			continue
		}
		index[s.Code] = len(out)
		out = append(out, s)
	}
	return out
}

func (p *Pipeline) collect(ctx context.Context, candidates []models.SubjectStub) ([]models.SubjectRecord, error) {
	var (
		mu    sync.Mutex
		items = []models.SubjectRecord{}
		done  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, stub := range candidates {
		g.Go(func() error {
			rec, ok := p.subject(gctx, stub)
			if ok {
				mu.Lock()
				items = append(items, rec)
				mu.Unlock()
				p.saved.Add(gctx, 1)
			} else {
				p.skipped.Add(gctx, 1)
			}
			if n := done.Add(1); n%progressEvery == 0 {
				p.log.Infof("processed %d/%d candidates", n, len(candidates))
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Pipeline) subjectURLs(stub models.SubjectStub) (subjectURL, assessmentURL string) {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	subjectURL = fmt.Sprintf("%s/%d/subjects/%s", base, p.cfg.Year, strings.ToLower(stub.Code))
	if stub.Href != "" {
		if b, err := url.Parse(base + "/"); err == nil {
			if ref, err := url.Parse(stub.Href); err == nil {
				subjectURL = b.ResolveReference(ref).String()
			}
		}
	}
	subjectURL = strings.TrimRight(subjectURL, "/")
	return subjectURL, subjectURL + "/assessment"
}

// subject enriches one candidate. ok is false when the candidate is filtered
// out or its detail page cannot be fetched.
func (p *Pipeline) subject(ctx context.Context, stub models.SubjectStub) (rec models.SubjectRecord, ok bool) {
	ctx, span := tracer.Start(ctx, "subject")
	defer span.End()
	span.SetAttributes(attribute.String("code", stub.Code))
	log := p.log.With("code", stub.Code)

	if p.allow != nil && !p.allow[stub.Code] {
		log.Debugf("not in code list")
		return rec, false
	}
	if p.cfg.SemesterFilter() && stub.Offered != "" && !p.periods.Offers(stub.Offered, p.cfg.StudyPeriod) {
		log.With("offered", p.periods.Periods(stub.Offered)).Debugf("not offered in %s, skipping", p.cfg.StudyPeriod)
		return rec, false
	}

	subjectURL, assessmentURL := p.subjectURLs(stub)
	detail, err := p.document(ctx, subjectURL)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("detail page failed: %v", err)
		}
		span.SetStatus(codes.Error, "detail page")
		return rec, false
	}

	availability := parser.ParseAvailability(detail)
	if p.cfg.SemesterFilter() && availability != "" && !p.periods.Offers(availability, p.cfg.StudyPeriod) {
		log.With("available", p.periods.Periods(availability)).Debugf("not available in %s, skipping", p.cfg.StudyPeriod)
		return rec, false
	}

	rec = models.SubjectRecord{
		Code:             stub.Code,
		Name:             stub.Name,
		Year:             p.cfg.Year,
		StudyPeriod:      p.cfg.StudyPeriod,
		CreditPoints:     parser.ParseCreditPoints(detail),
		Overview:         parser.ParseOverview(detail),
		Assessment:       models.Assessment{Tables: []models.AssessmentTable{}},
		InstructorEmails: []string{},
		Availability:     availability,
		Source:           models.RecordSource{SubjectURL: subjectURL, AssessmentURL: assessmentURL},
	}

	if doc, err := p.document(ctx, assessmentURL); err != nil {
		log.Warnf("assessment page failed, keeping partial record: %v", err)
	} else {
		rec.Assessment.Tables = parser.ParseAssessmentTables(doc, p.cfg.StudyPeriod)
		rec.InstructorEmails = parser.ParseSemesterEmails(doc, p.cfg.StudyPeriod)
	}

	if len(rec.InstructorEmails) == 0 {
		if doc, err := p.document(ctx, subjectURL+"/dates-times"); err != nil {
			log.Debugf("dates page failed: %v", err)
		} else {
			rec.InstructorEmails = parser.ParseSemesterEmails(doc, p.cfg.StudyPeriod)
		}
	}
	return rec, true
}

// loadRobots reads the handbook's robots.txt. Without one every path is allowed.
func (p *Pipeline) loadRobots(ctx context.Context) {
	body, err := p.fetcher.Fetch(ctx, strings.TrimRight(p.cfg.BaseURL, "/")+"/robots.txt")
	if err != nil {
		p.log.Warnf("robots.txt unavailable, not restricting: %v", err)
		return
	}
	data, err := robotstxt.FromString(body)
	if err != nil {
		p.log.Warnf("robots.txt unparsable, not restricting: %v", err)
		return
	}
	p.robots = data.FindGroup(p.cfg.UserAgent)
}

func (p *Pipeline) allowed(rawURL string) bool {
	if p.robots == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.robots.Test(u.EscapedPath())
}

// document paces, fetches and parses one subject page.
func (p *Pipeline) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if !p.allowed(rawURL) {
		return nil, fmt.Errorf("%w: %s", errDisallowed, rawURL)
	}
	if err := p.sleep(ctx, p.cfg.Delay()); err != nil {
		return nil, err
	}
	body, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p.pagesFetched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "subject")))
	return parser.NewDocument(body)
}
