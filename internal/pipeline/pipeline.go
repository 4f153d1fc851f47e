// Package pipeline orchestrates one job through its eight sequential stages
// (spec §5): parsing, OCR-A, matching, OCR-B, mapping, aggregating,
// rewriting, classifying. Every stage is a pure computation over its
// upstream output except the two OCR stages, the only suspension and
// fan-out points in the job.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/aggregator"
	"github.com/clickmediapropy/ggrevealer/internal/classifier"
	"github.com/clickmediapropy/ggrevealer/internal/config"
	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/mapping"
	"github.com/clickmediapropy/ggrevealer/internal/matcher"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
	"github.com/clickmediapropy/ggrevealer/internal/ocr"
	"github.com/clickmediapropy/ggrevealer/internal/ocrcache"
	"github.com/clickmediapropy/ggrevealer/internal/parser"
	"github.com/clickmediapropy/ggrevealer/internal/pipeline/errkind"
	"github.com/clickmediapropy/ggrevealer/internal/rewriter"
	"github.com/clickmediapropy/ggrevealer/internal/storage"
)

// ProgressEvent is emitted at each stage boundary (spec §6).
type ProgressEvent struct {
	JobID     string
	Stage     domain.JobStatus
	Total     int
	Succeeded int
	Failed    int
	InFlight  int
	Elapsed   time.Duration
}

// ProgressFunc receives progress events. It must not block the pipeline for
// long; the pipeline never buffers events waiting for a slow subscriber.
type ProgressFunc func(ProgressEvent)

// Pipeline wires every stage's dependencies for one job. A Pipeline is safe
// to reuse across jobs; all per-job state lives in the domain.Job passed to
// Run.
type Pipeline struct {
	cfg *config.Config
	log *logger.Logger
	met *metrics.Metrics

	ocrPort ocr.Port
	cache   *ocrcache.Store
	store   storage.Port

	parser     *parser.Parser
	matcherCfg matcher.Config
	mapper     *mapping.Builder
	aggregator *aggregator.Aggregator
	rewriter   *rewriter.Rewriter
	classifier *classifier.Classifier
}

// New builds a Pipeline from cfg. validator may be nil (spec §6: an
// unavailable validator is treated as ok for every hand).
func New(cfg *config.Config, log *logger.Logger, met *metrics.Metrics, ocrPort ocr.Port, cache *ocrcache.Store, store storage.Port, validator classifier.Validator) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		log:     log,
		met:     met,
		ocrPort: ocrPort,
		cache:   cache,
		store:   store,

		parser: parser.New(log, met),
		matcherCfg: matcher.Config{
			FallbackThreshold:      cfg.MatchFallbackThreshold,
			TimeWindow:             time.Duration(cfg.MatchTimeWindowSeconds) * time.Second,
			HeroStackTolerance:     cfg.HeroStackTolerance,
			OtherStacksTolerance:   cfg.OtherStacksTolerance,
			OtherStacksMinFraction: cfg.OtherStacksMinFraction,
		},
		mapper:     mapping.New(log, met, cfg.FuzzyNameThreshold),
		aggregator: aggregator.New(log, met),
		rewriter:   rewriter.New(log, met),
		classifier: classifier.New(log, met, validator),
	}
}

// Run drives job through every stage, mutating it in place, then persists
// the job's results via the storage port once, after the last stage has
// completed; a run that ends cancelled or failed persists nothing. A fatal error (storage,
// config, cancellation, stage timeout) aborts the run; every other failure
// is recorded on job.Errors and the job continues (spec §7).
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, progress ProgressFunc) error {
	stages := []struct {
		status domain.JobStatus
		run    func(context.Context, *domain.Job) error
	}{
		{domain.StatusParsing, p.runParsing},
		{domain.StatusOCRA, p.runOCRA},
		{domain.StatusMatching, p.runMatching},
		{domain.StatusOCRB, p.runOCRB},
		{domain.StatusMapping, p.runMapping},
		{domain.StatusAggregating, p.runAggregating},
		{domain.StatusRewriting, p.runRewriting},
		{domain.StatusClassifying, p.runClassifying},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			job.Status = domain.StatusCancelled
			return errkind.New(errkind.Cancelled, string(stage.status), "job cancelled before stage start", err)
		}

		job.Status = stage.status
		start := time.Now()

		stageCtx := ctx
		var cancel context.CancelFunc
		if p.cfg.StageWallclockTimeoutSeconds > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.StageWallclockTimeoutSeconds)*time.Second)
		}
		err := stage.run(stageCtx, job)
		if cancel != nil {
			cancel()
		}

		if progress != nil {
			progress(ProgressEvent{JobID: job.ID, Stage: stage.status, Elapsed: time.Since(start)})
		}

		if stageCtx.Err() == context.DeadlineExceeded {
			job.Status = domain.StatusFailed
			return errkind.New(errkind.StageTimeout, string(stage.status), "stage exceeded its wallclock timeout", err)
		}
		if err != nil {
			if ctx.Err() != nil {
				job.Status = domain.StatusCancelled
				return errkind.New(errkind.Cancelled, string(stage.status), "job cancelled", err)
			}
			job.Status = domain.StatusFailed
			return err
		}
	}

	job.Status = domain.StatusCompleted
	if err := p.persist(ctx, job); err != nil {
		job.Status = domain.StatusFailed
		return errkind.New(errkind.Storage, job.ID, "failed to persist job results", err)
	}
	return nil
}

// runParsing populates Hands for every file whose RawText hasn't been
// parsed yet (spec §4.1). Malformed hands are recorded on job.Errors and
// skipped; they never fail the stage.
func (p *Pipeline) runParsing(ctx context.Context, job *domain.Job) error {
	for _, f := range job.Files {
		if len(f.Hands) > 0 {
			continue
		}
		parsed, errs := p.parser.Parse(f.Filename, f.RawText)
		f.Hands = parsed.Hands
		job.Errors = append(job.Errors, errs...)
	}
	return nil
}

// runOCRA runs OCR-A over every screenshot (spec §4.2).
func (p *Pipeline) runOCRA(ctx context.Context, job *domain.Job) error {
	pacer := ocr.NewPacer(job.Tier, p.concurrency(job.Tier), p.cfg.RateWindowSeconds, p.cfg.RateWindowBudget)
	driver := ocr.NewDriverA(p.ocrPort, pacer, p.cache, p.log, p.met, p.retryConfig())

	results := driver.Run(ctx, job.Screenshots)
	for _, r := range results {
		if r.Err != nil {
			job.Errors = append(job.Errors, r.Err)
			continue
		}
		v := r.Value
		r.Screenshot.OCRA = &v
	}
	return nil
}

// runMatching is the primary-binding pass (spec §4.3 step 1): OCR-B signals
// are not yet available, so every fallback proposal scores 0 and only
// OCR-A-identified screenshots bind here.
func (p *Pipeline) runMatching(ctx context.Context, job *domain.Job) error {
	m := matcher.New(p.log, p.met, p.matcherCfg)
	hands := job.AllHands()
	matches, _ := m.Match(hands, job.Screenshots, job.TableMappings)
	applyMatches(job.Screenshots, matches)
	return nil
}

// runOCRB runs OCR-B over the matched set plus, for fallback candidacy, any
// still-unmatched screenshot that falls within a still-unclaimed hand's time
// window (spec §4.4's cost-saving gate, spec §2 step 4): a screenshot whose
// timestamp can't plausibly belong to any remaining hand is never worth the
// OCR-B call, so it's skipped entirely rather than fanned out over.
func (p *Pipeline) runOCRB(ctx context.Context, job *domain.Job) error {
	hands := job.AllHands()
	claimed := make(map[string]bool, len(hands))
	var matched []*domain.Screenshot
	var unmatched []*domain.Screenshot
	for _, s := range job.Screenshots {
		if s.Match != nil {
			claimed[s.Match.HandID] = true
			matched = append(matched, s)
		} else {
			unmatched = append(unmatched, s)
		}
	}

	var remainingHands []*domain.Hand
	for _, h := range hands {
		if !claimed[h.ID] {
			remainingHands = append(remainingHands, h)
		}
	}

	plausible, implausible := partitionByWindow(unmatched, remainingHands, p.matcherCfg.TimeWindow)
	toProcess := append(append([]*domain.Screenshot{}, matched...), plausible...)

	for _, s := range implausible {
		job.Errors = append(job.Errors, errkind.New(errkind.MatchGateRejected, s.Filename, "outside every remaining hand's time window, skipped before ocr-b", nil))
	}

	pacer := ocr.NewPacer(job.Tier, p.concurrency(job.Tier), p.cfg.RateWindowSeconds, p.cfg.RateWindowBudget)
	driver := ocr.NewDriverB(p.ocrPort, pacer, p.cache, p.log, p.met, p.retryConfig())

	results := driver.Run(ctx, toProcess)
	for _, r := range results {
		if r.Err != nil {
			job.Errors = append(job.Errors, r.Err)
			continue
		}
		v := r.Value
		r.Screenshot.OCRB = &v
	}

	// Second matcher pass: fallback scoring now has OCR-B signals for the
	// hands still unclaimed, and the name-overlap signal can see the real
	// names already resolved from round-one primary matches (spec §4.3
	// note: "the matcher may be re-invoked after OCR-B"). Screenshots the
	// gate above skipped are never passed to this pass — they were never a
	// plausible fallback candidate in the first place.
	partial := p.buildMappings(hands, matched, nil)
	job.TableMappings = p.aggregator.Aggregate(hands, partial)

	m := matcher.New(p.log, p.met, p.matcherCfg)
	fallbackMatches, stillUnmatched := m.Match(remainingHands, plausible, job.TableMappings)
	applyMatches(job.Screenshots, fallbackMatches)

	for _, s := range stillUnmatched {
		job.Errors = append(job.Errors, errkind.New(errkind.MatchGateRejected, s.Filename, "no hand matched this screenshot", nil))
	}

	return nil
}

// partitionByWindow splits unmatched into screenshots whose timestamp falls
// within window of at least one remaining hand (worth an OCR-B call for
// fallback scoring) and those that don't (never a plausible fallback
// candidate, skipped before OCR-B runs at all).
func partitionByWindow(unmatched []*domain.Screenshot, remainingHands []*domain.Hand, window time.Duration) (plausible, implausible []*domain.Screenshot) {
	for _, s := range unmatched {
		ok := false
		for _, h := range remainingHands {
			if matcher.WithinWindow(h.Timestamp, s.Timestamp, window) {
				ok = true
				break
			}
		}
		if ok {
			plausible = append(plausible, s)
		} else {
			implausible = append(implausible, s)
		}
	}
	return plausible, implausible
}

// runMapping builds the per-hand mapping for every screenshot that matched
// but hasn't had its mapping built yet (the fallback-round matches from
// runOCRB; primary-round matches were already built there to seed the
// name-overlap signal). A screenshot whose OCR-B call failed is left
// unmapped and simply doesn't contribute a mapping.Result.
func (p *Pipeline) runMapping(ctx context.Context, job *domain.Job) error {
	hands := job.AllHands()
	var pending []*domain.Screenshot
	for _, s := range job.Screenshots {
		if s.Match != nil && s.Mapping == nil {
			pending = append(pending, s)
		}
	}
	results := p.buildMappings(hands, pending, job.TableMappings)
	for _, res := range results {
		if res.Conflict {
			job.Errors = append(job.Errors, errkind.New(errkind.MappingConflict, res.HandID, res.Detail, nil))
		}
	}
	return nil
}

// buildMappings builds one mapping.Result per screenshot in screenshots that
// has both a bound hand and an OCR-B payload, setting the screenshot's
// Mapping field as a side effect. knownNames for the fuzzy-completion pass
// is the union of real names already accepted for the hand's table from
// whatever has been aggregated into job.TableMappings so far; it's empty on
// the very first call of a job.
func (p *Pipeline) buildMappings(hands []*domain.Hand, screenshots []*domain.Screenshot, tableMappings map[string]*domain.TableMapping) []mapping.Result {
	byID := make(map[string]*domain.Hand, len(hands))
	for _, h := range hands {
		byID[h.ID] = h
	}

	results := make([]mapping.Result, 0, len(screenshots))
	for _, s := range screenshots {
		if s.Match == nil || s.OCRB == nil {
			continue
		}
		hand, ok := byID[s.Match.HandID]
		if !ok {
			continue
		}
		res := p.mapper.Build(hand, *s.OCRB, knownNames(tableMappings[hand.TableID]))
		s.Mapping = res.Mapping
		results = append(results, res)
	}
	return results
}

// knownNames returns the distinct real names already accepted for tm, or
// nil if tm hasn't been built yet.
func knownNames(tm *domain.TableMapping) []string {
	if tm == nil {
		return nil
	}
	names := make([]string, 0, len(tm.Accepted))
	for _, name := range tm.Accepted {
		names = append(names, name)
	}
	return names
}

// runAggregating unions every hand's mapping into the job's per-table
// mappings (spec §4.6), replacing the partial state seeded in runOCRB.
func (p *Pipeline) runAggregating(ctx context.Context, job *domain.Job) error {
	hands := job.AllHands()
	var results []mapping.Result
	for _, h := range hands {
		for _, s := range job.Screenshots {
			if s.Match != nil && s.Match.HandID == h.ID && s.Mapping != nil {
				results = append(results, mapping.Result{HandID: h.ID, Mapping: s.Mapping})
				break
			}
		}
	}

	job.TableMappings = p.aggregator.Aggregate(hands, results)

	for tableID, tm := range job.TableMappings {
		for id, names := range tm.Conflicts {
			job.Errors = append(job.Errors, errkind.New(errkind.TableConflict, tableID+":"+id, fmt.Sprintf("conflicting names %v", names), nil))
		}
	}
	return nil
}

// runRewriting applies each hand's table-level accepted mapping to its raw
// text (spec §4.7), then splices the rewritten hand back into its file's
// full text so a malformed block the parser skipped is carried through
// untouched rather than lost.
func (p *Pipeline) runRewriting(ctx context.Context, job *domain.Job) error {
	for _, f := range job.Files {
		for _, h := range f.Hands {
			tm := job.TableMappings[h.TableID]
			var accepted map[string]string
			if tm != nil {
				accepted = tm.Accepted
			}
			original := h.RawText
			rewritten := p.rewriter.Rewrite(original, accepted)
			f.RawText = strings.Replace(f.RawText, original, rewritten, 1)
			h.RawText = rewritten
			if p.met != nil {
				p.met.HandsRewritten.Add(1)
			}
		}
	}
	return nil
}

// runClassifying classifies every rewritten file, recording each file's
// worst-hand-wins verdict directly on it for persist to reuse (spec §4.8).
func (p *Pipeline) runClassifying(ctx context.Context, job *domain.Job) error {
	for _, f := range job.Files {
		hands := make([]classifier.RewrittenHand, 0, len(f.Hands))
		for _, h := range f.Hands {
			hands = append(hands, classifier.RewrittenHand{HandID: h.ID, Text: h.RawText})
		}
		fr := p.classifier.ClassifyFile(ctx, f.Filename, hands)
		f.Classification = string(fr.Classification)
	}
	return nil
}

// persist writes the job's final state via the storage port (spec §6).
func (p *Pipeline) persist(ctx context.Context, job *domain.Job) error {
	if p.store == nil {
		return nil
	}

	record := storage.JobRecord{ID: job.ID, Tier: job.Tier, Status: job.Status, CreatedAt: job.CreatedAt}
	if err := p.store.SaveJob(ctx, record); err != nil {
		return err
	}

	outcomes := make([]storage.ScreenshotOutcome, 0, len(job.Screenshots))
	for _, s := range job.Screenshots {
		o := storage.ScreenshotOutcome{Filename: s.Filename, Mapping: s.Mapping}
		if s.Match != nil {
			o.MatchedHandID = s.Match.HandID
			o.Confidence = s.Match.Confidence
		}
		outcomes = append(outcomes, o)
	}
	if err := p.store.SaveScreenshotOutcomes(ctx, job.ID, outcomes); err != nil {
		return err
	}

	var files []storage.RewrittenFile
	for _, f := range job.Files {
		files = append(files, storage.RewrittenFile{Filename: f.Filename, Content: f.RawText, Classification: f.Classification})
	}
	return p.store.SaveRewrittenFiles(ctx, job.ID, files)
}

func (p *Pipeline) concurrency(tier domain.Tier) int {
	if tier == domain.TierUnrestricted {
		return p.cfg.ConcurrencyUnrestricted
	}
	return p.cfg.ConcurrencyRestricted
}

func (p *Pipeline) retryConfig() ocr.RetryConfig {
	return ocr.RetryConfig{
		Timeout:     time.Duration(p.cfg.OCRTimeoutSeconds) * time.Second,
		Max:         p.cfg.RetryMax,
		BackoffBase: time.Duration(p.cfg.RetryBackoffBaseSeconds * float64(time.Second)),
		BackoffCap:  time.Duration(p.cfg.RetryBackoffCapSeconds * float64(time.Second)),
	}
}

// applyMatches binds each match onto the screenshot it names.
func applyMatches(screenshots []*domain.Screenshot, matches []domain.Match) {
	if len(matches) == 0 {
		return
	}
	byFilename := make(map[string]*domain.Screenshot, len(screenshots))
	for _, s := range screenshots {
		byFilename[s.Filename] = s
	}
	for _, m := range matches {
		m := m
		if s, ok := byFilename[m.ScreenshotFile]; ok {
			s.Match = &m
		}
	}
}
