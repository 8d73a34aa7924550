// Package compliance runs a formula against every requested market and
// regulation family and assembles the compliance report.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/evaluators"
	"github.com/smellreg/smellreg/internal/normalize"
	"github.com/smellreg/smellreg/internal/reference"
)

// EngineVersion is stamped on every report.
const EngineVersion = "1.2.0"

var tracer = otel.Tracer("smellreg-compliance")

// SnapshotSource provides the current reference dataset.
type SnapshotSource interface {
	Snapshot() *reference.Snapshot
}

// Engine evaluates formulas. It is safe for concurrent use.
type Engine struct {
	source     SnapshotSource
	maxWorkers int
	metrics    *Metrics
	stamps     stamper
	now        func() time.Time
}

// NewEngine creates an engine bounded to maxWorkers concurrent evaluator
// runs per check. metrics may be nil.
func NewEngine(source SnapshotSource, maxWorkers int, metrics *Metrics) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Engine{
		source:     source,
		maxWorkers: maxWorkers,
		metrics:    metrics,
		now:        time.Now,
	}
}

// job is one evaluator run: one market, one family, one list.
type job struct {
	market domain.Market
	family domain.Family
	listID string
}

type jobResult struct {
	findings []domain.Finding
	gap      *domain.DataGap
}

// CheckCompliance evaluates formula against req. Invalid input fails with
// domain.ErrInvalidRequest; missing reference data never fails the check
// and is reported as data gaps instead.
func (e *Engine) CheckCompliance(ctx context.Context, formula *domain.Formula, req domain.EvaluationRequest) (*domain.ComplianceReport, error) {
	start := e.now()

	ctx, span := tracer.Start(ctx, "compliance.check")
	defer span.End()

	if formula == nil {
		e.metrics.observeRejected()
		return nil, fmt.Errorf("%w: formula is required", domain.ErrInvalidRequest)
	}

	// Validate normalizes in place; keep the caller's slices untouched.
	req.Markets = append([]domain.Market(nil), req.Markets...)
	req.Families = append([]domain.Family(nil), req.Families...)

	if err := formula.Validate(); err != nil {
		e.metrics.observeRejected()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := req.Validate(); err != nil {
		e.metrics.observeRejected()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fingerprint, err := Fingerprint(formula, &req)
	if err != nil {
		e.metrics.observeRejected()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	span.SetAttributes(
		attribute.String("formula.name", formula.Name),
		attribute.Int("formula.ingredients", len(formula.Ingredients)),
		attribute.String("product.type", string(req.ProductType)),
		attribute.Int("markets", len(req.Markets)),
	)

	snap := e.source.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("%w: no reference dataset loaded", domain.ErrReferenceDataMissing)
	}

	norm, err := normalize.Normalize(formula, req.FragranceConcentration)
	if err != nil {
		e.metrics.observeRejected()
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	jobs, gaps, skipped := plan(snap, &req)

	results, err := e.run(ctx, snap, norm, &req, jobs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var findings []domain.Finding
	for _, r := range results {
		findings = append(findings, r.findings...)
		if r.gap != nil {
			gaps = append(gaps, *r.gap)
		}
	}
	sortFindings(findings)
	sortGaps(gaps)

	report := &domain.ComplianceReport{
		ID:                uuid.New().String(),
		FormulaName:       formula.Name,
		Request:           req,
		NonCompliant:      []domain.Finding{},
		Advisory:          []domain.Finding{},
		DataGaps:          gaps,
		ReferenceRevision: snap.Revision(),
	}
	if report.DataGaps == nil {
		report.DataGaps = []domain.DataGap{}
	}
	for _, f := range findings {
		if f.Severity == domain.SeverityViolation {
			report.NonCompliant = append(report.NonCompliant, f)
		} else {
			report.Advisory = append(report.Advisory, f)
		}
	}
	report.IsCompliant = len(report.NonCompliant) == 0

	generated := e.now().UTC()
	report.GeneratedAt = generated
	report.Fingerprint = fingerprint
	report.CertificateNumber = CertificateNumber(generated, report.Fingerprint, e.stamps.next(generated))

	elapsed := time.Since(start)
	if sc := span.SpanContext(); sc.HasTraceID() {
		report.Metadata.TraceID = sc.TraceID().String()
	}
	report.Metadata.EvaluationsRun = len(jobs)
	report.Metadata.EvaluationsSkipped = skipped
	report.Metadata.IngredientsAnalyzed = len(norm.Ingredients)
	report.Metadata.TotalMs = elapsed.Milliseconds()
	report.Metadata.EngineVersion = EngineVersion

	span.SetAttributes(
		attribute.Bool("compliant", report.IsCompliant),
		attribute.Int("violations", len(report.NonCompliant)),
		attribute.Int("data_gaps", len(report.DataGaps)),
		attribute.String("certificate", report.CertificateNumber),
	)
	e.metrics.observeReport(report, elapsed)

	slog.Debug("compliance check complete",
		"certificate", report.CertificateNumber,
		"formula", formula.Name,
		"compliant", report.IsCompliant,
		"violations", len(report.NonCompliant),
		"advisories", len(report.Advisory),
		"data_gaps", len(report.DataGaps),
		"duration", elapsed,
	)

	return report, nil
}

// plan expands the request into evaluator jobs. Markets absent from the
// dataset become one data gap per requested family; a family with no
// program in a configured market is skipped silently.
func plan(snap *reference.Snapshot, req *domain.EvaluationRequest) ([]job, []domain.DataGap, int) {
	var (
		jobs    []job
		gaps    []domain.DataGap
		skipped int
	)
	for _, m := range req.Markets {
		for _, f := range domain.Families {
			if !req.Includes(f) {
				continue
			}
			if !snap.MarketConfigured(m) {
				gaps = append(gaps, domain.DataGap{
					Market: m,
					Family: f,
					Detail: fmt.Sprintf("no reference data configured for market %s", m),
				})
				continue
			}
			ids := snap.Programs(m, f)
			if len(ids) == 0 {
				skipped++
				continue
			}
			for _, id := range ids {
				jobs = append(jobs, job{market: m, family: f, listID: id})
			}
		}
	}
	return jobs, gaps, skipped
}

// run fans the jobs out over a bounded pool. A failing evaluator turns into
// a data gap for its own job; only cancellation aborts the check.
func (e *Engine) run(ctx context.Context, snap *reference.Snapshot, norm *normalize.Formula, req *domain.EvaluationRequest, jobs []job) ([]jobResult, error) {
	results := make([]jobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			findings, err := e.evaluate(gctx, snap, norm, req, j)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("evaluation skipped",
					"market", j.market,
					"family", j.family,
					"list", j.listID,
					"error", err,
				)
				results[i].gap = &domain.DataGap{
					Market: j.market,
					Family: j.family,
					List:   j.listID,
					Detail: err.Error(),
				}
				return nil
			}
			results[i].findings = findings
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compliance check cancelled: %w", err)
	}
	return results, nil
}

func (e *Engine) evaluate(ctx context.Context, snap *reference.Snapshot, norm *normalize.Formula, req *domain.EvaluationRequest, j job) (findings []domain.Finding, err error) {
	ev, ok := evaluators.For(j.family)
	if !ok {
		return nil, fmt.Errorf("no evaluator for family %s", j.family)
	}
	list, err := snap.List(j.listID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator %s panicked on list %s: %v", j.family, j.listID, r)
		}
	}()

	start := time.Now()
	findings, err = ev.Evaluate(ctx, norm, evaluators.Slice{
		Market:     j.market,
		Request:    req,
		List:       list,
		Classifier: snap,
	})
	e.metrics.observeEvaluator(j.family, time.Since(start))
	if err != nil && !errors.Is(err, domain.ErrReferenceDataMissing) && ctx.Err() == nil {
		err = fmt.Errorf("%s/%s: %w", j.family, j.listID, err)
	}
	return findings, err
}

var familyOrder = func() map[domain.Family]int {
	m := make(map[domain.Family]int, len(domain.Families))
	for i, f := range domain.Families {
		m[f] = i
	}
	return m
}()

func sortFindings(fs []domain.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.CAS != b.CAS {
			return a.CAS < b.CAS
		}
		if a.Family != b.Family {
			return familyOrder[a.Family] < familyOrder[b.Family]
		}
		if a.List != b.List {
			return a.List < b.List
		}
		return a.Requirement < b.Requirement
	})
}

func sortGaps(gs []domain.DataGap) {
	sort.SliceStable(gs, func(i, j int) bool {
		a, b := gs[i], gs[j]
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.Family != b.Family {
			return familyOrder[a.Family] < familyOrder[b.Family]
		}
		return a.List < b.List
	})
}
