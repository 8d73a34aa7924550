package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smellreg/smellreg/internal/domain"
)

// Recorder persists issued reports and announces them on the bus. The
// synchronous API and the async worker share it so both paths leave the
// same trail.
type Recorder struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	ttl   time.Duration
}

// NewRecorder creates a recorder. cache and bus may be nil.
func NewRecorder(repo domain.Repository, cache domain.Cache, bus domain.EventBus, reportTTL time.Duration) *Recorder {
	if reportTTL <= 0 {
		reportTTL = 24 * time.Hour
	}
	return &Recorder{repo: repo, cache: cache, bus: bus, ttl: reportTTL}
}

// Record saves the report, caches it, updates the library formula it was
// issued for and publishes the completion events. Only the save is fatal.
func (r *Recorder) Record(ctx context.Context, tenantID string, report *domain.ComplianceReport) error {
	report.TenantID = tenantID

	if r.repo != nil {
		if err := r.repo.SaveReport(ctx, tenantID, report); err != nil {
			return fmt.Errorf("save report %s: %w", report.CertificateNumber, err)
		}
	}

	if r.cache != nil {
		if err := r.cache.SetReport(ctx, tenantID, report, r.ttl); err != nil {
			slog.Warn("failed to cache report",
				"certificate", report.CertificateNumber,
				"error", err,
			)
		}
	}

	if report.FormulaID != "" && r.repo != nil {
		status := domain.StatusCompliant
		if !report.IsCompliant {
			status = domain.StatusNonCompliant
		}
		err := r.repo.UpdateFormulaStatus(ctx, tenantID, report.FormulaID, status, report.CertificateNumber, report.GeneratedAt)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to update formula status",
				"formula_id", report.FormulaID,
				"error", err,
			)
		}
	}

	r.publish(ctx, tenantID, report)
	return nil
}

// Lookup finds a report by certificate, cache first.
func (r *Recorder) Lookup(ctx context.Context, tenantID, certificate string) (*domain.ComplianceReport, error) {
	if r.cache != nil {
		report, err := r.cache.GetReport(ctx, tenantID, certificate)
		if err != nil {
			slog.Warn("report cache lookup failed", "certificate", certificate, "error", err)
		}
		if report != nil {
			return report, nil
		}
	}
	if r.repo == nil {
		return nil, domain.ErrNotFound
	}

	report, err := r.repo.GetReport(ctx, tenantID, certificate)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		_ = r.cache.SetReport(ctx, tenantID, report, r.ttl)
	}
	return report, nil
}

// Fail announces a check that could not run.
func (r *Recorder) Fail(ctx context.Context, tenantID string, failure domain.CheckFailure) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(failure)
	if err := r.bus.Publish(ctx, tenantID, domain.TopicComplianceFailed, payload); err != nil {
		slog.Error("failed to publish check failure", "request_id", failure.RequestID, "error", err)
	}
}

func (r *Recorder) publish(ctx context.Context, tenantID string, report *domain.ComplianceReport) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		slog.Error("failed to encode report event", "certificate", report.CertificateNumber, "error", err)
		return
	}

	if err := r.bus.Publish(ctx, tenantID, domain.TopicComplianceCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"certificate", report.CertificateNumber,
			"error", err,
		)
	}
	if !report.IsCompliant {
		if err := r.bus.Publish(ctx, tenantID, domain.TopicComplianceNonCompliant, payload); err != nil {
			slog.Error("failed to publish non-compliance",
				"certificate", report.CertificateNumber,
				"error", err,
			)
		}
	}
}
