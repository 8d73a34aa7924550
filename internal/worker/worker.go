// Package worker runs compliance checks requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/smellreg/smellreg/internal/compliance"
	"github.com/smellreg/smellreg/internal/domain"
)

// QueueGroup is the bus queue group shared by all workers, so each request
// is checked once however many instances run.
const QueueGroup = "smellreg-workers"

// Checker runs a compliance check.
type Checker interface {
	CheckCompliance(ctx context.Context, formula *domain.Formula, req domain.EvaluationRequest) (*domain.ComplianceReport, error)
}

// Worker consumes TopicComplianceRequested.
type Worker struct {
	bus      domain.EventBus
	checker  Checker
	recorder *compliance.Recorder

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to consume for; empty means "default".
	TenantIDs []string

	// WorkerCount is the number of queue members per tenant.
	WorkerCount int
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, checker Checker, recorder *compliance.Recorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		checker:  checker,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes WorkerCount queue members for every tenant.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{"default"}
	}
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	for _, tenantID := range tenants {
		for i := 0; i < count; i++ {
			sub, err := w.bus.QueueSubscribe(w.ctx, tenantID, domain.TopicComplianceRequested, QueueGroup,
				func(ctx context.Context, msg *domain.Message) error {
					return w.process(ctx, tenantID, msg)
				})
			if err != nil {
				return fmt.Errorf("start worker for tenant %s: %w", tenantID, err)
			}
			w.subscriptions = append(w.subscriptions, sub)
		}
		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicComplianceRequested,
			"workers", count,
		)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.CheckRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse check request", "message_id", msg.ID, "error", err)
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	report, err := w.checker.CheckCompliance(ctx, &req.Formula, req.Request)
	if err != nil {
		slog.Warn("async check failed",
			"request_id", req.RequestID,
			"tenant_id", tenantID,
			"error", err,
		)
		w.recorder.Fail(ctx, tenantID, domain.CheckFailure{
			RequestID: req.RequestID,
			FormulaID: req.FormulaID,
			Error:     err.Error(),
		})
		return err
	}

	report.RequestID = req.RequestID
	report.FormulaID = req.FormulaID
	if err := w.recorder.Record(ctx, tenantID, report); err != nil {
		w.recorder.Fail(ctx, tenantID, domain.CheckFailure{
			RequestID: req.RequestID,
			FormulaID: req.FormulaID,
			Error:     err.Error(),
		})
		return err
	}

	slog.Info("compliance request processed",
		"request_id", req.RequestID,
		"tenant_id", tenantID,
		"certificate", report.CertificateNumber,
		"compliant", report.IsCompliant,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes every worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats describes the running worker.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subscriptions), Topics: topics}
}
