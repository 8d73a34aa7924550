package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/smellreg/smellreg/internal/bus"
	"github.com/smellreg/smellreg/internal/cache"
	"github.com/smellreg/smellreg/internal/compliance"
	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/reference"
	"github.com/smellreg/smellreg/internal/repository"
)

const dataset = `
metadata:
  revision: "worker-test"
markets:
  eu:
    concentration: [IFRA]
    allergen: [EU-26]
lists:
  - id: IFRA
    family: concentration
    categories:
      fine_fragrance: "4"
    entries:
      - {cas: 91-64-5, name: Coumarin, class: restricted, limits: {"4": 1.6}}
  - id: EU-26
    family: allergen
    entries:
      - {cas: 78-70-6, name: Linalool}
`

type fixture struct {
	bus      *bus.ChannelBus
	repo     domain.Repository
	cache    *cache.LRUCache
	worker   *Worker
	tenantID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	snap, err := reference.Parse(reference.File{Name: "worker.yaml", Data: []byte(dataset)})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}

	f := &fixture{
		bus:      bus.NewChannelBus(100),
		repo:     repo,
		cache:    cache.NewLRUCache(100),
		tenantID: "tenant-001",
	}
	engine := compliance.NewEngine(reference.NewStore(snap), 4, nil)
	recorder := compliance.NewRecorder(repo, f.cache, f.bus, time.Hour)
	f.worker = NewWorker(f.bus, engine, recorder)

	t.Cleanup(func() {
		f.worker.Stop()
		f.bus.Close()
		repo.Close()
	})
	return f
}

// listen subscribes to topic and returns the first message payload.
func (f *fixture) listen(t *testing.T, topic string) <-chan []byte {
	t.Helper()
	ch := make(chan []byte, 1)
	_, err := f.bus.Subscribe(context.Background(), f.tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case ch <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return ch
}

func (f *fixture) publish(t *testing.T, req domain.CheckRequest) {
	t.Helper()
	payload, _ := json.Marshal(req)
	if err := f.bus.Publish(context.Background(), f.tenantID, domain.TopicComplianceRequested, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func checkRequest(requestID string, coumarinPct float64) domain.CheckRequest {
	return domain.CheckRequest{
		RequestID: requestID,
		FormulaID: "f-001",
		Formula: domain.Formula{
			Name: "Tonka Accord",
			Ingredients: []domain.Ingredient{
				{CAS: "91-64-5", Name: "Coumarin", Percentage: coumarinPct},
				{CAS: "78-70-6", Name: "Linalool", Percentage: 10},
			},
		},
		Request: domain.EvaluationRequest{
			ProductType:            domain.FineFragrance,
			Markets:                []domain.Market{domain.MarketEU},
			FragranceConcentration: 20,
			LeaveOn:                true,
		},
	}
}

func TestWorkerStartAndStop(t *testing.T) {
	f := newFixture(t)

	if err := f.worker.Start(Config{TenantIDs: []string{"tenant-001", "tenant-002"}, WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if stats := f.worker.GetStats(); stats.SubscriptionCount != 4 {
		t.Errorf("expected 4 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := f.worker.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if stats := f.worker.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestWorkerProcessesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.repo.SaveFormula(ctx, f.tenantID, &domain.StoredFormula{
		ID:      "f-001",
		Formula: checkRequest("", 10).Formula,
	}); err != nil {
		t.Fatalf("SaveFormula: %v", err)
	}
	if err := f.worker.Start(Config{TenantIDs: []string{f.tenantID}, WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	completed := f.listen(t, domain.TopicComplianceCompleted)
	flagged := f.listen(t, domain.TopicComplianceNonCompliant)

	// coumarin 10% of a 20% concentrate is 2.0% of product, over the 1.6% limit
	f.publish(t, checkRequest("req-001", 10))

	var report domain.ComplianceReport
	if err := json.Unmarshal(receive(t, completed), &report); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if report.RequestID != "req-001" || report.IsCompliant {
		t.Errorf("unexpected completion %+v", report)
	}
	receive(t, flagged)

	stored, err := f.repo.GetReportByRequestID(ctx, f.tenantID, "req-001")
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if stored.CertificateNumber != report.CertificateNumber {
		t.Errorf("stored %s, published %s", stored.CertificateNumber, report.CertificateNumber)
	}

	cached, _ := f.cache.GetReport(ctx, f.tenantID, report.CertificateNumber)
	if cached == nil {
		t.Error("report not cached")
	}

	formula, err := f.repo.GetFormula(ctx, f.tenantID, "f-001")
	if err != nil {
		t.Fatalf("GetFormula: %v", err)
	}
	if formula.Status != domain.StatusNonCompliant || formula.LastCertificate != report.CertificateNumber {
		t.Errorf("formula status not updated: %+v", formula)
	}
}

func TestWorkerPublishesFailure(t *testing.T) {
	f := newFixture(t)
	if err := f.worker.Start(Config{TenantIDs: []string{f.tenantID}, WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	failed := f.listen(t, domain.TopicComplianceFailed)

	req := checkRequest("req-bad", 10)
	req.Request.Markets = nil
	f.publish(t, req)

	var failure domain.CheckFailure
	if err := json.Unmarshal(receive(t, failed), &failure); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if failure.RequestID != "req-bad" || failure.Error == "" {
		t.Errorf("unexpected failure %+v", failure)
	}

	if _, err := f.repo.GetReportByRequestID(context.Background(), f.tenantID, "req-bad"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("no report should exist, got %v", err)
	}
}
