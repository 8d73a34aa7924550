package evaluators

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/normalize"
	"github.com/smellreg/smellreg/internal/reference"
)

const dataset = `
metadata: {revision: eval-test}
lists:
  - id: STD
    family: concentration
    name: Test Standard
    categories:
      fine_fragrance: "4"
      body_lotion: "5A"
    entries:
      - {cas: 91-64-5, name: Coumarin, class: restricted, limits: {"4": 1.6, "5A": 0.4}}
      - {cas: 83-66-9, name: Musk ambrette, class: prohibited}
  - id: LIM
    family: restricted
    entries:
      - {cas: 106-24-1, name: Geraniol, class: restricted, threshold: 1.0}
  - id: ALG-A
    family: allergen
    entries:
      - {cas: 78-70-6, name: Linalool}
      - {cas: 91-64-5, name: Coumarin}
  - id: ALG-B
    family: allergen
    entries:
      - {cas: 78-70-6, name: Linalool}
  - id: ALG-C
    family: allergen
    entries:
      - {cas: 78-70-6, name: Linalool, condition: "market == 'us'"}
      - {cas: 91-64-5, name: Coumarin, condition: "market == 'us'"}
      - {cas: 91-64-5, name: Coumarin, condition: "leave_on"}
      - {cas: 5392-40-5, name: Citral, condition: "1 / (formula_percent > 100.0 ? 1 : 0) == 1"}
  - id: VOC
    family: voc
    name: Test VOC
    categories:
      air_freshener: Air Fresheners
      candle: Candles
    limits:
      Air Fresheners: 15
  - id: MIX
    family: restricted
    entries:
      - {cas: 83-66-9, name: Musk ambrette, class: prohibited}
      - {cas: 93-15-2, name: Methyleugenol, class: disclosure, notice: "Prop 65 warning required"}
      - {cas: 81-15-2, name: Musk xylene, class: restricted, threshold: 1.0, unit: formula}
      - {cas: 52-51-7, name: Bronopol, class: restricted, threshold: 0.1}
      - {cas: 52-51-7, name: Bronopol, class: disclosure, threshold: 0.05, notice: "releases formaldehyde"}
      - {cas: 108-88-3, name: Toluene, class: restricted, threshold: 0.1, condition: "product_type == 'air_freshener'"}
ingredients:
  - {cas: 64-17-5, name: Ethanol, voc: true}
  - {cas: 67-64-1, name: Acetone, voc: true, exempt: true}
  - {cas: 106-22-9, name: Citronellol, voc: true, voc_percent: 50}
  - {cas: 91-64-5, name: Coumarin, voc: false}
`

func load(t *testing.T) *reference.Snapshot {
	t.Helper()
	snap, err := reference.Parse(reference.File{Name: "test.yaml", Data: []byte(dataset)})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return snap
}

func slice(t *testing.T, snap *reference.Snapshot, list string, req *domain.EvaluationRequest) Slice {
	t.Helper()
	l, err := snap.List(list)
	if err != nil {
		t.Fatalf("List %s: %v", list, err)
	}
	return Slice{Market: domain.MarketEU, Request: req, List: l, Classifier: snap}
}

func formula(t *testing.T, conc float64, ings ...domain.Ingredient) *normalize.Formula {
	t.Helper()
	f, err := normalize.Normalize(&domain.Formula{Name: "test", Ingredients: ings}, conc)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return f
}

func TestClassifyLimitBoundary(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		limit    float64
		want     domain.Severity
		hit      bool
	}{
		{"exactly 90%", 0.9, 1.0, domain.SeverityWarning, true},
		{"89.999%", 0.89999, 1.0, "", false},
		{"at limit", 1.0, 1.0, domain.SeverityWarning, true},
		{"100.001%", 1.00001, 1.0, domain.SeverityViolation, true},
		{"90% of 1.6", 1.44, 1.6, domain.SeverityWarning, true},
		{"well below", 0.1, 1.0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hit := classifyLimit(tt.observed, tt.limit)
			if hit != tt.hit || got != tt.want {
				t.Errorf("classifyLimit(%v, %v) = %q, %v; want %q, %v", tt.observed, tt.limit, got, hit, tt.want, tt.hit)
			}
		})
	}
}

func TestRestrictedLimitThroughNormalization(t *testing.T) {
	snap := load(t)
	req := &domain.EvaluationRequest{ProductType: domain.BodyLotion, FragranceConcentration: 100, LeaveOn: true}
	s := slice(t, snap, "LIM", req)

	tests := []struct {
		name string
		pct  float64
		want []domain.Severity
	}{
		{"exactly 90% of limit", 0.9, []domain.Severity{domain.SeverityWarning}},
		{"89.999% of limit", 0.89999, nil},
		{"100.001% of limit", 1.00001, []domain.Severity{domain.SeverityViolation}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := formula(t, 100, domain.Ingredient{CAS: "106-24-1", Name: "Geraniol", Percentage: tt.pct})
			got, err := Restricted{}.Evaluate(context.Background(), f, s)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d findings, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, sev := range tt.want {
				if got[i].Severity != sev {
					t.Errorf("finding %d: got %s, want %s", i, got[i].Severity, sev)
				}
			}
		})
	}
}

func TestConcentration(t *testing.T) {
	snap := load(t)
	ctx := context.Background()

	t.Run("category limit uses product category", func(t *testing.T) {
		// 7.2% of formula at 20% = 1.44% of product: 90% of the category 4 limit.
		f := formula(t, 20,
			domain.Ingredient{CAS: "91-64-5", Name: "Coumarin", Percentage: 7.2},
			domain.Ingredient{CAS: "64-17-5", Name: "Ethanol", Percentage: 80},
		)
		req := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 20}
		got, err := Concentration{}.Evaluate(ctx, f, slice(t, snap, "STD", req))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if len(got) != 1 || got[0].Severity != domain.SeverityWarning || got[0].Limit != 1.6 {
			t.Fatalf("unexpected findings %+v", got)
		}
		if got[0].Requirement != "Test Standard category 4" {
			t.Errorf("unexpected requirement %q", got[0].Requirement)
		}

		// The same formula in a body lotion is well over the 0.4% limit.
		req.ProductType = domain.BodyLotion
		got, _ = Concentration{}.Evaluate(ctx, f, slice(t, snap, "STD", req))
		if len(got) != 1 || got[0].Severity != domain.SeverityViolation {
			t.Fatalf("expected violation, got %+v", got)
		}
	})

	t.Run("prohibited", func(t *testing.T) {
		f := formula(t, 10, domain.Ingredient{CAS: "83-66-9", Name: "Musk ambrette", Percentage: 0.01})
		req := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 10}
		got, _ := Concentration{}.Evaluate(ctx, f, slice(t, snap, "STD", req))
		if len(got) != 1 || got[0].Severity != domain.SeverityViolation || got[0].Limit != 0 {
			t.Fatalf("expected prohibited violation, got %+v", got)
		}

		f = formula(t, 10, domain.Ingredient{CAS: "83-66-9", Name: "Musk ambrette", Percentage: 0})
		got, _ = Concentration{}.Evaluate(ctx, f, slice(t, snap, "STD", req))
		if len(got) != 0 {
			t.Errorf("zero concentration must not be reported, got %+v", got)
		}
	})

	t.Run("unlisted ingredient and unmapped product are skipped", func(t *testing.T) {
		f := formula(t, 20, domain.Ingredient{CAS: "64-17-5", Name: "Ethanol", Percentage: 100})
		req := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 20}
		if got, _ := (Concentration{}).Evaluate(ctx, f, slice(t, snap, "STD", req)); len(got) != 0 {
			t.Errorf("expected no findings, got %+v", got)
		}

		f = formula(t, 20, domain.Ingredient{CAS: "91-64-5", Name: "Coumarin", Percentage: 50})
		req.ProductType = domain.Candle
		if got, _ := (Concentration{}).Evaluate(ctx, f, slice(t, snap, "STD", req)); len(got) != 0 {
			t.Errorf("candle has no category here, got %+v", got)
		}
	})
}

func TestAllergenThresholds(t *testing.T) {
	snap := load(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		pct     float64
		leaveOn bool
		want    int
	}{
		{"leave-on exactly at threshold", 0.005, true, 1}, // 0.001% of product
		{"leave-on marginally below", 0.0049, true, 0},
		{"rinse-off below its threshold", 0.04, false, 0}, // 0.008%
		{"rinse-off at threshold", 0.05, false, 1},        // 0.01%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := formula(t, 20, domain.Ingredient{CAS: "78-70-6", Name: "Linalool", Percentage: tt.pct})
			req := &domain.EvaluationRequest{ProductType: domain.BodyLotion, FragranceConcentration: 20, LeaveOn: tt.leaveOn}
			got, err := Allergen{}.Evaluate(ctx, f, slice(t, snap, "ALG-A", req))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d findings, got %+v", tt.want, got)
			}
			if tt.want == 1 && got[0].Severity != domain.SeverityInfo {
				t.Errorf("allergen findings are info, got %s", got[0].Severity)
			}
		})
	}
}

func TestAllergenListsReportIndependently(t *testing.T) {
	snap := load(t)
	f := formula(t, 20,
		domain.Ingredient{CAS: "78-70-6", Name: "Linalool", Percentage: 15},
		domain.Ingredient{CAS: "91-64-5", Name: "Coumarin", Percentage: 5},
	)
	req := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 20, LeaveOn: true}

	var all []domain.Finding
	for _, id := range []string{"ALG-A", "ALG-B"} {
		got, err := Allergen{}.Evaluate(context.Background(), f, slice(t, snap, id, req))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		all = append(all, got...)
	}
	if len(all) != 3 {
		t.Fatalf("expected linalool twice and coumarin once, got %+v", all)
	}
	// sorted by CAS within a list
	if all[0].CAS != "78-70-6" || all[1].CAS != "91-64-5" {
		t.Errorf("unexpected order %s, %s", all[0].CAS, all[1].CAS)
	}
}

func TestAllergenConditions(t *testing.T) {
	snap := load(t)
	ctx := context.Background()
	req := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 20, LeaveOn: true}

	t.Run("first applicable entry reports", func(t *testing.T) {
		f := formula(t, 20,
			domain.Ingredient{CAS: "78-70-6", Name: "Linalool", Percentage: 15},
			domain.Ingredient{CAS: "91-64-5", Name: "Coumarin", Percentage: 5},
		)
		got, err := Allergen{}.Evaluate(ctx, f, slice(t, snap, "ALG-C", req))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if len(got) != 1 || got[0].CAS != "91-64-5" {
			t.Errorf("expected only coumarin via its leave-on entry, got %+v", got)
		}
	})

	t.Run("condition error is returned", func(t *testing.T) {
		f := formula(t, 20, domain.Ingredient{CAS: "5392-40-5", Name: "Citral", Percentage: 1})
		if _, err := (Allergen{}).Evaluate(ctx, f, slice(t, snap, "ALG-C", req)); err == nil {
			t.Error("expected condition evaluation error")
		}
	})
}

func TestVOC(t *testing.T) {
	snap := load(t)
	ctx := context.Background()
	req := &domain.EvaluationRequest{ProductType: domain.AirFreshener, FragranceConcentration: 20}

	t.Run("exempt and non-voc ingredients excluded", func(t *testing.T) {
		f := formula(t, 20,
			domain.Ingredient{CAS: "64-17-5", Name: "Ethanol", Percentage: 50},     // 10%
			domain.Ingredient{CAS: "106-22-9", Name: "Citronellol", Percentage: 20}, // 4% * 0.5
			domain.Ingredient{CAS: "67-64-1", Name: "Acetone", Percentage: 20},      // exempt
			domain.Ingredient{CAS: "91-64-5", Name: "Coumarin", Percentage: 5},      // not VOC
			domain.Ingredient{CAS: "5989-27-5", Name: "d-Limonene", Percentage: 5},  // unclassified
		)
		if got := TotalVOC(f, snap); math.Abs(got-12) > 1e-9 {
			t.Errorf("expected 12%% VOC, got %v", got)
		}
		got, err := VOC{}.Evaluate(ctx, f, slice(t, snap, "VOC", req))
		if err != nil || len(got) != 0 {
			t.Errorf("12%% is under the 15%% limit: %+v %v", got, err)
		}
	})

	t.Run("over limit yields one finding", func(t *testing.T) {
		f := formula(t, 20,
			domain.Ingredient{CAS: "64-17-5", Name: "Ethanol", Percentage: 65},
			domain.Ingredient{CAS: "106-22-9", Name: "Citronellol", Percentage: 30},
		)
		got, err := VOC{}.Evaluate(ctx, f, slice(t, snap, "VOC", req))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if len(got) != 1 || got[0].Severity != domain.SeverityViolation || got[0].CAS != "" {
			t.Fatalf("expected a single category violation, got %+v", got)
		}
		// 13% ethanol + 6% * 0.5 citronellol
		if math.Abs(got[0].Observed-16) > 1e-9 || got[0].Limit != 15 {
			t.Errorf("unexpected observed/limit %v/%v", got[0].Observed, got[0].Limit)
		}
	})

	t.Run("unmapped product type is not applicable", func(t *testing.T) {
		f := formula(t, 20, domain.Ingredient{CAS: "64-17-5", Name: "Ethanol", Percentage: 100})
		r := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 20}
		got, err := VOC{}.Evaluate(ctx, f, slice(t, snap, "VOC", r))
		if err != nil || len(got) != 0 {
			t.Errorf("expected nothing, got %+v %v", got, err)
		}
	})

	t.Run("mapped category without limit is missing data", func(t *testing.T) {
		f := formula(t, 20, domain.Ingredient{CAS: "64-17-5", Name: "Ethanol", Percentage: 100})
		r := &domain.EvaluationRequest{ProductType: domain.Candle, FragranceConcentration: 20}
		_, err := VOC{}.Evaluate(ctx, f, slice(t, snap, "VOC", r))
		if !errors.Is(err, domain.ErrReferenceDataMissing) {
			t.Errorf("expected ErrReferenceDataMissing, got %v", err)
		}
	})
}

func TestRestricted(t *testing.T) {
	snap := load(t)
	ctx := context.Background()
	f := formula(t, 10,
		domain.Ingredient{CAS: "83-66-9", Name: "Musk ambrette", Percentage: 0.5},
		domain.Ingredient{CAS: "93-15-2", Name: "Methyleugenol", Percentage: 0.001},
		domain.Ingredient{CAS: "81-15-2", Name: "Musk xylene", Percentage: 1.2}, // 0.12% of product, 1.2% of formula
		domain.Ingredient{CAS: "52-51-7", Name: "Bronopol", Percentage: 0.8},    // 0.08% of product
		domain.Ingredient{CAS: "108-88-3", Name: "Toluene", Percentage: 5},
	)
	req := &domain.EvaluationRequest{ProductType: domain.FineFragrance, FragranceConcentration: 10, LeaveOn: true}

	got, err := Restricted{}.Evaluate(ctx, f, slice(t, snap, "MIX", req))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	bySev := map[string][]domain.Severity{}
	for _, fd := range got {
		bySev[fd.CAS] = append(bySev[fd.CAS], fd.Severity)
	}

	if s := bySev["83-66-9"]; len(s) != 1 || s[0] != domain.SeverityViolation {
		t.Errorf("prohibited musk ambrette: %v", s)
	}
	if s := bySev["93-15-2"]; len(s) != 1 || s[0] != domain.SeverityInfo {
		t.Errorf("notification for methyleugenol: %v", s)
	}
	if s := bySev["81-15-2"]; len(s) != 1 || s[0] != domain.SeverityViolation {
		t.Errorf("musk xylene limit is per formula (1.2 > 1.0): %v", s)
	}
	// bronopol at 0.08%: under 90% of 0.1 but above the 0.05 labeling threshold
	if s := bySev["52-51-7"]; len(s) != 1 || s[0] != domain.SeverityInfo {
		t.Errorf("bronopol: %v", s)
	}
	if _, ok := bySev["108-88-3"]; ok {
		t.Error("toluene condition limits the entry to air fresheners")
	}

	for i := 1; i < len(got); i++ {
		if got[i-1].CAS > got[i].CAS {
			t.Errorf("findings not sorted by CAS: %s before %s", got[i-1].CAS, got[i].CAS)
		}
	}
}

func TestFor(t *testing.T) {
	for _, f := range domain.Families {
		e, ok := For(f)
		if !ok || e.Family() != f {
			t.Errorf("no evaluator for %s", f)
		}
	}
	if _, ok := For("toxicology"); ok {
		t.Error("unexpected evaluator")
	}
}
