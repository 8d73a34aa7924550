package normalize

import (
	"errors"
	"math"
	"testing"

	"github.com/smellreg/smellreg/internal/domain"
)

func TestToFinishedProduct(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		conc    float64
		want    float64
		wantErr bool
	}{
		{"linalool at 20%", 15, 20, 3, false},
		{"pure fragrance", 5, 100, 5, false},
		{"zero ingredient", 0, 20, 0, false},
		{"zero concentration", 10, 0, 0, true},
		{"negative concentration", 10, -5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToFinishedProduct(tt.pct, tt.conc)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidConcentration) {
					t.Errorf("expected ErrInvalidConcentration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToFinishedProductMonotonic(t *testing.T) {
	for _, conc := range []float64{0.01, 1, 12.5, 20, 99.9, 100} {
		prev := -1.0
		for pct := 0.0; pct <= 100; pct += 0.25 {
			got, err := ToFinishedProduct(pct, conc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got < prev {
				t.Fatalf("not monotonic at conc=%v pct=%v: %v < %v", conc, pct, got, prev)
			}
			prev = got
		}
	}
}

func TestNormalize(t *testing.T) {
	f := &domain.Formula{
		Name: "Test",
		Ingredients: []domain.Ingredient{
			{CAS: "64-17-5", Name: "Ethanol", Percentage: 70},
			{CAS: "91-64-5", Name: "Coumarin", Percentage: 5},
		},
	}

	n, err := Normalize(f, 20)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(n.Ingredients) != 2 {
		t.Fatalf("expected 2 ingredients, got %d", len(n.Ingredients))
	}
	c := n.Ingredients[1]
	if c.Concentration(domain.UnitProduct) != 1 {
		t.Errorf("expected 1%% of product, got %v", c.Concentration(domain.UnitProduct))
	}
	if c.Concentration(domain.UnitFormula) != 5 {
		t.Errorf("expected 5%% of formula, got %v", c.Concentration(domain.UnitFormula))
	}

	if _, err := Normalize(f, 0); !errors.Is(err, domain.ErrInvalidConcentration) {
		t.Errorf("expected ErrInvalidConcentration, got %v", err)
	}
}
