// Package normalize converts formula-relative ingredient percentages into
// finished-product percentages.
package normalize

import (
	"fmt"

	"github.com/smellreg/smellreg/internal/domain"
)

// ToFinishedProduct returns formulaPct * fragranceConc / 100.
func ToFinishedProduct(formulaPct, fragranceConc float64) (float64, error) {
	if fragranceConc <= 0 {
		return 0, fmt.Errorf("%w: %g", domain.ErrInvalidConcentration, fragranceConc)
	}
	return formulaPct * fragranceConc / 100, nil
}

// Ingredient is an ingredient carrying both concentration units.
type Ingredient struct {
	domain.Ingredient
	ProductPercent float64
}

// Concentration returns the ingredient's concentration in unit u.
func (i Ingredient) Concentration(u domain.ThresholdUnit) float64 {
	if u == domain.UnitFormula {
		return i.Percentage
	}
	return i.ProductPercent
}

// Formula is a formula normalized once for a given fragrance concentration.
// It is read-only and shared by every evaluator of a check.
type Formula struct {
	Name                   string
	FragranceConcentration float64
	Ingredients            []Ingredient
}

// Normalize converts every ingredient of f.
func Normalize(f *domain.Formula, fragranceConc float64) (*Formula, error) {
	out := &Formula{
		Name:                   f.Name,
		FragranceConcentration: fragranceConc,
		Ingredients:            make([]Ingredient, len(f.Ingredients)),
	}
	for i, ing := range f.Ingredients {
		pct, err := ToFinishedProduct(ing.Percentage, fragranceConc)
		if err != nil {
			return nil, fmt.Errorf("ingredient %s: %w", ing.CAS, err)
		}
		out.Ingredients[i] = Ingredient{Ingredient: ing, ProductPercent: pct}
	}
	return out, nil
}
