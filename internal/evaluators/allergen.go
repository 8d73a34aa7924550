package evaluators

import (
	"context"
	"fmt"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/normalize"
	"github.com/smellreg/smellreg/internal/reference"
)

// Allergen disclosure thresholds, percent of finished product.
const (
	LeaveOnThreshold  = 0.001
	RinseOffThreshold = 0.01
)

// Allergen reports allergens that must be named on the label. Every list
// reports its own matches; overlapping lists are not deduplicated.
type Allergen struct{}

func (Allergen) Family() domain.Family { return domain.FamilyAllergen }

func (Allergen) Evaluate(ctx context.Context, f *normalize.Formula, s Slice) ([]domain.Finding, error) {
	threshold, use := RinseOffThreshold, "rinse-off"
	if s.Request.LeaveOn {
		threshold, use = LeaveOnThreshold, "leave-on"
	}

	var out []domain.Finding
	for _, ing := range f.Ingredients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !atLeast(ing.ProductPercent, threshold) {
			continue
		}
		r, err := firstApplicable(s, ing)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		out = append(out, domain.Finding{
			Market:         s.Market,
			Family:         domain.FamilyAllergen,
			List:           s.List.ID,
			CAS:            ing.CAS,
			IngredientName: ing.Name,
			Requirement:    fmt.Sprintf("%s disclosure required", listName(s.List)),
			Severity:       domain.SeverityInfo,
			Observed:       ing.ProductPercent,
			Limit:          threshold,
			Unit:           domain.UnitProduct,
			Detail: fmt.Sprintf("%s at %.4g%% is at or above the %s disclosure threshold of %g%% and must be labeled",
				r.Name, ing.ProductPercent, use, threshold),
			Reference: r.Reference,
		})
	}
	sortFindings(out)
	return out, nil
}

// firstApplicable returns the first entry for ing whose condition holds, or
// nil when the list has none.
func firstApplicable(s Slice, ing normalize.Ingredient) (*reference.Rule, error) {
	for _, r := range s.List.Entries(ing.CAS) {
		ok, err := r.Applies(input(s, "", ing))
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
	}
	return nil, nil
}
