package evaluators

import (
	"context"
	"fmt"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/normalize"
)

// Concentration checks per-category maximum use levels. Ingredients with no
// entry for the market's category produce nothing.
type Concentration struct{}

func (Concentration) Family() domain.Family { return domain.FamilyConcentration }

func (Concentration) Evaluate(ctx context.Context, f *normalize.Formula, s Slice) ([]domain.Finding, error) {
	category, ok := s.List.Category(s.Request.ProductType)
	if !ok {
		return nil, nil
	}

	var out []domain.Finding
	for _, ing := range f.Ingredients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range s.List.Entries(ing.CAS) {
			if r.Category != "" && r.Category != category {
				continue
			}
			ok, err := r.Applies(input(s, category, ing))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			req := fmt.Sprintf("%s category %s", listName(s.List), category)
			if finding, hit := assess(s, r, ing, req); hit {
				out = append(out, finding)
			}
		}
	}
	sortFindings(out)
	return out, nil
}
