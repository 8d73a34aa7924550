package evaluators

import (
	"context"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/normalize"
)

// Restricted checks market restricted-substance lists. Each entry's own
// severity class decides the outcome.
type Restricted struct{}

func (Restricted) Family() domain.Family { return domain.FamilyRestricted }

func (Restricted) Evaluate(ctx context.Context, f *normalize.Formula, s Slice) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, ing := range f.Ingredients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range s.List.Entries(ing.CAS) {
			ok, err := r.Applies(input(s, "", ing))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if finding, hit := assess(s, r, ing, requirement(s, r.Class)); hit {
				out = append(out, finding)
			}
		}
	}
	sortFindings(out)
	return out, nil
}

func requirement(s Slice, c domain.SeverityClass) string {
	switch c {
	case domain.ClassProhibited:
		return listName(s.List) + ": prohibited substance"
	case domain.ClassRestricted:
		return listName(s.List) + ": concentration limit"
	default:
		return listName(s.List) + ": notification required"
	}
}
