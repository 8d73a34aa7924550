package evaluators

import (
	"context"
	"fmt"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/normalize"
)

// VOC sums the volatile content of the finished product and compares it to
// the category limit. It yields at most one finding per list.
type VOC struct{}

func (VOC) Family() domain.Family { return domain.FamilyVOC }

func (VOC) Evaluate(ctx context.Context, f *normalize.Formula, s Slice) ([]domain.Finding, error) {
	category, ok := s.List.Category(s.Request.ProductType)
	if !ok {
		return nil, nil
	}
	limit, ok := s.List.Limit(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no VOC limit for category %q", domain.ErrReferenceDataMissing, s.List.ID, category)
	}

	total := TotalVOC(f, s.Classifier)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !exceeds(total, limit) {
		return nil, nil
	}
	return []domain.Finding{{
		Market:      s.Market,
		Family:      domain.FamilyVOC,
		List:        s.List.ID,
		Requirement: fmt.Sprintf("%s VOC limit for %s", listName(s.List), category),
		Severity:    domain.SeverityViolation,
		Observed:    total,
		Limit:       limit,
		Unit:        domain.UnitProduct,
		Detail:      fmt.Sprintf("total VOC content %.4g%% exceeds the %g%% limit for %s", total, limit, category),
		Reference:   s.List.Reference,
	}}, nil
}

// TotalVOC is the VOC share of the finished product: the normalized
// concentration of every VOC-classified, non-exempt ingredient weighted by
// its VOC fraction.
func TotalVOC(f *normalize.Formula, c Classifier) float64 {
	total := 0.0
	for _, ing := range f.Ingredients {
		cls, ok := c.Classification(ing.CAS)
		if !ok || !cls.IsVOC || cls.Exempt {
			continue
		}
		total += ing.ProductPercent * cls.VOCFraction()
	}
	return total
}
