// Package evaluators holds the four regulation-family evaluators. The set
// is closed: the compliance engine dispatches on domain.Family.
package evaluators

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/normalize"
	"github.com/smellreg/smellreg/internal/reference"
)

// WarningRatio is the share of a limit at which an "approaching limit"
// warning fires (inclusive).
const WarningRatio = 0.9

// Classifier resolves ingredient master data.
type Classifier interface {
	Classification(cas string) (domain.Classification, bool)
}

// Slice is the part of the reference data one evaluation sees: one list
// of one market program.
type Slice struct {
	Market     domain.Market
	Request    *domain.EvaluationRequest
	List       *reference.List
	Classifier Classifier
}

// Evaluator checks a normalized formula against a slice.
type Evaluator interface {
	Family() domain.Family
	Evaluate(ctx context.Context, f *normalize.Formula, s Slice) ([]domain.Finding, error)
}

var registry = map[domain.Family]Evaluator{
	domain.FamilyConcentration: Concentration{},
	domain.FamilyAllergen:      Allergen{},
	domain.FamilyVOC:           VOC{},
	domain.FamilyRestricted:    Restricted{},
}

// For returns the evaluator of family f.
func For(f domain.Family) (Evaluator, bool) {
	e, ok := registry[f]
	return e, ok
}

// relative tolerance for threshold comparisons on normalized values
const tolerance = 1e-9

func exceeds(observed, limit float64) bool {
	return observed > limit+tolerance*math.Abs(limit)
}

func atLeast(observed, threshold float64) bool {
	return observed >= threshold-tolerance*math.Abs(threshold)
}

// classifyLimit grades an observed value against a restricted limit:
// above the limit is a violation, from WarningRatio of it a warning.
func classifyLimit(observed, limit float64) (domain.Severity, bool) {
	switch {
	case exceeds(observed, limit):
		return domain.SeverityViolation, true
	case atLeast(observed, WarningRatio*limit):
		return domain.SeverityWarning, true
	}
	return "", false
}

// assess applies one rule entry to one ingredient following the entry's
// severity class.
func assess(s Slice, r *reference.Rule, ing normalize.Ingredient, requirement string) (domain.Finding, bool) {
	observed := ing.Concentration(r.Unit)
	f := domain.Finding{
		Market:         s.Market,
		Family:         r.Family,
		List:           r.List,
		CAS:            ing.CAS,
		IngredientName: ing.Name,
		Requirement:    requirement,
		Observed:       observed,
		Limit:          r.Threshold,
		Unit:           r.Unit,
		Reference:      r.Reference,
	}

	switch r.Class {
	case domain.ClassProhibited:
		if observed <= 0 {
			return f, false
		}
		f.Severity = domain.SeverityViolation
		f.Limit = 0
		f.Detail = fmt.Sprintf("%s is prohibited (present at %s)", ing.Name, pct(observed, r.Unit))

	case domain.ClassRestricted:
		sev, ok := classifyLimit(observed, r.Threshold)
		if !ok {
			return f, false
		}
		f.Severity = sev
		if sev == domain.SeverityViolation {
			f.Detail = fmt.Sprintf("%s at %s exceeds the %s limit", ing.Name, pct(observed, r.Unit), pct(r.Threshold, r.Unit))
		} else {
			f.Detail = fmt.Sprintf("%s at %s is approaching the %s limit (%.0f%% of limit)",
				ing.Name, pct(observed, r.Unit), pct(r.Threshold, r.Unit), observed/r.Threshold*100)
		}

	case domain.ClassDisclosure:
		if observed <= 0 || !atLeast(observed, r.Threshold) {
			return f, false
		}
		f.Severity = domain.SeverityInfo
		f.Detail = r.Notice
		if f.Detail == "" {
			f.Detail = fmt.Sprintf("%s at %s requires notification", ing.Name, pct(observed, r.Unit))
		}

	default:
		return f, false
	}
	return f, true
}

func pct(v float64, u domain.ThresholdUnit) string {
	if u == domain.UnitFormula {
		return fmt.Sprintf("%.4g%% of formula", v)
	}
	return fmt.Sprintf("%.4g%%", v)
}

func input(s Slice, category string, ing normalize.Ingredient) reference.Input {
	return reference.Input{
		Market:         s.Market,
		ProductType:    s.Request.ProductType,
		Category:       category,
		LeaveOn:        s.Request.LeaveOn,
		ProductPercent: ing.ProductPercent,
		FormulaPercent: ing.Percentage,
	}
}

// sortFindings orders findings by (market, CAS), keeping entry order for ties.
func sortFindings(fs []domain.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Market != fs[j].Market {
			return fs[i].Market < fs[j].Market
		}
		return fs[i].CAS < fs[j].CAS
	})
}

func listName(l *reference.List) string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID
}
