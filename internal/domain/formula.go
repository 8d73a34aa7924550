package domain

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Ingredient is one chemical in a formula.
type Ingredient struct {
	CAS        string  `json:"cas" yaml:"cas"`
	Name       string  `json:"name" yaml:"name"`
	Percentage float64 `json:"percentage" yaml:"percentage"` // percent of formula, 0-100
}

// Formula is a named, ordered composition of ingredients.
type Formula struct {
	Name        string       `json:"name"`
	Ingredients []Ingredient `json:"ingredients"`
}

var casPattern = regexp.MustCompile(`^(\d{2,7})-(\d{2})-(\d)$`)

// ValidCAS reports whether s is a well-formed CAS registry number with a
// correct check digit.
func ValidCAS(s string) bool {
	m := casPattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	digits := m[1] + m[2]
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		sum += d * (i + 1)
	}
	return sum%10 == int(m[3][0]-'0')
}

// Validate checks the formula invariants: at least one ingredient, unique
// well-formed CAS numbers and percentages within 0-100.
func (f *Formula) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: formula is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: formula name is required", ErrInvalidRequest)
	}
	if len(f.Ingredients) == 0 {
		return fmt.Errorf("%w: formula %q has no ingredients", ErrInvalidRequest, f.Name)
	}

	seen := make(map[string]struct{}, len(f.Ingredients))
	for i, ing := range f.Ingredients {
		if !ValidCAS(ing.CAS) {
			return fmt.Errorf("%w: ingredient %d: malformed CAS number %q", ErrInvalidRequest, i, ing.CAS)
		}
		if _, dup := seen[ing.CAS]; dup {
			return fmt.Errorf("%w: CAS %s appears more than once", ErrInvalidRequest, ing.CAS)
		}
		seen[ing.CAS] = struct{}{}
		if !finite(ing.Percentage) || ing.Percentage < 0 || ing.Percentage > 100 {
			return fmt.Errorf("%w: ingredient %s: percentage %g outside 0-100", ErrInvalidRequest, ing.CAS, ing.Percentage)
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// ComplianceStatus is the last known verdict of a stored formula.
type ComplianceStatus string

const (
	StatusUnchecked    ComplianceStatus = "unchecked"
	StatusCompliant    ComplianceStatus = "compliant"
	StatusNonCompliant ComplianceStatus = "non_compliant"
)

// StoredFormula is a formula saved in the formula library.
type StoredFormula struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Formula

	Status          ComplianceStatus `json:"complianceStatus"`
	LastCertificate string           `json:"lastCertificate,omitempty"`
	LastChecked     *time.Time       `json:"lastChecked,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}
