// Package reference loads the versioned regulatory dataset: market
// programs, rule lists per regulation family and the ingredient
// classification table. A loaded Snapshot is immutable.
package reference

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/smellreg/smellreg/internal/domain"
)

// Metadata describes a dataset release.
type Metadata struct {
	Revision  string `yaml:"revision" json:"revision"`
	Published string `yaml:"published" json:"published,omitempty"`
	Source    string `yaml:"source" json:"source,omitempty"`
}

// Snapshot is one immutable, fully compiled reference dataset.
type Snapshot struct {
	Metadata Metadata
	revision string
	loadedAt time.Time

	markets     map[domain.Market]map[domain.Family][]string
	lists       map[string]*List
	ingredients map[string]domain.Classification
}

// Revision is the dataset revision stamp: the published revision plus a
// short content hash.
func (s *Snapshot) Revision() string { return s.revision }

// LoadedAt is when the snapshot was parsed.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// MarketConfigured reports whether the dataset has any program entry for m.
func (s *Snapshot) MarketConfigured(m domain.Market) bool {
	_, ok := s.markets[m]
	return ok
}

// Programs returns the list IDs declared for market m and family f. An
// empty result means the market has no program for the family.
func (s *Snapshot) Programs(m domain.Market, f domain.Family) []string {
	return s.markets[m][f]
}

// List returns the list with the given ID. A list declared by a market
// program but absent from the dataset yields ErrReferenceDataMissing.
func (s *Snapshot) List(id string) (*List, error) {
	l, ok := s.lists[id]
	if !ok {
		return nil, fmt.Errorf("%w: list %s", domain.ErrReferenceDataMissing, id)
	}
	return l, nil
}

// Lists returns all lists sorted by ID.
func (s *Snapshot) Lists() []*List {
	out := make([]*List, 0, len(s.lists))
	for _, l := range s.lists {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Classification returns the ingredient master data for cas.
func (s *Snapshot) Classification(cas string) (domain.Classification, bool) {
	c, ok := s.ingredients[cas]
	return c, ok
}

// List is one regulation list, e.g. a standard amendment or a hotlist.
type List struct {
	ID        string
	Name      string
	Family    domain.Family
	Reference string

	categories map[domain.ProductType]string
	limits     map[string]float64
	entries    map[string][]*Rule
	size       int
}

// Category maps a product type to this list's product category.
func (l *List) Category(pt domain.ProductType) (string, bool) {
	c, ok := l.categories[pt]
	return c, ok
}

// Limit returns the category-wide limit (VOC lists).
func (l *List) Limit(category string) (float64, bool) {
	v, ok := l.limits[category]
	return v, ok
}

// Entries returns the rule entries for a CAS number in dataset order.
func (l *List) Entries(cas string) []*Rule {
	return l.entries[cas]
}

// Len is the number of rule entries.
func (l *List) Len() int { return l.size }

// Rule is a rule entry with its compiled applicability condition.
type Rule struct {
	domain.RuleEntry
	program cel.Program
}

// Input is the per-ingredient context a rule condition sees.
type Input struct {
	Market         domain.Market
	ProductType    domain.ProductType
	Category       string
	LeaveOn        bool
	ProductPercent float64
	FormulaPercent float64
}

// Applies evaluates the entry's condition. Entries without a condition
// always apply.
func (r *Rule) Applies(in Input) (bool, error) {
	if r.program == nil {
		return true, nil
	}
	out, _, err := r.program.Eval(map[string]any{
		"market":          string(in.Market),
		"product_type":    string(in.ProductType),
		"category":        in.Category,
		"leave_on":        in.LeaveOn,
		"concentration":   in.ProductPercent,
		"formula_percent": in.FormulaPercent,
	})
	if err != nil {
		return false, fmt.Errorf("condition of %s/%s: %w", r.List, r.CAS, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition of %s/%s: non-bool result %v", r.List, r.CAS, out.Value())
	}
	return b, nil
}
