package domain

// SeverityClass is how a reference entry treats a listed substance.
type SeverityClass string

const (
	// ClassProhibited: any non-zero concentration is a violation.
	ClassProhibited SeverityClass = "prohibited"
	// ClassRestricted: a numeric limit applies.
	ClassRestricted SeverityClass = "restricted"
	// ClassDisclosure: labeling or notification only.
	ClassDisclosure SeverityClass = "disclosure"
)

// ThresholdUnit says which concentration a threshold is expressed in.
type ThresholdUnit string

const (
	UnitProduct ThresholdUnit = "product" // percent of finished product
	UnitFormula ThresholdUnit = "formula" // percent of fragrance formula
)

// RuleEntry is one immutable row of reference data.
type RuleEntry struct {
	Family    Family        `json:"family" yaml:"-"`
	List      string        `json:"list" yaml:"-"`
	Market    Market        `json:"market,omitempty" yaml:"-"`
	Category  string        `json:"category,omitempty" yaml:"category,omitempty"`
	CAS       string        `json:"cas" yaml:"cas"`
	Name      string        `json:"name" yaml:"name"`
	Class     SeverityClass `json:"class" yaml:"class"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Unit      ThresholdUnit `json:"unit" yaml:"unit,omitempty"`

	// Notice is the required notification or labeling text.
	Notice    string `json:"notice,omitempty" yaml:"notice,omitempty"`
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`

	// Condition is an optional CEL expression gating applicability.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Classification is ingredient master data used by the VOC evaluator.
type Classification struct {
	CAS          string  `json:"cas" yaml:"cas"`
	Name         string  `json:"name" yaml:"name"`
	IsVOC        bool    `json:"isVoc" yaml:"voc"`
	VOCPercent   float64 `json:"vocPercent" yaml:"voc_percent"` // 0 means fully volatile
	Exempt       bool    `json:"exempt" yaml:"exempt"`
	ExemptReason string  `json:"exemptReason,omitempty" yaml:"exempt_reason,omitempty"`
}

// VOCFraction is the share of the ingredient's mass counted as VOC.
func (c Classification) VOCFraction() float64 {
	if c.VOCPercent <= 0 || c.VOCPercent > 100 {
		return 1
	}
	return c.VOCPercent / 100
}
