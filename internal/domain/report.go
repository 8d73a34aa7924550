package domain

import (
	"sort"
	"time"
)

// Severity grades a finding.
type Severity string

const (
	SeverityViolation Severity = "violation"
	SeverityWarning   Severity = "warning"
	SeverityInfo      Severity = "info"
)

// Finding is one evaluator's verdict on one ingredient (or one product
// category for VOC) against one rule. Never mutated after creation.
type Finding struct {
	Market         Market        `json:"market"`
	Family         Family        `json:"family"`
	List           string        `json:"list"`
	CAS            string        `json:"cas,omitempty"`
	IngredientName string        `json:"ingredientName,omitempty"`
	Requirement    string        `json:"requirement"`
	Severity       Severity      `json:"severity"`
	Observed       float64       `json:"observed"`
	Limit          float64       `json:"limit"`
	Unit           ThresholdUnit `json:"unit"`
	Detail         string        `json:"detail"`
	Reference      string        `json:"reference,omitempty"`
}

// DataGap records that a family could not be evaluated for a market. It is
// kept apart from findings so "fails regulation X" and "regulation X could
// not be checked" are never conflated.
type DataGap struct {
	Market Market `json:"market"`
	Family Family `json:"family"`
	List   string `json:"list,omitempty"`
	Detail string `json:"detail"`
}

// ComplianceReport is the immutable result of one compliance check.
type ComplianceReport struct {
	ID                string `json:"id"`
	TenantID          string `json:"tenantId,omitempty"`
	CertificateNumber string `json:"certificateNumber"`
	Fingerprint       string `json:"fingerprint"`
	FormulaID         string `json:"formulaId,omitempty"`
	RequestID         string `json:"requestId,omitempty"`
	FormulaName       string `json:"formulaName"`

	Request     EvaluationRequest `json:"request"`
	IsCompliant bool              `json:"isCompliant"`

	// NonCompliant holds violations; Advisory holds warnings and info.
	NonCompliant []Finding `json:"nonCompliant"`
	Advisory     []Finding `json:"advisory"`
	DataGaps     []DataGap `json:"dataGaps"`

	ReferenceRevision string         `json:"referenceRevision"`
	GeneratedAt       time.Time      `json:"generatedAt"`
	Metadata          ReportMetadata `json:"metadata"`
}

// ReportMetadata contains processing information.
type ReportMetadata struct {
	TraceID             string `json:"traceId,omitempty"`
	EvaluationsRun      int    `json:"evaluationsRun"`
	EvaluationsSkipped  int    `json:"evaluationsSkipped"`
	IngredientsAnalyzed int    `json:"ingredientsAnalyzed"`
	TotalMs             int64  `json:"totalMs"`
	EngineVersion       string `json:"engineVersion"`
}

// Findings returns every finding, violations first.
func (r *ComplianceReport) Findings() []Finding {
	out := make([]Finding, 0, len(r.NonCompliant)+len(r.Advisory))
	out = append(out, r.NonCompliant...)
	return append(out, r.Advisory...)
}

// MarketCompliant reports whether no violation was found for market m.
func (r *ComplianceReport) MarketCompliant(m Market) bool {
	for _, f := range r.NonCompliant {
		if f.Market == m {
			return false
		}
	}
	return true
}

// DisclosureList returns the ingredients market m requires on the label:
// every allergen advisory for m, one entry per CAS, sorted by name.
func (r *ComplianceReport) DisclosureList(m Market) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, f := range r.Advisory {
		if f.Market != m || f.Family != FamilyAllergen {
			continue
		}
		key := f.CAS
		if key == "" {
			key = f.IngredientName
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		name := f.IngredientName
		if name == "" {
			name = f.CAS
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MarketVerdict is the per-market view a certificate template renders.
type MarketVerdict struct {
	Market      Market   `json:"market"`
	Compliant   bool     `json:"compliant"`
	Violations  int      `json:"violations"`
	Warnings    int      `json:"warnings"`
	Notices     int      `json:"notices"`
	DataGaps    int      `json:"dataGaps"`
	Disclosures []string `json:"disclosures,omitempty"`
}

// MarketVerdicts summarizes the report per requested market, in request order.
func (r *ComplianceReport) MarketVerdicts() []MarketVerdict {
	out := make([]MarketVerdict, 0, len(r.Request.Markets))
	for _, m := range r.Request.Markets {
		v := MarketVerdict{Market: m}
		for _, f := range r.Findings() {
			if f.Market != m {
				continue
			}
			switch f.Severity {
			case SeverityViolation:
				v.Violations++
			case SeverityWarning:
				v.Warnings++
			case SeverityInfo:
				v.Notices++
			}
		}
		for _, g := range r.DataGaps {
			if g.Market == m {
				v.DataGaps++
			}
		}
		v.Compliant = v.Violations == 0
		if d := r.DisclosureList(m); len(d) > 0 {
			v.Disclosures = d
		}
		out = append(out, v)
	}
	return out
}

// ReportSummary is the API response for a compliance check.
type ReportSummary struct {
	ReportID          string          `json:"reportId"`
	CertificateNumber string          `json:"certificateNumber"`
	FormulaName       string          `json:"formulaName"`
	Status            string          `json:"status"` // "COMPLIANT" or "NON_COMPLIANT"
	Markets           []MarketVerdict `json:"markets"`
	Violations        int             `json:"violations"`
	Advisories        int             `json:"advisories"`
	DataGaps          int             `json:"dataGaps"`
	ReferenceRevision string          `json:"referenceRevision"`
	GeneratedAt       time.Time       `json:"generatedAt"`
}

// API-friendly verdicts.
const (
	VerdictCompliant    = "COMPLIANT"
	VerdictNonCompliant = "NON_COMPLIANT"
)

// Summary converts a report to its API summary.
func (r *ComplianceReport) Summary() *ReportSummary {
	status := VerdictCompliant
	if !r.IsCompliant {
		status = VerdictNonCompliant
	}
	return &ReportSummary{
		ReportID:          r.ID,
		CertificateNumber: r.CertificateNumber,
		FormulaName:       r.FormulaName,
		Status:            status,
		Markets:           r.MarketVerdicts(),
		Violations:        len(r.NonCompliant),
		Advisories:        len(r.Advisory),
		DataGaps:          len(r.DataGaps),
		ReferenceRevision: r.ReferenceRevision,
		GeneratedAt:       r.GeneratedAt,
	}
}
