package domain

import (
	"fmt"
	"strings"
)

// Market is a regulatory jurisdiction.
type Market string

const (
	MarketUS Market = "us"
	MarketEU Market = "eu"
	MarketCA Market = "ca"
	MarketUK Market = "uk"
	MarketJP Market = "jp"
	MarketCN Market = "cn"
	MarketAU Market = "au"
	MarketBR Market = "br"
)

// Markets lists every supported market.
var Markets = []Market{MarketUS, MarketEU, MarketCA, MarketUK, MarketJP, MarketCN, MarketAU, MarketBR}

// Known reports whether m is a supported market.
func (m Market) Known() bool {
	for _, k := range Markets {
		if k == m {
			return true
		}
	}
	return false
}

// ProductType is the kind of finished product the fragrance goes into.
type ProductType string

const (
	FineFragrance    ProductType = "fine_fragrance"
	BodyLotion       ProductType = "body_lotion"
	FaceCream        ProductType = "face_cream"
	HandCream        ProductType = "hand_cream"
	Deodorant        ProductType = "deodorant"
	Shampoo          ProductType = "shampoo"
	Conditioner      ProductType = "conditioner"
	BodyWash         ProductType = "body_wash"
	Soap             ProductType = "soap"
	Candle           ProductType = "candle"
	ReedDiffuser     ProductType = "reed_diffuser"
	AirFreshener     ProductType = "air_freshener"
	HouseholdCleaner ProductType = "household_cleaner"
	LaundryDetergent ProductType = "laundry_detergent"
	LipProduct       ProductType = "lip_product"
	BabyProduct      ProductType = "baby_product"
)

// ProductTypes lists every supported product type.
var ProductTypes = []ProductType{
	FineFragrance, BodyLotion, FaceCream, HandCream, Deodorant, Shampoo,
	Conditioner, BodyWash, Soap, Candle, ReedDiffuser, AirFreshener,
	HouseholdCleaner, LaundryDetergent, LipProduct, BabyProduct,
}

// Known reports whether p is a supported product type.
func (p ProductType) Known() bool {
	for _, k := range ProductTypes {
		if k == p {
			return true
		}
	}
	return false
}

// Family is a regulation family. The set is closed.
type Family string

const (
	FamilyConcentration Family = "concentration"
	FamilyAllergen      Family = "allergen"
	FamilyVOC           Family = "voc"
	FamilyRestricted    Family = "restricted"
)

// Families lists every regulation family in evaluation order.
var Families = []Family{FamilyConcentration, FamilyAllergen, FamilyVOC, FamilyRestricted}

// Known reports whether f is a regulation family.
func (f Family) Known() bool {
	for _, k := range Families {
		if k == f {
			return true
		}
	}
	return false
}

// EvaluationRequest carries everything about the product except the formula.
type EvaluationRequest struct {
	ProductType ProductType `json:"productType"`
	Markets     []Market    `json:"markets"`

	// FragranceConcentration is the percent of finished product that is the
	// fragrance compound, 0 < x <= 100.
	FragranceConcentration float64 `json:"fragranceConcentration"`
	LeaveOn                bool    `json:"leaveOn"`

	// Families restricts evaluation to a subset of regulation families.
	// Empty means all.
	Families []Family `json:"families,omitempty"`
}

// Validate checks the request and canonicalizes it in place: market and
// family codes are lowercased and duplicates dropped, keeping first
// occurrence order.
func (r *EvaluationRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: evaluation request is required", ErrInvalidRequest)
	}
	r.ProductType = ProductType(strings.ToLower(strings.TrimSpace(string(r.ProductType))))
	if !r.ProductType.Known() {
		return fmt.Errorf("%w: unknown product type %q", ErrInvalidRequest, r.ProductType)
	}
	if len(r.Markets) == 0 {
		return fmt.Errorf("%w: at least one market is required", ErrInvalidRequest)
	}

	markets := make([]Market, 0, len(r.Markets))
	seen := make(map[Market]bool, len(r.Markets))
	for _, m := range r.Markets {
		m = Market(strings.ToLower(strings.TrimSpace(string(m))))
		if !m.Known() {
			return fmt.Errorf("%w: unknown market %q", ErrInvalidRequest, m)
		}
		if !seen[m] {
			seen[m] = true
			markets = append(markets, m)
		}
	}
	r.Markets = markets

	if !finite(r.FragranceConcentration) || r.FragranceConcentration <= 0 || r.FragranceConcentration > 100 {
		return fmt.Errorf("%w: fragrance concentration %g must be in (0, 100]", ErrInvalidRequest, r.FragranceConcentration)
	}

	if len(r.Families) > 0 {
		families := make([]Family, 0, len(r.Families))
		seenF := make(map[Family]bool, len(r.Families))
		for _, f := range r.Families {
			f = Family(strings.ToLower(strings.TrimSpace(string(f))))
			if !f.Known() {
				return fmt.Errorf("%w: unknown regulation family %q", ErrInvalidRequest, f)
			}
			if !seenF[f] {
				seenF[f] = true
				families = append(families, f)
			}
		}
		r.Families = families
	}
	return nil
}

// Includes reports whether family f is requested.
func (r *EvaluationRequest) Includes(f Family) bool {
	if len(r.Families) == 0 {
		return true
	}
	for _, x := range r.Families {
		if x == f {
			return true
		}
	}
	return false
}
