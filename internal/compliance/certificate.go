package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smellreg/smellreg/internal/domain"
)

// Fingerprint identifies a formula and request independent of ingredient,
// market and family order. Values JSON cannot encode, such as NaN, are an
// error.
func Fingerprint(f *domain.Formula, req *domain.EvaluationRequest) (string, error) {
	ings := append([]domain.Ingredient(nil), f.Ingredients...)
	sort.Slice(ings, func(i, j int) bool { return ings[i].CAS < ings[j].CAS })

	markets := make([]string, len(req.Markets))
	for i, m := range req.Markets {
		markets[i] = string(m)
	}
	sort.Strings(markets)

	families := make([]string, len(req.Families))
	for i, fam := range req.Families {
		families[i] = string(fam)
	}
	sort.Strings(families)

	canonical, err := json.Marshal(struct {
		Name        string              `json:"name"`
		Ingredients []domain.Ingredient `json:"ingredients"`
		ProductType domain.ProductType  `json:"productType"`
		Markets     []string            `json:"markets"`
		Conc        float64             `json:"fragranceConcentration"`
		LeaveOn     bool                `json:"leaveOn"`
		Families    []string            `json:"families"`
	}{f.Name, ings, req.ProductType, markets, req.FragranceConcentration, req.LeaveOn, families})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// stamper hands out strictly increasing nanosecond stamps so two checks of
// the same formula never share a certificate number.
type stamper struct {
	last atomic.Int64
}

func (s *stamper) next(t time.Time) int64 {
	n := t.UnixNano()
	for {
		prev := s.last.Load()
		if n <= prev {
			n = prev + 1
		}
		if s.last.CompareAndSwap(prev, n) {
			return n
		}
	}
}

// CertificateNumber formats COMP-YYYYMMDD-<fingerprint prefix>-<stamp>.
func CertificateNumber(at time.Time, fingerprint string, stamp int64) string {
	fp := fingerprint
	if len(fp) > 8 {
		fp = fp[:8]
	}
	return fmt.Sprintf("COMP-%s-%s-%s",
		at.UTC().Format("20060102"),
		strings.ToUpper(fp),
		strings.ToUpper(strconv.FormatInt(stamp, 36)),
	)
}
