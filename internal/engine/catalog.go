package engine

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
)

var explicitPriceRe = regexp.MustCompile(`\$\s?(\d{1,7}(?:\.\d{1,2})?)`)

var (
	minBase     = decimal.NewFromInt(5)
	hundred     = decimal.NewFromInt(100)
	historyPull = decimal.RequireFromString("0.10")
	minPrice    = decimal.RequireFromString("0.01")
)

// CatalogPredictor prices an item from the description alone, so equal
// inputs always give equal predictions.
type CatalogPredictor struct{}

func NewCatalogPredictor() *CatalogPredictor { return &CatalogPredictor{} }

func (p *CatalogPredictor) Predict(ctx context.Context, in PredictInput) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if len(in.Merchants) == 0 {
		return Prediction{}, domain.ErrNoEligibleMerchant
	}

	desc := normalize(in.Description)
	base := basePrice(in.Description, desc)
	tierDiscount := decimal.NewFromInt(100 - int64(max(in.Agent.Tier.Rank(), 0))).Div(hundred)
	surcharge := decimal.NewFromInt(100 + int64(hash64(in.Agent.ID, desc)%5)).Div(hundred)

	var best Prediction
	for _, m := range in.Merchants {
		price := base.Mul(merchantFactor(m.ID, desc)).Mul(tierDiscount).Mul(surcharge)
		if !in.History.IsEmpty() {
			price = price.Add(in.History.AverageAmount.Sub(price).Mul(historyPull))
		}
		price = decimal.Max(price.Round(2), minPrice)

		if best.Merchant == nil || better(price, m, best) {
			best = Prediction{Merchant: m, Price: price}
		}
	}
	return best, nil
}

// better orders quotes by price, then higher trust, then merchant id.
func better(price decimal.Decimal, m *domain.Merchant, cur Prediction) bool {
	if c := price.Cmp(cur.Price); c != 0 {
		return c < 0
	}
	if mt, ct := m.EffectiveTrust(), cur.Merchant.EffectiveTrust(); mt != ct {
		return mt > ct
	}
	return m.ID < cur.Merchant.ID
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// basePrice uses an explicit "$N" in the text, otherwise a hash in [5, 500).
func basePrice(raw, norm string) decimal.Decimal {
	if m := explicitPriceRe.FindStringSubmatch(raw); m != nil {
		if d, err := decimal.NewFromString(m[1]); err == nil && d.IsPositive() {
			return d
		}
	}
	cents := int64(hash64(norm) % 49500)
	return minBase.Add(decimal.New(cents, -2))
}

// merchantFactor is in [0.85, 1.15].
func merchantFactor(merchantID, norm string) decimal.Decimal {
	return decimal.New(85+int64(hash64(merchantID, norm)%31), -2)
}

func hash64(parts ...string) uint64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return h.Sum64()
}
