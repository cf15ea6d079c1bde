package policy

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"go.uber.org/zap"
)

// LimitOverride is the configuration shape of one tier's defaults.
type LimitOverride struct {
	PerTransaction float64 `mapstructure:"per_transaction"`
	Daily          float64 `mapstructure:"daily"`
	Monthly        float64 `mapstructure:"monthly"`
}

func limits(perTx, daily, monthly int64) domain.SpendingLimits {
	return domain.SpendingLimits{
		PerTransaction: decimal.NewFromInt(perTx),
		Daily:          decimal.NewFromInt(daily),
		Monthly:        decimal.NewFromInt(monthly),
	}
}

var builtin = map[domain.Tier]domain.SpendingLimits{
	domain.TierBronze:   limits(100, 500, 2000),
	domain.TierSilver:   limits(250, 1000, 5000),
	domain.TierGold:     limits(500, 2500, 10000),
	domain.TierPlatinum: limits(1000, 5000, 25000),
	domain.TierDiamond:  limits(5000, 20000, 100000),
}

// TierLimits is an in-memory table of default spending limits per tier.
type TierLimits struct {
	mu     sync.RWMutex
	table  map[domain.Tier]domain.SpendingLimits
	logger *zap.Logger
}

func NewTierLimits(logger *zap.Logger) *TierLimits {
	table := make(map[domain.Tier]domain.SpendingLimits, len(builtin))
	for k, v := range builtin {
		table[k] = v
	}
	return &TierLimits{table: table, logger: logger.Named("tier-limits")}
}

// Defaults returns the limits for a tier. Unknown tiers fall back to bronze.
func (t *TierLimits) Defaults(tier domain.Tier) domain.SpendingLimits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if l, ok := t.table[tier]; ok {
		return l
	}
	return t.table[domain.TierBronze]
}

// Apply replaces built-in defaults with configured ones. Invalid entries are skipped.
func (t *TierLimits) Apply(overrides map[string]LimitOverride) {
	next := make(map[domain.Tier]domain.SpendingLimits, len(builtin))
	t.mu.RLock()
	for k, v := range t.table {
		next[k] = v
	}
	t.mu.RUnlock()

	for name, o := range overrides {
		tier, err := domain.ParseTier(name)
		if err != nil {
			t.logger.Warn("skipping limits for unknown tier", zap.String("tier", name))
			continue
		}
		l := domain.SpendingLimits{
			PerTransaction: decimal.NewFromFloat(o.PerTransaction).Round(2),
			Daily:          decimal.NewFromFloat(o.Daily).Round(2),
			Monthly:        decimal.NewFromFloat(o.Monthly).Round(2),
		}
		if err := l.Validate(); err != nil {
			t.logger.Warn("skipping invalid tier limits", zap.String("tier", name), zap.Error(err))
			continue
		}
		next[tier] = l
	}

	t.mu.Lock()
	t.table = next
	t.mu.Unlock()
	t.logger.Info("tier limits loaded", zap.Int("overrides", len(overrides)))
}
