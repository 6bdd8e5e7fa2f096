package risk

import (
	"fmt"
	"time"

	"github.com/tidemark-lab/tidemark/internal/config"
)

// KillSwitch halts trading for the rest of the run when the account hits a
// configured loss streak or intraday drawdown. Once tripped it stays
// tripped; the engine stops submitting orders and winds the run down.
type KillSwitch struct {
	maxConsecutiveLosses int
	maxDailyDrawdown     float64

	consecutiveLosses int
	day               time.Time
	dayOpenEquity     float64
	tripped           bool
	reason            string
}

func NewKillSwitch(limits config.RiskConfig) *KillSwitch {
	return &KillSwitch{
		maxConsecutiveLosses: limits.MaxConsecutiveLosses,
		maxDailyDrawdown:     limits.MaxDailyDrawdown,
	}
}

// RecordTrade feeds a closed trade's realized PnL into the loss streak.
func (k *KillSwitch) RecordTrade(realizedPnL float64) {
	if k.tripped || k.maxConsecutiveLosses <= 0 {
		return
	}

	if realizedPnL >= 0 {
		k.consecutiveLosses = 0

		return
	}

	k.consecutiveLosses++
	if k.consecutiveLosses >= k.maxConsecutiveLosses {
		k.tripped = true
		k.reason = fmt.Sprintf("%d consecutive losing trades", k.consecutiveLosses)
	}
}

// ObserveEquity tracks intraday drawdown against the UTC day's opening
// equity.
func (k *KillSwitch) ObserveEquity(at time.Time, equity float64) {
	if k.tripped || k.maxDailyDrawdown <= 0 {
		return
	}

	day := at.UTC().Truncate(24 * time.Hour)
	if !day.Equal(k.day) {
		k.day = day
		k.dayOpenEquity = equity
	}

	if k.dayOpenEquity <= 0 {
		return
	}

	drawdown := (k.dayOpenEquity - equity) / k.dayOpenEquity
	if drawdown >= k.maxDailyDrawdown {
		k.tripped = true
		k.reason = fmt.Sprintf("daily drawdown %.2f%% breached limit %.2f%%", drawdown*100, k.maxDailyDrawdown*100)
	}
}

// Tripped reports whether trading is halted and why.
func (k *KillSwitch) Tripped() (bool, string) {
	return k.tripped, k.reason
}
