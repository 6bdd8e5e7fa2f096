package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidemark-lab/tidemark/internal/config"
)

func TestNewSelectsModel(t *testing.T) {
	assert.IsType(t, Zero{}, New(config.CommissionConfig{}))
	assert.IsType(t, Zero{}, New(config.CommissionConfig{Model: config.CommissionZero}))
	assert.IsType(t, TakerBps{}, New(config.CommissionConfig{Model: config.CommissionTakerBps, TakerBps: 10}))
}

func TestTakerBpsFee(t *testing.T) {
	tests := []struct {
		name     string
		bps      float64
		quantity float64
		price    float64
		want     float64
	}{
		{name: "10bps on 100 notional", bps: 10, quantity: 1, price: 100, want: 0.1},
		{name: "taker fee on btc-sized order", bps: 7.5, quantity: 0.002, price: 50000, want: 0.075},
		{name: "zero bps", bps: 0, quantity: 1, price: 100, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TakerBps{Bps: tt.bps}.Fee(tt.quantity, tt.price), 1e-12)
		})
	}
}

func TestZeroFee(t *testing.T) {
	assert.Zero(t, Zero{}.Fee(1, 100))
}
