// Package sim is a BMS driver without a radio: it produces plausible battery
// telemetry so the daemon and the registry can be exercised end to end where
// no real pack is in BLE range.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/homefleet/bmsble/pkg/bms"
	"github.com/homefleet/bmsble/pkg/registry"
)

const (
	designCapacityAh = 100.0
	dischargeAmps    = -8.0
	chargeAmps       = 15.0
)

func init() {
	registry.Register(registry.Driver{
		Name:     "sim",
		Info:     bms.DeviceInfo{Manufacturer: "Homefleet", Model: "Simulated BMS"},
		Matchers: []bms.Matcher{{LocalName: "SIMBMS*"}},
		New: func(address string, reconnect bool) (bms.BMS, error) {
			return New(address), nil
		},
	})
}

// BMS cycles a virtual pack between 20% and 95% state of charge, discharging
// by default and charging once it runs low.
type BMS struct {
	bms.NopDisconnect

	mu       sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
	last     time.Time
	soc      float64 // 0..100
	charging bool
	cycles   int
}

func New(address string) *BMS {
	seed := int64(0)
	for _, c := range address {
		seed = seed*31 + int64(c)
	}
	return &BMS{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
		soc: 80,
	}
}

func (b *BMS) Update(ctx context.Context) (bms.Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.last.IsZero() {
		b.advance(now.Sub(b.last))
	}
	b.last = now

	current := dischargeAmps
	if b.charging {
		current = chargeAmps
	}
	current += b.rng.Float64() - 0.5

	// 12V LFP-ish curve: 12.0V empty, 13.6V full.
	voltage := 12.0 + b.soc/100*1.6 + (b.rng.Float64()-0.5)*0.02

	return bms.Values{
		bms.KeyVoltage:      voltage,
		bms.KeyCurrent:      current,
		bms.KeyCycleChrg:    designCapacityAh * b.soc / 100,
		bms.KeyBatteryLevel: b.soc,
		bms.KeyCycles:       b.cycles,
		bms.KeyTemperature:  21.0 + (b.rng.Float64()-0.5)*2,
	}, nil
}

// advance moves state of charge by elapsed wall time. Caller holds mu.
func (b *BMS) advance(elapsed time.Duration) {
	amps := dischargeAmps
	if b.charging {
		amps = chargeAmps
	}
	b.soc += amps * elapsed.Hours() / designCapacityAh * 100
	if b.soc <= 20 {
		b.soc = 20
		b.charging = true
	}
	if b.soc >= 95 {
		b.soc = 95
		if b.charging {
			b.cycles++
		}
		b.charging = false
	}
}
