// Package bms defines the contract a battery management system driver has to
// fulfil to be polled by the host: a metric vocabulary, the derivation of
// missing metrics from measured ones, and advertisement matching so a driver
// can be picked for a discovered device without instantiating it.
package bms

import (
	"context"
	"math"
)

// Key names one metric in a Values map.
type Key string

// Metric vocabulary. Drivers report a subset of these, CalcValues fills in
// what can be derived, the host maps each key to a sensor.
const (
	KeyVoltage      Key = "voltage"          // pack voltage, V
	KeyCurrent      Key = "current"          // signed, A (negative = discharging)
	KeyCycleChrg    Key = "cycle_chrg"       // remaining charge, Ah
	KeyCycleCap     Key = "cycle_cap"        // remaining energy, Wh
	KeyPower        Key = "power"            // signed, W
	KeyCharging     Key = "battery_charging" // bool
	KeyRuntime      Key = "runtime"          // seconds to empty at current draw
	KeyBatteryLevel Key = "battery_level"    // state of charge, percent
	KeyCycles       Key = "cycles"           // charge cycle count
	KeyTemperature  Key = "temperature"      // pack temperature, °C
)

const hoursToSeconds = 3600

// Values holds one update cycle's telemetry. A present key is a known value,
// an absent key is not-yet-known. Each map is built fresh by the driver per
// poll and owned by the caller for that cycle.
type Values map[Key]any

// Float returns the value for k as a float64. Bool values and absent keys
// report false.
func (v Values) Float(k Key) (float64, bool) {
	switch n := v[k].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	}
	return 0, false
}

// Bool returns the value for k as a bool.
func (v Values) Bool(k Key) (bool, bool) {
	b, ok := v[k].(bool)
	return b, ok
}

// KeySet is the set of metric keys a caller wants populated.
type KeySet map[Key]struct{}

// NewKeySet builds a KeySet from the given keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// AllKeys returns a KeySet covering the full metric vocabulary.
func AllKeys() KeySet {
	return NewKeySet(KeyVoltage, KeyCurrent, KeyCycleChrg, KeyCycleCap,
		KeyPower, KeyCharging, KeyRuntime, KeyBatteryLevel, KeyCycles,
		KeyTemperature)
}

// CalcValues derives metrics a driver did not measure, in place. A rule fires
// only when its target is requested, not already present, and every input is
// present; otherwise it is skipped silently. A present key is never
// overwritten and no key outside requested is ever added.
func CalcValues(data Values, requested KeySet) {
	canCalc := func(target Key, using ...Key) bool {
		if _, ok := requested[target]; !ok {
			return false
		}
		if _, ok := data[target]; ok {
			return false
		}
		for _, k := range using {
			if _, ok := data[k]; !ok {
				return false
			}
		}
		return true
	}

	if canCalc(KeyCycleCap, KeyVoltage, KeyCycleChrg) {
		volt, _ := data.Float(KeyVoltage)
		chrg, _ := data.Float(KeyCycleChrg)
		data[KeyCycleCap] = volt * chrg
	}

	if canCalc(KeyPower, KeyVoltage, KeyCurrent) {
		volt, _ := data.Float(KeyVoltage)
		cur, _ := data.Float(KeyCurrent)
		data[KeyPower] = volt * cur
	}

	if canCalc(KeyCharging, KeyCurrent) {
		cur, _ := data.Float(KeyCurrent)
		data[KeyCharging] = cur > 0
	}

	// Runtime only makes sense while discharging; while charging or idle it
	// stays unset even if requested.
	if canCalc(KeyRuntime, KeyCurrent, KeyCycleChrg) {
		cur, _ := data.Float(KeyCurrent)
		if cur < 0 {
			chrg, _ := data.Float(KeyCycleChrg)
			data[KeyRuntime] = int(chrg / math.Abs(cur) * hoursToSeconds)
		}
	}
}

// DeviceInfo identifies a driver's device model.
type DeviceInfo struct {
	Manufacturer string
	Model        string
}

// DeviceID returns the info as a single display string.
func (i DeviceInfo) DeviceID() string {
	return i.Manufacturer + " " + i.Model
}

// BMS is one connected battery management system. Implementations own their
// transport entirely; this layer imposes no locking and no timeout policy
// beyond the passed context.
type BMS interface {
	// Update polls the device and returns a fresh Values map with the
	// measured metrics. The returned map is owned by the caller.
	Update(ctx context.Context) (Values, error)

	// Disconnect closes the device link if one is open. It is advisory and
	// idempotent: calling it with no active connection is a no-op, not an
	// error.
	Disconnect(ctx context.Context) error
}

// NopDisconnect is embeddable by drivers that keep no persistent link.
type NopDisconnect struct{}

func (NopDisconnect) Disconnect(context.Context) error { return nil }
