package stats

import (
	"time"

	"github.com/estokes/solar/internal/mppt"
)

// Accumulator reduces a stream of Stats samples into one-per-window
// summaries. It is not safe for concurrent use; callers serialize Feed
// calls themselves (the archive pipeline feeds it from a single goroutine
// reading one file sequentially).
type Accumulator struct {
	window time.Duration
	start  time.Time
	acc    mppt.Stats
	have   bool
}

// NewAccumulator returns an accumulator that emits one summary per window
// of duration w.
func NewAccumulator(w time.Duration) *Accumulator {
	return &Accumulator{window: w}
}

// Feed combines s into the running accumulator. When the window closes
// (s.Timestamp - windowStart >= w) it returns the accumulated Stats and
// resets; otherwise it returns (Stats{}, false).
func (a *Accumulator) Feed(s mppt.Stats) (mppt.Stats, bool) {
	if !a.have {
		a.start = s.Timestamp
		a.acc = s.Clone()
		a.have = true
		return mppt.Stats{}, false
	}
	combine(&a.acc, s)
	if s.Timestamp.Sub(a.start) >= a.window {
		out := a.acc
		a.have = false
		return out, true
	}
	return mppt.Stats{}, false
}

// Flush emits the partial accumulator at end of stream, if any sample has
// been fed since the last emit.
func (a *Accumulator) Flush() (mppt.Stats, bool) {
	if !a.have {
		return mppt.Stats{}, false
	}
	out := a.acc
	a.have = false
	return out, true
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func maxu16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// combine folds sample s into accumulator acc in place, per the field
// combine rules: avg is a rolling midpoint (not a true mean — it biases
// toward later samples, preserved to match historical archives), max/maxf
// for counters and dominance fields, min for the daily battery-voltage
// floor, and the rts_temperature special case.
func combine(acc *mppt.Stats, s mppt.Stats) {
	if s.Timestamp.After(acc.Timestamp) {
		acc.Timestamp = s.Timestamp
	}
	acc.SoftwareVersion = maxu16(acc.SoftwareVersion, s.SoftwareVersion)
	acc.BatteryVoltageSettingsMultiplier = maxu16(acc.BatteryVoltageSettingsMultiplier, s.BatteryVoltageSettingsMultiplier)
	acc.ArrayFaults = maxu16(acc.ArrayFaults, s.ArrayFaults)
	acc.LoadFaults = maxu16(acc.LoadFaults, s.LoadFaults)
	acc.ArrayFaultsDaily = maxu16(acc.ArrayFaultsDaily, s.ArrayFaultsDaily)
	acc.LoadFaultsDaily = maxu16(acc.LoadFaultsDaily, s.LoadFaultsDaily)
	acc.Alarms = maxu32(acc.Alarms, s.Alarms)
	acc.AlarmsDaily = maxu32(acc.AlarmsDaily, s.AlarmsDaily)
	if s.ChargeState > acc.ChargeState {
		acc.ChargeState = s.ChargeState
	}
	if s.LoadState > acc.LoadState {
		acc.LoadState = s.LoadState
	}

	acc.HeatsinkTemperatureC = maxf(acc.HeatsinkTemperatureC, s.HeatsinkTemperatureC)
	acc.BatteryTemperatureC = maxf(acc.BatteryTemperatureC, s.BatteryTemperatureC)
	acc.AmbientTemperatureC = maxf(acc.AmbientTemperatureC, s.AmbientTemperatureC)
	acc.UInductorTemperatureC = maxf(acc.UInductorTemperatureC, s.UInductorTemperatureC)
	acc.VInductorTemperatureC = maxf(acc.VInductorTemperatureC, s.VInductorTemperatureC)
	acc.WInductorTemperatureC = maxf(acc.WInductorTemperatureC, s.WInductorTemperatureC)
	acc.AhChargeResettable = maxf(acc.AhChargeResettable, s.AhChargeResettable)
	acc.AhChargeTotal = maxf(acc.AhChargeTotal, s.AhChargeTotal)
	acc.KWhChargeResettable = maxf(acc.KWhChargeResettable, s.KWhChargeResettable)
	acc.KWhChargeTotal = maxf(acc.KWhChargeTotal, s.KWhChargeTotal)
	acc.AhLoadResettable = maxf(acc.AhLoadResettable, s.AhLoadResettable)
	acc.AhLoadTotal = maxf(acc.AhLoadTotal, s.AhLoadTotal)
	acc.BatteryVMaxDaily = maxf(acc.BatteryVMaxDaily, s.BatteryVMaxDaily)
	acc.AhChargeDaily = maxf(acc.AhChargeDaily, s.AhChargeDaily)
	acc.AhLoadDaily = maxf(acc.AhLoadDaily, s.AhLoadDaily)
	acc.ArrayVoltageMaxDaily = maxf(acc.ArrayVoltageMaxDaily, s.ArrayVoltageMaxDaily)
	acc.HourmeterHours = maxf(acc.HourmeterHours, s.HourmeterHours)

	acc.BatteryVMinDaily = minf(acc.BatteryVMinDaily, s.BatteryVMinDaily)

	acc.RTSTemperatureC = combineRTS(acc.RTSTemperatureC, s.RTSTemperatureC)

	acc.Supply3V3Volts = avg(acc.Supply3V3Volts, s.Supply3V3Volts)
	acc.Supply12VVolts = avg(acc.Supply12VVolts, s.Supply12VVolts)
	acc.Supply5VVolts = avg(acc.Supply5VVolts, s.Supply5VVolts)
	acc.GateDriveVoltageVolts = avg(acc.GateDriveVoltageVolts, s.GateDriveVoltageVolts)
	acc.BatteryTerminalVoltage = avg(acc.BatteryTerminalVoltage, s.BatteryTerminalVoltage)
	acc.ArrayVoltage = avg(acc.ArrayVoltage, s.ArrayVoltage)
	acc.LoadVoltage = avg(acc.LoadVoltage, s.LoadVoltage)
	acc.ChargeCurrentAmps = avg(acc.ChargeCurrentAmps, s.ChargeCurrentAmps)
	acc.ArrayCurrentAmps = avg(acc.ArrayCurrentAmps, s.ArrayCurrentAmps)
	acc.LoadCurrentAmps = avg(acc.LoadCurrentAmps, s.LoadCurrentAmps)
	acc.BatteryCurrentNetAmps = avg(acc.BatteryCurrentNetAmps, s.BatteryCurrentNetAmps)
	acc.BatterySenseVoltage = avg(acc.BatterySenseVoltage, s.BatterySenseVoltage)
	acc.MeterbusVoltage = avg(acc.MeterbusVoltage, s.MeterbusVoltage)
	acc.BatteryVoltageSlow = avg(acc.BatteryVoltageSlow, s.BatteryVoltageSlow)
	acc.TargetVoltage = avg(acc.TargetVoltage, s.TargetVoltage)
	acc.LVDSetpointVolts = avg(acc.LVDSetpointVolts, s.LVDSetpointVolts)
	acc.ArrayPowerWatts = avg(acc.ArrayPowerWatts, s.ArrayPowerWatts)
	acc.ArrayVmpVolts = avg(acc.ArrayVmpVolts, s.ArrayVmpVolts)
	acc.ArrayMaxPowerSweepWatts = avg(acc.ArrayMaxPowerSweepWatts, s.ArrayMaxPowerSweepWatts)
	acc.ArrayVocVolts = avg(acc.ArrayVocVolts, s.ArrayVocVolts)
	acc.ArrayVoltageFixed = avg(acc.ArrayVoltageFixed, s.ArrayVoltageFixed)
	acc.ArrayVocPercentFixed = avg(acc.ArrayVocPercentFixed, s.ArrayVocPercentFixed)
}

// avg is the rolling midpoint rule: (acc + sample) / 2, biasing toward
// later samples. This is an explicit, deliberate divergence from a true
// arithmetic mean (see the Open Questions entry in DESIGN.md) chosen to
// match the historical archive format byte-for-byte.
func avg(acc, s float32) float32 { return (acc + s) / 2 }

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func combineRTS(acc, s *float32) *float32 {
	switch {
	case acc == nil && s == nil:
		return nil
	case acc == nil:
		v := *s
		return &v
	case s == nil:
		v := *acc
		return &v
	default:
		v := maxf(*acc, *s)
		return &v
	}
}
