package core

import "github.com/signalsfoundry/constellation-comms/model"

// SelectStrongest returns the frequency with the greatest power.
//
// The scan uses a strict greater-than starting from zero power, so an
// empty table, or one where every power is zero or negative, yields
// model.NoFrequency. Ties go to the frequency seen first in table order,
// which is deterministic for a fixed table.
func SelectStrongest(table *PowerTable) model.Frequency {
	freq := model.NoFrequency
	best := 0.0
	table.Range(func(f model.Frequency, power float64) bool {
		if best < power {
			best = power
			freq = f
		}
		return true
	})
	return freq
}
