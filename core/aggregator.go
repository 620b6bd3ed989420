package core

import (
	"math"

	"github.com/signalsfoundry/constellation-comms/model"
)

type powerAccumulator struct {
	combined      float64
	maxStandalone float64
}

// Aggregate folds a node's antennas into a per-frequency power table.
//
// Only antennas that are in use and able to transmit are considered; the
// others do not even create a key. Per frequency, non-combinable antennas
// contribute their maximum power, and combinable antennas are summed in
// descriptor order: the first one adds its raw power, every later one adds
// its power scaled by its own combinable exponent. The table value is the
// larger of the combined sum and the best standalone antenna.
//
// Note the asymmetry: the first combinable antenna is never scaled.
func Aggregate(antennas []model.AntennaDescriptor) *PowerTable {
	acc := make(map[model.Frequency]*powerAccumulator)
	order := make([]model.Frequency, 0, len(antennas))

	for _, a := range antennas {
		if !a.Transmitting() {
			continue
		}
		p, ok := acc[a.Frequency]
		if !ok {
			p = &powerAccumulator{}
			acc[a.Frequency] = p
			order = append(order, a.Frequency)
		}

		if a.Combinable {
			if p.combined == 0 {
				p.combined = a.Power
			} else {
				p.combined += a.CombinableExponent * a.Power
			}
		} else {
			p.maxStandalone = math.Max(p.maxStandalone, a.Power)
		}
	}

	table := NewPowerTable()
	for _, f := range order {
		p := acc[f]
		table.Set(f, math.Max(p.combined, p.maxStandalone))
	}
	return table
}
