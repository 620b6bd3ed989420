package core

import (
	"testing"

	"github.com/signalsfoundry/constellation-comms/model"
)

func antenna(id string, f model.Frequency, power float64) model.AntennaDescriptor {
	return model.AntennaDescriptor{
		HardwareID:  model.HardwareID(id),
		Frequency:   f,
		Power:       power,
		InUse:       true,
		CanTransmit: true,
	}
}

func combinable(id string, f model.Frequency, power, exponent float64) model.AntennaDescriptor {
	a := antenna(id, f, power)
	a.Combinable = true
	a.CombinableExponent = exponent
	return a
}

func mustPower(t *testing.T, table *PowerTable, f model.Frequency) float64 {
	t.Helper()
	p, ok := table.Get(f)
	if !ok {
		t.Fatalf("frequency %d missing from table %v", f, table.Frequencies())
	}
	return p
}

func TestAggregateStandaloneTakesMax(t *testing.T) {
	table := Aggregate([]model.AntennaDescriptor{
		antenna("a", 100, 5),
		antenna("b", 100, 12),
		antenna("c", 100, 7),
	})
	if got := mustPower(t, table, 100); got != 12 {
		t.Fatalf("power at 100 = %v, want 12", got)
	}
}

// The first combinable antenna on a frequency is added unscaled; only the
// later ones are multiplied by their exponent. This asymmetry is kept on
// purpose and pinned here.
func TestAggregateCombinableFirstAntennaUnscaled(t *testing.T) {
	table := Aggregate([]model.AntennaDescriptor{
		combinable("a", 200, 10, 0.5),
		combinable("b", 200, 10, 0.5),
		combinable("c", 200, 4, 0.25),
	})
	// 10 + 0.5*10 + 0.25*4
	if got := mustPower(t, table, 200); got != 16 {
		t.Fatalf("power at 200 = %v, want 16", got)
	}
}

func TestAggregateCombinableOrderDependence(t *testing.T) {
	forward := Aggregate([]model.AntennaDescriptor{
		combinable("a", 1, 10, 1),
		combinable("b", 1, 20, 0.5),
	})
	reverse := Aggregate([]model.AntennaDescriptor{
		combinable("b", 1, 20, 0.5),
		combinable("a", 1, 10, 1),
	})
	// forward: 10 + 0.5*20 = 20; reverse: 20 + 1*10 = 30
	if got := mustPower(t, forward, 1); got != 20 {
		t.Fatalf("forward power = %v, want 20", got)
	}
	if got := mustPower(t, reverse, 1); got != 30 {
		t.Fatalf("reverse power = %v, want 30", got)
	}
}

func TestAggregateCombinedVersusStandalone(t *testing.T) {
	table := Aggregate([]model.AntennaDescriptor{
		combinable("a", 300, 3, 1),
		combinable("b", 300, 3, 1),
		antenna("c", 300, 5),
		antenna("d", 301, 2),
	})
	if got := mustPower(t, table, 300); got != 6 {
		t.Fatalf("power at 300 = %v, want 6", got)
	}
	if got := mustPower(t, table, 301); got != 2 {
		t.Fatalf("power at 301 = %v, want 2", got)
	}
}

func TestAggregateExcludesIdleAntennas(t *testing.T) {
	notInUse := antenna("a", 400, 50)
	notInUse.InUse = false
	retracted := antenna("b", 401, 50)
	retracted.CanTransmit = false

	table := Aggregate([]model.AntennaDescriptor{notInUse, retracted, antenna("c", 402, 1)})
	for _, f := range []model.Frequency{400, 401} {
		if _, ok := table.Get(f); ok {
			t.Fatalf("frequency %d should not appear in table", f)
		}
	}
	if table.Len() != 1 {
		t.Fatalf("table len = %d, want 1", table.Len())
	}
}

func TestAggregateKeysInFirstSeenOrder(t *testing.T) {
	table := Aggregate([]model.AntennaDescriptor{
		antenna("a", 9, 1),
		antenna("b", 3, 1),
		antenna("c", 9, 2),
		antenna("d", 5, 1),
	})
	got := table.Frequencies()
	want := []model.Frequency{9, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("frequencies = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frequencies = %v, want %v", got, want)
		}
	}
}

func TestAggregateDifferentFrequenciesOrderIndependent(t *testing.T) {
	a := Aggregate([]model.AntennaDescriptor{antenna("a", 1, 4), combinable("b", 2, 3, 0.5)})
	b := Aggregate([]model.AntennaDescriptor{combinable("b", 2, 3, 0.5), antenna("a", 1, 4)})
	for _, f := range []model.Frequency{1, 2} {
		if mustPower(t, a, f) != mustPower(t, b, f) {
			t.Fatalf("power at %d differs by input order", f)
		}
	}
}

func TestAggregateEmpty(t *testing.T) {
	if got := Aggregate(nil).Len(); got != 0 {
		t.Fatalf("Aggregate(nil) len = %d, want 0", got)
	}
}
