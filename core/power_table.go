package core

import "github.com/signalsfoundry/constellation-comms/model"

// PowerTable maps each frequency to its aggregate transmit power.
//
// Keys are unique and iterate in first-insertion order, so every
// consumer of the table (SelectStrongest in particular) sees the same
// order for the same table. The zero value is an empty, usable table.
type PowerTable struct {
	order []model.Frequency
	power map[model.Frequency]float64
}

// NewPowerTable returns an empty table.
func NewPowerTable() *PowerTable {
	return &PowerTable{power: make(map[model.Frequency]float64)}
}

// Set inserts or overwrites the power for f. Overwriting keeps the
// first-insertion position of f.
func (t *PowerTable) Set(f model.Frequency, power float64) {
	if t.power == nil {
		t.power = make(map[model.Frequency]float64)
	}
	if _, ok := t.power[f]; !ok {
		t.order = append(t.order, f)
	}
	t.power[f] = power
}

// Get returns the power for f and whether f is present.
func (t *PowerTable) Get(f model.Frequency) (float64, bool) {
	if t == nil {
		return 0, false
	}
	p, ok := t.power[f]
	return p, ok
}

// Delete removes f, reporting whether it was present.
func (t *PowerTable) Delete(f model.Frequency) bool {
	if t == nil {
		return false
	}
	if _, ok := t.power[f]; !ok {
		return false
	}
	delete(t.power, f)
	for i, k := range t.order {
		if k == f {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear empties the table in place.
func (t *PowerTable) Clear() {
	t.order = t.order[:0]
	t.power = make(map[model.Frequency]float64)
}

// Len returns the number of frequencies.
func (t *PowerTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Frequencies returns a copy of the keys in table order.
func (t *PowerTable) Frequencies() []model.Frequency {
	if t == nil {
		return nil
	}
	return append([]model.Frequency(nil), t.order...)
}

// Range calls fn for every entry in table order until fn returns false.
func (t *PowerTable) Range(fn func(f model.Frequency, power float64) bool) {
	if t == nil {
		return
	}
	for _, f := range t.order {
		if !fn(f, t.power[f]) {
			return
		}
	}
}

// Clone returns an independent copy.
func (t *PowerTable) Clone() *PowerTable {
	out := NewPowerTable()
	t.Range(func(f model.Frequency, p float64) bool {
		out.Set(f, p)
		return true
	})
	return out
}
