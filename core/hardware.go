package core

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/constellation-comms/model"
)

// HardwareSource supplies a node's antennas. Implementations may read live
// parts or a persisted snapshot of an unloaded vessel; the frequency list
// only sees AntennaDescriptor values either way.
type HardwareSource interface {
	// Antennas returns a fresh descriptor for every antenna on the node.
	Antennas() ([]model.AntennaDescriptor, error)
	// SetFrequency writes the persisted frequency of one antenna.
	SetFrequency(id model.HardwareID, f model.Frequency) error
	// SetInUse writes the persisted in-use flag of one antenna.
	SetInUse(id model.HardwareID, inUse bool) error
}

// AntennaPart is one antenna held by MemoryHardware: the part's fixed
// characteristics plus the fields that get persisted.
type AntennaPart struct {
	HardwareID         model.HardwareID
	Title              string
	Power              float64
	Combinable         bool
	CombinableExponent float64
	Kind               model.AntennaKind
	Deployed           bool

	// Persisted fields.
	Frequency    model.Frequency
	OptionalName string
	InUse        bool
}

// Name is the optional user-assigned name, falling back to the part title.
func (p *AntennaPart) Name() string {
	if p.OptionalName == "" {
		return p.Title
	}
	return p.OptionalName
}

// MemoryHardware is an in-memory HardwareSource used by the scenario
// loader, the demo host and tests.
type MemoryHardware struct {
	mu    sync.RWMutex
	parts []*AntennaPart
}

// NewMemoryHardware copies parts into a new hardware set. Hardware IDs
// must be unique.
func NewMemoryHardware(parts ...AntennaPart) (*MemoryHardware, error) {
	hw := &MemoryHardware{}
	for i := range parts {
		p := parts[i]
		if hw.findLocked(p.HardwareID) != nil {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAntenna, p.HardwareID)
		}
		hw.parts = append(hw.parts, &p)
	}
	return hw, nil
}

// Antennas implements HardwareSource.
func (h *MemoryHardware) Antennas() ([]model.AntennaDescriptor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.AntennaDescriptor, 0, len(h.parts))
	for _, p := range h.parts {
		out = append(out, model.AntennaDescriptor{
			Frequency:          p.Frequency,
			DisplayName:        p.Name(),
			Power:              p.Power,
			Combinable:         p.Combinable,
			CombinableExponent: p.CombinableExponent,
			Kind:               p.Kind,
			HardwareID:         p.HardwareID,
			InUse:              p.InUse,
			CanTransmit:        p.Kind != model.AntennaDeployable || p.Deployed,
		})
	}
	return out, nil
}

// SetFrequency implements HardwareSource.
func (h *MemoryHardware) SetFrequency(id model.HardwareID, f model.Frequency) error {
	return h.update(id, func(p *AntennaPart) { p.Frequency = f })
}

// SetInUse implements HardwareSource.
func (h *MemoryHardware) SetInUse(id model.HardwareID, inUse bool) error {
	return h.update(id, func(p *AntennaPart) { p.InUse = inUse })
}

// SetDeployed extends or retracts a deployable antenna.
func (h *MemoryHardware) SetDeployed(id model.HardwareID, deployed bool) error {
	return h.update(id, func(p *AntennaPart) { p.Deployed = deployed })
}

// SetName sets the optional user-assigned antenna name.
func (h *MemoryHardware) SetName(id model.HardwareID, name string) error {
	return h.update(id, func(p *AntennaPart) { p.OptionalName = name })
}

// AddPart attaches a new antenna. Hardware IDs must be unique.
func (h *MemoryHardware) AddPart(part AntennaPart) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.findLocked(part.HardwareID) != nil {
		return fmt.Errorf("%w: %q already attached", ErrDuplicateAntenna, part.HardwareID)
	}
	h.parts = append(h.parts, &part)
	return nil
}

// RemovePart detaches an antenna.
func (h *MemoryHardware) RemovePart(id model.HardwareID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.parts {
		if p.HardwareID == id {
			h.parts = append(h.parts[:i], h.parts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrAntennaNotFound, id)
}

// Snapshot returns the persisted fields of every antenna.
func (h *MemoryHardware) Snapshot() []AntennaRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]AntennaRecord, 0, len(h.parts))
	for _, p := range h.parts {
		freq := p.Frequency
		inUse := p.InUse
		out = append(out, AntennaRecord{
			HardwareID:   p.HardwareID,
			Frequency:    &freq,
			OptionalName: p.OptionalName,
			InUse:        &inUse,
		})
	}
	return out
}

// ValidateAntennaRecords checks every stored frequency in records.
func ValidateAntennaRecords(records []AntennaRecord) error {
	for _, rec := range records {
		if rec.Frequency != nil && !rec.Frequency.Valid() {
			return fmt.Errorf("%w: antenna %q has %d", ErrInvalidFrequency, rec.HardwareID, *rec.Frequency)
		}
	}
	return nil
}

// Restore applies persisted fields to the matching antennas. Records for
// antennas that are no longer attached are skipped; the number applied
// is returned. Nothing is applied if any record is invalid.
func (h *MemoryHardware) Restore(records []AntennaRecord) (int, error) {
	if err := ValidateAntennaRecords(records); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	applied := 0
	for _, rec := range records {
		p := h.findLocked(rec.HardwareID)
		if p == nil {
			continue
		}
		if rec.Frequency != nil {
			p.Frequency = *rec.Frequency
		}
		if rec.InUse != nil {
			p.InUse = *rec.InUse
		}
		p.OptionalName = rec.OptionalName
		applied++
	}
	return applied, nil
}

func (h *MemoryHardware) update(id model.HardwareID, fn func(*AntennaPart)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.findLocked(id)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrAntennaNotFound, id)
	}
	fn(p)
	return nil
}

// findLocked returns the part with the given ID. Caller must hold h.mu.
func (h *MemoryHardware) findLocked(id model.HardwareID) *AntennaPart {
	for _, p := range h.parts {
		if p.HardwareID == id {
			return p
		}
	}
	return nil
}
