package model

import "strings"

// AntennaKind mirrors the hardware's antenna classification.
type AntennaKind int

const (
	AntennaFixed AntennaKind = iota
	AntennaDeployable
	AntennaOther
)

func (k AntennaKind) String() string {
	switch k {
	case AntennaFixed:
		return "fixed"
	case AntennaDeployable:
		return "deployable"
	default:
		return "other"
	}
}

// ParseAntennaKind maps a scenario string onto an AntennaKind. Unknown
// values become AntennaOther.
func ParseAntennaKind(s string) AntennaKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "direct":
		return AntennaFixed
	case "deployable", "relay":
		return AntennaDeployable
	default:
		return AntennaOther
	}
}

// HardwareID identifies one antenna part across loads and saves.
type HardwareID string

// AntennaDescriptor is a read-only view of one antenna, produced fresh by
// the hardware collaborator on every aggregation pass.
type AntennaDescriptor struct {
	Frequency          Frequency
	DisplayName        string
	Power              float64
	Combinable         bool
	CombinableExponent float64
	Kind               AntennaKind
	HardwareID         HardwareID

	// InUse is the user's selection; CanTransmit is the hardware state
	// (a retracted deployable antenna cannot transmit).
	InUse       bool
	CanTransmit bool
}

// Transmitting reports whether the antenna takes part in aggregation.
func (a AntennaDescriptor) Transmitting() bool {
	return a.InUse && a.CanTransmit
}
