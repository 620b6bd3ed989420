package core

import (
	"errors"

	"github.com/signalsfoundry/constellation-comms/model"
)

var (
	// ErrInvalidFrequency is returned when a frequency lies outside [0,32767].
	ErrInvalidFrequency = model.ErrInvalidFrequency
	// ErrAntennaNotFound is returned when no antenna matches a hardware ID.
	ErrAntennaNotFound = errors.New("antenna not found")
	// ErrDuplicateAntenna is returned when two antennas share a hardware ID.
	ErrDuplicateAntenna = errors.New("duplicate antenna")
	// ErrNodeUnresolved marks a node whose owning entity cannot be located.
	ErrNodeUnresolved = errors.New("node unresolved")
	// ErrNodeExists is returned when a node joins the network twice.
	ErrNodeExists = errors.New("node already joined")
	// ErrNodeNotFound is returned for operations on a node that never joined.
	ErrNodeNotFound = errors.New("node not found")
	// ErrBadRecord is returned when a persisted node record is malformed.
	ErrBadRecord = errors.New("malformed node record")
)

// FailureReason renders err as the human-readable reason shown by UI and
// scripting collaborators. A nil error yields "".
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
