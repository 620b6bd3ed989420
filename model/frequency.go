package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFrequency is returned when a caller-supplied frequency lies
// outside [MinFrequency, MaxFrequency].
var ErrInvalidFrequency = errors.New("invalid frequency")

// Frequency is a radio channel number. Valid channels lie in
// [MinFrequency, MaxFrequency]; NoFrequency marks "none / not found".
type Frequency int16

const (
	MinFrequency Frequency = 0
	MaxFrequency Frequency = 32767

	// NoFrequency never matches a non-public frequency.
	NoFrequency Frequency = -1

	// DefaultPublicFrequency is used when no settings file overrides it.
	DefaultPublicFrequency Frequency = 0
)

// IsValidFrequency reports whether f is a usable channel number. It takes
// a plain int so callers can check raw input before narrowing it.
func IsValidFrequency(f int) bool {
	return f >= int(MinFrequency) && f <= int(MaxFrequency)
}

// Valid reports whether the frequency lies in the usable range.
func (f Frequency) Valid() bool { return IsValidFrequency(int(f)) }

func (f Frequency) String() string {
	if f == NoFrequency {
		return "none"
	}
	return strconv.Itoa(int(f))
}

// ParseFrequency parses a decimal channel number and rejects anything
// outside the usable range instead of clamping it.
func ParseFrequency(s string) (Frequency, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return NoFrequency, fmt.Errorf("parse frequency %q: %w", s, err)
	}
	if !IsValidFrequency(v) {
		return NoFrequency, fmt.Errorf("%w: %d is out of the range [%d,%d]", ErrInvalidFrequency, v, MinFrequency, MaxFrequency)
	}
	return Frequency(v), nil
}
