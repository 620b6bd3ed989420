package model

import (
	"fmt"
	"regexp"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Constellation is a named group of vessels sharing one radio frequency.
type Constellation struct {
	Name      string    `msgpack:"name" toml:"name" yaml:"name"`
	Frequency Frequency `msgpack:"frequency" toml:"frequency" yaml:"frequency"`
	Color     string    `msgpack:"color" toml:"color" yaml:"color"`
}

// Validate checks the frequency range, a non-empty name no longer than
// maxNameChars (0 disables the length check) and an #rrggbb colour.
func (c Constellation) Validate(maxNameChars int) error {
	if c.Name == "" {
		return fmt.Errorf("constellation name is empty")
	}
	if maxNameChars > 0 && len([]rune(c.Name)) > maxNameChars {
		return fmt.Errorf("constellation name %q is longer than %d characters", c.Name, maxNameChars)
	}
	if !c.Frequency.Valid() {
		return fmt.Errorf("%w: constellation %q frequency %d is out of the range [%d,%d]", ErrInvalidFrequency, c.Name, c.Frequency, MinFrequency, MaxFrequency)
	}
	if c.Color != "" && !colorPattern.MatchString(c.Color) {
		return fmt.Errorf("constellation %q colour %q is not #rrggbb", c.Name, c.Color)
	}
	return nil
}
