// core/scenario_loader.go
package core

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/constellation-comms/model"
)

// Scenario is a decoded scenario file: the public frequency, the
// constellation list and every entity with its antennas.
type Scenario struct {
	// PublicFrequency is nil when the file does not set one.
	PublicFrequency *model.Frequency
	Constellations  []model.Constellation
	Entities        []ScenarioEntity
}

// ScenarioEntity is one vessel or ground station and the node it owns.
type ScenarioEntity struct {
	Entity     model.Entity
	NodeID     string
	Membership bool
	Policy     model.ListUpdatePolicy
	Antennas   []AntennaPart
}

// internal YAML shapes, unexported so the file format can evolve.
type scenarioYAML struct {
	PublicFrequency *int                `yaml:"public_frequency"`
	Constellations  []constellationYAML `yaml:"constellations"`
	Entities        []entityYAML        `yaml:"entities"`
}

type constellationYAML struct {
	Name      string `yaml:"name"`
	Frequency int    `yaml:"frequency"`
	Color     string `yaml:"color"`
}

type entityYAML struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Kind       string        `yaml:"kind"` // "vessel" | "ground_station"
	NodeID     string        `yaml:"node_id"`
	Position   *positionYAML `yaml:"position"`
	TLE        []string      `yaml:"tle"`
	Membership bool          `yaml:"membership"`
	Policy     string        `yaml:"policy"`
	Antennas   []antennaYAML `yaml:"antennas"`
}

type positionYAML struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type antennaYAML struct {
	ID                 string  `yaml:"id"`
	Title              string  `yaml:"title"`
	Name               string  `yaml:"name"`
	Power              float64 `yaml:"power"`
	Combinable         bool    `yaml:"combinable"`
	CombinableExponent float64 `yaml:"combinable_exponent"`
	Kind               string  `yaml:"kind"`
	Deployed           *bool   `yaml:"deployed"`
	Frequency          *int    `yaml:"frequency"`
	InUse              *bool   `yaml:"in_use"`
}

// LoadScenario decodes a YAML (or JSON) scenario from r.
//
// A malformed document fails outright. Problems confined to one entity are
// collected into a multierror and that entity is skipped; the returned
// Scenario still holds every entity that decoded cleanly.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && err != io.EOF {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	out := &Scenario{}
	public := model.Frequency(model.DefaultPublicFrequency)
	if payload.PublicFrequency != nil {
		if !model.IsValidFrequency(*payload.PublicFrequency) {
			return nil, fmt.Errorf("LoadScenario: %w: public frequency %d", ErrInvalidFrequency, *payload.PublicFrequency)
		}
		public = model.Frequency(*payload.PublicFrequency)
		out.PublicFrequency = &public
	}

	var result *multierror.Error
	for _, c := range payload.Constellations {
		if !model.IsValidFrequency(c.Frequency) {
			result = multierror.Append(result, fmt.Errorf("constellation %q: %w: %d", c.Name, ErrInvalidFrequency, c.Frequency))
			continue
		}
		out.Constellations = append(out.Constellations, model.Constellation{
			Name:      c.Name,
			Frequency: model.Frequency(c.Frequency),
			Color:     c.Color,
		})
	}

	seen := make(map[string]struct{})
	for i, e := range payload.Entities {
		se, err := e.toScenarioEntity(public)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("entity %d (%q): %w", i, e.ID, err))
			continue
		}
		if _, dup := seen[se.NodeID]; dup {
			result = multierror.Append(result, fmt.Errorf("entity %d (%q): %w: %q", i, e.ID, ErrNodeExists, se.NodeID))
			continue
		}
		seen[se.NodeID] = struct{}{}
		out.Entities = append(out.Entities, se)
	}

	return out, result.ErrorOrNil()
}

func (e entityYAML) toScenarioEntity(public model.Frequency) (ScenarioEntity, error) {
	if e.ID == "" {
		return ScenarioEntity{}, fmt.Errorf("empty id")
	}

	kind, err := entityKindFromString(e.Kind)
	if err != nil {
		return ScenarioEntity{}, err
	}
	policy, err := model.ParseListUpdatePolicy(e.Policy)
	if err != nil {
		return ScenarioEntity{}, err
	}

	entity := model.Entity{ID: e.ID, Name: e.Name, Kind: kind}
	if entity.Name == "" {
		entity.Name = e.ID
	}
	if e.Position != nil {
		entity.Coordinates = model.Motion{X: e.Position.X, Y: e.Position.Y, Z: e.Position.Z}
	}
	switch len(e.TLE) {
	case 0:
	case 2:
		entity.MotionSource = model.MotionSourceSpacetrack
		entity.TLE1, entity.TLE2 = e.TLE[0], e.TLE[1]
	default:
		return ScenarioEntity{}, fmt.Errorf("tle needs exactly two lines, got %d", len(e.TLE))
	}

	nodeID := e.NodeID
	if nodeID == "" {
		nodeID = e.ID
	}

	se := ScenarioEntity{
		Entity:     entity,
		NodeID:     nodeID,
		Membership: e.Membership,
		Policy:     policy,
	}
	seen := make(map[model.HardwareID]bool, len(e.Antennas))
	for j, a := range e.Antennas {
		part, err := a.toPart(public)
		if err != nil {
			return ScenarioEntity{}, fmt.Errorf("antenna %d: %w", j, err)
		}
		if seen[part.HardwareID] {
			return ScenarioEntity{}, fmt.Errorf("antenna %d: %w: %q", j, ErrDuplicateAntenna, part.HardwareID)
		}
		seen[part.HardwareID] = true
		se.Antennas = append(se.Antennas, part)
	}
	return se, nil
}

func (a antennaYAML) toPart(public model.Frequency) (AntennaPart, error) {
	freq := public
	if a.Frequency != nil {
		if !model.IsValidFrequency(*a.Frequency) {
			return AntennaPart{}, fmt.Errorf("%w: %d", ErrInvalidFrequency, *a.Frequency)
		}
		freq = model.Frequency(*a.Frequency)
	}
	if a.Power < 0 {
		return AntennaPart{}, fmt.Errorf("negative power %g", a.Power)
	}

	id := model.HardwareID(a.ID)
	if id == "" {
		id = model.HardwareID(uuid.NewString())
	}
	title := a.Title
	if title == "" {
		title = string(id)
	}

	return AntennaPart{
		HardwareID:         id,
		Title:              title,
		Power:              a.Power,
		Combinable:         a.Combinable,
		CombinableExponent: a.CombinableExponent,
		Kind:               model.ParseAntennaKind(a.Kind),
		Deployed:           boolOr(a.Deployed, true),
		Frequency:          freq,
		OptionalName:       a.Name,
		InUse:              boolOr(a.InUse, true),
	}, nil
}

// entityKindFromString maps the scenario "kind" onto model.EntityKind.
// An empty kind means a vessel.
func entityKindFromString(s string) (model.EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vessel", "ship", "satellite":
		return model.EntityVessel, nil
	case "ground_station", "groundstation", "station", "home":
		return model.EntityGroundStation, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
