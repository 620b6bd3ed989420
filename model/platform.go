package model

// MotionSource indicates how an entity's position is determined.
type MotionSource int

const (
	MotionSourceUnknown    MotionSource = iota
	MotionSourceSpacetrack              // TLE-based orbit propagation
)

// Motion represents a position in ECEF metres.
type Motion struct {
	X float64
	Y float64
	Z float64
}

// EntityKind separates vessels from fixed ground stations.
type EntityKind string

const (
	EntityVessel        EntityKind = "VESSEL"
	EntityGroundStation EntityKind = "GROUND_STATION"
)

// Entity is the simulation object that owns a comm node: a vessel or a
// ground station. Ground stations are home nodes.
type Entity struct {
	ID   string
	Name string
	Kind EntityKind

	Coordinates  Motion
	MotionSource MotionSource

	// TLE lines, only meaningful with MotionSourceSpacetrack.
	TLE1 string
	TLE2 string
}

// IsHome reports whether the entity is a fixed ground station.
func (e *Entity) IsHome() bool {
	return e != nil && e.Kind == EntityGroundStation
}
