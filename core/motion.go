package core

import (
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/constellation-comms/model"
)

// MotionModel updates an entity's position for a given simulation time.
type MotionModel interface {
	UpdatePosition(simTime time.Time, e *model.Entity)
}

// StaticMotionModel leaves the position unchanged. Ground stations and
// vessels without a TLE use it.
type StaticMotionModel struct{}

// UpdatePosition does nothing.
func (StaticMotionModel) UpdatePosition(time.Time, *model.Entity) {}

// OrbitalSGP4MotionModel propagates a TLE with SGP4.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) *OrbitalSGP4MotionModel {
	return &OrbitalSGP4MotionModel{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}
}

// UpdatePosition writes the ECEF position at simTime into e.Coordinates,
// converting go-satellite's kilometres to metres.
func (m *OrbitalSGP4MotionModel) UpdatePosition(simTime time.Time, e *model.Entity) {
	t := simTime.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	e.Coordinates = model.Motion{
		X: posECEF.X * kmToM,
		Y: posECEF.Y * kmToM,
		Z: posECEF.Z * kmToM,
	}
}

// NewMotionModel picks SGP4 for entities with a TLE and static otherwise.
func NewMotionModel(e *model.Entity) MotionModel {
	if e != nil && e.MotionSource == model.MotionSourceSpacetrack && e.TLE1 != "" && e.TLE2 != "" {
		return NewOrbitalModelFromTLE(e.TLE1, e.TLE2)
	}
	return StaticMotionModel{}
}
