// Package traffic generates synthetic aircraft tracks for playback into
// the knowledge base: flights made of straight and constant-rate turning
// legs, loaded from JSON scenarios and driven by a timectrl clock.
package traffic

import (
	"math"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/model"
)

const degToRad = math.Pi / 180

// MotionModel yields an aircraft's state at a given time. ok is false
// while the aircraft is not airborne.
type MotionModel interface {
	StateAt(t time.Time) (s model.AircraftState, ok bool)
}

// Leg is one segment of a flight. TurnRate is in degrees per second,
// positive turning right (clockwise seen from above); zero flies
// straight.
type Leg struct {
	Duration time.Duration
	TurnRate float64
}

// legStart is the kinematic state at the beginning of a leg in the
// projection plane.
type legStart struct {
	offset  time.Duration
	pos     core.Vec3 // plane metres, z unused
	heading float64   // radians clockwise from north
}

// Flight flies a sequence of legs through a gnomonic plane at constant
// ground speed and climb rate. Without legs it flies straight forever.
type Flight struct {
	ID        string
	Start     time.Time
	Speed     float64 // m/s
	ClimbRate float64 // m/s
	Altitude  float64 // metres at Start

	proj    *core.GnomonicProjection
	initial legStart
	legs    []Leg
	starts  []legStart
	end     time.Duration
}

// NewFlight places a flight at origin with the given initial heading in
// degrees and precomputes its leg boundaries.
func NewFlight(id string, proj *core.GnomonicProjection, origin core.GeographicCoordinate, start time.Time, headingDeg, speed, climb float64, legs []Leg) *Flight {
	f := &Flight{
		ID:        id,
		Start:     start,
		Speed:     speed,
		ClimbRate: climb,
		Altitude:  origin.Altitude,
		proj:      proj,
		legs:      legs,
	}
	cur := legStart{pos: proj.Project(origin).Flat(), heading: headingDeg * degToRad}
	f.initial = cur
	for _, leg := range legs {
		f.starts = append(f.starts, cur)
		pos, heading := f.advance(cur, leg.TurnRate, leg.Duration.Seconds())
		cur = legStart{offset: cur.offset + leg.Duration, pos: pos, heading: heading}
	}
	f.end = cur.offset
	return f
}

// advance moves from ls along a leg with turn rate rateDeg for dt
// seconds.
func (f *Flight) advance(ls legStart, rateDeg, dt float64) (core.Vec3, float64) {
	w := rateDeg * degToRad
	if w == 0 {
		s, c := math.Sincos(ls.heading)
		return core.Vec3{X: ls.pos.X + f.Speed*dt*s, Y: ls.pos.Y + f.Speed*dt*c}, ls.heading
	}
	h := ls.heading + w*dt
	r := f.Speed / w
	return core.Vec3{
		X: ls.pos.X + r*(math.Cos(ls.heading)-math.Cos(h)),
		Y: ls.pos.Y + r*(math.Sin(h)-math.Sin(ls.heading)),
	}, h
}

// planeAt returns the plane position and heading at offset since Start.
func (f *Flight) planeAt(offset time.Duration) (core.Vec3, float64) {
	if len(f.legs) == 0 {
		return f.advance(f.initial, 0, offset.Seconds())
	}
	i := len(f.starts) - 1
	for i > 0 && f.starts[i].offset > offset {
		i--
	}
	ls := f.starts[i]
	return f.advance(ls, f.legs[i].TurnRate, (offset - ls.offset).Seconds())
}

// StateAt implements MotionModel.
func (f *Flight) StateAt(t time.Time) (model.AircraftState, bool) {
	offset := t.Sub(f.Start)
	if offset < 0 || (len(f.legs) > 0 && offset > f.end) {
		return model.AircraftState{}, false
	}
	pos, heading := f.planeAt(offset)
	alt := f.Altitude + f.ClimbRate*offset.Seconds()
	at := f.proj.Unproject(core.Vec3{X: pos.X, Y: pos.Y, Z: alt})

	// Plane velocity moved onto the sphere by differencing over one second.
	s, c := math.Sincos(heading)
	v := core.Vec3{X: f.Speed * s, Y: f.Speed * c}
	before := f.proj.Unproject(pos.Sub(v.Scale(0.5)))
	after := f.proj.Unproject(pos.Add(v.Scale(0.5)))

	return model.AircraftState{
		AircraftID: f.ID,
		Time:       t,
		Position:   at,
		Velocity: core.SphericalVelocity{
			DR:   f.ClimbRate,
			DLat: after.Latitude - before.Latitude,
			DLon: after.Longitude - before.Longitude,
		},
	}, true
}

// Ends reports when the flight leaves the picture; ok is false for
// flights that never end.
func (f *Flight) Ends() (time.Time, bool) {
	if len(f.legs) == 0 {
		return time.Time{}, false
	}
	return f.Start.Add(f.end), true
}
