// Package route synthesizes a plausible GPS trail from a task's nominal
// waypoints. Deviations are applied per emitted point, not once to the
// nominal path, so the achieved distance is intentionally noisy around the
// target; callers must treat it as approximate.
package route

import (
	"math"
	"strconv"

	"sunrunner/internal/domain"
	"sunrunner/internal/geomath"
)

const (
	// densifyStep is the interpolation step along each nominal segment,
	// in degrees (roughly 11 m).
	densifyStep = 0.0001
	// deviationStd is the per-point Gaussian positional noise, in degrees
	// (roughly 2 m).
	deviationStd = 1.0 / 50000
)

// TrailPoint is one perturbed coordinate, formatted the way the upstream
// detail call expects it.
type TrailPoint struct {
	Longitude string `json:"longitude"`
	Latitude  string `json:"latitude"`
}

// Synthesize walks a randomized stretch of the densified waypoint polyline,
// perturbing every point, until the deviated trail is at least targetKm long.
// It returns the trail and the achieved distance in kilometers rounded to two
// decimals.
func Synthesize(waypoints []domain.RoutePoint, targetKm float64, sampler *geomath.Sampler) ([]TrailPoint, float64, error) {
	if len(waypoints) == 0 || (waypoints[0].Latitude == 0 && waypoints[0].Longitude == 0) {
		return nil, 0, domain.ErrEmptyTask
	}

	dense := densify(waypoints)
	if len(dense) < 2 {
		return nil, 0, domain.ErrEmptyTask
	}

	start := sampler.Intn(len(dense))
	deviate := func(p geomath.Point) geomath.Point {
		return geomath.Point{
			Lon: sampler.Normal(p.Lon, deviationStd),
			Lat: sampler.Normal(p.Lat, deviationStd),
		}
	}

	targetM := targetKm * 1000
	points := []geomath.Point{deviate(dense[start])}
	var traveled float64
	for i := start + 1; traveled < targetM; i++ {
		if i >= len(dense) {
			// Wrap so short source routes can serve long targets. The jump
			// back to the head only re-anchors the walk; it is not part of
			// the run and must not count toward the distance.
			i = 0
			points = append(points, deviate(dense[0]))
			continue
		}
		next := deviate(dense[i])
		traveled += geomath.Distance(points[len(points)-1], next)
		points = append(points, next)
	}

	trail := make([]TrailPoint, len(points))
	for i, p := range points {
		trail[i] = TrailPoint{
			Longitude: strconv.FormatFloat(p.Lon, 'f', 6, 64),
			Latitude:  strconv.FormatFloat(p.Lat, 'f', 6, 64),
		}
	}
	return trail, math.Round(traveled/10) / 100, nil
}

// densify inserts evenly spaced points along each waypoint segment,
// preserving direction. Segment endpoints other than the final waypoint are
// contributed by the start of the following segment.
func densify(waypoints []domain.RoutePoint) []geomath.Point {
	var out []geomath.Point
	for i := 0; i < len(waypoints); i++ {
		a := geomath.Point{Lon: waypoints[i].Longitude, Lat: waypoints[i].Latitude}
		if i == len(waypoints)-1 {
			out = append(out, a)
			break
		}
		b := geomath.Point{Lon: waypoints[i+1].Longitude, Lat: waypoints[i+1].Latitude}
		out = append(out, a)
		vx := b.Lon - a.Lon
		vy := b.Lat - a.Lat
		norm := math.Hypot(vx, vy)
		if norm == 0 {
			continue
		}
		steps := int(norm / densifyStep)
		for s := 1; s < steps; s++ {
			out = append(out, geomath.Point{
				Lon: a.Lon + float64(s)*densifyStep*vx/norm,
				Lat: a.Lat + float64(s)*densifyStep*vy/norm,
			})
		}
	}
	return out
}
