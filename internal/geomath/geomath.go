// Package geomath holds the pure numeric kernels shared by the route
// synthesizer and the execution engine: great-circle distances, truncated
// normal sampling and duration formatting. The constants must not change;
// upstream validation is sensitive to the exact figures produced.
package geomath

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	degToRad = 0.0174532925194329
	// chordScale converts the half-chord angle to meters. Kept verbatim;
	// it is not exactly the mean Earth diameter.
	chordScale = 1.2740015798544e7
)

// Point is a geographic coordinate in degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Distance returns the great-circle distance between two points in meters,
// via the chord length between the unit-sphere projections.
func Distance(a, b Point) float64 {
	lonA := a.Lon * degToRad
	latA := a.Lat * degToRad
	lonB := b.Lon * degToRad
	latB := b.Lat * degToRad

	x1 := math.Cos(latA) * math.Cos(lonA)
	y1 := math.Cos(latA) * math.Sin(lonA)
	z1 := math.Sin(latA)
	x2 := math.Cos(latB) * math.Cos(lonB)
	y2 := math.Cos(latB) * math.Sin(lonB)
	z2 := math.Sin(latB)

	chord := math.Sqrt((x1-x2)*(x1-x2) + (y1-y2)*(y1-y2) + (z1-z2)*(z1-z2))
	return math.Asin(chord/2) * chordScale
}

// PathLength returns the sum of consecutive pairwise distances in meters.
func PathLength(points []Point) float64 {
	var total float64
	for i := 0; i+1 < len(points); i++ {
		total += Distance(points[i], points[i+1])
	}
	return total
}

// Sampler wraps a random source so every draw in the pipeline can be made
// deterministic under test.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler returns a sampler over rng, or over a time-seeded source when
// rng is nil.
func NewSampler(rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{rng: rng}
}

// Normal draws from N(mean, std²) using polar rejection sampling, re-drawing
// until the value lands within [mean-3·std, mean+3·std].
func (s *Sampler) Normal(mean, std float64) float64 {
	for {
		u := s.rng.Float64()*2 - 1
		v := s.rng.Float64()*2 - 1
		w := u*u + v*v
		if w == 0 || w >= 1 {
			continue
		}
		value := mean + u*std*math.Sqrt(-2*math.Log(w)/w)
		if value < mean-3*std || value > mean+3*std {
			continue
		}
		return value
	}
}

// Float64 draws a uniform value in [0, 1).
func (s *Sampler) Float64() float64 {
	return s.rng.Float64()
}

// Intn draws a uniform integer in [0, n).
func (s *Sampler) Intn(n int) int {
	return s.rng.Intn(n)
}

// FormatDuration renders a duration as zero-padded "HH:MM:SS". Durations
// beyond 99 hours are not expected.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
