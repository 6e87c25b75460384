package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a WGS84 coordinate. It is encoded as a GeoJSON position [lng, lat].
type Point struct {
	Lng float64
	Lat float64
}

// Valid reports whether the point is finite and within WGS84 bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// MarshalJSON encodes the point as [lng, lat].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lng, p.Lat})
}

// UnmarshalJSON decodes a [lng, lat] position.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pos []float64
	if err := json.Unmarshal(data, &pos); err != nil {
		return err
	}
	if len(pos) != 2 {
		return fmt.Errorf("%w: position must have exactly two elements", ErrInvalidCoordinates)
	}
	p.Lng, p.Lat = pos[0], pos[1]
	return nil
}

// LineString is an ordered coordinate sequence.
type LineString []Point

// Valid reports whether the line has at least two valid points.
func (l LineString) Valid() bool {
	if len(l) < 2 {
		return false
	}
	for _, p := range l {
		if !p.Valid() {
			return false
		}
	}
	return true
}

// Endpoints returns the first and last coordinates of the line.
func (l LineString) Endpoints() (first, last Point, ok bool) {
	if len(l) < 2 {
		return Point{}, Point{}, false
	}
	return l[0], l[len(l)-1], true
}
