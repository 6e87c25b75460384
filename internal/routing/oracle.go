// Package routing orders pooled pickups and drops and fetches road geometry
// for them from a directions provider.
package routing

import (
	"context"
	"encoding/json"
	"fmt"

	"ridepool/internal/domain"
)

// Oracle turns an ordered coordinate list into a directions payload.
// Implementations return errors wrapping domain.ErrExternalService.
type Oracle interface {
	Directions(ctx context.Context, coords []domain.Point) (json.RawMessage, error)
}

// directionsPayload is the subset of a Mapbox/OSRM response we read.
type directionsPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// RouteGeometry extracts the first route's GeoJSON line from a payload.
func RouteGeometry(payload json.RawMessage) (domain.LineString, error) {
	var p directionsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: decode directions: %v", domain.ErrExternalService, err)
	}
	if len(p.Routes) == 0 {
		return nil, fmt.Errorf("%w: directions response has no routes", domain.ErrExternalService)
	}

	coords := p.Routes[0].Geometry.Coordinates
	line := make(domain.LineString, 0, len(coords))
	for _, c := range coords {
		line = append(line, domain.Point{Lng: c[0], Lat: c[1]})
	}
	return line, nil
}
