package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"ridepool/internal/domain"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// PostgreSQL error codes handled by the repositories.
const (
	pqUniqueViolation     = "23505"
	pqInvalidTextEncoding = "22P02"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// isMalformedID reports whether err comes from a non-UUID identifier.
func isMalformedID(err error) bool {
	return pqCode(err) == pqInvalidTextEncoding
}

// lineStringWKT renders a line as WKT, or "" for an empty line.
func lineStringWKT(l domain.LineString) string {
	if len(l) < 2 {
		return ""
	}
	var b strings.Builder
	b.WriteString("LINESTRING(")
	for i, p := range l {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(p.Lng, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
	}
	b.WriteByte(')')
	return b.String()
}

// parseGeoJSONLine decodes the output of ST_AsGeoJSON for a LineString.
func parseGeoJSONLine(raw string) (domain.LineString, error) {
	if raw == "" {
		return nil, nil
	}
	var g struct {
		Type        string       `json:"type"`
		Coordinates [][2]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("decode route geometry: %w", err)
	}
	line := make(domain.LineString, 0, len(g.Coordinates))
	for _, c := range g.Coordinates {
		line = append(line, domain.Point{Lng: c[0], Lat: c[1]})
	}
	return line, nil
}
