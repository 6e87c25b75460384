package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"ridepool/internal/domain"
	"ridepool/internal/repository"
)

// RideRepository is a PostgreSQL/PostGIS implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx) *RideRepository {
	return &RideRepository{q: tx}
}

const rideColumns = `
	id, user_id, source, destination,
	ST_X(source_location::geometry), ST_Y(source_location::geometry),
	ST_X(destination_location::geometry), ST_Y(destination_location::geometry),
	datetime, COALESCE(ST_AsGeoJSON(route), ''), gender_preference, status, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(s rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var route string
	err := s.Scan(
		&ride.ID,
		&ride.UserID,
		&ride.Source,
		&ride.Destination,
		&ride.SourceLocation.Lng,
		&ride.SourceLocation.Lat,
		&ride.DestinationLocation.Lng,
		&ride.DestinationLocation.Lat,
		&ride.Datetime,
		&route,
		&ride.GenderPreference,
		&ride.Status,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ride.Route, err = parseGeoJSONLine(route); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (r *RideRepository) queryRides(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (id, user_id, source, destination, source_location, destination_location, datetime, route, gender_preference, status, created_at, updated_at)
		VALUES (
			$1, $2, $3, $4,
			ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
			ST_SetSRID(ST_MakePoint($7, $8), 4326)::geography,
			$9, ST_GeomFromText(NULLIF($10, ''), 4326), $11, $12, $13, $13
		)
	`

	_, err := r.q.ExecContext(ctx, query,
		ride.ID,
		ride.UserID,
		ride.Source,
		ride.Destination,
		ride.SourceLocation.Lng,
		ride.SourceLocation.Lat,
		ride.DestinationLocation.Lng,
		ride.DestinationLocation.Lat,
		ride.Datetime,
		lineStringWKT(ride.Route),
		ride.GenderPreference,
		ride.Status,
		ride.CreatedAt,
	)
	return err
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// GetByIDs retrieves the rides that exist among ids.
func (r *RideRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Ride, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = ANY($1::uuid[])`
	return r.queryRides(ctx, query, pq.Array(ids))
}

// ListByUser retrieves all rides owned by a user, newest first.
func (r *RideRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE user_id = $1 ORDER BY datetime DESC`
	return r.queryRides(ctx, query, userID)
}

// Update updates the mutable fields of an existing ride.
func (r *RideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	query := `
		UPDATE rides
		SET datetime = $1, route = ST_GeomFromText(NULLIF($2, ''), 4326), gender_preference = $3, status = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := r.q.ExecContext(ctx, query,
		ride.Datetime,
		lineStringWKT(ride.Route),
		ride.GenderPreference,
		ride.Status,
		ride.UpdatedAt,
		ride.ID,
	)
	if err != nil {
		if isMalformedID(err) {
			return repository.ErrNotFound
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateStatus sets the status of every listed ride.
func (r *RideRepository) UpdateStatus(ctx context.Context, ids []string, status domain.RideStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE rides SET status = $1, updated_at = NOW() WHERE id = ANY($2::uuid[])`
	_, err := r.q.ExecContext(ctx, query, status, pq.Array(ids))
	return err
}

// Delete removes a ride.
func (r *RideRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM rides WHERE id = $1`, id)
	if err != nil {
		if isMalformedID(err) {
			return repository.ErrNotFound
		}
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListOpen returns every open ride.
func (r *RideRepository) ListOpen(ctx context.Context) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE status = $1`
	return r.queryRides(ctx, query, domain.RideStatusOpen)
}

// FindOpenNear returns open rides whose source lies within q.RadiusKm of
// q.Center, using the GIST index on source_location.
func (r *RideRepository) FindOpenNear(ctx context.Context, q repository.NearQuery) ([]*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE status = $1
		  AND user_id <> $2
		  AND datetime BETWEEN $3 AND $4
		  AND ST_DWithin(source_location, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography, $7)
		ORDER BY ST_Distance(source_location, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography)
	`
	return r.queryRides(ctx, query,
		domain.RideStatusOpen, q.ExcludeUserID, q.From, q.To,
		q.Center.Lng, q.Center.Lat, q.RadiusKm*1000,
	)
}

// FindOpenIntersecting returns open rides whose stored route intersects q.Route.
func (r *RideRepository) FindOpenIntersecting(ctx context.Context, q repository.IntersectQuery) ([]*domain.Ride, error) {
	wkt := lineStringWKT(q.Route)
	if wkt == "" {
		return nil, nil
	}
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE status = $1
		  AND user_id <> $2
		  AND route IS NOT NULL
		  AND datetime BETWEEN $3 AND $4
		  AND ST_Intersects(route, ST_GeomFromText($5, 4326))
	`
	return r.queryRides(ctx, query, domain.RideStatusOpen, q.ExcludeUserID, q.From, q.To, wkt)
}
