package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"ridepool/internal/domain"
	"ridepool/internal/repository"
)

// GroupRepository is a PostgreSQL implementation of repository.GroupRepository.
// Invites, requests and members are stored as JSONB arrays; group_rides
// holds one row per ride of an active group.
type GroupRepository struct {
	db *sql.DB
}

// NewGroupRepository creates a new PostgreSQL group repository.
func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `
	id, name, admin_id, status, invites, requests, members, route,
	countdown_ends_at, membership_version, version, created_at, updated_at
`

// groupRow is the column form of a group.
type groupRow struct {
	invites  []byte
	requests []byte
	members  []byte
	route    []byte
}

func encodeGroup(g *domain.Group) (groupRow, error) {
	var row groupRow
	var err error

	invites := make([]domain.Invite, 0, len(g.Invites))
	for _, inv := range g.Invites {
		invites = append(invites, inv)
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].UserID < invites[j].UserID })

	requests := make([]domain.JoinRequest, 0, len(g.Requests))
	for _, req := range g.Requests {
		requests = append(requests, req)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].UserID < requests[j].UserID })

	if row.invites, err = json.Marshal(invites); err != nil {
		return row, err
	}
	if row.requests, err = json.Marshal(requests); err != nil {
		return row, err
	}
	if row.members, err = json.Marshal(g.SortedMembers()); err != nil {
		return row, err
	}
	if row.route, err = json.Marshal(g.Route); err != nil {
		return row, err
	}
	return row, nil
}

func scanGroup(s rowScanner) (*domain.Group, error) {
	var g domain.Group
	var row groupRow
	var endsAt sql.NullTime

	err := s.Scan(
		&g.ID,
		&g.Name,
		&g.AdminID,
		&g.Status,
		&row.invites,
		&row.requests,
		&row.members,
		&row.route,
		&endsAt,
		&g.MembershipVersion,
		&g.Version,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endsAt.Valid {
		g.CountdownEndsAt = endsAt.Time
	}

	var invites []domain.Invite
	var requests []domain.JoinRequest
	var members []domain.Member
	if err := json.Unmarshal(row.invites, &invites); err != nil {
		return nil, fmt.Errorf("decode invites: %w", err)
	}
	if err := json.Unmarshal(row.requests, &requests); err != nil {
		return nil, fmt.Errorf("decode requests: %w", err)
	}
	if err := json.Unmarshal(row.members, &members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	if err := json.Unmarshal(row.route, &g.Route); err != nil {
		return nil, fmt.Errorf("decode route: %w", err)
	}

	g.Invites = make(map[string]domain.Invite, len(invites))
	for _, inv := range invites {
		g.Invites[inv.UserID] = inv
	}
	g.Requests = make(map[string]domain.JoinRequest, len(requests))
	for _, req := range requests {
		g.Requests[req.UserID] = req
	}
	g.Members = make(map[string]domain.Member, len(members))
	for _, m := range members {
		g.Members[m.UserID] = m
	}
	return &g, nil
}

func (r *GroupRepository) queryGroups(ctx context.Context, query string, args ...any) ([]*domain.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func nullTime(g *domain.Group) sql.NullTime {
	if g.CountdownEndsAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: g.CountdownEndsAt, Valid: true}
}

// syncClaims rewrites the ride claims of a group inside tx.
func syncClaims(ctx context.Context, tx *sql.Tx, g *domain.Group) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_rides WHERE group_id = $1`, g.ID); err != nil {
		return err
	}
	if !g.Status.Active() {
		return nil
	}
	for _, m := range g.SortedMembers() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO group_rides (ride_id, group_id, user_id) VALUES ($1, $2, $3)`,
			m.RideID, g.ID, m.UserID,
		)
		if err != nil {
			if pqCode(err) == pqUniqueViolation {
				return repository.ErrRideClaimed
			}
			return err
		}
	}
	return nil
}

// Create persists a new group and claims its members' rides.
func (r *GroupRepository) Create(ctx context.Context, g *domain.Group) (err error) {
	row, err := encodeGroup(g)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if g.Version == 0 {
		g.Version = 1
	}
	query := `
		INSERT INTO groups (` + groupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, query,
		g.ID, g.Name, g.AdminID, g.Status,
		row.invites, row.requests, row.members, row.route,
		nullTime(g), g.MembershipVersion, g.Version, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if err = syncClaims(ctx, tx, g); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByID retrieves a group by ID.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`

	g, err := scanGroup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// updateGroupTx performs the version-checked write of g inside tx.
func updateGroupTx(ctx context.Context, tx *sql.Tx, g *domain.Group) error {
	row, err := encodeGroup(g)
	if err != nil {
		return err
	}

	query := `
		UPDATE groups
		SET name = $1, status = $2, invites = $3, requests = $4, members = $5, route = $6,
		    countdown_ends_at = $7, membership_version = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11
	`
	result, err := tx.ExecContext(ctx, query,
		g.Name, g.Status, row.invites, row.requests, row.members, row.route,
		nullTime(g), g.MembershipVersion, g.UpdatedAt,
		g.ID, g.Version,
	)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

// Update replaces the group state and its ride claims.
func (r *GroupRepository) Update(ctx context.Context, g *domain.Group) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateGroupTx(ctx, tx, g); err != nil {
		return err
	}
	if err = syncClaims(ctx, tx, g); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	g.Version++
	return nil
}

// Finalize closes the group and marks rideIDs as matched in one transaction.
func (r *GroupRepository) Finalize(ctx context.Context, g *domain.Group, rideIDs []string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateGroupTx(ctx, tx, g); err != nil {
		return err
	}
	if err = syncClaims(ctx, tx, g); err != nil {
		return err
	}
	if err = NewRideRepositoryWithTx(tx).UpdateStatus(ctx, rideIDs, domain.RideStatusMatched); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	g.Version++
	return nil
}

// Delete removes a group; its ride claims cascade.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
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

func containsUser(userID string) ([]byte, error) {
	return json.Marshal([]map[string]string{{"userId": userID}})
}

// ListByUser returns groups where the user is admin or member.
func (r *GroupRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	probe, err := containsUser(userID)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + groupColumns + ` FROM groups
		WHERE admin_id = $1 OR members @> $2::jsonb
		ORDER BY created_at DESC
	`
	return r.queryGroups(ctx, query, userID, probe)
}

// ListInvitesForUser returns open groups holding an invite for the user.
func (r *GroupRepository) ListInvitesForUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	probe, err := containsUser(userID)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + groupColumns + ` FROM groups
		WHERE status = $1 AND invites @> $2::jsonb
		ORDER BY created_at DESC
	`
	return r.queryGroups(ctx, query, domain.GroupStatusOpen, probe)
}

// ListByStatus returns all groups in the given status.
func (r *GroupRepository) ListByStatus(ctx context.Context, status domain.GroupStatus) ([]*domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE status = $1 ORDER BY created_at`
	return r.queryGroups(ctx, query, status)
}

// FindActiveByRide returns IDs of active groups holding the ride.
func (r *GroupRepository) FindActiveByRide(ctx context.Context, rideID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT group_id FROM group_rides WHERE ride_id = $1`, rideID)
	if err != nil {
		if isMalformedID(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindClosedByRide returns the most recent closed group whose members include the ride.
func (r *GroupRepository) FindClosedByRide(ctx context.Context, rideID string) (*domain.Group, error) {
	probe, err := json.Marshal([]map[string]string{{"rideId": rideID}})
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + groupColumns + ` FROM groups
		WHERE status = $1 AND members @> $2::jsonb
		ORDER BY updated_at DESC
		LIMIT 1
	`
	g, err := scanGroup(r.db.QueryRowContext(ctx, query, domain.GroupStatusClosed, probe))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}
