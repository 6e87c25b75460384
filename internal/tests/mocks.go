package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ridepool/internal/domain"
	"ridepool/internal/geo"
	"ridepool/internal/redis"
	"ridepool/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is an in-memory RideRepository.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// Counters for verification
	CreateCallCount    int32
	IntersectCallCount int32
	NearCallCount      int32

	// Error injection
	CreateError   error
	GetByIDsError error
}

// NewMockRideRepository creates an empty ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{rides: make(map[string]*domain.Ride)}
}

func copyRide(r *domain.Ride) *domain.Ride {
	c := *r
	c.Route = append(domain.LineString(nil), r.Route...)
	return &c
}

// AddRide stores a ride as-is.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = copyRide(ride)
}

// Status returns the stored status of a ride.
func (m *MockRideRepository) Status(id string) domain.RideStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rides[id]; ok {
		return r.Status
	}
	return ""
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.AddRide(ride)
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRide(r), nil
}

func (m *MockRideRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Ride, error) {
	if m.GetByIDsError != nil {
		return nil, m.GetByIDsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Ride, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.rides[id]; ok {
			out = append(out, copyRide(r))
		}
	}
	return out, nil
}

func (m *MockRideRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Ride
	for _, r := range m.rides {
		if r.UserID == userID {
			out = append(out, copyRide(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockRideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[ride.ID]; !ok {
		return repository.ErrNotFound
	}
	m.rides[ride.ID] = copyRide(ride)
	return nil
}

func (m *MockRideRepository) UpdateStatus(ctx context.Context, ids []string, status domain.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if r, ok := m.rides[id]; ok {
			r.Status = status
		}
	}
	return nil
}

func (m *MockRideRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rides, id)
	return nil
}

// FindOpenIntersecting mirrors the ST_Intersects query with a planar
// segment test over the stored routes.
func (m *MockRideRepository) FindOpenIntersecting(ctx context.Context, q repository.IntersectQuery) ([]*domain.Ride, error) {
	atomic.AddInt32(&m.IntersectCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Ride
	for _, r := range m.rides {
		if r.Status != domain.RideStatusOpen || r.UserID == q.ExcludeUserID {
			continue
		}
		if r.Datetime.Before(q.From) || r.Datetime.After(q.To) {
			continue
		}
		if linesIntersect(q.Route, r.Route) {
			out = append(out, copyRide(r))
		}
	}
	return out, nil
}

func (m *MockRideRepository) ListOpen(ctx context.Context) ([]*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Ride
	for _, r := range m.rides {
		if r.Status == domain.RideStatusOpen {
			out = append(out, copyRide(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindOpenNear mirrors the ST_DWithin query with haversine distance.
func (m *MockRideRepository) FindOpenNear(ctx context.Context, q repository.NearQuery) ([]*domain.Ride, error) {
	atomic.AddInt32(&m.NearCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Ride
	for _, r := range m.rides {
		if r.Status != domain.RideStatusOpen || r.UserID == q.ExcludeUserID {
			continue
		}
		if r.Datetime.Before(q.From) || r.Datetime.After(q.To) {
			continue
		}
		src := r.SourceLocation
		if geo.HaversineKm(q.Center.Lat, q.Center.Lng, src.Lat, src.Lng) <= q.RadiusKm {
			out = append(out, copyRide(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func linesIntersect(a, b domain.LineString) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func orientation(p, q, r domain.Point) float64 {
	return (q.Lng-p.Lng)*(r.Lat-p.Lat) - (q.Lat-p.Lat)*(r.Lng-p.Lng)
}

func segmentsIntersect(p1, p2, q1, q2 domain.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// ──────────────────────────────────────────────
// MOCK GROUP REPOSITORY
// ──────────────────────────────────────────────

// MockGroupRepository is an in-memory GroupRepository with the same
// version compare-and-swap and ride claim rules as the SQL store.
type MockGroupRepository struct {
	mu     sync.Mutex
	groups map[string]*domain.Group
	claims map[string]string // ride ID -> group ID
	rides  *MockRideRepository

	// Counters for verification
	UpdateCallCount   int32
	FinalizeCallCount int32

	// Error injection: the next FailFinalize calls to Finalize return FinalizeError.
	FailFinalize  int32
	FinalizeError error
}

// NewMockGroupRepository creates an empty group repository. rides receives
// the Matched status on finalize.
func NewMockGroupRepository(rides *MockRideRepository) *MockGroupRepository {
	return &MockGroupRepository{
		groups: make(map[string]*domain.Group),
		claims: make(map[string]string),
		rides:  rides,
	}
}

// Snapshot returns a copy of the stored group, or nil.
func (m *MockGroupRepository) Snapshot(id string) *domain.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[id]; ok {
		return g.Clone()
	}
	return nil
}

// ClaimOf returns the group currently holding a ride.
func (m *MockGroupRepository) ClaimOf(rideID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[rideID]
}

// syncClaims must be called with mu held.
func (m *MockGroupRepository) syncClaims(g *domain.Group) error {
	if g.Status.Active() {
		for _, m2 := range g.Members {
			if holder, ok := m.claims[m2.RideID]; ok && holder != g.ID {
				return repository.ErrRideClaimed
			}
		}
	}
	for ride, holder := range m.claims {
		if holder == g.ID {
			delete(m.claims, ride)
		}
	}
	if g.Status.Active() {
		for _, member := range g.Members {
			m.claims[member.RideID] = g.ID
		}
	}
	return nil
}

func (m *MockGroupRepository) Create(ctx context.Context, g *domain.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return fmt.Errorf("group %s exists", g.ID)
	}
	if err := m.syncClaims(g); err != nil {
		return err
	}
	if g.Version == 0 {
		g.Version = 1
	}
	m.groups[g.ID] = g.Clone()
	return nil
}

func (m *MockGroupRepository) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return g.Clone(), nil
}

// write must be called with mu held.
func (m *MockGroupRepository) write(g *domain.Group) error {
	stored, ok := m.groups[g.ID]
	if !ok || stored.Version != g.Version {
		return repository.ErrVersionConflict
	}
	if err := m.syncClaims(g); err != nil {
		return err
	}
	g.Version++
	m.groups[g.ID] = g.Clone()
	return nil
}

func (m *MockGroupRepository) Update(ctx context.Context, g *domain.Group) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(g)
}

func (m *MockGroupRepository) Finalize(ctx context.Context, g *domain.Group, rideIDs []string) error {
	atomic.AddInt32(&m.FinalizeCallCount, 1)
	if atomic.AddInt32(&m.FailFinalize, -1) >= 0 {
		return m.FinalizeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(g); err != nil {
		return err
	}
	if m.rides != nil {
		return m.rides.UpdateStatus(ctx, rideIDs, domain.RideStatusMatched)
	}
	return nil
}

func (m *MockGroupRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.groups, id)
	for ride, holder := range m.claims {
		if holder == id {
			delete(m.claims, ride)
		}
	}
	return nil
}

func (m *MockGroupRepository) filter(keep func(g *domain.Group) bool) []*domain.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Group
	for _, g := range m.groups {
		if keep(g) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MockGroupRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	return m.filter(func(g *domain.Group) bool {
		_, member := g.Members[userID]
		return g.AdminID == userID || member
	}), nil
}

func (m *MockGroupRepository) ListInvitesForUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	return m.filter(func(g *domain.Group) bool {
		_, invited := g.Invites[userID]
		return invited && g.Status == domain.GroupStatusOpen
	}), nil
}

func (m *MockGroupRepository) ListByStatus(ctx context.Context, status domain.GroupStatus) ([]*domain.Group, error) {
	return m.filter(func(g *domain.Group) bool { return g.Status == status }), nil
}

func (m *MockGroupRepository) FindActiveByRide(ctx context.Context, rideID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.claims[rideID]; ok {
		return []string{holder}, nil
	}
	return nil, nil
}

func (m *MockGroupRepository) FindClosedByRide(ctx context.Context, rideID string) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.Status != domain.GroupStatusClosed {
			continue
		}
		for _, member := range g.Members {
			if member.RideID == rideID {
				return g.Clone(), nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

// ──────────────────────────────────────────────
// MOCK USER REPOSITORY
// ──────────────────────────────────────────────

// MockUserRepository is an in-memory UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMockUserRepository creates an empty user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*domain.User)}
}

func (m *MockUserRepository) Upsert(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MockUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			c := *u
			out[id] = &c
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is an in-memory geo index using haversine distance.
type MockLocationStore struct {
	mu    sync.RWMutex
	rides map[string]redis.RideLocation

	// Error injection
	AddError  error
	FindError error
}

// NewMockLocationStore creates an empty location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{rides: make(map[string]redis.RideLocation)}
}

// Has reports whether a ride is indexed.
func (m *MockLocationStore) Has(rideID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rides[rideID]
	return ok
}

func (m *MockLocationStore) AddRide(ctx context.Context, rideID string, lat, lng float64) error {
	if m.AddError != nil {
		return m.AddError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[rideID] = redis.RideLocation{RideID: rideID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockLocationStore) FindNearbyRides(ctx context.Context, lat, lng, radiusKm float64) ([]redis.RideLocation, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []redis.RideLocation
	for _, loc := range m.rides {
		if geo.HaversineKm(lat, lng, loc.Lat, loc.Lng) <= radiusKm {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RideID < out[j].RideID })
	return out, nil
}

func (m *MockLocationStore) ReplaceRides(ctx context.Context, locs []redis.RideLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides = make(map[string]redis.RideLocation, len(locs))
	for _, loc := range locs {
		m.rides[loc.RideID] = loc
	}
	return nil
}

func (m *MockLocationStore) RemoveRides(ctx context.Context, rideIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range rideIDs {
		delete(m.rides, id)
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-memory token lease store.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	AcquireCallCount int32
}

// NewMockLockStore creates an empty lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]string)}
}

// Held reports whether a group lease is currently held.
func (m *MockLockStore) Held(groupID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[groupID]
	return ok
}

func (m *MockLockStore) AcquireGroupLock(ctx context.Context, groupID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[groupID]; held {
		return "", false, nil
	}
	token := uuid.New().String()
	m.locks[groupID] = token
	return token, true, nil
}

func (m *MockLockStore) ReleaseGroupLock(ctx context.Context, groupID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[groupID] == token {
		delete(m.locks, groupID)
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK RIDE CACHE
// ──────────────────────────────────────────────

// MockRideCache is an in-memory RideCacheInterface.
type MockRideCache struct {
	mu    sync.Mutex
	rides map[string]*domain.Ride

	InvalidateCallCount int32
}

// NewMockRideCache creates an empty ride cache.
func NewMockRideCache() *MockRideCache {
	return &MockRideCache{rides: make(map[string]*domain.Ride)}
}

// Has reports whether a ride is cached.
func (m *MockRideCache) Has(rideID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rides[rideID]
	return ok
}

func (m *MockRideCache) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rides[rideID]; ok {
		return copyRide(r), nil
	}
	return nil, nil
}

func (m *MockRideCache) SetRide(ctx context.Context, ride *domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = copyRide(ride)
	return nil
}

func (m *MockRideCache) InvalidateRides(ctx context.Context, rideIDs ...string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range rideIDs {
		delete(m.rides, id)
	}
	return nil
}

func (m *MockRideCache) GetRidesBatch(ctx context.Context, rideIDs []string) (map[string]*domain.Ride, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string]*domain.Ride)
	var missing []string
	for _, id := range rideIDs {
		if r, ok := m.rides[id]; ok {
			found[id] = copyRide(r)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (m *MockRideCache) SetRidesBatch(ctx context.Context, rides []*domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rides {
		m.rides[r.ID] = copyRide(r)
	}
	return nil
}

// ──────────────────────────────────────────────
// RECORDING PUBLISHER
// ──────────────────────────────────────────────

// PublishedEvent is one event seen by RecordingPublisher.
type PublishedEvent struct {
	Room    string // "user:<id>" or "group:<id>"
	Event   string
	Payload any
}

// RecordingPublisher records every published event in order.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func (p *RecordingPublisher) record(room, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Room: room, Event: event, Payload: payload})
}

func (p *RecordingPublisher) PublishToUser(ctx context.Context, userID, event string, payload any) error {
	p.record("user:"+userID, event, payload)
	return nil
}

func (p *RecordingPublisher) PublishToGroup(ctx context.Context, groupID, event string, payload any) error {
	p.record("group:"+groupID, event, payload)
	return nil
}

// Events returns a copy of everything published so far.
func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

// Names returns the event names published to room, in order.
func (p *RecordingPublisher) Names(room string) []string {
	var names []string
	for _, e := range p.Events() {
		if e.Room == room {
			names = append(names, e.Event)
		}
	}
	return names
}

// Count returns how many times event was published to any room.
func (p *RecordingPublisher) Count(event string) int {
	n := 0
	for _, e := range p.Events() {
		if e.Event == event {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// FAKE ROUTING ORACLE
// ──────────────────────────────────────────────

// FakeOracle answers directions with a straight GeoJSON line through the
// requested coordinates.
type FakeOracle struct {
	mu    sync.Mutex
	calls int

	// Err makes every call fail.
	Err error
	// OnCall runs before answering, with the 1-based call number.
	OnCall func(call int)
}

// Calls returns how many directions requests were made.
func (o *FakeOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// SetOnCall installs a hook run before later calls are answered.
func (o *FakeOracle) SetOnCall(hook func(call int)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OnCall = hook
}

// SetErr changes the failure returned by later calls.
func (o *FakeOracle) SetErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Err = err
}

func (o *FakeOracle) Directions(ctx context.Context, coords []domain.Point) (json.RawMessage, error) {
	o.mu.Lock()
	o.calls++
	call, err, hook := o.calls, o.Err, o.OnCall
	o.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}

	line := make([][2]float64, len(coords))
	for i, c := range coords {
		line[i] = [2]float64{c.Lng, c.Lat}
	}
	return json.Marshal(map[string]any{
		"code": "Ok",
		"routes": []any{map[string]any{
			"distance": 1000,
			"duration": 120,
			"geometry": map[string]any{"type": "LineString", "coordinates": line},
		}},
	})
}

// errOracleDown is the failure used by tests that take the provider offline.
var errOracleDown = fmt.Errorf("%w: directions provider unavailable", domain.ErrExternalService)
