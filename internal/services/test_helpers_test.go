package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
)

// testLogger discards output so test runs stay quiet
func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeClock is a settable clock shared by the services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// staticUsers serves a fixed set of users
func staticUsers(users ...*models.User) *MockUserRepository {
	return &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			for _, u := range users {
				if u.ID == id {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			for _, u := range users {
				if u.Email == email {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
	}
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	mu      sync.Mutex
	entries []*models.AuditLog

	CreateFunc func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log)
	return log, nil
}

func (m *MockAuditLogRepository) GetByTargetID(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.AuditLog
	for i := len(m.entries) - 1; i >= 0; i-- {
		if e := m.entries[i]; e.TargetID != nil && *e.TargetID == targetID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return []*models.AuditLog{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockAuditLogRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		types = append(types, e.EventType)
	}
	return types
}

// memCodeRepo is an in-memory SecretCodeRepository
type memCodeRepo struct {
	mu    sync.Mutex
	codes []*models.SecretCode

	UpdateErr error
}

func (r *memCodeRepo) GetCurrent(ctx context.Context, subjectKey string) (*models.SecretCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.codes) - 1; i >= 0; i-- {
		if c := r.codes[i]; c.SubjectKey == subjectKey && c.SupersededAt == nil {
			clone := *c
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memCodeRepo) Create(ctx context.Context, code *models.SecretCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes {
		if c.SubjectKey == code.SubjectKey && c.SupersededAt == nil {
			at := code.IssuedAt
			c.SupersededAt = &at
		}
	}
	clone := *code
	r.codes = append(r.codes, &clone)
	return nil
}

func (r *memCodeRepo) Update(ctx context.Context, code *models.SecretCode) error {
	if r.UpdateErr != nil {
		return r.UpdateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.codes {
		if c.ID == code.ID {
			clone := *code
			r.codes[i] = &clone
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *memCodeRepo) Get(id string) *models.SecretCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes {
		if c.ID == id {
			clone := *c
			return &clone
		}
	}
	return nil
}

// memLockRepo is an in-memory AccountLockRepository
type memLockRepo struct {
	mu    sync.Mutex
	locks []*models.AccountLockRecord
}

func (r *memLockRepo) GetActive(ctx context.Context, userID string) (*models.AccountLockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.locks {
		if l.UserID == userID && l.IsActive {
			clone := *l
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memLockRepo) Create(ctx context.Context, lock *models.AccountLockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.locks {
		if l.UserID == lock.UserID && l.IsActive {
			return models.ErrConflict
		}
	}
	clone := *lock
	r.locks = append(r.locks, &clone)
	return nil
}

func (r *memLockRepo) Update(ctx context.Context, lock *models.AccountLockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.locks {
		if l.ID == lock.ID {
			clone := *lock
			r.locks[i] = &clone
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *memLockRepo) All(userID string) []*models.AccountLockRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AccountLockRecord
	for _, l := range r.locks {
		if l.UserID == userID {
			clone := *l
			out = append(out, &clone)
		}
	}
	return out
}

// memStateRepo is an in-memory SecurityStateRepository
type memStateRepo struct {
	mu     sync.Mutex
	states map[string]models.AccountSecurityState
}

func newMemStateRepo() *memStateRepo {
	return &memStateRepo{states: make(map[string]models.AccountSecurityState)}
}

func (r *memStateRepo) Get(ctx context.Context, userID string) (*models.AccountSecurityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	state.TrustedDeviceClasses = append([]models.DeviceClass(nil), state.TrustedDeviceClasses...)
	return &state, nil
}

func (r *memStateRepo) Save(ctx context.Context, state *models.AccountSecurityState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *state
	clone.TrustedDeviceClasses = append([]models.DeviceClass(nil), state.TrustedDeviceClasses...)
	r.states[state.UserID] = clone
	return nil
}

func (r *memStateRepo) Snapshot(userID string) models.AccountSecurityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[userID]
}

// memEventRepo is an in-memory SecurityEventRepository
type memEventRepo struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (r *memEventRepo) Append(ctx context.Context, event *models.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

func (r *memEventRepo) Recent(ctx context.Context, userID string, limit int, types ...models.SecurityEventType) ([]*models.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.SecurityEvent
	for _, e := range r.events {
		if e.UserID != userID {
			continue
		}
		if len(types) > 0 && !containsEventType(types, e.EventType) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memEventRepo) Types(userID string) []models.SecurityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.SecurityEventType
	for _, e := range r.events {
		if e.UserID == userID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func containsEventType(types []models.SecurityEventType, t models.SecurityEventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// memBucketStore is a mutex-guarded BucketStore
type memBucketStore struct {
	mu      sync.Mutex
	buckets map[string]models.RateLimitBucket

	Err error
}

func newMemBucketStore() *memBucketStore {
	return &memBucketStore{buckets: make(map[string]models.RateLimitBucket)}
}

func (s *memBucketStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(bucket *models.RateLimitBucket) error) error {
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.buckets[key]
	if err := fn(&bucket); err != nil {
		return err
	}
	s.buckets[key] = bucket
	return nil
}

// sentNotification is one captured Notify call
type sentNotification struct {
	Kind      NotificationType
	Recipient string
	Payload   NotificationPayload
}

// MockNotifier captures notifications on a buffered channel
type MockNotifier struct {
	sent chan sentNotification

	NotifyFunc func(ctx context.Context, kind NotificationType, recipient string, payload NotificationPayload) error
}

func newMockNotifier() *MockNotifier {
	return &MockNotifier{sent: make(chan sentNotification, 64)}
}

func (m *MockNotifier) Notify(ctx context.Context, kind NotificationType, recipient string, payload NotificationPayload) error {
	m.sent <- sentNotification{Kind: kind, Recipient: recipient, Payload: payload}
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, kind, recipient, payload)
	}
	return nil
}

// Next waits for the next notification of kind, skipping others
func (m *MockNotifier) Next(kind NotificationType, timeout time.Duration) (sentNotification, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case n := <-m.sent:
			if n.Kind == kind {
				return n, true
			}
		case <-deadline:
			return sentNotification{}, false
		}
	}
}

// MockGeoLocator implements GeoLocator for testing
type MockGeoLocator struct {
	LookupFunc func(ctx context.Context, ipAddress string) (*models.GeoLocation, error)
}

func (m *MockGeoLocator) Lookup(ctx context.Context, ipAddress string) (*models.GeoLocation, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, ipAddress)
	}
	return nil, nil
}

// NewTestUser creates a user fixture
func NewTestUser(id, email, name string) *models.User {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.User{
		ID:        id,
		Email:     email,
		Name:      name,
		Role:      "user",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// protectionFixture wires the full service graph over in-memory stores
type protectionFixture struct {
	clock    *fakeClock
	codeRepo *memCodeRepo
	lockRepo *memLockRepo
	states   *memStateRepo
	events   *memEventRepo
	audit    *MockAuditLogRepository
	notifier *MockNotifier
	geo      *MockGeoLocator
	codes    *SecretCodeService
	lockSM   *AccountLockService
	limiter  *RateLimitService
	svc      *AccountProtectionService
}

func newProtectionFixture(users ...*models.User) *protectionFixture {
	f := &protectionFixture{
		clock:    newFakeClock(),
		codeRepo: &memCodeRepo{},
		lockRepo: &memLockRepo{},
		states:   newMemStateRepo(),
		events:   &memEventRepo{},
		audit:    &MockAuditLogRepository{},
		notifier: newMockNotifier(),
		geo:      &MockGeoLocator{},
	}

	logger := testLogger()
	audit := NewAuditService(f.audit, logger)

	f.codes = NewSecretCodeService(f.codeRepo, f.notifier, audit, nil, logger, SecretCodeConfig{
		HashCost: 4,
		Clock:    f.clock.Now,
	})
	f.lockSM = NewAccountLockService(f.lockRepo, f.states, f.events, f.codes, f.notifier, audit, nil, logger, AccountLockConfig{
		Clock: f.clock.Now,
	})
	f.limiter = NewRateLimitService(newMemBucketStore(), RateLimitConfig{Clock: f.clock.Now}, nil, logger)
	f.svc = NewAccountProtectionService(
		staticUsers(users...), f.states, f.events, f.codes,
		NewRiskScorer(f.geo, time.Second, logger), f.limiter, f.lockSM,
		audit, nil, logger, ProtectionConfig{Clock: f.clock.Now},
	)
	return f
}
