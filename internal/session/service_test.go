package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"keisha/internal/domain"
	"keisha/internal/storage"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
	nextID  int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (r *memUserRepo) Create(_ context.Context, email, passwordHash string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return nil, domain.ErrEmailTaken
	}
	r.nextID++
	u := &domain.User{
		ID:           fmt.Sprintf("user-%d", r.nextID),
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         domain.TierFree,
		CreatedAt:    time.Now(),
	}
	r.byID[u.ID] = u
	r.byEmail[email] = u
	return u, nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memUserRepo) UpdateTier(_ context.Context, id string, tier domain.Tier) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.Tier = tier
	cp := *u
	return &cp, nil
}

type memUsageStore struct {
	mu   sync.Mutex
	recs map[string]domain.UsageRecord
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{recs: map[string]domain.UsageRecord{}}
}

func (s *memUsageStore) Load(_ context.Context, ident domain.Identity, today string) (domain.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[ident.ID]; ok {
		return rec, nil
	}
	return domain.NewUsageRecord(ident, today), nil
}

func (s *memUsageStore) Save(_ context.Context, ident domain.Identity, rec domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[ident.ID] = rec
	return nil
}

func (s *memUsageStore) Clear(_ context.Context, ident domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, ident.ID)
	return nil
}

func newTestService(t *testing.T, users domain.UserRepository, userStore domain.UsageStore) (*Service, *storage.GuestStore) {
	t.Helper()
	guests, err := storage.NewGuestStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuestStore() error: %v", err)
	}
	return New(users, guests, userStore, zerolog.Nop()), guests
}

func TestGuestUsagePersistsAcrossRestore(t *testing.T) {
	users := newMemUserRepo()
	userStore := newMemUsageStore()
	svc, guests := newTestService(t, users, userStore)
	ctx := context.Background()

	scope, err := svc.EnterGuest(ctx)
	if err != nil {
		t.Fatalf("EnterGuest() error: %v", err)
	}
	ident, _ := scope.Identity()
	if !ident.Guest() || ident.ID == "" {
		t.Fatalf("EnterGuest() identity = %+v", ident)
	}

	// One successful analysis worth of accounting.
	rec := scope.Record()
	rec.UsedToday++
	if err := scope.SetRecord(ctx, rec); err != nil {
		t.Fatalf("SetRecord() error: %v", err)
	}

	// A reload reinitializes everything from persistence alone.
	svc2 := New(users, guests, userStore, zerolog.Nop())
	restored, err := svc2.Restore(ctx, ident.ID, true)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if got := restored.Record(); got.UsedToday != 1 || got.Tier != domain.TierGuest {
		t.Fatalf("restored record = %+v, want 1 use on guest tier", got)
	}
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	users := newMemUserRepo()
	svc, _ := newTestService(t, users, newMemUsageStore())
	ctx := context.Background()

	scope, err := svc.Register(ctx, "Reader@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	ident, _ := scope.Identity()
	if ident.Email != "reader@example.com" || ident.Guest() {
		t.Fatalf("Register() identity = %+v", ident)
	}
	if scope.Record().Tier != domain.TierFree {
		t.Fatalf("new account tier = %q, want free", scope.Record().Tier)
	}

	if _, err := svc.Login(ctx, "reader@example.com", "correct horse"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if _, err := svc.Login(ctx, "reader@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Login(bad password) error = %v, want invalid credentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "whatever"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Login(unknown email) error = %v, want invalid credentials", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t, newMemUserRepo(), newMemUsageStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "not-an-email", "long enough pw"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Register(bad email) error = %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.com", "short"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Register(short password) error = %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.com", "long enough pw"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.com", "long enough pw"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("duplicate Register() error = %v, want email taken", err)
	}
}

func TestLogoutClearsRecord(t *testing.T) {
	users := newMemUserRepo()
	userStore := newMemUsageStore()
	svc, _ := newTestService(t, users, userStore)
	ctx := context.Background()

	scope, err := svc.Register(ctx, "a@b.com", "long enough pw")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	ident, _ := scope.Identity()
	rec := scope.Record()
	rec.UsedToday = 2
	if err := scope.SetRecord(ctx, rec); err != nil {
		t.Fatalf("SetRecord() error: %v", err)
	}

	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, ok := svc.Current(); ok {
		t.Fatalf("Current() still set after logout")
	}
	if _, ok := userStore.recs[ident.ID]; ok {
		t.Fatalf("stored record not cleared on logout")
	}
}

func TestUpgradeTier(t *testing.T) {
	users := newMemUserRepo()
	svc, _ := newTestService(t, users, newMemUsageStore())
	ctx := context.Background()

	scope, err := svc.Register(ctx, "a@b.com", "long enough pw")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := svc.UpgradeTier(ctx, scope, domain.Tier("platinum")); !errors.Is(err, domain.ErrUnsupportedTier) {
		t.Fatalf("UpgradeTier(unknown) error = %v", err)
	}
	if err := svc.UpgradeTier(ctx, scope, domain.TierMonthly); err != nil {
		t.Fatalf("UpgradeTier() error: %v", err)
	}
	if scope.Record().Tier != domain.TierMonthly {
		t.Fatalf("record tier = %q after upgrade", scope.Record().Tier)
	}
	ident, _ := scope.Identity()
	if u, _ := users.GetByID(ctx, ident.ID); u.Tier != domain.TierMonthly {
		t.Fatalf("account tier = %q after upgrade", u.Tier)
	}

	guest, err := svc.EnterGuest(ctx)
	if err != nil {
		t.Fatalf("EnterGuest() error: %v", err)
	}
	if err := svc.UpgradeTier(ctx, guest, domain.TierMonthly); !errors.Is(err, domain.ErrAccountRequired) {
		t.Fatalf("guest UpgradeTier() error = %v, want account required", err)
	}
}

func TestScopeForAppliesLazyReset(t *testing.T) {
	users := newMemUserRepo()
	userStore := newMemUsageStore()
	svc, _ := newTestService(t, users, userStore)
	ctx := context.Background()

	user, err := users.Create(ctx, "a@b.com", "hash")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	yesterday := domain.Today(time.Now().AddDate(0, 0, -1))
	userStore.recs[user.ID] = domain.UsageRecord{IdentityID: user.ID, Tier: domain.TierFree, UsedToday: 3, LastReset: yesterday}

	scope, err := svc.ScopeFor(ctx, user.Identity())
	if err != nil {
		t.Fatalf("ScopeFor() error: %v", err)
	}
	rec := scope.Record()
	if rec.UsedToday != 0 || rec.LastReset != domain.Today(time.Now()) {
		t.Fatalf("ScopeFor() did not apply the daily reset: %+v", rec)
	}
	if stored := userStore.recs[user.ID]; stored.UsedToday != 0 {
		t.Fatalf("reset not persisted: %+v", stored)
	}
}

func TestOnChangeNotifications(t *testing.T) {
	svc, _ := newTestService(t, newMemUserRepo(), newMemUsageStore())
	ctx := context.Background()

	var events []bool
	svc.OnChange(func(_ domain.Identity, authenticated bool) {
		events = append(events, authenticated)
	})

	if _, err := svc.EnterGuest(ctx); err != nil {
		t.Fatalf("EnterGuest() error: %v", err)
	}
	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	want := []bool{true, false}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("OnChange events = %v, want %v", events, want)
	}
}
