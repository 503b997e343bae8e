// Package session owns identity lifecycle (login, register, guest entry,
// restore, logout) and the per-identity usage record slot. It is constructed
// explicitly and injected; nothing here is a package singleton.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"keisha/internal/domain"
	"keisha/internal/entitlement"
)

const minPasswordLen = 8

// Service mediates between identities and their usage records. Guest records
// live in the local store only; registered records go through the backend
// store.
type Service struct {
	users      domain.UserRepository
	guestStore domain.UsageStore
	userStore  domain.UsageStore
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	current  *Scope
	onChange []func(domain.Identity, bool)
}

// New builds a Service. users may be nil in guest-only deployments.
func New(users domain.UserRepository, guestStore, userStore domain.UsageStore, logger zerolog.Logger) *Service {
	return &Service{
		users:      users,
		guestStore: guestStore,
		userStore:  userStore,
		logger:     logger,
		now:        time.Now,
	}
}

// Scope binds one identity to its loaded usage record. It satisfies the
// enforcement layer's session contract; SetRecord persists through the store
// before the in-memory copy changes.
type Scope struct {
	svc   *Service
	ident domain.Identity

	mu  sync.Mutex
	rec domain.UsageRecord
}

// Identity returns the bound identity.
func (sc *Scope) Identity() (domain.Identity, bool) {
	if sc == nil || sc.ident.ID == "" {
		return domain.Identity{}, false
	}
	return sc.ident, true
}

// Record returns the current usage record snapshot.
func (sc *Scope) Record() domain.UsageRecord {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.rec
}

// SetRecord persists rec and then adopts it. The write is awaited: a failed
// persist leaves the previous record in place.
func (sc *Scope) SetRecord(ctx context.Context, rec domain.UsageRecord) error {
	store := sc.svc.storeFor(sc.ident)
	if err := store.Save(ctx, sc.ident, rec); err != nil {
		return fmt.Errorf("save usage record: %w", err)
	}
	sc.mu.Lock()
	sc.rec = rec
	sc.mu.Unlock()
	return nil
}

func (s *Service) storeFor(ident domain.Identity) domain.UsageStore {
	if ident.Guest() {
		return s.guestStore
	}
	return s.userStore
}

// ScopeFor loads the identity's usage record (defaulting a fresh one when
// none is stored) and applies any pending daily reset before handing the
// scope out. Reset is lazy: it runs here and in the orchestrator, never on a
// timer.
func (s *Service) ScopeFor(ctx context.Context, ident domain.Identity) (*Scope, error) {
	today := domain.Today(s.now())
	store := s.storeFor(ident)
	rec, err := store.Load(ctx, ident, today)
	if err != nil {
		return nil, fmt.Errorf("load usage record: %w", err)
	}
	if !entitlement.Valid(rec) {
		s.logger.Warn().Str("identity_id", ident.ID).Msg("stored usage record invalid, reinitializing")
		rec = domain.NewUsageRecord(ident, today)
		if err := store.Save(ctx, ident, rec); err != nil {
			return nil, fmt.Errorf("save reinitialized record: %w", err)
		}
	}
	if entitlement.NeedsReset(rec, today) {
		rec = entitlement.ApplyReset(rec, today)
		if err := store.Save(ctx, ident, rec); err != nil {
			return nil, fmt.Errorf("save daily reset: %w", err)
		}
	}
	return &Scope{svc: s, ident: ident, rec: rec}, nil
}

// Login verifies credentials and activates the account's scope.
func (s *Service) Login(ctx context.Context, email, password string) (*Scope, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	scope, err := s.ScopeFor(ctx, user.Identity())
	if err != nil {
		return nil, err
	}
	s.activate(scope)
	s.logger.Info().Str("identity_id", user.ID).Msg("login")
	return scope, nil
}

// Register creates an account and activates it.
func (s *Service) Register(ctx context.Context, email, password string) (*Scope, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", domain.ErrInvalidCredentials)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidCredentials, minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, email, string(hash))
	if err != nil {
		return nil, err
	}
	scope, err := s.ScopeFor(ctx, user.Identity())
	if err != nil {
		return nil, err
	}
	s.activate(scope)
	s.logger.Info().Str("identity_id", user.ID).Msg("registered")
	return scope, nil
}

// EnterGuest mints an anonymous identity tracked through the local store
// only. The initial record is persisted so a reload finds it again.
func (s *Service) EnterGuest(ctx context.Context) (*Scope, error) {
	ident := domain.Identity{ID: uuid.NewString(), Kind: domain.IdentityGuest, CreatedAt: s.now()}
	scope, err := s.ScopeFor(ctx, ident)
	if err != nil {
		return nil, err
	}
	if err := scope.SetRecord(ctx, scope.Record()); err != nil {
		return nil, err
	}
	s.activate(scope)
	s.logger.Info().Str("identity_id", ident.ID).Msg("guest session started")
	return scope, nil
}

// Restore rehydrates a previously issued identity, e.g. from token claims on
// app load. Guest ids are taken at face value; registered ids must still
// exist.
func (s *Service) Restore(ctx context.Context, identityID string, guest bool) (*Scope, error) {
	if strings.TrimSpace(identityID) == "" {
		return nil, domain.ErrUnauthenticated
	}
	var ident domain.Identity
	if guest {
		ident = domain.Identity{ID: identityID, Kind: domain.IdentityGuest}
	} else {
		user, err := s.users.GetByID(ctx, identityID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.ErrUnauthenticated
			}
			return nil, fmt.Errorf("lookup account: %w", err)
		}
		ident = user.Identity()
	}
	return s.ScopeFor(ctx, ident)
}

// RestoreCurrent is Restore plus activation, for single-client embeddings.
func (s *Service) RestoreCurrent(ctx context.Context, identityID string, guest bool) (*Scope, error) {
	scope, err := s.Restore(ctx, identityID, guest)
	if err != nil {
		return nil, err
	}
	s.activate(scope)
	return scope, nil
}

// Logout clears the active identity's stored record and deactivates it. The
// next identity starts from a fresh record.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	scope := s.current
	s.current = nil
	s.mu.Unlock()
	if scope == nil {
		return nil
	}
	if err := s.storeFor(scope.ident).Clear(ctx, scope.ident); err != nil {
		s.logger.Error().Err(err).Str("identity_id", scope.ident.ID).Msg("clear usage record on logout failed")
	}
	s.logger.Info().Str("identity_id", scope.ident.ID).Msg("logout")
	s.notify(domain.Identity{}, false)
	return nil
}

// Forget clears an identity's stored record without touching the active
// scope. Multi-client embeddings use this for per-request logout.
func (s *Service) Forget(ctx context.Context, ident domain.Identity) error {
	if err := s.storeFor(ident).Clear(ctx, ident); err != nil {
		return fmt.Errorf("clear usage record: %w", err)
	}
	s.logger.Info().Str("identity_id", ident.ID).Msg("identity forgotten")
	return nil
}

// UpgradeTier applies an explicit tier change. Guests must register first;
// their records never reach the backend.
func (s *Service) UpgradeTier(ctx context.Context, scope *Scope, tier domain.Tier) error {
	if scope == nil || scope.ident.ID == "" {
		return domain.ErrUnauthenticated
	}
	if !tier.Known() {
		return domain.ErrUnsupportedTier
	}
	if scope.ident.Guest() {
		return domain.ErrAccountRequired
	}
	if _, err := s.users.UpdateTier(ctx, scope.ident.ID, tier); err != nil {
		return fmt.Errorf("update account tier: %w", err)
	}
	rec := scope.Record()
	rec.Tier = tier
	if err := scope.SetRecord(ctx, rec); err != nil {
		return err
	}
	s.logger.Info().Str("identity_id", scope.ident.ID).Str("tier", string(tier)).Msg("tier upgraded")
	return nil
}

// Current returns the active scope, if any.
func (s *Service) Current() (*Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// OnChange registers a callback fired on identity activation and logout.
func (s *Service) OnChange(fn func(ident domain.Identity, authenticated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Service) activate(scope *Scope) {
	s.mu.Lock()
	s.current = scope
	s.mu.Unlock()
	s.notify(scope.ident, true)
}

func (s *Service) notify(ident domain.Identity, authenticated bool) {
	s.mu.Lock()
	callbacks := make([]func(domain.Identity, bool), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(ident, authenticated)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
