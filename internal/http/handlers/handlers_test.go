package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"keisha/internal/analysis"
	"keisha/internal/domain"
	"keisha/internal/enforce"
	"keisha/internal/middleware"
	"keisha/internal/session"
)

const testSecret = "handler-test-secret"

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

type noopSyncer struct{}

func (noopSyncer) Sync(_ context.Context, _ string, local int) (domain.SyncState, error) {
	return domain.SyncState{UsedToday: local, CanAnalyze: true}, nil
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result *analysis.Result
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ analysis.Request) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &analysis.Result{Summary: "spin detected", BiasScore: 0.5, Credibility: "medium"}, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func (m *memEvents) Record(_ context.Context, e domain.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memEvents) byType(typ domain.UsageEventType) []domain.UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UsageEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	app      *App
	users    *memUserRepo
	analyzer *fakeAnalyzer
	events   *memEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := newMemUserRepo()
	sessions := session.New(users, newMemUsageStore(), newMemUsageStore(), zerolog.Nop())
	paywall := enforce.NewPaywall()
	analyzer := &fakeAnalyzer{}
	events := &memEvents{}
	app := &App{
		Logger:    zerolog.Nop(),
		Sessions:  sessions,
		Enforcer:  enforce.NewEnforcer(noopSyncer{}, paywall, zerolog.Nop()),
		Analyzer:  analyzer,
		Events:    events,
		JWTSecret: testSecret,
	}
	return &testEnv{app: app, users: users, analyzer: analyzer, events: events}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// authedRequest builds a request whose context carries the identity, the
// way the auth middleware would populate it.
func authedRequest(t *testing.T, method, target string, body any, ident domain.Identity) *http.Request {
	t.Helper()
	req := jsonRequest(t, method, target, body)
	return req.WithContext(middleware.ContextWithIdentity(req.Context(), ident))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
