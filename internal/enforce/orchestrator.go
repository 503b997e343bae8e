// Package enforce wraps protected actions with entitlement checks: evaluate
// before, execute, account after. The evaluator stays pure; this package owns
// ordering, persistence, and the paywall signal.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keisha/internal/domain"
	"keisha/internal/entitlement"
	"keisha/internal/metrics"
)

// Action is a protected operation, typically a network call to the analysis
// backend. A quota rejection from the backend must wrap
// domain.ErrLimitExceeded so it can be told apart from generic failure.
type Action func(ctx context.Context) error

// Status classifies the outcome of one enforcement pass.
type Status string

const (
	StatusOK              Status = "ok"
	StatusUnauthenticated Status = "unauthenticated"
	StatusCorruptState    Status = "corrupt_state"
	StatusLimitExceeded   Status = "limit_exceeded"
	StatusActionFailed    Status = "action_failed"
)

// Result is the typed outcome handed back to callers. Entitlement errors
// never propagate as bare errors; only ActionFailed carries the underlying
// cause for the caller to surface.
type Result struct {
	Status        Status
	Err           error
	UsedToday     int
	Remaining     entitlement.Remaining
	ReachedLimit  bool
	PromptUpgrade bool
	Paywall       bool
}

// Session is the slice of the session layer the enforcer needs: the current
// identity and a read/write slot for its usage record. SetRecord must persist
// before returning; the enforcer never fires-and-forgets a write that a
// subsequent read depends on.
type Session interface {
	Identity() (domain.Identity, bool)
	Record() domain.UsageRecord
	SetRecord(ctx context.Context, rec domain.UsageRecord) error
}

// Enforcer serializes check-then-increment per identity so two overlapping
// invocations cannot both consume the last unit of quota.
type Enforcer struct {
	syncer  domain.UsageSyncer
	paywall *Paywall
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	mu       sync.Mutex
	inFlight bool
}

// NewEnforcer builds an Enforcer. syncer may be nil when no backend
// reconciliation is available.
func NewEnforcer(syncer domain.UsageSyncer, paywall *Paywall, logger zerolog.Logger) *Enforcer {
	return &Enforcer{
		syncer:  syncer,
		paywall: paywall,
		logger:  logger,
		now:     time.Now,
		gates:   make(map[string]*gate),
	}
}

// Paywall exposes the signal for the presentation layer.
func (e *Enforcer) Paywall() *Paywall {
	return e.paywall
}

// InProgress reports whether an action is currently running for the identity.
// Meant for disabling repeat submissions, not for cancellation.
func (e *Enforcer) InProgress(identityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gates[identityID]; ok {
		return g.inFlight
	}
	return false
}

func (e *Enforcer) gateFor(identityID string) *gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gates[identityID]
	if !ok {
		g = &gate{}
		e.gates[identityID] = g
	}
	return g
}

func (e *Enforcer) setInFlight(g *gate, v bool) {
	e.mu.Lock()
	g.inFlight = v
	e.mu.Unlock()
}

// Execute runs action under the full enforcement sequence: validate, lazy
// daily reset, best-effort backend sync (registered identities only), quota
// gate, action, increment-on-success. The per-invocation state machine is
// Idle -> Checking -> {Blocked | Running -> {Succeeded | Failed}} -> Idle;
// nothing persists across invocations except the usage record itself.
func (e *Enforcer) Execute(ctx context.Context, sess Session, action Action) Result {
	if sess == nil {
		return Result{Status: StatusUnauthenticated, Err: domain.ErrUnauthenticated}
	}
	ident, ok := sess.Identity()
	if !ok {
		return Result{Status: StatusUnauthenticated, Err: domain.ErrUnauthenticated}
	}

	g := e.gateFor(ident.ID)
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := sess.Record()
	today := domain.Today(e.now())

	if !entitlement.Valid(rec) {
		// Fail closed: deny this call, reinitialize so the next one starts
		// from a clean zero-count record.
		e.logger.Error().Str("identity_id", ident.ID).Str("tier", string(rec.Tier)).
			Int("used_today", rec.UsedToday).Msg("corrupt usage record, reinitializing")
		fresh := domain.NewUsageRecord(ident, today)
		if err := sess.SetRecord(ctx, fresh); err != nil {
			e.logger.Error().Err(err).Str("identity_id", ident.ID).Msg("persist reinitialized record failed")
		}
		metrics.AnalysesTotal.WithLabelValues(string(StatusCorruptState), string(rec.Tier)).Inc()
		return Result{Status: StatusCorruptState, Err: domain.ErrCorruptState}
	}

	if entitlement.NeedsReset(rec, today) {
		rec = entitlement.ApplyReset(rec, today)
		if err := sess.SetRecord(ctx, rec); err != nil {
			return e.actionFailed(ident, rec, fmt.Errorf("persist daily reset: %w", err))
		}
	}

	if !ident.Guest() && e.syncer != nil {
		if state, err := e.syncer.Sync(ctx, ident.ID, rec.UsedToday); err != nil {
			// Optimistic local enforcement: the local record is the fallback.
			e.logger.Warn().Err(err).Str("identity_id", ident.ID).Msg("usage sync unavailable, using local record")
		} else {
			rec = e.merge(rec, state)
			if err := sess.SetRecord(ctx, rec); err != nil {
				e.logger.Error().Err(err).Str("identity_id", ident.ID).Msg("persist synced record failed")
			}
		}
	}

	if !entitlement.CanAnalyze(rec) {
		e.paywall.Show(ident.ID, ReasonLocalLimit)
		metrics.LimitExceededTotal.WithLabelValues("local").Inc()
		metrics.AnalysesTotal.WithLabelValues(string(StatusLimitExceeded), string(rec.Tier)).Inc()
		return e.result(ident, StatusLimitExceeded, domain.ErrLimitExceeded, rec)
	}

	e.setInFlight(g, true)
	defer e.setInFlight(g, false)

	if err := action(ctx); err != nil {
		if errors.Is(err, domain.ErrLimitExceeded) {
			// The backend is authoritative for its own rejection: no local
			// increment, paywall instead of a generic error.
			e.paywall.Show(ident.ID, ReasonBackendLimit)
			metrics.LimitExceededTotal.WithLabelValues("backend").Inc()
			metrics.AnalysesTotal.WithLabelValues(string(StatusLimitExceeded), string(rec.Tier)).Inc()
			return e.result(ident, StatusLimitExceeded, err, rec)
		}
		return e.actionFailed(ident, rec, err)
	}

	// Re-read before the increment: the awaited action may have taken long
	// enough for a reset or a sync on another path to land.
	rec = sess.Record()
	rec = entitlement.ApplyReset(rec, domain.Today(e.now()))
	rec.UsedToday++
	if err := sess.SetRecord(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("identity_id", ident.ID).Msg("persist usage increment failed")
	}

	metrics.AnalysesTotal.WithLabelValues(string(StatusOK), string(rec.Tier)).Inc()
	return e.result(ident, StatusOK, nil, rec)
}

func (e *Enforcer) actionFailed(ident domain.Identity, rec domain.UsageRecord, err error) Result {
	e.logger.Error().Err(err).Str("identity_id", ident.ID).Msg("protected action failed")
	metrics.AnalysesTotal.WithLabelValues(string(StatusActionFailed), string(rec.Tier)).Inc()
	res := e.result(ident, StatusActionFailed, err, rec)
	return res
}

// merge folds the backend-authoritative state into the local record. The
// higher count wins so multi-device use cannot roll usage backwards.
func (e *Enforcer) merge(rec domain.UsageRecord, state domain.SyncState) domain.UsageRecord {
	if state.Tier.Known() {
		rec.Tier = state.Tier
	}
	if state.UsedToday > rec.UsedToday {
		rec.UsedToday = state.UsedToday
	}
	return rec
}

func (e *Enforcer) result(ident domain.Identity, status Status, err error, rec domain.UsageRecord) Result {
	visible, _ := e.paywall.Visible(ident.ID)
	return Result{
		Status:        status,
		Err:           err,
		UsedToday:     rec.UsedToday,
		Remaining:     entitlement.RemainingUses(rec),
		ReachedLimit:  !entitlement.CanAnalyze(rec),
		PromptUpgrade: entitlement.ShouldPromptUpgrade(rec),
		Paywall:       visible,
	}
}
