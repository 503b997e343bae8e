package enforce

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"keisha/internal/domain"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

type fakeSession struct {
	ident   domain.Identity
	present bool
	rec     domain.UsageRecord
	saveErr error
	saves   int
}

func (s *fakeSession) Identity() (domain.Identity, bool) { return s.ident, s.present }
func (s *fakeSession) Record() domain.UsageRecord        { return s.rec }

func (s *fakeSession) SetRecord(_ context.Context, rec domain.UsageRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rec = rec
	s.saves++
	return nil
}

type fakeSyncer struct {
	state domain.SyncState
	err   error
	calls int
}

func (f *fakeSyncer) Sync(_ context.Context, _ string, _ int) (domain.SyncState, error) {
	f.calls++
	if f.err != nil {
		return domain.SyncState{}, f.err
	}
	return f.state, nil
}

func newTestEnforcer(syncer domain.UsageSyncer) *Enforcer {
	e := NewEnforcer(syncer, NewPaywall(), zerolog.Nop())
	e.now = func() time.Time { return testNow }
	return e
}

func registeredSession(tier domain.Tier, used int, lastReset string) *fakeSession {
	return &fakeSession{
		ident:   domain.Identity{ID: "user-1", Email: "u@example.com", Kind: domain.IdentityRegistered},
		present: true,
		rec:     domain.UsageRecord{IdentityID: "user-1", Tier: tier, UsedToday: used, LastReset: lastReset},
	}
}

func guestSession(used int, lastReset string) *fakeSession {
	return &fakeSession{
		ident:   domain.Identity{ID: "guest-1", Kind: domain.IdentityGuest},
		present: true,
		rec:     domain.UsageRecord{IdentityID: "guest-1", Tier: domain.TierGuest, UsedToday: used, LastReset: lastReset},
	}
}

func okAction(calls *int) Action {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestExecuteUnauthenticated(t *testing.T) {
	e := newTestEnforcer(nil)
	var calls int

	res := e.Execute(context.Background(), nil, okAction(&calls))
	if res.Status != StatusUnauthenticated || !errors.Is(res.Err, domain.ErrUnauthenticated) {
		t.Fatalf("Execute(nil session) = %+v", res)
	}

	sess := &fakeSession{present: false}
	res = e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusUnauthenticated {
		t.Fatalf("Execute(no identity) = %+v", res)
	}
	if calls != 0 {
		t.Fatalf("action invoked %d times without identity", calls)
	}
	// No paywall for missing identity; that path is for exhausted quota.
	if visible, _ := e.Paywall().Visible("user-1"); visible {
		t.Fatalf("paywall shown for unauthenticated call")
	}
}

func TestExecuteCorruptStateFailsClosed(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierFree, -2, domain.Today(testNow))
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusCorruptState || !errors.Is(res.Err, domain.ErrCorruptState) {
		t.Fatalf("Execute() = %+v, want corrupt state", res)
	}
	if calls != 0 {
		t.Fatalf("action ran on corrupt record")
	}
	if sess.rec.UsedToday != 0 || sess.rec.Tier != domain.TierFree {
		t.Fatalf("record not reinitialized: %+v", sess.rec)
	}
}

func TestExecuteExhaustedBlocksWithoutInvoking(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierFree, 3, domain.Today(testNow))
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusLimitExceeded || !errors.Is(res.Err, domain.ErrLimitExceeded) {
		t.Fatalf("Execute() = %+v, want limit exceeded", res)
	}
	if calls != 0 {
		t.Fatalf("action invoked despite exhausted quota")
	}
	if !res.Paywall {
		t.Fatalf("paywall not signalled")
	}
	if visible, reason := e.Paywall().Visible("user-1"); !visible || reason != ReasonLocalLimit {
		t.Fatalf("paywall state = %v, %q", visible, reason)
	}
	if sess.rec.UsedToday != 3 {
		t.Fatalf("blocked call mutated the count: %d", sess.rec.UsedToday)
	}
}

func TestExecuteDayBoundaryResetsBeforeGate(t *testing.T) {
	e := newTestEnforcer(nil)
	yesterday := domain.Today(testNow.AddDate(0, 0, -1))
	sess := registeredSession(domain.TierFree, 3, yesterday)
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusOK {
		t.Fatalf("Execute() = %+v, want ok after reset", res)
	}
	if calls != 1 {
		t.Fatalf("action invoked %d times, want 1", calls)
	}
	if sess.rec.UsedToday != 1 || sess.rec.LastReset != domain.Today(testNow) {
		t.Fatalf("record after reset+increment = %+v", sess.rec)
	}
}

func TestExecuteFreeTierScenario(t *testing.T) {
	// Free tier, limit 3: three successes, then a blocked fourth call.
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierFree, 0, domain.Today(testNow))
	var calls int

	for i := 1; i <= 3; i++ {
		res := e.Execute(context.Background(), sess, okAction(&calls))
		if res.Status != StatusOK {
			t.Fatalf("call %d = %+v, want ok", i, res)
		}
		if res.UsedToday != i {
			t.Fatalf("call %d UsedToday = %d, want %d", i, res.UsedToday, i)
		}
	}
	if sess.rec.UsedToday != 3 || calls != 3 {
		t.Fatalf("after 3 calls: record=%+v invocations=%d", sess.rec, calls)
	}

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusLimitExceeded || calls != 3 {
		t.Fatalf("4th call = %+v (invocations %d), want blocked", res, calls)
	}
	if !res.Paywall {
		t.Fatalf("4th call did not surface the paywall")
	}
}

func TestExecuteBackendReportedExhaustion(t *testing.T) {
	// Local record says 1 of 10; the backend independently rejects the
	// action with a quota-coded error (multi-device race).
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierMonthly, 1, domain.Today(testNow))

	res := e.Execute(context.Background(), sess, func(context.Context) error {
		return fmt.Errorf("analyze article: %w", domain.ErrLimitExceeded)
	})
	if res.Status != StatusLimitExceeded || !errors.Is(res.Err, domain.ErrLimitExceeded) {
		t.Fatalf("Execute() = %+v, want limit exceeded", res)
	}
	if sess.rec.UsedToday != 1 {
		t.Fatalf("backend rejection incremented local usage: %d", sess.rec.UsedToday)
	}
	if visible, reason := e.Paywall().Visible("user-1"); !visible || reason != ReasonBackendLimit {
		t.Fatalf("paywall state = %v, %q", visible, reason)
	}
}

func TestExecuteGenericFailureDoesNotIncrement(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierMonthly, 2, domain.Today(testNow))
	cause := errors.New("upstream 500")

	res := e.Execute(context.Background(), sess, func(context.Context) error { return cause })
	if res.Status != StatusActionFailed || !errors.Is(res.Err, cause) {
		t.Fatalf("Execute() = %+v, want action failed wrapping cause", res)
	}
	if sess.rec.UsedToday != 2 {
		t.Fatalf("failed action incremented usage: %d", sess.rec.UsedToday)
	}
	if visible, _ := e.Paywall().Visible("user-1"); visible {
		t.Fatalf("generic failure raised the paywall")
	}
}

func TestExecuteTimeoutIsActionFailed(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierMonthly, 0, domain.Today(testNow))

	res := e.Execute(context.Background(), sess, func(ctx context.Context) error {
		return fmt.Errorf("analyze article: %w", context.DeadlineExceeded)
	})
	if res.Status != StatusActionFailed {
		t.Fatalf("timeout mapped to %v, want action failed", res.Status)
	}
	if sess.rec.UsedToday != 0 {
		t.Fatalf("timeout incremented usage")
	}
}

func TestExecuteSyncMergesBackendState(t *testing.T) {
	syncer := &fakeSyncer{state: domain.SyncState{Tier: domain.TierMonthly, UsedToday: 9, CanAnalyze: true}}
	e := newTestEnforcer(syncer)
	sess := registeredSession(domain.TierMonthly, 2, domain.Today(testNow))
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if syncer.calls != 1 {
		t.Fatalf("syncer called %d times", syncer.calls)
	}
	if res.Status != StatusOK || res.UsedToday != 10 {
		t.Fatalf("Execute() = %+v, want ok with merged count 10", res)
	}
	if !res.ReachedLimit {
		t.Fatalf("post-increment record at limit not reported")
	}
}

func TestExecuteSyncFailureFallsBackToLocal(t *testing.T) {
	syncer := &fakeSyncer{err: domain.ErrSyncUnavailable}
	e := newTestEnforcer(syncer)
	sess := registeredSession(domain.TierMonthly, 0, domain.Today(testNow))
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusOK || calls != 1 {
		t.Fatalf("sync failure aborted the flow: %+v", res)
	}
}

func TestExecuteGuestSkipsSync(t *testing.T) {
	syncer := &fakeSyncer{}
	e := newTestEnforcer(syncer)
	sess := guestSession(0, domain.Today(testNow))
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusOK {
		t.Fatalf("Execute() = %+v", res)
	}
	if syncer.calls != 0 {
		t.Fatalf("guest identity hit the syncer")
	}
}

func TestExecuteUpgradePromptOnPostIncrementRecord(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierMonthly, 7, domain.Today(testNow))

	var calls int
	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusOK || res.UsedToday != 8 {
		t.Fatalf("Execute() = %+v", res)
	}
	// 8 of 10 crosses the warning threshold only after the increment.
	if !res.PromptUpgrade {
		t.Fatalf("PromptUpgrade not set on post-increment record")
	}
	if res.Remaining.Uses != 2 || res.Remaining.Unlimited {
		t.Fatalf("Remaining = %+v, want 2", res.Remaining)
	}
}

func TestExecuteUnlimitedTierStillCounts(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierAnnual, 100000, domain.Today(testNow))
	var calls int

	res := e.Execute(context.Background(), sess, okAction(&calls))
	if res.Status != StatusOK || calls != 1 {
		t.Fatalf("Execute() = %+v", res)
	}
	if sess.rec.UsedToday != 100001 {
		t.Fatalf("unlimited tier count = %d, want tracked increment", sess.rec.UsedToday)
	}
	if !res.Remaining.Unlimited || res.ReachedLimit || res.PromptUpgrade {
		t.Fatalf("unlimited tier result = %+v", res)
	}
}

func TestInProgressFlagClearedOnEveryExit(t *testing.T) {
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierFree, 0, domain.Today(testNow))

	var seen bool
	e.Execute(context.Background(), sess, func(context.Context) error {
		seen = e.InProgress("user-1")
		return nil
	})
	if !seen {
		t.Fatalf("in-progress flag not set while the action ran")
	}
	if e.InProgress("user-1") {
		t.Fatalf("in-progress flag not cleared after success")
	}

	e.Execute(context.Background(), sess, func(context.Context) error { return errors.New("boom") })
	if e.InProgress("user-1") {
		t.Fatalf("in-progress flag not cleared after failure")
	}
}

func TestExecutePaywallDoesNotLeakAcrossIdentities(t *testing.T) {
	e := newTestEnforcer(nil)
	today := domain.Today(testNow)
	exhausted := registeredSession(domain.TierFree, 3, today)
	fresh := &fakeSession{
		ident:   domain.Identity{ID: "user-2", Email: "b@example.com", Kind: domain.IdentityRegistered},
		present: true,
		rec:     domain.UsageRecord{IdentityID: "user-2", Tier: domain.TierFree, LastReset: today},
	}
	var calls int

	if res := e.Execute(context.Background(), exhausted, okAction(&calls)); res.Status != StatusLimitExceeded {
		t.Fatalf("exhausted identity = %+v", res)
	}

	res := e.Execute(context.Background(), fresh, okAction(&calls))
	if res.Status != StatusOK || calls != 1 {
		t.Fatalf("fresh identity = %+v (invocations %d)", res, calls)
	}
	if res.Paywall {
		t.Fatalf("fresh identity's result carries another identity's paywall")
	}
	if visible, _ := e.Paywall().Visible("user-2"); visible {
		t.Fatalf("paywall visible for identity that never hit its limit")
	}

	// The other identity dismissing must not clear the original signal.
	e.Paywall().Dismiss("user-2")
	if visible, _ := e.Paywall().Visible("user-1"); !visible {
		t.Fatalf("dismiss by another identity cleared the signal")
	}
}

func TestExecuteSerializesPerIdentity(t *testing.T) {
	// Two overlapping calls with one unit of quota left: at most one may
	// pass the gate.
	e := newTestEnforcer(nil)
	sess := registeredSession(domain.TierFree, 2, domain.Today(testNow))

	started := make(chan struct{})
	release := make(chan struct{})
	first := make(chan Result, 1)
	go func() {
		first <- e.Execute(context.Background(), sess, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	second := make(chan Result, 1)
	go func() {
		var calls int
		second <- e.Execute(context.Background(), sess, okAction(&calls))
	}()
	close(release)

	r1 := <-first
	r2 := <-second
	if r1.Status != StatusOK {
		t.Fatalf("first call = %+v", r1)
	}
	if r2.Status != StatusLimitExceeded {
		t.Fatalf("second call observed stale quota: %+v", r2)
	}
	if sess.rec.UsedToday != 3 {
		t.Fatalf("final count = %d, want 3", sess.rec.UsedToday)
	}
}
