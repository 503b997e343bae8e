package enforce

import (
	"sync"
	"time"

	"keisha/internal/metrics"
)

// PaywallReason tells the presentation layer why the paywall fired.
type PaywallReason string

const (
	// ReasonLocalLimit means the local evaluator found the quota exhausted.
	ReasonLocalLimit PaywallReason = "limit_exceeded"
	// ReasonBackendLimit means the protected action was rejected upstream
	// with a quota-coded error.
	ReasonBackendLimit PaywallReason = "backend_limit_exceeded"
)

// Paywall is the signal consumed by the presentation layer to show or hide
// the upgrade dialog. State is kept per identity: one caller exhausting its
// quota must never surface the dialog to anyone else. It carries no dialog
// logic of its own: a visibility bit, a reason code, and display-duration
// instrumentation.
type Paywall struct {
	mu     sync.Mutex
	states map[string]*paywallState
	now    func() time.Time
}

type paywallState struct {
	visible bool
	reason  PaywallReason
	shownAt time.Time
}

// NewPaywall returns a paywall signal with no identity visible.
func NewPaywall() *Paywall {
	return &Paywall{states: make(map[string]*paywallState), now: time.Now}
}

// Show activates the signal for the identity. Re-showing an already visible
// paywall only updates the reason; the display clock keeps running.
func (p *Paywall) Show(identityID string, reason PaywallReason) {
	if identityID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[identityID]
	if !ok {
		st = &paywallState{}
		p.states[identityID] = st
	}
	if !st.visible {
		st.visible = true
		st.shownAt = p.now()
		metrics.PaywallShownTotal.Inc()
	}
	st.reason = reason
}

// Dismiss hides the identity's signal. Called on explicit user dismissal and
// on a successful upgrade.
func (p *Paywall) Dismiss(identityID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[identityID]
	if !ok || !st.visible {
		return
	}
	metrics.PaywallDisplaySeconds.Observe(p.now().Sub(st.shownAt).Seconds())
	delete(p.states, identityID)
}

// Visible reports the identity's current state and reason.
func (p *Paywall) Visible(identityID string) (bool, PaywallReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[identityID]; ok {
		return st.visible, st.reason
	}
	return false, ""
}
