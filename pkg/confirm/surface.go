// Package confirm drives the screens a returning buyer sees while their
// checkout is being confirmed.
package confirm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/entitlement"
	"github.com/cloudcareercoach/api/pkg/intent"
	"github.com/cloudcareercoach/api/pkg/logger"
)

// Kind names the two confirmation surfaces
type Kind string

const (
	KindInlineBanner  Kind = "inline_banner"
	KindDedicatedPage Kind = "dedicated_page"
)

// State of a surface. Verifying moves to exactly one terminal state.
type State string

const (
	StateIdle      State = "idle"
	StateVerifying State = "verifying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateError     State = "error"
)

// Terminal reports whether the state ends a verification
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateError:
		return true
	default:
		return false
	}
}

// Action is something the user can do from a view
type Action string

const (
	ActionContinue        Action = "continue"
	ActionCheckAgain      Action = "check_again"
	ActionRestartCheckout Action = "restart_checkout"
	ActionDismiss         Action = "dismiss"
)

// ErrInvalidTransition is returned for operations the current state does not allow
var ErrInvalidTransition = errors.New("invalid confirmation state transition")

// Viewer identifies who is looking at the surface
type Viewer struct {
	UserID         int
	Email          string
	BrowserSession string
}

// Poller confirms a checkout session
type Poller interface {
	Poll(ctx context.Context, sessionID string, maxAttempts int) (billing.Outcome, error)
}

// Entitlements grants premium for paid outcomes
type Entitlements interface {
	Apply(ctx context.Context, userID int, outcome billing.Outcome) (*entitlement.Entitlement, error)
}

// Intents is the pending intent cache of the viewer's browser session
type Intents interface {
	Get(ctx context.Context, scope string) (*intent.PendingIntent, bool, error)
	Clear(ctx context.Context, scope string) error
	ClearSession(ctx context.Context, scope, sessionID string) (bool, error)
}

// Checkout starts a new checkout
type Checkout interface {
	Initiate(ctx context.Context, req billing.InitiateRequest) (*billing.InitiateResult, error)
}

// Ownership rejects sessions the viewer did not start
type Ownership interface {
	Authorize(ctx context.Context, userID int, sessionID string) error
}

// Recorder receives surface telemetry. *metrics.Metrics implements it.
type Recorder interface {
	RecordConfirmationState(surface, state string)
}

// Dependencies are shared by every surface of a process. Ownership and
// Recorder are optional.
type Dependencies struct {
	Poller       Poller
	Entitlements Entitlements
	Intents      Intents
	Checkout     Checkout
	Ownership    Ownership
	Recorder     Recorder
	Logger       logger.Logger
}

// Receipt is shown after a confirmed payment
type Receipt struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	DisplayAmount string `json:"display_amount"`
	Reference     string `json:"reference"`
	PackageID     string `json:"package_id,omitempty"`
	PackageName   string `json:"package_name,omitempty"`
}

// View is what a surface renders
type View struct {
	Surface     Kind                  `json:"surface"`
	State       State                 `json:"state"`
	Visible     bool                  `json:"visible"`
	RedirectURL string                `json:"redirect_url,omitempty"`
	Title       string                `json:"title,omitempty"`
	Message     string                `json:"message,omitempty"`
	Definitive  bool                  `json:"definitive"`
	Outcome     billing.OutcomeKind   `json:"outcome,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	Actions     []Action              `json:"actions,omitempty"`
	Receipt     *Receipt              `json:"receipt,omitempty"`
	Pending     *intent.PendingIntent `json:"pending,omitempty"`
	Attempts    int                   `json:"attempts,omitempty"`

	// Cause is set for the Error state
	Cause error `json:"-"`
}

// Surface is one confirmation screen for one viewer
type Surface struct {
	kind     Kind
	viewer   Viewer
	deps     Dependencies
	budget   int
	offerURL string

	mu        sync.Mutex
	state     State
	sessionID string
	packageID string
}

// NewInlineBanner creates the banner shown on the landing page. Without a
// session reference it stays hidden.
func NewInlineBanner(viewer Viewer, deps Dependencies, budget int) *Surface {
	return newSurface(KindInlineBanner, viewer, deps, budget, "")
}

// NewDedicatedPage creates the checkout success page. Without a session
// reference it redirects to offerURL.
func NewDedicatedPage(viewer Viewer, deps Dependencies, budget int, offerURL string) *Surface {
	return newSurface(KindDedicatedPage, viewer, deps, budget, offerURL)
}

func newSurface(kind Kind, viewer Viewer, deps Dependencies, budget int, offerURL string) *Surface {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if budget < 1 {
		budget = 1
	}
	return &Surface{
		kind:     kind,
		viewer:   viewer,
		deps:     deps,
		budget:   budget,
		offerURL: offerURL,
		state:    StateIdle,
	}
}

// Kind returns which surface this is
func (s *Surface) Kind() Kind {
	return s.kind
}

// State returns the current state
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open verifies sessionID and returns the terminal view. A cancelled ctx
// returns the surface to Idle and yields ctx's error.
func (s *Surface) Open(ctx context.Context, sessionID string) (View, error) {
	sessionID = strings.TrimSpace(sessionID)

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return View{}, ErrInvalidTransition
	}
	if sessionID == "" {
		s.mu.Unlock()
		return s.absentView(), nil
	}
	s.state = StateVerifying
	s.sessionID = sessionID
	s.mu.Unlock()

	log := s.deps.Logger.With(
		"surface", string(s.kind),
		"user_id", s.viewer.UserID,
		"session_id", billing.MaskSessionID(sessionID),
	)

	if s.deps.Ownership != nil {
		if err := s.deps.Ownership.Authorize(ctx, s.viewer.UserID, sessionID); err != nil {
			s.transition(StateIdle)
			return View{}, err
		}
	}

	pending := s.pendingFor(ctx, sessionID, log)

	outcome, err := s.deps.Poller.Poll(ctx, sessionID, s.budget)
	if err != nil {
		s.transition(StateIdle)
		log.Info("confirmation abandoned", "error", err)
		return View{}, err
	}

	view := s.settle(ctx, outcome, pending, log)
	s.transition(view.State)
	if s.deps.Recorder != nil {
		s.deps.Recorder.RecordConfirmationState(string(s.kind), string(view.State))
	}
	return view, nil
}

// Dismiss closes a terminal or idle surface and forgets the pending intent
func (s *Surface) Dismiss(ctx context.Context) (View, error) {
	s.mu.Lock()
	if s.state == StateVerifying {
		s.mu.Unlock()
		return View{}, ErrInvalidTransition
	}
	s.state = StateIdle
	s.mu.Unlock()

	if s.viewer.BrowserSession != "" {
		if err := s.deps.Intents.Clear(ctx, s.viewer.BrowserSession); err != nil {
			return View{}, err
		}
	}
	return View{Surface: s.kind, State: StateIdle}, nil
}

// Retry starts a new checkout for packageID, or for the package of the
// session being confirmed when packageID is empty
func (s *Surface) Retry(ctx context.Context, origin, packageID string) (*billing.InitiateResult, error) {
	s.mu.Lock()
	if s.state == StateVerifying {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if packageID == "" {
		packageID = s.packageID
	}
	s.mu.Unlock()

	if packageID == "" && s.viewer.BrowserSession != "" {
		if in, ok, err := s.deps.Intents.Get(ctx, s.viewer.BrowserSession); err == nil && ok {
			packageID = in.PackageID
		}
	}
	if packageID == "" {
		return nil, domain.NewValidationError("package id is required to restart checkout")
	}

	res, err := s.deps.Checkout.Initiate(ctx, billing.InitiateRequest{
		UserID:         s.viewer.UserID,
		UserEmail:      s.viewer.Email,
		BrowserSession: s.viewer.BrowserSession,
		PackageID:      packageID,
		Origin:         origin,
	})
	if err != nil {
		return nil, err
	}

	s.transition(StateIdle)
	return res, nil
}

func (s *Surface) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

func (s *Surface) absentView() View {
	v := View{Surface: s.kind, State: StateIdle}
	if s.kind == KindDedicatedPage {
		v.RedirectURL = s.offerURL
	}
	return v
}

// pendingFor returns the stored intent when it belongs to sessionID
func (s *Surface) pendingFor(ctx context.Context, sessionID string, log logger.Logger) *intent.PendingIntent {
	if s.viewer.BrowserSession == "" {
		return nil
	}
	in, ok, err := s.deps.Intents.Get(ctx, s.viewer.BrowserSession)
	if err != nil {
		log.Warn("failed to read pending intent", "error", err)
		return nil
	}
	if !ok || in.SessionID != sessionID {
		return nil
	}
	s.mu.Lock()
	s.packageID = in.PackageID
	s.mu.Unlock()
	return in
}

func (s *Surface) settle(ctx context.Context, outcome billing.Outcome, pending *intent.PendingIntent, log logger.Logger) View {
	view := View{
		Surface:    s.kind,
		Visible:    true,
		Definitive: outcome.Definitive(),
		Outcome:    outcome.Kind,
		Attempts:   outcome.Attempts,
	}

	switch outcome.Kind {
	case billing.OutcomePaid:
		if _, err := s.deps.Entitlements.Apply(ctx, s.viewer.UserID, outcome); err != nil {
			// Keep the intent so the next visit or the reconciliation job can finish
			log.Error("failed to apply entitlement", "error", err)
			view.State = StateError
			view.Title = "Payment received"
			view.Message = "Your payment went through but we could not activate Premium yet. It will be activated automatically, please check again shortly."
			view.Actions = []Action{ActionCheckAgain, ActionDismiss}
			view.Pending = pending
			view.Cause = err
			return view
		}
		s.clearSession(ctx, outcome.SessionID, log)
		view.State = StateSucceeded
		view.Title = "Welcome to Premium"
		view.Message = "Your payment was confirmed and Premium is now active."
		view.Actions = []Action{ActionContinue}
		view.Receipt = s.receipt(outcome, pending)
		log.Info("payment confirmed", "attempts", outcome.Attempts)

	case billing.OutcomeFailed:
		s.clearSession(ctx, outcome.SessionID, log)
		view.State = StateFailed
		view.Title = "Payment failed"
		view.Message = "Your payment was not completed and you have not been charged. You can try again with another payment method."
		view.Reason = outcome.Reason
		view.Actions = []Action{ActionRestartCheckout, ActionDismiss}
		log.Info("payment failed", "reason", outcome.Reason)

	case billing.OutcomeExpired:
		s.clearSession(ctx, outcome.SessionID, log)
		view.State = StateFailed
		view.Title = "Checkout expired"
		view.Message = "Your checkout session expired before payment was completed. Start a new checkout to continue."
		view.Reason = "expired"
		view.Actions = []Action{ActionRestartCheckout, ActionDismiss}
		log.Info("checkout expired")

	case billing.OutcomeTimedOut:
		view.State = StateTimedOut
		view.Title = "Still confirming your payment"
		view.Message = "Your payment is still being processed. You will not be charged twice, check again in a moment."
		view.Actions = []Action{ActionCheckAgain, ActionDismiss}
		view.Pending = pending
		log.Warn("confirmation timed out", "attempts", outcome.Attempts)

	default:
		view.State = StateError
		view.Title = "We could not confirm your payment"
		view.Message = "We could not reach the payment provider, so we don't know the result yet. Your payment may still succeed, check again in a moment."
		view.Actions = []Action{ActionCheckAgain, ActionDismiss}
		view.Pending = pending
		view.Cause = outcome.Cause
		log.Error("confirmation failed", "error", outcome.Cause)
	}

	return view
}

func (s *Surface) clearSession(ctx context.Context, sessionID string, log logger.Logger) {
	if s.viewer.BrowserSession == "" {
		return
	}
	if _, err := s.deps.Intents.ClearSession(ctx, s.viewer.BrowserSession, sessionID); err != nil {
		log.Warn("failed to clear pending intent", "error", err)
	}
}

func (s *Surface) receipt(outcome billing.Outcome, pending *intent.PendingIntent) *Receipt {
	r := &Receipt{
		Amount:        outcome.Amount,
		Currency:      outcome.Currency,
		DisplayAmount: outcome.DisplayAmount(),
		Reference:     billing.MaskSessionID(outcome.SessionID),
	}
	if pkg, ok := billing.PackageForAmount(outcome.Amount, outcome.Currency); ok {
		r.PackageID = pkg.ID
		r.PackageName = pkg.Name
	} else if pending != nil {
		r.PackageID = pending.PackageID
	}
	return r
}
