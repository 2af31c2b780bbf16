package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/logger"
)

// PollRecorder receives poller telemetry. *metrics.Metrics implements it.
type PollRecorder interface {
	RecordPollAttempt(result string)
	RecordPollOutcome(outcome string, attempts int)
	RecordPollAttached()
}

type nopRecorder struct{}

func (nopRecorder) RecordPollAttempt(string)      {}
func (nopRecorder) RecordPollOutcome(string, int) {}
func (nopRecorder) RecordPollAttached()           {}

// PollerConfig tunes the poller
type PollerConfig struct {
	// Interval between two attempts on the same session
	Interval time.Duration
	// ResultTTL is how long a definitive outcome is replayed without polling again
	ResultTTL time.Duration
	// AttemptTimeout bounds a single status query, zero means no bound
	AttemptTimeout time.Duration
}

// DefaultPollerConfig returns the intervals used by both confirmation surfaces
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:       2 * time.Second,
		ResultTTL:      time.Minute,
		AttemptTimeout: 10 * time.Second,
	}
}

// pollRun is one attempt sequence for a session, shared by every attached caller
type pollRun struct {
	done    chan struct{}
	outcome Outcome
	ok      bool
	waiters int
	cancel  context.CancelFunc

	// draining is set once every caller left; no new caller may attach
	draining bool
}

type cachedOutcome struct {
	outcome   Outcome
	expiresAt time.Time
}

// Poller turns a checkout session id into a terminal Outcome by querying
// a StatusProvider at a fixed interval. Concurrent polls of the same
// session share one attempt sequence.
type Poller struct {
	provider StatusProvider
	config   PollerConfig
	logger   logger.Logger
	recorder PollRecorder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu       sync.Mutex
	inFlight map[string]*pollRun
	results  map[string]cachedOutcome
}

// NewPoller creates a poller over provider
func NewPoller(provider StatusProvider, cfg PollerConfig, log logger.Logger) *Poller {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}

	return &Poller{
		provider: provider,
		config:   cfg,
		logger:   log.With("component", "confirmation_poller"),
		recorder: nopRecorder{},
		sleep:    sleepContext,
		now:      time.Now,
		inFlight: make(map[string]*pollRun),
		results:  make(map[string]cachedOutcome),
	}
}

// SetRecorder sets the telemetry sink
func (p *Poller) SetRecorder(r PollRecorder) {
	if r == nil {
		r = nopRecorder{}
	}
	p.recorder = r
}

// Poll blocks until the session reaches a terminal Outcome or ctx is done.
//
// If another caller is already polling sessionID, Poll attaches to that
// attempt sequence and returns its Outcome; maxAttempts is then ignored.
// A cancelled caller gets ctx.Err() and no Outcome. When the last attached
// caller goes away the attempt sequence stops; a later caller for the same
// session waits until its in-flight query has returned before starting over.
func (p *Poller) Poll(ctx context.Context, sessionID string, maxAttempts int) (Outcome, error) {
	if sessionID == "" {
		return Outcome{}, domain.NewValidationError("session id is required")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	p.mu.Lock()
	var (
		run      *pollRun
		attached bool
	)
	for {
		if cached, ok := p.cachedLocked(sessionID); ok {
			p.mu.Unlock()
			return cached, nil
		}

		run, attached = p.inFlight[sessionID]
		if !attached || !run.draining {
			break
		}

		// A cancelled sequence may still have a query in flight. Wait for
		// it so attempts for one session never overlap.
		p.mu.Unlock()
		select {
		case <-run.done:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
		p.mu.Lock()
	}

	if !attached {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		run = &pollRun{done: make(chan struct{}), cancel: cancel}
		p.inFlight[sessionID] = run
		go p.execute(runCtx, sessionID, maxAttempts, run)
	}
	run.waiters++
	p.mu.Unlock()

	if attached {
		p.recorder.RecordPollAttached()
		p.logger.Debug("attached to in-flight poll", "session_id", sessionID)
	}

	select {
	case <-run.done:
		if !run.ok {
			// Sequence was cancelled without producing an outcome.
			return Outcome{}, context.Canceled
		}
		return run.outcome, nil
	case <-ctx.Done():
		p.detach(sessionID, run)
		return Outcome{}, ctx.Err()
	}
}

// InFlight reports whether an attempt sequence is running for sessionID
func (p *Poller) InFlight(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[sessionID]
	return ok
}

func (p *Poller) detach(sessionID string, run *pollRun) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run.waiters--
	if run.waiters > 0 {
		return
	}

	// execute unregisters the run once its last query returns
	run.draining = true
	run.cancel()
	p.logger.Info("poll cancelled, no callers left", "session_id", sessionID)
}

func (p *Poller) execute(ctx context.Context, sessionID string, maxAttempts int, run *pollRun) {
	defer run.cancel()

	outcome, ok := p.attempts(ctx, sessionID, maxAttempts)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight[sessionID] == run {
		delete(p.inFlight, sessionID)
	}
	if ok && outcome.Definitive() && p.config.ResultTTL > 0 {
		p.results[sessionID] = cachedOutcome{outcome: outcome, expiresAt: p.now().Add(p.config.ResultTTL)}
		p.cleanupExpiredLocked()
	}

	if ok {
		p.recorder.RecordPollOutcome(string(outcome.Kind), outcome.Attempts)
		p.logger.Info("poll finished",
			"session_id", sessionID,
			"outcome", outcome.Kind,
			"attempts", outcome.Attempts,
		)
	}

	run.outcome = outcome
	run.ok = ok
	close(run.done)
}

// attempts runs the bounded retry loop. It returns false when ctx was
// cancelled before a terminal outcome.
func (p *Poller) attempts(ctx context.Context, sessionID string, maxAttempts int) (Outcome, bool) {
	var (
		transportFailures int
		lastErr           error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Outcome{}, false
		}

		raw, err := p.fetch(ctx, sessionID)
		if ctx.Err() != nil {
			// Late answer for a torn down sequence.
			return Outcome{}, false
		}

		if err != nil {
			transportFailures++
			lastErr = err
			p.recorder.RecordPollAttempt("transport_error")
			p.logger.Warn("status query failed",
				"session_id", sessionID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			class := Classify(raw)
			p.recorder.RecordPollAttempt(class.String())

			var outcome Outcome
			switch class {
			case ClassPaid:
				outcome = Paid(sessionID, raw.AmountTotal, raw.Currency)
			case ClassExpired:
				outcome = Expired(sessionID)
			case ClassFailed:
				outcome = Failed(sessionID, fmt.Sprintf("payment %s", normalize(raw.PaymentStatus)))
			}
			if class != ClassPending {
				outcome.Attempts = attempt
				return outcome, true
			}
		}

		if attempt < maxAttempts {
			if err := p.sleep(ctx, p.config.Interval); err != nil {
				return Outcome{}, false
			}
		}
	}

	var outcome Outcome
	if transportFailures == maxAttempts {
		outcome = Errored(sessionID, lastErr)
	} else {
		outcome = TimedOut(sessionID)
	}
	outcome.Attempts = maxAttempts
	return outcome, true
}

func (p *Poller) fetch(ctx context.Context, sessionID string) (*RawStatus, error) {
	if p.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AttemptTimeout)
		defer cancel()
	}

	raw, err := p.provider.Fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("empty status response")
	}
	return raw, nil
}

// cachedLocked returns a replayable definitive outcome. Must hold p.mu.
func (p *Poller) cachedLocked(sessionID string) (Outcome, bool) {
	cached, ok := p.results[sessionID]
	if !ok {
		return Outcome{}, false
	}
	if p.now().After(cached.expiresAt) {
		delete(p.results, sessionID)
		return Outcome{}, false
	}
	return cached.outcome, true
}

// cleanupExpiredLocked drops stale cached outcomes. Must hold p.mu.
func (p *Poller) cleanupExpiredLocked() {
	now := p.now()
	for id, cached := range p.results {
		if now.After(cached.expiresAt) {
			delete(p.results, id)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
