package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// Readiness bounds how long Initialize polls a backend.
type Readiness struct {
	Attempts int
	Interval time.Duration
}

// DefaultReadiness polls ten times, half a second apart.
var DefaultReadiness = Readiness{Attempts: 10, Interval: 500 * time.Millisecond}

// InitResult reports how one backend settled during Initialize.
type InitResult struct {
	Backend  string `json:"backend"`
	Ready    bool   `json:"ready"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConsentChecker replaces the default context-based consent check.
func WithConsentChecker(c ConsentChecker) Option {
	return func(d *Dispatcher) { d.consent = c }
}

// WithLedger replaces the default in-memory dedup ledger.
func WithLedger(l Ledger) Option {
	return func(d *Dispatcher) { d.ledger = l }
}

// WithReadiness overrides the readiness polling budget.
func WithReadiness(r Readiness) Option {
	return func(d *Dispatcher) { d.readiness = r }
}

// Dispatcher is the single entry point for analytics. It is safe for
// concurrent use.
type Dispatcher struct {
	backends  []Backend
	consent   ConsentChecker
	ledger    Ledger
	readiness Readiness
	log       *logger.Logger

	mu          sync.RWMutex
	ready       map[string]bool
	initialized bool
}

// NewDispatcher creates a dispatcher over backends. Nothing is sent until
// Initialize returns.
func NewDispatcher(backends []Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backends:  backends,
		consent:   ContextConsent{},
		ledger:    NewMemoryLedger(24 * time.Hour),
		readiness: DefaultReadiness,
		log:       logger.Named("analytics"),
		ready:     make(map[string]bool, len(backends)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.readiness.Attempts <= 0 {
		d.readiness.Attempts = 1
	}
	return d
}

// Initialize brings every backend up concurrently and waits for all of them
// to settle. Backends that never become ready receive no calls. The
// dispatcher starts accepting calls once every backend has settled.
func (d *Dispatcher) Initialize(ctx context.Context) []InitResult {
	results := make([]InitResult, len(d.backends))
	var wg sync.WaitGroup
	for i, b := range d.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			results[i] = d.initBackend(ctx, b)
		}(i, b)
	}
	wg.Wait()

	d.mu.Lock()
	for _, r := range results {
		d.ready[r.Backend] = r.Ready
	}
	d.initialized = true
	d.mu.Unlock()

	for _, r := range results {
		if r.Ready {
			d.log.Info("analytics backend ready", "backend", r.Backend, "attempts", r.Attempts)
		} else {
			d.log.Warn("analytics backend unavailable", "backend", r.Backend, "attempts", r.Attempts, "error", r.Error)
		}
	}
	return results
}

func (d *Dispatcher) initBackend(ctx context.Context, b Backend) (res InitResult) {
	res.Backend = b.Name()
	defer func() {
		if p := recover(); p != nil {
			res.Ready = false
			res.Error = fmt.Sprintf("panic: %v", p)
		}
	}()

	var err error
	for attempt := 1; attempt <= d.readiness.Attempts; attempt++ {
		res.Attempts = attempt
		if err = b.Initialize(ctx); err == nil {
			res.Ready = true
			return res
		}
		if errors.Is(err, ErrNotConfigured) || attempt == d.readiness.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			res.Error = ctx.Err().Error()
			return res
		case <-time.After(d.readiness.Interval):
		}
	}
	res.Error = err.Error()
	return res
}

// Ready reports whether Initialize has settled.
func (d *Dispatcher) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialized
}

// ReadyBackends returns the names of backends that accept calls.
func (d *Dispatcher) ReadyBackends() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	for _, b := range d.backends {
		if d.ready[b.Name()] {
			names = append(names, b.Name())
		}
	}
	return names
}

// Track fans ev out to every ready backend. It returns once every backend
// call has finished; failures are logged, never returned.
func (d *Dispatcher) Track(ctx context.Context, ev domain.TrackedEvent) {
	if !ev.Kind.Valid() {
		d.log.Warn("analytics event dropped", "kind", ev.Kind, "reason", "unknown kind")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	d.fanOut(ctx, ev.EventName(), ev.SessionID, func(ctx context.Context, b Backend) error {
		return route(ctx, b, ev)
	})
}

// IdentifyUser links sessionID to a known visitor on every ready backend.
func (d *Dispatcher) IdentifyUser(ctx context.Context, sessionID string, id domain.Identity) {
	if id.UserID == "" && id.Email == "" {
		return
	}
	d.fanOut(ctx, "identify", sessionID, func(ctx context.Context, b Backend) error {
		return b.IdentifyUser(ctx, sessionID, id)
	})
}

// fanOut claims event+session in the ledger once per backend, so a repeat
// of the same event in the same session reaches no backend twice. An empty
// session is a session like any other.
func (d *Dispatcher) fanOut(ctx context.Context, event, sessionID string, call func(context.Context, Backend) error) {
	targets := d.readyTargets()
	if targets == nil {
		return
	}
	if !d.consent.HasConsent(ctx) {
		return
	}

	var wg sync.WaitGroup
	for _, b := range targets {
		if !d.ledger.Claim(ctx, dedupKey(b.Name(), event, sessionID)) {
			continue
		}
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			d.invoke(ctx, b, event, call)
		}(b)
	}
	wg.Wait()
}

// readyTargets returns nil until Initialize has settled.
func (d *Dispatcher) readyTargets() []Backend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return nil
	}
	out := make([]Backend, 0, len(d.backends))
	for _, b := range d.backends {
		if d.ready[b.Name()] {
			out = append(out, b)
		}
	}
	return out
}

func (d *Dispatcher) invoke(ctx context.Context, b Backend, kind string, call func(context.Context, Backend) error) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Warn("analytics backend panicked", "backend", b.Name(), "kind", kind, "panic", fmt.Sprint(p))
		}
	}()
	if err := call(ctx, b); err != nil {
		d.log.Warn("analytics call failed", "backend", b.Name(), "kind", kind, "error", err)
	}
}

func dedupKey(backend, event, sessionID string) string {
	return backend + "|" + event + "|" + sessionID
}

// TrackPageView records a page view for path.
func (d *Dispatcher) TrackPageView(ctx context.Context, sessionID, path, title, referrer string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventPageView, SessionID: sessionID,
		Path: path, Title: title, Referrer: referrer})
}

// TrackCTAClick records a click on the call-to-action ctaID.
func (d *Dispatcher) TrackCTAClick(ctx context.Context, sessionID, ctaID, label, path string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventCTAClick, SessionID: sessionID,
		CTAID: ctaID, CTALabel: label, Path: path})
}

// TrackFormStart records the first interaction with form.
func (d *Dispatcher) TrackFormStart(ctx context.Context, sessionID, form string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventFormStart, SessionID: sessionID, Form: form})
}

// TrackFormStep records completion of a numbered form step.
func (d *Dispatcher) TrackFormStep(ctx context.Context, sessionID, form string, step int, stepName string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventFormStep, SessionID: sessionID,
		Form: form, Step: step, StepName: stepName})
}

// TrackFormSubmit records that form was sent to the server.
func (d *Dispatcher) TrackFormSubmit(ctx context.Context, sessionID, form, email string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventFormSubmit, SessionID: sessionID, Form: form, Email: email})
}

// TrackFormComplete records that form was stored and acknowledged.
func (d *Dispatcher) TrackFormComplete(ctx context.Context, sessionID, form, email string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventFormComplete, SessionID: sessionID, Form: form, Email: email})
}

// TrackFormError records a validation or submission failure on form.
func (d *Dispatcher) TrackFormError(ctx context.Context, sessionID, form, message string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventFormError, SessionID: sessionID, Form: form, ErrorMessage: message})
}

// TrackNewsletterSubscribe records a newsletter signup from source.
func (d *Dispatcher) TrackNewsletterSubscribe(ctx context.Context, sessionID, source, email string) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventNewsletterSubscribe, SessionID: sessionID, Source: source, Email: email})
}

// TrackCustom records an arbitrary named event.
func (d *Dispatcher) TrackCustom(ctx context.Context, sessionID, name string, props map[string]any) {
	d.Track(ctx, domain.TrackedEvent{Kind: domain.EventCustom, SessionID: sessionID, Name: name, Properties: props})
}
