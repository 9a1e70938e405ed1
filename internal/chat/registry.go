package chat

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"chat-relay/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const routerModule = "SessionRouter"

// MaxSessionIDLength bounds client supplied session identifiers.
const MaxSessionIDLength = 128

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidSessionID reports whether id may name a session: 1 to MaxSessionIDLength
// characters from letters, digits, dot, underscore and hyphen.
func ValidSessionID(id string) bool {
	return len(id) <= MaxSessionIDLength && sessionIDPattern.MatchString(id)
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Registry routes session ids to their single actor, creating actors on first
// reference. Identical ids resolve to the same actor for as long as it lives.
type Registry struct {
	store    MessageStore
	notifier Notifier
	coord    Coordinator
	log      logger.ILogger
	opts     Options

	mu     sync.Mutex
	actors map[string]*Actor
	closed bool

	cron *cron.Cron
}

func NewRegistry(store MessageStore, notifier Notifier, log logger.ILogger, opts Options) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		store:    store,
		notifier: notifier,
		log:      log,
		opts:     opts.withDefaults(),
		actors:   make(map[string]*Actor),
	}
}

// WithCoordinator enables cross-instance ownership leases.
func (r *Registry) WithCoordinator(c Coordinator) *Registry {
	r.coord = c
	return r
}

// Get resolves sessionID to its actor. An empty id gets a freshly generated one.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Actor, error) {
	if r == nil || r.store == nil {
		return nil, ErrUnavailable
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	if !ValidSessionID(sessionID) {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrUnavailable
	}
	if a, ok := r.actors[sessionID]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	if err := r.claim(ctx, sessionID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrUnavailable
	}
	if a, ok := r.actors[sessionID]; ok {
		return a, nil
	}
	a := newActor(sessionID, r.store, r.notifier, r.log, r.opts)
	r.actors[sessionID] = a
	r.log.Info(routerModule, "Actor created", map[string]interface{}{
		"session_id": sessionID,
		"actors":     len(r.actors),
	})
	return a, nil
}

func (r *Registry) claim(ctx context.Context, sessionID string) error {
	if r.coord == nil {
		return nil
	}
	owner, err := r.coord.Claim(ctx, sessionID)
	if err != nil {
		r.log.Warn(routerModule, "Lease claim failed, serving locally", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil
	}
	if owner != r.coord.InstanceID() {
		return &NotOwnerError{SessionID: sessionID, Owner: owner}
	}
	return nil
}

// Do runs fn against the session's actor, retrying once with a fresh actor when
// the resolved one retired concurrently.
func (r *Registry) Do(ctx context.Context, sessionID string, fn func(*Actor) error) error {
	for attempt := 0; ; attempt++ {
		a, err := r.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		err = fn(a)
		if errors.Is(err, ErrActorStopped) && attempt == 0 {
			r.forget(a)
			continue
		}
		return err
	}
}

// forget drops a from the routing table. It reports whether another actor
// already serves the same session.
func (r *Registry) forget(a *Actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.actors[a.sessionID]
	if ok && cur == a {
		delete(r.actors, a.sessionID)
		return false
	}
	return ok
}

// Len is the number of live actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Start schedules the janitor that heartbeats connections, renews leases and
// retires idle actors.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+r.opts.SweepInterval.String(), func() {
		r.sweep(context.Background(), time.Now())
	}); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

func (r *Registry) sweep(ctx context.Context, now time.Time) {
	var retired, live []*Actor

	r.mu.Lock()
	candidates := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		candidates = append(candidates, a)
	}
	r.mu.Unlock()

	// The final idle check runs on the actor: work queued ahead of it keeps the
	// actor alive, work queued behind it is refused and retried on a fresh actor.
	for _, a := range candidates {
		if a.idle(now, r.opts.IdleTimeout) && a.retire(ctx, now, r.opts.IdleTimeout) {
			replaced := r.forget(a)
			a.Stop()
			if !replaced {
				r.release(ctx, a.sessionID)
			}
			retired = append(retired, a)
			continue
		}
		live = append(live, a)
	}

	ids := make([]string, 0, len(live))
	evicted := 0
	for _, a := range live {
		n, err := a.Sweep(ctx)
		if err != nil {
			continue
		}
		evicted += n
		ids = append(ids, a.sessionID)
	}

	if r.coord != nil && len(ids) > 0 {
		if err := r.coord.Renew(ctx, ids); err != nil {
			r.log.Warn(routerModule, "Lease renewal failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if len(retired) > 0 || evicted > 0 {
		r.log.Info(routerModule, "Sweep finished", map[string]interface{}{
			"retired": len(retired),
			"evicted": evicted,
			"live":    len(live),
		})
	}
}

func (r *Registry) release(ctx context.Context, sessionID string) {
	if r.coord == nil {
		return
	}
	if err := r.coord.Release(ctx, sessionID); err != nil {
		r.log.Warn(routerModule, "Lease release failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// Close stops the janitor and every actor. Later lookups return ErrUnavailable.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	actors := r.actors
	r.actors = make(map[string]*Actor)
	c := r.cron
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, a := range actors {
		a.Stop()
		r.release(context.Background(), a.sessionID)
	}
}
