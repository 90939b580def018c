package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
)

// Bridge runs correlated request/response calls against one (peer, family)
// pair. Each in-flight call lives in a correlation map keyed by its ID, so
// overlapping calls to the same peer never clobber each other.
//
// Every call resolves internally exactly once: first of result, timeout, or
// detach wins, the rest become no-ops. The caller's context only governs how
// long the caller waits, never whether the call settles.
type Bridge struct {
	peerID  string
	family  string
	timeout time.Duration

	reg    *Registry
	bus    *Bus
	logger *slog.Logger
	hooks  domain.LifecycleHooks
	newID  func() string

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	action   string
	started  time.Time
	timer    *time.Timer
	done     chan callOutcome
	resolved bool
}

type callOutcome struct {
	result domain.OpResult
	err    error
}

// NewBridge creates a request bridge for one peer and operation family.
func NewBridge(peerID, family string, timeout time.Duration, reg *Registry, bus *Bus, logger *slog.Logger, hooks domain.LifecycleHooks, newID func() string) *Bridge {
	return &Bridge{
		peerID:  peerID,
		family:  family,
		timeout: timeout,
		reg:     reg,
		bus:     bus,
		logger:  logger,
		hooks:   hooks,
		newID:   newID,
		pending: make(map[string]*pendingCall),
	}
}

// Call sends one operation request and waits for its outcome.
//
// An unattached or not-yet-ready peer fails fast as unavailable; the peer was
// never asked. A peer that answers success=false fails as refused; it was
// asked and said no. Callers that need to tell these apart branch on
// CallError.Kind.
func (br *Bridge) Call(ctx context.Context, req domain.OpRequest) (domain.OpResult, error) {
	if req.Action == "" {
		return domain.OpResult{}, fmt.Errorf("operation action required")
	}

	_, link, attached := br.reg.Lookup(br.peerID)
	if !attached {
		return domain.OpResult{}, domain.NewCallError(domain.FailureUnavailable, "peer not attached")
	}
	if !br.reg.Ready(br.peerID) {
		return domain.OpResult{}, domain.NewCallError(domain.FailureUnavailable, "peer not ready")
	}

	id := br.newID()
	call := &pendingCall{
		action:  req.Action,
		started: time.Now(),
		done:    make(chan callOutcome, 1),
	}
	br.mu.Lock()
	br.pending[id] = call
	br.mu.Unlock()

	env := domain.NewOpRequest(req.Action, req.Payload, id)
	if err := br.bus.Send(ctx, br.peerID, link, env); err != nil {
		br.resolve(ctx, id, domain.OpResult{}, domain.NewCallError(domain.FailureTransport, err.Error()))
	} else {
		// Arm the deadline under the lock: on fast transports the result can
		// land before we get here.
		br.mu.Lock()
		if !call.resolved {
			call.timer = time.AfterFunc(br.timeout, func() {
				br.resolve(context.Background(), id, domain.OpResult{}, domain.NewCallError(domain.FailureTimeout, fmt.Sprintf("no result within %s", br.timeout)))
			})
		}
		br.mu.Unlock()
	}

	select {
	case out := <-call.done:
		return out.result, out.err
	case <-ctx.Done():
		// The caller stopped waiting. The call stays pending and still
		// settles internally via result, timeout, or detach.
		return domain.OpResult{}, ctx.Err()
	}
}

// TryResolve consumes an OP_RESULT delivery if its correlation ID belongs to
// this bridge. It reports false for foreign IDs so the hub can try sibling
// bridges before declaring the result stale.
func (br *Bridge) TryResolve(ctx context.Context, d domain.Delivery) bool {
	id := d.Envelope.CorrelationID

	br.mu.Lock()
	_, ok := br.pending[id]
	br.mu.Unlock()
	if !ok {
		return false
	}

	payload, err := domain.DecodeOpResult(d.Envelope.Payload)
	if err != nil {
		br.logger.Warn("unreadable operation result", "peer", br.peerID, "correlation_id", id, "error", err)
		br.resolve(ctx, id, domain.OpResult{}, domain.NewCallError(domain.FailureTransport, "unreadable result payload"))
		return true
	}

	if !payload.Success {
		br.resolve(ctx, id, domain.OpResult{}, domain.NewCallError(domain.FailureRefused, payload.Error))
		return true
	}
	br.resolve(ctx, id, payload.Result(), nil)
	return true
}

// FailAll settles every pending call with the given failure. Used on detach
// and hub shutdown.
func (br *Bridge) FailAll(ctx context.Context, kind domain.FailureKind, reason string) {
	br.mu.Lock()
	ids := make([]string, 0, len(br.pending))
	for id := range br.pending {
		ids = append(ids, id)
	}
	br.mu.Unlock()

	for _, id := range ids {
		br.resolve(ctx, id, domain.OpResult{}, domain.NewCallError(kind, reason))
	}
}

// Pending returns the number of unresolved calls.
func (br *Bridge) Pending() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.pending)
}

// resolve settles one call. The resolved flag plus map removal make this a
// one-shot: whichever of result, timeout, or detach gets here first wins.
func (br *Bridge) resolve(ctx context.Context, id string, result domain.OpResult, err error) {
	br.mu.Lock()
	call, ok := br.pending[id]
	if !ok || call.resolved {
		br.mu.Unlock()
		return
	}
	call.resolved = true
	delete(br.pending, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	br.mu.Unlock()

	call.done <- callOutcome{result: result, err: err}

	elapsed := time.Since(call.started)
	outcome := domain.OutcomeOf(err)
	br.logger.Debug("call resolved", "peer", br.peerID, "family", br.family, "action", call.action, "outcome", outcome, "elapsed", elapsed)
	if br.hooks.OnCallResolved != nil {
		event := &domain.CallEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventCallResolved},
			PeerID:    br.peerID,
			Family:    br.family,
			Action:    call.action,
			Outcome:   outcome,
			Elapsed:   elapsed,
		}
		if err != nil {
			event.Reason = err.Error()
		}
		br.hooks.OnCallResolved(ctx, event)
	}
}
