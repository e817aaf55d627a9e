package friends

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShareFlow is the client-side view of one calendar-share consent
// round-trip. It settles exactly once, whichever of {completion signal,
// window closed, timeout} fires first.
type ShareFlow struct {
	ID        string
	UID       string
	FriendUID string

	once   sync.Once
	done   chan struct{}
	result flowResult
}

type flowResult struct {
	completed bool
	closed    bool
	err       error
}

func (f *ShareFlow) settle(r flowResult) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Complete signals that the consent callback finished. err non-nil means the
// callback ran but failed.
func (f *ShareFlow) Complete(err error) { f.settle(flowResult{completed: true, err: err}) }

// WindowClosed signals that the consent window closed without delivering a
// completion message.
func (f *ShareFlow) WindowClosed() { f.settle(flowResult{closed: true}) }

// FlowRegistry tracks in-flight consent flows so the OAuth callback can
// signal the waiting client by flow id.
type FlowRegistry struct {
	mu    sync.Mutex
	flows map[string]*ShareFlow
}

func NewFlowRegistry() *FlowRegistry {
	return &FlowRegistry{flows: make(map[string]*ShareFlow)}
}

// Open registers a new flow for uid → friendUID.
func (r *FlowRegistry) Open(uid, friendUID string) *ShareFlow {
	f := &ShareFlow{
		ID:        uuid.NewString(),
		UID:       uid,
		FriendUID: friendUID,
		done:      make(chan struct{}),
	}
	r.mu.Lock()
	r.flows[f.ID] = f
	r.mu.Unlock()
	return f
}

// Lookup returns the flow by id, or nil.
func (r *FlowRegistry) Lookup(id string) *ShareFlow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flows[id]
}

// Remove drops the flow from the registry.
func (r *FlowRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.flows, id)
	r.mu.Unlock()
}

// AwaitShare waits for flow to settle, bounded by timeout. When the window
// closed or the timeout fired without a completion signal, it polls the
// persisted share flag once after pollDelay: the consent callback runs
// server-side and its completion message can be lost even though consent
// actually succeeded.
func (s *Service) AwaitShare(ctx context.Context, flow *ShareFlow, timeout, pollDelay time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-flow.done:
		if flow.result.completed {
			if flow.result.err != nil {
				return false, flow.result.err
			}
			return true, nil
		}
		// window closed without a message: fall through to the poll
	case <-timer.C:
		s.log.Debug("consent flow timed out, falling back to share-flag poll",
			zap.String("flow", flow.ID))
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case <-time.After(pollDelay):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return s.CheckOwnShare(ctx, flow.UID, flow.FriendUID)
}
