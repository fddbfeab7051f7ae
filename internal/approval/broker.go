package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultTTL = 2 * time.Minute

// Broker records operator confirmations and lets the caller that opened one
// park until it is decided, expires or is cancelled.
type Broker struct {
	store      *Store
	defaultTTL time.Duration
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	waiters map[string]chan Request
}

// NewBroker creates a broker backed by <stateDir>/approvals.json. ttl is the
// default operator response window.
func NewBroker(stateDir string, ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Broker{
		store:      NewStore(stateDir),
		defaultTTL: ttl,
		now:        time.Now,
		after:      time.After,
		waiters:    make(map[string]chan Request),
	}
}

// Open inserts a new pending request.
func (b *Broker) Open(input CreateInput) (Request, error) {
	toolName := strings.TrimSpace(input.ToolName)
	if toolName == "" {
		return Request{}, fmt.Errorf("tool_name is required")
	}

	now := b.now().UTC()
	ttl := input.TTL
	if ttl <= 0 {
		ttl = b.defaultTTL
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.store.Load()
	if err != nil {
		return Request{}, err
	}

	request := Request{
		ID:          strconv.FormatInt(data.NextID, 10),
		CallID:      strings.TrimSpace(input.CallID),
		SessionID:   strings.TrimSpace(input.SessionID),
		ToolName:    toolName,
		ArgsJSON:    strings.TrimSpace(input.ArgsJSON),
		Op:          input.Op,
		Target:      input.Target,
		Risk:        input.Risk,
		Reason:      strings.TrimSpace(input.Reason),
		Status:      StatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
	}

	data.NextID++
	data.Requests = append(data.Requests, request)

	if err := b.store.Save(data); err != nil {
		return Request{}, err
	}
	b.waiters[request.ID] = make(chan Request, 1)
	return request, nil
}

// Approve marks a pending request as approved and wakes its waiter.
func (b *Broker) Approve(id string, decision DecisionInput) (Request, error) {
	return b.decide(id, StatusApproved, decision, "approved")
}

// Reject marks a pending request as rejected and wakes its waiter.
func (b *Broker) Reject(id string, decision DecisionInput) (Request, error) {
	return b.decide(id, StatusRejected, decision, "rejected")
}

// Await blocks until the request is decided. When the response window
// closes first the request is expired and ErrOperatorTimeout is returned;
// when ctx ends first it is expired and ctx.Err() is returned. An expired
// request is never approved.
func (b *Broker) Await(ctx context.Context, id string) (Request, error) {
	b.mu.Lock()
	ch, ok := b.waiters[id]
	b.mu.Unlock()
	if !ok {
		reqs, err := b.List(Query{ID: id})
		if err != nil {
			return Request{}, err
		}
		if len(reqs) == 0 {
			return Request{}, fmt.Errorf("request not found: %s", id)
		}
		if reqs[0].Status == StatusPending {
			return reqs[0], fmt.Errorf("request %s has no waiter", id)
		}
		return reqs[0], nil
	}

	remaining, err := b.remaining(id)
	if err != nil {
		return Request{}, err
	}

	select {
	case req := <-ch:
		return req, nil
	case <-b.after(remaining):
		return b.expire(id, ch, "operator timeout", ErrOperatorTimeout)
	case <-ctx.Done():
		return b.expire(id, ch, "cancelled", ctx.Err())
	}
}

// List returns requests filtered by query values, oldest first. A positive
// Limit keeps only the newest matches.
func (b *Broker) List(query Query) ([]Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.store.Load()
	if err != nil {
		return nil, err
	}

	idFilter := strings.TrimSpace(query.ID)
	statusFilter := strings.TrimSpace(string(query.Status))
	toolFilter := strings.TrimSpace(query.ToolName)

	result := make([]Request, 0, len(data.Requests))
	for _, req := range data.Requests {
		if idFilter != "" && req.ID != idFilter {
			continue
		}
		if statusFilter != "" && string(req.Status) != statusFilter {
			continue
		}
		if toolFilter != "" && !strings.EqualFold(req.ToolName, toolFilter) {
			continue
		}
		result = append(result, req)
	}
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[len(result)-query.Limit:]
	}
	return result, nil
}

// ExpirePending marks pending requests as expired when their window has
// elapsed. Requests left pending by a previous run end up here.
func (b *Broker) ExpirePending() ([]Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.store.Load()
	if err != nil {
		return nil, err
	}

	now := b.now().UTC()
	expired := make([]Request, 0)
	changed := false

	for i := range data.Requests {
		req := &data.Requests[i]
		if req.Status != StatusPending {
			continue
		}
		if _, live := b.waiters[req.ID]; live {
			continue
		}
		if !req.ExpiresAt.IsZero() && req.ExpiresAt.After(now) {
			continue
		}

		req.Status = StatusExpired
		req.DecidedAt = now
		req.DecidedBy = "system"
		if strings.TrimSpace(req.DecisionNote) == "" {
			req.DecisionNote = "expired by ttl"
		}
		expired = append(expired, *req)
		changed = true
	}

	if changed {
		if err := b.store.Save(data); err != nil {
			return nil, err
		}
	}

	return expired, nil
}

// Path returns the ledger file path.
func (b *Broker) Path() string {
	return b.store.Path()
}

func (b *Broker) remaining(id string) (time.Duration, error) {
	reqs, err := b.List(Query{ID: id})
	if err != nil {
		return 0, err
	}
	if len(reqs) == 0 {
		return 0, fmt.Errorf("request not found: %s", id)
	}
	left := reqs[0].ExpiresAt.Sub(b.now().UTC())
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (b *Broker) expire(id string, ch chan Request, note string, cause error) (Request, error) {
	req, err := b.decide(id, StatusExpired, DecisionInput{DecidedBy: "system", Note: note}, note)
	if err != nil {
		// A decision raced the deadline and won.
		select {
		case decided := <-ch:
			return decided, nil
		default:
		}
		return Request{}, errors.Join(cause, err)
	}
	return req, cause
}

func (b *Broker) decide(id string, status RequestStatus, decision DecisionInput, defaultNote string) (Request, error) {
	requestID := strings.TrimSpace(id)
	if requestID == "" {
		return Request{}, fmt.Errorf("id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.store.Load()
	if err != nil {
		return Request{}, err
	}

	now := b.now().UTC()
	decidedBy := strings.TrimSpace(decision.DecidedBy)
	if decidedBy == "" {
		decidedBy = "unknown"
	}
	decisionNote := strings.TrimSpace(decision.Note)
	if decisionNote == "" {
		decisionNote = defaultNote
	}

	for i := range data.Requests {
		req := &data.Requests[i]
		if req.ID != requestID {
			continue
		}
		if req.Status != StatusPending {
			return Request{}, fmt.Errorf("request %s is not pending", requestID)
		}

		req.Status = status
		req.DecidedAt = now
		req.DecidedBy = decidedBy
		req.DecisionNote = decisionNote

		if err := b.store.Save(data); err != nil {
			return Request{}, err
		}
		if ch, ok := b.waiters[requestID]; ok {
			ch <- *req
			delete(b.waiters, requestID)
		}
		return *req, nil
	}

	return Request{}, fmt.Errorf("request not found: %s", requestID)
}
