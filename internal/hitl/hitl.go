// Package hitl implements the human-in-the-loop coordinator: pausing a
// node for external approval, resuming on response, or timing out.
//
// Grounded on the teacher's JoinEvaluator (internal/application/executor/
// join.go) for the "register a pending item, race a deadline, mark
// resolved" state-machine shape, and internal/infrastructure/websocket/
// hub.go's mutex-guarded registry pattern.
package hitl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowcraft/engine/internal/retry"
)

// Decision is the human's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Request describes one pending human-approval request.
type Request struct {
	ID         string
	RunID      string
	NodeID     string
	Prompt     string
	Payload    any
	CreatedAt  time.Time
}

// Response is what a human (or an automated approver) submits back.
type Response struct {
	RequestID string
	Decision  Decision
	Comment   string
	Payload   any
}

// Adapter is the contract the scheduler calls into when a node's HITL
// config is enabled. Implementations decide how the request is surfaced
// (websocket push, email, Slack link) and how responses arrive.
type Adapter interface {
	// Request registers a new pending request and returns an opaque token
	// the caller later presents to Await. Implementations typically
	// deliver req to an external channel as part of this call.
	Request(ctx context.Context, req Request) (token string, err error)
	// Await blocks until the request behind token is resolved via Respond,
	// or ctx is done.
	Await(ctx context.Context, token string) (Response, error)
	// Respond resolves the pending request with the given id with a
	// decision. Safe to call from any goroutine, typically an inbound HTTP
	// handler.
	Respond(requestID string, resp Response) error
}

var ErrUnknownToken = errors.New("hitl: unknown or already-resolved token")
var ErrAlreadyResolved = errors.New("hitl: token already resolved")

// MemoryAdapter is the in-memory reference Adapter: requests are held in a
// process-local map and resolved by a direct call to Respond (e.g. from a
// test, or a thin HTTP handler wired by the caller).
type MemoryAdapter struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	signer  *Signer
}

type pendingEntry struct {
	req  Request
	done chan Response
	once sync.Once
}

// NewMemoryAdapter returns a MemoryAdapter whose tokens are signed with a
// process-local HS256 key, so a durable deployment can safely hand the
// token to an external channel without trusting the raw request id as an
// implicit authorization.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{pending: make(map[string]*pendingEntry), signer: NewSigner()}
}

func (a *MemoryAdapter) Request(ctx context.Context, req Request) (string, error) {
	token, err := a.signer.Sign(req.ID)
	if err != nil {
		return "", retry.New(retry.KindUnknown, req.NodeID, "failed to sign hitl token", err)
	}
	a.mu.Lock()
	a.pending[req.ID] = &pendingEntry{req: req, done: make(chan Response, 1)}
	a.mu.Unlock()
	return token, nil
}

func (a *MemoryAdapter) Await(ctx context.Context, token string) (Response, error) {
	reqID, err := a.signer.Verify(token)
	if err != nil {
		return Response{}, ErrUnknownToken
	}
	a.mu.Lock()
	entry, ok := a.pending[reqID]
	a.mu.Unlock()
	if !ok {
		return Response{}, ErrUnknownToken
	}
	select {
	case resp := <-entry.done:
		a.mu.Lock()
		delete(a.pending, reqID)
		a.mu.Unlock()
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Respond resolves the request identified by its raw id (not the signed
// token, the id is what's stored internally; callers holding only the
// token should verify it first via the same Signer before calling this).
func (a *MemoryAdapter) Respond(requestID string, resp Response) error {
	a.mu.Lock()
	entry, ok := a.pending[requestID]
	a.mu.Unlock()
	if !ok {
		return ErrUnknownToken
	}
	sent := false
	entry.once.Do(func() {
		entry.done <- resp
		sent = true
	})
	if !sent {
		return ErrAlreadyResolved
	}
	return nil
}

// VerifyToken exposes the adapter's signer so an external HTTP handler can
// recover the request id from an inbound approval link before calling
// Respond.
func (a *MemoryAdapter) VerifyToken(token string) (string, error) {
	return a.signer.Verify(token)
}
