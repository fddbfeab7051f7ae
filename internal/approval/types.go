package approval

import (
	"errors"
	"time"
)

// RequestStatus is the lifecycle state of an operator confirmation.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
)

// ErrOperatorTimeout is returned by Await when no decision arrived in time.
var ErrOperatorTimeout = errors.New("operator did not respond in time")

// Request is a persisted operator confirmation record.
type Request struct {
	ID           string        `json:"id"`
	CallID       string        `json:"call_id,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	ToolName     string        `json:"tool_name"`
	ArgsJSON     string        `json:"args_json"`
	Op           string        `json:"op,omitempty"`
	Target       string        `json:"target,omitempty"`
	Risk         string        `json:"risk,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	DecisionNote string        `json:"decision_note,omitempty"`
	Status       RequestStatus `json:"status"`
	RequestedAt  time.Time     `json:"requested_at"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	DecidedAt    time.Time     `json:"decided_at,omitempty"`
	DecidedBy    string        `json:"decided_by,omitempty"`
}

// Approved reports whether the request ended approved.
func (r Request) Approved() bool { return r.Status == StatusApproved }

// CreateInput contains fields needed to open a confirmation.
type CreateInput struct {
	CallID    string
	SessionID string
	ToolName  string
	ArgsJSON  string
	Op        string
	Target    string
	Risk      string
	Reason    string
	TTL       time.Duration
}

// DecisionInput contains fields needed to approve/reject a request.
type DecisionInput struct {
	DecidedBy string
	Note      string
}

// Query filters requests when listing.
type Query struct {
	ID       string
	Status   RequestStatus
	ToolName string
	Limit    int
}
