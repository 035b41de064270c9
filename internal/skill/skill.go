// Package skill defines the capability contract every integration implements
// and the registry that routes intents to registered capabilities.
package skill

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Permission is an advisory capability tag a skill declares in its metadata.
// Declarations are not enforced by the framework; the orchestrator owns
// action execution and may consult them.
type Permission string

const (
	PermissionReadProfile  Permission = "read-profile"
	PermissionReadConfig   Permission = "read-config"
	PermissionSendMessages Permission = "send-messages"
	PermissionManageTasks  Permission = "manage-tasks"
	PermissionNetworkCall  Permission = "network-call"
)

// PermissionSet is the full set of access needs a skill declares.
type PermissionSet []Permission

func (ps PermissionSet) Has(p Permission) bool {
	for _, candidate := range ps {
		if candidate == p {
			return true
		}
	}
	return false
}

// Metadata is the static description of a capability. Name is the unique key
// within one registry; Intents must be non-empty.
type Metadata struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Version     string        `json:"version"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	Intents     []string      `json:"intents"`
}

// Request is one call into a skill.
type Request struct {
	ID      string                 `json:"id"`
	UserID  string                 `json:"user_id"`
	Intent  string                 `json:"intent"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Response is the result of handling a request. When Success is false at
// least one of Message and Error is populated.
type Response struct {
	RequestID string                 `json:"request_id"`
	Success   bool                   `json:"success"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// HeartbeatAction is a deferred action a skill wants the orchestrator to
// perform. Higher priority means more urgent. Actions are never persisted
// by the framework.
type HeartbeatAction struct {
	Skill    string                 `json:"skill"`
	Type     string                 `json:"type"`
	UserID   string                 `json:"user_id"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Priority int                    `json:"priority"`
}

// Status is the lifecycle state of a registered skill.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusReady         Status = "READY"
	StatusError         Status = "ERROR"
)

// Skill is the contract every capability variant implements.
//
// Handle must be safe under concurrent invocation; the registry dispatches
// requests in parallel without serializing per skill. Both Handle and
// OnHeartbeat report ordinary application failures through their return
// values rather than panicking.
type Skill interface {
	// Metadata describes the capability. Pure, no side effects.
	Metadata() Metadata

	// Initialize performs one-time setup. A non-nil error marks the skill
	// ERROR; the registry continues with the remaining skills.
	Initialize(ctx context.Context) error

	// Handle services one request. Application errors come back as a
	// Response with Success=false, never as a transport fault.
	Handle(ctx context.Context, req *Request) *Response

	// OnHeartbeat is called periodically and may propose spontaneous
	// actions for the given users. It must return promptly; internal
	// errors mean "no actions this tick".
	OnHeartbeat(ctx context.Context, userIDs []string) ([]HeartbeatAction, error)

	// SystemPromptFragment returns a short text describing current state
	// for the assistant's context, or "" when not applicable.
	SystemPromptFragment(userID string) string
}

// NewRequestID returns a fresh sortable request id.
func NewRequestID() string {
	return ulid.Make().String()
}

// OK builds a successful response for req.
func OK(req *Request, message string, data map[string]interface{}) *Response {
	resp := &Response{
		Success: true,
		Message: message,
		Data:    data,
	}
	if req != nil {
		resp.RequestID = req.ID
	}
	return resp
}

// Fail builds a failure response for req. The error text is never left
// empty so callers always have something to act on.
func Fail(req *Request, errMsg string) *Response {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	resp := &Response{
		Success: false,
		Error:   errMsg,
	}
	if req != nil {
		resp.RequestID = req.ID
	}
	return resp
}
