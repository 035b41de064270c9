// Package rpc exposes a SkillRegistry over an HTTP boundary so skills can
// run out-of-process from the orchestrator. Client and Server share this
// wire contract.
package rpc

import "github.com/valeworks/valet/internal/skill"

// SecretHeader carries the shared secret on every authenticated call.
const SecretHeader = "X-Valet-Secret"

const apiPrefix = "/api/v1"

type HealthResponse struct {
	Status string `json:"status"`
}

type HeartbeatRequest struct {
	UserIDs []string `json:"user_ids"`
}

type HeartbeatResponse struct {
	Actions []skill.HeartbeatAction `json:"actions"`
}

type IntentsResponse struct {
	Intents []string `json:"intents"`
}

type SkillListResponse struct {
	Skills []skill.Metadata `json:"skills"`
}

type FragmentsResponse struct {
	Fragments []string `json:"fragments"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
