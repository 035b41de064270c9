// Package trust decides whether a proposed autonomous action executes,
// is drafted for review, is deferred to the user, or is blocked, based on
// a per-(user, domain, action) policy whose trust score adapts from user
// feedback.
package trust

import "time"

// Mode is the governing autonomy rule for one (user, domain, action).
// Modes change only through SetMode; trust score drift never changes them.
type Mode string

const (
	ModeNever Mode = "never"
	ModeAsk   Mode = "ask"
	ModeDraft Mode = "draft"
	ModeAuto  Mode = "auto"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeNever, ModeAsk, ModeDraft, ModeAuto:
		return true
	}
	return false
}

// Domain groups related actions, e.g. "email" or "calendar".
type Domain string

// Outcome is the user's verdict on a previously taken or drafted action.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeMinorEdit Outcome = "minor_edit"
	OutcomeMajorEdit Outcome = "major_edit"
	OutcomeRejected  Outcome = "rejected"
)

const (
	// AutoTrustThreshold is the score at which a draft-mode action starts
	// executing without review.
	AutoTrustThreshold = 0.85

	MinTrustScore = 0.0
	MaxTrustScore = 0.95
)

var outcomeDeltas = map[Outcome]float64{
	OutcomeApproved:  +0.05,
	OutcomeMinorEdit: -0.02,
	OutcomeMajorEdit: -0.10,
	OutcomeRejected:  -0.20,
}

// Delta returns the fixed trust adjustment for an outcome.
func (o Outcome) Delta() (float64, bool) {
	d, ok := outcomeDeltas[o]
	return d, ok
}

// Policy is the autonomy rule for one (user, domain, action) triple.
type Policy struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Domain     Domain    `json:"domain"`
	Action     string    `json:"action"`
	Mode       Mode      `json:"mode"`
	TrustScore float64   `json:"trust_score"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Decision is the result of evaluating a policy. It is a pure function of
// (mode, trust score) and carries no side effects.
type Decision struct {
	Domain        Domain  `json:"domain"`
	Action        string  `json:"action"`
	Mode          Mode    `json:"mode"`
	TrustScore    float64 `json:"trust_score"`
	ShouldExecute bool    `json:"should_execute"`
	Reason        string  `json:"reason"`
}

// Clamp bounds a trust score to [MinTrustScore, MaxTrustScore].
func Clamp(score float64) float64 {
	if score < MinTrustScore {
		return MinTrustScore
	}
	if score > MaxTrustScore {
		return MaxTrustScore
	}
	return score
}
