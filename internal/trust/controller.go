package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/valeworks/valet/internal/concurrency"
	valetErrors "github.com/valeworks/valet/internal/errors"
)

// Controller is the trust-gated action engine. Decide is read-only;
// RecordOutcome and SetMode serialize per policy key so concurrent feedback
// for the same (user, domain, action) cannot lose updates.
type Controller struct {
	store PersonalStorage
	locks *concurrency.KeyedLockManager
}

func NewController(store PersonalStorage) *Controller {
	return &Controller{
		store: store,
		locks: concurrency.NewKeyedLockManager(),
	}
}

// Decide evaluates the policy for (user, domain, action).
//
// No policy defaults to ask. Mode never blocks regardless of trust; auto
// executes unconditionally; draft executes once trust reaches the auto
// threshold; ask always defers to the user.
func (c *Controller) Decide(ctx context.Context, userID string, domain Domain, action string) (*Decision, error) {
	policy, err := c.store.GetPolicy(ctx, userID, domain, action)
	if err != nil {
		return nil, fmt.Errorf("get policy for %s/%s/%s: %w", userID, domain, action, err)
	}

	if policy == nil {
		return &Decision{
			Domain:        domain,
			Action:        action,
			Mode:          ModeAsk,
			TrustScore:    MinTrustScore,
			ShouldExecute: false,
			Reason:        "no policy, defaulting to ask",
		}, nil
	}

	decision := &Decision{
		Domain:     domain,
		Action:     action,
		Mode:       policy.Mode,
		TrustScore: policy.TrustScore,
	}

	switch policy.Mode {
	case ModeNever:
		decision.ShouldExecute = false
		decision.Reason = "mode is never, action blocked"
	case ModeAuto:
		decision.ShouldExecute = true
		decision.Reason = "mode is auto"
	case ModeDraft:
		if policy.TrustScore >= AutoTrustThreshold {
			decision.ShouldExecute = true
			decision.Reason = fmt.Sprintf("trust %.2f meets auto threshold %.2f", policy.TrustScore, AutoTrustThreshold)
		} else {
			decision.ShouldExecute = false
			decision.Reason = fmt.Sprintf("trust %.2f below auto threshold %.2f, drafting for review", policy.TrustScore, AutoTrustThreshold)
		}
	case ModeAsk:
		decision.ShouldExecute = false
		decision.Reason = "mode is ask, awaiting user approval"
	default:
		return nil, valetErrors.InvalidInput(fmt.Sprintf("unknown policy mode %q", policy.Mode))
	}

	return decision, nil
}

// RecordOutcome applies the outcome's fixed delta to the policy's trust
// score, clamped to [MinTrustScore, MaxTrustScore]. When no policy row
// exists the outcome is dropped and ok is false; rows are never created
// implicitly here.
func (c *Controller) RecordOutcome(ctx context.Context, userID string, domain Domain, action string, outcome Outcome) (float64, bool, error) {
	delta, ok := outcome.Delta()
	if !ok {
		return 0, false, valetErrors.InvalidInput(fmt.Sprintf("unknown outcome %q", outcome))
	}

	key := policyKey(userID, domain, action)
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	newScore, found, err := c.store.UpdateTrustScore(ctx, userID, domain, action, delta)
	if err != nil {
		return 0, false, fmt.Errorf("update trust score for %s: %w", key, err)
	}
	if !found {
		slog.Warn("Outcome recorded for missing policy, ignoring",
			"user", userID, "domain", domain, "action", action, "outcome", outcome)
		return 0, false, nil
	}

	slog.Info("Trust score updated",
		"user", userID, "domain", domain, "action", action,
		"outcome", outcome, "delta", delta, "score", newScore)
	return newScore, true, nil
}

// SetMode idempotently creates or updates the policy row for the triple.
// An existing row keeps its trust score; a new row starts at zero.
func (c *Controller) SetMode(ctx context.Context, userID string, domain Domain, action string, mode Mode) (*Policy, error) {
	if !mode.Valid() {
		return nil, valetErrors.InvalidInput(fmt.Sprintf("unknown policy mode %q", mode))
	}

	key := policyKey(userID, domain, action)
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	policy, err := c.store.GetPolicy(ctx, userID, domain, action)
	if err != nil {
		return nil, fmt.Errorf("get policy for %s: %w", key, err)
	}

	if policy == nil {
		policy = &Policy{
			ID:         ulid.Make().String(),
			UserID:     userID,
			Domain:     domain,
			Action:     action,
			TrustScore: MinTrustScore,
		}
	}
	policy.Mode = mode

	if _, err := c.store.UpsertPolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("upsert policy for %s: %w", key, err)
	}

	slog.Info("Policy mode set", "user", userID, "domain", domain, "action", action, "mode", mode)
	return policy, nil
}

// ResetDomain zeroes the trust score of every policy under the domain for
// the user. Modes are left untouched. Returns the number of affected rows.
func (c *Controller) ResetDomain(ctx context.Context, userID string, domain Domain) (int, error) {
	count, err := c.store.ResetDomainTrust(ctx, userID, domain)
	if err != nil {
		return 0, fmt.Errorf("reset domain trust for %s/%s: %w", userID, domain, err)
	}

	slog.Info("Domain trust reset", "user", userID, "domain", domain, "policies", count)
	return count, nil
}
