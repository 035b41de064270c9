package trust

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PersonalStorage persists policies. GetPolicy returns (nil, nil) when no
// row exists. UpdateTrustScore applies a delta with clamping and reports
// ok=false when no row exists; implementations must make the
// read-modify-write atomic for a given (user, domain, action) key.
type PersonalStorage interface {
	GetPolicy(ctx context.Context, userID string, domain Domain, action string) (*Policy, error)
	UpsertPolicy(ctx context.Context, policy *Policy) (string, error)
	UpdateTrustScore(ctx context.Context, userID string, domain Domain, action string, delta float64) (float64, bool, error)
	ResetDomainTrust(ctx context.Context, userID string, domain Domain) (int, error)
}

// MemoryStore is a map-backed PersonalStorage for tests and embedded use.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*Policy),
	}
}

func policyKey(userID string, domain Domain, action string) string {
	return userID + "|" + string(domain) + "|" + action
}

func (s *MemoryStore) GetPolicy(ctx context.Context, userID string, domain Domain, action string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[policyKey(userID, domain, action)]
	if !ok {
		return nil, nil
	}
	clone := *policy
	return &clone, nil
}

func (s *MemoryStore) UpsertPolicy(ctx context.Context, policy *Policy) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := policyKey(policy.UserID, policy.Domain, policy.Action)
	if existing, ok := s.policies[key]; ok {
		policy.ID = existing.ID
	} else if policy.ID == "" {
		policy.ID = ulid.Make().String()
	}
	policy.UpdatedAt = time.Now()

	clone := *policy
	s.policies[key] = &clone
	return policy.ID, nil
}

func (s *MemoryStore) UpdateTrustScore(ctx context.Context, userID string, domain Domain, action string, delta float64) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[policyKey(userID, domain, action)]
	if !ok {
		return 0, false, nil
	}
	policy.TrustScore = Clamp(policy.TrustScore + delta)
	policy.UpdatedAt = time.Now()
	return policy.TrustScore, true, nil
}

func (s *MemoryStore) ResetDomainTrust(ctx context.Context, userID string, domain Domain) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, policy := range s.policies {
		if policy.UserID == userID && policy.Domain == domain {
			policy.TrustScore = MinTrustScore
			policy.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}
