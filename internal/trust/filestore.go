package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
)

const fileLockRetry = 100 * time.Millisecond

// FileStore is a JSON-file-backed PersonalStorage. A file lock held for the
// store's lifetime keeps two processes from mutating the same policy file;
// writes go through an atomic rename so readers never see a torn file.
type FileStore struct {
	path     string
	fileLock *flock.Flock
	mu       sync.Mutex
	policies map[string]*Policy
}

func NewFileStore(ctx context.Context, dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create trust store dir: %w", err)
	}

	s := &FileStore{
		path:     filepath.Join(dir, "policies.json"),
		fileLock: flock.New(filepath.Join(dir, "policies.lock")),
		policies: make(map[string]*Policy),
	}

	locked, err := s.fileLock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return nil, fmt.Errorf("acquire trust store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("trust store at %s is locked by another process", dir)
	}

	if err := s.load(); err != nil {
		s.fileLock.Unlock()
		return nil, err
	}

	slog.Info("Trust file store opened", "path", s.path, "policies", len(s.policies))
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read trust store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.policies); err != nil {
		return fmt.Errorf("decode trust store: %w", err)
	}
	return nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.policies, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *FileStore) Close() error {
	return s.fileLock.Unlock()
}

func (s *FileStore) GetPolicy(ctx context.Context, userID string, domain Domain, action string) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[policyKey(userID, domain, action)]
	if !ok {
		return nil, nil
	}
	clone := *policy
	return &clone, nil
}

func (s *FileStore) UpsertPolicy(ctx context.Context, policy *Policy) (string, error) {
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

	if err := s.save(); err != nil {
		return "", fmt.Errorf("persist policy %s: %w", key, err)
	}
	return policy.ID, nil
}

func (s *FileStore) UpdateTrustScore(ctx context.Context, userID string, domain Domain, action string, delta float64) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[policyKey(userID, domain, action)]
	if !ok {
		return 0, false, nil
	}
	policy.TrustScore = Clamp(policy.TrustScore + delta)
	policy.UpdatedAt = time.Now()

	if err := s.save(); err != nil {
		return 0, false, fmt.Errorf("persist trust score: %w", err)
	}
	return policy.TrustScore, true, nil
}

func (s *FileStore) ResetDomainTrust(ctx context.Context, userID string, domain Domain) (int, error) {
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
	if count == 0 {
		return 0, nil
	}

	if err := s.save(); err != nil {
		return 0, fmt.Errorf("persist domain reset: %w", err)
	}
	return count, nil
}
