package skill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/valeworks/valet/internal/concurrency"
)

const DefaultHeartbeatBudget = 10 * time.Second

// StatusSummary is a point-in-time view of the registry's lifecycle state.
type StatusSummary struct {
	TotalSkills    int                 `json:"total_skills"`
	ReadyCount     int                 `json:"ready_count"`
	ErrorCount     int                 `json:"error_count"`
	SkillsByStatus map[Status][]string `json:"skills_by_status"`
}

type entry struct {
	skill  Skill
	meta   Metadata
	status Status
}

// Registry is the in-process catalogue of skills. It owns lifecycle state
// and intent routing. One explicitly constructed instance is owned by the
// server process; there is no ambient singleton.
type Registry struct {
	mu              sync.RWMutex
	entries         map[string]*entry
	order           []string // registration order
	routes          map[string]string
	heartbeatBudget time.Duration
}

func NewRegistry() *Registry {
	return NewRegistryWithBudget(DefaultHeartbeatBudget)
}

// NewRegistryWithBudget sets the per-skill time budget used during
// heartbeat fan-out.
func NewRegistryWithBudget(budget time.Duration) *Registry {
	if budget <= 0 {
		budget = DefaultHeartbeatBudget
	}
	return &Registry{
		entries:         make(map[string]*entry),
		routes:          make(map[string]string),
		heartbeatBudget: budget,
	}
}

// Register adds a skill to the catalogue. A duplicate name overwrites the
// previous registration, matching the rest of the lifecycle where the last
// wiring wins.
func (r *Registry) Register(s Skill) error {
	if s == nil {
		return fmt.Errorf("skill cannot be nil")
	}
	meta := s.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("skill name cannot be empty")
	}
	if len(meta.Intents) == 0 {
		return fmt.Errorf("skill %s declares no intents", meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[meta.Name]; exists {
		slog.Warn("Duplicate skill detected, overwriting", "name", meta.Name)
	} else {
		r.order = append(r.order, meta.Name)
	}

	r.entries[meta.Name] = &entry{
		skill:  s,
		meta:   meta,
		status: StatusUninitialized,
	}

	slog.Debug("Registered skill", "name", meta.Name, "intents", meta.Intents, "permissions", meta.Permissions)
	return nil
}

// InitializeAll calls Initialize on every registered skill exactly once and
// records the result. An individual failure marks that skill ERROR and does
// not abort the rest. The routing table is rebuilt from READY skills.
func (r *Registry) InitializeAll(ctx context.Context) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make(map[string]bool, len(r.entries))
	for _, name := range r.order {
		e := r.entries[name]
		if err := e.skill.Initialize(ctx); err != nil {
			e.status = StatusError
			results[name] = false
			slog.Error("Skill initialization failed", "name", name, "error", err)
			continue
		}
		e.status = StatusReady
		results[name] = true
		slog.Info("Skill initialized", "name", name)
	}

	r.rebuildRoutesLocked()
	return results
}

func (r *Registry) rebuildRoutesLocked() {
	r.routes = make(map[string]string)
	for _, name := range r.order {
		e := r.entries[name]
		if e.status != StatusReady {
			continue
		}
		for _, intent := range e.meta.Intents {
			if owner, taken := r.routes[intent]; taken {
				slog.Warn("Intent declared by multiple skills, first registration wins",
					"intent", intent, "owner", owner, "ignored", name)
				continue
			}
			r.routes[intent] = name
		}
	}
}

// HandleRequest routes a request to the READY skill owning its intent.
// An unknown intent is a data-level failure, not a transport fault.
func (r *Registry) HandleRequest(ctx context.Context, req *Request) *Response {
	if req == nil {
		return Fail(nil, "request cannot be nil")
	}
	if req.Intent == "" {
		return Fail(req, "request intent cannot be empty")
	}

	r.mu.RLock()
	name, ok := r.routes[req.Intent]
	var target Skill
	if ok {
		target = r.entries[name].skill
	}
	r.mu.RUnlock()

	if target == nil {
		return Fail(req, fmt.Sprintf("No skill found for intent %q", req.Intent))
	}

	return r.dispatch(ctx, name, target, req)
}

// dispatch isolates a panicking skill so it degrades to a failure response
// instead of taking down the caller.
func (r *Registry) dispatch(ctx context.Context, name string, s Skill, req *Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Skill panicked while handling request", "skill", name, "intent", req.Intent, "panic", rec)
			resp = Fail(req, fmt.Sprintf("skill %s failed internally", name))
		}
	}()

	resp = s.Handle(ctx, req)
	if resp == nil {
		resp = Fail(req, fmt.Sprintf("skill %s returned no response", name))
	}
	return resp
}

// TriggerHeartbeat invokes OnHeartbeat on every READY skill concurrently.
// Each skill gets a bounded time budget; a slow, failing, or panicking
// skill contributes zero actions and does not block the others. The
// combined result is sorted by priority descending and is never nil.
func (r *Registry) TriggerHeartbeat(ctx context.Context, userIDs []string) []HeartbeatAction {
	r.mu.RLock()
	ready := make([]*entry, 0, len(r.entries))
	for _, name := range r.order {
		if e := r.entries[name]; e.status == StatusReady {
			ready = append(ready, e)
		}
	}
	budget := r.heartbeatBudget
	r.mu.RUnlock()

	actions := make([]HeartbeatAction, 0)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, e := range ready {
		e := e
		wg.Add(1)
		concurrency.SafeGo(func() {
			defer wg.Done()

			tickCtx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			done := make(chan []HeartbeatAction, 1)
			concurrency.SafeGo(func() {
				got, err := e.skill.OnHeartbeat(tickCtx, userIDs)
				if err != nil {
					slog.Warn("Skill heartbeat failed", "skill", e.meta.Name, "error", err)
					got = nil
				}
				done <- got
			}, func(interface{}) {
				done <- nil
			})

			select {
			case got := <-done:
				if len(got) > 0 {
					mu.Lock()
					actions = append(actions, got...)
					mu.Unlock()
				}
			case <-tickCtx.Done():
				slog.Warn("Skill heartbeat exceeded budget", "skill", e.meta.Name, "budget", budget)
			}
		}, nil)
	}

	wg.Wait()

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})
	return actions
}

// Status reports skill counts and names grouped by lifecycle state.
func (r *Registry) Status() StatusSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := StatusSummary{
		TotalSkills:    len(r.entries),
		SkillsByStatus: make(map[Status][]string),
	}
	for _, name := range r.order {
		e := r.entries[name]
		summary.SkillsByStatus[e.status] = append(summary.SkillsByStatus[e.status], name)
		switch e.status {
		case StatusReady:
			summary.ReadyCount++
		case StatusError:
			summary.ErrorCount++
		}
	}
	return summary
}

// ListSkills returns metadata snapshots in registration order.
func (r *Registry) ListSkills() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]Metadata, 0, len(r.entries))
	for _, name := range r.order {
		metas = append(metas, r.entries[name].meta)
	}
	return metas
}

// GetSkill returns the metadata for name, or nil when absent.
func (r *Registry) GetSkill(name string) *Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	meta := e.meta
	return &meta
}

// PromptFragments collects non-empty system prompt fragments from READY
// skills in registration order.
func (r *Registry) PromptFragments(userID string) []string {
	r.mu.RLock()
	ready := make([]*entry, 0, len(r.entries))
	for _, name := range r.order {
		if e := r.entries[name]; e.status == StatusReady {
			ready = append(ready, e)
		}
	}
	r.mu.RUnlock()

	fragments := make([]string, 0, len(ready))
	for _, e := range ready {
		if fragment := e.skill.SystemPromptFragment(userID); fragment != "" {
			fragments = append(fragments, fragment)
		}
	}
	return fragments
}

// Intents returns the flattened intent set declared by READY skills.
func (r *Registry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intents := make([]string, 0, len(r.routes))
	for intent := range r.routes {
		intents = append(intents, intent)
	}
	sort.Strings(intents)
	return intents
}
