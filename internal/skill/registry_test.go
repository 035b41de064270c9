package skill

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSkill struct {
	meta      Metadata
	initErr   error
	handleFn  func(ctx context.Context, req *Request) *Response
	beatFn    func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error)
	fragment  string
	initCalls int
	mu        sync.Mutex
}

func newFakeSkill(name string, intents ...string) *fakeSkill {
	return &fakeSkill{
		meta: Metadata{
			Name:        name,
			Description: "fake skill " + name,
			Version:     "0.0.1",
			Intents:     intents,
		},
	}
}

func (f *fakeSkill) Metadata() Metadata { return f.meta }

func (f *fakeSkill) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeSkill) Handle(ctx context.Context, req *Request) *Response {
	if f.handleFn != nil {
		return f.handleFn(ctx, req)
	}
	return OK(req, "handled by "+f.meta.Name, map[string]interface{}{"skill": f.meta.Name})
}

func (f *fakeSkill) OnHeartbeat(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
	if f.beatFn != nil {
		return f.beatFn(ctx, userIDs)
	}
	return nil, nil
}

func (f *fakeSkill) SystemPromptFragment(userID string) string {
	return f.fragment
}

func TestRegistry_Register_RejectsInvalid(t *testing.T) {
	r := NewRegistry()

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(newFakeSkill("")))
	require.Error(t, r.Register(newFakeSkill("no-intents")))
}

func TestRegistry_Register_DuplicateOverwrites(t *testing.T) {
	r := NewRegistry()

	first := newFakeSkill("echo", "echo")
	second := newFakeSkill("echo", "echo")
	second.fragment = "replacement"

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	r.InitializeAll(context.Background())

	assert.Equal(t, 1, r.Status().TotalSkills)
	assert.Equal(t, []string{"replacement"}, r.PromptFragments("u1"))
}

func TestRegistry_HandleRequest_RoutesByIntent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeSkill("pinger", "ping")))
	require.NoError(t, r.Register(newFakeSkill("echoer", "echo")))
	r.InitializeAll(context.Background())

	resp := r.HandleRequest(context.Background(), &Request{ID: "r1", UserID: "u1", Intent: "ping"})
	require.True(t, resp.Success)
	assert.Equal(t, "pinger", resp.Data["skill"])
	assert.Equal(t, "r1", resp.RequestID)

	resp = r.HandleRequest(context.Background(), &Request{ID: "r2", UserID: "u1", Intent: "echo"})
	require.True(t, resp.Success)
	assert.Equal(t, "echoer", resp.Data["skill"])
}

func TestRegistry_HandleRequest_UnknownIntent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeSkill("pinger", "ping")))
	r.InitializeAll(context.Background())

	resp := r.HandleRequest(context.Background(), &Request{ID: "r1", Intent: "bogus"})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "No skill found")
}

func TestRegistry_HandleRequest_PanickingSkill(t *testing.T) {
	r := NewRegistry()
	s := newFakeSkill("flaky", "boom")
	s.handleFn = func(ctx context.Context, req *Request) *Response {
		panic("unexpected")
	}
	require.NoError(t, r.Register(s))
	r.InitializeAll(context.Background())

	resp := r.HandleRequest(context.Background(), &Request{ID: "r1", Intent: "boom"})
	require.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestRegistry_InitializeAll_IsolatesFailures(t *testing.T) {
	r := NewRegistry()
	good := newFakeSkill("good", "good_intent")
	bad := newFakeSkill("bad", "bad_intent")
	bad.initErr = fmt.Errorf("setup failed")

	require.NoError(t, r.Register(good))
	require.NoError(t, r.Register(bad))

	results := r.InitializeAll(context.Background())
	assert.True(t, results["good"])
	assert.False(t, results["bad"])

	summary := r.Status()
	assert.Equal(t, 2, summary.TotalSkills)
	assert.Equal(t, 1, summary.ReadyCount)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, []string{"good"}, summary.SkillsByStatus[StatusReady])
	assert.Equal(t, []string{"bad"}, summary.SkillsByStatus[StatusError])

	// ERROR skills are excluded from routing.
	resp := r.HandleRequest(context.Background(), &Request{Intent: "bad_intent"})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "No skill found")

	assert.Equal(t, []string{"good_intent"}, r.Intents())
}

func TestRegistry_TriggerHeartbeat_Empty(t *testing.T) {
	r := NewRegistry()

	actions := r.TriggerHeartbeat(context.Background(), []string{})
	require.NotNil(t, actions)
	assert.Empty(t, actions)
}

func TestRegistry_TriggerHeartbeat_AggregatesAndSorts(t *testing.T) {
	r := NewRegistry()

	low := newFakeSkill("low", "low_intent")
	low.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		return []HeartbeatAction{{Skill: "low", Type: "nudge", Priority: 1}}, nil
	}
	high := newFakeSkill("high", "high_intent")
	high.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		return []HeartbeatAction{
			{Skill: "high", Type: "alert", Priority: 9},
			{Skill: "high", Type: "remind", Priority: 3},
		}, nil
	}

	require.NoError(t, r.Register(low))
	require.NoError(t, r.Register(high))
	r.InitializeAll(context.Background())

	actions := r.TriggerHeartbeat(context.Background(), []string{"u1"})
	require.Len(t, actions, 3)
	assert.Equal(t, 9, actions[0].Priority)
	assert.Equal(t, 3, actions[1].Priority)
	assert.Equal(t, 1, actions[2].Priority)
}

func TestRegistry_TriggerHeartbeat_IsolatesFailures(t *testing.T) {
	r := NewRegistry()

	failing := newFakeSkill("failing", "fail_intent")
	failing.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		return nil, fmt.Errorf("backend unavailable")
	}
	panicking := newFakeSkill("panicking", "panic_intent")
	panicking.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		panic("heartbeat blew up")
	}
	healthy := newFakeSkill("healthy", "ok_intent")
	healthy.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		return []HeartbeatAction{{Skill: "healthy", Type: "ok", Priority: 2}}, nil
	}

	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(panicking))
	require.NoError(t, r.Register(healthy))
	r.InitializeAll(context.Background())

	actions := r.TriggerHeartbeat(context.Background(), []string{"u1"})
	require.Len(t, actions, 1)
	assert.Equal(t, "healthy", actions[0].Skill)
}

func TestRegistry_TriggerHeartbeat_SlowSkillBudget(t *testing.T) {
	r := NewRegistryWithBudget(50 * time.Millisecond)

	slow := newFakeSkill("slow", "slow_intent")
	slow.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		select {
		case <-time.After(2 * time.Second):
			return []HeartbeatAction{{Skill: "slow", Type: "late", Priority: 99}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fast := newFakeSkill("fast", "fast_intent")
	fast.beatFn = func(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
		return []HeartbeatAction{{Skill: "fast", Type: "on_time", Priority: 1}}, nil
	}

	require.NoError(t, r.Register(slow))
	require.NoError(t, r.Register(fast))
	r.InitializeAll(context.Background())

	start := time.Now()
	actions := r.TriggerHeartbeat(context.Background(), []string{"u1"})
	elapsed := time.Since(start)

	require.Len(t, actions, 1)
	assert.Equal(t, "fast", actions[0].Skill)
	assert.Less(t, elapsed, time.Second, "slow skill must not stall the tick")
}

func TestRegistry_ListAndGetSkill(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeSkill("alpha", "a")))
	require.NoError(t, r.Register(newFakeSkill("beta", "b")))

	metas := r.ListSkills()
	require.Len(t, metas, 2)
	assert.Equal(t, "alpha", metas[0].Name)
	assert.Equal(t, "beta", metas[1].Name)

	meta := r.GetSkill("beta")
	require.NotNil(t, meta)
	assert.Equal(t, "beta", meta.Name)

	assert.Nil(t, r.GetSkill("missing"))
}

func TestRegistry_PromptFragments_RegistrationOrder(t *testing.T) {
	r := NewRegistry()

	first := newFakeSkill("first", "f")
	first.fragment = "first fragment"
	silent := newFakeSkill("silent", "s")
	errored := newFakeSkill("errored", "e")
	errored.fragment = "should not appear"
	errored.initErr = fmt.Errorf("nope")
	last := newFakeSkill("last", "l")
	last.fragment = "last fragment"

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(silent))
	require.NoError(t, r.Register(errored))
	require.NoError(t, r.Register(last))
	r.InitializeAll(context.Background())

	assert.Equal(t, []string{"first fragment", "last fragment"}, r.PromptFragments("u1"))
}

func TestRegistry_ConcurrentHandleRequests(t *testing.T) {
	r := NewRegistry()

	var calls sync.Map
	s := newFakeSkill("counter", "count")
	s.handleFn = func(ctx context.Context, req *Request) *Response {
		calls.Store(req.ID, true)
		return OK(req, "counted", nil)
	}
	require.NoError(t, r.Register(s))
	r.InitializeAll(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := r.HandleRequest(context.Background(), &Request{
				ID:     fmt.Sprintf("req-%d", i),
				Intent: "count",
			})
			assert.True(t, resp.Success)
		}(i)
	}
	wg.Wait()

	total := 0
	calls.Range(func(_, _ interface{}) bool {
		total++
		return true
	})
	assert.Equal(t, 50, total)
}
