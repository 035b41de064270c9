package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valeworks/valet/internal/config"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type recordingComponent struct {
	name    string
	deps    []string
	initErr error
	log     *eventLog

	mu      sync.Mutex
	stopped bool
}

func newRecordingComponent(name string, log *eventLog, deps ...string) *recordingComponent {
	return &recordingComponent{name: name, deps: deps, log: log}
}

func (c *recordingComponent) record(event string) {
	c.log.add(c.name + ":" + event)
}

func (c *recordingComponent) Name() string           { return c.name }
func (c *recordingComponent) Dependencies() []string { return c.deps }

func (c *recordingComponent) Init(ctx context.Context) error {
	c.record("init")
	return c.initErr
}

func (c *recordingComponent) Start(ctx context.Context) error {
	c.record("start")
	return nil
}

func (c *recordingComponent) Stop(ctx context.Context) error {
	c.record("stop")
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *recordingComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return &ComponentHealth{Name: c.name, Healthy: true}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Daemon: config.DaemonConfig{
			ShutdownTimeout:        "5s",
			HealthCheckInterval:    "1h",
			StartupShutdownTimeout: "5s",
		},
	}
}

func TestNewDaemon_NilConfig(t *testing.T) {
	_, err := NewDaemon(nil)
	require.Error(t, err)
}

func TestDaemon_StartStop_InitOrderFollowsDependencies(t *testing.T) {
	d, err := NewDaemon(testConfig())
	require.NoError(t, err)

	log := &eventLog{}
	storage := newRecordingComponent("Storage", log)
	registry := newRecordingComponent("Registry", log, "Storage")
	server := newRecordingComponent("Server", log, "Registry")

	// Registered out of dependency order on purpose.
	d.AddComponent(server)
	d.AddComponent(storage)
	d.AddComponent(registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return d.Health() == StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never shut down")
	}

	assert.Equal(t, StatusStopped, d.Health())

	// Dependencies initialize before their dependents.
	events := log.snapshot()
	indexOf := func(event string) int {
		for i, e := range events {
			if e == event {
				return i
			}
		}
		t.Fatalf("event %s never recorded", event)
		return -1
	}
	assert.Less(t, indexOf("Storage:init"), indexOf("Registry:init"))
	assert.Less(t, indexOf("Registry:init"), indexOf("Server:init"))

	// Shutdown runs in reverse registration order.
	assert.Less(t, indexOf("Registry:stop"), indexOf("Storage:stop"))
	assert.Less(t, indexOf("Storage:stop"), indexOf("Server:stop"))
}

func TestDaemon_Start_MissingDependency(t *testing.T) {
	d, err := NewDaemon(testConfig())
	require.NoError(t, err)

	d.AddComponent(newRecordingComponent("Server", &eventLog{}, "Registry"))

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestDaemon_Start_CircularDependency(t *testing.T) {
	d, err := NewDaemon(testConfig())
	require.NoError(t, err)

	log := &eventLog{}
	d.AddComponent(newRecordingComponent("A", log, "B"))
	d.AddComponent(newRecordingComponent("B", log, "A"))

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestDaemon_Start_InitFailureRollsBack(t *testing.T) {
	d, err := NewDaemon(testConfig())
	require.NoError(t, err)

	log := &eventLog{}
	good := newRecordingComponent("Good", log)
	bad := newRecordingComponent("Bad", log, "Good")
	bad.initErr = fmt.Errorf("broken")

	d.AddComponent(good)
	d.AddComponent(bad)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad init failed")

	good.mu.Lock()
	stopped := good.stopped
	good.mu.Unlock()
	assert.True(t, stopped, "initialized components must be rolled back")
	assert.Equal(t, StatusStopped, d.Health())
}

func TestDaemon_Component(t *testing.T) {
	d, err := NewDaemon(testConfig())
	require.NoError(t, err)

	comp := newRecordingComponent("Registry", &eventLog{})
	d.AddComponent(comp)

	assert.Equal(t, comp, d.Component("Registry"))
	assert.Nil(t, d.Component("Missing"))
}

func TestDaemon_ComponentHealth(t *testing.T) {
	d, err := NewDaemon(testConfig())
	require.NoError(t, err)

	log := &eventLog{}
	d.AddComponent(newRecordingComponent("Registry", log))
	d.AddComponent(newRecordingComponent("Server", log))

	healths := d.ComponentHealth()
	require.Len(t, healths, 2)
	assert.True(t, healths["Registry"].Healthy)
	assert.True(t, healths["Server"].Healthy)
}
