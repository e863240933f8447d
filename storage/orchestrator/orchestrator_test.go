package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samihalawa/psp-go/internal/resilience"
	"github.com/samihalawa/psp-go/storage"
	"github.com/samihalawa/psp-go/storage/filesystem"
	"github.com/samihalawa/psp-go/storage/orchestrator"
	"github.com/samihalawa/psp-go/types"
)

// flakyProvider fails every call until revived.
type flakyProvider struct {
	healthy bool
}

func (f *flakyProvider) Name() string       { return "flaky" }
func (f *flakyProvider) Kind() storage.Kind { return storage.KindFilesystem }

func (f *flakyProvider) Store(ctx context.Context, id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	if !f.healthy {
		return storage.StoreResult{Success: false, Error: "backend down"}
	}
	return storage.StoreResult{Success: true, Key: id}
}

func (f *flakyProvider) Retrieve(ctx context.Context, id string, opts *storage.RetrieveOptions) storage.RetrieveResult {
	if !f.healthy {
		return storage.RetrieveResult{Success: false, Error: "backend down"}
	}
	return storage.NotFoundResult(id)
}

func (f *flakyProvider) Delete(ctx context.Context, id string) bool { return f.healthy }
func (f *flakyProvider) List(ctx context.Context, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	return nil, nil
}
func (f *flakyProvider) Exists(ctx context.Context, id string) bool { return false }
func (f *flakyProvider) HealthCheck(ctx context.Context) storage.Health {
	return storage.Health{Healthy: f.healthy, Provider: "flaky"}
}
func (f *flakyProvider) Metrics() storage.Metrics { return storage.Metrics{} }

func fsProvider(t *testing.T) storage.Provider {
	t.Helper()
	p, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	return p
}

func TestRegisterAndDefaultRouting(t *testing.T) {
	o := orchestrator.New()
	ctx := context.Background()

	primary := fsProvider(t)
	secondary := fsProvider(t)
	require.NoError(t, o.Register("primary", primary))
	require.NoError(t, o.Register("secondary", secondary))

	// First registration routes by default.
	res := o.Store(ctx, "sess_route", []byte(`{"v":1}`), nil)
	require.True(t, res.Success, res.Error)
	assert.True(t, primary.Exists(ctx, "sess_route"))
	assert.False(t, secondary.Exists(ctx, "sess_route"))

	got := o.Retrieve(ctx, "sess_route", nil)
	require.True(t, got.Success, got.Error)
	assert.Equal(t, []byte(`{"v":1}`), got.Data)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	o := orchestrator.New()
	require.NoError(t, o.Register("primary", fsProvider(t)))
	assert.Error(t, o.Register("primary", fsProvider(t)))
	assert.Error(t, o.Register("", nil))
}

func TestSetDefault(t *testing.T) {
	o := orchestrator.New()
	ctx := context.Background()

	primary := fsProvider(t)
	secondary := fsProvider(t)
	require.NoError(t, o.Register("primary", primary))
	require.NoError(t, o.Register("secondary", secondary))
	require.NoError(t, o.SetDefault("secondary"))
	assert.Error(t, o.SetDefault("nonexistent"))

	require.True(t, o.Store(ctx, "sess_x", []byte("{}"), nil).Success)
	assert.True(t, secondary.Exists(ctx, "sess_x"))
	assert.False(t, primary.Exists(ctx, "sess_x"))
}

func TestOnRoutesExplicitly(t *testing.T) {
	o := orchestrator.New()
	ctx := context.Background()

	primary := fsProvider(t)
	secondary := fsProvider(t)
	require.NoError(t, o.Register("primary", primary))
	require.NoError(t, o.Register("secondary", secondary))

	view, err := o.On("secondary")
	require.NoError(t, err)
	require.True(t, view.Store(ctx, "sess_on", []byte("{}"), nil).Success)
	assert.True(t, secondary.Exists(ctx, "sess_on"))

	_, err = o.On("nonexistent")
	assert.Error(t, err)
}

func TestEmptyOrchestratorFailsGracefully(t *testing.T) {
	o := orchestrator.New()
	ctx := context.Background()

	res := o.Store(ctx, "sess_x", []byte("{}"), nil)
	assert.False(t, res.Success)

	got := o.Retrieve(ctx, "sess_x", nil)
	assert.False(t, got.Success)

	assert.False(t, o.Delete(ctx, "sess_x"))
	assert.False(t, o.Exists(ctx, "sess_x"))

	h := o.HealthCheck(ctx)
	assert.False(t, h.Healthy)
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	o := orchestrator.New(orchestrator.WithBreakerSettings(resilience.Settings{
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}))
	ctx := context.Background()

	flaky := &flakyProvider{healthy: false}
	require.NoError(t, o.Register("flaky", flaky))

	for i := 0; i < 2; i++ {
		res := o.Store(ctx, "sess_x", []byte("{}"), nil)
		assert.False(t, res.Success)
	}

	// Circuit is open: calls are rejected before reaching the backend.
	flaky.healthy = true
	res := o.Store(ctx, "sess_x", []byte("{}"), nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "circuit breaker")

	health := o.HealthCheckAll(ctx)
	require.Contains(t, health, "flaky")
	assert.Equal(t, "open", health["flaky"].Details["breaker"])
}

func TestNotFoundRetrieveDoesNotTripBreaker(t *testing.T) {
	o := orchestrator.New(orchestrator.WithBreakerSettings(resilience.Settings{
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
	}))
	ctx := context.Background()
	require.NoError(t, o.Register("fs", fsProvider(t)))

	for i := 0; i < 5; i++ {
		got := o.Retrieve(ctx, "sess_missing", nil)
		assert.True(t, got.NotFound)
	}

	health := o.HealthCheckAll(ctx)
	assert.Equal(t, "closed", health["fs"].Details["breaker"])
}

func TestHealthCheckAllAndAllMetrics(t *testing.T) {
	o := orchestrator.New()
	ctx := context.Background()

	require.NoError(t, o.Register("fs", fsProvider(t)))
	require.NoError(t, o.Register("flaky", &flakyProvider{healthy: false}))

	health := o.HealthCheckAll(ctx)
	require.Len(t, health, 2)
	assert.True(t, health["fs"].Healthy)
	assert.False(t, health["flaky"].Healthy)

	require.True(t, o.Store(ctx, "sess_m", []byte("{}"), nil).Success)
	metrics := o.AllMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, int64(1), metrics["fs"].Operations)
}

func TestProvidersListsNames(t *testing.T) {
	o := orchestrator.New()
	require.NoError(t, o.Register("a", fsProvider(t)))
	require.NoError(t, o.Register("b", fsProvider(t)))
	assert.ElementsMatch(t, []string{"a", "b"}, o.Providers())
}

func TestKindAndName(t *testing.T) {
	o := orchestrator.New()
	assert.Equal(t, storage.KindMulti, o.Kind())
	assert.Equal(t, "multi", o.Name())
}
