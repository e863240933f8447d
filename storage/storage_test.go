package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samihalawa/psp-go/types"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"filesystem": KindFilesystem,
		"fs":         KindFilesystem,
		"redis":      KindRedis,
		"kv":         KindRedis,
		"object":     KindObject,
		"s3":         KindObject,
		"multi":      KindMulti,
	}
	for name, want := range cases {
		got, err := ParseKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseKind("carrier-pigeon")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "filesystem", KindFilesystem.String())
	assert.Equal(t, "redis", KindRedis.String())
	assert.Equal(t, "object", KindObject.String())
	assert.Equal(t, "multi", KindMulti.String())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte(`{"k":"v"}`)

	env, err := NewEnvelope("sess_env", payload, nil)
	require.NoError(t, err)
	assert.Equal(t, "json", env.Encoding)
	assert.Nil(t, env.ExpiresAt)

	out, err := env.Open()
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEnvelopeCompression(t *testing.T) {
	payload := []byte(`{"localStorage":{"https://example.com":{"theme":"dark","lang":"en"}}}`)

	env, err := NewEnvelope("sess_z", payload, &StoreOptions{Compress: true})
	require.NoError(t, err)
	assert.Equal(t, "zstd", env.Encoding)
	assert.NotEqual(t, payload, env.Payload)

	out, err := env.Open()
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEnvelopeExpiry(t *testing.T) {
	env, err := NewEnvelope("sess_ttl", []byte("{}"), &StoreOptions{TTL: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, env.ExpiresAt)

	assert.False(t, env.Expired(env.StoredAt))
	assert.False(t, env.Expired(env.StoredAt.Add(30*time.Second)))
	assert.True(t, env.Expired(env.StoredAt.Add(2*time.Minute)))
}

func TestEnvelopeSummarySynthesizes(t *testing.T) {
	env, err := NewEnvelope("sess_sum", []byte("{}"), nil)
	require.NoError(t, err)

	md := env.Summary()
	assert.Equal(t, "sess_sum", md.ID)
	assert.Equal(t, env.StoredAt, md.CreatedAt)

	withMeta, err := NewEnvelope("sess_sum", []byte("{}"), &StoreOptions{
		Metadata: &types.SessionMetadata{ID: "sess_sum", Name: "named"},
	})
	require.NoError(t, err)
	assert.Equal(t, "named", withMeta.Summary().Name)
}

func TestMatchFilter(t *testing.T) {
	md := &types.SessionMetadata{
		ID:          "sess_01HZX",
		Name:        "Checkout Flow",
		Description: "nightly regression",
		Tags:        []string{"e2e", "critical"},
	}

	assert.True(t, MatchFilter(md, ""))
	assert.True(t, MatchFilter(md, "checkout"))
	assert.True(t, MatchFilter(md, "SESS_01"))
	assert.True(t, MatchFilter(md, "regression"))
	assert.True(t, MatchFilter(md, "critical"))
	assert.False(t, MatchFilter(md, "login"))
}

func TestPage(t *testing.T) {
	mds := []types.SessionMetadata{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Len(t, Page(mds, nil), 3)
	assert.Len(t, Page(mds, &ListOptions{Limit: 2}), 2)
	assert.Equal(t, "b", Page(mds, &ListOptions{Offset: 1})[0].ID)
	assert.Nil(t, Page(mds, &ListOptions{Offset: 5}))

	paged := Page(mds, &ListOptions{Limit: 1, Offset: 2})
	require.Len(t, paged, 1)
	assert.Equal(t, "c", paged[0].ID)
}

func TestRecorderSnapshot(t *testing.T) {
	rec := NewRecorder("test", nil)

	rec.Observe("store", time.Now(), false)
	rec.Observe("retrieve", time.Now(), true)

	m := rec.Snapshot()
	assert.Equal(t, int64(2), m.Operations)
	assert.Equal(t, int64(1), m.Errors)
	assert.GreaterOrEqual(t, m.AverageTime, time.Duration(0))
}

func TestRecorderFeedsInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	in := NewInstruments(reg)
	rec := NewRecorder("fs", in)

	rec.Observe("store", time.Now(), false)
	rec.Observe("store", time.Now(), true)

	ops := testutil.ToFloat64(in.Operations.WithLabelValues("fs", "store"))
	assert.Equal(t, float64(2), ops)
	errs := testutil.ToFloat64(in.Errors.WithLabelValues("fs", "store"))
	assert.Equal(t, float64(1), errs)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("missing")
	calls := 0

	err := Retry(context.Background(), 5, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 5, func() error { return errors.New("transient") })
	assert.Error(t, err)
}
