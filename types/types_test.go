package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/types"
)

func TestStateRoundTrip(t *testing.T) {
	expires := int64(1924905600000)
	state := &types.BrowserSessionState{
		Version:   types.BlobVersion,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Origin:    "https://example.com",
		Storage: types.StorageState{
			Cookies: []types.Cookie{
				{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Expires: &expires, Secure: true, SameSite: types.SameSiteStrict},
			},
			LocalStorage: types.OriginStorage{
				"https://example.com": {"theme": "dark", "lang": "en"},
				"https://other.test":  {"theme": "light"},
			},
			SessionStorage: types.OriginStorage{
				"https://example.com": {"csrf": "tok"},
			},
		},
		DOM: &types.DOMState{
			ScrollPosition: &types.ScrollPosition{X: 0, Y: 340.5},
			ActiveElement:  "#login",
			FormData:       map[string]string{"user": "alice"},
		},
		Recording: &types.Recording{
			Events: []types.Event{
				{ID: "e1", Type: "click", Timestamp: 1000, Target: "#btn"},
				{ID: "e2", Type: "input", Timestamp: 2000, Target: "#field", Data: map[string]interface{}{"value": "hi"}},
			},
			StartTime: 500,
			Duration:  1500,
		},
	}

	encoded, err := codec.Encode(state)
	require.NoError(t, err)

	var decoded types.BrowserSessionState
	require.NoError(t, codec.Decode(encoded, &decoded))

	assert.Equal(t, state.Storage.LocalStorage, decoded.Storage.LocalStorage)
	assert.Equal(t, state.Storage.SessionStorage, decoded.Storage.SessionStorage)
	assert.Equal(t, state.Storage.Cookies, decoded.Storage.Cookies)
	assert.Equal(t, state.DOM, decoded.DOM)
	assert.Equal(t, state.Recording, decoded.Recording)
	assert.True(t, state.Timestamp.Equal(decoded.Timestamp))
}

func TestOriginStorageNeverMergesAcrossOrigins(t *testing.T) {
	storage := types.OriginStorage{
		"https://a.test": {"k": "from-a"},
		"https://b.test": {"k": "from-b"},
	}

	clone := storage.Clone()
	clone["https://a.test"]["k"] = "mutated"

	assert.Equal(t, "from-a", storage["https://a.test"]["k"])
	assert.Equal(t, "from-b", storage["https://b.test"]["k"])
}

func TestCookieNormalizeDefaults(t *testing.T) {
	c := types.Cookie{Name: "sid", Value: "abc", Domain: "example.com"}
	c.Normalize()

	assert.Equal(t, "/", c.Path)
	assert.Equal(t, types.SameSiteLax, c.SameSite)
	assert.False(t, c.HTTPOnly)
	assert.False(t, c.Secure)
}

func TestCookieNormalizeKeepsExplicitValues(t *testing.T) {
	c := types.Cookie{Name: "sid", Value: "abc", Domain: "example.com", Path: "/app", SameSite: types.SameSiteNone}
	c.Normalize()

	assert.Equal(t, "/app", c.Path)
	assert.Equal(t, types.SameSiteNone, c.SameSite)
}

func TestBlobRoundTrip(t *testing.T) {
	blob := &types.SessionBlob{
		Version:   types.BlobVersion,
		SessionID: "sess_01ABC",
		Timestamp: "2026-08-01T12:00:00Z",
		TTL: &types.TTLPolicy{
			FieldTTL: map[string]int64{"sessionData.authState.tokens": 60},
		},
		SessionData: types.SessionData{
			Provider:     types.ProviderPlaywright,
			Cookies:      []types.Cookie{{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", SameSite: types.SameSiteLax}},
			LocalStorage: types.OriginStorage{"https://example.com": {"k": "v"}},
			AuthState:    map[string]interface{}{"tokens": map[string]interface{}{"access": "aaa"}},
		},
		Metadata: types.BlobMetadata{
			Platform:      "linux",
			CaptureMethod: "adapter",
			Compatibility: []string{"playwright"},
		},
		Extensions: map[string]interface{}{
			"vendor-x": map[string]interface{}{"opaque": true},
		},
	}

	encoded, err := codec.EncodeBlob(blob)
	require.NoError(t, err)

	decoded, err := codec.DecodeBlob(encoded)
	require.NoError(t, err)

	assert.Equal(t, blob.SessionID, decoded.SessionID)
	assert.Equal(t, blob.TTL.FieldTTL, decoded.TTL.FieldTTL)
	assert.Equal(t, blob.SessionData.LocalStorage, decoded.SessionData.LocalStorage)
	assert.Contains(t, decoded.Extensions, "vendor-x")
}
