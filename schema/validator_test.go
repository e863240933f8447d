package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samihalawa/psp-go/types"
)

func validBlob() *types.SessionBlob {
	return &types.SessionBlob{
		Version:   types.BlobVersion,
		SessionID: "sess_01HZXVALID",
		Timestamp: "2026-08-01T12:00:00Z",
		SessionData: types.SessionData{
			Provider: types.ProviderPlaywright,
			Cookies: []types.Cookie{
				{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", SameSite: types.SameSiteLax},
			},
			LocalStorage: types.OriginStorage{"https://example.com": {"k": "v"}},
			AuthState: map[string]interface{}{
				"tokens":  map[string]interface{}{"access": "aaa", "refresh": "bbb"},
				"profile": map[string]interface{}{"user": "alice"},
			},
		},
		Metadata: types.BlobMetadata{
			Platform:      "linux",
			CaptureMethod: "adapter",
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestValidateSessionAccepts(t *testing.T) {
	v := New()
	report := v.ValidateSession(validBlob())
	assert.True(t, report.Valid, "unexpected violations: %v", report.Errors)
	assert.Empty(t, report.Errors)
}

func TestValidateSessionCollectsAllViolations(t *testing.T) {
	v := New()

	blob := validBlob()
	blob.Version = "not-a-version"
	blob.Timestamp = "yesterday"
	blob.SessionData.Provider = "mystery-framework"
	blob.SessionData.Cookies = append(blob.SessionData.Cookies, types.Cookie{Name: "bad", Value: "x", SameSite: "Sideways"})
	blob.SessionData.LocalStorage["not a valid origin!"] = map[string]string{"k": "v"}
	blob.Extensions = map[string]interface{}{"bad key!": true}

	report := v.ValidateSession(blob)
	require.False(t, report.Valid)

	// Every violation is reported in one pass, not just the first.
	assert.GreaterOrEqual(t, len(report.Errors), 6)
	joined := report.Errors
	assertAnyContains(t, joined, "semantic version")
	assertAnyContains(t, joined, "ISO-8601")
	assertAnyContains(t, joined, "mystery-framework")
	assertAnyContains(t, joined, "domain is required")
	assertAnyContains(t, joined, "invalid sameSite")
	assertAnyContains(t, joined, "invalid origin key")
	assertAnyContains(t, joined, "invalid key")
}

func TestValidateSessionRejectsUnsupportedVersion(t *testing.T) {
	v := New(WithSupportedVersions("2.0.0"))
	report := v.ValidateSession(validBlob())
	require.False(t, report.Valid)
	assertAnyContains(t, report.Errors, "not a supported schema version")
}

func TestValidateSessionNilBlob(t *testing.T) {
	v := New()
	report := v.ValidateSession(nil)
	assert.False(t, report.Valid)
}

func TestSanitizeSessionGlobalTTLExpired(t *testing.T) {
	// Blob captured at 12:00 with a 1h global TTL; the clock says 14:00.
	v := New(WithClock(fixedClock(time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC))))

	ttl := int64(3600)
	blob := validBlob()
	blob.TTL = &types.TTLPolicy{GlobalTTL: &ttl}

	_, err := v.SanitizeSession(blob)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assertAnyContains(t, verr.Violations, "global TTL")
}

func TestSanitizeSessionExpiresAtWins(t *testing.T) {
	v := New(WithClock(fixedClock(time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC))))

	blob := validBlob()
	blob.TTL = &types.TTLPolicy{ExpiresAt: "2026-08-01T13:00:00Z"}

	_, err := v.SanitizeSession(blob)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assertAnyContains(t, verr.Violations, "expired at")
}

func TestSanitizeSessionNotYetExpired(t *testing.T) {
	v := New(WithClock(fixedClock(time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC))))

	ttl := int64(3600)
	blob := validBlob()
	blob.TTL = &types.TTLPolicy{GlobalTTL: &ttl}

	out, err := v.SanitizeSession(blob)
	require.NoError(t, err)
	assert.Equal(t, blob.SessionID, out.SessionID)
}

func TestSanitizeSessionPrunesExpiredFields(t *testing.T) {
	// tokens expire after 60s, the capture is 2h old: the tokens subtree
	// goes away while its siblings survive untouched.
	v := New(WithClock(fixedClock(time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC))))

	blob := validBlob()
	blob.TTL = &types.TTLPolicy{
		FieldTTL: map[string]int64{"sessionData.authState.tokens": 60},
	}

	out, err := v.SanitizeSession(blob)
	require.NoError(t, err)

	assert.NotContains(t, out.SessionData.AuthState, "tokens")
	assert.Contains(t, out.SessionData.AuthState, "profile")
	assert.Equal(t, blob.SessionData.Cookies, out.SessionData.Cookies)
	assert.Equal(t, blob.SessionData.LocalStorage, out.SessionData.LocalStorage)
}

func TestSanitizeSessionMissingPathIsNoOp(t *testing.T) {
	v := New(WithClock(fixedClock(time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC))))

	blob := validBlob()
	blob.TTL = &types.TTLPolicy{
		FieldTTL: map[string]int64{"sessionData.authState.nonexistent.deep": 60},
	}

	out, err := v.SanitizeSession(blob)
	require.NoError(t, err)
	assert.Contains(t, out.SessionData.AuthState, "tokens")
	assert.Contains(t, out.SessionData.AuthState, "profile")
}

func TestSanitizeSessionIdempotent(t *testing.T) {
	v := New(WithClock(fixedClock(time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC))))

	blob := validBlob()
	blob.TTL = &types.TTLPolicy{
		FieldTTL: map[string]int64{"sessionData.authState.tokens": 60},
	}

	once, err := v.SanitizeSession(blob)
	require.NoError(t, err)

	twice, err := v.SanitizeSession(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestDeletePath(t *testing.T) {
	m := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{"c": 1, "d": 2},
		},
	}

	deletePath(m, "a.b.c")
	inner := m["a"].(map[string]interface{})["b"].(map[string]interface{})
	assert.NotContains(t, inner, "c")
	assert.Contains(t, inner, "d")

	// Missing intermediates are silently skipped.
	deletePath(m, "a.x.y")
	deletePath(m, "")
}

func assertAnyContains(t *testing.T, haystack []string, needle string) {
	t.Helper()
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return
		}
	}
	t.Errorf("no violation contains %q in %v", needle, haystack)
}
