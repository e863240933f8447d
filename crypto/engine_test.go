package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/internal/config"
)

const password = "correct horse battery staple"

type payload struct {
	SessionID string            `json:"sessionId"`
	Values    map[string]string `json:"values"`
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func samplePayload() payload {
	return payload{
		SessionID: "sess_01HZXCRYPTO",
		Values:    map[string]string{"token": "aaa", "refresh": "bbb"},
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, map[string]string{"sessionId": "sess_01HZXCRYPTO"})
	require.True(t, enc.Success, enc.Error)
	require.NotNil(t, enc.Blob)

	assert.Equal(t, "aes-256-gcm", enc.Blob.Algorithm)
	assert.NotEmpty(t, enc.Blob.Salt)
	assert.NotEmpty(t, enc.Blob.IV)
	assert.NotEmpty(t, enc.Blob.AuthTag)
	assert.NotEmpty(t, enc.Blob.HMAC)

	var out payload
	require.NoError(t, e.DecryptInto(enc.Blob, password, &out))
	assert.Equal(t, samplePayload(), out)
}

func TestDecryptWrongPasswordFailsClosed(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, nil)
	require.True(t, enc.Success, enc.Error)

	res := e.Decrypt(enc.Blob, "wrong password")
	require.False(t, res.Success)
	// The HMAC gate trips before the cipher ever runs.
	assert.ErrorIs(t, res.Err, ErrIntegrity)
	assert.Nil(t, res.Data)
}

func TestDecryptDetectsCiphertextTampering(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, nil)
	require.True(t, enc.Success, enc.Error)

	raw, err := base64.StdEncoding.DecodeString(enc.Blob.Data)
	require.NoError(t, err)
	raw[0] ^= 0xff
	enc.Blob.Data = base64.StdEncoding.EncodeToString(raw)

	res := e.Decrypt(enc.Blob, password)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrIntegrity)
}

func TestDecryptDetectsMetadataTampering(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, map[string]string{"owner": "alice"})
	require.True(t, enc.Success, enc.Error)

	enc.Blob.Metadata["owner"] = "mallory"

	res := e.Decrypt(enc.Blob, password)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrIntegrity)
}

func TestDecryptDetectsHMACTampering(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, nil)
	require.True(t, enc.Success, enc.Error)

	raw, err := base64.StdEncoding.DecodeString(enc.Blob.HMAC)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	enc.Blob.HMAC = base64.StdEncoding.EncodeToString(raw)

	res := e.Decrypt(enc.Blob, password)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrIntegrity)
}

func TestDecryptMalformedEnvelope(t *testing.T) {
	e := testEngine(t)

	res := e.Decrypt(nil, password)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrDecryption)

	enc := e.Encrypt(samplePayload(), password, nil)
	require.True(t, enc.Success, enc.Error)
	enc.Blob.Salt = "%%% not base64 %%%"

	res = e.Decrypt(enc.Blob, password)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrDecryption)
}

func TestEncryptFreshSaltAndIVPerCall(t *testing.T) {
	e := testEngine(t)

	first := e.Encrypt(samplePayload(), password, nil)
	second := e.Encrypt(samplePayload(), password, nil)
	require.True(t, first.Success)
	require.True(t, second.Success)

	assert.NotEqual(t, first.Blob.Salt, second.Blob.Salt)
	assert.NotEqual(t, first.Blob.IV, second.Blob.IV)
	assert.NotEqual(t, first.Blob.Data, second.Blob.Data)
}

func TestRotateKeys(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, map[string]string{"sessionId": "sess_01HZXCRYPTO"})
	require.True(t, enc.Success, enc.Error)

	rotated := e.RotateKeys(enc.Blob, password, "a new password")
	require.True(t, rotated.Success, rotated.Error)

	assert.NotEqual(t, enc.Blob.Salt, rotated.Blob.Salt)
	assert.Equal(t, enc.Blob.Metadata, rotated.Blob.Metadata)

	// Old password no longer opens it.
	res := e.Decrypt(rotated.Blob, password)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrIntegrity)

	var out payload
	require.NoError(t, e.DecryptInto(rotated.Blob, "a new password", &out))
	assert.Equal(t, samplePayload(), out)
}

func TestRotateKeysWrongOldPassword(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, nil)
	require.True(t, enc.Success, enc.Error)

	rotated := e.RotateKeys(enc.Blob, "nope", "new")
	require.False(t, rotated.Success)
	assert.ErrorIs(t, rotated.Err, ErrIntegrity)
}

func TestClearCache(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, nil)
	require.True(t, enc.Success)
	assert.Greater(t, e.cache.Len(), 0)

	e.ClearCache()
	assert.Equal(t, 0, e.cache.Len())

	// Keys re-derive on demand after a purge.
	var out payload
	require.NoError(t, e.DecryptInto(enc.Blob, password, &out))
}

func TestNewEngineRejectsWeakCost(t *testing.T) {
	_, err := NewEngine(WithScryptCost(1024))
	assert.Error(t, err)
}

func TestNewEngineFromConfig(t *testing.T) {
	cfg := config.Default()
	e, err := NewEngineFromConfig(cfg.Encryption)
	require.NoError(t, err)
	assert.NotNil(t, e)

	// Configuration cannot weaken the KDF below the protocol minimum.
	cfg.Encryption.ScryptCost = 1024
	_, err = NewEngineFromConfig(cfg.Encryption)
	assert.Error(t, err)
}

func TestHMACCanonicalFormIsDeterministic(t *testing.T) {
	e := testEngine(t)

	enc := e.Encrypt(samplePayload(), password, map[string]string{"b": "2", "a": "1"})
	require.True(t, enc.Success, enc.Error)

	// Metadata serializes with sorted keys, so recomputing the digest
	// from the stored envelope reproduces it exactly.
	salt, err := base64.StdEncoding.DecodeString(enc.Blob.Salt)
	require.NoError(t, err)
	keys, err := e.deriveKeys(password, salt)
	require.NoError(t, err)

	recomputed := base64.StdEncoding.EncodeToString(e.computeHMAC(enc.Blob, keys.hmacKey))
	assert.Equal(t, enc.Blob.HMAC, recomputed)

	aad, err := codec.Encode(enc.Blob.Metadata)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, string(aad))
}
