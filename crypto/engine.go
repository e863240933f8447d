// Package crypto implements the authenticated encryption layer for
// serialized session blobs.
//
// Keys are derived from a password with scrypt and split into a
// cipher key (AES-256-GCM) and an HMAC key. Caller-supplied metadata
// is bound into the GCM tag as additional authenticated data, and an
// outer HMAC-SHA256 over the whole envelope is verified before any
// decryption attempt, so a wrong password or a tampered envelope
// never reaches the cipher.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/scrypt"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/internal/config"
	"github.com/samihalawa/psp-go/internal/logging"
	"github.com/samihalawa/psp-go/types"
)

// ErrIntegrity means the envelope HMAC did not verify: wrong password
// or tampered envelope. Decryption is never attempted in this case.
var ErrIntegrity = errors.New("integrity check failed")

// ErrDecryption means the envelope is malformed or the cipher rejected
// the payload.
var ErrDecryption = errors.New("decryption failed")

const (
	envelopeVersion = "1.0.0"
	algorithm       = "aes-256-gcm"

	saltSize = 32 // 256-bit salt, fresh per encryption
	ivSize   = 16 // 128-bit IV per the wire format
	tagSize  = 16
	keySize  = 64 // scrypt output, split into cipher and HMAC halves

	scryptBlockSize   = 8
	scryptParallelism = 1
)

// EncryptResult is the structured outcome of Encrypt and RotateKeys.
type EncryptResult struct {
	Success bool
	Blob    *types.EncryptedBlob
	Error   string
	Err     error
}

// DecryptResult is the structured outcome of Decrypt. Data is the
// decrypted JSON payload.
type DecryptResult struct {
	Success bool
	Data    []byte
	Error   string
	Err     error
}

type derivedKeys struct {
	cipherKey []byte
	hmacKey   []byte
}

// Option configures an Engine.
type Option func(*Engine)

// WithScryptCost overrides the KDF cost parameter. Values below the
// protocol minimum of 16384 are rejected at construction.
func WithScryptCost(cost int) Option {
	return func(e *Engine) { e.cost = cost }
}

// WithKeyCacheSize bounds the derived-key cache.
func WithKeyCacheSize(size int) Option {
	return func(e *Engine) { e.cacheSize = size }
}

// WithLogger attaches a logger. Key material is never logged.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine performs authenticated encryption of session payloads. The
// derived-key cache is instance-owned and bounded; tearing down the
// engine (or calling ClearCache) drops all cached keys.
type Engine struct {
	cost      int
	cacheSize int
	cache     *lru.Cache[string, derivedKeys]
	log       *logging.Logger
	now       func() time.Time
}

// NewEngineFromConfig builds an engine tuned by the encryption
// configuration section.
func NewEngineFromConfig(cfg config.EncryptionConfig, opts ...Option) (*Engine, error) {
	base := []Option{
		WithScryptCost(cfg.ScryptCost),
		WithKeyCacheSize(cfg.KeyCacheSize),
	}
	return NewEngine(append(base, opts...)...)
}

// NewEngine creates an encryption engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		cost:      16384,
		cacheSize: 16,
		log:       logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cost < 16384 {
		return nil, fmt.Errorf("scrypt cost %d below protocol minimum 16384", e.cost)
	}
	cache, err := lru.New[string, derivedKeys](e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("key cache: %w", err)
	}
	e.cache = cache
	return e, nil
}

// Encrypt serializes sessionData to JSON and seals it under a key
// derived from password. metadata stays cleartext but is bound into
// the authentication tag, so tampering with it invalidates the blob.
func (e *Engine) Encrypt(sessionData interface{}, password string, metadata map[string]string) EncryptResult {
	plaintext, err := codec.Encode(sessionData)
	if err != nil {
		return encryptFailure(fmt.Errorf("serialize session data: %w", err))
	}
	return e.encryptBytes(plaintext, password, metadata)
}

// Decrypt verifies the envelope HMAC first and only then decrypts.
// A wrong password surfaces as ErrIntegrity without the cipher ever
// running, which keeps the engine from acting as a decryption oracle.
func (e *Engine) Decrypt(blob *types.EncryptedBlob, password string) DecryptResult {
	if blob == nil {
		return decryptFailure(ErrDecryption, "encrypted blob is nil")
	}

	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil || len(salt) == 0 {
		return decryptFailure(ErrDecryption, "malformed salt")
	}

	keys, err := e.deriveKeys(password, salt)
	if err != nil {
		return decryptFailure(ErrDecryption, "key derivation failed")
	}

	expected, err := base64.StdEncoding.DecodeString(blob.HMAC)
	if err != nil || len(expected) == 0 {
		return decryptFailure(ErrDecryption, "malformed hmac")
	}
	computed := e.computeHMAC(blob, keys.hmacKey)
	if !hmac.Equal(computed, expected) {
		return decryptFailure(ErrIntegrity, "hmac verification failed")
	}

	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil || len(iv) != ivSize {
		return decryptFailure(ErrDecryption, "malformed iv")
	}
	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil || len(tag) != tagSize {
		return decryptFailure(ErrDecryption, "malformed auth tag")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return decryptFailure(ErrDecryption, "malformed ciphertext")
	}

	gcm, err := newGCM(keys.cipherKey)
	if err != nil {
		return decryptFailure(ErrDecryption, "cipher construction failed")
	}

	aad, err := codec.Encode(blob.Metadata)
	if err != nil {
		return decryptFailure(ErrDecryption, "malformed metadata")
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), aad)
	if err != nil {
		return decryptFailure(ErrDecryption, "authenticated decryption failed")
	}

	return DecryptResult{Success: true, Data: plaintext}
}

// DecryptInto decrypts and unmarshals the payload into v.
func (e *Engine) DecryptInto(blob *types.EncryptedBlob, password string, v interface{}) error {
	res := e.Decrypt(blob, password)
	if !res.Success {
		return fmt.Errorf("%w: %s", res.Err, res.Error)
	}
	return codec.Decode(res.Data, v)
}

// RotateKeys re-encrypts a blob under a new password with a fresh
// salt and IV, preserving the cleartext metadata.
func (e *Engine) RotateKeys(oldBlob *types.EncryptedBlob, oldPassword, newPassword string) EncryptResult {
	dec := e.Decrypt(oldBlob, oldPassword)
	if !dec.Success {
		return EncryptResult{Success: false, Error: dec.Error, Err: dec.Err}
	}
	return e.encryptBytes(dec.Data, newPassword, oldBlob.Metadata)
}

// ClearCache drops every cached derived key.
func (e *Engine) ClearCache() {
	e.cache.Purge()
}

func (e *Engine) encryptBytes(plaintext []byte, password string, metadata map[string]string) EncryptResult {
	if metadata == nil {
		metadata = map[string]string{}
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return encryptFailure(fmt.Errorf("salt generation: %w", err))
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return encryptFailure(fmt.Errorf("iv generation: %w", err))
	}

	keys, err := e.deriveKeys(password, salt)
	if err != nil {
		return encryptFailure(fmt.Errorf("key derivation: %w", err))
	}

	gcm, err := newGCM(keys.cipherKey)
	if err != nil {
		return encryptFailure(fmt.Errorf("cipher construction: %w", err))
	}

	aad, err := codec.Encode(metadata)
	if err != nil {
		return encryptFailure(fmt.Errorf("metadata encoding: %w", err))
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := &types.EncryptedBlob{
		Version:   envelopeVersion,
		Algorithm: algorithm,
		Salt:      base64.StdEncoding.EncodeToString(salt),
		IV:        base64.StdEncoding.EncodeToString(iv),
		AuthTag:   base64.StdEncoding.EncodeToString(tag),
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		Metadata:  metadata,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}
	blob.HMAC = base64.StdEncoding.EncodeToString(e.computeHMAC(blob, keys.hmacKey))

	return EncryptResult{Success: true, Blob: blob}
}

// computeHMAC digests the canonical form of the envelope: every field
// except hmac itself, in fixed order, newline-separated. Metadata is
// encoded with sorted keys so the digest is deterministic across
// encoders.
func (e *Engine) computeHMAC(blob *types.EncryptedBlob, key []byte) []byte {
	metadataJSON, _ := codec.Encode(blob.Metadata)
	canonical := strings.Join([]string{
		blob.Version,
		blob.Algorithm,
		blob.Salt,
		blob.IV,
		blob.AuthTag,
		blob.Data,
		string(metadataJSON),
		blob.Timestamp,
	}, "\n")

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

func (e *Engine) deriveKeys(password string, salt []byte) (derivedKeys, error) {
	cacheKey := cacheKeyFor(password, salt)
	if keys, ok := e.cache.Get(cacheKey); ok {
		return keys, nil
	}

	raw, err := scrypt.Key([]byte(password), salt, e.cost, scryptBlockSize, scryptParallelism, keySize)
	if err != nil {
		return derivedKeys{}, err
	}

	keys := derivedKeys{cipherKey: raw[:32], hmacKey: raw[32:]}
	e.cache.Add(cacheKey, keys)
	return keys, nil
}

func cacheKeyFor(password string, salt []byte) string {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write([]byte{0})
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

func encryptFailure(err error) EncryptResult {
	return EncryptResult{Success: false, Error: err.Error(), Err: err}
}

func decryptFailure(sentinel error, msg string) DecryptResult {
	return DecryptResult{Success: false, Error: msg, Err: sentinel}
}
