// Package storage defines the pluggable persistence contract for
// session blobs and the shared envelope, metrics, and retry machinery
// its backends build on.
//
// Backends return structured results for expected failures (backend
// unreachable, key not found); only missing configuration at
// construction is an error. Store/Retrieve/Delete/List are safe under
// concurrent callers from unrelated sessions: writes are atomic per
// key, and listings may be eventually consistent on object backends.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/types"
)

// Kind discriminates the concrete backend implementations. Backend
// selection happens once, at construction, so a missing or
// misconfigured backend fails at startup rather than mid-operation.
type Kind int

const (
	KindFilesystem Kind = iota
	KindRedis
	KindObject
	KindMulti
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFilesystem:
		return "filesystem"
	case KindRedis:
		return "redis"
	case KindObject:
		return "object"
	case KindMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// ParseKind resolves a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "filesystem", "fs":
		return KindFilesystem, nil
	case "redis", "kv":
		return KindRedis, nil
	case "object", "s3":
		return KindObject, nil
	case "multi":
		return KindMulti, nil
	default:
		return 0, fmt.Errorf("unknown storage backend %q", s)
	}
}

// StoreOptions tunes a single store call.
type StoreOptions struct {
	// TTL, when positive, bounds the record's lifetime. Backends with
	// native expiration use it directly; others record an absolute
	// deadline in the envelope and enforce it on retrieve.
	TTL time.Duration
	// Metadata is the session summary kept for listing without
	// reading full payloads.
	Metadata *types.SessionMetadata
	// Compress stores the payload zstd-compressed.
	Compress bool
}

// RetrieveOptions is reserved for per-call retrieval tuning.
type RetrieveOptions struct{}

// ListOptions pages and filters listings.
type ListOptions struct {
	Limit  int
	Offset int
	// Filter is matched as a substring against id, name, and tags.
	Filter string
}

// StoreResult is the structured outcome of a store call.
type StoreResult struct {
	Success bool   `json:"success"`
	Key     string `json:"key,omitempty"`
	Size    int    `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RetrieveResult is the structured outcome of a retrieve call.
// NotFound distinguishes absence from backend failure.
type RetrieveResult struct {
	Success  bool   `json:"success"`
	Data     []byte `json:"data,omitempty"`
	NotFound bool   `json:"notFound,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Health reports one backend's availability.
type Health struct {
	Healthy  bool              `json:"healthy"`
	Provider string            `json:"provider"`
	Details  map[string]string `json:"details,omitempty"`
}

// Metrics is a point-in-time operation summary for one backend.
type Metrics struct {
	Operations  int64         `json:"operations"`
	Errors      int64         `json:"errors"`
	TotalTime   time.Duration `json:"totalTime"`
	AverageTime time.Duration `json:"averageTime"`
}

// Provider is the uniform persistence contract every backend
// implements.
type Provider interface {
	Name() string
	Kind() Kind
	Store(ctx context.Context, id string, data []byte, opts *StoreOptions) StoreResult
	Retrieve(ctx context.Context, id string, opts *RetrieveOptions) RetrieveResult
	Delete(ctx context.Context, id string) bool
	List(ctx context.Context, opts *ListOptions) ([]types.SessionMetadata, error)
	Exists(ctx context.Context, id string) bool
	HealthCheck(ctx context.Context) Health
	Metrics() Metrics
}

// Envelope is the physical record backends persist: the opaque
// payload plus the listing metadata co-located with it. Payload bytes
// are base64 on the wire via standard JSON []byte encoding.
type Envelope struct {
	ID        string                 `json:"id"`
	StoredAt  time.Time              `json:"storedAt"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	Metadata  *types.SessionMetadata `json:"metadata,omitempty"`
	Encoding  string                 `json:"encoding"` // "json" or "zstd"
	Payload   []byte                 `json:"payload"`
}

// NewEnvelope wraps a payload per the store options, applying the
// compression hook when requested.
func NewEnvelope(id string, data []byte, opts *StoreOptions) (*Envelope, error) {
	if opts == nil {
		opts = &StoreOptions{}
	}
	env := &Envelope{
		ID:       id,
		StoredAt: time.Now().UTC(),
		Metadata: opts.Metadata,
		Encoding: "json",
		Payload:  data,
	}
	if opts.TTL > 0 {
		deadline := env.StoredAt.Add(opts.TTL)
		env.ExpiresAt = &deadline
	}
	if opts.Compress {
		compressed, err := codec.Compress(data)
		if err != nil {
			return nil, err
		}
		env.Encoding = "zstd"
		env.Payload = compressed
	}
	return env, nil
}

// Open returns the original payload, reversing compression.
func (e *Envelope) Open() ([]byte, error) {
	if e.Encoding == "zstd" {
		return codec.Decompress(e.Payload)
	}
	return e.Payload, nil
}

// Expired reports whether the envelope's deadline has passed.
func (e *Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Summary returns the listing metadata, synthesizing a minimal record
// when none was stored.
func (e *Envelope) Summary() types.SessionMetadata {
	if e.Metadata != nil {
		return *e.Metadata
	}
	return types.SessionMetadata{
		ID:        e.ID,
		CreatedAt: e.StoredAt,
		UpdatedAt: e.StoredAt,
	}
}

// MatchFilter applies ListOptions.Filter semantics to a metadata
// record.
func MatchFilter(md *types.SessionMetadata, filter string) bool {
	if filter == "" {
		return true
	}
	if contains(md.ID, filter) || contains(md.Name, filter) || contains(md.Description, filter) {
		return true
	}
	for _, tag := range md.Tags {
		if contains(tag, filter) {
			return true
		}
	}
	return false
}

// Page applies limit/offset to a metadata slice.
func Page(mds []types.SessionMetadata, opts *ListOptions) []types.SessionMetadata {
	if opts == nil {
		return mds
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(mds) {
			return nil
		}
		mds = mds[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(mds) {
		mds = mds[:opts.Limit]
	}
	return mds
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// NotFoundResult and FailureResult build the structured error results
// backends return for expected failures.
func NotFoundResult(id string) RetrieveResult {
	return RetrieveResult{Success: false, NotFound: true, Error: fmt.Sprintf("session %s not found", id)}
}

func FailureResult(err error) RetrieveResult {
	return RetrieveResult{Success: false, Error: err.Error()}
}

func StoreFailure(err error) StoreResult {
	return StoreResult{Success: false, Error: err.Error()}
}
