// Package objectstore persists the full envelope at <prefix><id>.json
// and a lightweight metadata sidecar at <prefix>meta/<id>.json, so
// listing never downloads full payloads and existence checks are
// head-style lookups.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/internal/logging"
	"github.com/samihalawa/psp-go/storage"
	"github.com/samihalawa/psp-go/types"
)

// Option configures the provider.
type Option func(*Provider)

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(p *Provider) { p.log = log.WithProvider(p.name) }
}

// WithInstruments forwards operation metrics to shared Prometheus
// collectors.
func WithInstruments(in *storage.Instruments) Option {
	return func(p *Provider) { p.rec = storage.NewRecorder(p.name, in) }
}

// metaRecord is the listing sidecar: everything List needs without
// touching the payload object.
type metaRecord struct {
	Metadata  types.SessionMetadata `json:"metadata"`
	StoredAt  time.Time             `json:"storedAt"`
	ExpiresAt *time.Time            `json:"expiresAt,omitempty"`
}

// Provider is the object-storage backend.
type Provider struct {
	name   string
	client ObjectClient
	prefix string
	rec    *storage.Recorder
	log    *logging.Logger
}

// New creates an object-storage provider over the given client. A nil
// client is a configuration error.
func New(client ObjectClient, prefix string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("objectstore: client is required")
	}

	p := &Provider{
		name:   "object",
		client: client,
		prefix: prefix,
		log:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rec == nil {
		p.rec = storage.NewRecorder(p.name, nil)
	}
	return p, nil
}

func (p *Provider) Name() string       { return p.name }
func (p *Provider) Kind() storage.Kind { return storage.KindObject }

// Store uploads the payload object, then the metadata sidecar. A
// reader that lists between the two uploads sees the previous
// metadata, which is the eventual-consistency contract object
// backends already have.
func (p *Provider) Store(ctx context.Context, id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	start := time.Now()
	res := p.store(ctx, id, data, opts)
	p.rec.Observe("store", start, !res.Success)
	return res
}

func (p *Provider) store(ctx context.Context, id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	env, err := storage.NewEnvelope(id, data, opts)
	if err != nil {
		return storage.StoreFailure(err)
	}
	encoded, err := codec.Encode(env)
	if err != nil {
		return storage.StoreFailure(err)
	}

	meta := metaRecord{
		Metadata:  env.Summary(),
		StoredAt:  env.StoredAt,
		ExpiresAt: env.ExpiresAt,
	}
	metaEncoded, err := codec.Encode(&meta)
	if err != nil {
		return storage.StoreFailure(err)
	}

	key := p.payloadKey(id)
	if err := p.client.Put(ctx, key, encoded); err != nil {
		return storage.StoreFailure(fmt.Errorf("put payload: %w", err))
	}
	if err := p.client.Put(ctx, p.metaKey(id), metaEncoded); err != nil {
		return storage.StoreFailure(fmt.Errorf("put metadata: %w", err))
	}

	return storage.StoreResult{Success: true, Key: key, Size: len(encoded)}
}

// Retrieve downloads and opens the payload envelope.
func (p *Provider) Retrieve(ctx context.Context, id string, _ *storage.RetrieveOptions) storage.RetrieveResult {
	start := time.Now()
	res := p.retrieve(ctx, id)
	p.rec.Observe("retrieve", start, !res.Success && !res.NotFound)
	return res
}

func (p *Provider) retrieve(ctx context.Context, id string) storage.RetrieveResult {
	raw, err := p.client.Get(ctx, p.payloadKey(id))
	if errors.Is(err, ErrNoSuchKey) {
		return storage.NotFoundResult(id)
	}
	if err != nil {
		return storage.FailureResult(fmt.Errorf("get payload: %w", err))
	}

	var env storage.Envelope
	if err := codec.Decode(raw, &env); err != nil {
		return storage.FailureResult(fmt.Errorf("corrupt envelope for %s: %w", id, err))
	}
	if env.Expired(time.Now()) {
		return storage.NotFoundResult(id)
	}

	payload, err := env.Open()
	if err != nil {
		return storage.FailureResult(err)
	}
	return storage.RetrieveResult{Success: true, Data: payload}
}

// Delete removes payload and sidecar. Returns true when the payload
// existed.
func (p *Provider) Delete(ctx context.Context, id string) bool {
	start := time.Now()
	existed, _ := p.client.Head(ctx, p.payloadKey(id))
	err := p.client.Delete(ctx, p.payloadKey(id))
	if err == nil {
		err = p.client.Delete(ctx, p.metaKey(id))
	}
	p.rec.Observe("delete", start, err != nil)
	return err == nil && existed
}

// List reads only metadata sidecars under <prefix>meta/.
func (p *Provider) List(ctx context.Context, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	start := time.Now()

	keys, err := p.client.ListKeys(ctx, p.prefix+"meta/")
	if err != nil {
		p.rec.Observe("list", start, true)
		return nil, fmt.Errorf("objectstore list: %w", err)
	}

	now := time.Now()
	var mds []types.SessionMetadata
	for _, key := range keys {
		raw, err := p.client.Get(ctx, key)
		if err != nil {
			continue // deleted between listing and read
		}
		var meta metaRecord
		if err := codec.Decode(raw, &meta); err != nil {
			continue
		}
		if meta.ExpiresAt != nil && now.After(*meta.ExpiresAt) {
			continue
		}
		if opts != nil && !storage.MatchFilter(&meta.Metadata, opts.Filter) {
			continue
		}
		mds = append(mds, meta.Metadata)
	}

	sort.Slice(mds, func(i, j int) bool {
		if mds[i].CreatedAt.Equal(mds[j].CreatedAt) {
			return mds[i].ID < mds[j].ID
		}
		return mds[i].CreatedAt.Before(mds[j].CreatedAt)
	})

	p.rec.Observe("list", start, false)
	return storage.Page(mds, opts), nil
}

// Exists is a head-style lookup on the payload object.
func (p *Provider) Exists(ctx context.Context, id string) bool {
	ok, err := p.client.Head(ctx, p.payloadKey(id))
	return err == nil && ok
}

// HealthCheck verifies the listing endpoint answers.
func (p *Provider) HealthCheck(ctx context.Context) storage.Health {
	_, err := p.client.ListKeys(ctx, p.prefix+"meta/")
	details := map[string]string{"prefix": p.prefix}
	if err != nil {
		details["error"] = err.Error()
	}
	return storage.Health{Healthy: err == nil, Provider: p.name, Details: details}
}

// Metrics returns the operation snapshot.
func (p *Provider) Metrics() storage.Metrics {
	return p.rec.Snapshot()
}

func (p *Provider) payloadKey(id string) string {
	return p.prefix + sanitize(id) + ".json"
}

func (p *Provider) metaKey(id string) string {
	return p.prefix + "meta/" + sanitize(id) + ".json"
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '?', '#':
			return '_'
		}
		return r
	}, id)
}
