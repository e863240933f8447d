// Package rediskv persists session envelopes under prefixed keys with
// backend-native expiration: the session's TTL becomes the key's
// EXPIRE, so expired sessions vanish without a sweeper. Listing scans
// the key prefix.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/internal/logging"
	"github.com/samihalawa/psp-go/storage"
	"github.com/samihalawa/psp-go/types"
)

const transientRetries = 2

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

// Provider is the key-value storage backend.
type Provider struct {
	name      string
	client    redis.UniversalClient
	keyPrefix string
	rec       *storage.Recorder
	log       *logging.Logger
}

// New creates a provider over an existing client. A nil client or
// empty prefix is a configuration error.
func New(client redis.UniversalClient, keyPrefix string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("rediskv: client is required")
	}
	if keyPrefix == "" {
		return nil, errors.New("rediskv: key prefix is required")
	}

	p := &Provider{
		name:      "redis",
		client:    client,
		keyPrefix: keyPrefix,
		log:       logging.NewNop(),
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
func (p *Provider) Kind() storage.Kind { return storage.KindRedis }

// Store serializes the envelope under <keyPrefix><id> with the
// session TTL as native expiration.
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

	var ttl time.Duration
	if opts != nil && opts.TTL > 0 {
		ttl = opts.TTL
	}

	key := p.keyFor(id)
	err = storage.Retry(ctx, transientRetries, func() error {
		return p.client.Set(ctx, key, encoded, ttl).Err()
	})
	if err != nil {
		return storage.StoreFailure(fmt.Errorf("redis set: %w", err))
	}
	return storage.StoreResult{Success: true, Key: key, Size: len(encoded)}
}

// Retrieve reads and opens the envelope. Expiry is redis's job, but
// the envelope deadline is still enforced as a belt against clock
// drift between writers.
func (p *Provider) Retrieve(ctx context.Context, id string, _ *storage.RetrieveOptions) storage.RetrieveResult {
	start := time.Now()
	res := p.retrieve(ctx, id)
	p.rec.Observe("retrieve", start, !res.Success && !res.NotFound)
	return res
}

func (p *Provider) retrieve(ctx context.Context, id string) storage.RetrieveResult {
	var raw []byte
	err := storage.Retry(ctx, transientRetries, func() error {
		b, err := p.client.Get(ctx, p.keyFor(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return storage.Permanent(err)
		}
		if err != nil {
			return err
		}
		raw = b
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return storage.NotFoundResult(id)
	}
	if err != nil {
		return storage.FailureResult(fmt.Errorf("redis get: %w", err))
	}

	var env storage.Envelope
	if err := codec.Decode(raw, &env); err != nil {
		return storage.FailureResult(fmt.Errorf("corrupt envelope for %s: %w", id, err))
	}
	if env.Expired(time.Now()) {
		p.client.Del(ctx, p.keyFor(id))
		return storage.NotFoundResult(id)
	}

	payload, err := env.Open()
	if err != nil {
		return storage.FailureResult(err)
	}
	return storage.RetrieveResult{Success: true, Data: payload}
}

// Delete removes the key. Returns false when nothing was removed.
func (p *Provider) Delete(ctx context.Context, id string) bool {
	start := time.Now()
	removed, err := p.client.Del(ctx, p.keyFor(id)).Result()
	p.rec.Observe("delete", start, err != nil)
	return err == nil && removed > 0
}

// List scans <keyPrefix>* and reads each envelope's metadata.
func (p *Provider) List(ctx context.Context, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	start := time.Now()

	var mds []types.SessionMetadata
	iter := p.client.Scan(ctx, 0, p.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := p.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // expired between scan and read
		}
		var env storage.Envelope
		if err := codec.Decode(raw, &env); err != nil {
			continue
		}
		md := env.Summary()
		if opts != nil && !storage.MatchFilter(&md, opts.Filter) {
			continue
		}
		mds = append(mds, md)
	}
	if err := iter.Err(); err != nil {
		p.rec.Observe("list", start, true)
		return nil, fmt.Errorf("redis scan: %w", err)
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

// Exists checks key presence without reading the payload.
func (p *Provider) Exists(ctx context.Context, id string) bool {
	n, err := p.client.Exists(ctx, p.keyFor(id)).Result()
	return err == nil && n > 0
}

// HealthCheck pings the server.
func (p *Provider) HealthCheck(ctx context.Context) storage.Health {
	err := p.client.Ping(ctx).Err()
	details := map[string]string{"keyPrefix": p.keyPrefix}
	if err != nil {
		details["error"] = err.Error()
	}
	return storage.Health{Healthy: err == nil, Provider: p.name, Details: details}
}

// Metrics returns the operation snapshot.
func (p *Provider) Metrics() storage.Metrics {
	return p.rec.Snapshot()
}

func (p *Provider) keyFor(id string) string {
	return p.keyPrefix + id
}
