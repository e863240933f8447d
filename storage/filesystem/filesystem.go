// Package filesystem persists one JSON envelope per session id under
// a base directory. Listing reads and filters every file, which is
// acceptable at the small scale local session stores run at.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/internal/logging"
	"github.com/samihalawa/psp-go/storage"
	"github.com/samihalawa/psp-go/types"
)

const fileExt = ".json"

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

// Provider is the filesystem storage backend.
type Provider struct {
	name    string
	baseDir string
	rec     *storage.Recorder
	log     *logging.Logger
}

// New creates a filesystem provider rooted at baseDir, creating the
// directory if needed. An empty baseDir is a configuration error.
func New(baseDir string, opts ...Option) (*Provider, error) {
	if baseDir == "" {
		return nil, errors.New("filesystem: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem: create base directory: %w", err)
	}

	p := &Provider{
		name:    "filesystem",
		baseDir: baseDir,
		log:     logging.NewNop(),
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
func (p *Provider) Kind() storage.Kind { return storage.KindFilesystem }

// Store writes the envelope atomically: temp file in the same
// directory, then rename.
func (p *Provider) Store(ctx context.Context, id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	start := time.Now()
	res := p.store(id, data, opts)
	p.rec.Observe("store", start, !res.Success)
	return res
}

func (p *Provider) store(id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	path, err := p.pathFor(id)
	if err != nil {
		return storage.StoreFailure(err)
	}

	env, err := storage.NewEnvelope(id, data, opts)
	if err != nil {
		return storage.StoreFailure(err)
	}
	encoded, err := codec.Encode(env)
	if err != nil {
		return storage.StoreFailure(err)
	}

	tmp, err := os.CreateTemp(p.baseDir, id+".tmp-*")
	if err != nil {
		return storage.StoreFailure(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storage.StoreFailure(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storage.StoreFailure(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return storage.StoreFailure(err)
	}

	return storage.StoreResult{Success: true, Key: path, Size: len(encoded)}
}

// Retrieve reads the envelope and enforces its expiry deadline, since
// the filesystem has no native TTL.
func (p *Provider) Retrieve(ctx context.Context, id string, _ *storage.RetrieveOptions) storage.RetrieveResult {
	start := time.Now()
	res := p.retrieve(id)
	p.rec.Observe("retrieve", start, !res.Success && !res.NotFound)
	return res
}

func (p *Provider) retrieve(id string) storage.RetrieveResult {
	path, err := p.pathFor(id)
	if err != nil {
		return storage.FailureResult(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.NotFoundResult(id)
		}
		return storage.FailureResult(err)
	}

	var env storage.Envelope
	if err := codec.Decode(raw, &env); err != nil {
		return storage.FailureResult(fmt.Errorf("corrupt envelope for %s: %w", id, err))
	}
	if env.Expired(time.Now()) {
		os.Remove(path)
		return storage.NotFoundResult(id)
	}

	payload, err := env.Open()
	if err != nil {
		return storage.FailureResult(err)
	}
	return storage.RetrieveResult{Success: true, Data: payload}
}

// Delete removes the session file. Returns false when nothing was
// removed.
func (p *Provider) Delete(ctx context.Context, id string) bool {
	start := time.Now()
	path, err := p.pathFor(id)
	if err != nil {
		p.rec.Observe("delete", start, true)
		return false
	}
	err = os.Remove(path)
	p.rec.Observe("delete", start, err != nil && !os.IsNotExist(err))
	return err == nil
}

// List scans the base directory and returns the metadata of every
// live envelope, filtered and paged.
func (p *Provider) List(ctx context.Context, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	start := time.Now()
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		p.rec.Observe("list", start, true)
		return nil, fmt.Errorf("filesystem list: %w", err)
	}

	now := time.Now()
	var mds []types.SessionMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(p.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var env storage.Envelope
		if err := codec.Decode(raw, &env); err != nil {
			p.log.Warn("skipping corrupt envelope", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if env.Expired(now) {
			continue
		}
		md := env.Summary()
		if opts != nil && !storage.MatchFilter(&md, opts.Filter) {
			continue
		}
		mds = append(mds, md)
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

// Exists reports whether a live envelope is present for the id.
func (p *Provider) Exists(ctx context.Context, id string) bool {
	path, err := p.pathFor(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// HealthCheck probes the base directory with a write and remove.
func (p *Provider) HealthCheck(ctx context.Context) storage.Health {
	probe := filepath.Join(p.baseDir, ".healthcheck")
	err := os.WriteFile(probe, []byte("ok"), 0o644)
	if err == nil {
		err = os.Remove(probe)
	}
	return storage.Health{
		Healthy:  err == nil,
		Provider: p.name,
		Details:  map[string]string{"baseDir": p.baseDir},
	}
}

// Metrics returns the operation snapshot.
func (p *Provider) Metrics() storage.Metrics {
	return p.rec.Snapshot()
}

func (p *Provider) pathFor(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(p.baseDir, id+fileExt), nil
}
