// Package session implements the lifecycle manager tying the data
// model, validation, encryption, and storage together behind one
// aggregate.
//
// A Session moves Uninitialized -> Active -> (Recording) -> Deleted.
// All operations on one Session are expected to be awaited
// sequentially by a single logical caller; the bound adapter
// serializes its own I/O. Two handles on the same persisted id may
// race on Save: the design is last-write-wins, with no revision
// compare-and-swap. That is a deliberate protocol choice, not an
// oversight.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samihalawa/psp-go/adapter"
	"github.com/samihalawa/psp-go/crypto"
	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/internal/config"
	"github.com/samihalawa/psp-go/internal/logging"
	"github.com/samihalawa/psp-go/internal/shared/id"
	"github.com/samihalawa/psp-go/schema"
	"github.com/samihalawa/psp-go/storage"
	"github.com/samihalawa/psp-go/types"
)

var (
	// ErrNotFound means no session exists under the requested id.
	ErrNotFound = errors.New("session not found")
	// ErrAdapterUnavailable means an operation needing an adapter ran
	// on a session with none bound. Programmer error.
	ErrAdapterUnavailable = errors.New("no adapter bound to session")
	// ErrRecordingState means a recording operation ran in the wrong
	// state: stop without start, playback with no events, or an
	// adapter without the recording capability.
	ErrRecordingState = errors.New("invalid recording state")
	// ErrDeleted means the in-memory handle was invalidated by Delete.
	ErrDeleted = errors.New("session is deleted")
	// ErrEncrypted means the persisted record is encrypted and no
	// password was supplied on load.
	ErrEncrypted = errors.New("session is encrypted")
)

// Status is the lifecycle state of a Session handle.
type Status int

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusRecording
	StatusDeleted
)

// String returns the state name.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusActive:
		return "active"
	case StatusRecording:
		return "recording"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

const defaultAdapterTimeout = 30 * time.Second

// record is the persisted shape: metadata cleartext for listing, plus
// either the plain blob or its encrypted envelope.
type record struct {
	Metadata  types.SessionMetadata `json:"metadata"`
	Blob      *types.SessionBlob    `json:"blob,omitempty"`
	Encrypted *types.EncryptedBlob  `json:"encrypted,omitempty"`
}

// stateExtension carries the parts of BrowserSessionState that have
// no dedicated field in the blob schema through the extensions
// passthrough, under the module's own provider key.
type stateExtension struct {
	DOM       *types.DOMState     `json:"dom,omitempty"`
	Network   *types.NetworkState `json:"network,omitempty"`
	Recording *types.Recording    `json:"recording,omitempty"`
}

const extensionKey = "psp"

// CreateOptions configures a new session.
type CreateOptions struct {
	Name        string
	Description string
	Tags        []string
	// Provider is the createdWith tag; defaults to "custom".
	Provider string
	// ExpireIn, when positive, sets the session's expiry deadline.
	ExpireIn time.Duration
	// FieldTTL maps blob dot-paths to per-field lifetimes in seconds.
	FieldTTL map[string]int64
	// Storage is the persistence backend. Required.
	Storage storage.Provider
	// Adapter binds an automation framework now; Capture can also
	// receive one later via Bind.
	Adapter adapter.Adapter
	// Password, when set, encrypts the persisted blob.
	Password string
	// Compress stores the record zstd-compressed.
	Compress bool
	// AdapterTimeout bounds every adapter call. Defaults to 30s.
	AdapterTimeout time.Duration
	Logger         *logging.Logger
	Validator      *schema.Validator
	Engine         *crypto.Engine
}

// LoadOptions configures loading an existing session.
type LoadOptions struct {
	Adapter        adapter.Adapter
	Password       string
	Compress       bool
	AdapterTimeout time.Duration
	Logger         *logging.Logger
	Validator      *schema.Validator
	Engine         *crypto.Engine
}

// ApplyConfig fills the options the module configuration controls when
// the caller left them unset: adapter timeout, logger, and encryption
// engine tuning. Explicit option values win over configuration.
func (o *CreateOptions) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = cfg.Adapter.Timeout
	}
	if o.Logger == nil {
		log, err := logging.NewFromConfig(cfg.Logging)
		if err != nil {
			return err
		}
		o.Logger = log
	}
	if o.Password != "" && o.Engine == nil {
		engine, err := crypto.NewEngineFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		o.Engine = engine
	}
	return nil
}

// ApplyConfig mirrors CreateOptions.ApplyConfig for loading.
func (o *LoadOptions) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = cfg.Adapter.Timeout
	}
	if o.Logger == nil {
		log, err := logging.NewFromConfig(cfg.Logging)
		if err != nil {
			return err
		}
		o.Logger = log
	}
	if o.Password != "" && o.Engine == nil {
		engine, err := crypto.NewEngineFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		o.Engine = engine
	}
	return nil
}

// Session is the aggregate of metadata and captured state under one
// immutable id.
type Session struct {
	meta  types.SessionMetadata
	state *types.BrowserSessionState

	status         Status
	recordingStart time.Time
	fieldTTL       map[string]int64

	adapter   adapter.Adapter
	store     storage.Provider
	validator *schema.Validator
	engine    *crypto.Engine
	password  string
	compress  bool
	timeout   time.Duration
	log       *logging.Logger
}

// Create allocates a fresh session with an empty state skeleton and
// persists it immediately.
func Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if opts.Storage == nil {
		return nil, errors.New("session: storage provider is required")
	}

	now := time.Now().UTC()
	meta := types.SessionMetadata{
		ID:          id.NewSessionID().String(),
		Name:        opts.Name,
		Description: opts.Description,
		Tags:        opts.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedWith: createdWith(opts.Provider),
	}
	if opts.ExpireIn > 0 {
		deadline := now.Add(opts.ExpireIn)
		meta.ExpireAt = &deadline
	}

	s := &Session{
		meta:      meta,
		state:     emptyState(now),
		status:    StatusActive,
		fieldTTL:  opts.FieldTTL,
		adapter:   opts.Adapter,
		store:     opts.Storage,
		validator: opts.Validator,
		engine:    opts.Engine,
		password:  opts.Password,
		compress:  opts.Compress,
		timeout:   opts.AdapterTimeout,
		log:       opts.Logger,
	}
	if err := s.finishInit(); err != nil {
		return nil, err
	}

	if err := s.save(ctx); err != nil {
		return nil, err
	}
	s.log.Info("session created", zap.String("name", meta.Name))
	return s, nil
}

// Load deserializes a persisted session. Returns ErrNotFound when the
// id is absent, ErrEncrypted when the record needs a password that
// was not supplied.
func Load(ctx context.Context, sessionID string, provider storage.Provider, opts LoadOptions) (*Session, error) {
	if provider == nil {
		return nil, errors.New("session: storage provider is required")
	}

	res := provider.Retrieve(ctx, sessionID, nil)
	if res.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if !res.Success {
		return nil, fmt.Errorf("session load: %s", res.Error)
	}

	var rec record
	if err := codec.Decode(res.Data, &rec); err != nil {
		return nil, fmt.Errorf("session load: corrupt record: %w", err)
	}

	s := &Session{
		meta:      rec.Metadata,
		status:    StatusActive,
		adapter:   opts.Adapter,
		store:     provider,
		validator: opts.Validator,
		engine:    opts.Engine,
		password:  opts.Password,
		compress:  opts.Compress,
		timeout:   opts.AdapterTimeout,
		log:       opts.Logger,
	}
	if err := s.finishInit(); err != nil {
		return nil, err
	}

	blob := rec.Blob
	if rec.Encrypted != nil {
		if opts.Password == "" {
			return nil, fmt.Errorf("%w: %s", ErrEncrypted, sessionID)
		}
		dec := s.engine.Decrypt(rec.Encrypted, opts.Password)
		if !dec.Success {
			return nil, fmt.Errorf("session load: %w: %s", dec.Err, dec.Error)
		}
		decoded, err := codec.DecodeBlob(dec.Data)
		if err != nil {
			return nil, fmt.Errorf("session load: %w", err)
		}
		blob = decoded
	}
	if blob == nil {
		return nil, fmt.Errorf("session load: record for %s has no blob", sessionID)
	}

	sanitized, err := s.validator.SanitizeSession(blob)
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}
	if sanitized.TTL != nil {
		s.fieldTTL = sanitized.TTL.FieldTTL
	}

	state, err := blobToState(sanitized)
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}
	s.state = state
	return s, nil
}

// List returns the metadata of every session persisted on a provider.
func List(ctx context.Context, provider storage.Provider, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	return provider.List(ctx, opts)
}

func (s *Session) finishInit() error {
	if s.log == nil {
		s.log = logging.NewNop()
	}
	s.log = s.log.WithSession(s.meta.ID)
	if s.validator == nil {
		s.validator = schema.New()
	}
	if s.timeout <= 0 {
		s.timeout = defaultAdapterTimeout
	}
	if s.password != "" && s.engine == nil {
		engine, err := crypto.NewEngine()
		if err != nil {
			return err
		}
		s.engine = engine
	}
	return nil
}

// ID returns the immutable session id.
func (s *Session) ID() string { return s.meta.ID }

// Status returns the lifecycle state.
func (s *Session) Status() Status { return s.status }

// Metadata returns a copy of the session summary.
func (s *Session) Metadata() types.SessionMetadata { return s.meta }

// State returns the current captured state. Callers must treat it as
// read-only; Capture replaces it wholesale.
func (s *Session) State() *types.BrowserSessionState { return s.state }

// Bind attaches an adapter after construction.
func (s *Session) Bind(a adapter.Adapter) { s.adapter = a }

// Capture connects to target (when given), snapshots the browser
// context through the adapter, and replaces the session state
// wholesale before persisting.
func (s *Session) Capture(ctx context.Context, target string) error {
	if err := s.requireStatus(StatusActive); err != nil {
		return err
	}
	if s.adapter == nil {
		return ErrAdapterUnavailable
	}

	if target != "" {
		if err := s.adapterCall(ctx, func(actx context.Context) error {
			return s.adapter.Connect(actx, target)
		}); err != nil {
			return fmt.Errorf("capture: connect: %w", err)
		}
	}

	var captured *types.BrowserSessionState
	err := s.adapterCall(ctx, func(actx context.Context) error {
		st, err := s.adapter.CaptureState(actx)
		if err != nil {
			return err
		}
		captured = st
		return nil
	})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if captured == nil {
		return errors.New("capture: adapter returned no state")
	}

	normalizeState(captured)
	s.state = captured
	s.meta.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx); err != nil {
		return err
	}
	s.log.Info("state captured",
		zap.Int("cookies", len(captured.Storage.Cookies)),
		zap.String("origin", captured.Origin))
	return nil
}

// Restore pushes the session's current state into the target browser
// context. One-way: it never mutates the session's own state.
func (s *Session) Restore(ctx context.Context, target string) error {
	if err := s.requireStatus(StatusActive); err != nil {
		return err
	}
	if s.adapter == nil {
		return ErrAdapterUnavailable
	}

	if target != "" {
		if err := s.adapterCall(ctx, func(actx context.Context) error {
			return s.adapter.Connect(actx, target)
		}); err != nil {
			return fmt.Errorf("restore: connect: %w", err)
		}
	}

	// The adapter receives a copy so a misbehaving implementation
	// cannot corrupt the session's own snapshot.
	snapshot, err := copyState(s.state)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := s.adapterCall(ctx, func(actx context.Context) error {
		return s.adapter.ApplyState(actx, snapshot)
	}); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.log.Info("state restored", zap.String("target", target))
	return nil
}

// StartRecording begins interaction capture through the adapter's
// recording capability.
func (s *Session) StartRecording(ctx context.Context, opts *adapter.RecordOptions) error {
	if err := s.requireStatus(StatusActive); err != nil {
		return err
	}
	rec, err := s.recorder()
	if err != nil {
		return err
	}

	if err := s.adapterCall(ctx, func(actx context.Context) error {
		return rec.StartRecording(actx, opts)
	}); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	s.status = StatusRecording
	s.recordingStart = time.Now().UTC()
	return nil
}

// StopRecording pulls the recorded events, derives the duration from
// the last event, persists the recording on the state, and returns to
// Active.
func (s *Session) StopRecording(ctx context.Context) (*types.Recording, error) {
	if s.status != StatusRecording {
		return nil, fmt.Errorf("%w: no recording in progress", ErrRecordingState)
	}
	rec, err := s.recorder()
	if err != nil {
		return nil, err
	}

	var events []types.Event
	err = s.adapterCall(ctx, func(actx context.Context) error {
		evs, err := rec.StopRecording(actx)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		s.status = StatusActive
		return nil, fmt.Errorf("stop recording: %w", err)
	}

	startMillis := s.recordingStart.UnixMilli()
	recording := &types.Recording{
		ID:        id.NewRecordingID().String(),
		Events:    events,
		StartTime: startMillis,
	}
	for i := range recording.Events {
		if recording.Events[i].ID == "" {
			recording.Events[i].ID = uuid.NewString()
		}
	}
	if n := len(events); n > 0 {
		recording.Duration = events[n-1].Timestamp - startMillis
	}

	s.state.Recording = recording
	s.meta.UpdatedAt = time.Now().UTC()
	s.status = StatusActive
	if err := s.save(ctx); err != nil {
		return nil, err
	}
	s.log.Info("recording stopped", zap.Int("events", len(events)))
	return recording, nil
}

// PlayRecording replays the stored recording against a target.
func (s *Session) PlayRecording(ctx context.Context, target string, opts *adapter.PlaybackOptions) error {
	if err := s.requireStatus(StatusActive); err != nil {
		return err
	}
	if s.state.Recording == nil || len(s.state.Recording.Events) == 0 {
		return fmt.Errorf("%w: session has no recorded events", ErrRecordingState)
	}
	rec, err := s.recorder()
	if err != nil {
		return err
	}

	if target != "" {
		if err := s.adapterCall(ctx, func(actx context.Context) error {
			return s.adapter.Connect(actx, target)
		}); err != nil {
			return fmt.Errorf("play recording: connect: %w", err)
		}
	}
	if err := s.adapterCall(ctx, func(actx context.Context) error {
		return rec.PlayRecording(actx, s.state.Recording.Events, opts)
	}); err != nil {
		return fmt.Errorf("play recording: %w", err)
	}
	return nil
}

// Clone deep-copies the current state under a fresh id and persists
// it independently. Deleting the original leaves the clone intact.
func (s *Session) Clone(ctx context.Context, newName string) (*Session, error) {
	if err := s.requireStatus(StatusActive); err != nil {
		return nil, err
	}

	state, err := copyState(s.state)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	now := time.Now().UTC()
	meta := s.meta
	meta.ID = id.NewSessionID().String()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	if newName != "" {
		meta.Name = newName
	} else {
		meta.Name = s.meta.Name + " (copy)"
	}
	if s.meta.Tags != nil {
		meta.Tags = append([]string(nil), s.meta.Tags...)
	}

	clone := &Session{
		meta:      meta,
		state:     state,
		status:    StatusActive,
		fieldTTL:  s.fieldTTL,
		adapter:   s.adapter,
		store:     s.store,
		validator: s.validator,
		engine:    s.engine,
		password:  s.password,
		compress:  s.compress,
		timeout:   s.timeout,
		log:       s.log,
	}
	if err := clone.finishInit(); err != nil {
		return nil, err
	}
	if err := clone.save(ctx); err != nil {
		return nil, err
	}
	return clone, nil
}

// Save persists the current state. Two handles on one id race as
// last-writer-wins; there is no revision check.
func (s *Session) Save(ctx context.Context) error {
	if s.status == StatusDeleted {
		return ErrDeleted
	}
	s.meta.UpdatedAt = time.Now().UTC()
	return s.save(ctx)
}

// Delete removes the session from storage and invalidates this
// handle. Returns ErrNotFound when storage had nothing to remove.
func (s *Session) Delete(ctx context.Context) error {
	if s.status == StatusDeleted {
		return ErrDeleted
	}
	removed := s.store.Delete(ctx, s.meta.ID)
	s.status = StatusDeleted
	s.log.Info("session deleted", zap.Bool("removed", removed))
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotFound, s.meta.ID)
	}
	return nil
}

func (s *Session) save(ctx context.Context) error {
	blob := s.buildBlob()
	sanitized, err := s.validator.SanitizeSession(blob)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	rec := record{Metadata: s.meta}
	if s.password != "" {
		res := s.engine.Encrypt(sanitized, s.password, map[string]string{"sessionId": s.meta.ID})
		if !res.Success {
			return fmt.Errorf("save: encrypt: %s", res.Error)
		}
		rec.Encrypted = res.Blob
	} else {
		rec.Blob = sanitized
	}

	data, err := codec.Encode(&rec)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	opts := storage.StoreOptions{Metadata: &s.meta, Compress: s.compress}
	if s.meta.ExpireAt != nil {
		opts.TTL = time.Until(*s.meta.ExpireAt)
	}
	result := s.store.Store(ctx, s.meta.ID, data, &opts)
	if !result.Success {
		return fmt.Errorf("save: backend: %s", result.Error)
	}
	return nil
}

// buildBlob projects metadata and state into the wire blob. State
// parts without a schema field travel in extensions under the
// module's key.
func (s *Session) buildBlob() *types.SessionBlob {
	blob := &types.SessionBlob{
		Version:   types.BlobVersion,
		SessionID: s.meta.ID,
		Timestamp: s.state.Timestamp.UTC().Format(time.RFC3339),
		SessionData: types.SessionData{
			Provider:       s.meta.CreatedWith,
			Cookies:        s.state.Storage.Cookies,
			LocalStorage:   s.state.Storage.LocalStorage,
			SessionStorage: s.state.Storage.SessionStorage,
			URL:            s.state.Origin,
		},
		Metadata: types.BlobMetadata{
			Platform:      runtime.GOOS,
			CaptureMethod: "adapter",
			Compatibility: []string{s.meta.CreatedWith},
		},
	}

	if s.meta.ExpireAt != nil || len(s.fieldTTL) > 0 {
		ttl := &types.TTLPolicy{FieldTTL: s.fieldTTL}
		if s.meta.ExpireAt != nil {
			ttl.ExpiresAt = s.meta.ExpireAt.UTC().Format(time.RFC3339)
		}
		blob.TTL = ttl
	}

	if s.state.DOM != nil || s.state.Network != nil || s.state.Recording != nil {
		blob.Extensions = map[string]interface{}{
			extensionKey: stateExtension{
				DOM:       s.state.DOM,
				Network:   s.state.Network,
				Recording: s.state.Recording,
			},
		}
	}
	return blob
}

func blobToState(blob *types.SessionBlob) (*types.BrowserSessionState, error) {
	ts, err := time.Parse(time.RFC3339, blob.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("blob timestamp: %w", err)
	}

	state := &types.BrowserSessionState{
		Version:   blob.Version,
		Timestamp: ts,
		Origin:    blob.SessionData.URL,
		Storage: types.StorageState{
			Cookies:        blob.SessionData.Cookies,
			LocalStorage:   blob.SessionData.LocalStorage,
			SessionStorage: blob.SessionData.SessionStorage,
		},
	}

	if raw, ok := blob.Extensions[extensionKey]; ok {
		encoded, err := codec.Encode(raw)
		if err != nil {
			return nil, fmt.Errorf("extensions: %w", err)
		}
		var ext stateExtension
		if err := codec.Decode(encoded, &ext); err != nil {
			return nil, fmt.Errorf("extensions: %w", err)
		}
		state.DOM = ext.DOM
		state.Network = ext.Network
		state.Recording = ext.Recording
	}
	return state, nil
}

func (s *Session) requireStatus(want Status) error {
	switch s.status {
	case StatusDeleted:
		return ErrDeleted
	case want:
		return nil
	case StatusRecording:
		return fmt.Errorf("%w: operation not allowed while recording", ErrRecordingState)
	default:
		return fmt.Errorf("session is %s", s.status)
	}
}

func (s *Session) recorder() (adapter.Recorder, error) {
	if s.adapter == nil {
		return nil, ErrAdapterUnavailable
	}
	rec, ok := s.adapter.(adapter.Recorder)
	if !ok {
		return nil, fmt.Errorf("%w: adapter lacks recording capability", ErrRecordingState)
	}
	return rec, nil
}

// adapterCall bounds every adapter call: a hung framework blocks the
// operation only until the timeout, never forever.
func (s *Session) adapterCall(ctx context.Context, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(actx)
}

func createdWith(provider string) string {
	switch provider {
	case types.ProviderPlaywright, types.ProviderPuppeteer, types.ProviderSelenium,
		types.ProviderBrowserUse, types.ProviderSkyvern, types.ProviderCustom:
		return provider
	case "":
		return types.ProviderCustom
	default:
		return types.ProviderCustom
	}
}

func emptyState(now time.Time) *types.BrowserSessionState {
	return &types.BrowserSessionState{
		Version:   types.BlobVersion,
		Timestamp: now,
		Storage: types.StorageState{
			Cookies:        []types.Cookie{},
			LocalStorage:   types.OriginStorage{},
			SessionStorage: types.OriginStorage{},
		},
	}
}

func normalizeState(state *types.BrowserSessionState) {
	if state.Version == "" {
		state.Version = types.BlobVersion
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now().UTC()
	}
	if state.Storage.Cookies == nil {
		state.Storage.Cookies = []types.Cookie{}
	}
	if state.Storage.LocalStorage == nil {
		state.Storage.LocalStorage = types.OriginStorage{}
	}
	if state.Storage.SessionStorage == nil {
		state.Storage.SessionStorage = types.OriginStorage{}
	}
	for i := range state.Storage.Cookies {
		state.Storage.Cookies[i].Normalize()
	}
}

func copyState(state *types.BrowserSessionState) (*types.BrowserSessionState, error) {
	encoded, err := codec.Encode(state)
	if err != nil {
		return nil, err
	}
	var out types.BrowserSessionState
	if err := codec.Decode(encoded, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
