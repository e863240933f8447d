// Package id provides centralized ID generation for the protocol core.
//
// IDs are prefixed ULIDs: lexicographically sortable, unique without
// coordination, and readable in logs (sess_*, rec_*). A session ID is
// allocated once at creation and never changes for the lifetime of the
// persisted object.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a persisted session.
type SessionID string

// RecordingID identifies one recorded interaction capture.
type RecordingID string

// Prefixes for debugging and type identification.
const (
	SessionPrefix   = "sess"
	RecordingPrefix = "rec"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy
// source, useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRecordingID generates a new recording ID.
func NewRecordingID() RecordingID {
	return RecordingID(Default().GenerateWithPrefix(RecordingPrefix))
}

func (id SessionID) String() string   { return string(id) }
func (id RecordingID) String() string { return string(id) }

// IsSessionID reports whether a string is a well-formed session ID.
func IsSessionID(s string) bool {
	raw, ok := strings.CutPrefix(s, SessionPrefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(raw)
	return err == nil
}

// Timestamp extracts creation time from a prefixed ID.
func Timestamp(s string) (time.Time, error) {
	i := strings.IndexByte(s, '_')
	if i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
