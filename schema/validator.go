// Package schema validates session blobs against the versioned wire
// schema and applies TTL-based expiry and pruning.
package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/samihalawa/psp-go/internal/codec"
	"github.com/samihalawa/psp-go/types"
)

// ValidationError is fatal: the blob violates the schema or has
// expired as a whole. It collects every violation, not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session validation failed: %s", strings.Join(e.Violations, "; "))
}

// Report is the result of a structural validation pass.
type Report struct {
	Valid  bool
	Errors []string
}

var (
	// Origin keys: scheme://host[:port] or a bare host. Storage maps
	// are keyed by origin and entries never merge across keys.
	originPattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://)?[A-Za-z0-9.-]+(:[0-9]+)?$`)

	// Extension keys are opaque provider namespaces.
	extensionKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Option configures a Validator.
type Option func(*Validator)

// WithClock injects the time source used for TTL decisions.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithSupportedVersions replaces the accepted schema version list.
func WithSupportedVersions(versions ...string) Option {
	return func(v *Validator) {
		v.supported = make(map[string]struct{}, len(versions))
		for _, ver := range versions {
			v.supported[ver] = struct{}{}
		}
	}
}

// Validator checks session blobs structurally and applies TTL policy.
type Validator struct {
	validate  *validator.Validate
	supported map[string]struct{}
	now       func() time.Time
}

// New creates a validator accepting the current blob version.
func New(opts ...Option) *Validator {
	val := validator.New()
	// RFC 3339 is the ISO-8601 profile used on the wire.
	_ = val.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.RFC3339, fl.Field().String())
		return err == nil
	})

	v := &Validator{
		validate:  val,
		supported: map[string]struct{}{types.BlobVersion: {}},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateSession runs the structural checks and reports every
// violation. It does not apply TTL policy; see SanitizeSession.
func (v *Validator) ValidateSession(blob *types.SessionBlob) *Report {
	if blob == nil {
		return &Report{Valid: false, Errors: []string{"blob is nil"}}
	}

	var errs []string

	if err := v.validate.Struct(blob); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fieldViolation(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if blob.Version != "" {
		if _, ok := v.supported[blob.Version]; !ok {
			errs = append(errs, fmt.Sprintf("version %q is not a supported schema version", blob.Version))
		}
	}

	for i, c := range blob.SessionData.Cookies {
		if c.Domain == "" {
			errs = append(errs, fmt.Sprintf("sessionData.cookies[%d]: domain is required", i))
		}
		switch c.SameSite {
		case "", types.SameSiteStrict, types.SameSiteLax, types.SameSiteNone:
		default:
			errs = append(errs, fmt.Sprintf("sessionData.cookies[%d]: invalid sameSite %q", i, c.SameSite))
		}
	}

	errs = append(errs, checkOriginKeys("sessionData.localStorage", blob.SessionData.LocalStorage)...)
	errs = append(errs, checkOriginKeys("sessionData.sessionStorage", blob.SessionData.SessionStorage)...)

	if blob.TTL != nil && blob.TTL.ExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, blob.TTL.ExpiresAt); err != nil {
			errs = append(errs, fmt.Sprintf("ttl.expiresAt: not an ISO-8601 timestamp: %q", blob.TTL.ExpiresAt))
		}
	}

	// Extensions are opaque beyond key shape: provider-specific data
	// passes through unvalidated for forward compatibility.
	for key := range blob.Extensions {
		if !extensionKeyPattern.MatchString(key) {
			errs = append(errs, fmt.Sprintf("extensions: invalid key %q", key))
		}
	}

	return &Report{Valid: len(errs) == 0, Errors: errs}
}

// SanitizeSession validates a blob, rejects it if expired as a whole,
// and prunes any field whose per-field TTL has elapsed. Sanitization
// is idempotent: re-sanitizing a pruned blob is a no-op.
func (v *Validator) SanitizeSession(blob *types.SessionBlob) (*types.SessionBlob, error) {
	report := v.ValidateSession(blob)
	if !report.Valid {
		return nil, &ValidationError{Violations: report.Errors}
	}

	now := v.now()
	ts, err := time.Parse(time.RFC3339, blob.Timestamp)
	if err != nil {
		return nil, &ValidationError{Violations: []string{fmt.Sprintf("timestamp: %v", err)}}
	}

	if blob.TTL == nil {
		return blob, nil
	}

	if expired, reason := v.globalExpiry(blob.TTL, ts, now); expired {
		return nil, &ValidationError{Violations: []string{reason}}
	}

	var expiredPaths []string
	for path, ttlSeconds := range blob.TTL.FieldTTL {
		if now.After(ts.Add(time.Duration(ttlSeconds) * time.Second)) {
			expiredPaths = append(expiredPaths, path)
		}
	}
	if len(expiredPaths) == 0 {
		return blob, nil
	}

	m, err := codec.ToMap(blob)
	if err != nil {
		return nil, fmt.Errorf("sanitize: %w", err)
	}
	for _, path := range expiredPaths {
		deletePath(m, path)
	}
	pruned, err := codec.FromMap(m)
	if err != nil {
		return nil, fmt.Errorf("sanitize: %w", err)
	}
	return pruned, nil
}

func (v *Validator) globalExpiry(ttl *types.TTLPolicy, ts, now time.Time) (bool, string) {
	if ttl.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, ttl.ExpiresAt)
		if err == nil && now.After(expiresAt) {
			return true, fmt.Sprintf("session expired at %s", ttl.ExpiresAt)
		}
	}
	if ttl.GlobalTTL != nil {
		deadline := ts.Add(time.Duration(*ttl.GlobalTTL) * time.Second)
		if now.After(deadline) {
			return true, fmt.Sprintf("session expired: global TTL of %ds elapsed", *ttl.GlobalTTL)
		}
	}
	return false, ""
}

func checkOriginKeys(field string, storage types.OriginStorage) []string {
	var errs []string
	for origin := range storage {
		if !originPattern.MatchString(origin) {
			errs = append(errs, fmt.Sprintf("%s: invalid origin key %q", field, origin))
		}
	}
	return errs
}

func fieldViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: required field is missing", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s: %q is not one of [%s]", fe.Namespace(), fe.Value(), fe.Param())
	case "iso8601":
		return fmt.Sprintf("%s: %q is not an ISO-8601 timestamp", fe.Namespace(), fe.Value())
	case "semver":
		return fmt.Sprintf("%s: %q is not a semantic version", fe.Namespace(), fe.Value())
	case "uri":
		return fmt.Sprintf("%s: %q is not a valid URI", fe.Namespace(), fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s validation", fe.Namespace(), fe.Tag())
	}
}
