package types

// Provider tags accepted in SessionBlob.sessionData.provider.
const (
	ProviderPlaywright = "playwright"
	ProviderPuppeteer  = "puppeteer"
	ProviderSelenium   = "selenium"
	ProviderBrowserUse = "browser-use"
	ProviderSkyvern    = "skyvern"
	ProviderCustom     = "custom"
)

// BlobVersion is the schema version written by this module.
const BlobVersion = "1.0.0"

// TTLPolicy controls blob expiry during sanitization. GlobalTTL and
// ExpiresAt invalidate the whole blob; FieldTTL entries prune only the
// nested field named by their dot-path.
type TTLPolicy struct {
	GlobalTTL *int64           `json:"globalTtl,omitempty"` // seconds from blob timestamp
	FieldTTL  map[string]int64 `json:"fieldTtl,omitempty"`  // dot-path -> seconds
	ExpiresAt string           `json:"expiresAt,omitempty"` // ISO-8601 absolute expiry
}

// Viewport is the browser window size at capture time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionData is the captured browser state inside a SessionBlob.
type SessionData struct {
	Provider       string                 `json:"provider" validate:"required,oneof=playwright puppeteer selenium browser-use skyvern custom"`
	Cookies        []Cookie               `json:"cookies"`
	LocalStorage   OriginStorage          `json:"localStorage"`
	SessionStorage OriginStorage          `json:"sessionStorage"`
	URL            string                 `json:"url,omitempty" validate:"omitempty,uri"`
	UserAgent      string                 `json:"userAgent,omitempty"`
	Viewport       *Viewport              `json:"viewport,omitempty"`
	AuthState      map[string]interface{} `json:"authState,omitempty"`
}

// BlobMetadata describes how and where a blob was captured.
type BlobMetadata struct {
	Platform      string                 `json:"platform" validate:"required"`
	CaptureMethod string                 `json:"captureMethod" validate:"required"`
	Compatibility []string               `json:"compatibility"`
	Features      map[string]bool        `json:"features,omitempty"`
	Performance   map[string]float64     `json:"performance,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// BinaryData carries opaque media captured with the session.
type BinaryData struct {
	Screenshots []string `json:"screenshots"` // base64
	Recordings  []string `json:"recordings"`  // base64
}

// SessionBlob is the versioned interchange format for a persisted
// session. Timestamps are ISO-8601 strings on the wire so malformed
// values surface as validation errors rather than decode failures.
type SessionBlob struct {
	Version     string                 `json:"version" validate:"required,semver"`
	SessionID   string                 `json:"sessionId" validate:"required"`
	Timestamp   string                 `json:"timestamp" validate:"required,iso8601"`
	TTL         *TTLPolicy             `json:"ttl,omitempty"`
	SessionData SessionData            `json:"sessionData"`
	Metadata    BlobMetadata           `json:"metadata"`
	BinaryData  *BinaryData            `json:"binaryData,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// EncryptedBlob is the at-rest envelope produced by the encryption
// engine. Metadata is cleartext but bound into the GCM tag as AAD;
// HMAC covers every field except itself and must verify before any
// decryption attempt.
type EncryptedBlob struct {
	Version   string            `json:"version"`
	Algorithm string            `json:"algorithm"`
	Salt      string            `json:"salt"`    // base64
	IV        string            `json:"iv"`      // base64
	AuthTag   string            `json:"authTag"` // base64
	Data      string            `json:"data"`    // base64 ciphertext
	Metadata  map[string]string `json:"metadata"`
	Timestamp string            `json:"timestamp"`
	HMAC      string            `json:"hmac"` // base64
}
