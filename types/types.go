package types

import "time"

// SameSite values accepted on the wire.
const (
	SameSiteStrict = "Strict"
	SameSiteLax    = "Lax"
	SameSiteNone   = "None"
)

// Cookie is a single browser cookie. Domain is mandatory; cookies are
// never merged across domains.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  *int64 `json:"expires,omitempty"` // epoch milliseconds
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
	SameSite string `json:"sameSite"`
}

// Normalize fills protocol defaults on a captured cookie: path "/",
// sameSite Lax. Missing httpOnly/secure already zero-value to false.
func (c *Cookie) Normalize() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == "" {
		c.SameSite = SameSiteLax
	}
}

// OriginStorage maps an origin to its key/value entries. Entries from
// different origins are kept under separate keys and never merged.
type OriginStorage map[string]map[string]string

// Clone returns a deep copy of the storage map.
func (o OriginStorage) Clone() OriginStorage {
	if o == nil {
		return nil
	}
	out := make(OriginStorage, len(o))
	for origin, kv := range o {
		entries := make(map[string]string, len(kv))
		for k, v := range kv {
			entries[k] = v
		}
		out[origin] = entries
	}
	return out
}

// StorageState groups the persistent storage surfaces of a browser
// context.
type StorageState struct {
	Cookies        []Cookie      `json:"cookies"`
	LocalStorage   OriginStorage `json:"localStorage"`
	SessionStorage OriginStorage `json:"sessionStorage"`
}

// DOMState captures optional document state at snapshot time.
type DOMState struct {
	ScrollPosition *ScrollPosition   `json:"scrollPosition,omitempty"`
	ActiveElement  string            `json:"activeElement,omitempty"`
	FormData       map[string]string `json:"formData,omitempty"`
}

// ScrollPosition is a viewport offset in CSS pixels.
type ScrollPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NetworkCapture is one recorded network exchange.
type NetworkCapture struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp int64             `json:"timestamp"` // epoch milliseconds
}

// NetworkState holds recorded network traffic, when an adapter
// captures it.
type NetworkState struct {
	Captures []NetworkCapture `json:"captures"`
}

// Event is one recorded interaction. Timestamp is epoch milliseconds
// relative to the wall clock, not the recording start.
type Event struct {
	ID        string                 `json:"id,omitempty"`
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Target    string                 `json:"target,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Recording is an ordered interaction capture. Duration is derived
// from the last event's timestamp, in milliseconds.
type Recording struct {
	ID        string  `json:"id,omitempty"`
	Events    []Event `json:"events"`
	StartTime int64   `json:"startTime"`
	Duration  int64   `json:"duration"`
}

// BrowserSessionState is a point-in-time snapshot of one browser
// context. It is replaced wholesale on capture, never merged.
type BrowserSessionState struct {
	Version   string        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Origin    string        `json:"origin,omitempty"`
	Storage   StorageState  `json:"storage"`
	DOM       *DOMState     `json:"dom,omitempty"`
	Network   *NetworkState `json:"network,omitempty"`
	Recording *Recording    `json:"recording,omitempty"`
}

// SessionMetadata is the summary record kept alongside a session's
// state. ID is immutable for the lifetime of the session.
type SessionMetadata struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExpireAt    *time.Time `json:"expireAt,omitempty"`
	CreatedWith string     `json:"createdWith"`
}
