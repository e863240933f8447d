// Package types defines the wire data model for portable browser
// session snapshots.
//
// The model has two layers:
//   - BrowserSessionState: the in-memory snapshot one adapter captures
//     from a live browser context (cookies, per-origin storage maps,
//     optional DOM/network/recording state).
//   - SessionBlob: the versioned interchange format that crosses
//     process and storage boundaries, carrying TTL policy, capture
//     metadata, and provider-opaque extensions.
//
// All JSON field names are part of the protocol and must not change
// without a version bump.
package types
