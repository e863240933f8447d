// Package adapter declares the contracts automation-framework
// bindings implement. The core never implements these: a Playwright,
// Puppeteer, or Selenium binding lives outside this module and is
// handed to a Session.
//
// Capability is split by interface: Adapter is the required core
// (capture/apply); Recorder is the optional recording/playback
// extension, detected with a type assertion rather than probing for
// methods.
package adapter

import (
	"context"

	"github.com/samihalawa/psp-go/types"
)

// Adapter is the required capability set.
type Adapter interface {
	// Connect attaches the adapter to a browser target (CDP URL,
	// page handle, grid endpoint, whatever the framework addresses).
	Connect(ctx context.Context, target string) error

	// CaptureState snapshots the connected context.
	CaptureState(ctx context.Context) (*types.BrowserSessionState, error)

	// ApplyState pushes a snapshot into the connected context. It
	// must not mutate the given state.
	ApplyState(ctx context.Context, state *types.BrowserSessionState) error
}

// RecordOptions tunes an interaction recording.
type RecordOptions struct {
	CaptureClicks     bool `json:"captureClicks"`
	CaptureInputs     bool `json:"captureInputs"`
	CaptureNavigation bool `json:"captureNavigation"`
	CaptureScroll     bool `json:"captureScroll"`
}

// PlaybackOptions tunes recording playback.
type PlaybackOptions struct {
	// Speed scales inter-event delays; 1.0 replays in real time,
	// 0 replays as fast as the adapter allows.
	Speed float64 `json:"speed"`
	// StopOnError aborts playback at the first failed event.
	StopOnError bool `json:"stopOnError"`
}

// Recorder is the optional recording/playback capability.
type Recorder interface {
	StartRecording(ctx context.Context, opts *RecordOptions) error
	// StopRecording returns the ordered events captured since
	// StartRecording.
	StopRecording(ctx context.Context) ([]types.Event, error)
	PlayRecording(ctx context.Context, events []types.Event, opts *PlaybackOptions) error
}
