// Package browser abstracts the automated browser session behind a small
// capability interface so resolution and extraction logic can run against a
// scripted fake in tests. The production implementation drives Chrome over
// the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrWindowElapsed is returned by Observation.Wait when the capture window
// passes without a matching response.
var ErrWindowElapsed = errors.New("observation window elapsed")

// Control is an interactive element on the vendor page. Selector uniquely
// targets the element for a later Trigger call.
type Control struct {
	Selector  string `json:"selector"`
	ReleaseID string `json:"release"`
	Text      string `json:"text"`
}

// Response is the subset of a received network response the pipeline
// inspects.
type Response struct {
	URL         string
	ContentType string
}

// ResponseFilter selects the responses an observation should capture.
type ResponseFilter func(Response) bool

// Observation is a handle on an in-flight response watch. Stop tears the
// listener down so a late match cannot be delivered after the caller has
// given up.
type Observation interface {
	// Wait blocks until a matching response arrives, the window elapses
	// (ErrWindowElapsed), or ctx is done.
	Wait(ctx context.Context, window time.Duration) (Response, error)
	Stop()
}

// DialogButton is a clickable control inside the active dialog.
type DialogButton struct {
	Label    string `json:"label"`
	Selector string `json:"selector"`
}

// Dialog is a snapshot of the currently visible dialog or overlay.
type Dialog struct {
	Text        string         `json:"text"`
	InputValues []string       `json:"inputs"`
	Buttons     []DialogButton `json:"buttons"`
}

// Session is one isolated browser session. Implementations must be closed
// exactly once; Close is safe to call on every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error

	// WaitSettled waits until network activity has gone quiet, bounded by
	// timeout. Elapsing the bound is not an error; the page is used as-is.
	WaitSettled(ctx context.Context, timeout time.Duration) error

	// Controls returns all elements matching the CSS selector, each with a
	// selector that can be passed back to Trigger.
	Controls(ctx context.Context, selector string) ([]Control, error)

	// Trigger simulates activation of the element at selector.
	Trigger(ctx context.Context, selector string) error

	// ObserveResponses starts watching received responses. The observation
	// must be attached before the triggering action so an immediate
	// redirect cannot be missed.
	ObserveResponses(filter ResponseFilter) (Observation, error)

	// ActiveDialog snapshots the currently visible dialog, or returns nil
	// when none is shown.
	ActiveDialog(ctx context.Context) (*Dialog, error)

	ReadClipboard(ctx context.Context) (string, error)

	// SendEscape sends an Escape key press, the fallback way to dismiss a
	// dialog without a usable close control.
	SendEscape(ctx context.Context) error

	Close() error
}

// Factory opens a fresh session. The pipeline opens one session per
// resolution attempt and always closes it on the way out.
type Factory func(ctx context.Context) (Session, error)
