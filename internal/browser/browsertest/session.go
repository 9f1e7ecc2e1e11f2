// Package browsertest provides a scripted Session implementation for testing
// the resolution and extraction logic without a real browser.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/releasekit/relfetch/internal/browser"
)

// Session is a scripted browser session. Tests prepare page state with the
// Set* helpers and react to triggers through OnTrigger.
type Session struct {
	mu sync.Mutex

	controls  map[string][]browser.Control
	dialog    *browser.Dialog
	clipboard string

	// OnTrigger runs after a trigger is recorded, letting a test mutate
	// session state (swap the dialog, emit a response, fill the clipboard)
	// the way the page's scripts would.
	OnTrigger func(selector string)

	observations []*observation

	Navigated []string
	Triggered []string
	Closed    bool

	NavigateErr error
	TriggerErr  error
}

var _ browser.Session = (*Session)(nil)

// New returns an empty scripted session.
func New() *Session {
	return &Session{controls: make(map[string][]browser.Control)}
}

// SetControls scripts the controls returned for a selector.
func (s *Session) SetControls(selector string, controls ...browser.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[selector] = controls
}

// SetDialog scripts the currently visible dialog. nil means no dialog.
func (s *Session) SetDialog(d *browser.Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialog = d
}

// SetClipboard scripts the clipboard contents.
func (s *Session) SetClipboard(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipboard = text
}

// EmitResponse delivers a response to every active observation whose filter
// accepts it.
func (s *Session) EmitResponse(r browser.Response) {
	s.mu.Lock()
	obs := make([]*observation, len(s.observations))
	copy(obs, s.observations)
	s.mu.Unlock()

	for _, o := range obs {
		o.deliver(r)
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Navigated = append(s.Navigated, url)
	return s.NavigateErr
}

func (s *Session) WaitSettled(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (s *Session) Controls(ctx context.Context, selector string) ([]browser.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls[selector], nil
}

func (s *Session) Trigger(ctx context.Context, selector string) error {
	s.mu.Lock()
	s.Triggered = append(s.Triggered, selector)
	hook := s.OnTrigger
	err := s.TriggerErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(selector)
	}
	return nil
}

func (s *Session) ObserveResponses(filter browser.ResponseFilter) (browser.Observation, error) {
	o := &observation{filter: filter, ch: make(chan browser.Response, 1)}
	s.mu.Lock()
	s.observations = append(s.observations, o)
	s.mu.Unlock()
	return o, nil
}

func (s *Session) ActiveDialog(ctx context.Context) (*browser.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialog, nil
}

func (s *Session) ReadClipboard(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard, nil
}

func (s *Session) SendEscape(ctx context.Context) error {
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Factory returns a browser.Factory that always hands out this session.
func (s *Session) Factory() browser.Factory {
	return func(ctx context.Context) (browser.Session, error) {
		return s, nil
	}
}

type observation struct {
	filter  browser.ResponseFilter
	ch      chan browser.Response
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func (o *observation) deliver(r browser.Response) {
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped || !o.filter(r) {
		return
	}
	o.once.Do(func() { o.ch <- r })
}

func (o *observation) Wait(ctx context.Context, window time.Duration) (browser.Response, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case r := <-o.ch:
		return r, nil
	case <-timer.C:
		return browser.Response{}, browser.ErrWindowElapsed
	case <-ctx.Done():
		return browser.Response{}, ctx.Err()
	}
}

func (o *observation) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
}
