package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cdbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// settleQuiet is how long the network must stay quiet before the page is
// considered settled.
const settleQuiet = 500 * time.Millisecond

// ChromeSession drives a headless Chrome instance over the DevTools
// protocol.
type ChromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu        sync.Mutex
	inflight  map[network.RequestID]struct{}
	lastEvent time.Time

	closed atomic.Bool
}

var _ Session = (*ChromeSession)(nil)

// NewChromeSession launches an isolated browser instance. The session holds
// the whole browser process; Close tears it down.
func NewChromeSession(parent context.Context, logger *zap.Logger, headless bool) (*ChromeSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &ChromeSession{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
		inflight:    make(map[network.RequestID]struct{}),
		lastEvent:   time.Now(),
	}

	// Track request lifecycles for the settle wait.
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			s.mu.Lock()
			s.inflight[e.RequestID] = struct{}{}
			s.lastEvent = time.Now()
			s.mu.Unlock()
		case *network.EventLoadingFinished:
			s.requestDone(e.RequestID)
		case *network.EventLoadingFailed:
			s.requestDone(e.RequestID)
		}
	})

	if err := chromedp.Run(ctx,
		network.Enable(),
		cdbrowser.GrantPermissions([]cdbrowser.PermissionType{
			cdbrowser.PermissionTypeClipboardReadWrite,
			cdbrowser.PermissionTypeClipboardSanitizedWrite,
		}),
	); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	return s, nil
}

func (s *ChromeSession) requestDone(id network.RequestID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.lastEvent = time.Now()
	s.mu.Unlock()
}

// Navigate loads url in the session's tab.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.action(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitSettled waits for the network to go quiet, bounded by timeout. Pages
// that keep polling never fully settle; the bound elapsing just means the
// page is used in whatever state it reached.
func (s *ChromeSession) WaitSettled(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		quiet := len(s.inflight) == 0 && time.Since(s.lastEvent) >= settleQuiet
		pending := len(s.inflight)
		s.mu.Unlock()

		if quiet {
			return nil
		}
		if time.Now().After(deadline) {
			s.logger.Debug("page did not settle within bound",
				zap.Duration("timeout", timeout),
				zap.Int("inflight", pending))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
		}
	}
}

// controlsJS tags every element matching the selector with a stable marker
// attribute and reports each one's embedded release identifier and text.
const controlsJS = `(() => {
	const out = [];
	document.querySelectorAll(%q).forEach((el, i) => {
		el.setAttribute('data-rf-ctl', String(i));
		out.push({
			selector: '[data-rf-ctl="' + i + '"]',
			release: el.getAttribute('data-version') || el.getAttribute('data-release') || '',
			text: (el.textContent || '').trim(),
		});
	});
	return out;
})()`

// Controls enumerates the elements matching selector.
func (s *ChromeSession) Controls(ctx context.Context, selector string) ([]Control, error) {
	var controls []Control
	expr := fmt.Sprintf(controlsJS, selector)
	if err := s.action(ctx, chromedp.Evaluate(expr, &controls)); err != nil {
		return nil, fmt.Errorf("failed to enumerate controls %q: %w", selector, err)
	}
	return controls, nil
}

// Trigger clicks the element at selector.
func (s *ChromeSession) Trigger(ctx context.Context, selector string) error {
	if err := s.action(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to trigger %q: %w", selector, err)
	}
	return nil
}

// chromeObservation delivers the first matching network response.
type chromeObservation struct {
	ch      chan Response
	once    sync.Once
	stopped atomic.Bool
}

func (o *chromeObservation) Wait(ctx context.Context, window time.Duration) (Response, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case r := <-o.ch:
		return r, nil
	case <-timer.C:
		return Response{}, ErrWindowElapsed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (o *chromeObservation) Stop() {
	o.stopped.Store(true)
}

// ObserveResponses watches every received response and records the first one
// the filter accepts. The redirect fires asynchronously after the click, so
// the observation must already be attached when the control is triggered.
func (s *ChromeSession) ObserveResponses(filter ResponseFilter) (Observation, error) {
	obs := &chromeObservation{ch: make(chan Response, 1)}

	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if obs.stopped.Load() {
			return
		}
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		r := Response{URL: e.Response.URL, ContentType: e.Response.MimeType}
		if !filter(r) {
			return
		}
		obs.once.Do(func() {
			obs.ch <- r
			s.logger.Debug("captured matching response", zap.String("url", r.URL))
		})
	})

	return obs, nil
}

// dialogJS snapshots the first visible dialog-like element: its text, the
// values of its input fields, and its buttons, each tagged with a marker
// attribute usable as a trigger selector.
const dialogJS = `(() => {
	const candidates = [
		'[role="dialog"]', 'dialog[open]', '.modal.show', '.modal.in',
		'.modal[style*="display: block"]', '.cookie-banner', '.cc-window',
	];
	let dlg = null;
	for (const sel of candidates) {
		for (const el of document.querySelectorAll(sel)) {
			const style = window.getComputedStyle(el);
			if (style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0) {
				dlg = el;
				break;
			}
		}
		if (dlg) break;
	}
	if (!dlg) return { found: false };

	const inputs = [];
	dlg.querySelectorAll('input, textarea').forEach((el) => inputs.push(el.value || ''));

	const buttons = [];
	dlg.querySelectorAll('button, [role="button"], a.btn, input[type="button"]').forEach((el, i) => {
		el.setAttribute('data-rf-btn', String(i));
		buttons.push({
			label: (el.textContent || el.value || el.getAttribute('aria-label') || '').trim(),
			selector: '[data-rf-btn="' + i + '"]',
		});
	});

	return {
		found: true,
		text: (dlg.textContent || '').trim(),
		inputs: inputs,
		buttons: buttons,
	};
})()`

// ActiveDialog returns the currently visible dialog, or nil when none is
// shown.
func (s *ChromeSession) ActiveDialog(ctx context.Context) (*Dialog, error) {
	var snap struct {
		Found   bool           `json:"found"`
		Text    string         `json:"text"`
		Inputs  []string       `json:"inputs"`
		Buttons []DialogButton `json:"buttons"`
	}
	if err := s.action(ctx, chromedp.Evaluate(dialogJS, &snap)); err != nil {
		return nil, fmt.Errorf("failed to snapshot dialog: %w", err)
	}
	if !snap.Found {
		return nil, nil
	}
	return &Dialog{Text: snap.Text, InputValues: snap.Inputs, Buttons: snap.Buttons}, nil
}

// ReadClipboard reads the page clipboard. Clipboard permission is granted at
// session start.
func (s *ChromeSession) ReadClipboard(ctx context.Context) (string, error) {
	var text string
	err := s.action(ctx,
		chromedp.Evaluate(`navigator.clipboard.readText()`, &text,
			func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}))
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return text, nil
}

// SendEscape presses Escape in the page.
func (s *ChromeSession) SendEscape(ctx context.Context) error {
	if err := s.action(ctx, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("failed to send escape: %w", err)
	}
	return nil
}

// Close shuts down the browser process. Safe to call more than once.
func (s *ChromeSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.allocCancel()
	return nil
}

// action runs chromedp actions on the session's target context, failing
// fast when the caller's context is already done.
func (s *ChromeSession) action(ctx context.Context, acts ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.ctx, acts...)
}
