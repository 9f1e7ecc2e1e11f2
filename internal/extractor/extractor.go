// Package extractor recovers the vendor-recorded checksum for a release from
// the page's checksum dialog. The dialog is volatile: it may be preceded by a
// cookie-consent interstitial and its internal shape varies, so recovery runs
// through an ordered list of extraction tiers and the first success wins.
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/browser"
	"github.com/releasekit/relfetch/internal/domain"
)

// hex64Pattern matches a full-length sha256 hex digest inside free text.
var hex64Pattern = regexp.MustCompile(`[0-9a-fA-F]{64}`)

// Config holds the page shape and timing bounds for extraction.
type Config struct {
	PageURL          string
	ControlSelector  string
	SettleTimeout    time.Duration
	DialogTimeout    time.Duration
	ClipboardTimeout time.Duration
}

// Extractor recovers a digest for a version from the checksum dialog.
type Extractor struct {
	cfg      Config
	sessions browser.Factory
	logger   *zap.Logger
}

// New creates an Extractor that opens one session per attempt.
func New(cfg Config, sessions browser.Factory, logger *zap.Logger) *Extractor {
	return &Extractor{cfg: cfg, sessions: sessions, logger: logger}
}

// tier is one digest-recovery strategy. Returns the digest and whether it
// was found; an error aborts only the current tier.
type tier struct {
	name    string
	extract func(ctx context.Context, session browser.Session, dlg *browser.Dialog) (string, bool, error)
}

// Extract locates the version's checksum control, opens its dialog, and runs
// the recovery tiers in priority order. Exhausting every tier returns
// domain.ErrNoDigestFound; callers treat that as informational.
func (e *Extractor) Extract(ctx context.Context, version string) (string, error) {
	session, err := e.sessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open browser session: %w", err)
	}
	defer session.Close()

	if err := session.Navigate(ctx, e.cfg.PageURL); err != nil {
		return "", err
	}
	if err := session.WaitSettled(ctx, e.cfg.SettleTimeout); err != nil {
		return "", err
	}

	control, err := e.findControl(ctx, session, version)
	if err != nil {
		return "", err
	}
	if err := session.Trigger(ctx, control.Selector); err != nil {
		return "", err
	}

	// Absence of a dialog here is tolerated: the tiers re-check by content.
	dlg, err := e.waitDialog(ctx, session)
	if err != nil {
		return "", err
	}

	// A consent interstitial may sit on top of the checksum dialog. Dismiss
	// it and re-snapshot before attempting extraction.
	dlg, err = e.dismissConsent(ctx, session, dlg)
	if err != nil {
		return "", err
	}

	tiers := []tier{
		{name: "input-field", extract: e.fromInputField},
		{name: "clipboard", extract: e.fromClipboard},
		{name: "text-scan", extract: e.fromTextScan},
	}

	digest := ""
	for _, t := range tiers {
		value, found, err := t.extract(ctx, session, dlg)
		if err != nil {
			e.logger.Debug("extraction tier failed",
				zap.String("tier", t.name),
				zap.Error(err))
			continue
		}
		if found {
			e.logger.Info("digest recovered",
				zap.String("version", version),
				zap.String("tier", t.name))
			digest = strings.ToLower(value)
			break
		}
		e.logger.Debug("extraction tier empty", zap.String("tier", t.name))
	}

	e.closeDialog(ctx, session)

	if digest == "" {
		return "", fmt.Errorf("version %s: %w", version, domain.ErrNoDigestFound)
	}
	return digest, nil
}

// findControl locates the "show checksum" control for version, matching the
// embedded release identifier first and the control text as fallback.
func (e *Extractor) findControl(ctx context.Context, session browser.Session, version string) (*browser.Control, error) {
	controls, err := session.Controls(ctx, e.cfg.ControlSelector)
	if err != nil {
		return nil, err
	}

	release := domain.NormalizeRelease(version)
	for i := range controls {
		if controls[i].ReleaseID != "" && domain.SameRelease(controls[i].ReleaseID, version) {
			return &controls[i], nil
		}
		if controls[i].ReleaseID == "" && strings.Contains(controls[i].Text, release) {
			return &controls[i], nil
		}
	}
	return nil, fmt.Errorf("version %s: %w", version, domain.ErrChecksumControlNotFound)
}

// waitDialog polls for a visible dialog, bounded by the dialog timeout. A
// missing dialog is not fatal; nil is returned.
func (e *Extractor) waitDialog(ctx context.Context, session browser.Session) (*browser.Dialog, error) {
	deadline := time.Now().Add(e.cfg.DialogTimeout)
	for {
		dlg, err := session.ActiveDialog(ctx)
		if err != nil {
			return nil, err
		}
		if dlg != nil {
			return dlg, nil
		}
		if time.Now().After(deadline) {
			e.logger.Debug("no dialog appeared within bound",
				zap.Duration("timeout", e.cfg.DialogTimeout))
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// consentPhrases mark an overlay as a cookie-consent interstitial rather
// than the checksum dialog.
var consentPhrases = []string{"consent", "accept", "agree", "privacy"}

func isConsent(dlg *browser.Dialog) bool {
	if dlg == nil {
		return false
	}
	text := strings.ToLower(dlg.Text)
	if !strings.Contains(text, "cookie") {
		return false
	}
	for _, phrase := range consentPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// dismissConsent clears a consent interstitial, preferring a reject control
// over accept, then waits for the dialog underneath.
func (e *Extractor) dismissConsent(ctx context.Context, session browser.Session, dlg *browser.Dialog) (*browser.Dialog, error) {
	// A second overlay can follow the first; bound the dismissals so a
	// consent dialog that refuses to go away cannot loop forever.
	for attempt := 0; attempt < 3 && isConsent(dlg); attempt++ {
		button := findButton(dlg, "reject", "decline", "refuse", "no thanks")
		if button == nil {
			button = findButton(dlg, "accept", "agree", "allow", "ok")
		}
		if button == nil {
			// No usable control; try the keyboard fallback.
			if err := session.SendEscape(ctx); err != nil {
				return nil, err
			}
		} else {
			e.logger.Debug("dismissing consent interstitial", zap.String("button", button.Label))
			if err := session.Trigger(ctx, button.Selector); err != nil {
				return nil, err
			}
		}

		next, err := e.waitDialog(ctx, session)
		if err != nil {
			return nil, err
		}
		dlg = next
	}
	return dlg, nil
}

// fromInputField reads the dialog's first input-like field (tier 1).
func (e *Extractor) fromInputField(ctx context.Context, session browser.Session, dlg *browser.Dialog) (string, bool, error) {
	if dlg == nil || len(dlg.InputValues) == 0 {
		return "", false, nil
	}
	value := strings.TrimSpace(dlg.InputValues[0])
	if !domain.ValidDigest(value) {
		return "", false, nil
	}
	return value, true, nil
}

// fromClipboard triggers the dialog's copy control and reads the clipboard
// (tier 2).
func (e *Extractor) fromClipboard(ctx context.Context, session browser.Session, dlg *browser.Dialog) (string, bool, error) {
	if dlg == nil {
		return "", false, nil
	}
	button := findButton(dlg, "copy")
	if button == nil {
		return "", false, nil
	}
	if err := session.Trigger(ctx, button.Selector); err != nil {
		return "", false, err
	}

	// The page script fills the clipboard asynchronously after the click.
	deadline := time.Now().Add(e.cfg.ClipboardTimeout)
	for {
		text, err := session.ReadClipboard(ctx)
		if err == nil {
			if value := strings.TrimSpace(text); domain.ValidDigest(value) {
				return value, true, nil
			}
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// fromTextScan scans the dialog's full text for a 64-hex substring (tier 3).
func (e *Extractor) fromTextScan(ctx context.Context, session browser.Session, dlg *browser.Dialog) (string, bool, error) {
	if dlg == nil {
		return "", false, nil
	}
	if match := hex64Pattern.FindString(dlg.Text); match != "" {
		return match, true, nil
	}
	return "", false, nil
}

// closeDialog closes whatever dialog remains: explicit close control first,
// Escape as fallback. Best effort; failures are logged and swallowed.
func (e *Extractor) closeDialog(ctx context.Context, session browser.Session) {
	dlg, err := session.ActiveDialog(ctx)
	if err != nil || dlg == nil {
		return
	}
	if button := findButton(dlg, "close", "done", "dismiss", "×", "x"); button != nil {
		if err := session.Trigger(ctx, button.Selector); err == nil {
			return
		}
	}
	if err := session.SendEscape(ctx); err != nil {
		e.logger.Debug("failed to close dialog", zap.Error(err))
	}
}

// findButton returns the first dialog button whose label contains one of the
// given words, case-insensitively.
func findButton(dlg *browser.Dialog, words ...string) *browser.DialogButton {
	for _, word := range words {
		for i := range dlg.Buttons {
			label := strings.ToLower(strings.TrimSpace(dlg.Buttons[i].Label))
			// Single-character labels ("x", "×") must match exactly.
			if label == word || (len(word) > 1 && strings.Contains(label, word)) {
				return &dlg.Buttons[i]
			}
		}
	}
	return nil
}
