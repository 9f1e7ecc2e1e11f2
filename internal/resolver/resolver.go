// Package resolver discovers the real binary URL behind a release's download
// control. The page reveals the URL only through script-driven redirects, so
// the resolver attaches a network observation before triggering the control
// and races it against a bounded capture window.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/browser"
	"github.com/releasekit/relfetch/internal/domain"
)

// Config holds the page shape and timing bounds for resolution.
type Config struct {
	PageURL            string
	FilePrefix         string
	ArchiveExt         string
	BinaryContentTypes []string
	ControlSelector    string
	SettleTimeout      time.Duration
	CaptureWindow      time.Duration
}

// Resolver resolves a version identifier to its artifact URL.
type Resolver struct {
	cfg      Config
	sessions browser.Factory
	logger   *zap.Logger
}

// New creates a Resolver that opens one session per attempt through sessions.
func New(cfg Config, sessions browser.Factory, logger *zap.Logger) *Resolver {
	return &Resolver{cfg: cfg, sessions: sessions, logger: logger}
}

// Resolve drives a browser session to the vendor page, triggers the release
// control for version, and returns the captured binary URL. The session is
// closed on every exit path.
func (r *Resolver) Resolve(ctx context.Context, version string) (string, error) {
	session, err := r.sessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open browser session: %w", err)
	}
	defer session.Close()

	if err := session.Navigate(ctx, r.cfg.PageURL); err != nil {
		return "", err
	}
	if err := session.WaitSettled(ctx, r.cfg.SettleTimeout); err != nil {
		return "", err
	}

	control, err := r.findControl(ctx, session, version)
	if err != nil {
		return "", err
	}

	// Attach before triggering: the redirect can land before the click
	// call returns.
	obs, err := session.ObserveResponses(r.artifactFilter())
	if err != nil {
		return "", fmt.Errorf("failed to observe responses: %w", err)
	}
	defer obs.Stop()

	if err := session.Trigger(ctx, control.Selector); err != nil {
		return "", err
	}

	r.logger.Debug("control triggered, waiting for redirect",
		zap.String("version", version),
		zap.Duration("window", r.cfg.CaptureWindow))

	resp, err := obs.Wait(ctx, r.cfg.CaptureWindow)
	if errors.Is(err, browser.ErrWindowElapsed) {
		return "", fmt.Errorf("version %s: %w", version, domain.ErrRedirectNotCaptured)
	}
	if err != nil {
		return "", err
	}

	r.logger.Info("resolved binary url",
		zap.String("version", version),
		zap.String("url", resp.URL))
	return resp.URL, nil
}

// findControl locates the release control whose embedded identifier names
// the requested version.
func (r *Resolver) findControl(ctx context.Context, session browser.Session, version string) (*browser.Control, error) {
	controls, err := session.Controls(ctx, r.cfg.ControlSelector)
	if err != nil {
		return nil, err
	}

	for i := range controls {
		if controls[i].ReleaseID == "" {
			continue
		}
		if domain.SameRelease(controls[i].ReleaseID, version) {
			return &controls[i], nil
		}
	}

	r.logger.Debug("no control matched",
		zap.String("version", version),
		zap.Int("controls", len(controls)))
	return nil, fmt.Errorf("version %s: %w", version, domain.ErrControlNotFound)
}

// artifactFilter matches a response only when its URL names the artifact and
// its content type is a binary archive. The triple condition keeps unrelated
// redirects from being captured.
func (r *Resolver) artifactFilter() browser.ResponseFilter {
	prefix := strings.ToLower(r.cfg.FilePrefix)
	ext := strings.ToLower(r.cfg.ArchiveExt)

	return func(resp browser.Response) bool {
		u := strings.ToLower(resp.URL)
		if !strings.Contains(u, prefix) || !strings.Contains(u, ext) {
			return false
		}
		ct := strings.ToLower(resp.ContentType)
		for _, want := range r.cfg.BinaryContentTypes {
			if strings.Contains(ct, strings.ToLower(want)) {
				return true
			}
		}
		return false
	}
}
