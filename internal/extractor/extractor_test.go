package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/browser"
	"github.com/releasekit/relfetch/internal/browser/browsertest"
	"github.com/releasekit/relfetch/internal/domain"
)

const (
	checksumSelector = "a.checksum[data-version]"
	sha256Digest     = "bb476f3f1a7ddef1de1cf587d4d858ec2fe0c0b06aaf1f5180b8b0f3a2c84966"
)

func testConfig() Config {
	return Config{
		PageURL:          "https://downloads.vendor.example/releases",
		ControlSelector:  checksumSelector,
		SettleTimeout:    time.Second,
		DialogTimeout:    300 * time.Millisecond,
		ClipboardTimeout: 200 * time.Millisecond,
	}
}

func newSession(t *testing.T) *browsertest.Session {
	t.Helper()
	s := browsertest.New()
	s.SetControls(checksumSelector,
		browser.Control{Selector: "#cs-0", ReleaseID: "1.18", Text: "SHA-256 for 1.18"},
	)
	return s
}

func TestExtract_InputFieldTier(t *testing.T) {
	session := newSession(t)
	session.OnTrigger = func(selector string) {
		if selector == "#cs-0" {
			session.SetDialog(&browser.Dialog{
				Text:        "Checksum for release 1.18",
				InputValues: []string{sha256Digest},
			})
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	digest, err := e.Extract(context.Background(), "1.18")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if digest != sha256Digest {
		t.Errorf("Extract() = %q, want %q", digest, sha256Digest)
	}
	if !session.Closed {
		t.Error("session not closed")
	}
}

func TestExtract_ClipboardTier(t *testing.T) {
	// Input field holds placeholder text, so tier 1 misses and tier 2 must
	// go through the copy control.
	session := newSession(t)
	session.OnTrigger = func(selector string) {
		switch selector {
		case "#cs-0":
			session.SetDialog(&browser.Dialog{
				Text:        "Click to copy the checksum",
				InputValues: []string{"click copy to reveal"},
				Buttons: []browser.DialogButton{
					{Label: "Copy to clipboard", Selector: "#copy-btn"},
				},
			})
		case "#copy-btn":
			session.SetClipboard(sha256Digest + "\n")
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	digest, err := e.Extract(context.Background(), "1.18")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if digest != sha256Digest {
		t.Errorf("Extract() = %q, want %q", digest, sha256Digest)
	}
}

func TestExtract_TextScanTier(t *testing.T) {
	// Tiers 1 and 2 yield nothing; the digest is buried in the dialog text.
	session := newSession(t)
	session.OnTrigger = func(selector string) {
		if selector == "#cs-0" {
			session.SetDialog(&browser.Dialog{
				Text: "Release 1.18\nSHA-256: " + sha256Digest + "\nVerify before installing.",
			})
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	digest, err := e.Extract(context.Background(), "1.18")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if digest != sha256Digest {
		t.Errorf("Extract() = %q, want %q", digest, sha256Digest)
	}
}

func TestExtract_ConsentInterstitial(t *testing.T) {
	// A cookie-consent overlay appears first. The extractor must dismiss it
	// through the reject control, then extract from the dialog underneath.
	session := newSession(t)
	rejected := false
	session.OnTrigger = func(selector string) {
		switch selector {
		case "#cs-0":
			session.SetDialog(&browser.Dialog{
				Text: "We use cookies to improve your experience. Accept all?",
				Buttons: []browser.DialogButton{
					{Label: "Accept all", Selector: "#consent-accept"},
					{Label: "Reject all", Selector: "#consent-reject"},
				},
			})
		case "#consent-reject":
			rejected = true
			session.SetDialog(&browser.Dialog{
				Text:        "Checksum for 1.18",
				InputValues: []string{sha256Digest},
			})
		case "#consent-accept":
			t.Error("accept control used although reject was available")
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	digest, err := e.Extract(context.Background(), "1.18")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !rejected {
		t.Error("consent interstitial was not rejected")
	}
	if digest != sha256Digest {
		t.Errorf("Extract() = %q, want %q", digest, sha256Digest)
	}
}

func TestExtract_ConsentTextNotScanned(t *testing.T) {
	// The consent overlay itself contains a 64-hex token; it must not be
	// extracted as the digest.
	decoy := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	session := newSession(t)
	session.OnTrigger = func(selector string) {
		switch selector {
		case "#cs-0":
			session.SetDialog(&browser.Dialog{
				Text: "We use cookies. Session token " + decoy + ". Accept?",
				Buttons: []browser.DialogButton{
					{Label: "Decline", Selector: "#consent-reject"},
				},
			})
		case "#consent-reject":
			session.SetDialog(&browser.Dialog{
				Text: "SHA-256: " + sha256Digest,
			})
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	digest, err := e.Extract(context.Background(), "1.18")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if digest != sha256Digest {
		t.Errorf("Extract() = %q, want %q (not the consent decoy)", digest, sha256Digest)
	}
}

func TestExtract_Exhausted(t *testing.T) {
	session := newSession(t)
	session.OnTrigger = func(selector string) {
		if selector == "#cs-0" {
			session.SetDialog(&browser.Dialog{Text: "Checksums are temporarily unavailable"})
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	_, err := e.Extract(context.Background(), "1.18")
	if !errors.Is(err, domain.ErrNoDigestFound) {
		t.Fatalf("Extract() error = %v, want ErrNoDigestFound", err)
	}
	if !session.Closed {
		t.Error("session not closed after exhaustion")
	}
}

func TestExtract_ControlNotFound(t *testing.T) {
	session := browsertest.New()

	e := New(testConfig(), session.Factory(), zap.NewNop())
	_, err := e.Extract(context.Background(), "1.18")
	if !errors.Is(err, domain.ErrChecksumControlNotFound) {
		t.Fatalf("Extract() error = %v, want ErrChecksumControlNotFound", err)
	}
	if !session.Closed {
		t.Error("session not closed")
	}
}

func TestExtract_MatchesControlByText(t *testing.T) {
	// Controls without an embedded release attribute are matched by text
	// containment.
	session := browsertest.New()
	session.SetControls(checksumSelector,
		browser.Control{Selector: "#cs-17", Text: "checksum 1.17"},
		browser.Control{Selector: "#cs-18", Text: "checksum 1.18"},
	)
	session.OnTrigger = func(selector string) {
		if selector == "#cs-18" {
			session.SetDialog(&browser.Dialog{InputValues: []string{sha256Digest}})
		}
	}

	e := New(testConfig(), session.Factory(), zap.NewNop())
	digest, err := e.Extract(context.Background(), "v1.18")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if digest != sha256Digest {
		t.Errorf("Extract() = %q, want %q", digest, sha256Digest)
	}
}
