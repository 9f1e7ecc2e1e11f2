// Package pipeline wires resolution, extraction, fetch, and verification
// into the single resolve-fetch-verify flow, updating the catalog and the
// transfer journal as a side effect.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/catalog"
	"github.com/releasekit/relfetch/internal/domain"
	"github.com/releasekit/relfetch/internal/fetcher"
)

// URLResolver resolves a version identifier to its artifact URL.
type URLResolver interface {
	Resolve(ctx context.Context, version string) (string, error)
}

// DigestExtractor recovers the vendor-recorded digest for a version.
type DigestExtractor interface {
	Extract(ctx context.Context, version string) (string, error)
}

// ArtifactFetcher streams a URL to a destination with digest verification.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, url, destination string, opts fetcher.Options) (*domain.TransferResult, error)
}

// Journal records transfer attempts. Optional; recording failures never fail
// the pipeline.
type Journal interface {
	Begin(version, url, destination string) (int64, error)
	Complete(id int64, result *domain.TransferResult) error
	Fail(id int64, errMsg string) error
}

// Pipeline is the resolve-fetch-verify orchestrator.
type Pipeline struct {
	catalog   *catalog.Catalog
	resolver  URLResolver
	extractor DigestExtractor
	fetcher   ArtifactFetcher
	journal   Journal
	logger    *zap.Logger
}

// New creates a Pipeline. journal may be nil.
func New(cat *catalog.Catalog, res URLResolver, ext DigestExtractor, fet ArtifactFetcher, jnl Journal, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		catalog:   cat,
		resolver:  res,
		extractor: ext,
		fetcher:   fet,
		journal:   jnl,
		logger:    logger,
	}
}

// FetchVersion resolves versionID's binary URL, streams it to destination,
// and verifies it against the catalog's stored digest. When the record holds
// no digest yet, the computed one is persisted after a successful transfer.
func (p *Pipeline) FetchVersion(ctx context.Context, versionID, destination string, onProgress domain.ProgressFunc) (*domain.TransferResult, error) {
	if !domain.ValidVersionID(versionID) {
		return nil, fmt.Errorf("%q: %w", versionID, domain.ErrInvalidVersion)
	}

	record, err := p.catalog.Lookup(versionID)
	if err != nil {
		return nil, err
	}

	url, err := p.resolver.Resolve(ctx, record.Version)
	if err != nil {
		return nil, err
	}

	journalID := p.beginJournal(record.Version, url, destination)

	result, err := p.fetcher.Fetch(ctx, url, destination, fetcher.Options{
		ExpectedDigest: record.Digest,
		Algorithm:      record.Algorithm,
		OnProgress:     onProgress,
	})
	if err != nil {
		p.failJournal(journalID, err)
		return nil, err
	}
	p.completeJournal(journalID, result)

	if record.Digest == "" {
		if err := p.catalog.Upsert(record.Version, result.Digest, result.Algorithm, ""); err != nil {
			p.logger.Warn("failed to persist computed digest",
				zap.String("version", record.Version),
				zap.Error(err))
		} else {
			p.logger.Info("catalog seeded with computed digest",
				zap.String("version", record.Version),
				zap.String("digest", result.Digest))
		}
	}

	return result, nil
}

// RecoverChecksum extracts the vendor-recorded digest for versionID from the
// checksum dialog and persists it to the catalog. A digest the page does not
// reveal is reported as domain.ErrNoDigestFound, with the catalog untouched.
func (p *Pipeline) RecoverChecksum(ctx context.Context, versionID string) (string, error) {
	if !domain.ValidVersionID(versionID) {
		return "", fmt.Errorf("%q: %w", versionID, domain.ErrInvalidVersion)
	}

	digest, err := p.extractor.Extract(ctx, versionID)
	if err != nil {
		return "", err
	}

	if err := p.catalog.Upsert(versionID, digest, "", ""); err != nil {
		return "", fmt.Errorf("failed to persist extracted digest: %w", err)
	}
	return digest, nil
}

// MissingDigest reports whether the catalog record for versionID lacks a
// digest, treating an absent record the same as a missing digest.
func (p *Pipeline) MissingDigest(versionID string) bool {
	record, err := p.catalog.Lookup(versionID)
	if err != nil {
		return true
	}
	return record.Digest == ""
}

func (p *Pipeline) beginJournal(version, url, destination string) int64 {
	if p.journal == nil {
		return 0
	}
	id, err := p.journal.Begin(version, url, destination)
	if err != nil {
		p.logger.Warn("failed to journal transfer start", zap.Error(err))
		return 0
	}
	return id
}

func (p *Pipeline) completeJournal(id int64, result *domain.TransferResult) {
	if p.journal == nil || id == 0 {
		return
	}
	if err := p.journal.Complete(id, result); err != nil {
		p.logger.Warn("failed to journal transfer completion", zap.Error(err))
	}
}

func (p *Pipeline) failJournal(id int64, cause error) {
	if p.journal == nil || id == 0 {
		return
	}
	if err := p.journal.Fail(id, cause.Error()); err != nil {
		p.logger.Warn("failed to journal transfer failure", zap.Error(err))
	}
}

// Recoverable reports whether err is a page-shape or timing failure the
// orchestration layer may report and skip without corrupting catalog state.
// Digest mismatches and transport failures are never recoverable.
func Recoverable(err error) bool {
	return errors.Is(err, domain.ErrControlNotFound) ||
		errors.Is(err, domain.ErrChecksumControlNotFound) ||
		errors.Is(err, domain.ErrRedirectNotCaptured) ||
		errors.Is(err, domain.ErrNoDigestFound)
}
