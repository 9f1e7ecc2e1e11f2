// Package catalog stores the known release versions of the product together
// with their recorded digests. The backing store is a single JSON document
// that is read once on open and rewritten in full on every mutation.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/releasekit/relfetch/internal/domain"
)

type document struct {
	LastScraped time.Time              `json:"last_scraped"`
	Versions    []domain.VersionRecord `json:"versions"`
}

// Catalog is a file-backed version catalog. It is safe only for
// single-process sequential access.
type Catalog struct {
	path string
	doc  document
}

// Open reads the catalog at path. A missing file yields an empty catalog;
// the file is created on first mutation.
func Open(path string) (*Catalog, error) {
	c := &Catalog{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	if err := json.Unmarshal(data, &c.doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Lookup finds the record for id. A bare identifier and its "v"-prefixed
// form resolve to the same record.
func (c *Catalog) Lookup(id string) (*domain.VersionRecord, error) {
	for _, candidate := range aliases(id) {
		for i := range c.doc.Versions {
			if c.doc.Versions[i].Version == candidate {
				rec := c.doc.Versions[i]
				return &rec, nil
			}
		}
	}
	return nil, fmt.Errorf("%q: %w", id, domain.ErrVersionNotFound)
}

// Exists reports whether a record for id is present.
func (c *Catalog) Exists(id string) bool {
	_, err := c.Lookup(id)
	return err == nil
}

// Upsert creates or updates the record for id and persists the catalog
// immediately. Empty arguments leave the corresponding stored field
// untouched.
func (c *Catalog) Upsert(id string, digest string, algorithm domain.Algorithm, releaseDate string) error {
	if digest != "" && !domain.ValidDigest(digest) {
		return fmt.Errorf("digest %q: %w", digest, domain.ErrInvalidDigest)
	}

	now := time.Now().UTC()
	rec := c.find(id)
	if rec == nil {
		c.doc.Versions = append(c.doc.Versions, domain.VersionRecord{
			Version: domain.CanonicalVersion(id),
		})
		rec = &c.doc.Versions[len(c.doc.Versions)-1]
	}
	if digest != "" {
		rec.Digest = digest
		rec.Algorithm = algorithm
		if algorithm == "" {
			inferred, err := domain.InferAlgorithm(digest)
			if err != nil {
				return err
			}
			rec.Algorithm = inferred
		}
	}
	if releaseDate != "" {
		rec.ReleaseDate = releaseDate
	}
	rec.LastUpdated = now
	c.doc.LastScraped = now

	return c.save()
}

// Versions returns a copy of all records in catalog order.
func (c *Catalog) Versions() []domain.VersionRecord {
	out := make([]domain.VersionRecord, len(c.doc.Versions))
	copy(out, c.doc.Versions)
	return out
}

// LastScraped returns the catalog-wide last modification timestamp.
func (c *Catalog) LastScraped() time.Time {
	return c.doc.LastScraped
}

func (c *Catalog) find(id string) *domain.VersionRecord {
	for _, candidate := range aliases(id) {
		for i := range c.doc.Versions {
			if c.doc.Versions[i].Version == candidate {
				return &c.doc.Versions[i]
			}
		}
	}
	return nil
}

// aliases returns the identifier forms tried during lookup: exact first,
// then the opposite "v"-prefix form.
func aliases(id string) []string {
	if bare := domain.CanonicalVersion(id); bare != id {
		return []string{id, bare}
	}
	return []string{id, "v" + id}
}

// save rewrites the whole catalog file through a temp file and rename so a
// crash mid-write cannot truncate the store.
func (c *Catalog) save() error {
	data, err := json.MarshalIndent(&c.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}
