package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/fingerprint"
	"github.com/taipei-doit/vismatch-svc/internal/imaging"
	"github.com/taipei-doit/vismatch-svc/internal/index"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
)

// Loader computes fingerprints for on-disk images, going through the cache so
// an unchanged image is never decoded twice across restarts.
type Loader struct {
	lib       *Library
	store     storage.Store
	extractor fingerprint.Extractor
	logger    *zap.Logger
}

// NewLoader creates a loader over the given library, cache, and extractor.
func NewLoader(lib *Library, store storage.Store, extractor fingerprint.Extractor, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{lib: lib, store: store, extractor: extractor, logger: logger}
}

// Fingerprint returns the vector for the given image bytes, serving from the
// cache when the checksum matches and computing (then caching) otherwise.
// A cache write failure is logged but not fatal: the disk copy is the source
// of truth and the entry will be recomputed next time.
func (ld *Loader) Fingerprint(ctx context.Context, project, identifier string, data []byte) ([]float32, error) {
	checksum := Checksum(data)

	cached, err := ld.store.Get(ctx, project, identifier)
	if err == nil && cached.Checksum == checksum && cached.Dimensions == ld.extractor.Dimensions() {
		return cached.Vector, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		ld.logger.Warn("fingerprint cache read failed",
			zap.String("project", project),
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	return ld.compute(ctx, project, identifier, data)
}

// compute extracts the fingerprint and writes it back to the cache.
func (ld *Loader) compute(ctx context.Context, project, identifier string, data []byte) ([]float32, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	vec, err := ld.extractor.Extract(img)
	if err != nil {
		return nil, fmt.Errorf("failed to extract fingerprint: %w", err)
	}

	if err := ld.store.Put(ctx, &storage.Fingerprint{
		Project:    project,
		Identifier: identifier,
		Checksum:   Checksum(data),
		Dimensions: ld.extractor.Dimensions(),
		Vector:     vec,
	}); err != nil {
		ld.logger.Warn("fingerprint cache write failed",
			zap.String("project", project),
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	return vec, nil
}

// Populate fills idx with fingerprints for every image in the project
// directory, reading the project's cache rows in one scan up front.
// Undecodable files are logged and skipped so one corrupt image cannot keep a
// whole project offline. A project with no directory yet populates empty.
func (ld *Loader) Populate(ctx context.Context, project string, idx *index.Index) error {
	start := time.Now()
	images, err := ld.lib.Images(project)
	if err != nil {
		return fmt.Errorf("failed to list project images: %w", err)
	}

	cached := make(map[string]*storage.Fingerprint)
	if rows, err := ld.store.ListProject(ctx, project); err != nil {
		ld.logger.Warn("fingerprint cache scan failed",
			zap.String("project", project),
			zap.Error(err))
	} else {
		for _, fp := range rows {
			cached[fp.Identifier] = fp
		}
	}

	loaded := 0
	for _, name := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := ld.lib.ReadImage(project, name)
		if err != nil {
			ld.logger.Warn("failed to read image",
				zap.String("project", project),
				zap.String("identifier", name),
				zap.Error(err))
			continue
		}
		var vec []float32
		if fp := cached[name]; fp != nil && fp.Checksum == Checksum(data) && fp.Dimensions == ld.extractor.Dimensions() {
			vec = fp.Vector
		} else if vec, err = ld.compute(ctx, project, name, data); err != nil {
			ld.logger.Warn("skipping undecodable image",
				zap.String("project", project),
				zap.String("identifier", name),
				zap.Error(err))
			continue
		}
		if err := idx.Insert(ctx, name, vec); err != nil {
			return fmt.Errorf("failed to index %s/%s: %w", project, name, err)
		}
		loaded++
	}

	ld.logger.Info("project loaded",
		zap.String("project", project),
		zap.Int("images", loaded),
		zap.Int("skipped", len(images)-loaded),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
