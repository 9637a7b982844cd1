// Package engine implements the similarity query and ingestion operations,
// tying the extractor, registry, library, and fingerprint cache together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/fingerprint"
	"github.com/taipei-doit/vismatch-svc/internal/imaging"
	"github.com/taipei-doit/vismatch-svc/internal/library"
	"github.com/taipei-doit/vismatch-svc/internal/models"
	"github.com/taipei-doit/vismatch-svc/internal/registry"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
)

var (
	// ErrInvalidImage indicates the request payload is not a decodable image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrDuplicateIdentifier indicates an ingest collided with an existing
	// identifier while unique identifiers are enforced.
	ErrDuplicateIdentifier = errors.New("identifier already exists")
	// ErrPersistence indicates durable storage failed; the in-memory state was
	// rolled back.
	ErrPersistence = errors.New("persistence failed")
)

// Options configures an Engine.
type Options struct {
	// DefaultK is the result count when a query does not specify one.
	DefaultK int
	// MaxK caps the requested result count.
	MaxK int
	// RequireUnique makes ingestion refuse identifiers that already exist
	// instead of replacing them.
	RequireUnique bool
}

// Engine serves similarity queries and ingestion for all projects.
type Engine struct {
	reg       *registry.Registry
	lib       *library.Library
	loader    *library.Loader
	store     storage.Store
	extractor fingerprint.Extractor
	opts      Options
	logger    *zap.Logger
}

// New creates an engine over the given components.
func New(reg *registry.Registry, lib *library.Library, loader *library.Loader, store storage.Store, extractor fingerprint.Extractor, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reg:       reg,
		lib:       lib,
		loader:    loader,
		store:     store,
		extractor: extractor,
		opts:      opts,
		logger:    logger,
	}
}

// Query matches the query image against one project and returns up to k
// results ranked best-first. A project with no live index is loaded from disk
// on demand; a project absent from disk yields registry.ErrProjectNotFound.
func (e *Engine) Query(ctx context.Context, project string, q *models.MatchQuery) (*models.MatchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.opts.DefaultK, e.opts.MaxK); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	img, err := imaging.DecodeBase64(q.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	vec, err := e.extractor.Extract(img)
	if err != nil {
		return nil, fmt.Errorf("failed to extract query fingerprint: %w", err)
	}

	h, err := e.reg.Acquire(ctx, project, false)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	hits, err := h.Index().Search(ctx, vec, q.K)
	if err != nil {
		return nil, err
	}

	results := make([]*models.Match, 0, len(hits))
	for _, hit := range hits {
		m := &models.Match{Identifier: hit.Identifier, Distance: hit.Distance, Rank: hit.Rank}
		if q.WithImage {
			raw, err := e.lib.ReadImage(project, hit.Identifier)
			if err != nil {
				// The index can briefly outrun a concurrent file removal.
				e.logger.Warn("match image unreadable",
					zap.String("project", project),
					zap.String("identifier", hit.Identifier),
					zap.Error(err))
			} else {
				m.Data = imaging.ToBase64(raw)
			}
		}
		results = append(results, m)
	}

	e.logger.Debug("query served",
		zap.String("project", project),
		zap.Int("k", q.K),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return &models.MatchResponse{
		Project:   project,
		Results:   results,
		Total:     h.Index().Size(),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Projects merges live indexes with on-disk project directories, so projects
// not yet loaded still appear in listings.
func (e *Engine) Projects(ctx context.Context) ([]*models.ProjectInfo, error) {
	onDisk, err := e.lib.Projects()
	if err != nil {
		return nil, err
	}
	live := make(map[string]int)
	for _, s := range e.reg.Projects() {
		live[s.Name] = s.Records
	}

	seen := make(map[string]bool, len(onDisk))
	infos := make([]*models.ProjectInfo, 0, len(onDisk))
	for _, name := range onDisk {
		records, loaded := live[name]
		if !loaded {
			n, err := e.store.CountProject(ctx, name)
			if err == nil {
				records = int(n)
			}
		}
		infos = append(infos, &models.ProjectInfo{Name: name, Records: records, Loaded: loaded})
		seen[name] = true
	}
	// Live projects with no directory yet (first ingest still in flight).
	for name, records := range live {
		if !seen[name] {
			infos = append(infos, &models.ProjectInfo{Name: name, Records: records, Loaded: true})
		}
	}
	return infos, nil
}

// Evict drops a project's in-memory index. The on-disk images and cache stay;
// the next query rebuilds the index from them.
func (e *Engine) Evict(project string) error {
	return e.reg.Evict(project)
}

// DeleteProject removes a project entirely: the live index, every image file,
// and the cached fingerprints. A project that exists only on disk (no live
// index) is deleted too; a project known nowhere is ErrProjectNotFound.
func (e *Engine) DeleteProject(ctx context.Context, project string) error {
	evictErr := e.reg.Evict(project)
	if errors.Is(evictErr, registry.ErrProjectNotFound) && !e.lib.HasProject(project) {
		return evictErr
	}
	if evictErr != nil && !errors.Is(evictErr, registry.ErrProjectNotFound) {
		return evictErr
	}
	if err := e.lib.DeleteProject(project); err != nil {
		return err
	}
	purged, err := e.store.DeleteProject(ctx, project)
	if err != nil {
		return err
	}
	e.logger.Info("project deleted",
		zap.String("project", project),
		zap.Int64("purged_fingerprints", purged))
	return nil
}
