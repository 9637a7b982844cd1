package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/imaging"
	"github.com/taipei-doit/vismatch-svc/internal/index"
	"github.com/taipei-doit/vismatch-svc/internal/library"
	"github.com/taipei-doit/vismatch-svc/internal/models"
	"github.com/taipei-doit/vismatch-svc/internal/registry"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
)

// Ingest stores an uploaded image in the project and indexes it, creating the
// project on first ingest. The identifier is generated when the request omits
// one. The new record is visible to queries as soon as Ingest returns; if
// writing the image file or cache entry fails, the in-memory insert is rolled
// back and ErrPersistence returned.
func (e *Engine) Ingest(ctx context.Context, project string, req *models.IngestRequest) (*models.IngestResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	data, err := imaging.FromBase64(req.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = uuid.New().String() + ".png"
	}
	if _, err := e.lib.ImagePath(project, identifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	vec, err := e.extractor.Extract(img)
	if err != nil {
		return nil, fmt.Errorf("failed to extract fingerprint: %w", err)
	}

	h, err := e.reg.Acquire(ctx, project, true)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	idx := h.Index()

	var (
		prev     index.Record
		prevData []byte
		existed  bool
	)
	if e.opts.RequireUnique {
		// Check-and-insert under one index lock, so two concurrent ingests
		// of the same identifier cannot both pass the uniqueness check.
		inserted, err := idx.InsertIfAbsent(ctx, identifier, vec)
		if err != nil {
			return nil, err
		}
		if !inserted {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateIdentifier, project, identifier)
		}
	} else {
		prev, existed = idx.Get(identifier)
		if existed {
			if prevData, err = e.lib.ReadImage(project, identifier); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
		}
		if err := idx.Insert(ctx, identifier, vec); err != nil {
			return nil, err
		}
	}
	if err := e.persist(ctx, project, identifier, data, vec); err != nil {
		e.rollback(ctx, project, idx, identifier, prev, prevData, existed)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.logger.Info("image ingested",
		zap.String("project", project),
		zap.String("identifier", identifier),
		zap.Int("records", idx.Size()))

	return &models.IngestResponse{
		Project:    project,
		Identifier: identifier,
		Records:    idx.Size(),
	}, nil
}

// persist writes the image file and its cache entry. The file comes first:
// the directory is the source of truth and a cached fingerprint without its
// image would be an orphan.
func (e *Engine) persist(ctx context.Context, project, identifier string, data []byte, vec []float32) error {
	if err := e.lib.WriteImage(project, identifier, data); err != nil {
		return err
	}
	return e.store.Put(ctx, &storage.Fingerprint{
		Project:    project,
		Identifier: identifier,
		Checksum:   library.Checksum(data),
		Dimensions: e.extractor.Dimensions(),
		Vector:     vec,
	})
}

// rollback undoes an ingest after a persistence failure: the in-memory record
// goes back to its previous state (with its original tie-break position), the
// image file is restored or deleted, and any half-written cache entry dropped.
func (e *Engine) rollback(ctx context.Context, project string, idx *index.Index, identifier string, prev index.Record, prevData []byte, existed bool) {
	if existed {
		if err := idx.Restore(prev); err != nil {
			e.logger.Error("rollback restore failed", zap.String("identifier", identifier), zap.Error(err))
		}
		if err := e.lib.WriteImage(project, identifier, prevData); err != nil {
			e.logger.Error("rollback file restore failed", zap.String("identifier", identifier), zap.Error(err))
		}
		return
	}
	idx.Remove(identifier)
	if err := e.lib.DeleteImage(project, identifier); err != nil {
		e.logger.Error("rollback file cleanup failed", zap.String("identifier", identifier), zap.Error(err))
	}
	if err := e.store.Delete(ctx, project, identifier); err != nil {
		e.logger.Error("rollback cache cleanup failed", zap.String("identifier", identifier), zap.Error(err))
	}
}

// IngestFile indexes an image that is already on disk, refreshing the cache
// entry as needed. Used by the directory watcher and by startup sync; cache
// write failures are tolerated since the file itself survives.
func (e *Engine) IngestFile(ctx context.Context, project, identifier string) error {
	data, err := e.lib.ReadImage(project, identifier)
	if err != nil {
		return err
	}
	vec, err := e.loader.Fingerprint(ctx, project, identifier, data)
	if err != nil {
		return err
	}

	h, err := e.reg.Acquire(ctx, project, true)
	if err != nil {
		return err
	}
	defer h.Release()
	return h.Index().Insert(ctx, identifier, vec)
}

// Remove deletes an image from the index, the cache, and the directory.
// Removing an unknown identifier is a no-op.
func (e *Engine) Remove(ctx context.Context, project, identifier string) error {
	if err := e.removeRecord(ctx, project, identifier); err != nil {
		return err
	}
	return e.lib.DeleteImage(project, identifier)
}

// RemoveFile drops the index record and cache entry for an image whose file
// is already gone, as reported by the directory watcher.
func (e *Engine) RemoveFile(ctx context.Context, project, identifier string) error {
	return e.removeRecord(ctx, project, identifier)
}

func (e *Engine) removeRecord(ctx context.Context, project, identifier string) error {
	h, err := e.reg.Acquire(ctx, project, false)
	if err == nil {
		h.Index().Remove(identifier)
		h.Release()
	} else if !errors.Is(err, registry.ErrProjectNotFound) {
		return err
	}
	return e.store.Delete(ctx, project, identifier)
}
