// Package registry owns the process-wide map from project identifier to its
// similarity index, with exactly-once construction and coordinated eviction.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/index"
)

var (
	// ErrProjectNotFound indicates the project has no index and nothing on
	// disk to build one from.
	ErrProjectNotFound = errors.New("project not found")
	// ErrProjectUnavailable indicates the project index is being evicted.
	ErrProjectUnavailable = errors.New("project unavailable")
)

// Populate fills a freshly constructed index with the project's records,
// typically from the on-disk image directory and the fingerprint cache.
// It runs outside the registry map lock, at most once per entry.
type Populate func(ctx context.Context, project string, idx *index.Index) error

// Exists reports whether a project is present in durable storage. Consulted
// when a query touches a project that has no live index, so that an evicted
// (or not-yet-loaded) project can be re-materialized instead of failing.
type Exists func(project string) bool

// ProjectStat describes one live index for diagnostics.
type ProjectStat struct {
	Name       string
	Records    int
	LastAccess time.Time
}

// Registry is the sole arbiter of project index lifecycle. The map lock is
// held only for map mutation; population and searches run against the entry
// outside it, so one project's load never stalls another's traffic.
type Registry struct {
	dims     int
	metric   index.Metric
	populate Populate
	exists   Exists
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithPopulate sets the callback that loads a project's records on first reference.
func WithPopulate(p Populate) Option {
	return func(r *Registry) { r.populate = p }
}

// WithExists sets the callback that checks durable storage for a project.
func WithExists(e Exists) Option {
	return func(r *Registry) { r.exists = e }
}

// WithLogger sets a logger for debug output (entry creation, eviction, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry producing indexes of the given dimensionality and metric.
func New(dims int, metric index.Metric, opts ...Option) *Registry {
	r := &Registry{
		dims:    dims,
		metric:  metric,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type entry struct {
	project string
	idx     *index.Index

	buildOnce sync.Once
	buildErr  error

	mu         sync.Mutex
	refs       int
	evicting   bool
	drained    chan struct{}
	lastAccess time.Time
}

func (e *entry) ref() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicting {
		return false
	}
	e.refs++
	e.lastAccess = time.Now()
	return true
}

func (e *entry) unref() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.evicting && e.refs == 0 {
		close(e.drained)
	}
}

// Handle is a scoped reference to a project index. Callers must Release it
// when the operation completes and must not retain the index beyond that.
type Handle struct {
	e    *entry
	once sync.Once
}

// Index returns the referenced project index.
func (h *Handle) Index() *index.Index { return h.e.idx }

// Release drops the reference. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(h.e.unref)
}

// Acquire returns a handle to the project's index. When the project has no
// live entry, behavior depends on create: with create true (ingestion) a new
// empty index is constructed; with create false (query) the entry is only
// constructed when the Exists callback confirms the project in durable
// storage, otherwise ErrProjectNotFound. Construction is exactly-once per
// project even under concurrent first access; the Populate callback runs
// before the first handle is returned.
func (r *Registry) Acquire(ctx context.Context, project string, create bool) (*Handle, error) {
	r.mu.RLock()
	e := r.entries[project]
	r.mu.RUnlock()

	if e == nil {
		if !create && (r.exists == nil || !r.exists(project)) {
			return nil, ErrProjectNotFound
		}
		r.mu.Lock()
		if e = r.entries[project]; e == nil {
			e = &entry{
				project: project,
				idx:     index.New(r.dims, r.metric),
				drained: make(chan struct{}),
			}
			r.entries[project] = e
			if r.logger != nil {
				r.logger.Debug("registry entry created", zap.String("project", project))
			}
		}
		r.mu.Unlock()
	}

	if !e.ref() {
		// Entry is mid-eviction. The caller can retry once teardown
		// completes; recreating eagerly here would race the drain.
		return nil, ErrProjectUnavailable
	}

	e.buildOnce.Do(func() {
		if r.populate == nil {
			return
		}
		start := time.Now()
		e.buildErr = r.populate(ctx, project, e.idx)
		if r.logger != nil && e.buildErr == nil {
			r.logger.Debug("registry entry populated",
				zap.String("project", project),
				zap.Int("records", e.idx.Size()),
				zap.Duration("elapsed", time.Since(start)))
		}
	})
	if e.buildErr != nil {
		err := e.buildErr
		e.unref()
		// Drop the failed entry so a later reference can rebuild it.
		r.mu.Lock()
		if r.entries[project] == e {
			delete(r.entries, project)
		}
		r.mu.Unlock()
		return nil, err
	}
	return &Handle{e: e}, nil
}

// Evict tears down the project's index. New acquisitions observe
// ErrProjectUnavailable while in-flight operations drain; the index is closed
// and the entry removed only after the last handle is released.
func (r *Registry) Evict(project string) error {
	r.mu.RLock()
	e := r.entries[project]
	r.mu.RUnlock()
	if e == nil {
		return ErrProjectNotFound
	}

	e.mu.Lock()
	if !e.evicting {
		e.evicting = true
		if e.refs == 0 {
			close(e.drained)
		}
	}
	e.mu.Unlock()

	<-e.drained

	r.mu.Lock()
	if r.entries[project] == e {
		delete(r.entries, project)
	}
	r.mu.Unlock()
	e.idx.Close()
	if r.logger != nil {
		r.logger.Debug("registry entry evicted", zap.String("project", project))
	}
	return nil
}

// EvictIdle evicts every project whose last access is older than maxIdle and
// returns the evicted project names.
func (r *Registry) EvictIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.RLock()
	var idle []string
	for name, e := range r.entries {
		e.mu.Lock()
		if !e.evicting && e.refs == 0 && e.lastAccess.Before(cutoff) {
			idle = append(idle, name)
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	var evicted []string
	for _, name := range idle {
		if err := r.Evict(name); err == nil {
			evicted = append(evicted, name)
		}
	}
	return evicted
}

// Projects returns stats for every live index.
func (r *Registry) Projects() []ProjectStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ProjectStat, 0, len(r.entries))
	for name, e := range r.entries {
		e.mu.Lock()
		last := e.lastAccess
		e.mu.Unlock()
		stats = append(stats, ProjectStat{Name: name, Records: e.idx.Size(), LastAccess: last})
	}
	return stats
}

// Close evicts every project. Called at process shutdown.
func (r *Registry) Close() {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	for _, name := range names {
		_ = r.Evict(name)
	}
}
