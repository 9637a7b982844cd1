// Package integration provides end-to-end tests over real storage and indexes.
package integration

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/config"
	"github.com/taipei-doit/vismatch-svc/internal/engine"
	"github.com/taipei-doit/vismatch-svc/internal/fingerprint"
	"github.com/taipei-doit/vismatch-svc/internal/imaging"
	"github.com/taipei-doit/vismatch-svc/internal/index"
	"github.com/taipei-doit/vismatch-svc/internal/library"
	"github.com/taipei-doit/vismatch-svc/internal/models"
	"github.com/taipei-doit/vismatch-svc/internal/registry"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
)

// stack holds the full service assembly over one set of on-disk paths, so a
// test can tear it down and rebuild it to simulate a restart.
type stack struct {
	store  *storage.SQLiteStore
	lib    *library.Library
	reg    *registry.Registry
	engine *engine.Engine
}

func newStack(t *testing.T, imageRoot, dbPath string) *stack {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Fingerprint.HashSize = 8

	lib, err := library.New(imageRoot, cfg.Watch.Extensions)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ext, err := fingerprint.NewExtractor(&cfg.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	loader := library.NewLoader(lib, store, ext, zap.NewNop())
	metric, err := index.ParseMetric(cfg.Search.Metric)
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(ext.Dimensions(), metric,
		registry.WithExists(lib.HasProject),
		registry.WithPopulate(loader.Populate),
	)
	eng := engine.New(reg, lib, loader, store, ext, engine.Options{
		DefaultK: cfg.Search.DefaultK,
		MaxK:     cfg.Search.MaxK,
	}, zap.NewNop())
	return &stack{store: store, lib: lib, reg: reg, engine: eng}
}

func (s *stack) close() {
	s.reg.Close()
	_ = s.store.Close()
}

// photo renders a distinct synthetic photo per seed: blocks of varying
// intensity so the hash extractors see real structure.
func photo(t *testing.T, seed int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			block := (x/8 + y/8 + seed) % 4
			v := uint8(40 + block*60)
			img.Set(x, y, color.RGBA{R: v, G: uint8(int(v) * (seed%3 + 1) % 256), B: 255 - v, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return imaging.ToBase64(buf.Bytes())
}

func TestIntegration_MatchLifecycle(t *testing.T) {
	imageRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "fingerprints.db")
	ctx := context.Background()

	s := newStack(t, imageRoot, dbPath)

	// Two projects with overlapping identifiers stay isolated.
	for project, seeds := range map[string][]int{
		"zoo":  {1, 5, 9},
		"pets": {2, 6},
	} {
		for i, seed := range seeds {
			name := []string{"cat.png", "dog.png", "bird.png"}[i]
			if _, err := s.engine.Ingest(ctx, project, &models.IngestRequest{
				Identifier: name,
				Data:       photo(t, seed),
			}); err != nil {
				t.Fatal(err)
			}
		}
	}

	// Self-match: the exact ingested image ranks first at ~0 distance.
	resp, err := s.engine.Query(ctx, "zoo", &models.MatchQuery{Data: photo(t, 5), K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Fatalf("zoo total = %d", resp.Total)
	}
	if resp.Results[0].Identifier != "dog.png" || resp.Results[0].Distance > 1e-6 {
		t.Errorf("top = %+v", resp.Results[0])
	}

	// Project isolation: the same query against pets never sees zoo records.
	resp, err = s.engine.Query(ctx, "pets", &models.MatchQuery{Data: photo(t, 5), K: 10})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("pets total = %d", resp.Total)
	}

	// Restart: a fresh stack over the same disk serves the same matches.
	s.close()
	s = newStack(t, imageRoot, dbPath)
	defer s.close()

	resp, err = s.engine.Query(ctx, "zoo", &models.MatchQuery{Data: photo(t, 5), K: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].Identifier != "dog.png" || resp.Results[0].Distance > 1e-6 {
		t.Errorf("after restart: top = %+v", resp.Results[0])
	}
}

func TestIntegration_EvictionAndRematerialization(t *testing.T) {
	imageRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "fingerprints.db")
	ctx := context.Background()

	s := newStack(t, imageRoot, dbPath)
	defer s.close()

	data := photo(t, 3)
	if _, err := s.engine.Ingest(ctx, "gallery", &models.IngestRequest{Identifier: "art.png", Data: data}); err != nil {
		t.Fatal(err)
	}
	if err := s.engine.Evict("gallery"); err != nil {
		t.Fatal(err)
	}

	// Query after eviction reloads from disk and cache transparently.
	resp, err := s.engine.Query(ctx, "gallery", &models.MatchQuery{Data: data, K: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Identifier != "art.png" {
		t.Errorf("resp = %+v", resp)
	}

	// Ingest into the evicted project recreates it.
	if err := s.engine.Evict("gallery"); err != nil {
		t.Fatal(err)
	}
	out, err := s.engine.Ingest(ctx, "gallery", &models.IngestRequest{Identifier: "new.png", Data: photo(t, 8)})
	if err != nil {
		t.Fatal(err)
	}
	// The project repopulates from disk before the new record lands.
	if out.Records != 2 {
		t.Errorf("records = %d, want 2", out.Records)
	}
}

func TestIntegration_CacheSurvivesRestart(t *testing.T) {
	imageRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "fingerprints.db")
	ctx := context.Background()

	s := newStack(t, imageRoot, dbPath)
	if _, err := s.engine.Ingest(ctx, "p", &models.IngestRequest{Identifier: "a.png", Data: photo(t, 1)}); err != nil {
		t.Fatal(err)
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cached = %d", n)
	}
	s.close()

	s = newStack(t, imageRoot, dbPath)
	defer s.close()
	n, err = s.store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cached after restart = %d", n)
	}
}
